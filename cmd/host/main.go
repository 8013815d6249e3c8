// Command host runs a quiz room on this machine and relays it through a
// broker server, so players can join with the printed code.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/DoyleJ11/quizroom-backend/internal/broker"
	"github.com/DoyleJ11/quizroom-backend/internal/catalog"
	"github.com/DoyleJ11/quizroom-backend/internal/engine"
	"github.com/DoyleJ11/quizroom-backend/internal/host"
	"github.com/DoyleJ11/quizroom-backend/internal/hub"
	"github.com/DoyleJ11/quizroom-backend/internal/logging"
	"github.com/DoyleJ11/quizroom-backend/internal/session"
	"github.com/DoyleJ11/quizroom-backend/internal/transport/relay"
	"github.com/DoyleJ11/quizroom-backend/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	maxDialAttempts = 5
	pollInterval    = time.Second
)

type options struct {
	server     string
	file       string
	subject    string
	mode       string
	countdown  int
	bots       int
	minPlayers int
	wait       time.Duration
	logLevel   string
}

func main() {
	var o options
	flag.StringVar(&o.server, "server", "http://localhost:8080", "broker server base URL")
	flag.StringVar(&o.file, "questions", "", "YAML question file (defaults to the built-in sample)")
	flag.StringVar(&o.subject, "subject", catalog.SampleSubject, "subject to play")
	flag.StringVar(&o.mode, "mode", string(engine.ModeClassic), "CLASSIC or SMASH")
	flag.IntVar(&o.countdown, "countdown", 20, "seconds per question")
	flag.IntVar(&o.bots, "bots", 0, "number of bot players")
	flag.IntVar(&o.minPlayers, "min-players", 1, "human players to wait for before starting")
	flag.DurationVar(&o.wait, "wait", 2*time.Minute, "longest time to wait for players")
	flag.StringVar(&o.logLevel, "log-level", "warn", "log level")
	flag.Parse()

	logger, err := logging.New(o.logLevel, "console")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o, logger); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "host:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options, logger *zap.Logger) error {
	cat := catalog.Sample()
	if o.file != "" {
		var err error
		if cat, err = catalog.LoadFile(o.file); err != nil {
			return err
		}
	}
	questions, err := cat.Questions(ctx, o.subject)
	if err != nil {
		return err
	}
	settings := engine.Settings{Mode: engine.Mode(strings.ToUpper(o.mode)), CountdownSec: o.countdown, AutoPlay: true}
	if err := settings.Validate(); err != nil {
		return err
	}

	carrier, err := dialHost(ctx, o.server, logger)
	if err != nil {
		return err
	}

	room := host.New(ctx, host.Options{
		Code:      carrier.Code(),
		Settings:  settings,
		Questions: questions,
		Carrier:   carrier,
		Logger:    logger,
	})
	defer room.Close()

	for i := range o.bots {
		if err := room.AddBot(ctx, hub.BotName(i)); err != nil {
			return err
		}
	}

	fmt.Printf("Room code: %s\nJoin with: player -server %s -code %s -name <you>\n", room.Code(), o.server, room.Code())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-room.Done():
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	})
	g.Go(func() error {
		if err := waitForPlayers(gctx, room, o.minPlayers, o.wait); err != nil {
			return err
		}
		if err := room.Start(gctx); err != nil {
			return err
		}
		fmt.Println("Game started")
		view, err := waitForPodium(gctx, room)
		if err != nil {
			return err
		}
		printPodium(view.State.Roster)
		return room.Close()
	})
	return g.Wait()
}

// dialHost registers a fresh code with the broker, picking another on collision.
func dialHost(ctx context.Context, server string, logger *zap.Logger) (*relay.Carrier, error) {
	for range maxDialAttempts {
		code, err := session.GenerateCode(nil)
		if err != nil {
			return nil, err
		}
		c, err := relay.Dial(ctx, server, types.RoleHost, code, logger)
		if errors.Is(err, broker.ErrDuplicateRoomCode) {
			logger.Debug("room code taken, retrying", zap.String("room", code))
			continue
		}
		return c, err
	}
	return nil, session.ErrCodeSpaceExhausted
}

func waitForPlayers(ctx context.Context, room *host.Room, minPlayers int, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	seen := 0
	for {
		view, err := room.State(ctx)
		if err != nil {
			return err
		}
		humans := 0
		for _, p := range view.State.Roster {
			if !p.Bot {
				humans++
			}
		}
		if humans != seen {
			fmt.Printf("%d player(s) joined\n", humans)
			seen = humans
		}
		if humans >= minPlayers || time.Now().After(deadline) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-room.Done():
			return host.ErrClosed
		case <-time.After(pollInterval):
		}
	}
}

func waitForPodium(ctx context.Context, room *host.Room) (host.View, error) {
	last := -1
	for {
		view, err := room.State(ctx)
		if err != nil {
			return host.View{}, err
		}
		if view.State.Phase == string(engine.PhasePodium) {
			return view, nil
		}
		if view.State.Phase == string(engine.PhaseQuestion) && view.State.QuestionIndex != last {
			last = view.State.QuestionIndex
			if q := view.State.Question; q != nil {
				fmt.Printf("Q%d/%d: %s\n", last+1, view.State.QuestionCount, q.Prompt)
			}
		}
		select {
		case <-ctx.Done():
			return host.View{}, ctx.Err()
		case <-room.Done():
			return host.View{}, host.ErrClosed
		case <-time.After(pollInterval):
		}
	}
}

func printPodium(roster []types.PlayerView) {
	sort.SliceStable(roster, func(i, j int) bool { return roster[i].Rank < roster[j].Rank })
	fmt.Println("Final standings:")
	for _, p := range roster {
		fmt.Printf("%3d. %-20s %6d\n", p.Rank, p.Name, p.Score)
	}
}
