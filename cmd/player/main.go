// Command player joins a room through a broker server and plays it
// headlessly, answering after a random think time.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DoyleJ11/quizroom-backend/internal/client"
	"github.com/DoyleJ11/quizroom-backend/internal/engine"
	"github.com/DoyleJ11/quizroom-backend/internal/logging"
	"github.com/DoyleJ11/quizroom-backend/internal/transport/relay"
	"github.com/DoyleJ11/quizroom-backend/pkg/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const hostTimeout = 45 * time.Second

type options struct {
	server   string
	code     string
	name     string
	avatar   string
	maxThink time.Duration
	logLevel string
}

func main() {
	var o options
	flag.StringVar(&o.server, "server", "http://localhost:8080", "broker server base URL")
	flag.StringVar(&o.code, "code", "", "room code")
	flag.StringVar(&o.name, "name", "Player", "display name")
	flag.StringVar(&o.avatar, "avatar", "", "avatar tag")
	flag.DurationVar(&o.maxThink, "think", 4*time.Second, "longest think time before answering")
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
		fmt.Fprintln(os.Stderr, "player:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options, logger *zap.Logger) error {
	carrier, err := relay.Dial(ctx, o.server, types.RolePlayer, o.code, logger)
	if err != nil {
		return err
	}
	p := client.NewPlayer(carrier, client.PlayerOptions{
		Code:     o.code,
		PlayerID: uuid.NewString(),
		Name:     o.name,
		Avatar:   o.avatar,
		Logger:   logger,
	})
	defer p.Close()

	if err := p.Join(ctx); err != nil {
		return err
	}
	fmt.Printf("Joined room %s as %s\n", o.code, o.name)

	silence := time.NewTicker(hostTimeout / 3)
	defer silence.Stop()
	var think <-chan time.Time
	lastQuestion := -1

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-carrier.Done():
			if proj := p.Projection(); proj.Closed {
				fmt.Println("Room closed:", proj.ErrorText())
				return nil
			}
			return errors.New("connection to the server closed")

		case <-silence.C:
			if proj := p.Projection(); proj.HostSilent(time.Now(), hostTimeout) {
				return errors.New("host stopped responding")
			}

		case <-think:
			think = nil
			proj := p.Projection()
			if proj.Question == nil {
				continue
			}
			option := rand.IntN(len(proj.Question.Options))
			if proj.Settings.Mode == string(engine.ModeSmash) {
				for range 1 + rand.IntN(6) {
					_ = p.Smash(ctx, option)
				}
				continue
			}
			if err := p.Answer(ctx, option); err == nil {
				fmt.Printf("  answered %q\n", proj.Question.Options[option])
			}

		case proj := <-p.Updates():
			if proj.Closed {
				fmt.Println("Room closed:", proj.ErrorText())
				return nil
			}
			switch proj.Phase {
			case string(engine.PhaseQuestion):
				if proj.QuestionIndex != lastQuestion && proj.Question != nil {
					lastQuestion = proj.QuestionIndex
					fmt.Printf("Q%d/%d: %s\n", proj.QuestionIndex+1, proj.QuestionCount, proj.Question.Prompt)
					think = time.After(time.Duration(rand.Int64N(int64(o.maxThink) + 1)))
				}
			case string(engine.PhasePodium):
				if me, ok := proj.Me(); ok {
					fmt.Printf("Finished #%d with %d points\n", me.Rank, me.Score)
				}
				return nil
			}
		}
	}
}
