// Package host runs the authoritative side of a quiz room: one goroutine per
// room owns the game state, its countdown, its bots and its broadcasts.
package host

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/DoyleJ11/quizroom-backend/internal/engine"
	"github.com/DoyleJ11/quizroom-backend/internal/transport"
	"github.com/DoyleJ11/quizroom-backend/pkg/types"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("room closed")

const (
	tickInterval            = time.Second
	publishTimeout          = 3 * time.Second
	DefaultBotAccuracy      = 0.6
	DefaultResultDwell      = 5 * time.Second
	DefaultLeaderboardDwell = 5 * time.Second
)

type Msg interface{ isRoomMsg() }

// FromPeer is a message a player sent through the carrier.
type FromPeer struct {
	Message types.Message
}

type Start struct{ Reply chan error }

type Advance struct{ Reply chan error }

type AddBot struct {
	Name  string
	Reply chan error
}

type Configure struct {
	Settings engine.Settings
	Reply    chan error
}

type GetState struct {
	Reply chan View
}

type Shutdown struct{}

// Scheduled callbacks. gen is the phase generation they were armed in.
type tick struct{ gen uint64 }
type autoAdvance struct{ gen uint64 }
type botAction struct {
	gen uint64
	msg types.Message
}

func (FromPeer) isRoomMsg()    {}
func (Start) isRoomMsg()       {}
func (Advance) isRoomMsg()     {}
func (AddBot) isRoomMsg()      {}
func (Configure) isRoomMsg()   {}
func (GetState) isRoomMsg()    {}
func (Shutdown) isRoomMsg()    {}
func (tick) isRoomMsg()        {}
func (autoAdvance) isRoomMsg() {}
func (botAction) isRoomMsg()   {}

// View is a race-free copy of the room for callers outside its goroutine.
type View struct {
	Code    string
	Version int
	State   types.StateUpdate
}

type Options struct {
	Code             string
	Settings         engine.Settings
	Questions        []engine.Question
	Carrier          transport.Carrier
	Clock            clockwork.Clock
	Logger           *zap.Logger
	Rand             *rand.Rand
	BotAccuracy      float64
	ResultDwell      time.Duration
	LeaderboardDwell time.Duration
}

type Room struct {
	code    string
	inbox   chan Msg
	state   engine.State
	version int
	carrier transport.Carrier
	clock   clockwork.Clock
	logger  *zap.Logger
	rng     *rand.Rand

	botAccuracy      float64
	resultDwell      time.Duration
	leaderboardDwell time.Duration

	// Phase-scoped scheduling. Every transition bumps gen and stops timers.
	gen           uint64
	timers        []clockwork.Timer
	questionStart time.Time
	remaining     int

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	closeErr error
}

// New starts the room goroutine and begins consuming messages from the carrier.
func New(parent context.Context, opts Options) *Room {
	ctx, cancel := context.WithCancel(parent)
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if opts.Settings == (engine.Settings{}) {
		opts.Settings = engine.DefaultSettings()
	}
	if opts.BotAccuracy <= 0 || opts.BotAccuracy > 1 {
		opts.BotAccuracy = DefaultBotAccuracy
	}
	if opts.ResultDwell <= 0 {
		opts.ResultDwell = DefaultResultDwell
	}
	if opts.LeaderboardDwell <= 0 {
		opts.LeaderboardDwell = DefaultLeaderboardDwell
	}

	r := &Room{
		code:             opts.Code,
		inbox:            make(chan Msg, 256),
		state:            engine.NewState(opts.Questions, opts.Settings),
		carrier:          opts.Carrier,
		clock:            opts.Clock,
		logger:           opts.Logger.Named("room").With(zap.String("room", opts.Code)),
		rng:              opts.Rand,
		botAccuracy:      opts.BotAccuracy,
		resultDwell:      opts.ResultDwell,
		leaderboardDwell: opts.LeaderboardDwell,
		ctx:              ctx,
		cancel:           cancel,
		done:             make(chan struct{}),
	}

	go r.loop()
	r.carrier.OnMessage(func(code string, msg types.Message) {
		if code != r.code {
			return
		}
		r.send(FromPeer{Message: msg})
	})
	// A carrier that can end on its own (the broker closed the room) takes the room with it.
	if d, ok := r.carrier.(interface{ Done() <-chan struct{} }); ok {
		go func() {
			select {
			case <-d.Done():
				r.send(Shutdown{})
			case <-r.done:
			}
		}()
	}
	return r
}

func (r *Room) Code() string { return r.code }

// Inbox exposes the room inbox so tests and the hub can send messages.
func (r *Room) Inbox() chan<- Msg { return r.inbox }

// Done is closed once the room has shut down and released its carrier.
func (r *Room) Done() <-chan struct{} { return r.done }

func (r *Room) send(m Msg) bool {
	select {
	case r.inbox <- m:
		return true
	case <-r.ctx.Done():
		return false
	}
}

func (r *Room) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case FromPeer:
				r.fromPeer(msg.Message)

			case botAction:
				if msg.gen != r.gen {
					break
				}
				// Bots take the same path as remote players.
				r.fromPeer(msg.msg)

			case tick:
				if msg.gen != r.gen {
					break
				}
				r.onTick()

			case autoAdvance:
				if msg.gen != r.gen {
					break
				}
				if err := r.apply(engine.Command{Type: engine.CmdAdvance}); err != nil {
					r.logger.Debug("auto advance rejected", zap.Error(err))
				}

			case Start:
				msg.Reply <- r.apply(engine.Command{Type: engine.CmdStartQuiz})

			case Advance:
				msg.Reply <- r.apply(engine.Command{Type: engine.CmdAdvance})

			case AddBot:
				msg.Reply <- r.apply(engine.Command{Type: engine.CmdAddBot, Name: msg.Name})

			case Configure:
				msg.Reply <- r.apply(engine.Command{Type: engine.CmdConfigure, Settings: msg.Settings})

			case GetState:
				msg.Reply <- View{Code: r.code, Version: r.version, State: r.snapshot()}

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) fromPeer(m types.Message) {
	var cmd engine.Command
	switch msg := m.(type) {
	case types.Join:
		cmd = engine.Command{Type: engine.CmdAdmitPlayer, PlayerID: msg.PlayerID, Name: msg.Name, Avatar: msg.Avatar}
	case types.Answer:
		// The host clock is authoritative; a client may only claim to be slower.
		elapsed := max(r.clock.Since(r.questionStart), time.Duration(msg.ElapsedMs)*time.Millisecond)
		cmd = engine.Command{Type: engine.CmdSubmitAnswer, PlayerID: msg.PlayerID, Option: msg.OptionIndex, Elapsed: elapsed}
	case types.Smash:
		cmd = engine.Command{Type: engine.CmdSmash, PlayerID: msg.PlayerID, Option: msg.OptionIndex}
	default:
		r.logger.Debug("ignoring message kind", zap.String("kind", string(m.Kind())))
		return
	}

	if err := r.apply(cmd); err != nil {
		// Stale, duplicate and unknown-player input is expected under latency.
		r.logger.Debug("dropping player message", zap.String("kind", string(m.Kind())), zap.Error(err))
	}
}

// apply runs cmd through the engine, reacts to the resulting events and
// broadcasts when anything players can see has changed.
func (r *Room) apply(cmd engine.Command) error {
	events, err := engine.Apply(&r.state, cmd)
	if err != nil {
		return err
	}
	if cmd.Type == engine.CmdAdmitPlayer && len(events) == 0 {
		// Rejoin: resend the current state so the client can catch up.
		r.broadcast(r.snapshot())
		return nil
	}

	visible := false
	for _, ev := range events {
		switch ev.Type {
		case engine.EvtPlayerJoined, engine.EvtSettingsChanged:
			visible = true

		case engine.EvtQuestionStarted:
			r.nextPhase()
			r.questionStart = r.clock.Now()
			r.remaining = int((ev.Limit + tickInterval - 1) / tickInterval)
			r.after(tickInterval, tick{gen: r.gen})
			r.scheduleBots(ev.Limit)
			visible = true
			r.logger.Info("question started", zap.Int("index", ev.QuestionIndex), zap.Duration("limit", ev.Limit))

		case engine.EvtQuestionResolved:
			r.nextPhase()
			if r.state.Settings.AutoPlay {
				r.after(r.resultDwell, autoAdvance{gen: r.gen})
			}
			visible = true

		case engine.EvtLeaderboardShown:
			r.nextPhase()
			if r.state.Settings.AutoPlay && r.state.Phase == engine.PhaseLeaderboard {
				r.after(r.leaderboardDwell, autoAdvance{gen: r.gen})
			}
			visible = true

		case engine.EvtPodiumReached:
			r.nextPhase()
			visible = true
			r.logger.Info("quiz finished", zap.Int("players", r.state.Roster.Len()))

		case engine.EvtAnswerScored, engine.EvtTapScored:
			// Scores stay hidden until the question resolves.
			r.logger.Debug("scored", zap.String("player", ev.PlayerID), zap.Bool("correct", ev.Correct), zap.Int("points", ev.Points))
		}
	}
	if visible {
		r.broadcast(r.snapshot())
	}
	return nil
}

func (r *Room) onTick() {
	r.remaining--
	if r.remaining > 0 {
		r.broadcast(r.countdownUpdate())
		r.after(tickInterval, tick{gen: r.gen})
		return
	}
	if err := r.apply(engine.Command{Type: engine.CmdCountdownExpired}); err != nil {
		r.logger.Debug("countdown expiry rejected", zap.Error(err))
	}
}

// nextPhase invalidates every callback armed in the previous phase.
func (r *Room) nextPhase() {
	r.gen++
	for _, t := range r.timers {
		t.Stop()
	}
	r.timers = r.timers[:0]
}

// after delivers m to the inbox once d has passed on the room clock.
func (r *Room) after(d time.Duration, m Msg) {
	r.timers = append(r.timers, r.clock.AfterFunc(d, func() { r.send(m) }))
}

func (r *Room) broadcast(update types.StateUpdate) {
	r.version++
	update.Version = r.version
	ctx, cancel := context.WithTimeout(r.ctx, publishTimeout)
	defer cancel()
	if err := r.carrier.Publish(ctx, r.code, update); err != nil {
		r.logger.Warn("broadcast failed", zap.String("phase", update.Phase), zap.Int("version", update.Version), zap.Error(err))
	}
}

func (r *Room) shutdown() {
	r.nextPhase()
	if err := r.carrier.Close(); err != nil {
		r.logger.Warn("closing carrier", zap.Error(err))
		r.closeErr = err
	}
	r.cancel()
	r.logger.Info("room closed")
}

func (r *Room) request(ctx context.Context, m Msg, reply chan error) error {
	select {
	case r.inbox <- m:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrClosed
	}
}

func (r *Room) Start(ctx context.Context) error {
	reply := make(chan error, 1)
	return r.request(ctx, Start{Reply: reply}, reply)
}

func (r *Room) Advance(ctx context.Context) error {
	reply := make(chan error, 1)
	return r.request(ctx, Advance{Reply: reply}, reply)
}

func (r *Room) AddBot(ctx context.Context, name string) error {
	reply := make(chan error, 1)
	return r.request(ctx, AddBot{Name: name, Reply: reply}, reply)
}

func (r *Room) Configure(ctx context.Context, s engine.Settings) error {
	reply := make(chan error, 1)
	return r.request(ctx, Configure{Settings: s, Reply: reply}, reply)
}

func (r *Room) State(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	select {
	case r.inbox <- GetState{Reply: reply}:
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-r.done:
		return View{}, ErrClosed
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-r.done:
		return View{}, ErrClosed
	}
}

// Close shuts the room down, waits for it to release its carrier and
// returns the carrier's close error.
func (r *Room) Close() error {
	r.cancel()
	<-r.done
	return r.closeErr
}
