package client

import (
	"context"
	"errors"
	"sync"

	"github.com/DoyleJ11/quizroom-backend/internal/transport"
	"github.com/DoyleJ11/quizroom-backend/pkg/types"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var ErrNotAccepting = errors.New("not accepting this input now")

// Player keeps a projection current from a carrier and sends this player's input.
type Player struct {
	carrier transport.Carrier
	code    string
	name    string
	avatar  string
	clock   clockwork.Clock
	logger  *zap.Logger

	mu   sync.Mutex
	proj Projection

	updates chan Projection
}

type PlayerOptions struct {
	Code     string
	PlayerID string
	Name     string
	Avatar   string
	Clock    clockwork.Clock
	Logger   *zap.Logger
}

// NewPlayer starts consuming carrier. Projections are published on Updates;
// a slow reader misses intermediate ones, never the latest.
func NewPlayer(carrier transport.Carrier, opts PlayerOptions) *Player {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	p := &Player{
		carrier: carrier,
		code:    opts.Code,
		name:    opts.Name,
		avatar:  opts.Avatar,
		clock:   opts.Clock,
		logger:  opts.Logger.Named("player").With(zap.String("room", opts.Code), zap.String("player", opts.PlayerID)),
		proj:    New(opts.PlayerID),
		updates: make(chan Projection, 1),
	}
	carrier.OnMessage(p.receive)
	return p
}

func (p *Player) receive(code string, msg types.Message) {
	if code != p.code {
		return
	}
	p.mu.Lock()
	p.proj = Reduce(p.proj, msg, p.clock.Now())
	snap := p.proj
	p.mu.Unlock()

	if e, ok := msg.(types.Error); ok {
		p.logger.Info("room error", zap.String("code", string(e.Code)), zap.String("message", e.Message))
	}

	// Keep only the newest projection in the channel.
	select {
	case p.updates <- snap:
	default:
		select {
		case <-p.updates:
		default:
		}
		select {
		case p.updates <- snap:
		default:
		}
	}
}

func (p *Player) Updates() <-chan Projection { return p.updates }

func (p *Player) Projection() Projection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.proj
}

func (p *Player) Join(ctx context.Context) error {
	p.mu.Lock()
	id := p.proj.PlayerID
	p.mu.Unlock()
	return p.carrier.Publish(ctx, p.code, types.Join{PlayerID: id, Name: p.name, Avatar: p.avatar})
}

// Answer sends at most one answer per question.
func (p *Player) Answer(ctx context.Context, option int) error {
	p.mu.Lock()
	next, msg, ok := p.proj.Answer(option, p.clock.Now())
	p.proj = next
	p.mu.Unlock()
	if !ok {
		return ErrNotAccepting
	}
	return p.carrier.Publish(ctx, p.code, msg)
}

func (p *Player) Smash(ctx context.Context, option int) error {
	p.mu.Lock()
	next, msg, ok := p.proj.Smash(option)
	p.proj = next
	p.mu.Unlock()
	if !ok {
		return ErrNotAccepting
	}
	return p.carrier.Publish(ctx, p.code, msg)
}

func (p *Player) Close() error { return p.carrier.Close() }
