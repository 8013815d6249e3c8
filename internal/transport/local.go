package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/DoyleJ11/quizroom-backend/pkg/types"
	"go.uber.org/zap"
)

const localQueueSize = 256

// ChannelName is the well-known name endpoints of one room share on a Bus.
func ChannelName(code string) string { return "quiz-room-" + code }

// Bus is an in-process broadcast channel registry. Every endpoint opened on
// a channel receives what the other endpoints on that channel publish,
// never its own messages.
type Bus struct {
	mu       sync.Mutex
	channels map[string]map[*Local]struct{}
	logger   *zap.Logger
}

func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		channels: make(map[string]map[*Local]struct{}),
		logger:   logger.Named("local-bus"),
	}
}

// Open attaches a new endpoint to the channel of room code.
func (b *Bus) Open(code string) *Local {
	l := &Local{
		bus:   b,
		code:  code,
		name:  ChannelName(code),
		queue: make(chan []byte, localQueueSize),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	peers := b.channels[l.name]
	if peers == nil {
		peers = make(map[*Local]struct{})
		b.channels[l.name] = peers
	}
	peers[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Endpoints reports how many endpoints are attached to room code.
func (b *Bus) Endpoints(code string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.channels[ChannelName(code)])
}

func (b *Bus) fanOut(from *Local, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for peer := range b.channels[from.name] {
		if peer == from {
			continue
		}
		select {
		case peer.queue <- data:
		default:
			b.logger.Warn("local endpoint queue full, dropping message", zap.String("channel", from.name))
		}
	}
}

func (b *Bus) detach(l *Local) {
	b.mu.Lock()
	defer b.mu.Unlock()
	peers := b.channels[l.name]
	delete(peers, l)
	if len(peers) == 0 {
		delete(b.channels, l.name)
	}
}

// Local is one endpoint on a Bus.
type Local struct {
	bus  *Bus
	code string
	name string

	mu      sync.Mutex
	handler Handler
	closed  bool

	queue   chan []byte
	done    chan struct{}
	once    sync.Once
	started sync.Once
}

var _ Carrier = (*Local)(nil)

// Publish encodes msg and hands a copy to every other endpoint of the room.
// Messages are encoded so receivers never share memory with the sender.
func (l *Local) Publish(_ context.Context, code string, msg types.Message) error {
	if code != l.code {
		return fmt.Errorf("%w: bound to %s, not %s", ErrWrongRoom, l.code, code)
	}
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := types.Encode(msg)
	if err != nil {
		return err
	}
	l.bus.fanOut(l, data)
	return nil
}

// OnMessage sets the handler and starts delivery. Messages published before
// the first call wait in the endpoint's queue.
func (l *Local) OnMessage(h Handler) {
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()
	l.started.Do(func() { go l.deliver() })
}

func (l *Local) Close() error {
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		l.bus.detach(l)
		close(l.done)
	})
	return nil
}

func (l *Local) deliver() {
	for {
		select {
		case <-l.done:
			return
		case data := <-l.queue:
			msg, err := types.Decode(data)
			if err != nil {
				l.bus.logger.Warn("dropping malformed message", zap.String("channel", l.name), zap.Error(err))
				continue
			}
			l.mu.Lock()
			h := l.handler
			l.mu.Unlock()
			if h != nil {
				h(l.code, msg)
			}
		}
	}
}
