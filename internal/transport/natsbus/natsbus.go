// Package natsbus carries room traffic over NATS core subjects. Routing mirrors
// the relay broker: players publish to the host subject, the host publishes
// to the players subject, and nobody hears their own messages.
package natsbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/DoyleJ11/quizroom-backend/internal/transport"
	"github.com/DoyleJ11/quizroom-backend/pkg/types"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	subjectPrefix = "quiz.room."
	queueSize     = 256
)

// HostSubject carries player-to-host traffic of room code.
func HostSubject(code string) string { return subjectPrefix + code + ".host" }

// PlayersSubject carries host-to-players traffic of room code.
func PlayersSubject(code string) string { return subjectPrefix + code + ".players" }

type Config struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultConfig(url string) Config {
	if url == "" {
		url = nats.DefaultURL
	}
	return Config{
		URL:           url,
		Name:          "quizroom",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// Connect dials NATS with reconnect handling that logs through logger.
func Connect(cfg Config, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("nats")
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("NATS error", zap.Error(err))
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// Carrier is a transport.Carrier for one side of one room. It does not own
// the NATS connection.
type Carrier struct {
	code    string
	role    types.Role
	publish func(subject string, data []byte) error
	unsub   func() error
	msgs    chan *nats.Msg
	logger  *zap.Logger

	mu      sync.Mutex
	handler transport.Handler
	closed  bool

	done    chan struct{}
	started sync.Once
	once    sync.Once
}

var _ transport.Carrier = (*Carrier)(nil)

// New subscribes to the inbound subject for role right away so nothing
// published before OnMessage is lost.
func New(nc *nats.Conn, role types.Role, code string, logger *zap.Logger) (*Carrier, error) {
	c := newCarrier(role, code, nc.Publish, logger)
	sub, err := nc.ChanSubscribe(c.inbound(), c.msgs)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", c.inbound(), err)
	}
	c.unsub = sub.Unsubscribe
	return c, nil
}

func newCarrier(role types.Role, code string, publish func(string, []byte) error, logger *zap.Logger) *Carrier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Carrier{
		code:    code,
		role:    role,
		publish: publish,
		unsub:   func() error { return nil },
		msgs:    make(chan *nats.Msg, queueSize),
		logger:  logger.Named("natsbus").With(zap.String("room", code), zap.String("role", string(role))),
		done:    make(chan struct{}),
	}
}

func (c *Carrier) inbound() string {
	if c.role == types.RoleHost {
		return HostSubject(c.code)
	}
	return PlayersSubject(c.code)
}

func (c *Carrier) outbound() string {
	if c.role == types.RoleHost {
		return PlayersSubject(c.code)
	}
	return HostSubject(c.code)
}

func (c *Carrier) Publish(_ context.Context, code string, msg types.Message) error {
	if code != c.code {
		return fmt.Errorf("%w: bound to %s, not %s", transport.ErrWrongRoom, c.code, code)
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}

	data, err := types.Encode(msg)
	if err != nil {
		return err
	}
	if err := c.publish(c.outbound(), data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

func (c *Carrier) OnMessage(h transport.Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
	c.started.Do(func() { go c.deliver() })
}

// Close unsubscribes. A closing host tells its players, since NATS has no
// notion of a room owner going away.
func (c *Carrier) Close() error {
	var err error
	c.once.Do(func() {
		if c.role == types.RoleHost {
			if data, encErr := types.Encode(types.Error{Code: types.CodeHostDisconnected, Message: "host disconnected"}); encErr == nil {
				_ = c.publish(c.outbound(), data)
			}
		}
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		err = c.unsub()
		close(c.done)
	})
	return err
}

func (c *Carrier) deliver() {
	for {
		select {
		case <-c.done:
			return
		case m := <-c.msgs:
			msg, err := types.Decode(m.Data)
			if err != nil {
				c.logger.Warn("dropping malformed message", zap.String("subject", m.Subject), zap.Error(err))
				continue
			}
			c.mu.Lock()
			h := c.handler
			c.mu.Unlock()
			if h != nil {
				h(c.code, msg)
			}
		}
	}
}
