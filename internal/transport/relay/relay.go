// Package relay implements the transport carrier that goes through the relay
// broker, either over a websocket or attached to a broker in the same process.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/DoyleJ11/quizroom-backend/internal/broker"
	"github.com/DoyleJ11/quizroom-backend/internal/transport"
	"github.com/DoyleJ11/quizroom-backend/pkg/types"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// link is one connection to the broker.
type link interface {
	send(ctx context.Context, data []byte) error
	recv(ctx context.Context) ([]byte, error)
	close() error
}

// Carrier is a transport.Carrier bound to one room and one side of it.
type Carrier struct {
	link   link
	code   string
	role   types.Role
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	handler transport.Handler

	started  sync.Once
	closed   sync.Once
	finished sync.Once
	done     chan struct{}
}

var _ transport.Carrier = (*Carrier)(nil)

func newCarrier(l link, role types.Role, code string, logger *zap.Logger) *Carrier {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Carrier{
		link:   l,
		code:   code,
		role:   role,
		logger: logger.Named("relay").With(zap.String("room", code), zap.String("role", string(role))),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Dial connects to the broker's websocket endpoint for role at baseURL
// (http(s) or ws(s)). A host dial registers the room; a player dial fails
// with broker.ErrRoomNotFound when the room does not exist.
func Dial(ctx context.Context, baseURL string, role types.Role, code string, logger *zap.Logger) (*Carrier, error) {
	u, err := endpointURL(baseURL, role, code)
	if err != nil {
		return nil, err
	}
	conn, resp, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusNotFound:
				return nil, broker.ErrRoomNotFound
			case http.StatusConflict:
				return nil, broker.ErrDuplicateRoomCode
			}
		}
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}
	conn.SetReadLimit(1 << 20)
	return newCarrier(&wsLink{conn: conn}, role, code, logger), nil
}

func endpointURL(baseURL string, role types.Role, code string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported relay url scheme %q", u.Scheme)
	}
	switch role {
	case types.RoleHost:
		u.Path += "/ws/host"
	case types.RolePlayer:
		u.Path += "/ws/play"
	default:
		return "", fmt.Errorf("unknown role %q", role)
	}
	u.RawQuery = url.Values{"code": {code}}.Encode()
	return u.String(), nil
}

// Attach connects to a broker running in this process.
func Attach(ctx context.Context, b *broker.Broker, role types.Role, code string, logger *zap.Logger) (*Carrier, error) {
	conn := broker.NewConn(role, code, broker.DefaultOutboxSize)
	switch role {
	case types.RoleHost:
		if err := b.CreateRoom(ctx, conn); err != nil {
			return nil, err
		}
	case types.RolePlayer:
		ok, err := b.RoomExists(ctx, code)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, broker.ErrRoomNotFound
		}
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}
	return newCarrier(&brokerLink{b: b, conn: conn}, role, code, logger), nil
}

// Code is the room this carrier is bound to.
func (c *Carrier) Code() string { return c.code }

// Done is closed once the link to the broker has ended, for example after
// the broker closed the room.
func (c *Carrier) Done() <-chan struct{} { return c.done }

func (c *Carrier) Publish(ctx context.Context, code string, msg types.Message) error {
	if code != c.code {
		return fmt.Errorf("%w: bound to %s, not %s", transport.ErrWrongRoom, c.code, code)
	}
	if c.ctx.Err() != nil {
		return transport.ErrClosed
	}
	data, err := types.Encode(msg)
	if err != nil {
		return err
	}
	if err := c.link.send(ctx, data); err != nil {
		return fmt.Errorf("relay publish: %w", err)
	}
	return nil
}

// OnMessage sets the handler and starts reading from the broker.
func (c *Carrier) OnMessage(h transport.Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
	c.started.Do(func() { go c.readLoop() })
}

func (c *Carrier) Close() error {
	var err error
	c.closed.Do(func() {
		c.cancel()
		err = c.link.close()
		c.finish()
	})
	return err
}

func (c *Carrier) finish() {
	c.finished.Do(func() { close(c.done) })
}

func (c *Carrier) readLoop() {
	defer c.finish()
	// Once the link is gone, Publish reports ErrClosed.
	defer c.cancel()
	for {
		data, err := c.link.recv(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil && !errors.Is(err, io.EOF) {
				c.logger.Info("relay link ended", zap.Error(err))
			}
			return
		}
		msg, err := types.Decode(data)
		if err != nil {
			c.logger.Warn("dropping malformed message", zap.Error(err))
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

type wsLink struct {
	conn *websocket.Conn
}

func (l *wsLink) send(ctx context.Context, data []byte) error {
	return l.conn.Write(ctx, websocket.MessageText, data)
}

func (l *wsLink) recv(ctx context.Context) ([]byte, error) {
	_, data, err := l.conn.Read(ctx)
	if err != nil {
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

func (l *wsLink) close() error {
	return l.conn.Close(websocket.StatusNormalClosure, "bye")
}

type brokerLink struct {
	b    *broker.Broker
	conn *broker.Conn
	once sync.Once
}

func (l *brokerLink) send(ctx context.Context, data []byte) error {
	switch l.conn.Role {
	case types.RoleHost:
		return l.b.Send(ctx, broker.FromHost{Conn: l.conn, Data: data})
	default:
		return l.b.Send(ctx, broker.FromPlayer{Conn: l.conn, Data: data})
	}
}

func (l *brokerLink) recv(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-l.conn.Outbox:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *brokerLink) close() error {
	var err error
	l.once.Do(func() {
		err = l.b.Send(context.Background(), broker.Disconnect{Conn: l.conn})
		if errors.Is(err, broker.ErrClosed) {
			err = nil
		}
	})
	return err
}
