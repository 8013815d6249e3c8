// Package broker routes messages between the host and the players of each
// room. It keeps no game state: only which connection hosts a room and which
// connections have joined it.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/DoyleJ11/quizroom-backend/pkg/types"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var ErrRoomNotFound = types.NewCoded(types.CodeRoomNotFound, "room not found")
var ErrDuplicateRoomCode = types.NewCoded(types.CodeDuplicateRoomCode, "room code already registered")
var ErrClosed = errors.New("broker closed")

const DefaultOutboxSize = 64

// Conn is the broker's view of one connection: where to deliver, and which
// room and side it belongs to. The broker closes Outbox when it stops routing
// to the connection.
type Conn struct {
	ID     string
	Role   types.Role
	Code   string
	Outbox chan []byte

	closed bool // owned by the broker goroutine
}

func NewConn(role types.Role, code string, outboxSize int) *Conn {
	if outboxSize <= 0 {
		outboxSize = DefaultOutboxSize
	}
	return &Conn{
		ID:     uuid.NewString(),
		Role:   role,
		Code:   code,
		Outbox: make(chan []byte, outboxSize),
	}
}

type Msg interface{ isBrokerMsg() }

// CreateRoom registers Conn as the host of Conn.Code.
type CreateRoom struct {
	Conn  *Conn
	Reply chan error
}

// FromPlayer carries raw bytes sent by a player connection. A JOIN records
// the connection against the room; everything is forwarded to the host only.
type FromPlayer struct {
	Conn *Conn
	Data []byte
}

// FromHost carries raw bytes sent by the host; they go to every joined player.
type FromHost struct {
	Conn *Conn
	Data []byte
}

// Disconnect is the explicit event that a connection is gone.
type Disconnect struct {
	Conn *Conn
}

type RoomExists struct {
	Code  string
	Reply chan bool
}

type GetStats struct {
	Reply chan Stats
}

// Sweep destroys rooms idle for longer than the configured TTL.
type Sweep struct{}

type Shutdown struct{}

func (CreateRoom) isBrokerMsg() {}
func (FromPlayer) isBrokerMsg() {}
func (FromHost) isBrokerMsg()   {}
func (Disconnect) isBrokerMsg() {}
func (RoomExists) isBrokerMsg() {}
func (GetStats) isBrokerMsg()   {}
func (Sweep) isBrokerMsg()      {}
func (Shutdown) isBrokerMsg()   {}

type Stats struct {
	Rooms   int `json:"rooms"`
	Players int `json:"players"`
}

type room struct {
	code         string
	host         *Conn
	players      map[string]*Conn
	createdAt    time.Time
	lastActivity time.Time
}

type Options struct {
	Clock   clockwork.Clock
	RoomTTL time.Duration // 0 disables sweeping
	Logger  *zap.Logger
}

type Broker struct {
	inbox  chan Msg
	rooms  map[string]*room
	clock  clockwork.Clock
	ttl    time.Duration
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func New(parent context.Context, opts Options) *Broker {
	ctx, cancel := context.WithCancel(parent)
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	b := &Broker{
		inbox:  make(chan Msg, 256),
		rooms:  make(map[string]*room),
		clock:  opts.Clock,
		ttl:    opts.RoomTTL,
		logger: opts.Logger.Named("broker"),
		ctx:    ctx,
		cancel: cancel,
	}
	go b.loop()
	return b
}

func (b *Broker) Inbox() chan<- Msg { return b.inbox }

// Done is closed once the broker has stopped.
func (b *Broker) Done() <-chan struct{} { return b.ctx.Done() }

func (b *Broker) loop() {
	for {
		select {
		case <-b.ctx.Done():
			b.shutdown()
			return

		case m := <-b.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				msg.Reply <- b.createRoom(msg.Conn)

			case FromPlayer:
				b.fromPlayer(msg.Conn, msg.Data)

			case FromHost:
				b.fromHost(msg.Conn, msg.Data)

			case Disconnect:
				b.disconnect(msg.Conn)

			case RoomExists:
				_, ok := b.rooms[msg.Code]
				msg.Reply <- ok

			case GetStats:
				st := Stats{Rooms: len(b.rooms)}
				for _, r := range b.rooms {
					st.Players += len(r.players)
				}
				msg.Reply <- st

			case Sweep:
				b.sweep()

			case Shutdown:
				b.shutdown()
				b.cancel()
				return
			}
		}
	}
}

func (b *Broker) createRoom(c *Conn) error {
	if _, ok := b.rooms[c.Code]; ok {
		return ErrDuplicateRoomCode
	}
	now := b.clock.Now()
	b.rooms[c.Code] = &room{
		code:         c.Code,
		host:         c,
		players:      make(map[string]*Conn),
		createdAt:    now,
		lastActivity: now,
	}
	b.logger.Info("room created", zap.String("room", c.Code), zap.String("host_conn", c.ID))
	return nil
}

func (b *Broker) fromPlayer(c *Conn, data []byte) {
	if c.closed {
		// Evicted or disconnected: its outbox is gone, so it must not rejoin.
		b.logger.Debug("dropping message from closed connection", zap.String("room", c.Code), zap.String("conn", c.ID))
		return
	}
	kind, err := types.PeekKind(data)
	if err != nil {
		b.logger.Warn("dropping malformed player message", zap.String("room", c.Code), zap.String("conn", c.ID), zap.Error(err))
		return
	}

	r, ok := b.rooms[c.Code]
	if !ok {
		if kind == types.KindJoin {
			b.deliverError(c, ErrRoomNotFound, types.CodeRoomNotFound)
		}
		return
	}

	if kind == types.KindJoin {
		// JoinRoom: remember the connection so broadcasts reach it.
		if _, known := r.players[c.ID]; !known {
			r.players[c.ID] = c
			b.logger.Debug("player joined", zap.String("room", r.code), zap.String("conn", c.ID))
		}
	} else if _, known := r.players[c.ID]; !known {
		b.logger.Debug("dropping message from connection that never joined", zap.String("room", r.code), zap.String("conn", c.ID))
		return
	}

	r.lastActivity = b.clock.Now()
	b.toHost(r, data)
}

func (b *Broker) fromHost(c *Conn, data []byte) {
	r, ok := b.rooms[c.Code]
	if !ok || r.host.ID != c.ID {
		b.logger.Debug("dropping host message for unknown room", zap.String("room", c.Code), zap.String("conn", c.ID))
		return
	}
	r.lastActivity = b.clock.Now()
	for id, p := range r.players {
		if p.closed {
			delete(r.players, id)
			continue
		}
		select {
		case p.Outbox <- data:
		default:
			// Slow player: stop routing to it rather than stall the room.
			b.logger.Warn("evicting slow player connection", zap.String("room", r.code), zap.String("conn", id))
			b.closeConn(p)
			delete(r.players, id)
		}
	}
}

func (b *Broker) toHost(r *room, data []byte) {
	select {
	case r.host.Outbox <- data:
	default:
		b.logger.Warn("host outbox full, dropping player message", zap.String("room", r.code))
	}
}

func (b *Broker) disconnect(c *Conn) {
	defer b.closeConn(c)

	r, ok := b.rooms[c.Code]
	if !ok {
		return
	}
	if r.host.ID == c.ID {
		b.logger.Info("host disconnected, closing room", zap.String("room", r.code), zap.Int("players", len(r.players)))
		b.closeRoom(r, types.CodeHostDisconnected, "host disconnected")
		return
	}
	delete(r.players, c.ID)
}

func (b *Broker) sweep() {
	if b.ttl <= 0 {
		return
	}
	now := b.clock.Now()
	for _, r := range b.rooms {
		if now.Sub(r.lastActivity) > b.ttl {
			b.logger.Info("room expired", zap.String("room", r.code), zap.Duration("idle", now.Sub(r.lastActivity)))
			b.closeRoom(r, types.CodeRoomClosed, "room expired")
		}
	}
}

func (b *Broker) closeRoom(r *room, code types.ErrorCode, reason string) {
	notice, _ := types.Encode(types.Error{Code: code, Message: reason})
	for _, p := range r.players {
		b.deliver(p, notice)
		b.closeConn(p)
	}
	if r.host != nil {
		b.deliver(r.host, notice)
		b.closeConn(r.host)
	}
	delete(b.rooms, r.code)
}

func (b *Broker) shutdown() {
	for _, r := range b.rooms {
		b.closeRoom(r, types.CodeRoomClosed, "server shutting down")
	}
}

func (b *Broker) deliverError(c *Conn, err error, code types.ErrorCode) {
	data, _ := types.Encode(types.Error{Code: code, Message: err.Error()})
	b.deliver(c, data)
}

func (b *Broker) deliver(c *Conn, data []byte) {
	if c.closed {
		return
	}
	select {
	case c.Outbox <- data:
	default:
	}
}

func (b *Broker) closeConn(c *Conn) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.Outbox)
}

// Send delivers m to the broker unless ctx ends or the broker stops first.
func (b *Broker) Send(ctx context.Context, m Msg) error {
	select {
	case b.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.ctx.Done():
		return ErrClosed
	}
}

func (b *Broker) CreateRoom(ctx context.Context, c *Conn) error {
	reply := make(chan error, 1)
	if err := b.Send(ctx, CreateRoom{Conn: c, Reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-b.ctx.Done():
		return ErrClosed
	}
}

func (b *Broker) RoomExists(ctx context.Context, code string) (bool, error) {
	reply := make(chan bool, 1)
	if err := b.Send(ctx, RoomExists{Code: code, Reply: reply}); err != nil {
		return false, err
	}
	select {
	case ok := <-reply:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	case <-b.ctx.Done():
		return false, ErrClosed
	}
}

func (b *Broker) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	if err := b.Send(ctx, GetStats{Reply: reply}); err != nil {
		return Stats{}, err
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	case <-b.ctx.Done():
		return Stats{}, ErrClosed
	}
}

// RunJanitor sweeps expired rooms every interval until ctx ends.
func (b *Broker) RunJanitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 || b.ttl <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := b.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.ctx.Done():
			return nil
		case <-ticker.Chan():
			if err := b.Send(ctx, Sweep{}); err != nil {
				return nil
			}
		}
	}
}
