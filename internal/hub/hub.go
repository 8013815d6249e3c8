// Package hub owns the rooms this server hosts itself. Each room runs its own
// host.Room goroutine; the hub only tracks them by code.
package hub

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/DoyleJ11/quizroom-backend/internal/broker"
	"github.com/DoyleJ11/quizroom-backend/internal/catalog"
	"github.com/DoyleJ11/quizroom-backend/internal/engine"
	"github.com/DoyleJ11/quizroom-backend/internal/host"
	"github.com/DoyleJ11/quizroom-backend/internal/session"
	"github.com/DoyleJ11/quizroom-backend/internal/transport"
	"github.com/DoyleJ11/quizroom-backend/internal/transport/natsbus"
	"github.com/DoyleJ11/quizroom-backend/internal/transport/relay"
	"github.com/DoyleJ11/quizroom-backend/pkg/types"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("hub closed")
var ErrTransportUnavailable = errors.New("transport not configured")
var ErrTooManyBots = errors.New("too many bots")

const MaxBots = 50

type HubMsg interface{ isHubMsg() }

type CreateRoom struct {
	Req       Request
	Questions []engine.Question
	Reply     chan created
}

type GetRoom struct {
	Code  string
	Reply chan *host.Room
}

// RemoveRoom forgets the room and hands it back so the caller can close it
// outside the hub goroutine.
type RemoveRoom struct {
	Code  string
	Reply chan *host.Room
}

type CountRooms struct {
	Reply chan int
}

// roomClosed reports a room that shut down on its own.
type roomClosed struct {
	Code string
	Room *host.Room
}

type ShutdownHub struct {
	Reply chan error
}

func (CreateRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (RemoveRoom) isHubMsg()  {}
func (CountRooms) isHubMsg()  {}
func (roomClosed) isHubMsg()  {}
func (ShutdownHub) isHubMsg() {}

type created struct {
	room *host.Room
	err  error
}

// Request describes a room to create.
type Request struct {
	Subject   string
	Settings  engine.Settings
	Transport transport.Kind
	Bots      int
}

type Options struct {
	Broker           *broker.Broker
	Bus              *transport.Bus
	NATS             *nats.Conn
	Catalog          catalog.Catalog
	Clock            clockwork.Clock
	Logger           *zap.Logger
	BotAccuracy      float64
	ResultDwell      time.Duration
	LeaderboardDwell time.Duration
}

type Hub struct {
	inbox  chan HubMsg
	rooms  map[string]*host.Room
	opts   Options
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(parent context.Context, opts Options) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Bus == nil {
		opts.Bus = transport.NewBus(opts.Logger)
	}
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		rooms:  make(map[string]*host.Room),
		opts:   opts,
		logger: opts.Logger.Named("hub"),
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Bus is the in-process bus local-transport rooms are attached to.
func (h *Hub) Bus() *transport.Bus { return h.opts.Bus }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			_ = h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				room, err := h.createRoom(msg.Req, msg.Questions)
				msg.Reply <- created{room: room, err: err}

			case GetRoom:
				msg.Reply <- h.rooms[msg.Code] // May be nil

			case RemoveRoom:
				room := h.rooms[msg.Code]
				delete(h.rooms, msg.Code)
				msg.Reply <- room

			case CountRooms:
				msg.Reply <- len(h.rooms)

			case roomClosed:
				if h.rooms[msg.Code] == msg.Room {
					delete(h.rooms, msg.Code)
					h.logger.Info("room ended", zap.String("room", msg.Code))
				}

			case ShutdownHub:
				msg.Reply <- h.shutdown()
				h.cancel()
				return
			}
		}
	}
}

func (h *Hub) createRoom(req Request, questions []engine.Question) (*host.Room, error) {
	for attempt := 0; attempt < 8; attempt++ {
		code, err := session.GenerateCode(h.inUse)
		if err != nil {
			return nil, err
		}
		carrier, err := h.openCarrier(req.Transport, code)
		if errors.Is(err, broker.ErrDuplicateRoomCode) {
			// A remote host took the code between the check and the attach.
			continue
		}
		if err != nil {
			return nil, err
		}

		room := host.New(h.ctx, host.Options{
			Code:             code,
			Settings:         req.Settings,
			Questions:        questions,
			Carrier:          carrier,
			Clock:            h.opts.Clock,
			Logger:           h.opts.Logger,
			Rand:             rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
			BotAccuracy:      h.opts.BotAccuracy,
			ResultDwell:      h.opts.ResultDwell,
			LeaderboardDwell: h.opts.LeaderboardDwell,
		})
		h.rooms[code] = room
		go func() {
			<-room.Done()
			select {
			case h.inbox <- roomClosed{Code: code, Room: room}:
			case <-h.ctx.Done():
			}
		}()
		h.logger.Info("room created",
			zap.String("room", code),
			zap.String("transport", string(req.Transport)),
			zap.String("subject", req.Subject),
			zap.Int("questions", len(questions)))
		return room, nil
	}
	return nil, session.ErrCodeSpaceExhausted
}

// inUse reports codes taken by this hub or by any host registered with the broker.
func (h *Hub) inUse(code string) bool {
	if _, ok := h.rooms[code]; ok {
		return true
	}
	if h.opts.Broker == nil {
		return false
	}
	ok, err := h.opts.Broker.RoomExists(h.ctx, code)
	return err != nil || ok
}

func (h *Hub) openCarrier(kind transport.Kind, code string) (transport.Carrier, error) {
	switch kind {
	case transport.KindLocal:
		return h.opts.Bus.Open(code), nil
	case transport.KindNATS:
		if h.opts.NATS == nil {
			return nil, fmt.Errorf("%w: nats", ErrTransportUnavailable)
		}
		return natsbus.New(h.opts.NATS, types.RoleHost, code, h.opts.Logger)
	case transport.KindRelay, "":
		if h.opts.Broker == nil {
			return nil, fmt.Errorf("%w: relay", ErrTransportUnavailable)
		}
		return relay.Attach(h.ctx, h.opts.Broker, types.RoleHost, code, h.opts.Logger)
	default:
		return nil, fmt.Errorf("%w: %s", ErrTransportUnavailable, kind)
	}
}

func (h *Hub) shutdown() error {
	var errs error
	for code, room := range h.rooms {
		errs = multierr.Append(errs, room.Close())
		delete(h.rooms, code)
	}
	return errs
}

func (h *Hub) send(ctx context.Context, m HubMsg) error {
	select {
	case h.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.ctx.Done():
		return ErrClosed
	}
}

// CreateRoom loads the subject's questions, registers a fresh code and
// starts the room with req.Bots bots already seated.
func (h *Hub) CreateRoom(ctx context.Context, req Request) (*host.Room, error) {
	if err := req.Settings.Validate(); err != nil {
		return nil, err
	}
	if req.Bots < 0 || req.Bots > MaxBots {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrTooManyBots, req.Bots, MaxBots)
	}
	if _, err := transport.ParseKind(string(req.Transport)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}

	var questions []engine.Question
	if h.opts.Catalog != nil {
		var err error
		questions, err = h.opts.Catalog.Questions(ctx, req.Subject)
		if err != nil {
			return nil, err
		}
	}

	reply := make(chan created, 1)
	if err := h.send(ctx, CreateRoom{Req: req, Questions: questions, Reply: reply}); err != nil {
		return nil, err
	}
	var res created
	select {
	case res = <-reply:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.ctx.Done():
		return nil, ErrClosed
	}
	if res.err != nil {
		return nil, res.err
	}

	for i := 0; i < req.Bots; i++ {
		if err := res.room.AddBot(ctx, BotName(i)); err != nil {
			return res.room, fmt.Errorf("add bot: %w", err)
		}
	}
	return res.room, nil
}

func (h *Hub) GetRoom(ctx context.Context, code string) (*host.Room, error) {
	reply := make(chan *host.Room, 1)
	if err := h.send(ctx, GetRoom{Code: code, Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case room := <-reply:
		if room == nil {
			return nil, broker.ErrRoomNotFound
		}
		return room, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.ctx.Done():
		return nil, ErrClosed
	}
}

// RemoveRoom stops the room and releases its carrier. Players on a relay
// room see HOST_DISCONNECTED.
func (h *Hub) RemoveRoom(ctx context.Context, code string) error {
	reply := make(chan *host.Room, 1)
	if err := h.send(ctx, RemoveRoom{Code: code, Reply: reply}); err != nil {
		return err
	}
	select {
	case room := <-reply:
		if room == nil {
			return broker.ErrRoomNotFound
		}
		return room.Close()
	case <-ctx.Done():
		return ctx.Err()
	case <-h.ctx.Done():
		return ErrClosed
	}
}

func (h *Hub) Count(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	if err := h.send(ctx, CountRooms{Reply: reply}); err != nil {
		return 0, err
	}
	select {
	case n := <-reply:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-h.ctx.Done():
		return 0, ErrClosed
	}
}

// Shutdown closes every room and stops the hub.
func (h *Hub) Shutdown(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := h.send(ctx, ShutdownHub{Reply: reply}); err != nil {
		if errors.Is(err, ErrClosed) {
			return nil
		}
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-h.ctx.Done():
		select {
		case err := <-reply:
			return err
		default:
			return nil
		}
	}
}

var botNames = []string{"Ada", "Byte", "Cog", "Dot", "Echo", "Flux", "Gizmo", "Hex", "Ion", "Jolt"}

// BotName names the i-th bot of a room.
func BotName(i int) string {
	name := botNames[i%len(botNames)]
	if i >= len(botNames) {
		name = fmt.Sprintf("%s %d", name, i/len(botNames)+1)
	}
	return name + " (bot)"
}
