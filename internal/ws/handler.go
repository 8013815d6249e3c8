// Package ws exposes the relay broker over websockets: one endpoint for the
// host of a room and one for its players.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/DoyleJ11/quizroom-backend/internal/broker"
	"github.com/DoyleJ11/quizroom-backend/internal/session"
	"github.com/DoyleJ11/quizroom-backend/pkg/types"
	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	DefaultHeartbeat = 15 * time.Second
	DefaultReadLimit = 16 << 10
	writeTimeout     = 3 * time.Second
)

type Options struct {
	OriginPatterns    []string
	HeartbeatInterval time.Duration
	ReadLimit         int64
	OutboxSize        int
	Clock             clockwork.Clock
	Logger            *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeat
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = DefaultReadLimit
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// HostHandler registers the connecting client as the host of ?code=.
func HostHandler(b *broker.Broker, opts Options) http.HandlerFunc {
	opts = opts.withDefaults()
	logger := opts.Logger.Named("ws.host")
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if !session.ValidCode(code) {
			WriteError(w, http.StatusBadRequest, types.CodeRoomNotFound, "missing or invalid code")
			return
		}
		exists, err := b.RoomExists(r.Context(), code)
		if err != nil {
			WriteError(w, http.StatusServiceUnavailable, types.CodeRoomClosed, "broker unavailable")
			return
		}
		if exists {
			WriteError(w, http.StatusConflict, types.CodeDuplicateRoomCode, broker.ErrDuplicateRoomCode.Error())
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: opts.OriginPatterns})
		if err != nil {
			logger.Debug("upgrade failed", zap.String("room", code), zap.Error(err))
			return
		}
		defer conn.CloseNow()

		bc := broker.NewConn(types.RoleHost, code, opts.OutboxSize)
		if err := b.CreateRoom(r.Context(), bc); err != nil {
			// Lost a race with another host between the check and the upgrade.
			if data, encErr := types.Encode(errorMessage(err)); encErr == nil {
				ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
				_ = conn.Write(ctx, websocket.MessageText, data)
				cancel()
			}
			conn.Close(websocket.StatusPolicyViolation, "room unavailable")
			return
		}
		logger.Info("host connected", zap.String("room", code), zap.String("conn", bc.ID))
		serve(r.Context(), b, conn, bc, opts, logger)
	}
}

// PlayerHandler connects a player to ?code=. An unknown room is refused
// before the upgrade so clients get a plain 404.
func PlayerHandler(b *broker.Broker, opts Options) http.HandlerFunc {
	opts = opts.withDefaults()
	logger := opts.Logger.Named("ws.player")
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if !session.ValidCode(code) {
			WriteError(w, http.StatusBadRequest, types.CodeRoomNotFound, "missing or invalid code")
			return
		}
		exists, err := b.RoomExists(r.Context(), code)
		if err != nil {
			WriteError(w, http.StatusServiceUnavailable, types.CodeRoomClosed, "broker unavailable")
			return
		}
		if !exists {
			WriteError(w, http.StatusNotFound, types.CodeRoomNotFound, broker.ErrRoomNotFound.Error())
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: opts.OriginPatterns})
		if err != nil {
			logger.Debug("upgrade failed", zap.String("room", code), zap.Error(err))
			return
		}
		defer conn.CloseNow()

		bc := broker.NewConn(types.RolePlayer, code, opts.OutboxSize)
		serve(r.Context(), b, conn, bc, opts, logger)
	}
}

// serve pumps frames between conn and the broker until either side goes away.
func serve(parent context.Context, b *broker.Broker, conn *websocket.Conn, bc *broker.Conn, opts Options, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer func() {
		// Explicit disconnect event; the broker decides what it means for the room.
		_ = b.Send(context.Background(), broker.Disconnect{Conn: bc})
	}()

	conn.SetReadLimit(opts.ReadLimit)

	// Writer goroutine
	go func() {
		defer cancel()
		for data := range bc.Outbox {
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, data)
			wcancel()
			if err != nil {
				logger.Debug("write failed", zap.String("room", bc.Code), zap.String("conn", bc.ID), zap.Error(err))
				return
			}
		}
		// The broker stopped routing to us: room closed or connection evicted.
		conn.Close(websocket.StatusNormalClosure, "room closed")
	}()

	// Heartbeat
	go func() {
		ticker := opts.Clock.NewTicker(opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				pctx, pcancel := context.WithTimeout(ctx, opts.HeartbeatInterval)
				err := conn.Ping(pctx)
				pcancel()
				if err != nil {
					logger.Info("heartbeat failed", zap.String("room", bc.Code), zap.String("conn", bc.ID), zap.Error(err))
					cancel()
					return
				}
			}
		}
	}()

	// Reader loop
	var playerID string
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				logger.Debug("connection closed", zap.String("room", bc.Code), zap.String("conn", bc.ID))
			default:
				if !errors.Is(err, context.Canceled) {
					logger.Debug("read failed", zap.String("room", bc.Code), zap.String("conn", bc.ID), zap.Error(err))
				}
			}
			return
		}

		msg, err := types.Decode(data)
		if err != nil {
			logger.Debug("dropping malformed message", zap.String("room", bc.Code), zap.String("conn", bc.ID), zap.Error(err))
			continue
		}

		var out broker.Msg
		switch bc.Role {
		case types.RoleHost:
			out = broker.FromHost{Conn: bc, Data: data}
		default:
			// A player connection speaks for the id it joined with and nobody else.
			id := senderID(msg)
			if _, ok := msg.(types.Join); ok && playerID == "" {
				playerID = id
			}
			if id == "" || id != playerID {
				logger.Debug("dropping message for foreign player id", zap.String("room", bc.Code), zap.String("conn", bc.ID))
				continue
			}
			out = broker.FromPlayer{Conn: bc, Data: data}
		}
		if err := b.Send(ctx, out); err != nil {
			return
		}
	}
}

func senderID(msg types.Message) string {
	switch m := msg.(type) {
	case types.Join:
		return m.PlayerID
	case types.Answer:
		return m.PlayerID
	case types.Smash:
		return m.PlayerID
	default:
		return ""
	}
}

func errorMessage(err error) types.Error {
	code, ok := types.CodeOf(err)
	if !ok {
		code = types.CodeRoomClosed
	}
	return types.Error{Code: code, Message: err.Error()}
}

// WriteError writes a JSON {code, message} body with status.
func WriteError(w http.ResponseWriter, status int, code types.ErrorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.Error{Code: code, Message: message})
}
