package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/DoyleJ11/quizroom-backend/internal/broker"
	"github.com/DoyleJ11/quizroom-backend/internal/catalog"
	"github.com/DoyleJ11/quizroom-backend/internal/engine"
	"github.com/DoyleJ11/quizroom-backend/internal/host"
	"github.com/DoyleJ11/quizroom-backend/internal/hub"
	"github.com/DoyleJ11/quizroom-backend/internal/session"
	"github.com/DoyleJ11/quizroom-backend/internal/transport"
	"github.com/DoyleJ11/quizroom-backend/internal/ws"
	"github.com/DoyleJ11/quizroom-backend/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

// HTTP-only error codes; the wire codes live in pkg/types.
const (
	CodeInvalidRequest  types.ErrorCode = "INVALID_REQUEST"
	CodeSubjectNotFound types.ErrorCode = "SUBJECT_NOT_FOUND"
	CodeWrongPhase      types.ErrorCode = "WRONG_PHASE"
	CodeUnavailable     types.ErrorCode = "UNAVAILABLE"
	CodeInternal        types.ErrorCode = "INTERNAL"
)

const qrSize = 320

var errBadRequest = errors.New("bad request")

type createRoomRequest struct {
	Subject      string  `json:"subject"`
	Mode         *string `json:"mode"`
	CountdownSec *int    `json:"countdownSec"`
	AutoPlay     *bool   `json:"autoPlay"`
	Transport    string  `json:"transport"`
	Bots         int     `json:"bots"`
}

type createRoomResponse struct {
	Code      string `json:"code"`
	JoinURL   string `json:"joinUrl"`
	Transport string `json:"transport"`
}

type settingsPatch struct {
	Mode         *string `json:"mode"`
	CountdownSec *int    `json:"countdownSec"`
	AutoPlay     *bool   `json:"autoPlay"`
}

func (p settingsPatch) apply(s engine.Settings) engine.Settings {
	if p.Mode != nil {
		s.Mode = engine.Mode(strings.ToUpper(*p.Mode))
	}
	if p.CountdownSec != nil {
		s.CountdownSec = *p.CountdownSec
	}
	if p.AutoPlay != nil {
		s.AutoPlay = *p.AutoPlay
	}
	return s
}

type roomResponse struct {
	Code    string            `json:"code"`
	Version int               `json:"version"`
	State   types.StateUpdate `json:"state"`
}

type statsResponse struct {
	Rooms       int `json:"rooms"`
	Players     int `json:"players"`
	HostedRooms int `json:"hostedRooms"`
}

func CreateRoom(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRoomRequest
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, d.Logger, err)
			return
		}
		kind, err := transport.ParseKind(req.Transport)
		if err != nil {
			writeErr(w, d.Logger, errors.Join(errBadRequest, err))
			return
		}
		settings := settingsPatch{Mode: req.Mode, CountdownSec: req.CountdownSec, AutoPlay: req.AutoPlay}.apply(d.Defaults)

		room, err := d.Hub.CreateRoom(r.Context(), hub.Request{
			Subject:   req.Subject,
			Settings:  settings,
			Transport: kind,
			Bots:      req.Bots,
		})
		if err != nil {
			writeErr(w, d.Logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, createRoomResponse{
			Code:      room.Code(),
			JoinURL:   joinURL(d.PublicURL, room.Code()),
			Transport: string(kind),
		})
	}
}

func GetRoom(d Deps) http.HandlerFunc {
	return withRoom(d, func(w http.ResponseWriter, r *http.Request, room *host.Room) {
		view, err := room.State(r.Context())
		if err != nil {
			writeErr(w, d.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, roomResponse{Code: view.Code, Version: view.Version, State: view.State})
	})
}

func UpdateSettings(d Deps) http.HandlerFunc {
	return withRoom(d, func(w http.ResponseWriter, r *http.Request, room *host.Room) {
		var patch settingsPatch
		if err := decodeBody(r, &patch); err != nil {
			writeErr(w, d.Logger, err)
			return
		}
		view, err := room.State(r.Context())
		if err != nil {
			writeErr(w, d.Logger, err)
			return
		}
		current := d.Defaults
		if s := view.State.Settings; s != nil {
			current = engine.Settings{Mode: engine.Mode(s.Mode), CountdownSec: s.CountdownSec, AutoPlay: s.AutoPlay}
		}
		if err := room.Configure(r.Context(), patch.apply(current)); err != nil {
			writeErr(w, d.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func AddBot(d Deps) http.HandlerFunc {
	return withRoom(d, func(w http.ResponseWriter, r *http.Request, room *host.Room) {
		var req struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, d.Logger, err)
			return
		}
		if req.Name == "" {
			view, err := room.State(r.Context())
			if err != nil {
				writeErr(w, d.Logger, err)
				return
			}
			req.Name = hub.BotName(len(view.State.Roster))
		}
		if err := room.AddBot(r.Context(), req.Name); err != nil {
			writeErr(w, d.Logger, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})
}

func StartRoom(d Deps) http.HandlerFunc {
	return withRoom(d, func(w http.ResponseWriter, r *http.Request, room *host.Room) {
		if err := room.Start(r.Context()); err != nil {
			writeErr(w, d.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func AdvanceRoom(d Deps) http.HandlerFunc {
	return withRoom(d, func(w http.ResponseWriter, r *http.Request, room *host.Room) {
		if err := room.Advance(r.Context()); err != nil {
			writeErr(w, d.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func DeleteRoom(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.Hub.RemoveRoom(r.Context(), chi.URLParam(r, "code")); err != nil {
			writeErr(w, d.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// JoinQR serves a PNG QR code of the join URL. It works for remote-hosted
// rooms too, as long as the broker knows the code.
func JoinQR(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		if !session.ValidCode(code) {
			writeErr(w, d.Logger, broker.ErrRoomNotFound)
			return
		}
		exists, err := d.Broker.RoomExists(r.Context(), code)
		if err == nil && !exists {
			_, err = d.Hub.GetRoom(r.Context(), code)
		}
		if err != nil {
			writeErr(w, d.Logger, err)
			return
		}

		png, err := qrcode.Encode(joinURL(d.PublicURL, code), qrcode.Medium, qrSize)
		if err != nil {
			writeErr(w, d.Logger, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(png)
	}
}

func Stats(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := d.Broker.Stats(r.Context())
		if err != nil {
			writeErr(w, d.Logger, err)
			return
		}
		hosted, err := d.Hub.Count(r.Context())
		if err != nil {
			writeErr(w, d.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, statsResponse{Rooms: st.Rooms, Players: st.Players, HostedRooms: hosted})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func withRoom(d Deps, next func(http.ResponseWriter, *http.Request, *host.Room)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room, err := d.Hub.GetRoom(r.Context(), chi.URLParam(r, "code"))
		if err != nil {
			writeErr(w, d.Logger, err)
			return
		}
		next(w, r, room)
	}
}

func joinURL(publicURL, code string) string {
	return strings.TrimRight(publicURL, "/") + "/join?" + url.Values{"code": {code}}.Encode()
}

// decodeBody accepts an empty body as "all defaults".
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errors.Join(errBadRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, logger *zap.Logger, err error) {
	status, code := http.StatusInternalServerError, CodeInternal
	switch {
	case errors.Is(err, broker.ErrRoomNotFound), errors.Is(err, host.ErrClosed):
		status, code = http.StatusNotFound, types.CodeRoomNotFound
	case errors.Is(err, catalog.ErrSubjectNotFound):
		status, code = http.StatusNotFound, CodeSubjectNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, engine.ErrInvalidSettings),
		errors.Is(err, hub.ErrTooManyBots),
		errors.Is(err, hub.ErrTransportUnavailable):
		status, code = http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, engine.ErrSettingsLocked), errors.Is(err, engine.ErrWrongPhase):
		status, code = http.StatusConflict, CodeWrongPhase
	case errors.Is(err, hub.ErrClosed), errors.Is(err, broker.ErrClosed):
		status, code = http.StatusServiceUnavailable, CodeUnavailable
	default:
		logger.Error("request failed", zap.Error(err))
	}
	ws.WriteError(w, status, code, err.Error())
}
