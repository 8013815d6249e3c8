package httpapi

import (
	"net/http"
	"time"

	"github.com/DoyleJ11/quizroom-backend/internal/broker"
	"github.com/DoyleJ11/quizroom-backend/internal/engine"
	"github.com/DoyleJ11/quizroom-backend/internal/hub"
	"github.com/DoyleJ11/quizroom-backend/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Deps is everything the HTTP surface talks to.
type Deps struct {
	Hub            *hub.Hub
	Broker         *broker.Broker
	Defaults       engine.Settings
	PublicURL      string
	AllowedOrigins []string
	WS             ws.Options
	Logger         *zap.Logger
}

func SetupRoutes(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Defaults == (engine.Settings{}) {
		d.Defaults = engine.DefaultSettings()
	}
	d.WS.OriginPatterns = d.AllowedOrigins
	d.WS.Logger = d.Logger

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(d.Logger.Named("http")))

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/stats", Stats(d))

	r.Route("/rooms", func(r chi.Router) {
		r.Use(middleware.Timeout(10 * time.Second))
		r.Post("/", CreateRoom(d))
		r.Route("/{code}", func(r chi.Router) {
			r.Get("/", GetRoom(d))
			r.Delete("/", DeleteRoom(d))
			r.Patch("/settings", UpdateSettings(d))
			r.Post("/bots", AddBot(d))
			r.Post("/start", StartRoom(d))
			r.Post("/advance", AdvanceRoom(d))
			r.Get("/qr.png", JoinQR(d))
		})
	})

	r.Get("/ws/host", ws.HostHandler(d.Broker, d.WS))
	r.Get("/ws/play", ws.PlayerHandler(d.Broker, d.WS))

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins: origins,
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
