package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DoyleJ11/quizroom-backend/internal/broker"
	"github.com/DoyleJ11/quizroom-backend/internal/catalog"
	"github.com/DoyleJ11/quizroom-backend/internal/config"
	"github.com/DoyleJ11/quizroom-backend/internal/httpapi"
	"github.com/DoyleJ11/quizroom-backend/internal/hub"
	"github.com/DoyleJ11/quizroom-backend/internal/logging"
	"github.com/DoyleJ11/quizroom-backend/internal/transport/natsbus"
	"github.com/DoyleJ11/quizroom-backend/internal/ws"
	"github.com/nats-io/nats.go"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, err := openCatalog(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = natsbus.Connect(natsbus.DefaultConfig(cfg.NATSURL), logger)
		if err != nil {
			return err
		}
		defer nc.Close()
	}

	b := broker.New(ctx, broker.Options{RoomTTL: cfg.RoomTTL, Logger: logger})
	h := hub.NewHub(ctx, hub.Options{
		Broker:           b,
		NATS:             nc,
		Catalog:          cat,
		Logger:           logger,
		BotAccuracy:      cfg.Room.BotAccuracy,
		ResultDwell:      cfg.Room.ResultDwell,
		LeaderboardDwell: cfg.Room.LeaderboardDwell,
	})

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Hub:            h,
			Broker:         b,
			Defaults:       cfg.Room.Settings(),
			PublicURL:      cfg.PublicURL,
			AllowedOrigins: cfg.AllowedOrigins,
			WS:             ws.Options{HeartbeatInterval: cfg.HeartbeatInterval},
			Logger:         logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr), zap.String("public_url", cfg.PublicURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return b.RunJanitor(gctx, cfg.SweepInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := multierr.Append(h.Shutdown(shutdownCtx), srv.Shutdown(shutdownCtx))
		_ = b.Send(shutdownCtx, broker.Shutdown{})
		return err
	})
	return g.Wait()
}

// openCatalog prefers the database, seeding it from the catalog file when both
// are configured, then the file alone, then the built-in sample.
func openCatalog(ctx context.Context, cfg config.Config, logger *zap.Logger) (catalog.Catalog, error) {
	var file catalog.Static
	if cfg.CatalogFile != "" {
		var err error
		if file, err = catalog.LoadFile(cfg.CatalogFile); err != nil {
			return nil, err
		}
	}

	switch {
	case cfg.DatabaseDSN != "":
		db, err := catalog.Open(cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		if err := catalog.AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("migrate catalog: %w", err)
		}
		if file != nil {
			if err := catalog.Seed(ctx, db, file); err != nil {
				return nil, fmt.Errorf("seed catalog: %w", err)
			}
			logger.Info("seeded catalog", zap.Strings("subjects", file.Subjects()))
		}
		logger.Info("using database catalog")
		return catalog.NewGorm(db), nil
	case file != nil:
		logger.Info("using file catalog", zap.String("path", cfg.CatalogFile), zap.Strings("subjects", file.Subjects()))
		return file, nil
	default:
		logger.Info("using sample catalog", zap.String("subject", catalog.SampleSubject))
		return catalog.Sample(), nil
	}
}
