package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ft-pong/pong-backend/internal/config"
	"github.com/ft-pong/pong-backend/internal/httpapi"
	"github.com/ft-pong/pong-backend/internal/matchmaking"
	"github.com/ft-pong/pong-backend/internal/registry"
	"github.com/ft-pong/pong-backend/internal/tournament"

	"github.com/ft-pong/pong-backend/internal/store"
)

func main() {
	cfg := config.Load()

	logger, err := buildLogger(cfg.Debug)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL is required")
	}
	db, err := store.Open(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("store open failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// the registry and queue are injected everywhere; no ambient globals
	reg := registry.New(ctx, logger)
	coord := tournament.New(tournament.Config{
		Store:    db,
		Registry: reg,
		Recorder: db,
		Logger:   logger,
	})
	queue := matchmaking.New(ctx, matchmaking.Config{
		Store:         db,
		Registry:      reg,
		Recorder:      db,
		TicketTimeout: cfg.TicketTimeout,
		SessionGrace:  cfg.SessionGrace,
		Logger:        logger,
	})

	handlers := &httpapi.Handlers{
		Data:        db,
		Recorder:    db,
		Registry:    reg,
		Tournaments: coord,
		Log:         logger,
	}
	auth := httpapi.TokenAuthenticator{Token: cfg.AuthToken}

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: httpapi.SetupRoutes(handlers, queue, auth, logger),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// stop accepting traffic first, then drain active sessions
		err := srv.Shutdown(shutdownCtx)
		queue.Inbox() <- matchmaking.Shutdown{}
		reg.Inbox() <- registry.ShutdownAll{}
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
