package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rudnitski/HealthUp-sub005/internal/analysis/sqlguard"
	"github.com/rudnitski/HealthUp-sub005/internal/config"
	"github.com/rudnitski/HealthUp-sub005/internal/handler"
	agentService "github.com/rudnitski/HealthUp-sub005/internal/service/agent"
	"github.com/rudnitski/HealthUp-sub005/internal/service/ai"
	sessionService "github.com/rudnitski/HealthUp-sub005/internal/service/session"
	"github.com/rudnitski/HealthUp-sub005/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("no .env file, using system environment only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if cfg.Database.URL == "" {
		log.Fatal().Msg("DATABASE_URL is required")
	}

	dataStore, err := store.New(ctx, store.Config{
		URL:              cfg.Database.URL,
		MaxConns:         int32(cfg.Database.MaxConns),
		StatementTimeout: cfg.Database.StatementTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer dataStore.Close()

	aiSvc, err := ai.NewService(ctx, cfg.AI, agentService.Tools())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize reasoning model")
	}

	validator := sqlguard.NewValidator(dataStore)
	guard := sessionService.NewService(cfg.Agent.SessionIdleTTL)
	agentSvc := agentService.NewService(aiSvc, dataStore, guard, validator, cfg.Agent)

	go guard.Reap(ctx, time.Minute)

	router := handler.NewRouter(guard, agentSvc, cfg.Agent)
	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", serverCfg.Addr).Msg("HealthUp agent backend listening")
	if err := runServer(ctx, srv); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
