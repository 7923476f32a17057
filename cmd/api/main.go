package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/pitch-arena/backend/internal/app"
	"github.com/zhouzirui/pitch-arena/backend/internal/config"
	"github.com/zhouzirui/pitch-arena/backend/internal/handler"
	"github.com/zhouzirui/pitch-arena/backend/internal/logger"
	"github.com/zhouzirui/pitch-arena/backend/internal/metrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pitch arena: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log, err := logger.New(cfg.Log.JSON, cfg.Log.Debug)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	if envErr != nil {
		log.Debug("no .env file loaded, using process environment", zap.Error(envErr))
	}

	recorder := metrics.New()
	svc := app.Build(ctx, cfg, log, recorder, nil)

	router := handler.NewRouter(handler.Dependencies{
		Personas:        svc.Personas,
		Interviews:      svc.Interviews,
		Events:          svc.Events,
		Transcriber:     svc.Transcriber,
		Synthesizer:     svc.Synthesizer,
		Metrics:         recorder,
		Logger:          log,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		PreviewMaxChars: cfg.Interview.PreviewMaxChars,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info("pitch arena backend listening", zap.String("addr", cfg.Server.Addr))
	return runServer(ctx, srv, log)
}

func runServer(ctx context.Context, srv *http.Server, log *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
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
