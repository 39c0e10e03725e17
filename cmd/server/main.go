package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/Proton-105/globalization/internal/api"
	apperrors "github.com/Proton-105/globalization/internal/errors"
	"github.com/Proton-105/globalization/internal/lifecycle"
	"github.com/Proton-105/globalization/internal/middleware"
	"github.com/Proton-105/globalization/pkg/config"
	"github.com/Proton-105/globalization/pkg/graceful"
	"github.com/Proton-105/globalization/pkg/logger"
	"github.com/Proton-105/globalization/pkg/metrics"
)

func main() {
	if err := run(); err != nil {
		slog.Error("globalization service stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, _, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	flushSentry, err := logger.InitSentry(*cfg)
	if err != nil {
		return fmt.Errorf("init sentry: %w", err)
	}
	defer flushSentry()

	log := logger.New(*cfg)
	slog.SetDefault(log)

	log.Info("starting globalization service",
		slog.String("env", cfg.AppEnv),
		slog.String("http_port", cfg.Server.Port),
		slog.String("log_level", cfg.Logger.Level),
	)

	shutdown := lifecycle.NewShutdown(log)

	app, err := build(ctx, cfg, log, shutdown)
	if err != nil {
		if shutdownErr := shutdown.Execute(context.Background()); shutdownErr != nil {
			log.Error("cleanup after failed start", slog.Any("error", shutdownErr))
		}
		return err
	}

	app.start(ctx)

	go metrics.NewBreakerCollector(15*time.Second, app.breakers...).Run(ctx)

	handler := api.NewHandler(api.Deps{
		Dispatcher: app.service,
		Users:      app.users,
		Health:     app.health,
		Errors:     apperrors.NewHandler(log, cfg.Sentry.Enabled),
		RateLimit:  middleware.NewRateLimit(app.limiter, app.rules, log),
	}, log)

	srv := graceful.NewServer(log, &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}, cfg.Server.ShutdownTimeout)

	serveErr := srv.ListenAndServe(ctx)
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	log.Info("globalization service shutting down")
	return errors.Join(serveErr, shutdown.Execute(shutdownCtx))
}
