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

	"github.com/Johnsingh007-ui/transitpulse/internal/app"
	"github.com/Johnsingh007-ui/transitpulse/internal/broadcast"
	"github.com/Johnsingh007-ui/transitpulse/internal/config"
	"github.com/Johnsingh007-ui/transitpulse/internal/fusion"
	"github.com/Johnsingh007-ui/transitpulse/internal/gtfsrt"
	"github.com/Johnsingh007-ui/transitpulse/internal/logging"
	"github.com/Johnsingh007-ui/transitpulse/internal/metrics"
	"github.com/Johnsingh007-ui/transitpulse/internal/restapi"
	"github.com/Johnsingh007-ui/transitpulse/internal/scheduler"
	"github.com/Johnsingh007-ui/transitpulse/internal/static"
	"github.com/Johnsingh007-ui/transitpulse/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := logging.NewStructuredLogger(os.Stdout, level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer logging.SafeCloseWithLogging(db, logger, "database")

	schedule, err := static.NewManager(ctx, cfg.StaticGTFSSource, logger)
	if err != nil {
		return fmt.Errorf("load static schedule: %w", err)
	}

	hub := broadcast.NewHub(cfg.PingInterval, logger)
	defer hub.Shutdown()

	application := &app.Application{
		Config:     cfg,
		Logger:     logger,
		FeedClient: gtfsrt.NewClient(cfg.FeedTimeout, logger),
		FeedConfig: gtfsrt.FeedConfig{
			AgencyID:            cfg.AgencyID,
			VehiclePositionsURL: cfg.VehiclePositionsURL,
			TripUpdatesURL:      cfg.TripUpdatesURL,
			AuthHeaderKey:       cfg.FeedAuthHeaderKey,
			AuthHeaderValue:     cfg.FeedAuthHeaderValue,
		},
		Vehicles:    store.NewVehicleStore(db),
		Predictions: store.NewPredictionStore(db),
		Schedule:    schedule,
		Fusion:      fusion.NewEngine(schedule, fusion.DefaultConfig(), logger),
		Hub:         hub,
		Metrics:     metrics.NewCollector(cfg.RealtimeInterval, cfg.StaticInterval),
	}

	sched := scheduler.New(logger)
	sched.Add(scheduler.Task{
		Name:     "realtime refresh",
		Interval: cfg.RealtimeInterval,
		Timeout:  cfg.RealtimeInterval,
		Run:      application.RefreshRealtime,
	})
	sched.Add(scheduler.Task{
		Name:     "static refresh",
		Interval: cfg.StaticInterval,
		Timeout:  10 * time.Minute,
		Run:      application.RefreshStatic,
	})
	defer sched.Shutdown()

	api := restapi.NewRestAPI(application)
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     api.Routes(),
		IdleTimeout: time.Minute,
		ReadTimeout: 5 * time.Second,
		// No WriteTimeout: websocket subscriptions are long-lived.
		ErrorLog: slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			slog.String("addr", srv.Addr),
			slog.String("env", cfg.Env),
			slog.String("agency_id", cfg.AgencyID))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
