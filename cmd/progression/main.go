// Package main runs the progression layer API server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	app "github.com/Elevate-App/progression_layer/internal/app"
	"github.com/Elevate-App/progression_layer/internal/app/httpapi"
	"github.com/Elevate-App/progression_layer/internal/app/metrics"
	"github.com/Elevate-App/progression_layer/internal/app/storage/postgres"
	"github.com/Elevate-App/progression_layer/internal/app/storage/supabase"
	"github.com/Elevate-App/progression_layer/internal/config"
	"github.com/Elevate-App/progression_layer/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/progression.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}).WithField("component", "progression")

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("server exited")
		os.Exit(1)
	}
}

func run(cfg config.Config, log *logger.Logger) error {
	stores, cleanup, err := buildStores(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	opts := app.Options{
		YieldSchedule: cfg.Yield.Schedule,
		NotifyURL:     cfg.Notify.URL,
		NotifyKey:     cfg.Notify.APIKey,
	}
	if cfg.Yield.DailyRate != "" {
		rate, err := decimal.NewFromString(cfg.Yield.DailyRate)
		if err != nil {
			return fmt.Errorf("parse yield daily rate: %w", err)
		}
		opts.DailyRate = rate
	}

	application, err := app.New(stores, opts, log)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	mux := http.NewServeMux()
	api := httpapi.NewHandler(application)
	if cfg.Server.RateLimitRPS > 0 {
		api = httpapi.RateLimit(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, api)
	}
	mux.Handle("/", metrics.InstrumentHandler(api))
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case sig := <-stop:
		log.WithField("signal", sig.String()).Info("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown incomplete")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("service shutdown incomplete")
	}
	return nil
}

// buildStores selects the persistence backend. The returned cleanup closes
// any underlying connections.
func buildStores(cfg config.Config, log *logger.Logger) (app.Stores, func(), error) {
	noop := func() {}

	switch cfg.Store.Backend {
	case "postgres":
		db, err := sql.Open("postgres", cfg.Store.DSN)
		if err != nil {
			return app.Stores{}, noop, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)

		if err := db.Ping(); err != nil {
			db.Close()
			return app.Stores{}, noop, fmt.Errorf("ping postgres: %w", err)
		}
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return app.Stores{}, noop, fmt.Errorf("migrate: %w", err)
		}
		log.Info("using postgres store")

		store := postgres.New(db)
		return app.Stores{
			Balances: store,
			Journal:  store,
			Tasks:    store,
			Events:   store,
		}, func() { db.Close() }, nil

	case "supabase":
		client, err := supabase.NewClient(supabase.Config{
			URL:        cfg.Supabase.URL,
			ServiceKey: cfg.Supabase.ServiceKey,
			Timeout:    cfg.Supabase.Timeout,
		})
		if err != nil {
			return app.Stores{}, noop, fmt.Errorf("supabase client: %w", err)
		}
		log.Info("using supabase store")

		store := supabase.NewStore(client)
		return app.Stores{
			Balances: store,
			Journal:  store,
			Tasks:    store,
			Events:   store,
		}, noop, nil

	default:
		log.Info("using in-memory store")
		return app.Stores{}, noop, nil
	}
}
