package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/slamon/internal/alertlog"
	"github.com/loykin/slamon/internal/archive"
	"github.com/loykin/slamon/internal/archive/factory"
	"github.com/loykin/slamon/internal/backlog"
	"github.com/loykin/slamon/internal/breaker"
	"github.com/loykin/slamon/internal/collector"
	"github.com/loykin/slamon/internal/config"
	"github.com/loykin/slamon/internal/logger"
	"github.com/loykin/slamon/internal/metrics"
	"github.com/loykin/slamon/internal/remote"
	"github.com/loykin/slamon/internal/server"
	"github.com/loykin/slamon/internal/shipper"
)

// Serve runs the monitoring daemon until SIGINT/SIGTERM.
func Serve(flags ServeFlags) error {
	if flags.ConfigPath == "" {
		return fmt.Errorf("serve requires --config")
	}
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return err
	}
	if flags.Listen != "" {
		cfg.Server.Listen = flags.Listen
	}

	log := logger.New(cfg.LoggerOptions())
	slog.SetDefault(log)

	if cfg.Server.Metrics {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	store, err := backlog.Open(cfg.Backlog.Dir, cfg.RotationOptions(), log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	rc := cfg.RemoteOptions()
	rc.Logger = log
	rem, err := remote.New(rc)
	if err != nil {
		return err
	}

	var sink archive.Sink
	if cfg.Archive.DSN != "" {
		sink, err = factory.NewSinkFromDSN(cfg.Archive.DSN)
		if err != nil {
			return fmt.Errorf("open archive sink: %w", err)
		}
		defer func() { _ = sink.Close() }()
	}

	brk := breaker.New(cfg.BreakerOptions(), log)
	ship, err := shipper.New(shipper.Options{
		Ingestor:       rem,
		Backlog:        store,
		Breaker:        brk,
		Policy:         cfg.RetryOptions(),
		Archive:        sink,
		AttemptTimeout: cfg.Remote.Timeout,
		ResyncInterval: cfg.Resync.Interval,
		Logger:         log,
	})
	if err != nil {
		return err
	}

	alerts := alertlog.New(cfg.AlertLogOptions())
	defer func() { _ = alerts.Close() }()

	col := collector.New(cfg.SLAOptions(), ship, alerts, log)
	_ = col.VerifyIntegration(context.Background(), rem)

	ship.Start()

	stopSweep := make(chan struct{})
	go store.SweepLoop(time.Hour, stopSweep)

	router := server.NewRouter(col, ship, brk, store, rem, "", cfg.Server.Metrics)
	srv := server.NewServer(cfg.Server.Listen, router)
	log.Info("slamon daemon started", "listen", cfg.Server.Listen)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", "signal", sig.String())

	close(stopSweep)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown", "error", err)
	}
	if err := ship.Close(shutdownCtx); err != nil {
		log.Error("shipper close", "error", err)
		return err
	}
	return nil
}
