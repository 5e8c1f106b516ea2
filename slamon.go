// Package slamon monitors support-channel response times against SLA
// thresholds and ships measurements and alerts to a remote telemetry
// backend, with circuit breaking, durable local fallback and backlog
// reconciliation.
package slamon

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/slamon/internal/alertlog"
	"github.com/loykin/slamon/internal/archive"
	"github.com/loykin/slamon/internal/archive/factory"
	"github.com/loykin/slamon/internal/backlog"
	"github.com/loykin/slamon/internal/breaker"
	"github.com/loykin/slamon/internal/collector"
	cfg "github.com/loykin/slamon/internal/config"
	"github.com/loykin/slamon/internal/event"
	"github.com/loykin/slamon/internal/logger"
	"github.com/loykin/slamon/internal/metrics"
	"github.com/loykin/slamon/internal/remote"
	iapi "github.com/loykin/slamon/internal/server"
	"github.com/loykin/slamon/internal/shipper"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Event = event.Event

type Kind = event.Kind

const (
	KindMeasurement = event.KindMeasurement
	KindAlert       = event.KindAlert
)

type SendStatus = shipper.Status

const (
	StatusDelivered = shipper.StatusDelivered
	StatusQueued    = shipper.StatusQueued
)

type ChannelStats = collector.ChannelStats

type Config = cfg.FileConfig

// ArchiveSink mirrors delivered events into a local database.
type ArchiveSink = archive.Sink

// NewEvent creates a telemetry event with a fresh id and UTC timestamp.
func NewEvent(channel string, kind Kind, payload map[string]any) Event {
	return event.New(channel, kind, payload)
}

// LoadConfig reads a TOML configuration file.
func LoadConfig(path string) (*Config, error) {
	return cfg.Load(path)
}

// Monitor is a thin facade over the internal packages. It provides a
// stable public API for embedding the monitor in another program.
type Monitor struct {
	store  *backlog.Store
	rem    *remote.Client
	brk    *breaker.Breaker
	ship   *shipper.Client
	alerts *alertlog.Log
	col    *collector.Collector
	sink   archive.Sink
	log    *slog.Logger
}

// New builds a Monitor from a loaded configuration.
func New(c *Config) (*Monitor, error) {
	log := logger.New(c.LoggerOptions())

	store, err := backlog.Open(c.Backlog.Dir, c.RotationOptions(), log)
	if err != nil {
		return nil, err
	}

	rc := c.RemoteOptions()
	rc.Logger = log
	rem, err := remote.New(rc)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	var sink archive.Sink
	if c.Archive.DSN != "" {
		sink, err = factory.NewSinkFromDSN(c.Archive.DSN)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	brk := breaker.New(c.BreakerOptions(), log)
	ship, err := shipper.New(shipper.Options{
		Ingestor:       rem,
		Backlog:        store,
		Breaker:        brk,
		Policy:         c.RetryOptions(),
		Archive:        sink,
		AttemptTimeout: c.Remote.Timeout,
		ResyncInterval: c.Resync.Interval,
		Logger:         log,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	alerts := alertlog.New(c.AlertLogOptions())
	col := collector.New(c.SLAOptions(), ship, alerts, log)

	return &Monitor{
		store:  store,
		rem:    rem,
		brk:    brk,
		ship:   ship,
		alerts: alerts,
		col:    col,
		sink:   sink,
		log:    log,
	}, nil
}

// NewFromFile is a convenience wrapper around LoadConfig and New.
func NewFromFile(path string) (*Monitor, error) {
	c, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return New(c)
}

// Record registers one response-time sample for a channel.
func (m *Monitor) Record(ctx context.Context, channel string, elapsed float64) error {
	return m.col.Record(ctx, channel, elapsed)
}

// Send ships a pre-built event through the resilient delivery path.
func (m *Monitor) Send(ctx context.Context, ev Event) (SendStatus, error) {
	return m.ship.Send(ctx, ev)
}

// Resync replays unsynced backlog records and returns how many were
// delivered.
func (m *Monitor) Resync(ctx context.Context) (int, error) {
	return m.ship.Resync(ctx)
}

// Start launches the background reconciliation loop.
func (m *Monitor) Start() { m.ship.Start() }

// VerifyIntegration probes the remote ingestion service.
func (m *Monitor) VerifyIntegration(ctx context.Context) error {
	return m.col.VerifyIntegration(ctx, m.rem)
}

// BreakerState returns the current circuit breaker state as a string.
func (m *Monitor) BreakerState() string { return m.brk.State().String() }

// BacklogUnsynced counts records awaiting reconciliation.
func (m *Monitor) BacklogUnsynced() (int, error) { return m.store.UnsyncedCount() }

// Metrics returns per-channel response-time aggregates.
func (m *Monitor) Metrics() map[string]ChannelStats { return m.col.Metrics() }

// Close stops background work, flushes pending records and releases the
// backlog and archive.
func (m *Monitor) Close(ctx context.Context) error {
	err := m.ship.Close(ctx)
	if cerr := m.alerts.Close(); err == nil {
		err = cerr
	}
	if m.sink != nil {
		if cerr := m.sink.Close(); err == nil {
			err = cerr
		}
	}
	if cerr := m.store.Close(); err == nil {
		err = cerr
	}
	return err
}

// NewHTTPServer starts an HTTP server exposing the daemon API for this
// monitor.
func (m *Monitor) NewHTTPServer(addr, basePath string, withMetrics bool) *http.Server {
	r := iapi.NewRouter(m.col, m.ship, m.brk, m.store, m.rem, basePath, withMetrics)
	return iapi.NewServer(addr, r)
}

// Handler returns the daemon API as an http.Handler for mounting in an
// existing server.
func (m *Monitor) Handler(basePath string, withMetrics bool) http.Handler {
	return iapi.NewRouter(m.col, m.ship, m.brk, m.store, m.rem, basePath, withMetrics).Handler()
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
