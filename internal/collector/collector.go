// Package collector records support-channel response times, evaluates them
// against per-channel SLA thresholds and turns the results into telemetry
// events. Every measurement yields a MEASUREMENT event; a violation yields
// an additional ALERT event written to the local alert log as well.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/slamon/internal/alertlog"
	"github.com/loykin/slamon/internal/event"
	"github.com/loykin/slamon/internal/metrics"
	"github.com/loykin/slamon/internal/shipper"
)

// DefaultThreshold is the SLA limit in seconds applied to channels without
// an explicit configuration entry.
const DefaultThreshold = 5.0

// FallbackChannel receives measurements for channels that are not
// configured.
const FallbackChannel = "other"

// Sender ships events; satisfied by shipper.Client.
type Sender interface {
	Send(ctx context.Context, ev event.Event) (shipper.Status, error)
}

// HealthChecker probes the remote ingestion service; satisfied by
// remote.Client.
type HealthChecker interface {
	Health(ctx context.Context) (time.Duration, error)
}

// Config describes the SLA surface.
type Config struct {
	// Channels maps channel name to its SLA threshold in seconds.
	// Measurements for unlisted channels fall back to FallbackChannel.
	Channels map[string]float64
	// DefaultThreshold applies to the fallback channel and to configured
	// channels with a zero threshold.
	DefaultThreshold float64
}

// ChannelStats are the running aggregates kept per channel.
type ChannelStats struct {
	Mean       float64 `json:"mean"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	Count      int     `json:"count"`
	Violations int     `json:"violations"`
}

// Collector evaluates response times and forwards events to the shipper.
// It is safe for concurrent use.
type Collector struct {
	mu         sync.Mutex
	thresholds map[string]float64
	defThresh  float64
	samples    map[string][]float64
	violations map[string]int

	sender Sender
	alerts *alertlog.Log
	logger *slog.Logger
}

// New builds a collector. The alert log may be nil when alert persistence
// is disabled.
func New(cfg Config, sender Sender, alerts *alertlog.Log, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	def := cfg.DefaultThreshold
	if def <= 0 {
		def = DefaultThreshold
	}
	thresholds := make(map[string]float64, len(cfg.Channels))
	for ch, t := range cfg.Channels {
		if t <= 0 {
			t = def
		}
		thresholds[ch] = t
	}
	return &Collector{
		thresholds: thresholds,
		defThresh:  def,
		samples:    make(map[string][]float64),
		violations: make(map[string]int),
		sender:     sender,
		alerts:     alerts,
		logger:     logger,
	}
}

// Record registers one response-time sample. The measurement event is sent
// unconditionally; when the sample exceeds the channel threshold an alert
// event follows it. Delivery problems are the shipper's concern and do not
// fail Record unless the local backlog itself is broken.
func (c *Collector) Record(ctx context.Context, channel string, elapsed float64) error {
	if elapsed < 0 {
		return fmt.Errorf("negative response time %.3f for channel %q", elapsed, channel)
	}
	channel, threshold := c.resolve(channel)

	c.mu.Lock()
	c.samples[channel] = append(c.samples[channel], elapsed)
	above := elapsed > threshold
	if above {
		c.violations[channel]++
	}
	stats := c.statsLocked(channel)
	c.mu.Unlock()

	metrics.IncMeasurement(channel)

	measurement := event.New(channel, event.KindMeasurement, map[string]any{
		"elapsed_seconds": elapsed,
		"sla_threshold":   threshold,
		"above_sla":       above,
		"channel_stats":   stats,
	})
	if _, err := c.sender.Send(ctx, measurement); err != nil {
		return fmt.Errorf("send measurement for channel %q: %w", channel, err)
	}
	if !above {
		return nil
	}

	metrics.IncSLAViolation(channel)
	c.logger.Warn("response time above SLA",
		"channel", channel,
		"elapsed_seconds", elapsed,
		"sla_threshold", threshold)

	alert := event.New(channel, event.KindAlert, map[string]any{
		"elapsed_seconds": elapsed,
		"sla_threshold":   threshold,
		"message": fmt.Sprintf("response time %.2fs on channel %q above SLA of %.2fs",
			elapsed, channel, threshold),
	})
	if err := c.alerts.Write(alert); err != nil {
		c.logger.Error("alert log write failed", "channel", channel, "error", err)
	}
	if _, err := c.sender.Send(ctx, alert); err != nil {
		return fmt.Errorf("send alert for channel %q: %w", channel, err)
	}
	return nil
}

// resolve maps a channel name to its canonical name and threshold.
func (c *Collector) resolve(channel string) (string, float64) {
	if t, ok := c.thresholds[channel]; ok {
		return channel, t
	}
	if channel != FallbackChannel {
		c.logger.Warn("unrecognized channel, recording under fallback",
			"channel", channel, "fallback", FallbackChannel)
	}
	return FallbackChannel, c.defThresh
}

// Metrics returns a snapshot of the per-channel aggregates.
func (c *Collector) Metrics() map[string]ChannelStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]ChannelStats, len(c.samples))
	for ch := range c.samples {
		out[ch] = c.statsLocked(ch)
	}
	return out
}

func (c *Collector) statsLocked(channel string) ChannelStats {
	ts := c.samples[channel]
	if len(ts) == 0 {
		return ChannelStats{}
	}
	st := ChannelStats{Min: ts[0], Max: ts[0], Count: len(ts), Violations: c.violations[channel]}
	var sum float64
	for _, t := range ts {
		sum += t
		if t < st.Min {
			st.Min = t
		}
		if t > st.Max {
			st.Max = t
		}
	}
	st.Mean = sum / float64(len(ts))
	return st
}

// VerifyIntegration probes the remote ingestion service and logs the
// outcome. A failed probe is reported but does not abort startup; the
// shipper's backlog covers the gap.
func (c *Collector) VerifyIntegration(ctx context.Context, hc HealthChecker) error {
	latency, err := hc.Health(ctx)
	if err != nil {
		c.logger.Warn("remote ingestion health check failed", "error", err)
		return err
	}
	c.logger.Info("remote ingestion reachable", "latency", latency.String())
	return nil
}
