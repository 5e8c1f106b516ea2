// Package shipper implements resilient delivery of telemetry events to the
// remote ingestion service. Failed deliveries fall back to the durable
// backlog and are reconciled later; a circuit breaker keeps the hot path
// fast while the remote is down. No event is ever silently dropped.
package shipper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/slamon/internal/archive"
	"github.com/loykin/slamon/internal/backlog"
	"github.com/loykin/slamon/internal/breaker"
	"github.com/loykin/slamon/internal/event"
	"github.com/loykin/slamon/internal/metrics"
	"github.com/loykin/slamon/internal/remote"
	"github.com/loykin/slamon/internal/retry"
)

// Status reports where an event ended up after Send.
type Status int

const (
	// StatusDelivered means the remote service acknowledged the event.
	StatusDelivered Status = iota
	// StatusQueued means the event was written to the local backlog and
	// will be delivered by a later reconciliation cycle.
	StatusQueued
)

func (s Status) String() string {
	if s == StatusDelivered {
		return "delivered"
	}
	return "queued"
}

// Queue reasons reported via metrics.
const (
	reasonBreakerOpen      = "breaker_open"
	reasonRetriesExhausted = "retries_exhausted"
	reasonRemoteRejected   = "remote_rejected"
	reasonAuthFailed       = "auth_failed"
)

// Default timings and limits.
const (
	DefaultResyncInterval = 30 * time.Second
	DefaultHoldingLimit   = 256
)

var (
	// ErrClosed is returned by Send after Close has been called.
	ErrClosed = errors.New("shipper is closed")
	// ErrLocalStore wraps backlog write failures. Events hit by it are held
	// in memory and flushed to the backlog on a later cycle.
	ErrLocalStore = errors.New("local backlog write failed")
)

// Options configures a Client. Ingestor, Backlog and Breaker are required.
type Options struct {
	Ingestor remote.Ingestor
	Backlog  *backlog.Store
	Breaker  *breaker.Breaker
	Policy   retry.Policy
	Archive  archive.Sink // optional mirror of delivered events

	AttemptTimeout time.Duration // per delivery attempt (default remote.DefaultTimeout)
	ResyncInterval time.Duration // background reconciliation period (default 30s)
	HoldingLimit   int           // in-memory records kept when the backlog itself fails

	Logger *slog.Logger
}

// Client ships events with retry, breaker gating and backlog fallback.
// It is safe for concurrent use.
type Client struct {
	ingestor remote.Ingestor
	store    *backlog.Store
	brk      *breaker.Breaker
	policy   retry.Policy
	sink     archive.Sink
	logger   *slog.Logger

	attemptTimeout time.Duration
	resyncInterval time.Duration
	holdingLimit   int

	mu      sync.Mutex
	holding []event.Record
	closed  bool

	resyncMu sync.Mutex // one reconciliation cycle at a time

	wg     sync.WaitGroup
	stopCh chan struct{}
	kickCh chan struct{}
	loopWG sync.WaitGroup
	loopOn bool

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New wires a Client. It registers itself as the breaker transition
// observer: transitions are exported as metrics and a close transition
// triggers an immediate reconciliation cycle.
func New(o Options) (*Client, error) {
	if o.Ingestor == nil {
		return nil, errors.New("shipper: nil ingestor")
	}
	if o.Backlog == nil {
		return nil, errors.New("shipper: nil backlog store")
	}
	if o.Breaker == nil {
		return nil, errors.New("shipper: nil breaker")
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = remote.DefaultTimeout
	}
	if o.ResyncInterval <= 0 {
		o.ResyncInterval = DefaultResyncInterval
	}
	if o.HoldingLimit <= 0 {
		o.HoldingLimit = DefaultHoldingLimit
	}
	c := &Client{
		ingestor:       o.Ingestor,
		store:          o.Backlog,
		brk:            o.Breaker,
		policy:         o.Policy,
		sink:           o.Archive,
		logger:         o.Logger,
		attemptTimeout: o.AttemptTimeout,
		resyncInterval: o.ResyncInterval,
		holdingLimit:   o.HoldingLimit,
		stopCh:         make(chan struct{}),
		kickCh:         make(chan struct{}, 1),
		sleep:          sleepCtx,
	}
	c.brk.OnTransition(c.onBreakerTransition)
	return c, nil
}

func (c *Client) onBreakerTransition(from, to breaker.State) {
	metrics.IncBreakerTransition(from.String(), to.String())
	for _, st := range []breaker.State{breaker.StateClosed, breaker.StateOpen, breaker.StateHalfOpen} {
		metrics.SetBreakerState(st.String(), st == to)
	}
	if to == breaker.StateClosed {
		select {
		case c.kickCh <- struct{}{}:
		default:
		}
	}
}

// Send delivers one event. Delivery is attempted up to the policy's total
// tries with exponential backoff between attempts; when the breaker is open
// or every attempt fails with a retriable error, the event is written to
// the backlog and StatusQueued is returned with a nil error. Non-retriable
// failures also queue the event but surface the error to the caller.
func (c *Client) Send(ctx context.Context, ev event.Event) (Status, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return StatusQueued, ErrClosed
	}
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	if !c.brk.Allow() {
		return c.queue(ev, 0, reasonBreakerOpen, nil)
	}

	tries := c.policy.TotalTries()
	for attempt := 1; attempt <= tries; attempt++ {
		err := c.attempt(ctx, ev)
		if err == nil {
			c.brk.RecordSuccess()
			metrics.IncDelivered(string(ev.Kind))
			c.forward(ctx, ev)
			return StatusDelivered, nil
		}

		if !remote.Retriable(err) {
			// Credential and payload problems are not the remote being
			// down, so they never feed the breaker and are not retried.
			// A half-open trial slot held by this attempt is released so
			// the next send can probe the remote again.
			c.brk.CancelTrial()
			reason := reasonRemoteRejected
			if remote.KindOf(err) == remote.ErrorAuth {
				reason = reasonAuthFailed
			}
			return c.queue(ev, attempt, reason, err)
		}

		if ctx.Err() != nil {
			// The caller gave up, which says nothing about remote health.
			c.brk.CancelTrial()
			return c.queue(ev, attempt, reasonRetriesExhausted, nil)
		}

		c.brk.RecordFailure()
		c.logger.Warn("delivery attempt failed",
			"event_id", ev.ID, "channel", ev.Channel,
			"attempt", attempt, "error", err)

		if c.brk.State() == breaker.StateOpen {
			return c.queue(ev, attempt, reasonBreakerOpen, nil)
		}
		if attempt < tries {
			if serr := c.sleep(ctx, c.policy.NextDelay(attempt)); serr != nil {
				return c.queue(ev, attempt, reasonRetriesExhausted, nil)
			}
		}
	}
	return c.queue(ev, tries, reasonRetriesExhausted, nil)
}

// attempt performs a single delivery with its own timeout and records the
// observed duration.
func (c *Client) attempt(ctx context.Context, ev event.Event) error {
	actx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()
	start := time.Now()
	err := c.ingestor.Ingest(actx, ev)
	metrics.ObserveSendDuration(time.Since(start).Seconds())
	return err
}

// forward mirrors a delivered event into the archive sink, best effort.
func (c *Client) forward(ctx context.Context, ev event.Event) {
	if c.sink == nil {
		return
	}
	if err := c.sink.Send(ctx, ev); err != nil {
		c.logger.Warn("archive sink write failed", "event_id", ev.ID, "error", err)
	}
}

// queue writes the event to the backlog. sendErr, when non-nil, is the
// delivery error to surface alongside the queued status.
func (c *Client) queue(ev event.Event, attempts int, reason string, sendErr error) (Status, error) {
	rec := event.Record{Event: ev, AttemptCount: attempts}
	if err := c.store.Append(rec); err != nil {
		c.hold(rec, err)
		if sendErr != nil {
			return StatusQueued, fmt.Errorf("%w: %w (after %w)", ErrLocalStore, err, sendErr)
		}
		return StatusQueued, fmt.Errorf("%w: %w", ErrLocalStore, err)
	}
	metrics.IncQueued(reason)
	c.logger.Info("event queued to backlog",
		"event_id", ev.ID, "channel", ev.Channel, "reason", reason)
	return StatusQueued, sendErr
}

// hold keeps a record in memory after the backlog itself failed. The buffer
// is bounded; when full the record is dropped and logged loudly, which is
// the only path where data can be lost.
func (c *Client) hold(rec event.Record, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.holding) >= c.holdingLimit {
		c.logger.Error("CRITICAL: backlog unavailable and holding buffer full, dropping event",
			"event_id", rec.ID, "error", cause)
		return
	}
	c.holding = append(c.holding, rec)
	c.logger.Error("CRITICAL: backlog write failed, event held in memory",
		"event_id", rec.ID, "held", len(c.holding), "error", cause)
}

// flushHolding retries backlog writes for held records.
func (c *Client) flushHolding() {
	c.mu.Lock()
	held := c.holding
	c.holding = nil
	c.mu.Unlock()
	for i, rec := range held {
		if err := c.store.Append(rec); err != nil {
			c.mu.Lock()
			c.holding = append(held[i:], c.holding...)
			c.mu.Unlock()
			return
		}
	}
}

// Resync replays unsynced backlog records in stored order, oldest first.
// It stops at the first retriable failure so ordering is preserved, and
// returns the number of records delivered in this cycle. Records the
// remote permanently rejects are tombstoned and logged instead of wedging
// the backlog.
func (c *Client) Resync(ctx context.Context) (int, error) {
	c.resyncMu.Lock()
	defer c.resyncMu.Unlock()

	c.flushHolding()

	sc, err := c.store.ScanUnsynced()
	if err != nil {
		return 0, err
	}
	defer func() { _ = sc.Close() }()

	synced := 0
	for sc.Next() {
		if err := ctx.Err(); err != nil {
			return synced, err
		}
		if !c.brk.Allow() {
			c.logger.Info("resync paused, circuit breaker open", "synced", synced)
			return synced, nil
		}
		rec := sc.Record()
		if err := c.attempt(ctx, rec.Event); err != nil {
			if remote.KindOf(err) == remote.ErrorRejected {
				c.brk.CancelTrial()
				c.logger.Warn("remote permanently rejected backlog record, discarding",
					"event_id", rec.ID, "error", err)
				if merr := c.store.MarkSynced(rec.ID); merr != nil {
					return synced, fmt.Errorf("%w: %w", ErrLocalStore, merr)
				}
				continue
			}
			if remote.Retriable(err) && ctx.Err() == nil {
				c.brk.RecordFailure()
			} else {
				c.brk.CancelTrial()
			}
			metrics.IncResyncFailure()
			c.logger.Warn("resync stopped by delivery failure",
				"event_id", rec.ID, "synced", synced, "error", err)
			c.updateBacklogGauge()
			return synced, err
		}
		c.brk.RecordSuccess()
		if err := c.store.MarkSynced(rec.ID); err != nil {
			return synced, fmt.Errorf("%w: %w", ErrLocalStore, err)
		}
		metrics.IncResyncSynced()
		c.forward(ctx, rec.Event)
		synced++
	}
	if err := sc.Err(); err != nil {
		return synced, err
	}
	if synced > 0 {
		c.logger.Info("resync cycle complete", "synced", synced)
	}
	c.updateBacklogGauge()
	return synced, nil
}

func (c *Client) updateBacklogGauge() {
	if n, err := c.store.UnsyncedCount(); err == nil {
		metrics.SetBacklogUnsynced(n)
	}
}

// Start launches the background reconciliation loop. The loop runs a cycle
// every ResyncInterval and immediately after the breaker closes.
func (c *Client) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loopOn || c.closed {
		return
	}
	c.loopOn = true
	c.loopWG.Add(1)
	go c.loop()
}

func (c *Client) loop() {
	defer c.loopWG.Done()
	ticker := time.NewTicker(c.resyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
		case <-c.kickCh:
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.resyncInterval)
		if _, err := c.Resync(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Debug("background resync cycle failed", "error", err)
		}
		cancel()
	}
}

// Close stops the background loop, waits for in-flight sends until the
// context expires and flushes memory-held records to the backlog.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	loopOn := c.loopOn
	c.mu.Unlock()

	close(c.stopCh)
	if loopOn {
		c.loopWG.Wait()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.flushHolding()
	c.mu.Lock()
	held := len(c.holding)
	c.mu.Unlock()
	if held > 0 {
		return fmt.Errorf("%w: %d records still held in memory", ErrLocalStore, held)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
