package breaker

import (
	"log/slog"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // requests pass through; failures accumulate
	StateOpen                  // requests rejected immediately, no network attempt
	StateHalfOpen              // exactly one trial request allowed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Default breaker configuration constants.
const (
	DefaultFailureThreshold = 3
	DefaultCooldown         = 8 * time.Second
	DefaultMaxCooldown      = 60 * time.Second
)

// Config describes breaker thresholds. Zero values fall back to defaults.
type Config struct {
	FailureThreshold int           // consecutive failures before opening
	Cooldown         time.Duration // initial open duration before a half-open trial
	MaxCooldown      time.Duration // cap for the doubling cooldown
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.MaxCooldown <= 0 {
		c.MaxCooldown = DefaultMaxCooldown
	}
	return c
}

// Breaker tracks the health of the remote backend across three states.
// All state is serialized behind a single mutex; it is safe for concurrent
// use by multiple senders and the resync loop.
type Breaker struct {
	mu            sync.Mutex
	cfg           Config
	state         State
	failures      int
	cooldown      time.Duration
	lastFailureAt time.Time
	openedAt      time.Time
	trialInFlight bool

	logger *slog.Logger

	// onTransition is invoked outside the lock after a state change.
	onTransition func(from, to State)

	// now is swappable for tests.
	now func() time.Time
}

// New constructs a closed breaker with the given configuration.
func New(cfg Config, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	c := cfg.withDefaults()
	return &Breaker{
		cfg:      c,
		state:    StateClosed,
		cooldown: c.Cooldown,
		logger:   logger,
		now:      time.Now,
	}
}

// OnTransition registers a callback fired after every state transition.
// Must be set before the breaker is shared between goroutines.
func (b *Breaker) OnTransition(fn func(from, to State)) { b.onTransition = fn }

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Allow reports whether a request may proceed. In the open state before the
// cooldown expires it returns false without side effects. After the cooldown
// the breaker moves to half-open and admits exactly one trial request;
// concurrent callers are rejected until the trial resolves.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return false
		}
		b.state = StateHalfOpen
		b.trialInFlight = true
		cooldown := b.cooldown
		b.mu.Unlock()
		b.logger.Info("circuit breaker half-open, admitting trial request",
			"cooldown", cooldown.String())
		b.fire(StateOpen, StateHalfOpen)
		return true
	case StateHalfOpen:
		if b.trialInFlight {
			b.mu.Unlock()
			return false
		}
		b.trialInFlight = true
		b.mu.Unlock()
		return true
	default:
		b.mu.Unlock()
		return true
	}
}

// RecordSuccess records a successful request. A success in the closed state
// clears transient failure history; a successful half-open trial closes the
// breaker and resets the cooldown to its configured seed.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	prev := b.state
	b.failures = 0
	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.trialInFlight = false
		b.cooldown = b.cfg.Cooldown
	}
	cur := b.state
	b.mu.Unlock()

	if prev == StateHalfOpen && cur == StateClosed {
		b.logger.Info("circuit breaker closed after successful trial")
		b.fire(prev, cur)
	}
}

// CancelTrial releases the half-open trial slot when the admitted request
// resolved without saying anything about backend health, such as a
// credential or payload rejection. The breaker stays half-open and the next
// Allow admits a fresh trial. No-op in every other state.
func (b *Breaker) CancelTrial() {
	b.mu.Lock()
	if b.state == StateHalfOpen {
		b.trialInFlight = false
	}
	b.mu.Unlock()
}

// RecordFailure records a failed request. Reaching the failure threshold in
// the closed state opens the breaker; a failed half-open trial reopens it
// with the cooldown doubled, capped at MaxCooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	prev := b.state
	b.failures++
	b.lastFailureAt = b.now()

	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = b.now()
		b.trialInFlight = false
		b.cooldown *= 2
		if b.cooldown > b.cfg.MaxCooldown {
			b.cooldown = b.cfg.MaxCooldown
		}
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.state = StateOpen
			b.openedAt = b.now()
		}
	}
	cur := b.state
	failures := b.failures
	cooldown := b.cooldown
	b.mu.Unlock()

	if prev != cur {
		if prev == StateHalfOpen {
			b.logger.Warn("circuit breaker reopened after failed trial",
				"cooldown", cooldown.String())
		} else {
			b.logger.Warn("circuit breaker opened",
				"consecutive_failures", failures,
				"threshold", b.cfg.FailureThreshold,
				"cooldown", cooldown.String())
		}
		b.fire(prev, cur)
	}
}

func (b *Breaker) fire(from, to State) {
	if b.onTransition != nil {
		b.onTransition(from, to)
	}
}
