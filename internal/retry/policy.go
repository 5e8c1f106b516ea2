// Package retry computes bounded exponential backoff for a single send
// operation. The documented 1s/2s/4s/8s schedule is interpreted as three
// retries after the initial attempt (delays 1s, 2s, 4s); the trailing 8s
// value seeds the circuit breaker cooldown instead of a fourth retry.
package retry

import "time"

// Default policy constants.
const (
	DefaultBaseDelay   = time.Second
	DefaultMaxAttempts = 3
)

// Policy computes retry counts and delays.
type Policy struct {
	BaseDelay   time.Duration // delay before the first retry
	MaxAttempts int           // retries after the initial attempt
}

// Default returns the 1s/2s/4s policy.
func Default() Policy {
	return Policy{BaseDelay: DefaultBaseDelay, MaxAttempts: DefaultMaxAttempts}
}

func (p Policy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

// TotalTries returns the total number of delivery attempts including the
// initial one.
func (p Policy) TotalTries() int { return p.maxAttempts() + 1 }

// NextDelay returns the delay to sleep after the given failed attempt
// (1-based): base, 2*base, 4*base, ...
func (p Policy) NextDelay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}
