package breaker

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func newTestBreaker(cfg Config) (*Breaker, *time.Time) {
	b := New(cfg, nil)
	now := time.Unix(1700000000, 0)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestOpensAfterThresholdFailures(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3, Cooldown: 8 * time.Second})
	for i := 0; i < 2; i++ {
		b.RecordFailure()
		if b.State() != StateClosed {
			t.Fatalf("breaker opened too early after %d failures", i+1)
		}
	}
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("breaker not open after threshold failures: %v", b.State())
	}
	if b.Allow() {
		t.Fatalf("Allow returned true while open before cooldown")
	}
}

func TestAllowBlockedUntilCooldown(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 1, Cooldown: 8 * time.Second})
	b.RecordFailure()

	*now = now.Add(7 * time.Second)
	if b.Allow() {
		t.Fatalf("Allow returned true before cooldown elapsed")
	}
	*now = now.Add(2 * time.Second)
	if !b.Allow() {
		t.Fatalf("Allow returned false after cooldown elapsed")
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open after cooldown, got %v", b.State())
	}
}

func TestHalfOpenSingleTrial(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 1, Cooldown: time.Second})
	b.RecordFailure()
	*now = now.Add(2 * time.Second)

	allowed := 0
	for i := 0; i < 5; i++ {
		if b.Allow() {
			allowed++
		}
	}
	if allowed != 1 {
		t.Fatalf("half-open admitted %d requests, want exactly 1", allowed)
	}

	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("breaker not closed after successful trial: %v", b.State())
	}
	if !b.Allow() {
		t.Fatalf("Allow returned false after breaker closed")
	}
}

func TestFailedTrialDoublesCooldown(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 1, Cooldown: 8 * time.Second, MaxCooldown: 30 * time.Second})
	b.RecordFailure()
	*now = now.Add(9 * time.Second)
	if !b.Allow() {
		t.Fatalf("trial not admitted after cooldown")
	}
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("breaker not reopened after failed trial: %v", b.State())
	}

	// Cooldown doubled to 16s: still blocked at +15s, admitted at +17s.
	*now = now.Add(15 * time.Second)
	if b.Allow() {
		t.Fatalf("Allow returned true before doubled cooldown elapsed")
	}
	*now = now.Add(2 * time.Second)
	if !b.Allow() {
		t.Fatalf("Allow returned false after doubled cooldown elapsed")
	}

	// A second failed trial caps at MaxCooldown (30s), not 32s.
	b.RecordFailure()
	*now = now.Add(31 * time.Second)
	if !b.Allow() {
		t.Fatalf("Allow returned false after capped cooldown elapsed")
	}
}

func TestSuccessResetsFailureCountWhileClosed(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3})
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	if got := b.Failures(); got != 0 {
		t.Fatalf("failure count not reset by success: %d", got)
	}
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatalf("breaker opened despite reset failure history")
	}
}

func TestTransitionCallback(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 1, Cooldown: time.Second})
	var mu sync.Mutex
	var transitions [][2]State
	b.OnTransition(func(from, to State) {
		mu.Lock()
		transitions = append(transitions, [2]State{from, to})
		mu.Unlock()
	})

	b.RecordFailure()
	*now = now.Add(2 * time.Second)
	b.Allow()
	b.RecordSuccess()

	mu.Lock()
	defer mu.Unlock()
	want := [][2]State{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}
	if len(transitions) != len(want) {
		t.Fatalf("got %d transitions, want %d: %v", len(transitions), len(want), transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transition %d = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestCancelTrialReleasesSlot(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 1, Cooldown: time.Second})
	b.RecordFailure()
	*now = now.Add(2 * time.Second)
	if !b.Allow() {
		t.Fatalf("trial not admitted after cooldown")
	}
	if b.Allow() {
		t.Fatalf("second trial admitted while first in flight")
	}

	// The trial resolved without a verdict on backend health, for example
	// the remote rejected the credentials. The slot must come back so a
	// later request can probe the remote again.
	b.CancelTrial()
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v after cancelled trial, want half-open", b.State())
	}
	if !b.Allow() {
		t.Fatalf("Allow returned false after trial slot released")
	}
	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("breaker not closed after successful retrial: %v", b.State())
	}
}

func TestCancelTrialNoOpOutsideHalfOpen(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 2, Cooldown: time.Second})
	b.CancelTrial()
	if b.State() != StateClosed || !b.Allow() {
		t.Fatalf("CancelTrial disturbed a closed breaker: %v", b.State())
	}
	b.RecordFailure()
	b.RecordFailure()
	b.CancelTrial()
	if b.State() != StateOpen || b.Allow() {
		t.Fatalf("CancelTrial disturbed an open breaker: %v", b.State())
	}
}

func TestConcurrentRecordFailure(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 1000})
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.RecordFailure()
				b.Allow()
			}
		}()
	}
	wg.Wait()
	if got := b.Failures(); got != 500 {
		t.Fatalf("lost failure increments: got %d, want 500", got)
	}
}

// Drives every transition path from several goroutines at once, including
// the half-open admission that logs the current cooldown while a failed
// trial may be doubling it. Run with -race.
func TestConcurrentStateChurn(t *testing.T) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := New(Config{FailureThreshold: 1, Cooldown: time.Microsecond, MaxCooldown: 2 * time.Microsecond}, quiet)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if !b.Allow() {
					b.CancelTrial()
					continue
				}
				if (seed+j)%2 == 0 {
					b.RecordFailure()
				} else {
					b.RecordSuccess()
				}
			}
		}(i)
	}
	wg.Wait()

	if s := b.State(); s != StateClosed && s != StateOpen && s != StateHalfOpen {
		t.Fatalf("invalid state after churn: %v", s)
	}
}
