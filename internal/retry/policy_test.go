package retry

import (
	"testing"
	"time"
)

func TestBackoffSchedule(t *testing.T) {
	p := Default()
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for i, w := range want {
		if got := p.NextDelay(i + 1); got != w {
			t.Fatalf("NextDelay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestTotalTries(t *testing.T) {
	if got := Default().TotalTries(); got != 4 {
		t.Fatalf("TotalTries = %d, want 4", got)
	}
	p := Policy{MaxAttempts: 1}
	if got := p.TotalTries(); got != 2 {
		t.Fatalf("TotalTries with 1 retry = %d, want 2", got)
	}
}

func TestCustomBase(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxAttempts: 3}
	if got := p.NextDelay(3); got != 400*time.Millisecond {
		t.Fatalf("NextDelay(3) = %v, want 400ms", got)
	}
}

func TestZeroValueFallsBackToDefaults(t *testing.T) {
	var p Policy
	if got := p.NextDelay(1); got != time.Second {
		t.Fatalf("zero-value NextDelay(1) = %v, want 1s", got)
	}
	if got := p.TotalTries(); got != 4 {
		t.Fatalf("zero-value TotalTries = %d, want 4", got)
	}
}
