package client

import (
	"testing"
	"time"
)

func TestCircuitBreaker(t *testing.T) {
	// 3 failures, 100ms timeout
	cb := NewCircuitBreaker(3, 100*time.Millisecond)

	if cb.State() != StateClosed {
		t.Errorf("Expected Closed state, got %v", cb.State())
	}
	if !cb.Allow() {
		t.Error("Should allow requests in Closed state")
	}

	cb.Failure()
	cb.Failure()
	if cb.State() != StateClosed {
		t.Errorf("Should remain Closed after 2 failures")
	}

	cb.Failure()
	if cb.State() != StateOpen {
		t.Errorf("Expected Open state after 3 failures")
	}
	if cb.Allow() {
		t.Error("Should NOT allow requests in Open state")
	}

	time.Sleep(150 * time.Millisecond)

	if !cb.Allow() {
		t.Error("Should allow probe request after timeout")
	}
	if cb.State() != StateHalfOpen {
		t.Errorf("Expected HalfOpen state, got %v", cb.State())
	}
	if cb.Allow() {
		t.Error("Should allow only one probe while HalfOpen")
	}

	// Probe fails: open again
	cb.Failure()
	if cb.State() != StateOpen {
		t.Errorf("Expected Open state after probe failure")
	}

	time.Sleep(150 * time.Millisecond)
	cb.Allow()

	// Probe succeeds: closed
	cb.Success()
	if cb.State() != StateClosed {
		t.Errorf("Expected Closed state after probe success")
	}
	if cb.failures != 0 {
		t.Errorf("Failures should be reset")
	}
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)
	cb.Failure()
	cb.Success()
	cb.Failure()
	if cb.State() != StateClosed {
		t.Errorf("Expected Closed state, non-consecutive failures must not trip")
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
