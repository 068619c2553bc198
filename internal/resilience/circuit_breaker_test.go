package resilience

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// newTestBreaker returns a breaker on a manual clock
func newTestBreaker(maxFailures int, resetTimeout time.Duration) (*CircuitBreaker, *time.Time) {
	now := time.Unix(1700000000, 0)
	cb := NewCircuitBreaker("upstream", maxFailures, resetTimeout, zerolog.New(io.Discard))
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestCircuitBreaker_StateClosed(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	if cb.GetState() != StateClosed {
		t.Errorf("Expected initial state to be closed, got %s", cb.GetState())
	}
	if !cb.allowRequest() {
		t.Error("Expected to allow request in closed state")
	}
}

func TestCircuitBreaker_OpenAfterFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	cb.RecordResult(false)
	cb.RecordResult(false)
	if cb.GetState() != StateClosed {
		t.Error("Expected state to still be closed after 2 failures")
	}

	cb.RecordResult(false)
	if cb.GetState() != StateOpen {
		t.Error("Expected state to be open after 3 failures")
	}

	calls := 0
	err := cb.Call(func() error { calls++; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if calls != 0 {
		t.Error("Expected guarded function not to run while open")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	cb.RecordResult(false)
	cb.RecordResult(false)
	cb.RecordResult(true)
	cb.RecordResult(false)
	cb.RecordResult(false)

	if cb.GetState() != StateClosed {
		t.Error("Expected failures to be counted consecutively")
	}
}

func TestCircuitBreaker_HalfOpenSingleProbe(t *testing.T) {
	cb, now := newTestBreaker(1, 100*time.Millisecond)

	cb.RecordResult(false)
	*now = now.Add(150 * time.Millisecond)

	if !cb.allowRequest() {
		t.Fatal("Expected a probe after the reset timeout")
	}
	if cb.GetState() != StateHalfOpen {
		t.Errorf("Expected half_open, got %s", cb.GetState())
	}
	if cb.allowRequest() {
		t.Error("Expected a second concurrent probe to be refused")
	}
}

func TestCircuitBreaker_CloseAfterSuccessfulProbe(t *testing.T) {
	cb, now := newTestBreaker(2, 100*time.Millisecond)

	cb.RecordResult(false)
	cb.RecordResult(false)
	*now = now.Add(150 * time.Millisecond)

	if err := cb.Call(func() error { return nil }); err != nil {
		t.Fatalf("Expected probe to run, got %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected closed after successful probe, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_ReopenAfterFailedProbe(t *testing.T) {
	cb, now := newTestBreaker(2, 100*time.Millisecond)

	cb.RecordResult(false)
	cb.RecordResult(false)
	*now = now.Add(150 * time.Millisecond)

	dialErr := errors.New("connection refused")
	if err := cb.Call(func() error { return dialErr }); !errors.Is(err, dialErr) {
		t.Fatalf("Expected probe error, got %v", err)
	}
	if cb.GetState() != StateOpen {
		t.Errorf("Expected open after failed probe, got %s", cb.GetState())
	}
	if cb.allowRequest() {
		t.Error("Expected the reset timeout to restart after a failed probe")
	}
}

func TestCircuitBreaker_HealthCheck(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Second)

	if ok, err := cb.HealthCheck(context.Background()); !ok || err != nil {
		t.Errorf("Expected healthy when closed, got %v %v", ok, err)
	}

	cb.RecordResult(false)
	if ok, err := cb.HealthCheck(context.Background()); ok || !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected unhealthy when open, got %v %v", ok, err)
	}
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb, _ := newTestBreaker(5, time.Second)

	cb.RecordResult(true)
	cb.RecordResult(false)
	cb.RecordResult(true)
	cb.RecordResult(false)

	state, requests, failures, rate := cb.GetStats()
	if state != StateClosed {
		t.Errorf("Expected closed, got %s", state)
	}
	if requests != 4 || failures != 2 {
		t.Errorf("Expected 4 requests and 2 failures, got %d and %d", requests, failures)
	}
	if rate != 50 {
		t.Errorf("Expected failure rate 50, got %f", rate)
	}
}
