package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := New(Config{
		FailureThreshold:    3,
		SuccessThreshold:    1,
		Timeout:             time.Minute,
		MaxRequestsHalfOpen: 1,
	})

	ctx := context.Background()
	fail := func() error { return errBoom }

	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, fail); err == nil {
			t.Fatal("Expected error from failing call")
		}
	}

	if cb.GetState() != StateOpen {
		t.Errorf("Expected open state, got: %s", cb.GetState())
	}

	// An open breaker rejects without running the function.
	calls := 0
	err := cb.Execute(ctx, func() error {
		calls++
		return nil
	})
	if err == nil {
		t.Error("Expected rejection while open")
	}
	if calls != 0 {
		t.Errorf("Expected 0 calls while open, got: %d", calls)
	}
}

func TestCircuitBreaker_RecoversThroughHalfOpen(t *testing.T) {
	cb := New(Config{
		FailureThreshold:    1,
		SuccessThreshold:    1,
		Timeout:             10 * time.Millisecond,
		MaxRequestsHalfOpen: 1,
	})

	ctx := context.Background()
	if err := cb.Execute(ctx, func() error { return errBoom }); err == nil {
		t.Fatal("Expected error")
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("Expected open state, got: %s", cb.GetState())
	}

	time.Sleep(20 * time.Millisecond)

	if err := cb.Execute(ctx, func() error { return nil }); err != nil {
		t.Fatalf("Expected success in half-open, got: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected closed state after recovery, got: %s", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := New(Config{
		FailureThreshold:    1,
		SuccessThreshold:    2,
		Timeout:             10 * time.Millisecond,
		MaxRequestsHalfOpen: 1,
	})

	ctx := context.Background()
	cb.Execute(ctx, func() error { return errBoom })
	time.Sleep(20 * time.Millisecond)

	if err := cb.Execute(ctx, func() error { return errBoom }); err == nil {
		t.Fatal("Expected error")
	}
	if cb.GetState() != StateOpen {
		t.Errorf("Expected reopened state, got: %s", cb.GetState())
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := New(Config{
		FailureThreshold:    2,
		SuccessThreshold:    1,
		Timeout:             time.Minute,
		MaxRequestsHalfOpen: 1,
	})

	ctx := context.Background()
	cb.Execute(ctx, func() error { return errBoom })
	cb.Execute(ctx, func() error { return nil })
	cb.Execute(ctx, func() error { return errBoom })

	if cb.GetState() != StateClosed {
		t.Errorf("Expected closed state, got: %s", cb.GetState())
	}
}

func TestState_String(t *testing.T) {
	if StateClosed.String() != "closed" || StateOpen.String() != "open" || StateHalfOpen.String() != "half-open" {
		t.Error("Unexpected state names")
	}
}
