package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient error")

func testConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
	}
}

func TestRetry_SuccessOnFirstAttempt(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), testConfig(), func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got: %d", attempts)
	}
}

func TestRetry_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), testConfig(), func() error {
		attempts++
		if attempts < 3 {
			return errTransient
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got: %d", attempts)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), testConfig(), func() error {
		attempts++
		return errTransient
	})

	if !errors.Is(err, errTransient) {
		t.Errorf("Expected wrapped transient error, got: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got: %d", attempts)
	}
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := Retry(ctx, testConfig(), func() error {
		attempts++
		cancel()
		return errTransient
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context cancellation, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt before cancellation, got: %d", attempts)
	}
}

func TestDelay_GrowsAndCaps(t *testing.T) {
	cfg := testConfig()

	if d := delay(cfg, 0); d != 5*time.Millisecond {
		t.Errorf("Expected 5ms first delay, got: %v", d)
	}
	if d := delay(cfg, 1); d != 10*time.Millisecond {
		t.Errorf("Expected 10ms second delay, got: %v", d)
	}
	if d := delay(cfg, 10); d != cfg.MaxDelay {
		t.Errorf("Expected delay capped at %v, got: %v", cfg.MaxDelay, d)
	}
}

func TestDelay_JitterStaysInBounds(t *testing.T) {
	cfg := testConfig()
	cfg.Jitter = true

	for i := 0; i < 100; i++ {
		d := delay(cfg, 1)
		if d < 7500*time.Microsecond || d > 12500*time.Microsecond {
			t.Fatalf("Jittered delay out of bounds: %v", d)
		}
	}
}
