// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryWithBackoff_SucceedsFirstAttempt(t *testing.T) {
	t.Parallel()
	calls := 0
	err := RetryWithBackoff(context.Background(), 3, 10*time.Millisecond, func(attempt int) (bool, error) {
		calls++
		return false, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestRetryWithBackoff_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	calls := 0
	err := RetryWithBackoff(context.Background(), 5, 10*time.Millisecond, func(attempt int) (bool, error) {
		calls++
		if attempt < 2 {
			return true, errors.New("transient")
		}
		return false, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryWithBackoff_ExhaustsRetries(t *testing.T) {
	t.Parallel()
	calls := 0
	err := RetryWithBackoff(context.Background(), 3, time.Millisecond, func(attempt int) (bool, error) {
		calls++
		return true, errors.New("always transient")
	})
	if err == nil || err.Error() != "always transient" {
		t.Fatalf("expected last error, got: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryWithBackoff_ContextCancelledBetweenRetries(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RetryWithBackoff(ctx, 5, 10*time.Millisecond, func(attempt int) (bool, error) {
		calls++
		if attempt == 0 {
			cancel()
			return true, errors.New("transient")
		}
		t.Fatal("should not reach second attempt")
		return false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestRetryWithBackoff_ContextCancelledDuringSleep(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := RetryWithBackoff(ctx, 3, time.Hour, func(int) (bool, error) {
		return true, errors.New("transient")
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got: %v", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatal("backoff sleep ignored cancellation")
	}
}

func TestRetryWithBackoff_NonTransientExitsImmediately(t *testing.T) {
	t.Parallel()
	calls := 0
	permanentErr := errors.New("permanent")
	err := RetryWithBackoff(context.Background(), 5, 10*time.Millisecond, func(attempt int) (bool, error) {
		calls++
		return false, permanentErr
	})
	if !errors.Is(err, permanentErr) {
		t.Fatalf("expected permanent error, got: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestRetryWithBackoff_BackoffTiming(t *testing.T) {
	t.Parallel()
	start := time.Now()
	_ = RetryWithBackoff(context.Background(), 3, 50*time.Millisecond, func(attempt int) (bool, error) {
		return true, errors.New("retry")
	})
	// 50ms (attempt 0->1) + 100ms (attempt 1->2).
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("expected at least 100ms of backoff, got %v", elapsed)
	}
}
