// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"fmt"
	"time"
)

// DefaultBuildAttempts bounds transient build retries.
const DefaultBuildAttempts = 3

// RetryWithBackoff retries op up to maxAttempts times with exponential backoff.
// It checks ctx between retries and while sleeping, so cancellation is
// honored immediately.
//
// op returns (shouldRetry bool, err error). If shouldRetry is false, err is
// returned immediately (nil on success, non-nil on permanent failure).
// On retry exhaustion, the last error is returned.
func RetryWithBackoff(
	ctx context.Context,
	maxAttempts int,
	baseBackoff time.Duration,
	op func(attempt int) (retry bool, err error),
) error {
	var lastErr error
	for attempt := range maxAttempts {
		if attempt > 0 {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("retry aborted: %w", err)
			}
			timer := time.NewTimer(baseBackoff * time.Duration(1<<(attempt-1)))
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("retry aborted: %w", ctx.Err())
			case <-timer.C:
			}
		}

		retry, err := op(attempt)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// BuildWithRetry runs engine.Build, retrying only transient failures.
func BuildWithRetry(ctx context.Context, engine Engine, opts BuildOptions, maxAttempts int, baseBackoff time.Duration) error {
	return RetryWithBackoff(ctx, maxAttempts, baseBackoff, func(int) (bool, error) {
		err := engine.Build(ctx, opts)
		return IsTransientError(err), err
	})
}
