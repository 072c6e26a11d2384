// SPDX-License-Identifier: MPL-2.0

package preflight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/inkboard/inkboot/internal/issue"
	"github.com/inkboard/inkboot/pkg/types"
)

const (
	// DefaultTimeout bounds the whole preflight run.
	DefaultTimeout = 60 * time.Second
	// DefaultBaseBackoff is the first retry delay.
	DefaultBaseBackoff = 500 * time.Millisecond
	// maxBackoff caps the delay between attempts.
	maxBackoff = 8 * time.Second
)

// ErrPreflight wraps every preflight failure.
var ErrPreflight = errors.New("preflight failure")

type (
	// Check is one readiness probe. Run performs a single attempt.
	Check interface {
		Name() string
		Run(ctx context.Context) error
	}

	// CheckFunc adapts a function to Check.
	CheckFunc struct {
		CheckName string
		Fn        func(ctx context.Context) error
	}

	// PermanentError marks a failure that retrying cannot fix.
	PermanentError struct {
		Err error
	}

	// CheckError reports the check that failed and how often it was attempted.
	CheckError struct {
		Check    string
		Attempts int
		Err      error
	}

	// Runner runs checks in order, retrying transient failures.
	Runner struct {
		timeout     time.Duration
		baseBackoff time.Duration
		logger      *slog.Logger
	}

	// Option configures a Runner.
	Option func(*Runner)
)

// Name implements Check.
func (c CheckFunc) Name() string { return c.CheckName }

// Run implements Check.
func (c CheckFunc) Run(ctx context.Context) error { return c.Fn(ctx) }

// Permanent wraps err so the Runner does not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Error implements the error interface.
func (e *PermanentError) Error() string { return e.Err.Error() }

// Unwrap returns the wrapped error.
func (e *PermanentError) Unwrap() error { return e.Err }

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Error implements the error interface.
func (e *CheckError) Error() string {
	return fmt.Sprintf("%s check failed after %d attempt(s): %v", e.Check, e.Attempts, e.Err)
}

// Unwrap returns ErrPreflight and the underlying failure.
func (e *CheckError) Unwrap() []error { return []error{ErrPreflight, e.Err} }

// WithTimeout bounds the whole run.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// WithBaseBackoff sets the first retry delay; later delays double up to a cap.
func WithBaseBackoff(d time.Duration) Option {
	return func(r *Runner) { r.baseBackoff = d }
}

// WithLogger sets the progress logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a Runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{timeout: DefaultTimeout, baseBackoff: DefaultBaseBackoff, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ExitCode maps a Run error to the process exit code.
func ExitCode(err error) types.ExitCode {
	switch {
	case err == nil:
		return types.ExitSuccess
	case errors.Is(err, ErrPreflight):
		return types.ExitPreflight
	default:
		return types.ExitFailure
	}
}

// Run executes checks in order and stops at the first one that cannot be
// satisfied within the timeout.
func (r *Runner) Run(ctx context.Context, checks []Check) error {
	if len(checks) == 0 {
		r.logger.Info("no preflight checks configured")
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	for _, c := range checks {
		start := time.Now()
		attempts, err := r.runOne(ctx, c)
		if err != nil {
			return checkFailure(&CheckError{Check: c.Name(), Attempts: attempts, Err: err})
		}
		r.logger.Info("preflight check passed", "check", c.Name(), "attempts", attempts, "elapsed", time.Since(start).Round(time.Millisecond))
	}
	return nil
}

func (r *Runner) runOne(ctx context.Context, c Check) (int, error) {
	delay := r.baseBackoff
	for attempt := 1; ; attempt++ {
		err := c.Run(ctx)
		if err == nil {
			return attempt, nil
		}
		if IsPermanent(err) {
			return attempt, err
		}
		if ctx.Err() != nil {
			return attempt, fmt.Errorf("%w (gave up: %w)", err, ctx.Err())
		}

		r.logger.Warn("preflight check not ready, retrying", "check", c.Name(), "attempt", attempt, "retry_in", delay, "error", err)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, fmt.Errorf("%w (gave up: %w)", err, ctx.Err())
		case <-timer.C:
		}
		delay = min(delay*2, maxBackoff)
	}
}

func checkFailure(err *CheckError) error {
	ctx := issue.NewErrorContext().
		WithOperation("wait for service dependencies").
		WithResource(err.Check).
		WithIssue(issue.PreflightFailedId)
	if IsPermanent(err.Err) {
		ctx.WithSuggestion("Fix the service environment (.env or container environment) and retry")
	} else {
		ctx.WithSuggestion("Make sure the dependency is running and reachable from this host").
			WithSuggestion("Raise preflight.timeout if it needs longer to start")
	}
	ctx.WithSuggestion("Skip the checks with --skip-preflight")
	return ctx.Wrap(err).BuildError()
}
