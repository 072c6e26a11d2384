// SPDX-License-Identifier: MPL-2.0

package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/inkboard/inkboot/internal/config"
	"github.com/inkboard/inkboot/internal/issue"
)

type (
	// Clock is the time source of a Monitor.
	Clock interface {
		Now() time.Time
		After(d time.Duration) <-chan time.Time
	}

	realClock struct{}

	// Monitor probes a target every interval and reports status transitions.
	Monitor struct {
		checker      Checker
		params       config.HealthConfig
		clock        Clock
		logger       *slog.Logger
		onTransition func(Transition)
		stopOn       Status
	}

	// MonitorOption configures a Monitor.
	MonitorOption func(*Monitor)
)

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// WithClock replaces the wall clock.
func WithClock(c Clock) MonitorOption {
	return func(m *Monitor) { m.clock = c }
}

// WithMonitorLogger sets the logger used for transitions and probe failures.
func WithMonitorLogger(l *slog.Logger) MonitorOption {
	return func(m *Monitor) { m.logger = l }
}

// OnTransition registers a callback invoked for every status change.
func OnTransition(fn func(Transition)) MonitorOption {
	return func(m *Monitor) { m.onTransition = fn }
}

// StopWhenUnhealthy makes Run return ErrUnhealthy as soon as the target is unhealthy.
func StopWhenUnhealthy() MonitorOption {
	return func(m *Monitor) { m.stopOn = StatusUnhealthy }
}

// NewMonitor creates a Monitor for checker with params.
func NewMonitor(checker Checker, params config.HealthConfig, opts ...MonitorOption) *Monitor {
	m := &Monitor{checker: checker, params: params, clock: realClock{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run probes immediately and then every interval until ctx is done, or
// until the target turns unhealthy when StopWhenUnhealthy is set. It returns
// the last status; cancellation is not an error.
func (m *Monitor) Run(ctx context.Context) (Status, error) {
	tracker := NewTracker(m.params, m.clock.Now())
	for {
		err := m.probe(ctx)
		if ctx.Err() != nil {
			return tracker.Status(), nil
		}
		if err != nil {
			m.logger.Debug("health probe failed", "error", err, "streak", tracker.Failures())
		}
		if tr, changed := tracker.Observe(m.clock.Now(), err); changed {
			m.report(tr)
			if tr.To == m.stopOn {
				return tr.To, unhealthyError(tr)
			}
		}

		select {
		case <-ctx.Done():
			return tracker.Status(), nil
		case <-m.clock.After(m.params.Interval):
		}
	}
}

func (m *Monitor) probe(ctx context.Context) error {
	if m.params.Timeout <= 0 {
		return m.checker.Check(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, m.params.Timeout)
	defer cancel()
	return m.checker.Check(ctx)
}

func (m *Monitor) report(tr Transition) {
	attrs := []any{"from", tr.From.String(), "to", tr.To.String(), "failures", tr.Failures}
	if tr.Err != nil {
		attrs = append(attrs, "error", tr.Err)
	}
	if tr.To == StatusUnhealthy {
		m.logger.Warn("health status changed", attrs...)
	} else {
		m.logger.Info("health status changed", attrs...)
	}
	if m.onTransition != nil {
		m.onTransition(tr)
	}
}

// CheckOnce runs a single probe with the timeout from params.
func CheckOnce(ctx context.Context, checker Checker, params config.HealthConfig) error {
	m := &Monitor{checker: checker, params: params}
	if err := m.probe(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrUnhealthy, err)
	}
	return nil
}

func unhealthyError(tr Transition) error {
	return issue.NewErrorContext().
		WithOperation("watch service health").
		WithIssue(issue.UnhealthyId).
		WithSuggestion("Check the service logs for the failing /health response").
		Wrap(fmt.Errorf("%w after %d consecutive failures: %w", ErrUnhealthy, tr.Failures, tr.Err)).
		BuildError()
}
