// SPDX-License-Identifier: MPL-2.0

package health

import (
	"time"

	"github.com/inkboard/inkboot/internal/config"
)

const (
	// StatusStarting is the status before the first success or the first
	// counted failure streak.
	StatusStarting Status = "starting"
	// StatusHealthy follows any successful probe.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy follows Retries consecutive counted failures.
	StatusUnhealthy Status = "unhealthy"
)

type (
	// Status is the health state of a target.
	Status string

	// Transition is a status change.
	Transition struct {
		From Status
		To   Status
		At   time.Time
		// Failures is the counted failure streak at the time of the change.
		Failures int
		// Err is the probe error that caused the change, if any.
		Err error
	}

	// Tracker applies probe outcomes to a status. It is not safe for
	// concurrent use.
	Tracker struct {
		params  config.HealthConfig
		started time.Time
		status  Status
		streak  int
		seenOK  bool
	}
)

// String returns the status name.
func (s Status) String() string { return string(s) }

// NewTracker starts tracking at started, in StatusStarting.
func NewTracker(params config.HealthConfig, started time.Time) *Tracker {
	return &Tracker{params: params, started: started, status: StatusStarting}
}

// Status returns the current status.
func (t *Tracker) Status() Status { return t.status }

// Failures returns the counted consecutive failures.
func (t *Tracker) Failures() int { return t.streak }

// Observe records a probe outcome at time at and returns the resulting
// transition, if the status changed.
func (t *Tracker) Observe(at time.Time, err error) (Transition, bool) {
	if err == nil {
		t.streak = 0
		t.seenOK = true
		return t.moveTo(StatusHealthy, at, nil)
	}

	// Once a probe has succeeded the start period is over.
	if !t.seenOK && at.Sub(t.started) < t.params.StartPeriod {
		return Transition{}, false
	}
	t.streak++
	retries := max(t.params.Retries, 1)
	if t.streak >= retries {
		return t.moveTo(StatusUnhealthy, at, err)
	}
	return Transition{}, false
}

func (t *Tracker) moveTo(s Status, at time.Time, err error) (Transition, bool) {
	if t.status == s {
		return Transition{}, false
	}
	tr := Transition{From: t.status, To: s, At: at, Failures: t.streak, Err: err}
	t.status = s
	return tr, true
}
