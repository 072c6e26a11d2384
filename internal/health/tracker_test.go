// SPDX-License-Identifier: MPL-2.0

package health

import (
	"errors"
	"testing"
	"time"

	"github.com/inkboard/inkboot/internal/config"
)

var errProbe = errors.New("connection refused")

func defaultParams() config.HealthConfig {
	return config.DefaultConfig().Health
}

func TestTracker(t *testing.T) {
	t.Parallel()

	type probe struct {
		at time.Duration
		ok bool
	}
	fail := func(at time.Duration) probe { return probe{at: at} }
	pass := func(at time.Duration) probe { return probe{at: at, ok: true} }
	s := time.Second

	tests := []struct {
		name        string
		probes      []probe
		want        Status
		transitions []Status
	}{
		{
			name:   "failures inside start period do not count",
			probes: []probe{fail(0), fail(30 * s), fail(60 * s), fail(90 * s)},
			want:   StatusStarting,
		},
		{
			name:        "three counted failures after start period",
			probes:      []probe{fail(0), fail(30 * s), fail(60 * s), fail(90 * s), fail(120 * s)},
			want:        StatusUnhealthy,
			transitions: []Status{StatusUnhealthy},
		},
		{
			name:        "success during start period ends it",
			probes:      []probe{pass(0), fail(10 * s), fail(20 * s), fail(30 * s)},
			want:        StatusUnhealthy,
			transitions: []Status{StatusHealthy, StatusUnhealthy},
		},
		{
			name:        "fewer than retries failures stay healthy",
			probes:      []probe{pass(0), fail(60 * s), fail(90 * s)},
			want:        StatusHealthy,
			transitions: []Status{StatusHealthy},
		},
		{
			name:        "success resets the streak",
			probes:      []probe{pass(0), fail(60 * s), fail(90 * s), pass(120 * s), fail(150 * s), fail(180 * s)},
			want:        StatusHealthy,
			transitions: []Status{StatusHealthy},
		},
		{
			name:        "recovers from unhealthy",
			probes:      []probe{pass(0), fail(60 * s), fail(90 * s), fail(120 * s), pass(150 * s)},
			want:        StatusHealthy,
			transitions: []Status{StatusHealthy, StatusUnhealthy, StatusHealthy},
		},
		{
			name:        "start period boundary counts",
			probes:      []probe{fail(40 * s), fail(41 * s), fail(42 * s)},
			want:        StatusUnhealthy,
			transitions: []Status{StatusUnhealthy},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			tr := NewTracker(defaultParams(), start)
			var got []Status
			for _, p := range tt.probes {
				var err error
				if !p.ok {
					err = errProbe
				}
				if change, ok := tr.Observe(start.Add(p.at), err); ok {
					got = append(got, change.To)
				}
			}
			if tr.Status() != tt.want {
				t.Errorf("Status() = %s, want %s", tr.Status(), tt.want)
			}
			if len(got) != len(tt.transitions) {
				t.Fatalf("transitions = %v, want %v", got, tt.transitions)
			}
			for i := range got {
				if got[i] != tt.transitions[i] {
					t.Errorf("transitions = %v, want %v", got, tt.transitions)
				}
			}
		})
	}
}

func TestTracker_TransitionCarriesCause(t *testing.T) {
	t.Parallel()

	params := defaultParams()
	params.StartPeriod = 0
	params.Retries = 1
	tr := NewTracker(params, time.Now())

	change, ok := tr.Observe(time.Now(), errProbe)
	if !ok || change.From != StatusStarting || change.To != StatusUnhealthy || !errors.Is(change.Err, errProbe) || change.Failures != 1 {
		t.Errorf("transition = %+v, %v", change, ok)
	}
}
