// SPDX-License-Identifier: MPL-2.0

package healthsrv

import (
	"errors"
	"fmt"
)

const (
	// StateCreated indicates New was called but Start was not.
	StateCreated State = iota
	// StateStarting indicates Start is binding the listener.
	StateStarting
	// StateRunning indicates the listener accepts requests.
	StateRunning
	// StateStopping indicates Stop is draining in-flight requests.
	StateStopping
	// StateStopped is terminal.
	StateStopped
	// StateFailed is terminal: the listener could not be bound or Serve failed.
	StateFailed
)

// ErrInvalidState is returned when a State value is not one of the defined lifecycle states.
var ErrInvalidState = errors.New("invalid state")

type (
	// State is the lifecycle state of a Server.
	State int32

	// InvalidStateError is returned when a State value is not recognized.
	InvalidStateError struct {
		Value State
	}
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Error implements the error interface.
func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid server state %d", e.Value)
}

// Unwrap returns ErrInvalidState.
func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// Validate returns an error wrapping ErrInvalidState for unknown values.
func (s State) Validate() error {
	switch s {
	case StateCreated, StateStarting, StateRunning, StateStopping, StateStopped, StateFailed:
		return nil
	default:
		return &InvalidStateError{Value: s}
	}
}

// IsTerminal reports whether s is Stopped or Failed.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}
