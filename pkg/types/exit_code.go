// SPDX-License-Identifier: MPL-2.0

package types

import (
	"errors"
	"fmt"
	"strconv"
)

// Exit codes reported by inkboot. Each fatal failure class has its own code so
// supervisors and CI scripts can tell them apart without parsing output.
const (
	// ExitSuccess means the procedure completed.
	ExitSuccess ExitCode = 0
	// ExitFailure is the generic failure code.
	ExitFailure ExitCode = 1
	// ExitEnvironmentResolution means no compatible language runtime could be obtained.
	ExitEnvironmentResolution ExitCode = 2
	// ExitDependencyInstall means the dependency installer failed.
	ExitDependencyInstall ExitCode = 3
	// ExitMigration means the schema migration step failed.
	ExitMigration ExitCode = 4
	// ExitServerLaunch means the server process could not be started.
	ExitServerLaunch ExitCode = 5
	// ExitImageBuild means the container image could not be rendered, verified or built.
	ExitImageBuild ExitCode = 6
	// ExitPreflight means a dependency never became reachable before the deadline.
	ExitPreflight ExitCode = 7
)

// ErrInvalidExitCode is the sentinel error wrapped by InvalidExitCodeError.
var ErrInvalidExitCode = errors.New("invalid exit code")

type (
	// ExitCode represents a process exit status code.
	// Exit codes are in the range 0-255 on POSIX systems.
	// The zero value (0) means success.
	ExitCode int

	// InvalidExitCodeError is returned when an ExitCode is outside the
	// valid range (0-255).
	InvalidExitCodeError struct {
		Value ExitCode
	}
)

// Error implements the error interface.
func (e *InvalidExitCodeError) Error() string {
	return fmt.Sprintf("invalid exit code %d (must be in range 0-255)", e.Value)
}

// Unwrap returns ErrInvalidExitCode so callers can use errors.Is for programmatic detection.
func (e *InvalidExitCodeError) Unwrap() error { return ErrInvalidExitCode }

// Validate returns an error if the ExitCode is outside the valid range (0-255).
func (c ExitCode) Validate() error {
	if c < 0 || c > 255 {
		return &InvalidExitCodeError{Value: c}
	}
	return nil
}

// IsSuccess returns true if the exit code indicates successful execution.
func (c ExitCode) IsSuccess() bool { return c == 0 }

// IsTransient returns true if the exit code indicates a transient container
// engine error that may succeed on retry (codes 125 and 126).
func (c ExitCode) IsTransient() bool { return c == 125 || c == 126 }

// String returns the decimal string representation of the ExitCode.
func (c ExitCode) String() string { return strconv.Itoa(int(c)) }

// Describe returns a short human label for the inkboot exit code classes.
func (c ExitCode) Describe() string {
	switch c {
	case ExitSuccess:
		return "success"
	case ExitEnvironmentResolution:
		return "environment resolution failure"
	case ExitDependencyInstall:
		return "dependency installation failure"
	case ExitMigration:
		return "migration failure"
	case ExitServerLaunch:
		return "server launch failure"
	case ExitImageBuild:
		return "image build failure"
	case ExitPreflight:
		return "preflight failure"
	default:
		return "failure"
	}
}
