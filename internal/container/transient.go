// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"strings"
)

// transientMarkers are engine messages for failures that may succeed on retry:
// rootless Podman races, OCI runtime hiccups, network errors while pulling or
// installing packages, and overlay storage races.
var transientMarkers = []string{
	"ping_group_range",
	"OCI runtime error",
	"Temporary failure resolving",
	"Could not resolve host",
	"connection timed out",
	"connection refused",
	"TLS handshake timeout",
	"i/o timeout",
	"error creating overlay mount",
	"error mounting layer",
}

// IsTransientError reports whether err is a transient container engine error
// that may succeed on retry.
//
// Context cancellation and deadline errors are never transient.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Exit code 125 is a generic engine failure, usually storage or cgroup trouble.
	var exitErr interface{ ExitCode() int }
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 125 {
		return true
	}

	errStr := err.Error()
	for _, m := range transientMarkers {
		if strings.Contains(errStr, m) {
			return true
		}
	}
	return false
}
