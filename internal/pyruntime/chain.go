// SPDX-License-Identifier: MPL-2.0

package pyruntime

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	// SourceSystem marks an interpreter found on PATH.
	SourceSystem Source = "system"
	// SourceVersionManager marks an interpreter provided by the version manager.
	SourceVersionManager Source = "version-manager"
)

// ErrNotFound is returned by a Strategy that found no matching interpreter.
// The chain moves on to the next strategy.
var ErrNotFound = errors.New("no matching python runtime")

type (
	// Source records how a Descriptor was obtained.
	Source string

	// Descriptor is the resolved interpreter for one provisioning run.
	Descriptor struct {
		Version    Version
		Executable string
		Source     Source
	}

	// Strategy is one way of obtaining an interpreter.
	Strategy interface {
		Name() string
		Resolve(ctx context.Context, required Version) (Descriptor, error)
	}

	// Chain evaluates strategies in order until one succeeds.
	Chain []Strategy

	// ResolutionError is returned when no strategy produced an interpreter.
	ResolutionError struct {
		Required Version
		// Tried lists the strategies that reported ErrNotFound.
		Tried []string
		// Err is the aborting error, or ErrNotFound when every strategy missed.
		Err error
	}
)

// Resolve runs the chain. A strategy error other than ErrNotFound stops the
// chain immediately.
func (c Chain) Resolve(ctx context.Context, required Version) (Descriptor, error) {
	var tried []string
	for _, s := range c {
		if err := ctx.Err(); err != nil {
			return Descriptor{}, err
		}
		d, err := s.Resolve(ctx, required)
		switch {
		case err == nil:
			return d, nil
		case errors.Is(err, ErrNotFound):
			tried = append(tried, s.Name())
		default:
			return Descriptor{}, &ResolutionError{Required: required, Tried: tried, Err: fmt.Errorf("%s: %w", s.Name(), err)}
		}
	}
	return Descriptor{}, &ResolutionError{Required: required, Tried: tried, Err: ErrNotFound}
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("no python %s runtime could be resolved", e.Required.MinorString())
	if len(e.Tried) > 0 {
		msg += " (tried " + strings.Join(e.Tried, ", ") + ")"
	}
	if e.Err != nil && !errors.Is(e.Err, ErrNotFound) {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the aborting error.
func (e *ResolutionError) Unwrap() error { return e.Err }
