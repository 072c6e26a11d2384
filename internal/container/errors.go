// SPDX-License-Identifier: MPL-2.0

package container

import (
	"fmt"
	"strings"
	"sync"
)

// maxStderrTail bounds how much engine stderr is carried in errors.
const maxStderrTail = 4096

type (
	// CommandError is an engine invocation that failed.
	CommandError struct {
		Binary string
		Args   []string
		// Stderr is the tail of the engine's error output.
		Stderr string
		Err    error
	}

	tailBuffer struct {
		mu  sync.Mutex
		buf []byte
	}
)

func commandError(binary string, args []string, stderr string, err error) error {
	return &CommandError{Binary: binary, Args: args, Stderr: strings.TrimSpace(stderr), Err: err}
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %s %v failed: %v", e.Binary, e.Args, e.Err)
	if e.Stderr != "" {
		msg += "\n" + e.Stderr
	}
	return msg
}

// Unwrap returns the underlying exec error.
func (e *CommandError) Unwrap() error { return e.Err }

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - maxStderrTail; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
