// SPDX-License-Identifier: MPL-2.0

package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"mvdan.cc/sh/v3/shell"
)

// ErrEmptyCommand is returned when a command line splits into zero words.
var ErrEmptyCommand = errors.New("empty command")

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// This allows injection of mock implementations for testing.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// LookPathFunc resolves an executable name against PATH.
	LookPathFunc func(file string) (string, error)

	// Command describes one program invocation.
	Command struct {
		Name string
		Args []string
		// Dir is the working directory; empty means the current directory.
		Dir string
		// Env is the complete child environment; nil inherits the parent's.
		Env    []string
		Stdin  io.Reader
		Stdout io.Writer
		Stderr io.Writer
		// WaitDelay bounds how long Wait keeps copying output after the
		// child exits; zero waits for every holder of the pipes to close.
		WaitDelay time.Duration
	}

	// Process is a started child.
	Process interface {
		Pid() int
		Signal(sig os.Signal) error
		Kill() error
		Wait() error
	}

	// Runner starts programs.
	Runner interface {
		// Run starts c and waits for it. A nonzero exit is reported as an
		// error from which ExitCodeOf recovers the code.
		Run(ctx context.Context, c Command) error
		// Output runs c and returns its combined stdout and stderr.
		Output(ctx context.Context, c Command) ([]byte, error)
		// Start launches c without tying its lifetime to ctx; the caller owns
		// signalling and waiting.
		Start(ctx context.Context, c Command) (Process, error)
		// LookPath resolves name against PATH.
		LookPath(name string) (string, error)
	}

	// ExitStatusError reports a nonzero exit without an *exec.ExitError, as
	// produced by fakes and by Process implementations outside os/exec.
	ExitStatusError struct {
		Code int
	}

	// ExecRunner is the os/exec backed Runner.
	ExecRunner struct {
		execCommand ExecCommandFunc
		lookPath    LookPathFunc
	}

	// ExecRunnerOption configures an ExecRunner.
	ExecRunnerOption func(*ExecRunner)

	execProcess struct {
		cmd *exec.Cmd
	}

	exitCoder interface {
		ExitCode() int
	}
)

// WithExecCommand overrides how exec.Cmd values are created.
func WithExecCommand(fn ExecCommandFunc) ExecRunnerOption {
	return func(r *ExecRunner) { r.execCommand = fn }
}

// WithLookPath overrides PATH resolution.
func WithLookPath(fn LookPathFunc) ExecRunnerOption {
	return func(r *ExecRunner) { r.lookPath = fn }
}

// NewExecRunner creates an ExecRunner using os/exec.
func NewExecRunner(opts ...ExecRunnerOption) *ExecRunner {
	r := &ExecRunner{
		execCommand: exec.CommandContext,
		lookPath:    exec.LookPath,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *ExecRunner) command(ctx context.Context, c Command) *exec.Cmd {
	cmd := r.execCommand(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if c.Env != nil {
		cmd.Env = c.Env
	}
	cmd.Stdin = c.Stdin
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	cmd.WaitDelay = c.WaitDelay
	return cmd
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, c Command) error {
	if err := r.command(ctx, c).Run(); err != nil {
		return fmt.Errorf("%s: %w", c.Name, err)
	}
	return nil
}

// Output implements Runner.
func (r *ExecRunner) Output(ctx context.Context, c Command) ([]byte, error) {
	var buf bytes.Buffer
	c.Stdout = &buf
	c.Stderr = &buf
	if err := r.command(ctx, c).Run(); err != nil {
		return buf.Bytes(), fmt.Errorf("%s: %w", c.Name, err)
	}
	return buf.Bytes(), nil
}

// Start implements Runner. The child is detached from ctx cancellation so a
// canceled context does not SIGKILL it before the caller can forward a signal.
func (r *ExecRunner) Start(ctx context.Context, c Command) (Process, error) {
	cmd := r.command(context.WithoutCancel(ctx), c)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", c.Name, err)
	}
	return &execProcess{cmd: cmd}, nil
}

// LookPath implements Runner.
func (r *ExecRunner) LookPath(name string) (string, error) {
	return r.lookPath(name)
}

func (p *execProcess) Pid() int                   { return p.cmd.Process.Pid }
func (p *execProcess) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }
func (p *execProcess) Kill() error                { return p.cmd.Process.Kill() }
func (p *execProcess) Wait() error                { return p.cmd.Wait() }

// Error implements the error interface.
func (e *ExitStatusError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// ExitCode returns the exit status.
func (e *ExitStatusError) ExitCode() int { return e.Code }

// ExitCodeOf extracts a process exit code from err. A child terminated by a
// signal reports 128+signal, as a shell does. ok is false when err did not
// come from a process that exited (e.g. the binary could not be started).
func ExitCodeOf(err error) (code int, ok bool) {
	if err == nil {
		return 0, true
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if ws, isWait := ee.Sys().(syscall.WaitStatus); isWait && ws.Signaled() {
			return 128 + int(ws.Signal()), true
		}
	}
	var ec exitCoder
	if errors.As(err, &ec) {
		code = ec.ExitCode()
		// -1 means the process has not exited.
		return code, code >= 0
	}
	return 0, false
}

// Split breaks a configured command line into words using POSIX shell rules:
// quotes are honoured and $VAR references expand through lookup.
func Split(cmdline string, lookup func(string) string) ([]string, error) {
	if lookup == nil {
		lookup = func(string) string { return "" }
	}
	words, err := shell.Fields(cmdline, lookup)
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", cmdline, err)
	}
	if len(words) == 0 {
		return nil, ErrEmptyCommand
	}
	return words, nil
}

// LookupIn adapts a KEY=VALUE environment slice for Split.
func LookupIn(environ []string) func(string) string {
	return func(name string) string {
		prefix := name + "="
		for i := len(environ) - 1; i >= 0; i-- {
			if v, ok := strings.CutPrefix(environ[i], prefix); ok {
				return v
			}
		}
		return ""
	}
}

// String renders c as a copy-pasteable command line for logs.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	for _, p := range append([]string{c.Name}, c.Args...) {
		if p == "" || strings.ContainsAny(p, " \t\"'$\\") {
			p = "'" + strings.ReplaceAll(p, "'", `'\''`) + "'"
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, " ")
}
