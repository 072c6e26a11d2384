// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/inkboard/inkboot/internal/process"
)

type (
	// FakeRunner is a process.Runner that records every command instead of
	// executing it. Outcomes come from Handler; a nil Handler means success.
	FakeRunner struct {
		// Handler returns the combined output and error for Run and Output calls.
		Handler func(c process.Command) (string, error)
		// StartHandler returns the process for Start calls. When nil, Start
		// returns a process that has already exited with Handler's error.
		StartHandler func(c process.Command) (*FakeProcess, error)
		// Paths maps executable names to LookPath results. Missing names
		// resolve to exec.ErrNotFound.
		Paths map[string]string

		mu    sync.Mutex
		calls []process.Command
	}

	// FakeProcess is a process.Process controlled by the test.
	FakeProcess struct {
		// OnSignal runs for each delivered signal, after it is recorded.
		OnSignal func(p *FakeProcess, sig os.Signal)

		mu      sync.Mutex
		signals []os.Signal
		killed  bool
		done    chan struct{}
		once    sync.Once
		err     error
	}
)

var _ process.Runner = (*FakeRunner)(nil)

func (f *FakeRunner) record(c process.Command) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *FakeRunner) outcome(c process.Command) (string, error) {
	if f.Handler == nil {
		return "", nil
	}
	return f.Handler(c)
}

// Run implements process.Runner.
func (f *FakeRunner) Run(_ context.Context, c process.Command) error {
	f.record(c)
	out, err := f.outcome(c)
	if c.Stdout != nil && out != "" {
		_, _ = io.WriteString(c.Stdout, out)
	}
	return err
}

// Output implements process.Runner.
func (f *FakeRunner) Output(_ context.Context, c process.Command) ([]byte, error) {
	f.record(c)
	out, err := f.outcome(c)
	return []byte(out), err
}

// Start implements process.Runner.
func (f *FakeRunner) Start(_ context.Context, c process.Command) (process.Process, error) {
	f.record(c)
	if f.StartHandler != nil {
		p, err := f.StartHandler(c)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	_, err := f.outcome(c)
	p := NewFakeProcess()
	p.Exit(err)
	return p, nil
}

// LookPath implements process.Runner.
func (f *FakeRunner) LookPath(name string) (string, error) {
	if p, ok := f.Paths[name]; ok {
		return p, nil
	}
	return "", &exec.Error{Name: name, Err: exec.ErrNotFound}
}

// Calls returns a copy of the recorded commands in call order.
func (f *FakeRunner) Calls() []process.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]process.Command, len(f.calls))
	copy(out, f.calls)
	return out
}

// Ran reports whether a command whose executable base name is name was recorded.
func (f *FakeRunner) Ran(name string) bool {
	for _, c := range f.Calls() {
		if filepath.Base(c.Name) == name {
			return true
		}
	}
	return false
}

// NewFakeProcess returns a running fake process.
func NewFakeProcess() *FakeProcess {
	return &FakeProcess{done: make(chan struct{})}
}

// Exit makes Wait return err. Only the first call has an effect.
func (p *FakeProcess) Exit(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Pid implements process.Process.
func (p *FakeProcess) Pid() int { return 4242 }

// Signal implements process.Process.
func (p *FakeProcess) Signal(sig os.Signal) error {
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	hook := p.OnSignal
	p.mu.Unlock()
	if hook != nil {
		hook(p, sig)
	}
	return nil
}

// Kill implements process.Process. The process exits with status 137.
func (p *FakeProcess) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.Exit(&process.ExitStatusError{Code: 137})
	return nil
}

// Wait implements process.Process.
func (p *FakeProcess) Wait() error {
	<-p.done
	return p.err
}

// Signals returns the signals delivered so far.
func (p *FakeProcess) Signals() []os.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]os.Signal, len(p.signals))
	copy(out, p.signals)
	return out
}

// Killed reports whether Kill was called.
func (p *FakeProcess) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}
