// SPDX-License-Identifier: MPL-2.0

package entrypoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/inkboard/inkboot/internal/config"
	"github.com/inkboard/inkboot/internal/issue"
	"github.com/inkboard/inkboot/internal/preflight"
	"github.com/inkboard/inkboot/internal/process"
	"github.com/inkboard/inkboot/internal/venv"
	"github.com/inkboard/inkboot/pkg/types"
)

// DefaultShutdownGrace is used when Options.ShutdownGrace is zero.
const DefaultShutdownGrace = 10 * time.Second

var (
	// ErrMigration means the migration command could not run or exited nonzero.
	ErrMigration = errors.New("migration failure")
	// ErrServerLaunch means the server command could not be started.
	ErrServerLaunch = errors.New("server launch failure")

	forwardedSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
)

type (
	// Options describe one entrypoint invocation.
	Options struct {
		ProjectDir     string
		MigrateCommand string
		// ServeCommand gets --host and --port appended. Empty starts the
		// built-in health responder.
		ServeCommand  string
		Host          string
		Port          types.ListenPort
		ShutdownGrace time.Duration
		// VenvDir is used for binaries and PATH when it holds an environment.
		VenvDir string
		// Env is the child environment, passed through unchanged.
		Env config.ServiceEnv
		// Checks run before migration; nil skips preflight.
		Checks []preflight.Check
	}

	// ChildExitError carries the server's nonzero exit status.
	ChildExitError struct {
		Code int
		Err  error
	}

	// Responder serves the built-in health endpoints on addr until ctx is done.
	Responder func(ctx context.Context, addr string, env config.ServiceEnv) error

	// SignalSource returns a channel of signals to forward and a stop function.
	SignalSource func() (<-chan os.Signal, func())

	// Sequencer runs preflight, migrate and serve.
	Sequencer struct {
		runner    process.Runner
		preflight *preflight.Runner
		responder Responder
		signals   SignalSource
		stdout    io.Writer
		stderr    io.Writer
		logger    *slog.Logger
	}

	// Option configures a Sequencer.
	Option func(*Sequencer)
)

// WithPreflight sets the runner used for Options.Checks.
func WithPreflight(r *preflight.Runner) Option {
	return func(s *Sequencer) { s.preflight = r }
}

// WithResponder sets the built-in health responder.
func WithResponder(r Responder) Option {
	return func(s *Sequencer) { s.responder = r }
}

// WithSignals replaces OS signal delivery.
func WithSignals(src SignalSource) Option {
	return func(s *Sequencer) { s.signals = src }
}

// WithOutput sets where child stdout and stderr go.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(s *Sequencer) {
		s.stdout = stdout
		s.stderr = stderr
	}
}

// WithLogger sets the progress logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sequencer) { s.logger = l }
}

// New creates a Sequencer that runs commands through r.
func New(r process.Runner, opts ...Option) *Sequencer {
	s := &Sequencer{
		runner:  r,
		signals: osSignals,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.preflight == nil {
		s.preflight = preflight.NewRunner(preflight.WithLogger(s.logger))
	}
	if s.responder == nil {
		s.responder = BuiltinResponder(s.logger, true)
	}
	return s
}

func osSignals() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, forwardedSignals...)
	return ch, func() { signal.Stop(ch) }
}

// Error implements the error interface.
func (e *ChildExitError) Error() string {
	return fmt.Sprintf("server exited with status %d", e.Code)
}

// Unwrap returns the underlying wait error.
func (e *ChildExitError) Unwrap() error { return e.Err }

// ExitCode maps a sequencer error to the process exit code. A server that
// exited nonzero yields its own status.
func ExitCode(err error) types.ExitCode {
	if err == nil {
		return types.ExitSuccess
	}
	var child *ChildExitError
	switch {
	case errors.As(err, &child):
		return types.ExitCode(child.Code)
	case errors.Is(err, ErrMigration):
		return types.ExitMigration
	case errors.Is(err, ErrServerLaunch):
		return types.ExitServerLaunch
	case errors.Is(err, preflight.ErrPreflight):
		return types.ExitPreflight
	default:
		return types.ExitFailure
	}
}

// Run executes preflight, migrate and serve in that order; a failing step
// stops the sequence.
func (s *Sequencer) Run(ctx context.Context, opts Options) error {
	if len(opts.Checks) > 0 {
		if err := s.preflight.Run(ctx, opts.Checks); err != nil {
			return err
		}
	}
	if err := s.Migrate(ctx, opts); err != nil {
		return err
	}
	return s.Serve(ctx, opts)
}

// Migrate runs the migration command to completion.
func (s *Sequencer) Migrate(ctx context.Context, opts Options) error {
	cmd, err := s.command(opts, opts.MigrateCommand, nil)
	if err != nil {
		return migrationError(err, opts.MigrateCommand)
	}
	s.logger.Info("running migrations", "command", cmd.String())
	if err := s.runner.Run(ctx, cmd); err != nil {
		return migrationError(err, cmd.String())
	}
	s.logger.Info("migrations complete")
	return nil
}

// Serve starts the server command and waits for it, forwarding SIGINT and
// SIGTERM. A child that outlives ShutdownGrace after the first forwarded
// signal is killed.
func (s *Sequencer) Serve(ctx context.Context, opts Options) error {
	if strings.TrimSpace(opts.ServeCommand) == "" {
		return s.serveBuiltin(ctx, opts)
	}

	cmd, err := s.command(opts, opts.ServeCommand, []string{"--host", host(opts), "--port", opts.Port.String()})
	if err != nil {
		return launchError(err, opts.ServeCommand)
	}
	cmd.WaitDelay = grace(opts)

	sigs, stop := s.signals()
	defer stop()

	s.logger.Info("starting server", "command", cmd.String())
	proc, err := s.runner.Start(ctx, cmd)
	if err != nil {
		return launchError(err, cmd.String())
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- proc.Wait() }()

	done := ctx.Done()
	var deadline <-chan time.Time
	forward := func(sig os.Signal) {
		s.logger.Info("forwarding signal to server", "signal", sig.String(), "pid", proc.Pid())
		if err := proc.Signal(sig); err != nil {
			s.logger.Warn("signal delivery failed", "error", err)
		}
		if deadline == nil {
			deadline = time.After(grace(opts))
		}
	}

	for {
		select {
		case err := <-waitCh:
			return childResult(err)
		case sig := <-sigs:
			forward(sig)
		case <-done:
			done = nil
			forward(syscall.SIGTERM)
		case <-deadline:
			s.logger.Warn("server did not stop within the grace period, killing", "grace", grace(opts))
			deadline = nil
			if err := proc.Kill(); err != nil {
				s.logger.Warn("kill failed", "error", err)
			}
		}
	}
}

func (s *Sequencer) serveBuiltin(ctx context.Context, opts Options) error {
	sigs, stop := s.signals()
	defer stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case sig := <-sigs:
			s.logger.Info("stopping health responder", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	addr := opts.Port.Addr(host(opts))
	s.logger.Info("no server command configured, serving built-in health endpoints", "addr", addr)
	if err := s.responder(ctx, addr, opts.Env); err != nil {
		return launchError(err, "built-in health responder")
	}
	return nil
}

// command splits line, expands $VARs against the child environment and
// resolves the executable inside the virtual environment when present.
func (s *Sequencer) command(opts Options, line string, extra []string) (process.Command, error) {
	environ := opts.Env.Environ()
	if opts.Env == nil {
		environ = os.Environ()
	}
	var xc *venv.ExecContext
	if opts.VenvDir != "" {
		env := venv.New(opts.ProjectDir, opts.VenvDir)
		if ok, err := env.Exists(); err == nil && ok {
			x := env.ExecContext()
			xc = &x
			environ = x.Environ(environ)
		}
	}

	words, err := process.Split(line, process.LookupIn(environ))
	if err != nil {
		return process.Command{}, err
	}
	name := words[0]
	if xc != nil && !strings.ContainsRune(name, filepath.Separator) && !strings.ContainsRune(name, '/') {
		if bin := xc.Bin(name); fileExists(bin) {
			name = bin
		}
	}
	return process.Command{
		Name:   name,
		Args:   append(words[1:], extra...),
		Dir:    opts.ProjectDir,
		Env:    environ,
		Stdout: s.stdout,
		Stderr: s.stderr,
	}, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func host(opts Options) string {
	if opts.Host == "" {
		return "0.0.0.0"
	}
	return opts.Host
}

func grace(opts Options) time.Duration {
	if opts.ShutdownGrace <= 0 {
		return DefaultShutdownGrace
	}
	return opts.ShutdownGrace
}

func childResult(err error) error {
	if err == nil {
		return nil
	}
	code, ok := process.ExitCodeOf(err)
	if !ok || code == 0 {
		code = int(types.ExitFailure)
	}
	return &ChildExitError{Code: code, Err: err}
}

func migrationError(err error, command string) error {
	return issue.NewErrorContext().
		WithOperation("run database migrations").
		WithResource(command).
		WithSuggestion("Check DATABASE_URL and that the database accepts connections").
		WithSuggestion("Run `inkboot migrate` to retry the migration step alone").
		WithIssue(issue.MigrationFailedId).
		Wrap(fmt.Errorf("%w: %w", ErrMigration, err)).
		BuildError()
}

func launchError(err error, command string) error {
	return issue.NewErrorContext().
		WithOperation("start the application server").
		WithResource(command).
		WithSuggestion("Check that the server is installed in the environment (`inkboot provision`)").
		WithSuggestion("Check that the port is not already in use").
		WithIssue(issue.ServerLaunchFailedId).
		Wrap(fmt.Errorf("%w: %w", ErrServerLaunch, err)).
		BuildError()
}
