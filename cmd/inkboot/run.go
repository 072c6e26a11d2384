// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inkboard/inkboot/internal/config"
	"github.com/inkboard/inkboot/internal/entrypoint"
	"github.com/inkboard/inkboot/internal/preflight"
	"github.com/inkboard/inkboot/pkg/types"
)

type runFlags struct {
	skipPreflight bool
	port          int
	host          string
}

// newRunCommand creates `inkboot run`, the container start procedure.
func newRunCommand(app *App) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Wait for dependencies, migrate the database, then start the server",
		Long: `Run the service start procedure: preflight checks (database, cache, object
storage, signing secret), then the migration command, then the server command
with --host and --port appended. The server never starts when migration fails.

SIGINT and SIGTERM are forwarded to the server and its exit code becomes
inkboot's exit code. When entrypoint.serve_command is empty a built-in
responder serves /health and /health/db instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSequence(cmd, app, f, func(ctx context.Context, seq *entrypoint.Sequencer, opts entrypoint.Options) error {
				return seq.Run(ctx, opts)
			})
		},
	}
	cmd.Flags().BoolVar(&f.skipPreflight, "skip-preflight", false, "do not wait for dependencies before migrating")
	addListenFlags(cmd, &f)
	return cmd
}

// newMigrateCommand creates `inkboot migrate`.
func newMigrateCommand(app *App) *cobra.Command {
	f := runFlags{skipPreflight: true}
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run the migration command once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSequence(cmd, app, f, func(ctx context.Context, seq *entrypoint.Sequencer, opts entrypoint.Options) error {
				return seq.Migrate(ctx, opts)
			})
		},
	}
}

// newServeCommand creates `inkboot serve`.
func newServeCommand(app *App) *cobra.Command {
	f := runFlags{skipPreflight: true}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the server without migrating",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSequence(cmd, app, f, func(ctx context.Context, seq *entrypoint.Sequencer, opts entrypoint.Options) error {
				return seq.Serve(ctx, opts)
			})
		},
	}
	addListenFlags(cmd, &f)
	return cmd
}

// newPreflightCommand creates `inkboot preflight`.
func newPreflightCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Wait until the database, cache, object storage and signing secret are usable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.loadConfig(cmd.Context())
			if err != nil {
				return app.fail(cmd, types.ExitFailure, err)
			}
			env, err := app.serviceEnv(cfg)
			if err != nil {
				return app.fail(cmd, types.ExitFailure, err)
			}
			checks := preflight.FromEnv(cfg.Preflight, env)
			if err := newPreflightRunner(app, cfg).Run(cmd.Context(), checks); err != nil {
				return app.fail(cmd, preflight.ExitCode(err), err)
			}
			fmt.Fprintf(app.stdout, "%s %d dependency check(s) passed\n", SuccessStyle.Render("✓"), len(checks))
			return nil
		},
	}
}

func addListenFlags(cmd *cobra.Command, f *runFlags) {
	cmd.Flags().StringVar(&f.host, "host", "", "bind host passed to the server (default entrypoint.host)")
	cmd.Flags().IntVar(&f.port, "port", 0, "bind port passed to the server (default entrypoint.port)")
}

func newPreflightRunner(app *App, cfg *config.Config) *preflight.Runner {
	return preflight.NewRunner(
		preflight.WithTimeout(cfg.Preflight.Timeout),
		preflight.WithBaseBackoff(cfg.Preflight.BaseBackoff),
		preflight.WithLogger(app.logger),
	)
}

type sequenceStep func(ctx context.Context, seq *entrypoint.Sequencer, opts entrypoint.Options) error

func runSequence(cmd *cobra.Command, app *App, f runFlags, step sequenceStep) error {
	cfg, err := app.loadConfig(cmd.Context())
	if err != nil {
		return app.fail(cmd, types.ExitFailure, err)
	}
	dir, err := app.projectDir()
	if err != nil {
		return app.fail(cmd, types.ExitFailure, err)
	}
	env, err := app.serviceEnv(cfg)
	if err != nil {
		return app.fail(cmd, types.ExitFailure, err)
	}

	opts := entrypoint.Options{
		ProjectDir:     dir,
		MigrateCommand: cfg.Entrypoint.MigrateCommand,
		ServeCommand:   cfg.Entrypoint.ServeCommand,
		Host:           cfg.Entrypoint.Host,
		Port:           cfg.Entrypoint.Port,
		ShutdownGrace:  cfg.Entrypoint.ShutdownGrace,
		VenvDir:        cfg.Venv.Dir,
		Env:            env,
	}
	if f.host != "" {
		opts.Host = f.host
	}
	if f.port != 0 {
		opts.Port = types.ListenPort(f.port)
		if err := opts.Port.Validate(); err != nil {
			return app.fail(cmd, types.ExitFailure, err)
		}
	}
	if !f.skipPreflight {
		opts.Checks = preflight.FromEnv(cfg.Preflight, env)
	}

	seq := entrypoint.New(app.Runner,
		entrypoint.WithPreflight(newPreflightRunner(app, cfg)),
		entrypoint.WithResponder(entrypoint.BuiltinResponder(app.logger, cfg.Preflight.ForceIPv4)),
		entrypoint.WithOutput(app.stdout, app.stderr),
		entrypoint.WithLogger(app.logger),
	)
	if err := step(cmd.Context(), seq, opts); err != nil {
		code := entrypoint.ExitCode(err)
		var child *entrypoint.ChildExitError
		if errors.As(err, &child) {
			// The server already reported its own failure.
			cmd.SilenceErrors = true
			return &ExitError{Code: code, Err: err}
		}
		return app.fail(cmd, code, err)
	}
	return nil
}
