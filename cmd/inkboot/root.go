// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/inkboard/inkboot/internal/issue"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// newRootCommand builds the command tree around app.
func newRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "inkboot",
		Short: "Provision, package and start the inkboard backend",
		Long: TitleStyle.Render("inkboot") + SubtitleStyle.Render(" - Provision, package and start the inkboard backend") + `

inkboot brings a runnable instance of the service into existence three ways:
a local isolated environment, a container image, and the container start
procedure that migrates the database before serving.

` + SubtitleStyle.Render("Examples:") + `
  inkboot provision         Resolve Python, create .venv, install dependencies
  inkboot image build       Render, verify and build the container image
  inkboot run               Migrate, then start the server (image entrypoint)
  inkboot healthcheck       Probe /health once (image HEALTHCHECK)`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&app.flags.verbose, "verbose", "v", false, "enable verbose output")
	flags.StringVar(&app.flags.configPath, "config", "", "config file (default is <project>/inkboot.cue, then $XDG_CONFIG_HOME/inkboot/config.cue)")
	flags.StringVarP(&app.flags.projectDir, "project", "C", "", "project root (default is the working directory)")
	flags.StringVar(&app.flags.logFormat, "log-format", "", "log format: text or json (overrides log.format)")

	rootCmd.AddCommand(newProvisionCommand(app))
	rootCmd.AddCommand(newImageCommand(app))
	rootCmd.AddCommand(newRunCommand(app))
	rootCmd.AddCommand(newMigrateCommand(app))
	rootCmd.AddCommand(newServeCommand(app))
	rootCmd.AddCommand(newPreflightCommand(app))
	rootCmd.AddCommand(newHealthcheckCommand(app))
	rootCmd.AddCommand(newHealthCommand(app))
	rootCmd.AddCommand(newConfigCommand(app))
	rootCmd.AddCommand(newIssueCommand(app))

	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI and exits with the code of the failed procedure.
// Signal handling is left to the commands: `run` and `serve` forward
// SIGINT and SIGTERM to the server instead of dying with them.
func Execute() {
	app := NewApp(Dependencies{})
	if err := fang.Execute(
		context.Background(),
		newRootCommand(app),
		fang.WithVersion(getVersionString()),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(int(exitErr.Code))
		}
		os.Exit(1)
	}
}

// formatErrorForDisplay formats an error for user display.
// ActionableErrors render their suggestions; verbose mode shows the full chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}

// interruptSignals are the signals that cancel long-running non-server commands.
var interruptSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
