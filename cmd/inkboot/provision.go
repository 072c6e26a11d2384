// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inkboard/inkboot/internal/provisioner"
	"github.com/inkboard/inkboot/pkg/types"
)

type provisionFlags struct {
	pythonVersion string
	venvDir       string
	skipInstall   bool
	dryRun        bool
}

// newProvisionCommand creates the `inkboot provision` command.
func newProvisionCommand(app *App) *cobra.Command {
	var f provisionFlags
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Resolve the Python runtime, create the virtual environment and install dependencies",
		Long: `Resolve a Python interpreter matching the required version (probing the
system first, then falling back to pyenv), create the project's virtual
environment if it does not exist, and install the declared dependencies into it.

The required version comes from --python-version, then .python-version in the
project root, then runtime.version in the configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProvision(cmd, app, f)
		},
	}
	cmd.Flags().StringVar(&f.pythonVersion, "python-version", "", "required Python version (overrides .python-version and config)")
	cmd.Flags().StringVar(&f.venvDir, "venv", "", "virtual environment directory (default venv.dir)")
	cmd.Flags().BoolVar(&f.skipInstall, "skip-install", false, "create the environment but do not install dependencies")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "print the plan without running anything")
	return cmd
}

func runProvision(cmd *cobra.Command, app *App, f provisionFlags) error {
	cfg, err := app.loadConfig(cmd.Context())
	if err != nil {
		return app.fail(cmd, types.ExitFailure, err)
	}
	dir, err := app.projectDir()
	if err != nil {
		return app.fail(cmd, types.ExitFailure, err)
	}
	venvDir := cfg.Venv.Dir
	if f.venvDir != "" {
		venvDir = f.venvDir
	}

	p := provisioner.New(app.Runner,
		provisioner.WithOutput(app.stderr),
		provisioner.WithLogger(app.logger),
	)
	res, err := p.Provision(cmd.Context(), provisioner.Options{
		ProjectDir:        dir,
		PythonVersion:     f.pythonVersion,
		ConfiguredVersion: cfg.Runtime.Version,
		Candidates:        cfg.Runtime.Candidates,
		VersionManager:    cfg.Runtime.VersionManager,
		VenvDir:           venvDir,
		Manifest:          cfg.Venv.Manifest,
		UpgradePip:        cfg.Venv.UpgradePip,
		SkipInstall:       f.skipInstall,
		DryRun:            f.dryRun,
	})
	if err != nil {
		return app.fail(cmd, provisioner.ExitCode(err), err)
	}

	if f.dryRun {
		fmt.Fprintln(app.stdout, TitleStyle.Render("Provisioning plan"))
	}
	for i, step := range res.Steps {
		marker := SuccessStyle.Render("✓")
		if f.dryRun {
			marker = SubtitleStyle.Render(fmt.Sprintf("%d.", i+1))
		}
		fmt.Fprintf(app.stdout, "%s %s: %s\n", marker, step.Name, CmdStyle.Render(step.Detail))
	}
	if !f.dryRun {
		fmt.Fprintf(app.stdout, "%s environment ready at %s\n", SuccessStyle.Render("✓"), res.Environment.Dir)
	}
	return nil
}
