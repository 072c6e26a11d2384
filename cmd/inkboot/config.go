// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/inkboard/inkboot/internal/config"
	"github.com/inkboard/inkboot/internal/issue"
	"github.com/inkboard/inkboot/pkg/types"
)

// newConfigCommand creates the `inkboot config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage inkboot configuration",
		Long: `Manage inkboot configuration.

Configuration is read from the first file found:
  - the --config flag
  - <project>/inkboot.cue
  - $XDG_CONFIG_HOME/inkboot/config.cue (platform config directory otherwise)

Any value can be overridden with INKBOOT_<SECTION>_<KEY>, e.g. INKBOOT_IMAGE_TAG.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return showConfig(cmd, app)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show which configuration file is used",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return showConfigPath(cmd, app)
		},
	})

	var user bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(cmd, app, user)
		},
	}
	initCmd.Flags().BoolVar(&user, "user", false, "write the user-level config instead of <project>/inkboot.cue")
	cfgCmd.AddCommand(initCmd)

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Output the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.loadConfig(cmd.Context())
			if err != nil {
				return app.fail(cmd, types.ExitFailure, err)
			}
			fmt.Fprint(app.stdout, config.GenerateCUE(cfg))
			return nil
		},
	})

	return cfgCmd
}

func showConfig(cmd *cobra.Command, app *App) error {
	cfg, err := app.loadConfig(cmd.Context())
	if err != nil {
		if rendered, renderErr := issue.Get(issue.ConfigLoadFailedId).Render("dark"); renderErr == nil {
			fmt.Fprint(app.stderr, rendered)
		}
		return app.fail(cmd, types.ExitFailure, err)
	}
	opts, err := app.loadOptions()
	if err != nil {
		return app.fail(cmd, types.ExitFailure, err)
	}
	path, err := config.ResolvePath(opts)
	if err != nil {
		return app.fail(cmd, types.ExitFailure, err)
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return app.fail(cmd, types.ExitFailure, fmt.Errorf("render config: %w", err))
	}

	source := SubtitleStyle.Render("(using defaults)")
	if path != "" {
		source = path
	}
	fmt.Fprintf(app.stdout, "# %s: %s\n", TitleStyle.Render("Config file"), source)
	fmt.Fprint(app.stdout, string(out))
	return nil
}

func showConfigPath(cmd *cobra.Command, app *App) error {
	opts, err := app.loadOptions()
	if err != nil {
		return app.fail(cmd, types.ExitFailure, err)
	}
	path, err := config.ResolvePath(opts)
	if err != nil {
		return app.fail(cmd, types.ExitFailure, err)
	}
	cfgDir, err := config.ConfigDir()
	if err != nil {
		return app.fail(cmd, types.ExitFailure, err)
	}

	fmt.Fprintf(app.stdout, "Project config: %s\n", filepath.Join(string(opts.ProjectDir), config.ProjectFileName))
	fmt.Fprintf(app.stdout, "User config: %s\n", filepath.Join(cfgDir, config.ConfigFileName+"."+config.ConfigFileExt))
	if path == "" {
		fmt.Fprintf(app.stdout, "In use: %s\n", SubtitleStyle.Render("(defaults only)"))
	} else {
		fmt.Fprintf(app.stdout, "In use: %s\n", CmdStyle.Render(path))
	}
	return nil
}

func initConfig(cmd *cobra.Command, app *App, user bool) error {
	var path string
	if user {
		cfgDir, err := config.ConfigDir()
		if err != nil {
			return app.fail(cmd, types.ExitFailure, err)
		}
		path = filepath.Join(cfgDir, config.ConfigFileName+"."+config.ConfigFileExt)
	} else {
		dir, err := app.projectDir()
		if err != nil {
			return app.fail(cmd, types.ExitFailure, err)
		}
		path = filepath.Join(dir, config.ProjectFileName)
	}

	written, err := config.WriteDefault(path)
	if err != nil {
		return app.fail(cmd, types.ExitFailure, err)
	}
	if !written {
		fmt.Fprintf(app.stdout, "%s %s already exists, left unchanged\n", WarningStyle.Render("!"), path)
		return nil
	}
	fmt.Fprintf(app.stdout, "%s Created default configuration at %s\n", SuccessStyle.Render("✓"), path)
	return nil
}
