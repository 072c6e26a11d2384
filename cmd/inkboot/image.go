// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/inkboard/inkboot/internal/config"
	"github.com/inkboard/inkboot/internal/container"
	"github.com/inkboard/inkboot/internal/image"
	"github.com/inkboard/inkboot/internal/manifest"
	"github.com/inkboard/inkboot/pkg/types"
)

type imageFlags struct {
	tag     string
	noCache bool
	engine  string
	write   bool
	compose bool
	startup string
}

// newImageCommand creates the `inkboot image` command tree.
func newImageCommand(app *App) *cobra.Command {
	imageCmd := &cobra.Command{
		Use:   "image",
		Short: "Render, verify and build the application container image",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	var f imageFlags
	buildCmd := &cobra.Command{
		Use:   "build",
		Short: "Render, verify and build the image",
		Long: `Render the Dockerfile, verify it against the image requirements, assemble
a build context that honours .dockerignore, and build it with docker or podman.

Builds are retried only for transient engine errors. Source-only changes
reuse the cached dependency layer.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runImageBuild(cmd, app, f)
		},
	}
	buildCmd.Flags().StringVarP(&f.tag, "tag", "t", "", "image tag (default image.tag, then <project.name>:latest)")
	buildCmd.Flags().BoolVar(&f.noCache, "no-cache", false, "build without the layer cache")
	buildCmd.Flags().StringVar(&f.engine, "engine", "", "container engine: auto, docker or podman (default image.engine)")
	buildCmd.Flags().BoolVar(&f.write, "write", false, "also write Dockerfile and .dockerignore into the project")
	buildCmd.Flags().BoolVar(&f.compose, "compose", false, "also write docker-compose.yml into the project")
	buildCmd.Flags().StringVar(&f.startup, "startup", "", "startup form: auto, binary or shell (default image.startup)")

	renderCmd := &cobra.Command{
		Use:   "render",
		Short: "Print the generated Dockerfile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runImageRender(cmd, app, f.startup)
		},
	}
	renderCmd.Flags().StringVar(&f.startup, "startup", "", "startup form: auto, binary or shell (default image.startup)")

	verifyCmd := &cobra.Command{
		Use:   "verify [dockerfile]",
		Short: "Check a Dockerfile against the image requirements",
		Long: `Check a Dockerfile against the image requirements: dependency layer before
source, non-root runtime user, single exposed port, health check parameters
and a migrate-then-serve startup command. Without an argument the generated
Dockerfile is checked.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runImageVerify(cmd, app, path)
		},
	}

	composeCmd := &cobra.Command{
		Use:   "compose",
		Short: "Print a docker-compose file for the local stack",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runImageCompose(cmd, app, f)
		},
	}
	composeCmd.Flags().BoolVar(&f.write, "write", false, "write docker-compose.yml into the project instead of printing it")
	composeCmd.Flags().StringVar(&f.startup, "startup", "", "startup form: auto, binary or shell (default image.startup)")

	imageCmd.AddCommand(buildCmd, renderCmd, verifyCmd, composeCmd)
	return imageCmd
}

// imageParams loads the manifest and resolves render parameters.
func imageParams(cfg *config.Config, dir, startup string) (image.Params, error) {
	if startup != "" {
		mode := config.StartupMode(startup)
		if err := mode.Validate(); err != nil {
			return image.Params{}, err
		}
		cfg.Image.Startup = mode
	}
	m, err := manifest.Load(dir, cfg.Venv.Manifest)
	if err != nil {
		return image.Params{}, err
	}
	return image.ParamsFromConfig(cfg, m), nil
}

func runImageRender(cmd *cobra.Command, app *App, startup string) error {
	cfg, err := app.loadConfig(cmd.Context())
	if err != nil {
		return app.fail(cmd, types.ExitFailure, err)
	}
	dir, err := app.projectDir()
	if err != nil {
		return app.fail(cmd, types.ExitFailure, err)
	}
	params, err := imageParams(cfg, dir, startup)
	if err != nil {
		return app.fail(cmd, types.ExitImageBuild, err)
	}
	rendered, err := image.Render(params)
	if err != nil {
		return app.fail(cmd, types.ExitImageBuild, err)
	}
	fmt.Fprint(app.stdout, rendered.Dockerfile)
	return nil
}

func runImageVerify(cmd *cobra.Command, app *App, path string) error {
	cfg, err := app.loadConfig(cmd.Context())
	if err != nil {
		return app.fail(cmd, types.ExitFailure, err)
	}
	dir, err := app.projectDir()
	if err != nil {
		return app.fail(cmd, types.ExitFailure, err)
	}

	var content, source string
	if path == "" {
		params, err := imageParams(cfg, dir, "")
		if err != nil {
			return app.fail(cmd, types.ExitImageBuild, err)
		}
		rendered, err := image.Render(params)
		if err != nil {
			return app.fail(cmd, types.ExitImageBuild, err)
		}
		content, source = rendered.Dockerfile, "generated Dockerfile"
	} else {
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return app.fail(cmd, types.ExitFailure, fmt.Errorf("read Dockerfile: %w", err))
		}
		content, source = string(data), path
	}

	if err := image.Verify(content, image.RequirementsFromConfig(cfg)); err != nil {
		return app.fail(cmd, image.ExitCode(err), image.VerificationFailure(err, source))
	}
	fmt.Fprintf(app.stdout, "%s %s satisfies every image requirement\n", SuccessStyle.Render("✓"), source)
	return nil
}

func runImageBuild(cmd *cobra.Command, app *App, f imageFlags) error {
	cfg, err := app.loadConfig(cmd.Context())
	if err != nil {
		return app.fail(cmd, types.ExitFailure, err)
	}
	dir, err := app.projectDir()
	if err != nil {
		return app.fail(cmd, types.ExitFailure, err)
	}
	params, err := imageParams(cfg, dir, f.startup)
	if err != nil {
		return app.fail(cmd, types.ExitImageBuild, err)
	}

	preferred := cfg.Image.Engine
	if f.engine != "" {
		preferred = config.ContainerEngine(f.engine)
		if err := preferred.Validate(); err != nil {
			return app.fail(cmd, types.ExitFailure, err)
		}
	}
	engine, err := app.Engines(preferred)
	if err != nil {
		return app.fail(cmd, types.ExitImageBuild, err)
	}

	tag := cfg.ImageTag()
	if f.tag != "" {
		tag = f.tag
	}

	builder := image.NewBuilder(engine, image.WithBuilderLogger(app.logger))
	art, err := builder.Build(cmd.Context(), image.BuildRequest{
		ProjectDir:   dir,
		Params:       params,
		Requirements: image.RequirementsFromConfig(cfg),
		Tag:          container.ImageTag(tag),
		VenvDir:      cfg.Venv.Dir,
		NoCache:      f.noCache,
		Write:        f.write,
		BinaryPath:   cfg.Image.BinaryPath,
		Stdout:       app.stderr,
		Stderr:       app.stderr,
	})
	if err != nil {
		return app.fail(cmd, image.ExitCode(err), err)
	}

	if f.compose {
		if err := writeCompose(cfg, dir, art.Startup); err != nil {
			return app.fail(cmd, types.ExitImageBuild, err)
		}
	}

	fmt.Fprintf(app.stdout, "%s built %s with %s (%s startup)\n",
		SuccessStyle.Render("✓"), CmdStyle.Render(art.Tag.String()), art.Engine, art.Startup)
	if art.DependenciesChanged() {
		fmt.Fprintf(app.stdout, "  dependency layer rebuilt (key %s)\n", art.DependencyKey[:12])
	} else {
		fmt.Fprintf(app.stdout, "  dependency layer reused (key %s)\n", art.DependencyKey[:12])
	}
	return nil
}

func runImageCompose(cmd *cobra.Command, app *App, f imageFlags) error {
	cfg, err := app.loadConfig(cmd.Context())
	if err != nil {
		return app.fail(cmd, types.ExitFailure, err)
	}
	dir, err := app.projectDir()
	if err != nil {
		return app.fail(cmd, types.ExitFailure, err)
	}
	startup := cfg.Image.Startup
	if f.startup != "" {
		startup = config.StartupMode(f.startup)
		if err := startup.Validate(); err != nil {
			return app.fail(cmd, types.ExitFailure, err)
		}
	}
	startup = image.ResolveStartup(startup)

	if f.write {
		if err := writeCompose(cfg, dir, startup); err != nil {
			return app.fail(cmd, types.ExitImageBuild, err)
		}
		fmt.Fprintf(app.stdout, "%s wrote %s\n", SuccessStyle.Render("✓"), filepath.Join(dir, image.ComposeFileName))
		return nil
	}
	out, err := image.RenderCompose(cfg, startup)
	if err != nil {
		return app.fail(cmd, types.ExitImageBuild, err)
	}
	fmt.Fprint(app.stdout, out)
	return nil
}

func writeCompose(cfg *config.Config, dir string, startup config.StartupMode) error {
	out, err := image.RenderCompose(cfg, startup)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, image.ComposeFileName), []byte(out), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", image.ComposeFileName, err)
	}
	return nil
}
