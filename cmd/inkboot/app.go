// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/inkboard/inkboot/internal/config"
	"github.com/inkboard/inkboot/internal/container"
	"github.com/inkboard/inkboot/internal/logging"
	"github.com/inkboard/inkboot/internal/process"
	"github.com/inkboard/inkboot/pkg/types"
)

type (
	// App wires CLI services and shared dependencies. It is the composition
	// root for the CLI layer: every Cobra handler receives an App and reaches
	// config, processes and container engines only through it.
	App struct {
		Config  ConfigProvider
		Runner  process.Runner
		Engines EngineFactory
		Environ func() []string
		stdout  io.Writer
		stderr  io.Writer
		flags   globalFlags
		logger  *slog.Logger
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config  ConfigProvider
		Runner  process.Runner
		Engines EngineFactory
		Environ func() []string
		Stdout  io.Writer
		Stderr  io.Writer
	}

	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
	}

	// EngineFactory returns the container engine for a configured preference.
	EngineFactory func(preferred config.ContainerEngine) (container.Engine, error)

	globalFlags struct {
		verbose    bool
		configPath string
		projectDir string
		logFormat  string
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) *App {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.Runner == nil {
		deps.Runner = process.NewExecRunner()
	}
	if deps.Engines == nil {
		deps.Engines = defaultEngine
	}
	if deps.Environ == nil {
		deps.Environ = os.Environ
	}
	return &App{
		Config:  deps.Config,
		Runner:  deps.Runner,
		Engines: deps.Engines,
		Environ: deps.Environ,
		stdout:  deps.Stdout,
		stderr:  deps.Stderr,
		logger:  logging.Discard(),
	}
}

func defaultEngine(preferred config.ContainerEngine) (container.Engine, error) {
	return container.NewEngine(container.EngineType(preferred))
}

// projectDir returns the absolute project root (--project, else the working directory).
func (a *App) projectDir() (string, error) {
	dir := a.flags.projectDir
	if dir == "" {
		dir = "."
	}
	return filepath.Abs(dir)
}

func (a *App) loadOptions() (config.LoadOptions, error) {
	dir, err := a.projectDir()
	if err != nil {
		return config.LoadOptions{}, err
	}
	return config.LoadOptions{
		ConfigFilePath: types.FilesystemPath(a.flags.configPath),
		ProjectDir:     types.FilesystemPath(dir),
	}, nil
}

// loadConfig loads configuration for the current project and installs the
// logger it describes.
func (a *App) loadConfig(ctx context.Context) (*config.Config, error) {
	opts, err := a.loadOptions()
	if err != nil {
		return nil, err
	}
	cfg, err := a.Config.Load(ctx, opts)
	if err != nil {
		return nil, err
	}
	a.setupLogging(cfg)
	return cfg, nil
}

func (a *App) setupLogging(cfg *config.Config) {
	format := string(cfg.Log.Format)
	if a.flags.logFormat != "" {
		format = a.flags.logFormat
	}
	a.logger = logging.Install(logging.New(a.stderr, logging.Options{
		Level:   string(cfg.Log.Level),
		Format:  format,
		Verbose: a.flags.verbose,
	}))
}

// serviceEnv is the child environment: the process env over the project's dotenv file.
func (a *App) serviceEnv(cfg *config.Config) (config.ServiceEnv, error) {
	dir, err := a.projectDir()
	if err != nil {
		return nil, err
	}
	return config.LoadServiceEnv(dir, cfg.Project.EnvFile, a.Environ())
}
