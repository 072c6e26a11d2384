// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/inkboard/inkboot/pkg/types"
)

const (
	// ContainerEngineAuto picks podman, then docker, whichever is found first.
	ContainerEngineAuto ContainerEngine = "auto"
	// ContainerEnginePodman uses Podman as the container runtime.
	ContainerEnginePodman ContainerEngine = "podman"
	// ContainerEngineDocker uses Docker as the container runtime.
	ContainerEngineDocker ContainerEngine = "docker"

	// StartupAuto selects StartupBinary when the host binary can run in the image.
	StartupAuto StartupMode = "auto"
	// StartupBinary copies inkboot into the image and starts with `inkboot run`.
	StartupBinary StartupMode = "binary"
	// StartupShell starts with a `sh -c "<migrate> && exec <serve>"` command line.
	StartupShell StartupMode = "shell"

	// LogFormatText renders human-readable log lines.
	LogFormatText LogFormat = "text"
	// LogFormatJSON renders one JSON object per line.
	LogFormatJSON LogFormat = "json"

	// LogLevelDebug and friends mirror the charm log levels.
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

var (
	// ErrInvalidContainerEngine is returned when a ContainerEngine value is not recognized.
	ErrInvalidContainerEngine = errors.New("invalid container engine")
	// ErrInvalidStartupMode is returned when a StartupMode value is not recognized.
	ErrInvalidStartupMode = errors.New("invalid startup mode")
	// ErrInvalidLogFormat is returned when a LogFormat value is not recognized.
	ErrInvalidLogFormat = errors.New("invalid log format")
	// ErrInvalidLogLevel is returned when a LogLevel value is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidSetting is the sentinel wrapped by InvalidSettingError.
	ErrInvalidSetting = errors.New("invalid setting")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// ContainerEngine specifies which container runtime builds images.
	ContainerEngine string

	// InvalidContainerEngineError is returned when a ContainerEngine value is not recognized.
	// It wraps ErrInvalidContainerEngine for errors.Is() compatibility.
	InvalidContainerEngineError struct {
		Value ContainerEngine
	}

	// StartupMode selects how the image starts the service.
	StartupMode string

	// InvalidStartupModeError is returned when a StartupMode value is not recognized.
	InvalidStartupModeError struct {
		Value StartupMode
	}

	// LogFormat selects the log line encoding.
	LogFormat string

	// InvalidLogFormatError is returned when a LogFormat value is not recognized.
	InvalidLogFormatError struct {
		Value LogFormat
	}

	// LogLevel is the minimum level that is printed.
	LogLevel string

	// InvalidLogLevelError is returned when a LogLevel value is not recognized.
	InvalidLogLevelError struct {
		Value LogLevel
	}

	// InvalidSettingError reports a single out-of-range setting by its dotted key.
	InvalidSettingError struct {
		Key    string
		Reason string
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors from all sections.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		Project    ProjectConfig    `json:"project" yaml:"project" mapstructure:"project"`
		Runtime    RuntimeConfig    `json:"runtime" yaml:"runtime" mapstructure:"runtime"`
		Venv       VenvConfig       `json:"venv" yaml:"venv" mapstructure:"venv"`
		Image      ImageConfig      `json:"image" yaml:"image" mapstructure:"image"`
		Entrypoint EntrypointConfig `json:"entrypoint" yaml:"entrypoint" mapstructure:"entrypoint"`
		Preflight  PreflightConfig  `json:"preflight" yaml:"preflight" mapstructure:"preflight"`
		Health     HealthConfig     `json:"health" yaml:"health" mapstructure:"health"`
		Log        LogConfig        `json:"log" yaml:"log" mapstructure:"log"`
	}

	// ProjectConfig describes the application checkout.
	ProjectConfig struct {
		// Name is used for the default image tag and compose project name.
		Name string `json:"name" yaml:"name" mapstructure:"name"`
		// EnvFile is the dotenv file overlaid by the process environment. Optional.
		EnvFile string `json:"env_file" yaml:"env_file" mapstructure:"env_file"`
	}

	// RuntimeConfig controls interpreter resolution.
	RuntimeConfig struct {
		// Version is the required interpreter version when no .python-version file exists.
		Version string `json:"version" yaml:"version" mapstructure:"version"`
		// Candidates overrides the system executables probed, in order.
		// Empty means python<major>.<minor>, python3, python.
		Candidates []string `json:"candidates" yaml:"candidates" mapstructure:"candidates"`
		// VersionManager is the fallback tool (pyenv).
		VersionManager string `json:"version_manager" yaml:"version_manager" mapstructure:"version_manager"`
	}

	// VenvConfig controls the isolated environment.
	VenvConfig struct {
		// Dir is the environment directory relative to the project root.
		Dir string `json:"dir" yaml:"dir" mapstructure:"dir"`
		// Manifest is the dependency manifest (requirements.txt or pyproject.toml).
		Manifest string `json:"manifest" yaml:"manifest" mapstructure:"manifest"`
		// UpgradePip upgrades pip inside the environment before installing.
		UpgradePip bool `json:"upgrade_pip" yaml:"upgrade_pip" mapstructure:"upgrade_pip"`
	}

	// ImageConfig controls Dockerfile rendering and builds.
	ImageConfig struct {
		Engine         ContainerEngine `json:"engine" yaml:"engine" mapstructure:"engine"`
		BaseImage      string          `json:"base_image" yaml:"base_image" mapstructure:"base_image"`
		Tag            string          `json:"tag" yaml:"tag" mapstructure:"tag"`
		SystemPackages []string        `json:"system_packages" yaml:"system_packages" mapstructure:"system_packages"`
		User           string          `json:"user" yaml:"user" mapstructure:"user"`
		Workdir        string          `json:"workdir" yaml:"workdir" mapstructure:"workdir"`
		Startup        StartupMode     `json:"startup" yaml:"startup" mapstructure:"startup"`
		// BinaryPath overrides the inkboot binary copied into the image in binary mode.
		BinaryPath string `json:"binary_path" yaml:"binary_path" mapstructure:"binary_path"`
	}

	// EntrypointConfig controls the migrate-then-serve sequence.
	EntrypointConfig struct {
		MigrateCommand string `json:"migrate_command" yaml:"migrate_command" mapstructure:"migrate_command"`
		// ServeCommand is started with --host/--port appended. Empty starts the
		// built-in health responder instead.
		ServeCommand string           `json:"serve_command" yaml:"serve_command" mapstructure:"serve_command"`
		Host         string           `json:"host" yaml:"host" mapstructure:"host"`
		Port         types.ListenPort `json:"port" yaml:"port" mapstructure:"port"`
		// ShutdownGrace is how long a forwarded signal may take before the child is killed.
		ShutdownGrace time.Duration `json:"shutdown_grace" yaml:"shutdown_grace" mapstructure:"shutdown_grace"`
	}

	// PreflightConfig controls dependency readiness checks before migration.
	PreflightConfig struct {
		Enabled     bool          `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
		Timeout     time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
		BaseBackoff time.Duration `json:"base_backoff" yaml:"base_backoff" mapstructure:"base_backoff"`
		// ForceIPv4 rewrites localhost to 127.0.0.1 in the database DSN used by the check.
		ForceIPv4 bool `json:"force_ipv4" yaml:"force_ipv4" mapstructure:"force_ipv4"`
		Database  bool `json:"database" yaml:"database" mapstructure:"database"`
		Cache     bool `json:"cache" yaml:"cache" mapstructure:"cache"`
		Storage   bool `json:"storage" yaml:"storage" mapstructure:"storage"`
		Secret    bool `json:"secret" yaml:"secret" mapstructure:"secret"`
	}

	// HealthConfig holds the liveness probe parameters shared by the image and the watcher.
	HealthConfig struct {
		Path        string        `json:"path" yaml:"path" mapstructure:"path"`
		Interval    time.Duration `json:"interval" yaml:"interval" mapstructure:"interval"`
		Timeout     time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
		StartPeriod time.Duration `json:"start_period" yaml:"start_period" mapstructure:"start_period"`
		Retries     int           `json:"retries" yaml:"retries" mapstructure:"retries"`
	}

	// LogConfig controls the process logger.
	LogConfig struct {
		Level  LogLevel  `json:"level" yaml:"level" mapstructure:"level"`
		Format LogFormat `json:"format" yaml:"format" mapstructure:"format"`
	}
)

// String returns the string representation of the ContainerEngine.
func (ce ContainerEngine) String() string { return string(ce) }

// Validate returns nil if the ContainerEngine is one of the defined engine types,
// or an error wrapping ErrInvalidContainerEngine if it is not.
func (ce ContainerEngine) Validate() error {
	switch ce {
	case ContainerEngineAuto, ContainerEnginePodman, ContainerEngineDocker:
		return nil
	default:
		return &InvalidContainerEngineError{Value: ce}
	}
}

// Error implements the error interface for InvalidContainerEngineError.
func (e *InvalidContainerEngineError) Error() string {
	return fmt.Sprintf("invalid container engine %q (valid: auto, podman, docker)", e.Value)
}

// Unwrap returns ErrInvalidContainerEngine for errors.Is() compatibility.
func (e *InvalidContainerEngineError) Unwrap() error { return ErrInvalidContainerEngine }

// String returns the string representation of the StartupMode.
func (m StartupMode) String() string { return string(m) }

// Validate returns nil if the StartupMode is auto, binary or shell.
func (m StartupMode) Validate() error {
	switch m {
	case StartupAuto, StartupBinary, StartupShell:
		return nil
	default:
		return &InvalidStartupModeError{Value: m}
	}
}

// Error implements the error interface for InvalidStartupModeError.
func (e *InvalidStartupModeError) Error() string {
	return fmt.Sprintf("invalid startup mode %q (valid: auto, binary, shell)", e.Value)
}

// Unwrap returns ErrInvalidStartupMode for errors.Is() compatibility.
func (e *InvalidStartupModeError) Unwrap() error { return ErrInvalidStartupMode }

// Validate returns nil if the LogFormat is text or json.
func (f LogFormat) Validate() error {
	switch f {
	case LogFormatText, LogFormatJSON:
		return nil
	default:
		return &InvalidLogFormatError{Value: f}
	}
}

// Error implements the error interface for InvalidLogFormatError.
func (e *InvalidLogFormatError) Error() string {
	return fmt.Sprintf("invalid log format %q (valid: text, json)", e.Value)
}

// Unwrap returns ErrInvalidLogFormat for errors.Is() compatibility.
func (e *InvalidLogFormatError) Unwrap() error { return ErrInvalidLogFormat }

// Validate returns nil if the LogLevel is one of debug, info, warn, error.
func (l LogLevel) Validate() error {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return nil
	default:
		return &InvalidLogLevelError{Value: l}
	}
}

// Error implements the error interface for InvalidLogLevelError.
func (e *InvalidLogLevelError) Error() string {
	return fmt.Sprintf("invalid log level %q (valid: debug, info, warn, error)", e.Value)
}

// Unwrap returns ErrInvalidLogLevel for errors.Is() compatibility.
func (e *InvalidLogLevelError) Unwrap() error { return ErrInvalidLogLevel }

// Error implements the error interface for InvalidSettingError.
func (e *InvalidSettingError) Error() string {
	return fmt.Sprintf("%s: %s", e.Key, e.Reason)
}

// Unwrap returns ErrInvalidSetting for errors.Is() compatibility.
func (e *InvalidSettingError) Unwrap() error { return ErrInvalidSetting }

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, 0, len(e.FieldErrors))
	for _, err := range e.FieldErrors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("invalid config: %s", strings.Join(msgs, "; "))
}

// Unwrap exposes ErrInvalidConfig and every field error to errors.Is/As.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}

// Validate checks the constraints the CUE schema cannot express on its own
// (values arriving through env overrides bypass the schema).
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	required := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			add(&InvalidSettingError{Key: key, Reason: "must not be empty"})
		}
	}
	positive := func(key string, d time.Duration) {
		if d <= 0 {
			add(&InvalidSettingError{Key: key, Reason: "must be a positive duration"})
		}
	}

	required("runtime.version", c.Runtime.Version)
	required("venv.dir", c.Venv.Dir)
	required("venv.manifest", c.Venv.Manifest)
	required("image.base_image", c.Image.BaseImage)
	required("image.user", c.Image.User)
	if c.Image.User == "root" {
		add(&InvalidSettingError{Key: "image.user", Reason: "must not be the privileged account"})
	}
	add(c.Image.Engine.Validate())
	add(c.Image.Startup.Validate())
	required("entrypoint.migrate_command", c.Entrypoint.MigrateCommand)
	if err := c.Entrypoint.Port.Validate(); err != nil || c.Entrypoint.Port == 0 {
		add(&InvalidSettingError{Key: "entrypoint.port", Reason: "must be in range 1-65535"})
	}
	positive("preflight.timeout", c.Preflight.Timeout)
	positive("preflight.base_backoff", c.Preflight.BaseBackoff)
	if !strings.HasPrefix(c.Health.Path, "/") {
		add(&InvalidSettingError{Key: "health.path", Reason: "must start with /"})
	}
	positive("health.interval", c.Health.Interval)
	positive("health.timeout", c.Health.Timeout)
	if c.Health.StartPeriod < 0 {
		add(&InvalidSettingError{Key: "health.start_period", Reason: "must not be negative"})
	}
	if c.Health.Retries < 1 {
		add(&InvalidSettingError{Key: "health.retries", Reason: "must be at least 1"})
	}
	add(c.Log.Level.Validate())
	add(c.Log.Format.Validate())

	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Project: ProjectConfig{
			Name:    "inkboard",
			EnvFile: ".env",
		},
		Runtime: RuntimeConfig{
			Version:        "3.12.3",
			VersionManager: "pyenv",
		},
		Venv: VenvConfig{
			Dir:        ".venv",
			Manifest:   "requirements.txt",
			UpgradePip: true,
		},
		Image: ImageConfig{
			Engine:         ContainerEngineAuto,
			BaseImage:      "python:3.12-slim",
			SystemPackages: []string{"build-essential", "libpq-dev", "curl"},
			User:           "appuser",
			Workdir:        "/app",
			Startup:        StartupAuto,
		},
		Entrypoint: EntrypointConfig{
			MigrateCommand: "alembic upgrade head",
			ServeCommand:   "uvicorn app.main:app",
			Host:           "0.0.0.0",
			Port:           types.DefaultServicePort,
			ShutdownGrace:  10 * time.Second,
		},
		Preflight: PreflightConfig{
			Enabled:     true,
			Timeout:     60 * time.Second,
			BaseBackoff: 500 * time.Millisecond,
			ForceIPv4:   true,
			Database:    true,
			Cache:       true,
			Storage:     true,
			Secret:      true,
		},
		Health: HealthConfig{
			Path:        "/health",
			Interval:    30 * time.Second,
			Timeout:     10 * time.Second,
			StartPeriod: 40 * time.Second,
			Retries:     3,
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: LogFormatText,
		},
	}
}

// ImageTag returns the configured tag, or "<project>:latest".
func (c *Config) ImageTag() string {
	if c.Image.Tag != "" {
		return c.Image.Tag
	}
	return c.Project.Name + ":latest"
}

// HealthURL is the probe URL on the loopback interface.
func (c *Config) HealthURL() string {
	return "http://" + c.Entrypoint.Port.Addr("localhost") + c.Health.Path
}
