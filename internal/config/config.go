// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/inkboard/inkboot/internal/issue"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "inkboot"
	// ConfigFileName is the name of the user-level config file (without extension).
	ConfigFileName = "config"
	// ProjectFileName is the project-level config file, looked up in the project root.
	ProjectFileName = "inkboot.cue"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes environment overrides: INKBOOT_<SECTION>_<KEY>.
	EnvPrefix = "INKBOOT"

	maxConfigFileSize = 1 << 20
)

//go:embed config_schema.cue
var configSchema string

// ConfigDir returns the user-level inkboot configuration directory:
// $XDG_CONFIG_HOME/inkboot when set, otherwise the platform default.
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName), nil
	}

	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(base, AppName), nil
}

// loadWithOptions performs option-driven config loading without mutating
// package-level state. It returns the resolved file path ("" when only
// defaults and env overrides apply).
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, err := resolveConfigPath(opts)
	if err != nil {
		return nil, "", err
	}

	if path != "" {
		if err := loadCUEIntoViper(v, path); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(path).
				WithIssue(issue.ConfigLoadFailedId).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the configuration values match the expected schema").
				WithSuggestion("Use 'inkboot config show' to see the effective configuration").
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(path).
			WithIssue(issue.ConfigLoadFailedId).
			WithSuggestion("Check INKBOOT_* environment overrides as well as the config file").
			Wrap(err).
			BuildError()
	}

	return &cfg, path, nil
}

// resolveConfigPath applies the lookup order: explicit file, project file, user file.
// A missing explicit file is an error; missing implicit files are not.
func resolveConfigPath(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		path := string(opts.ConfigFilePath)
		if !fileExists(path) {
			return "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(path).
				WithIssue(issue.ConfigLoadFailedId).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Run 'inkboot config init' to create a project config").
				Wrap(fmt.Errorf("config file not found: %s", path)).
				BuildError()
		}
		return path, nil
	}

	if opts.ProjectDir != "" {
		projectPath := filepath.Join(string(opts.ProjectDir), ProjectFileName)
		if fileExists(projectPath) {
			return projectPath, nil
		}
	}

	cfgDir, err := configDirWithOverride(string(opts.ConfigDirPath))
	if err != nil {
		return "", err
	}
	userPath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)
	if fileExists(userPath) {
		return userPath, nil
	}

	return "", nil
}

// configDirWithOverride resolves the configuration directory, honoring
// explicit provider options before platform defaults.
func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}

	return ConfigDir()
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("project.name", d.Project.Name)
	v.SetDefault("project.env_file", d.Project.EnvFile)
	v.SetDefault("runtime.version", d.Runtime.Version)
	v.SetDefault("runtime.candidates", d.Runtime.Candidates)
	v.SetDefault("runtime.version_manager", d.Runtime.VersionManager)
	v.SetDefault("venv.dir", d.Venv.Dir)
	v.SetDefault("venv.manifest", d.Venv.Manifest)
	v.SetDefault("venv.upgrade_pip", d.Venv.UpgradePip)
	v.SetDefault("image.engine", string(d.Image.Engine))
	v.SetDefault("image.base_image", d.Image.BaseImage)
	v.SetDefault("image.tag", d.Image.Tag)
	v.SetDefault("image.system_packages", d.Image.SystemPackages)
	v.SetDefault("image.user", d.Image.User)
	v.SetDefault("image.workdir", d.Image.Workdir)
	v.SetDefault("image.startup", string(d.Image.Startup))
	v.SetDefault("image.binary_path", d.Image.BinaryPath)
	v.SetDefault("entrypoint.migrate_command", d.Entrypoint.MigrateCommand)
	v.SetDefault("entrypoint.serve_command", d.Entrypoint.ServeCommand)
	v.SetDefault("entrypoint.host", d.Entrypoint.Host)
	v.SetDefault("entrypoint.port", int(d.Entrypoint.Port))
	v.SetDefault("entrypoint.shutdown_grace", d.Entrypoint.ShutdownGrace)
	v.SetDefault("preflight.enabled", d.Preflight.Enabled)
	v.SetDefault("preflight.timeout", d.Preflight.Timeout)
	v.SetDefault("preflight.base_backoff", d.Preflight.BaseBackoff)
	v.SetDefault("preflight.force_ipv4", d.Preflight.ForceIPv4)
	v.SetDefault("preflight.database", d.Preflight.Database)
	v.SetDefault("preflight.cache", d.Preflight.Cache)
	v.SetDefault("preflight.storage", d.Preflight.Storage)
	v.SetDefault("preflight.secret", d.Preflight.Secret)
	v.SetDefault("health.path", d.Health.Path)
	v.SetDefault("health.interval", d.Health.Interval)
	v.SetDefault("health.timeout", d.Health.Timeout)
	v.SetDefault("health.start_period", d.Health.StartPeriod)
	v.SetDefault("health.retries", d.Health.Retries)
	v.SetDefault("log.level", string(d.Log.Level))
	v.SetDefault("log.format", string(d.Log.Format))
}

// loadCUEIntoViper parses a CUE file, validates it against the #Config schema,
// and merges its contents into Viper.
//
// Config decodes to map[string]any rather than a struct so Viper keeps
// defaults for omitted fields and env overrides still apply on top.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if len(data) > maxConfigFileSize {
		return fmt.Errorf("%s: file size %d bytes exceeds maximum %d bytes", path, len(data), maxConfigFileSize)
	}

	ctx := cuecontext.New()

	schemaValue := ctx.CompileString(configSchema)
	if schemaValue.Err() != nil {
		return fmt.Errorf("internal error: failed to compile config schema: %w", schemaValue.Err())
	}

	userValue := ctx.CompileBytes(data, cue.Filename(path))
	if userValue.Err() != nil {
		return formatCUEError(userValue.Err(), path)
	}

	schema := schemaValue.LookupPath(cue.ParsePath("#Config"))
	unified := schema.Unify(userValue)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return formatCUEError(err, path)
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return formatCUEError(err, path)
	}

	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}

	return nil
}

// fileExists checks if a file exists and is not a directory
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// WriteDefault writes the default configuration to path unless a file already
// exists there. It reports whether a file was written.
func WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(GenerateCUE(DefaultConfig())), 0o644); err != nil {
		return false, fmt.Errorf("failed to write config file: %w", err)
	}

	return true, nil
}

// GenerateCUE generates a CUE representation of the configuration.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// inkboot configuration\n")
	sb.WriteString("// Omitted fields use built-in defaults; INKBOOT_<SECTION>_<KEY> overrides any field.\n\n")

	fmt.Fprintf(&sb, "project: {\n\tname: %q\n\tenv_file: %q\n}\n", cfg.Project.Name, cfg.Project.EnvFile)

	sb.WriteString("\nruntime: {\n")
	fmt.Fprintf(&sb, "\tversion: %q\n", cfg.Runtime.Version)
	if len(cfg.Runtime.Candidates) > 0 {
		fmt.Fprintf(&sb, "\tcandidates: %s\n", cueList(cfg.Runtime.Candidates))
	}
	fmt.Fprintf(&sb, "\tversion_manager: %q\n", cfg.Runtime.VersionManager)
	sb.WriteString("}\n")

	sb.WriteString("\nvenv: {\n")
	fmt.Fprintf(&sb, "\tdir: %q\n", cfg.Venv.Dir)
	fmt.Fprintf(&sb, "\tmanifest: %q\n", cfg.Venv.Manifest)
	fmt.Fprintf(&sb, "\tupgrade_pip: %v\n", cfg.Venv.UpgradePip)
	sb.WriteString("}\n")

	sb.WriteString("\nimage: {\n")
	fmt.Fprintf(&sb, "\tengine: %q\n", cfg.Image.Engine)
	fmt.Fprintf(&sb, "\tbase_image: %q\n", cfg.Image.BaseImage)
	if cfg.Image.Tag != "" {
		fmt.Fprintf(&sb, "\ttag: %q\n", cfg.Image.Tag)
	}
	fmt.Fprintf(&sb, "\tsystem_packages: %s\n", cueList(cfg.Image.SystemPackages))
	fmt.Fprintf(&sb, "\tuser: %q\n", cfg.Image.User)
	fmt.Fprintf(&sb, "\tworkdir: %q\n", cfg.Image.Workdir)
	fmt.Fprintf(&sb, "\tstartup: %q\n", cfg.Image.Startup)
	if cfg.Image.BinaryPath != "" {
		fmt.Fprintf(&sb, "\tbinary_path: %q\n", cfg.Image.BinaryPath)
	}
	sb.WriteString("}\n")

	sb.WriteString("\nentrypoint: {\n")
	fmt.Fprintf(&sb, "\tmigrate_command: %q\n", cfg.Entrypoint.MigrateCommand)
	fmt.Fprintf(&sb, "\tserve_command: %q\n", cfg.Entrypoint.ServeCommand)
	fmt.Fprintf(&sb, "\thost: %q\n", cfg.Entrypoint.Host)
	fmt.Fprintf(&sb, "\tport: %d\n", cfg.Entrypoint.Port)
	fmt.Fprintf(&sb, "\tshutdown_grace: %q\n", cfg.Entrypoint.ShutdownGrace.String())
	sb.WriteString("}\n")

	sb.WriteString("\npreflight: {\n")
	fmt.Fprintf(&sb, "\tenabled: %v\n", cfg.Preflight.Enabled)
	fmt.Fprintf(&sb, "\ttimeout: %q\n", cfg.Preflight.Timeout.String())
	fmt.Fprintf(&sb, "\tbase_backoff: %q\n", cfg.Preflight.BaseBackoff.String())
	fmt.Fprintf(&sb, "\tforce_ipv4: %v\n", cfg.Preflight.ForceIPv4)
	fmt.Fprintf(&sb, "\tdatabase: %v\n", cfg.Preflight.Database)
	fmt.Fprintf(&sb, "\tcache: %v\n", cfg.Preflight.Cache)
	fmt.Fprintf(&sb, "\tstorage: %v\n", cfg.Preflight.Storage)
	fmt.Fprintf(&sb, "\tsecret: %v\n", cfg.Preflight.Secret)
	sb.WriteString("}\n")

	sb.WriteString("\nhealth: {\n")
	fmt.Fprintf(&sb, "\tpath: %q\n", cfg.Health.Path)
	fmt.Fprintf(&sb, "\tinterval: %q\n", cfg.Health.Interval.String())
	fmt.Fprintf(&sb, "\ttimeout: %q\n", cfg.Health.Timeout.String())
	fmt.Fprintf(&sb, "\tstart_period: %q\n", cfg.Health.StartPeriod.String())
	fmt.Fprintf(&sb, "\tretries: %d\n", cfg.Health.Retries)
	sb.WriteString("}\n")

	sb.WriteString("\nlog: {\n")
	fmt.Fprintf(&sb, "\tlevel: %q\n", cfg.Log.Level)
	fmt.Fprintf(&sb, "\tformat: %q\n", cfg.Log.Format)
	sb.WriteString("}\n")

	return sb.String()
}

func cueList(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
