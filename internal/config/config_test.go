// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/inkboard/inkboot/internal/issue"
	"github.com/inkboard/inkboot/pkg/types"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func isolatedOptions(t *testing.T) LoadOptions {
	t.Helper()
	return LoadOptions{
		ProjectDir:    types.FilesystemPath(t.TempDir()),
		ConfigDirPath: types.FilesystemPath(t.TempDir()),
	}
}

func TestDefaultConfig_IsValid(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() = %v", err)
	}
	if cfg.Entrypoint.Port != 8000 {
		t.Errorf("default port = %d, want 8000", cfg.Entrypoint.Port)
	}
	if cfg.Health.Interval != 30*time.Second || cfg.Health.Timeout != 10*time.Second ||
		cfg.Health.StartPeriod != 40*time.Second || cfg.Health.Retries != 3 {
		t.Errorf("default health parameters = %+v", cfg.Health)
	}
	if cfg.Venv.Dir != ".venv" {
		t.Errorf("default venv dir = %q, want .venv", cfg.Venv.Dir)
	}
}

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	t.Parallel()

	opts := isolatedOptions(t)
	cfg, path, err := loadWithOptions(context.Background(), opts)
	if err != nil {
		t.Fatalf("loadWithOptions() error: %v", err)
	}
	if path != "" {
		t.Errorf("resolved path = %q, want empty", path)
	}
	if cfg.Runtime.Version != "3.12.3" {
		t.Errorf("Runtime.Version = %q, want 3.12.3", cfg.Runtime.Version)
	}
	if cfg.Preflight.Timeout != 60*time.Second {
		t.Errorf("Preflight.Timeout = %v, want 60s", cfg.Preflight.Timeout)
	}
}

func TestLoad_ProjectFileWinsOverUserFile(t *testing.T) {
	t.Parallel()

	opts := isolatedOptions(t)
	writeFile(t, filepath.Join(string(opts.ConfigDirPath), "config.cue"), `runtime: version: "3.11.9"`)
	writeFile(t, filepath.Join(string(opts.ProjectDir), ProjectFileName), `
runtime: version: "3.12.1"
health: retries: 5
preflight: timeout: "2m"
`)

	cfg, path, err := loadWithOptions(context.Background(), opts)
	if err != nil {
		t.Fatalf("loadWithOptions() error: %v", err)
	}
	if filepath.Base(path) != ProjectFileName {
		t.Errorf("resolved path = %q, want project file", path)
	}
	if cfg.Runtime.Version != "3.12.1" {
		t.Errorf("Runtime.Version = %q, want 3.12.1", cfg.Runtime.Version)
	}
	if cfg.Health.Retries != 5 {
		t.Errorf("Health.Retries = %d, want 5", cfg.Health.Retries)
	}
	if cfg.Preflight.Timeout != 2*time.Minute {
		t.Errorf("Preflight.Timeout = %v, want 2m", cfg.Preflight.Timeout)
	}
	// Untouched sections keep defaults.
	if cfg.Entrypoint.MigrateCommand != "alembic upgrade head" {
		t.Errorf("MigrateCommand = %q", cfg.Entrypoint.MigrateCommand)
	}
}

func TestLoad_UserFileUsedWithoutProjectFile(t *testing.T) {
	t.Parallel()

	opts := isolatedOptions(t)
	writeFile(t, filepath.Join(string(opts.ConfigDirPath), "config.cue"), `image: engine: "podman"`)

	cfg, _, err := loadWithOptions(context.Background(), opts)
	if err != nil {
		t.Fatalf("loadWithOptions() error: %v", err)
	}
	if cfg.Image.Engine != ContainerEnginePodman {
		t.Errorf("Image.Engine = %q, want podman", cfg.Image.Engine)
	}
}

func TestLoad_ExplicitFileMissing(t *testing.T) {
	t.Parallel()

	opts := isolatedOptions(t)
	opts.ConfigFilePath = types.FilesystemPath(filepath.Join(t.TempDir(), "nope.cue"))

	_, _, err := loadWithOptions(context.Background(), opts)
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
	var ae *issue.ActionableError
	if !errors.As(err, &ae) {
		t.Fatalf("error should be *issue.ActionableError, got %T", err)
	}
	if ae.IssueID != issue.ConfigLoadFailedId {
		t.Errorf("IssueID = %d, want ConfigLoadFailedId", ae.IssueID)
	}
}

func TestLoad_SchemaRejectsInvalidValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		field   string
	}{
		{"root user", `image: user: "root"`, "image.user"},
		{"unknown startup", `image: startup: "daemon"`, "image.startup"},
		{"port out of range", `entrypoint: port: 70000`, "entrypoint.port"},
		{"bad version", `runtime: version: "three"`, "runtime.version"},
		{"unknown field", `image: colour: "blue"`, "image"},
		{"bad duration", `health: interval: "soon"`, "health.interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			opts := isolatedOptions(t)
			writeFile(t, filepath.Join(string(opts.ProjectDir), ProjectFileName), tt.content)

			_, _, err := loadWithOptions(context.Background(), opts)
			if err == nil {
				t.Fatalf("expected schema error for %s", tt.content)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q should mention %q", err, tt.field)
			}
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	opts := isolatedOptions(t)
	writeFile(t, filepath.Join(string(opts.ProjectDir), ProjectFileName), `entrypoint: serve_command: "gunicorn app.main:app"`)
	t.Setenv("INKBOOT_ENTRYPOINT_SERVE_COMMAND", "hypercorn app.main:app")
	t.Setenv("INKBOOT_HEALTH_RETRIES", "4")
	t.Setenv("INKBOOT_LOG_FORMAT", "json")

	cfg, _, err := loadWithOptions(context.Background(), opts)
	if err != nil {
		t.Fatalf("loadWithOptions() error: %v", err)
	}
	if cfg.Entrypoint.ServeCommand != "hypercorn app.main:app" {
		t.Errorf("ServeCommand = %q, want env override", cfg.Entrypoint.ServeCommand)
	}
	if cfg.Health.Retries != 4 {
		t.Errorf("Health.Retries = %d, want 4", cfg.Health.Retries)
	}
	if cfg.Log.Format != LogFormatJSON {
		t.Errorf("Log.Format = %q, want json", cfg.Log.Format)
	}
}

func TestLoad_EnvOverrideValidated(t *testing.T) {
	opts := isolatedOptions(t)
	t.Setenv("INKBOOT_IMAGE_ENGINE", "lxc")

	_, _, err := loadWithOptions(context.Background(), opts)
	if !errors.Is(err, ErrInvalidContainerEngine) {
		t.Fatalf("error = %v, want ErrInvalidContainerEngine", err)
	}
}

func TestLoad_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := loadWithOptions(ctx, isolatedOptions(t)); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestGenerateCUE_RoundTrip(t *testing.T) {
	t.Parallel()

	opts := isolatedOptions(t)
	want := DefaultConfig()
	want.Image.Tag = "registry.local/inkboard:1.2"
	want.Runtime.Candidates = []string{"python3.12"}
	writeFile(t, filepath.Join(string(opts.ProjectDir), ProjectFileName), GenerateCUE(want))

	got, _, err := loadWithOptions(context.Background(), opts)
	if err != nil {
		t.Fatalf("generated CUE did not load: %v", err)
	}
	if got.Image.Tag != want.Image.Tag {
		t.Errorf("Image.Tag = %q, want %q", got.Image.Tag, want.Image.Tag)
	}
	if len(got.Runtime.Candidates) != 1 || got.Runtime.Candidates[0] != "python3.12" {
		t.Errorf("Runtime.Candidates = %v", got.Runtime.Candidates)
	}
	if got.Health.StartPeriod != want.Health.StartPeriod {
		t.Errorf("Health.StartPeriod = %v, want %v", got.Health.StartPeriod, want.Health.StartPeriod)
	}
}

func TestWriteDefault_DoesNotOverwrite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sub", ProjectFileName)
	wrote, err := WriteDefault(path)
	if err != nil || !wrote {
		t.Fatalf("first WriteDefault() = %v, %v", wrote, err)
	}

	writeFile(t, path, "// mine\n")
	wrote, err = WriteDefault(path)
	if err != nil || wrote {
		t.Fatalf("second WriteDefault() = %v, %v, want false, nil", wrote, err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "// mine\n" {
		t.Error("WriteDefault overwrote an existing file")
	}
}

func TestConfig_Validate_CollectsFieldErrors(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Image.User = "root"
	cfg.Health.Retries = 0
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	var cfgErr *InvalidConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error should be *InvalidConfigError, got %T", err)
	}
	if len(cfgErr.FieldErrors) != 3 {
		t.Errorf("FieldErrors = %d, want 3: %v", len(cfgErr.FieldErrors), cfgErr.FieldErrors)
	}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Error("error should wrap ErrInvalidConfig")
	}
}

func TestConfig_HelperAccessors(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if got := cfg.ImageTag(); got != "inkboard:latest" {
		t.Errorf("ImageTag() = %q", got)
	}
	if got := cfg.HealthURL(); got != "http://localhost:8000/health" {
		t.Errorf("HealthURL() = %q", got)
	}
}

func TestLoadOptions_Validate(t *testing.T) {
	t.Parallel()

	if err := (LoadOptions{}).Validate(); err != nil {
		t.Errorf("empty LoadOptions should be valid, got %v", err)
	}
	err := LoadOptions{ProjectDir: "  "}.Validate()
	if !errors.Is(err, ErrInvalidLoadOptions) {
		t.Errorf("error = %v, want ErrInvalidLoadOptions", err)
	}
	if !errors.Is(err, types.ErrInvalidFilesystemPath) {
		t.Errorf("error = %v, want wrapped ErrInvalidFilesystemPath", err)
	}
}
