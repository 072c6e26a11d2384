// SPDX-License-Identifier: MPL-2.0

package image

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/inkboard/inkboot/internal/config"
	"github.com/inkboard/inkboot/internal/manifest"
	"github.com/inkboard/inkboot/pkg/types"
)

const (
	// DependencyKeyLabel carries the dependency-layer key on built images.
	DependencyKeyLabel = "org.inkboard.inkboot.deps-key"

	// BinaryContextPath is where the inkboot binary sits inside the build context.
	BinaryContextPath = ".inkboot/inkboot"
	// BinaryImagePath is where the inkboot binary is installed in the image.
	BinaryImagePath = "/usr/local/bin/inkboot"

	// DockerfileName is the rendered file name in the build context.
	DockerfileName = "Dockerfile"
	// DockerignoreName is the rendered ignore file name.
	DockerignoreName = ".dockerignore"
)

// ErrShellStartupNeedsServeCommand is returned when shell startup is
// requested without a server command; only the binary form has a built-in responder.
var ErrShellStartupNeedsServeCommand = errors.New("shell startup requires entrypoint.serve_command")

type (
	// Params are the inputs of a rendered Dockerfile.
	Params struct {
		BaseImage      string
		SystemPackages []string
		User           string
		Workdir        string
		Manifest       *manifest.Manifest
		// Startup must be resolved to binary or shell; see ResolveStartup.
		Startup        config.StartupMode
		MigrateCommand string
		ServeCommand   string
		Host           string
		Port           types.ListenPort
		Health         config.HealthConfig
	}

	// Rendered is a generated Dockerfile and its dependency-layer key.
	Rendered struct {
		Dockerfile    string
		DependencyKey string
		Startup       config.StartupMode
	}
)

// ResolveStartup turns auto into binary when this binary can run in a Linux
// image, and shell otherwise.
func ResolveStartup(mode config.StartupMode) config.StartupMode {
	if mode != config.StartupAuto && mode != "" {
		return mode
	}
	if runtime.GOOS == "linux" && (runtime.GOARCH == "amd64" || runtime.GOARCH == "arm64") {
		return config.StartupBinary
	}
	return config.StartupShell
}

// ParamsFromConfig builds render parameters from configuration and a loaded manifest.
func ParamsFromConfig(cfg *config.Config, m *manifest.Manifest) Params {
	return Params{
		BaseImage:      cfg.Image.BaseImage,
		SystemPackages: slices.Clone(cfg.Image.SystemPackages),
		User:           cfg.Image.User,
		Workdir:        cfg.Image.Workdir,
		Manifest:       m,
		Startup:        ResolveStartup(cfg.Image.Startup),
		MigrateCommand: cfg.Entrypoint.MigrateCommand,
		ServeCommand:   cfg.Entrypoint.ServeCommand,
		Host:           cfg.Entrypoint.Host,
		Port:           cfg.Entrypoint.Port,
		Health:         cfg.Health,
	}
}

// packages returns the system packages, adding curl when the shell-form
// health check needs it.
func (p Params) packages() []string {
	pkgs := slices.Clone(p.SystemPackages)
	if p.Startup == config.StartupShell && !slices.Contains(pkgs, "curl") {
		pkgs = append(pkgs, "curl")
	}
	return pkgs
}

// DependencyKey is the sha256 over the base image, the system packages and
// the manifest name and content. Nothing else feeds it.
func (p Params) DependencyKey() string {
	h := sha256.New()
	fmt.Fprintf(h, "base:%s\n", p.BaseImage)
	for _, pkg := range p.packages() {
		fmt.Fprintf(h, "pkg:%s\n", pkg)
	}
	if p.Manifest != nil {
		fmt.Fprintf(h, "manifest:%s\n", p.Manifest.Name)
		h.Write(p.Manifest.Content)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ServeArgv returns the server command with --host and --port appended.
func (p Params) ServeArgv() string {
	return fmt.Sprintf("%s --host %s --port %s", p.ServeCommand, p.Host, p.Port)
}

// HealthURL is the probe target inside the container.
func (p Params) HealthURL() string {
	return "http://" + p.Port.Addr("localhost") + p.Health.Path
}

// Render generates the Dockerfile for p.
func Render(p Params) (*Rendered, error) {
	if p.Manifest == nil {
		return nil, errors.New("render Dockerfile: no dependency manifest")
	}
	if p.Startup == config.StartupShell && strings.TrimSpace(p.ServeCommand) == "" {
		return nil, ErrShellStartupNeedsServeCommand
	}
	if err := p.Port.Validate(); err != nil {
		return nil, err
	}

	key := p.DependencyKey()
	var sb strings.Builder

	sb.WriteString("# syntax=docker/dockerfile:1\n")
	sb.WriteString("# Generated by inkboot. Edit inkboot.cue and re-render instead of editing by hand.\n")
	fmt.Fprintf(&sb, "FROM %s\n\n", p.BaseImage)

	sb.WriteString("ENV PYTHONDONTWRITEBYTECODE=1 \\\n")
	sb.WriteString("    PYTHONUNBUFFERED=1 \\\n")
	sb.WriteString("    PIP_DISABLE_PIP_VERSION_CHECK=1\n\n")

	if pkgs := p.packages(); len(pkgs) > 0 {
		sb.WriteString("RUN apt-get update \\\n")
		fmt.Fprintf(&sb, "    && apt-get install -y --no-install-recommends %s \\\n", strings.Join(pkgs, " "))
		sb.WriteString("    && rm -rf /var/lib/apt/lists/*\n\n")
	}

	fmt.Fprintf(&sb, "RUN useradd --create-home --shell /usr/sbin/nologin %s \\\n", p.User)
	fmt.Fprintf(&sb, "    && mkdir -p %s \\\n", p.Workdir)
	fmt.Fprintf(&sb, "    && chown %s:%s %s\n\n", p.User, p.User, p.Workdir)
	fmt.Fprintf(&sb, "WORKDIR %s\n\n", p.Workdir)

	sb.WriteString("# Dependency layer\n")
	fmt.Fprintf(&sb, "COPY --chown=%s:%s %s ./%s\n", p.User, p.User, p.Manifest.Name, p.Manifest.Name)
	if p.Manifest.Kind == manifest.KindPyProject {
		fmt.Fprintf(&sb, "RUN %s\n", execForm(append([]string{"pip", "install", "--no-cache-dir"}, p.Manifest.Requirements...)))
	} else {
		fmt.Fprintf(&sb, "RUN pip install --no-cache-dir -r %s\n", p.Manifest.Name)
	}
	fmt.Fprintf(&sb, "LABEL %s=%q\n\n", DependencyKeyLabel, key)

	sb.WriteString("# Application layer\n")
	if p.Startup == config.StartupBinary {
		fmt.Fprintf(&sb, "COPY %s %s\n", BinaryContextPath, BinaryImagePath)
	}
	fmt.Fprintf(&sb, "COPY --chown=%s:%s . .\n\n", p.User, p.User)

	fmt.Fprintf(&sb, "USER %s\n", p.User)
	fmt.Fprintf(&sb, "EXPOSE %s\n", p.Port)
	fmt.Fprintf(&sb, "HEALTHCHECK --interval=%s --timeout=%s --start-period=%s --retries=%d \\\n",
		formatDuration(p.Health.Interval), formatDuration(p.Health.Timeout), formatDuration(p.Health.StartPeriod), p.Health.Retries)

	if p.Startup == config.StartupBinary {
		fmt.Fprintf(&sb, "    CMD %s\n", execForm([]string{"inkboot", "healthcheck"}))
		fmt.Fprintf(&sb, "CMD %s\n", execForm([]string{"inkboot", "run"}))
	} else {
		fmt.Fprintf(&sb, "    CMD curl -fsS --max-time %d %s || exit 1\n", int(p.Health.Timeout.Seconds()), p.HealthURL())
		fmt.Fprintf(&sb, "CMD %s\n", execForm([]string{"sh", "-c", p.MigrateCommand + " && exec " + p.ServeArgv()}))
	}

	return &Rendered{Dockerfile: sb.String(), DependencyKey: key, Startup: p.Startup}, nil
}

// DependencyPrefix returns the part of a rendered Dockerfile up to and
// including the dependency install instruction.
func DependencyPrefix(dockerfile string) string {
	i := strings.Index(dockerfile, "LABEL "+DependencyKeyLabel)
	if i < 0 {
		return dockerfile
	}
	return dockerfile[:i]
}

// execForm renders words as a JSON array without HTML escaping, so "&&"
// stays readable.
func execForm(words []string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(words)
	return strings.TrimSpace(strings.ReplaceAll(buf.String(), `","`, `", "`))
}

// formatDuration renders whole seconds as "90s" where time.Duration would
// print "1m30s".
func formatDuration(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%ds", int(d/time.Second))
	}
	return d.String()
}
