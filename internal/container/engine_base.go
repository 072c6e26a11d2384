// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/inkboard/inkboot/internal/issue"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// This allows injection of mock implementations for testing.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// LookPathFunc resolves an engine binary on PATH.
	LookPathFunc func(file string) (string, error)

	// BaseCLIEngineOption configures a BaseCLIEngine.
	BaseCLIEngineOption func(*BaseCLIEngine)

	// BaseCLIEngine provides common implementation for CLI-based container engines.
	// Docker and Podman engines embed this struct; engine-specific methods
	// (Available, Version, ImageExists) remain on the concrete types.
	BaseCLIEngine struct {
		name        string // Engine name for error messages (e.g., "docker", "podman")
		binaryPath  string
		execCommand ExecCommandFunc
		lookPath    LookPathFunc
		// Per-command env var overrides.
		cmdEnvOverrides map[string]string
	}
)

// WithName sets the engine name used in error messages.
func WithName(name string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.name = name
	}
}

// WithExecCommand sets a custom exec command function for testing.
func WithExecCommand(fn ExecCommandFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.execCommand = fn
	}
}

// WithLookPath sets how the engine binary is located.
func WithLookPath(fn LookPathFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.lookPath = fn
	}
}

// WithBinaryPath pins the engine binary and skips PATH lookup.
func WithBinaryPath(path string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.binaryPath = path
	}
}

// WithCmdEnvOverride adds an environment variable to every engine command.
// DOCKER_BUILDKIT=1 is the typical use.
func WithCmdEnvOverride(key, value string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		if e.cmdEnvOverrides == nil {
			e.cmdEnvOverrides = make(map[string]string)
		}
		e.cmdEnvOverrides[key] = value
	}
}

// NewBaseCLIEngine creates a BaseCLIEngine for the named binary. The binary is
// resolved on PATH unless WithBinaryPath is given.
func NewBaseCLIEngine(binary string, opts ...BaseCLIEngineOption) *BaseCLIEngine {
	e := &BaseCLIEngine{
		name:        binary,
		execCommand: exec.CommandContext,
		lookPath:    exec.LookPath,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.binaryPath == "" && binary != "" {
		e.binaryPath, _ = e.lookPath(binary)
	}
	return e
}

// Name returns the engine name.
func (e *BaseCLIEngine) Name() string {
	return e.name
}

// BinaryPath returns the resolved engine binary, or "" when not installed.
func (e *BaseCLIEngine) BinaryPath() string {
	return e.binaryPath
}

// BuildArgs returns the arguments for a build invocation.
func (e *BaseCLIEngine) BuildArgs(opts BuildOptions) []string {
	args := []string{"build"}

	if opts.Dockerfile != "" {
		dockerfilePath := opts.Dockerfile
		if !filepath.IsAbs(dockerfilePath) && opts.ContextDir != "" {
			dockerfilePath = filepath.Join(opts.ContextDir, dockerfilePath)
		}
		args = append(args, "-f", dockerfilePath)
	}

	if opts.Tag != "" {
		args = append(args, "-t", string(opts.Tag))
	}

	if opts.NoCache {
		args = append(args, "--no-cache")
	}

	// Sorted so the command line is stable.
	labels := maps.Keys(opts.Labels)
	slices.Sort(labels)
	for _, k := range labels {
		args = append(args, "--label", fmt.Sprintf("%s=%s", k, opts.Labels[k]))
	}

	args = append(args, opts.ContextDir)

	return args
}

// RemoveImageArgs returns the arguments for an image removal.
func (e *BaseCLIEngine) RemoveImageArgs(image ImageTag, force bool) []string {
	args := []string{"rmi"}
	if force {
		args = append(args, "-f")
	}
	return append(args, string(image))
}

// LabelArgs returns the arguments that print one image label.
func (e *BaseCLIEngine) LabelArgs(image ImageTag, label string) []string {
	return []string{"image", "inspect", "--format", fmt.Sprintf("{{ index .Config.Labels %q }}", label), string(image)}
}

// CreateCommand builds an exec.Cmd for the engine binary.
func (e *BaseCLIEngine) CreateCommand(ctx context.Context, args ...string) *exec.Cmd {
	cmd := e.execCommand(ctx, e.binaryPath, args...)
	if len(e.cmdEnvOverrides) > 0 {
		if cmd.Env == nil {
			cmd.Env = os.Environ()
		}
		keys := maps.Keys(e.cmdEnvOverrides)
		slices.Sort(keys)
		for _, k := range keys {
			cmd.Env = append(cmd.Env, k+"="+e.cmdEnvOverrides[k])
		}
	}
	return cmd
}

// RunCommandStatus runs the engine and reports only success or failure.
func (e *BaseCLIEngine) RunCommandStatus(ctx context.Context, args ...string) error {
	var stderr bytes.Buffer
	cmd := e.CreateCommand(ctx, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return commandError(e.binaryPath, args, stderr.String(), err)
	}
	return nil
}

// RunCommandWithOutput runs the engine and returns its stdout.
func (e *BaseCLIEngine) RunCommandWithOutput(ctx context.Context, args ...string) (string, error) {
	var out, stderr bytes.Buffer
	cmd := e.CreateCommand(ctx, args...)
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", commandError(e.binaryPath, args, stderr.String(), err)
	}
	return out.String(), nil
}

// Build builds an image.
func (e *BaseCLIEngine) Build(ctx context.Context, opts BuildOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	return e.runBuild(ctx, opts, e.BuildArgs(opts))
}

// runBuild executes a build. Stderr is also captured into the returned error
// so IsTransientError can classify failures the engine reports only there.
func (e *BaseCLIEngine) runBuild(ctx context.Context, opts BuildOptions, args []string) error {
	var tail tailBuffer
	cmd := e.CreateCommand(ctx, args...)
	cmd.Stdout = opts.Stdout
	cmd.Stderr = &tail
	if opts.Stderr != nil {
		cmd.Stderr = io.MultiWriter(opts.Stderr, &tail)
	}

	if err := cmd.Run(); err != nil {
		return buildContainerError(e.name, opts, commandError(e.binaryPath, args[:1], tail.String(), err))
	}
	return nil
}

// ImageLabel implements Engine.
func (e *BaseCLIEngine) ImageLabel(ctx context.Context, image ImageTag, label string) (string, error) {
	out, err := e.RunCommandWithOutput(ctx, e.LabelArgs(image, label)...)
	if err != nil {
		return "", err
	}
	v := strings.TrimSpace(out)
	if v == "<no value>" {
		return "", nil
	}
	return v, nil
}

// RemoveImage implements Engine.
func (e *BaseCLIEngine) RemoveImage(ctx context.Context, image ImageTag, force bool) error {
	return e.RunCommandStatus(ctx, e.RemoveImageArgs(image, force)...)
}

// available runs a cheap version query.
func (e *BaseCLIEngine) available(versionFormat string) bool {
	if e.binaryPath == "" {
		return false
	}
	return e.CreateCommand(context.Background(), "version", "--format", versionFormat).Run() == nil
}

// buildContainerError creates an actionable error for container build failures.
func buildContainerError(engine string, opts BuildOptions, cause error) error {
	ctx := issue.NewErrorContext().
		WithOperation("build container image").
		WithIssue(issue.ImageBuildFailedId)

	switch {
	case opts.Tag != "":
		ctx.WithResource(string(opts.Tag))
	case opts.ContextDir != "":
		ctx.WithResource(filepath.Join(opts.ContextDir, "Dockerfile"))
	}

	ctx.WithSuggestion("Check the rendered Dockerfile with: inkboot image render")
	ctx.WithSuggestion("Ensure the base image is reachable (try: " + engine + " pull <base-image>)")
	ctx.WithSuggestion("Run with --verbose to see full build output")

	return ctx.Wrap(cause).BuildError()
}
