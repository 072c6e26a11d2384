// SPDX-License-Identifier: MPL-2.0

package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/inkboard/inkboot/internal/config"
	"github.com/inkboard/inkboot/internal/container"
	"github.com/inkboard/inkboot/internal/issue"
	"github.com/inkboard/inkboot/pkg/types"
)

// ErrImageBuild wraps every failure of Builder.Build that is not a property violation.
var ErrImageBuild = errors.New("image build failure")

type (
	// BuildRequest describes one image build.
	BuildRequest struct {
		ProjectDir   string
		Params       Params
		Requirements Requirements
		Tag          container.ImageTag
		// VenvDir is excluded from the build context in addition to the defaults.
		VenvDir string
		NoCache bool
		// Write also writes Dockerfile and .dockerignore into ProjectDir.
		Write bool
		// BinaryPath is the linux inkboot binary copied in binary startup mode.
		// Empty means the running executable.
		BinaryPath string
		Stdout     io.Writer
		Stderr     io.Writer
	}

	// Artifact describes a built image.
	Artifact struct {
		Tag           container.ImageTag
		DependencyKey string
		// PreviousKey is the key of the image the tag pointed at before, if any.
		PreviousKey string
		Dockerfile  string
		Startup     config.StartupMode
		Engine      string
	}

	// Builder renders, verifies and builds application images.
	Builder struct {
		engine        container.Engine
		logger        *slog.Logger
		attempts      int
		backoff       time.Duration
		contextParent string
	}

	// BuilderOption configures a Builder.
	BuilderOption func(*Builder)
)

// WithBuilderLogger sets the progress logger.
func WithBuilderLogger(l *slog.Logger) BuilderOption {
	return func(b *Builder) { b.logger = l }
}

// WithRetry sets how often transient engine failures are retried.
func WithRetry(attempts int, backoff time.Duration) BuilderOption {
	return func(b *Builder) {
		b.attempts = attempts
		b.backoff = backoff
	}
}

// WithContextParent sets the directory build contexts are created under.
func WithContextParent(dir string) BuilderOption {
	return func(b *Builder) { b.contextParent = dir }
}

// NewBuilder creates a Builder that builds with engine.
func NewBuilder(engine container.Engine, opts ...BuilderOption) *Builder {
	b := &Builder{
		engine:   engine,
		logger:   slog.Default(),
		attempts: container.DefaultBuildAttempts,
		backoff:  2 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// DependenciesChanged reports whether the dependency layer differs from the
// image previously carrying the tag.
func (a *Artifact) DependenciesChanged() bool {
	return a.PreviousKey != a.DependencyKey
}

// ExitCode maps a Build or Verify error to the process exit code.
func ExitCode(err error) types.ExitCode {
	switch {
	case err == nil:
		return types.ExitSuccess
	case errors.Is(err, ErrPropertyViolation), errors.Is(err, ErrImageBuild):
		return types.ExitImageBuild
	default:
		return types.ExitFailure
	}
}

// Build renders the Dockerfile, verifies it, prepares a build context and
// runs the engine. Every call produces a fresh image.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (*Artifact, error) {
	if err := req.Tag.Validate(); err != nil {
		return nil, buildError(err, req.Tag)
	}
	rendered, err := Render(req.Params)
	if err != nil {
		return nil, buildError(err, req.Tag)
	}
	if err := Verify(rendered.Dockerfile, req.Requirements); err != nil {
		return nil, VerificationFailure(err, "generated Dockerfile")
	}

	patterns, err := IgnorePatterns(req.ProjectDir, req.VenvDir)
	if err != nil {
		return nil, buildError(err, req.Tag)
	}
	if req.Write {
		if err := WriteProjectFiles(req.ProjectDir, rendered, patterns); err != nil {
			return nil, buildError(err, req.Tag)
		}
		b.logger.Info("wrote build files", "dir", req.ProjectDir)
	}

	binary := ""
	if rendered.Startup == config.StartupBinary {
		binary = req.BinaryPath
		if binary == "" {
			if binary, err = os.Executable(); err != nil {
				return nil, buildError(fmt.Errorf("locate inkboot binary: %w", err), req.Tag)
			}
		}
	}

	bc, err := PrepareContext(b.contextParent, req.ProjectDir, rendered, patterns, binary)
	if err != nil {
		return nil, buildError(err, req.Tag)
	}
	defer bc.Cleanup()

	art := &Artifact{
		Tag:           req.Tag,
		DependencyKey: rendered.DependencyKey,
		Dockerfile:    rendered.Dockerfile,
		Startup:       rendered.Startup,
		Engine:        b.engine.Name(),
	}
	if exists, _ := b.engine.ImageExists(ctx, req.Tag); exists { //nolint:errcheck // Error treated as "not found"
		art.PreviousKey, err = b.engine.ImageLabel(ctx, req.Tag, DependencyKeyLabel)
		if err != nil {
			b.logger.Debug("could not read previous dependency key", "tag", req.Tag.String(), "error", err)
		}
	}
	if art.DependenciesChanged() {
		b.logger.Info("dependency layer will be rebuilt", "key", shortKey(art.DependencyKey))
	} else {
		b.logger.Info("dependencies unchanged, dependency layer is reused from cache", "key", shortKey(art.DependencyKey))
	}

	b.logger.Info("building image", "tag", req.Tag.String(), "engine", art.Engine, "startup", string(art.Startup))
	opts := container.BuildOptions{
		ContextDir: bc.Dir,
		Dockerfile: DockerfileName,
		Tag:        req.Tag,
		NoCache:    req.NoCache,
		Stdout:     req.Stdout,
		Stderr:     req.Stderr,
	}
	if err := container.BuildWithRetry(ctx, b.engine, opts, b.attempts, b.backoff); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImageBuild, err)
	}
	b.logger.Info("image built", "tag", req.Tag.String())
	return art, nil
}

// WriteProjectFiles writes the rendered Dockerfile and .dockerignore into projectDir.
func WriteProjectFiles(projectDir string, rendered *Rendered, patterns []string) error {
	if err := os.WriteFile(filepath.Join(projectDir, DockerfileName), []byte(rendered.Dockerfile), 0o644); err != nil {
		return fmt.Errorf("failed to write Dockerfile: %w", err)
	}
	if err := os.WriteFile(filepath.Join(projectDir, DockerignoreName), []byte(RenderIgnoreFile(patterns)), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", DockerignoreName, err)
	}
	return nil
}

// VerificationFailure wraps a Verify error as an actionable error about source.
func VerificationFailure(err error, source string) error {
	return issue.NewErrorContext().
		WithOperation("verify Dockerfile").
		WithResource(source).
		WithSuggestion("Compare with the reference Dockerfile printed by 'inkboot image render'").
		WithIssue(issue.ImagePropertyViolationId).
		Wrap(err).
		BuildError()
}

func buildError(err error, tag container.ImageTag) error {
	return issue.NewErrorContext().
		WithOperation("build image").
		WithResource(tag.String()).
		WithIssue(issue.ImageBuildFailedId).
		Wrap(fmt.Errorf("%w: %w", ErrImageBuild, err)).
		BuildError()
}

func shortKey(k string) string {
	if len(k) > 12 {
		return k[:12]
	}
	return k
}
