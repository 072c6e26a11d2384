// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/inkboard/inkboot/internal/issue"
)

const (
	// EngineTypeAuto picks the first available engine, Podman first.
	EngineTypeAuto EngineType = "auto"
	// EngineTypePodman selects Podman.
	EngineTypePodman EngineType = "podman"
	// EngineTypeDocker selects Docker.
	EngineTypeDocker EngineType = "docker"
)

var (
	// ErrNoEngineAvailable is the sentinel error wrapped by EngineNotAvailableError.
	ErrNoEngineAvailable = errors.New("no container engine available")

	// ErrInvalidImageTag is the sentinel error wrapped by InvalidImageTagError.
	ErrInvalidImageTag = errors.New("invalid image tag")

	// ErrInvalidEngineType is returned for engine names other than auto, podman and docker.
	ErrInvalidEngineType = errors.New("invalid container engine type")

	imageTagPattern = regexp.MustCompile(`^[a-z0-9]+(?:[._/-][a-z0-9]+)*(?::[A-Za-z0-9_][A-Za-z0-9_.-]{0,127})?$`)
)

type (
	// Engine defines the container operations needed to build and inspect images.
	Engine interface {
		// Name returns the engine name (docker or podman).
		Name() string
		// Available checks if the engine is available on the system.
		Available() bool
		// Version returns the engine version.
		Version(ctx context.Context) (string, error)
		// Build builds an image from a Dockerfile.
		Build(ctx context.Context, opts BuildOptions) error
		// ImageExists checks if an image exists locally.
		ImageExists(ctx context.Context, image ImageTag) (bool, error)
		// ImageLabel returns the value of label on image, or "" when unset.
		ImageLabel(ctx context.Context, image ImageTag, label string) (string, error)
		// RemoveImage removes an image.
		RemoveImage(ctx context.Context, image ImageTag, force bool) error
	}

	// EngineType identifies the container engine type.
	EngineType string

	// ImageTag is a repository[:tag] reference.
	ImageTag string

	// InvalidImageTagError is returned when an ImageTag is not a valid reference.
	InvalidImageTagError struct {
		Value ImageTag
	}

	// BuildOptions contains options for building an image.
	BuildOptions struct {
		// ContextDir is the build context directory.
		ContextDir string
		// Dockerfile is the path to the Dockerfile (relative to ContextDir).
		Dockerfile string
		// Tag is the image tag.
		Tag ImageTag
		// Labels are applied with --label in addition to those in the Dockerfile.
		Labels map[string]string
		// NoCache disables the build cache.
		NoCache bool
		// Stdout is where to write build output.
		Stdout io.Writer
		// Stderr is where to write build errors.
		Stderr io.Writer
	}

	// EngineNotAvailableError is returned when a container engine is not available.
	EngineNotAvailableError struct {
		Engine string
		Reason string
	}
)

// String returns the string representation of the ImageTag.
func (t ImageTag) String() string { return string(t) }

// Validate returns an error if the tag is not a lowercase repository
// reference with an optional :tag suffix.
func (t ImageTag) Validate() error {
	if !imageTagPattern.MatchString(string(t)) {
		return &InvalidImageTagError{Value: t}
	}
	return nil
}

// Error implements the error interface.
func (e *InvalidImageTagError) Error() string {
	return fmt.Sprintf("invalid image tag %q (expected name[:tag], lowercase name)", e.Value)
}

// Unwrap returns ErrInvalidImageTag for errors.Is() compatibility.
func (e *InvalidImageTagError) Unwrap() error { return ErrInvalidImageTag }

// Validate checks the options needed by every engine.
func (o BuildOptions) Validate() error {
	if o.ContextDir == "" {
		return errors.New("build context directory is required")
	}
	if o.Tag != "" {
		return o.Tag.Validate()
	}
	return nil
}

// Error implements the error interface.
func (e *EngineNotAvailableError) Error() string {
	return fmt.Sprintf("container engine '%s' is not available: %s", e.Engine, e.Reason)
}

// Unwrap returns ErrNoEngineAvailable for errors.Is() compatibility.
func (e *EngineNotAvailableError) Unwrap() error { return ErrNoEngineAvailable }

// NewEngine creates a container engine based on preference, falling back to
// the other engine when the preferred one is unavailable.
func NewEngine(preferredType EngineType, opts ...BaseCLIEngineOption) (Engine, error) {
	var primary, secondary Engine
	switch preferredType {
	case EngineTypeAuto, "":
		return AutoDetectEngine(opts...)
	case EngineTypePodman:
		primary, secondary = NewPodmanEngine(opts...), NewDockerEngine(opts...)
	case EngineTypeDocker:
		primary, secondary = NewDockerEngine(opts...), NewPodmanEngine(opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidEngineType, preferredType)
	}

	if primary.Available() {
		return primary, nil
	}
	if secondary.Available() {
		return secondary, nil
	}
	return nil, engineNotFoundError(&EngineNotAvailableError{
		Engine: string(preferredType),
		Reason: fmt.Sprintf("%s is not installed or not accessible, and %s fallback is also not available", primary.Name(), secondary.Name()),
	})
}

// AutoDetectEngine tries to find an available container engine.
func AutoDetectEngine(opts ...BaseCLIEngineOption) (Engine, error) {
	// Podman first: it is the common rootless setup.
	podman := NewPodmanEngine(opts...)
	if podman.Available() {
		return podman, nil
	}

	docker := NewDockerEngine(opts...)
	if docker.Available() {
		return docker, nil
	}

	return nil, engineNotFoundError(&EngineNotAvailableError{
		Engine: "any",
		Reason: "no container engine (podman or docker) is available on this system",
	})
}

func engineNotFoundError(cause *EngineNotAvailableError) error {
	return issue.NewErrorContext().
		WithOperation("select container engine").
		WithResource(cause.Engine).
		WithSuggestion("Install Docker or Podman and make sure it is on PATH").
		WithSuggestion("Check that the engine daemon or socket is running (try: docker version)").
		WithIssue(issue.ContainerEngineNotFoundId).
		Wrap(cause).
		BuildError()
}
