// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"fmt"
	"strings"
)

// PodmanEngine implements the Engine interface using Podman CLI.
// It embeds BaseCLIEngine for common CLI operations.
type PodmanEngine struct {
	*BaseCLIEngine
}

var _ Engine = (*PodmanEngine)(nil)

// NewPodmanEngine creates a new Podman engine.
func NewPodmanEngine(opts ...BaseCLIEngineOption) *PodmanEngine {
	allOpts := append([]BaseCLIEngineOption{WithName(string(EngineTypePodman))}, opts...)
	return &PodmanEngine{
		BaseCLIEngine: NewBaseCLIEngine("podman", allOpts...),
	}
}

// Available checks if Podman is available.
func (e *PodmanEngine) Available() bool {
	return e.available("{{.Version}}")
}

// Version returns the Podman version.
func (e *PodmanEngine) Version(ctx context.Context) (string, error) {
	out, err := e.RunCommandWithOutput(ctx, "version", "--format", "{{.Version}}")
	if err != nil {
		return "", fmt.Errorf("failed to get podman version: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// ImageExists checks if an image exists. Podman has a dedicated subcommand
// that exits 1 for a missing image.
func (e *PodmanEngine) ImageExists(ctx context.Context, image ImageTag) (bool, error) {
	err := e.RunCommandStatus(ctx, "image", "exists", string(image))
	return err == nil, nil
}

// BuildArgs adds --format docker so HEALTHCHECK is kept; OCI images drop it.
func (e *PodmanEngine) BuildArgs(opts BuildOptions) []string {
	args := e.BaseCLIEngine.BuildArgs(opts)
	return append([]string{args[0], "--format", "docker"}, args[1:]...)
}

// Build builds an image with Podman-specific arguments.
func (e *PodmanEngine) Build(ctx context.Context, opts BuildOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	return e.runBuild(ctx, opts, e.BuildArgs(opts))
}
