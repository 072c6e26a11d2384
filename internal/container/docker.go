// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"fmt"
	"strings"
)

// DockerEngine implements the Engine interface using Docker CLI.
// It embeds BaseCLIEngine for common CLI operations.
type DockerEngine struct {
	*BaseCLIEngine
}

var _ Engine = (*DockerEngine)(nil)

// NewDockerEngine creates a new Docker engine. BuildKit is enabled for every command.
func NewDockerEngine(opts ...BaseCLIEngineOption) *DockerEngine {
	allOpts := append([]BaseCLIEngineOption{WithName(string(EngineTypeDocker)), WithCmdEnvOverride("DOCKER_BUILDKIT", "1")}, opts...)
	return &DockerEngine{
		BaseCLIEngine: NewBaseCLIEngine("docker", allOpts...),
	}
}

// Available checks if the Docker daemon answers.
func (e *DockerEngine) Available() bool {
	return e.available("{{.Server.Version}}")
}

// Version returns the Docker server version.
func (e *DockerEngine) Version(ctx context.Context) (string, error) {
	out, err := e.RunCommandWithOutput(ctx, "version", "--format", "{{.Server.Version}}")
	if err != nil {
		return "", fmt.Errorf("failed to get docker version: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// ImageExists checks if an image exists.
func (e *DockerEngine) ImageExists(ctx context.Context, image ImageTag) (bool, error) {
	err := e.RunCommandStatus(ctx, "image", "inspect", string(image))
	return err == nil, nil
}
