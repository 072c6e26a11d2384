// SPDX-License-Identifier: MPL-2.0

// Package container provides an abstraction layer for container engines (Docker/Podman).
//
// The Engine interface covers what image building needs: Build, ImageExists,
// ImageLabel and RemoveImage. DockerEngine and PodmanEngine both embed
// BaseCLIEngine for shared CLI argument construction and command execution.
//
// Engine selection uses NewEngine(EngineType) with automatic fallback when the
// preferred engine is unavailable; EngineTypeAuto tries Podman first.
//
// Builds are retried only for errors IsTransientError recognizes, through
// RetryWithBackoff.
package container
