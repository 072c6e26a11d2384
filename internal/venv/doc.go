// SPDX-License-Identifier: MPL-2.0

// Package venv manages the project's single isolated Python environment.
//
// The environment is never activated through a shell. Callers obtain an
// ExecContext and run binaries with the environment it describes.
package venv
