// SPDX-License-Identifier: MPL-2.0

// Package provisioner prepares a local checkout to run the service: it
// resolves a compatible interpreter, ensures the project's isolated
// environment exists and installs the declared dependencies into it.
//
// Steps run strictly in order and any failure stops the rest. Failures are
// returned as *issue.ActionableError values wrapping ErrEnvironmentResolution
// or ErrDependencyInstallation so callers can map them to exit codes.
package provisioner
