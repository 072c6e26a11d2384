// SPDX-License-Identifier: MPL-2.0

// Package process runs external programs (interpreters, pip, the migration tool,
// the application server) behind a small Runner interface so callers can be
// tested with fakes instead of real binaries.
package process
