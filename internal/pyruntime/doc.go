// SPDX-License-Identifier: MPL-2.0

// Package pyruntime resolves the Python interpreter a project runs on.
//
// Resolution is an ordered Chain of Strategy values. Each strategy returns a
// Descriptor, ErrNotFound to let the next strategy try, or any other error to
// abort the chain. The default chain probes system interpreters first and only
// falls back to the version manager (pyenv) when none matches the required
// major.minor.
package pyruntime
