// SPDX-License-Identifier: MPL-2.0

// Package manifest reads the application's declared dependency set.
//
// Two manifest formats are understood: a pip requirements file and a
// pyproject.toml with a PEP 621 [project] table. A manifest's content hash
// feeds the image dependency-layer key, so it is computed over the raw bytes
// exactly as they will be copied into the build context.
package manifest
