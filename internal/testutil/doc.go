// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helpers shared by inkboot tests: file and
// directory helpers, a fake clock, a fake process runner, and a semaphore
// bounding concurrent container-engine tests.
package testutil
