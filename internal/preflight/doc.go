// SPDX-License-Identifier: MPL-2.0

// Package preflight waits for the service's external dependencies before
// migrations run: the database, the cache, object storage and the token
// signing settings.
//
// Connectivity checks are retried with bounded exponential backoff until
// the overall timeout elapses. Configuration problems (a missing variable,
// a malformed DSN, an unusable signing secret) fail immediately.
package preflight
