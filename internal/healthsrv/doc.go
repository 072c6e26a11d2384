// SPDX-License-Identifier: MPL-2.0

// Package healthsrv is the built-in HTTP responder started by `inkboot run`
// when no application server command is configured. It answers the same
// /health and /health/db contract as the application so an image can be
// smoke-tested without it.
package healthsrv
