// SPDX-License-Identifier: MPL-2.0

// Package health implements the liveness contract shared by the image
// HEALTHCHECK, 'inkboot healthcheck' and 'inkboot health watch'.
//
// A probe is an HTTP GET; any 2xx response is a success and everything else,
// including connection failures and timeouts, is a failure. The Tracker
// turns a sequence of probe outcomes into status transitions using the same
// rules as the Docker health check: failures inside the start period are not
// counted, any success resets the failure streak, and Retries consecutive
// counted failures mark the target unhealthy.
package health
