// SPDX-License-Identifier: MPL-2.0

// Package entrypoint runs the container start procedure: optional preflight
// checks, then schema migration, then the application server. The server is
// never started when migration fails, and the server's exit code becomes
// inkboot's exit code.
package entrypoint
