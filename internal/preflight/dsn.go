// SPDX-License-Identifier: MPL-2.0

package preflight

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// NormalizeDSN turns an application database URL into one pgx accepts.
// SQLAlchemy driver suffixes such as "+asyncpg" are dropped from the scheme,
// and with forceIPv4 a "localhost" host becomes 127.0.0.1. The result is
// only used for the readiness check; the service environment is not changed.
func NormalizeDSN(raw string, forceIPv4 bool) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid database URL: %w", err)
	}
	scheme, _, _ := strings.Cut(u.Scheme, "+")
	switch scheme {
	case "postgres", "postgresql":
	default:
		return "", fmt.Errorf("unsupported database URL scheme %q (expected postgresql)", u.Scheme)
	}
	u.Scheme = scheme

	if forceIPv4 && u.Hostname() == "localhost" {
		if port := u.Port(); port != "" {
			u.Host = net.JoinHostPort("127.0.0.1", port)
		} else {
			u.Host = "127.0.0.1"
		}
	}
	return u.String(), nil
}

// Redact hides the password of a URL for logging.
func Redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}
