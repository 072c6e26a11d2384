// SPDX-License-Identifier: MPL-2.0

package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrUnhealthy is returned when the target is, or becomes, unhealthy.
var ErrUnhealthy = errors.New("unhealthy")

type (
	// Checker performs one probe.
	Checker interface {
		Check(ctx context.Context) error
	}

	// HTTPProber probes a URL with GET.
	HTTPProber struct {
		URL     string
		Timeout time.Duration
		// Client defaults to http.DefaultClient.
		Client *http.Client
	}

	// StatusError is a non-2xx probe response.
	StatusError struct {
		URL  string
		Code int
	}
)

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.Code)
}

// Check implements Checker.
func (p HTTPProber) Check(ctx context.Context) error {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, http.NoBody)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024)) // drain for connection reuse

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{URL: p.URL, Code: resp.StatusCode}
	}
	return nil
}
