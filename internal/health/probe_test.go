// SPDX-License-Identifier: MPL-2.0

package health

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPProber(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "ok", status: http.StatusOK},
		{name: "no content", status: http.StatusNoContent},
		{name: "redirect target missing", status: http.StatusNotFound, wantErr: true},
		{name: "server error", status: http.StatusServiceUnavailable, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet || r.URL.Path != "/health" {
					w.WriteHeader(http.StatusTeapot)
					return
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := HTTPProber{URL: srv.URL + "/health", Timeout: time.Second}.Check(t.Context())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Check() error = %v, wantErr %v", err, tt.wantErr)
			}
			var se *StatusError
			if tt.wantErr && (!errors.As(err, &se) || se.Code != tt.status) {
				t.Errorf("Check() error = %v, want StatusError %d", err, tt.status)
			}
		})
	}
}

func TestHTTPProber_ConnectionFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if err := (HTTPProber{URL: url, Timeout: time.Second}).Check(t.Context()); err == nil {
		t.Error("Check() against a closed server should fail")
	}
}

func TestHTTPProber_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	if err := (HTTPProber{URL: srv.URL, Timeout: 50 * time.Millisecond}).Check(t.Context()); err == nil {
		t.Error("Check() should time out")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("timeout not honoured")
	}
}
