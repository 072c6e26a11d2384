// SPDX-License-Identifier: MPL-2.0

package healthsrv

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/inkboard/inkboot/internal/logging"
)

type fakePinger struct {
	err   error
	calls int
}

func (f *fakePinger) Ping(context.Context) error {
	f.calls++
	return f.err
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body response
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s body %q: %v", path, rec.Body.String(), err)
	}
	return rec, body
}

func TestHealthMessage(t *testing.T) {
	t.Parallel()

	h := NewRouter(Info{Name: "Inkboard", Version: "1.0.0"}, nil, logging.Discard())
	rec, body := get(t, h, "/health")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body.Status != "ok" {
		t.Errorf("status field = %q, want ok", body.Status)
	}
	want := "Application (Inkboard) version 1.0.0 is running smoothly!"
	if body.Message != want {
		t.Errorf("message = %q, want %q", body.Message, want)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("X-Request-Id header not set")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestHealthDB(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		pinger     Pinger
		wantCode   int
		wantStatus string
	}{
		{name: "reachable", pinger: &fakePinger{}, wantCode: http.StatusOK, wantStatus: "ok"},
		{name: "unreachable", pinger: &fakePinger{err: errors.New("connection refused")}, wantCode: http.StatusServiceUnavailable, wantStatus: "error"},
		{name: "not configured", pinger: nil, wantCode: http.StatusServiceUnavailable, wantStatus: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := NewRouter(Info{Name: "x", Version: "0"}, tt.pinger, logging.Discard())
			rec, body := get(t, h, "/health/db")
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status field = %q, want %q", body.Status, tt.wantStatus)
			}
		})
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	t.Parallel()

	h := NewRouter(Info{}, nil, logging.Discard())
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != "abc-123" {
		t.Errorf("X-Request-Id = %q, want abc-123", got)
	}
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(logging.Discard())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	t.Parallel()

	h := NewRouter(Info{}, nil, logging.Discard())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/posts", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
