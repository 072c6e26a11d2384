// SPDX-License-Identifier: MPL-2.0

package healthsrv

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/inkboard/inkboot/internal/logging"
)

func newTestServer() *Server {
	return New("127.0.0.1:0", NewRouter(Info{Name: "t", Version: "1"}, nil, logging.Discard()), WithLogger(logging.Discard()))
}

func TestServerLifecycle(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	if s.State() != StateCreated {
		t.Fatalf("initial state = %s", s.State())
	}
	if err := s.Start(t.Context()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.WaitForReady(t.Context()); err != nil {
		t.Fatalf("WaitForReady() error = %v", err)
	}
	if s.State() != StateRunning {
		t.Fatalf("state = %s, want running", s.State())
	}

	resp, err := http.Get("http://" + s.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	if err := s.Stop(t.Context()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if s.State() != StateStopped {
		t.Errorf("state = %s, want stopped", s.State())
	}
	if err := s.Stop(t.Context()); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
	if err := s.Start(t.Context()); err == nil {
		t.Error("Start() after Stop succeeded, want error")
	}
}

func TestServerStopBeforeStart(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	if err := s.Stop(t.Context()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if s.State() != StateStopped {
		t.Errorf("state = %s, want stopped", s.State())
	}
}

func TestServerStartCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	s := newTestServer()
	if err := s.Start(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Start() error = %v, want context.Canceled", err)
	}
	if s.State() != StateFailed {
		t.Errorf("state = %s, want failed", s.State())
	}
}

func TestServerAddressInUse(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	s := New(ln.Addr().String(), http.NotFoundHandler(), WithLogger(logging.Discard()))
	if err := s.Start(t.Context()); err == nil {
		_ = s.Stop(t.Context())
		t.Fatal("Start() on a bound port succeeded")
	}
	if s.State() != StateFailed || s.LastError() == nil {
		t.Errorf("state = %s, last error = %v", s.State(), s.LastError())
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	s := newTestServer()
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, time.Second) }()

	if err := s.WaitForReady(t.Context()); err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if s.State() != StateStopped {
		t.Errorf("state = %s, want stopped", s.State())
	}
}

func TestStateValidate(t *testing.T) {
	t.Parallel()

	for s := StateCreated; s <= StateFailed; s++ {
		if err := s.Validate(); err != nil {
			t.Errorf("%s.Validate() = %v", s, err)
		}
	}
	if err := State(42).Validate(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Validate(42) = %v, want ErrInvalidState", err)
	}
	if !StateFailed.IsTerminal() || StateRunning.IsTerminal() {
		t.Error("IsTerminal mismatch")
	}
}
