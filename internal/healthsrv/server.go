// SPDX-License-Identifier: MPL-2.0

package healthsrv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultShutdownTimeout bounds Stop when the caller's context has no deadline.
const DefaultShutdownTimeout = 5 * time.Second

type (
	// Server serves a handler on a TCP address. A Server is single-use:
	// once stopped or failed, create a new one.
	Server struct {
		addr    string
		handler http.Handler
		logger  *slog.Logger

		state   atomic.Int32
		stateMu sync.Mutex
		lastErr error

		httpServer *http.Server
		listener   net.Listener
		startedCh  chan struct{}
		errCh      chan error
		wg         sync.WaitGroup
	}

	// Option configures a Server.
	Option func(*Server)
)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a server for addr ("host:port"; port 0 picks a free port).
func New(addr string, handler http.Handler, opts ...Option) *Server {
	s := &Server{
		addr:      addr,
		handler:   handler,
		logger:    slog.Default(),
		startedCh: make(chan struct{}),
		errCh:     make(chan error, 1),
	}
	s.state.Store(int32(StateCreated))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current lifecycle state.
func (s *Server) State() State { return State(s.state.Load()) }

// Err delivers a Serve failure that happened after Start returned.
func (s *Server) Err() <-chan error { return s.errCh }

// LastError returns the error that moved the server to StateFailed.
func (s *Server) LastError() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.lastErr
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Start binds the listener and serves in the background. It returns once the
// server accepts connections.
func (s *Server) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		s.fail(fmt.Errorf("context cancelled before start: %w", err))
		return s.LastError()
	}
	if !s.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return fmt.Errorf("cannot start server in state %s", s.State())
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		s.fail(fmt.Errorf("listen on %s: %w", s.addr, err))
		return s.LastError()
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.fail(fmt.Errorf("serve: %w", err))
		}
	}()

	if s.state.CompareAndSwap(int32(StateStarting), int32(StateRunning)) {
		close(s.startedCh)
	}
	s.logger.Info("health responder listening", "addr", ln.Addr().String())
	return nil
}

// WaitForReady blocks until the server is running or ctx is done.
func (s *Server) WaitForReady(ctx context.Context) error {
	select {
	case <-s.startedCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for server ready: %w", ctx.Err())
	}
}

// Stop drains in-flight requests and closes the listener. Stopping a server
// that never started, or stopping twice, is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	if !s.transitionToStopping() {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultShutdownTimeout)
		defer cancel()
	}
	err := s.httpServer.Shutdown(ctx)
	s.wg.Wait()
	s.state.Store(int32(StateStopped))
	if err != nil {
		return fmt.Errorf("shutdown health responder: %w", err)
	}
	return nil
}

// Serve starts the server and blocks until ctx is done or serving fails,
// then stops it within grace.
func (s *Server) Serve(ctx context.Context, grace time.Duration) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-s.errCh:
	}
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil && serveErr == nil {
		return err
	}
	return serveErr
}

func (s *Server) transitionToStopping() bool {
	for {
		current := s.State()
		switch current {
		case StateCreated:
			if s.state.CompareAndSwap(int32(StateCreated), int32(StateStopped)) {
				return false
			}
		case StateStarting, StateRunning:
			if s.state.CompareAndSwap(int32(current), int32(StateStopping)) {
				return true
			}
		default:
			return false
		}
	}
}

func (s *Server) fail(err error) {
	s.stateMu.Lock()
	s.lastErr = err
	s.stateMu.Unlock()
	s.state.Store(int32(StateFailed))
	select {
	case s.errCh <- err:
	default:
	}
}
