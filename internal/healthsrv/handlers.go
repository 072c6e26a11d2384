// SPDX-License-Identifier: MPL-2.0

package healthsrv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDatabaseNotConfigured is reported by /health/db when no pinger was supplied.
var ErrDatabaseNotConfigured = errors.New("database not configured")

type (
	// Info identifies the application in the /health message.
	Info struct {
		Name    string
		Version string
	}

	// Pinger checks database reachability.
	Pinger interface {
		Ping(ctx context.Context) error
	}

	// PoolPinger runs SELECT 1 through a pgx connection pool.
	PoolPinger struct {
		Pool *pgxpool.Pool
	}

	response struct {
		Status  string `json:"status"`
		Message string `json:"message,omitempty"`
	}

	ctxKey string

	statusRecorder struct {
		http.ResponseWriter
		status int
	}
)

const ctxKeyRequestID ctxKey = "request_id"

// Ping implements Pinger.
func (p PoolPinger) Ping(ctx context.Context) error {
	var one int
	if err := p.Pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("select 1: %w", err)
	}
	return nil
}

// NewPoolPinger opens a lazily connecting pool for dsn.
func NewPoolPinger(ctx context.Context, dsn string) (PoolPinger, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return PoolPinger{}, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 2
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return PoolPinger{}, fmt.Errorf("open database pool: %w", err)
	}
	return PoolPinger{Pool: pool}, nil
}

// Close releases the pool.
func (p PoolPinger) Close() {
	if p.Pool != nil {
		p.Pool.Close()
	}
}

// Message is the /health body message for info.
func (i Info) Message() string {
	return fmt.Sprintf("Application (%s) version %s is running smoothly!", i.Name, i.Version)
}

// NewRouter returns the health routes. db may be nil.
func NewRouter(info Info, db Pinger, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware(logger))
	r.Use(loggingMiddleware(logger))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, response{Status: "ok", Message: info.Message()})
	})
	r.Get("/health/db", func(w http.ResponseWriter, req *http.Request) {
		err := ErrDatabaseNotConfigured
		if db != nil {
			ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
			defer cancel()
			err = db.Ping(ctx)
		}
		if err != nil {
			logger.WarnContext(req.Context(), "database health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, response{Status: "error", Message: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, response{Status: "ok"})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID, reqID)))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

func recoverMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.ErrorContext(r.Context(), "panic recovered",
						"request_id", requestID(r.Context()),
						"path", r.URL.Path,
						"panic", rec,
					)
					writeJSON(w, http.StatusInternalServerError, response{Status: "error", Message: "internal server error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.DebugContext(r.Context(), "http request",
				"request_id", requestID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status_code", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
