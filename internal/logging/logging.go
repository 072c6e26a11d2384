// SPDX-License-Identifier: MPL-2.0

// Package logging builds the process logger: a charm logger that also serves
// as the log/slog default handler, so packages can log through slog.
package logging

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Prefix is printed before every text log line.
const Prefix = "inkboot"

// Options configures New.
type Options struct {
	// Level is one of debug, info, warn, error. Unknown values mean info.
	Level string
	// Format is text or json.
	Format string
	// Verbose forces debug level regardless of Level.
	Verbose bool
	// Timestamps prints a time column on each line.
	Timestamps bool
}

// New returns a charm logger writing to w.
func New(w io.Writer, opts Options) *log.Logger {
	level := ParseLevel(opts.Level)
	if opts.Verbose {
		level = log.DebugLevel
	}

	logger := log.NewWithOptions(w, log.Options{
		Prefix:          Prefix,
		Level:           level,
		ReportTimestamp: opts.Timestamps,
		TimeFormat:      time.RFC3339,
	})
	if strings.EqualFold(opts.Format, "json") {
		logger.SetFormatter(log.JSONFormatter)
	}
	return logger
}

// Install makes logger the slog default and returns the slog view of it.
func Install(logger *log.Logger) *slog.Logger {
	sl := slog.New(logger)
	slog.SetDefault(sl)
	return sl
}

// ParseLevel maps a config level name to a charm log level.
func ParseLevel(name string) log.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// Discard returns a slog logger that drops everything. Useful as a default
// for components constructed without a logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
