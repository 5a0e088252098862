// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

// Package logging configures the daemon's structured logger. It mirrors
// the slog conventions used throughout the rest of this codebase: one
// attribute-keyed message per call, a "subsys" attribute identifying the
// emitting component.
package logging

import (
	"context"
	"log/slog"
	"os"
)

// DefaultLogger is the process-wide base logger. InitLogging replaces its
// handler; NewSubsys derives scoped children from it.
var DefaultLogger = slog.New(slog.NewTextHandler(os.Stderr, nil))

// Options configures InitLogging.
type Options struct {
	// Level is the minimum level emitted ("debug", "info", "warn", "error").
	Level string
	// JSON switches the handler from text to JSON output.
	JSON bool
}

// InitLogging installs a handler on DefaultLogger built from opts. It is
// called once, by cmd/lispd's run (from the root command's RunE) right
// after the configuration is populated.
func InitLogging(opts Options) {
	level := parseLevel(opts.Level)
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	DefaultLogger = slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewSubsys returns a logger tagged with a "subsys" attribute, the way
// Cilium's per-package loggers are derived from a shared base logger.
func NewSubsys(name string) *slog.Logger {
	return DefaultLogger.With(slog.String("subsys", name))
}

// FromContext extracts a logger previously attached with WithContext,
// falling back to DefaultLogger.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return DefaultLogger
}

// WithContext attaches logger to ctx for FromContext to retrieve.
func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

type loggerKey struct{}
