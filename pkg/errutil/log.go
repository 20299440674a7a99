// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package errutil bridges oops errors into structured logs and tests.
package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs err at error level with its oops code, domain and context.
func LogError(logger *slog.Logger, msg string, err error, args ...any) {
	logAt(logger, slog.LevelError, msg, err, args...)
}

// LogWarn logs err at warn level. Used for failures that are reported but
// do not stop the surrounding operation, such as best-effort teardown.
func LogWarn(logger *slog.Logger, msg string, err error, args ...any) {
	logAt(logger, slog.LevelWarn, msg, err, args...)
}

func logAt(logger *slog.Logger, level slog.Level, msg string, err error, args ...any) {
	if logger == nil {
		logger = slog.Default()
	}
	attrs := append([]any{}, args...)
	attrs = append(attrs, Attrs(err)...)
	logger.Log(context.Background(), level, msg, attrs...)
}

// Attrs returns slog key/value pairs describing err.
// For oops errors it adds the code, domain and context when present.
func Attrs(err error) []any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return []any{"error", err}
	}
	attrs := []any{"error", oopsErr.Error()}
	if code := oopsErr.Code(); code != nil && code != "" {
		attrs = append(attrs, "code", code)
	}
	if domain := oopsErr.Domain(); domain != "" {
		attrs = append(attrs, "domain", domain)
	}
	if ctx := oopsErr.Context(); len(ctx) > 0 {
		attrs = append(attrs, "context", ctx)
	}
	return attrs
}
