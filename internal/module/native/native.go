// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package native loads Go shared objects built with -buildmode=plugin.
//
// The Go runtime never unmaps a loaded shared object. Closing a handle
// retires it so no further symbols resolve, but the code stays mapped for
// the life of the process and reopening the same path returns the same
// image.
package native

import (
	"context"
	"log/slog"

	"github.com/holomush/modhost/internal/module"
)

// Loader opens Go shared objects.
type Loader struct {
	logger *slog.Logger
}

// Option configures the Loader.
type Option func(*Loader)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// New creates a shared-object loader.
func New(opts ...Option) *Loader {
	l := &Loader{logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Supported reports whether this build can load shared objects.
func Supported() bool {
	return supported
}

// Open implements module.Opener.
func (l *Loader) Open(_ context.Context, path string) (*module.Handle, error) {
	if err := module.CheckPath(path); err != nil {
		return nil, err
	}
	img, err := open(path)
	if err != nil {
		return nil, module.LoadFailedError(path, err)
	}
	l.logger.Debug("shared object mapped", "path", path)
	return module.NewHandle(path, img), nil
}
