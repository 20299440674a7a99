// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package module

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/samber/oops"
)

// Mux routes Open calls to a backend by file extension.
type Mux struct {
	byExt    map[string]Opener
	fallback Opener
}

// MuxOption configures a Mux.
type MuxOption func(*Mux)

// WithExtension routes files ending in ext (".lua", ".so", ...) to o.
func WithExtension(ext string, o Opener) MuxOption {
	return func(m *Mux) {
		m.byExt[strings.ToLower(ext)] = o
	}
}

// WithLibraries routes every shared-library extension to o.
func WithLibraries(o Opener) MuxOption {
	return func(m *Mux) {
		for _, ext := range []string{".so", ".dylib", ".dll"} {
			m.byExt[ext] = o
		}
	}
}

// WithFallback handles paths no extension matched.
func WithFallback(o Opener) MuxOption {
	return func(m *Mux) {
		m.fallback = o
	}
}

// NewMux creates an extension router.
func NewMux(opts ...MuxOption) *Mux {
	m := &Mux{byExt: make(map[string]Opener)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open implements Opener.
func (m *Mux) Open(ctx context.Context, path string) (*Handle, error) {
	o, ok := m.byExt[strings.ToLower(filepath.Ext(path))]
	if !ok {
		o = m.fallback
	}
	if o == nil {
		if err := CheckPath(path); err != nil {
			return nil, err
		}
		return nil, LoadFailedError(path, oops.Errorf("no loader for extension %q", filepath.Ext(path)))
	}
	return o.Open(ctx, path)
}
