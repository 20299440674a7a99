// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package module wraps dynamically loaded module images behind one handle
// type. Backends (Go shared objects, go-plugin executables, Lua scripts)
// provide an Image; Handle adds the lifecycle rules every backend shares.
package module

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/samber/oops"
)

// Symbol is an untyped exported value: a function, a variable pointer or a
// backend-specific proxy.
type Symbol = any

// Image is a mapped module as seen by a backend.
type Image interface {
	// Lookup returns the exported symbol, or an error wrapping
	// ErrSymbolNotFound.
	Lookup(symbol string) (Symbol, error)

	// Unmap releases the image. Called at most once.
	Unmap() error
}

// Opener maps module images from paths.
type Opener interface {
	// Open maps the module at path. Errors wrap ErrModuleNotFound or
	// ErrModuleLoadFailed.
	Open(ctx context.Context, path string) (*Handle, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, path string) (*Handle, error)

// Open implements Opener.
func (f OpenerFunc) Open(ctx context.Context, path string) (*Handle, error) {
	return f(ctx, path)
}

// Handle is one open module image.
//
// Handle is safe for concurrent use.
type Handle struct {
	path   string
	image  Image
	mu     sync.Mutex
	pins   int
	closed bool
}

// NewHandle wraps an image opened from path.
// Panics if image is nil.
func NewHandle(path string, image Image) *Handle {
	if image == nil {
		panic("module: image cannot be nil")
	}
	return &Handle{path: path, image: image}
}

// Path returns the path the module was opened from.
func (h *Handle) Path() string {
	return h.path
}

// Resolve looks up an exported symbol. Safe to call repeatedly.
func (h *Handle) Resolve(symbol string) (Symbol, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, oops.In("module").Code(CodeModuleClosed).
			With("path", h.path).
			With("symbol", symbol).
			Wrap(ErrModuleClosed)
	}

	sym, err := h.image.Lookup(symbol)
	if err != nil {
		if errors.Is(err, ErrSymbolNotFound) {
			return nil, err
		}
		return nil, SymbolNotFoundError(h.path, symbol, err)
	}
	return sym, nil
}

// Retain records a live object derived from one of the module's symbols.
// The handle cannot be closed until every Retain is matched by a Release.
func (h *Handle) Retain() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return oops.In("module").Code(CodeModuleClosed).With("path", h.path).Wrap(ErrModuleClosed)
	}
	h.pins++
	return nil
}

// Release drops a reference taken with Retain.
func (h *Handle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.pins > 0 {
		h.pins--
	}
}

// InUse reports whether symbol-derived objects are still alive.
func (h *Handle) InUse() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pins > 0
}

// Closed reports whether Close has completed.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Close unmaps the module. A second Close is a no-op. Fails with
// ErrModuleInUse while retained objects are outstanding.
//
// The handle is marked closed even if the backend fails to unmap, so no
// further lookups reach a half-released image.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	if h.pins > 0 {
		return oops.In("module").Code(CodeModuleInUse).
			With("path", h.path).
			With("references", h.pins).
			Wrap(ErrModuleInUse)
	}

	h.closed = true
	if err := h.image.Unmap(); err != nil {
		return oops.In("module").With("path", h.path).With("operation", "unmap").Wrap(err)
	}
	return nil
}

// CheckPath verifies the module file exists before a backend tries to map
// it, so a missing file is reported as ErrModuleNotFound on every platform.
func CheckPath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NotFoundError(path, err)
		}
		return LoadFailedError(path, err)
	}
	if info.IsDir() {
		return LoadFailedError(path, errors.New("path is a directory"))
	}
	return nil
}
