// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package moduletest provides in-memory module images for tests.
package moduletest

import (
	"context"
	"errors"
	"sync"

	"github.com/holomush/modhost/internal/module"
)

// Image is an in-memory module image with a fixed symbol table.
type Image struct {
	Path     string
	Symbols  map[string]module.Symbol
	UnmapErr error
	mu       sync.Mutex
	unmapped bool
	lookups  []string
}

// Lookup implements module.Image.
func (i *Image) Lookup(symbol string) (module.Symbol, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.lookups = append(i.lookups, symbol)
	sym, ok := i.Symbols[symbol]
	if !ok {
		return nil, module.SymbolNotFoundError(i.Path, symbol, nil)
	}
	return sym, nil
}

// Unmap implements module.Image.
func (i *Image) Unmap() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.unmapped = true
	return i.UnmapErr
}

// Unmapped reports whether Unmap was called.
func (i *Image) Unmapped() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.unmapped
}

// Lookups returns the symbols looked up so far, in order.
func (i *Image) Lookups() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.lookups...)
}

// Opener serves registered in-memory images by path.
//
// Every Open creates a fresh Handle over the registered image, the way an
// OS loader hands out a new handle per open call.
type Opener struct {
	mu      sync.Mutex
	images  map[string]*Image
	errs    map[string]error
	handles map[string][]*module.Handle
	opens   []string
}

// NewOpener creates an empty Opener.
func NewOpener() *Opener {
	return &Opener{
		images:  make(map[string]*Image),
		errs:    make(map[string]error),
		handles: make(map[string][]*module.Handle),
	}
}

// Add registers symbols under path and returns the backing image.
func (o *Opener) Add(path string, symbols map[string]module.Symbol) *Image {
	o.mu.Lock()
	defer o.mu.Unlock()

	img := &Image{Path: path, Symbols: symbols}
	o.images[path] = img
	return img
}

// Fail makes Open of path fail with err.
func (o *Opener) Fail(path string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs[path] = err
}

// Open implements module.Opener.
func (o *Opener) Open(_ context.Context, path string) (*module.Handle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.opens = append(o.opens, path)
	if err, ok := o.errs[path]; ok {
		return nil, err
	}
	img, ok := o.images[path]
	if !ok {
		return nil, module.NotFoundError(path, errors.New("no such in-memory module"))
	}
	h := module.NewHandle(path, img)
	o.handles[path] = append(o.handles[path], h)
	return h, nil
}

// Handles returns every handle opened for path.
func (o *Opener) Handles(path string) []*module.Handle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*module.Handle(nil), o.handles[path]...)
}

// LastHandle returns the most recent handle opened for path, or nil.
func (o *Opener) LastHandle(path string) *module.Handle {
	hs := o.Handles(path)
	if len(hs) == 0 {
		return nil
	}
	return hs[len(hs)-1]
}

// Opens returns the paths passed to Open, in order.
func (o *Opener) Opens() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.opens...)
}
