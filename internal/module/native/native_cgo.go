// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build (linux || darwin || freebsd) && cgo

package native

import (
	"plugin"

	"github.com/holomush/modhost/internal/module"
)

const supported = true

type image struct {
	path string
	p    *plugin.Plugin
}

func open(path string) (module.Image, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	return &image{path: path, p: p}, nil
}

func (i *image) Lookup(symbol string) (module.Symbol, error) {
	sym, err := i.p.Lookup(symbol)
	if err != nil {
		return nil, module.SymbolNotFoundError(i.path, symbol, err)
	}
	return sym, nil
}

// Unmap is a no-op: the runtime keeps shared objects mapped.
func (i *image) Unmap() error {
	return nil
}
