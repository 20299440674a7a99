// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package module

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// Sentinel errors for programmatic error checking.
var (
	// ErrModuleNotFound is returned when the module file does not exist.
	ErrModuleNotFound = errors.New("module not found")
	// ErrModuleLoadFailed is returned when the loader rejects the module image.
	ErrModuleLoadFailed = errors.New("module load failed")
	// ErrSymbolNotFound is returned when a module does not export a symbol.
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrModuleClosed is returned when resolving symbols on a closed handle.
	ErrModuleClosed = errors.New("module closed")
	// ErrModuleInUse is returned when closing a handle that still has
	// symbol-derived objects alive.
	ErrModuleInUse = errors.New("module in use")
)

// Error codes attached to oops errors from this package.
const (
	CodeModuleNotFound   = "MODULE_NOT_FOUND"
	CodeModuleLoadFailed = "MODULE_LOAD_FAILED"
	CodeSymbolNotFound   = "SYMBOL_NOT_FOUND"
	CodeModuleClosed     = "MODULE_CLOSED"
	CodeModuleInUse      = "MODULE_IN_USE"
)

// NotFoundError reports a missing module file. cause may be nil.
func NotFoundError(path string, cause error) error {
	return oops.In("module").Code(CodeModuleNotFound).With("path", path).Wrap(withCause(ErrModuleNotFound, cause))
}

// LoadFailedError reports a module image the loader could not map.
func LoadFailedError(path string, cause error) error {
	return oops.In("module").Code(CodeModuleLoadFailed).With("path", path).Wrap(withCause(ErrModuleLoadFailed, cause))
}

// SymbolNotFoundError reports a symbol the module does not export.
func SymbolNotFoundError(path, symbol string, cause error) error {
	return oops.In("module").Code(CodeSymbolNotFound).
		With("path", path).
		With("symbol", symbol).
		Wrap(withCause(ErrSymbolNotFound, cause))
}

func withCause(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}
