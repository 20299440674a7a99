// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build !((linux || darwin || freebsd) && cgo)

package native

import (
	"errors"
	"runtime"

	"github.com/holomush/modhost/internal/module"
)

const supported = false

func open(string) (module.Image, error) {
	return nil, errors.New("go shared objects are not supported on " + runtime.GOOS + " or without cgo")
}
