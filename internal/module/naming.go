// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package module

import (
	"path/filepath"
	"runtime"
	"strings"
)

// Platform shared-library filename convention for the running OS.
var (
	LibraryPrefix, LibraryExt = libraryConvention(runtime.GOOS)
)

func libraryConvention(goos string) (prefix, ext string) {
	switch goos {
	case "windows":
		return "", ".dll"
	case "darwin", "ios":
		return "lib", ".dylib"
	default:
		return "lib", ".so"
	}
}

// LibraryFilename returns the platform filename for a shared library
// named name, e.g. "audio" -> "libaudio.so".
func LibraryFilename(name string) string {
	return LibraryPrefix + name + LibraryExt
}

// IsLibrary reports whether path carries a shared-library extension for
// any supported platform.
func IsLibrary(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".so", ".dylib", ".dll":
		return true
	default:
		return false
	}
}
