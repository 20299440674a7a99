// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package module_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/modhost/internal/module"
	"github.com/holomush/modhost/internal/module/moduletest"
)

func TestMux_RoutesByExtension(t *testing.T) {
	libs := moduletest.NewOpener()
	libs.Add("plugins/libaudio.so", nil)
	scripts := moduletest.NewOpener()
	scripts.Add("plugins/audio.LUA", nil)
	procs := moduletest.NewOpener()
	procs.Add("plugins/audio", nil)

	mux := module.NewMux(
		module.WithLibraries(libs),
		module.WithExtension(".lua", scripts),
		module.WithFallback(procs),
	)
	ctx := context.Background()

	_, err := mux.Open(ctx, "plugins/libaudio.so")
	require.NoError(t, err)
	_, err = mux.Open(ctx, "plugins/audio.LUA")
	require.NoError(t, err)
	_, err = mux.Open(ctx, "plugins/audio")
	require.NoError(t, err)

	assert.Equal(t, []string{"plugins/libaudio.so"}, libs.Opens())
	assert.Equal(t, []string{"plugins/audio.LUA"}, scripts.Opens())
	assert.Equal(t, []string{"plugins/audio"}, procs.Opens())
}

func TestMux_NoBackend(t *testing.T) {
	dir := t.TempDir()
	mux := module.NewMux()
	ctx := context.Background()

	t.Run("missing file reports not found", func(t *testing.T) {
		_, err := mux.Open(ctx, filepath.Join(dir, "audio.wasm"))
		assert.ErrorIs(t, err, module.ErrModuleNotFound)
	})

	t.Run("existing file reports load failure", func(t *testing.T) {
		path := filepath.Join(dir, "audio.wasm")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
		_, err := mux.Open(ctx, path)
		require.Error(t, err)
		assert.ErrorIs(t, err, module.ErrModuleLoadFailed)
		assert.Contains(t, err.Error(), ".wasm")
	})
}

func TestLibraryFilename(t *testing.T) {
	got := module.LibraryFilename("audio")
	switch runtime.GOOS {
	case "windows":
		assert.Equal(t, "audio.dll", got)
	case "darwin", "ios":
		assert.Equal(t, "libaudio.dylib", got)
	default:
		assert.Equal(t, "libaudio.so", got)
	}
	assert.True(t, module.IsLibrary(got))
}

func TestIsLibrary(t *testing.T) {
	assert.True(t, module.IsLibrary("libaudio.so"))
	assert.True(t, module.IsLibrary("AUDIO.DLL"))
	assert.True(t, module.IsLibrary("libaudio.dylib"))
	assert.False(t, module.IsLibrary("audio.lua"))
	assert.False(t, module.IsLibrary("audio"))
}
