// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package core_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/modhost/internal/core"
	"github.com/holomush/modhost/pkg/errutil"
	"github.com/holomush/modhost/pkg/plugin"
)

type audioService struct {
	volume int
}

type stopRecorder struct {
	name string
	log  *[]string
	err  error
}

func (s *stopRecorder) Stop(context.Context) error {
	*s.log = append(*s.log, s.name)
	return s.err
}

func TestEngine_RegisterAndGet(t *testing.T) {
	e := core.NewEngine()
	svc := &audioService{volume: 7}

	require.NoError(t, e.RegisterSubsystem("AudioService", svc))

	got, err := e.Subsystem("AudioService")
	require.NoError(t, err)
	assert.Same(t, svc, got)
	assert.True(t, e.Has("AudioService"))
}

func TestEngine_Subsystem_NotFound(t *testing.T) {
	e := core.NewEngine()

	_, err := e.Subsystem("AudioService")
	require.Error(t, err)
	assert.ErrorIs(t, err, plugin.ErrSubsystemNotFound)
	errutil.AssertErrorCode(t, err, core.CodeSubsystemNotFound)
	errutil.AssertErrorContext(t, err, "subsystem", "AudioService")
}

func TestEngine_Register_Duplicate(t *testing.T) {
	e := core.NewEngine()
	require.NoError(t, e.Register("audio", "AudioService", &audioService{}))

	err := e.RegisterSubsystem("AudioService", &audioService{})
	require.Error(t, err)
	assert.ErrorIs(t, err, plugin.ErrSubsystemAlreadyRegistered)
	errutil.AssertErrorCode(t, err, core.CodeSubsystemAlreadyRegistered)
	errutil.AssertErrorContext(t, err, "registered_by", "audio")
}

func TestEngine_Register_Invalid(t *testing.T) {
	e := core.NewEngine()

	tests := []struct {
		name     string
		id       string
		instance any
	}{
		{name: "empty id", id: "", instance: &audioService{}},
		{name: "nil instance", id: "AudioService", instance: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.RegisterSubsystem(tt.id, tt.instance)
			require.Error(t, err)
			assert.ErrorIs(t, err, plugin.ErrInvalidSubsystem)
			errutil.AssertErrorCode(t, err, core.CodeInvalidSubsystem)
		})
	}
	assert.Empty(t, e.Subsystems())
}

func TestEngine_Unregister(t *testing.T) {
	e := core.NewEngine()
	require.NoError(t, e.RegisterSubsystem("AudioService", &audioService{}))

	require.NoError(t, e.UnregisterSubsystem("AudioService"))
	assert.False(t, e.Has("AudioService"))

	err := e.UnregisterSubsystem("AudioService")
	assert.ErrorIs(t, err, plugin.ErrSubsystemNotFound)
}

func TestEngine_UnregisterOwned(t *testing.T) {
	e := core.NewEngine()
	require.NoError(t, e.RegisterSubsystem("Renderer", &audioService{}))
	require.NoError(t, e.Register("audio", "AudioService", &audioService{}))
	require.NoError(t, e.Register("video", "VideoService", &audioService{}))
	require.NoError(t, e.Register("audio", "Mixer", &audioService{}))

	assert.Equal(t, []string{"AudioService", "Mixer"}, e.UnregisterOwned("audio"))
	assert.Empty(t, e.OwnedBy("audio"))
	assert.Empty(t, e.UnregisterOwned("audio"))

	assert.Empty(t, e.UnregisterOwned(core.HostOwner), "host entries stay")
	assert.True(t, e.Has("Renderer"))

	var ids []string
	for _, s := range e.Subsystems() {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"Renderer", "VideoService"}, ids)

	require.NoError(t, e.Register("audio", "AudioService", &audioService{}), "ids are free again")
}

func TestEngine_Subsystems_PreservesOrder(t *testing.T) {
	e := core.NewEngine()
	require.NoError(t, e.RegisterSubsystem("Renderer", &audioService{}))
	require.NoError(t, e.Register("audio", "AudioService", &audioService{}))
	require.NoError(t, e.Register("audio", "Mixer", &audioService{}))
	require.NoError(t, e.UnregisterSubsystem("Renderer"))
	require.NoError(t, e.RegisterSubsystem("Input", &audioService{}))

	var ids []string
	for _, s := range e.Subsystems() {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"AudioService", "Mixer", "Input"}, ids)
	assert.Equal(t, []string{"AudioService", "Mixer"}, e.OwnedBy("audio"))
	assert.Equal(t, []string{"Input"}, e.OwnedBy(core.HostOwner))
	assert.Empty(t, e.OwnedBy("video"))
}

func TestEngine_Shutdown(t *testing.T) {
	var log []string
	e := core.NewEngine()
	require.NoError(t, e.RegisterSubsystem("first", &stopRecorder{name: "first", log: &log}))
	require.NoError(t, e.RegisterSubsystem("plain", &audioService{}))
	require.NoError(t, e.Register("audio", "owned", &stopRecorder{name: "owned", log: &log}))
	require.NoError(t, e.RegisterSubsystem("second", &stopRecorder{name: "second", log: &log, err: errors.New("stuck")}))

	err := e.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stuck")

	assert.Equal(t, []string{"second", "first"}, log, "host subsystems stop in reverse order; plugin-owned ones are skipped")
	assert.Empty(t, e.Subsystems())
}

func TestLookup(t *testing.T) {
	e := core.NewEngine()
	svc := &audioService{volume: 3}
	require.NoError(t, e.RegisterSubsystem("AudioService", svc))

	t.Run("typed hit", func(t *testing.T) {
		got, err := core.Lookup[*audioService](e, "AudioService")
		require.NoError(t, err)
		assert.Equal(t, 3, got.volume)
	})

	t.Run("wrong type", func(t *testing.T) {
		_, err := core.Lookup[*stopRecorder](e, "AudioService")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, core.CodeInvalidSubsystem)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := core.Lookup[*audioService](e, "Mixer")
		assert.ErrorIs(t, err, plugin.ErrSubsystemNotFound)
	})
}

func TestEngine_ConcurrentAccess(t *testing.T) {
	e := core.NewEngine()
	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n%26))
			_ = e.RegisterSubsystem(id, &audioService{volume: n})
			_, _ = e.Subsystem(id)
			_ = e.Subsystems()
		}(i)
	}
	wg.Wait()
	assert.Len(t, e.Subsystems(), 26)
}
