// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package modulerpc_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/holomush/modhost/internal/core"
	"github.com/holomush/modhost/internal/modulerpc"
	"github.com/holomush/modhost/pkg/plugin"
)

type audioModule struct {
	mu          sync.Mutex
	deactivated bool
	released    bool
	renderer    string
}

func (m *audioModule) exports() *modulerpc.Exports {
	return &modulerpc.Exports{
		Descriptor: plugin.Descriptor{Name: "audio", Version: "1.2.0", Requires: []string{"mixer"}},
		Activate: func(_ context.Context, c plugin.Core) (plugin.Plugin, error) {
			r, err := c.Subsystem("Renderer")
			if err != nil {
				return nil, err
			}
			if err := c.RegisterSubsystem("AudioService", map[string]any{"channels": 2}); err != nil {
				return nil, err
			}
			m.mu.Lock()
			m.renderer = r.(*modulerpc.RemoteSubsystem).Type
			m.mu.Unlock()
			return plugin.NewObject(plugin.Info{Name: "audio", Version: "1.2.0"}, func(context.Context) error {
				m.mu.Lock()
				m.released = true
				m.mu.Unlock()
				return c.UnregisterSubsystem("AudioService")
			}), nil
		},
		Deactivate: func(context.Context) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.deactivated = true
			return nil
		},
	}
}

func newModuleClient(t *testing.T, exports *modulerpc.Exports) *modulerpc.ModuleClient {
	t.Helper()
	broker := newPipeBroker()
	conn := serve(t, func(s *grpc.Server) {
		modulerpc.RegisterModuleServer(s, modulerpc.NewModuleServer(exports, broker))
	})
	return modulerpc.NewModuleClient(conn, broker)
}

func TestModule_Lifecycle(t *testing.T) {
	mod := &audioModule{}
	client := newModuleClient(t, mod.exports())
	ctx := context.Background()

	engine := core.NewEngine()
	require.NoError(t, engine.RegisterSubsystem("Renderer", &renderer{}))

	desc, err := client.Describe(ctx)
	require.NoError(t, err)
	assert.Equal(t, "audio", desc.Descriptor.Name)
	assert.Equal(t, "1.2.0", desc.Descriptor.Version)
	assert.Equal(t, []string{"mixer"}, desc.Descriptor.Requires)
	assert.Equal(t, []string{"Descriptor", "Activate", "Deactivate"}, desc.Exports)

	info, err := client.Activate(ctx, core.NewScoped(engine, "audio", nil))
	require.NoError(t, err)
	assert.Equal(t, plugin.Info{Name: "audio", Version: "1.2.0"}, info)
	assert.Equal(t, []string{"AudioService"}, engine.OwnedBy("audio"))

	require.NoError(t, client.Deactivate(ctx))
	require.NoError(t, client.Release(ctx))
	assert.False(t, engine.Has("AudioService"), "plugin cleaned up during release")

	mod.mu.Lock()
	defer mod.mu.Unlock()
	assert.True(t, mod.deactivated)
	assert.True(t, mod.released)
	assert.Equal(t, "*modulerpc_test.renderer", mod.renderer)
}

func TestModule_ActivateFailure(t *testing.T) {
	client := newModuleClient(t, &modulerpc.Exports{
		Descriptor: plugin.Descriptor{Name: "audio"},
		Activate: func(context.Context, plugin.Core) (plugin.Plugin, error) {
			return nil, errors.New("no sound card")
		},
	})

	_, err := client.Activate(context.Background(), core.NewEngine())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sound card")
}

func TestModule_NilPluginObject(t *testing.T) {
	client := newModuleClient(t, &modulerpc.Exports{
		Descriptor: plugin.Descriptor{Name: "audio"},
		Activate: func(context.Context, plugin.Core) (plugin.Plugin, error) {
			return nil, nil
		},
	})

	_, err := client.Activate(context.Background(), core.NewEngine())
	assert.Error(t, err)
}

func TestModule_NoDeactivateExport(t *testing.T) {
	exports := &modulerpc.Exports{Descriptor: plugin.Descriptor{Name: "audio"}}
	client := newModuleClient(t, exports)
	ctx := context.Background()

	desc, err := client.Describe(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Descriptor"}, desc.Exports)

	assert.Error(t, client.Deactivate(ctx))
	assert.NoError(t, client.Release(ctx), "release without an object is a no-op")
}
