// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package goplugin_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/modhost/internal/module"
	"github.com/holomush/modhost/internal/module/goplugin"
	"github.com/holomush/modhost/internal/modulerpc"
	"github.com/holomush/modhost/pkg/plugin"
)

// mockClientProtocol implements hashiplug.ClientProtocol for testing.
type mockClientProtocol struct {
	module      any
	dispenseErr error
}

func (m *mockClientProtocol) Close() error { return nil }
func (m *mockClientProtocol) Dispense(string) (any, error) {
	if m.dispenseErr != nil {
		return nil, m.dispenseErr
	}
	return m.module, nil
}
func (m *mockClientProtocol) Ping() error { return nil }

// mockPluginClient implements goplugin.PluginClient for testing.
type mockPluginClient struct {
	protocol  *mockClientProtocol
	clientErr error
	failFirst int
	kills     int
	killed    bool
}

func (m *mockPluginClient) Client() (hashiplug.ClientProtocol, error) {
	if m.failFirst > 0 {
		m.failFirst--
		return nil, errors.New("timeout while waiting for plugin to start")
	}
	if m.clientErr != nil {
		return nil, m.clientErr
	}
	return m.protocol, nil
}

func (m *mockPluginClient) Kill() {
	m.killed = true
	m.kills++
}

type mockClientFactory struct {
	client *mockPluginClient
	paths  []string
}

func (f *mockClientFactory) NewClient(path string) goplugin.PluginClient {
	f.paths = append(f.paths, path)
	return f.client
}

// mockModule implements modulerpc.Module for testing.
type mockModule struct {
	desc        modulerpc.Description
	describeErr error
	activateErr error
	activated   plugin.Core
	calls       []string
}

func (m *mockModule) Describe(context.Context) (modulerpc.Description, error) {
	m.calls = append(m.calls, "describe")
	return m.desc, m.describeErr
}

func (m *mockModule) Activate(_ context.Context, core plugin.Core) (plugin.Info, error) {
	m.calls = append(m.calls, "activate")
	m.activated = core
	if m.activateErr != nil {
		return plugin.Info{}, m.activateErr
	}
	return plugin.Info{Name: m.desc.Descriptor.Name, Version: m.desc.Descriptor.Version}, nil
}

func (m *mockModule) Deactivate(context.Context) error {
	m.calls = append(m.calls, "deactivate")
	return nil
}

func (m *mockModule) Release(context.Context) error {
	m.calls = append(m.calls, "release")
	return nil
}

type nopCore struct{}

func (nopCore) Subsystem(string) (any, error)      { return nil, plugin.ErrSubsystemNotFound }
func (nopCore) RegisterSubsystem(string, any) error { return nil }
func (nopCore) UnregisterSubsystem(string) error    { return nil }

func executable(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audio")
	require.NoError(t, os.WriteFile(path, []byte("dummy"), 0o600))
	return path
}

func newLoader(mod any) (*goplugin.Loader, *mockPluginClient, *mockClientFactory) {
	client := &mockPluginClient{protocol: &mockClientProtocol{module: mod}}
	factory := &mockClientFactory{client: client}
	return goplugin.New(goplugin.WithClientFactory(factory)), client, factory
}

func audioModule() *mockModule {
	return &mockModule{desc: modulerpc.Description{
		Descriptor: plugin.Descriptor{Name: "audio", Version: "1.0.0"},
		Exports:    []string{plugin.DescriptorSymbol, plugin.ActivateSymbol, plugin.DeactivateSymbol},
	}}
}

func TestLoader_Open_Lifecycle(t *testing.T) {
	mod := audioModule()
	loader, client, factory := newLoader(mod)
	path := executable(t)
	ctx := context.Background()

	h, err := loader.Open(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, []string{path}, factory.paths)

	sym, err := h.Resolve(plugin.DescriptorSymbol)
	require.NoError(t, err)
	desc, ok := plugin.AsDescriptor(sym)
	require.True(t, ok)
	assert.Equal(t, "audio", desc.Name)

	sym, err = h.Resolve(plugin.ActivateSymbol)
	require.NoError(t, err)
	activate, ok := plugin.AsActivateFunc(sym)
	require.True(t, ok)

	p, err := activate(ctx, nopCore{})
	require.NoError(t, err)
	assert.Equal(t, plugin.Info{Name: "audio", Version: "1.0.0"}, p.Info())
	assert.Equal(t, nopCore{}, mod.activated)

	sym, err = h.Resolve(plugin.DeactivateSymbol)
	require.NoError(t, err)
	deactivate, ok := plugin.AsDeactivateFunc(sym)
	require.True(t, ok)
	require.NoError(t, deactivate(ctx))
	require.NoError(t, p.Release(ctx))

	assert.Equal(t, []string{"describe", "activate", "deactivate", "release"}, mod.calls)

	assert.False(t, client.killed)
	require.NoError(t, h.Close())
	assert.True(t, client.killed, "closing the handle kills the process")
}

func TestLoader_Open_UnexportedSymbol(t *testing.T) {
	mod := audioModule()
	mod.desc.Exports = []string{plugin.DescriptorSymbol}
	loader, _, _ := newLoader(mod)

	h, err := loader.Open(context.Background(), executable(t))
	require.NoError(t, err)

	_, err = h.Resolve(plugin.ActivateSymbol)
	assert.ErrorIs(t, err, module.ErrSymbolNotFound)
}

func TestLoader_Open_ActivationError(t *testing.T) {
	mod := audioModule()
	mod.activateErr = errors.New("no sound card")
	loader, _, _ := newLoader(mod)

	h, err := loader.Open(context.Background(), executable(t))
	require.NoError(t, err)
	sym, err := h.Resolve(plugin.ActivateSymbol)
	require.NoError(t, err)
	activate, _ := plugin.AsActivateFunc(sym)

	p, err := activate(context.Background(), nopCore{})
	assert.Nil(t, p)
	assert.EqualError(t, err, "no sound card")
}

func TestLoader_Open_MissingExecutable(t *testing.T) {
	loader, _, factory := newLoader(audioModule())

	_, err := loader.Open(context.Background(), filepath.Join(t.TempDir(), "audio"))
	assert.ErrorIs(t, err, module.ErrModuleNotFound)
	assert.Empty(t, factory.paths, "no process is started for a missing file")
}

func TestLoader_Open_Failures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*mockPluginClient)
		want  string
	}{
		{
			name:  "handshake fails",
			setup: func(c *mockPluginClient) { c.clientErr = errors.New("incompatible cookie") },
			want:  "incompatible cookie",
		},
		{
			name:  "dispense fails",
			setup: func(c *mockPluginClient) { c.protocol.dispenseErr = errors.New("unknown plugin type") },
			want:  "unknown plugin type",
		},
		{
			name:  "wrong dispensed type",
			setup: func(c *mockPluginClient) { c.protocol.module = "not a module" },
			want:  "does not implement",
		},
		{
			name: "describe fails",
			setup: func(c *mockPluginClient) {
				mod := audioModule()
				mod.describeErr = errors.New("describe exploded")
				c.protocol.module = mod
			},
			want: "describe exploded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader, client, _ := newLoader(audioModule())
			tt.setup(client)

			_, err := loader.Open(context.Background(), executable(t))
			require.Error(t, err)
			assert.ErrorIs(t, err, module.ErrModuleLoadFailed)
			assert.Contains(t, err.Error(), tt.want)
			assert.True(t, client.killed, "a failed open never leaves a process behind")
		})
	}
}

func TestLoader_Open_RetriesHandshake(t *testing.T) {
	mod := audioModule()
	client := &mockPluginClient{protocol: &mockClientProtocol{module: mod}, failFirst: 2}
	factory := &mockClientFactory{client: client}
	loader := goplugin.New(goplugin.WithClientFactory(factory), goplugin.WithStartRetries(3, time.Millisecond))

	h, err := loader.Open(context.Background(), executable(t))
	require.NoError(t, err)
	assert.Len(t, factory.paths, 3, "a new process per attempt")
	assert.Equal(t, 2, client.kills, "failed attempts are killed")
	require.NoError(t, h.Close())
}

func TestLoader_Open_RetriesExhausted(t *testing.T) {
	client := &mockPluginClient{protocol: &mockClientProtocol{module: audioModule()}, failFirst: 5}
	factory := &mockClientFactory{client: client}
	loader := goplugin.New(goplugin.WithClientFactory(factory), goplugin.WithStartRetries(1, time.Millisecond))

	_, err := loader.Open(context.Background(), executable(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, module.ErrModuleLoadFailed)
	assert.Contains(t, err.Error(), "timeout while waiting")
	assert.Len(t, factory.paths, 2)
}

func TestLoader_Open_NoRetriesByDefault(t *testing.T) {
	client := &mockPluginClient{protocol: &mockClientProtocol{module: audioModule()}, failFirst: 1}
	factory := &mockClientFactory{client: client}
	loader := goplugin.New(goplugin.WithClientFactory(factory))

	_, err := loader.Open(context.Background(), executable(t))
	assert.ErrorIs(t, err, module.ErrModuleLoadFailed)
	assert.Len(t, factory.paths, 1)
}

func TestDefaultClientFactory(t *testing.T) {
	f := &goplugin.DefaultClientFactory{}
	client := f.NewClient(executable(t))
	require.NotNil(t, client)
	client.Kill()
}
