// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/modhost/pkg/errutil"
)

// Manager discovers plugins on disk and loads them through a Server.
type Manager struct {
	pluginsDir string
	server     *Server
	logger     *slog.Logger
	loaded     map[string]*DiscoveredPlugin
	mu         sync.RWMutex
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger. Defaults to slog.Default().
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a plugin manager for pluginsDir.
// Panics if server is nil.
func NewManager(pluginsDir string, server *Server, opts ...ManagerOption) *Manager {
	if server == nil {
		panic("plugin: server cannot be nil")
	}
	m := &Manager{
		pluginsDir: pluginsDir,
		server:     server,
		logger:     slog.Default(),
		loaded:     make(map[string]*DiscoveredPlugin),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DiscoveredPlugin contains a manifest and its directory.
type DiscoveredPlugin struct {
	Manifest *Manifest
	Dir      string
}

// ModulePath returns the path the Server opens for this plugin.
func (dp *DiscoveredPlugin) ModulePath() string {
	return dp.Manifest.ModulePath(dp.Dir)
}

// Discover finds all valid plugins in the plugins directory, sorted by
// directory name. Invalid plugins are logged and skipped.
func (m *Manager) Discover(_ context.Context) ([]*DiscoveredPlugin, error) {
	entries, err := os.ReadDir(m.pluginsDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, oops.In("plugin").With("dir", m.pluginsDir).Wrapf(err, "read plugins directory")
	}

	var plugins []*DiscoveredPlugin
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		dp, err := ReadPlugin(filepath.Join(m.pluginsDir, entry.Name()))
		if err != nil {
			m.logger.Warn("skipping plugin with invalid manifest",
				"dir", entry.Name(),
				"error", err)
			continue
		}
		plugins = append(plugins, dp)
	}

	return plugins, nil
}

// ReadPlugin reads and validates the manifest in dir.
func ReadPlugin(dir string) (*DiscoveredPlugin, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile)) //nolint:gosec // dir comes from the configured plugins directory
	if err != nil {
		return nil, err
	}
	if err := ValidateSchema(data); err != nil {
		return nil, err
	}
	manifest, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}
	return &DiscoveredPlugin{Manifest: manifest, Dir: dir}, nil
}

// SortByDependencies orders plugins so that every plugin comes after the
// plugins it requires. Ties keep their input order. Requirements outside
// the set are ignored here; the Server rejects them at load time.
//
// Plugins that sit on or behind a requirement cycle are left out and
// reported in a DependencyCycle error.
func SortByDependencies(plugins []*DiscoveredPlugin) ([]*DiscoveredPlugin, error) {
	byName := make(map[string]*DiscoveredPlugin, len(plugins))
	for _, dp := range plugins {
		byName[dp.Manifest.Name] = dp
	}

	pending := make(map[string]int, len(plugins)) // unresolved requirement count
	dependents := make(map[string][]string)
	for _, dp := range plugins {
		for _, req := range dp.Manifest.Requires {
			if _, ok := byName[req]; !ok {
				continue
			}
			pending[dp.Manifest.Name]++
			dependents[req] = append(dependents[req], dp.Manifest.Name)
		}
	}

	ordered := make([]*DiscoveredPlugin, 0, len(plugins))
	placed := make(map[string]bool, len(plugins))
	for progress := true; progress; {
		progress = false
		for _, dp := range plugins {
			name := dp.Manifest.Name
			if placed[name] || pending[name] > 0 {
				continue
			}
			placed[name] = true
			ordered = append(ordered, dp)
			for _, d := range dependents[name] {
				pending[d]--
			}
			progress = true
		}
	}

	if len(ordered) == len(plugins) {
		return ordered, nil
	}

	var stuck []string
	for _, dp := range plugins {
		if !placed[dp.Manifest.Name] {
			stuck = append(stuck, dp.Manifest.Name)
		}
	}
	return ordered, oops.In("plugin").Code(CodeDependencyCycle).
		With("plugins", stuck).
		Wrapf(ErrDependencyCycle, "plugins %v", stuck)
}

// LoadAll discovers plugins and loads them in dependency order.
//
// Individual failures are logged and skipped so the host starts with
// whatever plugins are healthy. Only a failure to read the plugins directory
// is returned.
func (m *Manager) LoadAll(ctx context.Context) error {
	discovered, err := m.Discover(ctx)
	if err != nil {
		return err
	}

	ordered, err := SortByDependencies(discovered)
	if err != nil {
		errutil.LogError(m.logger, "skipping plugins with cyclic requirements", err)
	}

	for _, dp := range ordered {
		if err := m.Load(ctx, dp); err != nil {
			errutil.LogError(m.logger, "failed to load plugin", err, "plugin", dp.Manifest.Name)
		}
	}
	return nil
}

// Load loads one discovered plugin.
func (m *Manager) Load(ctx context.Context, dp *DiscoveredPlugin) error {
	if err := m.server.LoadDescriptor(ctx, dp.Manifest.Descriptor(), dp.ModulePath()); err != nil {
		return err
	}

	m.mu.Lock()
	m.loaded[dp.Manifest.Name] = dp
	m.mu.Unlock()

	m.logger.Info("loaded plugin",
		"plugin", dp.Manifest.Name,
		"type", dp.Manifest.Type,
		"version", dp.Manifest.Version)
	return nil
}

// Unload unloads a plugin loaded through the manager.
func (m *Manager) Unload(ctx context.Context, name string) error {
	m.mu.RLock()
	_, ok := m.loaded[name]
	m.mu.RUnlock()
	if !ok {
		return oops.In("plugin").Code(CodePluginNotFound).With("plugin", name).Wrap(ErrPluginNotFound)
	}

	err := m.server.UnloadPlugin(ctx, name)
	if err != nil && (errors.Is(err, ErrUnloadBlocked) || errors.Is(err, ErrPluginNotFound)) {
		return err
	}

	m.mu.Lock()
	delete(m.loaded, name)
	m.mu.Unlock()
	return err
}

// ListPlugins returns the names of plugins the manager loaded that are
// still active, sorted.
func (m *Manager) ListPlugins() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.loaded))
	for name := range m.loaded {
		if m.server.IsLoaded(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Plugin returns the discovered plugin the manager loaded under name.
func (m *Manager) Plugin(name string) (*DiscoveredPlugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dp, ok := m.loaded[name]
	return dp, ok
}

// Close unloads every plugin and closes the server.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.loaded = make(map[string]*DiscoveredPlugin)
	m.mu.Unlock()

	if err := m.server.Close(ctx); err != nil {
		return oops.In("plugin").Wrapf(err, "close plugin server")
	}
	return nil
}

// Names returns the manifest names of plugins, in order.
func Names(plugins []*DiscoveredPlugin) []string {
	out := make([]string, len(plugins))
	for i, dp := range plugins {
		out[i] = dp.Manifest.Name
	}
	return out
}
