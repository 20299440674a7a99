// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package capability enforces the Engine Core access a plugin was granted.
//
// Capabilities are dotted names such as "subsystem.get.Renderer". Grants are
// gobwas/glob patterns with '.' as the segment separator:
//   - '*' matches within a single segment
//   - '**' matches across segments
//
// Examples:
//   - "subsystem.get.*" matches "subsystem.get.Renderer"
//   - "subsystem.**" matches every subsystem capability
//   - "**" matches any capability
package capability

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gobwas/glob"
)

type compiledGrant struct {
	pattern string
	glob    glob.Glob
}

// Enforcer checks plugin capabilities at runtime.
//
// Enforcer is safe for concurrent use. The zero value is ready to use.
type Enforcer struct {
	grants map[string][]compiledGrant // plugin name -> compiled grants
	mu     sync.RWMutex
}

// NewEnforcer creates a capability enforcer.
func NewEnforcer() *Enforcer {
	return &Enforcer{
		grants: make(map[string][]compiledGrant),
	}
}

// SetGrants replaces the capabilities granted to a plugin. Every pattern is
// compiled before anything changes; on error the enforcer is untouched.
//
// Patterns use gobwas/glob with '.' as the segment separator:
//   - '*' matches a single segment (does not cross '.')
//   - '**' matches zero or more segments (crosses '.')
//
// Examples:
//   - "subsystem.get.Mixer" - exact match only
//   - "subsystem.register.Audio*" - registers any id starting with "Audio"
//   - "subsystem.get.*" - reads any subsystem
//   - "subsystem.**" - every subsystem operation
//   - "**" - any capability
//
// Empty patterns and invalid glob syntax (e.g. "subsystem.get.[bad") are
// rejected.
func (e *Enforcer) SetGrants(plugin string, capabilities []string) error {
	if plugin == "" {
		return errors.New("plugin name cannot be empty")
	}

	compiled := make([]compiledGrant, len(capabilities))
	for i, pattern := range capabilities {
		if pattern == "" {
			return fmt.Errorf("capability %d: empty capability pattern", i)
		}
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return fmt.Errorf("capability %d (%q): %w", i, pattern, err)
		}
		compiled[i] = compiledGrant{pattern: pattern, glob: g}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.grants == nil {
		e.grants = make(map[string][]compiledGrant)
	}
	e.grants[plugin] = compiled
	return nil
}

// IsRegistered reports whether SetGrants was called for plugin.
func (e *Enforcer) IsRegistered(plugin string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, ok := e.grants[plugin]
	return ok
}

// RemoveGrants drops every grant held by plugin. Unknown plugins are ignored.
func (e *Enforcer) RemoveGrants(plugin string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.grants, plugin)
}

// GetGrants returns a copy of the patterns granted to plugin, or nil if the
// plugin is not registered.
func (e *Enforcer) GetGrants(plugin string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	grants, ok := e.grants[plugin]
	if !ok {
		return nil
	}
	patterns := make([]string, len(grants))
	for i, g := range grants {
		patterns[i] = g.pattern
	}
	return patterns
}

// ListPlugins returns the registered plugin names, sorted.
func (e *Enforcer) ListPlugins() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	plugins := make([]string, 0, len(e.grants))
	for name := range e.grants {
		plugins = append(plugins, name)
	}
	sort.Strings(plugins)
	return plugins
}

// Check reports whether plugin holds capability. Unknown plugins and empty
// capabilities are denied.
//
// With the grant "subsystem.get.*", Check("audio", "subsystem.get.Mixer")
// is true and Check("audio", "subsystem.register.Mixer") is false.
func (e *Enforcer) Check(plugin, capability string) bool {
	if capability == "" {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, grant := range e.grants[plugin] {
		if grant.glob.Match(capability) {
			return true
		}
	}
	return false
}
