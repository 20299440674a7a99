// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/holomush/modhost/internal/module"
	"github.com/holomush/modhost/internal/module/lua"
	pluginpkg "github.com/holomush/modhost/pkg/plugin"
)

// ManifestFile is the manifest filename looked up in each plugin directory.
const ManifestFile = "plugin.yaml"

// Type identifies the module backend a plugin is built for.
type Type string

// Plugin types supported by the host.
const (
	// TypeNative is a Go shared object built with -buildmode=plugin.
	TypeNative Type = "native"
	// TypeLua is a Lua script.
	TypeLua Type = "lua"
	// TypeProcess is an executable served over hashicorp/go-plugin.
	TypeProcess Type = "process"
)

// DefaultLuaModule is the script loaded for lua plugins that name no module.
const DefaultLuaModule = "main.lua"

// Manifest represents a plugin.yaml file.
type Manifest struct {
	Name         string   `yaml:"name" json:"name" jsonschema:"pattern=^[a-z]([a-z0-9-]*[a-z0-9])?$,maxLength=64"`
	Version      string   `yaml:"version" json:"version" jsonschema:"minLength=1"`
	Type         Type     `yaml:"type" json:"type" jsonschema:"enum=native,enum=lua,enum=process"`
	Description  string   `yaml:"description,omitempty" json:"description,omitempty"`
	Module       string   `yaml:"module,omitempty" json:"module,omitempty"`
	Activate     string   `yaml:"activate,omitempty" json:"activate,omitempty"`
	Deactivate   string   `yaml:"deactivate,omitempty" json:"deactivate,omitempty"`
	Requires     []string `yaml:"requires,omitempty" json:"requires,omitempty"`
	Capabilities []string `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	HostAPI      string   `yaml:"host_api,omitempty" json:"host_api,omitempty"`
}

// ParseManifest parses and validates a plugin.yaml file.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	if err := pluginpkg.ValidateName(m.Name); err != nil {
		return err
	}

	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("version %q is not a semantic version: %w", m.Version, err)
	}

	switch m.Type {
	case TypeNative, TypeLua, TypeProcess:
	default:
		return fmt.Errorf("type must be 'native', 'lua' or 'process', got %q", m.Type)
	}

	if m.Module != "" {
		if !filepath.IsLocal(m.Module) {
			return fmt.Errorf("module %q must be a relative path inside the plugin directory", m.Module)
		}
		if err := m.checkModuleKind(m.Module); err != nil {
			return err
		}
	}

	for _, req := range m.Requires {
		if err := pluginpkg.ValidateName(req); err != nil {
			return fmt.Errorf("requires: %w", err)
		}
		if req == m.Name {
			return fmt.Errorf("plugin %q cannot require itself", m.Name)
		}
	}

	for i, c := range m.Capabilities {
		if strings.TrimSpace(c) == "" {
			return fmt.Errorf("capabilities[%d] is empty", i)
		}
	}

	if m.HostAPI != "" {
		if _, err := semver.NewConstraint(m.HostAPI); err != nil {
			return fmt.Errorf("host_api %q: %w", m.HostAPI, err)
		}
	}

	return nil
}

// checkModuleKind rejects a module file the host would route to a
// different backend than the declared type.
func (m *Manifest) checkModuleKind(file string) error {
	isLua := strings.EqualFold(filepath.Ext(file), lua.Extension)
	isLib := module.IsLibrary(file)

	switch m.Type {
	case TypeNative:
		if !isLib {
			return fmt.Errorf("native module %q must be a shared library", file)
		}
	case TypeLua:
		if !isLua {
			return fmt.Errorf("lua module %q must have the %s extension", file, lua.Extension)
		}
	case TypeProcess:
		if isLua || isLib {
			return fmt.Errorf("process module %q must be an executable", file)
		}
	}
	return nil
}

// ModuleFile returns the module filename relative to the plugin directory,
// applying the per-type default when the manifest names none.
func (m *Manifest) ModuleFile() string {
	if m.Module != "" {
		return m.Module
	}
	switch m.Type {
	case TypeNative:
		return module.LibraryFilename(m.Name)
	case TypeLua:
		return DefaultLuaModule
	default:
		return m.Name
	}
}

// ModulePath returns the module path for a plugin installed in dir.
func (m *Manifest) ModulePath(dir string) string {
	return filepath.Join(dir, m.ModuleFile())
}

// Descriptor converts the manifest into the descriptor handed to the Server.
func (m *Manifest) Descriptor() pluginpkg.Descriptor {
	return pluginpkg.Descriptor{
		Name:             m.Name,
		Version:          m.Version,
		ActivateSymbol:   m.Activate,
		DeactivateSymbol: m.Deactivate,
		Requires:         append([]string(nil), m.Requires...),
		Capabilities:     append([]string(nil), m.Capabilities...),
		HostAPI:          m.HostAPI,
	}
}
