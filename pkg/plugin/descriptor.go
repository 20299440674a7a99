// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"fmt"
	"regexp"
	"slices"
)

// MaxNameLength is the maximum allowed length for plugin names.
const MaxNameLength = 64

// namePattern: starts with a lowercase letter, then lowercase letters,
// digits or hyphens, never ending with a hyphen.
var namePattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// Descriptor is the static metadata a module exposes about itself.
type Descriptor struct {
	// Name is the registry key. Unique across loaded plugins.
	Name string

	// Version of the plugin, informational unless the host checks it.
	Version string

	// ActivateSymbol names the activation entry point.
	// Empty means ActivateSymbol.
	ActivateSymbol string

	// DeactivateSymbol names the optional deactivation entry point.
	// Empty means DeactivateSymbol.
	DeactivateSymbol string

	// Requires lists plugins that must be loaded before this one and that
	// cannot be unloaded while this one is loaded.
	Requires []string

	// Capabilities lists the Core access patterns the plugin asks for,
	// e.g. "subsystem.register.AudioService" or "subsystem.get.**".
	Capabilities []string

	// HostAPI is a semver constraint on the host API version, e.g. "^1.0".
	HostAPI string
}

// ValidateName checks that name is a usable registry key.
func ValidateName(name string) error {
	if name == "" || !namePattern.MatchString(name) {
		return fmt.Errorf("name %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", name)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("name must be %d characters or less, got %d", MaxNameLength, len(name))
	}
	return nil
}

// Validate checks descriptor constraints.
func (d Descriptor) Validate() error {
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	for _, req := range d.Requires {
		if err := ValidateName(req); err != nil {
			return fmt.Errorf("requires: %w", err)
		}
		if req == d.Name {
			return fmt.Errorf("plugin %q cannot require itself", d.Name)
		}
	}
	return nil
}

// EntrySymbols returns the activation and deactivation symbol names with
// defaults applied.
func (d Descriptor) EntrySymbols() (activate, deactivate string) {
	activate, deactivate = d.ActivateSymbol, d.DeactivateSymbol
	if activate == "" {
		activate = ActivateSymbol
	}
	if deactivate == "" {
		deactivate = DeactivateSymbol
	}
	return activate, deactivate
}

// Merge fills unset fields of d from the module-exported descriptor.
// Fields the host already set win.
func (d Descriptor) Merge(exported Descriptor) Descriptor {
	out := d
	if out.Version == "" {
		out.Version = exported.Version
	}
	if out.ActivateSymbol == "" {
		out.ActivateSymbol = exported.ActivateSymbol
	}
	if out.DeactivateSymbol == "" {
		out.DeactivateSymbol = exported.DeactivateSymbol
	}
	if len(out.Requires) == 0 {
		out.Requires = slices.Clone(exported.Requires)
	}
	if len(out.Capabilities) == 0 {
		out.Capabilities = slices.Clone(exported.Capabilities)
	}
	if out.HostAPI == "" {
		out.HostAPI = exported.HostAPI
	}
	return out
}

// AsDescriptor converts a resolved Descriptor symbol.
func AsDescriptor(sym any) (Descriptor, bool) {
	switch d := sym.(type) {
	case Descriptor:
		return d, true
	case *Descriptor:
		if d == nil {
			return Descriptor{}, false
		}
		return *d, true
	default:
		return Descriptor{}, false
	}
}
