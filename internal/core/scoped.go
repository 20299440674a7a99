// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package core

import (
	"github.com/samber/oops"

	"github.com/holomush/modhost/pkg/plugin"
)

// Capability prefixes checked by Scoped. The subsystem id is appended.
const (
	CapSubsystemGet        = "subsystem.get."
	CapSubsystemRegister   = "subsystem.register."
	CapSubsystemUnregister = "subsystem.unregister."
)

// Checker decides whether a plugin holds a capability.
// capability.Enforcer satisfies it.
type Checker interface {
	Check(plugin, capability string) bool
}

var _ plugin.Core = (*Scoped)(nil)

// Scoped is the view of an Engine handed to one plugin. Registrations made
// through it are recorded as owned by that plugin.
type Scoped struct {
	engine  *Engine
	owner   string
	checker Checker
}

// NewScoped creates a view of engine for owner. A nil checker grants every
// capability.
func NewScoped(engine *Engine, owner string, checker Checker) *Scoped {
	return &Scoped{engine: engine, owner: owner, checker: checker}
}

// Owner returns the plugin the view belongs to.
func (s *Scoped) Owner() string {
	return s.owner
}

// Subsystem implements plugin.Core.
func (s *Scoped) Subsystem(id string) (any, error) {
	if err := s.require(CapSubsystemGet + id); err != nil {
		return nil, err
	}
	return s.engine.Subsystem(id)
}

// RegisterSubsystem implements plugin.Core.
func (s *Scoped) RegisterSubsystem(id string, instance any) error {
	if err := s.require(CapSubsystemRegister + id); err != nil {
		return err
	}
	return s.engine.Register(s.owner, id, instance)
}

// UnregisterSubsystem implements plugin.Core. A plugin may remove only its
// own subsystems unless the checker grants the unregister capability for id.
func (s *Scoped) UnregisterSubsystem(id string) error {
	if err := s.require(CapSubsystemUnregister + id); err != nil {
		return err
	}
	return s.engine.unregisterIf(id, func(info SubsystemInfo) error {
		if info.Owner == s.owner || s.checker != nil {
			return nil
		}
		return oops.In("core").Code(CodeCapabilityDenied).
			With("plugin", s.owner).
			With("subsystem", id).
			With("owner", info.Owner).
			Wrapf(plugin.ErrCapabilityDenied, "subsystem %s is owned by %q", id, info.Owner)
	})
}

func (s *Scoped) require(capability string) error {
	if s.checker == nil || s.checker.Check(s.owner, capability) {
		return nil
	}
	return oops.In("core").Code(CodeCapabilityDenied).
		With("plugin", s.owner).
		With("capability", capability).
		Wrap(plugin.ErrCapabilityDenied)
}
