// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package core provides the Engine Core: the composition root that owns the
// engine's subsystems and exposes them to plugins by name.
//
// The Engine Core knows nothing about plugin loading. Plugins receive a
// Scoped view of it at activation and register their services through that
// view; the runtime depends on the core, never the reverse.
package core

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/modhost/pkg/plugin"
)

// Error codes attached to oops errors from this package.
const (
	CodeSubsystemNotFound          = "SUBSYSTEM_NOT_FOUND"
	CodeSubsystemAlreadyRegistered = "SUBSYSTEM_ALREADY_REGISTERED"
	CodeInvalidSubsystem           = "INVALID_SUBSYSTEM"
	CodeCapabilityDenied           = "CAPABILITY_DENIED"
)

// HostOwner is the owner recorded for subsystems the host registers itself.
const HostOwner = ""

// Compile-time interface check.
var _ plugin.Core = (*Engine)(nil)

// Stopper is implemented by host subsystems that need an orderly stop when
// the engine shuts down.
type Stopper interface {
	Stop(ctx context.Context) error
}

// SubsystemInfo describes a registered subsystem.
type SubsystemInfo struct {
	ID           string
	Owner        string
	RegisteredAt time.Time
}

type subsystem struct {
	info     SubsystemInfo
	instance any
}

// Engine is the process-wide subsystem table.
//
// Engine is safe for concurrent use. The lock is held only while the table
// is read or mutated, never while a subsystem's own code runs.
type Engine struct {
	subsystems map[string]*subsystem
	order      []string
	logger     *slog.Logger
	mu         sync.RWMutex
}

// Option configures the Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an empty Engine Core.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		subsystems: make(map[string]*subsystem),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Subsystem returns the subsystem registered under id.
func (e *Engine) Subsystem(id string) (any, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s, ok := e.subsystems[id]
	if !ok {
		return nil, notFound(id)
	}
	return s.instance, nil
}

// RegisterSubsystem registers a host-owned subsystem.
func (e *Engine) RegisterSubsystem(id string, instance any) error {
	return e.Register(HostOwner, id, instance)
}

// Register adds a subsystem on behalf of owner.
func (e *Engine) Register(owner, id string, instance any) error {
	if id == "" {
		return oops.In("core").Code(CodeInvalidSubsystem).With("owner", owner).
			Wrapf(plugin.ErrInvalidSubsystem, "subsystem id is empty")
	}
	if instance == nil {
		return oops.In("core").Code(CodeInvalidSubsystem).With("subsystem", id).With("owner", owner).
			Wrapf(plugin.ErrInvalidSubsystem, "subsystem instance is nil")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.subsystems[id]; ok {
		return oops.In("core").Code(CodeSubsystemAlreadyRegistered).
			With("subsystem", id).
			With("owner", owner).
			With("registered_by", existing.info.Owner).
			Wrap(plugin.ErrSubsystemAlreadyRegistered)
	}

	e.subsystems[id] = &subsystem{
		info:     SubsystemInfo{ID: id, Owner: owner, RegisteredAt: time.Now()},
		instance: instance,
	}
	e.order = append(e.order, id)
	return nil
}

// UnregisterSubsystem removes the subsystem registered under id.
func (e *Engine) UnregisterSubsystem(id string) error {
	return e.unregisterIf(id, nil)
}

// unregisterIf removes id when allow accepts its entry. A nil allow accepts
// every entry.
func (e *Engine) unregisterIf(id string, allow func(SubsystemInfo) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.subsystems[id]
	if !ok {
		return notFound(id)
	}
	if allow != nil {
		if err := allow(s.info); err != nil {
			return err
		}
	}
	delete(e.subsystems, id)
	e.order = slices.DeleteFunc(e.order, func(s string) bool { return s == id })
	return nil
}

// UnregisterOwned removes every subsystem registered by owner and returns
// their ids in registration order. Host-owned entries are never removed.
func (e *Engine) UnregisterOwned(owner string) []string {
	if owner == HostOwner {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var removed []string
	e.order = slices.DeleteFunc(e.order, func(id string) bool {
		if e.subsystems[id].info.Owner != owner {
			return false
		}
		delete(e.subsystems, id)
		removed = append(removed, id)
		return true
	})
	return removed
}

// Has reports whether id is registered.
func (e *Engine) Has(id string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.subsystems[id]
	return ok
}

// Subsystems returns all registered subsystems in registration order.
func (e *Engine) Subsystems() []SubsystemInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]SubsystemInfo, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.subsystems[id].info)
	}
	return out
}

// OwnedBy returns the ids registered by owner, in registration order.
func (e *Engine) OwnedBy(owner string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var ids []string
	for _, id := range e.order {
		if e.subsystems[id].info.Owner == owner {
			ids = append(ids, id)
		}
	}
	return ids
}

// Shutdown stops host-owned subsystems implementing Stopper in reverse
// registration order, then empties the table. Plugin-owned entries are
// dropped without being stopped; releasing them is the plugin's job.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	order := e.order
	subsystems := e.subsystems
	e.order = nil
	e.subsystems = make(map[string]*subsystem)
	e.mu.Unlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		s := subsystems[order[i]]
		if s.info.Owner != HostOwner {
			e.logger.Warn("dropping plugin subsystem at shutdown",
				"subsystem", s.info.ID,
				"owner", s.info.Owner)
			continue
		}
		stopper, ok := s.instance.(Stopper)
		if !ok {
			continue
		}
		if err := stopper.Stop(ctx); err != nil {
			errs = append(errs, oops.In("core").With("subsystem", s.info.ID).Wrapf(err, "stop subsystem"))
		}
	}
	return errors.Join(errs...)
}

// Lookup returns the subsystem registered under id as a T.
func Lookup[T any](c plugin.Core, id string) (T, error) {
	var zero T
	raw, err := c.Subsystem(id)
	if err != nil {
		return zero, err
	}
	typed, ok := raw.(T)
	if !ok {
		return zero, oops.In("core").Code(CodeInvalidSubsystem).
			With("subsystem", id).
			Errorf("subsystem %s has type %T, want %T", id, raw, zero)
	}
	return typed, nil
}

func notFound(id string) error {
	return oops.In("core").Code(CodeSubsystemNotFound).With("subsystem", id).Wrap(plugin.ErrSubsystemNotFound)
}
