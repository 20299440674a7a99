// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package plugin defines the contract between the modhost runtime and the
// modules it loads.
//
// A module exports up to three symbols:
//
//	var Descriptor = plugin.Descriptor{Name: "audio", Version: "1.0.0"}
//
//	func Activate(ctx context.Context, core plugin.Core) (plugin.Plugin, error)
//
//	func Deactivate(ctx context.Context) error
//
// Only the activation symbol is required. The names are conventions; a
// descriptor may declare different ones.
package plugin

import (
	"context"
	"errors"
)

// Default exported symbol names.
const (
	DescriptorSymbol = "Descriptor"
	ActivateSymbol   = "Activate"
	DeactivateSymbol = "Deactivate"
)

// Sentinel errors shared by every Core implementation so plugins can match
// them with errors.Is regardless of where the Core lives.
var (
	ErrSubsystemNotFound          = errors.New("subsystem not found")
	ErrSubsystemAlreadyRegistered = errors.New("subsystem already registered")
	ErrInvalidSubsystem           = errors.New("invalid subsystem")
	ErrCapabilityDenied           = errors.New("capability denied")
)

// Core is the view of the engine handed to a plugin at activation.
// Plugins read engine subsystems through it and register their own.
type Core interface {
	// Subsystem returns the subsystem registered under id.
	Subsystem(id string) (any, error)

	// RegisterSubsystem adds a subsystem. Fails if id is taken.
	RegisterSubsystem(id string, instance any) error

	// UnregisterSubsystem removes a subsystem. Plugins are expected to
	// remove what they registered before they are released.
	UnregisterSubsystem(id string) error
}

// Info is what a live plugin object reports about itself.
type Info struct {
	Name    string
	Version string
}

// Plugin is the capability interface every plugin object implements.
type Plugin interface {
	// Info reports the plugin's name and version.
	Info() Info

	// Release destroys the plugin object. The host calls it exactly once,
	// after deactivation and before the module that produced the object is
	// closed.
	Release(ctx context.Context) error
}

// ActivateFunc is the signature of the activation entry point.
type ActivateFunc func(ctx context.Context, core Core) (Plugin, error)

// DeactivateFunc is the signature of the optional deactivation entry point.
type DeactivateFunc func(ctx context.Context) error

// EntryPoint is a callable symbol whose role is decided by the caller.
// Script backends return one for every exported function.
type EntryPoint interface {
	AsActivate() ActivateFunc
	AsDeactivate() DeactivateFunc
}

// AsActivateFunc converts a resolved symbol into an ActivateFunc.
// Go shared objects expose functions either as plain func values or as
// pointers to package-level func variables; both are accepted.
func AsActivateFunc(sym any) (ActivateFunc, bool) {
	switch fn := sym.(type) {
	case EntryPoint:
		f := fn.AsActivate()
		return f, f != nil
	case ActivateFunc:
		return fn, fn != nil
	case func(context.Context, Core) (Plugin, error):
		return fn, fn != nil
	case *ActivateFunc:
		if fn == nil || *fn == nil {
			return nil, false
		}
		return *fn, true
	case *func(context.Context, Core) (Plugin, error):
		if fn == nil || *fn == nil {
			return nil, false
		}
		return *fn, true
	default:
		return nil, false
	}
}

// AsDeactivateFunc converts a resolved symbol into a DeactivateFunc.
func AsDeactivateFunc(sym any) (DeactivateFunc, bool) {
	switch fn := sym.(type) {
	case EntryPoint:
		f := fn.AsDeactivate()
		return f, f != nil
	case DeactivateFunc:
		return fn, fn != nil
	case func(context.Context) error:
		return fn, fn != nil
	case *DeactivateFunc:
		if fn == nil || *fn == nil {
			return nil, false
		}
		return *fn, true
	case *func(context.Context) error:
		if fn == nil || *fn == nil {
			return nil, false
		}
		return *fn, true
	default:
		return nil, false
	}
}

// Object is a Plugin built from an Info and an optional release callback.
// It suits modules whose plugin object carries no other behavior.
type Object struct {
	info    Info
	release func(ctx context.Context) error
}

// NewObject creates an Object. release may be nil.
func NewObject(info Info, release func(ctx context.Context) error) *Object {
	return &Object{info: info, release: release}
}

// Info implements Plugin.
func (o *Object) Info() Info {
	return o.info
}

// Release implements Plugin.
func (o *Object) Release(ctx context.Context) error {
	if o.release == nil {
		return nil
	}
	return o.release(ctx)
}
