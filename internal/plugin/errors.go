// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"errors"
	"fmt"
)

// Sentinel errors for programmatic error checking.
var (
	// ErrInvalidDescriptor is returned when a descriptor or manifest fails validation.
	ErrInvalidDescriptor = errors.New("invalid plugin descriptor")
	// ErrAlreadyLoaded is returned when loading a name that is already registered.
	ErrAlreadyLoaded = errors.New("plugin already loaded")
	// ErrPluginNotFound is returned when operating on a name that is not active.
	ErrPluginNotFound = errors.New("plugin not found")
	// ErrEntryPointMissing is returned when the activation symbol is absent or mistyped.
	ErrEntryPointMissing = errors.New("entry point missing")
	// ErrActivationFailed is returned when the activation entry point fails.
	ErrActivationFailed = errors.New("plugin activation failed")
	// ErrDeactivationFailed is returned when deactivation or release fails. The
	// plugin is unloaded regardless.
	ErrDeactivationFailed = errors.New("plugin deactivation failed")
	// ErrUnloadBlocked is returned when other loaded plugins depend on the target.
	ErrUnloadBlocked = errors.New("plugin unload blocked by dependents")
	// ErrDependencyMissing is returned when a required plugin is not active.
	ErrDependencyMissing = errors.New("plugin dependency missing")
	// ErrDependencyCycle is returned when dependencies form a cycle.
	ErrDependencyCycle = errors.New("plugin dependency cycle")
	// ErrIncompatibleVersion is returned when a plugin's host API constraint
	// excludes the running host.
	ErrIncompatibleVersion = errors.New("incompatible host API version")
	// ErrServerClosed is returned for loads after Close.
	ErrServerClosed = errors.New("plugin server is closed")
)

// Error codes attached to oops errors from this package.
const (
	CodeInvalidDescriptor   = "INVALID_DESCRIPTOR"
	CodeAlreadyLoaded       = "ALREADY_LOADED"
	CodePluginNotFound      = "PLUGIN_NOT_FOUND"
	CodeEntryPointMissing   = "ENTRY_POINT_MISSING"
	CodeActivationFailed    = "ACTIVATION_FAILED"
	CodeDeactivationFailed  = "DEACTIVATION_FAILED"
	CodeUnloadBlocked       = "UNLOAD_BLOCKED"
	CodeDependencyMissing   = "DEPENDENCY_MISSING"
	CodeDependencyCycle     = "DEPENDENCY_CYCLE"
	CodeIncompatibleVersion = "INCOMPATIBLE_VERSION"
	CodeServerClosed        = "SERVER_CLOSED"
)

// withCause keeps both sentinel and cause reachable through errors.Is.
func withCause(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}
