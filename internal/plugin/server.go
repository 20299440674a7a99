// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package plugin loads, activates and unloads plugins on behalf of the host.
//
// The Server owns the plugin registry. It reaches module files only through
// a module.Opener and hands each plugin a scoped view of the Engine Core at
// activation. The Manager sits on top of the Server and turns plugin.yaml
// manifests into load requests.
package plugin

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"

	"github.com/holomush/modhost/internal/core"
	"github.com/holomush/modhost/internal/module"
	"github.com/holomush/modhost/internal/plugin/capability"
	"github.com/holomush/modhost/pkg/errutil"
	pluginpkg "github.com/holomush/modhost/pkg/plugin"
)

// HostAPIVersion is the plugin API version this host implements. Plugins
// declaring a host_api constraint are checked against it.
const HostAPIVersion = "1.0.0"

// UnloadFailure reports a plugin that could not be unloaded cleanly during a
// sweep.
type UnloadFailure struct {
	Name string
	Err  error
}

// Server manages plugin lifecycles.
//
// Server is safe for concurrent use. Its mutex guards the registry and is
// never held while module or plugin code runs.
type Server struct {
	opener   module.Opener
	engine   *core.Engine
	enforcer *capability.Enforcer
	hostAPI  *semver.Version
	metrics  *Metrics
	logger   *slog.Logger

	mu       sync.Mutex
	registry *Registry
	deps     map[string][]string // runtime dependencies: dependent -> dependencies
	closed   bool
}

// ServerOption configures the Server.
type ServerOption func(*Server)

// WithEnforcer enforces descriptor capabilities on Engine Core access.
// Without it plugins get unrestricted access.
func WithEnforcer(e *capability.Enforcer) ServerOption {
	return func(s *Server) {
		s.enforcer = e
	}
}

// WithHostAPIVersion overrides HostAPIVersion.
func WithHostAPIVersion(v *semver.Version) ServerOption {
	return func(s *Server) {
		if v != nil {
			s.hostAPI = v
		}
	}
}

// WithMetrics records lifecycle metrics.
func WithMetrics(m *Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a plugin server.
// Panics if opener or engine is nil.
func NewServer(opener module.Opener, engine *core.Engine, opts ...ServerOption) *Server {
	if opener == nil {
		panic("plugin: opener cannot be nil")
	}
	if engine == nil {
		panic("plugin: engine cannot be nil")
	}
	s := &Server{
		opener:   opener,
		engine:   engine,
		hostAPI:  semver.MustParse(HostAPIVersion),
		logger:   slog.Default(),
		registry: NewRegistry(),
		deps:     make(map[string][]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadPlugin loads the module at path and registers it under name.
// Everything else about the plugin comes from the module's exported
// descriptor, if it has one.
func (s *Server) LoadPlugin(ctx context.Context, name, path string) error {
	return s.LoadDescriptor(ctx, pluginpkg.Descriptor{Name: name}, path)
}

// LoadDescriptor loads the module at path using desc. Fields desc leaves
// empty are filled from the module's exported descriptor.
//
// A failed load leaves no registry entry behind and the module closed.
func (s *Server) LoadDescriptor(ctx context.Context, desc pluginpkg.Descriptor, path string) (err error) {
	start := time.Now()
	defer func() { s.metrics.loaded(start, err) }()

	if verr := desc.Validate(); verr != nil {
		return oops.In("plugin").Code(CodeInvalidDescriptor).With("plugin", desc.Name).With("path", path).
			Wrap(withCause(ErrInvalidDescriptor, verr))
	}

	inst, err := s.reserve(desc, path)
	if err != nil {
		return err
	}

	if err := s.activate(ctx, inst); err != nil {
		s.mu.Lock()
		s.registry.Remove(inst.Name())
		delete(s.deps, inst.Name())
		s.mu.Unlock()
		errutil.LogError(s.logger, "plugin load failed", err, "plugin", inst.Name())
		return err
	}

	s.mu.Lock()
	if s.closed {
		inst.state = StateUnloading
		s.mu.Unlock()
		return s.abandon(ctx, inst)
	}
	inst.state = StateActive
	info := inst.info()
	s.mu.Unlock()

	s.logger.Info("plugin loaded",
		"plugin", info.Name,
		"version", info.Version,
		"instance", info.ID.String(),
		"path", path)
	return nil
}

// reserve claims name with a Loading entry.
func (s *Server) reserve(desc pluginpkg.Descriptor, path string) (*Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, oops.In("plugin").Code(CodeServerClosed).With("plugin", desc.Name).Wrap(ErrServerClosed)
	}
	if existing, ok := s.registry.Get(desc.Name); ok {
		return nil, oops.In("plugin").Code(CodeAlreadyLoaded).
			With("plugin", desc.Name).
			With("state", existing.state.String()).
			Wrap(ErrAlreadyLoaded)
	}
	if err := s.checkRequiresLocked(desc); err != nil {
		return nil, err
	}

	inst := newInstance(desc, path)
	s.registry.Insert(inst)
	return inst, nil
}

func (s *Server) checkRequiresLocked(desc pluginpkg.Descriptor) error {
	for _, req := range desc.Requires {
		dep, ok := s.registry.Get(req)
		if !ok || dep.state != StateActive {
			return oops.In("plugin").Code(CodeDependencyMissing).
				With("plugin", desc.Name).
				With("requires", req).
				Wrap(ErrDependencyMissing)
		}
	}
	return nil
}

// activate opens the module and runs its activation entry point. The
// registry lock is not held.
func (s *Server) activate(ctx context.Context, inst *Instance) error {
	name := inst.Name()

	h, err := s.opener.Open(ctx, inst.path)
	if err != nil {
		return oops.In("plugin").With("plugin", name).Wrap(err)
	}

	ok := false
	defer func() {
		if !ok {
			s.closeModule(h, name)
		}
	}()

	desc, err := s.resolveDescriptor(h, inst)
	if err != nil {
		return err
	}

	activateSym, deactivateSym := desc.EntrySymbols()
	sym, err := h.Resolve(activateSym)
	if err != nil {
		return oops.In("plugin").Code(CodeEntryPointMissing).
			With("plugin", name).
			With("symbol", activateSym).
			Wrap(withCause(ErrEntryPointMissing, err))
	}
	activate, isFunc := pluginpkg.AsActivateFunc(sym)
	if !isFunc {
		return oops.In("plugin").Code(CodeEntryPointMissing).
			With("plugin", name).
			With("symbol", activateSym).
			Wrapf(ErrEntryPointMissing, "symbol has type %T", sym)
	}

	var deactivate pluginpkg.DeactivateFunc
	if sym, err := h.Resolve(deactivateSym); err == nil {
		fn, isFunc := pluginpkg.AsDeactivateFunc(sym)
		if !isFunc {
			return oops.In("plugin").Code(CodeEntryPointMissing).
				With("plugin", name).
				With("symbol", deactivateSym).
				Wrapf(ErrEntryPointMissing, "symbol has type %T", sym)
		}
		deactivate = fn
	}

	if err := s.grant(desc); err != nil {
		return err
	}

	obj, err := activate(ctx, core.NewScoped(s.engine, name, s.checker()))
	if err == nil && obj == nil {
		err = errors.New("activation returned no plugin object")
	}
	if err != nil {
		s.revoke(name)
		s.rollback(name)
		return oops.In("plugin").Code(CodeActivationFailed).
			With("plugin", name).
			Wrap(withCause(ErrActivationFailed, err))
	}

	if err := h.Retain(); err != nil {
		_ = s.release(ctx, name, obj)
		s.revoke(name)
		s.rollback(name)
		return oops.In("plugin").With("plugin", name).Wrap(err)
	}

	ok = true
	s.mu.Lock()
	inst.handle = h
	inst.object = obj
	inst.deactivate = deactivate
	inst.loadedAt = time.Now()
	s.mu.Unlock()
	return nil
}

// resolveDescriptor merges the module's exported descriptor into the
// instance's and re-checks what the merge may have added.
func (s *Server) resolveDescriptor(h *module.Handle, inst *Instance) (pluginpkg.Descriptor, error) {
	s.mu.Lock()
	desc := inst.descriptor
	s.mu.Unlock()

	if sym, err := h.Resolve(pluginpkg.DescriptorSymbol); err == nil {
		exported, isDesc := pluginpkg.AsDescriptor(sym)
		if !isDesc {
			return desc, oops.In("plugin").Code(CodeInvalidDescriptor).
				With("plugin", desc.Name).
				Wrapf(ErrInvalidDescriptor, "exported descriptor has type %T", sym)
		}
		if exported.Name != "" && exported.Name != desc.Name {
			s.logger.Debug("module descriptor name differs from registry key",
				"plugin", desc.Name,
				"module_name", exported.Name)
		}
		desc = desc.Merge(exported)
	}

	if err := desc.Validate(); err != nil {
		return desc, oops.In("plugin").Code(CodeInvalidDescriptor).With("plugin", desc.Name).
			Wrap(withCause(ErrInvalidDescriptor, err))
	}
	if err := s.checkHostAPI(desc); err != nil {
		return desc, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRequiresLocked(desc); err != nil {
		return desc, err
	}
	inst.descriptor = desc
	return desc, nil
}

func (s *Server) checkHostAPI(desc pluginpkg.Descriptor) error {
	if desc.HostAPI == "" {
		return nil
	}
	c, err := semver.NewConstraint(desc.HostAPI)
	if err != nil {
		return oops.In("plugin").Code(CodeInvalidDescriptor).
			With("plugin", desc.Name).
			With("host_api", desc.HostAPI).
			Wrapf(withCause(ErrInvalidDescriptor, err), "host_api")
	}
	if !c.Check(s.hostAPI) {
		return oops.In("plugin").Code(CodeIncompatibleVersion).
			With("plugin", desc.Name).
			With("host_api", desc.HostAPI).
			With("host_version", s.hostAPI.String()).
			Wrap(ErrIncompatibleVersion)
	}
	return nil
}

func (s *Server) checker() core.Checker {
	if s.enforcer == nil {
		return nil
	}
	return s.enforcer
}

func (s *Server) grant(desc pluginpkg.Descriptor) error {
	if s.enforcer == nil {
		return nil
	}
	if err := s.enforcer.SetGrants(desc.Name, desc.Capabilities); err != nil {
		return oops.In("plugin").Code(CodeInvalidDescriptor).
			With("plugin", desc.Name).
			Wrapf(withCause(ErrInvalidDescriptor, err), "capabilities")
	}
	return nil
}

func (s *Server) revoke(name string) {
	if s.enforcer != nil {
		s.enforcer.RemoveGrants(name)
	}
}

// UnloadPlugin deactivates and releases the named plugin and closes its
// module. Fails with ErrPluginNotFound unless the plugin is active and with
// ErrUnloadBlocked while other plugins depend on it.
//
// Deactivation and release failures are reported as ErrDeactivationFailed
// after the plugin has been removed anyway.
func (s *Server) UnloadPlugin(ctx context.Context, name string) error {
	s.mu.Lock()
	inst, ok := s.registry.Get(name)
	if !ok || inst.state != StateActive {
		s.mu.Unlock()
		return oops.In("plugin").Code(CodePluginNotFound).With("plugin", name).Wrap(ErrPluginNotFound)
	}
	if dependents := s.dependentsLocked(name); len(dependents) > 0 {
		s.mu.Unlock()
		return oops.In("plugin").Code(CodeUnloadBlocked).
			With("plugin", name).
			With("dependents", dependents).
			Wrap(ErrUnloadBlocked)
	}
	inst.state = StateUnloading
	s.mu.Unlock()

	err := s.teardown(ctx, inst)
	s.revoke(name)
	s.warnLeaked(name)

	s.mu.Lock()
	inst.state = StateUnloaded
	s.registry.Remove(name)
	delete(s.deps, name)
	s.mu.Unlock()

	s.metrics.unloaded(err)
	s.logger.Info("plugin unloaded", "plugin", name, "instance", inst.id.String())
	return err
}

// teardown runs with the instance in Unloading, which keeps every other
// caller away from its object and handle.
func (s *Server) teardown(ctx context.Context, inst *Instance) error {
	name := inst.Name()
	var errs []error

	if inst.deactivate != nil {
		if err := inst.deactivate(ctx); err != nil {
			err = oops.In("plugin").Code(CodeDeactivationFailed).
				With("plugin", name).
				With("operation", "deactivate").
				Wrap(withCause(ErrDeactivationFailed, err))
			errutil.LogError(s.logger, "plugin deactivation failed", err, "plugin", name)
			errs = append(errs, err)
		}
	}

	if err := s.release(ctx, name, inst.object); err != nil {
		errs = append(errs, err)
	}
	inst.object = nil

	inst.handle.Release()
	s.closeModule(inst.handle, name)
	inst.handle = nil
	return errors.Join(errs...)
}

// abandon undoes a load that completed activation after Close.
func (s *Server) abandon(ctx context.Context, inst *Instance) error {
	name := inst.Name()
	_ = s.teardown(ctx, inst)
	s.revoke(name)
	s.rollback(name)

	s.mu.Lock()
	inst.state = StateUnloaded
	s.registry.Remove(name)
	delete(s.deps, name)
	s.mu.Unlock()

	err := oops.In("plugin").Code(CodeServerClosed).With("plugin", name).Wrap(ErrServerClosed)
	errutil.LogError(s.logger, "plugin load failed", err, "plugin", name)
	return err
}

func (s *Server) release(ctx context.Context, name string, obj pluginpkg.Plugin) error {
	if err := obj.Release(ctx); err != nil {
		err = oops.In("plugin").Code(CodeDeactivationFailed).
			With("plugin", name).
			With("operation", "release").
			Wrap(withCause(ErrDeactivationFailed, err))
		errutil.LogError(s.logger, "plugin release failed", err, "plugin", name)
		return err
	}
	return nil
}

// closeModule closes h, logging failures. Close failures never abort an
// unload.
func (s *Server) closeModule(h *module.Handle, name string) {
	if err := h.Close(); err != nil {
		errutil.LogError(s.logger, "module close failed", err, "plugin", name, "path", h.Path())
	}
}

// rollback drops the subsystems a plugin registered before its load failed.
func (s *Server) rollback(name string) {
	if removed := s.engine.UnregisterOwned(name); len(removed) > 0 {
		s.logger.Warn("removed subsystems registered by failed plugin",
			"plugin", name,
			"subsystems", removed)
	}
}

func (s *Server) warnLeaked(name string) {
	if leaked := s.engine.OwnedBy(name); len(leaked) > 0 {
		s.logger.Warn("plugin left subsystems registered in the engine core",
			"plugin", name,
			"subsystems", leaked)
	}
}

// UnloadAll unloads every active plugin, latest loaded first, and keeps
// going past failures. Plugins blocked by a runtime dependency are retried
// once their dependents are gone.
func (s *Server) UnloadAll(ctx context.Context) []UnloadFailure {
	var failures []UnloadFailure
	pending := s.activeReversed()

	for len(pending) > 0 {
		var blocked []string
		for _, name := range pending {
			err := s.UnloadPlugin(ctx, name)
			switch {
			case err == nil:
			case errors.Is(err, ErrUnloadBlocked):
				blocked = append(blocked, name)
			case errors.Is(err, ErrPluginNotFound):
				// Unloaded concurrently.
			default:
				failures = append(failures, UnloadFailure{Name: name, Err: err})
			}
		}
		if len(blocked) == len(pending) {
			for _, name := range blocked {
				failures = append(failures, UnloadFailure{
					Name: name,
					Err:  oops.In("plugin").Code(CodeUnloadBlocked).With("plugin", name).Wrap(ErrUnloadBlocked),
				})
			}
			break
		}
		pending = blocked
	}
	return failures
}

func (s *Server) activeReversed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var names []string
	for _, inst := range s.registry.Reversed() {
		if inst.state == StateActive {
			names = append(names, inst.Name())
		}
	}
	return names
}

// Close refuses further loads and unloads every plugin.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	failures := s.UnloadAll(ctx)
	errs := make([]error, len(failures))
	for i, f := range failures {
		errs[i] = f.Err
	}
	return errors.Join(errs...)
}

// AddDependency records that dependent uses dependency at runtime, so
// dependency cannot be unloaded first. Both must be loaded.
func (s *Server) AddDependency(dependent, dependency string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range []string{dependent, dependency} {
		if _, ok := s.registry.Get(name); !ok {
			return oops.In("plugin").Code(CodePluginNotFound).With("plugin", name).Wrap(ErrPluginNotFound)
		}
	}
	if dependent == dependency || s.dependsOnLocked(dependency, dependent) {
		return oops.In("plugin").Code(CodeDependencyCycle).
			With("dependent", dependent).
			With("dependency", dependency).
			Wrap(ErrDependencyCycle)
	}
	if !slices.Contains(s.deps[dependent], dependency) {
		s.deps[dependent] = append(s.deps[dependent], dependency)
	}
	return nil
}

// dependsOnLocked reports whether from reaches to through declared or
// runtime dependencies.
func (s *Server) dependsOnLocked(from, to string) bool {
	seen := make(map[string]bool)
	stack := []string{from}
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if name == to {
			return true
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		stack = append(stack, s.dependenciesLocked(name)...)
	}
	return false
}

func (s *Server) dependenciesLocked(name string) []string {
	var out []string
	if inst, ok := s.registry.Get(name); ok {
		out = append(out, inst.descriptor.Requires...)
	}
	return append(out, s.deps[name]...)
}

func (s *Server) dependentsLocked(name string) []string {
	var out []string
	for _, inst := range s.registry.Ordered() {
		other := inst.Name()
		if other != name && slices.Contains(s.dependenciesLocked(other), name) {
			out = append(out, other)
		}
	}
	return out
}

// Dependents returns the loaded plugins that depend on name.
func (s *Server) Dependents(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dependentsLocked(name)
}

// IsLoaded reports whether name is active.
func (s *Server) IsLoaded(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.registry.Get(name)
	return ok && inst.state == StateActive
}

// Lookup returns a snapshot of the named plugin in any registered state.
func (s *Server) Lookup(name string) (Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.registry.Get(name)
	if !ok {
		return Info{}, false
	}
	return inst.info(), true
}

// Plugins returns snapshots of every registered plugin in load order.
func (s *Server) Plugins() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.registry.Ordered()
	out := make([]Info, len(entries))
	for i, inst := range entries {
		out[i] = inst.info()
	}
	return out
}

// Ready reports whether the server accepts loads.
func (s *Server) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}
