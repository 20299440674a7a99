// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package lua loads modules written in Lua into sandboxed gopher-lua states.
//
// Each open module gets its own state. The script's top-level chunk runs at
// open; its globals are the module's symbols. Functions resolve to entry
// points called as:
//
//	function Activate(core)   -- returns a plugin table, or nil and an error
//	function Deactivate()     -- returns nothing, or nil and an error
//
// The plugin table may carry name and version fields and a release method
// the host calls to destroy it. An optional global Descriptor table holds
// name, version, requires, capabilities, host_api, activate and deactivate.
//
// The core passed to Activate exposes get, register, unregister and has,
// called with method syntax (core:get("Renderer")). Failures are returned
// as a nil first value and an error string.
package lua

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/modhost/internal/module"
	"github.com/holomush/modhost/pkg/plugin"
)

// Extension is the file extension routed to this backend.
const Extension = ".lua"

var errClosed = errors.New("lua state is closed")

// Loader opens Lua script modules.
type Loader struct {
	sandbox sandbox
	logger  *slog.Logger
}

// Option configures the Loader.
type Option func(*Loader)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// WithCallStackSize limits how deep a script may recurse.
func WithCallStackSize(n int) Option {
	return func(ld *Loader) {
		if n > 0 {
			ld.sandbox.callStackSize = n
		}
	}
}

// New creates a Lua module loader.
func New(opts ...Option) *Loader {
	l := &Loader{sandbox: sandbox{callStackSize: DefaultCallStackSize}, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Open implements module.Opener.
func (l *Loader) Open(ctx context.Context, path string) (*module.Handle, error) {
	if err := module.CheckPath(path); err != nil {
		return nil, err
	}
	code, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, module.LoadFailedError(path, err)
	}

	L, err := l.sandbox.newState(ctx)
	if err != nil {
		return nil, module.LoadFailedError(path, err)
	}

	chunk, err := L.Load(bytes.NewReader(code), filepath.Base(path))
	if err != nil {
		L.Close()
		return nil, module.LoadFailedError(path, fmt.Errorf("syntax error: %w", err))
	}

	L.SetContext(ctx)
	L.Push(chunk)
	err = L.PCall(0, 0, nil)
	L.RemoveContext()
	if err != nil {
		L.Close()
		return nil, module.LoadFailedError(path, fmt.Errorf("initialization failed: %w", err))
	}

	l.logger.Debug("lua module loaded", "path", path)
	return module.NewHandle(path, &image{path: path, L: L}), nil
}

// image is one loaded script. Its state is not safe for concurrent use, so
// every call into it holds mu.
type image struct {
	path   string
	mu     sync.Mutex
	L      *lua.LState
	closed bool
}

func (i *image) Lookup(symbol string) (module.Symbol, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil, module.SymbolNotFoundError(i.path, symbol, errClosed)
	}

	v := i.L.GetGlobal(symbol)
	switch val := v.(type) {
	case *lua.LNilType:
		return nil, module.SymbolNotFoundError(i.path, symbol, errors.New("global is nil"))
	case *lua.LFunction:
		return &Function{img: i, name: symbol, fn: val}, nil
	case *lua.LTable:
		if symbol == plugin.DescriptorSymbol {
			return descriptorFrom(val), nil
		}
	}
	return v, nil
}

func (i *image) Unmap() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.closed {
		i.closed = true
		i.L.Close()
	}
	return nil
}

// call runs fn with mu held by the caller and returns exactly nret results.
func (i *image) call(ctx context.Context, fn lua.LValue, nret int, args ...lua.LValue) ([]lua.LValue, error) {
	if i.closed {
		return nil, errClosed
	}

	i.L.SetContext(ctx)
	defer i.L.RemoveContext()

	if err := i.L.CallByParam(lua.P{Fn: fn, NRet: nret, Protect: true}, args...); err != nil {
		return nil, err
	}
	rets := make([]lua.LValue, nret)
	for k := range nret {
		rets[k] = i.L.Get(k - nret)
	}
	i.L.Pop(nret)
	return rets, nil
}

// Function is an exported Lua function. It can serve as either entry point.
type Function struct {
	img  *image
	name string
	fn   *lua.LFunction
}

var _ plugin.EntryPoint = (*Function)(nil)

// Name returns the global the function was resolved from.
func (f *Function) Name() string {
	return f.name
}

// AsActivate implements plugin.EntryPoint.
func (f *Function) AsActivate() plugin.ActivateFunc {
	return func(ctx context.Context, core plugin.Core) (plugin.Plugin, error) {
		f.img.mu.Lock()
		defer f.img.mu.Unlock()

		rets, err := f.img.call(ctx, f.fn, 2, f.img.coreTable(core))
		if err != nil {
			return nil, err
		}
		if err := errorValue(rets[1]); err != nil {
			return nil, err
		}
		switch obj := rets[0].(type) {
		case *lua.LNilType:
			return nil, nil
		case *lua.LTable:
			return f.img.newPlugin(obj), nil
		default:
			return nil, fmt.Errorf("%s returned a %s, want a table", f.name, obj.Type())
		}
	}
}

// AsDeactivate implements plugin.EntryPoint.
func (f *Function) AsDeactivate() plugin.DeactivateFunc {
	return func(ctx context.Context) error {
		f.img.mu.Lock()
		defer f.img.mu.Unlock()

		rets, err := f.img.call(ctx, f.fn, 2)
		if err != nil {
			return err
		}
		return errorValue(rets[1])
	}
}

// scriptPlugin is the plugin object returned by a script's Activate.
type scriptPlugin struct {
	img   *image
	table *lua.LTable
	info  plugin.Info
}

func (i *image) newPlugin(t *lua.LTable) *scriptPlugin {
	info := plugin.Info{Name: stringField(t, "name"), Version: stringField(t, "version")}
	if info.Name == "" || info.Version == "" {
		if d, ok := i.L.GetGlobal(plugin.DescriptorSymbol).(*lua.LTable); ok {
			desc := descriptorFrom(d)
			if info.Name == "" {
				info.Name = desc.Name
			}
			if info.Version == "" {
				info.Version = desc.Version
			}
		}
	}
	return &scriptPlugin{img: i, table: t, info: info}
}

func (p *scriptPlugin) Info() plugin.Info {
	return p.info
}

// Release calls the table's release method if it has one.
func (p *scriptPlugin) Release(ctx context.Context) error {
	p.img.mu.Lock()
	defer p.img.mu.Unlock()

	fn, ok := p.table.RawGetString("release").(*lua.LFunction)
	if !ok {
		return nil
	}
	rets, err := p.img.call(ctx, fn, 2, p.table)
	if err != nil {
		return err
	}
	return errorValue(rets[1])
}

func errorValue(v lua.LValue) error {
	if v == lua.LNil || v == lua.LFalse {
		return nil
	}
	return errors.New(v.String())
}

func descriptorFrom(t *lua.LTable) plugin.Descriptor {
	return plugin.Descriptor{
		Name:             stringField(t, "name"),
		Version:          stringField(t, "version"),
		ActivateSymbol:   stringField(t, "activate"),
		DeactivateSymbol: stringField(t, "deactivate"),
		Requires:         stringsField(t, "requires"),
		Capabilities:     stringsField(t, "capabilities"),
		HostAPI:          stringField(t, "host_api"),
	}
}

func stringField(t *lua.LTable, key string) string {
	if s, ok := t.RawGetString(key).(lua.LString); ok {
		return string(s)
	}
	return ""
}

func stringsField(t *lua.LTable, key string) []string {
	list, ok := t.RawGetString(key).(*lua.LTable)
	if !ok {
		return nil
	}
	var out []string
	for k := 1; k <= list.Len(); k++ {
		out = append(out, list.RawGetInt(k).String())
	}
	return out
}
