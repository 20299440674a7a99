// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package goplugin loads modules that run as separate executables under
// HashiCorp's go-plugin over gRPC.
//
// Opening a module starts its process and completes the handshake. The
// module's symbol table is whatever it advertises through Describe; the
// entry points resolve to host-side adapters that call into the process.
// Closing the handle kills the process.
package goplugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/modhost/internal/module"
	"github.com/holomush/modhost/internal/modulerpc"
	"github.com/holomush/modhost/pkg/plugin"
	"github.com/holomush/modhost/pkg/pluginsdk"
)

// PluginClient wraps go-plugin client for testability.
type PluginClient interface {
	// Client returns the gRPC client protocol.
	Client() (hashiplug.ClientProtocol, error)
	// Kill terminates the plugin process.
	Kill()
}

// ClientFactory creates plugin clients.
type ClientFactory interface {
	// NewClient creates a client for the given executable path.
	NewClient(execPath string) PluginClient
}

// DefaultClientFactory creates real go-plugin clients.
type DefaultClientFactory struct{}

// NewClient creates a real go-plugin client.
func (f *DefaultClientFactory) NewClient(execPath string) PluginClient {
	return hashiplug.NewClient(&hashiplug.ClientConfig{
		HandshakeConfig:  pluginsdk.HandshakeConfig,
		Plugins:          pluginsdk.PluginMap(nil),
		Cmd:              exec.Command(execPath), // #nosec G204 -- path comes from the host's load request
		AllowedProtocols: []hashiplug.Protocol{hashiplug.ProtocolGRPC},
	})
}

// DefaultRetryBase is the first delay between handshake attempts.
const DefaultRetryBase = 100 * time.Millisecond

// Loader opens out-of-process modules.
type Loader struct {
	factory   ClientFactory
	logger    *slog.Logger
	retries   uint64
	retryBase time.Duration
}

// Option configures the Loader.
type Option func(*Loader)

// WithClientFactory replaces the go-plugin client factory (for testing).
func WithClientFactory(f ClientFactory) Option {
	return func(l *Loader) {
		if f != nil {
			l.factory = f
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(lg *slog.Logger) Option {
	return func(l *Loader) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// WithStartRetries retries a failed process handshake up to n more times,
// doubling the delay from base between attempts. Each attempt starts a
// fresh process. Defaults to no retries.
func WithStartRetries(n uint64, base time.Duration) Option {
	return func(l *Loader) {
		l.retries = n
		if base > 0 {
			l.retryBase = base
		}
	}
}

// New creates an out-of-process module loader.
func New(opts ...Option) *Loader {
	l := &Loader{factory: &DefaultClientFactory{}, logger: slog.Default(), retryBase: DefaultRetryBase}
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

	client, rpcClient, err := l.connect(ctx, path)
	if err != nil {
		return nil, module.LoadFailedError(path, fmt.Errorf("connect: %w", err))
	}

	raw, err := rpcClient.Dispense(modulerpc.PluginName)
	if err != nil {
		client.Kill()
		return nil, module.LoadFailedError(path, fmt.Errorf("dispense: %w", err))
	}

	mod, ok := raw.(modulerpc.Module)
	if !ok {
		client.Kill()
		return nil, module.LoadFailedError(path, fmt.Errorf("dispensed %T does not implement the module protocol", raw))
	}

	desc, err := mod.Describe(ctx)
	if err != nil {
		client.Kill()
		return nil, module.LoadFailedError(path, fmt.Errorf("describe: %w", err))
	}

	l.logger.Debug("module process started",
		"path", path,
		"module", desc.Descriptor.Name,
		"exports", desc.Exports)
	return module.NewHandle(path, newImage(path, client, mod, desc)), nil
}

// connect starts the module process and completes the handshake, retrying
// with a new process per attempt.
func (l *Loader) connect(ctx context.Context, path string) (PluginClient, hashiplug.ClientProtocol, error) {
	var (
		client    PluginClient
		rpcClient hashiplug.ClientProtocol
		attempt   int
	)
	backoff := retry.WithMaxRetries(l.retries, retry.NewExponential(l.retryBase))
	err := retry.Do(ctx, backoff, func(context.Context) error {
		attempt++
		c := l.factory.NewClient(path)
		proto, err := c.Client()
		if err != nil {
			c.Kill()
			l.logger.Debug("module process handshake failed",
				"path", path,
				"attempt", attempt,
				"error", err)
			return retry.RetryableError(err)
		}
		client, rpcClient = c, proto
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return client, rpcClient, nil
}

// image is a running module process.
type image struct {
	path    string
	client  PluginClient
	symbols map[string]module.Symbol
}

func newImage(path string, client PluginClient, mod modulerpc.Module, desc modulerpc.Description) *image {
	img := &image{path: path, client: client, symbols: make(map[string]module.Symbol)}

	activate, deactivate := desc.Descriptor.EntrySymbols()
	for _, name := range desc.Exports {
		switch name {
		case plugin.DescriptorSymbol:
			img.symbols[name] = desc.Descriptor
		case activate:
			img.symbols[name] = plugin.ActivateFunc(func(ctx context.Context, core plugin.Core) (plugin.Plugin, error) {
				info, err := mod.Activate(ctx, core)
				if err != nil {
					return nil, err
				}
				return &remotePlugin{info: info, mod: mod}, nil
			})
		case deactivate:
			img.symbols[name] = plugin.DeactivateFunc(mod.Deactivate)
		}
	}
	return img
}

func (i *image) Lookup(symbol string) (module.Symbol, error) {
	sym, ok := i.symbols[symbol]
	if !ok {
		return nil, module.SymbolNotFoundError(i.path, symbol, errors.New("not exported by module process"))
	}
	return sym, nil
}

func (i *image) Unmap() error {
	i.client.Kill()
	return nil
}

// remotePlugin is the host-side plugin object for a module process.
type remotePlugin struct {
	info plugin.Info
	mod  modulerpc.Module
}

func (p *remotePlugin) Info() plugin.Info {
	return p.info
}

func (p *remotePlugin) Release(ctx context.Context) error {
	return p.mod.Release(ctx)
}
