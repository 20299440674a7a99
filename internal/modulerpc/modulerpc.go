// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package modulerpc carries the module entry-point contract over gRPC for
// modules that run as separate processes under hashicorp/go-plugin.
//
// Two services are defined, both using well-known protobuf types so no
// generated code is needed:
//
//   - modhost.module.v1.Module is served by the plugin process and mirrors
//     the exported symbols (Descriptor, Activate, Deactivate) plus the plugin
//     object's Release.
//   - modhost.engine.v1.Core is served by the host over the go-plugin broker
//     during activation so the remote plugin can reach the Engine Core.
package modulerpc

import (
	"context"
	"errors"
	"time"

	goplugin "github.com/hashicorp/go-plugin"
	"google.golang.org/grpc"

	"github.com/holomush/modhost/pkg/plugin"
)

// PluginName is the go-plugin dispense key.
const PluginName = "module"

// DefaultCallTimeout bounds Core calls made from the plugin process, since
// plugin.Core methods carry no context.
const DefaultCallTimeout = 5 * time.Second

// Description is what a remote module advertises about itself.
type Description struct {
	Descriptor plugin.Descriptor
	// Exports lists the entry-point symbols the module implements.
	Exports []string
}

// Module is the host's view of a remote module.
type Module interface {
	Describe(ctx context.Context) (Description, error)
	Activate(ctx context.Context, core plugin.Core) (plugin.Info, error)
	Deactivate(ctx context.Context) error
	Release(ctx context.Context) error
}

// Exports is the plugin-process implementation of a module's entry points.
type Exports struct {
	Descriptor plugin.Descriptor
	Activate   plugin.ActivateFunc
	// Deactivate is optional.
	Deactivate plugin.DeactivateFunc
}

// Symbols returns the exported entry-point names.
func (e *Exports) Symbols() []string {
	activate, deactivate := e.Descriptor.EntrySymbols()
	out := []string{plugin.DescriptorSymbol}
	if e.Activate != nil {
		out = append(out, activate)
	}
	if e.Deactivate != nil {
		out = append(out, deactivate)
	}
	return out
}

// ServeBroker starts servers the other side can dial.
// *goplugin.GRPCBroker satisfies it.
type ServeBroker interface {
	NextId() uint32
	AcceptAndServe(id uint32, newServer func([]grpc.ServerOption) *grpc.Server)
}

// DialBroker connects to servers started by the other side.
// *goplugin.GRPCBroker satisfies it.
type DialBroker interface {
	Dial(id uint32) (*grpc.ClientConn, error)
}

// GRPCPlugin implements go-plugin's Plugin interface for the Module service.
type GRPCPlugin struct {
	goplugin.NetRPCUnsupportedPlugin
	// Impl is used by the plugin process only.
	Impl *Exports
}

// GRPCServer registers the module service (called by the plugin process).
func (p *GRPCPlugin) GRPCServer(broker *goplugin.GRPCBroker, s *grpc.Server) error {
	if p.Impl == nil {
		return errors.New("modulerpc: module implementation is nil")
	}
	RegisterModuleServer(s, NewModuleServer(p.Impl, broker))
	return nil
}

// GRPCClient returns a Module client (called by the host process).
func (p *GRPCPlugin) GRPCClient(_ context.Context, broker *goplugin.GRPCBroker, c *grpc.ClientConn) (any, error) {
	return NewModuleClient(c, broker), nil
}
