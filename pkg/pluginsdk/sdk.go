// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package pluginsdk builds modhost plugins that run as separate processes.
//
// Out-of-process plugins implement the same entry points as in-process
// ones; the SDK carries them to the host over gRPC with HashiCorp
// go-plugin. The plugin.Core passed to Activate is remote: lookups return
// *RemoteSubsystem descriptions, and registrations must be attribute maps.
//
// Example usage:
//
//	package main
//
//	import (
//		"context"
//
//		"github.com/holomush/modhost/pkg/plugin"
//		"github.com/holomush/modhost/pkg/pluginsdk"
//	)
//
//	func main() {
//		pluginsdk.Serve(&pluginsdk.ServeConfig{
//			Descriptor: plugin.Descriptor{Name: "echo", Version: "1.0.0"},
//			Activate: func(ctx context.Context, core plugin.Core) (plugin.Plugin, error) {
//				if err := core.RegisterSubsystem("EchoService", map[string]any{"prefix": ">"}); err != nil {
//					return nil, err
//				}
//				return plugin.NewObject(plugin.Info{Name: "echo"}, func(context.Context) error {
//					return core.UnregisterSubsystem("EchoService")
//				}), nil
//			},
//		})
//	}
package pluginsdk

import (
	hashiplug "github.com/hashicorp/go-plugin"

	"github.com/holomush/modhost/internal/modulerpc"
	"github.com/holomush/modhost/pkg/plugin"
)

// RemoteSubsystem describes a subsystem living in another process.
type RemoteSubsystem = modulerpc.RemoteSubsystem

// HandshakeConfig is the go-plugin handshake configuration.
// Both host and plugins must use the same values.
var HandshakeConfig = hashiplug.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "MODHOST_PLUGIN",
	MagicCookieValue: "modhost-v1",
}

// PluginMap returns the go-plugin plugin set for a module. exports is nil on
// the host side.
func PluginMap(exports *modulerpc.Exports) map[string]hashiplug.Plugin {
	return map[string]hashiplug.Plugin{
		modulerpc.PluginName: &modulerpc.GRPCPlugin{Impl: exports},
	}
}

// ServeConfig configures the plugin server.
type ServeConfig struct {
	// Descriptor is advertised to the host. Name is required.
	Descriptor plugin.Descriptor
	// Activate is the activation entry point. Required.
	Activate plugin.ActivateFunc
	// Deactivate is the optional deactivation entry point.
	Deactivate plugin.DeactivateFunc
}

// Serve starts the plugin server. This should be called from main().
// It blocks until the host kills the process.
func Serve(config *ServeConfig) {
	hashiplug.Serve(&hashiplug.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins:         PluginMap(exports(config)),
		GRPCServer:      hashiplug.DefaultGRPCServer,
	})
}

func exports(config *ServeConfig) *modulerpc.Exports {
	if config == nil {
		panic("pluginsdk: config cannot be nil")
	}
	if config.Activate == nil {
		panic("pluginsdk: config.Activate cannot be nil")
	}
	if err := config.Descriptor.Validate(); err != nil {
		panic("pluginsdk: invalid descriptor: " + err.Error())
	}
	return &modulerpc.Exports{
		Descriptor: config.Descriptor,
		Activate:   config.Activate,
		Deactivate: config.Deactivate,
	}
}
