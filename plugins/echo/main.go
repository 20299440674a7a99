// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package main is an out-of-process modhost plugin. The host starts the
// binary and talks to it over gRPC.
//
// Build next to its manifest:
//
//	go build -o plugins/echo/echo ./plugins/echo
package main

import (
	"context"

	"github.com/holomush/modhost/pkg/plugin"
	"github.com/holomush/modhost/pkg/pluginsdk"
)

// SubsystemID is the engine key the plugin registers under.
const SubsystemID = "EchoService"

var descriptor = plugin.Descriptor{Name: "echo", Version: "1.0.0"}

func activate(_ context.Context, core plugin.Core) (plugin.Plugin, error) {
	if err := core.RegisterSubsystem(SubsystemID, map[string]any{"prefix": "> "}); err != nil {
		return nil, err
	}
	info := plugin.Info{Name: descriptor.Name, Version: descriptor.Version}
	return plugin.NewObject(info, func(context.Context) error {
		return core.UnregisterSubsystem(SubsystemID)
	}), nil
}

func main() {
	pluginsdk.Serve(&pluginsdk.ServeConfig{
		Descriptor: descriptor,
		Activate:   activate,
	})
}
