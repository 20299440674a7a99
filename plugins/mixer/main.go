// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package main is a native modhost plugin that adds a Mixer subsystem.
//
// Build as a shared object next to its manifest:
//
//	go build -buildmode=plugin -o plugins/mixer/libmixer.so ./plugins/mixer
package main

import (
	"context"
	"sync"

	"github.com/holomush/modhost/pkg/plugin"
)

// SubsystemID is the engine key the mixer registers under.
const SubsystemID = "Mixer"

// Descriptor is read by the host before activation.
var Descriptor = plugin.Descriptor{
	Name:         "mixer",
	Version:      "1.0.0",
	Capabilities: []string{"subsystem.register.Mixer", "subsystem.unregister.Mixer"},
	HostAPI:      "^1.0",
}

// Mixer keeps a gain per channel.
type Mixer struct {
	mu    sync.Mutex
	gains map[string]float64
}

// SetGain sets the gain of channel.
func (m *Mixer) SetGain(channel string, gain float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gains[channel] = gain
}

// Gain returns the gain of channel, 1 if unset.
func (m *Mixer) Gain(channel string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.gains[channel]; ok {
		return g
	}
	return 1
}

// Activate registers the mixer with the engine core.
func Activate(_ context.Context, core plugin.Core) (plugin.Plugin, error) {
	mixer := &Mixer{gains: make(map[string]float64)}
	if err := core.RegisterSubsystem(SubsystemID, mixer); err != nil {
		return nil, err
	}
	info := plugin.Info{Name: Descriptor.Name, Version: Descriptor.Version}
	return plugin.NewObject(info, func(context.Context) error {
		return core.UnregisterSubsystem(SubsystemID)
	}), nil
}

func main() {}
