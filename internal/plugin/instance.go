// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"crypto/rand"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/holomush/modhost/internal/module"
	pluginpkg "github.com/holomush/modhost/pkg/plugin"
)

// State is the lifecycle position of a plugin instance.
type State int

// Plugin lifecycle states.
const (
	StateUnloaded State = iota
	StateLoading
	StateActive
	StateUnloading
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateActive:
		return "active"
	case StateUnloading:
		return "unloading"
	default:
		return "unknown"
	}
}

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// newInstanceID returns a ULID; ids of successive loads sort by load time.
func newInstanceID() ulid.ULID {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}

// Instance is one loaded plugin. Fields are guarded by the owning Server's
// mutex; the object and handle are only touched by the goroutine that moved
// the instance into Loading or Unloading.
type Instance struct {
	id         ulid.ULID
	descriptor pluginpkg.Descriptor
	path       string
	state      State
	loadedAt   time.Time
	handle     *module.Handle
	object     pluginpkg.Plugin
	deactivate pluginpkg.DeactivateFunc
}

func newInstance(desc pluginpkg.Descriptor, path string) *Instance {
	return &Instance{
		id:         newInstanceID(),
		descriptor: desc,
		path:       path,
		state:      StateLoading,
	}
}

// Name returns the registry key.
func (i *Instance) Name() string {
	return i.descriptor.Name
}

// Info is a snapshot of an instance for callers outside the Server.
type Info struct {
	ID           ulid.ULID
	Name         string
	Version      string
	Path         string
	State        State
	LoadedAt     time.Time
	Requires     []string
	Capabilities []string
}

func (i *Instance) info() Info {
	return Info{
		ID:           i.id,
		Name:         i.descriptor.Name,
		Version:      i.descriptor.Version,
		Path:         i.path,
		State:        i.state,
		LoadedAt:     i.loadedAt,
		Requires:     slices.Clone(i.descriptor.Requires),
		Capabilities: slices.Clone(i.descriptor.Capabilities),
	}
}
