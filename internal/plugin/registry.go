// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import "slices"

// Registry maps plugin names to instances and remembers insertion order.
//
// Registry is not safe for concurrent use; the Server guards it.
type Registry struct {
	entries map[string]*Instance
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Instance)}
}

// Insert adds inst unless its name is taken. Reports whether it was added.
func (r *Registry) Insert(inst *Instance) bool {
	name := inst.Name()
	if _, ok := r.entries[name]; ok {
		return false
	}
	r.entries[name] = inst
	r.order = append(r.order, name)
	return true
}

// Remove deletes name and returns the instance it held.
func (r *Registry) Remove(name string) (*Instance, bool) {
	inst, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	delete(r.entries, name)
	r.order = slices.DeleteFunc(r.order, func(n string) bool { return n == name })
	return inst, true
}

// Get returns the instance registered under name.
func (r *Registry) Get(name string) (*Instance, bool) {
	inst, ok := r.entries[name]
	return inst, ok
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	return len(r.order)
}

// Ordered returns the entries in insertion order.
func (r *Registry) Ordered() []*Instance {
	out := make([]*Instance, len(r.order))
	for i, name := range r.order {
		out[i] = r.entries[name]
	}
	return out
}

// Reversed returns the entries latest first.
func (r *Registry) Reversed() []*Instance {
	out := r.Ordered()
	slices.Reverse(out)
	return out
}
