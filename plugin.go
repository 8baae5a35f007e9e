// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package quickserve

import (
	"slices"
	"sort"
	"sync"
)

// Plugin contributes option values to every [Server] constructed
// from the [Registry] it is loaded into. It receives a copy of the
// options resolved so far and returns the values it wants to provide.
// Only fields which are still unset are taken from its result.
type Plugin func(Options) Options

// Registry is an ordered collection of plugins.
type Registry struct {
	mu      sync.Mutex
	plugins []Plugin
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{}
}

// DefaultRegistry is used by [New] when no [WithRegistry] option is given.
var DefaultRegistry = NewRegistry()

// Load appends the given plugins in order. Duplicates are kept.
func (r *Registry) Load(plugins ...Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range plugins {
		if p == nil {
			continue
		}
		r.plugins = append(r.plugins, p)
	}
}

// LoadNamed appends the plugins registered under the given names
// with [RegisterPlugin]. If any name is unknown nothing is loaded
// and an [UnknownPluginError] is returned.
func (r *Registry) LoadNamed(names ...string) error {
	plugins := make([]Plugin, 0, len(names))
	for _, name := range names {
		p, ok := lookupPlugin(name)
		if !ok {
			return UnknownPluginError{Name: name}
		}
		plugins = append(plugins, p)
	}
	r.Load(plugins...)
	return nil
}

// UnloadAll removes every plugin.
func (r *Registry) UnloadAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = nil
}

// Plugins returns a snapshot of the loaded plugins in load order.
func (r *Registry) Plugins() []Plugin {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.plugins)
}

var (
	catalogMu sync.RWMutex
	catalog   = make(map[string]Plugin)
)

// RegisterPlugin makes a plugin available by name to [Registry.LoadNamed].
// If RegisterPlugin is called twice with the same name or if plugin is nil,
// it panics.
func RegisterPlugin(name string, plugin Plugin) {
	catalogMu.Lock()
	defer catalogMu.Unlock()
	if plugin == nil {
		panic("quickserve: RegisterPlugin plugin is nil")
	}
	if _, dup := catalog[name]; dup {
		panic("quickserve: RegisterPlugin called twice for plugin " + name)
	}
	catalog[name] = plugin
}

// RegisteredPlugins returns a sorted list of the names of the registered plugins.
func RegisteredPlugins() []string {
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupPlugin(name string) (Plugin, bool) {
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	p, ok := catalog[name]
	return p, ok
}
