// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package quickserve

import (
	"testing"

	"github.com/z5labs/quickserve/ptr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hostnamePlugin(name string) Plugin {
	return func(Options) Options {
		return Options{Hostname: ptr.Ref(name)}
	}
}

func TestRegistry_Load(t *testing.T) {
	t.Run("will keep plugins in load order", func(t *testing.T) {
		r := NewRegistry()
		r.Load(hostnamePlugin("a"), hostnamePlugin("b"))
		r.Load(hostnamePlugin("c"))

		plugins := r.Plugins()
		require.Len(t, plugins, 3)

		var names []string
		for _, p := range plugins {
			names = append(names, *p(Options{}).Hostname)
		}
		assert.Equal(t, []string{"a", "b", "c"}, names)
	})

	t.Run("will keep duplicate plugins", func(t *testing.T) {
		p := hostnamePlugin("a")

		r := NewRegistry()
		r.Load(p, p)
		assert.Len(t, r.Plugins(), 2)
	})

	t.Run("will skip nil plugins", func(t *testing.T) {
		r := NewRegistry()
		r.Load(nil, hostnamePlugin("a"))
		assert.Len(t, r.Plugins(), 1)
	})
}

func TestRegistry_Plugins(t *testing.T) {
	t.Run("will return a snapshot", func(t *testing.T) {
		r := NewRegistry()
		r.Load(hostnamePlugin("a"))

		plugins := r.Plugins()
		r.Load(hostnamePlugin("b"))

		assert.Len(t, plugins, 1)
		assert.Len(t, r.Plugins(), 2)
	})
}

func TestRegistry_UnloadAll(t *testing.T) {
	t.Run("will remove every plugin", func(t *testing.T) {
		r := NewRegistry()
		r.Load(hostnamePlugin("a"), hostnamePlugin("b"))
		r.UnloadAll()

		assert.Empty(t, r.Plugins())

		cfg, err := resolveOptions(Options{}, r.Plugins())
		require.NoError(t, err)
		assert.Equal(t, "localhost", cfg.Hostname)
	})
}

func TestRegistry_LoadNamed(t *testing.T) {
	RegisterPlugin("registry-test-hostname", hostnamePlugin("named"))

	t.Run("will load a registered plugin", func(t *testing.T) {
		r := NewRegistry()
		err := r.LoadNamed("registry-test-hostname")
		require.NoError(t, err)

		plugins := r.Plugins()
		require.Len(t, plugins, 1)
		assert.Equal(t, "named", *plugins[0](Options{}).Hostname)
	})

	t.Run("will return an UnknownPluginError", func(t *testing.T) {
		t.Run("if the plugin was never registered", func(t *testing.T) {
			r := NewRegistry()
			err := r.LoadNamed("registry-test-hostname", "does-not-exist")

			var uerr UnknownPluginError
			if !assert.ErrorAs(t, err, &uerr) {
				return
			}
			assert.Equal(t, "does-not-exist", uerr.Name)
			assert.Empty(t, r.Plugins())
		})
	})
}

func TestRegisterPlugin(t *testing.T) {
	t.Run("will list the registered name", func(t *testing.T) {
		RegisterPlugin("register-test-listed", hostnamePlugin("listed"))
		assert.Contains(t, RegisteredPlugins(), "register-test-listed")
	})

	t.Run("will panic", func(t *testing.T) {
		t.Run("if the name is registered twice", func(t *testing.T) {
			RegisterPlugin("register-test-dup", hostnamePlugin("dup"))
			assert.Panics(t, func() {
				RegisterPlugin("register-test-dup", hostnamePlugin("dup"))
			})
		})

		t.Run("if the plugin is nil", func(t *testing.T) {
			assert.Panics(t, func() {
				RegisterPlugin("register-test-nil", nil)
			})
		})
	})
}
