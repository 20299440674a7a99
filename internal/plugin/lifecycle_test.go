// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package plugin_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/modhost/internal/core"
	"github.com/holomush/modhost/internal/module"
	"github.com/holomush/modhost/internal/module/lua"
	"github.com/holomush/modhost/internal/plugin"
	"github.com/holomush/modhost/internal/plugin/capability"
)

const audioPlugin = `
local core_ref

function Activate(core)
  core_ref = core
  local ok, err = core:register("AudioService", { channels = 2 })
  if not ok then
    return nil, err
  end
  return {
    release = function(self)
      if CLEANUP then
        return core_ref:unregister("AudioService")
      end
    end,
  }
end
`

// journalPlugin records its deactivation as a "down.<name>" subsystem, so
// the engine's registration order shows the teardown order.
const journalPlugin = `
local core_ref

function Activate(core)
  core_ref = core
  return {}
end

function Deactivate()
  core_ref:register("down.%s", true)
end
`

func installLua(root, name, manifest, script string) {
	dir := filepath.Join(root, name)
	Expect(os.MkdirAll(dir, 0o750)).To(Succeed())
	Expect(os.WriteFile(filepath.Join(dir, plugin.ManifestFile), []byte(manifest), 0o600)).To(Succeed())
	Expect(os.WriteFile(filepath.Join(dir, plugin.DefaultLuaModule), []byte(script), 0o600)).To(Succeed())
}

func luaManifest(name string, extra string) string {
	return fmt.Sprintf("name: %s\nversion: 1.0.0\ntype: lua\n%s", name, extra)
}

var _ = Describe("Plugin lifecycle", func() {
	var (
		ctx     context.Context
		root    string
		engine  *core.Engine
		server  *plugin.Server
		manager *plugin.Manager
	)

	newHost := func(opts ...plugin.ServerOption) {
		logger := slog.New(slog.DiscardHandler)
		opener := module.NewMux(module.WithExtension(lua.Extension, lua.New(lua.WithLogger(logger))))
		engine = core.NewEngine(core.WithLogger(logger))
		server = plugin.NewServer(opener, engine, append([]plugin.ServerOption{plugin.WithLogger(logger)}, opts...)...)
		manager = plugin.NewManager(root, server, plugin.WithManagerLogger(logger))
	}

	BeforeEach(func() {
		ctx = context.Background()
		root = GinkgoT().TempDir()
		newHost()
	})

	AfterEach(func() {
		Expect(server.Close(ctx)).To(Succeed())
	})

	Describe("AudioService", func() {
		Context("when the plugin unregisters what it registered", func() {
			BeforeEach(func() {
				installLua(root, "audio", luaManifest("audio", ""), "CLEANUP = true\n"+audioPlugin)
				Expect(manager.LoadAll(ctx)).To(Succeed())
			})

			It("extends the engine core while loaded", func() {
				Expect(server.IsLoaded("audio")).To(BeTrue())
				Expect(engine.OwnedBy("audio")).To(ConsistOf("AudioService"))

				svc, err := engine.Subsystem("AudioService")
				Expect(err).NotTo(HaveOccurred())
				Expect(svc).To(BeAssignableToTypeOf(&lua.Value{}))
			})

			It("leaves the engine core clean after unload", func() {
				Expect(server.UnloadPlugin(ctx, "audio")).To(Succeed())
				Expect(server.IsLoaded("audio")).To(BeFalse())
				Expect(engine.Has("AudioService")).To(BeFalse())
			})
		})

		Context("when the plugin leaves its subsystem behind", func() {
			BeforeEach(func() {
				installLua(root, "audio", luaManifest("audio", ""), audioPlugin)
				Expect(manager.LoadAll(ctx)).To(Succeed())
			})

			It("unloads anyway and the entry stays with its owner recorded", func() {
				Expect(server.UnloadPlugin(ctx, "audio")).To(Succeed())
				Expect(server.IsLoaded("audio")).To(BeFalse())
				Expect(engine.OwnedBy("audio")).To(ConsistOf("AudioService"))
			})
		})
	})

	Describe("Unload-all sweep", func() {
		BeforeEach(func() {
			installLua(root, "alpha", luaManifest("alpha", ""), fmt.Sprintf(journalPlugin, "alpha"))
			installLua(root, "bravo", luaManifest("bravo", "requires: [alpha]\n"), fmt.Sprintf(journalPlugin, "bravo"))
			installLua(root, "charlie", luaManifest("charlie", "requires: [bravo]\n"), fmt.Sprintf(journalPlugin, "charlie"))
			Expect(manager.LoadAll(ctx)).To(Succeed())
		})

		It("loads in dependency order", func() {
			var names []string
			for _, info := range server.Plugins() {
				names = append(names, info.Name)
			}
			Expect(names).To(Equal([]string{"alpha", "bravo", "charlie"}))
		})

		It("refuses to unload a plugin others require", func() {
			Expect(server.UnloadPlugin(ctx, "alpha")).To(MatchError(plugin.ErrUnloadBlocked))
		})

		It("deactivates later plugins first", func() {
			Expect(server.UnloadAll(ctx)).To(BeEmpty())
			Expect(server.Plugins()).To(BeEmpty())
			var ids []string
			for _, sub := range engine.Subsystems() {
				ids = append(ids, sub.ID)
			}
			Expect(ids).To(Equal([]string{"down.charlie", "down.bravo", "down.alpha"}))
		})
	})

	Describe("Capability enforcement", func() {
		BeforeEach(func() {
			Expect(server.Close(ctx)).To(Succeed())
			newHost(plugin.WithEnforcer(capability.NewEnforcer()))
		})

		It("fails activation without a register grant", func() {
			installLua(root, "audio", luaManifest("audio", ""), audioPlugin)
			dp, err := plugin.ReadPlugin(filepath.Join(root, "audio"))
			Expect(err).NotTo(HaveOccurred())

			Expect(manager.Load(ctx, dp)).To(MatchError(plugin.ErrActivationFailed))
			Expect(engine.Has("AudioService")).To(BeFalse())
		})

		It("activates with the grants the manifest declares", func() {
			installLua(root, "audio", luaManifest("audio",
				"capabilities:\n  - subsystem.register.AudioService\n  - subsystem.unregister.AudioService\n"),
				"CLEANUP = true\n"+audioPlugin)
			Expect(manager.LoadAll(ctx)).To(Succeed())

			Expect(manager.ListPlugins()).To(ConsistOf("audio"))
			Expect(manager.Unload(ctx, "audio")).To(Succeed())
			Expect(engine.Has("AudioService")).To(BeFalse())
		})
	})

	Describe("Broken plugins", func() {
		It("skips them and loads the rest", func() {
			installLua(root, "audio", luaManifest("audio", ""), "CLEANUP = true\n"+audioPlugin)
			installLua(root, "syntax", luaManifest("syntax", ""), "function Activate(core")
			installLua(root, "raises", luaManifest("raises", ""), `function Activate(core) error("no device") end`)

			Expect(manager.LoadAll(ctx)).To(Succeed())
			Expect(manager.ListPlugins()).To(Equal([]string{"audio"}))
		})
	})
})
