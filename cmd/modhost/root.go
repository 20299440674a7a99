// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/holomush/modhost/internal/config"
	"github.com/holomush/modhost/internal/module"
	"github.com/holomush/modhost/internal/module/goplugin"
	"github.com/holomush/modhost/internal/module/lua"
	"github.com/holomush/modhost/internal/module/native"
	"github.com/holomush/modhost/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the modhost CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "modhost",
		Short: "modhost - a plugin host for dynamically loaded modules",
		Long: `modhost loads plugins at runtime and lets them extend a shared
engine core. Plugins can be native shared libraries, Lua scripts or
separate processes speaking gRPC.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/modhost/modhost.yaml)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewInspectCmd())
	cmd.AddCommand(NewValidateCmd())

	return cmd
}

// loadConfig reads the config file named by --config, or the default one if
// it exists, and applies flags the user set on cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, explicit := configFile, configFile != ""
	if !explicit {
		var err error
		if path, err = xdg.ConfigFile(); err != nil {
			return nil, err
		}
	}
	return config.Load(path, explicit, cmd.Flags())
}

// newOpener routes module paths to a loader by extension: shared libraries
// to the native loader, .lua to the Lua loader, anything else is started
// as a plugin process.
func newOpener(logger *slog.Logger, startRetries int) module.Opener {
	return module.NewMux(
		module.WithLibraries(native.New(native.WithLogger(logger))),
		module.WithExtension(lua.Extension, lua.New(lua.WithLogger(logger))),
		module.WithFallback(goplugin.New(
			goplugin.WithLogger(logger),
			goplugin.WithStartRetries(uint64(startRetries), goplugin.DefaultRetryBase), //nolint:gosec // validated non-negative
		)),
	)
}
