// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/holomush/modhost/internal/plugin"
)

// NewValidateCmd creates the validate subcommand.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate DIR...",
		Short: "Check plugin manifests",
		Long: `Validate the plugin.yaml in each plugin directory against the
manifest schema and rules, and check that the module file it names
exists. Without arguments every plugin in the configured plugins
directory is checked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return fmt.Errorf("invalid configuration: %w", err)
				}
				if args, err = pluginDirs(cfg.PluginsDir); err != nil {
					return err
				}
			}
			return runValidate(cmd, args)
		},
	}
}

func pluginDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read plugins directory: %w", err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(root, e.Name()))
		}
	}
	return dirs, nil
}

var errInvalidPlugins = errors.New("invalid plugins found")

func runValidate(cmd *cobra.Command, dirs []string) error {
	failed := 0
	for _, dir := range dirs {
		if err := validatePlugin(dir); err != nil {
			failed++
			cmd.Printf("FAIL %s: %v\n", dir, err)
			continue
		}
		cmd.Printf("ok   %s\n", dir)
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", errInvalidPlugins, failed, len(dirs))
	}
	return nil
}

func validatePlugin(dir string) error {
	dp, err := plugin.ReadPlugin(dir)
	if err != nil {
		if msg := plugin.FormatSchemaError(err); msg != err.Error() {
			return errors.New(msg)
		}
		return err
	}
	if _, err := os.Stat(dp.ModulePath()); err != nil {
		return fmt.Errorf("module %s: %w", dp.Manifest.ModuleFile(), err)
	}
	return nil
}
