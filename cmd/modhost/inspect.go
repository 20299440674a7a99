// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/holomush/modhost/internal/module"
	pluginpkg "github.com/holomush/modhost/pkg/plugin"
)

// NewInspectCmd creates the inspect subcommand.
func NewInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect MODULE",
		Short: "Open a module and show what it exports",
		Long: `Open a single module file without activating it and print the
descriptor it exports and which entry points resolve.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.DiscardHandler)
			return runInspect(cmd.Context(), cmd, newOpener(logger, 0), args[0])
		},
	}
}

func runInspect(ctx context.Context, cmd *cobra.Command, opener module.Opener, path string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	h, err := opener.Open(ctx, path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := h.Close(); closeErr != nil {
			cmd.PrintErrf("warning: closing %s: %v\n", path, closeErr)
		}
	}()

	cmd.Printf("module:      %s\n", h.Path())

	var desc pluginpkg.Descriptor
	if sym, err := h.Resolve(pluginpkg.DescriptorSymbol); err == nil {
		exported, ok := pluginpkg.AsDescriptor(sym)
		if !ok {
			return fmt.Errorf("exported %s has type %T", pluginpkg.DescriptorSymbol, sym)
		}
		desc = exported
		printDescriptor(cmd, desc)
	} else {
		cmd.Println("descriptor:  none")
	}

	activate, deactivate := desc.EntrySymbols()
	actSym, err := h.Resolve(activate)
	switch {
	case err != nil:
		cmd.Printf("activate:    %s (missing)\n", activate)
	default:
		if _, ok := pluginpkg.AsActivateFunc(actSym); !ok {
			cmd.Printf("activate:    %s (wrong type %T)\n", activate, actSym)
		} else {
			cmd.Printf("activate:    %s\n", activate)
		}
	}

	deSym, err := h.Resolve(deactivate)
	switch {
	case err != nil:
		cmd.Printf("deactivate:  %s (not exported)\n", deactivate)
	default:
		if _, ok := pluginpkg.AsDeactivateFunc(deSym); !ok {
			cmd.Printf("deactivate:  %s (wrong type %T)\n", deactivate, deSym)
		} else {
			cmd.Printf("deactivate:  %s\n", deactivate)
		}
	}
	return nil
}

func printDescriptor(cmd *cobra.Command, d pluginpkg.Descriptor) {
	cmd.Printf("name:        %s\n", orNone(d.Name))
	cmd.Printf("version:     %s\n", orNone(d.Version))
	cmd.Printf("requires:    %s\n", orNone(strings.Join(d.Requires, ", ")))
	cmd.Printf("capabilities: %s\n", orNone(strings.Join(d.Capabilities, ", ")))
	cmd.Printf("host_api:    %s\n", orNone(d.HostAPI))
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
