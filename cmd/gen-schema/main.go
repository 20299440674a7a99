// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Command gen-schema writes the plugin manifest JSON Schema, for editors
// that validate plugin.yaml files.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/holomush/modhost/internal/plugin"
)

const defaultOutput = "schemas/modhost-plugin.schema.json"

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "gen-schema: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("gen-schema", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	out := fs.StringP("output", "o", defaultOutput, "output path, or - for stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	schema, err := plugin.GenerateSchema()
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}

	if *out == "-" {
		_, err := stdout.Write(append(schema, '\n'))
		return err
	}

	if err := os.MkdirAll(filepath.Dir(*out), 0o750); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(*out, schema, 0o600); err != nil {
		return fmt.Errorf("write schema: %w", err)
	}

	fmt.Fprintf(stdout, "Generated %s\n", *out)
	return nil
}
