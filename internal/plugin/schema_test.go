// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/modhost/internal/plugin"
)

func TestValidateSchema_ValidManifests(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "native",
			yaml: `
name: audio
version: 1.0.0
type: native
requires: [mixer]
capabilities:
  - subsystem.register.AudioService
host_api: "^1.0"
`,
		},
		{
			name: "lua with entry points",
			yaml: `
name: echo-bot
version: 1.0.0
type: lua
module: main.lua
activate: start
deactivate: stop
`,
		},
		{
			name: "process",
			yaml: "name: renderer\nversion: 0.1.0\ntype: process\ndescription: Remote renderer\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, plugin.ValidateSchema([]byte(tt.yaml)))
		})
	}
}

func TestValidateSchema_NameLength(t *testing.T) {
	exact := "name: " + strings.Repeat("a", 64) + "\nversion: 1.0.0\ntype: native\n"
	assert.NoError(t, plugin.ValidateSchema([]byte(exact)))

	over := "name: " + strings.Repeat("a", 65) + "\nversion: 1.0.0\ntype: native\n"
	assert.Error(t, plugin.ValidateSchema([]byte(over)))
}

func TestValidateSchema_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "missing name", yaml: "version: 1.0.0\ntype: native\n"},
		{name: "missing version", yaml: "name: audio\ntype: native\n"},
		{name: "missing type", yaml: "name: audio\nversion: 1.0.0\n"},
		{name: "unknown type", yaml: "name: audio\nversion: 1.0.0\ntype: binary\n"},
		{name: "name pattern", yaml: "name: Audio\nversion: 1.0.0\ntype: native\n"},
		{name: "unknown field", yaml: "name: audio\nversion: 1.0.0\ntype: native\nevents: [say]\n"},
		{name: "requires not a list", yaml: "name: audio\nversion: 1.0.0\ntype: native\nrequires: mixer\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := plugin.ValidateSchema([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "schema validation failed")
		})
	}
}

func TestValidateSchema_BadInput(t *testing.T) {
	assert.ErrorContains(t, plugin.ValidateSchema(nil), "empty")
	assert.ErrorContains(t, plugin.ValidateSchema([]byte("name: [")), "invalid YAML")
}

func TestGenerateSchema(t *testing.T) {
	data, err := plugin.GenerateSchema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))

	assert.Equal(t, plugin.SchemaID, schema["$id"])
	assert.Equal(t, "modhost Plugin Manifest", schema["title"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"name", "version", "type", "module", "activate", "deactivate", "requires", "capabilities", "host_api"} {
		assert.Contains(t, props, key)
	}
	assert.ElementsMatch(t, []any{"name", "version", "type"}, schema["required"])
}

func TestFormatSchemaError(t *testing.T) {
	assert.Empty(t, plugin.FormatSchemaError(nil))
	assert.Equal(t, "missing property", plugin.FormatSchemaError(errors.New("schema validation failed: missing property")))
	assert.Equal(t, "other", plugin.FormatSchemaError(errors.New("other")))
}
