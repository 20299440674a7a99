// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package modulerpc

import (
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/holomush/modhost/pkg/plugin"
)

// Field names used in structpb payloads.
const (
	fieldName             = "name"
	fieldVersion          = "version"
	fieldActivateSymbol   = "activate_symbol"
	fieldDeactivateSymbol = "deactivate_symbol"
	fieldRequires         = "requires"
	fieldCapabilities     = "capabilities"
	fieldHostAPI          = "host_api"
	fieldExports          = "exports"
	fieldID               = "id"
	fieldType             = "type"
	fieldAttributes       = "attributes"
)

func encodeDescription(d Description) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldName:             structpb.NewStringValue(d.Descriptor.Name),
		fieldVersion:          structpb.NewStringValue(d.Descriptor.Version),
		fieldActivateSymbol:   structpb.NewStringValue(d.Descriptor.ActivateSymbol),
		fieldDeactivateSymbol: structpb.NewStringValue(d.Descriptor.DeactivateSymbol),
		fieldRequires:         stringList(d.Descriptor.Requires),
		fieldCapabilities:     stringList(d.Descriptor.Capabilities),
		fieldHostAPI:          structpb.NewStringValue(d.Descriptor.HostAPI),
		fieldExports:          stringList(d.Exports),
	}}
}

func decodeDescription(s *structpb.Struct) Description {
	return Description{
		Descriptor: plugin.Descriptor{
			Name:             stringField(s, fieldName),
			Version:          stringField(s, fieldVersion),
			ActivateSymbol:   stringField(s, fieldActivateSymbol),
			DeactivateSymbol: stringField(s, fieldDeactivateSymbol),
			Requires:         stringsField(s, fieldRequires),
			Capabilities:     stringsField(s, fieldCapabilities),
			HostAPI:          stringField(s, fieldHostAPI),
		},
		Exports: stringsField(s, fieldExports),
	}
}

func encodeInfo(info plugin.Info) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldName:    structpb.NewStringValue(info.Name),
		fieldVersion: structpb.NewStringValue(info.Version),
	}}
}

func decodeInfo(s *structpb.Struct) plugin.Info {
	return plugin.Info{Name: stringField(s, fieldName), Version: stringField(s, fieldVersion)}
}

func stringList(values []string) *structpb.Value {
	list := make([]*structpb.Value, len(values))
	for i, v := range values {
		list[i] = structpb.NewStringValue(v)
	}
	return structpb.NewListValue(&structpb.ListValue{Values: list})
}

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func stringsField(s *structpb.Struct, key string) []string {
	values := s.GetFields()[key].GetListValue().GetValues()
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = v.GetStringValue()
	}
	return out
}
