// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package modulerpc

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/samber/oops"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/holomush/modhost/pkg/plugin"
)

// CoreServiceName is the fully qualified Core service name.
const CoreServiceName = "modhost.engine.v1.Core"

// RemoteSubsystem stands in for a subsystem that lives in another process.
// Remote plugins register attribute maps; the host stores them as
// RemoteSubsystem values, and remote lookups return one describing the
// host-side subsystem.
type RemoteSubsystem struct {
	ID         string
	Type       string
	Attributes map[string]any
}

type coreService interface {
	GetSubsystem(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	RegisterSubsystem(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	UnregisterSubsystem(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
}

var coreServiceDesc = grpc.ServiceDesc{
	ServiceName: CoreServiceName,
	HandlerType: (*coreService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetSubsystem",
			Handler: unary(fullMethod(CoreServiceName, "GetSubsystem"),
				func(srv any, ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
					return srv.(coreService).GetSubsystem(ctx, in)
				}),
		},
		{
			MethodName: "RegisterSubsystem",
			Handler: unary(fullMethod(CoreServiceName, "RegisterSubsystem"),
				func(srv any, ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
					return srv.(coreService).RegisterSubsystem(ctx, in)
				}),
		},
		{
			MethodName: "UnregisterSubsystem",
			Handler: unary(fullMethod(CoreServiceName, "UnregisterSubsystem"),
				func(srv any, ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
					return srv.(coreService).UnregisterSubsystem(ctx, in)
				}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "modhost/engine/v1/core.proto",
}

// RegisterCoreServer registers the Core service on s.
func RegisterCoreServer(s grpc.ServiceRegistrar, srv *CoreServer) {
	s.RegisterService(&coreServiceDesc, srv)
}

// CoreServer exposes a plugin.Core (normally a scoped view) over gRPC.
type CoreServer struct {
	core plugin.Core
}

// NewCoreServer wraps core.
func NewCoreServer(core plugin.Core) *CoreServer {
	return &CoreServer{core: core}
}

// GetSubsystem describes the subsystem registered under the requested id.
func (s *CoreServer) GetSubsystem(_ context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	inst, err := s.core.Subsystem(req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}

	desc := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldID:   structpb.NewStringValue(req.GetValue()),
		fieldType: structpb.NewStringValue(fmt.Sprintf("%T", inst)),
	}}
	if remote, ok := inst.(*RemoteSubsystem); ok {
		desc.Fields[fieldType] = structpb.NewStringValue(remote.Type)
		attrs, err := structpb.NewStruct(remote.Attributes)
		if err != nil {
			return nil, toStatus(err)
		}
		desc.Fields[fieldAttributes] = structpb.NewStructValue(attrs)
	}
	return desc, nil
}

// RegisterSubsystem stores a RemoteSubsystem under the requested id.
func (s *CoreServer) RegisterSubsystem(_ context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	id := stringField(req, fieldID)
	remote := &RemoteSubsystem{
		ID:         id,
		Type:       stringField(req, fieldType),
		Attributes: req.GetFields()[fieldAttributes].GetStructValue().AsMap(),
	}
	if err := s.core.RegisterSubsystem(id, remote); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// UnregisterSubsystem removes the requested id.
func (s *CoreServer) UnregisterSubsystem(_ context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := s.core.UnregisterSubsystem(req.GetValue()); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// CoreClient is the plugin.Core a remote plugin receives at activation.
type CoreClient struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
}

var _ plugin.Core = (*CoreClient)(nil)

// NewCoreClient creates a Core client over conn.
func NewCoreClient(conn grpc.ClientConnInterface) *CoreClient {
	return &CoreClient{conn: conn, timeout: DefaultCallTimeout}
}

// Subsystem returns a *RemoteSubsystem describing the host subsystem.
func (c *CoreClient) Subsystem(id string) (any, error) {
	out := new(structpb.Struct)
	if err := c.invoke("GetSubsystem", wrapperspb.String(id), out); err != nil {
		return nil, err
	}
	return &RemoteSubsystem{
		ID:         stringField(out, fieldID),
		Type:       stringField(out, fieldType),
		Attributes: out.GetFields()[fieldAttributes].GetStructValue().AsMap(),
	}, nil
}

// RegisterSubsystem registers a subsystem in the host Core. instance must be
// a *RemoteSubsystem or a map[string]any of attributes, since Go values
// cannot cross the process boundary.
func (c *CoreClient) RegisterSubsystem(id string, instance any) error {
	var typ string
	var attrs map[string]any
	switch v := instance.(type) {
	case *RemoteSubsystem:
		if v == nil {
			return oops.In("modulerpc").With("subsystem", id).Wrapf(plugin.ErrInvalidSubsystem, "subsystem instance is nil")
		}
		typ, attrs = v.Type, maps.Clone(v.Attributes)
	case map[string]any:
		attrs = maps.Clone(v)
	default:
		return oops.In("modulerpc").With("subsystem", id).
			Wrapf(plugin.ErrInvalidSubsystem, "remote subsystems must be *RemoteSubsystem or map[string]any, got %T", instance)
	}

	payload, err := structpb.NewStruct(attrs)
	if err != nil {
		return oops.In("modulerpc").With("subsystem", id).Wrapf(plugin.ErrInvalidSubsystem, "encode attributes: %v", err)
	}
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldID:         structpb.NewStringValue(id),
		fieldType:       structpb.NewStringValue(typ),
		fieldAttributes: structpb.NewStructValue(payload),
	}}
	return c.invoke("RegisterSubsystem", req, new(emptypb.Empty))
}

// UnregisterSubsystem implements plugin.Core.
func (c *CoreClient) UnregisterSubsystem(id string) error {
	return c.invoke("UnregisterSubsystem", wrapperspb.String(id), new(emptypb.Empty))
}

func (c *CoreClient) invoke(method string, in, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return fromStatus(method, c.conn.Invoke(ctx, fullMethod(CoreServiceName, method), in, out))
}
