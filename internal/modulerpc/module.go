// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package modulerpc

import (
	"context"
	"errors"
	"sync"

	"github.com/samber/oops"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/holomush/modhost/pkg/plugin"
)

// ModuleServiceName is the fully qualified Module service name.
const ModuleServiceName = "modhost.module.v1.Module"

type moduleService interface {
	Describe(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Activate(context.Context, *wrapperspb.UInt32Value) (*structpb.Struct, error)
	Deactivate(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Release(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
}

var moduleServiceDesc = grpc.ServiceDesc{
	ServiceName: ModuleServiceName,
	HandlerType: (*moduleService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Describe",
			Handler: unary(fullMethod(ModuleServiceName, "Describe"),
				func(srv any, ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error) {
					return srv.(moduleService).Describe(ctx, in)
				}),
		},
		{
			MethodName: "Activate",
			Handler: unary(fullMethod(ModuleServiceName, "Activate"),
				func(srv any, ctx context.Context, in *wrapperspb.UInt32Value) (*structpb.Struct, error) {
					return srv.(moduleService).Activate(ctx, in)
				}),
		},
		{
			MethodName: "Deactivate",
			Handler: unary(fullMethod(ModuleServiceName, "Deactivate"),
				func(srv any, ctx context.Context, in *emptypb.Empty) (*emptypb.Empty, error) {
					return srv.(moduleService).Deactivate(ctx, in)
				}),
		},
		{
			MethodName: "Release",
			Handler: unary(fullMethod(ModuleServiceName, "Release"),
				func(srv any, ctx context.Context, in *emptypb.Empty) (*emptypb.Empty, error) {
					return srv.(moduleService).Release(ctx, in)
				}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "modhost/module/v1/module.proto",
}

// RegisterModuleServer registers the Module service on s.
func RegisterModuleServer(s grpc.ServiceRegistrar, srv *ModuleServer) {
	s.RegisterService(&moduleServiceDesc, srv)
}

// ModuleServer serves a module's entry points from the plugin process.
//
// ModuleServer holds at most one live plugin object at a time.
type ModuleServer struct {
	impl   *Exports
	broker DialBroker
	mu     sync.Mutex
	plugin plugin.Plugin
	core   *grpc.ClientConn
}

// NewModuleServer creates a server for impl. broker is used to reach the
// host's Core service during activation.
func NewModuleServer(impl *Exports, broker DialBroker) *ModuleServer {
	return &ModuleServer{impl: impl, broker: broker}
}

// Describe reports the module descriptor and exported entry points.
func (s *ModuleServer) Describe(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return encodeDescription(Description{Descriptor: s.impl.Descriptor, Exports: s.impl.Symbols()}), nil
}

// Activate dials the host Core served under the broker id in req and runs
// the activation entry point against it.
func (s *ModuleServer) Activate(ctx context.Context, req *wrapperspb.UInt32Value) (*structpb.Struct, error) {
	if s.impl.Activate == nil {
		return nil, status.Error(codes.Unimplemented, "module exports no activation entry point")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.plugin != nil {
		return nil, status.Error(codes.FailedPrecondition, "module is already active")
	}

	conn, err := s.broker.Dial(req.GetValue())
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "dial host core: %v", err)
	}

	p, err := s.impl.Activate(ctx, NewCoreClient(conn))
	if err != nil {
		_ = conn.Close()
		return nil, status.Error(codes.Aborted, err.Error())
	}
	if p == nil {
		_ = conn.Close()
		return nil, status.Error(codes.Internal, "activation returned no plugin object")
	}

	s.plugin = p
	s.core = conn
	return encodeInfo(p.Info()), nil
}

// Deactivate runs the deactivation entry point.
func (s *ModuleServer) Deactivate(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if s.impl.Deactivate == nil {
		return nil, status.Error(codes.Unimplemented, "module exports no deactivation entry point")
	}
	if err := s.impl.Deactivate(ctx); err != nil {
		return nil, status.Error(codes.Aborted, err.Error())
	}
	return &emptypb.Empty{}, nil
}

// Release destroys the live plugin object and drops the Core connection.
func (s *ModuleServer) Release(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.plugin == nil {
		return &emptypb.Empty{}, nil
	}

	err := s.plugin.Release(ctx)
	_ = s.core.Close()
	s.plugin = nil
	s.core = nil
	if err != nil {
		return nil, status.Error(codes.Aborted, err.Error())
	}
	return &emptypb.Empty{}, nil
}

// ModuleClient is the host-side Module implementation.
type ModuleClient struct {
	conn        grpc.ClientConnInterface
	broker      ServeBroker
	mu          sync.Mutex
	coreServer  *grpc.Server
	coreStopped bool
}

var _ Module = (*ModuleClient)(nil)

// NewModuleClient creates a client over conn. broker serves the Core
// during activation.
func NewModuleClient(conn grpc.ClientConnInterface, broker ServeBroker) *ModuleClient {
	return &ModuleClient{conn: conn, broker: broker}
}

// Describe implements Module.
func (c *ModuleClient) Describe(ctx context.Context) (Description, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, "Describe", &emptypb.Empty{}, out); err != nil {
		return Description{}, err
	}
	return decodeDescription(out), nil
}

// Activate serves core to the plugin process and runs its activation entry
// point. The Core server stays up until Release.
func (c *ModuleClient) Activate(ctx context.Context, core plugin.Core) (plugin.Info, error) {
	if core == nil {
		return plugin.Info{}, errors.New("modulerpc: core cannot be nil")
	}

	c.mu.Lock()
	c.coreServer = nil
	c.coreStopped = false
	c.mu.Unlock()

	id := c.broker.NextId()
	go c.broker.AcceptAndServe(id, func(opts []grpc.ServerOption) *grpc.Server {
		s := grpc.NewServer(opts...)
		RegisterCoreServer(s, NewCoreServer(core))

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.coreStopped {
			s.Stop()
		}
		c.coreServer = s
		return s
	})

	out := new(structpb.Struct)
	if err := c.invoke(ctx, "Activate", wrapperspb.UInt32(id), out); err != nil {
		c.stopCore()
		return plugin.Info{}, err
	}
	return decodeInfo(out), nil
}

// Deactivate implements Module.
func (c *ModuleClient) Deactivate(ctx context.Context) error {
	return c.invoke(ctx, "Deactivate", &emptypb.Empty{}, new(emptypb.Empty))
}

// Release implements Module.
func (c *ModuleClient) Release(ctx context.Context) error {
	err := c.invoke(ctx, "Release", &emptypb.Empty{}, new(emptypb.Empty))
	c.stopCore()
	return err
}

func (c *ModuleClient) stopCore() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.coreStopped = true
	if c.coreServer != nil {
		c.coreServer.Stop()
		c.coreServer = nil
	}
}

func (c *ModuleClient) invoke(ctx context.Context, method string, in, out any) error {
	if err := c.conn.Invoke(ctx, fullMethod(ModuleServiceName, method), in, out); err != nil {
		st, _ := status.FromError(err)
		return oops.In("modulerpc").
			With("method", method).
			With("grpc_code", st.Code().String()).
			Errorf("%s", st.Message())
	}
	return nil
}
