// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package modulerpc

import (
	"context"

	"google.golang.org/grpc"
)

// unary builds a grpc.MethodHandler that decodes a *Req and dispatches to
// call, honoring any server interceptor.
func unary[Req any, Resp any](fullMethod string, call func(srv any, ctx context.Context, req *Req) (Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			out, err := call(srv, ctx, in)
			return out, err
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			out, err := call(srv, ctx, req.(*Req))
			return out, err
		}
		return interceptor(ctx, in, info, handler)
	}
}

func fullMethod(service, method string) string {
	return "/" + service + "/" + method
}
