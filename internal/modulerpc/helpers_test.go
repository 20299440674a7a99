// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package modulerpc_test

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

// pipeBroker stands in for the go-plugin broker with an in-memory listener.
type pipeBroker struct {
	lis *bufconn.Listener
}

func newPipeBroker() *pipeBroker {
	return &pipeBroker{lis: bufconn.Listen(1 << 20)}
}

func (b *pipeBroker) NextId() uint32 { return 7 }

func (b *pipeBroker) AcceptAndServe(_ uint32, newServer func([]grpc.ServerOption) *grpc.Server) {
	_ = newServer(nil).Serve(b.lis)
}

func (b *pipeBroker) Dial(uint32) (*grpc.ClientConn, error) {
	return dial(b.lis)
}

func dial(lis *bufconn.Listener) (*grpc.ClientConn, error) {
	return grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
}

// serve starts a gRPC server with register applied and returns a client
// connection to it.
func serve(t *testing.T, register func(*grpc.Server)) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := dial(lis)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}
