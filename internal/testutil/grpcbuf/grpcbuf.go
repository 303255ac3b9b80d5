package grpcbuf

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1024 * 1024

// StartServer spins up a bufconn-backed gRPC server. register installs the
// services under test before serving starts. The server is stopped when the
// test ends.
func StartServer(t interface{ Cleanup(func()) }, register func(*grpc.Server)) (*grpc.Server, *bufconn.Listener) {
	lis := bufconn.Listen(bufSize)
	srv := grpc.NewServer()
	register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return srv, lis
}

// Dial connects to the provided bufconn listener using the standard gRPC client stack.
func Dial(_ context.Context, lis *bufconn.Listener, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	dialer := func(dctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(dctx) }
	// Use insecure credentials because bufconn does not provide TLS.
	// Use NewClient with a passthrough target so the custom dialer is honored.
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(dialer),
	}
	base = append(base, opts...)
	return grpc.NewClient("passthrough://bufnet", base...)
}
