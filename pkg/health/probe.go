package health

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Probe runs a grpc.health.v1 Check for service over conn.
func Probe(ctx context.Context, conn grpc.ClientConnInterface, service string) (*grpc_health_v1.HealthCheckResponse, error) {
	client := grpc_health_v1.NewHealthClient(conn)
	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		return nil, fmt.Errorf("grpc health check failed: %w", err)
	}
	return resp, nil
}

// ProbeEndpoint dials endpoint, checks Service and reports whether it is
// SERVING. See credsFromEndpoint for the accepted endpoint forms.
func ProbeEndpoint(ctx context.Context, endpoint string) error {
	addr, creds := credsFromEndpoint(endpoint)
	conn, err := grpc.NewClient(addr, creds)
	if err != nil {
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}
	defer conn.Close()

	resp, err := Probe(ctx, conn, Service)
	if err != nil {
		return err
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return fmt.Errorf("%s is %s", endpoint, resp.GetStatus())
	}
	return nil
}

// credsFromEndpoint derives a dial address and transport credentials.
// "https://" enables TLS; "http://" and bare addresses are insecure.
func credsFromEndpoint(endpoint string) (string, grpc.DialOption) {
	if strings.HasPrefix(endpoint, "https://") {
		return strings.TrimPrefix(endpoint, "https://"), grpc.WithTransportCredentials(credentials.NewTLS(nil))
	}
	if strings.HasPrefix(endpoint, "http://") {
		return strings.TrimPrefix(endpoint, "http://"), grpc.WithTransportCredentials(insecure.NewCredentials())
	}
	return endpoint, grpc.WithTransportCredentials(insecure.NewCredentials())
}
