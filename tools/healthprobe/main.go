// Command healthprobe asks a grpc.health.v1 endpoint whether a service is
// serving. It exits 0 when it is and 1 otherwise, for container health checks.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/findmyvet/vetbook/libs/config"
	"github.com/findmyvet/vetbook/libs/grpcx"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	var (
		addr    = flag.String("addr", config.String("HEALTH_ADDR", "localhost:9093"), "grpc address")
		service = flag.String("service", config.String("HEALTH_SERVICE", ""), "service name, empty for overall health")
		timeout = flag.Duration("timeout", config.Duration("HEALTH_TIMEOUT", 3*time.Second), "dial and check timeout")
	)
	flag.Parse()

	status, err := probe(context.Background(), *addr, *service, *timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "healthprobe:", err)
		os.Exit(1)
	}
	fmt.Println(status)
	if status != healthpb.HealthCheckResponse_SERVING {
		os.Exit(1)
	}
}

func probe(ctx context.Context, addr, service string, timeout time.Duration) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpcx.Dial(ctx, addr, grpcx.DialOptions{Timeout: timeout})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}
