// Command facilitator runs the x402 auto-wrap facilitator.
//
// Configuration comes from the environment, see config.FromEnv.
//
//	facilitator              run the service
//	facilitator probe [addr] exit 0 when the gRPC health service at addr
//	                         (default $HEALTH_ADDR) is SERVING
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/super-x402/facilitator/internal/app"
	"github.com/super-x402/facilitator/pkg/config"
	"github.com/super-x402/facilitator/pkg/health"
	"go.uber.org/fx"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "probe" {
		os.Exit(probe(os.Args[2:]))
	}

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "facilitator: %v\n", err)
		os.Exit(1)
	}
	fx.New(fx.Supply(cfg), app.Module).Run()
}

func probe(args []string) int {
	addr := os.Getenv("HEALTH_ADDR")
	if len(args) > 0 {
		addr = args[0]
	}
	if addr == "" {
		fmt.Fprintln(os.Stderr, "facilitator probe: no address")
		return 2
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := health.ProbeEndpoint(ctx, addr); err != nil {
		fmt.Fprintf(os.Stderr, "facilitator probe: %v\n", err)
		return 1
	}
	return 0
}
