// Package app wires the facilitator process with fx.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/super-x402/facilitator/pkg/blockchain"
	"github.com/super-x402/facilitator/pkg/config"
	"github.com/super-x402/facilitator/pkg/facilitator"
	"github.com/super-x402/facilitator/pkg/fee"
	"github.com/super-x402/facilitator/pkg/gate"
	"github.com/super-x402/facilitator/pkg/health"
	"github.com/super-x402/facilitator/pkg/metrics"
	"github.com/super-x402/facilitator/pkg/server"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// healthInterval is how often the background probe refreshes the gRPC status.
const healthInterval = 15 * time.Second

// Chain dials the RPC endpoint and exposes the client under the interfaces
// the rest of the graph consumes.
var Chain = fx.Module("chain",
	fx.Provide(
		NewEVMClient,
		func(c *blockchain.EVMClient) facilitator.Gateway { return c },
		func(c *blockchain.EVMClient) gate.Chain { return c },
		func(c *blockchain.EVMClient) health.Chain { return c },
	),
)

// Core builds the pipeline and its servers on top of a config.Config and
// the Chain interfaces.
var Core = fx.Module("core",
	fx.Provide(
		NewLogger,
		metrics.New,
		fee.FromConfig,
		NewFacilitator,
		NewGate,
		NewChecker,
		NewServer,
	),
	fx.Invoke(registerHTTP, registerHealth),
	fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
		return &fxevent.ZapLogger{Logger: l.Named("fx")}
	}),
)

// Module is the complete process graph minus the config source.
var Module = fx.Options(Chain, Core)

// NewEVMClient dials the chain and closes the client on stop.
func NewEVMClient(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config, m *metrics.Metrics) (*blockchain.EVMClient, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.WithDefaults().Dial)
	defer cancel()
	c, err := blockchain.Dial(ctx, cfg, blockchain.WithTxObserver(m))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Network.Name, err)
	}
	lc.Append(fx.StopHook(c.Close))
	log.Info("Connected to chain",
		zap.String("network", cfg.Network.Name),
		zap.Int64("chainId", cfg.Network.ChainID),
		zap.String("operator", c.Operator().Hex()))
	return c, nil
}

// NewFacilitator builds the pipeline and reports to m.
func NewFacilitator(cfg *config.Config, gw facilitator.Gateway, fees *fee.Policy, m *metrics.Metrics) (*facilitator.Facilitator, error) {
	return facilitator.New(cfg, gw, fees, facilitator.WithRecorder(m))
}

// NewGate guards /resource with f and chain.
func NewGate(f *facilitator.Facilitator, chain gate.Chain) *gate.Gate {
	return gate.New(f, chain)
}

// NewChecker probes chain within the read timeout.
func NewChecker(cfg *config.Config, chain health.Chain) *health.Checker {
	return health.NewChecker(chain, cfg.Timeouts.WithDefaults().ChainRead)
}

// NewServer mounts the API, /healthz and /metrics.
func NewServer(cfg *config.Config, f *facilitator.Facilitator, g *gate.Gate, hc *health.Checker, m *metrics.Metrics) *server.Server {
	return server.New(cfg, f, g, server.WithHealth(hc), server.WithMetrics(m.Handler()))
}

func registerHTTP(lc fx.Lifecycle, s *server.Server) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return s.Start() },
		OnStop:  s.Shutdown,
	})
}

// registerHealth runs the background probe and, when HealthAddr is set,
// the gRPC health service.
func registerHealth(lc fx.Lifecycle, cfg *config.Config, hc *health.Checker) {
	ctx, cancel := context.WithCancel(context.Background())
	var gs *grpc.Server

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go hc.Run(ctx, healthInterval)
			if cfg.HealthAddr == "" {
				return nil
			}
			ln, err := net.Listen("tcp", cfg.HealthAddr)
			if err != nil {
				return fmt.Errorf("listen health %s: %w", cfg.HealthAddr, err)
			}
			gs = grpc.NewServer()
			hc.Register(gs)
			go func() {
				if err := gs.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
					zap.L().Error("gRPC health server stopped", zap.Error(err))
				}
			}()
			zap.L().Info("gRPC health listening", zap.String("addr", ln.Addr().String()))
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			hc.Shutdown()
			if gs != nil {
				gs.GracefulStop()
			}
			return nil
		},
	})
}
