// Package health reports facilitator liveness over gRPC (grpc.health.v1)
// and HTTP. The facilitator is serving while its RPC endpoint answers
// block number queries.
package health

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Service is the name the facilitator registers in the health server.
// The empty service name reports the same status.
const Service = "x402.Facilitator"

// Chain is the liveness probe target. *blockchain.EVMClient implements it.
type Chain interface {
	BlockNumber(ctx context.Context) (*big.Int, error)
}

// Status is the last probe result.
type Status struct {
	Serving   bool      `json:"serving"`
	Block     string    `json:"block,omitempty"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Checker probes the chain and mirrors the result into a gRPC health server.
type Checker struct {
	chain   Chain
	timeout time.Duration
	srv     *grpchealth.Server

	mu   sync.RWMutex
	last Status
}

// NewChecker returns a Checker that bounds every probe by timeout. The
// status is NOT_SERVING until the first probe succeeds.
func NewChecker(chain Chain, timeout time.Duration) *Checker {
	c := &Checker{chain: chain, timeout: timeout, srv: grpchealth.NewServer()}
	c.set(Status{Serving: false}, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return c
}

// Check probes the chain once and records the result.
func (c *Checker) Check(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	st := Status{CheckedAt: time.Now()}
	n, err := c.chain.BlockNumber(ctx)
	if err != nil {
		st.Error = err.Error()
		c.set(st, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		return st
	}
	st.Serving = true
	st.Block = n.String()
	c.set(st, grpc_health_v1.HealthCheckResponse_SERVING)
	return st
}

func (c *Checker) set(st Status, s grpc_health_v1.HealthCheckResponse_ServingStatus) {
	c.mu.Lock()
	prev := c.last
	c.last = st
	c.mu.Unlock()

	if prev.Serving != st.Serving {
		zap.L().Info("Health status changed", zap.Bool("serving", st.Serving), zap.String("error", st.Error))
	}
	c.srv.SetServingStatus("", s)
	c.srv.SetServingStatus(Service, s)
}

// Last returns the most recent probe result.
func (c *Checker) Last() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// Run probes every interval until ctx is done.
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	c.Check(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Check(ctx)
		}
	}
}

// Register installs the health service on s.
func (c *Checker) Register(s *grpc.Server) {
	grpc_health_v1.RegisterHealthServer(s, c.srv)
}

// Shutdown flips every service to NOT_SERVING and ignores later updates.
func (c *Checker) Shutdown() {
	c.srv.Shutdown()
}

// ServeHTTP probes the chain and answers 200 when serving, 503 otherwise.
func (c *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	st := c.Check(r.Context())
	code := http.StatusOK
	if !st.Serving {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(st)
}
