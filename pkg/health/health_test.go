package health

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/super-x402/facilitator/internal/testutil/grpcbuf"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
)

type stubChain struct {
	fail  atomic.Bool
	block int64
}

func (s *stubChain) BlockNumber(context.Context) (*big.Int, error) {
	if s.fail.Load() {
		return nil, errors.New("connection refused")
	}
	return big.NewInt(s.block), nil
}

func TestChecker_Check(t *testing.T) {
	chain := &stubChain{block: 42}
	c := NewChecker(chain, time.Second)

	if c.Last().Serving {
		t.Fatal("checker must start not serving")
	}

	st := c.Check(context.Background())
	if !st.Serving || st.Block != "42" {
		t.Fatalf("unexpected status %+v", st)
	}

	chain.fail.Store(true)
	st = c.Check(context.Background())
	if st.Serving || st.Error == "" {
		t.Fatalf("expected failure, got %+v", st)
	}
	if c.Last().Serving {
		t.Fatal("Last must reflect the failed probe")
	}
}

func TestChecker_ServeHTTP(t *testing.T) {
	chain := &stubChain{block: 7}
	c := NewChecker(chain, time.Second)

	for _, tc := range []struct {
		fail bool
		code int
	}{
		{false, http.StatusOK},
		{true, http.StatusServiceUnavailable},
	} {
		chain.fail.Store(tc.fail)
		rec := httptest.NewRecorder()
		c.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rec.Code != tc.code {
			t.Fatalf("fail=%v: status %d, want %d", tc.fail, rec.Code, tc.code)
		}
		var st Status
		if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if st.Serving == tc.fail {
			t.Fatalf("fail=%v: body %+v", tc.fail, st)
		}
	}
}

func TestChecker_GRPC(t *testing.T) {
	chain := &stubChain{block: 1}
	c := NewChecker(chain, time.Second)
	_, lis := grpcbuf.StartServer(t, func(s *grpc.Server) { c.Register(s) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := grpcbuf.Dial(ctx, lis)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	resp, err := Probe(ctx, conn, Service)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if resp.Status != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("status before first check = %v", resp.Status)
	}

	c.Check(ctx)
	for _, svc := range []string{"", Service} {
		resp, err = Probe(ctx, conn, svc)
		if err != nil {
			t.Fatalf("probe %q: %v", svc, err)
		}
		if resp.Status != grpc_health_v1.HealthCheckResponse_SERVING {
			t.Fatalf("service %q status = %v", svc, resp.Status)
		}
	}

	if _, err := Probe(ctx, conn, "unknown"); err == nil {
		t.Fatal("expected NotFound for unknown service")
	}

	c.Shutdown()
	resp, err = Probe(ctx, conn, Service)
	if err != nil {
		t.Fatalf("probe after shutdown: %v", err)
	}
	if resp.Status != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("status after shutdown = %v", resp.Status)
	}
}

func TestChecker_Run(t *testing.T) {
	chain := &stubChain{block: 3}
	c := NewChecker(chain, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for !c.Last().Serving {
		select {
		case <-deadline:
			t.Fatal("checker never became serving")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	<-done
}
