// Package server exposes the facilitator over HTTP.
//
// Routes:
//
//	GET  /supported  payment kinds
//	GET  /info       operator, tokens and fee policy
//	GET  /resource   stream gated resource, settles X-PAYMENT when present
//	POST /verify     x402 verify
//	POST /settle     x402 settle
//	GET  /healthz    chain liveness
//	GET  /metrics    prometheus
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/super-x402/facilitator/pkg/config"
	"github.com/super-x402/facilitator/pkg/fee"
	"github.com/super-x402/facilitator/pkg/gate"
	"github.com/super-x402/facilitator/pkg/payment"
	"go.uber.org/zap"
)

// maxBodyBytes bounds POST bodies.
const maxBodyBytes = 1 << 20

// Pipeline is the facilitator surface served over HTTP.
type Pipeline interface {
	Supported() payment.SupportedResponse
	Info() payment.InfoResponse
	Verify(ctx context.Context, req *payment.VerifyRequest) *payment.VerifyResponse
	Settle(ctx context.Context, req *payment.SettleRequest) *payment.SettleResponse
	Fees() *fee.Policy
}

// Resolver decides GET /resource requests. *gate.Gate implements it.
type Resolver interface {
	Evaluate(ctx context.Context, resource string, q gate.Query, paymentHeader string) (*gate.Decision, error)
}

// Option configures a Server.
type Option func(*Server)

// WithHealth mounts h at /healthz.
func WithHealth(h http.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// Server is the facilitator HTTP API.
type Server struct {
	cfg      *config.Config
	pipeline Pipeline
	gate     Resolver
	health   http.Handler
	metrics  http.Handler

	router chi.Router
	http   *http.Server
}

// New builds the router. cfg must be validated.
func New(cfg *config.Config, p Pipeline, g Resolver, opts ...Option) *Server {
	s := &Server{cfg: cfg, pipeline: p, gate: g}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", payment.PaymentHeader},
		ExposedHeaders:   []string{payment.PaymentResponseHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/supported", s.handleSupported)
	r.Get("/info", s.handleInfo)
	r.Get("/resource", s.handleResource)
	r.Post("/verify", s.handleVerify)
	r.Post("/settle", s.handleSettle)
	if s.health != nil {
		r.Method(http.MethodGet, "/healthz", s.health)
	}
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	return r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on the configured port and serves in the background.
func (s *Server) Start() error {
	t := s.cfg.Timeouts.WithDefaults()
	ln, err := net.Listen("tcp", s.cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr(), err)
	}
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: t.HTTPRead,
		ReadTimeout:       t.HTTPRead,
		WriteTimeout:      t.HTTPWrite,
	}
	zap.L().Info("Facilitator listening", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Error("HTTP server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones, bounded
// by ctx. In-flight settlements keep waiting for their receipts.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeouts.WithDefaults().Shutdown)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleSupported(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.pipeline.Supported())
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.pipeline.Info())
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req payment.VerifyRequest
	if err := readJSON(w, r, &req); err != nil {
		reason := "Invalid request body"
		writeJSON(w, http.StatusBadRequest, payment.VerifyResponse{IsValid: false, InvalidReason: &reason})
		return
	}
	writeJSON(w, http.StatusOK, s.pipeline.Verify(r.Context(), &req))
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req payment.SettleRequest
	if err := readJSON(w, r, &req); err != nil {
		reason := "Invalid request body"
		writeJSON(w, http.StatusBadRequest, payment.SettleResponse{Success: false, Error: &reason})
		return
	}
	// Receipt waits outlive the client connection.
	writeJSON(w, http.StatusOK, s.pipeline.Settle(context.WithoutCancel(r.Context()), &req))
}

// resourceURL rebuilds the absolute URL advertised in the 402 challenge.
func resourceURL(r *http.Request, port int) string {
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "http"
	}
	host := r.Host
	if host == "" {
		host = fmt.Sprintf("localhost:%d", port)
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, r.URL.Path)
}

// requestTimeout is how long read-only handlers may take; settlement paths
// are bounded by the chain timeouts instead.
func requestTimeout(cfg *config.Config) time.Duration {
	return cfg.Timeouts.WithDefaults().ChainRead
}
