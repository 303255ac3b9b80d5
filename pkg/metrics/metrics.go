// Package metrics exposes prometheus collectors for the payment pipeline and
// chain writes.
package metrics

import (
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/super-x402/facilitator/pkg/blockchain"
	"github.com/super-x402/facilitator/pkg/model"
)

const namespace = "facilitator"

// Metrics owns a private registry so that tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	settlements   *prometheus.CounterVec
	stageFailures *prometheus.CounterVec
	streams       *prometheus.CounterVec
	verifications *prometheus.CounterVec
	feeTotal      prometheus.Counter
	wrappedTotal  prometheus.Counter
	txDuration    *prometheus.HistogramVec
	txFailures    *prometheus.CounterVec
}

// New registers all collectors plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settlements by result and path.",
		}, []string{"result", "path"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Pipeline failures by stage.",
		}, []string{"stage"}),
		streams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_outcomes_total",
			Help:      "Stream outcomes after a successful wrap.",
		}, []string{"outcome"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Payment verifications by result code.",
		}, []string{"code"}),
		feeTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fee_collected_units_total",
			Help:      "Fees collected in underlying token base units.",
		}),
		wrappedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wrapped_units_total",
			Help:      "Underlying token base units wrapped for payers.",
		}),
		txDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "tx_duration_seconds",
			Help:      "Time from signing to receipt for chain writes.",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 15, 30, 60, 90},
		}, []string{"method"}),
		txFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "tx_failures_total",
			Help:      "Failed chain writes by method and reason.",
		}, []string{"method", "reason"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.settlements,
		m.stageFailures,
		m.streams,
		m.verifications,
		m.feeTotal,
		m.wrappedTotal,
		m.txDuration,
		m.txFailures,
	)
	return m
}

// Registry returns the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveTx implements blockchain.TxObserver.
func (m *Metrics) ObserveTx(method string, elapsed time.Duration, err error) {
	m.txDuration.WithLabelValues(method).Observe(elapsed.Seconds())
	if err == nil {
		return
	}
	reason := "error"
	switch {
	case errors.Is(err, blockchain.ErrChainTimeout):
		reason = "timeout"
	case errors.Is(err, blockchain.ErrChainRejected):
		reason = "rejected"
	}
	m.txFailures.WithLabelValues(method, reason).Inc()
}

// ObserveVerification counts a verify outcome; code is empty for valid payments.
func (m *Metrics) ObserveVerification(code string) {
	if code == "" {
		code = "valid"
	}
	m.verifications.WithLabelValues(code).Inc()
}

// ObserveSettlement records a finished pipeline run. path is "resource" or "settle".
func (m *Metrics) ObserveSettlement(path string, r *model.SettlementResult) {
	if r == nil {
		return
	}
	if !r.Success {
		m.settlements.WithLabelValues("failure", path).Inc()
		if r.Stage != "" {
			m.stageFailures.WithLabelValues(r.Stage).Inc()
		}
		return
	}
	m.settlements.WithLabelValues("success", path).Inc()
	m.streams.WithLabelValues(r.Stream.Status.String()).Inc()
	addBig(m.feeTotal, r.Fee)
	addBig(m.wrappedTotal, r.Wrapped)
}

func addBig(c prometheus.Counter, v *big.Int) {
	if v == nil || v.Sign() <= 0 {
		return
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	c.Add(f)
}

var _ blockchain.TxObserver = (*Metrics)(nil)
