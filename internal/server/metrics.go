package server

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"escrowlock/internal/escrow"
	"escrowlock/internal/reconcile"
)

// Metrics is shared by the HTTP handlers, the lock workflow's state observer
// and the outbox reconciler.
type Metrics struct {
	registry         *prometheus.Registry
	lockRequests     *prometheus.CounterVec
	txTransitions    *prometheus.CounterVec
	lockDuration     prometheus.Histogram
	outboxDepth      prometheus.Gauge
	reconcileEntries *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	locks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_lock_requests_total",
		Help: "Lock requests by result (success, cached, or error kind)",
	}, []string{"result"})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_tx_state_transitions_total",
		Help: "Transaction lifecycle states entered",
	}, []string{"state"})

	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "escrow_lock_duration_seconds",
		Help:    "Time from lock request to outcome",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	})

	outbox := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "escrow_outbox_depth",
		Help: "Confirmed locks waiting for their records to be written",
	})

	reconciled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_reconcile_entries_total",
		Help: "Outbox entries processed by the reconciler",
	}, []string{"outcome"})

	r := prometheus.NewRegistry()
	r.MustRegister(locks, transitions, duration, outbox, reconciled)

	return &Metrics{
		registry:         r,
		lockRequests:     locks,
		txTransitions:    transitions,
		lockDuration:     duration,
		outboxDepth:      outbox,
		reconcileEntries: reconciled,
	}
}

func (m *Metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) incLock(result string) {
	m.lockRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) observeLockDuration(start time.Time) {
	m.lockDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) setOutboxDepth(depth int) {
	m.outboxDepth.Set(float64(depth))
}

// ObserveState is an escrow.Observer.
func (m *Metrics) ObserveState(_ context.Context, state escrow.State, _ string) {
	m.txTransitions.WithLabelValues(string(state)).Inc()
}

// ObserveReconcile is meant for reconcile.Reconciler.OnPass.
func (m *Metrics) ObserveReconcile(res reconcile.Result) {
	m.reconcileEntries.WithLabelValues("applied").Add(float64(res.Applied))
	m.reconcileEntries.WithLabelValues("retried").Add(float64(res.Retried))
	m.reconcileEntries.WithLabelValues("dropped").Add(float64(res.Dropped))
	m.reconcileEntries.WithLabelValues("stuck").Add(float64(res.Stuck))
	m.setOutboxDepth(res.Depth)
}
