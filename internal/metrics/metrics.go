package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/minnowchess/minnow/internal"
)

// Metrics exposes worker counters on a Prometheus registry. It implements
// the queue's Observer interface.
type Metrics struct {
	registry *prometheus.Registry

	batches        prometheus.Counter
	positions      prometheus.Counter
	nodes          prometheus.Counter
	submitFailures prometheus.Counter
	pending        prometheus.Gauge
	nps            prometheus.Gauge
}

// New creates the worker metrics on a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "minnow_batches_total",
			Help: "Completed analysis batches.",
		}),
		positions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "minnow_positions_total",
			Help: "Analysed positions.",
		}),
		nodes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "minnow_nodes_total",
			Help: "Searched engine nodes.",
		}),
		submitFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "minnow_submit_failures_total",
			Help: "Submissions the queue did not accept.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "minnow_pending_positions",
			Help: "Positions awaiting analysis.",
		}),
		nps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "minnow_nodes_per_second",
			Help: "Nodes per second of the most recent batch.",
		}),
	}

	m.registry.MustRegister(m.batches, m.positions, m.nodes, m.submitFailures, m.pending, m.nps)
	return m
}

// BatchCompleted records a finished batch.
func (m *Metrics) BatchCompleted(_ internal.BatchID, positions, nodes uint64, nps uint32, _ time.Duration) {
	m.batches.Inc()
	m.positions.Add(float64(positions))
	m.nodes.Add(float64(nodes))
	m.nps.Set(float64(nps))
}

// PendingPositions tracks queue occupancy.
func (m *Metrics) PendingPositions(n int) {
	m.pending.Set(float64(n))
}

// SubmitFailed counts rejected submissions.
func (m *Metrics) SubmitFailed() {
	m.submitFailures.Inc()
}

// Handler returns the scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	errs := make(chan error, 1)
	go func() {
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server on %q failed: %w\nThe address may already be in use", addr, err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
