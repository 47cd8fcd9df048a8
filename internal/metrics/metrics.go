// Package metrics exposes recipient and change counters in the Prometheus
// text format.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"eduitraya/internal/bus"
	"eduitraya/internal/core"
	"eduitraya/internal/log"
	"eduitraya/internal/middleware/trace"
)

const namespace = "eduitraya"

// Metrics owns a private registry so tests and several processes in one
// binary never collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	Recipients  prometheus.Gauge
	TotalAmount prometheus.Gauge
	Changes     *prometheus.CounterVec
	LastChange  prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Recipients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recipients",
			Help:      "Number of recipients in the list.",
		}),
		TotalAmount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "total_amount_ringgit",
			Help:      "Sum of all recipient amounts in ringgit.",
		}),
		Changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_total",
			Help:      "Change notifications seen on the bus by source.",
		}, []string{"source"}),
		LastChange: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_change_timestamp_seconds",
			Help:      "Unix time of the most recent change notification.",
		}),
	}
	m.registry.MustRegister(m.Recipients, m.TotalAmount, m.Changes, m.LastChange)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Record sets the list gauges from a snapshot. It has the store.Observer
// signature.
func (m *Metrics) Record(list []core.Recipient) {
	m.Recipients.Set(float64(len(list)))
	m.TotalAmount.Set(core.Sum(list).Decimal().InexactFloat64())
}

// CountChanges counts every bus event until the returned function is called.
func (m *Metrics) CountChanges(b *bus.Bus) (unsubscribe func()) {
	return b.Subscribe(func(e bus.Event) {
		m.Changes.WithLabelValues(e.Source.String()).Inc()
		m.LastChange.Set(float64(e.At.UnixNano()) / 1e9)
	})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *log.Logger) error {
	logger = log.OrDiscard(logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           trace.New(logger).Wrap(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "Metrics server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
