// Package metrics exposes Prometheus collectors for sync runs.
//
// All methods are safe to call on a nil *Metrics,
// so components can be used without instrumentation.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "tokensync"

// Metrics holds the collectors of one process, on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	Sources       *prometheus.CounterVec // outcome
	Records       prometheus.Counter
	Fetches       *prometheus.CounterVec // result
	FetchDuration prometheus.Histogram
	Chunks        *prometheus.CounterVec // outcome
	ChunkDuration prometheus.Histogram
	StoreRetries  prometheus.Counter
	StoreInserts  prometheus.Counter
	StoreErrors   prometheus.Counter
	Sessions      *prometheus.CounterVec // status
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Sources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sources_total",
			Help:      "Source databases by outcome (processed, skipped, failed).",
		}, []string{"outcome"}),
		Records: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_extracted_total",
			Help:      "Token records extracted from source databases.",
		}),
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Enrichment fetches by result (ok, cached, or a failure kind).",
		}, []string{"result"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Time taken by one enrichment fetch, retries included.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		Chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_chunks_total",
			Help:      "Upsert chunks by outcome (committed, fallback, exhausted).",
		}, []string{"outcome"}),
		ChunkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_chunk_duration_seconds",
			Help:      "Time taken to upsert one chunk.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		StoreRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_retries_total",
			Help:      "Central store operations retried after a transient failure.",
		}),
		StoreInserts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_inserts_total",
			Help:      "Records inserted or updated in the central store.",
		}),
		StoreErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Records or chunks that could not be written.",
		}),
		Sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Finished sync sessions by final status.",
		}, []string{"status"}),
	}
	m.Registry.MustRegister(
		m.Sources,
		m.Records,
		m.Fetches,
		m.FetchDuration,
		m.Chunks,
		m.ChunkDuration,
		m.StoreRetries,
		m.StoreInserts,
		m.StoreErrors,
		m.Sessions,
		collectors.NewGoCollector(),
	)
	return m
}

// Source counts a source outcome.
func (m *Metrics) Source(outcome string) {
	if m == nil {
		return
	}
	m.Sources.WithLabelValues(outcome).Inc()
}

// Extracted counts n extracted records.
func (m *Metrics) Extracted(n int) {
	if m == nil {
		return
	}
	m.Records.Add(float64(n))
}

// Fetch records one enrichment outcome.
// A zero duration (cached payloads) is not observed.
func (m *Metrics) Fetch(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Fetches.WithLabelValues(result).Inc()
	if d > 0 {
		m.FetchDuration.Observe(d.Seconds())
	}
}

// Chunk records one upsert chunk outcome.
func (m *Metrics) Chunk(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Chunks.WithLabelValues(outcome).Inc()
	m.ChunkDuration.Observe(d.Seconds())
}

// Retried counts one retried store operation.
func (m *Metrics) Retried() {
	if m == nil {
		return
	}
	m.StoreRetries.Inc()
}

// Stored counts written and failed records.
func (m *Metrics) Stored(inserted, failed int) {
	if m == nil {
		return
	}
	m.StoreInserts.Add(float64(inserted))
	m.StoreErrors.Add(float64(failed))
}

// Session counts a finished session.
func (m *Metrics) Session(status string) {
	if m == nil {
		return
	}
	m.Sessions.WithLabelValues(status).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Serve serves /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down metrics server", zap.Error(err))
		}
	}()

	logger.Info("serving metrics", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
