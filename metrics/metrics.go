// Package metrics exposes Prometheus metrics for vocabulary publication,
// provisional term changes and axiom evaluation.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "semvocab"

// Metrics holds every semvocab collector. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Evaluations        prometheus.Counter
	EvaluationDuration prometheus.Histogram
	Findings           *prometheus.CounterVec
	EvalCache          *prometheus.CounterVec

	SnapshotsPublished *prometheus.CounterVec
	SnapshotTrees      prometheus.Gauge
	SnapshotTerms      prometheus.Gauge
	CachedTrees        prometheus.Gauge
	DroppedTrees       prometheus.Gauge

	ProvisionalOps *prometheus.CounterVec
	RuleLoads      *prometheus.CounterVec
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "axiom",
			Name:      "evaluations_total",
			Help:      "Total number of annotation sets evaluated",
		}),
		EvaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "axiom",
			Name:      "evaluation_duration_seconds",
			Help:      "Axiom evaluation duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		Findings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "axiom",
			Name:      "findings_total",
			Help:      "Evaluation findings by kind (violation, justification, additional)",
		}, []string{"kind"}),
		EvalCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "axiom",
			Name:      "eval_cache_total",
			Help:      "Evaluation memo lookups by result (hit, miss)",
		}, []string{"result"}),

		SnapshotsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vocab",
			Name:      "snapshots_published_total",
			Help:      "Vocabulary snapshots published by reason",
		}, []string{"reason"}),
		SnapshotTrees: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "vocab",
			Name:      "trees",
			Help:      "Trees in the current vocabulary snapshot",
		}),
		SnapshotTerms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "vocab",
			Name:      "terms",
			Help:      "Terms in the current vocabulary snapshot",
		}),
		CachedTrees: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "treecache",
			Name:      "trees",
			Help:      "Trees matched to a schema assignment",
		}),
		DroppedTrees: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "treecache",
			Name:      "dropped_trees",
			Help:      "Trees dropped because no schema assignment matches them",
		}),

		ProvisionalOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provisional",
			Name:      "operations_total",
			Help:      "Provisional term operations by kind and outcome",
		}, []string{"op", "outcome"}),
		RuleLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "axiom",
			Name:      "rule_loads_total",
			Help:      "Axiom rule set loads by outcome",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		m.Evaluations,
		m.EvaluationDuration,
		m.Findings,
		m.EvalCache,
		m.SnapshotsPublished,
		m.SnapshotTrees,
		m.SnapshotTerms,
		m.CachedTrees,
		m.DroppedTrees,
		m.ProvisionalOps,
		m.RuleLoads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveEvaluation records one evaluation and its finding counts.
func (m *Metrics) ObserveEvaluation(d time.Duration, violations, justifications, additional int) {
	if m == nil {
		return
	}
	m.Evaluations.Inc()
	m.EvaluationDuration.Observe(d.Seconds())
	m.Findings.WithLabelValues("violation").Add(float64(violations))
	m.Findings.WithLabelValues("justification").Add(float64(justifications))
	m.Findings.WithLabelValues("additional").Add(float64(additional))
}

// EvalCacheLookup records a memo hit or miss.
func (m *Metrics) EvalCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.EvalCache.WithLabelValues(result).Inc()
}

// SnapshotPublished records a publication and the size of the snapshot.
func (m *Metrics) SnapshotPublished(reason string, trees, terms int) {
	if m == nil {
		return
	}
	m.SnapshotsPublished.WithLabelValues(reason).Inc()
	m.SnapshotTrees.Set(float64(trees))
	m.SnapshotTerms.Set(float64(terms))
}

// TreeCacheBuilt records the outcome of a tree cache rebuild.
func (m *Metrics) TreeCacheBuilt(cached, dropped int) {
	if m == nil {
		return
	}
	m.CachedTrees.Set(float64(cached))
	m.DroppedTrees.Set(float64(dropped))
}

// ProvisionalOp records a provisional term operation.
func (m *Metrics) ProvisionalOp(op string, err error) {
	if m == nil {
		return
	}
	m.ProvisionalOps.WithLabelValues(op, outcome(err)).Inc()
}

// RuleLoad records an axiom rule set load.
func (m *Metrics) RuleLoad(err error) {
	if m == nil {
		return
	}
	m.RuleLoads.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving metrics", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve metrics: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
		return nil
	}
}
