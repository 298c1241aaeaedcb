// Package metrics exports store activity as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "osrd"

	kindLabel    = "kind"
	outcomeLabel = "outcome"
)

// Outcomes recorded by the service.
const (
	OutcomeOK      = "ok"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

// Recorder implements repository.Observer and infra.Metrics.
type Recorder struct {
	chunks          *prometheus.CounterVec
	records         *prometheus.CounterVec
	persists        *prometheus.CounterVec
	persistedObjs   prometheus.Counter
	refreshes       *prometheus.CounterVec
	clears          *prometheus.CounterVec
	computeDuration prometheus.Histogram
}

// New builds a Recorder and registers its collectors with reg. A nil reg
// leaves them unregistered.
func New(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "insert_chunks_total",
			Help:      "Insert statements issued by batch writes, per table.",
		}, []string{kindLabel}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inserted_records_total",
			Help:      "Rows written by batch writes, per table.",
		}, []string{kindLabel}),
		persists: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persists_total",
			Help:      "Document imports by outcome.",
		}, []string{outcomeLabel}),
		persistedObjs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persisted_objects_total",
			Help:      "Objects written by successful imports.",
		}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generated_refreshes_total",
			Help:      "Derived data refreshes by outcome.",
		}, []string{outcomeLabel}),
		clears: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generated_clears_total",
			Help:      "Derived data clears by outcome.",
		}, []string{outcomeLabel}),
		computeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generated_compute_seconds",
			Help:      "Time spent computing derived data.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8), // 5ms to ~82s
		}),
	}

	if reg != nil {
		for _, c := range r.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

func (r *Recorder) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		r.chunks, r.records, r.persists, r.persistedObjs,
		r.refreshes, r.clears, r.computeDuration,
	}
}

// ChunkWritten counts one insert statement of n rows into kind.
func (r *Recorder) ChunkWritten(kind string, n int) {
	r.chunks.WithLabelValues(kind).Inc()
	r.records.WithLabelValues(kind).Add(float64(n))
}

// PersistDone counts an import and the objects it wrote.
func (r *Recorder) PersistDone(objects int, err error) {
	if err != nil {
		r.persists.WithLabelValues(OutcomeError).Inc()
		return
	}
	r.persists.WithLabelValues(OutcomeOK).Inc()
	r.persistedObjs.Add(float64(objects))
}

// RefreshDone records a refresh. compute is zero when nothing was computed.
func (r *Recorder) RefreshDone(refreshed bool, compute time.Duration, err error) {
	if compute > 0 {
		r.computeDuration.Observe(compute.Seconds())
	}
	r.refreshes.WithLabelValues(outcome(refreshed, err)).Inc()
}

// ClearDone counts a clear by outcome.
func (r *Recorder) ClearDone(err error) {
	r.clears.WithLabelValues(outcome(true, err)).Inc()
}

func outcome(done bool, err error) string {
	switch {
	case err != nil:
		return OutcomeError
	case !done:
		return OutcomeSkipped
	default:
		return OutcomeOK
	}
}
