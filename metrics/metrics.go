// Package metrics records per-run counters for the translation pipeline and
// exports them in the Prometheus text format for node_exporter's textfile
// collector.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Entry outcomes.
const (
	OutcomeSkipped    = "skipped"
	OutcomeMemory     = "memory"
	OutcomeTranslated = "translated"
	OutcomeFallback   = "fallback"
	OutcomeFailed     = "failed"
	OutcomeReview     = "review"
)

// Recorder holds the metrics of one run in a private registry. A nil
// *Recorder is valid and records nothing.
type Recorder struct {
	reg *prometheus.Registry

	entriesTotal    *prometheus.CounterVec
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	flushesTotal    *prometheus.CounterVec
	runDuration     prometheus.Gauge
	lastRun         prometheus.Gauge
}

// New creates a Recorder. Constant labels (e.g. language) are attached to
// every series.
func New(constLabels prometheus.Labels) *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		reg: reg,
		entriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "potr_entries_total",
				Help:        "Catalog entries processed, by outcome",
				ConstLabels: constLabels,
			},
			[]string{"outcome"},
		),
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "potr_backend_requests_total",
				Help:        "HTTP round trips to the model API, by model and outcome",
				ConstLabels: constLabels,
			},
			[]string{"model", "outcome"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "potr_backend_request_duration_seconds",
				Help:        "Duration of model API round trips in seconds",
				Buckets:     []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0, 120.0},
				ConstLabels: constLabels,
			},
			[]string{"model"},
		),
		flushesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "potr_catalog_writes_total",
				Help:        "Catalog writes, by result",
				ConstLabels: constLabels,
			},
			[]string{"result"},
		),
		runDuration: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "potr_run_duration_seconds",
			Help:        "Wall time of the last run in seconds",
			ConstLabels: constLabels,
		}),
		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "potr_last_run_timestamp_seconds",
			Help:        "Unix time the last run finished",
			ConstLabels: constLabels,
		}),
	}
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

// ObserveRequest records one backend round trip.
func (r *Recorder) ObserveRequest(model, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.requestsTotal.WithLabelValues(model, outcome).Inc()
	r.requestDuration.WithLabelValues(model).Observe(elapsed.Seconds())
}

// Entry counts one processed entry.
func (r *Recorder) Entry(outcome string) {
	if r == nil {
		return
	}
	r.entriesTotal.WithLabelValues(outcome).Inc()
}

// Write counts one catalog write.
func (r *Recorder) Write(err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.flushesTotal.WithLabelValues("error").Inc()
		return
	}
	r.flushesTotal.WithLabelValues("ok").Inc()
}

// Finish records the run duration and completion time.
func (r *Recorder) Finish(started, finished time.Time) {
	if r == nil {
		return
	}
	r.runDuration.Set(finished.Sub(started).Seconds())
	r.lastRun.Set(float64(finished.Unix()))
}

// WriteTextfile writes all metrics to path atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
