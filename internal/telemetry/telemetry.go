// Package telemetry exposes prometheus collectors for analysis runs.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns a private registry so tests and multiple analyzers never
// collide on the global default registry. A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry      *prometheus.Registry
	runs          *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	datasetRows   prometheus.Gauge
	downloadBytes prometheus.Counter
}

// NewRecorder creates and registers the flowlens collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowlens_runs_total",
			Help: "Analysis pipeline runs by outcome.",
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowlens_stage_duration_seconds",
			Help:    "Wall time spent per pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"stage"}),
		datasetRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowlens_dataset_rows",
			Help: "Rows loaded by the most recent run.",
		}),
		downloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowlens_download_bytes_total",
			Help: "Bytes fetched from the remote dataset source.",
		}),
	}
	r.registry.MustRegister(r.runs, r.stageDuration, r.datasetRows, r.downloadBytes)
	return r
}

// RunFinished counts a pipeline run with outcome "ok" or "error".
func (r *Recorder) RunFinished(err error) {
	if r == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.runs.WithLabelValues(outcome).Inc()
}

// ObserveStage records the duration of one stage.
func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// SetDatasetRows records how many rows the last run loaded.
func (r *Recorder) SetDatasetRows(n int) {
	if r == nil {
		return
	}
	r.datasetRows.Set(float64(n))
}

// AddDownloadBytes accumulates downloaded bytes.
func (r *Recorder) AddDownloadBytes(n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.downloadBytes.Add(float64(n))
}

// Gatherer exposes the private registry.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.registry
}

// Handler serves the registry in the prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{})
}
