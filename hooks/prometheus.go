package hooks

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Skryldev/image-storage/core"
)

const namespace = "imagestore"

// PrometheusMetrics exports pipeline and save observations as Prometheus
// collectors.
type PrometheusMetrics struct {
	stepDuration *prometheus.HistogramVec
	bytesWritten prometheus.Counter
	savesTotal   *prometheus.CounterVec
	savePercent  *prometheus.HistogramVec
	errorsTotal  *prometheus.CounterVec
}

// NewPrometheusMetrics registers the collectors with reg.  Pass
// prometheus.DefaultRegisterer to expose them on the default /metrics
// handler; tests use a fresh prometheus.NewRegistry().
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	f := promauto.With(reg)
	return &PrometheusMetrics{
		stepDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of pipeline steps in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"step"},
		),
		bytesWritten: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "encoded_bytes_total",
				Help:      "Total number of encoded bytes produced",
			},
		),
		savesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "saves_total",
				Help:      "Total number of save operations",
			},
			[]string{"format", "outcome"},
		),
		savePercent: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "save_percentage",
				Help:      "Estimated size reduction of successful saves, in percent",
				Buckets:   []float64{-50, -10, 0, 10, 25, 50, 75, 90, 99},
			},
			[]string{"format"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"step", "category"},
		),
	}
}

func (p *PrometheusMetrics) RecordProcessingTime(stepName string, d time.Duration) {
	p.stepDuration.WithLabelValues(stepName).Observe(d.Seconds())
}

func (p *PrometheusMetrics) RecordThroughput(bytes int64) {
	p.bytesWritten.Add(float64(bytes))
}

func (p *PrometheusMetrics) RecordSave(format core.Format, outcome string, savePercentage float64) {
	p.savesTotal.WithLabelValues(string(format), outcome).Inc()
	if outcome == core.OutcomeSuccess {
		p.savePercent.WithLabelValues(string(format)).Observe(savePercentage)
	}
}

func (p *PrometheusMetrics) RecordError(stepName string, category string) {
	p.errorsTotal.WithLabelValues(stepName, category).Inc()
}

var _ core.MetricsCollector = (*PrometheusMetrics)(nil)
