package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	SubmitCounter    = prometheus.NewCounter(prometheus.CounterOpts{Name: "compress_jobs_submitted_total", Help: "Files submitted for compression"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "compress_rate_limit_waits_total", Help: "Submissions delayed by the dispatch rate limiter"})
	JobSucceeded     = prometheus.NewCounter(prometheus.CounterOpts{Name: "compress_jobs_succeeded_total", Help: "Files compressed, verified and removed"})
	JobSkipped       = prometheus.NewCounter(prometheus.CounterOpts{Name: "compress_jobs_skipped_total", Help: "Jobs found already done"})
	JobRetries       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "compress_jobs_retried_total", Help: "Attempts that will be retried"}, []string{"reason"})
	JobDeadLetter    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "compress_jobs_dead_letter_total", Help: "Jobs moved to the dead-letter queue"}, []string{"reason"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "compress_queue_depth", Help: "Ready queue depth"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "compress_jobs_inflight", Help: "Jobs currently being processed"})
	WaitingGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "compress_jobs_waiting", Help: "Jobs waiting for an admission slot"})
	JobDuration      = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "compress_job_duration_seconds",
		Help:    "Wall time of one job attempt",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	})
)

// Register adds every collector to the default registry once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			SubmitCounter,
			RateLimitRejects,
			JobSucceeded,
			JobSkipped,
			JobRetries,
			JobDeadLetter,
			QueueDepthGauge,
			InFlightGauge,
			WaitingGauge,
			JobDuration,
		)
	})
}

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}

// ObserveResult counts a finished attempt by kind. kind is one of
// succeeded, skipped, retry or fatal.
func ObserveResult(kind, reason string, seconds float64) {
	JobDuration.Observe(seconds)
	switch kind {
	case "succeeded":
		JobSucceeded.Inc()
	case "skipped":
		JobSkipped.Inc()
	case "retry":
		JobRetries.WithLabelValues(reason).Inc()
	case "fatal":
		JobDeadLetter.WithLabelValues(reason).Inc()
	}
}
