package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "docextract"

	outcomeLabel  = "outcome"
	strategyLabel = "strategy"
	stateLabel    = "status"
)

// Outcome values for job counters.
const (
	OutcomeCompleted     = "completed"
	OutcomeFailed        = "failed"
	OutcomeDropped       = "dropped"
	OutcomeRetried       = "retried"
	OutcomeUnrecoverable = "unrecoverable"
)

var (
	documentsSubmittedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "documents_submitted_total",
		Help:      "Documents accepted by the ingestion gateway",
	})

	enqueueFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enqueue_failures_total",
		Help:      "Jobs that could not be enqueued after the document insert",
	})

	jobsReceivedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_received_total",
		Help:      "Extraction jobs dequeued by workers",
	})

	jobsProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_processed_total",
		Help:      "Extraction jobs by outcome",
	}, []string{outcomeLabel})

	extractionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "extraction_duration_seconds",
		Help:      "Strategy run time",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{strategyLabel})

	jobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "jobs_in_flight",
		Help:      "Jobs currently held by worker handlers",
	})

	reconciledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconciled_documents_total",
		Help:      "Stale documents re-enqueued by the reconciliation sweep",
	}, []string{stateLabel})

	httpPanicsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_panics_total",
		Help:      "Handler panics recovered by the HTTP middleware",
	})
)

func init() {
	prometheus.MustRegister(
		documentsSubmittedTotal,
		enqueueFailuresTotal,
		jobsReceivedTotal,
		jobsProcessedTotal,
		extractionDuration,
		jobsInFlight,
		reconciledTotal,
		httpPanicsTotal,
	)
}

// IncHTTPPanics counts a recovered handler panic.
func IncHTTPPanics() {
	httpPanicsTotal.Inc()
}

// IncDocumentsSubmitted increments the accepted-upload counter.
func IncDocumentsSubmitted() {
	documentsSubmittedTotal.Inc()
}

// IncEnqueueFailures counts enqueue failures that left a document pending.
func IncEnqueueFailures() {
	enqueueFailuresTotal.Inc()
}

// IncJobsReceived increments the dequeued counter.
func IncJobsReceived() {
	jobsReceivedTotal.Inc()
}

// IncJobsProcessed counts a finished job by outcome.
func IncJobsProcessed(outcome string) {
	jobsProcessedTotal.With(prometheus.Labels{outcomeLabel: outcome}).Inc()
}

// ObserveExtraction records how long a strategy ran.
func ObserveExtraction(strategy string, d time.Duration) {
	if d < 0 {
		d = 0
	}
	extractionDuration.With(prometheus.Labels{strategyLabel: strategy}).Observe(d.Seconds())
}

// JobStarted and JobFinished track in-flight handlers.
func JobStarted() { jobsInFlight.Inc() }

func JobFinished() { jobsInFlight.Dec() }

// IncReconciled counts documents requeued by the sweep, by the status they were stuck in.
func IncReconciled(status string) {
	reconciledTotal.With(prometheus.Labels{stateLabel: status}).Inc()
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
