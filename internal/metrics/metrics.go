package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "thumbnailer"

	// Labels
	resultLabel  = "result"
	outcomeLabel = "outcome"
)

// Submission results.
const (
	SubmissionAccepted    = "accepted"
	SubmissionCached      = "cached"
	SubmissionRateLimited = "rate_limited"
	SubmissionFailed      = "failed"
)

// Processing outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeRetry     = "retry"
	OutcomePermanent = "permanent"
	OutcomeExhausted = "exhausted"
)

var submissionsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "submissions_total",
		Help:      "number of upload submissions by result",
	},
	[]string{resultLabel},
)

var rateLimitStoreErrorsMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_store_errors_total",
		Help:      "admissions decided by the fail policy because the counter store was unreachable",
	},
)

var jobOutcomesMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_outcomes_total",
		Help:      "number of processed job attempts by outcome",
	},
	[]string{outcomeLabel},
)

var deadLettersMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dead_letters_total",
		Help:      "number of dead-letter records appended",
	},
)

var jobDurationMetric = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "job_duration_seconds",
		Help:      "time spent processing one job attempt",
		Buckets:   prometheus.DefBuckets,
	},
)

var queueDepthMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "number of jobs per queue list",
	},
	[]string{"list"},
)

func IncreaseSubmissions(result string) {
	submissionsTotalMetric.With(prometheus.Labels{resultLabel: result}).Inc()
}

func IncreaseRateLimitStoreErrors() {
	rateLimitStoreErrorsMetric.Inc()
}

func ObserveJob(outcome string, d time.Duration) {
	jobOutcomesMetric.With(prometheus.Labels{outcomeLabel: outcome}).Inc()
	jobDurationMetric.Observe(d.Seconds())
}

func IncreaseDeadLetters() {
	deadLettersMetric.Inc()
}

func SetQueueDepth(ready, processing, delayed int64) {
	queueDepthMetric.WithLabelValues("ready").Set(float64(ready))
	queueDepthMetric.WithLabelValues("processing").Set(float64(processing))
	queueDepthMetric.WithLabelValues("delayed").Set(float64(delayed))
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(submissionsTotalMetric)
	prometheus.MustRegister(rateLimitStoreErrorsMetric)
	prometheus.MustRegister(jobOutcomesMetric)
	prometheus.MustRegister(deadLettersMetric)
	prometheus.MustRegister(jobDurationMetric)
	prometheus.MustRegister(queueDepthMetric)
}
