// Package metrics defines the Prometheus instruments shared across the
// poller, engine, and gateway. Build one Metrics with New and inject it;
// the gateway serves the registry at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "issuebot"

// Metrics holds every instrument the orchestrator records. All fields are
// registered against the registerer passed to New.
type Metrics struct {
	// Poller.
	PollsTotal      prometheus.Counter
	PollErrorsTotal prometheus.Counter
	IssuesDetected  prometheus.Counter
	DispatchesTotal prometheus.Counter
	IssuesTracked   *prometheus.GaugeVec // status

	// Engine.
	WorkflowsActive  prometheus.Gauge
	IterationsTotal  *prometheus.CounterVec // phase, outcome
	EscalationsTotal *prometheus.CounterVec // reason
	IterationSeconds prometheus.Histogram
	CIWaitSeconds    prometheus.Histogram
	TokensTotal      *prometheus.CounterVec // direction

	// Gateway.
	EventClientsActive prometheus.Gauge
}

// New registers the instrument set against reg. Pass
// prometheus.NewRegistry() in tests to keep registrations isolated.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PollsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Completed polling cycles.",
		}),
		PollErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_errors_total",
			Help:      "Polling cycles that ended with an error.",
		}),
		IssuesDetected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "issues_detected_total",
			Help:      "Issues picked up for tracking.",
		}),
		DispatchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Issues handed to the engine.",
		}),
		IssuesTracked: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "issues_tracked",
			Help:      "Tracked issues by status, refreshed each poll.",
		}, []string{"status"}),
		WorkflowsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workflows_active",
			Help:      "Issue workflows currently running.",
		}),
		IterationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "Completed iterations by phase and outcome.",
		}, []string{"phase", "outcome"}),
		EscalationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Issues escalated to humans by reason.",
		}, []string{"reason"}),
		IterationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "iteration_duration_seconds",
			Help:      "Wall-clock duration of a single iteration.",
			Buckets:   prometheus.ExponentialBuckets(15, 2, 10),
		}),
		CIWaitSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ci_wait_duration_seconds",
			Help:      "Time spent waiting for CI to conclude.",
			Buckets:   prometheus.ExponentialBuckets(15, 2, 10),
		}),
		TokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Model tokens consumed, by direction.",
		}, []string{"direction"}),
		EventClientsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_clients_active",
			Help:      "Connected event-stream subscribers.",
		}),
	}
}

// Iteration phase and outcome label values.
const (
	PhaseImplementation = "implementation"
	PhaseReview         = "review"

	OutcomeSuccess = "success"
	OutcomeFailure = "failure"

	ReasonMaxIterations       = "max_iterations"
	ReasonMaxReviewIterations = "max_review_iterations"

	DirectionInput  = "input"
	DirectionOutput = "output"
)
