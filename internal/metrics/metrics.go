// Package metrics holds the Prometheus collectors shared by the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "resume_assistant"

var (
	// HTTPRequests counts handled requests by route pattern, method and status code.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method and status",
	}, []string{"route", "method", "status"})

	// HTTPDuration tracks request latency by route pattern.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
	}, []string{"route", "method"})

	// RunOutcomes counts remote runs by their final status (or "timeout").
	RunOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "run_outcomes_total",
		Help:      "Remote assistant runs by final status",
	}, []string{"status"})

	// RunPollDuration tracks wall time from run creation to a final state.
	RunPollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_poll_duration_seconds",
		Help:      "Time spent polling a run until it reached a final state",
		Buckets:   []float64{0.5, 1, 2, 4, 8, 15, 30, 60, 90, 120},
	})

	// RunPollAttempts tracks how many status checks a run needed.
	RunPollAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_poll_attempts",
		Help:      "Status checks per run",
		Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34, 55},
	})

	// ThreadsCreated counts remote threads created for new sessions.
	ThreadsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "threads_created_total",
		Help:      "Remote threads created",
	})

	// ModerationDecisions counts moderation outcomes: allow, block or unavailable.
	ModerationDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "moderation_decisions_total",
		Help:      "Moderation gate decisions",
	}, []string{"decision"})

	// RateLimited counts requests rejected by the rate limiter.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter",
	})
)
