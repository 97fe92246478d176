package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Chat metrics
	ChatRequests       prometheus.Counter
	ChatRequestLatency prometheus.Histogram
	ChatErrors         *prometheus.CounterVec

	// Rate limiter decisions: allowed, denied, fail_open, fail_closed
	RateLimitDecisions *prometheus.CounterVec

	// Summarization pipeline
	PipelineRuns         *prometheus.CounterVec
	PipelineQueueDropped prometheus.Counter
}

var globalMetrics *Metrics

// InitMetrics initializes the Prometheus metrics
func InitMetrics(registry *ActorRegistry) *Metrics {
	metrics := &Metrics{
		// Chat requests counter
		ChatRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "parley_chat_requests_total",
			Help: "Total number of chat turns processed",
		}),

		// Chat request latency histogram
		ChatRequestLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "parley_chat_request_duration_seconds",
			Help:    "Chat turn latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}, // up to 2 minutes for LLM responses
		}),

		// Chat errors by type
		ChatErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_chat_errors_total",
			Help: "Total number of chat errors by type",
		}, []string{"error_type"}),

		RateLimitDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_rate_limit_decisions_total",
			Help: "Chat rate limiter decisions by outcome",
		}, []string{"decision"}),

		PipelineRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_pipeline_runs_total",
			Help: "Summarization pipeline runs by outcome",
		}, []string{"outcome"}), // completed, noop, failed, sync_failed

		PipelineQueueDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "parley_pipeline_queue_dropped_total",
			Help: "Summarization runs dropped because the queue was full",
		}),
	}

	// Live actor count comes straight from the registry
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "parley_actors_active",
			Help: "Number of conversation actors resident in memory",
		},
		func() float64 {
			if registry != nil {
				return float64(registry.Count())
			}
			return 0
		},
	))

	globalMetrics = metrics
	return metrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	return globalMetrics
}

// RecordChatRequest records a chat request
func (m *Metrics) RecordChatRequest() {
	if m == nil {
		return
	}
	m.ChatRequests.Inc()
}

// RecordChatLatency records chat request latency
func (m *Metrics) RecordChatLatency(seconds float64) {
	if m == nil {
		return
	}
	m.ChatRequestLatency.Observe(seconds)
}

// RecordChatError records a chat error
func (m *Metrics) RecordChatError(errorType string) {
	if m == nil {
		return
	}
	m.ChatErrors.WithLabelValues(errorType).Inc()
}

// RecordRateLimitDecision records one limiter outcome
func (m *Metrics) RecordRateLimitDecision(decision string) {
	if m == nil {
		return
	}
	m.RateLimitDecisions.WithLabelValues(decision).Inc()
}

// RecordPipelineRun records a finished pipeline run
func (m *Metrics) RecordPipelineRun(outcome string) {
	if m == nil {
		return
	}
	m.PipelineRuns.WithLabelValues(outcome).Inc()
}

// RecordPipelineDrop records a run rejected by a full queue
func (m *Metrics) RecordPipelineDrop() {
	if m == nil {
		return
	}
	m.PipelineQueueDropped.Inc()
}
