// Package metrics declares the Prometheus instrumentation for the engine,
// grounded on the teacher's internal/metrics/metrics.go promauto idiom,
// relabeled to this domain's vocabulary.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DriverTurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_driver_turns_total",
		Help: "Total number of Conversation Driver loop runs, by terminating outcome.",
	}, []string{"outcome"})

	ToolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_tool_calls_total",
		Help: "Total tool calls dispatched by the Execution Engine.",
	}, []string{"tool", "outcome"})

	ToolCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "loom_tool_call_duration_seconds",
		Help:    "Executor dispatch latency per tool.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"tool"})

	PendingExecutions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "loom_pending_executions",
		Help: "Current count of PendingExecution records in status=pending.",
	})

	ApprovalDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_approval_decisions_total",
		Help: "Approval Controller decisions by outcome.",
	}, []string{"decision"})

	ConversationBusyTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loom_conversation_busy_total",
		Help: "Requests rejected because the conversation was already busy.",
	})
)
