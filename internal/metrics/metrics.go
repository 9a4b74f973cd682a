// Package metrics provides Prometheus metrics for the orchestrator service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesTotal counts bus messages by kind.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forgeview",
			Subsystem: "orchestrator",
			Name:      "messages_total",
			Help:      "Total number of bus messages sent by kind",
		},
		[]string{"kind"}, // "status_update", "file_delivery"
	)

	// SubscriberFailures counts recovered subscriber callback panics.
	SubscriberFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "forgeview",
			Subsystem: "orchestrator",
			Name:      "subscriber_failures_total",
			Help:      "Total number of subscriber callbacks that panicked during delivery",
		},
	)

	// PendingDeliveries tracks file deliveries buffered before sandbox registration.
	PendingDeliveries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "forgeview",
			Subsystem: "orchestrator",
			Name:      "pending_deliveries",
			Help:      "Number of file deliveries buffered while no sandbox is registered",
		},
	)

	// NodesActive tracks agent nodes currently in the graph.
	NodesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "forgeview",
			Subsystem: "orchestrator",
			Name:      "nodes_active",
			Help:      "Number of agent nodes currently registered",
		},
	)

	// StageTransitions counts stage state changes by producer type and stage.
	StageTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forgeview",
			Subsystem: "orchestrator",
			Name:      "stage_transitions_total",
			Help:      "Total number of stage transitions by producer type and target state",
		},
		[]string{"producer_type", "state"}, // state: "active", "completed"
	)

	// PipelinesTotal counts finished pipelines by content source.
	PipelinesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forgeview",
			Subsystem: "orchestrator",
			Name:      "pipelines_total",
			Help:      "Total number of completed pipelines by content source",
		},
		[]string{"source"}, // "generated", "fallback"
	)

	// PipelineDuration tracks pipeline wall time from start to finalization.
	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "forgeview",
			Subsystem: "orchestrator",
			Name:      "pipeline_duration_seconds",
			Help:      "Pipeline duration from start to finalization in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"producer_type"},
	)

	// FilesDelivered counts files ingested by the sandbox.
	FilesDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "forgeview",
			Subsystem: "orchestrator",
			Name:      "files_delivered_total",
			Help:      "Total number of file deliveries ingested by the sandbox",
		},
	)

	// SandboxMode tracks the sandbox's current mode (0=none, 1=execution, 2=static).
	SandboxMode = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "forgeview",
			Subsystem: "orchestrator",
			Name:      "sandbox_mode",
			Help:      "Current sandbox mode (0=none, 1=execution, 2=static)",
		},
	)

	// SandboxFaults counts runtime acquisition and readiness faults by class.
	SandboxFaults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forgeview",
			Subsystem: "orchestrator",
			Name:      "sandbox_faults_total",
			Help:      "Total number of sandbox runtime faults by class",
		},
		[]string{"fault"},
	)

	// SynthRuns counts synthesizer invocations by winning strategy.
	SynthRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forgeview",
			Subsystem: "orchestrator",
			Name:      "synth_runs_total",
			Help:      "Total number of preview synthesizer runs by winning strategy",
		},
		[]string{"strategy"}, // "document", "fragment", "entry", "component", "debug", "listing", "placeholder"
	)

	// SynthDuration tracks synthesizer latency.
	SynthDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "forgeview",
			Subsystem: "orchestrator",
			Name:      "synth_duration_seconds",
			Help:      "Preview synthesizer duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// GenerationCalls counts generation collaborator calls by result.
	GenerationCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forgeview",
			Subsystem: "orchestrator",
			Name:      "generation_calls_total",
			Help:      "Total number of generation collaborator calls by result",
		},
		[]string{"result"}, // "success", "empty", "error"
	)

	// BuildsTotal counts build runs by final status.
	BuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forgeview",
			Subsystem: "orchestrator",
			Name:      "builds_total",
			Help:      "Total number of build runs by final status",
		},
		[]string{"status"},
	)

	// EventsTotal counts display events emitted by type.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forgeview",
			Subsystem: "orchestrator",
			Name:      "events_total",
			Help:      "Total number of events emitted",
		},
		[]string{"type"},
	)

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forgeview",
			Subsystem: "orchestrator",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "forgeview",
			Subsystem: "orchestrator",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// WSClients tracks connected websocket display clients.
	WSClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "forgeview",
			Subsystem: "orchestrator",
			Name:      "ws_clients",
			Help:      "Number of connected websocket clients",
		},
	)

	// SSEConnections tracks open SSE event streams.
	SSEConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "forgeview",
			Subsystem: "orchestrator",
			Name:      "sse_connections",
			Help:      "Number of open SSE event streams",
		},
	)

	// SSEConnectionDuration tracks how long SSE streams stay open.
	SSEConnectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "forgeview",
			Subsystem: "orchestrator",
			Name:      "sse_connection_duration_seconds",
			Help:      "Duration of closed SSE event streams in seconds",
			Buckets:   []float64{1, 10, 30, 60, 300, 900, 3600},
		},
	)

	// ArtifactOperations counts artifact store operations.
	ArtifactOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forgeview",
			Subsystem: "orchestrator",
			Name:      "artifact_operations_total",
			Help:      "Total number of artifact store operations",
		},
		[]string{"operation", "result"}, // operation: put, get, presign; result: success, error
	)
)
