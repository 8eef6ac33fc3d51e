// Package metrics exposes Prometheus instruments for the rules engine.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sop_rules"

var (
	// scanDuration measures full conflict scans.
	scanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "conflicts",
		Name:      "scan_duration_seconds",
		Help:      "Conflict scan latency in seconds",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	// conflictsFound counts conflicts reported by scans.
	// Labels: type (overlapping, duplicate, contradictory)
	conflictsFound = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "conflicts",
		Name:      "found_total",
		Help:      "Conflicts reported by scans, by type",
	}, []string{"type"})

	// resolutions counts applied resolutions.
	// Labels: action
	resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "conflicts",
		Name:      "resolutions_total",
		Help:      "Conflict resolutions applied, by action",
	}, []string{"action"})

	// candidates counts extraction candidates by outcome.
	// Labels: outcome (added, duplicate, malformed)
	candidates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingestion",
		Name:      "candidates_total",
		Help:      "Extraction candidates processed, by outcome",
	}, []string{"outcome"})

	// documents counts finished document runs.
	// Labels: mode (new, update), status (completed, failed)
	documents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingestion",
		Name:      "documents_total",
		Help:      "Document ingestion runs, by mode and final status",
	}, []string{"mode", "status"})

	// queueTasks counts ingestion queue task state changes.
	// Labels: status (pending, running, completed, failed, cancelled)
	queueTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingestion",
		Name:      "queue_task_updates_total",
		Help:      "Ingestion queue task state changes, by new status",
	}, []string{"status"})

	// tagIngests counts registry ingest calls.
	// Labels: type, result (created, incremented)
	tagIngests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tags",
		Name:      "ingest_total",
		Help:      "Tag registry ingest calls, by tag type and result",
	}, []string{"type", "result"})

	// tagTransitions counts governance transitions.
	// Labels: to (target status)
	tagTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tags",
		Name:      "transitions_total",
		Help:      "Tag status transitions, by target status",
	}, []string{"to"})

	// httpRequests counts API requests.
	// Labels: route (mux pattern), status (HTTP status code)
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests, by route pattern and status",
	}, []string{"route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds, by route pattern",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	// mcpToolCalls counts MCP tool invocations.
	// Labels: tool, result (ok, tool_error, error)
	mcpToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mcp",
		Name:      "tool_calls_total",
		Help:      "MCP tool calls, by tool and result",
	}, []string{"tool", "result"})
)

// RecordScan records one conflict scan and the conflict types it found.
func RecordScan(durationSec float64, conflictTypes []string) {
	scanDuration.Observe(durationSec)
	for _, t := range conflictTypes {
		conflictsFound.WithLabelValues(t).Inc()
	}
}

// RecordResolution records an applied resolution.
func RecordResolution(action string) {
	resolutions.WithLabelValues(action).Inc()
}

// RecordCandidate records the outcome of one extraction candidate:
// "added", "duplicate" or "malformed".
func RecordCandidate(outcome string) {
	candidates.WithLabelValues(outcome).Inc()
}

// RecordDocument records a finished document run.
func RecordDocument(mode, status string) {
	documents.WithLabelValues(mode, status).Inc()
}

// RecordQueueTask records an ingestion task entering status.
func RecordQueueTask(status string) {
	queueTasks.WithLabelValues(status).Inc()
}

// RecordTagIngest records a registry ingest call.
func RecordTagIngest(tagType string, created bool) {
	result := "incremented"
	if created {
		result = "created"
	}
	tagIngests.WithLabelValues(tagType, result).Inc()
}

// RecordTagTransition records a tag moving to a new status.
func RecordTagTransition(to string) {
	tagTransitions.WithLabelValues(to).Inc()
}

// RecordHTTPRequest records one served request. route is the mux pattern,
// never the raw path, to keep label cardinality bounded.
func RecordHTTPRequest(route string, status int, durationSec float64) {
	if route == "" {
		route = "unmatched"
	}
	httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(route).Observe(durationSec)
}

// RecordToolCall records an MCP tool invocation.
func RecordToolCall(tool, result string) {
	mcpToolCalls.WithLabelValues(tool, result).Inc()
}
