// Package metrics defines the Prometheus collectors for the task
// pipeline and the notification hub. Collectors are registered on the
// default registry and exposed via promhttp on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ItemsProcessed tracks the total number of processed work items.
	// Labels:
	//   - stage: pipeline stage (analyze-task, generate-plan, decompose-task)
	//   - outcome: "success" or "failed"
	ItemsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_items_processed_total",
		Help: "The total number of processed work items",
	}, []string{"stage", "outcome"})

	// StageDuration tracks stage handler latency in seconds.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_stage_duration_seconds",
		Help:    "Duration of stage handler execution",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	// QueueDepth tracks the number of work items per queue state.
	// Updated periodically by the dispatcher's metrics collector.
	// Labels:
	//   - state: "waiting", "active", "completed", "failed", "delayed"
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipeline_queue_depth",
		Help: "Number of work items in each queue state",
	}, []string{"state"})

	// HubConnections tracks the number of open websocket connections.
	HubConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_hub_connections",
		Help: "Number of open websocket connections",
	})

	// HubEventsSent tracks update messages fanned out to subscribers.
	// Labels:
	//   - resource: topic resource kind (e.g. "task")
	HubEventsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_hub_events_sent_total",
		Help: "Update messages delivered to topic subscribers",
	}, []string{"resource"})
)
