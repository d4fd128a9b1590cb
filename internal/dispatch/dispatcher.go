// Package dispatch implements the pipeline's single-consumer polling
// dispatcher. One dispatcher runs per process; it claims one work item
// per tick, routes it to the stage handler for its type, and chains the
// next stage on success. At most one handler invocation is ever in
// flight.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/taskforge/pipeline-api/internal/domain"
	"github.com/taskforge/pipeline-api/internal/platform/logger"
	"github.com/taskforge/pipeline-api/internal/platform/metrics"
	"github.com/taskforge/pipeline-api/internal/queue"
	"github.com/taskforge/pipeline-api/internal/stage"
)

// TaskStatusWriter is the slice of the task store the dispatcher needs
// to propagate handler failures onto the domain task.
type TaskStatusWriter interface {
	UpdateStatus(ctx context.Context, id int64, status domain.TaskStatus, message string) error
}

// Config holds configuration for the dispatcher.
type Config struct {
	// PollInterval is the time between queue polls.
	// If zero, defaults to 2 seconds.
	PollInterval time.Duration

	// StageTimeout bounds a single handler invocation. A handler that
	// exceeds it fails through the normal failure path.
	// If zero, defaults to 5 minutes.
	StageTimeout time.Duration

	// MetricsInterval is how often queue depth gauges are refreshed.
	// If zero, defaults to 5 seconds.
	MetricsInterval time.Duration
}

// Dispatcher polls the work queue and drives stage handlers.
type Dispatcher struct {
	queue    queue.Queue
	handlers map[domain.Stage]stage.Handler
	tasks    TaskStatusWriter
	reporter stage.ProgressReporter
	config   Config
	logger   *slog.Logger

	// slot is a single-slot semaphore: a tick that cannot acquire it
	// immediately is skipped, which keeps at most one handler in
	// flight even if a tick outlives the poll interval.
	slot chan struct{}
}

// New creates a Dispatcher. The handler registry must cover every stage
// the queue can carry; items with an unknown type are failed.
func New(
	q queue.Queue,
	handlers map[domain.Stage]stage.Handler,
	tasks TaskStatusWriter,
	reporter stage.ProgressReporter,
	config Config,
	log *slog.Logger,
) *Dispatcher {
	if config.PollInterval <= 0 {
		config.PollInterval = 2 * time.Second
	}
	if config.StageTimeout <= 0 {
		config.StageTimeout = 5 * time.Minute
	}
	if config.MetricsInterval <= 0 {
		config.MetricsInterval = 5 * time.Second
	}
	return &Dispatcher{
		queue:    q,
		handlers: handlers,
		tasks:    tasks,
		reporter: reporter,
		config:   config,
		logger:   log.With("component", "dispatcher"),
		slot:     make(chan struct{}, 1),
	}
}

// Run polls the queue until ctx is cancelled. An in-flight tick always
// runs to completion before Run returns, so shutdown never abandons an
// active work item.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started",
		"poll_interval", d.config.PollInterval,
		"stage_timeout", d.config.StageTimeout)

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	metricsTicker := time.NewTicker(d.config.MetricsInterval)
	defer metricsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopped")
			return
		case <-metricsTicker.C:
			d.collectQueueMetrics(ctx)
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick runs one poll cycle: claim the next work item and process it
// synchronously. Returns false when the tick was skipped because a
// previous one is still processing. The tick never panics out and
// never lets a handler error escape; the loop must survive anything a
// single item does.
func (d *Dispatcher) Tick(ctx context.Context) bool {
	select {
	case d.slot <- struct{}{}:
	default:
		// Previous tick still in flight.
		return false
	}
	defer func() { <-d.slot }()

	item, err := d.queue.DequeueNext(ctx)
	if errors.Is(err, queue.ErrEmpty) {
		return true
	}
	if err != nil {
		// Backing store unreachable; next poll retries.
		d.logger.Error("failed to dequeue work item", "error", err)
		return true
	}

	d.process(item)
	return true
}

// process runs the stage handler for a claimed item and settles the
// item's fate. It deliberately uses a fresh context: shutdown stops new
// ticks, it does not cancel claimed work.
func (d *Dispatcher) process(item *queue.WorkItem) {
	log := d.logger.With(
		"item_id", item.ID,
		"stage", item.Type,
		"attempts", item.Attempts)

	ctx, cancel := context.WithTimeout(context.Background(), d.config.StageTimeout)
	defer cancel()
	ctx = logger.WithLogger(ctx, log)

	taskID, ok := item.Payload.TaskID()
	if !ok {
		// Without a task reference there is nothing to propagate to.
		log.Error("work item payload carries no task_id")
		d.failItem(ctx, item, "work item payload carries no task_id")
		metrics.ItemsProcessed.WithLabelValues(string(item.Type), "failed").Inc()
		return
	}
	log = log.With("task_id", taskID)

	handler, ok := d.handlers[item.Type]
	if !ok {
		log.Error("no handler registered for stage")
		d.failItem(ctx, item, fmt.Sprintf("no handler registered for stage %q", item.Type))
		d.failTask(ctx, taskID, item.Type, fmt.Sprintf("unknown pipeline stage %q", item.Type))
		metrics.ItemsProcessed.WithLabelValues(string(item.Type), "failed").Inc()
		return
	}

	log.Info("processing work item")
	start := time.Now()
	err := handler.Process(ctx, taskID)
	metrics.StageDuration.WithLabelValues(string(item.Type)).Observe(time.Since(start).Seconds())

	if err != nil {
		log.Error("stage handler failed", "error", err)
		d.failItem(ctx, item, err.Error())
		d.failTask(ctx, taskID, item.Type, err.Error())
		metrics.ItemsProcessed.WithLabelValues(string(item.Type), "failed").Inc()
		return
	}

	if err := d.queue.Complete(ctx, item.ID); err != nil {
		log.Error("failed to complete work item", "error", err)
	}
	metrics.ItemsProcessed.WithLabelValues(string(item.Type), "success").Inc()

	// Chain the next stage at its own (lower) priority so earlier
	// stages of other tasks still win.
	if next, ok := item.Type.Next(); ok {
		if _, err := d.queue.Enqueue(ctx, next, item.Payload, next.Priority()); err != nil {
			log.Error("failed to enqueue next stage",
				"next_stage", next,
				"error", err)
			d.failTask(ctx, taskID, next, fmt.Sprintf("failed to enqueue %s: %v", next, err))
			return
		}
		log.Info("next stage enqueued", "next_stage", next)
	}

	log.Info("work item completed")
}

// failItem marks the work item failed; the backing store owns retry
// scheduling from here.
func (d *Dispatcher) failItem(ctx context.Context, item *queue.WorkItem, reason string) {
	if err := d.queue.Fail(ctx, item.ID, reason); err != nil {
		d.logger.Error("failed to mark work item failed",
			"item_id", item.ID,
			"error", err)
	}
}

// failTask propagates a stage failure to the domain task and notifies
// subscribers, so a failed pipeline never ends in silence.
func (d *Dispatcher) failTask(ctx context.Context, taskID int64, s domain.Stage, message string) {
	if err := d.tasks.UpdateStatus(ctx, taskID, domain.TaskStatusFailed, message); err != nil {
		d.logger.Error("failed to update task status to failed",
			"task_id", taskID,
			"error", err)
	}
	d.reporter.ReportStageComplete(taskID, s, false, message)
}

func (d *Dispatcher) collectQueueMetrics(ctx context.Context) {
	counts, err := d.queue.Status(ctx)
	if err != nil {
		d.logger.Debug("failed to collect queue metrics", "error", err)
		return
	}
	metrics.QueueDepth.WithLabelValues("waiting").Set(float64(counts.Waiting))
	metrics.QueueDepth.WithLabelValues("active").Set(float64(counts.Active))
	metrics.QueueDepth.WithLabelValues("completed").Set(float64(counts.Completed))
	metrics.QueueDepth.WithLabelValues("failed").Set(float64(counts.Failed))
	metrics.QueueDepth.WithLabelValues("delayed").Set(float64(counts.Delayed))
}
