// Package progress adapts pipeline state changes into notification hub
// fan-outs. It is the only point where task progress becomes visible to
// external subscribers.
package progress

import (
	"log/slog"
	"time"

	"github.com/taskforge/pipeline-api/internal/domain"
)

// Notifier fans an event out to all current subscribers of a topic.
// Implemented by the notification hub.
type Notifier interface {
	NotifySubscribers(resource string, id int64, data any)
}

// Reporter translates progress and stage-completion reports into
// notifications on the task's topic. It holds no state of its own.
type Reporter struct {
	notifier Notifier
	logger   *slog.Logger

	// now is injectable for tests.
	now func() time.Time
}

// NewReporter creates a Reporter publishing through the given notifier.
func NewReporter(notifier Notifier, logger *slog.Logger) *Reporter {
	return &Reporter{
		notifier: notifier,
		logger:   logger.With("component", "progress_reporter"),
		now:      time.Now,
	}
}

// Report publishes a progress percentage for a task.
func (r *Reporter) Report(taskID int64, percent int, message string) {
	r.logger.Debug("reporting progress",
		"task_id", taskID,
		"percent", percent)

	r.notifier.NotifySubscribers("task", taskID, map[string]any{
		"event":     "progress",
		"percent":   percent,
		"message":   message,
		"timestamp": r.now().UnixMilli(),
	})
}

// ReportStageComplete publishes the outcome of one pipeline stage.
func (r *Reporter) ReportStageComplete(
	taskID int64,
	stage domain.Stage,
	success bool,
	message string,
) {
	r.logger.Debug("reporting stage completion",
		"task_id", taskID,
		"stage", stage,
		"success", success)

	r.notifier.NotifySubscribers("task", taskID, map[string]any{
		"event":     "stage_complete",
		"stage":     string(stage),
		"success":   success,
		"message":   message,
		"timestamp": r.now().UnixMilli(),
	})
}
