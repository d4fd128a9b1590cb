package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/taskforge/pipeline-api/internal/domain"
	"github.com/taskforge/pipeline-api/internal/store"
)

// Handler processes one pipeline stage for one domain task. Handlers do
// not swallow errors: any failure propagates to the dispatcher, which
// owns the work-item and task failure paths.
// Version: 1.0
type Handler interface {
	// Stage returns the pipeline stage this handler is responsible for.
	Stage() domain.Stage

	// Process runs the stage for the given domain task.
	Process(ctx context.Context, taskID int64) error
}

// Generator produces the stage result blobs. The production
// implementation delegates to an LLM; tests substitute fakes.
type Generator interface {
	// AnalyzeTask produces the analysis result for a task.
	AnalyzeTask(ctx context.Context, task *domain.Task) (json.RawMessage, error)

	// GeneratePlan produces the implementation plan, informed by the
	// persisted analysis result.
	GeneratePlan(ctx context.Context, task *domain.Task) (json.RawMessage, error)

	// DecomposeTask breaks the planned task into subtasks.
	DecomposeTask(ctx context.Context, task *domain.Task) (json.RawMessage, error)
}

// ProgressReporter pushes stage progress to external subscribers.
// Implemented by progress.Reporter.
type ProgressReporter interface {
	Report(taskID int64, percent int, message string)
	ReportStageComplete(taskID int64, stage domain.Stage, success bool, message string)
}

// handler is the shared implementation behind every pipeline stage: the
// lifecycle (snapshot, precursor check, status update, generate,
// persist, report) is identical across stages; only the generate step
// differs.
type handler struct {
	stage    domain.Stage
	tasks    store.TaskStore
	reporter ProgressReporter
	logger   *slog.Logger
	generate func(ctx context.Context, task *domain.Task) (json.RawMessage, error)
}

var _ Handler = (*handler)(nil)

// NewAnalyzeHandler creates the handler for the analyze stage.
func NewAnalyzeHandler(
	tasks store.TaskStore,
	generator Generator,
	reporter ProgressReporter,
	logger *slog.Logger,
) Handler {
	return &handler{
		stage:    domain.StageAnalyze,
		tasks:    tasks,
		reporter: reporter,
		logger:   logger.With("stage", domain.StageAnalyze),
		generate: generator.AnalyzeTask,
	}
}

// NewPlanHandler creates the handler for the plan stage.
func NewPlanHandler(
	tasks store.TaskStore,
	generator Generator,
	reporter ProgressReporter,
	logger *slog.Logger,
) Handler {
	return &handler{
		stage:    domain.StagePlan,
		tasks:    tasks,
		reporter: reporter,
		logger:   logger.With("stage", domain.StagePlan),
		generate: generator.GeneratePlan,
	}
}

// NewDecomposeHandler creates the handler for the decompose stage.
func NewDecomposeHandler(
	tasks store.TaskStore,
	generator Generator,
	reporter ProgressReporter,
	logger *slog.Logger,
) Handler {
	return &handler{
		stage:    domain.StageDecompose,
		tasks:    tasks,
		reporter: reporter,
		logger:   logger.With("stage", domain.StageDecompose),
		generate: generator.DecomposeTask,
	}
}

// NewRegistry builds the full stage-to-handler routing table. The
// dispatcher routes work items through it; a stage missing here is a
// wiring bug, not a runtime condition.
func NewRegistry(
	tasks store.TaskStore,
	generator Generator,
	reporter ProgressReporter,
	logger *slog.Logger,
) map[domain.Stage]Handler {
	return map[domain.Stage]Handler{
		domain.StageAnalyze:   NewAnalyzeHandler(tasks, generator, reporter, logger),
		domain.StagePlan:      NewPlanHandler(tasks, generator, reporter, logger),
		domain.StageDecompose: NewDecomposeHandler(tasks, generator, reporter, logger),
	}
}

// Stage implements Handler.
func (h *handler) Stage() domain.Stage {
	return h.stage
}

// Process implements Handler. Steps, in order: fetch the task snapshot,
// verify the precursor stage result exists, mark the task in progress,
// generate the stage result, persist it, and report completion. Any
// error short-circuits and propagates to the dispatcher.
func (h *handler) Process(ctx context.Context, taskID int64) error {
	log := h.logger.With("task_id", taskID)
	log.Info("starting stage")

	task, err := h.tasks.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to fetch task %d: %w", taskID, err)
	}

	// The queue carries no dependency information; this is the explicit
	// check that keeps stage ordering honest even if priorities were
	// ever misconfigured.
	if precursor, ok := h.stage.Precursor(); ok {
		if _, has := task.StageResult(precursor); !has {
			return fmt.Errorf("%w: %s requires a %s result for task %d",
				domain.ErrPrecursorMissing, h.stage, precursor, taskID)
		}
	}

	if err := h.tasks.UpdateStatus(ctx, taskID, domain.TaskStatusInProgress, ""); err != nil {
		return fmt.Errorf("failed to mark task %d in progress: %w", taskID, err)
	}
	h.reporter.Report(taskID, 0, fmt.Sprintf("%s started", h.stage))

	result, err := h.generate(ctx, task)
	if err != nil {
		return fmt.Errorf("%s generation failed for task %d: %w", h.stage, taskID, err)
	}

	if err := h.tasks.SaveStageResult(ctx, taskID, h.stage, result); err != nil {
		return fmt.Errorf("failed to persist %s result for task %d: %w", h.stage, taskID, err)
	}

	// The final stage closes out the task; earlier stages leave it in
	// progress for the next stage in the chain.
	if _, hasNext := h.stage.Next(); !hasNext {
		if err := h.tasks.UpdateStatus(ctx, taskID, domain.TaskStatusCompleted, ""); err != nil {
			return fmt.Errorf("failed to mark task %d completed: %w", taskID, err)
		}
	}

	if err := h.tasks.AppendLog(ctx, taskID, "info",
		fmt.Sprintf("stage %s completed", h.stage)); err != nil {
		// Log lines are observability, not state; losing one is not
		// worth failing the stage over.
		log.Warn("failed to append task log", "error", err)
	}

	h.reporter.ReportStageComplete(taskID, h.stage, true, fmt.Sprintf("%s completed", h.stage))
	log.Info("stage completed")
	return nil
}
