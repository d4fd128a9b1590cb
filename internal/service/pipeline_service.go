// Package service holds the application services sitting between the
// HTTP handlers and the pipeline internals.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/taskforge/pipeline-api/internal/domain"
	"github.com/taskforge/pipeline-api/internal/queue"
	"github.com/taskforge/pipeline-api/internal/store"
)

// PipelineService exposes the task pipeline to callers outside the
// dispatcher: kicking a task into the pipeline and reading its state.
// Version: 1.0
type PipelineService interface {
	// ProcessTask resets the task to pending and enqueues the first
	// pipeline stage for it. Returns the enqueued work item's ID.
	ProcessTask(ctx context.Context, taskID int64) (uuid.UUID, error)

	// GetTask returns the task snapshot with its stage results.
	GetTask(ctx context.Context, taskID int64) (*domain.Task, error)
}

// Common sentinel errors for PipelineService.
var (
	// ErrTaskNotFound indicates that the task does not exist.
	ErrTaskNotFound = errors.New("task not found")
)

// PipelineServiceError wraps errors from the pipeline service with
// operation context.
type PipelineServiceError struct {
	Operation string
	Message   string
	Err       error
}

func (e *PipelineServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pipeline service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("pipeline service %s failed: %s", e.Operation, e.Message)
}

func (e *PipelineServiceError) Unwrap() error {
	return e.Err
}

// newServiceError wraps err with operation context. Known sentinels
// pass through unwrapped so callers can match on them.
func newServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrTaskNotFound) {
		return ErrTaskNotFound
	}
	if errors.Is(err, queue.ErrStoreUnavailable) {
		return fmt.Errorf("%w: %v", queue.ErrStoreUnavailable, err)
	}
	return &PipelineServiceError{Operation: operation, Message: message, Err: err}
}

// pipelineServiceImpl implements the PipelineService interface.
type pipelineServiceImpl struct {
	db     *sql.DB
	tasks  store.TaskStore
	queue  queue.Queue
	logger *slog.Logger

	// runTx is store.RunInTransaction in production; injectable for
	// tests that have no real database.
	runTx func(ctx context.Context, db *sql.DB, fn store.TxFn) error
}

// NewPipelineService creates a PipelineService. All dependencies are
// required.
func NewPipelineService(
	db *sql.DB,
	tasks store.TaskStore,
	q queue.Queue,
	logger *slog.Logger,
) (PipelineService, error) {
	if tasks == nil {
		return nil, &PipelineServiceError{Operation: "create_service", Message: "tasks cannot be nil"}
	}
	if q == nil {
		return nil, &PipelineServiceError{Operation: "create_service", Message: "queue cannot be nil"}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &pipelineServiceImpl{
		db:     db,
		tasks:  tasks,
		queue:  q,
		logger: logger.With("component", "pipeline_service"),
		runTx:  store.RunInTransaction,
	}, nil
}

// ProcessTask resets the task and enqueues the first pipeline stage.
// The status reset and the audit log line commit atomically; the
// enqueue happens after the commit, so a queue outage never leaves a
// half-updated task row.
func (s *pipelineServiceImpl) ProcessTask(ctx context.Context, taskID int64) (uuid.UUID, error) {
	if _, err := s.tasks.GetTask(ctx, taskID); err != nil {
		return uuid.Nil, newServiceError("process_task", "failed to fetch task", err)
	}

	first := domain.PipelineStages()[0]

	err := s.runTx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		txTasks := s.tasks.WithTx(tx)
		if err := txTasks.UpdateStatus(ctx, taskID, domain.TaskStatusPending, ""); err != nil {
			return fmt.Errorf("failed to reset task status: %w", err)
		}
		if err := txTasks.AppendLog(ctx, taskID, "info",
			fmt.Sprintf("queued for processing at stage %s", first)); err != nil {
			return fmt.Errorf("failed to append task log: %w", err)
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, newServiceError("process_task", "failed to prepare task", err)
	}

	itemID, err := s.queue.Enqueue(ctx, first, queue.TaskPayload(taskID), first.Priority())
	if err != nil {
		s.logger.Error("failed to enqueue first stage",
			"task_id", taskID,
			"stage", first,
			"error", err)
		return uuid.Nil, newServiceError("process_task", "failed to enqueue work item", err)
	}

	s.logger.Info("task queued for processing",
		"task_id", taskID,
		"stage", first,
		"item_id", itemID)
	return itemID, nil
}

// GetTask returns the task snapshot with its stage results.
func (s *pipelineServiceImpl) GetTask(ctx context.Context, taskID int64) (*domain.Task, error) {
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, newServiceError("get_task", "failed to fetch task", err)
	}
	return task, nil
}
