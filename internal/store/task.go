package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/taskforge/pipeline-api/internal/domain"
)

// TaskStore defines the interface for task persistence as consumed by
// the pipeline. The surrounding CRUD controllers own the full task
// surface; the pipeline needs only snapshots, status updates, stage
// results, and log lines.
// Version: 1.0
type TaskStore interface {
	// GetTask retrieves a task snapshot by ID, including any persisted
	// stage results. Returns ErrTaskNotFound if the task does not exist.
	GetTask(ctx context.Context, id int64) (*domain.Task, error)

	// UpdateStatus updates a task's status and failure message.
	// Returns ErrTaskNotFound if the task does not exist.
	UpdateStatus(ctx context.Context, id int64, status domain.TaskStatus, message string) error

	// SaveStageResult persists the result blob of a completed pipeline
	// stage. Saving a stage result twice overwrites the previous blob.
	SaveStageResult(ctx context.Context, id int64, stage domain.Stage, result json.RawMessage) error

	// AppendLog records a task-scoped log line for observability.
	AppendLog(ctx context.Context, id int64, level, message string) error

	// WithTx returns a new TaskStore instance that uses the provided
	// transaction. The transaction is created and managed by the caller.
	WithTx(tx *sql.Tx) TaskStore
}
