package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/taskforge/pipeline-api/internal/domain"
	"github.com/taskforge/pipeline-api/internal/platform/logger"
	"github.com/taskforge/pipeline-api/internal/store"
)

// PostgresTaskStore implements the store.TaskStore interface using PostgreSQL.
type PostgresTaskStore struct {
	db store.DBTX
}

var _ store.TaskStore = (*PostgresTaskStore)(nil)

// NewPostgresTaskStore creates a new PostgresTaskStore.
func NewPostgresTaskStore(db store.DBTX) *PostgresTaskStore {
	return &PostgresTaskStore{
		db: db,
	}
}

// WithTx returns a new store instance bound to the given transaction.
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{db: tx}
}

// GetTask retrieves a task snapshot including any persisted stage results.
func (s *PostgresTaskStore) GetTask(ctx context.Context, id int64) (*domain.Task, error) {
	log := logger.FromContext(ctx)

	task := &domain.Task{StageResults: make(map[domain.Stage]json.RawMessage)}
	var lastError sql.NullString

	query := `
		SELECT id, title, description, status, last_error, created_at, updated_at
		FROM tasks
		WHERE id = $1
	`
	err := s.db.QueryRowContext(ctx, query, id).
		Scan(&task.ID, &task.Title, &task.Description, &task.Status,
			&lastError, &task.CreatedAt, &task.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		log.Error("failed to get task",
			"task_id", id,
			"error", err)
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	task.LastError = lastError.String

	rows, err := s.db.QueryContext(ctx, `
		SELECT stage, result
		FROM task_stage_results
		WHERE task_id = $1
	`, id)
	if err != nil {
		log.Error("failed to get stage results",
			"task_id", id,
			"error", err)
		return nil, fmt.Errorf("failed to get stage results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var stage domain.Stage
		var result []byte
		if err := rows.Scan(&stage, &result); err != nil {
			return nil, fmt.Errorf("failed to scan stage result: %w", err)
		}
		task.StageResults[stage] = json.RawMessage(result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stage results: %w", err)
	}

	return task, nil
}

// UpdateStatus updates a task's status and failure message.
func (s *PostgresTaskStore) UpdateStatus(
	ctx context.Context,
	id int64,
	status domain.TaskStatus,
	message string,
) error {
	log := logger.FromContext(ctx)

	if !status.IsValid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidTaskStatus, status)
	}

	query := `
		UPDATE tasks
		SET status = $1, last_error = $2, updated_at = $3
		WHERE id = $4
	`
	result, err := s.db.ExecContext(ctx, query, status, message, time.Now().UTC(), id)
	if err != nil {
		log.Error("failed to update task status",
			"task_id", id,
			"status", status,
			"error", err)
		return fmt.Errorf("%w: update task status: %v", store.ErrUpdateFailed, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", store.ErrUpdateFailed, err)
	}
	if rowsAffected == 0 {
		return store.ErrTaskNotFound
	}

	log.Debug("task status updated",
		"task_id", id,
		"status", status)
	return nil
}

// SaveStageResult persists the result blob of a completed pipeline stage.
func (s *PostgresTaskStore) SaveStageResult(
	ctx context.Context,
	id int64,
	stage domain.Stage,
	result json.RawMessage,
) error {
	log := logger.FromContext(ctx)

	if !stage.IsValid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidStage, stage)
	}

	query := `
		INSERT INTO task_stage_results (task_id, stage, result, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (task_id, stage)
		DO UPDATE SET result = EXCLUDED.result, created_at = EXCLUDED.created_at
	`
	_, err := s.db.ExecContext(ctx, query, id, stage, []byte(result), time.Now().UTC())
	if err != nil {
		log.Error("failed to save stage result",
			"task_id", id,
			"stage", stage,
			"error", err)
		return fmt.Errorf("failed to save stage result: %w", err)
	}
	return nil
}

// AppendLog records a task-scoped log line.
func (s *PostgresTaskStore) AppendLog(ctx context.Context, id int64, level, message string) error {
	query := `
		INSERT INTO task_logs (task_id, level, message, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := s.db.ExecContext(ctx, query, id, level, message, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to append task log: %w", err)
	}
	return nil
}
