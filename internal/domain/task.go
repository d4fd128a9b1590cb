package domain

import (
	"encoding/json"
	"time"
)

// TaskStatus represents the lifecycle state of a tracked task.
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// IsValid reports whether the status is one of the known values.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusFailed:
		return true
	}
	return false
}

// Task is the business entity the processing pipeline advances.
// The pipeline never owns this entity; it reads snapshots from the
// store and writes status updates and per-stage results back.
type Task struct {
	// ID is the task's identifier as assigned by the relational store.
	ID int64

	// Title and Description are informational; stage prompts are built
	// from them.
	Title       string
	Description string

	// Status reflects the pipeline's view of the task lifecycle.
	Status TaskStatus

	// StageResults holds the persisted result blob for each completed
	// pipeline stage, keyed by stage.
	StageResults map[Stage]json.RawMessage

	// LastError carries the human-readable failure message when
	// Status is TaskStatusFailed.
	LastError string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// StageResult returns the persisted result for the given stage and
// whether one exists.
func (t *Task) StageResult(stage Stage) (json.RawMessage, bool) {
	if t.StageResults == nil {
		return nil, false
	}
	result, ok := t.StageResults[stage]
	return result, ok && len(result) > 0
}
