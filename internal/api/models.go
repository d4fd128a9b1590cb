package api

import (
	"encoding/json"
	"time"

	"github.com/taskforge/pipeline-api/internal/domain"
)

// TaskResponse is the response body for a task snapshot.
type TaskResponse struct {
	ID           int64                      `json:"id"`
	Title        string                     `json:"title"`
	Description  string                     `json:"description,omitempty"`
	Status       string                     `json:"status"`
	LastError    string                     `json:"last_error,omitempty"`
	StageResults map[string]json.RawMessage `json:"stage_results,omitempty"`
	CreatedAt    time.Time                  `json:"created_at"`
	UpdatedAt    time.Time                  `json:"updated_at"`
}

// ProcessResponse is returned when a task is queued for processing.
type ProcessResponse struct {
	TaskID int64  `json:"task_id"`
	ItemID string `json:"item_id"`
	Stage  string `json:"stage"`
}

// QueueStatusResponse reports per-state work item counts.
type QueueStatusResponse struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

func taskToResponse(task *domain.Task) TaskResponse {
	resp := TaskResponse{
		ID:          task.ID,
		Title:       task.Title,
		Description: task.Description,
		Status:      string(task.Status),
		LastError:   task.LastError,
		CreatedAt:   task.CreatedAt,
		UpdatedAt:   task.UpdatedAt,
	}
	if len(task.StageResults) > 0 {
		resp.StageResults = make(map[string]json.RawMessage, len(task.StageResults))
		for stage, result := range task.StageResults {
			resp.StageResults[string(stage)] = result
		}
	}
	return resp
}
