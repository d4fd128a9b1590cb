package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/taskforge/pipeline-api/internal/api/shared"
	"github.com/taskforge/pipeline-api/internal/domain"
	"github.com/taskforge/pipeline-api/internal/queue"
	"github.com/taskforge/pipeline-api/internal/service"
)

// TaskHandler handles task-related HTTP requests.
type TaskHandler struct {
	pipeline service.PipelineService
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(pipeline service.PipelineService) *TaskHandler {
	return &TaskHandler{pipeline: pipeline}
}

// ProcessTask handles POST /api/tasks/{id}/process requests. Processing
// is asynchronous, so success is 202 Accepted.
func (h *TaskHandler) ProcessTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	itemID, err := h.pipeline.ProcessTask(r.Context(), taskID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTaskNotFound):
			shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
		case errors.Is(err, queue.ErrStoreUnavailable):
			shared.RespondWithErrorAndLog(w, r, http.StatusServiceUnavailable,
				"Queue temporarily unavailable", err)
		default:
			shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
				"Failed to queue task for processing", err)
		}
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, ProcessResponse{
		TaskID: taskID,
		ItemID: itemID.String(),
		Stage:  string(domain.PipelineStages()[0]),
	})
}

// GetTask handles GET /api/tasks/{id} requests.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	task, err := h.pipeline.GetTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, service.ErrTaskNotFound) {
			shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to fetch task", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(task))
}

func parseTaskID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	taskID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || taskID <= 0 {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return 0, false
	}
	return taskID, true
}
