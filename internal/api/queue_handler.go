package api

import (
	"net/http"

	"github.com/taskforge/pipeline-api/internal/api/shared"
	"github.com/taskforge/pipeline-api/internal/queue"
)

// QueueHandler exposes work queue introspection.
type QueueHandler struct {
	queue queue.Queue
}

// NewQueueHandler creates a new QueueHandler.
func NewQueueHandler(q queue.Queue) *QueueHandler {
	return &QueueHandler{queue: q}
}

// Status handles GET /api/queue/status requests.
func (h *QueueHandler) Status(w http.ResponseWriter, r *http.Request) {
	counts, err := h.queue.Status(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusServiceUnavailable,
			"Queue temporarily unavailable", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, QueueStatusResponse{
		Waiting:   counts.Waiting,
		Active:    counts.Active,
		Completed: counts.Completed,
		Failed:    counts.Failed,
		Delayed:   counts.Delayed,
	})
}
