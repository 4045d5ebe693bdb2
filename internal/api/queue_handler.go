package api

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/opqueue/internal/api/shared"
	"github.com/phrazzld/opqueue/internal/queue"
)

// QueueHandler serves the queue-wide endpoints: aggregate state and the
// pause/resume/clear controls.
type QueueHandler struct {
	queue  *queue.Queue
	logger *slog.Logger
}

// NewQueueHandler creates a QueueHandler.
func NewQueueHandler(q *queue.Queue, logger *slog.Logger) *QueueHandler {
	return &QueueHandler{
		queue:  q,
		logger: logger.With("component", "queue_handler"),
	}
}

// State handles GET /api/state.
func (h *QueueHandler) State(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, h.queue.State())
}

// ClearCompleted handles POST /api/queue/clear-completed.
func (h *QueueHandler) ClearCompleted(w http.ResponseWriter, r *http.Request) {
	h.queue.ClearCompleted()
	w.WriteHeader(http.StatusNoContent)
}

// Pause handles POST /api/queue/pause.
func (h *QueueHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.queue.Pause()
	w.WriteHeader(http.StatusNoContent)
}

// Resume handles POST /api/queue/resume.
func (h *QueueHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.queue.Resume()
	w.WriteHeader(http.StatusNoContent)
}
