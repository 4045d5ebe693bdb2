package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/phrazzld/opqueue/internal/api/shared"
	"github.com/phrazzld/opqueue/internal/queue"
)

// OperationHandler serves the per-operation endpoints: enqueue, cancel,
// promote, result lookup, and the correlation-group actions.
type OperationHandler struct {
	queue    *queue.Queue
	validate *validator.Validate
	logger   *slog.Logger
}

// NewOperationHandler creates an OperationHandler.
func NewOperationHandler(q *queue.Queue, logger *slog.Logger) *OperationHandler {
	return &OperationHandler{
		queue:    q,
		validate: validator.New(),
		logger:   logger.With("component", "operation_handler"),
	}
}

// Enqueue handles POST /api/operations.
func (h *OperationHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueOperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	priority, err := parsePriority(req.Priority)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.queue.Enqueue(r.Context(), queue.EnqueueRequest{
		Kind:          req.Kind,
		Label:         req.Label,
		Payload:       req.Payload,
		Priority:      priority,
		MaxAttempts:   req.MaxAttempts,
		CorrelationID: req.CorrelationID,
		UserInitiated: req.UserInitiated,
	})
	switch {
	case errors.Is(err, queue.ErrAdmissionRejected):
		shared.RespondWithError(w, r, http.StatusTooManyRequests, "Operation rejected under resource pressure")
		return
	case errors.Is(err, queue.ErrQueueStopped):
		shared.RespondWithError(w, r, http.StatusServiceUnavailable, "Queue is shutting down")
		return
	case err != nil:
		shared.RespondWithError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, EnqueueOperationResponse{ID: id.String()})
}

// Remove handles DELETE /api/operations/{id}.
func (h *OperationHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if !h.queue.Remove(id) {
		shared.RespondWithError(w, r, http.StatusNotFound, "Operation not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Promote handles POST /api/operations/{id}/promote.
func (h *OperationHandler) Promote(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if !h.queue.Promote(id) {
		shared.RespondWithError(w, r, http.StatusNotFound, "Operation not found or already at top priority")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Result handles GET /api/operations/{id}/result.
func (h *OperationHandler) Result(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	res, found := h.queue.ResultFor(id)
	if !found {
		shared.RespondWithError(w, r, http.StatusNotFound, "No result recorded for operation")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, res)
}

// PromoteGroup handles POST /api/groups/{correlationID}/promote.
func (h *OperationHandler) PromoteGroup(w http.ResponseWriter, r *http.Request) {
	correlationID := chi.URLParam(r, "correlationID")
	if correlationID == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "correlationID is required")
		return
	}
	n := h.queue.PromoteGroup(correlationID)
	shared.RespondWithJSON(w, r, http.StatusOK, GroupActionResponse{Affected: n})
}

// RemoveGroup handles DELETE /api/groups/{correlationID}.
func (h *OperationHandler) RemoveGroup(w http.ResponseWriter, r *http.Request) {
	correlationID := chi.URLParam(r, "correlationID")
	if correlationID == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "correlationID is required")
		return
	}
	n := h.queue.RemoveGroup(correlationID)
	shared.RespondWithJSON(w, r, http.StatusOK, GroupActionResponse{Affected: n})
}

// pathID extracts and parses the {id} path parameter, writing an error
// response on failure.
func (h *OperationHandler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid operation id")
		return uuid.Nil, false
	}
	return id, true
}
