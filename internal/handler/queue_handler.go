package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dandantas/boarding/internal/model"
	"github.com/dandantas/boarding/pkg/middleware"
)

// QueueService is the applicant-facing part of the waiting queue
type QueueService interface {
	Join(ctx context.Context, identity string, profile model.Profile) (*model.QueueSnapshot, error)
	Leave(ctx context.Context, identity string) (*model.QueueEntry, error)
	Position(ctx context.Context, identity string) (int64, error)
	Snapshot(ctx context.Context, identity string) (*model.QueueSnapshot, error)
}

// QueueHandler serves the applicant's own queue entry
type QueueHandler struct {
	queue QueueService
}

// NewQueueHandler creates a new queue handler
func NewQueueHandler(queue QueueService) *QueueHandler {
	return &QueueHandler{queue: queue}
}

// JoinRequest is the applicant-supplied part of a join. Username, display
// name and trust level come from the auth proxy headers.
type JoinRequest struct {
	Email string `json:"email"`
}

// PositionResponse is the live position of the caller
type PositionResponse struct {
	Identity string `json:"identity"`
	Position int64  `json:"position"`
}

// Join handles POST /api/v1/queue
func (h *QueueHandler) Join(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req JoinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}

	principal, _ := middleware.GetPrincipal(r.Context())
	profile := model.Profile{
		Username:    principal.Username,
		DisplayName: principal.DisplayName,
		TrustLevel:  principal.TrustLevel,
		Email:       req.Email,
	}

	snapshot, err := h.queue.Join(r.Context(), identity, profile)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	slog.Info("Queue join accepted",
		"identity", identity,
		"position", snapshot.Position,
		"correlation_id", middleware.GetCorrelationID(r.Context()),
	)
	writeJSON(w, http.StatusOK, snapshot)
}

// Leave handles DELETE /api/v1/queue
func (h *QueueHandler) Leave(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	entry, err := h.queue.Leave(r.Context(), identity)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// Me handles GET /api/v1/queue/me
func (h *QueueHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	snapshot, err := h.queue.Snapshot(r.Context(), identity)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// Position handles GET /api/v1/queue/position
func (h *QueueHandler) Position(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	pos, err := h.queue.Position(r.Context(), identity)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PositionResponse{Identity: identity, Position: pos})
}
