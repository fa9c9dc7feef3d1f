package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dandantas/boarding/internal/groups"
	"github.com/dandantas/boarding/internal/model"
	"github.com/dandantas/boarding/internal/queue"
	"github.com/dandantas/boarding/internal/reservation"
	"github.com/dandantas/boarding/internal/scheduler"
	"github.com/dandantas/boarding/pkg/middleware"
)

// AdminHandler exposes queue administration, the resource pool and the
// group directory
type AdminHandler struct {
	queue        *queue.Service
	reservations *reservation.Service
	groups       *groups.Directory
	fulfiller    *scheduler.Fulfiller
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(q *queue.Service, res *reservation.Service, dir *groups.Directory, f *scheduler.Fulfiller) *AdminHandler {
	return &AdminHandler{queue: q, reservations: res, groups: dir, fulfiller: f}
}

// StatusRequest changes an entry's status
type StatusRequest struct {
	Status model.EntryStatus `json:"status"`
}

// BindRequest binds a resource, by id or value, to an entry
type BindRequest struct {
	Resource string `json:"resource"`
}

// ImportRequest adds access codes to the pool
type ImportRequest struct {
	Values     []string `json:"values"`
	Channel    string   `json:"channel"`
	BoundGroup string   `json:"bound_group,omitempty"`
}

// ImportResponse reports how many codes were added
type ImportResponse struct {
	Submitted int `json:"submitted"`
	Added     int `json:"added"`
}

// RegisterGroupRequest carries a group with its credentials
type RegisterGroupRequest struct {
	Identity  string `json:"identity"`
	Name      string `json:"name,omitempty"`
	AccountID string `json:"account_id"`
	Token     string `json:"token"`
	DeviceID  string `json:"device_id,omitempty"`
	Open      *bool  `json:"open,omitempty"`
}

// ListEntries handles GET /api/v1/admin/queue
func (h *AdminHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	q := model.EntryQuery{
		Status: model.EntryStatus(r.URL.Query().Get("status")),
		Search: r.URL.Query().Get("search"),
		Page:   parseQueryInt(r, "page", 1),
		Limit:  parseQueryInt(r, "limit", 20),
	}

	page, err := h.queue.List(r.Context(), q)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Stats handles GET /api/v1/admin/queue/stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetEntry handles GET /api/v1/admin/queue/{id}
func (h *AdminHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	id, err := pathObjectID(r, "id")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	entry, err := h.queue.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// SetStatus handles PATCH /api/v1/admin/queue/{id}
func (h *AdminHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathObjectID(r, "id")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	var req StatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}

	entry, err := h.queue.SetStatus(r.Context(), id, req.Status)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	slog.Info("Admin changed entry status",
		"entry_id", id.Hex(),
		"status", entry.Status,
		"correlation_id", middleware.GetCorrelationID(r.Context()),
	)
	writeJSON(w, http.StatusOK, entry)
}

// BindResource handles PUT /api/v1/admin/queue/{id}/reservation
func (h *AdminHandler) BindResource(w http.ResponseWriter, r *http.Request) {
	id, err := pathObjectID(r, "id")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	var req BindRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}

	entry, err := h.queue.BindResource(r.Context(), id, req.Resource)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// ClearReservation handles DELETE /api/v1/admin/queue/{id}/reservation
func (h *AdminHandler) ClearReservation(w http.ResponseWriter, r *http.Request) {
	id, err := pathObjectID(r, "id")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	entry, err := h.queue.ClearReservation(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// ResetCooldown handles POST /api/v1/admin/queue/{id}/cooldown-reset
func (h *AdminHandler) ResetCooldown(w http.ResponseWriter, r *http.Request) {
	id, err := pathObjectID(r, "id")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	entry, err := h.queue.ResetCooldown(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// Redeem handles POST /api/v1/admin/queue/{id}/redeem. The response carries
// the run summary; a skipped or failed run is still a 200.
func (h *AdminHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	id, err := pathObjectID(r, "id")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	run, err := h.fulfiller.RedeemEntry(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ClearQueue handles DELETE /api/v1/admin/queue
func (h *AdminHandler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	cleared, err := h.queue.ClearQueue(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"cleared": cleared})
}

// ImportResources handles POST /api/v1/admin/resources
func (h *AdminHandler) ImportResources(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}

	added, err := h.reservations.Import(r.Context(), req.Values, req.Channel, req.BoundGroup)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	slog.Info("Resources imported",
		"channel", req.Channel,
		"submitted", len(req.Values),
		"added", added,
		"correlation_id", middleware.GetCorrelationID(r.Context()),
	)
	writeJSON(w, http.StatusCreated, ImportResponse{Submitted: len(req.Values), Added: added})
}

// ResourceCounts handles GET /api/v1/admin/resources/counts
func (h *AdminHandler) ResourceCounts(w http.ResponseWriter, r *http.Request) {
	sel := model.ResourceSelector{
		Channel:    r.URL.Query().Get("channel"),
		BoundGroup: strings.ToLower(r.URL.Query().Get("bound_group")),
	}

	counts, err := h.reservations.Counts(r.Context(), sel)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// LookupResource handles GET /api/v1/admin/resources/{ref}
func (h *AdminHandler) LookupResource(w http.ResponseWriter, r *http.Request) {
	res, err := h.reservations.Lookup(r.Context(), r.PathValue("ref"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RegisterGroup handles POST /api/v1/admin/groups
func (h *AdminHandler) RegisterGroup(w http.ResponseWriter, r *http.Request) {
	var req RegisterGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}

	g := &model.Group{
		Identity: req.Identity,
		Name:     req.Name,
		Credentials: model.Credentials{
			AccountID: req.AccountID,
			Token:     req.Token,
			DeviceID:  req.DeviceID,
		},
		Open: req.Open == nil || *req.Open,
	}
	created, err := h.groups.Register(r.Context(), g)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GetGroup handles GET /api/v1/admin/groups/{id}
func (h *AdminHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathObjectID(r, "id")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	g, err := h.groups.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// SyncGroup handles POST /api/v1/admin/groups/{id}/sync
func (h *AdminHandler) SyncGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathObjectID(r, "id")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	g, err := h.groups.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	synced, err := h.groups.Resync(r.Context(), g)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, synced)
}
