package handler

import (
	"net/http"

	"github.com/dandantas/boarding/internal/model"
	"github.com/dandantas/boarding/internal/orders"
)

// OrderHandler handles payment order endpoints
type OrderHandler struct {
	orders  *orders.Service
	channel string
}

// NewOrderHandler creates a new order handler; orders reserve from channel
// unless the request names another one
func NewOrderHandler(s *orders.Service, channel string) *OrderHandler {
	return &OrderHandler{orders: s, channel: channel}
}

// CreateOrderRequest opens an order
type CreateOrderRequest struct {
	Kind       model.OrderKind `json:"kind"`
	Email      string          `json:"email"`
	Channel    string          `json:"channel,omitempty"`
	BoundGroup string          `json:"bound_group,omitempty"`
}

// Create handles POST /api/v1/orders
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}

	sel := model.ResourceSelector{Channel: req.Channel, BoundGroup: req.BoundGroup}
	if sel.Channel == "" {
		sel.Channel = h.channel
	}

	order, err := h.orders.Create(r.Context(), req.Kind, req.Email, sel)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// Get handles GET /api/v1/orders/{orderNo}
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.Get(r.Context(), r.PathValue("orderNo"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// MarkPaid handles POST /api/v1/orders/{orderNo}/paid. Payment confirmation
// comes from the payment processor, so the route sits behind the admin token.
func (h *OrderHandler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.MarkPaid(r.Context(), r.PathValue("orderNo"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}
