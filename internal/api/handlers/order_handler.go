package handlers

import (
	"context"
	"net/http"
	"strconv"

	"scalper/internal/models"
)

// OrderReader - чтение ордеров из БД
type OrderReader interface {
	GetRecent(ctx context.Context, limit int) ([]*models.Order, error)
	GetActive(ctx context.Context) ([]*models.Order, error)
}

// OrderHandler - endpoints ордеров
type OrderHandler struct {
	orders OrderReader
}

// NewOrderHandler создает handler ордеров
func NewOrderHandler(orders OrderReader) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// GetRecent обрабатывает GET /api/v1/orders?limit=N
func (h *OrderHandler) GetRecent(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			respondError(w, http.StatusBadRequest, "limit must be 1..500")
			return
		}
		limit = n
	}

	orders, err := h.orders.GetRecent(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load orders")
		return
	}
	respondJSON(w, http.StatusOK, SuccessResponse{Data: orders})
}

// GetActive обрабатывает GET /api/v1/orders/active
func (h *OrderHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.GetActive(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load active orders")
		return
	}
	respondJSON(w, http.StatusOK, SuccessResponse{Data: orders})
}
