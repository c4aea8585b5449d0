package handlers

import (
	"context"
	"net/http"
	"strconv"

	"scalper/internal/models"
)

// NotificationReader - чтение журнала уведомлений
type NotificationReader interface {
	GetRecent(ctx context.Context, limit int) ([]*models.Notification, error)
}

// NotificationHandler - endpoints уведомлений
type NotificationHandler struct {
	notifications NotificationReader
}

// NewNotificationHandler создает handler уведомлений
func NewNotificationHandler(notifications NotificationReader) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// GetRecent обрабатывает GET /api/v1/notifications?limit=N
func (h *NotificationHandler) GetRecent(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			respondError(w, http.StatusBadRequest, "limit must be 1..1000")
			return
		}
		limit = n
	}

	notifications, err := h.notifications.GetRecent(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load notifications")
		return
	}
	respondJSON(w, http.StatusOK, SuccessResponse{Data: notifications})
}
