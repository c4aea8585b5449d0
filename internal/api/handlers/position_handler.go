package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"scalper/internal/models"
)

// PositionReader - чтение позиций из реестра и истории
type PositionReader interface {
	Active() []*models.Position
	Get(symbol string) *models.Position
}

// PositionHistory - чтение закрытых позиций из БД
type PositionHistory interface {
	GetRecent(ctx context.Context, limit int) ([]*models.Position, error)
}

// PositionCloser - ручное закрытие позиции через торговый цикл
type PositionCloser interface {
	ClosePositionManual(ctx context.Context, symbol string) error
}

// PositionHandler - endpoints позиций
type PositionHandler struct {
	ledger  PositionReader
	history PositionHistory
	closer  PositionCloser
}

// NewPositionHandler создает handler позиций
func NewPositionHandler(ledger PositionReader, history PositionHistory, closer PositionCloser) *PositionHandler {
	return &PositionHandler{ledger: ledger, history: history, closer: closer}
}

// GetActive обрабатывает GET /api/v1/positions
func (h *PositionHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, SuccessResponse{Data: h.ledger.Active()})
}

// GetHistory обрабатывает GET /api/v1/positions/history?limit=N
func (h *PositionHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			respondError(w, http.StatusBadRequest, "limit must be 1..500")
			return
		}
		limit = n
	}

	positions, err := h.history.GetRecent(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load positions")
		return
	}
	respondJSON(w, http.StatusOK, SuccessResponse{Data: positions})
}

// Close обрабатывает POST /api/v1/positions/{symbol}/close
//
// Ручное закрытие: выходной ордер по рынку с причиной manual.
func (h *PositionHandler) Close(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	if h.ledger.Get(symbol) == nil {
		respondError(w, http.StatusNotFound, "no open position for "+symbol)
		return
	}

	if err := h.closer.ClosePositionManual(r.Context(), symbol); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, SuccessResponse{Message: "close order submitted"})
}
