package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"scalper/internal/models"
	"scalper/internal/repository"
)

// PairStore - управление торговыми парами
type PairStore interface {
	GetActive(ctx context.Context) ([]*models.PairConfig, error)
	GetBySymbol(ctx context.Context, symbol string) (*models.PairConfig, error)
	SetActive(ctx context.Context, symbol string, active bool) error
}

// PairHandler - endpoints торговых пар
type PairHandler struct {
	pairs PairStore
}

// NewPairHandler создает handler пар
func NewPairHandler(pairs PairStore) *PairHandler {
	return &PairHandler{pairs: pairs}
}

// GetActive обрабатывает GET /api/v1/pairs
func (h *PairHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	pairs, err := h.pairs.GetActive(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load pairs")
		return
	}
	respondJSON(w, http.StatusOK, SuccessResponse{Data: pairs})
}

// GetBySymbol обрабатывает GET /api/v1/pairs/{symbol}
func (h *PairHandler) GetBySymbol(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	pair, err := h.pairs.GetBySymbol(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, repository.ErrPairNotFound) {
			respondError(w, http.StatusNotFound, "pair not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load pair")
		return
	}
	respondJSON(w, http.StatusOK, SuccessResponse{Data: pair})
}

// Start обрабатывает POST /api/v1/pairs/{symbol}/start
func (h *PairHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true, "pair started")
}

// Pause обрабатывает POST /api/v1/pairs/{symbol}/pause
//
// Пауза выключает новые входы по паре; открытая позиция продолжает
// сопровождаться до закрытия.
func (h *PairHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false, "pair paused")
}

func (h *PairHandler) setActive(w http.ResponseWriter, r *http.Request, active bool, msg string) {
	symbol := mux.Vars(r)["symbol"]

	if err := h.pairs.SetActive(r.Context(), symbol, active); err != nil {
		if errors.Is(err, repository.ErrPairNotFound) {
			respondError(w, http.StatusNotFound, "pair not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, SuccessResponse{Message: msg})
}
