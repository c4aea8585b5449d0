package handlers

import (
	"context"
	"net/http"

	"scalper/internal/models"
)

// RiskController - операции риск-контура, доступные из API
type RiskController interface {
	Snapshot() models.RiskState
	TriggerEmergencyStop(ctx context.Context, reason string) bool
	DeactivateEmergencyStop(force bool) error
}

// RiskHandler - endpoints состояния риска и emergency stop
type RiskHandler struct {
	risk RiskController
}

// NewRiskHandler создает handler риск-контура
func NewRiskHandler(risk RiskController) *RiskHandler {
	return &RiskHandler{risk: risk}
}

// GetState обрабатывает GET /api/v1/risk
func (h *RiskHandler) GetState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.risk.Snapshot())
}

// emergencyStopRequest - тело POST /risk/emergency-stop
type emergencyStopRequest struct {
	Reason string `json:"reason"`
}

// ActivateEmergencyStop обрабатывает POST /api/v1/risk/emergency-stop
//
// Ручная активация оператором. Идемпотентна: повторный вызов при
// активном стопе возвращает 200 без эффекта.
func (h *RiskHandler) ActivateEmergencyStop(w http.ResponseWriter, r *http.Request) {
	var req emergencyStopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Reason == "" {
		req.Reason = "manual operator request"
	}

	activated := h.risk.TriggerEmergencyStop(r.Context(), req.Reason)

	msg := "emergency stop already active"
	if activated {
		msg = "emergency stop activated"
	}
	respondJSON(w, http.StatusOK, SuccessResponse{Message: msg, Data: h.risk.Snapshot()})
}

// DeactivateEmergencyStop обрабатывает DELETE /api/v1/risk/emergency-stop
//
// Ручная деактивация снимает стоп независимо от охлаждения.
func (h *RiskHandler) DeactivateEmergencyStop(w http.ResponseWriter, r *http.Request) {
	if err := h.risk.DeactivateEmergencyStop(true); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, SuccessResponse{Message: "emergency stop deactivated", Data: h.risk.Snapshot()})
}
