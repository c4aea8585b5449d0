package handlers

import (
	"net/http"
	"time"
)

// HealthStatus - ответ health endpoint'а
type HealthStatus struct {
	Status         string   `json:"status"`
	UptimeSeconds  int64    `json:"uptime_seconds"`
	OpenPositions  int      `json:"open_positions"`
	TrackedOrders  int      `json:"tracked_orders"`
	EmergencyStop  bool     `json:"emergency_stop"`
	ScheduledTasks []string `json:"scheduled_tasks"`
	WSClients      int      `json:"ws_clients"`
}

// HealthHandler - endpoint живости процесса
type HealthHandler struct {
	startedAt     time.Time
	openPositions func() int
	trackedOrders func() int
	emergencyStop func() bool
	taskNames     func() []string
	wsClients     func() int
}

// NewHealthHandler создает health handler
func NewHealthHandler(
	openPositions func() int,
	trackedOrders func() int,
	emergencyStop func() bool,
	taskNames func() []string,
	wsClients func() int,
) *HealthHandler {
	return &HealthHandler{
		startedAt:     time.Now(),
		openPositions: openPositions,
		trackedOrders: trackedOrders,
		emergencyStop: emergencyStop,
		taskNames:     taskNames,
		wsClients:     wsClients,
	}
}

// Get обрабатывает GET /api/v1/health
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if h.emergencyStop() {
		status = "emergency_stop"
	}

	respondJSON(w, http.StatusOK, HealthStatus{
		Status:         status,
		UptimeSeconds:  int64(time.Since(h.startedAt).Seconds()),
		OpenPositions:  h.openPositions(),
		TrackedOrders:  h.trackedOrders(),
		EmergencyStop:  h.emergencyStop(),
		ScheduledTasks: h.taskNames(),
		WSClients:      h.wsClients(),
	})
}
