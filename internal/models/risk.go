package models

import "time"

// RiskState представляет состояние риск-контура всего процесса (не per-symbol)
//
// Инварианты:
//   - EmergencyStopActive влечёт запрет открытия новых позиций
//   - Level является чистой функцией дневного убытка относительно лимита,
//     пересчитывается каждый цикл мониторинга
type RiskState struct {
	Level               string     `json:"level"` // LOW, MEDIUM, HIGH, VERY_HIGH, CRITICAL
	EmergencyStopActive bool       `json:"emergency_stop_active"`
	EmergencyStopSince  *time.Time `json:"emergency_stop_since,omitempty"`
	CooldownUntil       *time.Time `json:"cooldown_until,omitempty"`
	DailyPnl            float64    `json:"daily_pnl"`     // реализованный + нереализованный за день
	DailyPnlPct         float64    `json:"daily_pnl_pct"` // в процентах от баланса
	ConsecutiveLosses   int        `json:"consecutive_losses"`
	ActivePositions     int        `json:"active_positions"` // кэш метрики
	TotalExposure       float64    `json:"total_exposure"`   // кэш метрики (суммарный notional)
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Уровни системного риска
const (
	RiskLevelLow      = "LOW"
	RiskLevelMedium   = "MEDIUM"
	RiskLevelHigh     = "HIGH"
	RiskLevelVeryHigh = "VERY_HIGH"
	RiskLevelCritical = "CRITICAL"
)

// RiskLevelRank возвращает порядковый номер уровня для сравнения (LOW=0 ... CRITICAL=4)
func RiskLevelRank(level string) int {
	switch level {
	case RiskLevelLow:
		return 0
	case RiskLevelMedium:
		return 1
	case RiskLevelHigh:
		return 2
	case RiskLevelVeryHigh:
		return 3
	case RiskLevelCritical:
		return 4
	default:
		return 0
	}
}
