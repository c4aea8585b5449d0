package models

import "time"

// Notification представляет уведомление о событии
type Notification struct {
	ID        int                    `json:"id" db:"id"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
	Type      string                 `json:"type" db:"type"`         // OPEN, CLOSE, SL, TP, EXPIRED, EMERGENCY_STOP, RISK, TRACKING_LOST, ERROR
	Severity  string                 `json:"severity" db:"severity"` // info, success, warning, critical
	Symbol    string                 `json:"symbol,omitempty" db:"symbol"`
	Message   string                 `json:"message" db:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty" db:"meta"` // дополнительные данные (JSON в БД)
}

// Типы уведомлений
const (
	NotificationTypeOpen          = "OPEN"           // открытие позиции
	NotificationTypeClose         = "CLOSE"          // закрытие позиции
	NotificationTypeSL            = "SL"             // срабатывание Stop Loss
	NotificationTypeTP            = "TP"             // срабатывание Take Profit
	NotificationTypeExpired       = "EXPIRED"        // закрытие по истечению времени удержания
	NotificationTypeEmergencyStop = "EMERGENCY_STOP" // активация/деактивация emergency stop
	NotificationTypeRisk          = "RISK"           // risk-событие (серия убытков, концентрация)
	NotificationTypeTrackingLost  = "TRACKING_LOST"  // состояние ордера неизвестно (поллинг отказал)
	NotificationTypeError         = "ERROR"          // ошибка API/ордера
)

// Уровни важности
const (
	SeverityInfo     = "info"
	SeveritySuccess  = "success"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// NewNotification создаёт уведомление с проставленным временем
func NewNotification(ntype, severity, symbol, message string) *Notification {
	return &Notification{
		Timestamp: time.Now().UTC(),
		Type:      ntype,
		Severity:  severity,
		Symbol:    symbol,
		Message:   message,
	}
}
