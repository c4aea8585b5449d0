package bot

import "scalper/internal/models"

// ValidOrderTransitions определяет допустимые переходы статусов ордера
var ValidOrderTransitions = map[string][]string{
	models.OrderStatusNew: {
		models.OrderStatusPartiallyFilled,
		models.OrderStatusFilled,
		models.OrderStatusCancelled,
		models.OrderStatusRejected,
		models.OrderStatusExpired,
	},
	models.OrderStatusPartiallyFilled: {
		models.OrderStatusPartiallyFilled, // очередной инкремент исполнения
		models.OrderStatusFilled,
		models.OrderStatusCancelled, // частичное исполнение сохраняется
		models.OrderStatusExpired,
	},
	// Терминальные статусы переходов не имеют
	models.OrderStatusFilled:    {},
	models.OrderStatusCancelled: {},
	models.OrderStatusRejected:  {},
	models.OrderStatusExpired:   {},
}

// CanTransitionOrder проверяет допустимость перехода статуса
func CanTransitionOrder(from, to string) bool {
	allowed, ok := ValidOrderTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminalOrderStatus возвращает true для конечных статусов ордера.
// Из терминального статуса ордер не выходит ни при каком ответе биржи.
func IsTerminalOrderStatus(s string) bool {
	switch s {
	case models.OrderStatusFilled, models.OrderStatusCancelled,
		models.OrderStatusRejected, models.OrderStatusExpired:
		return true
	}
	return false
}

// OrderStatusInfo возвращает описание статуса для UI
func OrderStatusInfo(s string) string {
	switch s {
	case models.OrderStatusNew:
		return "Ордер принят биржей (ожидание исполнения)"
	case models.OrderStatusPartiallyFilled:
		return "Ордер исполнен частично"
	case models.OrderStatusFilled:
		return "Ордер исполнен полностью"
	case models.OrderStatusCancelled:
		return "Ордер отменён"
	case models.OrderStatusRejected:
		return "Ордер отклонён биржей"
	case models.OrderStatusExpired:
		return "Ордер истёк"
	default:
		return "Неизвестный статус"
	}
}
