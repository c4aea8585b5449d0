package websocket

// ============ Типизированные сообщения (без map[string]interface{}) ============
// Известные типы сериализуются без рефлексии по map-ключам

// PriceUpdateMessage - тик цены символа
type PriceUpdateMessage struct {
	Type   string  `json:"type"`
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// PositionUpdateMessage - состояние позиции (открытие, PNL, закрытие)
type PositionUpdateMessage struct {
	Type   string      `json:"type"`
	Symbol string      `json:"symbol"`
	Data   interface{} `json:"data"`
}

// OrderUpdateMessage - статус ордера
type OrderUpdateMessage struct {
	Type   string      `json:"type"`
	Symbol string      `json:"symbol"`
	Data   interface{} `json:"data"`
}

// NotificationMessage - уведомление
type NotificationMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// RiskUpdateMessage - состояние риск-контура
type RiskUpdateMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Типы сообщений
const (
	MessageTypePriceUpdate    = "priceUpdate"
	MessageTypePositionUpdate = "positionUpdate"
	MessageTypeOrderUpdate    = "orderUpdate"
	MessageTypeNotification   = "notification"
	MessageTypeRiskUpdate     = "riskUpdate"
)
