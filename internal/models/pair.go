package models

import "time"

// PairConfig представляет конфигурацию торговой пары
//
// Точность и лимиты приходят от конфигурации пары (внешний коллаборатор),
// исполнитель ордеров округляет объём/цену до заявленных шагов и отклоняет
// ордера ниже минимального notional ДО любого сетевого вызова.
type PairConfig struct {
	ID          int       `json:"id" db:"id"`
	Symbol      string    `json:"symbol" db:"symbol"`             // BTCUSDT
	Base        string    `json:"base" db:"base"`                 // BTC
	Quote       string    `json:"quote" db:"quote"`               // USDT
	QtyStep     float64   `json:"qty_step" db:"qty_step"`         // шаг объёма (lot size)
	PriceStep   float64   `json:"price_step" db:"price_step"`     // шаг цены (tick size)
	MinQty      float64   `json:"min_qty" db:"min_qty"`           // минимальный объём ордера
	MaxQty      float64   `json:"max_qty" db:"max_qty"`           // максимальный объём ордера (0 = без лимита)
	MinNotional float64   `json:"min_notional" db:"min_notional"` // минимальная сумма сделки в котируемой валюте
	Active      bool      `json:"active" db:"active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
