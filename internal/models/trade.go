package models

import "time"

// TradeRecord представляет запись об исполнении (fill)
//
// Создаётся на каждый новый частичный fill и на терминальный статус ордера.
// Запись коммитится в БД per-операция (не батчится): подтверждённый fill
// не должен потеряться между обновлением ledger'а и долговременной записью.
type TradeRecord struct {
	ID          int       `json:"id" db:"id"`
	OrderID     int       `json:"order_id" db:"order_id"`
	ClientToken string    `json:"client_token" db:"client_token"`
	Symbol      string    `json:"symbol" db:"symbol"`
	Side        string    `json:"side" db:"side"`
	Quantity    float64   `json:"quantity" db:"quantity"` // объём данного fill'а (приращение)
	Price       float64   `json:"price" db:"price"`       // средняя цена исполнения
	Commission  float64   `json:"commission" db:"commission"`
	Kind        string    `json:"kind" db:"kind"`                 // partial_fill, terminal
	RealizedPnl float64   `json:"realized_pnl" db:"realized_pnl"` // 0 для увеличивающих fill'ов
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Виды записей об исполнении
const (
	TradeKindPartialFill = "partial_fill"
	TradeKindTerminal    = "terminal"
)

// NewTradeRecord создаёт запись об исполнении с проставленным временем
func NewTradeRecord(order *Order, fillQty, fillPrice, commission float64, kind string) *TradeRecord {
	return &TradeRecord{
		OrderID:     order.ID,
		ClientToken: order.ClientToken,
		Symbol:      order.Symbol,
		Side:        order.Side,
		Quantity:    fillQty,
		Price:       fillPrice,
		Commission:  commission,
		Kind:        kind,
		CreatedAt:   time.Now().UTC(),
	}
}
