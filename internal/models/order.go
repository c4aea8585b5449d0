package models

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Order представляет одну попытку размещения биржевого ордера
//
// Жизненный цикл:
// - создаётся фабрикой NewOrder при одобрении торгового решения (risk-проверка пройдена)
// - мутируется OrderExecutor'ом при отправке (ExchangeOrderID, Attempts)
// - мутируется OrderTracker'ом при опросе статуса (ExecutedQty, AvgFillPrice, Status)
// - после терминального статуса становится неизменяемым
//
// Инварианты:
// - 0 <= ExecutedQty <= Quantity (ExecutedQty монотонно не убывает)
// - пустой ExchangeOrderID означает что биржа НИКОГДА не принимала ордер
// - переходы статусов только вперёд (см. bot.CanTransitionOrder)
type Order struct {
	ID              int        `json:"id" db:"id"`
	ClientToken     string     `json:"client_token" db:"client_token"`           // идемпотентный токен (дедупликация на бирже)
	ExchangeOrderID string     `json:"exchange_order_id" db:"exchange_order_id"` // пустой до принятия биржей
	Symbol          string     `json:"symbol" db:"symbol"`
	Side            string     `json:"side" db:"side"` // buy, sell
	Type            string     `json:"type" db:"type"` // market, limit, stop_loss, take_profit, stop_limit, oco, trailing_stop
	Quantity        float64    `json:"quantity" db:"quantity"`
	ExecutedQty     float64    `json:"executed_qty" db:"executed_qty"`
	Price           *float64   `json:"price,omitempty" db:"price"` // nil для market ордеров
	AvgFillPrice    float64    `json:"avg_fill_price" db:"avg_fill_price"`
	Status          string     `json:"status" db:"status"`
	Attempts        int        `json:"attempts" db:"attempts"` // счётчик retry при отправке
	ErrorMessage    string     `json:"error_message,omitempty" db:"error_message"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
	ExecutedAt      *time.Time `json:"executed_at,omitempty" db:"executed_at"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`
}

// Статусы ордера (state machine)
const (
	OrderStatusNew             = "NEW"              // принят локально, исполнение не подтверждено
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED" // исполнена часть объёма
	OrderStatusFilled          = "FILLED"           // исполнен полностью (терминальный)
	OrderStatusCancelled       = "CANCELED"         // отменён (терминальный)
	OrderStatusRejected        = "REJECTED"         // отклонён биржей (терминальный)
	OrderStatusExpired         = "EXPIRED"          // истёк по времени (терминальный)
)

// Стороны ордера
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Типы ордеров
const (
	OrderTypeMarket       = "market"
	OrderTypeLimit        = "limit"
	OrderTypeStopLoss     = "stop_loss"
	OrderTypeTakeProfit   = "take_profit"
	OrderTypeStopLimit    = "stop_limit"
	OrderTypeOCO          = "oco"
	OrderTypeTrailingStop = "trailing_stop"
)

// NewOrder создаёт ордер с проставленными значениями по умолчанию
//
// Фабрика заменяет lifecycle-callback'и персистентного слоя: все timestamp'ы
// и идемпотентный токен заполняются в момент создания, независимо от того,
// когда и как ордер будет сохранён в БД.
func NewOrder(symbol, side, orderType string, quantity float64, price *float64) *Order {
	now := time.Now().UTC()
	return &Order{
		ClientToken: newClientToken(),
		Symbol:      symbol,
		Side:        side,
		Type:        orderType,
		Quantity:    quantity,
		Price:       price,
		Status:      OrderStatusNew,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// newClientToken генерирует уникальный идемпотентный токен
//
// 16 случайных байт в hex: достаточно для дедупликации на стороне биржи,
// не требует координации между процессами.
func newClientToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand не отказывает на поддерживаемых платформах,
		// но пустой токен недопустим
		return hex.EncodeToString([]byte(time.Now().UTC().Format("20060102150405.000000000")))
	}
	return hex.EncodeToString(buf)
}

// Accepted возвращает true если ордер был принят биржей
func (o *Order) Accepted() bool {
	return o.ExchangeOrderID != ""
}

// RemainingQty возвращает неисполненный объём
func (o *Order) RemainingQty() float64 {
	rest := o.Quantity - o.ExecutedQty
	if rest < 0 {
		return 0
	}
	return rest
}

// FilledFraction возвращает долю исполненного объёма (0.0 - 1.0)
func (o *Order) FilledFraction() float64 {
	if o.Quantity <= 0 {
		return 0
	}
	return o.ExecutedQty / o.Quantity
}

// OppositeSide возвращает противоположную сторону (для закрытия позиций)
func OppositeSide(side string) string {
	if side == SideBuy {
		return SideSell
	}
	return SideBuy
}
