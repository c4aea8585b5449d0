package models

import "time"

// Position представляет открытую или закрытую экспозицию по одному символу
//
// Инварианты:
//   - максимум одна позиция в статусе OPEN/REDUCING на символ
//   - Size == 0 влечёт статус CLOSED
//   - EntryPrice пересчитывается как средневзвешенная ТОЛЬКО при увеличении
//     объёма той же стороной; уменьшающий fill цену входа не трогает
type Position struct {
	ID              int           `json:"id" db:"id"`
	Symbol          string        `json:"symbol" db:"symbol"`
	Side            string        `json:"side" db:"side"` // buy, sell
	Size            float64       `json:"size" db:"size"`
	EntryPrice      float64       `json:"entry_price" db:"entry_price"` // VWAP по всем увеличивающим fill'ам
	CurrentPrice    float64       `json:"current_price" db:"current_price"`
	StopLossPrice   float64       `json:"stop_loss_price" db:"stop_loss_price"`
	TakeProfitPrice float64       `json:"take_profit_price" db:"take_profit_price"`
	TrailingStopPct float64       `json:"trailing_stop_pct" db:"trailing_stop_pct"` // 0 = отключён
	RealizedPnl     float64       `json:"realized_pnl" db:"realized_pnl"`           // накапливается на каждом уменьшающем fill'е
	UnrealizedPnl   float64       `json:"unrealized_pnl" db:"unrealized_pnl"`       // пересчитывается на каждом тике
	Commission      float64       `json:"commission" db:"commission"`               // суммарная комиссия по всем fill'ам
	Status          string        `json:"status" db:"status"`                       // OPEN, REDUCING, CLOSED
	CloseReason     string        `json:"close_reason,omitempty" db:"close_reason"`
	MaxHoldingTime  time.Duration `json:"max_holding_time" db:"max_holding_time"` // бюджет времени удержания
	OpenedAt        time.Time     `json:"opened_at" db:"opened_at"`
	ClosedAt        *time.Time    `json:"closed_at,omitempty" db:"closed_at"` // nil пока открыта
	Version         int64         `json:"version" db:"version"`               // для compare-and-swap при сохранении
}

// Статусы позиции
const (
	PositionStatusOpen     = "OPEN"
	PositionStatusReducing = "REDUCING" // частично закрыта, остаток удерживается
	PositionStatusClosed   = "CLOSED"
)

// Причины закрытия позиции
const (
	CloseReasonStopLoss   = "stop_loss"
	CloseReasonTakeProfit = "take_profit"
	CloseReasonExpired    = "expired"
	CloseReasonForced     = "risk_forced" // emergency stop или превышение лимита убытка
	CloseReasonManual     = "manual"
)

// NewPosition создаёт позицию по первому fill'у нового направления
func NewPosition(symbol, side string, size, entryPrice float64, maxHoldingTime time.Duration) *Position {
	return &Position{
		Symbol:         symbol,
		Side:           side,
		Size:           size,
		EntryPrice:     entryPrice,
		CurrentPrice:   entryPrice,
		Status:         PositionStatusOpen,
		MaxHoldingTime: maxHoldingTime,
		OpenedAt:       time.Now().UTC(),
		Version:        1,
	}
}

// IsOpen возвращает true пока позиция удерживается (OPEN или REDUCING)
func (p *Position) IsOpen() bool {
	return p.Status == PositionStatusOpen || p.Status == PositionStatusReducing
}

// SideSign возвращает знак направления: +1 для buy (long), -1 для sell (short)
func (p *Position) SideSign() float64 {
	if p.Side == SideBuy {
		return 1
	}
	return -1
}

// Notional возвращает текущую стоимость позиции в котируемой валюте
func (p *Position) Notional() float64 {
	return p.Size * p.CurrentPrice
}

// Age возвращает время удержания позиции
func (p *Position) Age(now time.Time) time.Duration {
	return now.Sub(p.OpenedAt)
}

// Expired возвращает true если бюджет времени удержания исчерпан (включительно)
func (p *Position) Expired(now time.Time) bool {
	if p.MaxHoldingTime <= 0 {
		return false
	}
	return p.Age(now) >= p.MaxHoldingTime
}

// LossPct возвращает нереализованный убыток в процентах от стоимости входа
// (положительное число = убыток, 0 если позиция в плюсе)
func (p *Position) LossPct() float64 {
	if p.Size <= 0 || p.EntryPrice <= 0 {
		return 0
	}
	if p.UnrealizedPnl >= 0 {
		return 0
	}
	return -p.UnrealizedPnl / (p.Size * p.EntryPrice) * 100
}
