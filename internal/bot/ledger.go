package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"scalper/internal/models"
	"scalper/pkg/utils"
)

// PositionStore - долговременное хранилище позиций
//
// Save выполняет compare-and-swap по полю Version: запись применяется
// только если версия в БД совпадает с версией в памяти, после чего
// версия инкрементируется. Конфликт версий означает конкурентную
// запись и возвращается как ошибка.
type PositionStore interface {
	Create(ctx context.Context, p *models.Position) error
	Save(ctx context.Context, p *models.Position) error
	GetOpen(ctx context.Context) ([]*models.Position, error)
}

// ExitSignal - решение о закрытии позиции
type ExitSignal struct {
	ShouldExit bool
	Reason     string // причина из models.CloseReason*
}

// PositionLedger - реестр позиций процесса
//
// Единственный источник истины о позициях: применяет исполнения,
// пересчитывает PNL, ведёт SL/TP/трейлинг и решает о выходе.
//
// Инварианты:
//   - максимум одна открытая позиция на символ
//   - увеличивающий fill пересчитывает цену входа средневзвешенно,
//     уменьшающий цену входа не трогает
//   - трейлинг-стоп двигается только в пользу позиции
//   - каждое изменение позиции коммитится в хранилище до возврата
type PositionLedger struct {
	mu        sync.RWMutex
	positions map[string]*models.Position // symbol -> открытая позиция

	store    PositionStore
	quoteOf  func(symbol string) string // котируемая валюта символа
	notifyFn func(n *models.Notification)

	now func() time.Time
}

// PositionParams - параметры новой позиции
type PositionParams struct {
	StopLossPct     float64 // % от цены входа (0 = без SL)
	TakeProfitPct   float64 // % от цены входа (0 = без TP)
	TrailingStopPct float64 // 0 = трейлинг отключён
	MaxHoldingTime  time.Duration
}

// NewPositionLedger создает реестр позиций
func NewPositionLedger(store PositionStore) *PositionLedger {
	return &PositionLedger{
		positions: make(map[string]*models.Position),
		store:     store,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetQuoteFn подключает определение котируемой валюты
func (pl *PositionLedger) SetQuoteFn(fn func(symbol string) string) {
	pl.mu.Lock()
	pl.quoteOf = fn
	pl.mu.Unlock()
}

// SetNotifyFn подключает отправку уведомлений
func (pl *PositionLedger) SetNotifyFn(fn func(n *models.Notification)) {
	pl.mu.Lock()
	pl.notifyFn = fn
	pl.mu.Unlock()
}

// Restore загружает открытые позиции при старте (reconciliation)
func (pl *PositionLedger) Restore(ctx context.Context) (int, error) {
	open, err := pl.store.GetOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("load open positions: %w", err)
	}

	pl.mu.Lock()
	for _, p := range open {
		pl.positions[p.Symbol] = p
	}
	n := len(pl.positions)
	pl.mu.Unlock()

	return n, nil
}

// ============================================================
// Применение исполнений
// ============================================================

// ApplyFill применяет подтверждённое исполнение к позиции символа
//
// Три случая:
//   - позиции нет: открывается новая с ценой входа = цене fill'а
//   - та же сторона: размер растёт, цена входа пересчитывается
//     средневзвешенно по объёму
//   - противоположная сторона: размер уменьшается, фиксируется
//     реализованный PNL, цена входа НЕ меняется; обнуление размера
//     закрывает позицию
//
// Возвращает позицию после применения. Изменение коммитится
// в хранилище до возврата.
func (pl *PositionLedger) ApplyFill(ctx context.Context, symbol, side string, qty, price, commission float64, params PositionParams) (*models.Position, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("fill quantity must be positive, got %v", qty)
	}
	if price <= 0 {
		return nil, fmt.Errorf("fill price must be positive, got %v", price)
	}

	pl.mu.Lock()
	defer pl.mu.Unlock()

	p, exists := pl.positions[symbol]

	// Новая позиция
	if !exists || !p.IsOpen() {
		p = models.NewPosition(symbol, side, qty, price, params.MaxHoldingTime)
		p.Commission = commission
		p.TrailingStopPct = params.TrailingStopPct
		p.StopLossPrice = stopLossPrice(side, price, params.StopLossPct)
		p.TakeProfitPrice = takeProfitPrice(side, price, params.TakeProfitPct)

		if err := pl.store.Create(ctx, p); err != nil {
			return nil, fmt.Errorf("persist new position: %w", err)
		}
		pl.positions[symbol] = p
		return p, nil
	}

	p.Commission += commission

	if side == p.Side {
		// Увеличение: средневзвешенная цена входа
		p.EntryPrice = utils.WeightedAverage(p.Size, p.EntryPrice, qty, price)
		p.Size += qty
	} else {
		// Уменьшение: фиксируем PNL закрываемой части, вход не трогаем
		closeQty := qty
		if closeQty > p.Size {
			closeQty = p.Size // биржа не должна переисполнить выход, но клампим
		}
		p.RealizedPnl += utils.Pnl(p.SideSign(), closeQty, p.EntryPrice, price)
		p.Size -= closeQty

		if p.Size <= sizeEpsilon {
			p.Size = 0
			return p, pl.closeLocked(ctx, p, p.CloseReason)
		}
		p.Status = models.PositionStatusReducing
	}

	p.CurrentPrice = price
	p.UnrealizedPnl = utils.Pnl(p.SideSign(), p.Size, p.EntryPrice, price)

	if err := pl.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("persist position update: %w", err)
	}
	return p, nil
}

// Доля ниже которой остаток позиции считается нулём (пыль округления)
const sizeEpsilon = 1e-9

// MarkClosing проставляет причину закрытия до отправки выходного ордера,
// чтобы финальный fill закрыл позицию с корректной причиной
func (pl *PositionLedger) MarkClosing(symbol, reason string) {
	pl.mu.Lock()
	if p, ok := pl.positions[symbol]; ok && p.IsOpen() {
		p.CloseReason = reason
	}
	pl.mu.Unlock()
}

// closeLocked закрывает позицию (вызывается под мьютексом)
func (pl *PositionLedger) closeLocked(ctx context.Context, p *models.Position, reason string) error {
	now := pl.now()
	p.Status = models.PositionStatusClosed
	if reason != "" {
		p.CloseReason = reason
	} else if p.CloseReason == "" {
		p.CloseReason = models.CloseReasonManual
	}
	p.ClosedAt = &now
	p.UnrealizedPnl = 0

	if err := pl.store.Save(ctx, p); err != nil {
		return fmt.Errorf("persist closed position: %w", err)
	}

	delete(pl.positions, p.Symbol)
	return nil
}

// ============================================================
// Цены, PNL и трейлинг
// ============================================================

// UpdatePrice применяет новый тик цены к позиции символа
//
// Пересчитывает нереализованный PNL и подтягивает трейлинг-стоп.
// Трейлинг двигает SL только в пользу позиции: вверх для long,
// вниз для short. Движение цены против позиции SL не трогает.
func (pl *PositionLedger) UpdatePrice(symbol string, price float64) *models.Position {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	p, ok := pl.positions[symbol]
	if !ok || !p.IsOpen() {
		return nil
	}

	p.CurrentPrice = price
	p.UnrealizedPnl = utils.Pnl(p.SideSign(), p.Size, p.EntryPrice, price)

	if p.TrailingStopPct > 0 {
		candidate := utils.ApplyPct(price, -p.SideSign()*p.TrailingStopPct)
		if p.Side == models.SideBuy {
			if candidate > p.StopLossPrice {
				p.StopLossPrice = candidate
			}
		} else {
			if p.StopLossPrice == 0 || candidate < p.StopLossPrice {
				p.StopLossPrice = candidate
			}
		}
	}

	return p
}

// EvaluateExit решает, нужно ли закрывать позицию на текущем тике
//
// Приоритет причин при одновременном срабатывании фиксирован:
// истечение времени удержания > stop loss > take profit.
func (pl *PositionLedger) EvaluateExit(symbol string, now time.Time) ExitSignal {
	pl.mu.RLock()
	defer pl.mu.RUnlock()

	p, ok := pl.positions[symbol]
	if !ok || !p.IsOpen() {
		return ExitSignal{}
	}

	if p.Expired(now) {
		return ExitSignal{ShouldExit: true, Reason: models.CloseReasonExpired}
	}

	if p.StopLossPrice > 0 {
		if (p.Side == models.SideBuy && p.CurrentPrice <= p.StopLossPrice) ||
			(p.Side == models.SideSell && p.CurrentPrice >= p.StopLossPrice) {
			return ExitSignal{ShouldExit: true, Reason: models.CloseReasonStopLoss}
		}
	}

	if p.TakeProfitPrice > 0 {
		if (p.Side == models.SideBuy && p.CurrentPrice >= p.TakeProfitPrice) ||
			(p.Side == models.SideSell && p.CurrentPrice <= p.TakeProfitPrice) {
			return ExitSignal{ShouldExit: true, Reason: models.CloseReasonTakeProfit}
		}
	}

	return ExitSignal{}
}

// ForceClose закрывает позицию в реестре без исполнения на бирже
//
// Используется при ручном вмешательстве и в recovery, когда биржевая
// сторона уже разрешена. Обычный путь закрытия идёт через выходной
// ордер и ApplyFill.
func (pl *PositionLedger) ForceClose(ctx context.Context, symbol, reason string) error {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	p, ok := pl.positions[symbol]
	if !ok {
		return fmt.Errorf("no open position for %s", symbol)
	}
	return pl.closeLocked(ctx, p, reason)
}

// ============================================================
// Агрегаты для риск-контура и API
// ============================================================

// Get возвращает копию позиции символа (nil если нет открытой)
func (pl *PositionLedger) Get(symbol string) *models.Position {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	p, ok := pl.positions[symbol]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

// Active возвращает копии всех открытых позиций
func (pl *PositionLedger) Active() []*models.Position {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	out := make([]*models.Position, 0, len(pl.positions))
	for _, p := range pl.positions {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// ActiveCount возвращает количество открытых позиций
func (pl *PositionLedger) ActiveCount() int {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	return len(pl.positions)
}

// TotalExposure возвращает суммарный notional открытых позиций
func (pl *PositionLedger) TotalExposure() float64 {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	total := 0.0
	for _, p := range pl.positions {
		total += p.Notional()
	}
	return total
}

// TotalUnrealized возвращает суммарный нереализованный PNL
func (pl *PositionLedger) TotalUnrealized() float64 {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	total := 0.0
	for _, p := range pl.positions {
		total += p.UnrealizedPnl
	}
	return total
}

// CountByQuote возвращает количество позиций в данной котируемой валюте
func (pl *PositionLedger) CountByQuote(quote string) int {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	if pl.quoteOf == nil {
		return 0
	}
	count := 0
	for symbol := range pl.positions {
		if pl.quoteOf(symbol) == quote {
			count++
		}
	}
	return count
}

// stopLossPrice возвращает цену SL для стороны (0 если pct не задан)
func stopLossPrice(side string, entry, pct float64) float64 {
	if pct <= 0 {
		return 0
	}
	if side == models.SideBuy {
		return utils.ApplyPct(entry, -pct)
	}
	return utils.ApplyPct(entry, pct)
}

// takeProfitPrice возвращает цену TP для стороны (0 если pct не задан)
func takeProfitPrice(side string, entry, pct float64) float64 {
	if pct <= 0 {
		return 0
	}
	if side == models.SideBuy {
		return utils.ApplyPct(entry, pct)
	}
	return utils.ApplyPct(entry, -pct)
}
