package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"scalper/internal/exchange"
	"scalper/internal/models"
	"scalper/pkg/ratelimit"
	"scalper/pkg/utils"
)

// TradeStore - долговременное хранилище записей об исполнениях
type TradeStore interface {
	Create(ctx context.Context, t *models.TradeRecord) error
}

// TrackerConfig - конфигурация трекера ордеров
type TrackerConfig struct {
	PollInterval       time.Duration // интервал опроса активных ордеров
	MaxOrderAge        time.Duration // возраст в NEW до отмены
	PartialFillTimeout time.Duration // окно без прогресса для PARTIALLY_FILLED
	MinFilledFraction  float64       // порог доли исполнения для отмены залипшего
	MaxPollFailures    int           // подряд неудачных опросов до прекращения трекинга
}

// DefaultTrackerConfig возвращает конфигурацию по умолчанию
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		PollInterval:       2 * time.Second,
		MaxOrderAge:        30 * time.Second,
		PartialFillTimeout: 60 * time.Second,
		MinFilledFraction:  0.01,
		MaxPollFailures:    3,
	}
}

// trackedOrder - ордер под наблюдением
type trackedOrder struct {
	order          *models.Order
	pollFailures   int       // подряд, сбрасывается успешным опросом
	lastProgressAt time.Time // последний рост ExecutedQty
	cancelSent     bool      // отмена уже отправлена, ждём терминального статуса
	done           bool      // терминальный callback уже вызван
}

// OrderTracker - наблюдение за активными ордерами
//
// Поллинг статусов до терминального состояния. Правила:
//   - исполнение монотонно: стейл-ответ биржи с меньшим ExecutedQty
//     игнорируется, прирост применяется ровно один раз
//   - ордер в NEW старше MaxOrderAge отменяется
//   - PARTIALLY_FILLED без прогресса дольше PartialFillTimeout отменяется
//     ТОЛЬКО если исполнено меньше MinFilledFraction объёма; заметно
//     исполненный ордер оставляем доливаться
//   - гонка отмены и исполнения решается перечитыванием фактического
//     состояния: применяется то, что сделала биржа, не то, что ожидалось
//   - MaxPollFailures подряд неудачных опросов прекращают трекинг
//     с критическим уведомлением: состояние ордера неизвестно,
//     односторонне менять его нельзя
//
// Терминальный callback вызывается ровно один раз на ордер.
type OrderTracker struct {
	client  exchange.Client
	limiter *ratelimit.RateLimiter
	orders  OrderStore
	trades  TradeStore
	config  TrackerConfig

	mu     sync.Mutex
	active map[int]*trackedOrder // order.ID -> наблюдение

	onFill     func(ctx context.Context, o *models.Order, fillQty, fillPrice float64)
	onTerminal func(ctx context.Context, o *models.Order)
	notifyFn   func(n *models.Notification)

	log *utils.Logger
	now func() time.Time
}

// NewOrderTracker создает трекер ордеров
func NewOrderTracker(
	client exchange.Client,
	limiter *ratelimit.RateLimiter,
	orders OrderStore,
	trades TradeStore,
	config TrackerConfig,
	log *utils.Logger,
) *OrderTracker {
	if config.MaxPollFailures <= 0 {
		config.MaxPollFailures = 3
	}
	return &OrderTracker{
		client:  client,
		limiter: limiter,
		orders:  orders,
		trades:  trades,
		config:  config,
		active:  make(map[int]*trackedOrder),
		log:     log.WithComponent("tracker"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetCallbacks подключает обработчики исполнений и терминальных статусов
func (tr *OrderTracker) SetCallbacks(
	onFill func(ctx context.Context, o *models.Order, fillQty, fillPrice float64),
	onTerminal func(ctx context.Context, o *models.Order),
) {
	tr.mu.Lock()
	tr.onFill = onFill
	tr.onTerminal = onTerminal
	tr.mu.Unlock()
}

// SetNotifyFn подключает отправку уведомлений
func (tr *OrderTracker) SetNotifyFn(fn func(n *models.Notification)) {
	tr.mu.Lock()
	tr.notifyFn = fn
	tr.mu.Unlock()
}

// Adopt берёт размещённый ордер под наблюдение
//
// Начальное состояние handle применяется сразу: market-ордер мог
// исполниться в момент размещения, тогда трекинг завершается без
// единого опроса. Ордер публикуется в active только ПОСЛЕ начального
// наблюдения: поллер не должен трогать ордер, пока состояние
// размещения не применено.
func (tr *OrderTracker) Adopt(ctx context.Context, o *models.Order, h *exchange.OrderHandle) {
	t := &trackedOrder{order: o, lastProgressAt: tr.now()}

	tr.observe(ctx, t, h)
	if t.done {
		return
	}

	tr.mu.Lock()
	tr.active[o.ID] = t
	tr.mu.Unlock()
}

// Readopt возобновляет наблюдение за ордером после рестарта процесса
func (tr *OrderTracker) Readopt(o *models.Order) {
	tr.mu.Lock()
	tr.active[o.ID] = &trackedOrder{order: o, lastProgressAt: tr.now()}
	tr.mu.Unlock()
}

// ActiveCount возвращает количество ордеров под наблюдением
func (tr *OrderTracker) ActiveCount() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.active)
}

// Run запускает цикл поллинга до отмены контекста
func (tr *OrderTracker) Run(ctx context.Context) {
	ticker := time.NewTicker(tr.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tr.PollOnce(ctx)
		}
	}
}

// PollOnce опрашивает все активные ордера один раз
func (tr *OrderTracker) PollOnce(ctx context.Context) {
	tr.mu.Lock()
	snapshot := make([]*trackedOrder, 0, len(tr.active))
	for _, t := range tr.active {
		snapshot = append(snapshot, t)
	}
	tr.mu.Unlock()

	for _, t := range snapshot {
		if ctx.Err() != nil {
			return
		}
		tr.poll(ctx, t)
	}
}

// poll опрашивает один ордер и применяет политики таймаутов
func (tr *OrderTracker) poll(ctx context.Context, t *trackedOrder) {
	if err := tr.limiter.Wait(ctx); err != nil {
		return
	}

	h, err := tr.client.GetOrderStatus(ctx, t.order.Symbol, t.order.ExchangeOrderID)
	if err != nil {
		tr.handlePollFailure(ctx, t, err)
		return
	}
	t.pollFailures = 0

	tr.observe(ctx, t, h)

	if t.done || t.cancelSent {
		return
	}

	now := tr.now()
	switch t.order.Status {
	case models.OrderStatusNew:
		if now.Sub(t.order.CreatedAt) >= tr.config.MaxOrderAge {
			tr.log.Info("order exceeded max age, cancelling",
				zap.Int("order_id", t.order.ID),
				zap.String("symbol", t.order.Symbol),
				zap.Duration("age", now.Sub(t.order.CreatedAt)))
			tr.cancel(ctx, t)
		}
	case models.OrderStatusPartiallyFilled:
		if now.Sub(t.lastProgressAt) >= tr.config.PartialFillTimeout {
			// Почти неисполненный залипший ордер отменяем; заметно
			// исполненный оставляем - отмена осиротит уже купленный объём
			if t.order.FilledFraction() < tr.config.MinFilledFraction {
				tr.log.Info("stalled partial fill, cancelling",
					zap.Int("order_id", t.order.ID),
					zap.Float64("filled_fraction", t.order.FilledFraction()))
				tr.cancel(ctx, t)
			}
		}
	}
}

// handlePollFailure учитывает неудачный опрос
func (tr *OrderTracker) handlePollFailure(ctx context.Context, t *trackedOrder, err error) {
	t.pollFailures++

	tr.log.Warn("order status poll failed",
		zap.Int("order_id", t.order.ID),
		zap.Int("consecutive_failures", t.pollFailures),
		zap.Error(err))

	if t.pollFailures < tr.config.MaxPollFailures {
		return
	}

	// Состояние ордера неизвестно: прекращаем трекинг, НЕ меняя статус.
	// Recovery при следующем старте попытается разрешить его заново.
	tr.mu.Lock()
	delete(tr.active, t.order.ID)
	tr.mu.Unlock()

	TrackingAbandoned.Inc()

	t.order.ErrorMessage = fmt.Sprintf("tracking abandoned after %d poll failures: %v", t.pollFailures, err)
	t.order.UpdatedAt = tr.now()
	if perr := tr.orders.Update(ctx, t.order); perr != nil {
		tr.log.Error("failed to persist abandoned order", zap.Int("order_id", t.order.ID), zap.Error(perr))
	}

	tr.notify(models.NotificationTypeTrackingLost, models.SeverityCritical, t.order.Symbol,
		fmt.Sprintf("🚨 Lost tracking of order %s (%s %s): %d consecutive poll failures. Manual reconciliation required",
			t.order.ExchangeOrderID, t.order.Side, t.order.Symbol, t.pollFailures))
}

// cancel отправляет отмену и применяет фактический результат
//
// Биржа могла исполнить ордер до приёма отмены. CancelOrder возвращает
// фактическое терминальное состояние, ErrOrderNotFound разрешается
// перечитыванием статуса.
func (tr *OrderTracker) cancel(ctx context.Context, t *trackedOrder) {
	if err := tr.limiter.Wait(ctx); err != nil {
		return
	}

	h, err := tr.client.CancelOrder(ctx, t.order.Symbol, t.order.ExchangeOrderID)
	if err != nil {
		if errors.Is(err, exchange.ErrOrderNotFound) {
			// Гонка: ордер уже разрешился на бирже, перечитываем
			if err := tr.limiter.Wait(ctx); err != nil {
				return
			}
			h, err = tr.client.GetOrderStatus(ctx, t.order.Symbol, t.order.ExchangeOrderID)
			if err != nil {
				tr.handlePollFailure(ctx, t, err)
				return
			}
		} else {
			tr.log.Warn("order cancel failed",
				zap.Int("order_id", t.order.ID), zap.Error(err))
			return
		}
	}

	t.cancelSent = true
	tr.observe(ctx, t, h)
}

// observe применяет состояние с биржи к локальному ордеру
//
// Единственная точка мутации статуса и исполнения. Монотонность:
// прирост ExecutedQty применяется ровно один раз, откат игнорируется
// как стейл. Каждый новый fill пишется в журнал сделок и отдаётся
// в onFill callback.
func (tr *OrderTracker) observe(ctx context.Context, t *trackedOrder, h *exchange.OrderHandle) {
	o := t.order

	if IsTerminalOrderStatus(o.Status) {
		return // терминальный ордер не мутирует
	}

	// Прирост исполнения
	if h.ExecutedQty > o.ExecutedQty {
		fillQty := h.ExecutedQty - o.ExecutedQty

		// Цена данного инкремента из разности накопленных средних
		fillPrice := h.AvgFillPrice
		if fillQty > 0 && h.AvgFillPrice > 0 && o.ExecutedQty > 0 {
			fillPrice = (h.AvgFillPrice*h.ExecutedQty - o.AvgFillPrice*o.ExecutedQty) / fillQty
		}

		o.ExecutedQty = h.ExecutedQty
		o.AvgFillPrice = h.AvgFillPrice
		t.lastProgressAt = tr.now()

		kind := models.TradeKindPartialFill
		if IsTerminalOrderStatus(h.Status) {
			kind = models.TradeKindTerminal
		}
		rec := models.NewTradeRecord(o, fillQty, fillPrice, 0, kind)
		if err := tr.trades.Create(ctx, rec); err != nil {
			tr.log.Error("failed to persist trade record",
				zap.Int("order_id", o.ID), zap.Error(err))
		}

		if tr.onFill != nil {
			tr.onFill(ctx, o, fillQty, fillPrice)
		}
	}

	// Переход статуса через таблицу допустимых переходов
	if h.Status != o.Status && CanTransitionOrder(o.Status, h.Status) {
		o.Status = h.Status
	}

	now := tr.now()
	o.UpdatedAt = now
	if o.Status == models.OrderStatusFilled && o.ExecutedAt == nil {
		o.ExecutedAt = &now
	}
	if o.Status == models.OrderStatusCancelled && o.CancelledAt == nil {
		o.CancelledAt = &now
	}

	if err := tr.orders.Update(ctx, o); err != nil {
		tr.log.Error("failed to persist order state",
			zap.Int("order_id", o.ID), zap.Error(err))
	}

	if IsTerminalOrderStatus(o.Status) && !t.done {
		t.done = true

		tr.mu.Lock()
		delete(tr.active, o.ID)
		tr.mu.Unlock()

		tr.log.Info("order resolved",
			zap.Int("order_id", o.ID),
			zap.String("symbol", o.Symbol),
			zap.String("status", o.Status),
			zap.Float64("executed_qty", o.ExecutedQty),
			zap.Float64("avg_fill_price", o.AvgFillPrice))

		if tr.onTerminal != nil {
			tr.onTerminal(ctx, o)
		}
	}
}

// notify отправляет уведомление если канал подключен
func (tr *OrderTracker) notify(ntype, severity, symbol, message string) {
	tr.mu.Lock()
	fn := tr.notifyFn
	tr.mu.Unlock()
	if fn == nil {
		return
	}
	fn(models.NewNotification(ntype, severity, symbol, message))
}
