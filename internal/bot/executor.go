package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"scalper/internal/exchange"
	"scalper/internal/models"
	"scalper/pkg/ratelimit"
	"scalper/pkg/retry"
	"scalper/pkg/utils"
)

// Ошибки валидации ордера. Возвращаются ДО любого сетевого вызова.
var (
	ErrPairInactive     = errors.New("trading pair is not active")
	ErrInvalidQuantity  = errors.New("order quantity must be positive")
	ErrQuantityBounds   = errors.New("order quantity outside pair limits")
	ErrBelowMinNotional = errors.New("order notional below pair minimum")
	ErrInvalidPrice     = errors.New("limit order price must be positive")
)

// OrderStore - долговременное хранилище ордеров
type OrderStore interface {
	Create(ctx context.Context, o *models.Order) error
	Update(ctx context.Context, o *models.Order) error
	GetActive(ctx context.Context) ([]*models.Order, error)
}

// OrderAdopter принимает размещённый ордер под наблюдение
type OrderAdopter interface {
	Adopt(ctx context.Context, o *models.Order, h *exchange.OrderHandle)
}

// SubmitRequest - параметры размещаемого ордера
type SubmitRequest struct {
	Symbol   string
	Side     string   // buy, sell
	Type     string   // market, limit
	Quantity float64  // в базовой валюте, до округления
	Price    *float64 // nil для market
	RefPrice float64  // текущая цена для проверки notional market-ордера
}

// OrderExecutor - размещение и отмена ордеров на бирже
//
// Конвейер размещения:
//  1. Валидация против конфигурации пары (активность, лимиты объёма)
//  2. Округление объёма и цены до шагов пары
//  3. Проверка минимального notional (отказ до сети)
//  4. Rate limit
//  5. Отправка с retry; идемпотентный ClientToken сохраняется между
//     попытками, биржа дедуплицирует повторы
//  6. Передача ордера трекеру до возврата управления
//
// Каждое изменение ордера коммитится в хранилище per-операция.
type OrderExecutor struct {
	client  exchange.Client
	store   OrderStore
	limiter *ratelimit.RateLimiter
	tracker OrderAdopter
	pairFn  func(symbol string) *models.PairConfig

	retryCfg     retry.Config
	orderTimeout time.Duration

	log *utils.Logger
}

// NewOrderExecutor создает исполнителя ордеров
func NewOrderExecutor(
	client exchange.Client,
	store OrderStore,
	limiter *ratelimit.RateLimiter,
	tracker OrderAdopter,
	pairFn func(symbol string) *models.PairConfig,
	retryCfg retry.Config,
	orderTimeout time.Duration,
	log *utils.Logger,
) *OrderExecutor {
	if orderTimeout <= 0 {
		orderTimeout = 5 * time.Second
	}
	// Повторяем только retryable ошибки биржи, отказ биржи не повторяем
	retryCfg.RetryIf = exchange.IsRetryable
	return &OrderExecutor{
		client:       client,
		store:        store,
		limiter:      limiter,
		tracker:      tracker,
		pairFn:       pairFn,
		retryCfg:     retryCfg,
		orderTimeout: orderTimeout,
		log:          log.WithComponent("executor"),
	}
}

// Submit размещает ордер на бирже
//
// Возвращает ордер в его состоянии на момент возврата: NEW либо уже
// частично/полностью исполненный, если биржа исполнила сразу. Терминальный
// REJECTED возвращается вместе с ошибкой. Ордер передан трекеру до
// возврата, потерять принятый биржей ордер нельзя.
func (ex *OrderExecutor) Submit(ctx context.Context, req SubmitRequest) (*models.Order, error) {
	pair := ex.pairFn(req.Symbol)
	if pair == nil || !pair.Active {
		return nil, fmt.Errorf("%w: %s", ErrPairInactive, req.Symbol)
	}

	qty, price, err := ex.normalize(req, pair)
	if err != nil {
		return nil, err
	}

	order := models.NewOrder(req.Symbol, req.Side, req.Type, qty, price)
	if err := ex.store.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("persist order: %w", err)
	}

	if err := ex.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	handle, err := ex.place(ctx, order)
	if err != nil {
		order.Status = models.OrderStatusRejected
		order.ErrorMessage = err.Error()
		order.UpdatedAt = time.Now().UTC()
		if perr := ex.store.Update(ctx, order); perr != nil {
			ex.log.Error("failed to persist rejected order",
				zap.Int("order_id", order.ID), zap.Error(perr))
		}
		ex.log.Warn("order placement failed",
			zap.String("symbol", req.Symbol),
			zap.String("side", req.Side),
			zap.Int("attempts", order.Attempts),
			zap.Error(err))
		return order, fmt.Errorf("place order %s %s: %w", req.Side, req.Symbol, err)
	}

	order.ExchangeOrderID = handle.OrderID
	order.UpdatedAt = time.Now().UTC()
	if err := ex.store.Update(ctx, order); err != nil {
		ex.log.Error("failed to persist accepted order",
			zap.Int("order_id", order.ID), zap.Error(err))
	}

	ex.log.Info("order placed",
		zap.String("symbol", order.Symbol),
		zap.String("side", order.Side),
		zap.String("type", order.Type),
		zap.Float64("quantity", order.Quantity),
		zap.String("exchange_order_id", order.ExchangeOrderID),
		zap.String("status", handle.Status))

	// Передаём трекеру ДО возврата: трекер применит начальное исполнение
	// и возьмёт ордер под поллинг (или завершит, если статус терминальный)
	ex.tracker.Adopt(ctx, order, handle)

	return order, nil
}

// normalize валидирует и округляет параметры ордера
func (ex *OrderExecutor) normalize(req SubmitRequest, pair *models.PairConfig) (float64, *float64, error) {
	if req.Quantity <= 0 {
		return 0, nil, ErrInvalidQuantity
	}

	qty := utils.RoundToStep(req.Quantity, pair.QtyStep)
	if qty <= 0 {
		return 0, nil, fmt.Errorf("%w: %v rounds to zero (step %v)", ErrInvalidQuantity, req.Quantity, pair.QtyStep)
	}
	if pair.MinQty > 0 && qty < pair.MinQty {
		return 0, nil, fmt.Errorf("%w: %v below min %v", ErrQuantityBounds, qty, pair.MinQty)
	}
	if pair.MaxQty > 0 && qty > pair.MaxQty {
		return 0, nil, fmt.Errorf("%w: %v above max %v", ErrQuantityBounds, qty, pair.MaxQty)
	}

	var price *float64
	refPrice := req.RefPrice
	if req.Type == models.OrderTypeLimit {
		if req.Price == nil || *req.Price <= 0 {
			return 0, nil, ErrInvalidPrice
		}
		rounded := utils.RoundToStepNearest(*req.Price, pair.PriceStep)
		price = &rounded
		refPrice = rounded
	}

	if pair.MinNotional > 0 && refPrice > 0 && qty*refPrice < pair.MinNotional {
		return 0, nil, fmt.Errorf("%w: %.2f < %.2f", ErrBelowMinNotional, qty*refPrice, pair.MinNotional)
	}

	return qty, price, nil
}

// place отправляет ордер с retry, сохраняя идемпотентный токен
func (ex *OrderExecutor) place(ctx context.Context, order *models.Order) (*exchange.OrderHandle, error) {
	cfg := ex.retryCfg
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		order.Attempts = attempt
		OrderRetries.WithLabelValues(order.Symbol).Inc()
		ex.log.Warn("retrying order placement",
			zap.Int("order_id", order.ID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	req := exchange.OrderRequest{
		Symbol:      order.Symbol,
		Side:        order.Side,
		Type:        order.Type,
		Quantity:    order.Quantity,
		Price:       order.Price,
		ClientToken: order.ClientToken, // один токен на все попытки
	}

	start := time.Now()
	handle, err := retry.DoWithResult(ctx, func() (*exchange.OrderHandle, error) {
		callCtx, cancel := context.WithTimeout(ctx, ex.orderTimeout)
		defer cancel()
		return ex.client.PlaceOrder(callCtx, req)
	}, cfg)
	OrderPlacementLatency.WithLabelValues(order.Symbol).
		Observe(float64(time.Since(start).Milliseconds()))
	return handle, err
}

// Cancel отменяет ордер на бирже
//
// Возвращает состояние ордера после отмены: биржа могла успеть исполнить
// ордер до приёма отмены, тогда статус будет FILLED, а не CANCELED.
// Вызывающий обязан применить фактический результат, не предполагаемый.
func (ex *OrderExecutor) Cancel(ctx context.Context, order *models.Order) (*exchange.OrderHandle, error) {
	if err := ex.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	cfg := ex.retryCfg
	handle, err := retry.DoWithResult(ctx, func() (*exchange.OrderHandle, error) {
		callCtx, cancel := context.WithTimeout(ctx, ex.orderTimeout)
		defer cancel()
		return ex.client.CancelOrder(callCtx, order.Symbol, order.ExchangeOrderID)
	}, cfg)
	if err != nil {
		return nil, fmt.Errorf("cancel order %s: %w", order.ExchangeOrderID, err)
	}

	ex.log.Info("order cancel accepted",
		zap.Int("order_id", order.ID),
		zap.String("exchange_order_id", order.ExchangeOrderID),
		zap.String("status", handle.Status))

	return handle, nil
}
