package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"scalper/internal/exchange"
	"scalper/internal/models"
	"scalper/pkg/utils"
)

// TradingParams - параметры открываемых позиций
type TradingParams struct {
	TargetProfitPct float64 // take profit, % от входа
	StopLossPct     float64 // stop loss, % от входа
	TrailingStopPct float64 // 0 = отключён
	MaxHoldingTime  time.Duration
	QuoteAsset      string // валюта баланса (USDT)
}

// Назначение ордера в конвейере
const (
	purposeEntry = "entry"
	purposeExit  = "exit"
)

// TradingOrchestrator - главный торговый цикл
//
// Связывает компоненты: стратегия выдаёт сигналы, риск-контур гейтит,
// исполнитель размещает, трекер доводит ордера до терминала, ledger
// применяет исполнения. Один проход RunCycle:
//
//  1. Тики цен по активным парам, обновление позиций и трейлинга
//  2. Проверка выходов: истечение > SL > TP > жёсткий лимит убытка
//  3. Пересчёт дневного PNL и уровня риска (может активировать
//     emergency stop с форсированным закрытием)
//  4. Сигналы стратегии через гейт риска, размещение входов
//
// Исполнения приходят асинхронно через callbacks трекера и сходятся
// в ledger независимо от фазы цикла.
type TradingOrchestrator struct {
	client   exchange.Client
	strategy Strategy
	executor *OrderExecutor
	tracker  *OrderTracker
	ledger   *PositionLedger
	governor *RiskGovernor

	pairsFn       func() []*models.PairConfig
	dailyRealized func(ctx context.Context) (float64, error)
	notifyFn      func(n *models.Notification)
	stream        StreamPublisher

	params TradingParams

	mu              sync.Mutex
	pending         map[int]string // order.ID -> purpose
	closing         map[string]int // symbol -> ID выходного ордера в полёте
	baselineBalance float64        // баланс на момент дневного сброса
	hadPosition     map[string]bool

	log *utils.Logger
	now func() time.Time
}

// NewTradingOrchestrator создает и сшивает торговый цикл
func NewTradingOrchestrator(
	client exchange.Client,
	strategy Strategy,
	executor *OrderExecutor,
	tracker *OrderTracker,
	ledger *PositionLedger,
	governor *RiskGovernor,
	pairsFn func() []*models.PairConfig,
	dailyRealized func(ctx context.Context) (float64, error),
	params TradingParams,
	log *utils.Logger,
) *TradingOrchestrator {
	if params.QuoteAsset == "" {
		params.QuoteAsset = "USDT"
	}

	orch := &TradingOrchestrator{
		client:        client,
		strategy:      strategy,
		executor:      executor,
		tracker:       tracker,
		ledger:        ledger,
		governor:      governor,
		pairsFn:       pairsFn,
		dailyRealized: dailyRealized,
		params:        params,
		pending:       make(map[int]string),
		closing:       make(map[string]int),
		hadPosition:   make(map[string]bool),
		log:           log.WithComponent("orchestrator"),
		now:           func() time.Time { return time.Now().UTC() },
	}

	// Сшивка: трекер отдаёт исполнения оркестратору, риск-контур
	// читает агрегаты ledger'а и командует закрытие через оркестратор
	tracker.SetCallbacks(orch.handleFill, orch.handleTerminal)
	governor.SetLedgerHooks(ledger.ActiveCount, ledger.TotalExposure, ledger.CountByQuote)
	governor.SetBalanceFn(orch.BaselineBalance)
	governor.SetCloseAllFn(orch.CloseAll)

	return orch
}

// SetNotifyFn подключает отправку уведомлений
//
// Канал пробрасывается и в risk-контур: governor шлёт уведомления
// об emergency stop сам, минуя оркестратор.
func (orch *TradingOrchestrator) SetNotifyFn(fn func(n *models.Notification)) {
	orch.mu.Lock()
	orch.notifyFn = fn
	orch.mu.Unlock()
	orch.governor.SetNotifyFn(fn)
}

// StreamPublisher пушит real-time обновления WebSocket-клиентам
type StreamPublisher interface {
	BroadcastPrice(symbol string, price float64)
	BroadcastPosition(symbol string, data interface{})
	BroadcastOrder(symbol string, data interface{})
	BroadcastRisk(data interface{})
}

// SetStream подключает публикацию обновлений фронтенду
func (orch *TradingOrchestrator) SetStream(s StreamPublisher) {
	orch.mu.Lock()
	orch.stream = s
	orch.mu.Unlock()
}

func (orch *TradingOrchestrator) streamer() StreamPublisher {
	orch.mu.Lock()
	defer orch.mu.Unlock()
	return orch.stream
}

// ============================================================
// Торговый цикл
// ============================================================

// Run запускает торговый цикл с заданным интервалом до отмены контекста
func (orch *TradingOrchestrator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := orch.RunCycle(ctx); err != nil {
				orch.log.Error("trading cycle failed", zap.Error(err))
			}
		}
	}
}

// RunCycle выполняет один проход торгового цикла
func (orch *TradingOrchestrator) RunCycle(ctx context.Context) error {
	pairs := orch.pairsFn()

	var errs []string
	for _, pair := range pairs {
		if !pair.Active {
			continue
		}
		if err := orch.cycleSymbol(ctx, pair); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", pair.Symbol, err))
		}
	}

	orch.updateRisk(ctx)

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// cycleSymbol обрабатывает один символ: тик, выходы, вход
func (orch *TradingOrchestrator) cycleSymbol(ctx context.Context, pair *models.PairConfig) error {
	ticker, err := orch.client.GetTicker(ctx, pair.Symbol)
	if err != nil {
		return fmt.Errorf("get ticker: %w", err)
	}

	p := orch.ledger.UpdatePrice(pair.Symbol, ticker.LastPrice)

	if s := orch.streamer(); s != nil {
		s.BroadcastPrice(pair.Symbol, ticker.LastPrice)
		if p != nil {
			s.BroadcastPosition(p.Symbol, p)
		}
	}

	// Выходы проверяются раньше входов
	if p != nil {
		if reason := orch.exitReason(p); reason != "" {
			return orch.closePosition(ctx, p, reason)
		}
		// Позиция открыта - новых входов по символу не делаем
		return nil
	}

	// Вход по сигналу стратегии через гейт риска
	sig := orch.strategy.Evaluate(ticker)
	if sig.Direction == SignalNone || sig.Quantity <= 0 {
		return nil
	}

	check := orch.governor.CanOpenPosition(pair.Symbol, sig.Quantity, ticker.LastPrice)
	if !check.Allowed {
		OpenRejections.WithLabelValues(rejectionLabel(check.Reason)).Inc()
		orch.log.Debug("entry rejected by risk gate",
			zap.String("symbol", pair.Symbol),
			zap.String("reason", check.Reason))
		return nil
	}

	side := models.SideBuy
	if sig.Direction == SignalSell {
		side = models.SideSell
	}

	order, err := orch.executor.Submit(ctx, SubmitRequest{
		Symbol:   pair.Symbol,
		Side:     side,
		Type:     models.OrderTypeMarket,
		Quantity: sig.Quantity,
		RefPrice: ticker.LastPrice,
	})
	if err != nil {
		return fmt.Errorf("submit entry: %w", err)
	}

	if !IsTerminalOrderStatus(order.Status) {
		orch.mu.Lock()
		orch.pending[order.ID] = purposeEntry
		orch.mu.Unlock()
	}

	OrdersPlaced.WithLabelValues(order.Symbol, order.Side, order.Type).Inc()
	orch.governor.CheckConcentration(pair.Quote)

	orch.log.Info("entry order submitted",
		zap.String("symbol", pair.Symbol),
		zap.String("side", side),
		zap.Float64("quantity", order.Quantity),
		zap.String("signal", sig.Reason))

	return nil
}

// exitReason решает о закрытии позиции на текущем тике
//
// Приоритет: истечение > SL > TP, затем жёсткий лимит убытка позиции
func (orch *TradingOrchestrator) exitReason(p *models.Position) string {
	orch.mu.Lock()
	_, inFlight := orch.closing[p.Symbol]
	orch.mu.Unlock()
	if inFlight {
		return "" // выходной ордер уже в полёте
	}

	if sig := orch.ledger.EvaluateExit(p.Symbol, orch.now()); sig.ShouldExit {
		return sig.Reason
	}
	if orch.governor.ShouldForceClose(p) {
		return models.CloseReasonForced
	}
	return ""
}

// closePosition отправляет выходной ордер по рынку
func (orch *TradingOrchestrator) closePosition(ctx context.Context, p *models.Position, reason string) error {
	orch.ledger.MarkClosing(p.Symbol, reason)

	order, err := orch.executor.Submit(ctx, SubmitRequest{
		Symbol:   p.Symbol,
		Side:     models.OppositeSide(p.Side),
		Type:     models.OrderTypeMarket,
		Quantity: p.Size,
		RefPrice: p.CurrentPrice,
	})
	if err != nil {
		// Лимиты биржи не должны блокировать выход из позиции:
		// остаток-пыль (ниже min notional, min qty или шага объёма)
		// закрываем в реестре принудительно
		if errors.Is(err, ErrBelowMinNotional) || errors.Is(err, ErrQuantityBounds) || errors.Is(err, ErrInvalidQuantity) {
			orch.log.Warn("position residue below exchange limits, closing on ledger",
				zap.String("symbol", p.Symbol),
				zap.Float64("size", p.Size))
			return orch.ledger.ForceClose(ctx, p.Symbol, reason)
		}
		return fmt.Errorf("submit exit (%s): %w", reason, err)
	}

	// Market-ордер мог разрешиться терминально ещё внутри Submit,
	// тогда регистрировать его в полёте уже нельзя
	if !IsTerminalOrderStatus(order.Status) {
		orch.mu.Lock()
		orch.pending[order.ID] = purposeExit
		orch.closing[p.Symbol] = order.ID
		orch.mu.Unlock()
	}

	OrdersPlaced.WithLabelValues(order.Symbol, order.Side, order.Type).Inc()

	orch.log.Info("exit order submitted",
		zap.String("symbol", p.Symbol),
		zap.String("reason", reason),
		zap.Float64("quantity", order.Quantity))

	return nil
}

// ClosePositionManual закрывает позицию по команде оператора
func (orch *TradingOrchestrator) ClosePositionManual(ctx context.Context, symbol string) error {
	p := orch.ledger.Get(symbol)
	if p == nil {
		return fmt.Errorf("no open position for %s", symbol)
	}
	return orch.closePosition(ctx, p, models.CloseReasonManual)
}

// CloseAll форсированно закрывает все открытые позиции
//
// Используется emergency stop'ом и graceful shutdown'ом.
func (orch *TradingOrchestrator) CloseAll(ctx context.Context, reason string) error {
	var errs []string
	for _, p := range orch.ledger.Active() {
		if err := orch.closePosition(ctx, p, reason); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", p.Symbol, err))
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// SweepExpired закрывает просроченные позиции независимо от потока тиков
//
// Основной цикл проверяет истечение на тике символа; если пара стала
// неактивной или тикер временно недоступен, позиция пересидела бы свой
// лимит времени. Отдельная задача планировщика добирает такие позиции.
func (orch *TradingOrchestrator) SweepExpired(ctx context.Context) error {
	now := orch.now()

	var errs []string
	for _, p := range orch.ledger.Active() {
		if !p.Expired(now) {
			continue
		}
		orch.mu.Lock()
		_, inFlight := orch.closing[p.Symbol]
		orch.mu.Unlock()
		if inFlight {
			continue
		}

		orch.log.Info("position exceeded max holding time, closing",
			zap.String("symbol", p.Symbol),
			zap.Duration("age", now.Sub(p.OpenedAt)))
		if err := orch.closePosition(ctx, p, models.CloseReasonExpired); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", p.Symbol, err))
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// ============================================================
// Дневной PNL и риск
// ============================================================

// updateRisk пересчитывает дневной PNL и уровень риска
func (orch *TradingOrchestrator) updateRisk(ctx context.Context) {
	realized := 0.0
	if orch.dailyRealized != nil {
		var err error
		realized, err = orch.dailyRealized(ctx)
		if err != nil {
			orch.log.Error("failed to query daily realized pnl", zap.Error(err))
			return
		}
	}

	dailyPnl := realized + orch.ledger.TotalUnrealized()
	level := orch.governor.UpdateDailyPnl(ctx, dailyPnl, orch.BaselineBalance())

	DailyPnlGauge.Set(dailyPnl)
	RiskLevelGauge.Set(float64(models.RiskLevelRank(level)))
	OpenPositions.Set(float64(orch.ledger.ActiveCount()))
	TotalExposureGauge.Set(orch.ledger.TotalExposure())
	ActiveTrackedOrders.Set(float64(orch.tracker.ActiveCount()))

	if s := orch.streamer(); s != nil {
		s.BroadcastRisk(orch.governor.Snapshot())
	}
}

// RefreshBalance перечитывает баланс котируемой валюты с биржи
//
// Вызывается при старте и в час дневного сброса: зафиксированный
// baseline служит знаменателем дневных процентов до следующего сброса.
func (orch *TradingOrchestrator) RefreshBalance(ctx context.Context) error {
	balances, err := orch.client.GetBalances(ctx)
	if err != nil {
		return fmt.Errorf("get balances: %w", err)
	}
	for _, b := range balances {
		if b.Asset == orch.params.QuoteAsset {
			orch.mu.Lock()
			orch.baselineBalance = b.Free
			orch.mu.Unlock()
			return nil
		}
	}
	return fmt.Errorf("no %s balance returned", orch.params.QuoteAsset)
}

// BaselineBalance возвращает баланс на момент дневного сброса
func (orch *TradingOrchestrator) BaselineBalance() float64 {
	orch.mu.Lock()
	defer orch.mu.Unlock()
	return orch.baselineBalance
}

// DailyReset выполняет дневной сброс: новый baseline и обнуление счётчиков
func (orch *TradingOrchestrator) DailyReset(ctx context.Context) error {
	if err := orch.RefreshBalance(ctx); err != nil {
		return err
	}
	orch.governor.ResetDaily()
	orch.governor.MaybeAutoRestart()
	orch.log.Info("daily reset completed",
		zap.Float64("baseline_balance", orch.BaselineBalance()))
	return nil
}

// ============================================================
// Callbacks трекера
// ============================================================

// handleFill применяет прирост исполнения к ledger'у
func (orch *TradingOrchestrator) handleFill(ctx context.Context, o *models.Order, fillQty, fillPrice float64) {
	orch.mu.Lock()
	wasOpen := orch.hadPosition[o.Symbol]
	orch.mu.Unlock()

	p, err := orch.ledger.ApplyFill(ctx, o.Symbol, o.Side, fillQty, fillPrice, 0, PositionParams{
		StopLossPct:     orch.params.StopLossPct,
		TakeProfitPct:   orch.params.TargetProfitPct,
		TrailingStopPct: orch.params.TrailingStopPct,
		MaxHoldingTime:  orch.params.MaxHoldingTime,
	})
	if err != nil {
		orch.log.Error("failed to apply fill",
			zap.Int("order_id", o.ID),
			zap.String("symbol", o.Symbol),
			zap.Error(err))
		return
	}

	if s := orch.streamer(); s != nil {
		s.BroadcastOrder(o.Symbol, o)
		s.BroadcastPosition(p.Symbol, p)
	}

	if p.Status == models.PositionStatusClosed {
		orch.mu.Lock()
		orch.hadPosition[o.Symbol] = false
		orch.mu.Unlock()
		orch.finalizeClose(p)
		return
	}

	orch.mu.Lock()
	orch.hadPosition[o.Symbol] = true
	orch.mu.Unlock()

	if !wasOpen {
		PositionsOpened.WithLabelValues(p.Symbol, p.Side).Inc()
		orch.notify(models.NotificationTypeOpen, models.SeverityInfo, p.Symbol,
			fmt.Sprintf("📈 Opened %s %s: %.8f @ %.2f (SL %.2f / TP %.2f)",
				p.Side, p.Symbol, p.Size, p.EntryPrice, p.StopLossPrice, p.TakeProfitPrice))
	}
}

// handleTerminal обрабатывает терминальный статус ордера
func (orch *TradingOrchestrator) handleTerminal(ctx context.Context, o *models.Order) {
	orch.mu.Lock()
	purpose := orch.pending[o.ID]
	delete(orch.pending, o.ID)
	if id, ok := orch.closing[o.Symbol]; ok && id == o.ID {
		delete(orch.closing, o.Symbol)
	}
	orch.mu.Unlock()

	OrdersResolved.WithLabelValues(o.Symbol, o.Status).Inc()

	if s := orch.streamer(); s != nil {
		s.BroadcastOrder(o.Symbol, o)
	}

	switch o.Status {
	case models.OrderStatusRejected, models.OrderStatusExpired, models.OrderStatusCancelled:
		if purpose == purposeExit && orch.ledger.Get(o.Symbol) != nil {
			// Выход не прошёл, позиция осталась: следующий цикл
			// отправит выход заново
			orch.log.Warn("exit order did not fill, position remains open",
				zap.String("symbol", o.Symbol),
				zap.String("status", o.Status))
		}
		if o.Status == models.OrderStatusRejected {
			orch.notify(models.NotificationTypeError, models.SeverityWarning, o.Symbol,
				fmt.Sprintf("❌ Order rejected: %s %s %.8f (%s)", o.Side, o.Symbol, o.Quantity, o.ErrorMessage))
		}
	}
}

// finalizeClose завершает учёт закрытой позиции
func (orch *TradingOrchestrator) finalizeClose(p *models.Position) {
	orch.governor.RecordTradeResult(p.RealizedPnl)

	PositionsClosed.WithLabelValues(p.Symbol, p.CloseReason).Inc()
	RealizedPnl.WithLabelValues(p.Symbol).Add(p.RealizedPnl)

	ntype, severity := closeNotification(p)
	orch.notify(ntype, severity, p.Symbol,
		fmt.Sprintf("%s Closed %s %s: PNL %+.2f USDT (%s)",
			closeEmoji(p.RealizedPnl), p.Side, p.Symbol, p.RealizedPnl, p.CloseReason))
}

// closeNotification выбирает тип и важность уведомления по причине закрытия
func closeNotification(p *models.Position) (string, string) {
	switch p.CloseReason {
	case models.CloseReasonStopLoss:
		return models.NotificationTypeSL, models.SeverityWarning
	case models.CloseReasonTakeProfit:
		return models.NotificationTypeTP, models.SeveritySuccess
	case models.CloseReasonExpired:
		return models.NotificationTypeExpired, models.SeverityInfo
	case models.CloseReasonForced:
		return models.NotificationTypeClose, models.SeverityWarning
	default:
		return models.NotificationTypeClose, models.SeverityInfo
	}
}

func closeEmoji(pnl float64) string {
	if pnl >= 0 {
		return "✅"
	}
	return "🔻"
}

// rejectionLabel нормализует причину отказа для метрики (без чисел)
func rejectionLabel(reason string) string {
	switch {
	case strings.Contains(reason, "emergency"):
		return "emergency_stop"
	case strings.Contains(reason, "max open positions"):
		return "max_positions"
	case strings.Contains(reason, "position size"):
		return "position_size"
	case strings.Contains(reason, "exposure"):
		return "exposure"
	default:
		return "other"
	}
}

// notify отправляет уведомление если канал подключен
func (orch *TradingOrchestrator) notify(ntype, severity, symbol, message string) {
	orch.mu.Lock()
	fn := orch.notifyFn
	orch.mu.Unlock()
	if fn == nil {
		return
	}
	fn(models.NewNotification(ntype, severity, symbol, message))
}
