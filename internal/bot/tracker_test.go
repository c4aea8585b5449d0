package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"scalper/internal/exchange"
	"scalper/internal/models"
	"scalper/pkg/ratelimit"
	"scalper/pkg/utils"
)

// trackerFixture собирает трекер с фейками и управляемыми часами
type trackerFixture struct {
	tracker *OrderTracker
	client  *fakeExchange
	orders  *fakeOrderStore
	trades  *fakeTradeStore

	mu            sync.Mutex
	clock         time.Time
	fills         []fillEvent
	terminals     []*models.Order
	notifications []*models.Notification
}

type fillEvent struct {
	orderID int
	qty     float64
	price   float64
}

func newTrackerFixture(cfg TrackerConfig) *trackerFixture {
	f := &trackerFixture{
		client: &fakeExchange{},
		orders: &fakeOrderStore{},
		trades: &fakeTradeStore{},
		clock:  time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	f.tracker = NewOrderTracker(
		f.client, ratelimit.NewRateLimiter(1000, 1000),
		f.orders, f.trades, cfg, utils.NopLogger(),
	)
	f.tracker.now = func() time.Time {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.clock
	}
	f.tracker.SetCallbacks(
		func(ctx context.Context, o *models.Order, qty, price float64) {
			f.mu.Lock()
			f.fills = append(f.fills, fillEvent{orderID: o.ID, qty: qty, price: price})
			f.mu.Unlock()
		},
		func(ctx context.Context, o *models.Order) {
			f.mu.Lock()
			f.terminals = append(f.terminals, o)
			f.mu.Unlock()
		},
	)
	f.tracker.SetNotifyFn(func(n *models.Notification) {
		f.mu.Lock()
		f.notifications = append(f.notifications, n)
		f.mu.Unlock()
	})
	return f
}

func (f *trackerFixture) advance(d time.Duration) {
	f.mu.Lock()
	f.clock = f.clock.Add(d)
	f.mu.Unlock()
}

func (f *trackerFixture) newOrder(qty float64) *models.Order {
	f.mu.Lock()
	created := f.clock
	f.mu.Unlock()
	return &models.Order{
		ID:              1,
		ClientToken:     "tok-1",
		ExchangeOrderID: "EX-1",
		Symbol:          "BTCUSDT",
		Side:            models.SideBuy,
		Type:            models.OrderTypeLimit,
		Quantity:        qty,
		Status:          models.OrderStatusNew,
		CreatedAt:       created,
	}
}

func handle(status string, executed, avgPrice float64) *exchange.OrderHandle {
	return &exchange.OrderHandle{
		OrderID:      "EX-1",
		Status:       status,
		ExecutedQty:  executed,
		AvgFillPrice: avgPrice,
	}
}

// ============================================================
// Adopt и начальное состояние
// ============================================================

// TestAdopt_ImmediateFill: market-ордер исполнился в момент размещения,
// трекинг завершается без единого опроса
func TestAdopt_ImmediateFill(t *testing.T) {
	f := newTrackerFixture(DefaultTrackerConfig())
	o := f.newOrder(0.01)

	f.tracker.Adopt(context.Background(), o, handle(exchange.StatusFilled, 0.01, 50000))

	if o.Status != models.OrderStatusFilled {
		t.Fatalf("Status = %s, want FILLED", o.Status)
	}
	if o.ExecutedAt == nil {
		t.Error("ExecutedAt не проставлен")
	}
	if f.tracker.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d, want 0 (терминальный сразу)", f.tracker.ActiveCount())
	}
	if len(f.fills) != 1 || !floatEq(f.fills[0].qty, 0.01) || !floatEq(f.fills[0].price, 50000) {
		t.Errorf("fills = %+v, want один fill 0.01@50000", f.fills)
	}
	if len(f.terminals) != 1 {
		t.Errorf("терминальных callback'ов %d, want 1", len(f.terminals))
	}
	if f.trades.count() != 1 || f.trades.records[0].Kind != models.TradeKindTerminal {
		t.Error("терминальная запись в журнал сделок не создана")
	}
}

func TestAdopt_NewOrderStaysTracked(t *testing.T) {
	f := newTrackerFixture(DefaultTrackerConfig())
	o := f.newOrder(0.01)

	f.tracker.Adopt(context.Background(), o, handle(exchange.StatusNew, 0, 0))

	if f.tracker.ActiveCount() != 1 {
		t.Fatalf("ActiveCount = %d, want 1", f.tracker.ActiveCount())
	}
	if len(f.fills) != 0 || len(f.terminals) != 0 {
		t.Error("callback'и вызваны без исполнения")
	}
}

// TestAdopt_ConcurrentWithPolling: усыновление новых ордеров во время
// работы поллера не рвёт состояние ордера (ловится детектором гонок)
func TestAdopt_ConcurrentWithPolling(t *testing.T) {
	f := newTrackerFixture(DefaultTrackerConfig())
	ctx := context.Background()

	const n = 50
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < n; i++ {
			f.tracker.PollOnce(ctx)
		}
	}()

	for i := 1; i <= n; i++ {
		o := f.newOrder(0.01)
		o.ID = i
		o.ExchangeOrderID = fmt.Sprintf("EX-%d", i)
		f.tracker.Adopt(ctx, o, handle(exchange.StatusNew, 0, 0))
	}
	<-done

	if f.tracker.ActiveCount() != n {
		t.Errorf("ActiveCount = %d, want %d", f.tracker.ActiveCount(), n)
	}
	if len(f.terminals) != 0 {
		t.Errorf("терминальных ордеров %d, ожидалось 0", len(f.terminals))
	}
}

// ============================================================
// Монотонность исполнения
// ============================================================

// TestPoll_MonotonicExecution: прирост применяется один раз, стейл-ответ
// с меньшим ExecutedQty игнорируется
func TestPoll_MonotonicExecution(t *testing.T) {
	f := newTrackerFixture(DefaultTrackerConfig())
	o := f.newOrder(1.0)

	responses := []*exchange.OrderHandle{
		handle(exchange.StatusPartiallyFilled, 0.4, 100),
		handle(exchange.StatusPartiallyFilled, 0.4, 100), // без прогресса
		handle(exchange.StatusPartiallyFilled, 0.2, 100), // стейл: откат
		handle(exchange.StatusFilled, 1.0, 104),
	}
	i := 0
	f.client.statusFn = func(symbol, orderID string) (*exchange.OrderHandle, error) {
		h := responses[i]
		if i < len(responses)-1 {
			i++
		}
		return h, nil
	}

	ctx := context.Background()
	f.tracker.Adopt(ctx, o, handle(exchange.StatusNew, 0, 0))

	f.tracker.PollOnce(ctx) // 0.4@100
	if len(f.fills) != 1 || !floatEq(f.fills[0].qty, 0.4) || !floatEq(f.fills[0].price, 100) {
		t.Fatalf("fills после первого опроса = %+v", f.fills)
	}
	if o.Status != models.OrderStatusPartiallyFilled {
		t.Fatalf("Status = %s, want PARTIALLY_FILLED", o.Status)
	}

	f.tracker.PollOnce(ctx) // без прогресса
	f.tracker.PollOnce(ctx) // стейл
	if len(f.fills) != 1 {
		t.Fatalf("fills = %d после стейл-ответов, want 1", len(f.fills))
	}
	if !floatEq(o.ExecutedQty, 0.4) {
		t.Fatalf("ExecutedQty = %v откатился, want 0.4", o.ExecutedQty)
	}

	f.tracker.PollOnce(ctx) // доисполнение 0.6
	if len(f.fills) != 2 {
		t.Fatalf("fills = %d, want 2", len(f.fills))
	}
	// Цена инкремента из разности накопленных средних:
	// (104*1.0 - 100*0.4) / 0.6 = 106.666...
	if !floatEq(f.fills[1].qty, 0.6) {
		t.Errorf("инкремент qty = %v, want 0.6", f.fills[1].qty)
	}
	if f.fills[1].price < 106.6 || f.fills[1].price > 106.7 {
		t.Errorf("цена инкремента = %v, want ~106.67", f.fills[1].price)
	}

	if o.Status != models.OrderStatusFilled {
		t.Errorf("Status = %s, want FILLED", o.Status)
	}
	if len(f.terminals) != 1 {
		t.Errorf("терминальных callback'ов %d, want 1", len(f.terminals))
	}
	if f.tracker.ActiveCount() != 0 {
		t.Error("ордер остался под наблюдением после FILLED")
	}
}

// ============================================================
// Политики таймаутов
// ============================================================

// TestPoll_CancelsAgedNewOrder: ордер в NEW старше MaxOrderAge отменяется
func TestPoll_CancelsAgedNewOrder(t *testing.T) {
	cfg := DefaultTrackerConfig()
	cfg.MaxOrderAge = 30 * time.Second
	f := newTrackerFixture(cfg)
	o := f.newOrder(0.01)

	f.client.statusFn = func(symbol, orderID string) (*exchange.OrderHandle, error) {
		return handle(exchange.StatusNew, 0, 0), nil
	}
	cancelled := false
	f.client.cancelFn = func(symbol, orderID string) (*exchange.OrderHandle, error) {
		cancelled = true
		return handle(exchange.StatusCancelled, 0, 0), nil
	}

	ctx := context.Background()
	f.tracker.Adopt(ctx, o, handle(exchange.StatusNew, 0, 0))

	// Моложе лимита - не трогаем
	f.advance(10 * time.Second)
	f.tracker.PollOnce(ctx)
	if cancelled {
		t.Fatal("отмена раньше MaxOrderAge")
	}

	// Старше лимита - отменяем
	f.advance(25 * time.Second)
	f.tracker.PollOnce(ctx)
	if !cancelled {
		t.Fatal("ордер старше MaxOrderAge не отменён")
	}
	if o.Status != models.OrderStatusCancelled {
		t.Errorf("Status = %s, want CANCELED", o.Status)
	}
	if o.CancelledAt == nil {
		t.Error("CancelledAt не проставлен")
	}
	if len(f.terminals) != 1 {
		t.Errorf("терминальных callback'ов %d, want 1", len(f.terminals))
	}
}

// TestPoll_StalledPartialFill: залипший PARTIALLY_FILLED отменяется только
// если исполнено меньше MinFilledFraction
func TestPoll_StalledPartialFill(t *testing.T) {
	tests := []struct {
		name       string
		executed   float64 // из quantity 1.0
		wantCancel bool
	}{
		{"почти неисполненный отменяется", 0.005, true},
		{"заметно исполненный оставляем", 0.3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultTrackerConfig()
			cfg.PartialFillTimeout = 60 * time.Second
			f := newTrackerFixture(cfg)
			o := f.newOrder(1.0)

			f.client.statusFn = func(symbol, orderID string) (*exchange.OrderHandle, error) {
				return handle(exchange.StatusPartiallyFilled, tt.executed, 100), nil
			}
			cancelled := false
			f.client.cancelFn = func(symbol, orderID string) (*exchange.OrderHandle, error) {
				cancelled = true
				return handle(exchange.StatusCancelled, tt.executed, 100), nil
			}

			ctx := context.Background()
			f.tracker.Adopt(ctx, o, handle(exchange.StatusPartiallyFilled, tt.executed, 100))

			// Прогресса нет дольше таймаута
			f.advance(61 * time.Second)
			f.tracker.PollOnce(ctx)

			if cancelled != tt.wantCancel {
				t.Errorf("cancelled = %v, want %v (fraction %.3f)", cancelled, tt.wantCancel, o.FilledFraction())
			}
			if tt.wantCancel && o.Status != models.OrderStatusCancelled {
				t.Errorf("Status = %s, want CANCELED", o.Status)
			}
			if !tt.wantCancel && o.Status != models.OrderStatusPartiallyFilled {
				t.Errorf("Status = %s, want PARTIALLY_FILLED", o.Status)
			}
		})
	}
}

// TestPoll_ProgressResetsStallWindow: новый fill сдвигает окно прогресса
func TestPoll_ProgressResetsStallWindow(t *testing.T) {
	cfg := DefaultTrackerConfig()
	cfg.PartialFillTimeout = 60 * time.Second
	f := newTrackerFixture(cfg)
	o := f.newOrder(1.0)

	executed := 0.002
	f.client.statusFn = func(symbol, orderID string) (*exchange.OrderHandle, error) {
		return handle(exchange.StatusPartiallyFilled, executed, 100), nil
	}
	cancelled := false
	f.client.cancelFn = func(symbol, orderID string) (*exchange.OrderHandle, error) {
		cancelled = true
		return handle(exchange.StatusCancelled, executed, 100), nil
	}

	ctx := context.Background()
	f.tracker.Adopt(ctx, o, handle(exchange.StatusPartiallyFilled, executed, 100))

	// Прогресс за 10 секунд до истечения окна
	f.advance(50 * time.Second)
	executed = 0.004
	f.tracker.PollOnce(ctx)

	// Старое окно истекло бы здесь, но прогресс его сдвинул
	f.advance(20 * time.Second)
	f.tracker.PollOnce(ctx)
	if cancelled {
		t.Error("отмена несмотря на недавний прогресс")
	}
}

// ============================================================
// Гонка отмены и исполнения
// ============================================================

// TestCancel_FillRace: биржа исполнила ордер раньше отмены, применяется
// фактический результат - FILLED, не CANCELED
func TestCancel_FillRace(t *testing.T) {
	cfg := DefaultTrackerConfig()
	f := newTrackerFixture(cfg)
	o := f.newOrder(0.01)

	// Ордер висит в NEW до истечения возраста
	f.client.statusFn = func(symbol, orderID string) (*exchange.OrderHandle, error) {
		return handle(exchange.StatusNew, 0, 0), nil
	}
	// Отмена отвечает "не найден": ордер уже разрешился
	f.client.cancelFn = func(symbol, orderID string) (*exchange.OrderHandle, error) {
		// Перечитывание вернёт фактический FILLED
		f.client.mu.Lock()
		f.client.statusFn = func(symbol, orderID string) (*exchange.OrderHandle, error) {
			return handle(exchange.StatusFilled, 0.01, 50000), nil
		}
		f.client.mu.Unlock()
		return nil, exchange.ErrOrderNotFound
	}

	ctx := context.Background()
	f.tracker.Adopt(ctx, o, handle(exchange.StatusNew, 0, 0))

	f.advance(31 * time.Second)
	f.tracker.PollOnce(ctx)

	if o.Status != models.OrderStatusFilled {
		t.Fatalf("Status = %s, want FILLED (фактический результат гонки)", o.Status)
	}
	if len(f.fills) != 1 || !floatEq(f.fills[0].qty, 0.01) {
		t.Errorf("fills = %+v, want полное исполнение", f.fills)
	}
	if len(f.terminals) != 1 {
		t.Errorf("терминальных callback'ов %d, want 1", len(f.terminals))
	}
}

// TestCancel_PartialFillPreserved: отмена после частичного исполнения
// сохраняет исполненный объём
func TestCancel_PartialFillPreserved(t *testing.T) {
	f := newTrackerFixture(DefaultTrackerConfig())
	o := f.newOrder(0.01)

	f.client.statusFn = func(symbol, orderID string) (*exchange.OrderHandle, error) {
		return handle(exchange.StatusNew, 0, 0), nil
	}
	f.client.cancelFn = func(symbol, orderID string) (*exchange.OrderHandle, error) {
		// Между последним опросом и отменой успела исполниться часть
		return handle(exchange.StatusCancelled, 0.004, 50000), nil
	}

	ctx := context.Background()
	f.tracker.Adopt(ctx, o, handle(exchange.StatusNew, 0, 0))

	f.advance(31 * time.Second)
	f.tracker.PollOnce(ctx)

	if o.Status != models.OrderStatusCancelled {
		t.Fatalf("Status = %s, want CANCELED", o.Status)
	}
	if !floatEq(o.ExecutedQty, 0.004) {
		t.Errorf("ExecutedQty = %v, want 0.004 (частичное исполнение сохранено)", o.ExecutedQty)
	}
	if len(f.fills) != 1 || !floatEq(f.fills[0].qty, 0.004) {
		t.Errorf("fills = %+v, want частичный fill 0.004", f.fills)
	}
}

// ============================================================
// Потеря трекинга
// ============================================================

// TestPoll_AbandonAfterConsecutiveFailures: после MaxPollFailures подряд
// трекинг прекращается БЕЗ смены статуса, с критическим уведомлением
func TestPoll_AbandonAfterConsecutiveFailures(t *testing.T) {
	cfg := DefaultTrackerConfig()
	cfg.MaxPollFailures = 3
	f := newTrackerFixture(cfg)
	o := f.newOrder(0.01)

	f.client.statusFn = func(symbol, orderID string) (*exchange.OrderHandle, error) {
		return nil, exchange.NewNetworkError("fake", errors.New("timeout"))
	}

	ctx := context.Background()
	f.tracker.Readopt(o)

	f.tracker.PollOnce(ctx)
	f.tracker.PollOnce(ctx)
	if f.tracker.ActiveCount() != 1 {
		t.Fatal("трекинг прекращён раньше лимита неудач")
	}
	if len(f.notifications) != 0 {
		t.Fatal("уведомление раньше лимита неудач")
	}

	f.tracker.PollOnce(ctx) // третий подряд

	if f.tracker.ActiveCount() != 0 {
		t.Error("ордер остался под наблюдением после потери трекинга")
	}
	// Статус НЕ меняется: состояние ордера неизвестно
	if o.Status != models.OrderStatusNew {
		t.Errorf("Status = %s, want NEW (односторонняя смена запрещена)", o.Status)
	}
	if o.ErrorMessage == "" {
		t.Error("ErrorMessage не заполнен")
	}
	if len(f.notifications) != 1 {
		t.Fatalf("уведомлений %d, want 1", len(f.notifications))
	}
	n := f.notifications[0]
	if n.Type != models.NotificationTypeTrackingLost || n.Severity != models.SeverityCritical {
		t.Errorf("уведомление %s/%s, want TRACKING_LOST/critical", n.Type, n.Severity)
	}
	if len(f.terminals) != 0 {
		t.Error("терминальный callback вызван для потерянного ордера")
	}
}

// TestPoll_FailureCounterResets: успешный опрос сбрасывает счётчик неудач
func TestPoll_FailureCounterResets(t *testing.T) {
	cfg := DefaultTrackerConfig()
	cfg.MaxPollFailures = 3
	f := newTrackerFixture(cfg)
	o := f.newOrder(0.01)

	calls := 0
	f.client.statusFn = func(symbol, orderID string) (*exchange.OrderHandle, error) {
		calls++
		if calls%3 == 0 {
			return handle(exchange.StatusNew, 0, 0), nil // каждый третий успешен
		}
		return nil, exchange.NewNetworkError("fake", errors.New("timeout"))
	}

	ctx := context.Background()
	f.tracker.Readopt(o)

	for i := 0; i < 9; i++ {
		f.tracker.PollOnce(ctx)
	}

	if f.tracker.ActiveCount() != 1 {
		t.Error("трекинг прекращён несмотря на периодические успехи")
	}
	if len(f.notifications) != 0 {
		t.Error("ложное TRACKING_LOST уведомление")
	}
}
