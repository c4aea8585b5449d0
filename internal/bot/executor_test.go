package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"scalper/internal/exchange"
	"scalper/internal/models"
	"scalper/pkg/ratelimit"
	"scalper/pkg/retry"
	"scalper/pkg/utils"
)

// ============================================================
// Тестовые фейки
// ============================================================

// fakeExchange - управляемый биржевой клиент для тестов
type fakeExchange struct {
	mu         sync.Mutex
	placeFn    func(req exchange.OrderRequest) (*exchange.OrderHandle, error)
	cancelFn   func(symbol, orderID string) (*exchange.OrderHandle, error)
	statusFn   func(symbol, orderID string) (*exchange.OrderHandle, error)
	placeCalls []exchange.OrderRequest
}

func (f *fakeExchange) Name() string { return "fake" }

func (f *fakeExchange) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderHandle, error) {
	f.mu.Lock()
	f.placeCalls = append(f.placeCalls, req)
	fn := f.placeFn
	f.mu.Unlock()
	if fn == nil {
		return &exchange.OrderHandle{OrderID: "EX-1", Status: exchange.StatusNew}, nil
	}
	return fn(req)
}

func (f *fakeExchange) CancelOrder(ctx context.Context, symbol, orderID string) (*exchange.OrderHandle, error) {
	f.mu.Lock()
	fn := f.cancelFn
	f.mu.Unlock()
	if fn == nil {
		return &exchange.OrderHandle{OrderID: orderID, Status: exchange.StatusCancelled}, nil
	}
	return fn(symbol, orderID)
}

func (f *fakeExchange) GetOrderStatus(ctx context.Context, symbol, orderID string) (*exchange.OrderHandle, error) {
	f.mu.Lock()
	fn := f.statusFn
	f.mu.Unlock()
	if fn == nil {
		return &exchange.OrderHandle{OrderID: orderID, Status: exchange.StatusNew}, nil
	}
	return fn(symbol, orderID)
}

func (f *fakeExchange) GetTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	return &exchange.Ticker{Symbol: symbol, LastPrice: 50000}, nil
}

func (f *fakeExchange) GetBalances(ctx context.Context) ([]exchange.Balance, error) {
	return []exchange.Balance{{Asset: "USDT", Free: 10000}}, nil
}

func (f *fakeExchange) placeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.placeCalls)
}

// fakeOrderStore - хранилище ордеров в памяти
type fakeOrderStore struct {
	mu      sync.Mutex
	nextID  int
	updates int
	active  []*models.Order
	last    *models.Order
}

func (f *fakeOrderStore) Create(ctx context.Context, o *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	o.ID = f.nextID
	return nil
}

func (f *fakeOrderStore) Update(ctx context.Context, o *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	cp := *o
	f.last = &cp
	return nil
}

func (f *fakeOrderStore) GetActive(ctx context.Context) ([]*models.Order, error) {
	return f.active, nil
}

// fakeTradeStore - журнал сделок в памяти
type fakeTradeStore struct {
	mu      sync.Mutex
	records []*models.TradeRecord
}

func (f *fakeTradeStore) Create(ctx context.Context, t *models.TradeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, t)
	return nil
}

func (f *fakeTradeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// fakeAdopter фиксирует передачу ордера трекеру
type fakeAdopter struct {
	adopted []*models.Order
	handles []*exchange.OrderHandle
}

func (f *fakeAdopter) Adopt(ctx context.Context, o *models.Order, h *exchange.OrderHandle) {
	f.adopted = append(f.adopted, o)
	f.handles = append(f.handles, h)
}

func testPair() *models.PairConfig {
	return &models.PairConfig{
		Symbol:      "BTCUSDT",
		Base:        "BTC",
		Quote:       "USDT",
		QtyStep:     0.001,
		PriceStep:   0.01,
		MinQty:      0.001,
		MaxQty:      10,
		MinNotional: 10,
		Active:      true,
	}
}

func testRetryCfg() retry.Config {
	return retry.Config{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		JitterFactor: 0,
	}
}

func newTestExecutor(client exchange.Client, store OrderStore, adopter OrderAdopter, pair *models.PairConfig) *OrderExecutor {
	pairFn := func(symbol string) *models.PairConfig {
		if pair != nil && symbol == pair.Symbol {
			return pair
		}
		return nil
	}
	return NewOrderExecutor(
		client, store, ratelimit.NewRateLimiter(1000, 1000), adopter,
		pairFn, testRetryCfg(), time.Second, utils.NopLogger(),
	)
}

// ============================================================
// Валидация до сети
// ============================================================

// TestSubmit_ValidationBeforeNetwork проверяет что отказ валидации
// не доходит ни до хранилища, ни до биржи
func TestSubmit_ValidationBeforeNetwork(t *testing.T) {
	inactive := testPair()
	inactive.Active = false

	tests := []struct {
		name    string
		pair    *models.PairConfig
		req     SubmitRequest
		wantErr error
	}{
		{
			name:    "неизвестная пара",
			pair:    nil,
			req:     SubmitRequest{Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.OrderTypeMarket, Quantity: 0.01, RefPrice: 50000},
			wantErr: ErrPairInactive,
		},
		{
			name:    "пара на паузе",
			pair:    inactive,
			req:     SubmitRequest{Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.OrderTypeMarket, Quantity: 0.01, RefPrice: 50000},
			wantErr: ErrPairInactive,
		},
		{
			name:    "нулевой объём",
			pair:    testPair(),
			req:     SubmitRequest{Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.OrderTypeMarket, Quantity: 0, RefPrice: 50000},
			wantErr: ErrInvalidQuantity,
		},
		{
			name:    "объём округляется в ноль",
			pair:    testPair(),
			req:     SubmitRequest{Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.OrderTypeMarket, Quantity: 0.0004, RefPrice: 50000},
			wantErr: ErrInvalidQuantity,
		},
		{
			name:    "объём выше максимума",
			pair:    testPair(),
			req:     SubmitRequest{Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.OrderTypeMarket, Quantity: 50, RefPrice: 50000},
			wantErr: ErrQuantityBounds,
		},
		{
			name:    "notional ниже минимума",
			pair:    testPair(),
			req:     SubmitRequest{Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.OrderTypeMarket, Quantity: 0.001, RefPrice: 5000},
			wantErr: ErrBelowMinNotional,
		},
		{
			name:    "limit без цены",
			pair:    testPair(),
			req:     SubmitRequest{Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.OrderTypeLimit, Quantity: 0.01},
			wantErr: ErrInvalidPrice,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeExchange{}
			store := &fakeOrderStore{}
			adopter := &fakeAdopter{}
			ex := newTestExecutor(client, store, adopter, tt.pair)

			_, err := ex.Submit(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if client.placeCount() != 0 {
				t.Error("сетевой вызов при отказе валидации")
			}
			if len(adopter.adopted) != 0 {
				t.Error("передача трекеру при отказе валидации")
			}
		})
	}
}

func TestSubmit_RoundsQuantityAndPrice(t *testing.T) {
	client := &fakeExchange{}
	store := &fakeOrderStore{}
	adopter := &fakeAdopter{}
	ex := newTestExecutor(client, store, adopter, testPair())

	price := 50000.018
	order, err := ex.Submit(context.Background(), SubmitRequest{
		Symbol:   "BTCUSDT",
		Side:     models.SideBuy,
		Type:     models.OrderTypeLimit,
		Quantity: 0.0137,
		Price:    &price,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Объём округляется вниз до шага 0.001
	if !floatEq(order.Quantity, 0.013) {
		t.Errorf("Quantity = %v, want 0.013", order.Quantity)
	}
	// Цена округляется до ближайшего шага 0.01
	if order.Price == nil || !floatEq(*order.Price, 50000.02) {
		t.Errorf("Price = %v, want 50000.02", order.Price)
	}
}

// ============================================================
// Размещение и retry
// ============================================================

func TestSubmit_Success(t *testing.T) {
	client := &fakeExchange{
		placeFn: func(req exchange.OrderRequest) (*exchange.OrderHandle, error) {
			return &exchange.OrderHandle{
				OrderID:     "EX-77",
				ClientToken: req.ClientToken,
				Status:      exchange.StatusNew,
			}, nil
		},
	}
	store := &fakeOrderStore{}
	adopter := &fakeAdopter{}
	ex := newTestExecutor(client, store, adopter, testPair())

	order, err := ex.Submit(context.Background(), SubmitRequest{
		Symbol:   "BTCUSDT",
		Side:     models.SideBuy,
		Type:     models.OrderTypeMarket,
		Quantity: 0.01,
		RefPrice: 50000,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if order.ID == 0 {
		t.Error("ордер не сохранён до отправки")
	}
	if order.ExchangeOrderID != "EX-77" {
		t.Errorf("ExchangeOrderID = %s, want EX-77", order.ExchangeOrderID)
	}
	if order.ClientToken == "" {
		t.Error("ClientToken пустой")
	}
	if len(adopter.adopted) != 1 || adopter.adopted[0] != order {
		t.Fatal("ордер не передан трекеру")
	}
	if adopter.handles[0].OrderID != "EX-77" {
		t.Error("трекеру передан не тот handle")
	}
}

// TestSubmit_RetryKeepsClientToken проверяет что retry идёт с тем же
// идемпотентным токеном (биржа дедуплицирует повторы)
func TestSubmit_RetryKeepsClientToken(t *testing.T) {
	attempts := 0
	client := &fakeExchange{}
	client.placeFn = func(req exchange.OrderRequest) (*exchange.OrderHandle, error) {
		attempts++
		if attempts < 3 {
			return nil, exchange.NewNetworkError("fake", errors.New("connection reset"))
		}
		return &exchange.OrderHandle{OrderID: "EX-1", Status: exchange.StatusNew}, nil
	}
	store := &fakeOrderStore{}
	ex := newTestExecutor(client, store, &fakeAdopter{}, testPair())

	order, err := ex.Submit(context.Background(), SubmitRequest{
		Symbol:   "BTCUSDT",
		Side:     models.SideBuy,
		Type:     models.OrderTypeMarket,
		Quantity: 0.01,
		RefPrice: 50000,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if client.placeCount() != 3 {
		t.Fatalf("попыток %d, want 3", client.placeCount())
	}
	token := client.placeCalls[0].ClientToken
	if token == "" {
		t.Fatal("ClientToken пустой")
	}
	for i, call := range client.placeCalls {
		if call.ClientToken != token {
			t.Errorf("попытка %d отправлена с другим токеном", i+1)
		}
	}
	if order.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2 (два retry)", order.Attempts)
	}
}

// TestSubmit_FatalErrorNotRetried: отказ биржи (невалидные параметры)
// не повторяется, ордер помечается REJECTED и сохраняется
func TestSubmit_FatalErrorNotRetried(t *testing.T) {
	client := &fakeExchange{}
	client.placeFn = func(req exchange.OrderRequest) (*exchange.OrderHandle, error) {
		return nil, exchange.NewInvalidParamError("fake", "symbol suspended")
	}
	store := &fakeOrderStore{}
	adopter := &fakeAdopter{}
	ex := newTestExecutor(client, store, adopter, testPair())

	order, err := ex.Submit(context.Background(), SubmitRequest{
		Symbol:   "BTCUSDT",
		Side:     models.SideBuy,
		Type:     models.OrderTypeMarket,
		Quantity: 0.01,
		RefPrice: 50000,
	})
	if err == nil {
		t.Fatal("ожидалась ошибка размещения")
	}

	if client.placeCount() != 1 {
		t.Errorf("попыток %d, want 1 (fatal не повторяется)", client.placeCount())
	}
	if order == nil || order.Status != models.OrderStatusRejected {
		t.Fatalf("order = %+v, want статус REJECTED", order)
	}
	if order.ErrorMessage == "" {
		t.Error("ErrorMessage пустой")
	}
	if store.last == nil || store.last.Status != models.OrderStatusRejected {
		t.Error("REJECTED не закоммичен в хранилище")
	}
	if len(adopter.adopted) != 0 {
		t.Error("отклонённый ордер передан трекеру")
	}
}

// TestSubmit_RetriesExhausted: после исчерпания попыток ордер REJECTED
func TestSubmit_RetriesExhausted(t *testing.T) {
	client := &fakeExchange{}
	client.placeFn = func(req exchange.OrderRequest) (*exchange.OrderHandle, error) {
		return nil, exchange.NewNetworkError("fake", errors.New("timeout"))
	}
	store := &fakeOrderStore{}
	ex := newTestExecutor(client, store, &fakeAdopter{}, testPair())

	order, err := ex.Submit(context.Background(), SubmitRequest{
		Symbol:   "BTCUSDT",
		Side:     models.SideBuy,
		Type:     models.OrderTypeMarket,
		Quantity: 0.01,
		RefPrice: 50000,
	})
	if err == nil {
		t.Fatal("ожидалась ошибка после исчерпания retry")
	}
	if client.placeCount() != 3 {
		t.Errorf("попыток %d, want 3 (MaxRetries)", client.placeCount())
	}
	if order.Status != models.OrderStatusRejected {
		t.Errorf("Status = %s, want REJECTED", order.Status)
	}
}

// ============================================================
// Cancel
// ============================================================

// TestCancel_ReturnsActualState: биржа могла исполнить ордер до приёма
// отмены, Cancel возвращает фактический результат
func TestCancel_ReturnsActualState(t *testing.T) {
	client := &fakeExchange{
		cancelFn: func(symbol, orderID string) (*exchange.OrderHandle, error) {
			return &exchange.OrderHandle{
				OrderID:      orderID,
				Status:       exchange.StatusFilled, // исполнился раньше отмены
				ExecutedQty:  0.01,
				AvgFillPrice: 50000,
			}, nil
		},
	}
	ex := newTestExecutor(client, &fakeOrderStore{}, &fakeAdopter{}, testPair())

	order := &models.Order{ID: 1, Symbol: "BTCUSDT", ExchangeOrderID: "EX-1", Status: models.OrderStatusNew}
	h, err := ex.Cancel(context.Background(), order)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if h.Status != exchange.StatusFilled {
		t.Errorf("Status = %s, want FILLED (фактический результат)", h.Status)
	}
}
