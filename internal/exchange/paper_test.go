package exchange

import (
	"context"
	"errors"
	"testing"
)

func marketBuy(token string, qty float64) OrderRequest {
	return OrderRequest{
		Symbol:      "BTCUSDT",
		Side:        "buy",
		Type:        "market",
		Quantity:    qty,
		ClientToken: token,
	}
}

func TestPaperPlaceOrderStartsNew(t *testing.T) {
	p := NewPaperClient()
	p.SetPrice("BTCUSDT", 50000)

	h, err := p.PlaceOrder(context.Background(), marketBuy("tok-1", 0.01))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	// Размещение не исполняет: fill'ы приходят только через опрос статуса
	if h.Status != StatusNew {
		t.Errorf("Status = %s, want NEW", h.Status)
	}
	if h.ExecutedQty != 0 {
		t.Errorf("ExecutedQty = %v, want 0", h.ExecutedQty)
	}
	if h.OrderID == "" {
		t.Error("OrderID пустой")
	}
}

func TestPaperIdempotentToken(t *testing.T) {
	p := NewPaperClient()
	p.SetPrice("BTCUSDT", 50000)
	ctx := context.Background()

	h1, err := p.PlaceOrder(ctx, marketBuy("tok-1", 0.01))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	// Повтор с тем же токеном возвращает тот же ордер, не дубликат
	h2, err := p.PlaceOrder(ctx, marketBuy("tok-1", 0.01))
	if err != nil {
		t.Fatalf("повторный PlaceOrder: %v", err)
	}
	if h2.OrderID != h1.OrderID {
		t.Errorf("OrderID = %s, want %s", h2.OrderID, h1.OrderID)
	}

	// Другой токен создаёт новый ордер
	h3, err := p.PlaceOrder(ctx, marketBuy("tok-2", 0.01))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if h3.OrderID == h1.OrderID {
		t.Error("новый токен не должен переиспользовать ордер")
	}
}

func TestPaperFillPerPoll(t *testing.T) {
	p := NewPaperClient()
	p.SetPrice("BTCUSDT", 50000)
	p.FillPerPoll = 0.5
	ctx := context.Background()

	h, _ := p.PlaceOrder(ctx, marketBuy("tok-1", 0.01))

	// Первый опрос: половина объёма
	h1, err := p.GetOrderStatus(ctx, "BTCUSDT", h.OrderID)
	if err != nil {
		t.Fatalf("GetOrderStatus: %v", err)
	}
	if h1.Status != StatusPartiallyFilled {
		t.Errorf("Status = %s, want PARTIALLY_FILLED", h1.Status)
	}
	if h1.ExecutedQty != 0.005 {
		t.Errorf("ExecutedQty = %v, want 0.005", h1.ExecutedQty)
	}
	if h1.AvgFillPrice != 50000 {
		t.Errorf("AvgFillPrice = %v, want 50000", h1.AvgFillPrice)
	}

	// Второй опрос: остаток, ордер исполнен
	h2, _ := p.GetOrderStatus(ctx, "BTCUSDT", h.OrderID)
	if h2.Status != StatusFilled {
		t.Errorf("Status = %s, want FILLED", h2.Status)
	}
	if h2.ExecutedQty != 0.01 {
		t.Errorf("ExecutedQty = %v, want 0.01", h2.ExecutedQty)
	}

	// Терминальный ордер не продвигается дальше
	h3, _ := p.GetOrderStatus(ctx, "BTCUSDT", h.OrderID)
	if h3.ExecutedQty != 0.01 || h3.Status != StatusFilled {
		t.Errorf("терминальный ордер изменился: %+v", h3)
	}
}

func TestPaperLimitOrderWaitsForCross(t *testing.T) {
	p := NewPaperClient()
	p.SetPrice("BTCUSDT", 50000)
	ctx := context.Background()

	limit := 49500.0
	h, err := p.PlaceOrder(ctx, OrderRequest{
		Symbol:      "BTCUSDT",
		Side:        "buy",
		Type:        "limit",
		Quantity:    0.01,
		Price:       &limit,
		ClientToken: "tok-1",
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	// Цена выше лимита buy: ордер висит
	h1, _ := p.GetOrderStatus(ctx, "BTCUSDT", h.OrderID)
	if h1.Status != StatusNew {
		t.Errorf("Status = %s, want NEW до пересечения", h1.Status)
	}

	// Цена пересекла лимит: исполнение по лимитной цене
	p.SetPrice("BTCUSDT", 49400)
	h2, _ := p.GetOrderStatus(ctx, "BTCUSDT", h.OrderID)
	if h2.Status != StatusFilled {
		t.Errorf("Status = %s, want FILLED", h2.Status)
	}
	if h2.AvgFillPrice != limit {
		t.Errorf("AvgFillPrice = %v, want %v (лимитная цена)", h2.AvgFillPrice, limit)
	}
}

func TestPaperCancelPreservesExecuted(t *testing.T) {
	p := NewPaperClient()
	p.SetPrice("BTCUSDT", 50000)
	p.FillPerPoll = 0.4
	ctx := context.Background()

	h, _ := p.PlaceOrder(ctx, marketBuy("tok-1", 0.01))
	if _, err := p.GetOrderStatus(ctx, "BTCUSDT", h.OrderID); err != nil {
		t.Fatalf("GetOrderStatus: %v", err)
	}

	cancelled, err := p.CancelOrder(ctx, "BTCUSDT", h.OrderID)
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("Status = %s, want CANCELED", cancelled.Status)
	}
	// Частично исполненный объём не теряется при отмене
	if cancelled.ExecutedQty != 0.004 {
		t.Errorf("ExecutedQty = %v, want 0.004", cancelled.ExecutedQty)
	}
}

func TestPaperCancelUnknownOrder(t *testing.T) {
	p := NewPaperClient()
	if _, err := p.CancelOrder(context.Background(), "BTCUSDT", "nope"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("err = %v, want ErrOrderNotFound", err)
	}
	if _, err := p.GetOrderStatus(context.Background(), "BTCUSDT", "nope"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("err = %v, want ErrOrderNotFound", err)
	}
}

func TestPaperRejectNext(t *testing.T) {
	p := NewPaperClient()
	p.SetPrice("BTCUSDT", 50000)
	p.RejectNext = true
	ctx := context.Background()

	h, err := p.PlaceOrder(ctx, marketBuy("tok-1", 0.01))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if h.Status != StatusRejected {
		t.Errorf("Status = %s, want REJECTED", h.Status)
	}

	// Инъекция одноразовая
	h2, _ := p.PlaceOrder(ctx, marketBuy("tok-2", 0.01))
	if h2.Status != StatusNew {
		t.Errorf("Status = %s, want NEW", h2.Status)
	}
}

func TestPaperFailNext(t *testing.T) {
	p := NewPaperClient()
	p.SetPrice("BTCUSDT", 50000)
	ctx := context.Background()

	netErr := NewNetworkError("paper", errors.New("connection reset"))
	p.FailNext(netErr)

	if _, err := p.PlaceOrder(ctx, marketBuy("tok-1", 0.01)); err == nil {
		t.Fatal("ожидалась инъецированная ошибка")
	} else if !IsRetryable(err) {
		t.Errorf("сетевая ошибка должна быть retryable: %v", err)
	}

	// Следующий вызов проходит
	if _, err := p.PlaceOrder(ctx, marketBuy("tok-1", 0.01)); err != nil {
		t.Fatalf("ошибка должна быть одноразовой: %v", err)
	}
}

func TestPaperPlaceOrderValidation(t *testing.T) {
	p := NewPaperClient()
	p.SetPrice("BTCUSDT", 50000)
	ctx := context.Background()

	if _, err := p.PlaceOrder(ctx, marketBuy("tok-1", 0)); err == nil {
		t.Error("нулевой объём должен отклоняться")
	}
	if _, err := p.PlaceOrder(ctx, OrderRequest{Symbol: "XXXUSDT", Side: "buy", Type: "market", Quantity: 1}); err == nil {
		t.Error("неизвестный символ должен отклоняться")
	}
}

func TestPaperTickerAndBalances(t *testing.T) {
	p := NewPaperClient()
	p.SetPrice("BTCUSDT", 50000)
	p.SetBalance("USDT", 2500)
	ctx := context.Background()

	ticker, err := p.GetTicker(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("GetTicker: %v", err)
	}
	if ticker.LastPrice != 50000 {
		t.Errorf("LastPrice = %v", ticker.LastPrice)
	}
	if ticker.BestBid >= ticker.LastPrice || ticker.BestAsk <= ticker.LastPrice {
		t.Errorf("спред некорректен: bid %v ask %v", ticker.BestBid, ticker.BestAsk)
	}

	balances, err := p.GetBalances(ctx)
	if err != nil {
		t.Fatalf("GetBalances: %v", err)
	}
	found := false
	for _, b := range balances {
		if b.Asset == "USDT" && b.Free == 2500 {
			found = true
		}
	}
	if !found {
		t.Errorf("USDT баланс не найден: %+v", balances)
	}
}
