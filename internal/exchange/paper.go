package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// PaperClient - детерминированная in-memory реализация Client
//
// Используется в dry-run режиме и интеграционных тестах: позволяет прогнать
// полный жизненный цикл ордера (размещение → частичные fill'ы → терминальный
// статус) без сети и без реальной биржи.
//
// Модель исполнения:
//   - market ордер исполняется порциями: на каждый GetOrderStatus добавляется
//     FillPerPoll доля объёма (1.0 = мгновенное полное исполнение)
//   - limit ордер остаётся NEW пока цена не пересечёт лимит, затем исполняется
//     как market
//   - инъекция отказов: FailNext (ошибка на следующий вызов),
//     RejectNext (следующий ордер отклоняется биржей)
type PaperClient struct {
	mu sync.Mutex

	name     string
	prices   map[string]float64
	balances map[string]float64
	orders   map[string]*paperOrder
	byToken  map[string]string // идемпотентность: ClientToken → OrderID
	seq      int

	// FillPerPoll - доля объёма, исполняемая на каждый опрос статуса (0..1]
	FillPerPoll float64

	// RejectNext - следующий PlaceOrder вернёт REJECTED
	RejectNext bool

	failNext error // ошибка на следующий вызов API (одноразовая)
}

type paperOrder struct {
	handle OrderHandle
	price  *float64
}

// NewPaperClient создаёт симулятор биржи
func NewPaperClient() *PaperClient {
	return &PaperClient{
		name:        "paper",
		prices:      make(map[string]float64),
		balances:    map[string]float64{"USDT": 10000},
		orders:      make(map[string]*paperOrder),
		byToken:     make(map[string]string),
		FillPerPoll: 1.0,
	}
}

// Name возвращает имя биржи
func (p *PaperClient) Name() string { return p.name }

// SetPrice устанавливает текущую цену символа
func (p *PaperClient) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	p.prices[symbol] = price
	p.mu.Unlock()
}

// SetBalance устанавливает свободный остаток актива
func (p *PaperClient) SetBalance(asset string, free float64) {
	p.mu.Lock()
	p.balances[asset] = free
	p.mu.Unlock()
}

// FailNext инъецирует ошибку в следующий вызов API (одноразово)
func (p *PaperClient) FailNext(err error) {
	p.mu.Lock()
	p.failNext = err
	p.mu.Unlock()
}

// takeFailure возвращает и сбрасывает инъецированную ошибку
// ВАЖНО: вызывается под lock'ом
func (p *PaperClient) takeFailure() error {
	err := p.failNext
	p.failNext = nil
	return err
}

// PlaceOrder размещает ордер в симуляторе
func (p *PaperClient) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.takeFailure(); err != nil {
		return nil, err
	}

	// Идемпотентность: повторная отправка с тем же токеном возвращает
	// уже созданный ордер, не создавая дубликат
	if req.ClientToken != "" {
		if id, ok := p.byToken[req.ClientToken]; ok {
			h := p.orders[id].handle
			return &h, nil
		}
	}

	if _, ok := p.prices[req.Symbol]; !ok {
		return nil, NewInvalidParamError(p.name, fmt.Sprintf("unknown symbol %s", req.Symbol))
	}
	if req.Quantity <= 0 {
		return nil, NewInvalidParamError(p.name, "quantity must be positive")
	}

	p.seq++
	id := fmt.Sprintf("paper-%d", p.seq)

	status := StatusNew
	if p.RejectNext {
		p.RejectNext = false
		status = StatusRejected
	}

	po := &paperOrder{
		handle: OrderHandle{
			OrderID:     id,
			ClientToken: req.ClientToken,
			Symbol:      req.Symbol,
			Side:        req.Side,
			Type:        req.Type,
			Quantity:    req.Quantity,
			Status:      status,
			UpdatedAt:   time.Now().UTC(),
		},
		price: req.Price,
	}

	p.orders[id] = po
	if req.ClientToken != "" {
		p.byToken[req.ClientToken] = id
	}

	h := po.handle
	return &h, nil
}

// CancelOrder отменяет ордер
//
// Неисполненный остаток отменяется; уже исполненная часть сохраняется
// (статус CANCELED с ненулевым ExecutedQty - частичный fill не теряется)
func (p *PaperClient) CancelOrder(ctx context.Context, symbol, orderID string) (*OrderHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.takeFailure(); err != nil {
		return nil, err
	}

	po, ok := p.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}

	if !isTerminalStatus(po.handle.Status) {
		po.handle.Status = StatusCancelled
		po.handle.UpdatedAt = time.Now().UTC()
	}

	h := po.handle
	return &h, nil
}

// GetOrderStatus возвращает состояние ордера, продвигая симуляцию исполнения
func (p *PaperClient) GetOrderStatus(ctx context.Context, symbol, orderID string) (*OrderHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.takeFailure(); err != nil {
		return nil, err
	}

	po, ok := p.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}

	p.advance(po)

	h := po.handle
	return &h, nil
}

// advance продвигает исполнение ордера на один шаг симуляции
// ВАЖНО: вызывается под lock'ом
func (p *PaperClient) advance(po *paperOrder) {
	h := &po.handle
	if isTerminalStatus(h.Status) {
		return
	}

	price := p.prices[h.Symbol]

	// Limit ордер ждёт пересечения цены
	if po.price != nil {
		limit := *po.price
		crossed := (h.Side == "buy" && price <= limit) || (h.Side == "sell" && price >= limit)
		if !crossed {
			return
		}
		price = limit
	}

	step := p.FillPerPoll
	if step <= 0 {
		return // исполнение заморожено (для тестов stalled ордеров)
	}

	fill := h.Quantity * step
	if h.ExecutedQty+fill > h.Quantity {
		fill = h.Quantity - h.ExecutedQty
	}
	if fill <= 0 {
		return
	}

	// VWAP по fill'ам симуляции
	total := h.ExecutedQty + fill
	h.AvgFillPrice = (h.AvgFillPrice*h.ExecutedQty + price*fill) / total
	h.ExecutedQty = total
	h.UpdatedAt = time.Now().UTC()

	if h.ExecutedQty >= h.Quantity {
		h.Status = StatusFilled
	} else {
		h.Status = StatusPartiallyFilled
	}
}

// GetTicker возвращает текущую цену символа
func (p *PaperClient) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.takeFailure(); err != nil {
		return nil, err
	}

	price, ok := p.prices[symbol]
	if !ok {
		return nil, NewInvalidParamError(p.name, fmt.Sprintf("unknown symbol %s", symbol))
	}

	// Симметричный спред 1 б.п. вокруг последней цены
	return &Ticker{
		Symbol:    symbol,
		LastPrice: price,
		BestBid:   price * 0.9999,
		BestAsk:   price * 1.0001,
		Timestamp: time.Now().UTC(),
	}, nil
}

// GetBalances возвращает свободные остатки
func (p *PaperClient) GetBalances(ctx context.Context) ([]Balance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.takeFailure(); err != nil {
		return nil, err
	}

	out := make([]Balance, 0, len(p.balances))
	for asset, free := range p.balances {
		out = append(out, Balance{Asset: asset, Free: free})
	}
	return out, nil
}

// isTerminalStatus проверяет терминальность статуса на стороне биржи
func isTerminalStatus(s string) bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	}
	return false
}
