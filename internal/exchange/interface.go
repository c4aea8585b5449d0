package exchange

import (
	"context"
	"time"
)

// Client определяет унифицированный интерфейс биржевого клиента
//
// Торговое ядро не знает wire-протокола конкретной биржи: адаптеры
// нормализуют ответы к типам этого пакета и классифицируют ошибки
// (retryable / fatal, см. Error). Все методы блокирующие и обязаны
// уважать переданный контекст - каждый сетевой вызов из ядра идёт
// с ограниченным таймаутом.
type Client interface {
	// Name возвращает имя биржи
	Name() string

	// PlaceOrder размещает ордер
	//
	// req.ClientToken передаётся бирже как идемпотентный идентификатор:
	// повторная отправка с тем же токеном не создаёт дубликат
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderHandle, error)

	// CancelOrder отменяет ордер
	CancelOrder(ctx context.Context, symbol, orderID string) (*OrderHandle, error)

	// GetOrderStatus возвращает текущее состояние ордера на бирже
	GetOrderStatus(ctx context.Context, symbol, orderID string) (*OrderHandle, error)

	// GetTicker возвращает текущую цену актива
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)

	// GetBalances возвращает свободные остатки по активам
	GetBalances(ctx context.Context) ([]Balance, error)
}

// OrderRequest - параметры размещаемого ордера
type OrderRequest struct {
	Symbol      string
	Side        string // buy, sell
	Type        string // market, limit
	Quantity    float64
	Price       *float64 // nil для market
	ClientToken string   // идемпотентный токен (дедупликация)
}

// OrderHandle - состояние ордера со стороны биржи
type OrderHandle struct {
	OrderID      string    `json:"order_id"`
	ClientToken  string    `json:"client_token"`
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"`
	Type         string    `json:"type"`
	Quantity     float64   `json:"quantity"`
	ExecutedQty  float64   `json:"executed_qty"`
	AvgFillPrice float64   `json:"avg_fill_price"`
	Status       string    `json:"status"` // NEW, PARTIALLY_FILLED, FILLED, CANCELED, REJECTED, EXPIRED
	UpdatedAt    time.Time `json:"updated_at"`
}

// Ticker содержит информацию о текущей цене
type Ticker struct {
	Symbol    string    `json:"symbol"`
	LastPrice float64   `json:"last_price"` // последняя сделка
	BestBid   float64   `json:"best_bid"`   // лучшая цена покупки
	BestAsk   float64   `json:"best_ask"`   // лучшая цена продажи
	Volume24h float64   `json:"volume_24h"`
	Timestamp time.Time `json:"timestamp"`
}

// Balance - свободный остаток по активу
type Balance struct {
	Asset string  `json:"asset"`
	Free  float64 `json:"free"`
}

// Статусы ордера на стороне биржи
// Совпадают со статусами models.Order: адаптеры нормализуют к этим значениям
const (
	StatusNew             = "NEW"
	StatusPartiallyFilled = "PARTIALLY_FILLED"
	StatusFilled          = "FILLED"
	StatusCancelled       = "CANCELED"
	StatusRejected        = "REJECTED"
	StatusExpired         = "EXPIRED"
)
