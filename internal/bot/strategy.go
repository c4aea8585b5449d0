package bot

import (
	"sync"

	"scalper/internal/exchange"
)

// Направление сигнала
const (
	SignalBuy  = "BUY"
	SignalSell = "SELL"
	SignalNone = "NONE"
)

// Signal - торговый сигнал стратегии
type Signal struct {
	Symbol    string
	Direction string  // BUY, SELL, NONE
	Quantity  float64 // в базовой валюте
	Reason    string  // для лога
}

// Strategy генерирует сигналы входа по тикам цены
//
// Стратегия отвечает только за ЧТО покупать; когда и можно ли -
// решают риск-контур и исполнитель.
type Strategy interface {
	Evaluate(ticker *exchange.Ticker) Signal
}

// MeanReversionStrategy - простая скальпинговая стратегия возврата к среднему
//
// Держит EMA последних цен и входит против отклонения: цена упала
// ниже EMA на DeviationPct - покупаем, поднялась выше - продаём.
// Служит рабочей стратегией dry-run режима и опорной реализацией
// интерфейса.
type MeanReversionStrategy struct {
	DeviationPct float64 // порог отклонения от EMA, %
	Alpha        float64 // сглаживание EMA (0..1)
	Quantity     float64 // размер входа в базовой валюте

	mu  sync.Mutex
	ema map[string]float64
}

// NewMeanReversionStrategy создает стратегию с порогом отклонения
func NewMeanReversionStrategy(deviationPct, quantity float64) *MeanReversionStrategy {
	return &MeanReversionStrategy{
		DeviationPct: deviationPct,
		Alpha:        0.1,
		Quantity:     quantity,
		ema:          make(map[string]float64),
	}
}

// Evaluate обновляет EMA и возвращает сигнал
func (s *MeanReversionStrategy) Evaluate(ticker *exchange.Ticker) Signal {
	s.mu.Lock()
	defer s.mu.Unlock()

	price := ticker.LastPrice
	prev, ok := s.ema[ticker.Symbol]
	if !ok || prev <= 0 {
		s.ema[ticker.Symbol] = price
		return Signal{Symbol: ticker.Symbol, Direction: SignalNone}
	}

	ema := prev + s.Alpha*(price-prev)
	s.ema[ticker.Symbol] = ema

	devPct := (price - ema) / ema * 100

	switch {
	case devPct <= -s.DeviationPct:
		return Signal{Symbol: ticker.Symbol, Direction: SignalBuy, Quantity: s.Quantity,
			Reason: "price below EMA"}
	case devPct >= s.DeviationPct:
		return Signal{Symbol: ticker.Symbol, Direction: SignalSell, Quantity: s.Quantity,
			Reason: "price above EMA"}
	default:
		return Signal{Symbol: ticker.Symbol, Direction: SignalNone}
	}
}
