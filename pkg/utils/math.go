package utils

import (
	"math"
)

// math.go - математические утилиты для торговли
//
// Назначение:
// Вспомогательные математические функции для торговых операций.
// Все функции являются чистыми (pure functions) без побочных эффектов.
//
// Функции:
// - RoundToStep / RoundToStepUp / RoundToStepNearest: округление до шага биржи
// - WeightedAverage: средневзвешенная цена входа (VWAP)
// - Pnl: реализованный/нереализованный PnL с учётом направления
// - PercentOf / PctChange: процентные расчёты

// RoundToStep округляет значение ВНИЗ до ближайшего кратного step.
//
// Используется для округления объёма ордера до lot size и цены до tick size.
// Округление вниз гарантирует, что мы не превысим доступные средства.
//
// Примеры:
//   - RoundToStep(0.123456, 0.001) = 0.123
//   - RoundToStep(1.999, 0.01) = 1.99
//   - RoundToStep(100.5, 1.0) = 100.0
func RoundToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	// Floor безопаснее для торговли - не превысим доступные средства
	return math.Floor(value/step+1e-9) * step
}

// RoundToStepUp округляет значение ВВЕРХ до ближайшего кратного step.
//
// Используется когда нужно гарантировать минимальный объём (например, minQty).
func RoundToStepUp(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	return math.Ceil(value/step-1e-9) * step
}

// RoundToStepNearest округляет к ближайшему кратному step.
func RoundToStepNearest(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	return math.Round(value/step) * step
}

// WeightedAverage возвращает средневзвешенную цену после увеличения позиции.
//
// Формула:
//
//	(oldSize*oldPrice + addSize*addPrice) / (oldSize + addSize)
//
// Применяется ТОЛЬКО при увеличении позиции той же стороной;
// уменьшающий fill цену входа не меняет.
func WeightedAverage(oldSize, oldPrice, addSize, addPrice float64) float64 {
	total := oldSize + addSize
	if total <= 0 {
		return 0
	}
	return (oldSize*oldPrice + addSize*addPrice) / total
}

// Pnl возвращает PnL для указанного объёма.
//
// sideSign: +1 для buy (long), -1 для sell (short).
//
// Примеры:
//   - Pnl(+1, 0.01, 50000, 50400) = 4.0  (лонг в плюсе при росте)
//   - Pnl(-1, 0.01, 50000, 50400) = -4.0 (шорт в минусе при росте)
func Pnl(sideSign, size, entryPrice, exitPrice float64) float64 {
	return sideSign * size * (exitPrice - entryPrice)
}

// PercentOf возвращает value как процент от base.
//
// Если base <= 0, возвращает 0 (деление на ноль недопустимо в риск-расчётах).
func PercentOf(value, base float64) float64 {
	if base <= 0 {
		return 0
	}
	return value / base * 100
}

// PctChange возвращает процентное изменение цены от from к to.
func PctChange(from, to float64) float64 {
	if from <= 0 {
		return 0
	}
	return (to - from) / from * 100
}

// ApplyPct возвращает цену, смещённую на pct процентов.
//
// Примеры:
//   - ApplyPct(50000, 0.8)  = 50400 (take profit для лонга)
//   - ApplyPct(50000, -0.4) = 49800 (stop loss для лонга)
func ApplyPct(price, pct float64) float64 {
	return price * (1 + pct/100)
}
