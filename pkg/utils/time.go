package utils

import (
	"fmt"
	"time"
)

// time.go - утилиты работы со временем
//
// Назначение:
// Границы торгового дня для dnевной статистики (daily PnL считается
// от начала дня UTC) и расчёт момента следующего daily reset.
//
// Все расчёты в UTC: торговые сутки не зависят от локальной таймзоны сервера.

// DayStart возвращает начало текущих суток UTC
func DayStart() time.Time {
	return DayStartFrom(time.Now().UTC())
}

// DayStartFrom возвращает начало суток UTC для указанного момента
func DayStartFrom(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DayEndFrom возвращает конец суток UTC (начало следующих суток)
func DayEndFrom(t time.Time) time.Time {
	return DayStartFrom(t).Add(24 * time.Hour)
}

// NextDailyReset возвращает ближайший момент daily reset
//
// resetHour - час UTC (0-23), в который сбрасываются дневные счётчики
// риск-контура. Если момент сегодня уже прошёл, возвращается завтрашний.
func NextDailyReset(now time.Time, resetHour int) time.Time {
	if resetHour < 0 || resetHour > 23 {
		resetHour = 0
	}
	now = now.UTC()
	reset := time.Date(now.Year(), now.Month(), now.Day(), resetHour, 0, 0, 0, time.UTC)
	if !reset.After(now) {
		reset = reset.Add(24 * time.Hour)
	}
	return reset
}

// TimeRange представляет временной диапазон [Start, End)
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains проверяет попадание момента в диапазон
func (tr TimeRange) Contains(t time.Time) bool {
	return !t.Before(tr.Start) && t.Before(tr.End)
}

// Duration возвращает длительность диапазона
func (tr TimeRange) Duration() time.Duration {
	return tr.End.Sub(tr.Start)
}

// DayRange возвращает диапазон текущих суток UTC
func DayRange() TimeRange {
	now := time.Now().UTC()
	return TimeRange{Start: DayStartFrom(now), End: DayEndFrom(now)}
}

// FormatDuration форматирует длительность в человекочитаемый вид
//
// Примеры: "45s", "12m30s", "1h05m"
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}

// UnixMillis возвращает текущее время в миллисекундах Unix
func UnixMillis() int64 {
	return time.Now().UnixMilli()
}
