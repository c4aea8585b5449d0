package bot

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"scalper/internal/models"
)

// RiskGovernor - централизованный контур управления риском процесса
//
// Функции:
//   - Гейт на открытие новых позиций (emergency stop, лимиты количества,
//     размера и суммарной экспозиции)
//   - Расчёт уровня системного риска как чистой функции дневного убытка
//   - Активация emergency stop при превышении дневного лимита убытка
//   - Форсированное закрытие позиции при превышении её лимита убытка
//   - Подсчёт серий убыточных сделок и концентрации по котируемой валюте
//   - Генерация уведомлений о критических событиях
//
// Ledger и баланс подключаются callback'ами: governor не владеет
// позициями, он только читает их агрегаты и командует закрытие.
type RiskGovernor struct {
	config RiskConfig

	// Emergency stop: атомарный флаг решает гонку одновременных тригеров,
	// остальное состояние под мьютексом
	emergencyActive atomic.Bool

	mu    sync.RWMutex
	state models.RiskState

	// Коллабораторы (подключаются при сборке)
	activeCount   func() int             // открытые позиции
	totalExposure func() float64         // суммарный notional, USDT
	countByQuote  func(quote string) int // позиции по котируемой валюте
	balance       func() float64         // баланс аккаунта, USDT
	closeAllFn    func(ctx context.Context, reason string) error
	notifyFn      func(n *models.Notification)

	// Часы подменяются в тестах
	now func() time.Time
}

// RiskConfig - конфигурация риск-контура
type RiskConfig struct {
	// Дневной лимит убытка в процентах от баланса
	MaxDailyLossPct float64

	// Порог активации emergency stop (% дневного убытка от баланса)
	EmergencyStopThresholdPct float64

	// Охлаждение после активации emergency stop
	Cooldown time.Duration

	// Автоматический выход из emergency stop после охлаждения
	AutoRestart bool

	// Лимиты позиций
	MaxOpenPositions   int
	MaxPositionSizePct float64 // максимальный notional одной позиции, % от баланса
	MaxExposurePct     float64 // максимальная суммарная экспозиция, % от баланса
	MaxPositionLossPct float64 // лимит убытка одной позиции, %

	// Risk-события (не блокирующие, только уведомления)
	MaxConsecutiveLosses int
	MaxPositionsPerQuote int
}

// DefaultRiskConfig возвращает конфигурацию по умолчанию
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxDailyLossPct:           1.0,
		EmergencyStopThresholdPct: 1.0,
		Cooldown:                  60 * time.Minute,
		AutoRestart:               false,
		MaxOpenPositions:          3,
		MaxPositionSizePct:        5.0,
		MaxExposurePct:            15.0,
		MaxPositionLossPct:        2.0,
		MaxConsecutiveLosses:      3,
		MaxPositionsPerQuote:      2,
	}
}

// NewRiskGovernor создает новый RiskGovernor
func NewRiskGovernor(config RiskConfig) *RiskGovernor {
	return &RiskGovernor{
		config: config,
		state: models.RiskState{
			Level:     models.RiskLevelLow,
			UpdatedAt: time.Now().UTC(),
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// SetLedgerHooks подключает чтение агрегатов позиций
func (rg *RiskGovernor) SetLedgerHooks(activeCount func() int, totalExposure func() float64, countByQuote func(string) int) {
	rg.mu.Lock()
	rg.activeCount = activeCount
	rg.totalExposure = totalExposure
	rg.countByQuote = countByQuote
	rg.mu.Unlock()
}

// SetBalanceFn подключает источник баланса аккаунта
func (rg *RiskGovernor) SetBalanceFn(fn func() float64) {
	rg.mu.Lock()
	rg.balance = fn
	rg.mu.Unlock()
}

// SetCloseAllFn подключает форсированное закрытие всех позиций
func (rg *RiskGovernor) SetCloseAllFn(fn func(ctx context.Context, reason string) error) {
	rg.mu.Lock()
	rg.closeAllFn = fn
	rg.mu.Unlock()
}

// SetNotifyFn подключает отправку уведомлений
func (rg *RiskGovernor) SetNotifyFn(fn func(n *models.Notification)) {
	rg.mu.Lock()
	rg.notifyFn = fn
	rg.mu.Unlock()
}

// ============================================================
// Гейт открытия позиций
// ============================================================

// OpenCheck - результат проверки возможности открытия позиции
type OpenCheck struct {
	Allowed bool
	Reason  string // причина отказа (пустая если Allowed)
}

// CanOpenPosition проверяет, допустимо ли открытие новой позиции
//
// Проверки идут в фиксированном порядке, возвращается первая причина отказа:
// 1. Emergency stop не активен
// 2. Количество открытых позиций меньше лимита
// 3. Notional позиции не превышает лимит размера (% от баланса)
// 4. Суммарная экспозиция с учётом новой позиции не превышает лимит
//
// Отказ - обычный исход работы, не ошибка: вызывающий логирует причину
// и пропускает сигнал.
func (rg *RiskGovernor) CanOpenPosition(symbol string, size, price float64) OpenCheck {
	if rg.emergencyActive.Load() {
		return OpenCheck{Reason: "emergency stop active"}
	}

	rg.mu.RLock()
	defer rg.mu.RUnlock()

	if rg.activeCount != nil && rg.activeCount() >= rg.config.MaxOpenPositions {
		return OpenCheck{Reason: fmt.Sprintf("max open positions reached (%d)", rg.config.MaxOpenPositions)}
	}

	notional := size * price

	if rg.balance != nil {
		bal := rg.balance()
		if bal > 0 {
			maxNotional := bal * rg.config.MaxPositionSizePct / 100
			if notional > maxNotional {
				return OpenCheck{Reason: fmt.Sprintf("position size %.2f exceeds limit %.2f USDT (%.1f%% of balance)",
					notional, maxNotional, rg.config.MaxPositionSizePct)}
			}

			if rg.totalExposure != nil {
				maxExposure := bal * rg.config.MaxExposurePct / 100
				if rg.totalExposure()+notional > maxExposure {
					return OpenCheck{Reason: fmt.Sprintf("total exposure would exceed limit %.2f USDT (%.1f%% of balance)",
						maxExposure, rg.config.MaxExposurePct)}
				}
			}
		}
	}

	return OpenCheck{Allowed: true}
}

// CheckConcentration проверяет концентрацию позиций по котируемой валюте
//
// Превышение не блокирует торговлю, но генерирует risk-уведомление:
// несколько позиций в одной котируемой валюте падают вместе.
func (rg *RiskGovernor) CheckConcentration(quote string) {
	rg.mu.RLock()
	countFn := rg.countByQuote
	limit := rg.config.MaxPositionsPerQuote
	rg.mu.RUnlock()

	if countFn == nil || limit <= 0 {
		return
	}

	count := countFn(quote)
	if count <= limit {
		return
	}

	rg.notify(models.NotificationTypeRisk, models.SeverityWarning, "",
		fmt.Sprintf("⚠️ Concentration risk: %d positions quoted in %s (limit %d)", count, quote, limit))
}

// ============================================================
// Уровень системного риска
// ============================================================

// ComputeRiskLevel возвращает уровень риска как чистую функцию
// отношения дневного убытка к дневному лимиту
//
// Прибыльный или нулевой день всегда LOW. Уровень пересчитывается
// заново каждый вызов и может опускаться внутри дня вместе с убытком.
func ComputeRiskLevel(dailyPnlPct, maxDailyLossPct float64) string {
	if dailyPnlPct >= 0 || maxDailyLossPct <= 0 {
		return models.RiskLevelLow
	}

	ratio := -dailyPnlPct / maxDailyLossPct
	switch {
	case ratio >= 1.0:
		return models.RiskLevelCritical
	case ratio >= 0.75:
		return models.RiskLevelVeryHigh
	case ratio >= 0.5:
		return models.RiskLevelHigh
	case ratio >= 0.25:
		return models.RiskLevelMedium
	default:
		return models.RiskLevelLow
	}
}

// UpdateDailyPnl обновляет дневной PNL и пересчитывает уровень риска
//
// baselineBalance - баланс на момент дневного сброса (знаменатель процентов).
// При достижении порога emergency stop активирует его.
func (rg *RiskGovernor) UpdateDailyPnl(ctx context.Context, dailyPnl, baselineBalance float64) string {
	pct := 0.0
	if baselineBalance > 0 {
		pct = dailyPnl / baselineBalance * 100
	}

	level := ComputeRiskLevel(pct, rg.config.MaxDailyLossPct)

	rg.mu.Lock()
	prevLevel := rg.state.Level
	rg.state.DailyPnl = dailyPnl
	rg.state.DailyPnlPct = pct
	rg.state.Level = level
	if rg.activeCount != nil {
		rg.state.ActivePositions = rg.activeCount()
	}
	if rg.totalExposure != nil {
		rg.state.TotalExposure = rg.totalExposure()
	}
	rg.state.UpdatedAt = rg.now()
	rg.mu.Unlock()

	// Уведомляем при нарастании риска до HIGH и выше
	if models.RiskLevelRank(level) > models.RiskLevelRank(prevLevel) &&
		models.RiskLevelRank(level) >= models.RiskLevelRank(models.RiskLevelHigh) {
		rg.notify(models.NotificationTypeRisk, models.SeverityWarning, "",
			fmt.Sprintf("⚠️ Risk level %s: daily PNL %.2f USDT (%.2f%% of balance)", level, dailyPnl, pct))
	}

	// Порог emergency stop: дневной убыток достиг лимита
	if pct <= -rg.config.EmergencyStopThresholdPct {
		rg.TriggerEmergencyStop(ctx, fmt.Sprintf("daily loss %.2f%% reached threshold %.2f%%",
			-pct, rg.config.EmergencyStopThresholdPct))
	}

	return level
}

// ============================================================
// Emergency stop
// ============================================================

// TriggerEmergencyStop активирует emergency stop
//
// Идемпотентен: повторный вызов при активном стопе ничего не делает.
// Гонка одновременных тригеров решается атомарным compare-and-swap,
// эффект применяется ровно один раз.
//
// Последовательность: флаг -> запрет новых открытий -> форсированное
// закрытие всех открытых позиций -> критическое уведомление.
func (rg *RiskGovernor) TriggerEmergencyStop(ctx context.Context, reason string) bool {
	if !rg.emergencyActive.CompareAndSwap(false, true) {
		return false // уже активен
	}

	EmergencyStops.Inc()

	now := rg.now()
	until := now.Add(rg.config.Cooldown)

	rg.mu.Lock()
	rg.state.EmergencyStopActive = true
	rg.state.EmergencyStopSince = &now
	rg.state.CooldownUntil = &until
	rg.state.Level = models.RiskLevelCritical
	rg.state.UpdatedAt = now
	closeAll := rg.closeAllFn
	rg.mu.Unlock()

	if closeAll != nil {
		if err := closeAll(ctx, models.CloseReasonForced); err != nil {
			rg.notify(models.NotificationTypeError, models.SeverityCritical, "",
				fmt.Sprintf("❌ Emergency stop: failed to close positions: %v", err))
		}
	}

	rg.notify(models.NotificationTypeEmergencyStop, models.SeverityCritical, "",
		fmt.Sprintf("🛑 EMERGENCY STOP activated: %s. Trading halted until %s",
			reason, until.Format(time.RFC3339)))

	return true
}

// DeactivateEmergencyStop снимает emergency stop
//
// force = true (ручная команда оператора) снимает стоп в любой момент.
// force = false требует истёкшего охлаждения.
func (rg *RiskGovernor) DeactivateEmergencyStop(force bool) error {
	if !rg.emergencyActive.Load() {
		return fmt.Errorf("emergency stop is not active")
	}

	rg.mu.Lock()
	if !force {
		if rg.state.CooldownUntil != nil && rg.now().Before(*rg.state.CooldownUntil) {
			until := *rg.state.CooldownUntil
			rg.mu.Unlock()
			return fmt.Errorf("cooldown active until %s", until.Format(time.RFC3339))
		}
	}
	rg.state.EmergencyStopActive = false
	rg.state.EmergencyStopSince = nil
	rg.state.CooldownUntil = nil
	rg.state.UpdatedAt = rg.now()
	rg.mu.Unlock()

	rg.emergencyActive.Store(false)

	rg.notify(models.NotificationTypeEmergencyStop, models.SeverityInfo, "",
		"✅ Emergency stop deactivated, trading resumed")

	return nil
}

// MaybeAutoRestart снимает emergency stop после охлаждения, если включён
// AutoRestart. Вызывается планировщиком каждый цикл мониторинга.
func (rg *RiskGovernor) MaybeAutoRestart() {
	if !rg.config.AutoRestart || !rg.emergencyActive.Load() {
		return
	}

	rg.mu.RLock()
	expired := rg.state.CooldownUntil != nil && !rg.now().Before(*rg.state.CooldownUntil)
	rg.mu.RUnlock()

	if expired {
		_ = rg.DeactivateEmergencyStop(false)
	}
}

// EmergencyStopActive возвращает true пока стоп активен
func (rg *RiskGovernor) EmergencyStopActive() bool {
	return rg.emergencyActive.Load()
}

// ============================================================
// Пер-позиционные лимиты и серии убытков
// ============================================================

// ShouldForceClose возвращает true если позиция подлежит форсированному закрытию
//
// Три независимых условия:
//  1. Активный emergency stop - позиция не должна пережить стоп. Разовый
//     CloseAll при активации может не пройти (ошибка биржи), проверка на
//     каждом тике повторяет попытку пока стоп активен.
//  2. Системный уровень риска VERY_HIGH и позиция в минусе - убыточные
//     позиции сбрасываются до того, как день доберётся до CRITICAL.
//  3. Убыток позиции превысил жёсткий лимит. Проверяется независимо от
//     stop loss: SL может быть сдвинут трейлингом или не выставлен,
//     лимит убытка позиции работает всегда.
func (rg *RiskGovernor) ShouldForceClose(p *models.Position) bool {
	if rg.emergencyActive.Load() {
		return true
	}

	rg.mu.RLock()
	level := rg.state.Level
	rg.mu.RUnlock()

	if models.RiskLevelRank(level) >= models.RiskLevelRank(models.RiskLevelVeryHigh) && p.UnrealizedPnl < 0 {
		return true
	}

	if rg.config.MaxPositionLossPct <= 0 {
		return false
	}
	return p.LossPct() >= rg.config.MaxPositionLossPct
}

// RecordTradeResult учитывает результат закрытой сделки
//
// Серия из MaxConsecutiveLosses подряд убыточных сделок генерирует
// risk-уведомление. Прибыльная сделка сбрасывает счётчик.
func (rg *RiskGovernor) RecordTradeResult(realizedPnl float64) {
	rg.mu.Lock()
	if realizedPnl < 0 {
		rg.state.ConsecutiveLosses++
	} else {
		rg.state.ConsecutiveLosses = 0
	}
	losses := rg.state.ConsecutiveLosses
	rg.state.UpdatedAt = rg.now()
	rg.mu.Unlock()

	if rg.config.MaxConsecutiveLosses > 0 && losses == rg.config.MaxConsecutiveLosses {
		rg.notify(models.NotificationTypeRisk, models.SeverityWarning, "",
			fmt.Sprintf("⚠️ %d consecutive losing trades", losses))
	}
}

// ResetDaily сбрасывает дневные счётчики (вызывается планировщиком
// в час дневного сброса)
//
// Emergency stop НЕ сбрасывается: активный стоп переживает смену дня.
func (rg *RiskGovernor) ResetDaily() {
	rg.mu.Lock()
	rg.state.DailyPnl = 0
	rg.state.DailyPnlPct = 0
	rg.state.ConsecutiveLosses = 0
	if !rg.state.EmergencyStopActive {
		rg.state.Level = models.RiskLevelLow
	}
	rg.state.UpdatedAt = rg.now()
	rg.mu.Unlock()
}

// Snapshot возвращает копию текущего состояния риск-контура
func (rg *RiskGovernor) Snapshot() models.RiskState {
	rg.mu.RLock()
	defer rg.mu.RUnlock()
	s := rg.state
	if s.EmergencyStopSince != nil {
		t := *s.EmergencyStopSince
		s.EmergencyStopSince = &t
	}
	if s.CooldownUntil != nil {
		t := *s.CooldownUntil
		s.CooldownUntil = &t
	}
	return s
}

// notify отправляет уведомление если канал подключен
func (rg *RiskGovernor) notify(ntype, severity, symbol, message string) {
	rg.mu.RLock()
	fn := rg.notifyFn
	rg.mu.RUnlock()
	if fn == nil {
		return
	}
	fn(models.NewNotification(ntype, severity, symbol, message))
}
