package bot

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"scalper/internal/exchange"
	"scalper/internal/models"
	"scalper/pkg/utils"
)

// RecoveryManager отвечает за восстановление состояния после перезапуска
//
// Функциональность:
//   - Загрузка открытых позиций из БД в ledger
//   - Сверка нетерминальных ордеров (включая брошенные трекером при
//     потере связи) с фактическим состоянием на бирже
//   - Возврат живых ордеров под наблюдение трекера
//   - Доведение разрешившихся за время простоя ордеров до терминала
//   - Уведомление о позициях, требующих ручного вмешательства
type RecoveryManager struct {
	client   exchange.Client
	orders   OrderStore
	ledger   *PositionLedger
	tracker  *OrderTracker
	notifyFn func(n *models.Notification)

	timeout time.Duration
	log     *utils.Logger
}

// NewRecoveryManager создает менеджер восстановления
func NewRecoveryManager(
	client exchange.Client,
	orders OrderStore,
	ledger *PositionLedger,
	tracker *OrderTracker,
	log *utils.Logger,
) *RecoveryManager {
	return &RecoveryManager{
		client:  client,
		orders:  orders,
		ledger:  ledger,
		tracker: tracker,
		timeout: 30 * time.Second,
		log:     log.WithComponent("recovery"),
	}
}

// SetNotifyFn подключает отправку уведомлений
func (rm *RecoveryManager) SetNotifyFn(fn func(n *models.Notification)) {
	rm.notifyFn = fn
}

// Recover выполняет восстановление при старте процесса
func (rm *RecoveryManager) Recover(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, rm.timeout)
	defer cancel()

	restored, err := rm.ledger.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore positions: %w", err)
	}
	if restored > 0 {
		rm.log.Info("restored open positions", zap.Int("count", restored))
		rm.notify(models.NotificationTypeRisk, models.SeverityWarning,
			fmt.Sprintf("♻️ Restart: %d open position(s) restored, monitoring resumed", restored))
	}

	return rm.reconcileOrders(ctx)
}

// reconcileOrders сверяет нетерминальные ордера с биржей
func (rm *RecoveryManager) reconcileOrders(ctx context.Context) error {
	active, err := rm.orders.GetActive(ctx)
	if err != nil {
		return fmt.Errorf("load active orders: %w", err)
	}

	for _, o := range active {
		if o.ExchangeOrderID == "" {
			// Ордер создан локально, но размещение не подтверждено.
			// ClientToken позволил бы бирже дедуплицировать повтор, но
			// безопаснее разрешить вручную: помечаем и уведомляем.
			o.Status = models.OrderStatusRejected
			o.ErrorMessage = "placement unconfirmed at restart"
			o.UpdatedAt = time.Now().UTC()
			if err := rm.orders.Update(ctx, o); err != nil {
				rm.log.Error("failed to persist unconfirmed order", zap.Int("order_id", o.ID), zap.Error(err))
			}
			continue
		}

		h, err := rm.client.GetOrderStatus(ctx, o.Symbol, o.ExchangeOrderID)
		if err != nil {
			rm.log.Warn("could not reconcile order at startup",
				zap.Int("order_id", o.ID),
				zap.String("exchange_order_id", o.ExchangeOrderID),
				zap.Error(err))
			rm.notify(models.NotificationTypeTrackingLost, models.SeverityCritical,
				fmt.Sprintf("🚨 Restart: order %s (%s %s) state unknown, manual reconciliation required",
					o.ExchangeOrderID, o.Side, o.Symbol))
			continue
		}

		// Сбрасываем пометку брошенного трекинга: связь с биржей есть
		o.ErrorMessage = ""

		// Живой ордер возвращаем под наблюдение; разрешившийся
		// доводим через ту же точку применения состояния
		rm.tracker.Readopt(o)

		rm.log.Info("order re-adopted after restart",
			zap.Int("order_id", o.ID),
			zap.String("symbol", o.Symbol),
			zap.String("exchange_status", h.Status))
	}

	// Немедленная сверка вместо ожидания первого тикера
	rm.tracker.PollOnce(ctx)

	return nil
}

// notify отправляет уведомление если канал подключен
func (rm *RecoveryManager) notify(ntype, severity, message string) {
	if rm.notifyFn == nil {
		return
	}
	rm.notifyFn(models.NewNotification(ntype, severity, "", message))
}
