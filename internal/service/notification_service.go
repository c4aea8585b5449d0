package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"scalper/internal/models"
	"scalper/pkg/utils"
)

// NotificationService - журнал и доставка уведомлений
//
// Fire-and-forget: торговый путь НИКОГДА не блокируется доставкой.
// Уведомления проходят через буферизованный канал в фоновый воркер,
// который пишет их в БД и броадкастит по WebSocket. При переполнении
// буфера уведомление отбрасывается с записью в лог - потеря
// уведомления допустима, задержка ордера нет.
type NotificationService struct {
	repo  NotificationRepositoryInterface
	wsHub WebSocketBroadcaster

	queue chan *models.Notification
	log   *utils.Logger
}

// NewNotificationService создает сервис уведомлений
func NewNotificationService(repo NotificationRepositoryInterface, log *utils.Logger) *NotificationService {
	return &NotificationService{
		repo:  repo,
		queue: make(chan *models.Notification, 256),
		log:   log.WithComponent("notifications"),
	}
}

// SetWebSocketHub устанавливает hub для real-time доставки
func (s *NotificationService) SetWebSocketHub(hub WebSocketBroadcaster) {
	s.wsHub = hub
}

// Run запускает фоновый воркер доставки (go svc.Run(ctx))
func (s *NotificationService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		case n := <-s.queue:
			s.deliver(n)
		}
	}
}

// Notify ставит уведомление в очередь доставки (не блокируется)
func (s *NotificationService) Notify(n *models.Notification) {
	if n == nil {
		return
	}
	select {
	case s.queue <- n:
	default:
		s.log.Warn("notification queue full, dropping",
			zap.String("type", n.Type),
			zap.String("message", n.Message))
	}
}

// deliver пишет уведомление в БД и броадкастит
func (s *NotificationService) deliver(n *models.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.repo.Create(ctx, n); err != nil {
		s.log.Error("failed to persist notification",
			zap.String("type", n.Type),
			zap.Error(err))
		// Броадкастим всё равно: UI важнее журнала
	}

	if s.wsHub != nil {
		s.wsHub.BroadcastNotification(n)
	}

	if n.Severity == models.SeverityCritical {
		s.log.Error("critical event",
			zap.String("type", n.Type),
			zap.String("symbol", n.Symbol),
			zap.String("message", n.Message))
	}
}

// drain доставляет оставшиеся уведомления при остановке
func (s *NotificationService) drain() {
	for {
		select {
		case n := <-s.queue:
			s.deliver(n)
		default:
			return
		}
	}
}

// GetRecent возвращает последние уведомления (для API)
func (s *NotificationService) GetRecent(ctx context.Context, limit int) ([]*models.Notification, error) {
	return s.repo.GetRecent(ctx, limit)
}

// Cleanup удаляет уведомления старше заданного срока (задача планировщика)
func (s *NotificationService) Cleanup(ctx context.Context, retentionDays int) error {
	deleted, err := s.repo.DeleteOlderThan(ctx, retentionDays)
	if err != nil {
		return err
	}
	if deleted > 0 {
		s.log.Info("old notifications removed", zap.Int64("count", deleted))
	}
	return nil
}
