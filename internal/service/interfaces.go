package service

import (
	"context"

	"scalper/internal/models"
)

// NotificationRepositoryInterface определяет интерфейс репозитория уведомлений
type NotificationRepositoryInterface interface {
	Create(ctx context.Context, n *models.Notification) error
	GetRecent(ctx context.Context, limit int) ([]*models.Notification, error)
	DeleteOlderThan(ctx context.Context, days int) (int64, error)
}

// WebSocketBroadcaster - интерфейс для отправки WebSocket сообщений
//
// Разрывает циклическую зависимость с пакетом websocket и позволяет
// подставить mock в тестах.
type WebSocketBroadcaster interface {
	BroadcastNotification(data interface{})
}
