package repository

import (
	"context"
	"database/sql"

	jsoniter "github.com/json-iterator/go"

	"scalper/internal/models"
)

var notifJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// NotificationRepository - работа с таблицей notifications
type NotificationRepository struct {
	db *sql.DB
}

// NewNotificationRepository создает новый экземпляр репозитория
func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create создает уведомление (meta сериализуется в JSON)
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (timestamp, type, severity, symbol, message, meta)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	// NULL в колонке, а не пустой JSON: типизированный []byte(nil)
	// драйвер сериализует как пустое значение
	var meta interface{}
	if n.Meta != nil {
		b, err := notifJSON.Marshal(n.Meta)
		if err != nil {
			return err
		}
		meta = b
	}

	return r.db.QueryRowContext(ctx, query,
		n.Timestamp,
		n.Type,
		n.Severity,
		n.Symbol,
		n.Message,
		meta,
	).Scan(&n.ID)
}

// GetRecent возвращает последние уведомления
func (r *NotificationRepository) GetRecent(ctx context.Context, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, timestamp, type, severity, symbol, message, meta
		FROM notifications
		ORDER BY timestamp DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		n := &models.Notification{}
		var meta []byte
		if err := rows.Scan(&n.ID, &n.Timestamp, &n.Type, &n.Severity, &n.Symbol, &n.Message, &meta); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := notifJSON.Unmarshal(meta, &n.Meta); err != nil {
				return nil, err
			}
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// DeleteOlderThan удаляет старые уведомления, возвращает число удалённых
func (r *NotificationRepository) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	query := `DELETE FROM notifications WHERE timestamp < NOW() - ($1 || ' days')::interval`

	result, err := r.db.ExecContext(ctx, query, days)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
