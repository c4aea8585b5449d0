package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"scalper/internal/models"
)

// Ошибки репозитория ордеров
var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrDuplicateToken = errors.New("order with this client token already exists")
)

// OrderRepository - работа с таблицей orders
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository создает новый экземпляр репозитория
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `id, client_token, exchange_order_id, symbol, side, type, quantity, executed_qty, price, avg_fill_price, status, attempts, error_message, created_at, updated_at, executed_at, cancelled_at`

// Create создает новый ордер
//
// client_token уникален: повторная вставка того же токена означает
// дубликат размещения и отклоняется на уровне БД.
func (r *OrderRepository) Create(ctx context.Context, o *models.Order) error {
	query := `
		INSERT INTO orders (client_token, exchange_order_id, symbol, side, type, quantity, executed_qty, price, avg_fill_price, status, attempts, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		o.ClientToken,
		o.ExchangeOrderID,
		o.Symbol,
		o.Side,
		o.Type,
		o.Quantity,
		o.ExecutedQty,
		o.Price,
		o.AvgFillPrice,
		o.Status,
		o.Attempts,
		o.ErrorMessage,
		o.CreatedAt,
		o.UpdatedAt,
	).Scan(&o.ID)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateToken
		}
		return err
	}

	return nil
}

// Update сохраняет текущее состояние ордера
func (r *OrderRepository) Update(ctx context.Context, o *models.Order) error {
	query := `
		UPDATE orders
		SET exchange_order_id = $1, executed_qty = $2, avg_fill_price = $3, status = $4, attempts = $5, error_message = $6, updated_at = $7, executed_at = $8, cancelled_at = $9
		WHERE id = $10`

	result, err := r.db.ExecContext(ctx, query,
		o.ExchangeOrderID,
		o.ExecutedQty,
		o.AvgFillPrice,
		o.Status,
		o.Attempts,
		o.ErrorMessage,
		o.UpdatedAt,
		o.ExecutedAt,
		o.CancelledAt,
		o.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrOrderNotFound
	}

	return nil
}

// GetByID возвращает ордер по ID
func (r *OrderRepository) GetByID(ctx context.Context, id int) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	o := &models.Order{}
	err := scanOrder(r.db.QueryRowContext(ctx, query, id), o)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return o, nil
}

// GetActive возвращает все нетерминальные ордера (для сверки при старте)
func (r *OrderRepository) GetActive(ctx context.Context) ([]*models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status IN ($1, $2)
		ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, models.OrderStatusNew, models.OrderStatusPartiallyFilled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectOrders(rows)
}

// GetRecent возвращает последние ордера (для API)
func (r *OrderRepository) GetRecent(ctx context.Context, limit int) ([]*models.Order, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectOrders(rows)
}

// CountByStatusSince возвращает количество ордеров в статусе с момента времени
func (r *OrderRepository) CountByStatusSince(ctx context.Context, status string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM orders WHERE status = $1 AND created_at >= $2`

	var count int
	if err := r.db.QueryRowContext(ctx, query, status, since).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// scanner покрывает *sql.Row и *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(s scanner, o *models.Order) error {
	return s.Scan(
		&o.ID,
		&o.ClientToken,
		&o.ExchangeOrderID,
		&o.Symbol,
		&o.Side,
		&o.Type,
		&o.Quantity,
		&o.ExecutedQty,
		&o.Price,
		&o.AvgFillPrice,
		&o.Status,
		&o.Attempts,
		&o.ErrorMessage,
		&o.CreatedAt,
		&o.UpdatedAt,
		&o.ExecutedAt,
		&o.CancelledAt,
	)
}

func collectOrders(rows *sql.Rows) ([]*models.Order, error) {
	var orders []*models.Order
	for rows.Next() {
		o := &models.Order{}
		if err := scanOrder(rows, o); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
