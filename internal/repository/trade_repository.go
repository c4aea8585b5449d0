package repository

import (
	"context"
	"database/sql"
	"time"

	"scalper/internal/models"
)

// TradeRepository - работа с журналом исполнений (таблица trades)
type TradeRepository struct {
	db *sql.DB
}

// NewTradeRepository создает новый экземпляр репозитория
func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Create создает запись об исполнении
func (r *TradeRepository) Create(ctx context.Context, t *models.TradeRecord) error {
	query := `
		INSERT INTO trades (order_id, client_token, symbol, side, quantity, price, commission, kind, realized_pnl, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	return r.db.QueryRowContext(ctx, query,
		t.OrderID,
		t.ClientToken,
		t.Symbol,
		t.Side,
		t.Quantity,
		t.Price,
		t.Commission,
		t.Kind,
		t.RealizedPnl,
		t.CreatedAt,
	).Scan(&t.ID)
}

// RealizedPnlSince возвращает суммарный реализованный PNL закрытых
// позиций с момента времени (для расчёта дневного PNL)
func (r *TradeRepository) RealizedPnlSince(ctx context.Context, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(realized_pnl - commission), 0)
		FROM positions
		WHERE status = $1 AND closed_at >= $2`

	var pnl float64
	if err := r.db.QueryRowContext(ctx, query, models.PositionStatusClosed, since).Scan(&pnl); err != nil {
		return 0, err
	}
	return pnl, nil
}

// GetByOrderID возвращает все исполнения ордера
func (r *TradeRepository) GetByOrderID(ctx context.Context, orderID int) ([]*models.TradeRecord, error) {
	query := `
		SELECT id, order_id, client_token, symbol, side, quantity, price, commission, kind, realized_pnl, created_at
		FROM trades
		WHERE order_id = $1
		ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*models.TradeRecord
	for rows.Next() {
		t := &models.TradeRecord{}
		if err := rows.Scan(
			&t.ID,
			&t.OrderID,
			&t.ClientToken,
			&t.Symbol,
			&t.Side,
			&t.Quantity,
			&t.Price,
			&t.Commission,
			&t.Kind,
			&t.RealizedPnl,
			&t.CreatedAt,
		); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// CountSince возвращает количество исполнений с момента времени
func (r *TradeRepository) CountSince(ctx context.Context, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM trades WHERE created_at >= $1`

	var count int
	if err := r.db.QueryRowContext(ctx, query, since).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
