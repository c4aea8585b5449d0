package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"scalper/internal/models"
)

// Ошибки репозитория позиций
var (
	ErrPositionNotFound = errors.New("position not found")
	ErrVersionConflict  = errors.New("position version conflict")
)

// PositionRepository - работа с таблицей positions
//
// Save использует optimistic locking по колонке version: UPDATE
// применяется только при совпадении версии и инкрементирует её.
// Ноль затронутых строк означает конкурентную запись.
type PositionRepository struct {
	db *sql.DB
}

// NewPositionRepository создает новый экземпляр репозитория
func NewPositionRepository(db *sql.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

const positionColumns = `id, symbol, side, size, entry_price, current_price, stop_loss_price, take_profit_price, trailing_stop_pct, realized_pnl, unrealized_pnl, commission, status, close_reason, max_holding_time_ms, opened_at, closed_at, version`

// Create создает новую позицию
func (r *PositionRepository) Create(ctx context.Context, p *models.Position) error {
	query := `
		INSERT INTO positions (symbol, side, size, entry_price, current_price, stop_loss_price, take_profit_price, trailing_stop_pct, realized_pnl, unrealized_pnl, commission, status, close_reason, max_holding_time_ms, opened_at, closed_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id`

	return r.db.QueryRowContext(ctx, query,
		p.Symbol,
		p.Side,
		p.Size,
		p.EntryPrice,
		p.CurrentPrice,
		p.StopLossPrice,
		p.TakeProfitPrice,
		p.TrailingStopPct,
		p.RealizedPnl,
		p.UnrealizedPnl,
		p.Commission,
		p.Status,
		p.CloseReason,
		p.MaxHoldingTime.Milliseconds(),
		p.OpenedAt,
		p.ClosedAt,
		p.Version,
	).Scan(&p.ID)
}

// Save сохраняет позицию с проверкой версии (compare-and-swap)
//
// При успехе версия в памяти инкрементируется вслед за БД.
func (r *PositionRepository) Save(ctx context.Context, p *models.Position) error {
	query := `
		UPDATE positions
		SET size = $1, entry_price = $2, current_price = $3, stop_loss_price = $4, take_profit_price = $5, realized_pnl = $6, unrealized_pnl = $7, commission = $8, status = $9, close_reason = $10, closed_at = $11, version = version + 1
		WHERE id = $12 AND version = $13`

	result, err := r.db.ExecContext(ctx, query,
		p.Size,
		p.EntryPrice,
		p.CurrentPrice,
		p.StopLossPrice,
		p.TakeProfitPrice,
		p.RealizedPnl,
		p.UnrealizedPnl,
		p.Commission,
		p.Status,
		p.CloseReason,
		p.ClosedAt,
		p.ID,
		p.Version,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrVersionConflict
	}

	p.Version++
	return nil
}

// GetOpen возвращает все открытые позиции (OPEN и REDUCING)
func (r *PositionRepository) GetOpen(ctx context.Context) ([]*models.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE status IN ($1, $2)
		ORDER BY opened_at`

	rows, err := r.db.QueryContext(ctx, query, models.PositionStatusOpen, models.PositionStatusReducing)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectPositions(rows)
}

// GetRecent возвращает последние позиции (для API)
func (r *PositionRepository) GetRecent(ctx context.Context, limit int) ([]*models.Position, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + positionColumns + `
		FROM positions
		ORDER BY opened_at DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectPositions(rows)
}

func scanPosition(s scanner, p *models.Position) error {
	var holdingMs int64
	err := s.Scan(
		&p.ID,
		&p.Symbol,
		&p.Side,
		&p.Size,
		&p.EntryPrice,
		&p.CurrentPrice,
		&p.StopLossPrice,
		&p.TakeProfitPrice,
		&p.TrailingStopPct,
		&p.RealizedPnl,
		&p.UnrealizedPnl,
		&p.Commission,
		&p.Status,
		&p.CloseReason,
		&holdingMs,
		&p.OpenedAt,
		&p.ClosedAt,
		&p.Version,
	)
	if err != nil {
		return err
	}
	p.MaxHoldingTime = millisToDuration(holdingMs)
	return nil
}

func millisToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func collectPositions(rows *sql.Rows) ([]*models.Position, error) {
	var positions []*models.Position
	for rows.Next() {
		p := &models.Position{}
		if err := scanPosition(rows, p); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}
