package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"scalper/internal/models"
)

// Ошибки репозитория пар
var (
	ErrPairNotFound = errors.New("pair not found")
	ErrPairExists   = errors.New("pair already exists")
)

// PairRepository - работа с таблицей pairs
type PairRepository struct {
	db *sql.DB
}

// NewPairRepository создает новый экземпляр репозитория
func NewPairRepository(db *sql.DB) *PairRepository {
	return &PairRepository{db: db}
}

const pairColumns = `id, symbol, base, quote, qty_step, price_step, min_qty, max_qty, min_notional, active, created_at, updated_at`

// Create создает новую торговую пару
func (r *PairRepository) Create(ctx context.Context, pair *models.PairConfig) error {
	query := `
		INSERT INTO pairs (symbol, base, quote, qty_step, price_step, min_qty, max_qty, min_notional, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	now := time.Now().UTC()
	pair.CreatedAt = now
	pair.UpdatedAt = now

	err := r.db.QueryRowContext(ctx, query,
		pair.Symbol,
		pair.Base,
		pair.Quote,
		pair.QtyStep,
		pair.PriceStep,
		pair.MinQty,
		pair.MaxQty,
		pair.MinNotional,
		pair.Active,
		pair.CreatedAt,
		pair.UpdatedAt,
	).Scan(&pair.ID)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrPairExists
		}
		return err
	}

	return nil
}

// GetBySymbol возвращает пару по символу
func (r *PairRepository) GetBySymbol(ctx context.Context, symbol string) (*models.PairConfig, error) {
	query := `SELECT ` + pairColumns + ` FROM pairs WHERE symbol = $1`

	pair := &models.PairConfig{}
	err := scanPair(r.db.QueryRowContext(ctx, query, symbol), pair)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPairNotFound
		}
		return nil, err
	}
	return pair, nil
}

// GetActive возвращает все активные пары
func (r *PairRepository) GetActive(ctx context.Context) ([]*models.PairConfig, error) {
	query := `SELECT ` + pairColumns + ` FROM pairs WHERE active = true ORDER BY symbol`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []*models.PairConfig
	for rows.Next() {
		pair := &models.PairConfig{}
		if err := scanPair(rows, pair); err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}
	return pairs, rows.Err()
}

// SetActive включает или выключает пару
func (r *PairRepository) SetActive(ctx context.Context, symbol string, active bool) error {
	query := `UPDATE pairs SET active = $1, updated_at = $2 WHERE symbol = $3`

	result, err := r.db.ExecContext(ctx, query, active, time.Now().UTC(), symbol)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrPairNotFound
	}
	return nil
}

func scanPair(s scanner, pair *models.PairConfig) error {
	return s.Scan(
		&pair.ID,
		&pair.Symbol,
		&pair.Base,
		&pair.Quote,
		&pair.QtyStep,
		&pair.PriceStep,
		&pair.MinQty,
		&pair.MaxQty,
		&pair.MinNotional,
		&pair.Active,
		&pair.CreatedAt,
		&pair.UpdatedAt,
	)
}
