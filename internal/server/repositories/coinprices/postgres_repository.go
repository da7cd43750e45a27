package coinprices

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ompldr/server/internal/dbx"
	"github.com/shopspring/decimal"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert drops samples older than a day and records a new one.
func (r *PostgresRepository) Insert(ctx context.Context, ticker, name string, priceUSD decimal.Decimal) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM coin_data WHERE updated_at < NOW() - INTERVAL '1 day'`)
	if err != nil {
		return fmt.Errorf("failed to prune coin prices: %w", err)
	}

	query := `INSERT INTO coin_data (ticker, name, price_usd, created_at, updated_at) VALUES ($1, $2, $3, NOW(), NOW())`
	if _, err := r.db.ExecContext(ctx, query, ticker, name, priceUSD); err != nil {
		return fmt.Errorf("failed to insert coin price: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Latest(ctx context.Context, ticker string) (decimal.Decimal, bool, error) {
	query := `SELECT price_usd FROM coin_data WHERE ticker=$1 ORDER BY updated_at DESC LIMIT 1`

	var price decimal.Decimal
	err := r.db.QueryRowContext(ctx, query, ticker).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to select coin price: %w", err)
	}
	return price, true, nil
}
