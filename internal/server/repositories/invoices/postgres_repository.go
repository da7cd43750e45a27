package invoices

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ompldr/server/internal/common"
	"github.com/ompldr/server/internal/dbx"
	"github.com/ompldr/server/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, inv *models.InvoiceRecord) error {
	query := `INSERT INTO invoices (memo, bolt11, rhash) VALUES ($1, $2, $3)`
	if _, err := r.db.ExecContext(ctx, query, inv.Memo, inv.Bolt11, inv.RHash); err != nil {
		return fmt.Errorf("failed to insert invoice: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FirstByMemo(ctx context.Context, memo string) (*models.InvoiceRecord, error) {
	query := `SELECT id, memo, bolt11, rhash FROM invoices WHERE memo=$1 ORDER BY id ASC LIMIT 1`

	var inv models.InvoiceRecord
	err := r.db.QueryRowContext(ctx, query, memo).Scan(&inv.ID, &inv.Memo, &inv.Bolt11, &inv.RHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select invoice: %w", err)
	}
	return &inv, nil
}
