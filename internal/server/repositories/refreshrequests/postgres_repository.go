package refreshrequests

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

func (r *PostgresRepository) Create(ctx context.Context, req *models.RefreshRequest) (int64, error) {
	query :=
		`INSERT INTO refresh_requests (file_id, invoice_paid, downloads_remaining, expires_at, rhash)
		 VALUES ($1, false, $2, $3, $4)
		 RETURNING id`

	var id int64
	err := r.db.QueryRowContext(ctx, query, int64(req.FileID), req.DownloadsRemaining, req.ExpiresAt, req.RHash).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert refresh request: %w", err)
	}
	return id, nil
}

func (r *PostgresRepository) FindByRHash(ctx context.Context, rhash string) (*models.RefreshRequest, error) {
	query := `SELECT id, file_id, invoice_paid, downloads_remaining, expires_at, rhash FROM refresh_requests WHERE rhash=$1`

	var (
		req    models.RefreshRequest
		fileID int64
	)
	err := r.db.QueryRowContext(ctx, query, rhash).
		Scan(&req.ID, &fileID, &req.InvoicePaid, &req.DownloadsRemaining, &req.ExpiresAt, &req.RHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select refresh request: %w", err)
	}
	req.FileID = uint64(fileID)
	return &req, nil
}

func (r *PostgresRepository) MarkPaid(ctx context.Context, rhash string) (int64, error) {
	query := `UPDATE refresh_requests SET invoice_paid=true WHERE rhash=$1 AND invoice_paid=false`
	n, err := dbx.Affected(r.db.ExecContext(ctx, query, rhash))
	if err != nil {
		return 0, fmt.Errorf("failed to mark refresh request paid: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) DeleteByFileID(ctx context.Context, fileID uint64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM refresh_requests WHERE file_id=$1`, int64(fileID)); err != nil {
		return fmt.Errorf("failed to delete refresh requests: %w", err)
	}
	return nil
}
