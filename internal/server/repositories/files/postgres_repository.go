package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ompldr/server/internal/common"
	"github.com/ompldr/server/internal/dbx"
	"github.com/ompldr/server/internal/server/models"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const fileColumns = `id, storage_key, length, invoice_paid, extension, content_type, downloads_remaining, expires_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(s scanner) (*models.File, error) {
	var (
		f  models.File
		id int64
	)
	err := s.Scan(&id, &f.StorageKey, &f.Length, &f.InvoicePaid, &f.Extension, &f.ContentType,
		&f.DownloadsRemaining, &f.ExpiresAt, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	f.ID = uint64(id)
	return &f, nil
}

func (r *PostgresRepository) Create(ctx context.Context, f *models.File) (uint64, error) {
	query := `
		INSERT INTO files (storage_key, length, invoice_paid, extension, content_type, downloads_remaining, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		f.StorageKey, f.Length, f.InvoicePaid, f.Extension, f.ContentType, f.DownloadsRemaining,
		f.ExpiresAt, f.CreatedAt, f.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert file: %w", err)
	}
	return uint64(id), nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id uint64, now time.Time, requirePaid bool) (*models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE id=$1 AND expires_at>$2`
	if requirePaid {
		query += ` AND invoice_paid=true`
	}

	f, err := scanFile(r.db.QueryRowContext(ctx, query, int64(id), now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select file: %w", err)
	}
	return f, nil
}

func (r *PostgresRepository) SetInvoicePaid(ctx context.Context, id uint64, paid bool) (int64, error) {
	query := `UPDATE files SET invoice_paid=$2, updated_at=NOW() WHERE id=$1`
	n, err := dbx.Affected(r.db.ExecContext(ctx, query, int64(id), paid))
	if err != nil {
		return 0, fmt.Errorf("failed to mark file paid: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) AddDownloads(ctx context.Context, id uint64, delta int64) error {
	query := `UPDATE files SET downloads_remaining=downloads_remaining+$2, updated_at=NOW() WHERE id=$1`
	n, err := dbx.Affected(r.db.ExecContext(ctx, query, int64(id), delta))
	if err != nil {
		return fmt.Errorf("failed to update downloads: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) ApplyRefresh(ctx context.Context, id uint64, delta int64, expiresAt time.Time) (int64, error) {
	query := `UPDATE files SET downloads_remaining=downloads_remaining+$2, expires_at=$3, updated_at=NOW() WHERE id=$1`
	n, err := dbx.Affected(r.db.ExecContext(ctx, query, int64(id), delta, expiresAt))
	if err != nil {
		return 0, fmt.Errorf("failed to apply refresh: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) selectFiles(ctx context.Context, query string, args ...any) ([]*models.File, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	defer rows.Close()

	var result []*models.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) SelectExpired(ctx context.Context, now, staleBefore time.Time) ([]*models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files
		WHERE expires_at<=$1
		   OR (invoice_paid=false AND created_at<$2)
		   OR downloads_remaining<=0`
	return r.selectFiles(ctx, query, now, staleBefore)
}

func (r *PostgresRepository) SelectUnpaidIDs(ctx context.Context, now time.Time) ([]uint64, error) {
	query := `SELECT id FROM files WHERE expires_at>$1 AND invoice_paid=false AND downloads_remaining>0`
	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to select unpaid files: %w", err)
	}
	defer rows.Close()

	var ids []uint64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, uint64(id))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id uint64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE id=$1`, int64(id)); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}
