// Package files persists file records. Only the ledger service talks to it.
package files

import (
	"context"
	"time"

	"github.com/ompldr/server/internal/server/models"
)

type Repository interface {
	// Create inserts f and returns the assigned id.
	Create(ctx context.Context, f *models.File) (uint64, error)

	// GetByID returns a file that has not expired by now. With requirePaid
	// only paid files are returned. Otherwise common.ErrorNotFound.
	GetByID(ctx context.Context, id uint64, now time.Time, requirePaid bool) (*models.File, error)

	SetInvoicePaid(ctx context.Context, id uint64, paid bool) (int64, error)

	// AddDownloads adds delta (possibly negative) to downloads_remaining.
	AddDownloads(ctx context.Context, id uint64, delta int64) error

	// ApplyRefresh adds delta downloads and replaces the expiry.
	ApplyRefresh(ctx context.Context, id uint64, delta int64, expiresAt time.Time) (int64, error)

	// SelectExpired returns files that expired by now, ran out of downloads,
	// or were created before staleBefore and never paid.
	SelectExpired(ctx context.Context, now, staleBefore time.Time) ([]*models.File, error)

	// SelectUnpaidIDs returns ids of live, unpaid files with downloads left.
	SelectUnpaidIDs(ctx context.Context, now time.Time) ([]uint64, error)

	Delete(ctx context.Context, id uint64) error
}
