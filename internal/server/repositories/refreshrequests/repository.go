// Package refreshrequests persists purchases of extra downloads and
// lifetime for existing files.
package refreshrequests

import (
	"context"

	"github.com/ompldr/server/internal/server/models"
)

type Repository interface {
	// Create stores a new unpaid request and returns its id.
	Create(ctx context.Context, req *models.RefreshRequest) (int64, error)

	// FindByRHash returns common.ErrorNotFound when no request carries rhash.
	FindByRHash(ctx context.Context, rhash string) (*models.RefreshRequest, error)

	// MarkPaid flips invoice_paid only if it was still false and reports how
	// many rows changed, so a repeated call returns 0.
	MarkPaid(ctx context.Context, rhash string) (int64, error)

	DeleteByFileID(ctx context.Context, fileID uint64) error
}
