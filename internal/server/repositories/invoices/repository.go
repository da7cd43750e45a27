// Package invoices keeps a log of issued invoices so settlement can be
// looked up by file token.
package invoices

import (
	"context"

	"github.com/ompldr/server/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, inv *models.InvoiceRecord) error
	// FirstByMemo returns the earliest invoice issued for memo, or
	// common.ErrorNotFound.
	FirstByMemo(ctx context.Context, memo string) (*models.InvoiceRecord, error)
}
