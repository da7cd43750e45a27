package repomanager

import (
	"context"
	"database/sql"

	"github.com/ompldr/server/internal/dbx"
	"github.com/ompldr/server/internal/server/repositories/coinprices"
	"github.com/ompldr/server/internal/server/repositories/files"
	"github.com/ompldr/server/internal/server/repositories/invoices"
	"github.com/ompldr/server/internal/server/repositories/refreshrequests"
)

// RepositoryManager vends repositories bound to a DBTX so services can run
// the same repository either on the pool or inside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Files(db dbx.DBTX) files.Repository
	RefreshRequests(db dbx.DBTX) refreshrequests.Repository
	Invoices(db dbx.DBTX) invoices.Repository
	CoinPrices(db dbx.DBTX) coinprices.Repository
}
