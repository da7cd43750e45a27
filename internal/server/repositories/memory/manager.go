// Package memory is an in-process RepositoryManager. Every repository shares
// one Store, and the DBTX arguments are ignored. It backs service level tests
// where the SQL layer is not under test.
package memory

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/ompldr/server/internal/common"
	"github.com/ompldr/server/internal/dbx"
	"github.com/ompldr/server/internal/server/models"
	"github.com/ompldr/server/internal/server/repositories/coinprices"
	"github.com/ompldr/server/internal/server/repositories/files"
	"github.com/ompldr/server/internal/server/repositories/invoices"
	"github.com/ompldr/server/internal/server/repositories/refreshrequests"
	"github.com/shopspring/decimal"
)

type price struct {
	ticker, name string
	usd          decimal.Decimal
	at           time.Time
}

// Store holds all rows. Exported fields are for assertions in tests; take
// the lock when touching them concurrently.
type Store struct {
	mu sync.Mutex

	nextID   uint64
	Files    map[uint64]*models.File
	Refresh  map[string]*models.RefreshRequest
	Invoices []*models.InvoiceRecord
	prices   []price
}

func NewStore() *Store {
	return &Store{
		Files:   map[uint64]*models.File{},
		Refresh: map[string]*models.RefreshRequest{},
	}
}

// File returns a copy of the file row, if present.
func (s *Store) File(id uint64) (models.File, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.Files[id]
	if !ok {
		return models.File{}, false
	}
	return *f, true
}

type InMemoryRepositoryManager struct {
	store *Store
}

func NewInMemoryRepositoryManager(store *Store) *InMemoryRepositoryManager {
	return &InMemoryRepositoryManager{store: store}
}

func (m *InMemoryRepositoryManager) RunMigrations(context.Context, *sql.DB) error { return nil }

func (m *InMemoryRepositoryManager) Files(dbx.DBTX) files.Repository {
	return (*fileRepo)(m.store)
}

func (m *InMemoryRepositoryManager) RefreshRequests(dbx.DBTX) refreshrequests.Repository {
	return (*refreshRepo)(m.store)
}

func (m *InMemoryRepositoryManager) Invoices(dbx.DBTX) invoices.Repository {
	return (*invoiceRepo)(m.store)
}

func (m *InMemoryRepositoryManager) CoinPrices(dbx.DBTX) coinprices.Repository {
	return (*priceRepo)(m.store)
}

// Transactor runs fn directly with a nil handle.
type Transactor struct{}

func (Transactor) WithTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	return fn(ctx, nil)
}

type fileRepo Store

func (r *fileRepo) Create(ctx context.Context, f *models.File) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	row := *f
	row.ID = r.nextID
	r.Files[row.ID] = &row
	return row.ID, nil
}

func (r *fileRepo) GetByID(ctx context.Context, id uint64, now time.Time, requirePaid bool) (*models.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.Files[id]
	if !ok || !f.ExpiresAt.After(now) || (requirePaid && !f.InvoicePaid) {
		return nil, common.ErrorNotFound
	}
	row := *f
	return &row, nil
}

func (r *fileRepo) SetInvoicePaid(ctx context.Context, id uint64, paid bool) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.Files[id]
	if !ok {
		return 0, nil
	}
	f.InvoicePaid = paid
	return 1, nil
}

func (r *fileRepo) AddDownloads(ctx context.Context, id uint64, delta int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.Files[id]
	if !ok {
		return common.ErrorNotFound
	}
	f.DownloadsRemaining += delta
	return nil
}

func (r *fileRepo) ApplyRefresh(ctx context.Context, id uint64, delta int64, expiresAt time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.Files[id]
	if !ok {
		return 0, nil
	}
	f.DownloadsRemaining += delta
	f.ExpiresAt = expiresAt
	return 1, nil
}

func (r *fileRepo) sorted(keep func(f *models.File) bool) []*models.File {
	var out []*models.File
	for _, f := range r.Files {
		if keep(f) {
			row := *f
			out = append(out, &row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *fileRepo) SelectExpired(ctx context.Context, now, staleBefore time.Time) ([]*models.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted(func(f *models.File) bool {
		return !f.ExpiresAt.After(now) ||
			(!f.InvoicePaid && f.CreatedAt.Before(staleBefore)) ||
			f.DownloadsRemaining <= 0
	}), nil
}

func (r *fileRepo) SelectUnpaidIDs(ctx context.Context, now time.Time) ([]uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uint64
	for _, f := range r.sorted(func(f *models.File) bool {
		return f.ExpiresAt.After(now) && !f.InvoicePaid && f.DownloadsRemaining > 0
	}) {
		ids = append(ids, f.ID)
	}
	return ids, nil
}

func (r *fileRepo) Delete(ctx context.Context, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.Files, id)
	return nil
}

type refreshRepo Store

func (r *refreshRepo) Create(ctx context.Context, req *models.RefreshRequest) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.Refresh[req.RHash]; dup {
		return 0, common.ErrorInternal
	}
	r.nextID++
	row := *req
	row.ID = int64(r.nextID)
	row.InvoicePaid = false
	r.Refresh[row.RHash] = &row
	return row.ID, nil
}

func (r *refreshRepo) FindByRHash(ctx context.Context, rhash string) (*models.RefreshRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.Refresh[rhash]
	if !ok {
		return nil, common.ErrorNotFound
	}
	row := *req
	return &row, nil
}

func (r *refreshRepo) MarkPaid(ctx context.Context, rhash string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.Refresh[rhash]
	if !ok || req.InvoicePaid {
		return 0, nil
	}
	req.InvoicePaid = true
	return 1, nil
}

func (r *refreshRepo) DeleteByFileID(ctx context.Context, fileID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, req := range r.Refresh {
		if req.FileID == fileID {
			delete(r.Refresh, k)
		}
	}
	return nil
}

type invoiceRepo Store

func (r *invoiceRepo) Create(ctx context.Context, inv *models.InvoiceRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := *inv
	row.ID = int64(len(r.Invoices) + 1)
	r.Invoices = append(r.Invoices, &row)
	return nil
}

func (r *invoiceRepo) FirstByMemo(ctx context.Context, memo string) (*models.InvoiceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.Invoices {
		if inv.Memo == memo {
			row := *inv
			return &row, nil
		}
	}
	return nil, common.ErrorNotFound
}

type priceRepo Store

func (r *priceRepo) Insert(ctx context.Context, ticker, name string, usd decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	kept := r.prices[:0]
	for _, p := range r.prices {
		if now.Sub(p.at) < 24*time.Hour {
			kept = append(kept, p)
		}
	}
	r.prices = append(kept, price{ticker: ticker, name: name, usd: usd, at: now})
	return nil
}

func (r *priceRepo) Latest(ctx context.Context, ticker string) (decimal.Decimal, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.prices) - 1; i >= 0; i-- {
		if r.prices[i].ticker == ticker {
			return r.prices[i].usd, true, nil
		}
	}
	return decimal.Zero, false, nil
}
