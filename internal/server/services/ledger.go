package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ompldr/server/internal/common"
	"github.com/ompldr/server/internal/dbx"
	"github.com/ompldr/server/internal/logging"
	"github.com/ompldr/server/internal/server/identity"
	"github.com/ompldr/server/internal/server/models"
	"github.com/ompldr/server/internal/server/repositories/repomanager"
	"go.uber.org/multierr"
)

type LedgerOptions struct {
	// RefreshMaxExtension caps how far a single refresh can push expiry.
	RefreshMaxExtension time.Duration
	// UnpaidStaleAfter is how long an unpaid file survives before it is reaped.
	UnpaidStaleAfter time.Duration
}

// FileLedger owns every state transition of files and refresh requests.
// Callers address files by token only.
type FileLedger struct {
	db          dbx.DBTX
	tx          dbx.Transactor
	repomanager repomanager.RepositoryManager
	codec       *identity.Codec
	opts        LedgerOptions
	logger      logging.Logger
	now         func() time.Time
}

func NewFileLedger(db dbx.DBTX, tx dbx.Transactor, rm repomanager.RepositoryManager, codec *identity.Codec, opts LedgerOptions, logger logging.Logger) *FileLedger {
	return &FileLedger{
		db:          db,
		tx:          tx,
		repomanager: rm,
		codec:       codec,
		opts:        opts,
		logger:      logger.With("module", "ledger"),
		now:         func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// decode maps every undecodable token to ErrorNotFound.
func (l *FileLedger) decode(token string) (uint64, error) {
	id, err := l.codec.Decode(token)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", common.ErrorNotFound, err)
	}
	return id, nil
}

func (l *FileLedger) toRecord(f *models.File) *models.FileRecord {
	return &models.FileRecord{
		Info: models.FileInfo{
			FileID:             l.codec.Encode(f.ID),
			Length:             f.Length,
			InvoicePaid:        f.InvoicePaid,
			ContentType:        f.ContentType,
			DownloadsRemaining: f.DownloadsRemaining,
			ExpiresAt:          f.ExpiresAt,
		},
		StorageKey: f.StorageKey,
		CreatedAt:  f.CreatedAt,
	}
}

// Create stores a new unpaid file and returns info with its token filled
// in, plus the creation time that addresses the blob.
func (l *FileLedger) Create(ctx context.Context, info models.FileInfo, storageKey, extension string) (models.FileInfo, time.Time, error) {
	now := l.now()
	f := &models.File{
		StorageKey:         storageKey,
		Length:             info.Length,
		InvoicePaid:        false,
		Extension:          extension,
		ContentType:        info.ContentType,
		DownloadsRemaining: info.DownloadsRemaining,
		ExpiresAt:          info.ExpiresAt,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	id, err := l.repomanager.Files(l.db).Create(ctx, f)
	if err != nil {
		return models.FileInfo{}, time.Time{}, err
	}

	info.FileID = l.codec.Encode(id)
	info.InvoicePaid = false
	return info, now, nil
}

// MarkPaid applies a settlement for rhash. A refresh request carrying rhash
// takes precedence over the file's own invoice: its flag is flipped only if
// still unpaid, and only then are its downloads and expiry merged into the
// file. Repeated settlements therefore change nothing and return 0.
func (l *FileLedger) MarkPaid(ctx context.Context, token, rhash string, paid bool) (int64, error) {
	id, err := l.decode(token)
	if err != nil {
		return 0, err
	}

	refresh, err := l.repomanager.RefreshRequests(l.db).FindByRHash(ctx, rhash)
	switch {
	case err == nil:
		if refresh.FileID != id {
			l.logger.Warn(ctx, "refresh settlement memo does not match its file", "token", token, "rhash", rhash)
		}
		return l.applyRefresh(ctx, refresh)
	case errors.Is(err, common.ErrorNotFound):
		n, err := l.repomanager.Files(l.db).SetInvoicePaid(ctx, id, paid)
		if err != nil {
			return 0, err
		}
		l.logger.Info(ctx, "file invoice settled", "token", token, "rows", n)
		return n, nil
	default:
		return 0, err
	}
}

func (l *FileLedger) applyRefresh(ctx context.Context, refresh *models.RefreshRequest) (int64, error) {
	var n int64
	err := l.tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		n, err = l.repomanager.RefreshRequests(tx).MarkPaid(ctx, refresh.RHash)
		if err != nil || n == 0 {
			return err
		}
		_, err = l.repomanager.Files(tx).ApplyRefresh(ctx, refresh.FileID, refresh.DownloadsRemaining, refresh.ExpiresAt)
		return err
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		l.logger.Info(ctx, "refresh settled", "rhash", refresh.RHash, "downloads", refresh.DownloadsRemaining, "expires_at", refresh.ExpiresAt)
	}
	return n, nil
}

// DecrementDownloads subtracts amount unconditionally; the counter may go
// below zero and the sweeper reaps such files.
func (l *FileLedger) DecrementDownloads(ctx context.Context, token string, amount int64) error {
	id, err := l.decode(token)
	if err != nil {
		return err
	}
	return l.repomanager.Files(l.db).AddDownloads(ctx, id, -amount)
}

// RefreshExtension clamps a requested extension to the configured cap.
func (l *FileLedger) RefreshExtension(seconds int64) time.Duration {
	ext := time.Duration(seconds) * time.Second
	if ext > l.opts.RefreshMaxExtension {
		return l.opts.RefreshMaxExtension
	}
	return ext
}

// AddRefreshRequest records a refresh whose target expiry is the file's
// current expiry plus the capped extension.
func (l *FileLedger) AddRefreshRequest(ctx context.Context, info models.FileInfo, params models.RefreshParams, rhash string) (int64, error) {
	id, err := l.decode(info.FileID)
	if err != nil {
		return 0, err
	}

	req := &models.RefreshRequest{
		FileID:             id,
		DownloadsRemaining: params.DownloadCount,
		ExpiresAt:          info.ExpiresAt.Add(l.RefreshExtension(params.ExpiresAfterSeconds)),
		RHash:              rhash,
	}
	return l.repomanager.RefreshRequests(l.db).Create(ctx, req)
}

// GetInfo returns a live file. Unknown, expired, undecodable, and (with
// requirePaid) unpaid files all yield common.ErrorNotFound.
func (l *FileLedger) GetInfo(ctx context.Context, token string, requirePaid bool) (*models.FileRecord, error) {
	id, err := l.decode(token)
	if err != nil {
		return nil, err
	}
	f, err := l.repomanager.Files(l.db).GetByID(ctx, id, l.now(), requirePaid)
	if err != nil {
		return nil, err
	}
	return l.toRecord(f), nil
}

// GetExpired lists files due for deletion.
func (l *FileLedger) GetExpired(ctx context.Context) ([]*models.FileRecord, error) {
	now := l.now()
	fs, err := l.repomanager.Files(l.db).SelectExpired(ctx, now, now.Add(-l.opts.UnpaidStaleAfter))
	if err != nil {
		return nil, err
	}
	records := make([]*models.FileRecord, 0, len(fs))
	for _, f := range fs {
		records = append(records, l.toRecord(f))
	}
	return records, nil
}

func (l *FileLedger) GetUnpaidTokens(ctx context.Context) ([]string, error) {
	ids, err := l.repomanager.Files(l.db).SelectUnpaidIDs(ctx, l.now())
	if err != nil {
		return nil, err
	}
	tokens := make([]string, 0, len(ids))
	for _, id := range ids {
		tokens = append(tokens, l.codec.Encode(id))
	}
	return tokens, nil
}

// DeleteRecords removes each file with its refresh requests in its own
// transaction. A failing token does not stop the others; failures are
// combined into the returned error.
func (l *FileLedger) DeleteRecords(ctx context.Context, tokens []string) error {
	var errs error
	for _, token := range tokens {
		id, err := l.decode(token)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		err = l.tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
			if err := l.repomanager.RefreshRequests(tx).DeleteByFileID(ctx, id); err != nil {
				return err
			}
			return l.repomanager.Files(tx).Delete(ctx, id)
		})
		if err != nil {
			l.logger.Error(ctx, "failed to delete file records", "token", token, "error", err)
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
