package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ompldr/server/internal/common"
	"github.com/ompldr/server/internal/cryptox"
	"github.com/ompldr/server/internal/logging"
	"github.com/ompldr/server/internal/server/models"
	"github.com/ompldr/server/internal/server/pricing"
	"github.com/ompldr/server/internal/server/tasks"
	"github.com/sethvargo/go-retry"
)

const defaultContentType = "application/octet-stream"

// BlobStore is the encrypted object storage as seen by the request path.
type BlobStore interface {
	Upload(ctx context.Context, storageKey, privateKey string, r io.Reader) (int64, error)
	Finalize(ctx context.Context, storageKey string, createdAt time.Time) error
	OpenEncrypted(ctx context.Context, storageKey string, createdAt time.Time) (io.ReadCloser, error)
	OpenDecrypted(ctx context.Context, storageKey string, createdAt time.Time, privateKey string) (io.ReadCloser, error)
}

type FileOptions struct {
	MinimumExpiry        time.Duration
	DefaultDownloadCount int64
	FinalizeAttempts     uint64
	FinalizeDelay        time.Duration
}

type UploadRequest struct {
	Body        io.Reader
	FileName    string
	ContentType string
	// DownloadCount of 0 means the default.
	DownloadCount       int64
	ExpiresAfterSeconds int64
	// PrivateKey is generated when empty.
	PrivateKey string
}

// Download is an open file stream. The caller must close Body.
type Download struct {
	Info models.FileInfo
	Body io.ReadCloser
}

type FileService struct {
	ledger  *FileLedger
	gateway *InvoiceGateway
	pricing *pricing.Engine
	blobs   BlobStore
	tracker *tasks.Tracker
	opts    FileOptions
	logger  logging.Logger
	now     func() time.Time
}

func NewFileService(ledger *FileLedger, gateway *InvoiceGateway, engine *pricing.Engine, blobs BlobStore, tracker *tasks.Tracker, opts FileOptions, logger logging.Logger) *FileService {
	return &FileService{
		ledger:  ledger,
		gateway: gateway,
		pricing: engine,
		blobs:   blobs,
		tracker: tracker,
		opts:    opts,
		logger:  logger.With("module", "files"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func storageError(err error) error {
	if errors.Is(err, common.ErrorNotFound) {
		return err
	}
	return fmt.Errorf("%w: %w", common.ErrorStorage, err)
}

// Upload encrypts and stores the body, records an unpaid file and returns
// the invoice that unlocks it. Replication to other regions runs in the
// background after the response.
func (s *FileService) Upload(ctx context.Context, req UploadRequest) (*models.Invoice, error) {
	if req.Body == nil || req.DownloadCount < 0 || req.ExpiresAfterSeconds < 0 {
		return nil, common.ErrorBadRequest
	}

	privateKey := req.PrivateKey
	if privateKey == "" {
		var err error
		if privateKey, err = cryptox.GeneratePrivateKey(); err != nil {
			return nil, err
		}
	}

	downloads := req.DownloadCount
	if downloads == 0 {
		downloads = s.opts.DefaultDownloadCount
	}
	expiresAfter := max(req.ExpiresAfterSeconds, int64(s.opts.MinimumExpiry/time.Second))
	contentType := req.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	extension := strings.TrimPrefix(filepath.Ext(req.FileName), ".")

	storageKey := uuid.NewString()
	length, err := s.blobs.Upload(ctx, storageKey, privateKey, req.Body)
	if err != nil {
		return nil, storageError(err)
	}

	info, createdAt, err := s.ledger.Create(ctx, models.FileInfo{
		Length:             length,
		ContentType:        contentType,
		DownloadsRemaining: downloads,
		ExpiresAt:          s.now().Add(time.Duration(expiresAfter) * time.Second),
	}, storageKey, extension)
	if err != nil {
		return nil, err
	}

	sats, err := s.pricing.PriceInSatoshis(ctx, models.QuoteRequest{
		Length:              length,
		DownloadCount:       downloads,
		ExpiresAfterSeconds: expiresAfter,
	})
	if err != nil {
		return nil, err
	}

	issued, err := s.gateway.CreateInvoice(ctx, info.FileID, sats)
	if err != nil {
		return nil, err
	}

	s.tracker.Go(ctx, "finalize "+info.FileID, func(ctx context.Context) error {
		return s.finalize(ctx, storageKey, createdAt)
	})

	s.logger.Info(ctx, "file uploaded", "token", info.FileID, "length", length, "satoshis", sats)
	return &models.Invoice{
		FileInfo:   info,
		Bolt11:     issued.Bolt11,
		ExpiresAt:  issued.ExpiresAt,
		PrivateKey: privateKey,
	}, nil
}

func (s *FileService) finalize(ctx context.Context, storageKey string, createdAt time.Time) error {
	b := retry.WithMaxRetries(s.opts.FinalizeAttempts, retry.NewExponential(s.opts.FinalizeDelay))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		if err := s.blobs.Finalize(ctx, storageKey, createdAt); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

// Refresh issues an invoice for extra downloads and lifetime. The invoice is
// only returned once the refresh request is persisted.
func (s *FileService) Refresh(ctx context.Context, token string, params models.RefreshParams) (*models.Invoice, error) {
	if params.DownloadCount < 0 || params.ExpiresAfterSeconds < 0 {
		return nil, common.ErrorBadRequest
	}

	rec, err := s.ledger.GetInfo(ctx, token, false)
	if err != nil {
		return nil, err
	}

	ext := s.ledger.RefreshExtension(params.ExpiresAfterSeconds)
	sats, err := s.pricing.PriceInSatoshis(ctx, models.QuoteRequest{
		Length:              rec.Info.Length,
		DownloadCount:       params.DownloadCount,
		ExpiresAfterSeconds: int64(ext / time.Second),
	})
	if err != nil {
		return nil, err
	}

	issued, err := s.gateway.CreateInvoice(ctx, rec.Info.FileID, sats)
	if err != nil {
		return nil, err
	}

	if _, err := s.ledger.AddRefreshRequest(ctx, rec.Info, params, issued.RHash); err != nil {
		s.logger.Error(ctx, "failed to store refresh request", "token", token, "rhash", issued.RHash, "error", err)
		return nil, fmt.Errorf("%w: %w", common.ErrorInternal, err)
	}

	return &models.Invoice{
		FileInfo:  rec.Info,
		Bolt11:    issued.Bolt11,
		ExpiresAt: issued.ExpiresAt,
	}, nil
}

func (s *FileService) Quote(ctx context.Context, req models.QuoteRequest) (*models.Quote, error) {
	if req.Length < 0 || req.DownloadCount < 0 || req.ExpiresAfterSeconds < 0 {
		return nil, common.ErrorBadRequest
	}
	q, err := s.pricing.Quote(ctx, req)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// GetEncryptedFile streams the stored ciphertext of a paid file.
func (s *FileService) GetEncryptedFile(ctx context.Context, token string) (*Download, error) {
	return s.open(ctx, token, func(rec *models.FileRecord) (io.ReadCloser, error) {
		return s.blobs.OpenEncrypted(ctx, rec.StorageKey, rec.CreatedAt)
	})
}

// GetFile streams the plaintext of a paid file.
func (s *FileService) GetFile(ctx context.Context, token, privateKey string) (*Download, error) {
	if privateKey == "" {
		return nil, common.ErrorBadRequest
	}
	return s.open(ctx, token, func(rec *models.FileRecord) (io.ReadCloser, error) {
		return s.blobs.OpenDecrypted(ctx, rec.StorageKey, rec.CreatedAt, privateKey)
	})
}

func (s *FileService) open(ctx context.Context, token string, read func(*models.FileRecord) (io.ReadCloser, error)) (*Download, error) {
	rec, err := s.ledger.GetInfo(ctx, token, true)
	if err != nil {
		return nil, err
	}

	body, err := read(rec)
	if err != nil {
		return nil, storageError(err)
	}

	s.tracker.Go(ctx, "decrement "+token, func(ctx context.Context) error {
		return s.ledger.DecrementDownloads(ctx, token, 1)
	})
	return &Download{Info: rec.Info, Body: body}, nil
}

// GetInfo does not require the file to be paid.
func (s *FileService) GetInfo(ctx context.Context, token string) (*models.FileInfo, error) {
	rec, err := s.ledger.GetInfo(ctx, token, false)
	if err != nil {
		return nil, err
	}
	return &rec.Info, nil
}
