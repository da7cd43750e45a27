package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ompldr/server/internal/common"
	"github.com/ompldr/server/internal/dbx"
	"github.com/ompldr/server/internal/logging"
	"github.com/ompldr/server/internal/server/models"
	"github.com/ompldr/server/internal/server/repositories/repomanager"
	"github.com/sethvargo/go-retry"
)

// SettlementStream yields invoice updates until the connection breaks.
type SettlementStream interface {
	Recv() (*models.Settlement, error)
}

// PaymentBackend is the invoice issuing node.
type PaymentBackend interface {
	CreateInvoice(ctx context.Context, memo string, satoshis int64, expiry time.Duration) (bolt11, rhash string, err error)
	SubscribeSettlements(ctx context.Context) (SettlementStream, error)
	LookupInvoice(ctx context.Context, rhash string) (*models.Settlement, error)
}

// Settler is the part of the ledger that payment paths write through.
type Settler interface {
	MarkPaid(ctx context.Context, token, rhash string, paid bool) (int64, error)
	GetUnpaidTokens(ctx context.Context) ([]string, error)
}

type InvoiceOptions struct {
	Expiry     time.Duration
	RetryDelay time.Duration
}

type InvoiceGateway struct {
	db          dbx.DBTX
	repomanager repomanager.RepositoryManager
	backend     PaymentBackend
	ledger      Settler
	opts        InvoiceOptions
	logger      logging.Logger
	now         func() time.Time
}

func NewInvoiceGateway(db dbx.DBTX, rm repomanager.RepositoryManager, backend PaymentBackend, ledger Settler, opts InvoiceOptions, logger logging.Logger) *InvoiceGateway {
	return &InvoiceGateway{
		db:          db,
		repomanager: rm,
		backend:     backend,
		ledger:      ledger,
		opts:        opts,
		logger:      logger.With("module", "invoices"),
		now:         time.Now,
	}
}

// CreateInvoice issues an invoice for memo and records it. Backend failures
// are returned as common.ErrorPaymentBackend and never retried here.
func (g *InvoiceGateway) CreateInvoice(ctx context.Context, memo string, satoshis int64) (*models.IssuedInvoice, error) {
	bolt11, rhash, err := g.backend.CreateInvoice(ctx, memo, satoshis, g.opts.Expiry)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrorPaymentBackend, err)
	}

	rec := &models.InvoiceRecord{Memo: memo, Bolt11: bolt11, RHash: rhash}
	if err := g.repomanager.Invoices(g.db).Create(ctx, rec); err != nil {
		return nil, err
	}

	g.logger.Info(ctx, "invoice created", "memo", memo, "rhash", rhash, "satoshis", satoshis)
	return &models.IssuedInvoice{
		Bolt11:    bolt11,
		RHash:     rhash,
		ExpiresAt: g.now().Add(g.opts.Expiry).UTC(),
	}, nil
}

// HandleSettlement applies one backend update. Unsettled updates are ignored.
func (g *InvoiceGateway) HandleSettlement(ctx context.Context, s *models.Settlement) error {
	if s == nil || !s.Settled {
		return nil
	}
	n, err := g.ledger.MarkPaid(ctx, s.Memo, s.RHash, true)
	if err != nil {
		return err
	}
	if n == 0 {
		g.logger.Debug(ctx, "settlement already applied", "memo", s.Memo, "rhash", s.RHash)
	}
	return nil
}

// RunSubscription keeps a settlement subscription open until ctx is done,
// reconnecting after a fixed delay whenever the stream fails.
func (g *InvoiceGateway) RunSubscription(ctx context.Context) error {
	b := retry.NewConstant(g.opts.RetryDelay)
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		err := g.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		g.logger.Warn(ctx, "settlement subscription dropped, reconnecting", "error", err)
		return retry.RetryableError(err)
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (g *InvoiceGateway) consume(ctx context.Context) error {
	stream, err := g.backend.SubscribeSettlements(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrorPaymentBackend, err)
	}
	g.logger.Info(ctx, "settlement subscription open")
	for {
		s, err := stream.Recv()
		if err != nil {
			return fmt.Errorf("%w: %w", common.ErrorPaymentBackend, err)
		}
		if err := g.HandleSettlement(ctx, s); err != nil {
			g.logger.Error(ctx, "failed to apply settlement", "memo", s.Memo, "rhash", s.RHash, "error", err)
		}
	}
}

// ReconcileUnpaid polls the backend for every unpaid file and applies the
// settlements the subscription missed. Per-file failures are logged and
// skipped. It returns how many files were marked paid.
func (g *InvoiceGateway) ReconcileUnpaid(ctx context.Context) (int, error) {
	tokens, err := g.ledger.GetUnpaidTokens(ctx)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, token := range tokens {
		inv, err := g.repomanager.Invoices(g.db).FirstByMemo(ctx, token)
		if err != nil {
			if !errors.Is(err, common.ErrorNotFound) {
				g.logger.Error(ctx, "failed to find invoice", "token", token, "error", err)
			}
			continue
		}

		s, err := g.backend.LookupInvoice(ctx, inv.RHash)
		if err != nil {
			g.logger.Warn(ctx, "invoice lookup failed", "token", token, "rhash", inv.RHash, "error", err)
			continue
		}
		if !s.Settled {
			continue
		}

		n, err := g.ledger.MarkPaid(ctx, token, inv.RHash, true)
		if err != nil {
			g.logger.Error(ctx, "failed to mark file paid", "token", token, "error", err)
			continue
		}
		if n > 0 {
			settled++
		}
	}

	if settled > 0 {
		g.logger.Info(ctx, "reconciled unpaid files", "checked", len(tokens), "settled", settled)
	}
	return settled, nil
}
