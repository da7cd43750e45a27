// Package sweeper runs the periodic reconciliation jobs: re-checking unpaid
// invoices, reaping expired files and clearing abandoned temp uploads.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/ompldr/server/internal/logging"
	"github.com/ompldr/server/internal/server/models"
	"github.com/robfig/cron/v3"
)

type Ledger interface {
	GetExpired(ctx context.Context) ([]*models.FileRecord, error)
	DeleteRecords(ctx context.Context, tokens []string) error
}

type Blobs interface {
	Delete(ctx context.Context, storageKey string, createdAt time.Time) error
	CleanupTemp(ctx context.Context, olderThan time.Time) (int, error)
}

type Reconciler interface {
	ReconcileUnpaid(ctx context.Context) (int, error)
}

type Options struct {
	UnpaidCheckInterval time.Duration
	SweepInterval       time.Duration
	TempMaxAge          time.Duration
}

type Sweeper struct {
	ledger     Ledger
	blobs      Blobs
	reconciler Reconciler
	opts       Options
	logger     logging.Logger
	cron       *cron.Cron
	now        func() time.Time
}

func New(ledger Ledger, blobs Blobs, reconciler Reconciler, opts Options, logger logging.Logger) *Sweeper {
	logger = logger.With("module", "sweeper")
	c := cron.New(
		cron.WithLogger(cronLogger{logger: logger}),
		cron.WithChain(
			recoveryWrapper(logger),
			loggingWrapper(logger),
			cron.DelayIfStillRunning(cronLogger{logger: logger}),
		),
	)
	return &Sweeper{
		ledger:     ledger,
		blobs:      blobs,
		reconciler: reconciler,
		opts:       opts,
		logger:     logger,
		cron:       c,
		now:        time.Now,
	}
}

// RemoveExpired deletes the blobs of every expired file and then the ledger
// rows of those whose blobs are gone. Files whose blob deletion failed stay
// in the ledger for the next sweep. It returns the number of files removed.
func (s *Sweeper) RemoveExpired(ctx context.Context) (int, error) {
	records, err := s.ledger.GetExpired(ctx)
	if err != nil {
		return 0, err
	}

	deleted := make([]string, 0, len(records))
	for _, rec := range records {
		if err := s.blobs.Delete(ctx, rec.StorageKey, rec.CreatedAt); err != nil {
			s.logger.Warn(ctx, "failed to delete expired blob", "token", rec.Info.FileID, "error", err)
			continue
		}
		deleted = append(deleted, rec.Info.FileID)
	}
	if len(deleted) == 0 {
		return 0, nil
	}

	if err := s.ledger.DeleteRecords(ctx, deleted); err != nil {
		return 0, err
	}
	s.logger.Info(ctx, "removed expired files", "count", len(deleted), "pending", len(records)-len(deleted))
	return len(deleted), nil
}

// CleanupTemp removes temp uploads older than the configured age.
func (s *Sweeper) CleanupTemp(ctx context.Context) (int, error) {
	n, err := s.blobs.CleanupTemp(ctx, s.now().Add(-s.opts.TempMaxAge))
	if n > 0 {
		s.logger.Info(ctx, "removed temp objects", "count", n)
	}
	return n, err
}

func (s *Sweeper) ReconcileUnpaid(ctx context.Context) (int, error) {
	return s.reconciler.ReconcileUnpaid(ctx)
}

func (s *Sweeper) sweep(ctx context.Context) error {
	_, errExpired := s.RemoveExpired(ctx)
	_, errTemp := s.CleanupTemp(ctx)
	if errExpired != nil {
		return errExpired
	}
	return errTemp
}

type job struct {
	ctx    context.Context
	name   string
	run    func(ctx context.Context) error
	logger logging.Logger
}

func (j *job) Name() string { return j.name }

func (j *job) Run() {
	if err := j.run(j.ctx); err != nil {
		j.logger.Error(j.ctx, "job failed", "job_name", j.name, "error", err)
	}
}

func (s *Sweeper) addJob(ctx context.Context, every time.Duration, name string, run func(ctx context.Context) error) error {
	_, err := s.cron.AddJob(fmt.Sprintf("@every %s", every), &job{ctx: ctx, name: name, run: run, logger: s.logger})
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	return nil
}

// Start schedules the jobs and returns immediately. ctx is handed to every
// run; cancelling it makes in-flight runs abort their I/O.
func (s *Sweeper) Start(ctx context.Context) error {
	if err := s.addJob(ctx, s.opts.UnpaidCheckInterval, "reconcile-unpaid", func(ctx context.Context) error {
		_, err := s.ReconcileUnpaid(ctx)
		return err
	}); err != nil {
		return err
	}
	if err := s.addJob(ctx, s.opts.SweepInterval, "sweep", s.sweep); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info(ctx, "sweeper started", "unpaid_check_interval", s.opts.UnpaidCheckInterval, "sweep_interval", s.opts.SweepInterval)
	return nil
}

// Stop stops scheduling and waits for running jobs to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info(context.Background(), "sweeper stopped")
}
