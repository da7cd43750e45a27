package sweeper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ompldr/server/internal/logging"
	"github.com/ompldr/server/internal/server/identity"
	"github.com/ompldr/server/internal/server/models"
	"github.com/ompldr/server/internal/server/repositories/memory"
	"github.com/ompldr/server/internal/server/services"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBlobs struct {
	mu         sync.Mutex
	failFor    map[string]bool
	deleted    []string
	cleanupN   int
	cleanupErr error
	olderThan  time.Time
}

func (b *fakeBlobs) Delete(ctx context.Context, storageKey string, createdAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failFor[storageKey] {
		return errors.New("region unavailable")
	}
	b.deleted = append(b.deleted, storageKey)
	return nil
}

func (b *fakeBlobs) CleanupTemp(ctx context.Context, olderThan time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.olderThan = olderThan
	return b.cleanupN, b.cleanupErr
}

type fakeReconciler struct {
	calls atomic.Int32
}

func (r *fakeReconciler) ReconcileUnpaid(context.Context) (int, error) {
	r.calls.Add(1)
	return 0, nil
}

func newLedger(t *testing.T) *services.FileLedger {
	t.Helper()
	codec, err := identity.NewCodec([]byte("0123456789abcdef"), []byte("fedcba9876543210"))
	require.NoError(t, err)
	return services.NewFileLedger(nil, memory.Transactor{}, memory.NewInMemoryRepositoryManager(memory.NewStore()), codec,
		services.LedgerOptions{RefreshMaxExtension: time.Hour, UnpaidStaleAfter: time.Hour}, logging.NewDiscardLogger())
}

func addFile(t *testing.T, l *services.FileLedger, key string, downloads int64, paid bool) string {
	t.Helper()
	info, _, err := l.Create(context.Background(), models.FileInfo{
		Length:             1,
		DownloadsRemaining: downloads,
		ExpiresAt:          time.Now().Add(time.Hour),
	}, key, "")
	require.NoError(t, err)
	if paid {
		_, err = l.MarkPaid(context.Background(), info.FileID, "rh-"+key, true)
		require.NoError(t, err)
	}
	return info.FileID
}

func TestSweeper_RemoveExpired(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	blobs := &fakeBlobs{failFor: map[string]bool{"stuck": true}}
	s := New(l, blobs, &fakeReconciler{}, Options{TempMaxAge: time.Hour}, logging.NewDiscardLogger())

	live := addFile(t, l, "live", 5, true)
	gone := addFile(t, l, "gone", 0, true)
	stuck := addFile(t, l, "stuck", 0, true)

	n, err := s.RemoveExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"gone"}, blobs.deleted)

	_, err = l.GetInfo(ctx, live, false)
	assert.NoError(t, err)
	_, err = l.GetInfo(ctx, gone, false)
	assert.Error(t, err)

	// stuck is still in the ledger and is retried next time
	recs, err := l.GetExpired(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, stuck, recs[0].Info.FileID)

	blobs.failFor = nil
	n, err = s.RemoveExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	recs, err = l.GetExpired(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestSweeper_RemoveExpired_Nothing(t *testing.T) {
	s := New(newLedger(t), &fakeBlobs{}, &fakeReconciler{}, Options{}, logging.NewDiscardLogger())
	n, err := s.RemoveExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweeper_CleanupTemp(t *testing.T) {
	blobs := &fakeBlobs{cleanupN: 3, cleanupErr: errors.New("one region failed")}
	s := New(newLedger(t), blobs, &fakeReconciler{}, Options{TempMaxAge: time.Hour}, logging.NewDiscardLogger())
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	n, err := s.CleanupTemp(context.Background())
	assert.Equal(t, 3, n)
	assert.Error(t, err)
	assert.Equal(t, now.Add(-time.Hour), blobs.olderThan)
}

func TestSweeper_StartStop(t *testing.T) {
	rec := &fakeReconciler{}
	s := New(newLedger(t), &fakeBlobs{}, rec, Options{
		UnpaidCheckInterval: time.Second,
		SweepInterval:       time.Hour,
		TempMaxAge:          time.Hour,
	}, logging.NewDiscardLogger())

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return rec.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	s.Stop()
}

type namedJob struct{}

func (namedJob) Run()         { panic("boom") }
func (namedJob) Name() string { return "named" }

type plainJob struct{ ran bool }

func (j *plainJob) Run() { j.ran = true }

func TestWrappers(t *testing.T) {
	log := logging.NewDiscardLogger()
	assert.Equal(t, "named", jobName(namedJob{}))
	assert.Equal(t, "sweeper.plainJob", jobName(&plainJob{}))

	wrapped := cron.NewChain(recoveryWrapper(log), loggingWrapper(log)).Then(namedJob{})
	assert.NotPanics(t, wrapped.Run)

	j := &plainJob{}
	cron.NewChain(recoveryWrapper(log), loggingWrapper(log)).Then(j).Run()
	assert.True(t, j.ran)
}

func TestJob_RunLogsError(t *testing.T) {
	called := false
	j := &job{ctx: context.Background(), name: "x", logger: logging.NewDiscardLogger(), run: func(context.Context) error {
		called = true
		return errors.New("failed")
	}}
	assert.NotPanics(t, j.Run)
	assert.True(t, called)
}
