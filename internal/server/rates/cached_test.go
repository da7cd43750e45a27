package rates

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ompldr/server/internal/logging"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	price     decimal.Decimal
	ok        bool
	err       error
	insertErr error
	latest    int
	inserted  []decimal.Decimal
}

func (f *fakeStore) Insert(ctx context.Context, ticker, name string, p decimal.Decimal) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, p)
	f.price, f.ok = p, true
	return nil
}

func (f *fakeStore) Latest(ctx context.Context, ticker string) (decimal.Decimal, bool, error) {
	f.latest++
	return f.price, f.ok, f.err
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLatestPrice_ReadThrough(t *testing.T) {
	mr, client := newRedis(t)
	store := &fakeStore{price: decimal.RequireFromString("50000.5"), ok: true}
	src := NewCachedSource(store, client, time.Minute, logging.NewDiscardLogger())
	ctx := context.Background()

	p, ok, err := src.LatestPrice(ctx, "BTC")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, p.Equal(decimal.RequireFromString("50000.5")))
	assert.Equal(t, 1, store.latest)

	cached, err := mr.Get("ompldr:price:BTC")
	require.NoError(t, err)
	assert.Equal(t, "50000.5", cached)
	assert.Equal(t, time.Minute, mr.TTL("ompldr:price:BTC"))

	// second call is served from redis
	p, ok, err = src.LatestPrice(ctx, "BTC")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, p.Equal(decimal.RequireFromString("50000.5")))
	assert.Equal(t, 1, store.latest)

	// expiry sends the next read back to the store
	mr.FastForward(2 * time.Minute)
	_, _, err = src.LatestPrice(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, 2, store.latest)
}

func TestLatestPrice_AbsentIsNotCached(t *testing.T) {
	mr, client := newRedis(t)
	src := NewCachedSource(&fakeStore{}, client, time.Minute, logging.NewDiscardLogger())

	_, ok, err := src.LatestPrice(context.Background(), "BTC")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists("ompldr:price:BTC"))
}

func TestLatestPrice_RedisDownFallsBackToStore(t *testing.T) {
	mr, client := newRedis(t)
	mr.Close()

	store := &fakeStore{price: decimal.NewFromInt(42000), ok: true}
	src := NewCachedSource(store, client, time.Minute, logging.NewDiscardLogger())

	p, ok, err := src.LatestPrice(context.Background(), "BTC")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, p.Equal(decimal.NewFromInt(42000)))
}

func TestLatestPrice_GarbageInCache(t *testing.T) {
	mr, client := newRedis(t)
	require.NoError(t, mr.Set("ompldr:price:BTC", "not-a-price"))

	store := &fakeStore{price: decimal.NewFromInt(30000), ok: true}
	src := NewCachedSource(store, client, time.Minute, logging.NewDiscardLogger())

	p, ok, err := src.LatestPrice(context.Background(), "BTC")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, p.Equal(decimal.NewFromInt(30000)))

	cached, _ := mr.Get("ompldr:price:BTC")
	assert.Equal(t, "30000", cached)
}

func TestLatestPrice_StoreError(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	src := NewCachedSource(store, nil, time.Minute, logging.NewDiscardLogger())

	_, _, err := src.LatestPrice(context.Background(), "BTC")
	assert.EqualError(t, err, "db down")
}

func TestInsertPrice_WritesThrough(t *testing.T) {
	mr, client := newRedis(t)
	store := &fakeStore{}
	src := NewCachedSource(store, client, time.Minute, logging.NewDiscardLogger())

	require.NoError(t, src.InsertPrice(context.Background(), "BTC", "Bitcoin", decimal.RequireFromString("61000.25")))
	assert.Len(t, store.inserted, 1)

	cached, err := mr.Get("ompldr:price:BTC")
	require.NoError(t, err)
	assert.Equal(t, "61000.25", cached)
}

func TestInsertPrice_StoreErrorSkipsCache(t *testing.T) {
	mr, client := newRedis(t)
	src := NewCachedSource(&fakeStore{insertErr: errors.New("nope")}, client, time.Minute, logging.NewDiscardLogger())

	err := src.InsertPrice(context.Background(), "BTC", "Bitcoin", decimal.NewFromInt(1))
	assert.Error(t, err)
	assert.False(t, mr.Exists("ompldr:price:BTC"))
}

func TestNoRedis_UsesStoreEveryTime(t *testing.T) {
	store := &fakeStore{price: decimal.NewFromInt(1), ok: true}
	src := NewCachedSource(store, nil, time.Minute, logging.NewDiscardLogger())

	for i := 0; i < 3; i++ {
		_, _, err := src.LatestPrice(context.Background(), "BTC")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, store.latest)
}
