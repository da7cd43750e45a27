// Package rates serves exchange rates to the pricing engine. Prices live in
// Postgres; a Redis read-through cache sits in front when configured.
package rates

import (
	"context"
	"errors"
	"time"

	"github.com/ompldr/server/internal/logging"
	"github.com/ompldr/server/internal/server/repositories/coinprices"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const keyPrefix = "ompldr:price:"

// CachedSource implements pricing.RateSource. A nil Redis client disables
// caching and every lookup goes to the store.
type CachedSource struct {
	store  coinprices.Repository
	redis  *redis.Client
	ttl    time.Duration
	logger logging.Logger
}

func NewCachedSource(store coinprices.Repository, client *redis.Client, ttl time.Duration, logger logging.Logger) *CachedSource {
	return &CachedSource{store: store, redis: client, ttl: ttl, logger: logger.With("module", "rates")}
}

func cacheKey(ticker string) string {
	return keyPrefix + ticker
}

func (s *CachedSource) LatestPrice(ctx context.Context, ticker string) (decimal.Decimal, bool, error) {
	if s.redis != nil {
		v, err := s.redis.Get(ctx, cacheKey(ticker)).Result()
		switch {
		case err == nil:
			price, perr := decimal.NewFromString(v)
			if perr == nil {
				return price, true, nil
			}
			s.logger.Warn(ctx, "dropping unparsable cached price", "ticker", ticker, "value", v)
		case errors.Is(err, redis.Nil):
		default:
			s.logger.Warn(ctx, "price cache unavailable", "ticker", ticker, "error", err)
		}
	}

	price, ok, err := s.store.Latest(ctx, ticker)
	if err != nil || !ok {
		return price, ok, err
	}
	s.remember(ctx, ticker, price)
	return price, true, nil
}

// InsertPrice records a new sample and refreshes the cache.
func (s *CachedSource) InsertPrice(ctx context.Context, ticker, name string, price decimal.Decimal) error {
	if err := s.store.Insert(ctx, ticker, name, price); err != nil {
		return err
	}
	s.remember(ctx, ticker, price)
	return nil
}

func (s *CachedSource) remember(ctx context.Context, ticker string, price decimal.Decimal) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Set(ctx, cacheKey(ticker), price.String(), s.ttl).Err(); err != nil {
		s.logger.Warn(ctx, "failed to cache price", "ticker", ticker, "error", err)
	}
}
