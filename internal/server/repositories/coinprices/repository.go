package coinprices

import (
	"context"

	"github.com/shopspring/decimal"
)

// Repository stores exchange-rate samples. Only the latest sample per
// ticker matters; older ones are pruned on insert.
type Repository interface {
	Insert(ctx context.Context, ticker, name string, priceUSD decimal.Decimal) error
	Latest(ctx context.Context, ticker string) (decimal.Decimal, bool, error)
}
