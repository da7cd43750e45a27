// Package pricing computes what a file drop costs in USD and satoshis.
package pricing

import (
	"context"
	"fmt"

	"github.com/ompldr/server/internal/logging"
	"github.com/ompldr/server/internal/server/models"
	"github.com/shopspring/decimal"
)

// TickerBTC is the exchange-rate ticker used for satoshi conversion.
const TickerBTC = "BTC"

const (
	bytesPerGB      = int64(1) << 30
	bytesPerTB      = int64(1) << 40
	secondsPerMonth = int64(31 * 24 * 3600)

	// intermediate USD amounts keep this many decimal places
	usdPrecision = 12
)

var satoshisPerBTC = decimal.NewFromInt(100_000_000)

// RateSource returns the most recent USD price of ticker. ok is false when
// no price has been recorded.
type RateSource interface {
	LatestPrice(ctx context.Context, ticker string) (price decimal.Decimal, ok bool, err error)
}

// Rates are the provider prices the per-byte rates are derived from.
type Rates struct {
	MinimumUSD        decimal.Decimal
	StoragePerGBMonth decimal.Decimal
	TransferPerTB     decimal.Decimal
	FallbackBTCPrice  decimal.Decimal
}

func DefaultRates() Rates {
	return Rates{
		MinimumUSD:        decimal.RequireFromString("0.10"),
		StoragePerGBMonth: decimal.RequireFromString("0.05"),
		TransferPerTB:     decimal.RequireFromString("0.15"),
		FallbackBTCPrice:  decimal.NewFromInt(10000),
	}
}

type Engine struct {
	rates  Rates
	source RateSource
	logger logging.Logger
}

func NewEngine(rates Rates, source RateSource, logger logging.Logger) *Engine {
	return &Engine{rates: rates, source: source, logger: logger.With("module", "pricing")}
}

// PriceInUSD = minimum + storage(length·downloads·seconds) + transfer(length·downloads).
// Every product is formed exactly before the single division per term, so the
// result never decreases when any input grows.
func (e *Engine) PriceInUSD(req models.QuoteRequest) decimal.Decimal {
	length := decimal.NewFromInt(req.Length)
	downloads := decimal.NewFromInt(req.DownloadCount)
	seconds := decimal.NewFromInt(req.ExpiresAfterSeconds)

	storage := e.rates.StoragePerGBMonth.
		Mul(length).Mul(downloads).Mul(seconds).
		DivRound(decimal.NewFromInt(bytesPerGB).Mul(decimal.NewFromInt(secondsPerMonth)), usdPrecision)

	transfer := e.rates.TransferPerTB.
		Mul(length).Mul(downloads).
		DivRound(decimal.NewFromInt(bytesPerTB), usdPrecision)

	return e.rates.MinimumUSD.Add(storage).Add(transfer)
}

// ToSatoshis converts usd at price USD/BTC, rounding half up.
func ToSatoshis(usd, price decimal.Decimal) int64 {
	return usd.Mul(satoshisPerBTC).DivRound(price, 0).IntPart()
}

func (e *Engine) btcPrice(ctx context.Context) (decimal.Decimal, error) {
	price, ok, err := e.source.LatestPrice(ctx, TickerBTC)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read %s price: %w", TickerBTC, err)
	}
	if !ok || !price.IsPositive() {
		e.logger.Warn(ctx, "no exchange rate recorded, using fallback", "ticker", TickerBTC, "price", e.rates.FallbackBTCPrice.String())
		return e.rates.FallbackBTCPrice, nil
	}
	return price, nil
}

func (e *Engine) PriceInSatoshis(ctx context.Context, req models.QuoteRequest) (int64, error) {
	q, err := e.Quote(ctx, req)
	if err != nil {
		return 0, err
	}
	return q.Satoshis, nil
}

func (e *Engine) Quote(ctx context.Context, req models.QuoteRequest) (models.Quote, error) {
	price, err := e.btcPrice(ctx)
	if err != nil {
		return models.Quote{}, err
	}
	usd := e.PriceInUSD(req)
	return models.Quote{
		QuoteRequest: req,
		Satoshis:     ToSatoshis(usd, price),
		USD:          usd.InexactFloat64(),
	}, nil
}
