// Package server wires the ompldr components together and runs them until
// the process is asked to stop.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/ompldr/server/internal/dbx"
	"github.com/ompldr/server/internal/logging"
	"github.com/ompldr/server/internal/server/blobstore"
	"github.com/ompldr/server/internal/server/config"
	"github.com/ompldr/server/internal/server/httpapi"
	"github.com/ompldr/server/internal/server/identity"
	"github.com/ompldr/server/internal/server/payment/lnd"
	"github.com/ompldr/server/internal/server/pricing"
	"github.com/ompldr/server/internal/server/rates"
	"github.com/ompldr/server/internal/server/repositories/repomanager"
	"github.com/ompldr/server/internal/server/services"
	"github.com/ompldr/server/internal/server/sweeper"
	"github.com/ompldr/server/internal/server/tasks"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	redis   *redis.Client
	lnd     *lnd.Backend
	gateway *services.InvoiceGateway
	tracker *tasks.Tracker
	sweeper *sweeper.Sweeper
	http    *httpapi.HTTPServer
}

func ratesFromConfig(c *config.Config) pricing.Rates {
	return pricing.Rates{
		MinimumUSD:        decimal.NewFromFloat(c.MinimumPriceUSD),
		StoragePerGBMonth: decimal.NewFromFloat(c.StoragePricePerGBMonth),
		TransferPerTB:     decimal.NewFromFloat(c.TransferPricePerTB),
		FallbackBTCPrice:  decimal.NewFromFloat(c.FallbackBTCPrice),
	}
}

func newRedisClient(c *config.Config) *redis.Client {
	if c.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	})
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	codec, err := identity.NewCodec([]byte(c.IdentityKey), []byte(c.IdentityIV))
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	objects, err := blobstore.NewS3Storage(ctx, blobstore.S3Options{
		RootUser:     c.S3RootUser,
		RootPassword: c.S3RootPassword,
		BaseEndpoint: c.S3BaseEndpoint,
		BucketPrefix: c.S3BucketPrefix,
		Regions:      c.S3Regions,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage init error: %w", err)
	}
	blobs, err := blobstore.NewStore(objects, blobstore.Options{
		Regions:       c.S3Regions,
		CurrentRegion: c.S3CurrentRegion,
		Prefix:        c.S3ObjectPrefix,
	}, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	backend, err := lnd.NewBackend(lnd.Options{
		Host:         c.LndHost,
		CertPath:     c.LndCertPath,
		MacaroonPath: c.LndMacaroonPath,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("lnd init error: %w", err)
	}

	rdb := newRedisClient(c)
	engine := pricing.NewEngine(ratesFromConfig(c), rates.NewCachedSource(rm.CoinPrices(db), rdb, c.PriceCacheTTL, logger), logger)

	ledger := services.NewFileLedger(db, dbx.NewTransactor(db, nil), rm, codec, services.LedgerOptions{
		RefreshMaxExtension: c.RefreshMaxExtension,
		UnpaidStaleAfter:    c.UnpaidStaleAfter,
	}, logger)

	gateway := services.NewInvoiceGateway(db, rm, backend, ledger, services.InvoiceOptions{
		Expiry:     c.InvoiceExpiry,
		RetryDelay: c.SubscriptionRetryDelay,
	}, logger)

	tracker := tasks.NewTracker(logger)

	files := services.NewFileService(ledger, gateway, engine, blobs, tracker, services.FileOptions{
		MinimumExpiry:        c.MinimumExpiry,
		DefaultDownloadCount: c.DefaultDownloadCount,
		FinalizeAttempts:     c.FinalizeAttempts,
		FinalizeDelay:        c.SubscriptionRetryDelay,
	}, logger)

	sw := sweeper.New(ledger, blobs, gateway, sweeper.Options{
		UnpaidCheckInterval: c.UnpaidCheckInterval,
		SweepInterval:       c.SweepInterval,
		TempMaxAge:          c.TempMaxAge,
	}, logger)

	return &App{
		config:  c,
		logger:  logger,
		db:      db,
		redis:   rdb,
		lnd:     backend,
		gateway: gateway,
		tracker: tracker,
		sweeper: sw,
		http:    httpapi.NewHTTPServer(c.HTTPAddr, logger, files),
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.http.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startSubscription(ctx context.Context) {
	if err := app.gateway.RunSubscription(ctx); err != nil {
		app.logger.Error(ctx, "settlement subscription stopped", "error", err)
	}
}

// Run blocks until a signal arrives or the HTTP server fails, then drains
// background work and releases connections.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	if err := app.sweeper.Start(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startSubscription(ctx)
	}()

	wg.Wait()

	app.sweeper.Stop()
	app.tracker.Wait()
	app.close(ctx)

	app.logger.Info(ctx, "App stopped")
}

func (app *App) close(ctx context.Context) {
	if err := app.lnd.Close(); err != nil {
		app.logger.Warn(ctx, "failed to close lnd connection", "error", err)
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Warn(ctx, "failed to close redis", "error", err)
		}
	}
	if err := app.db.Close(); err != nil {
		app.logger.Warn(ctx, "failed to close db", "error", err)
	}
}
