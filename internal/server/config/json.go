package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/ompldr/server/internal/flagx"
	"github.com/ompldr/server/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Durations may be
// given as "5m" strings or integer nanoseconds. Fields that are absent or
// zero leave the current value untouched.
type JsonConfig struct {
	HTTPAddr    string `json:"http_addr"`
	DatabaseDSN string `json:"database_dsn"`
	LogLevel    string `json:"log_level"`

	IdentityKey string `json:"identity_key"`
	IdentityIV  string `json:"identity_iv"`

	S3RootUser      string   `json:"s3_root_user"`
	S3RootPassword  string   `json:"s3_root_password"`
	S3BaseEndpoint  string   `json:"s3_base_endpoint"`
	S3BucketPrefix  string   `json:"s3_bucket_prefix"`
	S3ObjectPrefix  string   `json:"s3_object_prefix"`
	S3Regions       []string `json:"s3_regions"`
	S3CurrentRegion string   `json:"s3_current_region"`

	LndHost         string `json:"lnd_host"`
	LndCertPath     string `json:"lnd_cert_path"`
	LndMacaroonPath string `json:"lnd_macaroon_path"`

	RedisAddr     string         `json:"redis_addr"`
	RedisPassword string         `json:"redis_password"`
	RedisDB       int            `json:"redis_db"`
	PriceCacheTTL timex.Duration `json:"price_cache_ttl"`

	InvoiceExpiry          timex.Duration `json:"invoice_expiry"`
	UnpaidCheckInterval    timex.Duration `json:"unpaid_check_interval"`
	SweepInterval          timex.Duration `json:"sweep_interval"`
	SubscriptionRetryDelay timex.Duration `json:"subscription_retry_delay"`
	UnpaidStaleAfter       timex.Duration `json:"unpaid_stale_after"`
	TempMaxAge             timex.Duration `json:"temp_max_age"`
	RefreshMaxExtension    timex.Duration `json:"refresh_max_extension"`
	MinimumExpiry          timex.Duration `json:"minimum_expiry"`
	FinalizeAttempts       uint64         `json:"finalize_attempts"`

	DefaultDownloadCount int64 `json:"default_download_count"`

	MinimumPriceUSD        float64 `json:"minimum_price_usd"`
	StoragePricePerGBMonth float64 `json:"storage_price_per_gb_month"`
	TransferPricePerTB     float64 `json:"transfer_price_per_tb"`
	FallbackBTCPrice       float64 `json:"fallback_btc_price"`
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}

func setNumber[T int | int64 | uint64 | float64](dst *T, v T) {
	if v != 0 {
		*dst = v
	}
}

// parseJson loads the file named by -c/-config, if any, and overlays it on
// config. An unreadable file or invalid JSON panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.IdentityKey, c.IdentityKey)
	setString(&config.IdentityIV, c.IdentityIV)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.S3BucketPrefix, c.S3BucketPrefix)
	setString(&config.S3ObjectPrefix, c.S3ObjectPrefix)
	setString(&config.S3CurrentRegion, c.S3CurrentRegion)
	if len(c.S3Regions) > 0 {
		config.S3Regions = c.S3Regions
	}
	setString(&config.LndHost, c.LndHost)
	setString(&config.LndCertPath, c.LndCertPath)
	setString(&config.LndMacaroonPath, c.LndMacaroonPath)
	setString(&config.RedisAddr, c.RedisAddr)
	setString(&config.RedisPassword, c.RedisPassword)
	setNumber(&config.RedisDB, c.RedisDB)

	setDuration(&config.PriceCacheTTL, c.PriceCacheTTL)
	setDuration(&config.InvoiceExpiry, c.InvoiceExpiry)
	setDuration(&config.UnpaidCheckInterval, c.UnpaidCheckInterval)
	setDuration(&config.SweepInterval, c.SweepInterval)
	setDuration(&config.SubscriptionRetryDelay, c.SubscriptionRetryDelay)
	setDuration(&config.UnpaidStaleAfter, c.UnpaidStaleAfter)
	setDuration(&config.TempMaxAge, c.TempMaxAge)
	setDuration(&config.RefreshMaxExtension, c.RefreshMaxExtension)
	setDuration(&config.MinimumExpiry, c.MinimumExpiry)
	setNumber(&config.FinalizeAttempts, c.FinalizeAttempts)

	setNumber(&config.DefaultDownloadCount, c.DefaultDownloadCount)

	setNumber(&config.MinimumPriceUSD, c.MinimumPriceUSD)
	setNumber(&config.StoragePricePerGBMonth, c.StoragePricePerGBMonth)
	setNumber(&config.TransferPricePerTB, c.TransferPricePerTB)
	setNumber(&config.FallbackBTCPrice, c.FallbackBTCPrice)
}
