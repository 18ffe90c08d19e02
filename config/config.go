/*
config.go - Runtime configuration for the billing service

PURPOSE:

	Reads every setting from the environment. A .env file in the working
	directory is loaded first when present, real environment variables win.

KEYS:

	APP_ENV              development | production        (development)
	APP_ADDR             listen address                  (:8080)
	DB_PATH              sqlite file, ":memory:" allowed (billing.db)
	REDIS_ADDR           evaluator cache, empty disables ("")
	LOG_LEVEL            zerolog level name              (info)
	BILLING_INTERVAL     periodic billing run, 0 disables (0)
	BILLING_CONCURRENCY  parallel invoice creations      (8)
	VAT_RATE             invoice tax rate                (0.20)
	PAYMENT_TERMS_DAYS   due date offset                 (30)
	INDEX_CACHE_TTL      evaluator cache entry lifetime  (10m)

SEE ALSO:

	cmd/server/main.go: Loads the config at startup
	logging/logger.go:  Uses AppEnv and LogLevel
*/
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Config holds runtime configuration for the service.
type Config struct {
	AppEnv  string `envconfig:"APP_ENV" default:"development"`
	AppAddr string `envconfig:"APP_ADDR" default:":8080"`

	DBPath    string `envconfig:"DB_PATH" default:"billing.db"`
	RedisAddr string `envconfig:"REDIS_ADDR"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	BillingInterval    time.Duration `envconfig:"BILLING_INTERVAL" default:"0"`
	BillingConcurrency int           `envconfig:"BILLING_CONCURRENCY" default:"8"`

	VATRate          decimal.Decimal `envconfig:"VAT_RATE" default:"0.20"`
	PaymentTermsDays int             `envconfig:"PAYMENT_TERMS_DAYS" default:"30"`

	IndexCacheTTL time.Duration `envconfig:"INDEX_CACHE_TTL" default:"10m"`
}

// Load reads .env (if any) then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the environment only.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.BillingConcurrency < 1 {
		return fmt.Errorf("BILLING_CONCURRENCY must be at least 1, got %d", c.BillingConcurrency)
	}
	if c.BillingInterval < 0 {
		return fmt.Errorf("BILLING_INTERVAL must not be negative, got %s", c.BillingInterval)
	}
	if c.VATRate.IsNegative() {
		return fmt.Errorf("VAT_RATE must not be negative, got %s", c.VATRate)
	}
	if c.PaymentTermsDays < 0 {
		return fmt.Errorf("PAYMENT_TERMS_DAYS must not be negative, got %d", c.PaymentTermsDays)
	}
	return nil
}

// IsProduction returns true when the service runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// IsDevelopment returns true for the default environment.
func (c *Config) IsDevelopment() bool {
	return c != nil && c.AppEnv == "development"
}
