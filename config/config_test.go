package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/energy-billing/config"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := config.FromEnv()

	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, 8, cfg.BillingConcurrency)
	assert.Equal(t, "0.2", cfg.VATRate.String())
	assert.Equal(t, 30, cfg.PaymentTermsDays)
	assert.Equal(t, 10*time.Minute, cfg.IndexCacheTTL)
	assert.Zero(t, cfg.BillingInterval)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DB_PATH", ":memory:")
	t.Setenv("BILLING_INTERVAL", "1h")
	t.Setenv("BILLING_CONCURRENCY", "2")
	t.Setenv("VAT_RATE", "0.055")

	cfg, err := config.FromEnv()

	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, ":memory:", cfg.DBPath)
	assert.Equal(t, time.Hour, cfg.BillingInterval)
	assert.Equal(t, 2, cfg.BillingConcurrency)
	assert.Equal(t, "0.055", cfg.VATRate.String())
}

func TestFromEnv_Invalid(t *testing.T) {
	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("INDEX_CACHE_TTL", "soon")
		_, err := config.FromEnv()
		assert.Error(t, err)
	})

	t.Run("zero concurrency", func(t *testing.T) {
		t.Setenv("BILLING_CONCURRENCY", "0")
		_, err := config.FromEnv()
		assert.ErrorContains(t, err, "BILLING_CONCURRENCY")
	})

	t.Run("negative vat", func(t *testing.T) {
		t.Setenv("VAT_RATE", "-0.1")
		_, err := config.FromEnv()
		assert.ErrorContains(t, err, "VAT_RATE")
	})
}
