package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "")
	t.Setenv("SESSION_TIMEOUT", "")
	t.Setenv("PRIZE_POOL_PERCENTAGE", "")
	t.Setenv("CHAIN_ID", "")
	t.Setenv("NONCE_RETENTION", "")

	cfg := Load()
	assert.Equal(t, "postgres", cfg.StorageBackend)
	assert.Equal(t, 15*time.Minute, cfg.SessionTimeout)
	assert.True(t, cfg.PrizePoolPercentage.Equal(decimal.NewFromInt(70)))
	assert.Equal(t, int64(338), cfg.ChainID)
	assert.Equal(t, "daily 00:05", cfg.PrizeFinalizationSchedule)
	assert.Equal(t, 30*24*time.Hour, cfg.NonceRetention)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "SQLite")
	t.Setenv("SESSION_TIMEOUT", "90")
	t.Setenv("FACILITATOR_TIMEOUT", "2s")
	t.Setenv("PRIZE_POOL_PERCENTAGE", "62.5")
	t.Setenv("MIGRATE_ON_START", "true")
	t.Setenv("PAYMENT_RATE_LIMIT", "not-a-number")

	cfg := Load()
	assert.Equal(t, "sqlite", cfg.StorageBackend)
	assert.Equal(t, 90*time.Second, cfg.SessionTimeout)
	assert.Equal(t, 2*time.Second, cfg.FacilitatorTimeout)
	assert.Equal(t, "62.5", cfg.PrizePoolPercentage.String())
	assert.True(t, cfg.MigrateOnStart)
	assert.Equal(t, 10, cfg.PaymentRateLimit)
}
