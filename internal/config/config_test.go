package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.App.IsDev(), "error detail stays hidden unless APP_ENV opts in")
	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, 24*time.Hour, cfg.App.IdempotencyTTL)
	assert.Equal(t, "lead-purchases", cfg.Kafka.PurchasesTopic)
	assert.Equal(t, "payment-settlements", cfg.Kafka.SettlementsTopic)
	assert.False(t, cfg.Kafka.Enabled())
	assert.False(t, cfg.Redis.Enabled())
	assert.Equal(t, GatewayNone, cfg.Payment.Gateway)
	assert.True(t, cfg.Risk.MaxDailyAmount.IsZero())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("APP_ENV", "development")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("RISK_MAX_PAYMENTS_PER_HOUR", "3")
	t.Setenv("RISK_MAX_DAILY_AMOUNT", "25000.50")
	t.Setenv("PAYMENT_GATEWAY", "manual")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.App.IsDev())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, 3, cfg.Risk.MaxPaymentsPerHour)
	assert.Equal(t, "25000.5", cfg.Risk.MaxDailyAmount.String())
	assert.Equal(t, GatewayManual, cfg.Payment.Gateway)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing secret", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "")
		require.NoError(t, os.Unsetenv("JWT_SECRET"))
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("unknown gateway", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "s3cret")
		t.Setenv("PAYMENT_GATEWAY", "carrier-pigeon")
		_, err := Load()
		assert.Error(t, err)
	})
}
