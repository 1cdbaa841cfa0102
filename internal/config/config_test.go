package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg := Load()
	assert.Empty(t, cfg.AuthSecret)
	assert.Empty(t, cfg.ManagerPIN)
}

func TestLoadLedgerAndPaymentSettings(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DEFAULT_TAX_RATE", "0.10")
	t.Setenv("PAYMENT_PROVIDER", "Xendit")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("PAYMENT_HTTP_TIMEOUT_SECONDS", "abc")

	cfg := Load()
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "0.1", cfg.DefaultTaxRate.String())
	assert.Equal(t, "xendit", cfg.Payment.Provider)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 15, cfg.Payment.HTTPTimeoutSeconds)
}

func TestLoadFallsBackOnInvalidTaxRate(t *testing.T) {
	t.Setenv("DEFAULT_TAX_RATE", "-1")

	cfg := Load()
	assert.Equal(t, "0.11", cfg.DefaultTaxRate.String())
	assert.Equal(t, "main-outlet", cfg.DefaultOutletID)
}
