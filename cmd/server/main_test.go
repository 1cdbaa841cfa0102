package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"kasirledger/backend/internal/config"
)

const strongSecret = "0123456789abcdef0123456789abcdef"

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	assert.Error(t, validateSecurityConfig(config.Config{AuthSecret: "short", ManagerPIN: "739154"}))
	assert.Error(t, validateSecurityConfig(config.Config{AuthSecret: strongSecret, ManagerPIN: "12345"}))
	assert.Error(t, validateSecurityConfig(config.Config{AuthSecret: strongSecret, ManagerPIN: "123456"}))
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	assert.NoError(t, validateSecurityConfig(config.Config{AuthSecret: strongSecret, ManagerPIN: "739154"}))
}

func TestValidateSecurityConfigNeedsGatewayKeysInProduction(t *testing.T) {
	cfg := config.Config{Env: "production", AuthSecret: strongSecret, ManagerPIN: "739154"}

	cfg.Payment = config.PaymentConfig{Provider: "midtrans"}
	assert.Error(t, validateSecurityConfig(cfg))
	cfg.Payment.MidtransServerKey = "Mid-server-live"
	assert.NoError(t, validateSecurityConfig(cfg))

	cfg.Payment = config.PaymentConfig{Provider: "xendit", XenditSecretKey: "xnd_production_x"}
	assert.Error(t, validateSecurityConfig(cfg))
	cfg.Payment.XenditCallbackToken = "cb-token"
	assert.NoError(t, validateSecurityConfig(cfg))
}

func TestValidatePINStrength(t *testing.T) {
	for _, pin := range []string{"000000", "777777", "234567", "987654", "112233"} {
		assert.Error(t, validatePINStrength(pin), pin)
	}
	for _, pin := range []string{"739154", "480271", "1357902"} {
		assert.NoError(t, validatePINStrength(pin), pin)
	}
}
