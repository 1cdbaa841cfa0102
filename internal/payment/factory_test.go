package payment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSelectsGatewayAndAlwaysBuildsParsers(t *testing.T) {
	providers, err := New(Config{Provider: "Xendit"})
	require.NoError(t, err)
	assert.Equal(t, ProviderXendit, providers.Gateway.Name())

	_, ok := providers.Webhook(ProviderMidtrans)
	assert.True(t, ok)
	_, ok = providers.Webhook("stripe")
	assert.False(t, ok)
}

func TestNewRejectsNoopInProduction(t *testing.T) {
	_, err := New(Config{Provider: "noop", Env: "production"})
	require.Error(t, err)

	_, err = New(Config{Env: "production"})
	require.Error(t, err)

	providers, err := New(Config{Env: "development"})
	require.NoError(t, err)
	assert.Equal(t, ProviderNoop, providers.Gateway.Name())
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(Config{Provider: "paypal"})
	assert.ErrorContains(t, err, "unknown payment provider")
}

func TestNoopSettlesImmediately(t *testing.T) {
	res, err := Noop{}.Initiate(context.Background(), InitiateRequest{PaymentID: "pay-1", AmountCents: 100})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "noop-pay-1", res.ProviderRef)
}
