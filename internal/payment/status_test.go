package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]Status{
		"PAID":       StatusCompleted,
		"settlement": StatusCompleted,
		"SUCCEEDED":  StatusCompleted,
		"capture":    StatusCompleted,
		"pending":    StatusPending,
		"ACTIVE":     StatusPending,
		"authorize":  StatusPending,
		"EXPIRED":    StatusFailed,
		"expire":     StatusFailed,
		"deny":       StatusFailed,
		"cancel":     StatusFailed,
		"refund":     StatusRefunded,
		"REFUNDED":   StatusRefunded,
		"chargeback": StatusUnknown,
		"":           StatusUnknown,
	}
	for raw, want := range cases {
		assert.Equal(t, want, NormalizeStatus(raw), raw)
	}
}

func TestNormalizeMidtransStatusAppliesFraudScreen(t *testing.T) {
	status, review := NormalizeMidtransStatus("capture", "challenge")
	assert.Equal(t, StatusPending, status)
	assert.True(t, review)

	status, review = NormalizeMidtransStatus("capture", "deny")
	assert.Equal(t, StatusFailed, status)
	assert.False(t, review)

	status, _ = NormalizeMidtransStatus("capture", "accept")
	assert.Equal(t, StatusCompleted, status)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition("pending", StatusCompleted))
	assert.True(t, CanTransition("pending", StatusFailed))
	assert.True(t, CanTransition("completed", StatusRefunded))

	assert.False(t, CanTransition("completed", StatusCompleted))
	assert.False(t, CanTransition("completed", StatusPending))
	assert.False(t, CanTransition("completed", StatusFailed))
	assert.False(t, CanTransition("failed", StatusCompleted))
	assert.False(t, CanTransition("refunded", StatusCompleted))
	assert.False(t, CanTransition("pending", StatusRefunded))
}

func TestLookupCandidatesStripsKnownPrefixes(t *testing.T) {
	got := LookupCandidates([]string{"inv_123", "", "pay-1", "qr_abc", "pay-1"})
	assert.Equal(t, []string{"inv_123", "pay-1", "qr_abc", "123", "abc"}, got)
}
