package xid

import (
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsUUIDv7(t *testing.T) {
	id, err := uuid.Parse(New())
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())
	assert.NotEqual(t, New(), New())
}

func TestReceiptFormats(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	assert.Regexp(t, regexp.MustCompile(`^TRX-20260314-\d{6}$`), SaleReceipt(now))
	assert.Regexp(t, regexp.MustCompile(`^REF-\d{13}-\d{4}$`), RefundReceipt(now))
	assert.Equal(t, "TRX-20260314-000042-S2", SplitReceipt("TRX-20260314-000042", 2))
}
