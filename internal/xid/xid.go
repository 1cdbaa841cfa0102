package xid

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New returns a time-ordered identifier. Falls back to a random v4 when the
// v7 clock source fails.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// SaleReceipt formats TRX-YYYYMMDD-NNNNNN.
func SaleReceipt(now time.Time) string {
	return fmt.Sprintf("TRX-%s-%06d", now.Format("20060102"), randN(1_000_000))
}

// RefundReceipt formats REF-<unix millis>-NNNN.
func RefundReceipt(now time.Time) string {
	return fmt.Sprintf("REF-%d-%04d", now.UnixMilli(), randN(10_000))
}

// SplitReceipt derives the 1-indexed child receipt of a split bill.
func SplitReceipt(parent string, index int) string {
	return fmt.Sprintf("%s-S%d", parent, index)
}

func randN(n uint64) uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return uint64(time.Now().UnixNano()) % n
	}
	return binary.BigEndian.Uint64(buf[:]) % n
}
