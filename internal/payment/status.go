package payment

import "strings"

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
	StatusUnknown   Status = "unknown"
)

// NormalizeStatus maps a provider status word onto the ledger vocabulary.
// Anything unrecognised is StatusUnknown, which callers acknowledge and
// otherwise ignore.
func NormalizeStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "paid", "settled", "settlement", "succeeded", "success", "captured", "capture", "completed":
		return StatusCompleted
	case "pending", "active", "authorize":
		return StatusPending
	case "expired", "expire", "failed", "failure", "voided", "void", "cancelled", "canceled", "cancel", "deny":
		return StatusFailed
	case "refunded", "refund":
		return StatusRefunded
	default:
		return StatusUnknown
	}
}

// NormalizeMidtransStatus applies the fraud screen outcome on top of the
// transaction status. A challenged capture stays pending for manual review.
func NormalizeMidtransStatus(transactionStatus string, fraudStatus string) (Status, bool) {
	ts := strings.ToLower(strings.TrimSpace(transactionStatus))
	fs := strings.ToLower(strings.TrimSpace(fraudStatus))
	if ts == "capture" {
		switch fs {
		case "challenge":
			return StatusPending, true
		case "deny":
			return StatusFailed, false
		}
	}
	return NormalizeStatus(ts), false
}

// CanTransition reports whether a payment may move from one status to
// another. Repeats and moves out of failed or refunded are rejected.
func CanTransition(from string, to Status) bool {
	switch Status(from) {
	case StatusPending:
		return to == StatusCompleted || to == StatusFailed
	case StatusCompleted:
		return to == StatusRefunded
	default:
		return false
	}
}
