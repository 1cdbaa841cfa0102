package payment

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"kasirledger/backend/internal/domain"
)

const (
	WebhookKindCallback        = "callback"
	WebhookKindPaymentRequests = "payment_requests"
)

type WebhookRequest struct {
	Kind    string
	Body    []byte
	Headers http.Header
}

// WebhookEvent is a provider notification after authentication and
// parsing. References lists every identifier the payload carries for the
// payment, most specific first.
type WebhookEvent struct {
	Provider      string
	EventID       string
	EventType     string
	References    []string
	RawStatus     string
	Status        Status
	PendingReview bool
	AmountCents   int64
}

type WebhookParser interface {
	Provider() string
	// ParseWebhook authenticates before reading any identifier.
	ParseWebhook(req WebhookRequest) (WebhookEvent, error)
}

// knownRefPrefixes are id prefixes Xendit puts in front of resource ids in
// some payloads but not in others.
var knownRefPrefixes = []string{"inv_", "qr_", "va_", "ewc_", "rpc_"}

// LookupCandidates returns the exact references followed by their forms
// with a known provider prefix stripped, without duplicates.
func LookupCandidates(refs []string) []string {
	seen := make(map[string]struct{}, len(refs)*2)
	out := make([]string, 0, len(refs)*2)
	add := func(ref string) {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			return
		}
		if _, ok := seen[ref]; ok {
			return
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	for _, ref := range refs {
		add(ref)
	}
	for _, ref := range refs {
		for _, prefix := range knownRefPrefixes {
			if strings.HasPrefix(ref, prefix) {
				add(strings.TrimPrefix(ref, prefix))
			}
		}
	}
	return out
}

func unauthorized(provider string, reason string) error {
	return domain.NewError(domain.CodeWebhookUnauthorized, "%s webhook rejected: %s", provider, reason).With("provider", provider)
}

func malformed(provider string, err error) error {
	return domain.Validation("malformed %s webhook: %v", provider, err).With("provider", provider)
}

type midtransNotification struct {
	TransactionID     string `json:"transaction_id"`
	OrderID           string `json:"order_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	PaymentType       string `json:"payment_type"`
	TransactionTime   string `json:"transaction_time"`
}

func (m *Midtrans) Provider() string { return ProviderMidtrans }

func (m *Midtrans) ParseWebhook(req WebhookRequest) (WebhookEvent, error) {
	var n midtransNotification
	if err := json.Unmarshal(req.Body, &n); err != nil {
		return WebhookEvent{}, malformed(ProviderMidtrans, err)
	}
	if !m.configured() {
		return WebhookEvent{}, unauthorized(ProviderMidtrans, "server key not configured")
	}
	if !m.verifySignature(n.OrderID, n.StatusCode, n.GrossAmount, n.SignatureKey) {
		return WebhookEvent{}, unauthorized(ProviderMidtrans, "invalid signature")
	}

	status, review := NormalizeMidtransStatus(n.TransactionStatus, n.FraudStatus)
	event := WebhookEvent{
		Provider:      ProviderMidtrans,
		EventID:       fmt.Sprintf("%s:%s:%s", n.TransactionID, n.TransactionStatus, n.FraudStatus),
		EventType:     n.PaymentType,
		References:    LookupCandidates([]string{n.TransactionID, n.OrderID}),
		RawStatus:     n.TransactionStatus,
		Status:        status,
		PendingReview: review,
		AmountCents:   parseAmount(n.GrossAmount),
	}
	return event, nil
}

// parseAmount reads a provider amount such as "10000.00" into whole units.
func parseAmount(raw string) int64 {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return d.IntPart()
}
