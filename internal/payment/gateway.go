// Package payment adapts external payment providers to one capability used
// by the ledger: initiate a charge, refund it, and ask for its status.
package payment

import (
	"context"
	"strconv"
	"time"
)

const (
	ProviderMidtrans = "midtrans"
	ProviderXendit   = "xendit"
	ProviderNoop     = "noop"
)

// Shape is the customer-facing form a charge takes.
type Shape string

const (
	ShapeQRCode         Shape = "qr_code"
	ShapeVirtualAccount Shape = "virtual_account"
	ShapeEWallet        Shape = "ewallet_redirect"
	ShapeInvoice        Shape = "invoice"
	ShapeRetailCode     Shape = "retail_code"
	ShapeCard           Shape = "card"
	ShapeImmediate      Shape = "immediate"
)

type InitiateRequest struct {
	PaymentID     string
	TransactionID string
	ReceiptNumber string
	OutletID      string
	Method        string
	AmountCents   int64
	// Metadata carries channel hints such as bank, channel, card_token,
	// mobile_number, callback_url and customer_name.
	Metadata map[string]string
}

type InitiateResult struct {
	Success       bool
	Provider      string
	ProviderRef   string
	Status        Status
	Shape         Shape
	QRString      string
	Bank          string
	VANumber      string
	CheckoutURL   string
	PaymentCode   string
	ExpiresAt     *time.Time
	FailureReason string
}

// Payload flattens the customer-facing fields for storage on the payment.
func (r InitiateResult) Payload() map[string]string {
	payload := map[string]string{"shape": string(r.Shape)}
	set := func(k, v string) {
		if v != "" {
			payload[k] = v
		}
	}
	set("qr_string", r.QRString)
	set("bank", r.Bank)
	set("va_number", r.VANumber)
	set("checkout_url", r.CheckoutURL)
	set("payment_code", r.PaymentCode)
	if r.ExpiresAt != nil {
		payload["expires_at"] = r.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return payload
}

type RefundRequest struct {
	RefundID    string
	PaymentID   string
	ProviderRef string
	Method      string
	Shape       Shape
	AmountCents int64
	Reason      string
}

type RefundResult struct {
	Success       bool
	ProviderRef   string
	Status        Status
	FailureReason string
}

type StatusResult struct {
	ProviderRef string
	RawStatus   string
	Status      Status
}

// Gateway is implemented by every provider adapter. Provider declines and
// missing credentials come back as a result with Success false; the error
// return is reserved for transport and decoding failures.
type Gateway interface {
	Name() string
	Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
	CheckStatus(ctx context.Context, providerRef string) (StatusResult, error)
}

func notConfigured(provider string) string {
	return provider + " gateway is not configured"
}

func formatAmount(cents int64) string {
	return strconv.FormatInt(cents, 10)
}
