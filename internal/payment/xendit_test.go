package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirledger/backend/internal/domain"
)

type capturedRequest struct {
	Path       string
	APIVersion string
	Body       map[string]any
}

func newXenditServer(t *testing.T, respond map[string]any) (*Xendit, *[]capturedRequest) {
	t.Helper()
	var seen []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _, _ := r.BasicAuth()
		assert.Equal(t, "xnd_development_key", user)
		body := map[string]any{}
		if r.Method == http.MethodPost {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		seen = append(seen, capturedRequest{Path: r.URL.Path, APIVersion: r.Header.Get("api-version"), Body: body})
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(respond)
	}))
	t.Cleanup(srv.Close)
	cfg := XenditConfig{SecretKey: "xnd_development_key", BaseURL: srv.URL, CallbackToken: "cb-token", WebhookSecret: "whsec"}
	return NewXendit(cfg, srv.Client()), &seen
}

func TestXenditRoutesMethodsToResources(t *testing.T) {
	cases := []struct {
		name   string
		method string
		meta   map[string]string
		path   string
		shape  Shape
	}{
		{"qris", domain.MethodQRIS, nil, "/qr_codes", ShapeQRCode},
		{"gopay via qris", domain.MethodGoPay, nil, "/qr_codes", ShapeQRCode},
		{"virtual account", domain.MethodBankTransfer, map[string]string{"bank": "bni"}, "/callback_virtual_accounts", ShapeVirtualAccount},
		{"retail code", domain.MethodBankTransfer, map[string]string{"channel": "Alfamart"}, "/fixed_payment_code", ShapeRetailCode},
		{"ewallet", domain.MethodOVO, map[string]string{"mobile_number": "+628123"}, "/ewallets/charges", ShapeEWallet},
		{"card invoice", domain.MethodCard, nil, "/v2/invoices", ShapeCard},
		{"forced invoice", domain.MethodQRIS, map[string]string{"channel": "invoice"}, "/v2/invoices", ShapeInvoice},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gw, seen := newXenditServer(t, map[string]any{"id": "res-1", "status": "ACTIVE"})

			res, err := gw.Initiate(context.Background(), InitiateRequest{PaymentID: "pay-1", ReceiptNumber: "TRX-1", Method: tc.method, AmountCents: 25000, Metadata: tc.meta})
			require.NoError(t, err)
			require.True(t, res.Success, res.FailureReason)
			assert.Equal(t, tc.shape, res.Shape)
			assert.Equal(t, "res-1", res.ProviderRef)
			assert.Equal(t, StatusPending, res.Status)

			require.Len(t, *seen, 1)
			assert.Equal(t, tc.path, (*seen)[0].Path)
		})
	}
}

func TestXenditQRRequestCarriesAPIVersionAndReference(t *testing.T) {
	gw, seen := newXenditServer(t, map[string]any{"id": "qr_123", "status": "ACTIVE", "qr_string": "000201"})

	res, err := gw.Initiate(context.Background(), InitiateRequest{PaymentID: "pay-qr", Method: domain.MethodQRIS, AmountCents: 15000})
	require.NoError(t, err)
	assert.Equal(t, "000201", res.QRString)

	req := (*seen)[0]
	assert.Equal(t, "2022-07-31", req.APIVersion)
	assert.Equal(t, "pay-qr", req.Body["reference_id"])
	assert.Equal(t, "DYNAMIC", req.Body["type"])
	assert.Equal(t, float64(15000), req.Body["amount"])
}

func TestXenditDeclineIsFailureResult(t *testing.T) {
	gw, _ := newXenditServer(t, map[string]any{"error_code": "CHANNEL_NOT_ACTIVATED", "message": "channel inactive"})

	res, err := gw.Initiate(context.Background(), InitiateRequest{PaymentID: "p", Method: domain.MethodDANA, AmountCents: 100})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.FailureReason, "CHANNEL_NOT_ACTIVATED")
}

func TestXenditRefundTargetsInvoiceOrPaymentRequest(t *testing.T) {
	gw, seen := newXenditServer(t, map[string]any{"id": "rfd-1", "status": "SUCCEEDED"})

	res, err := gw.Refund(context.Background(), RefundRequest{RefundID: "ref-1", ProviderRef: "inv-1", Shape: ShapeInvoice, AmountCents: 500, Reason: domain.RefundReasonWrongOrder})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, StatusRefunded, res.Status)

	_, err = gw.Refund(context.Background(), RefundRequest{RefundID: "ref-2", ProviderRef: "pr-1", Shape: ShapeEWallet, AmountCents: 500})
	require.NoError(t, err)

	require.Len(t, *seen, 2)
	assert.Equal(t, "inv-1", (*seen)[0].Body["invoice_id"])
	assert.Equal(t, "CANCELLATION", (*seen)[0].Body["reason"])
	assert.Equal(t, "pr-1", (*seen)[1].Body["payment_request_id"])
	assert.Equal(t, "OTHERS", (*seen)[1].Body["reason"])
}

func callbackRequest(token string, body string) WebhookRequest {
	headers := http.Header{}
	if token != "" {
		headers.Set("x-callback-token", token)
	}
	return WebhookRequest{Kind: WebhookKindCallback, Body: []byte(body), Headers: headers}
}

func TestXenditCallbackRequiresToken(t *testing.T) {
	gw := NewXendit(XenditConfig{CallbackToken: "cb-token"}, nil)
	body := `{"id":"inv_abc","external_id":"pay-1","status":"PAID","paid_amount":25000}`

	_, err := gw.ParseWebhook(callbackRequest("", body))
	assert.ErrorIs(t, err, domain.ErrWebhookUnauthorized)
	_, err = gw.ParseWebhook(callbackRequest("wrong", body))
	assert.ErrorIs(t, err, domain.ErrWebhookUnauthorized)

	event, err := gw.ParseWebhook(callbackRequest("cb-token", body))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, event.Status)
	assert.Equal(t, int64(25000), event.AmountCents)
	assert.Equal(t, []string{"pay-1", "inv_abc", "abc"}, event.References)
}

func TestXenditVirtualAccountCallbackWithoutStatusIsPaid(t *testing.T) {
	gw := NewXendit(XenditConfig{CallbackToken: "cb-token"}, nil)

	event, err := gw.ParseWebhook(callbackRequest("cb-token", `{"id":"va-pay-1","payment_id":"vap-1","external_id":"pay-9","callback_virtual_account_id":"va_77","amount":10000}`))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, event.Status)
	assert.Equal(t, "vap-1:PAID", event.EventID)
}

func TestXenditRefundEventMapsToRefunded(t *testing.T) {
	gw := NewXendit(XenditConfig{CallbackToken: "cb-token"}, nil)

	event, err := gw.ParseWebhook(callbackRequest("cb-token", `{"event":"refund.succeeded","data":{"id":"rfd-1","payment_request_id":"pr-1","status":"SUCCEEDED","amount":5000}}`))
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, event.Status)
	assert.Equal(t, "refund.succeeded", event.EventType)

	event, err = gw.ParseWebhook(callbackRequest("cb-token", `{"event":"refund.failed","data":{"id":"rfd-2","status":"FAILED"}}`))
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, event.Status)
}

func TestXenditPaymentRequestWebhookVerifiesHMAC(t *testing.T) {
	gw := NewXendit(XenditConfig{WebhookSecret: "whsec"}, nil)
	body := []byte(`{"event":"payment.succeeded","data":{"id":"py-1","payment_request_id":"pr-1","reference_id":"pay-5","status":"SUCCEEDED","amount":42000}}`)

	headers := http.Header{}
	headers.Set("webhook-signature", XenditSignature(body, "whsec"))
	event, err := gw.ParseWebhook(WebhookRequest{Kind: WebhookKindPaymentRequests, Body: body, Headers: headers})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, event.Status)
	assert.Equal(t, "pay-5", event.References[0])
	assert.Equal(t, int64(42000), event.AmountCents)

	headers.Set("webhook-signature", XenditSignature(body, "other"))
	_, err = gw.ParseWebhook(WebhookRequest{Kind: WebhookKindPaymentRequests, Body: body, Headers: headers})
	assert.ErrorIs(t, err, domain.ErrWebhookUnauthorized)
}
