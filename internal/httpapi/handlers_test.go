package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/payment"
	"kasirledger/backend/internal/service"
	"kasirledger/backend/internal/store/memory"
)

const (
	testPIN       = "739154"
	testServerKey = "SB-Mid-server-http"
	testCallback  = "xnd-callback-token"
)

func newTestAPI(t *testing.T) *API {
	t.Helper()
	repo := memory.NewSeeded()
	providers, err := payment.New(payment.Config{
		Provider: payment.ProviderNoop,
		Midtrans: payment.MidtransConfig{ServerKey: testServerKey},
		Xendit:   payment.XenditConfig{CallbackToken: testCallback},
	})
	require.NoError(t, err)

	svc := service.New(repo, providers, nil, nil, service.Config{
		DefaultOutletID: memory.DefaultOutletID,
		DefaultTaxRate:  decimal.RequireFromString("0.11"),
	})
	auth := NewAuthManager("test-secret-key", time.Hour, testPIN, repo)
	return New(svc, auth, "http://localhost:5173")
}

func login(t *testing.T, api *API, username string, password string) string {
	t.Helper()
	res := call(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: username, Password: password})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	return decode[domain.LoginResponse](t, res).AccessToken
}

func loginAsAdmin(t *testing.T, api *API) string {
	return login(t, api, "admin", "admin123")
}

func call(t *testing.T, api *API, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	return res
}

func decode[T any](t *testing.T, res *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out), res.Body.String())
	return out
}

func openShift(t *testing.T, api *API, token string) string {
	t.Helper()
	res := call(t, api, http.MethodPost, "/api/v1/shifts", token, domain.ShiftOpenRequest{TerminalID: "T1", OpeningFloatCents: 100000})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	return decode[domain.ShiftResponse](t, res).Shift.ID
}

func basket(shiftID string, payments ...domain.PaymentInput) domain.CreateTransactionRequest {
	return domain.CreateTransactionRequest{
		ShiftID: shiftID,
		Items: []domain.TransactionItemInput{
			{ProductID: "SKU-MIE-01", Quantity: 2},
			{ProductID: "SKU-TELUR-01", Quantity: 1},
		},
		Payments: payments,
	}
}

func checkout(t *testing.T, api *API, token string, method string, amount int64) domain.CreateTransactionResponse {
	t.Helper()
	shiftID := openShift(t, api, token)
	res := call(t, api, http.MethodPost, "/api/v1/transactions", token, basket(shiftID, domain.PaymentInput{Method: method, AmountCents: amount}))
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	return decode[domain.CreateTransactionResponse](t, res)
}

func TestHealthIsPublic(t *testing.T) {
	api := newTestAPI(t)
	res := call(t, api, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, true, decode[map[string]any](t, res)["ok"])
}

func TestProtectedRoutesNeedTokenAndRole(t *testing.T) {
	api := newTestAPI(t)

	res := call(t, api, http.MethodGet, "/api/v1/payment-methods", "", nil)
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	res = call(t, api, http.MethodGet, "/api/v1/payment-methods", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	cashier := login(t, api, "cashier", "cashier123")
	res = call(t, api, http.MethodGet, "/api/v1/payment-methods", cashier, nil)
	assert.Equal(t, http.StatusOK, res.Code)

	res = call(t, api, http.MethodGet, "/api/v1/audit-logs", cashier, nil)
	assert.Equal(t, http.StatusForbidden, res.Code)
	assert.Equal(t, "forbidden role", decode[errorBody](t, res).Error)
}

func TestCheckoutOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "cashier", "cashier123")

	resp := checkout(t, api, token, domain.MethodCash, 50000)
	assert.Equal(t, int64(33500), resp.SubtotalCents)
	assert.Equal(t, int64(3685), resp.TaxCents)
	assert.Equal(t, int64(37185), resp.GrandTotalCents)
	assert.Equal(t, int64(12815), resp.ChangeCents)

	res := call(t, api, http.MethodGet, "/api/v1/transactions/"+resp.TransactionID, token, nil)
	require.Equal(t, http.StatusOK, res.Code)
	txn := decode[domain.Transaction](t, res)
	assert.Equal(t, "cashier", txn.EmployeeID)
	assert.Len(t, txn.Items, 2)

	res = call(t, api, http.MethodGet, "/api/v1/stock/SKU-MIE-01", token, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, int64(118), decode[domain.StockLevel](t, res).Quantity)
}

func TestIdempotencyKeyHeaderReplays(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "cashier", "cashier123")
	shiftID := openShift(t, api, token)

	send := func() domain.CreateTransactionResponse {
		raw, err := json.Marshal(basket(shiftID, domain.PaymentInput{Method: domain.MethodCash, AmountCents: 40000}))
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", bytes.NewReader(raw))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Idempotency-Key", "till-7-0001")
		res := httptest.NewRecorder()
		api.Handler().ServeHTTP(res, req)
		require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
		return decode[domain.CreateTransactionResponse](t, res)
	}

	first := send()
	second := send()
	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
}

func TestBusinessErrorsMapToStatusAndCode(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "cashier", "cashier123")
	shiftID := openShift(t, api, token)

	cases := []struct {
		name   string
		path   string
		body   any
		status int
		code   domain.ErrorCode
	}{
		{
			name: "insufficient stock",
			path: "/api/v1/transactions",
			body: domain.CreateTransactionRequest{
				ShiftID:  shiftID,
				Items:    []domain.TransactionItemInput{{ProductID: "SKU-MIE-01", Quantity: 500}},
				Payments: []domain.PaymentInput{{Method: domain.MethodCash, AmountCents: 5_000_000}},
			},
			status: http.StatusConflict,
			code:   domain.CodeInsufficientStock,
		},
		{
			name:   "shift not open",
			path:   "/api/v1/transactions",
			body:   basket("shift-missing", domain.PaymentInput{Method: domain.MethodCash, AmountCents: 40000}),
			status: http.StatusConflict,
			code:   domain.CodeShiftNotOpen,
		},
		{
			name:   "insufficient payment",
			path:   "/api/v1/transactions",
			body:   basket(shiftID, domain.PaymentInput{Method: domain.MethodCash, AmountCents: 1000}),
			status: http.StatusUnprocessableEntity,
			code:   domain.CodeInsufficientPayment,
		},
		{
			name: "inactive product",
			path: "/api/v1/transactions",
			body: domain.CreateTransactionRequest{
				ShiftID:  shiftID,
				Items:    []domain.TransactionItemInput{{ProductID: "SKU-LAMA-01", Quantity: 1}},
				Payments: []domain.PaymentInput{{Method: domain.MethodCash, AmountCents: 20000}},
			},
			status: http.StatusUnprocessableEntity,
			code:   domain.CodeProductNotFoundOrInactive,
		},
		{
			name:   "failed validation",
			path:   "/api/v1/transactions",
			body:   domain.CreateTransactionRequest{ShiftID: shiftID},
			status: http.StatusBadRequest,
			code:   domain.CodeValidation,
		},
		{
			name:   "unknown field",
			path:   "/api/v1/shifts",
			body:   `{"terminal_id":"T2","opening_float_cents":0,"drawer":"left"}`,
			status: http.StatusBadRequest,
			code:   domain.CodeValidation,
		},
		{
			name:   "payments on unknown transaction",
			path:   "/api/v1/transactions/tx-missing/payments",
			body:   domain.MultiPaymentRequest{Payments: []domain.PaymentInput{{Method: domain.MethodCash, AmountCents: 1000}}},
			status: http.StatusNotFound,
			code:   domain.CodeTransactionNotFound,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := call(t, api, http.MethodPost, tc.path, token, tc.body)
			require.Equal(t, tc.status, res.Code, res.Body.String())
			assert.Equal(t, string(tc.code), decode[errorBody](t, res).Code)
		})
	}
}

func TestInsufficientStockCarriesDetails(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "cashier", "cashier123")
	shiftID := openShift(t, api, token)

	res := call(t, api, http.MethodPost, "/api/v1/transactions", token, domain.CreateTransactionRequest{
		ShiftID:  shiftID,
		Items:    []domain.TransactionItemInput{{ProductID: "SKU-MIE-01", Quantity: 121}},
		Payments: []domain.PaymentInput{{Method: domain.MethodCash, AmountCents: 1_000_000}},
	})
	require.Equal(t, http.StatusConflict, res.Code)
	body := decode[errorBody](t, res)
	assert.EqualValues(t, 120, body.Details["available"])
	assert.EqualValues(t, 121, body.Details["requested"])
	assert.Equal(t, "SKU-MIE-01", body.Details["product_id"])
}

func TestVoidNeedsSupervisorAndPIN(t *testing.T) {
	api := newTestAPI(t)
	cashier := login(t, api, "cashier", "cashier123")
	sale := checkout(t, api, cashier, domain.MethodCash, 40000)
	path := "/api/v1/transactions/" + sale.TransactionID + "/void"

	res := call(t, api, http.MethodPost, path, cashier, domain.VoidRequest{Reason: "wrong basket", ManagerPIN: testPIN})
	assert.Equal(t, http.StatusForbidden, res.Code)

	manager := login(t, api, "manager", "admin123")
	res = call(t, api, http.MethodPost, path, manager, domain.VoidRequest{Reason: "wrong basket", ManagerPIN: "000000"})
	assert.Equal(t, http.StatusForbidden, res.Code)
	assert.Equal(t, "invalid manager pin", decode[errorBody](t, res).Error)

	res = call(t, api, http.MethodPost, path, manager, domain.VoidRequest{Reason: "wrong basket", ManagerPIN: testPIN})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	voided := decode[domain.VoidResponse](t, res)
	assert.Equal(t, domain.TxStatusVoided, voided.Status)
	assert.Equal(t, "manager", voided.VoidedBy)

	res = call(t, api, http.MethodPost, path, manager, domain.VoidRequest{Reason: "again", ManagerPIN: testPIN})
	require.Equal(t, http.StatusConflict, res.Code)
	assert.Equal(t, string(domain.CodeVoidNotAllowed), decode[errorBody](t, res).Code)

	res = call(t, api, http.MethodGet, "/api/v1/stock/SKU-MIE-01", manager, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, int64(120), decode[domain.StockLevel](t, res).Quantity)
}

func TestRefundOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	cashier := login(t, api, "cashier", "cashier123")
	sale := checkout(t, api, cashier, domain.MethodCash, 40000)

	res := call(t, api, http.MethodGet, "/api/v1/transactions/"+sale.TransactionID, cashier, nil)
	require.Equal(t, http.StatusOK, res.Code)
	txn := decode[domain.Transaction](t, res)
	var mieItem string
	for _, item := range txn.Items {
		if item.ProductID == "SKU-MIE-01" {
			mieItem = item.ID
		}
	}
	require.NotEmpty(t, mieItem)

	manager := login(t, api, "manager", "admin123")
	res = call(t, api, http.MethodPost, "/api/v1/transactions/"+sale.TransactionID+"/refund", manager, domain.RefundRequest{
		Items:        []domain.RefundItemInput{{ItemID: mieItem, Quantity: 1, Reason: "defect"}},
		RefundMethod: "cash",
		ManagerPIN:   testPIN,
	})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	refund := decode[domain.RefundResponse](t, res)
	assert.Equal(t, int64(3500), refund.RefundSubtotalCents)
	assert.Equal(t, int64(385), refund.RefundTaxCents)
	assert.Equal(t, int64(3885), refund.RefundAmountCents)

	res = call(t, api, http.MethodGet, "/api/v1/audit-logs?entity_id="+sale.TransactionID, manager, nil)
	require.Equal(t, http.StatusOK, res.Code)
	logs := decode[struct {
		Items []domain.AuditLog `json:"items"`
	}](t, res)
	assert.NotEmpty(t, logs.Items)
}

func TestShiftLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "cashier", "cashier123")
	shiftID := openShift(t, api, token)

	res := call(t, api, http.MethodPost, "/api/v1/shifts/"+shiftID+"/cash-movements", token, domain.CashMovementRequest{
		Type: "cash_out", AmountCents: 20000, Reason: "supplier",
	})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())

	res = call(t, api, http.MethodPost, "/api/v1/shifts/"+shiftID+"/close", token, domain.ShiftCloseRequest{ClosingCashCents: 80000})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	closed := decode[domain.ShiftResponse](t, res)
	require.NotNil(t, closed.Summary)
	assert.Equal(t, int64(80000), closed.Summary.ExpectedCashCents)
	assert.Equal(t, int64(20000), closed.Summary.CashOutCents)
	assert.Zero(t, closed.Shift.CashDifferenceCents)

	res = call(t, api, http.MethodGet, "/api/v1/shifts/"+shiftID, token, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, domain.ShiftStatusClosed, decode[domain.ShiftResponse](t, res).Shift.Status)
}

func midtransNotification(t *testing.T, orderID string, status string, signatureKey string) []byte {
	t.Helper()
	gross := "37185.00"
	body, err := json.Marshal(map[string]string{
		"transaction_id":     "noop-" + orderID,
		"order_id":           orderID,
		"status_code":        "200",
		"gross_amount":       gross,
		"transaction_status": status,
		"payment_type":       "qris",
		"signature_key":      payment.MidtransSignature(orderID, "200", gross, signatureKey),
	})
	require.NoError(t, err)
	return body
}

func TestMidtransWebhookReconcilesOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "cashier", "cashier123")
	sale := checkout(t, api, token, domain.MethodQRIS, 37185)
	require.Len(t, sale.Payments, 1)
	paymentID := sale.Payments[0].ID

	res := call(t, api, http.MethodPost, "/webhooks/midtrans", "", string(midtransNotification(t, paymentID, "refund", "wrong-key")))
	require.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Equal(t, string(domain.CodeWebhookUnauthorized), decode[errorBody](t, res).Code)

	res = call(t, api, http.MethodPost, "/webhooks/midtrans", "", string(midtransNotification(t, paymentID, "refund", testServerKey)))
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	result := decode[domain.WebhookResult](t, res)
	assert.True(t, result.Matched)
	assert.True(t, result.Applied)
	assert.Equal(t, sale.TransactionID, result.TransactionID)

	res = call(t, api, http.MethodGet, "/api/v1/transactions/"+sale.TransactionID, token, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, domain.TxStatusRefunded, decode[domain.Transaction](t, res).Status)

	// redelivery is acknowledged without a second transition
	res = call(t, api, http.MethodPost, "/webhooks/midtrans", "", string(midtransNotification(t, paymentID, "refund", testServerKey)))
	require.Equal(t, http.StatusOK, res.Code)
	assert.False(t, decode[domain.WebhookResult](t, res).Applied)
}

func TestXenditWebhookNeedsCallbackToken(t *testing.T) {
	api := newTestAPI(t)
	body := `{"id":"inv-1","external_id":"pay-unknown","status":"PAID"}`

	res := call(t, api, http.MethodPost, "/webhooks/xendit", "", body)
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/xendit", bytes.NewReader([]byte(body)))
	req.Header.Set("x-callback-token", testCallback)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, decode[domain.WebhookResult](t, rec).Matched)
}
