package payment

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kasirledger/backend/internal/domain"
)

const (
	midtransSandboxURL    = "https://api.sandbox.midtrans.com"
	midtransProductionURL = "https://api.midtrans.com"
)

type MidtransConfig struct {
	ServerKey  string
	BaseURL    string
	Production bool
}

// Midtrans speaks the Core API: one /v2/charge endpoint whose payment_type
// selects the channel. order_id is our payment id and the provider reference
// is Midtrans' transaction_id.
type Midtrans struct {
	serverKey string
	client    *apiClient
}

func NewMidtrans(cfg MidtransConfig, httpClient *http.Client) *Midtrans {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = midtransSandboxURL
		if cfg.Production {
			baseURL = midtransProductionURL
		}
	}
	return &Midtrans{
		serverKey: strings.TrimSpace(cfg.ServerKey),
		client:    &apiClient{provider: ProviderMidtrans, baseURL: baseURL, username: strings.TrimSpace(cfg.ServerKey), http: httpClient},
	}
}

func (m *Midtrans) Name() string { return ProviderMidtrans }

func (m *Midtrans) configured() bool { return m.serverKey != "" }

type midtransAction struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type midtransVANumber struct {
	Bank     string `json:"bank"`
	VANumber string `json:"va_number"`
}

type midtransResponse struct {
	StatusCode        string             `json:"status_code"`
	StatusMessage     string             `json:"status_message"`
	TransactionID     string             `json:"transaction_id"`
	OrderID           string             `json:"order_id"`
	TransactionStatus string             `json:"transaction_status"`
	FraudStatus       string             `json:"fraud_status"`
	Actions           []midtransAction   `json:"actions"`
	VANumbers         []midtransVANumber `json:"va_numbers"`
	PermataVANumber   string             `json:"permata_va_number"`
	BillKey           string             `json:"bill_key"`
	BillerCode        string             `json:"biller_code"`
	PaymentCode       string             `json:"payment_code"`
	QRString          string             `json:"qr_string"`
	RedirectURL       string             `json:"redirect_url"`
	ExpiryTime        string             `json:"expiry_time"`
	RefundKey         string             `json:"refund_key"`
}

func (r midtransResponse) ok() bool {
	return strings.HasPrefix(r.StatusCode, "2")
}

func (m *Midtrans) Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	result := InitiateResult{Provider: ProviderMidtrans, Status: StatusFailed}
	if !m.configured() {
		result.FailureReason = notConfigured(ProviderMidtrans)
		return result, nil
	}

	body, shape, reason := m.chargeBody(req)
	if reason != "" {
		result.FailureReason = reason
		return result, nil
	}
	result.Shape = shape

	var resp midtransResponse
	if _, err := m.client.do(ctx, http.MethodPost, "/v2/charge", body, &resp); err != nil {
		return InitiateResult{}, err
	}
	if !resp.ok() {
		result.FailureReason = fmt.Sprintf("midtrans %s: %s", resp.StatusCode, resp.StatusMessage)
		return result, nil
	}

	status, _ := NormalizeMidtransStatus(resp.TransactionStatus, resp.FraudStatus)
	if status == StatusUnknown {
		status = StatusPending
	}
	if status == StatusFailed {
		result.FailureReason = fmt.Sprintf("midtrans charge %s", resp.TransactionStatus)
		return result, nil
	}

	result.Success = true
	result.Status = status
	result.ProviderRef = resp.TransactionID
	result.QRString = resp.QRString
	result.PaymentCode = resp.PaymentCode
	if resp.BillKey != "" {
		result.Bank = "mandiri"
		result.VANumber = resp.BillerCode + resp.BillKey
	}
	if resp.PermataVANumber != "" {
		result.Bank = "permata"
		result.VANumber = resp.PermataVANumber
	}
	if len(resp.VANumbers) > 0 {
		result.Bank = resp.VANumbers[0].Bank
		result.VANumber = resp.VANumbers[0].VANumber
	}
	result.CheckoutURL = resp.RedirectURL
	for _, action := range resp.Actions {
		if action.Name == "deeplink-redirect" || (result.CheckoutURL == "" && action.Name == "generate-qr-code") {
			result.CheckoutURL = action.URL
		}
	}
	if resp.ExpiryTime != "" {
		if at, err := time.Parse("2006-01-02 15:04:05", resp.ExpiryTime); err == nil {
			result.ExpiresAt = &at
		}
	}
	return result, nil
}

// chargeBody builds the /v2/charge request. OVO, DANA and LinkAja have no
// direct Core API channel and are charged through QRIS, which every
// Indonesian e-wallet can scan.
func (m *Midtrans) chargeBody(req InitiateRequest) (map[string]any, Shape, string) {
	body := map[string]any{
		"transaction_details": map[string]any{
			"order_id":     req.PaymentID,
			"gross_amount": req.AmountCents,
		},
		"custom_field1": req.TransactionID,
	}
	meta := req.Metadata

	switch req.Method {
	case domain.MethodQRIS, domain.MethodOVO, domain.MethodDANA, domain.MethodLinkAja:
		body["payment_type"] = "qris"
		body["qris"] = map[string]any{"acquirer": "gopay"}
		return body, ShapeQRCode, ""
	case domain.MethodGoPay:
		body["payment_type"] = "gopay"
		body["gopay"] = map[string]any{"enable_callback": meta["callback_url"] != "", "callback_url": meta["callback_url"]}
		return body, ShapeEWallet, ""
	case domain.MethodShopeePay:
		body["payment_type"] = "shopeepay"
		body["shopeepay"] = map[string]any{"callback_url": meta["callback_url"]}
		return body, ShapeEWallet, ""
	case domain.MethodBankTransfer:
		if retail := strings.ToLower(meta["channel"]); retail == "alfamart" || retail == "indomaret" {
			body["payment_type"] = "cstore"
			body["cstore"] = map[string]any{"store": retail, "message": req.ReceiptNumber}
			return body, ShapeRetailCode, ""
		}
		bank := strings.ToLower(strings.TrimSpace(meta["bank"]))
		if bank == "" {
			bank = "bca"
		}
		if bank == "mandiri" {
			body["payment_type"] = "echannel"
			body["echannel"] = map[string]any{"bill_info1": "Payment", "bill_info2": req.ReceiptNumber}
			return body, ShapeVirtualAccount, ""
		}
		body["payment_type"] = "bank_transfer"
		body["bank_transfer"] = map[string]any{"bank": bank}
		return body, ShapeVirtualAccount, ""
	case domain.MethodCard:
		token := strings.TrimSpace(meta["card_token"])
		if token == "" {
			return nil, "", "card_token is required for card payments"
		}
		body["payment_type"] = "credit_card"
		body["credit_card"] = map[string]any{"token_id": token, "authentication": true}
		return body, ShapeCard, ""
	default:
		return nil, "", fmt.Sprintf("method %s is not supported by midtrans", req.Method)
	}
}

func (m *Midtrans) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	result := RefundResult{Status: StatusFailed}
	if !m.configured() {
		result.FailureReason = notConfigured(ProviderMidtrans)
		return result, nil
	}
	ref := req.ProviderRef
	if ref == "" {
		ref = req.PaymentID
	}

	var resp midtransResponse
	_, err := m.client.do(ctx, http.MethodPost, "/v2/"+url.PathEscape(ref)+"/refund", map[string]any{
		"refund_key": req.RefundID,
		"amount":     req.AmountCents,
		"reason":     req.Reason,
	}, &resp)
	if err != nil {
		return RefundResult{}, err
	}
	if !resp.ok() {
		result.FailureReason = fmt.Sprintf("midtrans %s: %s", resp.StatusCode, resp.StatusMessage)
		return result, nil
	}
	result.Success = true
	result.ProviderRef = resp.RefundKey
	if result.ProviderRef == "" {
		result.ProviderRef = req.RefundID
	}
	result.Status = StatusRefunded
	return result, nil
}

func (m *Midtrans) CheckStatus(ctx context.Context, providerRef string) (StatusResult, error) {
	if !m.configured() {
		return StatusResult{}, fmt.Errorf("%s", notConfigured(ProviderMidtrans))
	}
	var resp midtransResponse
	if _, err := m.client.do(ctx, http.MethodGet, "/v2/"+url.PathEscape(providerRef)+"/status", nil, &resp); err != nil {
		return StatusResult{}, err
	}
	if !resp.ok() && resp.TransactionStatus == "" {
		return StatusResult{}, fmt.Errorf("midtrans status %s: %s", resp.StatusCode, resp.StatusMessage)
	}
	status, _ := NormalizeMidtransStatus(resp.TransactionStatus, resp.FraudStatus)
	return StatusResult{ProviderRef: resp.TransactionID, RawStatus: resp.TransactionStatus, Status: status}, nil
}

// MidtransSignature is hex(SHA512(order_id + status_code + gross_amount + server_key)).
func MidtransSignature(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

func (m *Midtrans) verifySignature(orderID, statusCode, grossAmount, signature string) bool {
	if !m.configured() || signature == "" {
		return false
	}
	expected := MidtransSignature(orderID, statusCode, grossAmount, m.serverKey)
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(signature)), []byte(expected)) == 1
}
