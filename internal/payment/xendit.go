package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kasirledger/backend/internal/domain"
)

const xenditDefaultURL = "https://api.xendit.co"

type XenditConfig struct {
	SecretKey     string
	BaseURL       string
	CallbackToken string
	// WebhookSecret signs payment-request webhooks (HMAC-SHA256, hex).
	WebhookSecret string
}

// Xendit routes each method to its dedicated resource: QR codes, callback
// virtual accounts, e-wallet charges, fixed payment codes and invoices.
// Every resource is created with our payment id as its external reference.
type Xendit struct {
	cfg    XenditConfig
	client *apiClient
}

func NewXendit(cfg XenditConfig, httpClient *http.Client) *Xendit {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = xenditDefaultURL
	}
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)
	return &Xendit{
		cfg:    cfg,
		client: &apiClient{provider: ProviderXendit, baseURL: baseURL, username: cfg.SecretKey, http: httpClient},
	}
}

func (x *Xendit) Name() string     { return ProviderXendit }
func (x *Xendit) Provider() string { return ProviderXendit }

func (x *Xendit) configured() bool { return x.cfg.SecretKey != "" }

var xenditWalletChannels = map[string]string{
	domain.MethodOVO:       "ID_OVO",
	domain.MethodDANA:      "ID_DANA",
	domain.MethodShopeePay: "ID_SHOPEEPAY",
	domain.MethodLinkAja:   "ID_LINKAJA",
}

type xenditResource struct {
	ID               string `json:"id"`
	ReferenceID      string `json:"reference_id"`
	ExternalID       string `json:"external_id"`
	Status           string `json:"status"`
	QRString         string `json:"qr_string"`
	AccountNumber    string `json:"account_number"`
	BankCode         string `json:"bank_code"`
	PaymentCode      string `json:"payment_code"`
	InvoiceURL       string `json:"invoice_url"`
	ExpiresAt        string `json:"expires_at"`
	ExpirationDate   string `json:"expiration_date"`
	ExpiryDate       string `json:"expiry_date"`
	ErrorCode        string `json:"error_code"`
	Message          string `json:"message"`
	PaymentRequestID string `json:"payment_request_id"`
	InvoiceID        string `json:"invoice_id"`
	Actions          struct {
		DesktopWebCheckoutURL string `json:"desktop_web_checkout_url"`
		MobileWebCheckoutURL  string `json:"mobile_web_checkout_url"`
		MobileDeeplinkURL     string `json:"mobile_deeplink_checkout_url"`
		QRCheckoutString      string `json:"qr_checkout_string"`
	} `json:"actions"`
}

func (r xenditResource) expiry() *time.Time {
	for _, raw := range []string{r.ExpiresAt, r.ExpirationDate, r.ExpiryDate} {
		if raw == "" {
			continue
		}
		if at, err := time.Parse(time.RFC3339, raw); err == nil {
			return &at
		}
	}
	return nil
}

func (x *Xendit) Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	result := InitiateResult{Provider: ProviderXendit, Status: StatusFailed}
	if !x.configured() {
		result.FailureReason = notConfigured(ProviderXendit)
		return result, nil
	}

	path, body, shape, headers := x.route(req)
	client := *x.client
	client.headers = headers
	result.Shape = shape

	var resp xenditResource
	code, err := client.do(ctx, http.MethodPost, path, body, &resp)
	if err != nil {
		return InitiateResult{}, err
	}
	if code >= 400 || resp.ErrorCode != "" {
		result.FailureReason = fmt.Sprintf("xendit %s: %s", resp.ErrorCode, resp.Message)
		return result, nil
	}

	status := NormalizeStatus(resp.Status)
	if status == StatusUnknown {
		status = StatusPending
	}
	if status == StatusFailed {
		result.FailureReason = fmt.Sprintf("xendit resource %s", resp.Status)
		return result, nil
	}

	result.Success = true
	result.Status = status
	result.ProviderRef = resp.ID
	result.QRString = resp.QRString
	if result.QRString == "" {
		result.QRString = resp.Actions.QRCheckoutString
	}
	result.Bank = resp.BankCode
	result.VANumber = resp.AccountNumber
	result.PaymentCode = resp.PaymentCode
	result.CheckoutURL = firstNonEmpty(resp.InvoiceURL, resp.Actions.MobileDeeplinkURL, resp.Actions.MobileWebCheckoutURL, resp.Actions.DesktopWebCheckoutURL)
	result.ExpiresAt = resp.expiry()
	return result, nil
}

// route picks the resource for a method. metadata["channel"] forces a
// hosted invoice ("invoice") or a retail code ("alfamart", "indomaret").
// GoPay has no Xendit e-wallet channel and is charged through QRIS.
func (x *Xendit) route(req InitiateRequest) (string, map[string]any, Shape, map[string]string) {
	meta := req.Metadata
	channel := strings.ToLower(strings.TrimSpace(meta["channel"]))
	customer := firstNonEmpty(meta["customer_name"], "Customer "+req.ReceiptNumber)

	switch {
	case channel == "invoice":
		return "/v2/invoices", x.invoiceBody(req, nil), ShapeInvoice, nil
	case channel == "alfamart" || channel == "indomaret":
		return "/fixed_payment_code", map[string]any{
			"external_id":        req.PaymentID,
			"retail_outlet_name": strings.ToUpper(channel),
			"name":               customer,
			"expected_amount":    req.AmountCents,
			"is_single_use":      true,
		}, ShapeRetailCode, nil
	}

	switch req.Method {
	case domain.MethodQRIS, domain.MethodGoPay:
		return "/qr_codes", map[string]any{
			"reference_id": req.PaymentID,
			"type":         "DYNAMIC",
			"currency":     "IDR",
			"amount":       req.AmountCents,
		}, ShapeQRCode, map[string]string{"api-version": "2022-07-31"}
	case domain.MethodBankTransfer:
		bank := strings.ToUpper(strings.TrimSpace(meta["bank"]))
		if bank == "" {
			bank = "BCA"
		}
		return "/callback_virtual_accounts", map[string]any{
			"external_id":     req.PaymentID,
			"bank_code":       bank,
			"name":            customer,
			"expected_amount": req.AmountCents,
			"is_closed":       true,
			"is_single_use":   true,
		}, ShapeVirtualAccount, nil
	case domain.MethodOVO, domain.MethodDANA, domain.MethodShopeePay, domain.MethodLinkAja:
		props := map[string]any{}
		if req.Method == domain.MethodOVO {
			props["mobile_number"] = meta["mobile_number"]
		} else if meta["callback_url"] != "" {
			props["success_redirect_url"] = meta["callback_url"]
		}
		return "/ewallets/charges", map[string]any{
			"reference_id":       req.PaymentID,
			"currency":           "IDR",
			"amount":             req.AmountCents,
			"checkout_method":    "ONE_TIME_PAYMENT",
			"channel_code":       xenditWalletChannels[req.Method],
			"channel_properties": props,
		}, ShapeEWallet, nil
	case domain.MethodCard:
		return "/v2/invoices", x.invoiceBody(req, []string{"CREDIT_CARD"}), ShapeCard, nil
	default:
		return "/v2/invoices", x.invoiceBody(req, nil), ShapeInvoice, nil
	}
}

func (x *Xendit) invoiceBody(req InitiateRequest, methods []string) map[string]any {
	body := map[string]any{
		"external_id": req.PaymentID,
		"amount":      req.AmountCents,
		"currency":    "IDR",
		"description": "Payment " + req.ReceiptNumber,
	}
	if len(methods) > 0 {
		body["payment_methods"] = methods
	}
	return body
}

func (x *Xendit) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	result := RefundResult{Status: StatusFailed}
	if !x.configured() {
		result.FailureReason = notConfigured(ProviderXendit)
		return result, nil
	}

	body := map[string]any{
		"reference_id": req.RefundID,
		"amount":       req.AmountCents,
		"currency":     "IDR",
		"reason":       xenditRefundReason(req.Reason),
	}
	if req.Shape == ShapeInvoice || req.Shape == ShapeCard {
		body["invoice_id"] = req.ProviderRef
	} else {
		body["payment_request_id"] = req.ProviderRef
	}

	var resp xenditResource
	code, err := x.client.do(ctx, http.MethodPost, "/refunds", body, &resp)
	if err != nil {
		return RefundResult{}, err
	}
	if code >= 400 || resp.ErrorCode != "" {
		result.FailureReason = fmt.Sprintf("xendit %s: %s", resp.ErrorCode, resp.Message)
		return result, nil
	}
	status := NormalizeStatus(resp.Status)
	if status == StatusFailed {
		result.FailureReason = "xendit refund " + resp.Status
		return result, nil
	}
	result.Success = true
	result.ProviderRef = resp.ID
	result.Status = StatusRefunded
	if status == StatusPending {
		result.Status = StatusPending
	}
	return result, nil
}

func xenditRefundReason(reason string) string {
	switch reason {
	case domain.RefundReasonWrongOrder:
		return "CANCELLATION"
	case domain.RefundReasonDefect, domain.RefundReasonCustomerRequest:
		return "REQUESTED_BY_CUSTOMER"
	default:
		return "OTHERS"
	}
}

func (x *Xendit) CheckStatus(ctx context.Context, providerRef string) (StatusResult, error) {
	if !x.configured() {
		return StatusResult{}, fmt.Errorf("%s", notConfigured(ProviderXendit))
	}
	path := "/v2/invoices/" + url.PathEscape(providerRef)
	var headers map[string]string
	switch {
	case strings.HasPrefix(providerRef, "qr_"):
		path = "/qr_codes/" + url.PathEscape(providerRef)
		headers = map[string]string{"api-version": "2022-07-31"}
	case strings.HasPrefix(providerRef, "ewc_"):
		path = "/ewallets/charges/" + url.PathEscape(providerRef)
	}
	client := *x.client
	client.headers = headers

	var resp xenditResource
	code, err := client.do(ctx, http.MethodGet, path, nil, &resp)
	if err != nil {
		return StatusResult{}, err
	}
	if code >= 400 {
		return StatusResult{}, fmt.Errorf("xendit status %d: %s %s", code, resp.ErrorCode, resp.Message)
	}
	return StatusResult{ProviderRef: resp.ID, RawStatus: resp.Status, Status: NormalizeStatus(resp.Status)}, nil
}

// xenditNotification covers the legacy callback payloads (invoice, virtual
// account, fixed payment code) and the event envelope used by QR codes,
// e-wallets, refunds and payment requests.
type xenditNotification struct {
	ID                       string          `json:"id"`
	ExternalID               string          `json:"external_id"`
	Status                   string          `json:"status"`
	Amount                   json.Number     `json:"amount"`
	PaidAmount               json.Number     `json:"paid_amount"`
	CallbackVirtualAccountID string          `json:"callback_virtual_account_id"`
	FixedPaymentCodeID       string          `json:"fixed_payment_code_id"`
	PaymentID                string          `json:"payment_id"`
	Event                    string          `json:"event"`
	Data                     json.RawMessage `json:"data"`
}

type xenditEventData struct {
	ID               string      `json:"id"`
	ReferenceID      string      `json:"reference_id"`
	PaymentRequestID string      `json:"payment_request_id"`
	PaymentID        string      `json:"payment_id"`
	InvoiceID        string      `json:"invoice_id"`
	QRID             string      `json:"qr_id"`
	Status           string      `json:"status"`
	Amount           json.Number `json:"amount"`
	ChargeAmount     json.Number `json:"charge_amount"`
}

func (x *Xendit) ParseWebhook(req WebhookRequest) (WebhookEvent, error) {
	if err := x.authenticate(req); err != nil {
		return WebhookEvent{}, err
	}

	var n xenditNotification
	if err := json.Unmarshal(req.Body, &n); err != nil {
		return WebhookEvent{}, malformed(ProviderXendit, err)
	}

	event := WebhookEvent{Provider: ProviderXendit, EventType: n.Event}
	if len(n.Data) > 0 && string(n.Data) != "null" {
		var d xenditEventData
		if err := json.Unmarshal(n.Data, &d); err != nil {
			return WebhookEvent{}, malformed(ProviderXendit, err)
		}
		event.RawStatus = d.Status
		event.References = LookupCandidates([]string{d.ReferenceID, d.PaymentRequestID, d.QRID, d.InvoiceID, d.PaymentID, d.ID})
		event.AmountCents = parseAmount(firstNonEmpty(d.Amount.String(), d.ChargeAmount.String()))
		event.EventID = firstNonEmpty(n.ID, d.ID) + ":" + n.Event + ":" + d.Status
	} else {
		event.RawStatus = n.Status
		if n.CallbackVirtualAccountID != "" && n.Status == "" {
			// virtual account payment callbacks carry no status; their arrival is the payment
			event.RawStatus = "PAID"
		}
		event.References = LookupCandidates([]string{n.ExternalID, n.ID, n.CallbackVirtualAccountID, n.FixedPaymentCodeID})
		event.AmountCents = parseAmount(firstNonEmpty(n.PaidAmount.String(), n.Amount.String()))
		event.EventID = firstNonEmpty(n.PaymentID, n.ID) + ":" + event.RawStatus
	}

	event.Status = NormalizeStatus(event.RawStatus)
	if strings.HasPrefix(n.Event, "refund.") {
		if event.Status == StatusCompleted {
			event.Status = StatusRefunded
		} else {
			event.Status = StatusUnknown
		}
	}
	return event, nil
}

func (x *Xendit) authenticate(req WebhookRequest) error {
	switch req.Kind {
	case WebhookKindPaymentRequests:
		if x.cfg.WebhookSecret == "" {
			return unauthorized(ProviderXendit, "webhook secret not configured")
		}
		signature := strings.ToLower(strings.TrimSpace(req.Headers.Get("webhook-signature")))
		if signature == "" || !hmac.Equal([]byte(signature), []byte(XenditSignature(req.Body, x.cfg.WebhookSecret))) {
			return unauthorized(ProviderXendit, "invalid signature")
		}
		return nil
	default:
		if x.cfg.CallbackToken == "" {
			return unauthorized(ProviderXendit, "callback token not configured")
		}
		token := strings.TrimSpace(req.Headers.Get("x-callback-token"))
		if subtle.ConstantTimeCompare([]byte(token), []byte(x.cfg.CallbackToken)) != 1 {
			return unauthorized(ProviderXendit, "invalid callback token")
		}
		return nil
	}
}

// XenditSignature is hex(HMAC-SHA256(secret, body)).
func XenditSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
