package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Actor struct {
	Username string
	Role     string
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type Product struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Category   string           `json:"category"`
	PriceCents int64            `json:"price_cents"`
	Active     bool             `json:"active"`
	TrackStock bool             `json:"track_stock"`
	Variants   []ProductVariant `json:"variants,omitempty"`
}

// Variant returns the active variant with the given id.
func (p Product) Variant(id string) (ProductVariant, bool) {
	for _, v := range p.Variants {
		if v.ID == id && v.Active {
			return v, true
		}
	}
	return ProductVariant{}, false
}

type ProductVariant struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	// PriceCents overrides the product price when positive.
	PriceCents int64 `json:"price_cents"`
	Active     bool  `json:"active"`
}

type OutletSettings struct {
	OutletID          string          `json:"outlet_id"`
	TaxRate           decimal.Decimal `json:"tax_rate"`
	ServiceChargeRate decimal.Decimal `json:"service_charge_rate"`
}

type StockKey struct {
	OutletID  string
	ProductID string
	VariantID string
}

func (k StockKey) String() string {
	if k.VariantID == "" {
		return k.OutletID + "/" + k.ProductID
	}
	return k.OutletID + "/" + k.ProductID + "/" + k.VariantID
}

type StockLevel struct {
	OutletID          string    `json:"outlet_id"`
	ProductID         string    `json:"product_id"`
	VariantID         string    `json:"variant_id,omitempty"`
	Quantity          int64     `json:"quantity"`
	LowStockThreshold int64     `json:"low_stock_threshold"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (l StockLevel) Key() StockKey {
	return StockKey{OutletID: l.OutletID, ProductID: l.ProductID, VariantID: l.VariantID}
}

func (l StockLevel) IsLow() bool {
	return l.LowStockThreshold > 0 && l.Quantity <= l.LowStockThreshold
}

type StockMovement struct {
	ID             string    `json:"id"`
	OutletID       string    `json:"outlet_id"`
	ProductID      string    `json:"product_id"`
	VariantID      string    `json:"variant_id,omitempty"`
	MovementType   string    `json:"movement_type"`
	Quantity       int64     `json:"quantity"`
	QuantityBefore int64     `json:"quantity_before"`
	QuantityAfter  int64     `json:"quantity_after"`
	ReferenceID    string    `json:"reference_id"`
	ReferenceType  string    `json:"reference_type"`
	ActorID        string    `json:"actor_id"`
	CreatedAt      time.Time `json:"created_at"`
}

type Transaction struct {
	ID                  string            `json:"id"`
	OutletID            string            `json:"outlet_id"`
	TerminalID          string            `json:"terminal_id,omitempty"`
	EmployeeID          string            `json:"employee_id"`
	CustomerID          string            `json:"customer_id,omitempty"`
	ShiftID             string            `json:"shift_id"`
	ReceiptNumber       string            `json:"receipt_number"`
	Type                string            `json:"type"`
	OrderType           string            `json:"order_type"`
	ParentTransactionID string            `json:"parent_transaction_id,omitempty"`
	SplitIndex          int               `json:"split_index,omitempty"`
	IdempotencyKey      string            `json:"idempotency_key,omitempty"`
	SubtotalCents       int64             `json:"subtotal_cents"`
	DiscountCents       int64             `json:"discount_cents"`
	TaxCents            int64             `json:"tax_cents"`
	ServiceChargeCents  int64             `json:"service_charge_cents"`
	GrandTotalCents     int64             `json:"grand_total_cents"`
	ChangeCents         int64             `json:"change_cents"`
	Status              string            `json:"status"`
	Notes               string            `json:"notes,omitempty"`
	VoidedBy            string            `json:"voided_by,omitempty"`
	VoidReason          string            `json:"void_reason,omitempty"`
	VoidedAt            *time.Time        `json:"voided_at,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
	Items               []TransactionItem `json:"items"`
	Payments            []Payment         `json:"payments"`
}

// Balanced reports whether the stored totals satisfy
// grand = subtotal - discount + tax + service charge.
func (t Transaction) Balanced() bool {
	return t.GrandTotalCents == t.SubtotalCents-t.DiscountCents+t.TaxCents+t.ServiceChargeCents
}

func (t Transaction) IsSplitChild() bool {
	return t.Type == TxTypeSale && t.ParentTransactionID != ""
}

type TransactionItem struct {
	ID             string     `json:"id"`
	TransactionID  string     `json:"transaction_id"`
	ProductID      string     `json:"product_id,omitempty"`
	VariantID      string     `json:"variant_id,omitempty"`
	ProductName    string     `json:"product_name"`
	VariantName    string     `json:"variant_name,omitempty"`
	Quantity       int64      `json:"quantity"`
	UnitPriceCents int64      `json:"unit_price_cents"`
	DiscountCents  int64      `json:"discount_cents"`
	SubtotalCents  int64      `json:"subtotal_cents"`
	Modifiers      []Modifier `json:"modifiers,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	TrackStock     bool       `json:"track_stock"`
	OriginalItemID string     `json:"original_item_id,omitempty"`
	RefundReason   string     `json:"refund_reason,omitempty"`
}

func (i TransactionItem) StockKey(outletID string) StockKey {
	return StockKey{OutletID: outletID, ProductID: i.ProductID, VariantID: i.VariantID}
}

type Modifier struct {
	Name       string `json:"name" validate:"required"`
	PriceCents int64  `json:"price_cents" validate:"gte=0"`
}

type Payment struct {
	ID            string            `json:"id"`
	TransactionID string            `json:"transaction_id"`
	Method        string            `json:"method"`
	AmountCents   int64             `json:"amount_cents"`
	Provider      string            `json:"provider,omitempty"`
	ProviderRef   string            `json:"provider_ref,omitempty"`
	Status        string            `json:"status"`
	Payload       map[string]string `json:"payload,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

type AuditLog struct {
	ID         string          `json:"id"`
	OutletID   string          `json:"outlet_id"`
	ActorID    string          `json:"actor_id"`
	ActorRole  string          `json:"actor_role"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	Detail     string          `json:"detail,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

type Shift struct {
	ID                  string     `json:"id"`
	OutletID            string     `json:"outlet_id"`
	TerminalID          string     `json:"terminal_id"`
	EmployeeID          string     `json:"employee_id"`
	OpeningFloatCents   int64      `json:"opening_float_cents"`
	ClosingCashCents    int64      `json:"closing_cash_cents,omitempty"`
	ExpectedCashCents   int64      `json:"expected_cash_cents,omitempty"`
	CashDifferenceCents int64      `json:"cash_difference_cents,omitempty"`
	Status              string     `json:"status"`
	Notes               string     `json:"notes,omitempty"`
	OpenedAt            time.Time  `json:"opened_at"`
	ClosedAt            *time.Time `json:"closed_at,omitempty"`
}

type CashMovement struct {
	ID          string    `json:"id"`
	ShiftID     string    `json:"shift_id"`
	OutletID    string    `json:"outlet_id"`
	EmployeeID  string    `json:"employee_id"`
	Type        string    `json:"type"`
	AmountCents int64     `json:"amount_cents"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
}

// ShiftCashSummary aggregates the cash drawer ledger of one shift.
type ShiftCashSummary struct {
	OpeningFloatCents int64 `json:"opening_float_cents"`
	CashSalesCents    int64 `json:"cash_sales_cents"`
	CashRefundsCents  int64 `json:"cash_refunds_cents"`
	CashInCents       int64 `json:"cash_in_cents"`
	CashOutCents      int64 `json:"cash_out_cents"`
	ExpectedCashCents int64 `json:"expected_cash_cents"`
}

const (
	TxTypeSale   = "sale"
	TxTypeRefund = "refund"
)

const (
	TxStatusCompleted         = "completed"
	TxStatusVoided            = "voided"
	TxStatusRefunded          = "refunded"
	TxStatusPartiallyRefunded = "partially_refunded"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
)

const (
	MovementSale        = "sale"
	MovementReturnStock = "return_stock"
)

const (
	ReferenceSale   = "sale"
	ReferenceRefund = "refund"
	ReferenceVoid   = "void"
)

const (
	ShiftStatusOpen   = "open"
	ShiftStatusClosed = "closed"
)

const (
	CashIn  = "cash_in"
	CashOut = "cash_out"
)

const (
	OrderTypeDineIn   = "dine_in"
	OrderTypeTakeaway = "takeaway"
	OrderTypeDelivery = "delivery"
)

const (
	RefundMethodCash           = "cash"
	RefundMethodOriginalMethod = "original_method"
	RefundMethodStoreCredit    = "store_credit"
)

const (
	RefundReasonDefect          = "defect"
	RefundReasonWrongOrder      = "wrong_order"
	RefundReasonCustomerRequest = "customer_request"
	RefundReasonOther           = "other"
)

const (
	DiscountPercentage = "percentage"
	DiscountFixed      = "fixed"
)
