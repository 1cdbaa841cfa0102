package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionItemInput struct {
	ProductID string `json:"product_id" validate:"required"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int64  `json:"quantity" validate:"gt=0"`
	// UnitPriceCents, when set, replaces the catalogue price and modifiers.
	UnitPriceCents *int64     `json:"unit_price_cents,omitempty" validate:"omitempty,gte=0"`
	Modifiers      []Modifier `json:"modifiers,omitempty" validate:"dive"`
	Notes          string     `json:"notes,omitempty" validate:"max=255"`
}

type PaymentInput struct {
	Method      string            `json:"method" validate:"required"`
	AmountCents int64             `json:"amount_cents" validate:"gt=0"`
	Reference   string            `json:"reference,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// DiscountInput is an already-evaluated discount. Value is a percentage of
// the subtotal for percentage discounts and an amount for fixed ones.
type DiscountInput struct {
	Type        string          `json:"type" validate:"required,oneof=percentage fixed"`
	Value       decimal.Decimal `json:"value"`
	PromotionID string          `json:"promotion_id,omitempty"`
	VoucherCode string          `json:"voucher_code,omitempty"`
}

type CreateTransactionRequest struct {
	OutletID       string                 `json:"outlet_id"`
	TerminalID     string                 `json:"terminal_id,omitempty"`
	ShiftID        string                 `json:"shift_id" validate:"required"`
	EmployeeID     string                 `json:"-"`
	CustomerID     string                 `json:"customer_id,omitempty"`
	OrderType      string                 `json:"order_type,omitempty" validate:"omitempty,oneof=dine_in takeaway delivery"`
	IdempotencyKey string                 `json:"idempotency_key,omitempty" validate:"max=128"`
	Items          []TransactionItemInput `json:"items" validate:"required,min=1,dive"`
	Payments       []PaymentInput         `json:"payments" validate:"required,min=1,dive"`
	Discounts      []DiscountInput        `json:"discounts,omitempty" validate:"dive"`
	Notes          string                 `json:"notes,omitempty" validate:"max=500"`
}

type CreateTransactionResponse struct {
	TransactionID       string    `json:"transaction_id"`
	ReceiptNumber       string    `json:"receipt_number"`
	Status              string    `json:"status"`
	SubtotalCents       int64     `json:"subtotal_cents"`
	DiscountCents       int64     `json:"discount_cents"`
	TaxCents            int64     `json:"tax_cents"`
	ServiceChargeCents  int64     `json:"service_charge_cents"`
	GrandTotalCents     int64     `json:"grand_total_cents"`
	PaidCents           int64     `json:"paid_cents"`
	ChangeCents         int64     `json:"change_cents"`
	LoyaltyPointsEarned int64     `json:"loyalty_points_earned"`
	Payments            []Payment `json:"payments"`
	Duplicate           bool      `json:"duplicate"`
	CreatedAt           string    `json:"created_at"`
}

type RefundItemInput struct {
	ItemID   string `json:"item_id" validate:"required"`
	Quantity int64  `json:"quantity" validate:"gt=0"`
	Reason   string `json:"reason" validate:"required,oneof=defect wrong_order customer_request other"`
}

type RefundRequest struct {
	TransactionID string            `json:"-"`
	EmployeeID    string            `json:"-"`
	Items         []RefundItemInput `json:"items" validate:"required,min=1,dive"`
	RefundMethod  string            `json:"refund_method" validate:"required,oneof=cash original_method store_credit"`
	Notes         string            `json:"notes,omitempty" validate:"max=500"`
	ManagerPIN    string            `json:"manager_pin"`
}

type RefundResponse struct {
	RefundTransactionID string `json:"refund_transaction_id"`
	ReceiptNumber       string `json:"receipt_number"`
	RefundSubtotalCents int64  `json:"refund_subtotal_cents"`
	RefundTaxCents      int64  `json:"refund_tax_cents"`
	RefundAmountCents   int64  `json:"refund_amount_cents"`
	OriginalStatus      string `json:"original_status"`
}

type VoidRequest struct {
	TransactionID string `json:"-"`
	EmployeeID    string `json:"-"`
	OutletID      string `json:"outlet_id,omitempty"`
	Reason        string `json:"reason" validate:"required,max=255"`
	ManagerPIN    string `json:"manager_pin"`
}

type VoidResponse struct {
	TransactionID string    `json:"transaction_id"`
	Status        string    `json:"status"`
	VoidedBy      string    `json:"voided_by"`
	VoidedAt      time.Time `json:"voided_at"`
}

type SplitGroupInput struct {
	ItemIDs []string     `json:"item_ids" validate:"required,min=1"`
	Payment PaymentInput `json:"payment"`
}

// SplitRequest selects the split mode by shape: Groups splits by items,
// SplitCount splits evenly.
type SplitRequest struct {
	TransactionID string            `json:"-"`
	EmployeeID    string            `json:"-"`
	Groups        []SplitGroupInput `json:"groups,omitempty" validate:"dive"`
	SplitCount    int               `json:"split_count,omitempty"`
	Payments      []PaymentInput    `json:"payments,omitempty" validate:"dive"`
}

type SplitChild struct {
	TransactionID   string `json:"transaction_id"`
	ReceiptNumber   string `json:"receipt_number"`
	SplitIndex      int    `json:"split_index"`
	GrandTotalCents int64  `json:"grand_total_cents"`
	ChangeCents     int64  `json:"change_cents"`
}

type SplitResponse struct {
	ParentTransactionID string       `json:"parent_transaction_id"`
	Mode                string       `json:"mode"`
	Children            []SplitChild `json:"children"`
}

type MultiPaymentRequest struct {
	TransactionID string         `json:"-"`
	EmployeeID    string         `json:"-"`
	Payments      []PaymentInput `json:"payments" validate:"required,min=1,dive"`
}

type MultiPaymentResponse struct {
	TransactionID    string    `json:"transaction_id"`
	OutstandingCents int64     `json:"outstanding_cents"`
	PaidCents        int64     `json:"paid_cents"`
	ChangeCents      int64     `json:"change_cents"`
	Payments         []Payment `json:"payments"`
	Superseded       []string  `json:"superseded_payment_ids,omitempty"`
}

type ShiftOpenRequest struct {
	OutletID          string `json:"outlet_id"`
	TerminalID        string `json:"terminal_id" validate:"required"`
	EmployeeID        string `json:"-"`
	OpeningFloatCents int64  `json:"opening_float_cents" validate:"gte=0"`
}

type ShiftCloseRequest struct {
	ShiftID          string `json:"-"`
	ClosingCashCents int64  `json:"closing_cash_cents" validate:"gte=0"`
	Notes            string `json:"notes,omitempty" validate:"max=500"`
}

type ShiftResponse struct {
	Shift   Shift             `json:"shift"`
	Summary *ShiftCashSummary `json:"summary,omitempty"`
}

type CashMovementRequest struct {
	ShiftID     string `json:"-"`
	EmployeeID  string `json:"-"`
	Type        string `json:"type" validate:"required,oneof=cash_in cash_out"`
	AmountCents int64  `json:"amount_cents" validate:"gt=0"`
	Reason      string `json:"reason" validate:"required,max=255"`
}

type WebhookResult struct {
	Provider      string `json:"provider"`
	Matched       bool   `json:"matched"`
	Applied       bool   `json:"applied"`
	Duplicate     bool   `json:"duplicate"`
	PaymentID     string `json:"payment_id,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	FromStatus    string `json:"from_status,omitempty"`
	ToStatus      string `json:"to_status,omitempty"`
	Reason        string `json:"reason,omitempty"`
}
