package domain

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeValidation                ErrorCode = "VALIDATION_FAILED"
	CodeNotFound                  ErrorCode = "NOT_FOUND"
	CodeShiftNotOpen              ErrorCode = "SHIFT_NOT_OPEN"
	CodeProductNotFoundOrInactive ErrorCode = "PRODUCT_NOT_FOUND_OR_INACTIVE"
	CodeInsufficientStock         ErrorCode = "INSUFFICIENT_STOCK"
	CodeInsufficientPayment       ErrorCode = "INSUFFICIENT_PAYMENT"
	CodeRefundNotAllowed          ErrorCode = "REFUND_NOT_ALLOWED"
	CodeVoidNotAllowed            ErrorCode = "VOID_NOT_ALLOWED"
	CodeInvalidTransaction        ErrorCode = "INVALID_TRANSACTION"
	CodeTransactionNotFound       ErrorCode = "TRANSACTION_NOT_FOUND"
	CodeInvalidPayment            ErrorCode = "INVALID_PAYMENT"
	CodePaymentGateway            ErrorCode = "PAYMENT_GATEWAY_ERROR"
	CodeWebhookUnauthorized       ErrorCode = "WEBHOOK_UNAUTHORIZED"
)

// Error is an expected business outcome. Callers branch on it with
// errors.Is against the sentinels below, which compare by code only.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

func (e *Error) With(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any, 2)
	}
	e.Details[key] = value
	return e
}

var (
	ErrValidation                = &Error{Code: CodeValidation}
	ErrNotFound                  = &Error{Code: CodeNotFound}
	ErrShiftNotOpen              = &Error{Code: CodeShiftNotOpen}
	ErrProductNotFoundOrInactive = &Error{Code: CodeProductNotFoundOrInactive}
	ErrInsufficientStock         = &Error{Code: CodeInsufficientStock}
	ErrInsufficientPayment       = &Error{Code: CodeInsufficientPayment}
	ErrRefundNotAllowed          = &Error{Code: CodeRefundNotAllowed}
	ErrVoidNotAllowed            = &Error{Code: CodeVoidNotAllowed}
	ErrInvalidTransaction        = &Error{Code: CodeInvalidTransaction}
	ErrTransactionNotFound       = &Error{Code: CodeTransactionNotFound}
	ErrInvalidPayment            = &Error{Code: CodeInvalidPayment}
	ErrPaymentGateway            = &Error{Code: CodePaymentGateway}
	ErrWebhookUnauthorized       = &Error{Code: CodeWebhookUnauthorized}
)

func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return NewError(CodeValidation, format, args...)
}

func ShiftNotOpen(shiftID string, status string) *Error {
	msg := fmt.Sprintf("shift %s is not open", shiftID)
	if status != "" {
		msg = fmt.Sprintf("shift %s is %s", shiftID, status)
	}
	return NewError(CodeShiftNotOpen, "%s", msg).With("shift_id", shiftID).With("status", status)
}

func ProductNotFoundOrInactive(productID string, variantID string) *Error {
	e := NewError(CodeProductNotFoundOrInactive, "product %s not found or inactive", productID).With("product_id", productID)
	if variantID != "" {
		e.Message = fmt.Sprintf("product %s variant %s not found or inactive", productID, variantID)
		e.With("variant_id", variantID)
	}
	return e
}

func InsufficientStock(key StockKey, available int64, requested int64) *Error {
	e := NewError(CodeInsufficientStock, "insufficient stock for product %s: available %d, requested %d", key.ProductID, available, requested).
		With("product_id", key.ProductID).
		With("available", available).
		With("requested", requested)
	if key.VariantID != "" {
		e.With("variant_id", key.VariantID)
	}
	return e
}

func InsufficientPayment(paid int64, due int64) *Error {
	return NewError(CodeInsufficientPayment, "insufficient payment: paid %d, due %d", paid, due).
		With("paid_cents", paid).
		With("due_cents", due)
}

func RefundNotAllowed(transactionID string, format string, args ...any) *Error {
	return NewError(CodeRefundNotAllowed, format, args...).With("transaction_id", transactionID)
}

func VoidNotAllowed(transactionID string, format string, args ...any) *Error {
	return NewError(CodeVoidNotAllowed, format, args...).With("transaction_id", transactionID)
}

func InvalidTransaction(format string, args ...any) *Error {
	return NewError(CodeInvalidTransaction, format, args...)
}

func TransactionNotFound(transactionID string) *Error {
	return NewError(CodeTransactionNotFound, "transaction %s not found", transactionID).With("transaction_id", transactionID)
}

func InvalidPayment(format string, args ...any) *Error {
	return NewError(CodeInvalidPayment, format, args...)
}

// GatewayFailure wraps a provider failure so the surrounding unit of work
// aborts with a stable code while the cause stays inspectable.
func GatewayFailure(provider string, cause error) *Error {
	e := NewError(CodePaymentGateway, "payment provider %s failed: %v", provider, cause).With("provider", provider)
	e.cause = cause
	return e
}

func CodeOf(err error) (ErrorCode, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}
