package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateReportsJSONFieldNames(t *testing.T) {
	err := Validate(CreateTransactionRequest{
		Items:    []TransactionItemInput{{ProductID: "SKU-1", Quantity: 0}},
		Payments: []PaymentInput{{Method: "cash", AmountCents: 1}},
	})
	require.ErrorIs(t, err, ErrValidation)

	var verr *Error
	require.True(t, errors.As(err, &verr))
	fields, ok := verr.Details["fields"].(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "required", fields["CreateTransactionRequest.shift_id"])
	assert.Equal(t, "gt", fields["CreateTransactionRequest.items[0].quantity"])
}

func TestValidateAcceptsWellFormedRequest(t *testing.T) {
	assert.NoError(t, Validate(RefundRequest{
		Items:        []RefundItemInput{{ItemID: "i-1", Quantity: 1, Reason: RefundReasonDefect}},
		RefundMethod: RefundMethodOriginalMethod,
	}))
	assert.ErrorIs(t, Validate(RefundRequest{
		Items:        []RefundItemInput{{ItemID: "i-1", Quantity: 1, Reason: "changed mind"}},
		RefundMethod: RefundMethodCash,
	}), ErrValidation)
}

func TestErrorIsComparesCodes(t *testing.T) {
	err := InsufficientStock(StockKey{OutletID: "o", ProductID: "p", VariantID: "v"}, 1, 3)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.NotErrorIs(t, err, ErrInsufficientPayment)
	assert.Equal(t, "v", err.Details["variant_id"])

	code, ok := CodeOf(GatewayFailure("midtrans", errors.New("timeout")))
	require.True(t, ok)
	assert.Equal(t, CodePaymentGateway, code)
}
