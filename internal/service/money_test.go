package service

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirledger/backend/internal/domain"
)

func TestAllocateSumsToTotal(t *testing.T) {
	tests := []struct {
		total   int64
		weights []int64
		want    []int64
	}{
		{100, []int64{1, 1, 1}, []int64{34, 33, 33}},
		{3685, []int64{7000, 26500}, []int64{770, 2915}},
		{5, []int64{1, 2}, []int64{2, 3}},
		{0, []int64{3, 4}, []int64{0, 0}},
		{10, []int64{0, 0}, []int64{0, 0}},
		{4350, []int64{7000, 26500}, []int64{909, 3441}},
	}
	for _, tt := range tests {
		got := allocate(tt.total, tt.weights)
		assert.Equal(t, tt.want, got, "allocate(%d, %v)", tt.total, tt.weights)
	}
}

func TestEvenSharesFrontLoadsRemainder(t *testing.T) {
	assert.Equal(t, []int64{33334, 33333, 33333}, evenShares(100000, 3))
	assert.Equal(t, []int64{4, 2, 2, 2}, evenShares(10, 4))
	assert.Equal(t, []int64{18593, 18592}, evenShares(37185, 2))
}

func TestCoverDeficitsMovesComponentsToRoomyParts(t *testing.T) {
	taxable := []int64{-1, 1, 1}
	tax := []int64{3, 1, 1}
	coverDeficits(taxable, tax)
	assert.Equal(t, []int64{0, 0, 1}, taxable)
	assert.Equal(t, []int64{2, 2, 1}, tax)

	taxable = []int64{-2, 1, 1}
	tax = []int64{1, 0, 0}
	charge := []int64{1, 0, 0}
	coverDeficits(taxable, tax, charge)
	assert.Equal(t, []int64{0, 0, 0}, taxable)
	assert.Equal(t, []int64{0, 1, 0}, tax)
	assert.Equal(t, []int64{0, 0, 1}, charge)

	taxable = []int64{5, 3}
	tax = []int64{1, 1}
	coverDeficits(taxable, tax)
	assert.Equal(t, []int64{5, 3}, taxable)
	assert.Equal(t, []int64{1, 1}, tax)
}

func TestProportionRoundsHalfUp(t *testing.T) {
	assert.Equal(t, int64(385), proportion(3500, 3685, 33500))
	assert.Equal(t, int64(1), proportion(1, 1, 2))
	assert.Equal(t, int64(0), proportion(10, 3, 0))
	assert.Equal(t, int64(17), applyRate(150, decimal.RequireFromString("0.11")))
	assert.Equal(t, int64(0), applyRate(150, zeroRate))
}

func TestDiscountAmount(t *testing.T) {
	pct := func(v string) domain.DiscountInput {
		return domain.DiscountInput{Type: domain.DiscountPercentage, Value: decimal.RequireFromString(v)}
	}
	fixed := func(v string) domain.DiscountInput {
		return domain.DiscountInput{Type: domain.DiscountFixed, Value: decimal.RequireFromString(v)}
	}

	got, err := discountAmount(33500, []domain.DiscountInput{pct("10"), fixed("1000")})
	require.NoError(t, err)
	assert.Equal(t, int64(4350), got)

	got, err = discountAmount(33500, []domain.DiscountInput{fixed("50000")})
	require.NoError(t, err)
	assert.Equal(t, int64(33500), got)

	got, err = discountAmount(1005, []domain.DiscountInput{pct("2.5")})
	require.NoError(t, err)
	assert.Equal(t, int64(25), got)

	for _, bad := range []domain.DiscountInput{pct("120"), fixed("-1"), {Type: "bogo", Value: decimal.NewFromInt(1)}} {
		_, err := discountAmount(1000, []domain.DiscountInput{bad})
		assert.ErrorIs(t, err, domain.ErrValidation)
	}
}

func TestChangeDueOnlyWithCash(t *testing.T) {
	assert.Equal(t, int64(0), changeDue(40000, 37185, 0))
	assert.Equal(t, int64(2815), changeDue(40000, 37185, 10000))
	assert.Equal(t, int64(0), changeDue(37185, 37185, 37185))
}
