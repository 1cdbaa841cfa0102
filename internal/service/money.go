package service

import (
	"sort"

	"github.com/shopspring/decimal"

	"kasirledger/backend/internal/domain"
)

var (
	defaultTaxRate = decimal.RequireFromString("0.11")
	zeroRate       = decimal.Zero
	hundred        = decimal.NewFromInt(100)
)

// roundHalfUp rounds a non-negative amount to whole currency units.
func roundHalfUp(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}

func applyRate(amount int64, rate decimal.Decimal) int64 {
	if amount <= 0 || rate.Sign() <= 0 {
		return 0
	}
	return roundHalfUp(decimal.NewFromInt(amount).Mul(rate))
}

// proportion returns round(amount × num / den), or 0 when den is 0.
func proportion(amount int64, num int64, den int64) int64 {
	if den == 0 {
		return 0
	}
	return roundHalfUp(decimal.NewFromInt(amount).Mul(decimal.NewFromInt(num)).Div(decimal.NewFromInt(den)))
}

// allocate splits total over weights proportionally with the largest
// remainder method. The shares always sum to total; ties go to the earlier
// index.
func allocate(total int64, weights []int64) []int64 {
	shares := make([]int64, len(weights))
	var sum int64
	for _, w := range weights {
		sum += w
	}
	if total == 0 || sum == 0 {
		return shares
	}

	type remainder struct {
		index int
		rem   decimal.Decimal
	}
	den := decimal.NewFromInt(sum)
	rems := make([]remainder, len(weights))
	var assigned int64
	for i, w := range weights {
		q, r := decimal.NewFromInt(total).Mul(decimal.NewFromInt(w)).QuoRem(den, 0)
		shares[i] = q.IntPart()
		assigned += shares[i]
		rems[i] = remainder{index: i, rem: r}
	}
	sort.SliceStable(rems, func(a, b int) bool {
		return rems[a].rem.GreaterThan(rems[b].rem)
	})
	for i := int64(0); i < total-assigned; i++ {
		shares[rems[i%int64(len(rems))].index]++
	}
	return shares
}

// evenShares splits total into n parts of floor(total/n); the first part
// carries the remainder.
func evenShares(total int64, n int) []int64 {
	shares := make([]int64, n)
	base := total / int64(n)
	for i := range shares {
		shares[i] = base
	}
	shares[0] += total - base*int64(n)
	return shares
}

// coverDeficits moves tax and service charge away from any part whose
// taxable base went negative, onto parts with room to spare. Component sums
// are preserved and nothing ends below zero as long as the bases add up to
// zero or more.
func coverDeficits(taxable []int64, components ...[]int64) {
	for i := range taxable {
		for _, comp := range components {
			for j := range taxable {
				if taxable[i] >= 0 {
					break
				}
				if j == i || taxable[j] <= 0 || comp[i] == 0 {
					continue
				}
				amt := min(-taxable[i], comp[i], taxable[j])
				comp[i] -= amt
				comp[j] += amt
				taxable[i] += amt
				taxable[j] -= amt
			}
		}
	}
}

// discountAmount evaluates already-approved discounts against the subtotal.
// Percentages apply to the subtotal, not to each other. The result never
// exceeds the subtotal.
func discountAmount(subtotal int64, discounts []domain.DiscountInput) (int64, error) {
	var total int64
	for i, d := range discounts {
		if d.Value.IsNegative() {
			return 0, domain.Validation("discounts[%d].value must not be negative", i)
		}
		switch d.Type {
		case domain.DiscountPercentage:
			if d.Value.GreaterThan(hundred) {
				return 0, domain.Validation("discounts[%d].value must be at most 100", i)
			}
			total += roundHalfUp(decimal.NewFromInt(subtotal).Mul(d.Value).Div(hundred))
		case domain.DiscountFixed:
			total += roundHalfUp(d.Value)
		default:
			return 0, domain.Validation("discounts[%d].type %q is not supported", i, d.Type)
		}
	}
	if total > subtotal {
		total = subtotal
	}
	return total, nil
}

func sumAmounts(payments []domain.PaymentInput) (paid int64, cash int64) {
	for _, p := range payments {
		paid += p.AmountCents
		if p.Method == domain.MethodCash {
			cash += p.AmountCents
		}
	}
	return paid, cash
}

// changeDue attributes any overpayment to the cash tender. Without a cash
// tender there is no change.
func changeDue(paid int64, due int64, cash int64) int64 {
	if cash == 0 || paid <= due {
		return 0
	}
	return paid - due
}
