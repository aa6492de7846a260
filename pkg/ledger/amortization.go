package ledger

import (
	"github.com/shopspring/decimal"
)

var (
	hundred       = decimal.NewFromInt(100)
	monthsInYear  = decimal.NewFromInt(12)
	halfMinorUnit = decimal.New(5, -3)
)

// Amortization is the fixed repayment plan of a simple-interest loan.
type Amortization struct {
	Interest    decimal.Decimal
	TotalAmount decimal.Decimal
	MonthlyEMI  decimal.Decimal
}

// Compute returns the simple interest over the whole term, the total payable
// and the equated monthly instalment. Nothing is rounded and the inputs are
// not validated: callers guarantee principal > 0, years >= 1 and
// annualRatePct >= 0.
func Compute(principal decimal.Decimal, years int, annualRatePct decimal.Decimal) Amortization {
	y := decimal.NewFromInt(int64(years))
	interest := principal.Mul(y).Mul(annualRatePct.Div(hundred))
	total := principal.Add(interest)
	return Amortization{
		Interest:    interest,
		TotalAmount: total,
		MonthlyEMI:  total.Div(y.Mul(monthsInYear)),
	}
}

// EMIsLeft returns how many instalments of emi are needed to clear balance.
//
// The EMI is a truncated quotient, so balance/emi can land a hair above a
// whole number (11000 over 24 months gives 24.000...01). A residual smaller
// than half a cent after the whole instalments does not count as another one.
func EMIsLeft(balance, emi decimal.Decimal) int64 {
	if !emi.IsPositive() || !balance.IsPositive() {
		return 0
	}
	whole := balance.Div(emi).Floor()
	residual := balance.Sub(whole.Mul(emi))
	if residual.GreaterThanOrEqual(halfMinorUnit) {
		whole = whole.Add(decimal.NewFromInt(1))
	}
	return whole.IntPart()
}
