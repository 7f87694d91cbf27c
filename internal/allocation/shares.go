// Package allocation computes the martingale capital split for one trading
// cycle: one market-entry share plus one share per DCA level.
package allocation

import (
	"github.com/shopspring/decimal"
	"github.com/stratalab/dcacycle/pkg/errors"
)

var one = decimal.NewFromInt(1)

// ComputeShares splits totalDeposit into dcaCount+1 ordered shares. Element 0
// funds the market entry; elements 1..dcaCount fund the DCA levels.
//
// With coefficient 1 the split is even. Otherwise the shares form a geometric
// progression with ratio coefficient, so a coefficient above 1 weights capital
// toward the deeper DCA levels and a coefficient below 1 front-loads it. The
// shares sum to totalDeposit before commission.
func ComputeShares(totalDeposit decimal.Decimal, dcaCount int, coefficient decimal.Decimal) ([]decimal.Decimal, error) {
	if coefficient.Sign() <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "martingale coefficient must be positive, got %s", coefficient)
	}

	if dcaCount < 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "dca count must be non-negative, got %d", dcaCount)
	}

	n := dcaCount + 1
	shares := make([]decimal.Decimal, 0, n)

	if coefficient.Equal(one) {
		part := totalDeposit.Div(decimal.NewFromInt(int64(n)))
		for i := 0; i < n; i++ {
			shares = append(shares, part)
		}

		return shares, nil
	}

	// First term a solves a * (1 - k^n) / (1 - k) = totalDeposit.
	ratioSum := one.Sub(coefficient.Pow(decimal.NewFromInt(int64(n)))).Div(one.Sub(coefficient))
	first := totalDeposit.Div(ratioSum)

	for i := 0; i < n; i++ {
		shares = append(shares, first.Mul(coefficient.Pow(decimal.NewFromInt(int64(i)))))
	}

	return shares, nil
}
