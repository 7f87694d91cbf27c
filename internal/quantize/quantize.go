// Package quantize rounds raw quantities and prices down to the exchange's
// lot-size and tick-size grids. Rounding is always toward zero so a computed
// order never commits more capital than the sizing step allowed for.
package quantize

import (
	"github.com/shopspring/decimal"
	"github.com/stratalab/dcacycle/pkg/errors"
)

func init() {
	// Sizing chains divide repeatedly (deposit -> share -> quantity); the
	// default 16 digits of division precision is not enough to keep the
	// floor boundary stable across thousands of calculations.
	if decimal.DivisionPrecision < 28 {
		decimal.DivisionPrecision = 28
	}
}

// Quantity floors raw to the nearest multiple of step, then clamps it into
// [min, max]. A result below min becomes exactly zero, signalling that the
// order is not viable at the exchange's granularity.
func Quantity(raw, step, min, max decimal.Decimal) (decimal.Decimal, error) {
	if step.Sign() <= 0 {
		return decimal.Zero, errors.Newf(errors.ErrCodeInvalidParameter, "step size must be positive, got %s", step)
	}

	qty := floorToIncrement(raw, step)

	if qty.LessThan(min) {
		return decimal.Zero, nil
	}

	if max.Sign() > 0 && qty.GreaterThan(max) {
		return max, nil
	}

	return qty, nil
}

// Price floors raw to the nearest multiple of tick, then clamps it into
// [min, max]. Unlike quantities, a too-low price is raised to min rather
// than zeroed: a price is a coordinate, not a commitment.
func Price(raw, tick, min, max decimal.Decimal) (decimal.Decimal, error) {
	if tick.Sign() <= 0 {
		return decimal.Zero, errors.Newf(errors.ErrCodeInvalidParameter, "tick size must be positive, got %s", tick)
	}

	price := floorToIncrement(raw, tick)

	if price.LessThan(min) {
		return min, nil
	}

	if max.Sign() > 0 && price.GreaterThan(max) {
		return max, nil
	}

	return price, nil
}

// floorToIncrement returns the largest multiple of step that does not
// exceed value.
func floorToIncrement(value, step decimal.Decimal) decimal.Decimal {
	return value.Div(step).Floor().Mul(step)
}
