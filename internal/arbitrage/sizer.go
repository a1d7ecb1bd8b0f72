package arbitrage

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perparb/internal/domain"
)

// Sized is a venue-compliant order size.
type Sized struct {
	Quantity    decimal.Decimal
	NotionalUSD decimal.Decimal
}

// Size converts a USD notional target into a quantity truncated to lotSize.
// The returned notional never exceeds the target. A zero quantity is
// returned as an error with domain.ErrInvalidOrder.
func Size(targetUSD, lotSize, referencePrice decimal.Decimal) (Sized, error) {
	if !targetUSD.IsPositive() || !lotSize.IsPositive() || !referencePrice.IsPositive() {
		return Sized{}, fmt.Errorf("arbitrage: size target=%s lot=%s price=%s: %w",
			targetUSD, lotSize, referencePrice, domain.ErrInvalidOrder)
	}
	// QuoRem truncates exactly, so no rounding can push us over target.
	lots, _ := targetUSD.QuoRem(referencePrice.Mul(lotSize), 0)
	qty := lots.Mul(lotSize)
	if qty.IsZero() {
		return Sized{}, fmt.Errorf("arbitrage: target %s below one lot at %s: %w",
			targetUSD, referencePrice, domain.ErrInvalidOrder)
	}
	return Sized{Quantity: qty, NotionalUSD: qty.Mul(referencePrice)}, nil
}

// LimitPrice applies the defensive markup to a reference price: up for buys,
// down for sells. markupPct is in percent.
func LimitPrice(ref decimal.Decimal, dir domain.Direction, markupPct decimal.Decimal) decimal.Decimal {
	m := markupPct.Div(hundred)
	if dir == domain.Long {
		return ref.Mul(decimal.NewFromInt(1).Add(m))
	}
	return ref.Mul(decimal.NewFromInt(1).Sub(m))
}
