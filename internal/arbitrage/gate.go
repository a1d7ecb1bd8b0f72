package arbitrage

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perparb/internal/domain"
)

// thresholdMultiplier scales the entry threshold of the open direction when
// the opposite direction is capped. It stays at one: a capped side never
// lowers the bar for the other.
var thresholdMultiplier = decimal.NewFromInt(1)

// PositionGate decides which directions may add exposure.
type PositionGate struct {
	thresholdPct decimal.Decimal
}

// NewPositionGate creates a gate with the configured entry threshold in percent.
func NewPositionGate(thresholdPct decimal.Decimal) *PositionGate {
	return &PositionGate{thresholdPct: thresholdPct}
}

// CanOpenLong reports whether a long may be opened on the venue holding p.
// Buying is always allowed against short exposure; otherwise the absolute
// notional must be under the cap.
func CanOpenLong(p domain.Position, maxUSD decimal.Decimal) bool {
	return p.SignedSize.IsNegative() || p.NotionalUSD.Abs().LessThan(maxUSD)
}

// CanOpenShort is the mirror of CanOpenLong.
func CanOpenShort(p domain.Position, maxUSD decimal.Decimal) bool {
	return p.SignedSize.IsPositive() || p.NotionalUSD.Abs().LessThan(maxUSD)
}

// Evaluate builds the decision for this cycle. Long (long A, short B) needs
// room for a long on A and a short on B; Short is symmetric.
func (g *PositionGate) Evaluate(posA, posB domain.Position, maxUSD decimal.Decimal) domain.GateDecision {
	d := domain.GateDecision{
		CanOpenLong:  CanOpenLong(posA, maxUSD) && CanOpenShort(posB, maxUSD),
		CanOpenShort: CanOpenShort(posA, maxUSD) && CanOpenLong(posB, maxUSD),
	}
	d.EffectiveThresholdLong = g.thresholdPct
	d.EffectiveThresholdShort = g.thresholdPct
	if !d.CanOpenShort {
		d.EffectiveThresholdLong = g.thresholdPct.Mul(thresholdMultiplier)
	}
	if !d.CanOpenLong {
		d.EffectiveThresholdShort = g.thresholdPct.Mul(thresholdMultiplier)
	}
	return d
}
