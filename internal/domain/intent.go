package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// GateDecision says which directions may be opened this cycle. Long and Short
// are relative to venue A: Long means long A and short B. Effective
// thresholds are percentages.
type GateDecision struct {
	CanOpenLong             bool
	CanOpenShort            bool
	EffectiveThresholdLong  decimal.Decimal
	EffectiveThresholdShort decimal.Decimal
}

// Allows reports whether the direction is permitted.
func (g GateDecision) Allows(d Direction) bool {
	if d == Long {
		return g.CanOpenLong
	}
	return g.CanOpenShort
}

// Threshold returns the effective entry threshold for the direction.
func (g GateDecision) Threshold(d Direction) decimal.Decimal {
	if d == Long {
		return g.EffectiveThresholdLong
	}
	return g.EffectiveThresholdShort
}

// TradeIntent is one triggered two-leg opportunity. Direction is the side
// taken on venue A; leg B always takes the opposite side.
type TradeIntent struct {
	ID                string          `json:"id"`
	Strategy          string          `json:"strategy"`
	Instrument        string          `json:"instrument"`
	Direction         Direction       `json:"direction"`
	LegA              OrderSpec       `json:"leg_a"`
	LegB              OrderSpec       `json:"leg_b"`
	ExpectedProfitPct decimal.Decimal `json:"expected_profit_pct"`
	CreatedAt         time.Time       `json:"created_at"`
}
