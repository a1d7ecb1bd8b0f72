// Package arbitrage holds the pure decision functions of the engine: slippage
// adjusted pricing, directional spreads, exposure gating and order sizing.
// Nothing here performs I/O.
package arbitrage

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perparb/internal/domain"
)

// spreadPlaces is the number of decimal places spreads are carried at.
const spreadPlaces = 6

// Spreads holds both directional spreads of one cycle, in percent, plus the
// entry prices they were derived from.
type Spreads struct {
	// LongAShortB is the edge of buying A and selling B.
	LongAShortB decimal.Decimal
	// LongBShortA is the edge of buying B and selling A.
	LongBShortA decimal.Decimal

	EntryALong  decimal.Decimal
	EntryAShort decimal.Decimal
	EntryBLong  decimal.Decimal
	EntryBShort decimal.Decimal
}

// For returns the spread for a direction on venue A.
func (s Spreads) For(dirA domain.Direction) decimal.Decimal {
	if dirA == domain.Long {
		return s.LongAShortB
	}
	return s.LongBShortA
}

// EntryPrices returns the expected entry prices on A and B for a direction
// on venue A.
func (s Spreads) EntryPrices(dirA domain.Direction) (a, b decimal.Decimal) {
	if dirA == domain.Long {
		return s.EntryALong, s.EntryBShort
	}
	return s.EntryAShort, s.EntryBLong
}

// SpreadEngine combines two venues' effective prices into directional
// spreads. It is safe for concurrent use.
type SpreadEngine struct {
	modelA      SlippageModel
	modelB      SlippageModel
	notionalUSD decimal.Decimal
}

// NewSpreadEngine creates a SpreadEngine that prices notionalUSD of size on
// each venue.
func NewSpreadEngine(modelA, modelB SlippageModel, notionalUSD decimal.Decimal) *SpreadEngine {
	return &SpreadEngine{modelA: modelA, modelB: modelB, notionalUSD: notionalUSD}
}

// Evaluate computes both spreads:
//
//	LongBShortA = (bidA − effB(Long)) / effB(Long) × 100
//	LongAShortB = (effB(Short) − askA) / askA × 100
//
// On a top-of-book venue A, bidA and askA are its quoted sides. Both spreads
// are always computed. It fails with domain.ErrQuoteUnavailable if any of the
// four prices cannot be derived.
func (e *SpreadEngine) Evaluate(qa, qb domain.VenueQuote) (Spreads, error) {
	if err := qa.Validate(); err != nil {
		return Spreads{}, fmt.Errorf("arbitrage: %v: %w", err, domain.ErrQuoteUnavailable)
	}
	if err := qb.Validate(); err != nil {
		return Spreads{}, fmt.Errorf("arbitrage: %v: %w", err, domain.ErrQuoteUnavailable)
	}

	var s Spreads
	for _, p := range []struct {
		model SlippageModel
		quote domain.VenueQuote
		dir   domain.Direction
		dst   *decimal.Decimal
	}{
		{e.modelA, qa, domain.Long, &s.EntryALong},
		{e.modelA, qa, domain.Short, &s.EntryAShort},
		{e.modelB, qb, domain.Long, &s.EntryBLong},
		{e.modelB, qb, domain.Short, &s.EntryBShort},
	} {
		eff, err := p.model.EffectivePrice(p.quote, p.dir, e.notionalUSD)
		if err != nil {
			return Spreads{}, err
		}
		*p.dst = eff.Price
	}
	if !s.EntryALong.IsPositive() || !s.EntryBLong.IsPositive() {
		return Spreads{}, fmt.Errorf("arbitrage: non-positive entry price: %w", domain.ErrQuoteUnavailable)
	}

	s.LongBShortA = SpreadPct(s.EntryAShort, s.EntryBLong)
	s.LongAShortB = SpreadPct(s.EntryBShort, s.EntryALong)
	return s, nil
}

// SpreadPct returns (sell − buy) / buy × 100 rounded to the spread precision.
// buy must be positive.
func SpreadPct(sell, buy decimal.Decimal) decimal.Decimal {
	return sell.Sub(buy).Div(buy).Mul(hundred).Round(spreadPlaces)
}

// Triggered reports whether spread strictly exceeds threshold.
func Triggered(spread, threshold decimal.Decimal) bool {
	return spread.GreaterThan(threshold)
}

// Select picks the direction to trade on venue A. A direction qualifies when
// the gate allows it and its spread exceeds the effective threshold. When both
// qualify the larger spread wins, ties going to Long.
func Select(s Spreads, g domain.GateDecision) (domain.Direction, bool) {
	longOK := g.CanOpenLong && Triggered(s.LongAShortB, g.EffectiveThresholdLong)
	shortOK := g.CanOpenShort && Triggered(s.LongBShortA, g.EffectiveThresholdShort)
	switch {
	case longOK && shortOK:
		if s.LongBShortA.GreaterThan(s.LongAShortB) {
			return domain.Short, true
		}
		return domain.Long, true
	case longOK:
		return domain.Long, true
	case shortOK:
		return domain.Short, true
	default:
		return "", false
	}
}
