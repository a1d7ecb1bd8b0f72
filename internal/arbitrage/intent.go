package arbitrage

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perparb/internal/domain"
)

// IntentParams carries everything needed to turn a selected direction into
// a two-leg order.
type IntentParams struct {
	ID         string
	Strategy   string
	Instrument string
	DirectionA domain.Direction
	Spreads    Spreads
	VenueA     domain.VenueSpec
	VenueB     domain.VenueSpec
	TargetUSD  decimal.Decimal
	Now        time.Time
}

// BuildIntent sizes both legs to the same quantity, compliant with both
// venues' lot sizes. The higher entry price is the reference so neither
// leg's notional exceeds the target. Limit prices carry each venue's markup.
func BuildIntent(p IntentParams) (domain.TradeIntent, error) {
	entryA, entryB := p.Spreads.EntryPrices(p.DirectionA)
	sized, err := Size(p.TargetUSD, p.VenueA.LotSize, decimal.Max(entryA, entryB))
	if err != nil {
		return domain.TradeIntent{}, err
	}
	qty := sized.Quantity
	if p.VenueB.LotSize.IsPositive() {
		lots, _ := qty.QuoRem(p.VenueB.LotSize, 0)
		qty = lots.Mul(p.VenueB.LotSize)
	}
	if qty.IsZero() {
		return domain.TradeIntent{}, fmt.Errorf("arbitrage: quantity %s below venue %s lot %s: %w",
			sized.Quantity, p.VenueB.ID, p.VenueB.LotSize, domain.ErrInvalidOrder)
	}

	dirB := p.DirectionA.Opposite()
	return domain.TradeIntent{
		ID:         p.ID,
		Strategy:   p.Strategy,
		Instrument: p.Instrument,
		Direction:  p.DirectionA,
		LegA: domain.OrderSpec{
			VenueID:     p.VenueA.ID,
			Instrument:  p.Instrument,
			Direction:   p.DirectionA,
			Price:       LimitPrice(entryA, p.DirectionA, p.VenueA.LimitMarkupPct),
			Quantity:    qty,
			NotionalUSD: qty.Mul(entryA),
		},
		LegB: domain.OrderSpec{
			VenueID:     p.VenueB.ID,
			Instrument:  p.Instrument,
			Direction:   dirB,
			Price:       LimitPrice(entryB, dirB, p.VenueB.LimitMarkupPct),
			Quantity:    qty,
			NotionalUSD: qty.Mul(entryB),
		},
		ExpectedProfitPct: p.Spreads.For(p.DirectionA),
		CreatedAt:         p.Now,
	}, nil
}

// CloseParams describes the positions to flatten on both venues.
type CloseParams struct {
	ID         string
	Strategy   string
	Instrument string
	PosA       domain.Position
	PosB       domain.Position
	Spreads    Spreads
	VenueA     domain.VenueSpec
	VenueB     domain.VenueSpec
	Now        time.Time
}

// BuildCloseIntent returns a reduce-only intent that flattens both positions.
// A flat venue gets a zero-quantity leg, which the executor skips. It fails
// with domain.ErrInvalidOrder when both venues are already flat.
func BuildCloseIntent(p CloseParams) (domain.TradeIntent, error) {
	if p.PosA.IsFlat() && p.PosB.IsFlat() {
		return domain.TradeIntent{}, fmt.Errorf("arbitrage: nothing to close on %s: %w", p.Instrument, domain.ErrInvalidOrder)
	}

	legA := closeLeg(p.PosA, p.VenueA, p.Instrument, p.Spreads.EntryALong, p.Spreads.EntryAShort)
	legB := closeLeg(p.PosB, p.VenueB, p.Instrument, p.Spreads.EntryBLong, p.Spreads.EntryBShort)

	// Direction is always expressed as the side taken on A.
	dirA := legA.Direction
	if p.PosA.IsFlat() {
		dirA = legB.Direction.Opposite()
		legA.Direction = dirA
	}
	return domain.TradeIntent{
		ID:                p.ID,
		Strategy:          p.Strategy,
		Instrument:        p.Instrument,
		Direction:         dirA,
		LegA:              legA,
		LegB:              legB,
		ExpectedProfitPct: decimal.Zero,
		CreatedAt:         p.Now,
	}, nil
}

func closeLeg(pos domain.Position, venue domain.VenueSpec, instrument string, longPx, shortPx decimal.Decimal) domain.OrderSpec {
	leg := domain.OrderSpec{
		VenueID:    venue.ID,
		Instrument: instrument,
		Quantity:   decimal.Zero,
		ReduceOnly: true,
	}
	if pos.IsFlat() {
		return leg
	}
	leg.Direction = pos.Direction().Opposite()
	ref := longPx
	if leg.Direction == domain.Short {
		ref = shortPx
	}
	qty := pos.SignedSize.Abs()
	if venue.LotSize.IsPositive() {
		lots, _ := qty.QuoRem(venue.LotSize, 0)
		qty = lots.Mul(venue.LotSize)
	}
	leg.Quantity = qty
	leg.Price = LimitPrice(ref, leg.Direction, venue.LimitMarkupPct)
	leg.NotionalUSD = qty.Mul(ref)
	return leg
}
