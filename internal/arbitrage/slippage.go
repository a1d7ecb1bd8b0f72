package arbitrage

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perparb/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// SlippageModel estimates the price a venue would fill a given notional at.
type SlippageModel interface {
	EffectivePrice(q domain.VenueQuote, dir domain.Direction, notionalUSD decimal.Decimal) (domain.EffectivePrice, error)
}

// NewSlippageModel returns the model for a venue's quoting style.
func NewSlippageModel(style domain.QuoteStyle) SlippageModel {
	if style == domain.QuoteCurve {
		return CurveModel{}
	}
	return TopOfBookModel{}
}

// TopOfBookModel fills longs at the ask and shorts at the bid regardless of
// size. Size-dependent cost is covered by the limit markup at placement.
type TopOfBookModel struct{}

func (TopOfBookModel) EffectivePrice(q domain.VenueQuote, dir domain.Direction, notionalUSD decimal.Decimal) (domain.EffectivePrice, error) {
	side := q.Ask
	if dir == domain.Short {
		side = q.Bid
	}
	if !side.Valid || !side.Decimal.IsPositive() {
		return domain.EffectivePrice{}, fmt.Errorf("arbitrage: %s %s side missing on %s: %w", q.Instrument, dir, q.VenueID, domain.ErrQuoteUnavailable)
	}
	return domain.EffectivePrice{Direction: dir, Price: side.Decimal, NotionalUSD: notionalUSD}, nil
}

// CurveModel prices size against the venue's AMM curve, or against its depth
// ladder when no curve is published:
//
//	effective = mark × (1 + fraction)  for Long
//	effective = mark × (1 − fraction)  for Short
type CurveModel struct{}

func (CurveModel) EffectivePrice(q domain.VenueQuote, dir domain.Direction, notionalUSD decimal.Decimal) (domain.EffectivePrice, error) {
	mark, err := markPrice(q)
	if err != nil {
		return domain.EffectivePrice{}, err
	}

	var frac decimal.Decimal
	switch {
	case q.Curve != nil:
		frac, err = ammFraction(*q.Curve, notionalUSD)
	case q.Depth != nil:
		frac, err = depthFraction(*q.Depth, mark, dir, notionalUSD)
	default:
		// No curve data: the mark is the best available executable price.
		frac = decimal.Zero
	}
	if err != nil {
		return domain.EffectivePrice{}, fmt.Errorf("arbitrage: %s on %s: %w", q.Instrument, q.VenueID, err)
	}

	if dir == domain.Short {
		frac = frac.Neg()
	}
	return domain.EffectivePrice{
		Direction:   dir,
		Price:       mark.Mul(decimal.NewFromInt(1).Add(frac)),
		NotionalUSD: notionalUSD,
	}, nil
}

// markPrice prefers the published mark, then the curve's implied price, then
// the mid.
func markPrice(q domain.VenueQuote) (decimal.Decimal, error) {
	if q.Mark.Valid && q.Mark.Decimal.IsPositive() {
		return q.Mark.Decimal, nil
	}
	if c := q.Curve; c != nil && c.BaseReserve.IsPositive() {
		p := c.QuoteReserve.Mul(pegOf(*c)).Div(c.BaseReserve)
		if p.IsPositive() {
			return p, nil
		}
	}
	if mid, ok := q.Mid(); ok && mid.IsPositive() {
		return mid, nil
	}
	return decimal.Zero, fmt.Errorf("arbitrage: no mark for %s on %s: %w", q.Instrument, q.VenueID, domain.ErrQuoteUnavailable)
}

func pegOf(c domain.AMMCurve) decimal.Decimal {
	if c.PegMultiplier.IsPositive() {
		return c.PegMultiplier
	}
	return decimal.NewFromInt(1)
}

// ammFraction is the average-price premium of trading notionalUSD against a
// constant-product curve. It is the same for both directions:
// notional / (quoteReserve × peg).
func ammFraction(c domain.AMMCurve, notionalUSD decimal.Decimal) (decimal.Decimal, error) {
	depth := c.QuoteReserve.Mul(pegOf(c))
	if !depth.IsPositive() {
		return decimal.Zero, fmt.Errorf("empty curve: %w", domain.ErrQuoteUnavailable)
	}
	frac := notionalUSD.Abs().Div(depth)
	if frac.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("notional %s exhausts curve depth %s: %w", notionalUSD, depth, domain.ErrQuoteUnavailable)
	}
	return frac, nil
}

// depthFraction walks the ladder on the taking side until notionalUSD is
// filled and returns |vwap − mark| / mark.
func depthFraction(book domain.DepthBook, mark decimal.Decimal, dir domain.Direction, notionalUSD decimal.Decimal) (decimal.Decimal, error) {
	levels := book.Asks
	if dir == domain.Short {
		levels = book.Bids
	}
	remaining := notionalUSD.Abs()
	if remaining.IsZero() {
		return decimal.Zero, nil
	}

	filledQty := decimal.Zero
	filledUSD := decimal.Zero
	for _, lvl := range levels {
		if !lvl.Price.IsPositive() || !lvl.Size.IsPositive() {
			continue
		}
		levelUSD := lvl.Price.Mul(lvl.Size)
		if levelUSD.GreaterThanOrEqual(remaining) {
			filledQty = filledQty.Add(remaining.Div(lvl.Price))
			filledUSD = filledUSD.Add(remaining)
			remaining = decimal.Zero
			break
		}
		filledQty = filledQty.Add(lvl.Size)
		filledUSD = filledUSD.Add(levelUSD)
		remaining = remaining.Sub(levelUSD)
	}
	if remaining.IsPositive() {
		return decimal.Zero, fmt.Errorf("depth short by %s USD: %w", remaining, domain.ErrQuoteUnavailable)
	}

	vwap := filledUSD.Div(filledQty)
	return vwap.Sub(mark).Abs().Div(mark), nil
}
