package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of a position being opened.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == Long {
		return Short
	}
	return Long
}

// AMMCurve is the virtual reserve state of a constant-product perpetual
// market. PegMultiplier scales quote reserves to USD and defaults to one.
type AMMCurve struct {
	BaseReserve   decimal.Decimal
	QuoteReserve  decimal.Decimal
	PegMultiplier decimal.Decimal
}

// DepthLevel is one price level of a book.
type DepthLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// DepthBook holds the published depth ladder of a venue. Bids are sorted
// best first (descending), asks best first (ascending).
type DepthBook struct {
	Bids []DepthLevel
	Asks []DepthLevel
}

// VenueQuote is a normalized top-of-book snapshot for one venue. Any price
// may be absent when the venue has no active market. Curve and Depth are only
// set for venues that publish them.
type VenueQuote struct {
	VenueID    string
	Instrument string
	Bid        decimal.NullDecimal
	Ask        decimal.NullDecimal
	Mark       decimal.NullDecimal
	Curve      *AMMCurve
	Depth      *DepthBook
	ObservedAt time.Time
}

// Validate checks that bid does not exceed ask when both are present.
func (q VenueQuote) Validate() error {
	if q.Bid.Valid && q.Ask.Valid && q.Bid.Decimal.GreaterThan(q.Ask.Decimal) {
		return fmt.Errorf("quote %s: bid %s above ask %s", q.VenueID, q.Bid.Decimal, q.Ask.Decimal)
	}
	return nil
}

// Mid returns the mid price, falling back to mark when either side is absent.
func (q VenueQuote) Mid() (decimal.Decimal, bool) {
	if q.Bid.Valid && q.Ask.Valid {
		return q.Bid.Decimal.Add(q.Ask.Decimal).Div(decimal.NewFromInt(2)), true
	}
	if q.Mark.Valid {
		return q.Mark.Decimal, true
	}
	return decimal.Zero, false
}

// EffectivePrice is a price after slippage for a direction and notional.
// It is derived per cycle and never persisted.
type EffectivePrice struct {
	Direction   Direction
	Price       decimal.Decimal
	NotionalUSD decimal.Decimal
}

// FundingRate is the projected funding payment for the next settlement.
// HourlyPct is paid by longs to shorts when positive.
type FundingRate struct {
	VenueID       string
	Instrument    string
	HourlyPct     decimal.Decimal
	NextFundingAt time.Time
}

// Price wraps a decimal into a present NullDecimal.
func Price(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NewNullDecimal(d)
}
