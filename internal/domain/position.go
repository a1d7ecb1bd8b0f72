package domain

import "github.com/shopspring/decimal"

// Position is the live net exposure on one venue. It is owned by the venue
// and read fresh each cycle. SignedSize is positive for long exposure.
type Position struct {
	VenueID     string
	Instrument  string
	SignedSize  decimal.Decimal
	NotionalUSD decimal.Decimal
}

// IsFlat reports whether there is no open exposure.
func (p Position) IsFlat() bool {
	return p.SignedSize.IsZero()
}

// Direction returns the side of the open exposure. It is meaningless when
// the position is flat.
func (p Position) Direction() Direction {
	if p.SignedSize.IsNegative() {
		return Short
	}
	return Long
}
