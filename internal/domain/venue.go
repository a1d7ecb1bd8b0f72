package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// QuoteStyle is how a venue prices executable size.
type QuoteStyle string

const (
	// QuoteTopOfBook venues fill at bid/ask; size-dependent slippage is
	// absorbed by the limit markup applied at order placement.
	QuoteTopOfBook QuoteStyle = "top_of_book"
	// QuoteCurve venues fill against an AMM curve or a depth ladder.
	QuoteCurve QuoteStyle = "curve"
)

// VenueSpec carries the static trading rules of a venue.
type VenueSpec struct {
	ID         string
	QuoteStyle QuoteStyle
	LotSize    decimal.Decimal
	// LimitMarkupPct is the defensive markup applied to limit prices on
	// book venues, in percent. Zero for curve venues.
	LimitMarkupPct decimal.Decimal
}

// QuoteSource returns the latest quote for an instrument. It fails with
// ErrQuoteUnavailable when the venue has no live market.
type QuoteSource interface {
	GetTopOfBook(ctx context.Context, instrument string) (VenueQuote, error)
}

// PositionSource returns the live net position for an instrument.
type PositionSource interface {
	GetPosition(ctx context.Context, instrument string) (Position, error)
}

// OrderSink places limit orders.
type OrderSink interface {
	PlaceLimitOrder(ctx context.Context, spec OrderSpec) (OrderHandle, error)
}

// OrderResolver looks up an order by its client order ID. It is used to
// settle pending or ambiguous submissions.
type OrderResolver interface {
	ResolveOrder(ctx context.Context, instrument, clientOrderID string) (OrderHandle, error)
}

// BalanceChecker is implemented by venues whose account must hold a native
// balance to pay fees. CheckBalance fails with ErrInsufficientBalance when it
// is below the configured floor.
type BalanceChecker interface {
	CheckBalance(ctx context.Context) error
}

// InstructionBuilder encodes an order as an instruction for atomic bundling.
type InstructionBuilder interface {
	BuildInstruction(ctx context.Context, spec OrderSpec) (Instruction, error)
}

// TxSubmitter submits instructions as one all-or-nothing transaction.
type TxSubmitter interface {
	SubmitBundle(ctx context.Context, instructions []Instruction) (BundleReceipt, error)
}

// TxResolver reports the current status of a submitted bundle.
type TxResolver interface {
	TxStatus(ctx context.Context, txID string) (BundleReceipt, error)
}

// FundingSource returns the projected funding rate.
type FundingSource interface {
	GetFundingRate(ctx context.Context, instrument string) (FundingRate, error)
}

// VenueAdapter is the capability set every venue implements. Optional
// capabilities (OrderResolver, InstructionBuilder, FundingSource) are
// discovered with type assertions.
type VenueAdapter interface {
	QuoteSource
	PositionSource
	OrderSink
	Spec() VenueSpec
}
