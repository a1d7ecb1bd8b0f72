// Package paper implements simulated venues. A paper venue fills every
// marketable limit order immediately against its own quote and keeps
// positions in memory. Venues sharing a Bundler can be traded atomically.
package paper

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perparb/internal/arbitrage"
	"github.com/alanyoungcy/perparb/internal/domain"
)

// Program is the instruction program name of paper venues.
const Program = "paper"

// Config seeds a paper venue. Book venues need Bid and Ask; curve venues
// need Curve (Mark is derived from it when zero).
type Config struct {
	Spec             domain.VenueSpec
	Bid              decimal.Decimal
	Ask              decimal.Decimal
	Mark             decimal.Decimal
	Curve            *domain.AMMCurve
	FundingHourlyPct decimal.Decimal
}

// Venue is an in-memory venue. It is safe for concurrent use.
type Venue struct {
	spec    domain.VenueSpec
	model   arbitrage.SlippageModel
	funding decimal.Decimal

	mu        sync.Mutex
	quote     domain.VenueQuote
	positions map[string]decimal.Decimal
	orders    map[string]domain.OrderHandle
	seq       int
}

// New creates a paper venue.
func New(cfg Config) *Venue {
	v := &Venue{
		spec:      cfg.Spec,
		model:     arbitrage.NewSlippageModel(cfg.Spec.QuoteStyle),
		funding:   cfg.FundingHourlyPct,
		positions: make(map[string]decimal.Decimal),
		orders:    make(map[string]domain.OrderHandle),
	}
	q := domain.VenueQuote{VenueID: cfg.Spec.ID, ObservedAt: time.Now()}
	if cfg.Bid.IsPositive() {
		q.Bid = domain.Price(cfg.Bid)
	}
	if cfg.Ask.IsPositive() {
		q.Ask = domain.Price(cfg.Ask)
	}
	if cfg.Curve != nil {
		c := *cfg.Curve
		q.Curve = &c
	}
	q.Mark = markOf(q, cfg.Mark)
	v.quote = q
	return v
}

func markOf(q domain.VenueQuote, mark decimal.Decimal) decimal.NullDecimal {
	if mark.IsPositive() {
		return domain.Price(mark)
	}
	if c := q.Curve; c != nil && c.BaseReserve.IsPositive() {
		peg := c.PegMultiplier
		if !peg.IsPositive() {
			peg = decimal.NewFromInt(1)
		}
		return domain.Price(c.QuoteReserve.Div(c.BaseReserve).Mul(peg))
	}
	if mid, ok := q.Mid(); ok {
		return domain.Price(mid)
	}
	return decimal.NullDecimal{}
}

// Spec implements domain.VenueAdapter.
func (v *Venue) Spec() domain.VenueSpec { return v.spec }

// SetQuote replaces the simulated book. Absent prices make the venue report
// domain.ErrQuoteUnavailable.
func (v *Venue) SetQuote(bid, ask decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.quote.Bid, v.quote.Ask = decimal.NullDecimal{}, decimal.NullDecimal{}
	if bid.IsPositive() {
		v.quote.Bid = domain.Price(bid)
	}
	if ask.IsPositive() {
		v.quote.Ask = domain.Price(ask)
	}
	v.quote.Mark = markOf(v.quote, decimal.Zero)
	v.quote.ObservedAt = time.Now()
}

// GetTopOfBook implements domain.QuoteSource.
func (v *Venue) GetTopOfBook(_ context.Context, instrument string) (domain.VenueQuote, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.quote.Bid.Valid && !v.quote.Ask.Valid && !v.quote.Mark.Valid {
		return domain.VenueQuote{}, fmt.Errorf("paper %s: %w", v.spec.ID, domain.ErrQuoteUnavailable)
	}
	q := v.quote
	q.Instrument = instrument
	if q.Curve != nil {
		c := *q.Curve
		q.Curve = &c
	}
	return q, nil
}

// GetPosition implements domain.PositionSource. Notional is valued at mark.
func (v *Venue) GetPosition(_ context.Context, instrument string) (domain.Position, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	size := v.positions[instrument]
	notional := decimal.Zero
	if v.quote.Mark.Valid {
		notional = size.Mul(v.quote.Mark.Decimal)
	}
	return domain.Position{VenueID: v.spec.ID, Instrument: instrument, SignedSize: size, NotionalUSD: notional}, nil
}

// SetPosition overwrites the position of an instrument.
func (v *Venue) SetPosition(instrument string, signedSize decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.positions[instrument] = signedSize
}

// PlaceLimitOrder implements domain.OrderSink. A limit that is not
// marketable, or a reduce-only order that would grow the position, is
// rejected. Resubmitting a client order ID returns the original handle.
func (v *Venue) PlaceLimitOrder(_ context.Context, spec domain.OrderSpec) (domain.OrderHandle, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if h, ok := v.orders[spec.ClientOrderID]; ok && spec.ClientOrderID != "" {
		return h, nil
	}
	px, err := v.checkLocked(spec)
	if err != nil {
		h := v.recordLocked(spec, domain.OrderRejected, decimal.Zero)
		return h, nil
	}
	v.fillLocked(spec, px)
	return v.recordLocked(spec, domain.OrderConfirmed, px), nil
}

// ResolveOrder implements domain.OrderResolver.
func (v *Venue) ResolveOrder(_ context.Context, _ string, clientOrderID string) (domain.OrderHandle, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	h, ok := v.orders[clientOrderID]
	if !ok {
		return domain.OrderHandle{}, fmt.Errorf("paper %s order %s: %w", v.spec.ID, clientOrderID, domain.ErrNotFound)
	}
	return h, nil
}

// BuildInstruction implements domain.InstructionBuilder.
func (v *Venue) BuildInstruction(_ context.Context, spec domain.OrderSpec) (domain.Instruction, error) {
	data, err := json.Marshal(spec)
	if err != nil {
		return domain.Instruction{}, fmt.Errorf("paper %s: encode instruction: %w", v.spec.ID, err)
	}
	return domain.Instruction{VenueID: v.spec.ID, ClientOrderID: spec.ClientOrderID, Program: Program, Data: data}, nil
}

// GetFundingRate implements domain.FundingSource.
func (v *Venue) GetFundingRate(_ context.Context, instrument string) (domain.FundingRate, error) {
	now := time.Now().UTC()
	return domain.FundingRate{
		VenueID:       v.spec.ID,
		Instrument:    instrument,
		HourlyPct:     v.funding,
		NextFundingAt: now.Truncate(time.Hour).Add(time.Hour),
	}, nil
}

// checkLocked returns the fill price of spec or why it cannot fill.
func (v *Venue) checkLocked(spec domain.OrderSpec) (decimal.Decimal, error) {
	if !spec.Quantity.IsPositive() || !spec.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("paper %s: %w", v.spec.ID, domain.ErrInvalidOrder)
	}
	if spec.ReduceOnly {
		pos := v.positions[spec.Instrument]
		grows := pos.IsZero() ||
			(spec.Direction == domain.Long && pos.IsPositive()) ||
			(spec.Direction == domain.Short && pos.IsNegative())
		if grows || spec.Quantity.GreaterThan(pos.Abs()) {
			return decimal.Zero, fmt.Errorf("paper %s: reduce-only order would grow position", v.spec.ID)
		}
	}
	eff, err := v.model.EffectivePrice(v.quote, spec.Direction, spec.Quantity.Mul(spec.Price))
	if err != nil {
		return decimal.Zero, err
	}
	px := eff.Price
	if (spec.Direction == domain.Long && px.GreaterThan(spec.Price)) ||
		(spec.Direction == domain.Short && px.LessThan(spec.Price)) {
		return decimal.Zero, fmt.Errorf("paper %s: limit %s not marketable at %s", v.spec.ID, spec.Price, px)
	}
	return px, nil
}

// fillLocked applies a checked order. On a curve venue the reserves move
// along the constant product.
func (v *Venue) fillLocked(spec domain.OrderSpec, px decimal.Decimal) {
	delta := spec.Quantity
	if spec.Direction == domain.Short {
		delta = delta.Neg()
	}
	v.positions[spec.Instrument] = v.positions[spec.Instrument].Add(delta)

	if c := v.quote.Curve; c != nil && c.BaseReserve.IsPositive() {
		k := c.BaseReserve.Mul(c.QuoteReserve)
		c.BaseReserve = c.BaseReserve.Sub(delta)
		if c.BaseReserve.IsPositive() {
			c.QuoteReserve = k.Div(c.BaseReserve)
		}
		v.quote.Mark = markOf(domain.VenueQuote{Curve: c}, decimal.Zero)
	}
	v.quote.ObservedAt = time.Now()
}

func (v *Venue) recordLocked(spec domain.OrderSpec, status domain.OrderStatus, px decimal.Decimal) domain.OrderHandle {
	v.seq++
	h := domain.OrderHandle{
		OrderID:       v.spec.ID + "-" + strconv.Itoa(v.seq),
		ClientOrderID: spec.ClientOrderID,
		Status:        status,
		AvgPrice:      px,
		UpdatedAt:     time.Now().UTC(),
	}
	if status == domain.OrderConfirmed {
		h.FilledQty = spec.Quantity
	}
	if spec.ClientOrderID != "" {
		v.orders[spec.ClientOrderID] = h
	}
	return h
}
