package cex

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perparb/internal/domain"
)

// envelope wraps every REST response.
type envelope[T any] struct {
	Success bool   `json:"success"`
	Result  T      `json:"result"`
	Error   string `json:"error"`
}

// APIMarket is the market summary returned by GET /markets/{name}.
type APIMarket struct {
	Name  string              `json:"name"`
	Bid   decimal.NullDecimal `json:"bid"`
	Ask   decimal.NullDecimal `json:"ask"`
	Last  decimal.NullDecimal `json:"last"`
	Price decimal.NullDecimal `json:"price"`
}

// ToDomainQuote converts the market summary to a quote.
func (m APIMarket) ToDomainQuote(venueID string) domain.VenueQuote {
	q := domain.VenueQuote{
		VenueID:    venueID,
		Instrument: m.Name,
		Bid:        positive(m.Bid),
		Ask:        positive(m.Ask),
		Mark:       positive(m.Price),
		ObservedAt: time.Now(),
	}
	if !q.Mark.Valid {
		q.Mark = positive(m.Last)
	}
	return q
}

// APIPosition is one entry of GET /positions.
type APIPosition struct {
	Future     string          `json:"future"`
	NetSize    decimal.Decimal `json:"netSize"`
	Cost       decimal.Decimal `json:"cost"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
}

// APIOrderRequest is the body of POST /orders.
type APIOrderRequest struct {
	Market     string          `json:"market"`
	Side       string          `json:"side"` // "buy" or "sell"
	Price      decimal.Decimal `json:"price"`
	Type       string          `json:"type"`
	Size       decimal.Decimal `json:"size"`
	ReduceOnly bool            `json:"reduceOnly"`
	IOC        bool            `json:"ioc"`
	ClientID   string          `json:"clientId"`
}

// APIOrder is an order as reported by the exchange.
type APIOrder struct {
	ID           int64               `json:"id"`
	ClientID     string              `json:"clientId"`
	Market       string              `json:"market"`
	Side         string              `json:"side"`
	Status       string              `json:"status"` // "new", "open", "closed"
	Size         decimal.Decimal     `json:"size"`
	FilledSize   decimal.Decimal     `json:"filledSize"`
	AvgFillPrice decimal.NullDecimal `json:"avgFillPrice"`
	CreatedAt    time.Time           `json:"createdAt"`
}

// ToDomainHandle maps the exchange order state. A closed order counts as
// confirmed once anything filled and as rejected otherwise; new and open
// orders are pending.
func (o APIOrder) ToDomainHandle() domain.OrderHandle {
	h := domain.OrderHandle{
		OrderID:       formatID(o.ID),
		ClientOrderID: o.ClientID,
		FilledQty:     o.FilledSize,
		UpdatedAt:     time.Now().UTC(),
	}
	if o.AvgFillPrice.Valid {
		h.AvgPrice = o.AvgFillPrice.Decimal
	}
	switch o.Status {
	case "closed":
		if o.FilledSize.IsPositive() {
			h.Status = domain.OrderConfirmed
		} else {
			h.Status = domain.OrderRejected
		}
	case "new", "open":
		h.Status = domain.OrderPending
	default:
		h.Status = domain.OrderUnknown
	}
	return h
}

// APIFutureStats is returned by GET /futures/{name}/stats. NextFundingRate
// is the hourly rate as a fraction.
type APIFutureStats struct {
	NextFundingRate decimal.Decimal `json:"nextFundingRate"`
	NextFundingTime time.Time       `json:"nextFundingTime"`
}

func positive(n decimal.NullDecimal) decimal.NullDecimal {
	if n.Valid && n.Decimal.IsPositive() {
		return n
	}
	return decimal.NullDecimal{}
}
