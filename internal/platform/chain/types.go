package chain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perparb/internal/crypto"
	"github.com/alanyoungcy/perparb/internal/domain"
)

// Fixed-point precisions of on-chain amounts.
var (
	PricePrecision = decimal.New(1, 6)
	BasePrecision  = decimal.New(1, 9)
)

// APIMarketState is returned by GET /markets/{index}. Reserves and peg are
// already scaled to human units by the relayer.
type APIMarketState struct {
	MarketIndex       uint64          `json:"marketIndex"`
	Symbol            string          `json:"symbol"`
	BaseAssetReserve  decimal.Decimal `json:"baseAssetReserve"`
	QuoteAssetReserve decimal.Decimal `json:"quoteAssetReserve"`
	PegMultiplier     decimal.Decimal `json:"pegMultiplier"`
	MarkPrice         decimal.Decimal `json:"markPrice"`
	// FundingRate24hPct is the projected funding over 24h, in percent.
	FundingRate24hPct decimal.Decimal `json:"fundingRate24hPct"`
	NextFundingTs     int64           `json:"nextFundingTs"`
	Paused            bool            `json:"paused"`
}

// ToDomainQuote converts market state to a curve quote. Bid and ask both
// sit at the curve price; size-dependent slippage comes from the curve.
func (m APIMarketState) ToDomainQuote(venueID, instrument string) domain.VenueQuote {
	q := domain.VenueQuote{
		VenueID:    venueID,
		Instrument: instrument,
		ObservedAt: time.Now(),
	}
	if m.Paused || !m.BaseAssetReserve.IsPositive() || !m.QuoteAssetReserve.IsPositive() {
		return q
	}
	peg := m.PegMultiplier
	if !peg.IsPositive() {
		peg = decimal.NewFromInt(1)
	}
	q.Curve = &domain.AMMCurve{
		BaseReserve:   m.BaseAssetReserve,
		QuoteReserve:  m.QuoteAssetReserve,
		PegMultiplier: peg,
	}
	price := m.QuoteAssetReserve.Mul(peg).Div(m.BaseAssetReserve)
	q.Bid = domain.Price(price)
	q.Ask = domain.Price(price)
	q.Mark = domain.Price(price)
	if m.MarkPrice.IsPositive() {
		q.Mark = domain.Price(m.MarkPrice)
	}
	return q
}

// APIPosition is returned by GET /accounts/{address}/positions/{index}.
// BaseAssetAmount is signed, positive for long.
type APIPosition struct {
	MarketIndex      uint64          `json:"marketIndex"`
	BaseAssetAmount  decimal.Decimal `json:"baseAssetAmount"`
	QuoteAssetAmount decimal.Decimal `json:"quoteAssetAmount"`
}

// APIBalance is returned by GET /accounts/{address}/balance. Native is in
// whole units of the chain's fee token.
type APIBalance struct {
	Address string          `json:"address"`
	Native  decimal.Decimal `json:"native"`
}

// APISignedOrder is one order plus the signature of its owner.
type APISignedOrder struct {
	Order     crypto.OrderPayload `json:"order"`
	Signature string              `json:"signature"`
	Signer    string              `json:"signer"`
}

// APIOrder is an order as reported by the relayer.
type APIOrder struct {
	OrderID       string          `json:"orderId"`
	ClientOrderID string          `json:"clientOrderId"`
	Status        string          `json:"status"` // "open", "filled", "cancelled", "rejected"
	FilledBase    decimal.Decimal `json:"filledBase"`
	AvgPrice      decimal.Decimal `json:"avgPrice"`
	TxID          string          `json:"txId"`
}

// ToDomainHandle maps the relayer order state. FilledBase is in human
// units.
func (o APIOrder) ToDomainHandle() domain.OrderHandle {
	h := domain.OrderHandle{
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		FilledQty:     o.FilledBase,
		AvgPrice:      o.AvgPrice,
		UpdatedAt:     time.Now().UTC(),
	}
	switch strings.ToLower(o.Status) {
	case "filled":
		h.Status = domain.OrderConfirmed
	case "cancelled", "rejected", "expired":
		if o.FilledBase.IsPositive() {
			h.Status = domain.OrderConfirmed
		} else {
			h.Status = domain.OrderRejected
		}
	case "open", "pending", "submitted":
		h.Status = domain.OrderPending
	default:
		h.Status = domain.OrderUnknown
	}
	return h
}

// APIBundleRequest is the body of POST /bundles.
type APIBundleRequest struct {
	BundleID  string           `json:"bundleId"`
	Orders    []APISignedOrder `json:"orders"`
	Deadline  int64            `json:"deadline"`
	Signature string           `json:"signature"`
	Signer    string           `json:"signer"`
}

// APIBundle reports the state of a submitted bundle.
type APIBundle struct {
	BundleID string `json:"bundleId"`
	Status   string `json:"status"` // "pending", "landed", "failed", "expired"
	Reason   string `json:"reason"`
}

// ToDomainReceipt maps a bundle state.
func (b APIBundle) ToDomainReceipt() domain.BundleReceipt {
	r := domain.BundleReceipt{TxID: b.BundleID, Reason: b.Reason}
	switch strings.ToLower(b.Status) {
	case "landed", "confirmed":
		r.Status = domain.OrderConfirmed
	case "failed", "expired", "rejected":
		r.Status = domain.OrderRejected
	case "pending", "submitted":
		r.Status = domain.OrderPending
	default:
		r.Status = domain.OrderUnknown
	}
	return r
}

type apiError struct {
	Error string `json:"error"`
}

// toUnits converts a human amount to an integer string in precision units,
// truncating toward zero.
func toUnits(v, precision decimal.Decimal) string {
	return v.Mul(precision).Truncate(0).String()
}
