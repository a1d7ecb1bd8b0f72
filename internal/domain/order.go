package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the venue-reported state of a submitted order.
type OrderStatus string

const (
	// OrderConfirmed means the venue accepted and applied the order.
	OrderConfirmed OrderStatus = "confirmed"
	// OrderPending means the venue accepted the order but has not yet
	// reported a terminal state.
	OrderPending  OrderStatus = "pending"
	OrderRejected OrderStatus = "rejected"
	// OrderUnknown is used when the submission outcome could not be observed.
	OrderUnknown OrderStatus = "unknown"
)

// IsTerminal reports whether the status will not change any more.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderConfirmed || s == OrderRejected
}

// OrderSpec is one leg to be placed as a limit order.
type OrderSpec struct {
	VenueID       string          `json:"venue_id"`
	Instrument    string          `json:"instrument"`
	Direction     Direction       `json:"direction"`
	Price         decimal.Decimal `json:"price"`
	Quantity      decimal.Decimal `json:"quantity"`
	NotionalUSD   decimal.Decimal `json:"notional_usd"`
	ReduceOnly    bool            `json:"reduce_only"`
	ClientOrderID string          `json:"client_order_id"`
}

// OrderHandle is what a venue returns for a placed or looked-up order.
type OrderHandle struct {
	OrderID       string
	ClientOrderID string
	Status        OrderStatus
	FilledQty     decimal.Decimal
	AvgPrice      decimal.Decimal
	UpdatedAt     time.Time
}

// Instruction is one venue-encoded leg ready to be bundled into a single
// atomic submission.
type Instruction struct {
	VenueID       string
	ClientOrderID string
	Program       string
	Data          []byte
}

// BundleReceipt reports the outcome of an atomic submission. Status is
// OrderConfirmed when every instruction applied and OrderRejected when none
// did; OrderPending means the transaction has not landed yet.
type BundleReceipt struct {
	TxID   string
	Status OrderStatus
	Reason string
}
