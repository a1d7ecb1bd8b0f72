package domain

import "time"

// ExecutionMode is the submission path used for a trade.
type ExecutionMode string

const (
	ModeAtomic     ExecutionMode = "atomic"
	ModeSequential ExecutionMode = "sequential"
)

// ExecutionState is the terminal state of a trade.
type ExecutionState string

const (
	// ExecDone means both legs are live.
	ExecDone ExecutionState = "done"
	// ExecFailed means no leg is live. Nothing changed on either venue.
	ExecFailed ExecutionState = "failed"
	// ExecPartialFailure means leg A is live and leg B is not.
	ExecPartialFailure ExecutionState = "partial_failure"
)

// LegStatus tracks a single leg through execution.
type LegStatus string

const (
	LegNotSubmitted LegStatus = "not_submitted"
	LegConfirmed    LegStatus = "confirmed"
	LegFailed       LegStatus = "failed"
)

// LegResult is the outcome of one leg.
type LegResult struct {
	Spec    OrderSpec `json:"spec"`
	Status  LegStatus `json:"status"`
	OrderID string    `json:"order_id,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// ExecutionResult is the outcome of executing one TradeIntent.
type ExecutionResult struct {
	ID          string         `json:"id"`
	IntentID    string         `json:"intent_id"`
	Strategy    string         `json:"strategy"`
	Instrument  string         `json:"instrument"`
	Direction   Direction      `json:"direction"`
	Mode        ExecutionMode  `json:"mode"`
	State       ExecutionState `json:"state"`
	LegA        LegResult      `json:"leg_a"`
	LegB        LegResult      `json:"leg_b"`
	TxID        string         `json:"tx_id,omitempty"`
	DryRun      bool           `json:"dry_run"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
}
