package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CycleOutcome summarizes what one scheduler cycle did.
type CycleOutcome string

const (
	CycleSkipped       CycleOutcome = "skipped"
	CycleNoTrigger     CycleOutcome = "not_triggered"
	CycleGateBlocked   CycleOutcome = "gate_blocked"
	CycleOutsideWindow CycleOutcome = "outside_window"
	CycleExecuted      CycleOutcome = "executed"
	CycleError         CycleOutcome = "error"
)

// CycleReport is published after every evaluation cycle.
type CycleReport struct {
	Strategy          string          `json:"strategy"`
	Instrument        string          `json:"instrument"`
	Outcome           CycleOutcome    `json:"outcome"`
	SpreadLongAShortB decimal.Decimal `json:"spread_long_a_short_b"`
	SpreadLongBShortA decimal.Decimal `json:"spread_long_b_short_a"`
	CanOpenLong       bool            `json:"can_open_long"`
	CanOpenShort      bool            `json:"can_open_short"`
	ExecutionState    ExecutionState  `json:"execution_state,omitempty"`
	Error             string          `json:"error,omitempty"`
	At                time.Time       `json:"at"`
}
