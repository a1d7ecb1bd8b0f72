package strategy

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perparb/internal/domain"
)

// Strategy is one evaluation cycle body. The Scheduler calls Cycle on every
// tick that is not skipped. A returned error is logged and recorded in the
// report; it never stops the scheduler.
type Strategy interface {
	Name() string
	Instrument() string
	Cycle(ctx context.Context, now time.Time) (domain.CycleReport, error)
}

// Executor places a trade intent. It is implemented by executor.Coordinator.
type Executor interface {
	Execute(ctx context.Context, intent domain.TradeIntent) (domain.ExecutionResult, error)
}

// Venues is the pair of venues a strategy trades across.
type Venues struct {
	A domain.VenueAdapter
	B domain.VenueAdapter
}

// Config holds the parameters shared by both strategies.
type Config struct {
	Instrument         string
	EntryThresholdPct  decimal.Decimal
	PositionSizeUSD    decimal.Decimal
	MaxPositionSizeUSD decimal.Decimal
	QuoteTimeout       time.Duration
}

func (c *Config) setDefaults() {
	if c.QuoteTimeout <= 0 {
		c.QuoteTimeout = 2 * time.Second
	}
}
