package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perparb/internal/arbitrage"
	"github.com/alanyoungcy/perparb/internal/domain"
)

// FundingConfig adds the settlement schedule to Config.
type FundingConfig struct {
	Config
	// Window is how long before each settlement boundary the strategy acts.
	Window time.Duration
	// SettlementInterval is the spacing of settlement boundaries, anchored
	// to the Unix epoch in UTC.
	SettlementInterval time.Duration
	// FundingOnB is true when the funding rate is read from venue B.
	FundingOnB bool
}

// FundingArb captures one funding payment per settlement. It evaluates every
// tick and only trades inside the window before a boundary: it first closes
// the position opened for the previous settlement, then enters again if the
// projected funding plus the spread clears the threshold. A Cycle must not be
// called concurrently.
type FundingArb struct {
	cfg     FundingConfig
	venues  Venues
	funding domain.FundingSource
	engine  *arbitrage.SpreadEngine
	gate    *arbitrage.PositionGate
	exec    Executor
	quotes  domain.QuoteCache
	logger  *slog.Logger
	newID   func() string

	// actedFor is the boundary whose window was last acted on.
	actedFor time.Time
}

// NewFundingArb creates the funding capture strategy. The venue named by
// cfg.FundingOnB must implement domain.FundingSource.
func NewFundingArb(cfg FundingConfig, venues Venues, exec Executor, logger *slog.Logger) (*FundingArb, error) {
	cfg.setDefaults()
	if cfg.SettlementInterval <= 0 {
		cfg.SettlementInterval = time.Hour
	}
	if cfg.Window <= 0 || cfg.Window >= cfg.SettlementInterval {
		return nil, fmt.Errorf("funding_arb: window %s must be positive and shorter than %s: %w",
			cfg.Window, cfg.SettlementInterval, domain.ErrConfigurationInvalid)
	}
	src := venues.A
	if cfg.FundingOnB {
		src = venues.B
	}
	fs, ok := src.(domain.FundingSource)
	if !ok {
		return nil, fmt.Errorf("funding_arb: venue %s publishes no funding rate: %w",
			src.Spec().ID, domain.ErrConfigurationInvalid)
	}
	return &FundingArb{
		cfg:     cfg,
		venues:  venues,
		funding: fs,
		engine: arbitrage.NewSpreadEngine(
			arbitrage.NewSlippageModel(venues.A.Spec().QuoteStyle),
			arbitrage.NewSlippageModel(venues.B.Spec().QuoteStyle),
			cfg.PositionSizeUSD,
		),
		gate:   arbitrage.NewPositionGate(cfg.EntryThresholdPct),
		exec:   exec,
		logger: logger.With(slog.String("component", "funding_arb"), slog.String("instrument", cfg.Instrument)),
		newID:  uuid.NewString,
	}, nil
}

// SetQuoteCache makes the strategy store every fetched quote.
func (f *FundingArb) SetQuoteCache(c domain.QuoteCache) {
	f.quotes = c
}

func (f *FundingArb) Name() string       { return "funding_arb" }
func (f *FundingArb) Instrument() string { return f.cfg.Instrument }

// NextBoundary returns the first settlement boundary strictly after now.
func NextBoundary(now time.Time, interval time.Duration) time.Time {
	return now.UTC().Truncate(interval).Add(interval)
}

// InWindow reports whether now falls in the final window before boundary.
func InWindow(now, boundary time.Time, window time.Duration) bool {
	left := boundary.Sub(now)
	return left > 0 && left <= window
}

// FundingEdge returns the funding earned per settlement, in percent, by
// taking dirA on venue A and the opposite side on venue B. A positive rate
// is paid by longs to shorts.
func FundingEdge(rate decimal.Decimal, dirA domain.Direction, fundingOnB bool) decimal.Decimal {
	// Side held on the funding venue.
	side := dirA
	if fundingOnB {
		side = dirA.Opposite()
	}
	if side == domain.Short {
		return rate
	}
	return rate.Neg()
}

// Cycle evaluates the funding opportunity and acts at most once per window.
func (f *FundingArb) Cycle(ctx context.Context, now time.Time) (domain.CycleReport, error) {
	rep := domain.CycleReport{Strategy: f.Name(), Instrument: f.cfg.Instrument, At: now}
	boundary := NextBoundary(now, f.cfg.SettlementInterval)

	snap, err := fetchSnapshot(ctx, f.venues, f.cfg.Instrument, f.cfg.QuoteTimeout)
	if err != nil {
		rep.Outcome = domain.CycleSkipped
		return rep, fmt.Errorf("funding_arb: %w", err)
	}
	cacheQuotes(ctx, f.quotes, f.logger, snap.QuoteA, snap.QuoteB)

	rateCtx, cancel := context.WithTimeout(ctx, f.cfg.QuoteTimeout)
	rate, err := f.funding.GetFundingRate(rateCtx, f.cfg.Instrument)
	cancel()
	if err != nil {
		rep.Outcome = domain.CycleSkipped
		return rep, fmt.Errorf("funding_arb: funding rate: %w", err)
	}

	spreads, err := f.engine.Evaluate(snap.QuoteA, snap.QuoteB)
	if err != nil {
		rep.Outcome = domain.CycleSkipped
		return rep, fmt.Errorf("funding_arb: %w", err)
	}
	rep.SpreadLongAShortB = spreads.LongAShortB
	rep.SpreadLongBShortA = spreads.LongBShortA

	// Projected edge is spread plus one settlement of funding.
	projected := spreads
	projected.LongAShortB = spreads.LongAShortB.Add(FundingEdge(rate.HourlyPct, domain.Long, f.cfg.FundingOnB))
	projected.LongBShortA = spreads.LongBShortA.Add(FundingEdge(rate.HourlyPct, domain.Short, f.cfg.FundingOnB))

	f.logger.Info("funding projection",
		slog.String("event", "funding_projection"),
		slog.String("hourly_rate_pct", rate.HourlyPct.String()),
		slog.String("projected_long_a_short_b_pct", projected.LongAShortB.String()),
		slog.String("projected_long_b_short_a_pct", projected.LongBShortA.String()),
		slog.Time("boundary", boundary),
		slog.Duration("until_boundary", boundary.Sub(now)),
	)

	if !InWindow(now, boundary, f.cfg.Window) {
		rep.Outcome = domain.CycleOutsideWindow
		return rep, nil
	}
	if f.actedFor.Equal(boundary) {
		rep.Outcome = domain.CycleSkipped
		return rep, nil
	}
	f.actedFor = boundary

	posA, posB := snap.PosA, snap.PosB
	if !posA.IsFlat() || !posB.IsFlat() {
		state, err := f.close(ctx, snap, spreads, now)
		rep.ExecutionState = state
		if err != nil {
			rep.Outcome = domain.CycleError
			return rep, err
		}
		// Lot truncation or a partial reduce-only fill can leave a remainder.
		posA, posB, err = fetchPositions(ctx, f.venues, f.cfg.Instrument, f.cfg.QuoteTimeout)
		if err != nil {
			rep.Outcome = domain.CycleError
			return rep, fmt.Errorf("funding_arb: after close: %w", err)
		}
		if !posA.IsFlat() || !posB.IsFlat() {
			f.logger.Warn("position remains after close",
				slog.String("event", "close_remainder"),
				slog.String("size_a", posA.SignedSize.String()),
				slog.String("size_b", posB.SignedSize.String()),
			)
		}
	}

	gate := f.gate.Evaluate(posA, posB, f.cfg.MaxPositionSizeUSD)
	rep.CanOpenLong = gate.CanOpenLong
	rep.CanOpenShort = gate.CanOpenShort
	logGateBlocks(f.logger, projected, gate)

	dir, ok := arbitrage.Select(projected, gate)
	if !ok {
		if rep.ExecutionState != "" {
			rep.Outcome = domain.CycleExecuted
		} else {
			rep.Outcome = domain.CycleNoTrigger
		}
		return rep, nil
	}

	intent, err := arbitrage.BuildIntent(arbitrage.IntentParams{
		ID:         f.newID(),
		Strategy:   f.Name(),
		Instrument: f.cfg.Instrument,
		DirectionA: dir,
		Spreads:    projected,
		VenueA:     f.venues.A.Spec(),
		VenueB:     f.venues.B.Spec(),
		TargetUSD:  f.cfg.PositionSizeUSD,
		Now:        now,
	})
	if err != nil {
		rep.Outcome = domain.CycleError
		return rep, fmt.Errorf("funding_arb: build intent: %w", err)
	}
	f.logger.Info("funding entry triggered",
		slog.String("event", "trade_triggered"),
		slog.String("intent_id", intent.ID),
		slog.String("direction", string(dir)),
		slog.String("projected_pct", projected.For(dir).String()),
	)

	res, err := f.exec.Execute(ctx, intent)
	rep.Outcome = domain.CycleExecuted
	rep.ExecutionState = res.State
	if err != nil {
		return rep, fmt.Errorf("funding_arb: execute %s: %w", intent.ID, err)
	}
	return rep, nil
}

// close flattens both venues reduce-only before a new entry is considered.
func (f *FundingArb) close(ctx context.Context, snap snapshot, spreads arbitrage.Spreads, now time.Time) (domain.ExecutionState, error) {
	intent, err := arbitrage.BuildCloseIntent(arbitrage.CloseParams{
		ID:         f.newID(),
		Strategy:   f.Name(),
		Instrument: f.cfg.Instrument,
		PosA:       snap.PosA,
		PosB:       snap.PosB,
		Spreads:    spreads,
		VenueA:     f.venues.A.Spec(),
		VenueB:     f.venues.B.Spec(),
		Now:        now,
	})
	if err != nil {
		return "", fmt.Errorf("funding_arb: build close: %w", err)
	}
	f.logger.Info("closing funding position",
		slog.String("event", "position_close"),
		slog.String("intent_id", intent.ID),
		slog.String("size_a", snap.PosA.SignedSize.String()),
		slog.String("size_b", snap.PosB.SignedSize.String()),
	)
	res, err := f.exec.Execute(ctx, intent)
	if err != nil {
		return res.State, fmt.Errorf("funding_arb: close %s: %w", intent.ID, err)
	}
	return res.State, nil
}
