package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/perparb/internal/arbitrage"
	"github.com/alanyoungcy/perparb/internal/domain"
)

// PriceArb trades the price difference between two venues continuously. Each
// cycle it prices both directions, gates them on exposure and executes the
// best qualifying one.
type PriceArb struct {
	cfg    Config
	venues Venues
	engine *arbitrage.SpreadEngine
	gate   *arbitrage.PositionGate
	exec   Executor
	quotes domain.QuoteCache
	logger *slog.Logger
	newID  func() string
}

// NewPriceArb creates the continuous price arbitrage strategy.
func NewPriceArb(cfg Config, venues Venues, exec Executor, logger *slog.Logger) *PriceArb {
	cfg.setDefaults()
	return &PriceArb{
		cfg:    cfg,
		venues: venues,
		engine: arbitrage.NewSpreadEngine(
			arbitrage.NewSlippageModel(venues.A.Spec().QuoteStyle),
			arbitrage.NewSlippageModel(venues.B.Spec().QuoteStyle),
			cfg.PositionSizeUSD,
		),
		gate:   arbitrage.NewPositionGate(cfg.EntryThresholdPct),
		exec:   exec,
		logger: logger.With(slog.String("component", "price_arb"), slog.String("instrument", cfg.Instrument)),
		newID:  uuid.NewString,
	}
}

// SetQuoteCache makes the strategy store every fetched quote.
func (p *PriceArb) SetQuoteCache(c domain.QuoteCache) {
	p.quotes = c
}

func (p *PriceArb) Name() string       { return "price_arb" }
func (p *PriceArb) Instrument() string { return p.cfg.Instrument }

// Cycle runs one fetch, evaluate, gate and execute pass.
func (p *PriceArb) Cycle(ctx context.Context, now time.Time) (domain.CycleReport, error) {
	rep := domain.CycleReport{Strategy: p.Name(), Instrument: p.cfg.Instrument, At: now}

	snap, err := fetchSnapshot(ctx, p.venues, p.cfg.Instrument, p.cfg.QuoteTimeout)
	if err != nil {
		rep.Outcome = domain.CycleSkipped
		return rep, fmt.Errorf("price_arb: %w", err)
	}
	cacheQuotes(ctx, p.quotes, p.logger, snap.QuoteA, snap.QuoteB)

	spreads, err := p.engine.Evaluate(snap.QuoteA, snap.QuoteB)
	if err != nil {
		rep.Outcome = domain.CycleSkipped
		return rep, fmt.Errorf("price_arb: %w", err)
	}
	rep.SpreadLongAShortB = spreads.LongAShortB
	rep.SpreadLongBShortA = spreads.LongBShortA
	p.logger.Info("spread calculated",
		slog.String("event", "spread_calculated"),
		slog.String("long_a_short_b_pct", spreads.LongAShortB.String()),
		slog.String("long_b_short_a_pct", spreads.LongBShortA.String()),
	)

	gate := p.gate.Evaluate(snap.PosA, snap.PosB, p.cfg.MaxPositionSizeUSD)
	rep.CanOpenLong = gate.CanOpenLong
	rep.CanOpenShort = gate.CanOpenShort
	logGateBlocks(p.logger, spreads, gate)

	dir, ok := arbitrage.Select(spreads, gate)
	if !ok {
		rep.Outcome = domain.CycleNoTrigger
		if !gate.CanOpenLong && !gate.CanOpenShort {
			rep.Outcome = domain.CycleGateBlocked
		}
		return rep, nil
	}

	intent, err := arbitrage.BuildIntent(arbitrage.IntentParams{
		ID:         p.newID(),
		Strategy:   p.Name(),
		Instrument: p.cfg.Instrument,
		DirectionA: dir,
		Spreads:    spreads,
		VenueA:     p.venues.A.Spec(),
		VenueB:     p.venues.B.Spec(),
		TargetUSD:  p.cfg.PositionSizeUSD,
		Now:        now,
	})
	if err != nil {
		rep.Outcome = domain.CycleError
		return rep, fmt.Errorf("price_arb: build intent: %w", err)
	}
	p.logger.Info("trade triggered",
		slog.String("event", "trade_triggered"),
		slog.String("intent_id", intent.ID),
		slog.String("direction", string(dir)),
		slog.String("spread_pct", spreads.For(dir).String()),
		slog.String("quantity", intent.LegA.Quantity.String()),
	)

	res, err := p.exec.Execute(ctx, intent)
	rep.Outcome = domain.CycleExecuted
	rep.ExecutionState = res.State
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateIntent) {
			rep.Outcome = domain.CycleError
		}
		return rep, fmt.Errorf("price_arb: execute %s: %w", intent.ID, err)
	}
	return rep, nil
}

// logGateBlocks emits a decision event for every direction whose spread would
// have triggered but that the gate refused.
func logGateBlocks(logger *slog.Logger, s arbitrage.Spreads, g domain.GateDecision) {
	if !g.CanOpenLong && arbitrage.Triggered(s.LongAShortB, g.EffectiveThresholdLong) {
		logger.Info("long blocked by position cap",
			slog.String("event", "cannot_open_long"),
			slog.String("spread_pct", s.LongAShortB.String()),
		)
	}
	if !g.CanOpenShort && arbitrage.Triggered(s.LongBShortA, g.EffectiveThresholdShort) {
		logger.Info("short blocked by position cap",
			slog.String("event", "cannot_open_short"),
			slog.String("spread_pct", s.LongBShortA.String()),
		)
	}
}
