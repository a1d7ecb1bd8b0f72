package arbitrage

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perparb/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func bookQuote(venue, bid, ask string) domain.VenueQuote {
	q := domain.VenueQuote{VenueID: venue, Instrument: "SOL-PERP", ObservedAt: time.Now()}
	if bid != "" {
		q.Bid = domain.Price(d(bid))
	}
	if ask != "" {
		q.Ask = domain.Price(d(ask))
	}
	return q
}

func markQuote(venue, mark string) domain.VenueQuote {
	return domain.VenueQuote{VenueID: venue, Instrument: "SOL-PERP", Mark: domain.Price(d(mark)), ObservedAt: time.Now()}
}

func TestTopOfBookUsesQuotedSide(t *testing.T) {
	q := bookQuote("a", "99.9", "100.1")
	long, err := TopOfBookModel{}.EffectivePrice(q, domain.Long, d("1000000"))
	if err != nil {
		t.Fatalf("long: %v", err)
	}
	short, err := TopOfBookModel{}.EffectivePrice(q, domain.Short, d("1"))
	if err != nil {
		t.Fatalf("short: %v", err)
	}
	if !long.Price.Equal(d("100.1")) || !short.Price.Equal(d("99.9")) {
		t.Fatalf("expected ask/bid, got long=%s short=%s", long.Price, short.Price)
	}
	if long.Direction != domain.Long || !long.NotionalUSD.Equal(d("1000000")) {
		t.Fatalf("unexpected effective price %+v", long)
	}
}

func TestTopOfBookMissingSide(t *testing.T) {
	q := bookQuote("a", "99.9", "")
	if _, err := (TopOfBookModel{}).EffectivePrice(q, domain.Long, d("10")); !errors.Is(err, domain.ErrQuoteUnavailable) {
		t.Fatalf("expected ErrQuoteUnavailable, got %v", err)
	}
}

func TestCurveModelAMM(t *testing.T) {
	q := markQuote("b", "100")
	q.Curve = &domain.AMMCurve{
		BaseReserve:  d("10000"),
		QuoteReserve: d("1000000"),
	}
	// 1000 / 1,000,000 = 0.1% either way.
	long, err := CurveModel{}.EffectivePrice(q, domain.Long, d("1000"))
	if err != nil {
		t.Fatalf("long: %v", err)
	}
	short, err := CurveModel{}.EffectivePrice(q, domain.Short, d("1000"))
	if err != nil {
		t.Fatalf("short: %v", err)
	}
	if !long.Price.Equal(d("100.1")) {
		t.Fatalf("expected long 100.1, got %s", long.Price)
	}
	if !short.Price.Equal(d("99.9")) || short.Direction != domain.Short {
		t.Fatalf("expected short 99.9, got %+v", short)
	}
}

func TestCurveModelExhaustedDepth(t *testing.T) {
	q := markQuote("b", "100")
	q.Curve = &domain.AMMCurve{BaseReserve: d("10"), QuoteReserve: d("1000")}
	if _, err := (CurveModel{}).EffectivePrice(q, domain.Short, d("1000")); !errors.Is(err, domain.ErrQuoteUnavailable) {
		t.Fatalf("expected ErrQuoteUnavailable, got %v", err)
	}
}

func TestCurveModelDepthLadder(t *testing.T) {
	q := markQuote("b", "100")
	q.Depth = &domain.DepthBook{
		Asks: []domain.DepthLevel{
			{Price: d("100"), Size: d("5")},
			{Price: d("102"), Size: d("10")},
		},
	}
	// 500 USD at 100 plus 510 USD at 102: qty 10, vwap 101, fraction 1%.
	got, err := CurveModel{}.EffectivePrice(q, domain.Long, d("1010"))
	if err != nil {
		t.Fatalf("long: %v", err)
	}
	if !got.Price.Equal(d("101")) {
		t.Fatalf("expected 101, got %s", got.Price)
	}
	if _, err := (CurveModel{}).EffectivePrice(q, domain.Long, d("5000")); !errors.Is(err, domain.ErrQuoteUnavailable) {
		t.Fatalf("expected ladder exhaustion to fail, got %v", err)
	}
}

func TestCurveModelNoMark(t *testing.T) {
	q := domain.VenueQuote{VenueID: "b", Instrument: "SOL-PERP"}
	if _, err := (CurveModel{}).EffectivePrice(q, domain.Long, d("10")); !errors.Is(err, domain.ErrQuoteUnavailable) {
		t.Fatalf("expected ErrQuoteUnavailable, got %v", err)
	}
}

func TestSpreadNoTriggerAtParity(t *testing.T) {
	engine := NewSpreadEngine(TopOfBookModel{}, CurveModel{}, d("1000"))
	s, err := engine.Evaluate(bookQuote("a", "100.00", "100.10"), markQuote("b", "100.00"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !s.LongBShortA.IsZero() {
		t.Fatalf("expected 0%% spread, got %s", s.LongBShortA)
	}
	if Triggered(s.LongBShortA, d("0.05")) {
		t.Fatalf("zero spread must not trigger")
	}
	// Buying A at 100.10 and selling B at 100.00 is a loss.
	if !s.LongAShortB.IsNegative() {
		t.Fatalf("expected negative LongAShortB, got %s", s.LongAShortB)
	}
}

func TestSpreadTriggersAboveThreshold(t *testing.T) {
	engine := NewSpreadEngine(TopOfBookModel{}, CurveModel{}, d("1000"))
	s, err := engine.Evaluate(bookQuote("a", "101.00", "101.10"), markQuote("b", "100.00"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !s.LongBShortA.Equal(d("1")) {
		t.Fatalf("expected 1%%, got %s", s.LongBShortA)
	}
	if !Triggered(s.LongBShortA, d("0.5")) {
		t.Fatalf("1%% should trigger at 0.5%%")
	}
	if Triggered(d("0.5"), d("0.5")) {
		t.Fatalf("trigger must be strictly greater than threshold")
	}
}

func TestSpreadDeterministic(t *testing.T) {
	engine := NewSpreadEngine(TopOfBookModel{}, TopOfBookModel{}, d("1000"))
	qa := bookQuote("a", "100.37", "100.41")
	qb := bookQuote("b", "99.12", "99.18")
	first, err := engine.Evaluate(qa, qb)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := engine.Evaluate(qa, qb)
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if !again.LongAShortB.Equal(first.LongAShortB) || !again.LongBShortA.Equal(first.LongBShortA) {
			t.Fatalf("spreads changed between calls: %+v vs %+v", first, again)
		}
	}
	// (100.37 − 99.18) / 99.18 × 100 = 1.199838...
	if !first.LongBShortA.Equal(d("1.199839")) {
		t.Fatalf("unexpected LongBShortA %s", first.LongBShortA)
	}
}

func TestSpreadRejectsCrossedQuote(t *testing.T) {
	engine := NewSpreadEngine(TopOfBookModel{}, TopOfBookModel{}, d("1000"))
	_, err := engine.Evaluate(bookQuote("a", "101", "100"), bookQuote("b", "99", "100"))
	if !errors.Is(err, domain.ErrQuoteUnavailable) {
		t.Fatalf("expected ErrQuoteUnavailable, got %v", err)
	}
}

func TestSelectPrefersLargerSpread(t *testing.T) {
	g := domain.GateDecision{
		CanOpenLong: true, CanOpenShort: true,
		EffectiveThresholdLong: d("0.1"), EffectiveThresholdShort: d("0.1"),
	}
	dir, ok := Select(Spreads{LongAShortB: d("0.3"), LongBShortA: d("0.5")}, g)
	if !ok || dir != domain.Short {
		t.Fatalf("expected Short, got %v %v", dir, ok)
	}
	g.CanOpenShort = false
	dir, ok = Select(Spreads{LongAShortB: d("0.3"), LongBShortA: d("0.5")}, g)
	if !ok || dir != domain.Long {
		t.Fatalf("expected Long when short gated, got %v %v", dir, ok)
	}
	g.CanOpenLong = false
	if _, ok := Select(Spreads{LongAShortB: d("9"), LongBShortA: d("9")}, g); ok {
		t.Fatalf("expected no selection when both directions are gated")
	}
}

func TestGateCapRespected(t *testing.T) {
	maxUSD := d("1000")
	longAtCap := domain.Position{VenueID: "a", SignedSize: d("10"), NotionalUSD: d("1000")}
	if CanOpenLong(longAtCap, maxUSD) {
		t.Fatalf("long at cap must not open more long")
	}
	if !CanOpenShort(longAtCap, maxUSD) {
		t.Fatalf("long at cap must be allowed to reduce")
	}

	shortAtCap := domain.Position{VenueID: "a", SignedSize: d("-12"), NotionalUSD: d("-1200")}
	if CanOpenShort(shortAtCap, maxUSD) {
		t.Fatalf("short over cap must not open more short")
	}
	if !CanOpenLong(shortAtCap, maxUSD) {
		t.Fatalf("short over cap must be allowed to reduce")
	}
}

func TestGateEvaluate(t *testing.T) {
	gate := NewPositionGate(d("0.5"))
	maxUSD := d("1000")
	flat := domain.Position{VenueID: "b"}
	longA := domain.Position{VenueID: "a", SignedSize: d("10"), NotionalUSD: d("1000")}

	got := gate.Evaluate(longA, flat, maxUSD)
	if got.CanOpenLong {
		t.Fatalf("expected Long blocked by venue A cap")
	}
	if !got.CanOpenShort {
		t.Fatalf("expected Short allowed")
	}
	// The capped side never lowers the bar for the open one.
	if !got.EffectiveThresholdShort.Equal(d("0.5")) || !got.EffectiveThresholdLong.Equal(d("0.5")) {
		t.Fatalf("thresholds must not be relaxed: %+v", got)
	}

	shortB := domain.Position{VenueID: "b", SignedSize: d("-10"), NotionalUSD: d("-1000")}
	got = gate.Evaluate(longA, shortB, maxUSD)
	if got.CanOpenLong {
		t.Fatalf("expected Long blocked on both venues")
	}
	if !got.CanOpenShort {
		t.Fatalf("expected hedge-reducing Short allowed")
	}
}

func TestSizeScenario(t *testing.T) {
	got, err := Size(d("1000"), d("0.01"), d("100.00"))
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if !got.Quantity.Equal(d("10")) || !got.NotionalUSD.Equal(d("1000")) {
		t.Fatalf("expected 10 / 1000, got %s / %s", got.Quantity, got.NotionalUSD)
	}
}

func TestSizeNeverExceedsTarget(t *testing.T) {
	cases := []struct{ target, lot, price string }{
		{"1000", "0.01", "33.33"},
		{"999.99", "0.1", "7"},
		{"1", "0.001", "0.3333"},
		{"250", "1", "99.99"},
		{"12345.678", "0.0001", "1.0000001"},
	}
	for _, tc := range cases {
		got, err := Size(d(tc.target), d(tc.lot), d(tc.price))
		if err != nil {
			t.Fatalf("size %+v: %v", tc, err)
		}
		if got.NotionalUSD.GreaterThan(d(tc.target)) {
			t.Fatalf("notional %s exceeds target %s", got.NotionalUSD, tc.target)
		}
		if !got.Quantity.Mod(d(tc.lot)).IsZero() {
			t.Fatalf("quantity %s not a multiple of lot %s", got.Quantity, tc.lot)
		}
		// One more lot would overshoot.
		if got.Quantity.Add(d(tc.lot)).Mul(d(tc.price)).LessThanOrEqual(d(tc.target)) {
			t.Fatalf("quantity %s truncated more than one lot for %+v", got.Quantity, tc)
		}
	}
}

func TestSizeBelowOneLot(t *testing.T) {
	if _, err := Size(d("0.5"), d("0.01"), d("100")); !errors.Is(err, domain.ErrInvalidOrder) {
		t.Fatalf("expected ErrInvalidOrder, got %v", err)
	}
}

func TestLimitPriceMarkup(t *testing.T) {
	if got := LimitPrice(d("100"), domain.Long, d("1")); !got.Equal(d("101")) {
		t.Fatalf("expected 101, got %s", got)
	}
	if got := LimitPrice(d("100"), domain.Short, d("1")); !got.Equal(d("99")) {
		t.Fatalf("expected 99, got %s", got)
	}
	if got := LimitPrice(d("100"), domain.Short, decimal.Zero); !got.Equal(d("100")) {
		t.Fatalf("expected unchanged price, got %s", got)
	}
}

func TestBuildIntent(t *testing.T) {
	s := Spreads{
		LongBShortA: d("1"),
		EntryAShort: d("101"), EntryBLong: d("100"),
		EntryALong: d("101.1"), EntryBShort: d("100"),
	}
	intent, err := BuildIntent(IntentParams{
		ID:         "intent-1",
		Strategy:   "price_arb",
		Instrument: "SOL-PERP",
		DirectionA: domain.Short,
		Spreads:    s,
		VenueA:     domain.VenueSpec{ID: "a", LotSize: d("0.01"), LimitMarkupPct: d("1")},
		VenueB:     domain.VenueSpec{ID: "b", LotSize: d("0.1")},
		TargetUSD:  d("1000"),
		Now:        time.Unix(0, 0),
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	// 1000 / 101 = 9.90 on A's lot, 9.9 on B's.
	if !intent.LegA.Quantity.Equal(d("9.9")) || !intent.LegB.Quantity.Equal(d("9.9")) {
		t.Fatalf("unexpected quantities %s / %s", intent.LegA.Quantity, intent.LegB.Quantity)
	}
	if intent.LegA.Direction != domain.Short || intent.LegB.Direction != domain.Long {
		t.Fatalf("unexpected directions %s / %s", intent.LegA.Direction, intent.LegB.Direction)
	}
	if !intent.LegA.Price.Equal(d("99.99")) {
		t.Fatalf("expected marked-down limit 99.99, got %s", intent.LegA.Price)
	}
	if !intent.LegB.Price.Equal(d("100")) {
		t.Fatalf("expected curve venue limit at entry, got %s", intent.LegB.Price)
	}
	if !intent.ExpectedProfitPct.Equal(d("1")) {
		t.Fatalf("expected profit 1%%, got %s", intent.ExpectedProfitPct)
	}
}

func TestBuildIntentKeepsBothNotionalsWithinTarget(t *testing.T) {
	// Long A is cheap, short B is the expensive leg.
	s := Spreads{
		LongAShortB: d("1"),
		EntryALong:  d("100"), EntryBShort: d("101"),
		EntryAShort: d("99.9"), EntryBLong: d("101.1"),
	}
	intent, err := BuildIntent(IntentParams{
		ID:         "intent-2",
		Instrument: "SOL-PERP",
		DirectionA: domain.Long,
		Spreads:    s,
		VenueA:     domain.VenueSpec{ID: "a", LotSize: d("0.01")},
		VenueB:     domain.VenueSpec{ID: "b", LotSize: d("0.01")},
		TargetUSD:  d("1000"),
		Now:        time.Unix(0, 0),
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !intent.LegA.Quantity.Equal(d("9.9")) {
		t.Fatalf("expected 1000 / 101 truncated to 9.9, got %s", intent.LegA.Quantity)
	}
	for _, leg := range []domain.OrderSpec{intent.LegA, intent.LegB} {
		if leg.NotionalUSD.GreaterThan(d("1000")) {
			t.Fatalf("leg %s notional %s exceeds target", leg.VenueID, leg.NotionalUSD)
		}
	}
}

func TestBuildCloseIntent(t *testing.T) {
	s := Spreads{
		EntryALong: d("101"), EntryAShort: d("100"),
		EntryBLong: d("100.5"), EntryBShort: d("100.2"),
	}
	intent, err := BuildCloseIntent(CloseParams{
		ID:         "close-1",
		Strategy:   "funding_arb",
		Instrument: "SOL-PERP",
		PosA:       domain.Position{VenueID: "a", SignedSize: d("5")},
		PosB:       domain.Position{VenueID: "b", SignedSize: d("-5")},
		Spreads:    s,
		VenueA:     domain.VenueSpec{ID: "a", LotSize: d("0.01"), LimitMarkupPct: d("1")},
		VenueB:     domain.VenueSpec{ID: "b", LotSize: d("0.01")},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if intent.Direction != domain.Short || intent.LegA.Direction != domain.Short || intent.LegB.Direction != domain.Long {
		t.Fatalf("unexpected directions %s %s %s", intent.Direction, intent.LegA.Direction, intent.LegB.Direction)
	}
	if !intent.LegA.ReduceOnly || !intent.LegB.ReduceOnly {
		t.Fatal("close legs must be reduce-only")
	}
	if !intent.LegA.Quantity.Equal(d("5")) || !intent.LegB.Quantity.Equal(d("5")) {
		t.Fatalf("unexpected quantities %s / %s", intent.LegA.Quantity, intent.LegB.Quantity)
	}
	if !intent.LegA.Price.Equal(d("99")) {
		t.Fatalf("expected marked-down close on A at 99, got %s", intent.LegA.Price)
	}
}

func TestBuildCloseIntentOneSided(t *testing.T) {
	intent, err := BuildCloseIntent(CloseParams{
		ID:      "close-2",
		PosA:    domain.Position{VenueID: "a"},
		PosB:    domain.Position{VenueID: "b", SignedSize: d("-2")},
		Spreads: Spreads{EntryBLong: d("100"), EntryBShort: d("99")},
		VenueA:  domain.VenueSpec{ID: "a", LotSize: d("0.01")},
		VenueB:  domain.VenueSpec{ID: "b", LotSize: d("0.01")},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !intent.LegA.Quantity.IsZero() {
		t.Fatalf("flat venue must get an empty leg, got %s", intent.LegA.Quantity)
	}
	if intent.LegB.Direction != domain.Long || intent.Direction != domain.Short {
		t.Fatalf("unexpected directions %s / %s", intent.Direction, intent.LegB.Direction)
	}

	_, err = BuildCloseIntent(CloseParams{ID: "close-3"})
	if !errors.Is(err, domain.ErrInvalidOrder) {
		t.Fatalf("expected ErrInvalidOrder when flat, got %v", err)
	}
}
