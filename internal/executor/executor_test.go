package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perparb/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type orderLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *orderLog) add(s string) {
	l.mu.Lock()
	l.calls = append(l.calls, s)
	l.mu.Unlock()
}

func (l *orderLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeVenue struct {
	id      string
	log     *orderLog
	placeFn func(spec domain.OrderSpec) (domain.OrderHandle, error)

	mu       sync.Mutex
	placed   []domain.OrderSpec
	position decimal.Decimal
}

func (f *fakeVenue) GetTopOfBook(context.Context, string) (domain.VenueQuote, error) {
	return domain.VenueQuote{VenueID: f.id}, nil
}

func (f *fakeVenue) GetPosition(_ context.Context, instrument string) (domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.Position{VenueID: f.id, Instrument: instrument, SignedSize: f.position}, nil
}

func (f *fakeVenue) PlaceLimitOrder(_ context.Context, spec domain.OrderSpec) (domain.OrderHandle, error) {
	if f.log != nil {
		f.log.add(f.id)
	}
	f.mu.Lock()
	f.placed = append(f.placed, spec)
	f.mu.Unlock()

	h := domain.OrderHandle{OrderID: "oid-" + spec.ClientOrderID, ClientOrderID: spec.ClientOrderID, Status: domain.OrderConfirmed}
	if f.placeFn != nil {
		got, err := f.placeFn(spec)
		if err != nil || got.Status != domain.OrderConfirmed {
			return got, err
		}
		if got.FilledQty.IsPositive() {
			h.FilledQty = got.FilledQty
			spec.Quantity = got.FilledQty
		}
	}
	f.apply(spec)
	return h, nil
}

func (f *fakeVenue) apply(spec domain.OrderSpec) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if spec.Direction == domain.Long {
		f.position = f.position.Add(spec.Quantity)
	} else {
		f.position = f.position.Sub(spec.Quantity)
	}
}

func (f *fakeVenue) Spec() domain.VenueSpec {
	return domain.VenueSpec{ID: f.id, LotSize: decimal.RequireFromString("0.01")}
}

func (f *fakeVenue) placedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.placed)
}

type resolvingVenue struct {
	*fakeVenue
	resolveFn func(clientOrderID string) (domain.OrderHandle, error)
}

func (r *resolvingVenue) ResolveOrder(_ context.Context, _ string, clientOrderID string) (domain.OrderHandle, error) {
	return r.resolveFn(clientOrderID)
}

type builderVenue struct {
	*fakeVenue
}

func (b *builderVenue) BuildInstruction(_ context.Context, spec domain.OrderSpec) (domain.Instruction, error) {
	return domain.Instruction{VenueID: b.id, ClientOrderID: spec.ClientOrderID, Data: []byte(spec.ClientOrderID)}, nil
}

type fakeSubmitter struct {
	status  domain.OrderStatus
	err     error
	mu      sync.Mutex
	bundles [][]domain.Instruction
}

func (s *fakeSubmitter) SubmitBundle(_ context.Context, instrs []domain.Instruction) (domain.BundleReceipt, error) {
	s.mu.Lock()
	s.bundles = append(s.bundles, instrs)
	s.mu.Unlock()
	return domain.BundleReceipt{TxID: "tx-1", Status: s.status, Reason: "simulated"}, s.err
}

type fakeAlerter struct {
	mu     sync.Mutex
	events []string
}

func (a *fakeAlerter) Notify(_ context.Context, event, _, _ string) error {
	a.mu.Lock()
	a.events = append(a.events, event)
	a.mu.Unlock()
	return nil
}

func (a *fakeAlerter) has(event string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.events {
		if e == event {
			return true
		}
	}
	return false
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []string
}

func (a *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.mu.Lock()
	a.entries = append(a.entries, event)
	a.mu.Unlock()
	return nil
}

func (a *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	results []domain.ExecutionResult
}

func (r *fakeRecorder) Create(_ context.Context, res domain.ExecutionResult) error {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
	return nil
}

func testIntent(id string) domain.TradeIntent {
	qty := decimal.RequireFromString("10")
	return domain.TradeIntent{
		ID:         id,
		Strategy:   "price_arb",
		Instrument: "SOL-PERP",
		Direction:  domain.Long,
		LegA: domain.OrderSpec{VenueID: "a", Instrument: "SOL-PERP", Direction: domain.Long,
			Price: decimal.RequireFromString("101"), Quantity: qty},
		LegB: domain.OrderSpec{VenueID: "b", Instrument: "SOL-PERP", Direction: domain.Short,
			Price: decimal.RequireFromString("100"), Quantity: qty},
	}
}

func fastOpts(mode string) Options {
	return Options{
		Mode:           mode,
		SubmitTimeout:  time.Second,
		ConfirmTimeout: 200 * time.Millisecond,
		ConfirmPoll:    10 * time.Millisecond,
	}
}

func TestSequentialPlacesLegAThenLegB(t *testing.T) {
	calls := &orderLog{}
	a := &fakeVenue{id: "a", log: calls}
	b := &fakeVenue{id: "b", log: calls}
	c, err := New(a, b, nil, fastOpts("auto"), testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if c.Mode() != domain.ModeSequential {
		t.Fatalf("expected sequential mode, got %s", c.Mode())
	}
	rec := &fakeRecorder{}
	c.SetRecording(rec, nil)

	res, err := c.Execute(context.Background(), testIntent("i-1"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.State != domain.ExecDone {
		t.Fatalf("expected done, got %s", res.State)
	}
	if got := calls.snapshot(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("expected a then b, got %v", got)
	}
	if res.LegA.Spec.ClientOrderID != "i-1-a" || res.LegB.Spec.ClientOrderID != "i-1-b" {
		t.Fatalf("unexpected client order ids %q %q", res.LegA.Spec.ClientOrderID, res.LegB.Spec.ClientOrderID)
	}
	if len(rec.results) != 1 {
		t.Fatalf("expected one recorded result, got %d", len(rec.results))
	}
}

func TestPartialFailureWhenLegBFails(t *testing.T) {
	a := &fakeVenue{id: "a"}
	b := &fakeVenue{id: "b", placeFn: func(domain.OrderSpec) (domain.OrderHandle, error) {
		return domain.OrderHandle{}, errors.New("venue b: 503 service unavailable")
	}}
	c, err := New(a, b, nil, fastOpts("sequential"), testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	alerts := &fakeAlerter{}
	audit := &fakeAudit{}
	c.SetAlerter(alerts)
	c.SetRecording(nil, audit)

	res, err := c.Execute(context.Background(), testIntent("i-2"))
	if !errors.Is(err, domain.ErrPartialFailure) {
		t.Fatalf("expected ErrPartialFailure, got %v", err)
	}
	if res.State != domain.ExecPartialFailure {
		t.Fatalf("expected partial failure, got %s", res.State)
	}
	if res.LegA.Status != domain.LegConfirmed || res.LegB.Status != domain.LegFailed {
		t.Fatalf("unexpected leg states %s / %s", res.LegA.Status, res.LegB.Status)
	}

	posA, _ := a.GetPosition(context.Background(), "SOL-PERP")
	if !posA.SignedSize.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("expected venue A to hold the new exposure, got %s", posA.SignedSize)
	}
	posB, _ := b.GetPosition(context.Background(), "SOL-PERP")
	if !posB.IsFlat() {
		t.Fatalf("expected no exposure on venue B, got %s", posB.SignedSize)
	}
	if !alerts.has("partial_failure") {
		t.Fatalf("expected partial_failure alert, got %v", alerts.events)
	}
	if len(audit.entries) != 1 || audit.entries[0] != "partial_failure" {
		t.Fatalf("expected audit entry, got %v", audit.entries)
	}
	if got := c.Stats().PartialFailure; got != 1 {
		t.Fatalf("expected 1 partial failure in stats, got %d", got)
	}
}

func fillOnly(qty string) func(domain.OrderSpec) (domain.OrderHandle, error) {
	return func(domain.OrderSpec) (domain.OrderHandle, error) {
		return domain.OrderHandle{Status: domain.OrderConfirmed, FilledQty: decimal.RequireFromString(qty)}, nil
	}
}

func TestLegAPartialFillResizesLegB(t *testing.T) {
	a := &fakeVenue{id: "a", placeFn: fillOnly("3")}
	b := &fakeVenue{id: "b"}
	c, err := New(a, b, nil, fastOpts("sequential"), testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	alerts := &fakeAlerter{}
	c.SetAlerter(alerts)

	intent := testIntent("i-fill")
	intent.LegB.NotionalUSD = decimal.RequireFromString("1000")
	res, err := c.Execute(context.Background(), intent)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.State != domain.ExecDone {
		t.Fatalf("expected done, got %s", res.State)
	}
	if !res.LegB.Spec.Quantity.Equal(decimal.RequireFromString("3")) ||
		!res.LegB.Spec.NotionalUSD.Equal(decimal.RequireFromString("300")) {
		t.Fatalf("leg B not resized: qty=%s notional=%s", res.LegB.Spec.Quantity, res.LegB.Spec.NotionalUSD)
	}
	posA, _ := a.GetPosition(context.Background(), "SOL-PERP")
	posB, _ := b.GetPosition(context.Background(), "SOL-PERP")
	if !posA.SignedSize.Add(posB.SignedSize).IsZero() {
		t.Fatalf("expected hedged book, got a=%s b=%s", posA.SignedSize, posB.SignedSize)
	}
}

func TestLegAFillBelowLegBLotIsPartialFailure(t *testing.T) {
	a := &fakeVenue{id: "a", placeFn: fillOnly("0.004")}
	b := &fakeVenue{id: "b"}
	c, err := New(a, b, nil, fastOpts("sequential"), testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	alerts := &fakeAlerter{}
	c.SetAlerter(alerts)

	res, err := c.Execute(context.Background(), testIntent("i-dust"))
	if !errors.Is(err, domain.ErrPartialFailure) || res.State != domain.ExecPartialFailure {
		t.Fatalf("expected partial failure, got %s %v", res.State, err)
	}
	if b.placedCount() != 0 {
		t.Fatalf("leg B must not be placed below its lot size, got %d orders", b.placedCount())
	}
	if !alerts.has("partial_failure") || alerts.has("trade_executed") {
		t.Fatalf("unexpected alerts %v", alerts.events)
	}
}

func TestLegBPartialFillIsPartialFailure(t *testing.T) {
	a := &fakeVenue{id: "a"}
	b := &fakeVenue{id: "b", placeFn: fillOnly("4")}
	c, err := New(a, b, nil, fastOpts("sequential"), testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	alerts := &fakeAlerter{}
	c.SetAlerter(alerts)

	res, err := c.Execute(context.Background(), testIntent("i-underhedge"))
	if !errors.Is(err, domain.ErrPartialFailure) {
		t.Fatalf("expected ErrPartialFailure, got %v", err)
	}
	if res.LegB.Status != domain.LegFailed || !strings.Contains(res.LegB.Error, "filled 4 of 10") {
		t.Fatalf("unexpected leg B %+v", res.LegB)
	}
	if !alerts.has("partial_failure") {
		t.Fatalf("expected partial_failure alert, got %v", alerts.events)
	}
}

func TestLegAFailureSkipsLegB(t *testing.T) {
	a := &fakeVenue{id: "a", placeFn: func(domain.OrderSpec) (domain.OrderHandle, error) {
		return domain.OrderHandle{Status: domain.OrderRejected}, nil
	}}
	b := &fakeVenue{id: "b"}
	c, err := New(a, b, nil, fastOpts("sequential"), testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	alerts := &fakeAlerter{}
	c.SetAlerter(alerts)

	res, err := c.Execute(context.Background(), testIntent("i-3"))
	if !errors.Is(err, domain.ErrSubmissionFailed) {
		t.Fatalf("expected ErrSubmissionFailed, got %v", err)
	}
	if res.State != domain.ExecFailed {
		t.Fatalf("expected failed, got %s", res.State)
	}
	if b.placedCount() != 0 {
		t.Fatalf("leg B must not be placed after leg A failure")
	}
	if alerts.has("partial_failure") {
		t.Fatalf("leg A failure must not raise a partial failure alert")
	}
}

func TestExecuteTwiceDoesNotResubmit(t *testing.T) {
	a := &fakeVenue{id: "a"}
	b := &fakeVenue{id: "b"}
	c, err := New(a, b, nil, fastOpts("sequential"), testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	intent := testIntent("i-4")
	first, err := c.Execute(context.Background(), intent)
	if err != nil {
		t.Fatalf("first execute: %v", err)
	}
	second, err := c.Execute(context.Background(), intent)
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}
	if a.placedCount() != 1 || b.placedCount() != 1 {
		t.Fatalf("expected one placement per venue, got a=%d b=%d", a.placedCount(), b.placedCount())
	}
	if first.ID != second.ID {
		t.Fatalf("expected recorded result to be returned, got %s vs %s", first.ID, second.ID)
	}
	if c.Stats().Duplicates != 1 {
		t.Fatalf("expected duplicate to be counted")
	}
}

func TestExecuteTwiceAfterPartialFailureDoesNotResubmitLegA(t *testing.T) {
	a := &fakeVenue{id: "a"}
	b := &fakeVenue{id: "b", placeFn: func(domain.OrderSpec) (domain.OrderHandle, error) {
		return domain.OrderHandle{}, errors.New("boom")
	}}
	c, err := New(a, b, nil, fastOpts("sequential"), testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	intent := testIntent("i-5")
	for i := 0; i < 2; i++ {
		if _, err := c.Execute(context.Background(), intent); !errors.Is(err, domain.ErrPartialFailure) {
			t.Fatalf("attempt %d: expected ErrPartialFailure, got %v", i, err)
		}
	}
	if a.placedCount() != 1 {
		t.Fatalf("leg A resubmitted: %d placements", a.placedCount())
	}
}

func TestConcurrentExecuteOfSameIntentIsRejected(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	a := &fakeVenue{id: "a", placeFn: func(domain.OrderSpec) (domain.OrderHandle, error) {
		close(entered)
		<-release
		return domain.OrderHandle{Status: domain.OrderConfirmed}, nil
	}}
	b := &fakeVenue{id: "b"}
	c, err := New(a, b, nil, fastOpts("sequential"), testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	intent := testIntent("i-6")
	done := make(chan error, 1)
	go func() {
		_, err := c.Execute(context.Background(), intent)
		done <- err
	}()
	<-entered

	if _, err := c.Execute(context.Background(), intent); !errors.Is(err, domain.ErrDuplicateIntent) {
		t.Fatalf("expected ErrDuplicateIntent, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first execute: %v", err)
	}
	if a.placedCount() != 1 {
		t.Fatalf("expected a single leg A placement, got %d", a.placedCount())
	}
}

func TestPendingLegAIsResolvedBeforeLegB(t *testing.T) {
	calls := &orderLog{}
	base := &fakeVenue{id: "a", log: calls, placeFn: func(spec domain.OrderSpec) (domain.OrderHandle, error) {
		return domain.OrderHandle{ClientOrderID: spec.ClientOrderID, Status: domain.OrderPending}, nil
	}}
	var polls int
	a := &resolvingVenue{fakeVenue: base, resolveFn: func(id string) (domain.OrderHandle, error) {
		polls++
		if polls < 3 {
			return domain.OrderHandle{ClientOrderID: id, Status: domain.OrderPending}, nil
		}
		calls.add("a-confirmed")
		return domain.OrderHandle{OrderID: "filled", ClientOrderID: id, Status: domain.OrderConfirmed}, nil
	}}
	b := &fakeVenue{id: "b", log: calls}
	c, err := New(a, b, nil, fastOpts("sequential"), testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	res, err := c.Execute(context.Background(), testIntent("i-7"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.LegA.OrderID != "filled" {
		t.Fatalf("expected resolved order id, got %q", res.LegA.OrderID)
	}
	got := calls.snapshot()
	if len(got) != 3 || got[1] != "a-confirmed" || got[2] != "b" {
		t.Fatalf("expected leg B only after leg A confirmation, got %v", got)
	}
}

func TestAmbiguousLegAWithoutResolverIsFailed(t *testing.T) {
	a := &fakeVenue{id: "a", placeFn: func(domain.OrderSpec) (domain.OrderHandle, error) {
		return domain.OrderHandle{}, domain.ErrAmbiguousSubmission
	}}
	b := &fakeVenue{id: "b"}
	c, err := New(a, b, nil, fastOpts("sequential"), testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res, err := c.Execute(context.Background(), testIntent("i-8"))
	if !errors.Is(err, domain.ErrSubmissionFailed) {
		t.Fatalf("expected ErrSubmissionFailed, got %v", err)
	}
	if res.State != domain.ExecFailed || b.placedCount() != 0 {
		t.Fatalf("expected failed without leg B, got %s and %d placements", res.State, b.placedCount())
	}
}

func TestUnresolvedPendingTimesOut(t *testing.T) {
	base := &fakeVenue{id: "a", placeFn: func(domain.OrderSpec) (domain.OrderHandle, error) {
		return domain.OrderHandle{Status: domain.OrderPending}, nil
	}}
	a := &resolvingVenue{fakeVenue: base, resolveFn: func(string) (domain.OrderHandle, error) {
		return domain.OrderHandle{}, domain.ErrNotFound
	}}
	b := &fakeVenue{id: "b"}
	c, err := New(a, b, nil, fastOpts("sequential"), testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	start := time.Now()
	res, err := c.Execute(context.Background(), testIntent("i-9"))
	if !errors.Is(err, domain.ErrSubmissionFailed) {
		t.Fatalf("expected ErrSubmissionFailed, got %v", err)
	}
	if !strings.Contains(res.LegA.Error, "not confirmed") {
		t.Fatalf("expected confirmation timeout on leg A, got %q", res.LegA.Error)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("confirmation wait was not bounded")
	}
	if b.placedCount() != 0 {
		t.Fatalf("leg B must not be placed while leg A is unresolved")
	}
}

func TestAtomicBundleConfirmed(t *testing.T) {
	a := &builderVenue{&fakeVenue{id: "a"}}
	b := &builderVenue{&fakeVenue{id: "b"}}
	sub := &fakeSubmitter{status: domain.OrderConfirmed}
	c, err := New(a, b, sub, fastOpts("auto"), testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if c.Mode() != domain.ModeAtomic {
		t.Fatalf("expected atomic mode, got %s", c.Mode())
	}

	res, err := c.Execute(context.Background(), testIntent("i-10"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.State != domain.ExecDone || res.TxID != "tx-1" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(sub.bundles) != 1 || len(sub.bundles[0]) != 2 {
		t.Fatalf("expected one bundle of two instructions, got %v", sub.bundles)
	}
	if a.placedCount() != 0 || b.placedCount() != 0 {
		t.Fatalf("atomic path must not place individual orders")
	}
}

func TestAtomicBundleRejectedLeavesNoPartialState(t *testing.T) {
	a := &builderVenue{&fakeVenue{id: "a"}}
	b := &builderVenue{&fakeVenue{id: "b"}}
	sub := &fakeSubmitter{status: domain.OrderRejected}
	c, err := New(a, b, sub, fastOpts("atomic"), testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	alerts := &fakeAlerter{}
	c.SetAlerter(alerts)

	res, err := c.Execute(context.Background(), testIntent("i-11"))
	if !errors.Is(err, domain.ErrSubmissionFailed) {
		t.Fatalf("expected ErrSubmissionFailed, got %v", err)
	}
	if res.State != domain.ExecFailed {
		t.Fatalf("expected failed, got %s", res.State)
	}
	if alerts.has("partial_failure") {
		t.Fatalf("atomic mode must never report partial failure")
	}
}

func TestAtomicModeRequiresCapableVenues(t *testing.T) {
	a := &fakeVenue{id: "a"}
	b := &builderVenue{&fakeVenue{id: "b"}}
	_, err := New(a, b, &fakeSubmitter{}, fastOpts("atomic"), testLogger())
	if !errors.Is(err, domain.ErrConfigurationInvalid) {
		t.Fatalf("expected ErrConfigurationInvalid, got %v", err)
	}
}

func TestZeroQuantityLegIsNoop(t *testing.T) {
	a := &fakeVenue{id: "a"}
	b := &fakeVenue{id: "b"}
	c, err := New(a, b, nil, fastOpts("sequential"), testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	intent := testIntent("i-12")
	intent.LegA.Quantity = decimal.Zero
	if _, err := c.Execute(context.Background(), intent); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if a.placedCount() != 0 || b.placedCount() != 1 {
		t.Fatalf("expected only leg B placed, got a=%d b=%d", a.placedCount(), b.placedCount())
	}
}

func TestLedgerCleanupKeepsInFlight(t *testing.T) {
	l := NewLedger(0)
	if _, err := l.Claim("x"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	l.Finish("y", domain.ExecutionResult{IntentID: "y"})
	l.Cleanup()
	if l.Len() != 1 {
		t.Fatalf("expected only the in-flight entry to survive, got %d", l.Len())
	}
	if _, err := l.Claim("x"); !errors.Is(err, domain.ErrDuplicateIntent) {
		t.Fatalf("expected in-flight claim to be rejected, got %v", err)
	}
}
