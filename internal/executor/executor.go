// Package executor places the two legs of a trade intent. Legs that share an
// atomic submission medium go out as one bundle; all others are placed
// sequentially, leg A confirmed before leg B is sent.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perparb/internal/domain"
)

// Alerter receives operator-facing events. It is implemented by
// notify.Notifier.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// ResultRecorder persists execution results.
type ResultRecorder interface {
	Create(ctx context.Context, res domain.ExecutionResult) error
}

// Options configures a Coordinator.
type Options struct {
	// Mode is "auto", "atomic" or "sequential".
	Mode           string
	SubmitTimeout  time.Duration
	ConfirmTimeout time.Duration
	ConfirmPoll    time.Duration
	LedgerTTL      time.Duration
	DryRun         bool
}

func (o *Options) setDefaults() {
	if o.SubmitTimeout <= 0 {
		o.SubmitTimeout = 5 * time.Second
	}
	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = 15 * time.Second
	}
	if o.ConfirmPoll <= 0 {
		o.ConfirmPoll = 500 * time.Millisecond
	}
	if o.LedgerTTL <= 0 {
		o.LedgerTTL = 24 * time.Hour
	}
}

// Stats counts terminal states since start.
type Stats struct {
	Done           int64 `json:"done"`
	Failed         int64 `json:"failed"`
	PartialFailure int64 `json:"partial_failure"`
	Duplicates     int64 `json:"duplicates"`
}

// Coordinator executes trade intents against venue A and venue B.
type Coordinator struct {
	venueA    domain.VenueAdapter
	venueB    domain.VenueAdapter
	submitter domain.TxSubmitter
	mode      domain.ExecutionMode
	opts      Options
	ledger    *Ledger
	logger    *slog.Logger

	store   ResultRecorder
	audit   domain.AuditStore
	alerter Alerter

	done, failed, partial, duplicates atomic.Int64
}

// New creates a Coordinator. submitter may be nil. In "auto" mode the atomic
// path is used when both venues implement domain.InstructionBuilder and a
// submitter is given; "atomic" fails if that is not the case.
func New(venueA, venueB domain.VenueAdapter, submitter domain.TxSubmitter, opts Options, logger *slog.Logger) (*Coordinator, error) {
	opts.setDefaults()

	_, aOK := venueA.(domain.InstructionBuilder)
	_, bOK := venueB.(domain.InstructionBuilder)
	capable := aOK && bOK && submitter != nil

	var mode domain.ExecutionMode
	switch strings.ToLower(opts.Mode) {
	case "atomic":
		if !capable {
			return nil, fmt.Errorf("executor: atomic mode needs instruction builders on both venues and a bundle submitter: %w",
				domain.ErrConfigurationInvalid)
		}
		mode = domain.ModeAtomic
	case "sequential":
		mode = domain.ModeSequential
	case "", "auto":
		mode = domain.ModeSequential
		if capable {
			mode = domain.ModeAtomic
		}
	default:
		return nil, fmt.Errorf("executor: unknown mode %q: %w", opts.Mode, domain.ErrConfigurationInvalid)
	}

	return &Coordinator{
		venueA:    venueA,
		venueB:    venueB,
		submitter: submitter,
		mode:      mode,
		opts:      opts,
		ledger:    NewLedger(opts.LedgerTTL),
		logger: logger.With(
			slog.String("component", "executor"),
			slog.String("mode", string(mode)),
		),
	}, nil
}

// SetRecording enables persistence of results and the audit trail. Either
// argument may be nil.
func (c *Coordinator) SetRecording(store ResultRecorder, audit domain.AuditStore) {
	c.store = store
	c.audit = audit
}

// SetAlerter sets where partial failures and executions are reported.
func (c *Coordinator) SetAlerter(a Alerter) {
	c.alerter = a
}

// Mode returns the submission path in use.
func (c *Coordinator) Mode() domain.ExecutionMode {
	return c.mode
}

// Stats returns a snapshot of the terminal-state counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Done:           c.done.Load(),
		Failed:         c.failed.Load(),
		PartialFailure: c.partial.Load(),
		Duplicates:     c.duplicates.Load(),
	}
}

// Execute places both legs of intent and returns once the trade reached a
// terminal state. The error is nil for ExecDone, wraps
// domain.ErrSubmissionFailed for ExecFailed and domain.ErrPartialFailure for
// ExecPartialFailure. Executing an intent that already finished returns the
// recorded result without submitting anything.
//
// Callers should pass a context that is not cancelled by shutdown: every wait
// inside is bounded by the configured timeouts, and abandoning a trade
// between legs is worse than finishing it.
func (c *Coordinator) Execute(ctx context.Context, intent domain.TradeIntent) (domain.ExecutionResult, error) {
	if intent.ID == "" {
		return domain.ExecutionResult{}, fmt.Errorf("executor: intent without id: %w", domain.ErrInvalidOrder)
	}
	if intent.LegA.ClientOrderID == "" {
		intent.LegA.ClientOrderID = intent.ID + "-a"
	}
	if intent.LegB.ClientOrderID == "" {
		intent.LegB.ClientOrderID = intent.ID + "-b"
	}

	log := c.logger.With(
		slog.String("intent_id", intent.ID),
		slog.String("instrument", intent.Instrument),
		slog.String("direction", string(intent.Direction)),
		slog.String("qty_a", intent.LegA.Quantity.String()),
		slog.String("qty_b", intent.LegB.Quantity.String()),
	)

	prior, err := c.ledger.Claim(intent.ID)
	if err != nil {
		c.duplicates.Add(1)
		return domain.ExecutionResult{}, fmt.Errorf("executor: intent %s: %w", intent.ID, err)
	}
	if prior != nil {
		c.duplicates.Add(1)
		log.Info("intent already executed, returning recorded result",
			slog.String("state", string(prior.State)),
		)
		return *prior, resultErr(*prior)
	}

	res := domain.ExecutionResult{
		ID:         uuid.NewString(),
		IntentID:   intent.ID,
		Strategy:   intent.Strategy,
		Instrument: intent.Instrument,
		Direction:  intent.Direction,
		Mode:       c.mode,
		LegA:       domain.LegResult{Spec: intent.LegA, Status: domain.LegNotSubmitted},
		LegB:       domain.LegResult{Spec: intent.LegB, Status: domain.LegNotSubmitted},
		DryRun:     c.opts.DryRun,
		StartedAt:  time.Now().UTC(),
	}

	if c.mode == domain.ModeAtomic {
		c.executeAtomic(ctx, intent, &res, log)
	} else {
		c.executeSequential(ctx, intent, &res, log)
	}
	res.CompletedAt = time.Now().UTC()

	c.ledger.Finish(intent.ID, res)
	c.ledger.Cleanup()
	c.finish(ctx, res, log)

	return res, resultErr(res)
}

// executeAtomic bundles both legs into one submission. Either both apply or
// neither does.
func (c *Coordinator) executeAtomic(ctx context.Context, intent domain.TradeIntent, res *domain.ExecutionResult, log *slog.Logger) {
	var instrs []domain.Instruction
	for _, leg := range []struct {
		venue domain.VenueAdapter
		spec  domain.OrderSpec
	}{{c.venueA, intent.LegA}, {c.venueB, intent.LegB}} {
		if leg.spec.Quantity.IsZero() {
			continue
		}
		ins, err := leg.venue.(domain.InstructionBuilder).BuildInstruction(ctx, leg.spec)
		if err != nil {
			c.failBoth(res, fmt.Sprintf("build instruction for %s: %v", leg.spec.VenueID, err))
			log.Warn("atomic bundle not built", slog.String("event", "bundle_failed"), slog.String("error", err.Error()))
			return
		}
		instrs = append(instrs, ins)
	}
	if len(instrs) == 0 {
		c.confirmBoth(res, "")
		return
	}

	submitCtx, cancel := context.WithTimeout(ctx, c.opts.SubmitTimeout)
	receipt, err := c.submitter.SubmitBundle(submitCtx, instrs)
	cancel()
	if (err == nil && receipt.Status == domain.OrderPending) || errors.Is(err, domain.ErrAmbiguousSubmission) {
		receipt, err = c.resolveBundle(ctx, receipt, err, log)
	}
	res.TxID = receipt.TxID

	if err != nil || receipt.Status != domain.OrderConfirmed {
		reason := receipt.Reason
		if err != nil {
			reason = err.Error()
		}
		c.failBoth(res, reason)
		log.Warn("atomic bundle failed, no exposure change",
			slog.String("event", "bundle_failed"),
			slog.String("tx_id", receipt.TxID),
			slog.String("reason", reason),
		)
		return
	}

	c.confirmBoth(res, receipt.TxID)
	log.Info("atomic bundle confirmed",
		slog.String("event", "bundle_confirmed"),
		slog.String("tx_id", receipt.TxID),
	)
}

// resolveBundle polls the submitter for a bundle whose outcome is unknown.
// If it cannot be resolved in time the bundle is treated as failed.
func (c *Coordinator) resolveBundle(ctx context.Context, receipt domain.BundleReceipt, cause error, log *slog.Logger) (domain.BundleReceipt, error) {
	resolver, ok := c.submitter.(domain.TxResolver)
	if !ok || receipt.TxID == "" {
		return receipt, fmt.Errorf("executor: bundle outcome unknown and cannot be resolved: %w: %w",
			domain.ErrSubmissionFailed, domain.ErrAmbiguousSubmission)
	}
	log.Warn("bundle outcome pending, resolving",
		slog.String("tx_id", receipt.TxID),
		slog.Any("cause", cause),
	)

	waitCtx, cancel := context.WithTimeout(ctx, c.opts.ConfirmTimeout)
	defer cancel()
	ticker := time.NewTicker(c.opts.ConfirmPoll)
	defer ticker.Stop()

	for {
		r, err := resolver.TxStatus(waitCtx, receipt.TxID)
		if err == nil && r.Status.IsTerminal() {
			return r, nil
		}
		select {
		case <-waitCtx.Done():
			return receipt, fmt.Errorf("executor: bundle %s not resolved within %s: %w: %w",
				receipt.TxID, c.opts.ConfirmTimeout, domain.ErrSubmissionFailed, domain.ErrAmbiguousSubmission)
		case <-ticker.C:
		}
	}
}

// executeSequential places leg A, waits for its confirmation, then places
// leg B. A failed leg B leaves leg A open and is reported, never unwound.
func (c *Coordinator) executeSequential(ctx context.Context, intent domain.TradeIntent, res *domain.ExecutionResult, log *slog.Logger) {
	hA, err := c.placeLeg(ctx, c.venueA, intent.LegA, log)
	if err != nil {
		res.LegA.Status = domain.LegFailed
		res.LegA.Error = err.Error()
		res.State = domain.ExecFailed
		log.Warn("leg A failed, no exposure change",
			slog.String("event", "leg_a_failed"),
			slog.String("venue", intent.LegA.VenueID),
			slog.String("error", err.Error()),
		)
		return
	}
	res.LegA.Status = domain.LegConfirmed
	res.LegA.OrderID = hA.OrderID
	log.Info("leg A confirmed",
		slog.String("event", "leg_a_confirmed"),
		slog.String("venue", intent.LegA.VenueID),
		slog.String("order_id", hA.OrderID),
	)

	legB := intent.LegB
	if filled, ok := partialFill(hA, intent.LegA.Quantity); ok {
		legB = resizeLeg(intent.LegB, intent.LegA.Quantity, filled, c.venueB.Spec().LotSize)
		res.LegB.Spec = legB
		log.Warn("leg A partially filled, leg B resized",
			slog.String("event", "leg_a_partial_fill"),
			slog.String("filled", filled.String()),
			slog.String("requested", intent.LegA.Quantity.String()),
			slog.String("qty_b", legB.Quantity.String()),
		)
		if legB.Quantity.IsZero() {
			c.legBFailed(res, hA, fmt.Sprintf("leg A filled %s of %s, below venue %s lot size",
				filled, intent.LegA.Quantity, legB.VenueID), log)
			return
		}
	}

	hB, err := c.placeLeg(ctx, c.venueB, legB, log)
	if err != nil {
		c.legBFailed(res, hA, err.Error(), log)
		return
	}
	if filled, ok := partialFill(hB, legB.Quantity); ok {
		res.LegB.OrderID = hB.OrderID
		c.legBFailed(res, hA, fmt.Sprintf("leg B filled %s of %s", filled, legB.Quantity), log)
		return
	}
	res.LegB.Status = domain.LegConfirmed
	res.LegB.OrderID = hB.OrderID
	res.State = domain.ExecDone
	log.Info("leg B confirmed",
		slog.String("event", "leg_b_confirmed"),
		slog.String("venue", intent.LegB.VenueID),
		slog.String("order_id", hB.OrderID),
	)
}

func (c *Coordinator) legBFailed(res *domain.ExecutionResult, hA domain.OrderHandle, reason string, log *slog.Logger) {
	res.LegB.Status = domain.LegFailed
	res.LegB.Error = reason
	res.State = domain.ExecPartialFailure
	log.Error("leg B failed after leg A confirmed, position is unhedged",
		slog.String("event", "partial_failure"),
		slog.String("venue", res.LegB.Spec.VenueID),
		slog.String("leg_a_order_id", hA.OrderID),
		slog.String("error", reason),
	)
}

// partialFill reports a confirmed order that filled less than requested.
// A zero FilledQty means the venue did not report fills and the order is
// taken as complete.
func partialFill(h domain.OrderHandle, requested decimal.Decimal) (decimal.Decimal, bool) {
	if !h.FilledQty.IsPositive() || !h.FilledQty.LessThan(requested) {
		return decimal.Zero, false
	}
	return h.FilledQty, true
}

// resizeLeg scales leg by filled/requested, truncated to lotSize.
func resizeLeg(leg domain.OrderSpec, requested, filled, lotSize decimal.Decimal) domain.OrderSpec {
	if !requested.IsPositive() {
		return leg
	}
	qty := leg.Quantity.Mul(filled).Div(requested)
	if lotSize.IsPositive() {
		lots, _ := qty.QuoRem(lotSize, 0)
		qty = lots.Mul(lotSize)
	}
	if leg.Quantity.IsPositive() {
		leg.NotionalUSD = leg.NotionalUSD.Mul(qty).Div(leg.Quantity)
	}
	leg.Quantity = qty
	return leg
}

// placeLeg submits one order and returns only once it is confirmed or known
// to have failed. A zero-quantity leg is a no-op.
func (c *Coordinator) placeLeg(ctx context.Context, venue domain.VenueAdapter, spec domain.OrderSpec, log *slog.Logger) (domain.OrderHandle, error) {
	if spec.Quantity.IsZero() {
		return domain.OrderHandle{ClientOrderID: spec.ClientOrderID, Status: domain.OrderConfirmed}, nil
	}

	submitCtx, cancel := context.WithTimeout(ctx, c.opts.SubmitTimeout)
	h, err := venue.PlaceLimitOrder(submitCtx, spec)
	cancel()

	switch {
	case err == nil && h.Status == domain.OrderConfirmed:
		return h, nil
	case err == nil && h.Status == domain.OrderRejected:
		return h, fmt.Errorf("executor: %s order %s rejected: %w", spec.VenueID, spec.ClientOrderID, domain.ErrSubmissionFailed)
	case err == nil, errors.Is(err, domain.ErrAmbiguousSubmission), errors.Is(err, context.DeadlineExceeded):
		return c.resolveOrder(ctx, venue, spec, err, log)
	default:
		return domain.OrderHandle{}, fmt.Errorf("executor: place %s %s on %s: %w: %w",
			spec.Direction, spec.Instrument, spec.VenueID, domain.ErrSubmissionFailed, err)
	}
}

// resolveOrder polls the venue for an order whose outcome is pending or
// unknown. An order that cannot be resolved in time is treated as failed.
func (c *Coordinator) resolveOrder(ctx context.Context, venue domain.VenueAdapter, spec domain.OrderSpec, cause error, log *slog.Logger) (domain.OrderHandle, error) {
	resolver, ok := venue.(domain.OrderResolver)
	if !ok {
		return domain.OrderHandle{}, fmt.Errorf("executor: %s order %s unconfirmed and venue cannot resolve it: %w: %w",
			spec.VenueID, spec.ClientOrderID, domain.ErrSubmissionFailed, domain.ErrAmbiguousSubmission)
	}
	log.Debug("order outcome pending, resolving",
		slog.String("venue", spec.VenueID),
		slog.String("client_order_id", spec.ClientOrderID),
		slog.Any("cause", cause),
	)

	waitCtx, cancel := context.WithTimeout(ctx, c.opts.ConfirmTimeout)
	defer cancel()
	ticker := time.NewTicker(c.opts.ConfirmPoll)
	defer ticker.Stop()

	for {
		h, err := resolver.ResolveOrder(waitCtx, spec.Instrument, spec.ClientOrderID)
		switch {
		case err == nil && h.Status == domain.OrderConfirmed:
			return h, nil
		case err == nil && h.Status == domain.OrderRejected:
			return h, fmt.Errorf("executor: %s order %s rejected: %w", spec.VenueID, spec.ClientOrderID, domain.ErrSubmissionFailed)
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			log.Debug("resolve order failed", slog.String("error", err.Error()))
		}

		select {
		case <-waitCtx.Done():
			return domain.OrderHandle{}, fmt.Errorf("executor: %s order %s not confirmed within %s: %w: %w",
				spec.VenueID, spec.ClientOrderID, c.opts.ConfirmTimeout, domain.ErrSubmissionFailed, domain.ErrAmbiguousSubmission)
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) failBoth(res *domain.ExecutionResult, reason string) {
	res.State = domain.ExecFailed
	res.LegA.Status = domain.LegFailed
	res.LegB.Status = domain.LegFailed
	res.LegA.Error = reason
	res.LegB.Error = reason
}

func (c *Coordinator) confirmBoth(res *domain.ExecutionResult, txID string) {
	res.State = domain.ExecDone
	res.LegA.Status = domain.LegConfirmed
	res.LegB.Status = domain.LegConfirmed
	res.LegA.OrderID = txID
	res.LegB.OrderID = txID
}

// finish updates counters, persists the result and raises alerts. Failures
// here are logged and never change the result.
func (c *Coordinator) finish(ctx context.Context, res domain.ExecutionResult, log *slog.Logger) {
	switch res.State {
	case domain.ExecDone:
		c.done.Add(1)
	case domain.ExecFailed:
		c.failed.Add(1)
	case domain.ExecPartialFailure:
		c.partial.Add(1)
	}

	recCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if c.store != nil {
		if err := c.store.Create(recCtx, res); err != nil {
			log.Warn("execution record failed", slog.String("error", err.Error()))
		}
	}

	switch res.State {
	case domain.ExecPartialFailure:
		if c.audit != nil {
			detail := map[string]any{
				"intent_id":  res.IntentID,
				"instrument": res.Instrument,
				"venue_a":    res.LegA.Spec.VenueID,
				"venue_b":    res.LegB.Spec.VenueID,
				"direction":  string(res.Direction),
				"quantity":   res.LegA.Spec.Quantity.String(),
				"leg_b_err":  res.LegB.Error,
			}
			if err := c.audit.Log(recCtx, "partial_failure", detail); err != nil {
				log.Warn("audit log failed", slog.String("error", err.Error()))
			}
		}
		c.alert(recCtx, "partial_failure", "PARTIAL FAILURE: unhedged leg", fmt.Sprintf(
			"%s %s %s on %s is open, %s leg on %s failed: %s. Not unwound.",
			res.Instrument, res.LegA.Spec.Direction, res.LegA.Spec.Quantity, res.LegA.Spec.VenueID,
			res.LegB.Spec.Direction, res.LegB.Spec.VenueID, res.LegB.Error,
		), log)
	case domain.ExecDone:
		c.alert(recCtx, "trade_executed", "Trade executed", fmt.Sprintf(
			"%s %s %s on %s / %s %s on %s (%s)",
			res.Instrument, res.LegA.Spec.Direction, res.LegA.Spec.Quantity, res.LegA.Spec.VenueID,
			res.LegB.Spec.Direction, res.LegB.Spec.Quantity, res.LegB.Spec.VenueID, res.Mode,
		), log)
	}
}

func (c *Coordinator) alert(ctx context.Context, event, title, message string, log *slog.Logger) {
	if c.alerter == nil {
		return
	}
	if err := c.alerter.Notify(ctx, event, title, message); err != nil {
		log.Warn("alert delivery failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func resultErr(res domain.ExecutionResult) error {
	switch res.State {
	case domain.ExecDone:
		return nil
	case domain.ExecPartialFailure:
		return fmt.Errorf("executor: intent %s: leg B %s: %w", res.IntentID, res.LegB.Error, domain.ErrPartialFailure)
	default:
		reason := res.LegA.Error
		if reason == "" {
			reason = res.LegB.Error
		}
		return fmt.Errorf("executor: intent %s: %s: %w", res.IntentID, reason, domain.ErrSubmissionFailed)
	}
}
