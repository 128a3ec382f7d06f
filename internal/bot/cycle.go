package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/ducminhle1904/crypto-risk-core/internal/errors"
	"github.com/ducminhle1904/crypto-risk-core/internal/exchange"
	"github.com/ducminhle1904/crypto-risk-core/internal/monitoring"
	"github.com/ducminhle1904/crypto-risk-core/internal/notifications"
	"github.com/ducminhle1904/crypto-risk-core/internal/risk"
	"github.com/ducminhle1904/crypto-risk-core/internal/safety"
	"github.com/ducminhle1904/crypto-risk-core/internal/transition"
	"github.com/ducminhle1904/crypto-risk-core/pkg/types"
)

// CycleReport summarizes one cycle
type CycleReport struct {
	CycleID    string
	Venue      string
	StartedAt  time.Time
	Equity     float64
	Drawdown   risk.DrawdownStatus
	Decisions  []*types.DecisionRecord
	Transition *transition.Transition
	Errors     []string
	// Failures holds Errors categorized, in the same order
	Failures []*apperrors.BotError
}

// addError records a cycle error; the last error argument, when present, is
// used to categorize it
func (r *CycleReport) addError(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	r.Errors = append(r.Errors, msg)

	var cause error
	for _, arg := range args {
		if err, ok := arg.(error); ok {
			cause = err
		}
	}
	if cause == nil {
		cause = errors.New(msg)
	}
	operation := strings.TrimSpace(strings.SplitN(msg, ":", 2)[0])
	r.Failures = append(r.Failures, apperrors.CategorizeError(cause, "cycle", operation))
}

// Executed counts the decisions that reached the venue
func (r *CycleReport) Executed() int {
	n := 0
	for _, d := range r.Decisions {
		if d.Executed {
			n++
		}
	}
	return n
}

func newID() string { return uuid.NewString() }

// RunCycle runs the pipeline once: equity and drawdown, venue transition,
// ledger upkeep, then every proposal in order. Proposals never fail the cycle; each one is
// recorded with its outcome.
func (b *Bot) RunCycle(ctx context.Context) (*CycleReport, error) {
	venue := b.config.Venue
	report := &CycleReport{CycleID: b.newID(), Venue: venue, StartedAt: b.now().UTC()}

	adapter, err := b.venues.Get(venue)
	if err != nil {
		b.recordHealth(venue, false)
		return report, fmt.Errorf("resolve venue %s: %w", venue, err)
	}

	input, err := b.source.Next(ctx)
	if err != nil {
		report.addError("decision source: %v", err)
		input = &CycleInput{}
	}
	b.feedMarks(input.Marks)

	connected := b.observeEquity(ctx, adapter, report)
	b.advanceTransition(ctx, report)
	b.maintainPositions(ctx, adapter, report)
	b.maintainReleased(ctx, report)

	for _, p := range input.Proposals {
		report.Decisions = append(report.Decisions, b.process(ctx, report, adapter, p))
	}

	if exposure, err := adapter.GetTotalExposure(ctx); err == nil {
		monitoring.UpdateExposure(venue, exposure)
	}
	b.recordHealth(venue, connected)
	b.recordFailures(report)

	b.log.Status("Cycle %s on %s: %d proposal(s), %d executed, equity %.2f, daily DD %.2f%%, %d error(s)",
		shortID(report.CycleID), venue, len(report.Decisions), report.Executed(), report.Equity,
		report.Drawdown.DailyDrawdownPct, len(report.Errors))
	return report, nil
}

func (b *Bot) recordHealth(venue string, connected bool) {
	if b.health == nil {
		return
	}
	ok, _ := b.drawdown.CheckCanTrade()
	b.health.RecordCycle(venue, connected, !ok)
}

// recordFailures counts the cycle's errors by category and escalates the
// ones no later cycle can recover from
func (b *Bot) recordFailures(report *CycleReport) {
	var stop []string
	for i, failure := range report.Failures {
		b.errorStats.RecordError(failure)
		monitoring.RecordError(string(failure.Category))
		if b.health != nil {
			b.health.RecordError(fmt.Sprintf("[%s] %s", failure.Category, report.Errors[i]))
		}
		if failure.GetRecoveryAction() == apperrors.RecoveryActionStop {
			stop = append(stop, report.Errors[i])
		}
	}
	if len(stop) > 0 {
		b.alert(notifications.LevelCritical, "Cycle %s on %s hit errors that need an operator: %s",
			shortID(report.CycleID), report.Venue, strings.Join(stop, "; "))
	}
}

// feedMarks pushes source prices into every simulated venue
func (b *Bot) feedMarks(marks map[string]float64) {
	if len(marks) == 0 {
		return
	}
	names := append(b.venues.Names(), b.config.Venue)
	seen := make(map[string]bool)
	for _, name := range names {
		key := exchange.NormalizeVenue(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		adapter, err := b.venues.Get(name)
		if err != nil {
			continue
		}
		feeder, ok := adapter.(exchange.MarkFeeder)
		if !ok {
			continue
		}
		for symbol, price := range marks {
			feeder.SetMark(symbol, price)
		}
	}
}

// observeEquity feeds the venue equity to the drawdown manager; it reports
// whether the venue answered
func (b *Bot) observeEquity(ctx context.Context, adapter exchange.ExecutionAdapter, report *CycleReport) bool {
	equity, err := adapter.GetEquity(ctx)
	if err != nil {
		report.addError("read equity on %s: %v", adapter.Name(), err)
		report.Drawdown = risk.DrawdownStatus{TradingHalted: b.halted()}
		return false
	}
	report.Equity = equity

	status, err := b.drawdown.UpdateEquity(ctx, equity)
	if err != nil {
		report.addError("drawdown update: %v", err)
	}
	report.Drawdown = status
	monitoring.UpdateDrawdown(status.DailyDrawdownPct, status.WeeklyDrawdownPct, status.TradingHalted)
	if status.NewlyHalted {
		b.alert(notifications.LevelCritical, "TRADING HALTED on %s: %s. New positions are blocked until the next UTC day.", adapter.Name(), status.HaltReason)
	}
	return true
}

func (b *Bot) halted() bool {
	ok, _ := b.drawdown.CheckCanTrade()
	return !ok
}

// advanceTransition detects a venue change and ticks the active transition
func (b *Bot) advanceTransition(ctx context.Context, report *CycleReport) {
	if b.transitions == nil {
		return
	}
	created, err := b.transitions.DetectVenueChange(ctx, b.config.Venue, b.config.TransitionStrategy)
	switch {
	case errors.Is(err, transition.ErrTransitionActive):
		b.log.Warning("Venue change pending: %v", err)
	case err != nil:
		report.addError("detect venue change: %v", err)
	case created != nil:
		b.log.Info("Transition %s created: %s -> %s (%s)", shortID(created.ID), created.FromExchange, created.ToExchange, created.Strategy)
	}

	t, err := b.transitions.Tick(ctx)
	if err != nil {
		report.addError("transition tick: %v", err)
	}
	report.Transition = t
}

// maintainPositions closes ledger rows the venue no longer holds (a filled SL
// or TP) and re-protects open positions still missing an SL or TP. Rows owned
// by a transition are left to the transition manager.
func (b *Bot) maintainPositions(ctx context.Context, adapter exchange.ExecutionAdapter, report *CycleReport) {
	open, err := b.store.OpenPositions(ctx, adapter.Name())
	if err != nil {
		report.addError("list open positions on %s: %v", adapter.Name(), err)
		return
	}
	for _, pos := range open {
		if pos.InTransition {
			continue
		}
		live, err := adapter.GetPosition(ctx, pos.Symbol)
		if err != nil {
			report.addError("read position for %s: %v", pos.Symbol, err)
			continue
		}
		if live == nil {
			pos.MarkClosed(b.now().UTC(), 0, 0, 0, "closed on venue")
			if err := b.store.SavePosition(ctx, pos); err != nil {
				b.log.LogError("save position "+pos.ID, err)
			}
			b.log.Info("%s %s no longer open on %s, ledger row %s marked closed", pos.Symbol, pos.Direction, adapter.Name(), shortID(pos.ID))
			continue
		}
		if pos.HasStopLoss() && pos.HasTakeProfit() {
			continue
		}

		b.log.Warning("%s %s on %s is missing protective orders (SL %q, TP %q), placing them again",
			pos.Symbol, pos.Direction, adapter.Name(), pos.StopLossOrderID, pos.TakeProfitOrderID)
		protection := b.protector.Protect(ctx, adapter, pos)
		for _, e := range protection.Errors {
			report.addError("protect %s: %s", pos.Symbol, e)
		}
	}
}

// maintainReleased keeps up the positions cancelled or failed transitions
// left on their source venues
func (b *Bot) maintainReleased(ctx context.Context, report *CycleReport) {
	for _, adapter := range b.releasedAdapters(ctx, report) {
		b.maintainPositions(ctx, adapter, report)
	}
}

func (b *Bot) releasedAdapters(ctx context.Context, report *CycleReport) []exchange.ExecutionAdapter {
	if b.transitions == nil {
		return nil
	}
	venues, err := b.transitions.ReleasedVenues(ctx, b.config.Venue)
	if err != nil {
		report.addError("load released venues: %v", err)
		return nil
	}
	var out []exchange.ExecutionAdapter
	for _, venue := range venues {
		if exchange.NormalizeVenue(venue) == exchange.NormalizeVenue(b.config.Venue) {
			continue
		}
		adapter, err := b.venues.Get(venue)
		if err != nil {
			report.addError("resolve released venue %s: %v", venue, err)
			continue
		}
		out = append(out, adapter)
	}
	return out
}

// routeClose sends a CLOSE to the released venue holding the symbol when the
// configured venue has no ledger row for it
func (b *Bot) routeClose(ctx context.Context, report *CycleReport, adapter exchange.ExecutionAdapter, symbol string) exchange.ExecutionAdapter {
	if pos, err := b.store.OpenPosition(ctx, adapter.Name(), symbol); err != nil || pos != nil {
		return adapter
	}
	for _, released := range b.releasedAdapters(ctx, report) {
		pos, err := b.store.OpenPosition(ctx, released.Name(), symbol)
		if err != nil || pos == nil || pos.InTransition {
			continue
		}
		return released
	}
	return adapter
}

// process turns one proposal into a recorded, possibly executed, decision
func (b *Bot) process(ctx context.Context, report *CycleReport, adapter exchange.ExecutionAdapter, p types.ActionProposal) *types.DecisionRecord {
	if p.Action == types.ActionClose {
		adapter = b.routeClose(ctx, report, adapter, p.Symbol)
	}
	rec := &types.DecisionRecord{
		ID:        b.newID(),
		CycleID:   report.CycleID,
		Symbol:    p.Symbol,
		Venue:     adapter.Name(),
		Proposal:  p,
		CreatedAt: b.now().UTC(),
	}

	result := b.evaluate(ctx, report, adapter, p)
	rec.Decision = result.Decision
	rec.Accepted = result.Accepted
	rec.Reason = result.Reason
	monitoring.RecordDecision(p.Symbol, string(result.Decision.Kind), result.Accepted, result.Decision.Adjusted)

	switch {
	case result.Decision.IsOpen():
		b.executeOpen(ctx, adapter, rec)
	case result.Decision.IsClose():
		b.executeClose(ctx, adapter, rec)
	}

	outcome := "rejected"
	if rec.Accepted {
		outcome = string(rec.Decision.Kind)
	}
	if rec.Error != "" {
		outcome += " (failed)"
	}
	b.log.LogDecision(p.Symbol, string(p.Action), outcome, rec.Reason)

	if err := b.store.SaveDecision(ctx, rec); err != nil {
		b.log.LogError("save decision "+rec.ID, err)
		report.addError("save decision %s: %v", p.Symbol, err)
	}
	return rec
}

// evaluate gates, validates and adjusts a proposal. The open position and,
// for OPEN, the exposure are read fresh for every proposal.
func (b *Bot) evaluate(ctx context.Context, report *CycleReport, adapter exchange.ExecutionAdapter, p types.ActionProposal) safety.Result {
	if p.Action != types.ActionOpen && p.Action != types.ActionClose {
		return b.validator.Validate(p, 0, false)
	}

	hasOpen, err := adapter.HasOpenPosition(ctx, p.Symbol)
	if err != nil {
		report.addError("read position for %s: %v", p.Symbol, err)
		return safety.Reject(p, safety.RejectInvalidProposal, fmt.Sprintf("position state unavailable: %v", err))
	}
	if p.Action == types.ActionClose {
		return b.validator.Validate(p, 0, hasOpen)
	}

	if ok, reason := b.drawdown.CheckCanTrade(); !ok {
		return safety.Reject(p, safety.RejectDrawdownHalt, "trading halted: "+reason)
	}
	exposure, err := adapter.GetTotalExposure(ctx)
	if err != nil {
		report.addError("read exposure for %s: %v", p.Symbol, err)
		return safety.Reject(p, safety.RejectInvalidProposal, fmt.Sprintf("exposure unavailable: %v", err))
	}
	multiplier := 1.0
	equity := report.Equity
	if equity <= 0 {
		equity = b.drawdown.State().CurrentEquity
	}
	if equity > 0 {
		multiplier = b.drawdown.RiskMultiplier(equity)
	}

	result := b.validator.ValidateScaled(p, exposure, hasOpen, multiplier)
	if !result.Accepted || !result.Decision.IsOpen() {
		return result
	}

	adjusted := b.validator.AdjustForHighExposure(result.Decision, exposure)
	if safety.IsHighExposureRejection(result.Decision, adjusted) {
		return safety.Result{
			Decision:  adjusted,
			Reason:    adjusted.AdjustmentReason,
			Rejection: &safety.Rejection{Code: safety.RejectHighExposure, Message: adjusted.AdjustmentReason},
		}
	}
	result.Decision = adjusted
	if adjusted.Adjusted {
		result.Reason = "accepted with adjustments: " + adjusted.AdjustmentReason
	}
	return result
}

func (b *Bot) executeOpen(ctx context.Context, adapter exchange.ExecutionAdapter, rec *types.DecisionRecord) {
	order := rec.Decision.Open
	res, err := adapter.OpenPosition(ctx, exchange.OpenRequest{
		Symbol:          rec.Symbol,
		Direction:       order.Direction,
		Leverage:        order.Leverage,
		PositionSizePct: order.PositionSizePct,
	})
	if err == nil && res != nil && !res.Success {
		err = errors.New(res.Error)
	}
	if err != nil {
		rec.Error = fmt.Sprintf("open failed: %v", err)
		monitoring.RecordOrder(adapter.Name(), "open", false)
		b.log.Error("OPEN %s %s failed: %v", rec.Symbol, order.Direction, err)
		return
	}
	monitoring.RecordOrder(adapter.Name(), "open", true)
	rec.Executed = true

	leverage := res.Leverage
	if leverage < 1 {
		leverage = order.Leverage
	}
	pos := &types.PositionRecord{
		ID:              b.newID(),
		Venue:           adapter.Name(),
		Symbol:          rec.Symbol,
		Direction:       order.Direction,
		EntryPrice:      res.EntryPrice,
		Quantity:        res.Quantity,
		Leverage:        leverage,
		PositionSizePct: order.PositionSizePct,
		StopLossPct:     order.StopLossPct,
		TakeProfitPct:   order.TakeProfitPct,
		StopLossPrice:   risk.StopLossPrice(res.EntryPrice, order.Direction, order.StopLossPct),
		TakeProfitPrice: risk.TakeProfitPrice(res.EntryPrice, order.Direction, order.TakeProfitPct),
		Status:          types.PositionOpen,
		OpenedAt:        b.now().UTC(),
	}
	if err := b.store.SavePosition(ctx, pos); err != nil {
		b.log.LogError("save position "+pos.ID, err)
	}
	b.log.Trade("OPEN %s %s %dx qty=%.6f @ %.4f SL %.4f TP %.4f", pos.Symbol, pos.Direction, pos.Leverage,
		pos.Quantity, pos.EntryPrice, pos.StopLossPrice, pos.TakeProfitPrice)

	protection := b.protector.Protect(ctx, adapter, pos)
	switch {
	case protection.EmergencyClosed:
		rec.Error = "stop loss could not be placed, position closed: " + strings.Join(protection.Errors, "; ")
	case len(protection.Errors) > 0:
		rec.Error = strings.Join(protection.Errors, "; ")
	}
}

func (b *Bot) executeClose(ctx context.Context, adapter exchange.ExecutionAdapter, rec *types.DecisionRecord) {
	res, err := adapter.ClosePosition(ctx, rec.Symbol)
	if err == nil && res != nil && !res.Success {
		err = errors.New(res.Error)
	}
	if err != nil {
		rec.Error = fmt.Sprintf("close failed: %v", err)
		monitoring.RecordOrder(adapter.Name(), "close", false)
		b.log.Error("CLOSE %s failed: %v", rec.Symbol, err)
		return
	}
	monitoring.RecordOrder(adapter.Name(), "close", true)
	rec.Executed = true
	b.log.Trade("CLOSE %s @ %.4f pnl=%.2f", rec.Symbol, res.ExitPrice, res.RealizedPnL)

	pos, err := b.store.OpenPosition(ctx, adapter.Name(), rec.Symbol)
	if err != nil {
		b.log.LogError("load position "+rec.Symbol, err)
		return
	}
	if pos == nil {
		return
	}
	pnlPct := risk.UnrealizedPnLPct(pos.EntryPrice, res.ExitPrice, pos.Direction, pos.Leverage)
	pos.MarkClosed(b.now().UTC(), res.ExitPrice, res.RealizedPnL, pnlPct, "close decision")
	if err := b.store.SavePosition(ctx, pos); err != nil {
		b.log.LogError("save position "+pos.ID, err)
	}
}

func (b *Bot) alert(level, format string, args ...interface{}) {
	if err := b.notifier.SendAlert(level, fmt.Sprintf(format, args...)); err != nil {
		b.log.Warning("Failed to send %s alert: %v", level, err)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
