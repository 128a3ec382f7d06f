package transition

import (
	"fmt"
	"math"
	"time"

	"github.com/ducminhle1904/crypto-risk-core/internal/exchange"
	"github.com/ducminhle1904/crypto-risk-core/internal/risk"
	"github.com/ducminhle1904/crypto-risk-core/pkg/types"
)

// positionView pairs a ledger row with the venue's live view of it
type positionView struct {
	record *types.PositionRecord
	live   *exchange.Position
	pnlPct float64
}

func newPositionView(rec *types.PositionRecord, live *exchange.Position) *positionView {
	entry := live.EntryPrice
	if entry <= 0 {
		entry = rec.EntryPrice
	}
	leverage := rec.Leverage
	if leverage < 1 {
		leverage = live.Leverage
	}
	view := &positionView{record: rec, live: live}
	if live.MarkPrice > 0 {
		view.pnlPct = risk.UnrealizedPnLPct(entry, live.MarkPrice, rec.Direction, leverage)
	}
	return view
}

func (v *positionView) inProfit() bool { return v.pnlPct > 0 }

// PositionEvaluation summarizes the live positions of a transition
type PositionEvaluation struct {
	Positions     int
	InProfit      int
	InLoss        int
	AveragePnLPct float64
	views         []*positionView
}

func evaluatePositions(views []*positionView) PositionEvaluation {
	eval := PositionEvaluation{Positions: len(views), views: views}
	if len(views) == 0 {
		return eval
	}
	total := 0.0
	for _, v := range views {
		if v.inProfit() {
			eval.InProfit++
		} else {
			eval.InLoss++
		}
		total += v.pnlPct
	}
	eval.AveragePnLPct = total / float64(len(views))
	return eval
}

// AllInProfit reports whether every evaluated position is profitable
func (e PositionEvaluation) AllInProfit() bool {
	return e.Positions > 0 && e.InLoss == 0
}

// transitionPlan is what one tick does
type transitionPlan struct {
	close    []*positionView
	tighten  []*positionView
	escalate Strategy
	reason   string
	// cancel is set when an unapproved MANUAL transition expires
	cancel bool
	// warn is set when a MANUAL approval reminder is due
	warn bool
}

// planTick applies the transition's strategy to the current evaluation
func (m *Manager) planTick(t *Transition, eval PositionEvaluation, now time.Time) transitionPlan {
	switch t.EffectiveStrategy() {
	case StrategyImmediate:
		return transitionPlan{close: eval.views, reason: "immediate close"}

	case StrategyProfitable:
		plan := transitionPlan{reason: "close winners, tighten losers"}
		for _, v := range eval.views {
			if v.inProfit() {
				plan.close = append(plan.close, v)
			} else {
				plan.tighten = append(plan.tighten, v)
			}
		}
		return plan

	case StrategyWaitProfit:
		if eval.AllInProfit() {
			return transitionPlan{close: eval.views, reason: "all positions in profit"}
		}
		elapsed := t.Elapsed(now)
		if elapsed > m.config.Timeout && eval.Positions > 0 && eval.AveragePnLPct < m.config.EmergencyLossPct {
			return transitionPlan{
				close:    eval.views,
				escalate: StrategyImmediate,
				reason: fmt.Sprintf("waited %s, average P&L %.2f%% below emergency %.2f%%",
					elapsed.Round(time.Minute), eval.AveragePnLPct, m.config.EmergencyLossPct),
			}
		}
		return transitionPlan{reason: fmt.Sprintf("waiting: %d in profit, %d in loss", eval.InProfit, eval.InLoss)}

	case StrategyManual:
		if t.ManualOverrideApproved {
			return transitionPlan{close: eval.views, escalate: StrategyImmediate, reason: "manual override approved"}
		}
		elapsed := t.Elapsed(now)
		if elapsed > m.config.ManualCancelAfter {
			return transitionPlan{cancel: true, reason: fmt.Sprintf("manual approval not received within %s", m.config.ManualCancelAfter)}
		}
		if elapsed > m.config.ManualWarnAfter && (t.LastWarningAt == nil || now.Sub(*t.LastWarningAt) >= m.config.WarningInterval) {
			return transitionPlan{warn: true, reason: fmt.Sprintf("awaiting manual approval for %s, auto-cancel in %s",
				elapsed.Round(time.Minute), (m.config.ManualCancelAfter - elapsed).Round(time.Minute))}
		}
		return transitionPlan{reason: "awaiting manual approval"}
	}
	return transitionPlan{reason: "unknown strategy " + string(t.Strategy)}
}

// TightenedStopLoss moves sl pct percent of the way toward mark. It is applied
// on every tick, so the stop converges on the mark while the position is kept.
// A stop is never moved away from the mark; once the mark has crossed it, sl
// is returned unchanged.
func TightenedStopLoss(direction types.Direction, sl, mark, pct float64) float64 {
	pct = math.Max(0, math.Min(100, pct))
	if sl <= 0 || mark <= 0 {
		return sl
	}
	switch direction {
	case types.DirectionLong:
		if mark <= sl {
			return sl
		}
	case types.DirectionShort:
		if mark >= sl {
			return sl
		}
	default:
		return sl
	}
	return sl + pct/100*(mark-sl)
}
