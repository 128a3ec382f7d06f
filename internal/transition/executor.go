package transition

import (
	"context"
	"fmt"

	"github.com/ducminhle1904/crypto-risk-core/internal/exchange"
	"github.com/ducminhle1904/crypto-risk-core/internal/monitoring"
	"github.com/ducminhle1904/crypto-risk-core/internal/risk"
	"github.com/ducminhle1904/crypto-risk-core/pkg/types"
)

// loadViews reads the live state of every open transition position. Positions
// the venue no longer holds are reconciled as closed. Positions whose venue
// read fails are left out of this tick.
func (m *Manager) loadViews(ctx context.Context, t *Transition, adapter exchange.ExecutionAdapter) ([]*positionView, int, error) {
	records, err := m.ledger.TransitionPositions(ctx, t.ID)
	if err != nil {
		return nil, 0, fmt.Errorf("load transition positions: %w", err)
	}

	var views []*positionView
	open := 0
	for _, rec := range records {
		if !rec.IsOpen() {
			continue
		}
		live, err := adapter.GetPosition(ctx, rec.Symbol)
		if err != nil {
			open++
			m.record(ctx, t, "read_failed", "could not read %s on %s: %v", rec.Symbol, t.FromExchange, err)
			continue
		}
		if live == nil {
			m.reconcileClosed(ctx, t, rec)
			continue
		}
		open++
		views = append(views, newPositionView(rec, live))
	}
	return views, open, nil
}

// reconcileClosed marks a position the venue already closed, e.g. stopped out
func (m *Manager) reconcileClosed(ctx context.Context, t *Transition, rec *types.PositionRecord) {
	rec.MarkClosed(m.now().UTC(), 0, 0, 0, "closed on venue")
	t.PositionsClosed++
	m.savePosition(ctx, rec)
	m.record(ctx, t, "reconciled", "%s no longer open on %s, marked closed", rec.Symbol, t.FromExchange)
}

// closeView closes one position; it reports false on failure
func (m *Manager) closeView(ctx context.Context, t *Transition, adapter exchange.ExecutionAdapter, v *positionView) bool {
	rec := v.record
	res, err := adapter.ClosePosition(ctx, rec.Symbol)
	if err != nil || res == nil || !res.Success {
		reason := "unknown error"
		if err != nil {
			reason = err.Error()
		} else if res != nil && res.Error != "" {
			reason = res.Error
		}
		if t.CloseFailures == nil {
			t.CloseFailures = make(map[string]int)
		}
		t.CloseFailures[rec.ID]++
		monitoring.RecordOrder(adapter.Name(), "transition_close", false)
		m.record(ctx, t, "close_failed", "close %s failed (%d/%d): %s", rec.Symbol, t.CloseFailures[rec.ID], m.config.MaxCloseFailures, reason)
		return false
	}

	pnlPct := risk.UnrealizedPnLPct(rec.EntryPrice, res.ExitPrice, rec.Direction, rec.Leverage)
	rec.MarkClosed(m.now().UTC(), res.ExitPrice, res.RealizedPnL, pnlPct, "transition "+t.ID)
	m.savePosition(ctx, rec)

	t.PositionsClosed++
	t.TotalPnL += res.RealizedPnL
	delete(t.CloseFailures, rec.ID)
	monitoring.RecordOrder(adapter.Name(), "transition_close", true)
	m.log.Trade("TRANSITION CLOSE %s %s @ %.4f pnl=%.2f (%.2f%%)", rec.Symbol, rec.Direction, res.ExitPrice, res.RealizedPnL, pnlPct)
	m.record(ctx, t, "position_closed", "closed %s @ %.4f, pnl %.2f (%.2f%%)", rec.Symbol, res.ExitPrice, res.RealizedPnL, pnlPct)
	return true
}

// tightenView moves a losing position's stop toward the mark without closing it
func (m *Manager) tightenView(ctx context.Context, t *Transition, adapter exchange.ExecutionAdapter, v *positionView) {
	rec := v.record
	sl := rec.StopLossPrice
	if sl <= 0 {
		sl = v.live.StopLossPrice
	}
	if sl <= 0 || v.live.MarkPrice <= 0 {
		m.record(ctx, t, "tighten_skipped", "%s has no stop loss to tighten", rec.Symbol)
		return
	}

	next := TightenedStopLoss(rec.Direction, sl, v.live.MarkPrice, m.config.SLTightenPct)
	if next == sl {
		m.record(ctx, t, "tighten_skipped", "%s stop %.4f is not behind mark %.4f", rec.Symbol, sl, v.live.MarkPrice)
		return
	}
	id, err := adapter.PlaceStopLoss(ctx, rec.Symbol, next)
	if err != nil {
		m.record(ctx, t, "tighten_failed", "tighten %s stop %.4f -> %.4f failed: %v", rec.Symbol, sl, next, err)
		return
	}
	rec.StopLossPrice = next
	rec.StopLossOrderID = id
	m.savePosition(ctx, rec)
	m.record(ctx, t, "stop_tightened", "%s stop %.4f -> %.4f (mark %.4f, P&L %.2f%%)", rec.Symbol, sl, next, v.live.MarkPrice, v.pnlPct)
}

func (m *Manager) savePosition(ctx context.Context, rec *types.PositionRecord) {
	if err := m.ledger.SavePosition(ctx, rec); err != nil {
		m.log.LogError("save position "+rec.ID, err)
	}
}
