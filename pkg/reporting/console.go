package reporting

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ducminhle1904/crypto-risk-core/internal/state"
	"github.com/ducminhle1904/crypto-risk-core/internal/transition"
)

const timeLayout = "2006-01-02 15:04"

// RenderStatus prints a snapshot as console tables
func RenderStatus(w io.Writer, snap *state.Snapshot) {
	renderOverview(w, snap)
	if snap.ActiveTransition != nil {
		renderTransition(w, snap.ActiveTransition)
	}
	renderPositions(w, snap)
	if len(snap.RecentDecisions) > 0 {
		renderDecisions(w, snap)
	}
}

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)
	return t
}

func renderOverview(w io.Writer, snap *state.Snapshot) {
	t := newTable(w, "RISK CORE STATUS")
	t.AppendRows([]table.Row{
		{"Venue", snap.Venue},
		{"Generated", snap.GeneratedAt.Format(timeLayout) + " UTC"},
		{"Open Positions", len(snap.OpenPositions)},
	})

	if dd := snap.Drawdown; dd != nil {
		halted := "no"
		if dd.TradingHalted {
			halted = "YES: " + dd.HaltReason
		}
		t.AppendSeparator()
		t.AppendRows([]table.Row{
			{"Trading Day", dd.Date},
			{"Equity", fmt.Sprintf("$%.2f", dd.CurrentEquity)},
			{"Daily Start", fmt.Sprintf("$%.2f", dd.DailyStartingEquity)},
			{"Daily Drawdown", fmt.Sprintf("%.2f%%", dd.DailyDrawdownPct())},
			{"Weekly Drawdown", fmt.Sprintf("%.2f%% (since %s)", dd.WeeklyDrawdownPct(), dd.WeekStart)},
			{"Trading Halted", halted},
		})
	} else {
		t.AppendRow(table.Row{"Drawdown", "no equity observed yet"})
	}

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, WidthMax: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 25, WidthMax: 60, Align: text.AlignLeft},
	})
	t.Render()
}

func renderTransition(w io.Writer, tr *transition.Transition) {
	t := newTable(w, "ACTIVE TRANSITION")
	strategy := string(tr.Strategy)
	if tr.EscalatedTo != "" {
		strategy += " -> " + string(tr.EscalatedTo)
	}
	t.AppendRows([]table.Row{
		{"ID", tr.ID},
		{"Route", tr.FromExchange + " -> " + tr.ToExchange},
		{"Strategy", strategy},
		{"Status", tr.Status},
		{"Started", tr.StartedAt.Format(timeLayout)},
		{"Progress", fmt.Sprintf("%d/%d closed, %d remaining", tr.PositionsClosed, tr.TotalPositions, tr.PositionsRemaining)},
		{"In Profit / Loss", fmt.Sprintf("%d / %d", tr.PositionsInProfit, tr.PositionsInLoss)},
		{"Realized P&L", fmt.Sprintf("$%.2f", tr.TotalPnL)},
	})
	if tr.Strategy == transition.StrategyManual {
		t.AppendRow(table.Row{"Approved", tr.ManualOverrideApproved})
	}
	for _, e := range tr.Log {
		t.AppendRow(table.Row{e.Timestamp.Format(timeLayout), e.Event + ": " + e.Message})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, WidthMax: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 25, WidthMax: 70, Align: text.AlignLeft},
	})
	t.Render()
}

func renderPositions(w io.Writer, snap *state.Snapshot) {
	t := newTable(w, "OPEN POSITIONS")
	t.AppendHeader(table.Row{"Venue", "Symbol", "Side", "Lev", "Qty", "Entry", "Stop Loss", "Take Profit", "Flags"})
	for _, p := range snap.OpenPositions {
		var flags []string
		if !p.HasStopLoss() {
			flags = append(flags, "NO SL")
		}
		if p.InTransition {
			flags = append(flags, "transition")
		}
		t.AppendRow(table.Row{
			p.Venue, p.Symbol, p.Direction, fmt.Sprintf("%dx", p.Leverage),
			fmt.Sprintf("%.6f", p.Quantity),
			fmt.Sprintf("%.4f", p.EntryPrice),
			fmt.Sprintf("%.4f", p.StopLossPrice),
			fmt.Sprintf("%.4f", p.TakeProfitPrice),
			strings.Join(flags, ", "),
		})
	}
	if len(snap.OpenPositions) == 0 {
		t.AppendRow(table.Row{"-", "flat"})
	}
	t.Render()
}

func renderDecisions(w io.Writer, snap *state.Snapshot) {
	t := newTable(w, "RECENT DECISIONS")
	t.AppendHeader(table.Row{"Time", "Symbol", "Proposed", "Decision", "Executed", "Reason"})
	for _, d := range snap.RecentDecisions {
		reason := d.Reason
		if d.Error != "" {
			reason += " [" + d.Error + "]"
		}
		t.AppendRow(table.Row{
			d.CreatedAt.Format(timeLayout), d.Symbol, d.Proposal.Action, d.Decision.Kind, d.Executed, reason,
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 6, WidthMax: 60},
	})
	t.Render()
}
