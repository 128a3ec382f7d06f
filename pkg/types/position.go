package types

import "time"

// PositionStatus is the lifecycle of a ledger position
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// PositionRecord is the ledger row for a position opened through the core
type PositionRecord struct {
	ID                string         `json:"id"`
	Venue             string         `json:"venue"`
	Symbol            string         `json:"symbol"`
	Direction         Direction      `json:"direction"`
	EntryPrice        float64        `json:"entry_price"`
	Quantity          float64        `json:"quantity"`
	Leverage          int            `json:"leverage"`
	PositionSizePct   float64        `json:"position_size_pct"`
	StopLossPct       float64        `json:"stop_loss_pct"`
	TakeProfitPct     float64        `json:"take_profit_pct"`
	StopLossPrice     float64        `json:"stop_loss_price"`
	TakeProfitPrice   float64        `json:"take_profit_price"`
	StopLossOrderID   string         `json:"stop_loss_order_id,omitempty"`
	TakeProfitOrderID string         `json:"take_profit_order_id,omitempty"`
	Status            PositionStatus `json:"status"`
	InTransition      bool           `json:"in_transition"`
	TransitionID      string         `json:"transition_id,omitempty"`
	OpenedAt          time.Time      `json:"opened_at"`
	ClosedAt          time.Time      `json:"closed_at,omitempty"`
	ExitPrice         float64        `json:"exit_price,omitempty"`
	RealizedPnL       float64        `json:"realized_pnl"`
	RealizedPnLPct    float64        `json:"realized_pnl_pct"`
	CloseReason       string         `json:"close_reason,omitempty"`
}

// IsOpen reports whether the ledger still considers the position open
func (p *PositionRecord) IsOpen() bool {
	return p.Status == PositionOpen
}

// HasStopLoss reports whether an SL order is already attached
func (p *PositionRecord) HasStopLoss() bool {
	return p.StopLossOrderID != ""
}

// HasTakeProfit reports whether a TP order is already attached
func (p *PositionRecord) HasTakeProfit() bool {
	return p.TakeProfitOrderID != ""
}

// MarkClosed records the exit on the ledger row
func (p *PositionRecord) MarkClosed(at time.Time, exitPrice, pnl, pnlPct float64, reason string) {
	p.Status = PositionClosed
	p.ClosedAt = at
	p.ExitPrice = exitPrice
	p.RealizedPnL = pnl
	p.RealizedPnLPct = pnlPct
	p.CloseReason = reason
	p.InTransition = false
}
