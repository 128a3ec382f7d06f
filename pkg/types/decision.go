package types

import "time"

// DecisionKind discriminates the Decision union
type DecisionKind string

const (
	KindHold  DecisionKind = "HOLD"
	KindOpen  DecisionKind = "OPEN"
	KindClose DecisionKind = "CLOSE"
)

// OpenOrder holds the fields that only exist for an OPEN decision
type OpenOrder struct {
	Direction       Direction `json:"direction"`
	Leverage        int       `json:"leverage"`
	PositionSizePct float64   `json:"position_size_pct"`
	StopLossPct     float64   `json:"stop_loss_pct"`
	TakeProfitPct   float64   `json:"take_profit_pct"`
}

// EffectiveExposurePct is size times leverage
func (o *OpenOrder) EffectiveExposurePct() float64 {
	return o.PositionSizePct * float64(o.Leverage)
}

// Decision is a sanitized proposal. Open is non-nil only when Kind is KindOpen.
type Decision struct {
	Symbol           string       `json:"symbol"`
	Kind             DecisionKind `json:"kind"`
	Open             *OpenOrder   `json:"open,omitempty"`
	Confidence       float64      `json:"confidence"`
	Rationale        string       `json:"rationale,omitempty"`
	Adjusted         bool         `json:"adjusted"`
	AdjustmentReason string       `json:"adjustment_reason,omitempty"`
}

// Hold builds a HOLD decision for the symbol
func Hold(symbol string, confidence float64, rationale string) Decision {
	return Decision{
		Symbol:     symbol,
		Kind:       KindHold,
		Confidence: confidence,
		Rationale:  rationale,
	}
}

// Close builds a CLOSE decision for the symbol
func Close(symbol string, confidence float64, rationale string) Decision {
	return Decision{
		Symbol:     symbol,
		Kind:       KindClose,
		Confidence: confidence,
		Rationale:  rationale,
	}
}

// IsHold reports whether the decision takes no action
func (d Decision) IsHold() bool { return d.Kind == KindHold }

// IsOpen reports whether the decision opens a position
func (d Decision) IsOpen() bool { return d.Kind == KindOpen && d.Open != nil }

// IsClose reports whether the decision closes a position
func (d Decision) IsClose() bool { return d.Kind == KindClose }

// Direction returns the open direction, or DirectionNone for HOLD/CLOSE
func (d Decision) Direction() Direction {
	if d.Open == nil {
		return DirectionNone
	}
	return d.Open.Direction
}

// AddAdjustment marks the decision adjusted and appends a reason
func (d *Decision) AddAdjustment(reason string) {
	d.Adjusted = true
	if d.AdjustmentReason == "" {
		d.AdjustmentReason = reason
		return
	}
	d.AdjustmentReason += "; " + reason
}

// DecisionRecord is the audit row persisted for every evaluated proposal
type DecisionRecord struct {
	ID        string         `json:"id"`
	CycleID   string         `json:"cycle_id"`
	Symbol    string         `json:"symbol"`
	Venue     string         `json:"venue"`
	Proposal  ActionProposal `json:"proposal"`
	Decision  Decision       `json:"decision"`
	Accepted  bool           `json:"accepted"`
	Reason    string         `json:"reason"`
	Executed  bool           `json:"executed"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
