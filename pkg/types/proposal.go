package types

import (
	"fmt"
	"strings"
)

// Action is the kind of trading action a decision source proposes
type Action string

const (
	ActionOpen  Action = "OPEN"
	ActionClose Action = "CLOSE"
	ActionHold  Action = "HOLD"
)

// ParseAction normalizes free-form action text
func ParseAction(s string) (Action, error) {
	switch Action(strings.ToUpper(strings.TrimSpace(s))) {
	case ActionOpen:
		return ActionOpen, nil
	case ActionClose:
		return ActionClose, nil
	case ActionHold, "":
		return ActionHold, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

// Direction is the side of a position
type Direction string

const (
	DirectionNone  Direction = ""
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Valid reports whether the direction names a tradable side
func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

// Sign returns +1 for long, -1 for short and 0 otherwise
func (d Direction) Sign() float64 {
	switch d {
	case DirectionLong:
		return 1
	case DirectionShort:
		return -1
	default:
		return 0
	}
}

// VolatilityContext carries the ATR readings a decision source observed
type VolatilityContext struct {
	CurrentATR float64 `json:"current_atr"`
	AverageATR float64 `json:"average_atr"`
	EntryPrice float64 `json:"entry_price"`
}

// ActionProposal is the immutable input produced by an external decision source.
// Zero numeric fields mean the value was not supplied and must be derived.
type ActionProposal struct {
	Symbol          string             `json:"symbol"`
	Action          Action             `json:"action"`
	Direction       Direction          `json:"direction,omitempty"`
	Leverage        float64            `json:"leverage,omitempty"`
	PositionSizePct float64            `json:"position_size_pct,omitempty"`
	StopLossPct     float64            `json:"stop_loss_pct,omitempty"`
	TakeProfitPct   float64            `json:"take_profit_pct,omitempty"`
	Confidence      float64            `json:"confidence"`
	Rationale       string             `json:"rationale,omitempty"`
	Volatility      *VolatilityContext `json:"volatility,omitempty"`
	UseATRStop      bool               `json:"use_atr_stop,omitempty"`
}
