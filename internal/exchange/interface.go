package exchange

import (
	"context"

	"github.com/ducminhle1904/crypto-risk-core/pkg/types"
)

// ExecutionAdapter is the venue surface the risk core executes through.
// Venue retries happen inside the adapter; exhausted retries come back as a
// result with Success=false rather than as an error.
type ExecutionAdapter interface {
	Name() string
	Capabilities() types.VenueCapabilities

	OpenPosition(ctx context.Context, req OpenRequest) (*OpenResult, error)
	ClosePosition(ctx context.Context, symbol string) (*CloseResult, error)

	// GetPosition returns nil with no error when the symbol is flat
	GetPosition(ctx context.Context, symbol string) (*Position, error)
	HasOpenPosition(ctx context.Context, symbol string) (bool, error)
	// GetTotalExposure is the sum of position notional as a percent of equity
	GetTotalExposure(ctx context.Context) (float64, error)
	GetEquity(ctx context.Context) (float64, error)

	PlaceStopLoss(ctx context.Context, symbol string, price float64) (string, error)
	PlaceTakeProfit(ctx context.Context, symbol string, price float64) (string, error)
}

// OpenRequest is a sanitized OPEN decision translated for a venue
type OpenRequest struct {
	Symbol          string          `json:"symbol"`
	Direction       types.Direction `json:"direction"`
	Leverage        int             `json:"leverage"`
	PositionSizePct float64         `json:"position_size_pct"`
}

// OpenResult reports the fill of an OPEN
type OpenResult struct {
	Success    bool    `json:"success"`
	Symbol     string  `json:"symbol"`
	OrderID    string  `json:"order_id,omitempty"`
	EntryPrice float64 `json:"entry_price"`
	Quantity   float64 `json:"quantity"`
	Leverage   int     `json:"leverage"`
	Error      string  `json:"error,omitempty"`
}

// CloseResult reports the fill of a CLOSE
type CloseResult struct {
	Success     bool    `json:"success"`
	Symbol      string  `json:"symbol"`
	OrderID     string  `json:"order_id,omitempty"`
	ExitPrice   float64 `json:"exit_price"`
	Quantity    float64 `json:"quantity"`
	RealizedPnL float64 `json:"realized_pnl"`
	Error       string  `json:"error,omitempty"`
}

// Position is a live venue position
type Position struct {
	Symbol          string          `json:"symbol"`
	Direction       types.Direction `json:"direction"`
	EntryPrice      float64         `json:"entry_price"`
	MarkPrice       float64         `json:"mark_price"`
	Quantity        float64         `json:"quantity"`
	Leverage        int             `json:"leverage"`
	UnrealizedPnL   float64         `json:"unrealized_pnl"`
	StopLossPrice   float64         `json:"stop_loss_price,omitempty"`
	TakeProfitPrice float64         `json:"take_profit_price,omitempty"`
}

// Notional is the position value at the mark price
func (p Position) Notional() float64 {
	return p.Quantity * p.MarkPrice
}

// UnrealizedPnLPct is the return on margin in percent
func (p Position) UnrealizedPnLPct() float64 {
	if p.EntryPrice <= 0 || p.MarkPrice <= 0 {
		return 0
	}
	leverage := float64(p.Leverage)
	if leverage < 1 {
		leverage = 1
	}
	return (p.MarkPrice - p.EntryPrice) / p.EntryPrice * 100 * p.Direction.Sign() * leverage
}

// OrderSide is the venue-neutral order side
type OrderSide string

const (
	OrderSideBuy  OrderSide = "Buy"
	OrderSideSell OrderSide = "Sell"
)

// EntrySide is the order side that opens a position in the given direction
func EntrySide(d types.Direction) OrderSide {
	if d == types.DirectionShort {
		return OrderSideSell
	}
	return OrderSideBuy
}

// ExitSide is the order side that reduces a position in the given direction
func ExitSide(d types.Direction) OrderSide {
	if d == types.DirectionShort {
		return OrderSideBuy
	}
	return OrderSideSell
}

// MarkFeeder is implemented by simulated venues that take prices from the caller
type MarkFeeder interface {
	SetMark(symbol string, price float64)
}
