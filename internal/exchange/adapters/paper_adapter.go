package adapters

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ducminhle1904/crypto-risk-core/internal/exchange"
	"github.com/ducminhle1904/crypto-risk-core/internal/logger"
	"github.com/ducminhle1904/crypto-risk-core/internal/risk"
	"github.com/ducminhle1904/crypto-risk-core/pkg/types"
)

// PaperOp names a paper venue operation for failure injection
type PaperOp string

const (
	PaperOpOpen       PaperOp = "open"
	PaperOpClose      PaperOp = "close"
	PaperOpStopLoss   PaperOp = "stop_loss"
	PaperOpTakeProfit PaperOp = "take_profit"
	PaperOpQuery      PaperOp = "query"
)

type paperPosition struct {
	exchange.Position
	stopLossID   string
	takeProfitID string
}

// PaperAdapter is an in-memory venue for dry runs. Prices come from SetMark;
// resting SL/TP orders fill when a mark crosses them. In spot mode it models
// a venue without leverage.
type PaperAdapter struct {
	mu        sync.Mutex
	name      string
	caps      types.VenueCapabilities
	cash      float64
	feePct    float64
	marks     map[string]float64
	positions map[string]*paperPosition
	failures  map[PaperOp]int
	seq       int
	log       *logger.Logger
}

// NewPaperAdapter creates a paper venue
func NewPaperAdapter(name string, config exchange.PaperConfig, log *logger.Logger) *PaperAdapter {
	if name == "" {
		name = exchange.VenuePaper
	}
	if config.StartingEquity <= 0 {
		config.StartingEquity = 10000
	}
	if log == nil {
		log = logger.Nop()
	}
	caps := types.VenueCapabilities{Name: name, SupportsLeverage: true, DefaultMaxLeverage: 50}
	if config.Spot {
		caps = types.SpotVenue(name)
	}
	return &PaperAdapter{
		name:      name,
		caps:      caps,
		cash:      config.StartingEquity,
		feePct:    config.FeePct,
		marks:     make(map[string]float64),
		positions: make(map[string]*paperPosition),
		failures:  make(map[PaperOp]int),
		log:       log.With(name),
	}
}

// Name returns the venue name
func (p *PaperAdapter) Name() string { return p.name }

// Capabilities describes the venue's leverage support
func (p *PaperAdapter) Capabilities() types.VenueCapabilities { return p.caps }

// FailNext makes the next n calls of op fail as connection errors
func (p *PaperAdapter) FailNext(op PaperOp, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[op] = n
}

// SetMark updates a symbol's price and fills any crossed SL/TP
func (p *PaperAdapter) SetMark(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if price <= 0 {
		return
	}
	p.marks[symbol] = price

	pos, ok := p.positions[symbol]
	if !ok {
		return
	}
	pos.MarkPrice = price
	sl, tp := 0.0, 0.0
	if pos.stopLossID != "" {
		sl = pos.StopLossPrice
	}
	if pos.takeProfitID != "" {
		tp = pos.TakeProfitPrice
	}
	if hit, reason := risk.ShouldClose(price, pos.EntryPrice, pos.Direction, sl, tp); hit {
		pnl := p.closeLocked(symbol, price)
		p.log.Trade("%s %s filled, pnl=%.2f", symbol, reason, pnl)
	}
}

// OpenPosition fills at the current mark, charging the fee on notional
func (p *PaperAdapter) OpenPosition(_ context.Context, req exchange.OpenRequest) (*exchange.OpenResult, error) {
	if err := validateOpen(req); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.injected(PaperOpOpen); err != nil {
		return failedOpen(req.Symbol, err), nil
	}
	if !p.caps.SupportsLeverage && req.Leverage > 1 {
		return failedOpen(req.Symbol, &exchange.ExchangeError{Code: "LEVERAGE_UNSUPPORTED", Message: p.name + " does not support leverage"}), nil
	}
	if _, exists := p.positions[req.Symbol]; exists {
		return failedOpen(req.Symbol, &exchange.ExchangeError{Code: "POSITION_EXISTS", Message: "position already open for " + req.Symbol}), nil
	}
	mark, ok := p.marks[req.Symbol]
	if !ok {
		return failedOpen(req.Symbol, exchange.ErrInvalidSymbol.WithDetails("no mark price for "+req.Symbol)), nil
	}

	notional := exchange.TargetNotional(p.equityLocked(), req.PositionSizePct, req.Leverage).InexactFloat64()
	fee := notional * p.feePct / 100
	if fee >= p.cash {
		return failedOpen(req.Symbol, exchange.ErrInsufficientBalance), nil
	}
	p.cash -= fee

	qty := notional / mark
	p.positions[req.Symbol] = &paperPosition{Position: exchange.Position{
		Symbol:     req.Symbol,
		Direction:  req.Direction,
		EntryPrice: mark,
		MarkPrice:  mark,
		Quantity:   qty,
		Leverage:   req.Leverage,
	}}
	p.log.Trade("OPEN %s %s qty=%.6f lev=%dx @ %.4f", req.Symbol, req.Direction, qty, req.Leverage, mark)

	return &exchange.OpenResult{
		Success:    true,
		Symbol:     req.Symbol,
		OrderID:    p.nextID("open"),
		EntryPrice: mark,
		Quantity:   qty,
		Leverage:   req.Leverage,
	}, nil
}

// ClosePosition fills at the current mark
func (p *PaperAdapter) ClosePosition(_ context.Context, symbol string) (*exchange.CloseResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.injected(PaperOpClose); err != nil {
		return failedClose(symbol, err), nil
	}
	pos, ok := p.positions[symbol]
	if !ok {
		return failedClose(symbol, exchange.ErrNoPosition.WithDetails(symbol)), nil
	}
	exit := pos.MarkPrice
	qty := pos.Quantity
	pnl := p.closeLocked(symbol, exit)
	p.log.Trade("CLOSE %s qty=%.6f @ %.4f pnl=%.2f", symbol, qty, exit, pnl)

	return &exchange.CloseResult{
		Success:     true,
		Symbol:      symbol,
		OrderID:     p.nextID("close"),
		ExitPrice:   exit,
		Quantity:    qty,
		RealizedPnL: pnl,
	}, nil
}

// GetPosition returns the open position for a symbol, nil when flat
func (p *PaperAdapter) GetPosition(_ context.Context, symbol string) (*exchange.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.injected(PaperOpQuery); err != nil {
		return nil, err
	}
	pos, ok := p.positions[symbol]
	if !ok {
		return nil, nil
	}
	cp := p.snapshot(pos)
	return &cp, nil
}

// HasOpenPosition reports whether the symbol is open
func (p *PaperAdapter) HasOpenPosition(ctx context.Context, symbol string) (bool, error) {
	pos, err := p.GetPosition(ctx, symbol)
	return pos != nil, err
}

// GetTotalExposure sums notional at mark over equity
func (p *PaperAdapter) GetTotalExposure(_ context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.injected(PaperOpQuery); err != nil {
		return 0, err
	}
	notional := 0.0
	for _, pos := range p.positions {
		notional += pos.Notional()
	}
	return exposurePct(notional, p.equityLocked()), nil
}

// GetEquity is cash plus unrealized P&L
func (p *PaperAdapter) GetEquity(_ context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.injected(PaperOpQuery); err != nil {
		return 0, err
	}
	return p.equityLocked(), nil
}

// PlaceStopLoss rests a stop loss on the position
func (p *PaperAdapter) PlaceStopLoss(_ context.Context, symbol string, price float64) (string, error) {
	return p.rest(PaperOpStopLoss, symbol, price)
}

// PlaceTakeProfit rests a take profit on the position
func (p *PaperAdapter) PlaceTakeProfit(_ context.Context, symbol string, price float64) (string, error) {
	return p.rest(PaperOpTakeProfit, symbol, price)
}

// Positions lists open positions ordered by symbol
func (p *PaperAdapter) Positions() []exchange.Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]exchange.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, p.snapshot(pos))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (p *PaperAdapter) rest(op PaperOp, symbol string, price float64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.injected(op); err != nil {
		return "", err
	}
	pos, ok := p.positions[symbol]
	if !ok {
		return "", exchange.ErrNoPosition.WithDetails(symbol)
	}
	if price <= 0 {
		return "", &exchange.ExchangeError{Code: "INVALID_PRICE", Message: fmt.Sprintf("trigger price must be positive, got: %v", price)}
	}
	id := p.nextID(string(op))
	if op == PaperOpStopLoss {
		pos.StopLossPrice = price
		pos.stopLossID = id
	} else {
		pos.TakeProfitPrice = price
		pos.takeProfitID = id
	}
	return id, nil
}

// closeLocked realizes P&L net of the exit fee and removes the position
func (p *PaperAdapter) closeLocked(symbol string, exit float64) float64 {
	pos := p.positions[symbol]
	pnl := (exit - pos.EntryPrice) * pos.Quantity * pos.Direction.Sign()
	fee := exit * pos.Quantity * p.feePct / 100
	p.cash += pnl - fee
	delete(p.positions, symbol)
	return pnl
}

func (p *PaperAdapter) snapshot(pos *paperPosition) exchange.Position {
	cp := pos.Position
	cp.UnrealizedPnL = (cp.MarkPrice - cp.EntryPrice) * cp.Quantity * cp.Direction.Sign()
	return cp
}

func (p *PaperAdapter) equityLocked() float64 {
	equity := p.cash
	for _, pos := range p.positions {
		equity += (pos.MarkPrice - pos.EntryPrice) * pos.Quantity * pos.Direction.Sign()
	}
	return equity
}

func (p *PaperAdapter) injected(op PaperOp) error {
	if p.failures[op] <= 0 {
		return nil
	}
	p.failures[op]--
	return exchange.ErrConnectionFailed.WithDetails(fmt.Sprintf("%s: injected %s failure", p.name, op))
}

func (p *PaperAdapter) nextID(kind string) string {
	p.seq++
	return fmt.Sprintf("%s-%s-%d", p.name, kind, p.seq)
}
