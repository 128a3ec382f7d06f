package adapters

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ducminhle1904/crypto-risk-core/internal/exchange"
	"github.com/ducminhle1904/crypto-risk-core/internal/exchange/bybit"
	"github.com/ducminhle1904/crypto-risk-core/internal/logger"
	"github.com/ducminhle1904/crypto-risk-core/pkg/types"
)

// bybitAPI is the part of bybit.Client the adapter uses
type bybitAPI interface {
	PlaceMarketOrder(ctx context.Context, params bybit.MarketOrderParams) (*bybit.Order, error)
	GetPositions(ctx context.Context, symbol string) ([]bybit.PositionInfo, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetTradingStop(ctx context.Context, symbol, takeProfit, stopLoss string) error
	GetTotalEquity(ctx context.Context) (float64, error)
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)
	LotRules(ctx context.Context, symbol string) (exchange.LotRules, error)
}

// BybitAdapter executes on Bybit USDT perpetuals in one-way mode
type BybitAdapter struct {
	client bybitAPI
	caller *venueCaller
	caps   types.VenueCapabilities
	log    *logger.Logger
}

// NewBybitAdapter creates a new Bybit adapter instance
func NewBybitAdapter(config exchange.ExchangeConfig, log *logger.Logger) (*BybitAdapter, error) {
	if config.Bybit == nil {
		return nil, &exchange.ExchangeError{Code: "MISSING_CONFIG", Message: "Bybit configuration is required"}
	}
	client := bybit.NewClient(bybit.Config{
		APIKey:    config.Bybit.APIKey,
		APISecret: config.Bybit.APISecret,
		Testnet:   config.Bybit.Testnet,
		Demo:      config.Bybit.Demo,
	})
	adapter := newBybitAdapter(client, config, log)
	adapter.log.Info("Bybit adapter ready (%s)", client.GetEnvironment())
	return adapter, nil
}

func newBybitAdapter(client bybitAPI, config exchange.ExchangeConfig, log *logger.Logger) *BybitAdapter {
	caller := newVenueCaller(exchange.VenueBybit, config, log)
	return &BybitAdapter{
		client: client,
		caller: caller,
		caps: types.VenueCapabilities{
			Name:               exchange.VenueBybit,
			SupportsLeverage:   true,
			DefaultMaxLeverage: 100,
		},
		log: caller.log,
	}
}

// Name returns the venue name
func (b *BybitAdapter) Name() string { return exchange.VenueBybit }

// Capabilities describes the venue's leverage support
func (b *BybitAdapter) Capabilities() types.VenueCapabilities { return b.caps }

// OpenPosition sets leverage, sizes the order from equity and fills at market
func (b *BybitAdapter) OpenPosition(ctx context.Context, req exchange.OpenRequest) (*exchange.OpenResult, error) {
	if err := validateOpen(req); err != nil {
		return nil, err
	}

	var (
		equity, mark float64
		rules        exchange.LotRules
	)
	err := b.caller.call(ctx, "prepare order", func(ctx context.Context) error {
		var err error
		if equity, err = b.client.GetTotalEquity(ctx); err != nil {
			return err
		}
		if mark, err = b.client.GetMarkPrice(ctx, req.Symbol); err != nil {
			return err
		}
		rules, err = b.client.LotRules(ctx, req.Symbol)
		return err
	})
	if err != nil {
		return failedOpen(req.Symbol, err), nil
	}

	qty, err := exchange.QuantityForNotional(exchange.TargetNotional(equity, req.PositionSizePct, req.Leverage), mark, rules)
	if err != nil {
		return failedOpen(req.Symbol, err), nil
	}

	if err := b.caller.call(ctx, "set leverage", func(ctx context.Context) error {
		return b.client.SetLeverage(ctx, req.Symbol, req.Leverage)
	}); err != nil {
		return failedOpen(req.Symbol, err), nil
	}

	// the link id is shared by every retry of this submit
	linkID := uuid.NewString()
	var order *bybit.Order
	if err := b.caller.call(ctx, "place order", func(ctx context.Context) error {
		var err error
		order, err = b.client.PlaceMarketOrder(ctx, bybit.MarketOrderParams{
			Symbol:      req.Symbol,
			Side:        bybit.OrderSide(exchange.EntrySide(req.Direction)),
			Qty:         exchange.FormatQty(qty),
			OrderLinkID: linkID,
		})
		return err
	}); err != nil {
		return failedOpen(req.Symbol, err), nil
	}

	result := &exchange.OpenResult{
		Success:    true,
		Symbol:     req.Symbol,
		OrderID:    order.OrderID,
		EntryPrice: mark,
		Quantity:   qty.InexactFloat64(),
		Leverage:   req.Leverage,
	}
	if pos, err := b.GetPosition(ctx, req.Symbol); err == nil && pos != nil {
		result.EntryPrice = pos.EntryPrice
		result.Quantity = pos.Quantity
	}
	b.log.Trade("OPEN %s %s qty=%s lev=%dx @ %.4f", req.Symbol, req.Direction, exchange.FormatQty(qty), req.Leverage, result.EntryPrice)
	return result, nil
}

// ClosePosition flattens the symbol with a reduce-only market order
func (b *BybitAdapter) ClosePosition(ctx context.Context, symbol string) (*exchange.CloseResult, error) {
	pos, err := b.GetPosition(ctx, symbol)
	if err != nil {
		return failedClose(symbol, err), nil
	}
	if pos == nil {
		return failedClose(symbol, exchange.ErrNoPosition.WithDetails(symbol)), nil
	}

	linkID := uuid.NewString()
	var order *bybit.Order
	if err := b.caller.call(ctx, "close position", func(ctx context.Context) error {
		var err error
		order, err = b.client.PlaceMarketOrder(ctx, bybit.MarketOrderParams{
			Symbol:      symbol,
			Side:        bybit.OrderSide(exchange.ExitSide(pos.Direction)),
			Qty:         exchange.FormatQty(decimal.NewFromFloat(pos.Quantity)),
			ReduceOnly:  true,
			OrderLinkID: linkID,
		})
		return err
	}); err != nil {
		return failedClose(symbol, err), nil
	}

	exit := pos.MarkPrice
	pnl := (exit - pos.EntryPrice) * pos.Quantity * pos.Direction.Sign()
	b.log.Trade("CLOSE %s %s qty=%v @ %.4f pnl=%.2f", symbol, pos.Direction, pos.Quantity, exit, pnl)
	return &exchange.CloseResult{
		Success:     true,
		Symbol:      symbol,
		OrderID:     order.OrderID,
		ExitPrice:   exit,
		Quantity:    pos.Quantity,
		RealizedPnL: pnl,
	}, nil
}

// GetPosition returns the open position for a symbol, nil when flat
func (b *BybitAdapter) GetPosition(ctx context.Context, symbol string) (*exchange.Position, error) {
	positions, err := b.positions(ctx, symbol)
	if err != nil {
		return nil, err
	}
	for i := range positions {
		if positions[i].Symbol == symbol {
			return &positions[i], nil
		}
	}
	return nil, nil
}

// HasOpenPosition reports whether the symbol has a non-zero position
func (b *BybitAdapter) HasOpenPosition(ctx context.Context, symbol string) (bool, error) {
	pos, err := b.GetPosition(ctx, symbol)
	return pos != nil, err
}

// GetTotalExposure sums position notional over account equity
func (b *BybitAdapter) GetTotalExposure(ctx context.Context) (float64, error) {
	positions, err := b.positions(ctx, "")
	if err != nil {
		return 0, err
	}
	equity, err := b.GetEquity(ctx)
	if err != nil {
		return 0, err
	}
	notional := 0.0
	for _, p := range positions {
		notional += p.Notional()
	}
	return exposurePct(notional, equity), nil
}

// GetEquity returns the unified account equity
func (b *BybitAdapter) GetEquity(ctx context.Context) (float64, error) {
	var equity float64
	err := b.caller.call(ctx, "get equity", func(ctx context.Context) error {
		var err error
		equity, err = b.client.GetTotalEquity(ctx)
		return err
	})
	return equity, err
}

// PlaceStopLoss attaches a position-level stop loss
func (b *BybitAdapter) PlaceStopLoss(ctx context.Context, symbol string, price float64) (string, error) {
	return b.tradingStop(ctx, symbol, "sl", 0, price)
}

// PlaceTakeProfit attaches a position-level take profit
func (b *BybitAdapter) PlaceTakeProfit(ctx context.Context, symbol string, price float64) (string, error) {
	return b.tradingStop(ctx, symbol, "tp", price, 0)
}

// tradingStop sets one side of the position TP/SL. Bybit returns no order
// id for these, so the id is a local reference.
func (b *BybitAdapter) tradingStop(ctx context.Context, symbol, kind string, tp, sl float64) (string, error) {
	var rules exchange.LotRules
	err := b.caller.call(ctx, "set "+kind, func(ctx context.Context) error {
		var err error
		if rules, err = b.client.LotRules(ctx, symbol); err != nil {
			return err
		}
		tpStr, slStr := "", ""
		if tp > 0 {
			tpStr = exchange.FormatPrice(tp, rules.TickSize)
		}
		if sl > 0 {
			slStr = exchange.FormatPrice(sl, rules.TickSize)
		}
		return b.client.SetTradingStop(ctx, symbol, tpStr, slStr)
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("bybit-%s-%s-%s", kind, strings.ToLower(symbol), uuid.NewString()[:8]), nil
}

func (b *BybitAdapter) positions(ctx context.Context, symbol string) ([]exchange.Position, error) {
	var raw []bybit.PositionInfo
	err := b.caller.call(ctx, "get positions", func(ctx context.Context) error {
		var err error
		raw, err = b.client.GetPositions(ctx, symbol)
		return err
	})
	if err != nil {
		return nil, err
	}

	positions := make([]exchange.Position, 0, len(raw))
	for _, p := range raw {
		direction := types.DirectionLong
		if p.Side == string(bybit.OrderSideSell) {
			direction = types.DirectionShort
		}
		positions = append(positions, exchange.Position{
			Symbol:          p.Symbol,
			Direction:       direction,
			EntryPrice:      p.AvgPrice,
			MarkPrice:       p.MarkPrice,
			Quantity:        p.Size,
			Leverage:        int(p.Leverage),
			UnrealizedPnL:   p.UnrealisedPnl,
			StopLossPrice:   p.StopLoss,
			TakeProfitPrice: p.TakeProfit,
		})
	}
	return positions, nil
}
