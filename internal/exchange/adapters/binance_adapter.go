package adapters

import (
	"context"
	"math"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ducminhle1904/crypto-risk-core/internal/exchange"
	"github.com/ducminhle1904/crypto-risk-core/internal/logger"
	"github.com/ducminhle1904/crypto-risk-core/pkg/types"
)

// BinanceAdapter executes on Binance USDⓈ-M futures in one-way mode
type BinanceAdapter struct {
	client binanceAPI
	caller *venueCaller
	caps   types.VenueCapabilities
	log    *logger.Logger
}

// NewBinanceAdapter creates a new Binance adapter instance
func NewBinanceAdapter(config exchange.ExchangeConfig, log *logger.Logger) (*BinanceAdapter, error) {
	if config.Binance == nil {
		return nil, &exchange.ExchangeError{Code: "MISSING_CONFIG", Message: "Binance configuration is required"}
	}
	adapter := newBinanceAdapter(newBinanceFutures(config.Binance), config, log)
	env := "mainnet"
	if config.Binance.Testnet {
		env = "testnet"
	}
	adapter.log.Info("Binance adapter ready (%s)", env)
	return adapter, nil
}

func newBinanceAdapter(client binanceAPI, config exchange.ExchangeConfig, log *logger.Logger) *BinanceAdapter {
	caller := newVenueCaller(exchange.VenueBinance, config, log)
	return &BinanceAdapter{
		client: client,
		caller: caller,
		caps: types.VenueCapabilities{
			Name:               exchange.VenueBinance,
			SupportsLeverage:   true,
			DefaultMaxLeverage: 125,
		},
		log: caller.log,
	}
}

// Name returns the venue name
func (b *BinanceAdapter) Name() string { return exchange.VenueBinance }

// Capabilities describes the venue's leverage support
func (b *BinanceAdapter) Capabilities() types.VenueCapabilities { return b.caps }

func binanceSide(side exchange.OrderSide) futures.SideType {
	if side == exchange.OrderSideSell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

// OpenPosition sets leverage, sizes the order from equity and fills at market
func (b *BinanceAdapter) OpenPosition(ctx context.Context, req exchange.OpenRequest) (*exchange.OpenResult, error) {
	if err := validateOpen(req); err != nil {
		return nil, err
	}

	var (
		equity, mark float64
		rules        exchange.LotRules
	)
	err := b.caller.call(ctx, "prepare order", func(ctx context.Context) error {
		var err error
		if equity, err = b.client.AccountEquity(ctx); err != nil {
			return err
		}
		if mark, err = b.client.MarkPrice(ctx, req.Symbol); err != nil {
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

	if err := b.caller.call(ctx, "change leverage", func(ctx context.Context) error {
		return b.client.ChangeLeverage(ctx, req.Symbol, req.Leverage)
	}); err != nil {
		return failedOpen(req.Symbol, err), nil
	}

	clientID := uuid.NewString()
	var orderID string
	if err := b.caller.call(ctx, "place order", func(ctx context.Context) error {
		var err error
		orderID, err = b.client.MarketOrder(ctx, req.Symbol, binanceSide(exchange.EntrySide(req.Direction)), exchange.FormatQty(qty), false, clientID)
		return err
	}); err != nil {
		return failedOpen(req.Symbol, err), nil
	}

	result := &exchange.OpenResult{
		Success:    true,
		Symbol:     req.Symbol,
		OrderID:    orderID,
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
func (b *BinanceAdapter) ClosePosition(ctx context.Context, symbol string) (*exchange.CloseResult, error) {
	pos, err := b.GetPosition(ctx, symbol)
	if err != nil {
		return failedClose(symbol, err), nil
	}
	if pos == nil {
		return failedClose(symbol, exchange.ErrNoPosition.WithDetails(symbol)), nil
	}

	clientID := uuid.NewString()
	var orderID string
	if err := b.caller.call(ctx, "close position", func(ctx context.Context) error {
		var err error
		orderID, err = b.client.MarketOrder(ctx, symbol, binanceSide(exchange.ExitSide(pos.Direction)),
			exchange.FormatQty(decimal.NewFromFloat(pos.Quantity)), true, clientID)
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
		OrderID:     orderID,
		ExitPrice:   exit,
		Quantity:    pos.Quantity,
		RealizedPnL: pnl,
	}, nil
}

// GetPosition returns the open position for a symbol, nil when flat
func (b *BinanceAdapter) GetPosition(ctx context.Context, symbol string) (*exchange.Position, error) {
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
func (b *BinanceAdapter) HasOpenPosition(ctx context.Context, symbol string) (bool, error) {
	pos, err := b.GetPosition(ctx, symbol)
	return pos != nil, err
}

// GetTotalExposure sums position notional over account equity
func (b *BinanceAdapter) GetTotalExposure(ctx context.Context) (float64, error) {
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

// GetEquity returns the futures margin balance
func (b *BinanceAdapter) GetEquity(ctx context.Context) (float64, error) {
	var equity float64
	err := b.caller.call(ctx, "get equity", func(ctx context.Context) error {
		var err error
		equity, err = b.client.AccountEquity(ctx)
		return err
	})
	return equity, err
}

// PlaceStopLoss places a close-position STOP_MARKET order
func (b *BinanceAdapter) PlaceStopLoss(ctx context.Context, symbol string, price float64) (string, error) {
	return b.trigger(ctx, symbol, futures.OrderTypeStopMarket, price)
}

// PlaceTakeProfit places a close-position TAKE_PROFIT_MARKET order
func (b *BinanceAdapter) PlaceTakeProfit(ctx context.Context, symbol string, price float64) (string, error) {
	return b.trigger(ctx, symbol, futures.OrderTypeTakeProfitMarket, price)
}

func (b *BinanceAdapter) trigger(ctx context.Context, symbol string, orderType futures.OrderType, price float64) (string, error) {
	pos, err := b.GetPosition(ctx, symbol)
	if err != nil {
		return "", err
	}
	if pos == nil {
		return "", exchange.ErrNoPosition.WithDetails(symbol)
	}

	var orderID string
	err = b.caller.call(ctx, "place "+string(orderType), func(ctx context.Context) error {
		rules, err := b.client.LotRules(ctx, symbol)
		if err != nil {
			return err
		}
		orderID, err = b.client.ClosePositionTrigger(ctx, symbol, binanceSide(exchange.ExitSide(pos.Direction)), orderType,
			exchange.FormatPrice(price, rules.TickSize))
		return err
	})
	return orderID, err
}

func (b *BinanceAdapter) positions(ctx context.Context, symbol string) ([]exchange.Position, error) {
	var raw []binancePosition
	err := b.caller.call(ctx, "get positions", func(ctx context.Context) error {
		var err error
		raw, err = b.client.Positions(ctx, symbol)
		return err
	})
	if err != nil {
		return nil, err
	}

	positions := make([]exchange.Position, 0, len(raw))
	for _, p := range raw {
		direction := types.DirectionLong
		if p.PositionAmt < 0 {
			direction = types.DirectionShort
		}
		positions = append(positions, exchange.Position{
			Symbol:        p.Symbol,
			Direction:     direction,
			EntryPrice:    p.EntryPrice,
			MarkPrice:     p.MarkPrice,
			Quantity:      math.Abs(p.PositionAmt),
			Leverage:      p.Leverage,
			UnrealizedPnL: p.UnrealizedProfit,
		})
	}
	return positions, nil
}
