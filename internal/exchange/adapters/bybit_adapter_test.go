package adapters

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-risk-core/internal/exchange"
	"github.com/ducminhle1904/crypto-risk-core/internal/exchange/bybit"
	"github.com/ducminhle1904/crypto-risk-core/pkg/types"
)

type fakeBybit struct {
	equity     float64
	mark       float64
	rules      exchange.LotRules
	positions  []bybit.PositionInfo
	orders     []bybit.MarketOrderParams
	leverage   int
	stops      []string
	orderErr   error
	orderFails int
}

func newFakeBybit() *fakeBybit {
	return &fakeBybit{equity: 10000, mark: 30000, rules: exchange.ParseLotRules("0.001", "100", "0.001", "0.1")}
}

func (f *fakeBybit) PlaceMarketOrder(_ context.Context, params bybit.MarketOrderParams) (*bybit.Order, error) {
	if f.orderFails > 0 {
		f.orderFails--
		return nil, f.orderErr
	}
	f.orders = append(f.orders, params)
	if params.ReduceOnly {
		f.positions = nil
	} else {
		size, _ := strconv.ParseFloat(params.Qty, 64)
		f.positions = []bybit.PositionInfo{{
			Symbol:    params.Symbol,
			Side:      string(params.Side),
			Size:      size,
			AvgPrice:  f.mark,
			MarkPrice: f.mark,
			Leverage:  float64(f.leverage),
		}}
	}
	return &bybit.Order{OrderID: "order-" + strconv.Itoa(len(f.orders)), OrderLinkID: params.OrderLinkID}, nil
}

func (f *fakeBybit) GetPositions(_ context.Context, symbol string) ([]bybit.PositionInfo, error) {
	out := make([]bybit.PositionInfo, 0, len(f.positions))
	for _, p := range f.positions {
		if symbol == "" || p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeBybit) SetLeverage(_ context.Context, _ string, leverage int) error {
	f.leverage = leverage
	return nil
}

func (f *fakeBybit) SetTradingStop(_ context.Context, _ string, takeProfit, stopLoss string) error {
	f.stops = append(f.stops, "tp="+takeProfit+" sl="+stopLoss)
	return nil
}

func (f *fakeBybit) GetTotalEquity(context.Context) (float64, error) { return f.equity, nil }

func (f *fakeBybit) GetMarkPrice(context.Context, string) (float64, error) { return f.mark, nil }

func (f *fakeBybit) LotRules(context.Context, string) (exchange.LotRules, error) { return f.rules, nil }

func testVenueConfig() exchange.ExchangeConfig {
	return exchange.ExchangeConfig{
		RateLimit: 1000,
		Retry:     exchange.RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1},
	}
}

func TestBybitOpenClose(t *testing.T) {
	ctx := context.Background()
	fake := newFakeBybit()
	adapter := newBybitAdapter(fake, testVenueConfig(), nil)

	res, err := adapter.OpenPosition(ctx, exchange.OpenRequest{Symbol: "BTCUSDT", Direction: types.DirectionLong, Leverage: 3, PositionSizePct: 5})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 3, fake.leverage)
	require.Len(t, fake.orders, 1)
	assert.Equal(t, bybit.OrderSide("Buy"), fake.orders[0].Side)
	assert.Equal(t, "0.05", fake.orders[0].Qty)
	assert.NotEmpty(t, fake.orders[0].OrderLinkID)
	assert.InDelta(t, 0.05, res.Quantity, 1e-9)
	assert.InDelta(t, 30000, res.EntryPrice, 1e-9)

	exposure, err := adapter.GetTotalExposure(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 15.0, exposure, 1e-9)

	id, err := adapter.PlaceStopLoss(ctx, "BTCUSDT", 29100.04)
	require.NoError(t, err)
	assert.Contains(t, id, "bybit-sl-btcusdt-")
	assert.Equal(t, []string{"tp= sl=29100"}, fake.stops)

	fake.positions[0].MarkPrice = 31000
	closed, err := adapter.ClosePosition(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.True(t, closed.Success)
	assert.InDelta(t, 50.0, closed.RealizedPnL, 1e-9)
	require.Len(t, fake.orders, 2)
	assert.True(t, fake.orders[1].ReduceOnly)
	assert.Equal(t, bybit.OrderSide("Sell"), fake.orders[1].Side)

	open, err := adapter.HasOpenPosition(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, open)
}

func TestBybitOpenFailureIsResult(t *testing.T) {
	fake := newFakeBybit()
	fake.orderErr = bybit.NewBybitError(bybit.ErrCodeRateLimitExceeded, "Too many visits")
	fake.orderFails = 5
	adapter := newBybitAdapter(fake, testVenueConfig(), nil)

	res, err := adapter.OpenPosition(context.Background(), exchange.OpenRequest{Symbol: "BTCUSDT", Direction: types.DirectionShort, Leverage: 2, PositionSizePct: 5})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
	// one attempt plus one retry
	assert.Equal(t, 3, fake.orderFails)
}

func TestBybitOpenTooSmall(t *testing.T) {
	fake := newFakeBybit()
	fake.equity = 10
	adapter := newBybitAdapter(fake, testVenueConfig(), nil)

	res, err := adapter.OpenPosition(context.Background(), exchange.OpenRequest{Symbol: "BTCUSDT", Direction: types.DirectionLong, Leverage: 1, PositionSizePct: 1})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, fake.orders)
}

func TestBybitCloseWithoutPosition(t *testing.T) {
	adapter := newBybitAdapter(newFakeBybit(), testVenueConfig(), nil)
	res, err := adapter.ClosePosition(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestBybitProtectiveStopsSetOneSide(t *testing.T) {
	ctx := context.Background()
	fake := newFakeBybit()
	adapter := newBybitAdapter(fake, testVenueConfig(), nil)

	res, err := adapter.OpenPosition(ctx, exchange.OpenRequest{Symbol: "BTCUSDT", Direction: types.DirectionLong, Leverage: 3, PositionSizePct: 5})
	require.NoError(t, err)
	require.True(t, res.Success)

	tests := []struct {
		name     string
		place    func() (string, error)
		expected string
		prefix   string
	}{
		{"stop loss", func() (string, error) { return adapter.PlaceStopLoss(ctx, "BTCUSDT", 29400) }, "tp= sl=29400", "bybit-sl-btcusdt-"},
		{"take profit", func() (string, error) { return adapter.PlaceTakeProfit(ctx, "BTCUSDT", 31800) }, "tp=31800 sl=", "bybit-tp-btcusdt-"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake.stops = nil
			got, err := tt.place()
			require.NoError(t, err)
			assert.Contains(t, got, tt.prefix)
			assert.Equal(t, []string{tt.expected}, fake.stops)
		})
	}
}
