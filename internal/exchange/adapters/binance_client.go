package adapters

import (
	"context"
	"errors"
	"strconv"
	"sync"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"

	"github.com/ducminhle1904/crypto-risk-core/internal/exchange"
)

// binancePosition is a USDⓈ-M position row with parsed numbers
type binancePosition struct {
	Symbol           string
	PositionAmt      float64 // negative for shorts
	EntryPrice       float64
	MarkPrice        float64
	Leverage         int
	UnrealizedProfit float64
}

// binanceAPI is the futures surface the adapter uses
type binanceAPI interface {
	AccountEquity(ctx context.Context) (float64, error)
	MarkPrice(ctx context.Context, symbol string) (float64, error)
	Positions(ctx context.Context, symbol string) ([]binancePosition, error)
	ChangeLeverage(ctx context.Context, symbol string, leverage int) error
	MarketOrder(ctx context.Context, symbol string, side futures.SideType, qty string, reduceOnly bool, clientID string) (string, error)
	ClosePositionTrigger(ctx context.Context, symbol string, side futures.SideType, orderType futures.OrderType, stopPrice string) (string, error)
	LotRules(ctx context.Context, symbol string) (exchange.LotRules, error)
}

// binanceFutures wraps the go-binance futures client
type binanceFutures struct {
	client *futures.Client
	mu     sync.Mutex
	rules  map[string]exchange.LotRules
}

func newBinanceFutures(config *exchange.BinanceConfig) *binanceFutures {
	if config.Testnet {
		futures.UseTestnet = true
	}
	return &binanceFutures{
		client: binance.NewFuturesClient(config.APIKey, config.APISecret),
		rules:  make(map[string]exchange.LotRules),
	}
}

func (f *binanceFutures) AccountEquity(ctx context.Context) (float64, error) {
	account, err := f.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, mapBinanceError(err)
	}
	return parseBinanceFloat(account.TotalMarginBalance), nil
}

func (f *binanceFutures) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := f.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, mapBinanceError(err)
	}
	for _, p := range prices {
		if p.Symbol == symbol {
			return parseBinanceFloat(p.Price), nil
		}
	}
	return 0, exchange.ErrInvalidSymbol.WithDetails(symbol)
}

func (f *binanceFutures) Positions(ctx context.Context, symbol string) ([]binancePosition, error) {
	svc := f.client.NewGetPositionRiskService()
	if symbol != "" {
		svc = svc.Symbol(symbol)
	}
	rows, err := svc.Do(ctx)
	if err != nil {
		return nil, mapBinanceError(err)
	}

	positions := make([]binancePosition, 0, len(rows))
	for _, r := range rows {
		amt := parseBinanceFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		leverage, _ := strconv.Atoi(r.Leverage)
		positions = append(positions, binancePosition{
			Symbol:           r.Symbol,
			PositionAmt:      amt,
			EntryPrice:       parseBinanceFloat(r.EntryPrice),
			MarkPrice:        parseBinanceFloat(r.MarkPrice),
			Leverage:         leverage,
			UnrealizedProfit: parseBinanceFloat(r.UnRealizedProfit),
		})
	}
	return positions, nil
}

func (f *binanceFutures) ChangeLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := f.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	return mapBinanceError(err)
}

func (f *binanceFutures) MarketOrder(ctx context.Context, symbol string, side futures.SideType, qty string, reduceOnly bool, clientID string) (string, error) {
	svc := f.client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(qty).
		NewClientOrderID(clientID)
	if reduceOnly {
		svc = svc.ReduceOnly(true)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return "", mapBinanceError(err)
	}
	return strconv.FormatInt(res.OrderID, 10), nil
}

func (f *binanceFutures) ClosePositionTrigger(ctx context.Context, symbol string, side futures.SideType, orderType futures.OrderType, stopPrice string) (string, error) {
	res, err := f.client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(orderType).
		StopPrice(stopPrice).
		ClosePosition(true).
		WorkingType(futures.WorkingTypeMarkPrice).
		Do(ctx)
	if err != nil {
		return "", mapBinanceError(err)
	}
	return strconv.FormatInt(res.OrderID, 10), nil
}

func (f *binanceFutures) LotRules(ctx context.Context, symbol string) (exchange.LotRules, error) {
	f.mu.Lock()
	rules, ok := f.rules[symbol]
	f.mu.Unlock()
	if ok {
		return rules, nil
	}
	info, err := f.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return exchange.LotRules{}, mapBinanceError(err)
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		var minQty, maxQty, step, tick string
		if lot := s.MarketLotSizeFilter(); lot != nil {
			minQty, maxQty, step = lot.MinQuantity, lot.MaxQuantity, lot.StepSize
		} else if lot := s.LotSizeFilter(); lot != nil {
			minQty, maxQty, step = lot.MinQuantity, lot.MaxQuantity, lot.StepSize
		}
		if pf := s.PriceFilter(); pf != nil {
			tick = pf.TickSize
		}
		rules := exchange.ParseLotRules(minQty, maxQty, step, tick)
		f.mu.Lock()
		f.rules[symbol] = rules
		f.mu.Unlock()
		return rules, nil
	}
	return exchange.LotRules{}, exchange.ErrInvalidSymbol.WithDetails(symbol)
}

// Binance error codes the adapter distinguishes
const (
	binanceCodeTooManyRequests    = -1003
	binanceCodeInvalidSymbol      = -1121
	binanceCodeBadAPIKey          = -2014
	binanceCodeRejectedAPIKey     = -2015
	binanceCodeMarginInsufficient = -2019
)

func mapBinanceError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Code {
	case binanceCodeTooManyRequests:
		return exchange.ErrRateLimitExceeded.WithDetails(apiErr.Message)
	case binanceCodeInvalidSymbol:
		return exchange.ErrInvalidSymbol.WithDetails(apiErr.Message)
	case binanceCodeBadAPIKey, binanceCodeRejectedAPIKey:
		return exchange.ErrAuthenticationFailed.WithDetails(apiErr.Message)
	case binanceCodeMarginInsufficient:
		return exchange.ErrInsufficientBalance.WithDetails(apiErr.Message)
	}
	return err
}

func parseBinanceFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
