package bybit

import (
	"context"
	"fmt"
	"time"
)

// OrderSide represents the side of an order
type OrderSide string

const (
	OrderSideBuy  OrderSide = "Buy"
	OrderSideSell OrderSide = "Sell"
)

// Order is the subset of an order acknowledgement the adapter keeps
type Order struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

// MarketOrderParams holds parameters for a linear market order
type MarketOrderParams struct {
	Symbol      string
	Side        OrderSide
	Qty         string
	ReduceOnly  bool
	OrderLinkID string
}

// PlaceMarketOrder places a one-way-mode linear market order
func (c *Client) PlaceMarketOrder(ctx context.Context, params MarketOrderParams) (*Order, error) {
	if params.Symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if params.Side == "" {
		return nil, fmt.Errorf("side is required")
	}
	if params.Qty == "" {
		return nil, fmt.Errorf("qty is required")
	}

	apiParams := map[string]interface{}{
		"category":    CategoryLinear,
		"symbol":      params.Symbol,
		"side":        string(params.Side),
		"orderType":   "Market",
		"qty":         params.Qty,
		"positionIdx": 0,
	}
	if params.ReduceOnly {
		apiParams["reduceOnly"] = true
	}
	if params.OrderLinkID != "" {
		apiParams["orderLinkId"] = params.OrderLinkID
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(apiParams).PlaceOrder(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to place order: %w", err)
	}

	var order Order
	if err := decodeResult(result, &order); err != nil {
		return nil, fmt.Errorf("failed to parse order response: %w", err)
	}
	return &order, nil
}

// PositionInfo represents a linear position
type PositionInfo struct {
	Symbol        string
	Side          string
	Size          float64
	AvgPrice      float64
	MarkPrice     float64
	Leverage      float64
	UnrealisedPnl float64
	TakeProfit    float64
	StopLoss      float64
	UpdatedTime   time.Time
}

// GetPositions retrieves linear positions; symbol may be empty to list all USDT-settled ones
func (c *Client) GetPositions(ctx context.Context, symbol string) ([]PositionInfo, error) {
	params := map[string]interface{}{
		"category": CategoryLinear,
	}
	if symbol != "" {
		params["symbol"] = symbol
	} else {
		params["settleCoin"] = "USDT"
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetPositionList(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}

	var positionResult struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Size          string `json:"size"`
			AvgPrice      string `json:"avgPrice"`
			MarkPrice     string `json:"markPrice"`
			Leverage      string `json:"leverage"`
			UnrealisedPnl string `json:"unrealisedPnl"`
			TakeProfit    string `json:"takeProfit"`
			StopLoss      string `json:"stopLoss"`
			UpdatedTime   string `json:"updatedTime"`
		} `json:"list"`
	}
	if err := decodeResult(result, &positionResult); err != nil {
		return nil, fmt.Errorf("failed to parse positions response: %w", err)
	}

	positions := make([]PositionInfo, 0, len(positionResult.List))
	for _, p := range positionResult.List {
		size := parseFloat64(p.Size)
		if size == 0 {
			continue
		}
		positions = append(positions, PositionInfo{
			Symbol:        p.Symbol,
			Side:          p.Side,
			Size:          size,
			AvgPrice:      parseFloat64(p.AvgPrice),
			MarkPrice:     parseFloat64(p.MarkPrice),
			Leverage:      parseFloat64(p.Leverage),
			UnrealisedPnl: parseFloat64(p.UnrealisedPnl),
			TakeProfit:    parseFloat64(p.TakeProfit),
			StopLoss:      parseFloat64(p.StopLoss),
			UpdatedTime:   parseTimestamp(p.UpdatedTime),
		})
	}
	return positions, nil
}

// SetLeverage sets the same leverage on both sides of a symbol. An
// unchanged leverage is not an error.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	lev := fmt.Sprintf("%d", leverage)
	params := map[string]interface{}{
		"category":     CategoryLinear,
		"symbol":       symbol,
		"buyLeverage":  lev,
		"sellLeverage": lev,
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).SetPositionLeverage(ctx)
	if err != nil {
		return fmt.Errorf("failed to set leverage: %w", err)
	}
	if err := decodeResult(result, nil); err != nil && !IsNotModified(err) {
		return fmt.Errorf("failed to set leverage: %w", err)
	}
	return nil
}

// SetTradingStop attaches a full-position stop loss and/or take profit.
// Empty prices leave that side untouched.
func (c *Client) SetTradingStop(ctx context.Context, symbol, takeProfit, stopLoss string) error {
	params := map[string]interface{}{
		"category":    CategoryLinear,
		"symbol":      symbol,
		"positionIdx": 0,
		"tpslMode":    "Full",
	}
	if takeProfit != "" {
		params["takeProfit"] = takeProfit
		params["tpTriggerBy"] = "MarkPrice"
	}
	if stopLoss != "" {
		params["stopLoss"] = stopLoss
		params["slTriggerBy"] = "MarkPrice"
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).SetPositionTradingStop(ctx)
	if err != nil {
		return fmt.Errorf("failed to set trading stop: %w", err)
	}
	if err := decodeResult(result, nil); err != nil && !IsNotModified(err) {
		return fmt.Errorf("failed to set trading stop: %w", err)
	}
	return nil
}
