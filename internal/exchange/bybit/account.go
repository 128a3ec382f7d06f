package bybit

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// GetTotalEquity returns the unified account equity in USD
func (c *Client) GetTotalEquity(ctx context.Context) (float64, error) {
	params := map[string]interface{}{
		"accountType": "UNIFIED",
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetAccountWallet(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get account balance: %w", err)
	}

	var walletResult struct {
		List []struct {
			TotalEquity string `json:"totalEquity"`
		} `json:"list"`
	}
	if err := decodeResult(result, &walletResult); err != nil {
		return 0, fmt.Errorf("failed to parse account balance response: %w", err)
	}
	if len(walletResult.List) == 0 {
		return 0, fmt.Errorf("no account data found")
	}
	return parseFloat64(walletResult.List[0].TotalEquity), nil
}

// GetMarkPrice returns the mark price of a linear symbol
func (c *Client) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	params := map[string]interface{}{
		"category": CategoryLinear,
		"symbol":   symbol,
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get ticker: %w", err)
	}

	var tickerResult struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
			MarkPrice string `json:"markPrice"`
		} `json:"list"`
	}
	if err := decodeResult(result, &tickerResult); err != nil {
		return 0, fmt.Errorf("failed to parse ticker response: %w", err)
	}
	if len(tickerResult.List) == 0 {
		return 0, fmt.Errorf("no ticker data found for %s", symbol)
	}

	t := tickerResult.List[0]
	if mark := parseFloat64(t.MarkPrice); mark > 0 {
		return mark, nil
	}
	return parseFloat64(t.LastPrice), nil
}

func parseFloat64(s string) float64 {
	if s == "" {
		return 0
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// parseTimestamp converts milliseconds timestamp to time.Time
func parseTimestamp(ts string) time.Time {
	if ts == "" {
		return time.Time{}
	}
	msec, _ := strconv.ParseInt(ts, 10, 64)
	return time.UnixMilli(msec)
}
