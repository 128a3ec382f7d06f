package bybit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ducminhle1904/crypto-risk-core/internal/exchange"
)

// InstrumentInfo holds the filters of a linear instrument
type InstrumentInfo struct {
	Symbol         string `json:"symbol"`
	Status         string `json:"status"`
	LeverageFilter struct {
		MinLeverage  string `json:"minLeverage"`
		MaxLeverage  string `json:"maxLeverage"`
		LeverageStep string `json:"leverageStep"`
	} `json:"leverageFilter"`
	PriceFilter struct {
		MinPrice string `json:"minPrice"`
		MaxPrice string `json:"maxPrice"`
		TickSize string `json:"tickSize"`
	} `json:"priceFilter"`
	LotSizeFilter struct {
		MaxOrderQty      string `json:"maxOrderQty"`
		MaxMktOrderQty   string `json:"maxMktOrderQty"`
		MinOrderQty      string `json:"minOrderQty"`
		QtyStep          string `json:"qtyStep"`
		MinNotionalValue string `json:"minNotionalValue"`
	} `json:"lotSizeFilter"`
}

// Rules converts the instrument filters into lot rules; the market order
// ceiling wins over the limit one
func (ii *InstrumentInfo) Rules() exchange.LotRules {
	maxQty := ii.LotSizeFilter.MaxMktOrderQty
	if maxQty == "" {
		maxQty = ii.LotSizeFilter.MaxOrderQty
	}
	return exchange.ParseLotRules(ii.LotSizeFilter.MinOrderQty, maxQty, ii.LotSizeFilter.QtyStep, ii.PriceFilter.TickSize)
}

// MaxLeverage is the venue ceiling for the instrument
func (ii *InstrumentInfo) MaxLeverage() int {
	return int(parseFloat64(ii.LeverageFilter.MaxLeverage))
}

// InstrumentManager caches instrument filters per symbol
type InstrumentManager struct {
	client         *Client
	mutex          sync.RWMutex
	instruments    map[string]cachedInstrument
	updateInterval time.Duration
}

type cachedInstrument struct {
	info      *InstrumentInfo
	fetchedAt time.Time
}

// NewInstrumentManager creates a new instrument manager
func NewInstrumentManager(client *Client) *InstrumentManager {
	return &InstrumentManager{
		client:         client,
		instruments:    make(map[string]cachedInstrument),
		updateInterval: time.Hour,
	}
}

// GetInstrumentInfo retrieves and caches instrument information
func (im *InstrumentManager) GetInstrumentInfo(ctx context.Context, symbol string) (*InstrumentInfo, error) {
	im.mutex.RLock()
	cached, ok := im.instruments[symbol]
	im.mutex.RUnlock()
	if ok && time.Since(cached.fetchedAt) < im.updateInterval {
		return cached.info, nil
	}

	params := map[string]interface{}{
		"category": CategoryLinear,
		"symbol":   symbol,
	}
	result, err := im.client.httpClient.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch instrument info: %w", err)
	}

	var instrumentResult struct {
		List []InstrumentInfo `json:"list"`
	}
	if err := decodeResult(result, &instrumentResult); err != nil {
		return nil, fmt.Errorf("failed to parse instrument info: %w", err)
	}

	for i := range instrumentResult.List {
		if instrumentResult.List[i].Symbol == symbol {
			info := &instrumentResult.List[i]
			im.mutex.Lock()
			im.instruments[symbol] = cachedInstrument{info: info, fetchedAt: time.Now()}
			im.mutex.Unlock()
			return info, nil
		}
	}
	return nil, NewBybitError(ErrCodeSymbolNotFound, fmt.Sprintf("instrument %s not found", symbol))
}

// LotRules returns the quantity and price increments of a linear symbol
func (c *Client) LotRules(ctx context.Context, symbol string) (exchange.LotRules, error) {
	info, err := c.instruments.GetInstrumentInfo(ctx, symbol)
	if err != nil {
		return exchange.LotRules{}, err
	}
	return info.Rules(), nil
}
