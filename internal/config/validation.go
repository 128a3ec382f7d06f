package config

import "fmt"

var supportedExchanges = map[string]bool{
	"bybit":   true,
	"binance": true,
	"paper":   true,
}

var supportedStrategies = map[string]bool{
	"IMMEDIATE":   true,
	"PROFITABLE":  true,
	"WAIT_PROFIT": true,
	"MANUAL":      true,
}

// Validate checks every risk parameter for a usable range
func (c *Config) Validate() error {
	if !supportedExchanges[c.Exchange] {
		return fmt.Errorf("exchange must be one of bybit, binance, paper, got: %q", c.Exchange)
	}
	if !supportedStrategies[c.TransitionStrategy] {
		return fmt.Errorf("transition strategy must be IMMEDIATE, PROFITABLE, WAIT_PROFIT or MANUAL, got: %q", c.TransitionStrategy)
	}

	if c.MaxLeverage < 1 {
		return fmt.Errorf("max leverage must be at least 1, got: %d", c.MaxLeverage)
	}
	for symbol, lev := range c.SymbolMaxLeverage {
		if lev < 1 {
			return fmt.Errorf("leverage cap for %s must be at least 1, got: %d", symbol, lev)
		}
	}
	if c.MaxPositionSizePct < 1 || c.MaxPositionSizePct > 100 {
		return fmt.Errorf("max position size must be between 1 and 100%%, got: %.2f", c.MaxPositionSizePct)
	}
	if c.MaxTotalExposurePct <= 0 {
		return fmt.Errorf("max total exposure must be positive, got: %.2f", c.MaxTotalExposurePct)
	}
	if c.MinConfidenceThreshold < 0 || c.MinConfidenceThreshold > 1 {
		return fmt.Errorf("min confidence threshold must be between 0 and 1, got: %.2f", c.MinConfidenceThreshold)
	}
	if c.StopLossPct <= 0 {
		return fmt.Errorf("stop loss must be positive, got: %.2f", c.StopLossPct)
	}
	if c.TakeProfitPct <= 0 {
		return fmt.Errorf("take profit must be positive, got: %.2f", c.TakeProfitPct)
	}
	if c.TradingFeePct < 0 || c.TradingFeePct > 1 {
		return fmt.Errorf("trading fee must be between 0 and 1%%, got: %.4f", c.TradingFeePct)
	}

	if c.HighExposureThresholdPct <= 0 {
		return fmt.Errorf("high exposure threshold must be positive, got: %.2f", c.HighExposureThresholdPct)
	}
	if c.HighExposureMinConfidence < 0 || c.HighExposureMinConfidence > 1 {
		return fmt.Errorf("high exposure min confidence must be between 0 and 1, got: %.2f", c.HighExposureMinConfidence)
	}
	if c.HighExposureMaxSizePct < 1 {
		return fmt.Errorf("high exposure max size must be at least 1%%, got: %.2f", c.HighExposureMaxSizePct)
	}
	if c.HighExposureMaxLeverage < 1 {
		return fmt.Errorf("high exposure max leverage must be at least 1, got: %d", c.HighExposureMaxLeverage)
	}

	if c.MaxDailyDrawdownPct <= 0 || c.MaxDailyDrawdownPct >= 100 {
		return fmt.Errorf("max daily drawdown must be between 0 and 100%%, got: %.2f", c.MaxDailyDrawdownPct)
	}
	if c.MaxWeeklyDrawdownPct <= 0 || c.MaxWeeklyDrawdownPct >= 100 {
		return fmt.Errorf("max weekly drawdown must be between 0 and 100%%, got: %.2f", c.MaxWeeklyDrawdownPct)
	}

	if c.TransitionSLTightenPct < 0 || c.TransitionSLTightenPct > 100 {
		return fmt.Errorf("transition SL tighten must be between 0 and 100%%, got: %.2f", c.TransitionSLTightenPct)
	}
	if c.TransitionTimeoutHours <= 0 {
		return fmt.Errorf("transition timeout must be positive, got: %.2f", c.TransitionTimeoutHours)
	}
	if c.TransitionEmergencyLossPct >= 0 {
		return fmt.Errorf("transition emergency loss must be negative, got: %.2f", c.TransitionEmergencyLossPct)
	}
	if c.TransitionMaxCloseFailures < 1 {
		return fmt.Errorf("transition max close failures must be at least 1, got: %d", c.TransitionMaxCloseFailures)
	}

	if c.ProtectiveOrderRetries < 1 {
		return fmt.Errorf("protective order retries must be at least 1, got: %d", c.ProtectiveOrderRetries)
	}
	if c.ProtectiveOrderRetryDelay < 0 {
		return fmt.Errorf("protective order retry delay must be non-negative, got: %s", c.ProtectiveOrderRetryDelay)
	}
	if c.CycleInterval <= 0 {
		return fmt.Errorf("cycle interval must be positive, got: %s", c.CycleInterval)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database path must be set")
	}
	if c.APIRateLimit <= 0 {
		return fmt.Errorf("api rate limit must be positive, got: %.2f", c.APIRateLimit)
	}

	if !c.DryRun {
		if err := c.validateCredentials(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateCredentials() error {
	switch c.Exchange {
	case "bybit":
		if c.BybitAPIKey == "" || c.BybitAPISecret == "" {
			return fmt.Errorf("BYBIT_API_KEY and BYBIT_API_SECRET are required for exchange bybit")
		}
	case "binance":
		if c.BinanceAPIKey == "" || c.BinanceAPISecret == "" {
			return fmt.Errorf("BINANCE_API_KEY and BINANCE_API_SECRET are required for exchange binance")
		}
	case "paper":
		if c.PaperEquity <= 0 {
			return fmt.Errorf("paper equity must be positive, got: %.2f", c.PaperEquity)
		}
	}
	return nil
}
