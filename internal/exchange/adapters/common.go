package adapters

import (
	"context"
	"math"

	"golang.org/x/time/rate"

	"github.com/ducminhle1904/crypto-risk-core/internal/exchange"
	"github.com/ducminhle1904/crypto-risk-core/internal/logger"
)

// venueCaller throttles, retries and circuit-breaks calls to one venue
type venueCaller struct {
	venue   string
	limiter *rate.Limiter
	breaker *exchange.Breaker
	retry   exchange.RetryConfig
	log     *logger.Logger
}

func newVenueCaller(venue string, config exchange.ExchangeConfig, log *logger.Logger) *venueCaller {
	perSecond := config.RateLimit
	if perSecond <= 0 {
		perSecond = 10
	}
	burst := int(math.Max(1, math.Ceil(perSecond)))

	retry := config.Retry
	if retry.InitialDelay <= 0 {
		retry = exchange.DefaultRetryConfig()
	}
	breakerCfg := config.Breaker
	if breakerCfg.FailureThreshold <= 0 {
		breakerCfg = exchange.DefaultBreakerConfig()
	}
	if log == nil {
		log = logger.Nop()
	}

	c := &venueCaller{
		venue:   venue,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		breaker: exchange.NewBreaker(venue, breakerCfg),
		retry:   retry,
		log:     log.With(venue),
	}
	c.breaker.OnStateChange(func(name string, from, to exchange.BreakerState) {
		c.log.Warning("Circuit breaker %s: %s -> %s", name, from, to)
	})
	return c
}

// call runs fn under the rate limit, the breaker and the retry policy.
// Errors come back normalized to exchange.ExchangeError.
func (c *venueCaller) call(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	return exchange.Retry(ctx, c.retry, c.venue+" "+operation, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return c.breaker.Do(ctx, func(ctx context.Context) error {
			return exchange.NormalizeError(c.venue, fn(ctx))
		})
	})
}

func failedOpen(symbol string, err error) *exchange.OpenResult {
	return &exchange.OpenResult{Success: false, Symbol: symbol, Error: err.Error()}
}

func failedClose(symbol string, err error) *exchange.CloseResult {
	return &exchange.CloseResult{Success: false, Symbol: symbol, Error: err.Error()}
}

func validateOpen(req exchange.OpenRequest) error {
	if req.Symbol == "" {
		return &exchange.ExchangeError{Code: "INVALID_REQUEST", Message: "symbol is required"}
	}
	if !req.Direction.Valid() {
		return &exchange.ExchangeError{Code: "INVALID_REQUEST", Message: "direction must be LONG or SHORT"}
	}
	if req.Leverage < 1 || req.PositionSizePct <= 0 {
		return &exchange.ExchangeError{Code: "INVALID_REQUEST", Message: "leverage and position size must be positive"}
	}
	return nil
}

// exposurePct is total notional over equity in percent
func exposurePct(notional, equity float64) float64 {
	if equity <= 0 {
		return 0
	}
	return notional / equity * 100
}
