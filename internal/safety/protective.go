package safety

import (
	"context"
	"fmt"
	"time"

	"github.com/ducminhle1904/crypto-risk-core/internal/exchange"
	"github.com/ducminhle1904/crypto-risk-core/internal/logger"
	"github.com/ducminhle1904/crypto-risk-core/internal/monitoring"
	"github.com/ducminhle1904/crypto-risk-core/internal/notifications"
	"github.com/ducminhle1904/crypto-risk-core/internal/risk"
	"github.com/ducminhle1904/crypto-risk-core/pkg/types"
)

// PositionLedger persists protective order ids and fail-safe closes
type PositionLedger interface {
	SavePosition(ctx context.Context, pos *types.PositionRecord) error
}

// ProtectiveConfig controls protective order placement
type ProtectiveConfig struct {
	Retries    int
	RetryDelay time.Duration
}

// ProtectionResult reports what Protect did for one position
type ProtectionResult struct {
	StopLossOrderID   string
	TakeProfitOrderID string
	// StopLossPlaced is true when an SL is attached, including one from an earlier cycle
	StopLossPlaced   bool
	TakeProfitPlaced bool
	// EmergencyClosed is set when the SL could not be placed and the position was closed
	EmergencyClosed bool
	Close           *exchange.CloseResult
	Errors          []string
}

// Protected reports whether the position is open with a stop loss attached
func (r ProtectionResult) Protected() bool {
	return r.StopLossPlaced && !r.EmergencyClosed
}

// Protector places SL/TP orders right after an OPEN fill. A position that
// cannot get a stop loss is closed; a missing take profit only warns.
type Protector struct {
	config   ProtectiveConfig
	ledger   PositionLedger
	notifier notifications.Notifier
	log      *logger.Logger
	now      func() time.Time
}

// NewProtector creates a protector; ledger and notifier may be nil
func NewProtector(config ProtectiveConfig, ledger PositionLedger, notifier notifications.Notifier, log *logger.Logger) *Protector {
	if config.Retries < 1 {
		config.Retries = 3
	}
	if notifier == nil {
		notifier = notifications.Nop{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Protector{
		config:   config,
		ledger:   ledger,
		notifier: notifier,
		log:      log.With("protector"),
		now:      time.Now,
	}
}

// Protect attaches the stop loss and take profit to pos. Orders already
// recorded on pos are not submitted again. pos is updated in place.
func (p *Protector) Protect(ctx context.Context, adapter exchange.ExecutionAdapter, pos *types.PositionRecord) ProtectionResult {
	result := ProtectionResult{
		StopLossOrderID:   pos.StopLossOrderID,
		TakeProfitOrderID: pos.TakeProfitOrderID,
		StopLossPlaced:    pos.HasStopLoss(),
		TakeProfitPlaced:  pos.HasTakeProfit(),
	}
	if !pos.IsOpen() {
		return result
	}

	if !pos.HasStopLoss() {
		id, err := p.place(ctx, pos, "stop loss", pos.StopLossPrice, adapter.PlaceStopLoss)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			monitoring.RecordProtectionFailure(adapter.Name(), "stop_loss")
			p.failSafe(ctx, adapter, pos, err, &result)
			return result
		}
		pos.StopLossOrderID = id
		result.StopLossOrderID = id
		result.StopLossPlaced = true
		p.save(ctx, pos)
	}

	if !pos.HasTakeProfit() {
		id, err := p.place(ctx, pos, "take profit", pos.TakeProfitPrice, adapter.PlaceTakeProfit)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			monitoring.RecordProtectionFailure(adapter.Name(), "take_profit")
			p.alert(notifications.LevelWarning, fmt.Sprintf("Take profit for %s %s on %s could not be placed, keeping position on stop loss only: %v",
				pos.Symbol, pos.Direction, pos.Venue, err))
			return result
		}
		pos.TakeProfitOrderID = id
		result.TakeProfitOrderID = id
		result.TakeProfitPlaced = true
		p.save(ctx, pos)
	}
	return result
}

func (p *Protector) place(ctx context.Context, pos *types.PositionRecord, kind string, price float64,
	submit func(ctx context.Context, symbol string, price float64) (string, error)) (string, error) {
	if price <= 0 {
		return "", fmt.Errorf("%s price for %s is not set", kind, pos.Symbol)
	}

	var lastErr error
	for attempt := 1; attempt <= p.config.Retries; attempt++ {
		id, err := submit(ctx, pos.Symbol, price)
		if err == nil {
			p.log.Trade("%s placed for %s @ %.4f (order %s, attempt %d)", kind, pos.Symbol, price, id, attempt)
			return id, nil
		}
		lastErr = err
		p.log.Warning("%s for %s failed (attempt %d/%d): %v", kind, pos.Symbol, attempt, p.config.Retries, err)

		if attempt < p.config.Retries {
			if err := sleep(ctx, p.config.RetryDelay); err != nil {
				return "", err
			}
		}
	}
	return "", fmt.Errorf("%s for %s failed after %d attempts: %w", kind, pos.Symbol, p.config.Retries, lastErr)
}

// failSafe closes a position that could not be given a stop loss
func (p *Protector) failSafe(ctx context.Context, adapter exchange.ExecutionAdapter, pos *types.PositionRecord, cause error, result *ProtectionResult) {
	p.log.Error("CRITICAL: %s %s on %s has no stop loss, closing: %v", pos.Symbol, pos.Direction, pos.Venue, cause)

	closeRes, err := adapter.ClosePosition(ctx, pos.Symbol)
	if err == nil && closeRes != nil && closeRes.Success {
		result.EmergencyClosed = true
		result.Close = closeRes
		pnlPct := risk.UnrealizedPnLPct(pos.EntryPrice, closeRes.ExitPrice, pos.Direction, pos.Leverage)
		pos.MarkClosed(p.now().UTC(), closeRes.ExitPrice, closeRes.RealizedPnL, pnlPct, "stop loss placement failed")
		p.save(ctx, pos)
		monitoring.RecordOrder(adapter.Name(), "emergency_close", true)
		p.alert(notifications.LevelCritical, fmt.Sprintf("Stop loss for %s %s on %s could not be placed (%v). Position closed at %.4f, pnl %.2f",
			pos.Symbol, pos.Direction, pos.Venue, cause, closeRes.ExitPrice, closeRes.RealizedPnL))
		return
	}

	reason := "unknown error"
	switch {
	case err != nil:
		reason = err.Error()
	case closeRes != nil && closeRes.Error != "":
		reason = closeRes.Error
	}
	result.Close = closeRes
	result.Errors = append(result.Errors, "emergency close: "+reason)
	monitoring.RecordOrder(adapter.Name(), "emergency_close", false)
	p.log.Error("CRITICAL: emergency close of %s failed, position is UNPROTECTED: %s", pos.Symbol, reason)
	p.alert(notifications.LevelCritical, fmt.Sprintf("UNPROTECTED POSITION: %s %s on %s has no stop loss and the emergency close failed: %s",
		pos.Symbol, pos.Direction, pos.Venue, reason))
}

func (p *Protector) save(ctx context.Context, pos *types.PositionRecord) {
	if p.ledger == nil {
		return
	}
	if err := p.ledger.SavePosition(ctx, pos); err != nil {
		p.log.LogError("save position "+pos.ID, err)
	}
}

func (p *Protector) alert(level, message string) {
	if err := p.notifier.SendAlert(level, message); err != nil {
		p.log.LogError("send "+level+" alert", err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
