package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	apperrors "github.com/ducminhle1904/crypto-risk-core/internal/errors"
	"github.com/ducminhle1904/crypto-risk-core/internal/logger"
)

const dateLayout = "2006-01-02"

// DrawdownConfig holds the daily and weekly ceilings in percent
type DrawdownConfig struct {
	MaxDailyDrawdownPct  float64
	MaxWeeklyDrawdownPct float64
}

// DrawdownState is the per-day equity tracking row
type DrawdownState struct {
	Date                 string    `json:"date"`
	DailyStartingEquity  float64   `json:"daily_starting_equity"`
	WeeklyStartingEquity float64   `json:"weekly_starting_equity"`
	WeekStart            string    `json:"week_start"`
	CurrentEquity        float64   `json:"current_equity"`
	PeakEquity           float64   `json:"peak_equity"`
	TradingHalted        bool      `json:"trading_halted"`
	HaltReason           string    `json:"halt_reason,omitempty"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// DailyDrawdownPct is the decline from the daily starting equity
func (s DrawdownState) DailyDrawdownPct() float64 {
	return drawdownPct(s.DailyStartingEquity, s.CurrentEquity)
}

// WeeklyDrawdownPct is the decline from the weekly starting equity
func (s DrawdownState) WeeklyDrawdownPct() float64 {
	return drawdownPct(s.WeeklyStartingEquity, s.CurrentEquity)
}

// DrawdownStatus is returned after every equity observation
type DrawdownStatus struct {
	Date              string
	CurrentEquity     float64
	DailyDrawdownPct  float64
	WeeklyDrawdownPct float64
	TradingHalted     bool
	HaltReason        string
	// NewlyHalted is set only on the observation that engaged the halt
	NewlyHalted    bool
	RiskMultiplier float64
}

// DrawdownStore persists one row per calendar date
type DrawdownStore interface {
	UpsertDrawdown(ctx context.Context, state DrawdownState) error
	// LatestDrawdown returns nil with no error when nothing was stored yet
	LatestDrawdown(ctx context.Context) (*DrawdownState, error)
}

// DrawdownManager tracks equity against daily and weekly baselines. Dates are UTC.
type DrawdownManager struct {
	config      DrawdownConfig
	store       DrawdownStore
	log         *logger.Logger
	now         func() time.Time
	state       DrawdownState
	initialized bool
}

// DrawdownOption customizes a DrawdownManager
type DrawdownOption func(*DrawdownManager)

// WithClock replaces the wall clock
func WithClock(now func() time.Time) DrawdownOption {
	return func(dm *DrawdownManager) { dm.now = now }
}

// NewDrawdownManager creates a manager; call Restore before the first cycle
func NewDrawdownManager(config DrawdownConfig, store DrawdownStore, log *logger.Logger, opts ...DrawdownOption) *DrawdownManager {
	if config.MaxDailyDrawdownPct <= 0 {
		config.MaxDailyDrawdownPct = 5
	}
	if config.MaxWeeklyDrawdownPct <= 0 {
		config.MaxWeeklyDrawdownPct = 10
	}
	if log == nil {
		log = logger.Nop()
	}
	dm := &DrawdownManager{
		config: config,
		store:  store,
		log:    log.With("drawdown"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(dm)
	}
	return dm
}

// Restore reloads the latest persisted row so a restart does not reset tracking
func (dm *DrawdownManager) Restore(ctx context.Context) error {
	if dm.store == nil {
		return nil
	}
	latest, err := dm.store.LatestDrawdown(ctx)
	if err != nil {
		return apperrors.NewPersistenceError("drawdown", "restore", err)
	}
	if latest == nil {
		return nil
	}

	now := dm.now().UTC()
	today := now.Format(dateLayout)
	if latest.Date == today {
		dm.state = *latest
		dm.initialized = true
		dm.log.Info("Restored drawdown state for %s (daily start %.2f, halted %v)", today, latest.DailyStartingEquity, latest.TradingHalted)
		return nil
	}

	// A new day since the last row: only the peak and, within the same ISO
	// week, the weekly baseline carry over. The daily baseline is taken by
	// InitializeDay at the first observation of today.
	carried := DrawdownState{
		Date:          latest.Date,
		CurrentEquity: latest.CurrentEquity,
		PeakEquity:    latest.PeakEquity,
		UpdatedAt:     latest.UpdatedAt,
	}
	if latest.WeekStart == weekStart(now) && latest.WeeklyStartingEquity > 0 {
		carried.WeekStart = latest.WeekStart
		carried.WeeklyStartingEquity = latest.WeeklyStartingEquity
	}
	dm.state = carried
	dm.initialized = true
	dm.log.Info("Restored drawdown row from %s, weekly start %.2f; daily baseline set on first observation of %s",
		latest.Date, carried.WeeklyStartingEquity, today)
	return nil
}

// InitializeDay snapshots the daily baseline on the first call of a calendar
// day, and the weekly baseline at cold start or in a new ISO week. It clears
// any sticky halt. Calls later on the same day are no-ops.
func (dm *DrawdownManager) InitializeDay(ctx context.Context, equity float64) error {
	if err := checkEquity(equity); err != nil {
		return err
	}
	now := dm.now().UTC()
	today := now.Format(dateLayout)
	if dm.initialized && dm.state.Date == today {
		return nil
	}

	week := weekStart(now)
	next := DrawdownState{
		Date:                 today,
		DailyStartingEquity:  equity,
		WeeklyStartingEquity: dm.state.WeeklyStartingEquity,
		WeekStart:            dm.state.WeekStart,
		CurrentEquity:        equity,
		PeakEquity:           math.Max(dm.state.PeakEquity, equity),
		UpdatedAt:            now,
	}
	if !dm.initialized || dm.state.WeekStart != week || next.WeeklyStartingEquity <= 0 {
		next.WeeklyStartingEquity = equity
		next.WeekStart = week
		dm.log.Info("Weekly baseline set to %.2f for week of %s", equity, week)
	}
	if dm.state.TradingHalted {
		dm.log.Info("New trading day %s, clearing halt: %s", today, dm.state.HaltReason)
	}

	dm.state = next
	dm.initialized = true
	dm.log.Info("Daily baseline set to %.2f for %s", equity, today)
	return dm.persist(ctx)
}

// UpdateEquity records an equity observation and engages the halt when a
// ceiling is met. The status is valid even when persisting fails.
func (dm *DrawdownManager) UpdateEquity(ctx context.Context, equity float64) (DrawdownStatus, error) {
	if err := checkEquity(equity); err != nil {
		return dm.status(false), err
	}
	now := dm.now().UTC()
	if !dm.initialized || dm.state.Date != now.Format(dateLayout) {
		if err := dm.InitializeDay(ctx, equity); err != nil {
			return dm.status(false), err
		}
	}

	dm.state.CurrentEquity = equity
	dm.state.PeakEquity = math.Max(dm.state.PeakEquity, equity)
	dm.state.UpdatedAt = now

	newlyHalted := false
	if !dm.state.TradingHalted {
		daily := dm.state.DailyDrawdownPct()
		weekly := dm.state.WeeklyDrawdownPct()
		switch {
		case daily >= dm.config.MaxDailyDrawdownPct:
			dm.halt(fmt.Sprintf("daily drawdown %.2f%% reached limit %.2f%%", daily, dm.config.MaxDailyDrawdownPct))
			newlyHalted = true
		case weekly >= dm.config.MaxWeeklyDrawdownPct:
			dm.halt(fmt.Sprintf("weekly drawdown %.2f%% reached limit %.2f%%", weekly, dm.config.MaxWeeklyDrawdownPct))
			newlyHalted = true
		}
	}

	return dm.status(newlyHalted), dm.persist(ctx)
}

// CheckCanTrade reports whether new positions may be opened. A halt from a
// previous day no longer applies even before the new day is initialized.
func (dm *DrawdownManager) CheckCanTrade() (bool, string) {
	if !dm.state.TradingHalted {
		return true, ""
	}
	if dm.state.Date != dm.now().UTC().Format(dateLayout) {
		return true, ""
	}
	return false, dm.state.HaltReason
}

// RiskMultiplier scales position size down as the daily drawdown approaches its limit
func (dm *DrawdownManager) RiskMultiplier(equity float64) float64 {
	if ok, _ := dm.CheckCanTrade(); !ok {
		return 0
	}
	if !dm.initialized || dm.state.Date != dm.now().UTC().Format(dateLayout) {
		return 1
	}
	return RiskMultiplierForRatio(drawdownPct(dm.state.DailyStartingEquity, equity) / dm.config.MaxDailyDrawdownPct)
}

// RiskMultiplierForRatio maps drawdown/limit onto [0,1]:
// below 0.5 -> 1, 0.5..0.8 -> 0.75..0.5, 0.8..1 -> 0.5..0, 1 and above -> 0
func RiskMultiplierForRatio(r float64) float64 {
	switch {
	case math.IsNaN(r):
		return 0
	case r < 0.5:
		return 1.0
	case r < 0.8:
		return 0.75 - (r-0.5)/0.3*0.25
	case r < 1.0:
		return 0.5 - (r-0.8)/0.2*0.5
	default:
		return 0
	}
}

// ClearHalt lifts the halt before the day ends
func (dm *DrawdownManager) ClearHalt(ctx context.Context, reason string) error {
	if !dm.state.TradingHalted {
		return nil
	}
	dm.log.Warning("Trading halt cleared manually (%s), was: %s", reason, dm.state.HaltReason)
	dm.state.TradingHalted = false
	dm.state.HaltReason = ""
	dm.state.UpdatedAt = dm.now().UTC()
	return dm.persist(ctx)
}

// State returns a copy of the tracked state
func (dm *DrawdownManager) State() DrawdownState {
	return dm.state
}

// Config returns the configured ceilings
func (dm *DrawdownManager) Config() DrawdownConfig {
	return dm.config
}

func (dm *DrawdownManager) halt(reason string) {
	dm.state.TradingHalted = true
	dm.state.HaltReason = reason
	dm.log.Error("TRADING HALTED: %s", reason)
}

func (dm *DrawdownManager) status(newlyHalted bool) DrawdownStatus {
	st := DrawdownStatus{
		Date:              dm.state.Date,
		CurrentEquity:     dm.state.CurrentEquity,
		DailyDrawdownPct:  dm.state.DailyDrawdownPct(),
		WeeklyDrawdownPct: dm.state.WeeklyDrawdownPct(),
		TradingHalted:     dm.state.TradingHalted,
		HaltReason:        dm.state.HaltReason,
		NewlyHalted:       newlyHalted,
	}
	st.RiskMultiplier = dm.RiskMultiplier(dm.state.CurrentEquity)
	return st
}

func (dm *DrawdownManager) persist(ctx context.Context) error {
	if dm.store == nil {
		return nil
	}
	if err := dm.store.UpsertDrawdown(ctx, dm.state); err != nil {
		dm.log.LogError("persist drawdown state", err)
		return apperrors.NewPersistenceError("drawdown", "upsert", err)
	}
	return nil
}

func checkEquity(equity float64) error {
	if math.IsNaN(equity) || math.IsInf(equity, 0) || equity <= 0 {
		return apperrors.NewValidationError("drawdown", "equity", fmt.Sprintf("equity must be a positive finite number, got: %v", equity))
	}
	return nil
}

func drawdownPct(start, current float64) float64 {
	if start <= 0 {
		return 0
	}
	return (start - current) / start * 100
}

// weekStart returns the Monday of t's ISO week
func weekStart(t time.Time) string {
	offset := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -offset).Format(dateLayout)
}
