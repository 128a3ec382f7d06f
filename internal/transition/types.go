package transition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ducminhle1904/crypto-risk-core/internal/exchange"
	"github.com/ducminhle1904/crypto-risk-core/pkg/types"
)

// MaxLogEntries bounds the audit log kept on a Transition
const MaxLogEntries = 100

var (
	// ErrTransitionActive is returned when a transition is created while one is pending or in progress
	ErrTransitionActive = errors.New("a transition is already active")
	// ErrNotFound is returned by stores for an unknown transition id
	ErrNotFound = errors.New("transition not found")
)

// Strategy decides how positions on the old venue are wound down
type Strategy string

const (
	StrategyImmediate  Strategy = "IMMEDIATE"
	StrategyProfitable Strategy = "PROFITABLE"
	StrategyWaitProfit Strategy = "WAIT_PROFIT"
	StrategyManual     Strategy = "MANUAL"
)

// ParseStrategy accepts any casing of a strategy name
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown transition strategy %q, expected IMMEDIATE, PROFITABLE, WAIT_PROFIT or MANUAL", s)
	}
	return st, nil
}

// Valid reports whether s is a known strategy
func (s Strategy) Valid() bool {
	switch s {
	case StrategyImmediate, StrategyProfitable, StrategyWaitProfit, StrategyManual:
		return true
	}
	return false
}

// TransitionStatus represents the status of a transition
type TransitionStatus string

const (
	TransitionStatusPending    TransitionStatus = "pending"
	TransitionStatusInProgress TransitionStatus = "in_progress"
	TransitionStatusCompleted  TransitionStatus = "completed"
	TransitionStatusFailed     TransitionStatus = "failed"
	TransitionStatusCancelled  TransitionStatus = "cancelled"
)

// IsActive reports pending or in_progress
func (s TransitionStatus) IsActive() bool {
	return s == TransitionStatusPending || s == TransitionStatusInProgress
}

// IsTerminal reports completed, failed or cancelled
func (s TransitionStatus) IsTerminal() bool {
	return s == TransitionStatusCompleted || s == TransitionStatusFailed || s == TransitionStatusCancelled
}

// LogEntry is one audit log line of a transition
type LogEntry struct {
	TransitionID string    `json:"transition_id"`
	Timestamp    time.Time `json:"timestamp"`
	Event        string    `json:"event"`
	Message      string    `json:"message"`
}

// Transition is a tracked migration of open positions from one venue to another
type Transition struct {
	ID           string   `json:"id"`
	FromExchange string   `json:"from_exchange"`
	ToExchange   string   `json:"to_exchange"`
	Strategy     Strategy `json:"strategy"`
	// EscalatedTo is the strategy actually executed after an escalation
	EscalatedTo Strategy         `json:"escalated_to,omitempty"`
	Status      TransitionStatus `json:"status"`

	TotalPositions     int `json:"total_positions"`
	PositionsClosed    int `json:"positions_closed"`
	PositionsRemaining int `json:"positions_remaining"`
	PositionsInProfit  int `json:"positions_in_profit"`
	PositionsInLoss    int `json:"positions_in_loss"`

	StartedAt              time.Time  `json:"started_at"`
	CompletedAt            *time.Time `json:"completed_at,omitempty"`
	ManualOverrideApproved bool       `json:"manual_override_approved"`
	LastWarningAt          *time.Time `json:"last_warning_at,omitempty"`

	TotalPnL    float64 `json:"total_pnl"`
	TotalPnLPct float64 `json:"total_pnl_pct"`

	// CloseFailures counts failed close attempts per position id
	CloseFailures map[string]int `json:"close_failures,omitempty"`

	// Log holds the most recent MaxLogEntries entries
	Log []LogEntry `json:"log,omitempty"`
}

// EffectiveStrategy is the strategy in force after any escalation
func (t *Transition) EffectiveStrategy() Strategy {
	if t.EscalatedTo != "" {
		return t.EscalatedTo
	}
	return t.Strategy
}

// Elapsed is the time since the transition started
func (t *Transition) Elapsed(now time.Time) time.Duration {
	return now.Sub(t.StartedAt)
}

func (t *Transition) appendLog(entry LogEntry) {
	t.Log = append(t.Log, entry)
	if len(t.Log) > MaxLogEntries {
		t.Log = append([]LogEntry(nil), t.Log[len(t.Log)-MaxLogEntries:]...)
	}
}

// TransitionConfig holds configuration for transition management
type TransitionConfig struct {
	// SLTightenPct moves a losing position's stop this share of the way toward the mark
	SLTightenPct float64 `json:"sl_tighten_pct"`
	// Timeout after which WAIT_PROFIT may escalate
	Timeout time.Duration `json:"timeout"`
	// EmergencyLossPct is the average unrealized P&L (negative) that escalates WAIT_PROFIT
	EmergencyLossPct  float64       `json:"emergency_loss_pct"`
	MaxCloseFailures  int           `json:"max_close_failures"`
	ManualWarnAfter   time.Duration `json:"manual_warn_after"`
	ManualCancelAfter time.Duration `json:"manual_cancel_after"`
	// WarningInterval spaces repeated MANUAL approval warnings
	WarningInterval time.Duration `json:"warning_interval"`
}

// DefaultTransitionConfig returns default transition configuration
func DefaultTransitionConfig() TransitionConfig {
	return TransitionConfig{
		SLTightenPct:      50,
		Timeout:           24 * time.Hour,
		EmergencyLossPct:  -3,
		MaxCloseFailures:  20,
		ManualWarnAfter:   24 * time.Hour,
		ManualCancelAfter: 48 * time.Hour,
		WarningInterval:   4 * time.Hour,
	}
}

func (c TransitionConfig) withDefaults() TransitionConfig {
	d := DefaultTransitionConfig()
	if c.SLTightenPct <= 0 || c.SLTightenPct >= 100 {
		c.SLTightenPct = d.SLTightenPct
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.EmergencyLossPct == 0 {
		c.EmergencyLossPct = d.EmergencyLossPct
	}
	if c.EmergencyLossPct > 0 {
		c.EmergencyLossPct = -c.EmergencyLossPct
	}
	if c.MaxCloseFailures <= 0 {
		c.MaxCloseFailures = d.MaxCloseFailures
	}
	if c.ManualWarnAfter <= 0 {
		c.ManualWarnAfter = d.ManualWarnAfter
	}
	if c.ManualCancelAfter <= 0 {
		c.ManualCancelAfter = d.ManualCancelAfter
	}
	if c.WarningInterval <= 0 {
		c.WarningInterval = d.WarningInterval
	}
	return c
}

// Store persists transitions and their append-only log
type Store interface {
	CreateTransition(ctx context.Context, t *Transition) error
	UpdateTransition(ctx context.Context, t *Transition) error
	// GetTransition returns ErrNotFound for an unknown id
	GetTransition(ctx context.Context, id string) (*Transition, error)
	// ActiveTransition returns nil with no error when nothing is active
	ActiveTransition(ctx context.Context) (*Transition, error)
	// LastCompletedTransition returns nil with no error when none completed yet
	LastCompletedTransition(ctx context.Context) (*Transition, error)
	// ReleasedVenues returns, sorted, the source venue of every cancelled or
	// failed transition toward to started after the last transition toward
	// any other venue
	ReleasedVenues(ctx context.Context, to string) ([]string, error)
	AppendLog(ctx context.Context, entry LogEntry) error
	// TransitionLog returns the last limit entries in order
	TransitionLog(ctx context.Context, id string, limit int) ([]LogEntry, error)
}

// PositionLedger is the position view the manager reads and marks
type PositionLedger interface {
	// OpenPositions lists open positions on venue; an empty venue lists all
	OpenPositions(ctx context.Context, venue string) ([]*types.PositionRecord, error)
	// TransitionPositions lists every position, open or closed, tagged with the transition id
	TransitionPositions(ctx context.Context, transitionID string) ([]*types.PositionRecord, error)
	SavePosition(ctx context.Context, pos *types.PositionRecord) error
}

// AdapterResolver returns the adapter of a venue; exchange.Registry implements it
type AdapterResolver interface {
	Get(name string) (exchange.ExecutionAdapter, error)
}
