package transition

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ducminhle1904/crypto-risk-core/internal/logger"
	"github.com/ducminhle1904/crypto-risk-core/internal/monitoring"
	"github.com/ducminhle1904/crypto-risk-core/internal/notifications"
	"github.com/ducminhle1904/crypto-risk-core/pkg/types"
)

// Manager moves open positions off a venue after the configured venue
// changes. At most one transition is active at a time.
type Manager struct {
	config   TransitionConfig
	store    Store
	ledger   PositionLedger
	venues   AdapterResolver
	notifier notifications.Notifier
	log      *logger.Logger
	now      func() time.Time

	mu sync.Mutex
}

// Option customizes a Manager
type Option func(*Manager)

// WithClock replaces the wall clock
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a transition manager
func NewManager(config TransitionConfig, store Store, ledger PositionLedger, venues AdapterResolver, notifier notifications.Notifier, log *logger.Logger, opts ...Option) *Manager {
	if notifier == nil {
		notifier = notifications.Nop{}
	}
	if log == nil {
		log = logger.Nop()
	}
	m := &Manager{
		config:   config.withDefaults(),
		store:    store,
		ledger:   ledger,
		venues:   venues,
		notifier: notifier,
		log:      log.With("transition"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the effective configuration
func (m *Manager) Config() TransitionConfig {
	return m.config
}

// Create starts a transition of every open position on from. With nothing
// open the transition completes at once.
func (m *Manager) Create(ctx context.Context, from, to string, strategy Strategy) (*Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.create(ctx, from, to, strategy)
}

func (m *Manager) create(ctx context.Context, from, to string, strategy Strategy) (*Transition, error) {
	if from == "" || to == "" {
		return nil, fmt.Errorf("transition needs both venues, got %q -> %q", from, to)
	}
	if from == to {
		return nil, fmt.Errorf("transition source and target are both %q", from)
	}
	if !strategy.Valid() {
		return nil, fmt.Errorf("unknown transition strategy %q", strategy)
	}

	active, err := m.store.ActiveTransition(ctx)
	if err != nil {
		return nil, fmt.Errorf("check active transition: %w", err)
	}
	if active != nil {
		return nil, fmt.Errorf("%w: %s (%s -> %s, %s)", ErrTransitionActive, active.ID, active.FromExchange, active.ToExchange, active.Status)
	}

	positions, err := m.ledger.OpenPositions(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("list open positions on %s: %w", from, err)
	}

	now := m.now().UTC()
	t := &Transition{
		ID:                 uuid.NewString(),
		FromExchange:       from,
		ToExchange:         to,
		Strategy:           strategy,
		Status:             TransitionStatusPending,
		TotalPositions:     len(positions),
		PositionsRemaining: len(positions),
		StartedAt:          now,
		CloseFailures:      make(map[string]int),
	}
	if err := m.store.CreateTransition(ctx, t); err != nil {
		return nil, fmt.Errorf("create transition: %w", err)
	}

	for _, pos := range positions {
		pos.InTransition = true
		pos.TransitionID = t.ID
		if err := m.ledger.SavePosition(ctx, pos); err != nil {
			m.log.LogError("mark position "+pos.ID, err)
		}
	}

	m.record(ctx, t, "created", "transition %s -> %s with %s for %d position(s)", from, to, strategy, len(positions))
	monitoring.RecordTransitionState(string(strategy), string(t.Status))
	m.alert(notifications.LevelWarning, "Venue transition %s -> %s started (%s, %d open position(s))", from, to, strategy, len(positions))

	if len(positions) == 0 {
		if err := m.finish(ctx, t, TransitionStatusCompleted, "no open positions on "+from); err != nil {
			return t, err
		}
		return t, nil
	}
	if err := m.store.UpdateTransition(ctx, t); err != nil {
		return t, fmt.Errorf("update transition: %w", err)
	}
	return t, nil
}

// DetectVenueChange starts a transition when open positions sit on a venue
// other than configured, or when the last completed transition targeted a
// different venue. Positions released by any cancelled or failed transition
// toward the configured venue stay where they are until the configured venue
// changes again. It returns nil when there is nothing to move, and
// ErrTransitionActive when a transition toward another venue is still running.
func (m *Manager) DetectVenueChange(ctx context.Context, configured string, strategy Strategy) (*Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	active, err := m.store.ActiveTransition(ctx)
	if err != nil {
		return nil, fmt.Errorf("check active transition: %w", err)
	}
	if active != nil {
		if active.ToExchange == configured {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s already moving to %s, configured venue is %s", ErrTransitionActive, active.ID, active.ToExchange, configured)
	}

	released, err := m.releasedVenues(ctx, configured)
	if err != nil {
		return nil, err
	}

	positions, err := m.ledger.OpenPositions(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}
	seen := make(map[string]bool)
	var candidates []string
	for _, pos := range positions {
		if pos.Venue == configured || pos.Venue == "" || released[pos.Venue] || seen[pos.Venue] {
			continue
		}
		seen[pos.Venue] = true
		candidates = append(candidates, pos.Venue)
	}
	sort.Strings(candidates)

	last, err := m.store.LastCompletedTransition(ctx)
	if err != nil {
		return nil, fmt.Errorf("load last transition: %w", err)
	}
	if last != nil && last.ToExchange != configured && !released[last.ToExchange] && !seen[last.ToExchange] {
		candidates = append([]string{last.ToExchange}, candidates...)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	m.log.Info("Venue change detected: %s -> %s", candidates[0], configured)
	return m.create(ctx, candidates[0], configured, strategy)
}

// ReleasedVenues lists the source venues of the cancelled or failed
// transitions toward configured since it became the target. Their positions
// are left open under normal management.
func (m *Manager) ReleasedVenues(ctx context.Context, configured string) ([]string, error) {
	venues, err := m.store.ReleasedVenues(ctx, configured)
	if err != nil {
		return nil, fmt.Errorf("load released venues: %w", err)
	}
	return venues, nil
}

func (m *Manager) releasedVenues(ctx context.Context, configured string) (map[string]bool, error) {
	venues, err := m.ReleasedVenues(ctx, configured)
	if err != nil {
		return nil, err
	}
	released := make(map[string]bool, len(venues))
	for _, v := range venues {
		released[v] = true
	}
	return released, nil
}

// Tick advances the active transition by one step and returns it, or nil when
// nothing is active.
func (m *Manager) Tick(ctx context.Context) (*Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.store.ActiveTransition(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active transition: %w", err)
	}
	if t == nil {
		return nil, nil
	}
	if t.CloseFailures == nil {
		t.CloseFailures = make(map[string]int)
	}

	adapter, err := m.venues.Get(t.FromExchange)
	if err != nil {
		m.record(ctx, t, "venue_unavailable", "cannot reach %s: %v", t.FromExchange, err)
		return t, fmt.Errorf("resolve venue %s: %w", t.FromExchange, err)
	}

	if t.Status == TransitionStatusPending {
		t.Status = TransitionStatusInProgress
		m.record(ctx, t, "started", "executing %s", t.Strategy)
		monitoring.RecordTransitionState(string(t.Strategy), string(t.Status))
	}

	views, open, err := m.loadViews(ctx, t, adapter)
	if err != nil {
		return t, err
	}
	eval := evaluatePositions(views)
	t.PositionsInProfit = eval.InProfit
	t.PositionsInLoss = eval.InLoss

	now := m.now().UTC()
	plan := m.planTick(t, eval, now)

	if plan.cancel {
		return t, m.finish(ctx, t, TransitionStatusCancelled, plan.reason)
	}
	if plan.warn {
		t.LastWarningAt = &now
		m.record(ctx, t, "approval_warning", "%s", plan.reason)
		m.alert(notifications.LevelWarning, "Transition %s -> %s: %s", t.FromExchange, t.ToExchange, plan.reason)
	}
	if plan.escalate != "" && t.EscalatedTo != plan.escalate {
		t.EscalatedTo = plan.escalate
		m.record(ctx, t, "escalated", "%s escalated to %s: %s", t.Strategy, plan.escalate, plan.reason)
		monitoring.RecordTransitionState(string(plan.escalate), "escalated")
		m.alert(notifications.LevelWarning, "Transition %s -> %s escalated to %s: %s", t.FromExchange, t.ToExchange, plan.escalate, plan.reason)
	}

	closed := 0
	for _, v := range plan.close {
		if m.closeView(ctx, t, adapter, v) {
			closed++
			continue
		}
		if t.CloseFailures[v.record.ID] >= m.config.MaxCloseFailures {
			return t, m.finish(ctx, t, TransitionStatusFailed,
				fmt.Sprintf("%s failed to close %d times", v.record.Symbol, t.CloseFailures[v.record.ID]))
		}
	}
	for _, v := range plan.tighten {
		m.tightenView(ctx, t, adapter, v)
	}

	t.PositionsRemaining = open - closed
	if t.PositionsRemaining <= 0 {
		return t, m.finish(ctx, t, TransitionStatusCompleted, "all positions closed")
	}

	monitoring.UpdateTransitionProgress(t.PositionsClosed, t.PositionsRemaining, t.PositionsInProfit, t.PositionsInLoss)
	if err := m.store.UpdateTransition(ctx, t); err != nil {
		return t, fmt.Errorf("update transition: %w", err)
	}
	return t, nil
}

// Approve lets an active MANUAL transition close its positions on the next tick
func (m *Manager) Approve(ctx context.Context, id string) (*Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.activeByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Strategy != StrategyManual {
		return nil, fmt.Errorf("transition %s uses %s, only MANUAL transitions take an approval", id, t.Strategy)
	}
	if t.ManualOverrideApproved {
		return t, nil
	}
	t.ManualOverrideApproved = true
	m.record(ctx, t, "approved", "manual override approved")
	if err := m.store.UpdateTransition(ctx, t); err != nil {
		return t, fmt.Errorf("update transition: %w", err)
	}
	return t, nil
}

// Cancel stops an active transition and releases its positions
func (m *Manager) Cancel(ctx context.Context, id, reason string) (*Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.activeByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "cancelled by operator"
	}
	return t, m.finish(ctx, t, TransitionStatusCancelled, reason)
}

// Active returns the active transition with its recent log, or nil
func (m *Manager) Active(ctx context.Context) (*Transition, error) {
	t, err := m.store.ActiveTransition(ctx)
	if err != nil || t == nil {
		return nil, err
	}
	return m.withLog(ctx, t)
}

// Get returns a transition with its recent log
func (m *Manager) Get(ctx context.Context, id string) (*Transition, error) {
	t, err := m.store.GetTransition(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.withLog(ctx, t)
}

func (m *Manager) withLog(ctx context.Context, t *Transition) (*Transition, error) {
	entries, err := m.store.TransitionLog(ctx, t.ID, MaxLogEntries)
	if err != nil {
		return nil, fmt.Errorf("load transition log: %w", err)
	}
	t.Log = entries
	return t, nil
}

func (m *Manager) activeByID(ctx context.Context, id string) (*Transition, error) {
	t, err := m.store.GetTransition(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("transition %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	if !t.Status.IsActive() {
		return nil, fmt.Errorf("transition %s is already %s", id, t.Status)
	}
	return t, nil
}

// finish moves t to a terminal status, releases positions still open and
// totals the P&L of the closed ones
func (m *Manager) finish(ctx context.Context, t *Transition, status TransitionStatus, reason string) error {
	now := m.now().UTC()
	t.Status = status
	t.CompletedAt = &now

	records, err := m.ledger.TransitionPositions(ctx, t.ID)
	if err != nil {
		m.log.LogError("load transition positions", err)
	}
	remaining := 0
	pnl, margin := 0.0, 0.0
	for _, rec := range records {
		if rec.IsOpen() {
			remaining++
			rec.InTransition = false
			rec.TransitionID = ""
			if err := m.ledger.SavePosition(ctx, rec); err != nil {
				m.log.LogError("release position "+rec.ID, err)
			}
			continue
		}
		pnl += rec.RealizedPnL
		if rec.ExitPrice > 0 {
			margin += positionMargin(rec)
		}
	}
	if records != nil {
		t.PositionsRemaining = remaining
		t.TotalPnL = pnl
	}
	if margin > 0 {
		t.TotalPnLPct = t.TotalPnL / margin * 100
	}

	m.record(ctx, t, string(status), "%s: closed %d of %d, P&L %.2f (%.2f%%)", reason, t.PositionsClosed, t.TotalPositions, t.TotalPnL, t.TotalPnLPct)
	monitoring.RecordTransitionState(string(t.Strategy), string(status))
	monitoring.UpdateTransitionProgress(t.PositionsClosed, t.PositionsRemaining, t.PositionsInProfit, t.PositionsInLoss)

	level := notifications.LevelInfo
	switch status {
	case TransitionStatusFailed:
		level = notifications.LevelCritical
	case TransitionStatusCancelled:
		level = notifications.LevelWarning
	}
	m.alert(level, "Transition %s -> %s %s: %s (P&L %.2f)", t.FromExchange, t.ToExchange, status, reason, t.TotalPnL)

	if err := m.store.UpdateTransition(ctx, t); err != nil {
		return fmt.Errorf("update transition: %w", err)
	}
	return nil
}

func positionMargin(rec *types.PositionRecord) float64 {
	leverage := float64(rec.Leverage)
	if leverage < 1 {
		leverage = 1
	}
	return rec.EntryPrice * rec.Quantity / leverage
}

// record appends to the audit log; a store failure is logged, never returned
func (m *Manager) record(ctx context.Context, t *Transition, event, format string, args ...interface{}) {
	entry := LogEntry{
		TransitionID: t.ID,
		Timestamp:    m.now().UTC(),
		Event:        event,
		Message:      fmt.Sprintf(format, args...),
	}
	t.appendLog(entry)
	m.log.Info("[%s] %s: %s", shortID(t.ID), event, entry.Message)
	if err := m.store.AppendLog(ctx, entry); err != nil {
		m.log.LogError("append transition log", err)
	}
}

func (m *Manager) alert(level, format string, args ...interface{}) {
	if err := m.notifier.SendAlert(level, fmt.Sprintf(format, args...)); err != nil {
		m.log.Warning("Failed to send %s alert: %v", level, err)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
