package state

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ducminhle1904/crypto-risk-core/internal/risk"
	"github.com/ducminhle1904/crypto-risk-core/internal/transition"
	"github.com/ducminhle1904/crypto-risk-core/pkg/types"
)

// MemoryStore keeps everything in process memory. Used for dry runs and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	transitions map[string]*transition.Transition
	logs        map[string][]transition.LogEntry
	positions   map[string]*types.PositionRecord
	drawdown    map[string]risk.DrawdownState
	decisions   []*types.DecisionRecord
	kv          map[string]string
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transitions: make(map[string]*transition.Transition),
		logs:        make(map[string][]transition.LogEntry),
		positions:   make(map[string]*types.PositionRecord),
		drawdown:    make(map[string]risk.DrawdownState),
		kv:          make(map[string]string),
	}
}

func (s *MemoryStore) CreateTransition(_ context.Context, t *transition.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		return fmt.Errorf("transition id is required")
	}
	if _, ok := s.transitions[t.ID]; ok {
		return fmt.Errorf("transition %s already exists", t.ID)
	}
	s.transitions[t.ID] = cloneTransition(t)
	return nil
}

func (s *MemoryStore) UpdateTransition(_ context.Context, t *transition.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transitions[t.ID]; !ok {
		return fmt.Errorf("update %s: %w", t.ID, transition.ErrNotFound)
	}
	s.transitions[t.ID] = cloneTransition(t)
	return nil
}

func (s *MemoryStore) GetTransition(_ context.Context, id string) (*transition.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transitions[id]
	if !ok {
		return nil, transition.ErrNotFound
	}
	return cloneTransition(t), nil
}

func (s *MemoryStore) ActiveTransition(_ context.Context) (*transition.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var active *transition.Transition
	for _, t := range s.transitions {
		if t.Status.IsActive() && (active == nil || t.StartedAt.After(active.StartedAt)) {
			active = t
		}
	}
	return cloneTransition(active), nil
}

func (s *MemoryStore) LastCompletedTransition(_ context.Context) (*transition.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last *transition.Transition
	for _, t := range s.transitions {
		if t.Status != transition.TransitionStatusCompleted || t.CompletedAt == nil {
			continue
		}
		if last == nil || t.CompletedAt.After(*last.CompletedAt) {
			last = t
		}
	}
	return cloneTransition(last), nil
}

func (s *MemoryStore) ReleasedVenues(_ context.Context, to string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var since time.Time
	for _, t := range s.transitions {
		if t.ToExchange != to && t.StartedAt.After(since) {
			since = t.StartedAt
		}
	}
	seen := make(map[string]bool)
	var venues []string
	for _, t := range s.transitions {
		if t.ToExchange != to || !t.StartedAt.After(since) || seen[t.FromExchange] {
			continue
		}
		if t.Status != transition.TransitionStatusCancelled && t.Status != transition.TransitionStatusFailed {
			continue
		}
		seen[t.FromExchange] = true
		venues = append(venues, t.FromExchange)
	}
	sort.Strings(venues)
	return venues, nil
}

// ListTransitions returns the newest limit transitions, newest first
func (s *MemoryStore) ListTransitions(_ context.Context, limit int) ([]*transition.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*transition.Transition, 0, len(s.transitions))
	for _, t := range s.transitions {
		out = append(out, cloneTransition(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) AppendLog(_ context.Context, entry transition.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[entry.TransitionID] = append(s.logs[entry.TransitionID], entry)
	return nil
}

func (s *MemoryStore) TransitionLog(_ context.Context, id string, limit int) ([]transition.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.logs[id]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return append([]transition.LogEntry(nil), entries...), nil
}

func (s *MemoryStore) SavePosition(_ context.Context, pos *types.PositionRecord) error {
	if pos == nil || pos.ID == "" {
		return fmt.Errorf("position id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[pos.ID] = clonePosition(pos)
	return nil
}

func (s *MemoryStore) Position(_ context.Context, id string) (*types.PositionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clonePosition(s.positions[id]), nil
}

func (s *MemoryStore) OpenPosition(_ context.Context, venue, symbol string) (*types.PositionRecord, error) {
	open := s.filterPositions(func(p *types.PositionRecord) bool {
		return p.IsOpen() && p.Venue == venue && p.Symbol == symbol
	})
	if len(open) == 0 {
		return nil, nil
	}
	return open[len(open)-1], nil
}

func (s *MemoryStore) OpenPositions(_ context.Context, venue string) ([]*types.PositionRecord, error) {
	return s.filterPositions(func(p *types.PositionRecord) bool {
		return p.IsOpen() && (venue == "" || p.Venue == venue)
	}), nil
}

func (s *MemoryStore) TransitionPositions(_ context.Context, transitionID string) ([]*types.PositionRecord, error) {
	if transitionID == "" {
		return nil, nil
	}
	return s.filterPositions(func(p *types.PositionRecord) bool {
		return p.TransitionID == transitionID
	}), nil
}

func (s *MemoryStore) filterPositions(keep func(*types.PositionRecord) bool) []*types.PositionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.PositionRecord
	for _, p := range s.positions {
		if keep(p) {
			out = append(out, clonePosition(p))
		}
	}
	sortPositions(out)
	return out
}

func (s *MemoryStore) UpsertDrawdown(_ context.Context, state risk.DrawdownState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drawdown[state.Date] = state
	return nil
}

func (s *MemoryStore) LatestDrawdown(_ context.Context) (*risk.DrawdownState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := ""
	for date := range s.drawdown {
		if date > latest {
			latest = date
		}
	}
	if latest == "" {
		return nil, nil
	}
	row := s.drawdown[latest]
	return &row, nil
}

func (s *MemoryStore) SaveDecision(_ context.Context, rec *types.DecisionRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("decision id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *rec
	s.decisions = append(s.decisions, &c)
	return nil
}

func (s *MemoryStore) RecentDecisions(_ context.Context, limit int) ([]*types.DecisionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.DecisionRecord
	for i := len(s.decisions) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		c := *s.decisions[i]
		out = append(out, &c)
	}
	return out, nil
}

func (s *MemoryStore) SetValue(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = value
	return nil
}

func (s *MemoryStore) Value(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.kv[key]
	return v, ok, nil
}

// Close is a no-op
func (s *MemoryStore) Close() error { return nil }
