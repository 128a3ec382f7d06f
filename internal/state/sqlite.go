package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "github.com/ducminhle1904/crypto-risk-core/internal/errors"
	"github.com/ducminhle1904/crypto-risk-core/internal/risk"
	"github.com/ducminhle1904/crypto-risk-core/internal/transition"
	"github.com/ducminhle1904/crypto-risk-core/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS transitions (
	id                       TEXT PRIMARY KEY,
	from_exchange            TEXT NOT NULL,
	to_exchange              TEXT NOT NULL,
	strategy                 TEXT NOT NULL,
	escalated_to             TEXT NOT NULL DEFAULT '',
	status                   TEXT NOT NULL,
	total_positions          INTEGER NOT NULL,
	positions_closed         INTEGER NOT NULL,
	positions_remaining      INTEGER NOT NULL,
	positions_in_profit      INTEGER NOT NULL,
	positions_in_loss        INTEGER NOT NULL,
	started_at               INTEGER NOT NULL,
	completed_at             INTEGER NOT NULL DEFAULT 0,
	manual_override_approved INTEGER NOT NULL DEFAULT 0,
	last_warning_at          INTEGER NOT NULL DEFAULT 0,
	total_pnl                REAL NOT NULL DEFAULT 0,
	total_pnl_pct            REAL NOT NULL DEFAULT 0,
	close_failures           TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_transitions_status ON transitions (status, started_at);

CREATE TABLE IF NOT EXISTS transition_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	transition_id TEXT NOT NULL,
	timestamp     INTEGER NOT NULL,
	event         TEXT NOT NULL,
	message       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transition_log_tid ON transition_log (transition_id, id);
CREATE TRIGGER IF NOT EXISTS transition_log_no_update BEFORE UPDATE ON transition_log
BEGIN
	SELECT RAISE(ABORT, 'transition_log is append-only');
END;
CREATE TRIGGER IF NOT EXISTS transition_log_no_delete BEFORE DELETE ON transition_log
BEGIN
	SELECT RAISE(ABORT, 'transition_log is append-only');
END;

CREATE TABLE IF NOT EXISTS positions (
	id                   TEXT PRIMARY KEY,
	venue                TEXT NOT NULL,
	symbol               TEXT NOT NULL,
	direction            TEXT NOT NULL,
	entry_price          REAL NOT NULL,
	quantity             REAL NOT NULL,
	leverage             INTEGER NOT NULL,
	position_size_pct    REAL NOT NULL,
	stop_loss_pct        REAL NOT NULL,
	take_profit_pct      REAL NOT NULL,
	stop_loss_price      REAL NOT NULL,
	take_profit_price    REAL NOT NULL,
	stop_loss_order_id   TEXT NOT NULL DEFAULT '',
	take_profit_order_id TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL,
	in_transition        INTEGER NOT NULL DEFAULT 0,
	transition_id        TEXT NOT NULL DEFAULT '',
	opened_at            INTEGER NOT NULL,
	closed_at            INTEGER NOT NULL DEFAULT 0,
	exit_price           REAL NOT NULL DEFAULT 0,
	realized_pnl         REAL NOT NULL DEFAULT 0,
	realized_pnl_pct     REAL NOT NULL DEFAULT 0,
	close_reason         TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_positions_open ON positions (status, venue, symbol);
CREATE INDEX IF NOT EXISTS idx_positions_transition ON positions (transition_id);

CREATE TABLE IF NOT EXISTS drawdown_daily (
	date                   TEXT PRIMARY KEY,
	daily_starting_equity  REAL NOT NULL,
	weekly_starting_equity REAL NOT NULL,
	week_start             TEXT NOT NULL,
	current_equity         REAL NOT NULL,
	peak_equity            REAL NOT NULL,
	trading_halted         INTEGER NOT NULL,
	halt_reason            TEXT NOT NULL DEFAULT '',
	updated_at             INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS decisions (
	id         TEXT PRIMARY KEY,
	cycle_id   TEXT NOT NULL,
	symbol     TEXT NOT NULL,
	venue      TEXT NOT NULL,
	accepted   INTEGER NOT NULL,
	executed   INTEGER NOT NULL,
	payload    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_created ON decisions (created_at);

CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

const transitionColumns = `id, from_exchange, to_exchange, strategy, escalated_to, status,
	total_positions, positions_closed, positions_remaining, positions_in_profit, positions_in_loss,
	started_at, completed_at, manual_override_approved, last_warning_at, total_pnl, total_pnl_pct, close_failures`

const positionColumns = `id, venue, symbol, direction, entry_price, quantity, leverage,
	position_size_pct, stop_loss_pct, take_profit_pct, stop_loss_price, take_profit_price,
	stop_loss_order_id, take_profit_order_id, status, in_transition, transition_id,
	opened_at, closed_at, exit_price, realized_pnl, realized_pnl_pct, close_reason`

// SQLiteStore persists the core's state in a single SQLite file
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and applies the schema
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, apperrors.NewPersistenceError("state", "mkdir", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, apperrors.NewPersistenceError("state", "open", err)
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperrors.NewPersistenceError("state", "schema", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Transitions ---

func (s *SQLiteStore) CreateTransition(ctx context.Context, t *transition.Transition) error {
	args, err := transitionArgs(t)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO transitions (`+transitionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		return apperrors.NewPersistenceError("state", "create_transition", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateTransition(ctx context.Context, t *transition.Transition) error {
	args, err := transitionArgs(t)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE transitions SET
		from_exchange = ?, to_exchange = ?, strategy = ?, escalated_to = ?, status = ?,
		total_positions = ?, positions_closed = ?, positions_remaining = ?, positions_in_profit = ?, positions_in_loss = ?,
		started_at = ?, completed_at = ?, manual_override_approved = ?, last_warning_at = ?,
		total_pnl = ?, total_pnl_pct = ?, close_failures = ?
		WHERE id = ?`, append(args[1:], args[0])...)
	if err != nil {
		return apperrors.NewPersistenceError("state", "update_transition", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update %s: %w", t.ID, transition.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) GetTransition(ctx context.Context, id string) (*transition.Transition, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transitionColumns+` FROM transitions WHERE id = ?`, id)
	t, err := scanTransition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, transition.ErrNotFound
	}
	return t, err
}

func (s *SQLiteStore) ActiveTransition(ctx context.Context) (*transition.Transition, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transitionColumns+` FROM transitions
		WHERE status IN (?, ?) ORDER BY started_at DESC LIMIT 1`,
		transition.TransitionStatusPending, transition.TransitionStatusInProgress)
	return optionalTransition(scanTransition(row))
}

func (s *SQLiteStore) LastCompletedTransition(ctx context.Context) (*transition.Transition, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transitionColumns+` FROM transitions
		WHERE status = ? ORDER BY completed_at DESC LIMIT 1`, transition.TransitionStatusCompleted)
	return optionalTransition(scanTransition(row))
}

func (s *SQLiteStore) ReleasedVenues(ctx context.Context, to string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT from_exchange FROM transitions
		WHERE to_exchange = ? AND status IN (?, ?)
		AND started_at > COALESCE((SELECT MAX(started_at) FROM transitions WHERE to_exchange != ?), 0)
		ORDER BY from_exchange`,
		to, transition.TransitionStatusCancelled, transition.TransitionStatusFailed, to)
	if err != nil {
		return nil, apperrors.NewPersistenceError("state", "released_venues", err)
	}
	defer rows.Close()

	var venues []string
	for rows.Next() {
		var venue string
		if err := rows.Scan(&venue); err != nil {
			return nil, apperrors.NewPersistenceError("state", "released_venues", err)
		}
		venues = append(venues, venue)
	}
	return venues, rows.Err()
}

func (s *SQLiteStore) ListTransitions(ctx context.Context, limit int) ([]*transition.Transition, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+transitionColumns+` FROM transitions
		ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, apperrors.NewPersistenceError("state", "list_transitions", err)
	}
	defer rows.Close()

	var out []*transition.Transition
	for rows.Next() {
		t, err := scanTransition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendLog(ctx context.Context, entry transition.LogEntry) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO transition_log (transition_id, timestamp, event, message) VALUES (?, ?, ?, ?)`,
		entry.TransitionID, toUnix(entry.Timestamp), entry.Event, entry.Message)
	if err != nil {
		return apperrors.NewPersistenceError("state", "append_log", err)
	}
	return nil
}

func (s *SQLiteStore) TransitionLog(ctx context.Context, id string, limit int) ([]transition.LogEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT transition_id, timestamp, event, message FROM (
		SELECT id, transition_id, timestamp, event, message FROM transition_log
		WHERE transition_id = ? ORDER BY id DESC LIMIT ?
	) ORDER BY id ASC`, id, limit)
	if err != nil {
		return nil, apperrors.NewPersistenceError("state", "transition_log", err)
	}
	defer rows.Close()

	var entries []transition.LogEntry
	for rows.Next() {
		var e transition.LogEntry
		var ts int64
		if err := rows.Scan(&e.TransitionID, &ts, &e.Event, &e.Message); err != nil {
			return nil, apperrors.NewPersistenceError("state", "scan_log", err)
		}
		e.Timestamp = fromUnix(ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Positions ---

func (s *SQLiteStore) SavePosition(ctx context.Context, p *types.PositionRecord) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("position id is required")
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO positions (`+positionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Venue, p.Symbol, string(p.Direction), p.EntryPrice, p.Quantity, p.Leverage,
		p.PositionSizePct, p.StopLossPct, p.TakeProfitPct, p.StopLossPrice, p.TakeProfitPrice,
		p.StopLossOrderID, p.TakeProfitOrderID, string(p.Status), boolInt(p.InTransition), p.TransitionID,
		toUnix(p.OpenedAt), toUnix(p.ClosedAt), p.ExitPrice, p.RealizedPnL, p.RealizedPnLPct, p.CloseReason)
	if err != nil {
		return apperrors.NewPersistenceError("state", "save_position", err)
	}
	return nil
}

func (s *SQLiteStore) Position(ctx context.Context, id string) (*types.PositionRecord, error) {
	positions, err := s.queryPositions(ctx, `WHERE id = ?`, id)
	if err != nil || len(positions) == 0 {
		return nil, err
	}
	return positions[0], nil
}

func (s *SQLiteStore) OpenPosition(ctx context.Context, venue, symbol string) (*types.PositionRecord, error) {
	positions, err := s.queryPositions(ctx, `WHERE status = ? AND venue = ? AND symbol = ?`, types.PositionOpen, venue, symbol)
	if err != nil || len(positions) == 0 {
		return nil, err
	}
	return positions[len(positions)-1], nil
}

func (s *SQLiteStore) OpenPositions(ctx context.Context, venue string) ([]*types.PositionRecord, error) {
	if venue == "" {
		return s.queryPositions(ctx, `WHERE status = ?`, types.PositionOpen)
	}
	return s.queryPositions(ctx, `WHERE status = ? AND venue = ?`, types.PositionOpen, venue)
}

func (s *SQLiteStore) TransitionPositions(ctx context.Context, transitionID string) ([]*types.PositionRecord, error) {
	if transitionID == "" {
		return nil, nil
	}
	return s.queryPositions(ctx, `WHERE transition_id = ?`, transitionID)
}

func (s *SQLiteStore) queryPositions(ctx context.Context, where string, args ...interface{}) ([]*types.PositionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+positionColumns+` FROM positions `+where+` ORDER BY opened_at, id`, args...)
	if err != nil {
		return nil, apperrors.NewPersistenceError("state", "query_positions", err)
	}
	defer rows.Close()

	var out []*types.PositionRecord
	for rows.Next() {
		var p types.PositionRecord
		var direction, status string
		var inTransition int
		var openedAt, closedAt int64
		if err := rows.Scan(&p.ID, &p.Venue, &p.Symbol, &direction, &p.EntryPrice, &p.Quantity, &p.Leverage,
			&p.PositionSizePct, &p.StopLossPct, &p.TakeProfitPct, &p.StopLossPrice, &p.TakeProfitPrice,
			&p.StopLossOrderID, &p.TakeProfitOrderID, &status, &inTransition, &p.TransitionID,
			&openedAt, &closedAt, &p.ExitPrice, &p.RealizedPnL, &p.RealizedPnLPct, &p.CloseReason); err != nil {
			return nil, apperrors.NewPersistenceError("state", "scan_position", err)
		}
		p.Direction = types.Direction(direction)
		p.Status = types.PositionStatus(status)
		p.InTransition = inTransition != 0
		p.OpenedAt = fromUnix(openedAt)
		p.ClosedAt = fromUnix(closedAt)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// --- Drawdown ---

func (s *SQLiteStore) UpsertDrawdown(ctx context.Context, st risk.DrawdownState) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO drawdown_daily (date, daily_starting_equity, weekly_starting_equity,
		week_start, current_equity, peak_equity, trading_halted, halt_reason, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			daily_starting_equity = excluded.daily_starting_equity,
			weekly_starting_equity = excluded.weekly_starting_equity,
			week_start = excluded.week_start,
			current_equity = excluded.current_equity,
			peak_equity = excluded.peak_equity,
			trading_halted = excluded.trading_halted,
			halt_reason = excluded.halt_reason,
			updated_at = excluded.updated_at`,
		st.Date, st.DailyStartingEquity, st.WeeklyStartingEquity, st.WeekStart, st.CurrentEquity,
		st.PeakEquity, boolInt(st.TradingHalted), st.HaltReason, toUnix(st.UpdatedAt))
	if err != nil {
		return apperrors.NewPersistenceError("state", "upsert_drawdown", err)
	}
	return nil
}

func (s *SQLiteStore) LatestDrawdown(ctx context.Context) (*risk.DrawdownState, error) {
	var st risk.DrawdownState
	var halted int
	var updated int64
	err := s.db.QueryRowContext(ctx, `SELECT date, daily_starting_equity, weekly_starting_equity, week_start,
		current_equity, peak_equity, trading_halted, halt_reason, updated_at
		FROM drawdown_daily ORDER BY date DESC LIMIT 1`).
		Scan(&st.Date, &st.DailyStartingEquity, &st.WeeklyStartingEquity, &st.WeekStart,
			&st.CurrentEquity, &st.PeakEquity, &halted, &st.HaltReason, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("state", "latest_drawdown", err)
	}
	st.TradingHalted = halted != 0
	st.UpdatedAt = fromUnix(updated)
	return &st, nil
}

// --- Decisions ---

func (s *SQLiteStore) SaveDecision(ctx context.Context, rec *types.DecisionRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("decision id is required")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO decisions (id, cycle_id, symbol, venue, accepted, executed, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CycleID, rec.Symbol, rec.Venue, boolInt(rec.Accepted), boolInt(rec.Executed), string(payload), toUnix(rec.CreatedAt))
	if err != nil {
		return apperrors.NewPersistenceError("state", "save_decision", err)
	}
	return nil
}

func (s *SQLiteStore) RecentDecisions(ctx context.Context, limit int) ([]*types.DecisionRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM decisions ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, apperrors.NewPersistenceError("state", "recent_decisions", err)
	}
	defer rows.Close()

	var out []*types.DecisionRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, apperrors.NewPersistenceError("state", "scan_decision", err)
		}
		var rec types.DecisionRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("decode decision: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// --- Key/value ---

func (s *SQLiteStore) SetValue(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixNano())
	if err != nil {
		return apperrors.NewPersistenceError("state", "set_value", err)
	}
	return nil
}

func (s *SQLiteStore) Value(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.NewPersistenceError("state", "value", err)
	}
	return value, true, nil
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func transitionArgs(t *transition.Transition) ([]interface{}, error) {
	failures := t.CloseFailures
	if failures == nil {
		failures = map[string]int{}
	}
	encoded, err := json.Marshal(failures)
	if err != nil {
		return nil, fmt.Errorf("marshal close failures: %w", err)
	}
	return []interface{}{
		t.ID, t.FromExchange, t.ToExchange, string(t.Strategy), string(t.EscalatedTo), string(t.Status),
		t.TotalPositions, t.PositionsClosed, t.PositionsRemaining, t.PositionsInProfit, t.PositionsInLoss,
		toUnix(t.StartedAt), toUnixPtr(t.CompletedAt), boolInt(t.ManualOverrideApproved), toUnixPtr(t.LastWarningAt),
		t.TotalPnL, t.TotalPnLPct, string(encoded),
	}, nil
}

func scanTransition(row rowScanner) (*transition.Transition, error) {
	var t transition.Transition
	var strategy, escalated, status, failures string
	var started, completed, warned int64
	var approved int
	err := row.Scan(&t.ID, &t.FromExchange, &t.ToExchange, &strategy, &escalated, &status,
		&t.TotalPositions, &t.PositionsClosed, &t.PositionsRemaining, &t.PositionsInProfit, &t.PositionsInLoss,
		&started, &completed, &approved, &warned, &t.TotalPnL, &t.TotalPnLPct, &failures)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, apperrors.NewPersistenceError("state", "scan_transition", err)
	}
	t.Strategy = transition.Strategy(strategy)
	t.EscalatedTo = transition.Strategy(escalated)
	t.Status = transition.TransitionStatus(status)
	t.StartedAt = fromUnix(started)
	t.CompletedAt = fromUnixPtr(completed)
	t.LastWarningAt = fromUnixPtr(warned)
	t.ManualOverrideApproved = approved != 0
	t.CloseFailures = make(map[string]int)
	if err := json.Unmarshal([]byte(failures), &t.CloseFailures); err != nil {
		return nil, fmt.Errorf("decode close failures of %s: %w", t.ID, err)
	}
	return &t, nil
}

func optionalTransition(t *transition.Transition, err error) (*transition.Transition, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// times are stored as UTC unix nanoseconds, 0 for unset
func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func toUnixPtr(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return toUnix(*t)
}

func fromUnixPtr(n int64) *time.Time {
	if n == 0 {
		return nil
	}
	t := fromUnix(n)
	return &t
}
