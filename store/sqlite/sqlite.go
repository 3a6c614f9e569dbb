// Package sqlite implements switchboard.SessionStore and a telemetry event
// log using pure-Go SQLite. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mirako/switchboard"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. When set, the store
// emits debug logs for every operation including timing and key parameters.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements switchboard.SessionStore backed by a local SQLite file.
// Sessions are stored as one row each, with history, params, and the
// pending plan serialized as JSON text.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ switchboard.SessionStore = (*Store)(nil)
var _ switchboard.TelemetrySink = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	tables := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			history TEXT NOT NULL DEFAULT '[]',
			params TEXT NOT NULL DEFAULT '{}',
			waiting_for_param TEXT NOT NULL DEFAULT '',
			ask_attempts INTEGER NOT NULL DEFAULT 0,
			last_intent_id TEXT NOT NULL DEFAULT '',
			last_result TEXT,
			pending TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS telemetry_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			interaction_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			stage TEXT NOT NULL,
			level TEXT NOT NULL,
			payload TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_telemetry_session ON telemetry_events(session_id, ts)`,
	}
	for _, q := range tables {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return &switchboard.ErrBackend{Backend: "sqlite", Message: err.Error()}
		}
	}
	s.logger.Debug("sqlite: init done", "duration", time.Since(start))
	return nil
}

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// sessionRow is the JSON-column view of one session.
type sessionRow struct {
	history  string
	params   string
	waiting  string
	attempts int
	intentID string
	result   sql.NullString
	pending  sql.NullString
	created  int64
	updated  int64
}

func (s *Store) load(ctx context.Context, id string) (*switchboard.SessionState, error) {
	var row sessionRow
	err := s.db.QueryRowContext(ctx,
		`SELECT history, params, waiting_for_param, ask_attempts, last_intent_id,
		        last_result, pending, created_at, updated_at
		 FROM sessions WHERE id = ?`, id).
		Scan(&row.history, &row.params, &row.waiting, &row.attempts, &row.intentID,
			&row.result, &row.pending, &row.created, &row.updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &switchboard.ErrBackend{Backend: "sqlite", Message: err.Error()}
	}

	state := &switchboard.SessionState{
		ID:              id,
		WaitingForParam: row.waiting,
		AskAttempts:     row.attempts,
		LastIntentID:    row.intentID,
		CreatedAt:       row.created,
		UpdatedAt:       row.updated,
	}
	if err := json.Unmarshal([]byte(row.history), &state.History); err != nil {
		return nil, &switchboard.ErrBackend{Backend: "sqlite", Message: "corrupt history: " + err.Error()}
	}
	if err := json.Unmarshal([]byte(row.params), &state.Params); err != nil {
		return nil, &switchboard.ErrBackend{Backend: "sqlite", Message: "corrupt params: " + err.Error()}
	}
	if row.result.Valid && row.result.String != "" {
		state.LastResult = &switchboard.ToolResult{}
		if err := json.Unmarshal([]byte(row.result.String), state.LastResult); err != nil {
			return nil, &switchboard.ErrBackend{Backend: "sqlite", Message: "corrupt result: " + err.Error()}
		}
	}
	if row.pending.Valid && row.pending.String != "" {
		state.Pending = &switchboard.PlanExecution{}
		if err := json.Unmarshal([]byte(row.pending.String), state.Pending); err != nil {
			return nil, &switchboard.ErrBackend{Backend: "sqlite", Message: "corrupt pending plan: " + err.Error()}
		}
	}
	return state, nil
}

// ensure inserts an empty session row when none exists yet.
func (s *Store) ensure(ctx context.Context, id string) error {
	now := switchboard.NowUnix()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`, id, now, now)
	if err != nil {
		return &switchboard.ErrBackend{Backend: "sqlite", Message: err.Error()}
	}
	return nil
}

// Load returns the session state, creating an empty session on first use.
func (s *Store) Load(ctx context.Context, id string) (*switchboard.SessionState, error) {
	state, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if state == nil {
		now := switchboard.NowUnix()
		return &switchboard.SessionState{
			ID:        id,
			Params:    map[string]string{},
			CreatedAt: now,
			UpdatedAt: now,
		}, nil
	}
	if state.Params == nil {
		state.Params = map[string]string{}
	}
	return state, nil
}

// Append adds a message to the session history.
func (s *Store) Append(ctx context.Context, id string, msg switchboard.Message) error {
	if err := s.ensure(ctx, id); err != nil {
		return err
	}
	state, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	history, err := json.Marshal(append(state.History, msg))
	if err != nil {
		return &switchboard.ErrBackend{Backend: "sqlite", Message: err.Error()}
	}
	return s.exec(ctx, `UPDATE sessions SET history = ?, updated_at = ? WHERE id = ?`,
		string(history), switchboard.NowUnix(), id)
}

// MergeParams folds the given parameters into the session's known set.
// Empty values never overwrite existing ones.
func (s *Store) MergeParams(ctx context.Context, id string, params map[string]string) error {
	if len(params) == 0 {
		return nil
	}
	if err := s.ensure(ctx, id); err != nil {
		return err
	}
	state, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if state.Params == nil {
		state.Params = map[string]string{}
	}
	for k, v := range params {
		if v != "" {
			state.Params[k] = v
		}
	}
	merged, err := json.Marshal(state.Params)
	if err != nil {
		return &switchboard.ErrBackend{Backend: "sqlite", Message: err.Error()}
	}
	return s.exec(ctx, `UPDATE sessions SET params = ?, updated_at = ? WHERE id = ?`,
		string(merged), switchboard.NowUnix(), id)
}

// SetWaiting marks the parameter the session waits on. Setting the same
// parameter again increments the ask counter; a different parameter resets
// it to 1; empty clears both.
func (s *Store) SetWaiting(ctx context.Context, id, param string) error {
	if err := s.ensure(ctx, id); err != nil {
		return err
	}
	state, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	attempts := 0
	switch {
	case param == "":
	case param == state.WaitingForParam:
		attempts = state.AskAttempts + 1
	default:
		attempts = 1
	}
	return s.exec(ctx,
		`UPDATE sessions SET waiting_for_param = ?, ask_attempts = ?, updated_at = ? WHERE id = ?`,
		param, attempts, switchboard.NowUnix(), id)
}

// SetPending persists the suspended plan execution; nil clears it.
func (s *Store) SetPending(ctx context.Context, id string, exec *switchboard.PlanExecution) error {
	if err := s.ensure(ctx, id); err != nil {
		return err
	}
	var encoded sql.NullString
	if exec != nil {
		data, err := json.Marshal(exec)
		if err != nil {
			return &switchboard.ErrBackend{Backend: "sqlite", Message: err.Error()}
		}
		encoded = sql.NullString{String: string(data), Valid: true}
	}
	return s.exec(ctx, `UPDATE sessions SET pending = ?, updated_at = ? WHERE id = ?`,
		encoded, switchboard.NowUnix(), id)
}

// SetResult records the intent and tool result of the last completed turn.
func (s *Store) SetResult(ctx context.Context, id, intentID string, result *switchboard.ToolResult) error {
	if err := s.ensure(ctx, id); err != nil {
		return err
	}
	var encoded sql.NullString
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return &switchboard.ErrBackend{Backend: "sqlite", Message: err.Error()}
		}
		encoded = sql.NullString{String: string(data), Valid: true}
	}
	return s.exec(ctx,
		`UPDATE sessions SET last_intent_id = ?, last_result = ?, updated_at = ? WHERE id = ?`,
		intentID, encoded, switchboard.NowUnix(), id)
}

// Prune keeps only the newest max history messages.
func (s *Store) Prune(ctx context.Context, id string, max int) error {
	if max <= 0 {
		return nil
	}
	state, err := s.load(ctx, id)
	if err != nil || state == nil {
		return err
	}
	if len(state.History) <= max {
		return nil
	}
	trimmed, err := json.Marshal(state.History[len(state.History)-max:])
	if err != nil {
		return &switchboard.ErrBackend{Backend: "sqlite", Message: err.Error()}
	}
	return s.exec(ctx, `UPDATE sessions SET history = ?, updated_at = ? WHERE id = ?`,
		string(trimmed), switchboard.NowUnix(), id)
}

// Clear deletes the session entirely.
func (s *Store) Clear(ctx context.Context, id string) error {
	return s.exec(ctx, `DELETE FROM sessions WHERE id = ?`, id)
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return &switchboard.ErrBackend{Backend: "sqlite", Message: err.Error()}
	}
	return nil
}

// Record appends a telemetry event to the durable event log, making the
// store usable as a Pipeline sink.
func (s *Store) Record(ctx context.Context, event switchboard.TelemetryEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return &switchboard.ErrBackend{Backend: "sqlite", Message: err.Error()}
	}
	return s.exec(ctx,
		`INSERT INTO telemetry_events (ts, interaction_id, session_id, stage, level, payload)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.Timestamp, event.InteractionID, event.SessionID, string(event.Stage), event.Level, string(payload))
}

// Events returns the stored telemetry events for a session in emission order.
func (s *Store) Events(ctx context.Context, sessionID string) ([]switchboard.TelemetryEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, interaction_id, session_id, stage, level, payload
		 FROM telemetry_events WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, &switchboard.ErrBackend{Backend: "sqlite", Message: err.Error()}
	}
	defer rows.Close()

	var out []switchboard.TelemetryEvent
	for rows.Next() {
		var ev switchboard.TelemetryEvent
		var stage, payload string
		if err := rows.Scan(&ev.Timestamp, &ev.InteractionID, &ev.SessionID, &stage, &ev.Level, &payload); err != nil {
			return nil, &switchboard.ErrBackend{Backend: "sqlite", Message: err.Error()}
		}
		ev.Stage = switchboard.Stage(stage)
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			return nil, &switchboard.ErrBackend{Backend: "sqlite", Message: "corrupt payload: " + err.Error()}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
