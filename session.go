package switchboard

import (
	"context"
	"sync"
)

// SessionState is the durable per-conversation state. At most one
// WaitingForParam is active at a time; it is cleared exactly when the named
// parameter is merged or when the session is reset.
type SessionState struct {
	ID      string            `json:"id"`
	History []Message         `json:"history"`
	Params  map[string]string `json:"params"`

	// WaitingForParam names the single parameter the session is blocked on,
	// empty when not waiting. AskAttempts counts consecutive asks for that
	// parameter so the router can escalate instead of looping forever.
	WaitingForParam string `json:"waiting_for_param,omitempty"`
	AskAttempts     int    `json:"ask_attempts,omitempty"`

	LastIntentID string         `json:"last_intent_id,omitempty"`
	LastResult   *ToolResult    `json:"last_result,omitempty"`
	Pending      *PlanExecution `json:"pending,omitempty"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// Clone returns a deep copy so callers can read state without aliasing the
// store's copy.
func (s *SessionState) Clone() *SessionState {
	if s == nil {
		return nil
	}
	out := *s
	out.History = make([]Message, len(s.History))
	copy(out.History, s.History)
	out.Params = make(map[string]string, len(s.Params))
	for k, v := range s.Params {
		out.Params[k] = v
	}
	if s.LastResult != nil {
		lr := *s.LastResult
		out.LastResult = &lr
	}
	if s.Pending != nil {
		p := *s.Pending
		p.Steps = make([]StepState, len(s.Pending.Steps))
		copy(p.Steps, s.Pending.Steps)
		out.Pending = &p
	}
	return &out
}

// SessionStore persists per-session conversation state. Implementations must
// serialize writers to the same session id; cross-session calls may run
// concurrently. Load creates the session lazily on first access.
//
// Only the Router mutates sessions. Durable implementations live in
// store/sqlite and store/redis; MemoryStore is the in-process reference.
type SessionStore interface {
	Load(ctx context.Context, sessionID string) (*SessionState, error)
	Append(ctx context.Context, sessionID string, msg Message) error
	MergeParams(ctx context.Context, sessionID string, params map[string]string) error

	// SetWaiting marks the session blocked on one parameter. Setting the
	// parameter it is already waiting on increments AskAttempts; a different
	// parameter resets the count to 1; the empty string clears both.
	SetWaiting(ctx context.Context, sessionID, param string) error

	// SetPending stores (or clears, with nil) the resumable plan snapshot.
	SetPending(ctx context.Context, sessionID string, exec *PlanExecution) error

	// SetResult records the last classified intent and tool outcome.
	SetResult(ctx context.Context, sessionID, intentID string, result *ToolResult) error

	// Prune drops the oldest history entries beyond max. Zero max disables.
	Prune(ctx context.Context, sessionID string, max int) error

	// Clear resets the session to empty: history, params, waiting state.
	Clear(ctx context.Context, sessionID string) error
}

// MemoryStore is an in-process SessionStore. A single mutex serializes all
// writers, which satisfies the single-writer-per-session discipline; state
// handed out by Load is a deep copy.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*SessionState
}

// NewMemoryStore creates an empty in-process session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*SessionState)}
}

// get returns the live session, creating it lazily. Caller holds mu.
func (m *MemoryStore) get(id string) *SessionState {
	s, ok := m.sessions[id]
	if !ok {
		now := NowUnix()
		s = &SessionState{ID: id, Params: make(map[string]string), CreatedAt: now, UpdatedAt: now}
		m.sessions[id] = s
	}
	return s
}

func (m *MemoryStore) Load(_ context.Context, sessionID string) (*SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(sessionID).Clone(), nil
}

func (m *MemoryStore) Append(_ context.Context, sessionID string, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(sessionID)
	s.History = append(s.History, msg)
	s.UpdatedAt = NowUnix()
	return nil
}

func (m *MemoryStore) MergeParams(_ context.Context, sessionID string, params map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(sessionID)
	for k, v := range params {
		s.Params[k] = v
	}
	s.UpdatedAt = NowUnix()
	return nil
}

func (m *MemoryStore) SetWaiting(_ context.Context, sessionID, param string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(sessionID)
	switch {
	case param == "":
		s.WaitingForParam = ""
		s.AskAttempts = 0
	case param == s.WaitingForParam:
		s.AskAttempts++
	default:
		s.WaitingForParam = param
		s.AskAttempts = 1
	}
	s.UpdatedAt = NowUnix()
	return nil
}

func (m *MemoryStore) SetPending(_ context.Context, sessionID string, exec *PlanExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(sessionID)
	s.Pending = exec
	s.UpdatedAt = NowUnix()
	return nil
}

func (m *MemoryStore) SetResult(_ context.Context, sessionID, intentID string, result *ToolResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(sessionID)
	s.LastIntentID = intentID
	s.LastResult = result
	s.UpdatedAt = NowUnix()
	return nil
}

func (m *MemoryStore) Prune(_ context.Context, sessionID string, max int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(sessionID)
	if max > 0 && len(s.History) > max {
		s.History = append([]Message(nil), s.History[len(s.History)-max:]...)
	}
	return nil
}

func (m *MemoryStore) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := NowUnix()
	m.sessions[sessionID] = &SessionState{ID: sessionID, Params: make(map[string]string), CreatedAt: now, UpdatedAt: now}
	return nil
}

// compile-time check
var _ SessionStore = (*MemoryStore)(nil)
