// Package redis implements switchboard.SessionStore on Redis, storing each
// session as one JSON value with a sliding TTL. WATCH/MULTI/EXEC guards
// every read-modify-write so concurrent turns on the same session cannot
// lose updates.
package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mirako/switchboard"
)

const (
	// Redis key prefix for sessions
	sessionKeyPrefix = "switchboard:session:"
	// Default TTL for session keys (30 minutes of inactivity)
	defaultTTL = 30 * time.Minute
	// Retries when a WATCH transaction loses a race
	maxTxRetries = 5
)

// Store implements switchboard.SessionStore backed by Redis.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

var _ switchboard.SessionStore = (*Store)(nil)

// New creates a Redis-backed session store. A non-positive ttl selects the
// default of 30 minutes.
func New(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{client: client, ttl: ttl}
}

func (s *Store) key(id string) string { return sessionKeyPrefix + id }

// Load returns the session state, creating an empty session on first use.
// Refreshes TTL on every read.
func (s *Store) Load(ctx context.Context, sessionID string) (*switchboard.SessionState, error) {
	key := s.key(sessionID)
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		now := switchboard.NowUnix()
		return &switchboard.SessionState{
			ID:        sessionID,
			Params:    map[string]string{},
			CreatedAt: now,
			UpdatedAt: now,
		}, nil
	}
	if err != nil {
		return nil, &switchboard.ErrBackend{Backend: "redis", Message: err.Error()}
	}

	var state switchboard.SessionState
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return nil, &switchboard.ErrBackend{Backend: "redis", Message: "corrupt session: " + err.Error()}
	}
	if state.Params == nil {
		state.Params = map[string]string{}
	}
	_ = s.client.Expire(ctx, key, s.ttl).Err() // best-effort TTL refresh
	return &state, nil
}

// mutate applies fn to the session under WATCH so a concurrent writer forces
// a retry instead of a lost update.
func (s *Store) mutate(ctx context.Context, sessionID string, fn func(*switchboard.SessionState)) error {
	key := s.key(sessionID)
	txn := func(tx *redis.Tx) error {
		state := &switchboard.SessionState{ID: sessionID, Params: map[string]string{}}
		val, err := tx.Get(ctx, key).Result()
		switch {
		case err == redis.Nil:
			state.CreatedAt = switchboard.NowUnix()
		case err != nil:
			return err
		default:
			if err := json.Unmarshal([]byte(val), state); err != nil {
				return err
			}
			if state.Params == nil {
				state.Params = map[string]string{}
			}
		}

		fn(state)
		state.UpdatedAt = switchboard.NowUnix()

		encoded, err := json.Marshal(state)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, s.ttl)
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < maxTxRetries; i++ {
		err = s.client.Watch(ctx, txn, key)
		if err != redis.TxFailedErr {
			break
		}
	}
	if err != nil {
		return &switchboard.ErrBackend{Backend: "redis", Message: err.Error()}
	}
	return nil
}

func (s *Store) Append(ctx context.Context, sessionID string, msg switchboard.Message) error {
	return s.mutate(ctx, sessionID, func(st *switchboard.SessionState) {
		st.History = append(st.History, msg)
	})
}

func (s *Store) MergeParams(ctx context.Context, sessionID string, params map[string]string) error {
	if len(params) == 0 {
		return nil
	}
	return s.mutate(ctx, sessionID, func(st *switchboard.SessionState) {
		for k, v := range params {
			if v != "" {
				st.Params[k] = v
			}
		}
	})
}

func (s *Store) SetWaiting(ctx context.Context, sessionID, param string) error {
	return s.mutate(ctx, sessionID, func(st *switchboard.SessionState) {
		switch {
		case param == "":
			st.WaitingForParam = ""
			st.AskAttempts = 0
		case param == st.WaitingForParam:
			st.AskAttempts++
		default:
			st.WaitingForParam = param
			st.AskAttempts = 1
		}
	})
}

func (s *Store) SetPending(ctx context.Context, sessionID string, exec *switchboard.PlanExecution) error {
	return s.mutate(ctx, sessionID, func(st *switchboard.SessionState) {
		st.Pending = exec
	})
}

func (s *Store) SetResult(ctx context.Context, sessionID, intentID string, result *switchboard.ToolResult) error {
	return s.mutate(ctx, sessionID, func(st *switchboard.SessionState) {
		st.LastIntentID = intentID
		st.LastResult = result
	})
}

func (s *Store) Prune(ctx context.Context, sessionID string, max int) error {
	if max <= 0 {
		return nil
	}
	return s.mutate(ctx, sessionID, func(st *switchboard.SessionState) {
		if len(st.History) > max {
			st.History = append([]switchboard.Message(nil), st.History[len(st.History)-max:]...)
		}
	})
}

// Clear deletes the session key entirely; the next Load starts fresh.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return &switchboard.ErrBackend{Backend: "redis", Message: err.Error()}
	}
	return nil
}
