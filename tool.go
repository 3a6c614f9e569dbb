package switchboard

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ToolFunc is a registered tool handler. Handlers receive validated
// parameters and report faults through ToolResult.Error, not panics.
type ToolFunc func(ctx context.Context, params map[string]string) ToolResult

// Executor runs a proposed tool action. The in-process ToolRegistry is the
// default implementation; remote executors satisfy the same interface.
type Executor interface {
	Execute(ctx context.Context, req ToolRequest) ToolResult
}

// Key derives the idempotency identity of a request from its intent and
// parameters. Two requests with the same key are the same action.
func (r ToolRequest) Key() string {
	names := make([]string, 0, len(r.Params))
	for k := range r.Params {
		names = append(names, k)
	}
	sort.Strings(names)
	h := fnv.New64a()
	h.Write([]byte(r.IntentID))
	for _, k := range names {
		fmt.Fprintf(h, "|%s=%s", k, r.Params[k])
	}
	return fmt.Sprintf("%s:%x", r.IntentID, h.Sum64())
}

// defaultDedupTTL bounds how long a mutating tool's successful result
// answers duplicate requests. Long enough to absorb retried turns, short
// enough that a genuine later repeat of the same action runs again.
const defaultDedupTTL = 10 * time.Minute

// ToolRegistry holds named tool handlers and dispatches execution. Tools
// registered as mutating get duplicate suppression: a successful result is
// remembered by request key for a bounded window, so a retried turn
// short-circuits instead of repeating the side effect. Read-only tools
// always reach their handler.
type ToolRegistry struct {
	mu       sync.RWMutex
	handlers map[string]toolHandler
	done     map[string]doneEntry
	dedupTTL time.Duration
	logger   *slog.Logger
}

type toolHandler struct {
	fn       ToolFunc
	mutating bool
}

type doneEntry struct {
	result  ToolResult
	expires time.Time
}

// ToolRegistryOption configures a ToolRegistry.
type ToolRegistryOption func(*ToolRegistry)

// WithToolLogger sets the structured logger for executions.
func WithToolLogger(l *slog.Logger) ToolRegistryOption {
	return func(r *ToolRegistry) { r.logger = l }
}

// WithDedupTTL overrides the duplicate-suppression window for mutating tools.
func WithDedupTTL(d time.Duration) ToolRegistryOption {
	return func(r *ToolRegistry) { r.dedupTTL = d }
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry(opts ...ToolRegistryOption) *ToolRegistry {
	r := &ToolRegistry{
		handlers: make(map[string]toolHandler),
		done:     make(map[string]doneEntry),
		dedupTTL: defaultDedupTTL,
		logger:   nopLogger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a read-only handler under the given tool name, replacing any
// previous registration. Called once per tool at startup.
func (r *ToolRegistry) Register(name string, fn ToolFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = toolHandler{fn: fn}
}

// RegisterMutating adds a handler with a side effect (refunds, tickets).
// Duplicate requests within the dedup window return the first successful
// result instead of repeating the action.
func (r *ToolRegistry) RegisterMutating(name string, fn ToolFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = toolHandler{fn: fn, mutating: true}
}

// Execute dispatches a tool request. An unknown tool or handler fault is
// reported in the result, never as a panic or Go error: the runner owns
// turning results into user-facing text.
func (r *ToolRegistry) Execute(ctx context.Context, req ToolRequest) ToolResult {
	r.mu.RLock()
	h, ok := r.handlers[req.Tool]
	r.mu.RUnlock()
	if !ok {
		return ToolResult{Success: false, Error: "unknown tool: " + req.Tool}
	}

	key := req.Key()
	if h.mutating {
		r.mu.RLock()
		entry, dup := r.done[key]
		r.mu.RUnlock()
		if dup && time.Now().Before(entry.expires) {
			r.logger.Debug("duplicate tool request short-circuited", "tool", req.Tool, "key", key)
			return entry.result
		}
	}

	start := time.Now()
	result := h.fn(ctx, req.Params)
	result.ExecutionTimeMS = time.Since(start).Milliseconds()

	r.logger.Info("tool executed",
		"tool", req.Tool,
		"intent", req.IntentID,
		"success", result.Success,
		"duration_ms", result.ExecutionTimeMS)

	if h.mutating && result.Success {
		now := time.Now()
		r.mu.Lock()
		for k, e := range r.done {
			if now.After(e.expires) {
				delete(r.done, k)
			}
		}
		r.done[key] = doneEntry{result: result, expires: now.Add(r.dedupTTL)}
		r.mu.Unlock()
	}
	return result
}

// compile-time check
var _ Executor = (*ToolRegistry)(nil)
