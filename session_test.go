package switchboard

import (
	"context"
	"testing"
)

func TestMemoryStoreLazyCreate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	state, err := store.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.ID != "s1" {
		t.Errorf("ID = %q, want s1", state.ID)
	}
	if len(state.History) != 0 || len(state.Params) != 0 {
		t.Error("new session should be empty")
	}
	if state.CreatedAt == 0 {
		t.Error("CreatedAt not stamped")
	}
}

func TestMemoryStoreLoadReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Append(ctx, "s1", UserMessage("hello")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	state, _ := store.Load(ctx, "s1")
	state.History[0].Text = "mutated"
	state.Params["leak"] = "yes"

	fresh, _ := store.Load(ctx, "s1")
	if fresh.History[0].Text != "hello" {
		t.Error("history mutation leaked into store")
	}
	if _, ok := fresh.Params["leak"]; ok {
		t.Error("params mutation leaked into store")
	}
}

func TestMemoryStoreSetWaiting(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	tests := []struct {
		name         string
		sets         []string
		wantParam    string
		wantAttempts int
	}{
		{"first ask", []string{"order_id"}, "order_id", 1},
		{"same param increments", []string{"order_id", "order_id"}, "order_id", 2},
		{"different param resets", []string{"order_id", "order_id", "amount"}, "amount", 1},
		{"empty clears", []string{"order_id", ""}, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := "waiting-" + tt.name
			for _, p := range tt.sets {
				if err := store.SetWaiting(ctx, id, p); err != nil {
					t.Fatalf("SetWaiting(%q): %v", p, err)
				}
			}
			state, _ := store.Load(ctx, id)
			if state.WaitingForParam != tt.wantParam {
				t.Errorf("WaitingForParam = %q, want %q", state.WaitingForParam, tt.wantParam)
			}
			if state.AskAttempts != tt.wantAttempts {
				t.Errorf("AskAttempts = %d, want %d", state.AskAttempts, tt.wantAttempts)
			}
		})
	}
}

func TestMemoryStoreMergeParams(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.MergeParams(ctx, "s1", map[string]string{"order_id": "O-1111"})
	_ = store.MergeParams(ctx, "s1", map[string]string{"amount": "25"})

	state, _ := store.Load(ctx, "s1")
	if state.Params["order_id"] != "O-1111" || state.Params["amount"] != "25" {
		t.Errorf("params = %v, want both keys merged", state.Params)
	}
}

func TestMemoryStorePrune(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = store.Append(ctx, "s1", UserMessage(string(rune('a'+i))))
	}
	if err := store.Prune(ctx, "s1", 2); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	state, _ := store.Load(ctx, "s1")
	if len(state.History) != 2 {
		t.Fatalf("history length = %d, want 2", len(state.History))
	}
	if state.History[0].Text != "d" || state.History[1].Text != "e" {
		t.Errorf("pruned wrong end: %q %q", state.History[0].Text, state.History[1].Text)
	}
}

func TestMemoryStoreClear(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.Append(ctx, "s1", UserMessage("hi"))
	_ = store.MergeParams(ctx, "s1", map[string]string{"order_id": "O-1111"})
	_ = store.SetWaiting(ctx, "s1", "amount")
	_ = store.SetPending(ctx, "s1", &PlanExecution{PlanID: "p1"})

	if err := store.Clear(ctx, "s1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	state, _ := store.Load(ctx, "s1")
	if len(state.History) != 0 || len(state.Params) != 0 ||
		state.WaitingForParam != "" || state.Pending != nil {
		t.Errorf("session not reset: %+v", state)
	}
}

func TestMemoryStoreSetResult(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	result := &ToolResult{Success: true, Data: map[string]any{"status": "shipped"}}
	_ = store.SetResult(ctx, "s1", "order_status", result)

	state, _ := store.Load(ctx, "s1")
	if state.LastIntentID != "order_status" {
		t.Errorf("LastIntentID = %q", state.LastIntentID)
	}
	if state.LastResult == nil || !state.LastResult.Success {
		t.Error("LastResult not recorded")
	}
}
