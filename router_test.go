package switchboard

import (
	"context"
	"strings"
	"testing"
)

// newTestRouter wires a router over the fixture intents with an in-memory
// store, the regex classifier, and a canned order lookup tool.
func newTestRouter(t *testing.T, policy PolicyEngine, opts ...RouterOption) (*Router, *MemorySink) {
	t.Helper()

	intents := fixtureIntents()
	sink := NewMemorySink()
	telemetry := NewPipeline(WithSink(sink), WithExemptParams("order_id"))

	tools := NewToolRegistry()
	tools.Register("check_order_status", func(_ context.Context, params map[string]string) ToolResult {
		if params["order_id"] != "O-12345" {
			return ToolResult{Error: "order_not_found"}
		}
		return ToolResult{Success: true, Data: map[string]any{"status": "shipped", "carrier": "UPS"}}
	})
	tools.RegisterMutating("issue_refund", func(_ context.Context, params map[string]string) ToolResult {
		return ToolResult{Success: true, Data: map[string]any{"state": "refund_requested"}}
	})

	runner := NewPlanRunner(policy, tools, telemetry)
	router := NewRouter(NewMemoryStore(), NewRegistry(intents), NewRegexClassifier(intents),
		NewTemplatePlanner(), runner, telemetry, opts...)
	return router, sink
}

func interaction(id, text string) Interaction {
	return Interaction{
		ID:      id,
		Text:    text,
		Context: map[string]string{CtxSessionID: "sess-1", CtxChannel: "chat"},
	}
}

var completedTurnStages = []Stage{
	StageReceived, StageIntentsEligible, StageClassified, StagePlanCreated,
	StageCommunicated, StagePolicyCheck, StageToolExecute, StageRespond,
}

func TestRouterSingleTurn(t *testing.T) {
	router, sink := newTestRouter(t, AllowAll{})

	resp, err := router.Handle(context.Background(), interaction("i1", "Where is my order O-12345?"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.NeedsUserInput {
		t.Fatal("complete message should not suspend")
	}
	if !strings.Contains(resp.Text, "status: shipped") || !strings.Contains(resp.Text, "carrier: UPS") {
		t.Errorf("text = %q, want the order summary", resp.Text)
	}
	if resp.ToolResult == nil || !resp.ToolResult.Success {
		t.Error("tool result missing from response")
	}

	if !equalStages(sink.Stages(), completedTurnStages) {
		t.Errorf("stages = %v, want %v", sink.Stages(), completedTurnStages)
	}
}

func TestRouterTwoTurnParamCollection(t *testing.T) {
	router, sink := newTestRouter(t, AllowAll{})
	ctx := context.Background()

	// Turn 1: intent clear, order id missing.
	resp, err := router.Handle(ctx, interaction("i1", "where is my order?"))
	if err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if !resp.NeedsUserInput || resp.MissingParam != "order_id" {
		t.Fatalf("turn 1 = %+v, want suspension on order_id", resp)
	}
	if resp.Text != "What's your order number?" {
		t.Errorf("turn 1 text = %q, want the configured prompt", resp.Text)
	}

	turn1 := sink.Stages()
	want1 := []Stage{StageReceived, StageIntentsEligible, StageClassified, StagePlanCreated, StageRespond}
	if !equalStages(turn1, want1) {
		t.Fatalf("turn 1 stages = %v, want %v", turn1, want1)
	}

	// Turn 2: the bare answer resumes and the tool runs on the same turn.
	resp, err = router.Handle(ctx, interaction("i2", "O-12345"))
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if resp.NeedsUserInput {
		t.Fatalf("turn 2 = %+v, want completion", resp)
	}
	if !strings.Contains(resp.Text, "status: shipped") {
		t.Errorf("turn 2 text = %q", resp.Text)
	}

	turn2 := sink.Stages()[len(turn1):]
	if !equalStages(turn2, completedTurnStages) {
		t.Errorf("turn 2 stages = %v, want %v", turn2, completedTurnStages)
	}
}

func TestRouterUnknownIntentFallback(t *testing.T) {
	router, sink := newTestRouter(t, AllowAll{})

	resp, err := router.Handle(context.Background(), interaction("i1", "sing me a song"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.NeedsUserInput {
		t.Fatal("fallback must not suspend")
	}
	if !strings.Contains(resp.Text, "human agent") {
		t.Errorf("text = %q, want an explicit escalation offer", resp.Text)
	}

	events := sink.Events()
	var sawUnknown, sawFallback bool
	for _, e := range events {
		if e.Stage == StageClassified && e.Payload["unknown_intent"] == true {
			sawUnknown = true
		}
		if e.Stage == StageRespond && e.Payload["fallback"] == true {
			sawFallback = true
		}
		if e.Stage == StageToolExecute || e.Stage == StagePlanCreated {
			t.Errorf("stage %s must not appear on the fallback path", e.Stage)
		}
	}
	if !sawUnknown || !sawFallback {
		t.Error("fallback turn missing its telemetry markers")
	}
}

func TestRouterFallbackProvider(t *testing.T) {
	tests := []struct {
		name     string
		provider *mockProvider
		want     string
	}{
		{"clarification used and offer appended",
			&mockProvider{reply: "Could you tell me more about what you need?"},
			"Could you tell me more about what you need? " + escalationOffer},
		{"offer appended even when the reply mentions a human",
			&mockProvider{reply: "I'm only human, could you rephrase?"},
			"I'm only human, could you rephrase? " + escalationOffer},
		{"provider failure falls back to fixed text",
			&mockProvider{err: context.DeadlineExceeded},
			fixedFallbackText},
		{"blank reply falls back to fixed text",
			&mockProvider{reply: "   "},
			fixedFallbackText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newTestRouter(t, AllowAll{}, WithFallbackProvider(tt.provider))
			resp, err := router.Handle(context.Background(), interaction("i1", "sing me a song"))
			if err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if resp.Text != tt.want {
				t.Errorf("text = %q, want %q", resp.Text, tt.want)
			}
		})
	}
}

func TestRouterPolicyDenial(t *testing.T) {
	policy := NewRulePolicy([]PolicyRule{{
		Name:   "refund-limit",
		Tool:   "issue_refund",
		Deny:   Rule{Compare: &Compare{Field: "amount", Op: "gt", Value: 100}},
		Reason: "refund exceeds the automatic limit",
	}})
	router, sink := newTestRouter(t, policy)

	resp, err := router.Handle(context.Background(),
		interaction("i1", "refund 500 please, for O-12345"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.Contains(resp.Text, "refund exceeds the automatic limit") {
		t.Errorf("text = %q, want the violation explained", resp.Text)
	}

	var policyChecked bool
	for _, e := range sink.Events() {
		switch e.Stage {
		case StagePolicyCheck:
			policyChecked = true
			if e.Payload["allowed"] != false {
				t.Error("policy_check payload should record the denial")
			}
		case StageToolExecute:
			t.Error("tool_execute must not appear for a denied request")
		}
	}
	if !policyChecked {
		t.Error("policy_check stage missing")
	}
}

func TestRouterAskLoopEscalates(t *testing.T) {
	router, sink := newTestRouter(t, AllowAll{}, WithMaxAskAttempts(2))
	ctx := context.Background()

	// Turn 1 asks, turn 2 re-asks, turn 3 escalates.
	if resp, _ := router.Handle(ctx, interaction("i1", "where is my order?")); !resp.NeedsUserInput {
		t.Fatal("turn 1 should ask")
	}
	if resp, _ := router.Handle(ctx, interaction("i2", "i have no idea")); !resp.NeedsUserInput {
		t.Fatal("turn 2 should re-ask")
	}
	resp, err := router.Handle(ctx, interaction("i3", "still no idea"))
	if err != nil {
		t.Fatalf("turn 3: %v", err)
	}
	if resp.NeedsUserInput {
		t.Fatal("turn 3 should stop asking")
	}
	if !strings.Contains(resp.Text, "human agent") {
		t.Errorf("turn 3 text = %q, want escalation", resp.Text)
	}

	var escalated bool
	for _, e := range sink.Events() {
		if e.Stage == StageRespond && e.Payload["escalated"] == true {
			escalated = true
		}
	}
	if !escalated {
		t.Error("escalation not recorded in telemetry")
	}
}

func TestRouterRedactsParams(t *testing.T) {
	router, sink := newTestRouter(t, AllowAll{})

	_, err := router.Handle(context.Background(),
		interaction("i1", "refund 50 please, for O-12345"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	var classified bool
	for _, e := range sink.Events() {
		if raw, ok := e.Payload[PayloadParams]; ok {
			kept, ok := raw.(map[string]string)
			if !ok {
				t.Fatalf("stage %s: params payload is %T after scrubbing", e.Stage, raw)
			}
			// order_id is redact-exempt in the pipeline; amount must never appear.
			if _, leaked := kept["amount"]; leaked {
				t.Errorf("stage %s leaked the amount value", e.Stage)
			}
		}
		if e.Stage != StageClassified {
			continue
		}
		classified = true
		names, _ := e.Payload["param_names"].([]string)
		if !contains(names, "order_id") || !contains(names, "amount") {
			t.Errorf("param_names = %v, want both parameter names", names)
		}
	}
	if !classified {
		t.Fatal("no intent_classified event recorded")
	}
}

func TestRouterNoEligibleIntents(t *testing.T) {
	intents := []Intent{{
		ID:          "email_only",
		Description: "Email-channel intent",
		Keywords:    []string{"order"},
		Constraints: Constraints{Channels: []string{"email"}},
	}}
	sink := NewMemorySink()
	telemetry := NewPipeline(WithSink(sink))
	runner := NewPlanRunner(AllowAll{}, NewToolRegistry(), telemetry)
	router := NewRouter(NewMemoryStore(), NewRegistry(intents), NewRegexClassifier(intents),
		NewTemplatePlanner(), runner, telemetry)

	resp, err := router.Handle(context.Background(), interaction("i1", "where is my order"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.Contains(resp.Text, "human agent") {
		t.Errorf("text = %q, want fallback", resp.Text)
	}
}

func TestRouterWithBackendClassifier(t *testing.T) {
	// A classifier that extracts everything in one shot (the LLM path)
	// completes without any regex involvement.
	intent := orderStatusIntent()
	classifier := &mockClassifier{results: []ClassificationResult{{
		Intent:     &intent,
		Params:     map[string]string{"order_id": "O-12345"},
		Confidence: 0.95,
	}}}

	sink := NewMemorySink()
	telemetry := NewPipeline(WithSink(sink))
	tools := NewToolRegistry()
	tools.Register("check_order_status", func(context.Context, map[string]string) ToolResult {
		return ToolResult{Success: true, Data: map[string]any{"status": "shipped"}}
	})
	runner := NewPlanRunner(AllowAll{}, tools, telemetry)
	router := NewRouter(NewMemoryStore(), NewRegistry([]Intent{intent}), classifier,
		NewTemplatePlanner(), runner, telemetry)

	resp, err := router.Handle(context.Background(), interaction("i1", "my package hasn't arrived"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.NeedsUserInput || !strings.Contains(resp.Text, "status: shipped") {
		t.Errorf("resp = %+v", resp)
	}
	if !equalStages(sink.Stages(), completedTurnStages) {
		t.Errorf("stages = %v", sink.Stages())
	}
}

func TestRouterClassifierHistoryBounded(t *testing.T) {
	classifier := &mockClassifier{} // always unknown: every turn adds user + fallback messages
	telemetry := NewPipeline()
	runner := NewPlanRunner(AllowAll{}, NewToolRegistry(), telemetry)
	router := NewRouter(NewMemoryStore(), NewRegistry(fixtureIntents()), classifier,
		NewTemplatePlanner(), runner, telemetry, WithMaxHistory(2))
	ctx := context.Background()

	for _, id := range []string{"i1", "i2", "i3"} {
		if _, err := router.Handle(ctx, interaction(id, "message "+id)); err != nil {
			t.Fatalf("turn %s: %v", id, err)
		}
	}

	if len(classifier.requests) != 3 {
		t.Fatalf("classifier saw %d turns, want 3", len(classifier.requests))
	}
	for i, req := range classifier.requests {
		if len(req.History) > 2 {
			t.Errorf("turn %d: classifier saw %d messages, want at most the history bound", i+1, len(req.History))
		}
		if last := req.History[len(req.History)-1]; last.Text != "message i"+string(rune('1'+i)) {
			t.Errorf("turn %d: newest message = %q, trimming dropped the wrong end", i+1, last.Text)
		}
	}
}

func TestRouterHistoryAppended(t *testing.T) {
	store := NewMemoryStore()
	intents := fixtureIntents()
	telemetry := NewPipeline()
	tools := NewToolRegistry()
	tools.Register("check_order_status", func(context.Context, map[string]string) ToolResult {
		return ToolResult{Success: true, Data: map[string]any{"status": "shipped"}}
	})
	runner := NewPlanRunner(AllowAll{}, tools, telemetry)
	router := NewRouter(store, NewRegistry(intents), NewRegexClassifier(intents),
		NewTemplatePlanner(), runner, telemetry)

	_, err := router.Handle(context.Background(), interaction("i1", "Where is my order O-12345?"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	state, _ := store.Load(context.Background(), "sess-1")
	if len(state.History) != 2 {
		t.Fatalf("history = %d messages, want user + agent", len(state.History))
	}
	if state.History[0].Role != RoleUser || state.History[1].Role != RoleAgent {
		t.Errorf("history roles = %s, %s", state.History[0].Role, state.History[1].Role)
	}
	if state.LastIntentID != "order_status" {
		t.Errorf("LastIntentID = %q", state.LastIntentID)
	}
}
