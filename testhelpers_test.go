package switchboard

import (
	"context"
	"errors"
)

// --- Fixture intents (shared across classifier, planner, router tests) ---

func orderStatusIntent() Intent {
	return Intent{
		ID:             "order_status",
		Description:    "Check the status of an order",
		RequiredParams: []string{"order_id"},
		Tool:           "check_order_status",
		Keywords:       []string{"order", "where", "shipped", "status"},
		ParamPatterns:  map[string]string{"order_id": `O-\d{4,}`},
		Prompts:        map[string]string{"order_id": "What's your order number?"},
		RedactExempt:   []string{"order_id"},
	}
}

func refundIntent() Intent {
	return Intent{
		ID:             "refund",
		Description:    "Issue a refund for an order",
		RequiredParams: []string{"order_id", "amount"},
		Tool:           "issue_refund",
		Keywords:       []string{"refund", "money back"},
		ParamPatterns: map[string]string{
			"order_id": `O-\d{4,}`,
			"amount":   `\d+(?:\.\d{1,2})?`,
		},
	}
}

func fixtureIntents() []Intent {
	return []Intent{orderStatusIntent(), refundIntent()}
}

// --- Provider mock (shared by classifier and router tests) ---

type mockProvider struct {
	reply string
	err   error
	calls int
}

func (m *mockProvider) Chat(_ context.Context, _ ChatRequest) (ChatResponse, error) {
	m.calls++
	if m.err != nil {
		return ChatResponse{}, m.err
	}
	return ChatResponse{Content: m.reply}, nil
}

func (m *mockProvider) Name() string { return "mock" }

// --- Classifier mock (router tests drive exact results per turn) ---

type mockClassifier struct {
	results  []ClassificationResult
	requests []ClassifyRequest
	calls    int
}

func (m *mockClassifier) Classify(_ context.Context, req ClassifyRequest) ClassificationResult {
	m.requests = append(m.requests, req)
	if m.calls >= len(m.results) {
		return ClassificationResult{}
	}
	r := m.results[m.calls]
	m.calls++
	return r
}

// --- Executor mock (runner tests control results without a registry) ---

type mockExecutor struct {
	results map[string]ToolResult
	calls   []ToolRequest
}

func (m *mockExecutor) Execute(_ context.Context, req ToolRequest) ToolResult {
	m.calls = append(m.calls, req)
	if r, ok := m.results[req.Tool]; ok {
		return r
	}
	return ToolResult{Success: true, Data: map[string]any{"tool": req.Tool}}
}

// --- Sinks ---

type failingSink struct{}

func (failingSink) Record(context.Context, TelemetryEvent) error {
	return errors.New("sink down")
}

type panickingSink struct{}

func (panickingSink) Record(context.Context, TelemetryEvent) error {
	panic("sink exploded")
}

func equalStages(a, b []Stage) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
