package switchboard

import (
	"context"
	"testing"
)

func TestTemplatePlannerComplete(t *testing.T) {
	planner := NewTemplatePlanner()
	intent := orderStatusIntent()

	plan := planner.Plan(context.Background(), PlanRequest{
		Intent: &intent,
		Params: map[string]string{"order_id": "O-12345", "unrelated": "x"},
	})

	if plan.IntentID != "order_status" {
		t.Errorf("IntentID = %q", plan.IntentID)
	}
	if len(plan.Steps) != 3 {
		t.Fatalf("steps = %d, want 3", len(plan.Steps))
	}
	if plan.Steps[0].Kind != StepRespond || plan.Steps[0].When != RespondPre {
		t.Errorf("step 0 = %+v, want pre respond", plan.Steps[0])
	}
	if plan.Steps[1].Kind != StepToolCall || plan.Steps[1].Tool != "check_order_status" {
		t.Errorf("step 1 = %+v, want tool call", plan.Steps[1])
	}
	if plan.Steps[2].Kind != StepRespond || plan.Steps[2].When != RespondPost {
		t.Errorf("step 2 = %+v, want post respond", plan.Steps[2])
	}

	// Tool params restricted to declared required params.
	if got := plan.Steps[1].Params; got["order_id"] != "O-12345" || len(got) != 1 {
		t.Errorf("tool params = %v, want only order_id", got)
	}
}

func TestTemplatePlannerMissingParam(t *testing.T) {
	planner := NewTemplatePlanner()
	intent := refundIntent()

	tests := []struct {
		name       string
		params     map[string]string
		wantParam  string
		wantPrompt string
	}{
		{"nothing known asks first declared", nil, "order_id", "Could you provide the order id?"},
		{"first known asks second", map[string]string{"order_id": "O-1"}, "amount", "Could you provide the amount?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := planner.Plan(context.Background(), PlanRequest{Intent: &intent, Params: tt.params})
			if len(plan.Steps) != 1 {
				t.Fatalf("steps = %d, want exactly one ask", len(plan.Steps))
			}
			step := plan.Steps[0]
			if step.Kind != StepAskUser || step.Param != tt.wantParam {
				t.Fatalf("step = %+v, want ask for %q", step, tt.wantParam)
			}
			if step.Prompt != tt.wantPrompt {
				t.Errorf("prompt = %q, want %q", step.Prompt, tt.wantPrompt)
			}
		})
	}
}

func TestTemplatePlannerConfiguredPrompt(t *testing.T) {
	planner := NewTemplatePlanner()
	intent := orderStatusIntent()

	plan := planner.Plan(context.Background(), PlanRequest{Intent: &intent})
	if got := plan.Steps[0].Prompt; got != "What's your order number?" {
		t.Errorf("prompt = %q, want the configured question", got)
	}
}

func TestTemplatePlannerTemplates(t *testing.T) {
	planner := NewTemplatePlanner()
	intent := orderStatusIntent()
	intent.PreTemplate = "Let me look up {order_id}."
	intent.PostTemplate = "Order {order_id}: {summary}"

	plan := planner.Plan(context.Background(), PlanRequest{
		Intent: &intent,
		Params: map[string]string{"order_id": "O-12345"},
	})

	if got := plan.Steps[0].Message; got != "Let me look up O-12345." {
		t.Errorf("pre = %q", got)
	}
	// {summary} survives planning; the runner fills it after execution.
	if got := plan.Steps[2].Message; got != "Order O-12345: {summary}" {
		t.Errorf("post = %q", got)
	}
}

func TestTemplatePlannerDefaults(t *testing.T) {
	planner := NewTemplatePlanner()
	intent := orderStatusIntent()

	plan := planner.Plan(context.Background(), PlanRequest{
		Intent: &intent,
		Params: map[string]string{"order_id": "O-12345"},
	})
	if got := plan.Steps[0].Message; got != "I'll check the status of an order." {
		t.Errorf("default pre = %q", got)
	}
	if got := plan.Steps[2].Message; got != "Here's what I found: {summary}" {
		t.Errorf("default post = %q", got)
	}
}
