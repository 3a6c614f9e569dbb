package switchboard

import (
	"context"
	"fmt"
	"strings"
)

// PlanRequest is a classified intent plus the merged parameter set for the
// session (known params and this turn's extractions).
type PlanRequest struct {
	Intent      *Intent
	Interaction Interaction
	Params      map[string]string
}

// Planner turns a classified intent into an ordered plan. With every
// required parameter present the plan is Respond(pre), ToolCall,
// Respond(post); with parameters missing it is exactly one AskUser step for
// the first missing parameter in declared order — never more, since a
// session can only wait on one parameter at a time.
type Planner interface {
	Plan(ctx context.Context, req PlanRequest) Plan
}

// SummaryPlaceholder in a post template is replaced with the tool result
// summary after execution.
const SummaryPlaceholder = "{summary}"

// TemplatePlanner builds plans from the intent's configured templates,
// falling back to generic wording. Stateless and deterministic.
type TemplatePlanner struct{}

// NewTemplatePlanner creates the default planner.
func NewTemplatePlanner() *TemplatePlanner {
	return &TemplatePlanner{}
}

func (p *TemplatePlanner) Plan(_ context.Context, req PlanRequest) Plan {
	intent := req.Intent

	if missing := missingParams(intent, req.Params, nil); len(missing) > 0 {
		param := missing[0]
		prompt := intent.Prompts[param]
		if prompt == "" {
			prompt = fmt.Sprintf("Could you provide the %s?", humanize(param))
		}
		return Plan{
			IntentID:  intent.ID,
			Steps:     []PlanStep{AskUser(param, prompt)},
			Reasoning: fmt.Sprintf("missing required parameter %q", param),
		}
	}

	pre := intent.PreTemplate
	if pre == "" {
		pre = fmt.Sprintf("I'll %s.", strings.ToLower(strings.TrimRight(intent.Description, ".")))
	}
	post := intent.PostTemplate
	if post == "" {
		post = "Here's what I found: " + SummaryPlaceholder
	}

	params := make(map[string]string, len(req.Params))
	for _, name := range intent.RequiredParams {
		params[name] = req.Params[name]
	}

	return Plan{
		IntentID: intent.ID,
		Steps: []PlanStep{
			Respond(RespondPre, expand(pre, params)),
			CallTool(intent.Tool, params),
			Respond(RespondPost, expand(post, params)),
		},
		Reasoning: "all required parameters present",
	}
}

// expand substitutes {name} placeholders with parameter values. The
// {summary} placeholder is left for the runner.
func expand(template string, params map[string]string) string {
	out := template
	for k, v := range params {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}

func humanize(param string) string {
	return strings.ReplaceAll(param, "_", " ")
}

// compile-time check
var _ Planner = (*TemplatePlanner)(nil)
