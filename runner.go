package switchboard

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// RunOutcome is what one runner invocation produced: either a final reply
// (with the tool result when a tool ran), or a suspension at an ask_user
// step carrying the parameter the session now waits on.
type RunOutcome struct {
	Text         string
	ToolResult   *ToolResult
	WaitingParam string
	Prompt       string
	Denied       bool
	Escalate     bool
}

// Suspended reports whether the plan halted at an ask_user step.
func (o RunOutcome) Suspended() bool { return o.WaitingParam != "" }

// Summarizer renders a successful tool result into the text substituted for
// the post-response {summary} placeholder.
type Summarizer func(ToolResult) string

// PlanRunner drives one plan to completion or suspension. Steps execute
// strictly in order; every tool step is validated by the policy engine
// before the executor is invoked; each transition is recorded in telemetry.
type PlanRunner struct {
	policy    PolicyEngine
	executor  Executor
	telemetry *Pipeline
	summarize Summarizer
	logger    *slog.Logger
	tracer    Tracer
}

// RunnerOption configures a PlanRunner.
type RunnerOption func(*PlanRunner)

// WithSummarizer overrides the generic tool-result summary formatting.
func WithSummarizer(s Summarizer) RunnerOption {
	return func(r *PlanRunner) { r.summarize = s }
}

// WithRunnerLogger sets the structured logger for step transitions.
func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *PlanRunner) { r.logger = l }
}

// WithRunnerTracer wraps tool execution in spans.
func WithRunnerTracer(t Tracer) RunnerOption {
	return func(r *PlanRunner) { r.tracer = t }
}

// NewPlanRunner creates a runner over the given policy engine, executor,
// and telemetry pipeline.
func NewPlanRunner(policy PolicyEngine, executor Executor, telemetry *Pipeline, opts ...RunnerOption) *PlanRunner {
	r := &PlanRunner{
		policy:    policy,
		executor:  executor,
		telemetry: telemetry,
		summarize: GenericSummary,
		logger:    nopLogger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes exec from CurrentIndex until every step reaches a terminal
// status or one suspends at waiting_user. The caller persists exec only
// when the outcome is suspended.
func (r *PlanRunner) Run(ctx context.Context, exec *PlanExecution, interaction Interaction, history []Message) RunOutcome {
	var out RunOutcome

	for exec.CurrentIndex < len(exec.Steps) {
		state := &exec.Steps[exec.CurrentIndex]
		state.Status = StatusInProgress
		state.StartedAt = NowUnix()

		switch state.Step.Kind {
		case StepRespond:
			r.runRespond(ctx, state, exec, interaction, &out)

		case StepToolCall:
			halted := r.runToolCall(ctx, state, exec, interaction, history, &out)
			if halted {
				// The synthesized error response is the next (and last) step.
				continue
			}

		case StepAskUser:
			state.Status = StatusWaitingUser
			out.WaitingParam = state.Step.Param
			out.Prompt = state.Step.Prompt
			out.Text = state.Step.Prompt
			r.logger.Info("plan suspended for user input",
				"plan", exec.PlanID, "param", state.Step.Param)
			return out

		default:
			state.Status = StatusFailed
			state.Error = fmt.Sprintf("unknown step kind %q", state.Step.Kind)
			state.EndedAt = NowUnix()
			r.logger.Error("plan step has unknown kind", "plan", exec.PlanID, "kind", state.Step.Kind)
			exec.CurrentIndex++
			continue
		}

		if state.Status.Terminal() {
			exec.CurrentIndex++
		}
	}
	return out
}

// Resume continues a plan suspended at an ask_user step after the missing
// parameter arrived. The waiting step is completed, newly merged parameters
// are folded into the remaining tool steps, and execution proceeds from the
// next step.
func (r *PlanRunner) Resume(ctx context.Context, exec *PlanExecution, params map[string]string, interaction Interaction, history []Message) RunOutcome {
	if exec.CurrentIndex < len(exec.Steps) {
		state := &exec.Steps[exec.CurrentIndex]
		if state.Status == StatusWaitingUser {
			state.Status = StatusCompleted
			state.EndedAt = NowUnix()
			exec.CurrentIndex++
		}
	}
	for i := exec.CurrentIndex; i < len(exec.Steps); i++ {
		step := &exec.Steps[i].Step
		if step.Kind != StepToolCall {
			continue
		}
		if step.Params == nil {
			step.Params = make(map[string]string)
		}
		for k, v := range params {
			if step.Params[k] == "" {
				step.Params[k] = v
			}
		}
	}
	return r.Run(ctx, exec, interaction, history)
}

func (r *PlanRunner) runRespond(ctx context.Context, state *StepState, exec *PlanExecution, interaction Interaction, out *RunOutcome) {
	msg := state.Step.Message
	switch state.Step.When {
	case RespondPre:
		r.telemetry.Emit(ctx, interaction.ID, interaction.SessionID(), StageCommunicated, LevelInfo,
			map[string]any{"message": msg})
	case RespondPost:
		summary := ""
		if out.ToolResult != nil {
			summary = r.summarize(*out.ToolResult)
		}
		out.Text = strings.ReplaceAll(msg, SummaryPlaceholder, summary)
	case RespondError:
		out.Text = msg
	}
	state.Status = StatusCompleted
	state.EndedAt = NowUnix()
}

// runToolCall validates and executes one tool step. Returns true when the
// plan halted (deny or failure): remaining steps are canceled and a
// synthesized error response has been appended for the loop to pick up.
func (r *PlanRunner) runToolCall(ctx context.Context, state *StepState, exec *PlanExecution, interaction Interaction, history []Message, out *RunOutcome) bool {
	req := ToolRequest{IntentID: exec.IntentID, Tool: state.Step.Tool, Params: state.Step.Params}
	sessionID := interaction.SessionID()

	decision := r.policy.Validate(ctx, req, interaction, history)
	r.telemetry.Emit(ctx, interaction.ID, sessionID, StagePolicyCheck, levelFor(decision.Allowed),
		map[string]any{
			"allowed":             decision.Allowed,
			"violations":          decision.Violations,
			"requires_escalation": decision.RequiresEscalation,
			"tool":                req.Tool,
		})

	if !decision.Allowed {
		state.Status = StatusBlocked
		state.Error = strings.Join(decision.Violations, "; ")
		state.EndedAt = NowUnix()
		out.Denied = true
		out.Escalate = decision.RequiresEscalation
		r.logger.Warn("tool step blocked by policy", "plan", exec.PlanID, "tool", req.Tool, "violations", state.Error)
		r.halt(exec, denialText(decision))
		return true
	}

	var span Span
	if r.tracer != nil {
		ctx, span = r.tracer.Start(ctx, "tool.execute", StringAttr("tool", req.Tool))
	}
	result := r.executor.Execute(ctx, req)
	if span != nil {
		span.SetAttr(
			BoolAttr("tool.success", result.Success),
			IntAttr("tool.duration_ms", int(result.ExecutionTimeMS)))
		if !result.Success {
			span.Error(fmt.Errorf("%s", result.Error))
		}
		span.End()
	}

	r.telemetry.Emit(ctx, interaction.ID, sessionID, StageToolExecute, levelFor(result.Success),
		map[string]any{
			"tool":        req.Tool,
			"success":     result.Success,
			"error":       result.Error,
			"duration_ms": result.ExecutionTimeMS,
		})

	out.ToolResult = &result
	if !result.Success {
		state.Status = StatusFailed
		state.Error = result.Error
		state.EndedAt = NowUnix()
		r.logger.Warn("tool step failed", "plan", exec.PlanID, "tool", req.Tool, "err", result.Error)
		r.halt(exec, failureText(result.Error))
		return true
	}

	state.Status = StatusCompleted
	state.EndedAt = NowUnix()
	return false
}

// halt cancels every remaining step and appends a synthesized error
// response, which becomes the only step left to run.
func (r *PlanRunner) halt(exec *PlanExecution, message string) {
	for i := exec.CurrentIndex + 1; i < len(exec.Steps); i++ {
		if !exec.Steps[i].Status.Terminal() {
			exec.Steps[i].Status = StatusCanceled
		}
	}
	exec.Steps = append(exec.Steps, StepState{
		Step:   Respond(RespondError, message),
		Status: StatusPending,
	})
	exec.CurrentIndex = len(exec.Steps) - 1
}

func levelFor(ok bool) string {
	if ok {
		return LevelInfo
	}
	return LevelWarn
}

func denialText(decision PolicyDecision) string {
	text := "I can't do that: " + strings.Join(decision.Violations, "; ") + "."
	if decision.RequiresEscalation {
		text += " I can connect you with a human agent who may be able to help."
	}
	return text
}

// failureText maps a tool fault onto a user-facing explanation.
func failureText(toolErr string) string {
	switch toolErr {
	case "order_not_found":
		return "I couldn't find that order. Could you double-check the order number?"
	case "customer_not_found":
		return "I couldn't find that customer record."
	default:
		return "Sorry — I couldn't complete that: " + humanize(toolErr) + "."
	}
}

// GenericSummary renders a tool result's top-level data as sorted
// "key: value" pairs. Domain packages provide richer summaries via
// WithSummarizer.
func GenericSummary(result ToolResult) string {
	if len(result.Data) == 0 {
		return "done"
	}
	keys := make([]string, 0, len(result.Data))
	for k := range result.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", humanize(k), result.Data[k]))
	}
	return strings.Join(parts, ", ")
}
