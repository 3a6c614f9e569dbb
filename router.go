package switchboard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

const (
	defaultMaxHistory     = 20
	defaultMaxAskAttempts = 3
)

// escalationOffer is the explicit human handoff every fallback and
// escalation reply must end with.
const escalationOffer = "If you'd like, I can connect you with a human agent."

// fixedFallbackText is the deterministic clarification used when no
// reasoning backend is available (or it fails). It unconditionally carries
// the escalation offer.
const fixedFallbackText = "I'm not sure I can help with that yet. Could you rephrase what you need? " + escalationOffer

// Router composes the session store, intent registry, classification and
// planning ports, plan runner, and telemetry pipeline into the end-to-end
// turn protocol. Every collaborator is an interface chosen at construction;
// the router never inspects concrete types.
//
// The router is the only component that mutates session state.
type Router struct {
	store      SessionStore
	registry   *Registry
	classifier Classifier
	planner    Planner
	runner     *PlanRunner
	telemetry  *Pipeline

	fallback       Provider // optional clarification backend
	logger         *slog.Logger
	tracer         Tracer
	maxHistory     int
	maxAskAttempts int
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithFallbackProvider sets the reasoning backend used to generate
// unknown-intent clarifications. Without one the fixed clarification is used.
func WithFallbackProvider(p Provider) RouterOption {
	return func(r *Router) { r.fallback = p }
}

// WithRouterLogger sets the structured logger for turn handling.
func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// WithRouterTracer wraps each turn in a span.
func WithRouterTracer(t Tracer) RouterOption {
	return func(r *Router) { r.tracer = t }
}

// WithMaxHistory bounds session history; older messages are pruned.
func WithMaxHistory(n int) RouterOption {
	return func(r *Router) { r.maxHistory = n }
}

// WithMaxAskAttempts bounds how many times the same parameter is asked for
// before the router escalates to a human instead of looping.
func WithMaxAskAttempts(n int) RouterOption {
	return func(r *Router) { r.maxAskAttempts = n }
}

// NewRouter wires the turn-handling pipeline.
func NewRouter(store SessionStore, registry *Registry, classifier Classifier, planner Planner, runner *PlanRunner, telemetry *Pipeline, opts ...RouterOption) *Router {
	r := &Router{
		store:          store,
		registry:       registry,
		classifier:     classifier,
		planner:        planner,
		runner:         runner,
		telemetry:      telemetry,
		logger:         nopLogger,
		maxHistory:     defaultMaxHistory,
		maxAskAttempts: defaultMaxAskAttempts,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle processes one interaction and always returns a well-formed
// Response. Classification faults, missing parameters, policy violations,
// and tool failures are folded into the response; the returned error is
// reserved for session-store I/O and context cancellation.
func (r *Router) Handle(ctx context.Context, in Interaction) (Response, error) {
	if r.tracer != nil {
		var span Span
		ctx, span = r.tracer.Start(ctx, "router.handle",
			StringAttr("interaction.id", in.ID),
			StringAttr("session.id", in.SessionID()))
		defer span.End()
	}

	sessionID := in.SessionID()
	state, err := r.store.Load(ctx, sessionID)
	if err != nil {
		return Response{Text: fixedFallbackText}, fmt.Errorf("load session: %w", err)
	}

	userMsg := UserMessage(in.Text)
	if err := r.store.Append(ctx, sessionID, userMsg); err != nil {
		return Response{Text: fixedFallbackText}, fmt.Errorf("append message: %w", err)
	}
	_ = r.store.Prune(ctx, sessionID, r.maxHistory)
	// The local snapshot predates the prune; trim it to the same bound.
	history := append(state.History, userMsg)
	if r.maxHistory > 0 && len(history) > r.maxHistory {
		history = history[len(history)-r.maxHistory:]
	}

	r.telemetry.Emit(ctx, in.ID, sessionID, StageReceived, LevelInfo, map[string]any{
		"history_count":     len(history),
		PayloadParams:       state.Params,
		"waiting_for_param": state.WaitingForParam,
	})

	eligible := r.registry.Eligible(in.Context)
	ids := make([]string, len(eligible))
	for i, it := range eligible {
		ids[i] = it.ID
	}
	r.telemetry.Emit(ctx, in.ID, sessionID, StageIntentsEligible, LevelInfo, map[string]any{
		"eligible": ids,
	})
	if len(eligible) == 0 {
		return r.fallbackTurn(ctx, in, sessionID), nil
	}

	cls := r.classifier.Classify(ctx, ClassifyRequest{
		Interaction:  in,
		Eligible:     eligible,
		History:      history,
		Known:        state.Params,
		WaitingFor:   state.WaitingForParam,
		LastIntentID: state.LastIntentID,
	})

	// Merge this turn's extractions; the waiting flag clears exactly when
	// the awaited parameter lands.
	params := make(map[string]string, len(state.Params)+len(cls.Params))
	for k, v := range state.Params {
		params[k] = v
	}
	for k, v := range cls.Params {
		if v != "" {
			params[k] = v
		}
	}
	if len(cls.Params) > 0 {
		if err := r.store.MergeParams(ctx, sessionID, cls.Params); err != nil {
			return Response{Text: fixedFallbackText}, fmt.Errorf("merge params: %w", err)
		}
	}
	wasWaiting := state.WaitingForParam
	resolved := wasWaiting != "" && params[wasWaiting] != ""
	if resolved {
		_ = r.store.SetWaiting(ctx, sessionID, "")
	}

	if cls.Intent == nil {
		if wasWaiting != "" && !resolved {
			return r.reask(ctx, in, sessionID, state, wasWaiting), nil
		}
		return r.fallbackTurn(ctx, in, sessionID), nil
	}

	r.telemetry.Emit(ctx, in.ID, sessionID, StageClassified, LevelInfo, map[string]any{
		"intent_id":   cls.Intent.ID,
		PayloadParams: params,
		"confidence":  cls.Confidence,
	})

	// Resume a suspended plan when it still has runnable steps; otherwise
	// reconstruct an equivalent plan from the now-complete parameter set.
	var outcome RunOutcome
	var exec *PlanExecution
	if state.Pending != nil && state.Pending.IntentID == cls.Intent.ID && resolved &&
		state.Pending.CurrentIndex < len(state.Pending.Steps)-1 {
		exec = state.Pending
		outcome = r.runner.Resume(ctx, exec, params, in, history)
	} else {
		plan := r.planner.Plan(ctx, PlanRequest{Intent: cls.Intent, Interaction: in, Params: params})
		kinds := make([]string, len(plan.Steps))
		for i, s := range plan.Steps {
			kinds[i] = string(s.Kind)
		}
		r.telemetry.Emit(ctx, in.ID, sessionID, StagePlanCreated, LevelInfo, map[string]any{
			"intent_id": plan.IntentID,
			"steps":     kinds,
			"reasoning": plan.Reasoning,
		})
		exec = NewPlanExecution(plan)
		outcome = r.runner.Run(ctx, exec, in, history)
	}

	if outcome.Suspended() {
		return r.suspend(ctx, in, sessionID, cls.Intent.ID, exec, outcome)
	}
	return r.finish(ctx, in, sessionID, cls.Intent.ID, outcome)
}

// suspend persists the waiting state and pending plan, bounded by the
// ask-attempt escalation.
func (r *Router) suspend(ctx context.Context, in Interaction, sessionID, intentID string, exec *PlanExecution, outcome RunOutcome) (Response, error) {
	if err := r.store.SetWaiting(ctx, sessionID, outcome.WaitingParam); err != nil {
		return Response{Text: fixedFallbackText}, fmt.Errorf("set waiting: %w", err)
	}
	state, err := r.store.Load(ctx, sessionID)
	if err != nil {
		return Response{Text: fixedFallbackText}, fmt.Errorf("load session: %w", err)
	}
	if state.AskAttempts > r.maxAskAttempts {
		return r.escalate(ctx, in, sessionID, outcome.WaitingParam), nil
	}

	_ = r.store.SetPending(ctx, sessionID, exec)
	_ = r.store.SetResult(ctx, sessionID, intentID, nil)

	ask := AgentMessage(outcome.Prompt)
	ask.Metadata = map[string]string{MetaType: "ask_user", MetaParam: outcome.WaitingParam}
	_ = r.store.Append(ctx, sessionID, ask)

	r.telemetry.Emit(ctx, in.ID, sessionID, StageRespond, LevelInfo, map[string]any{
		"message":           outcome.Prompt,
		"waiting_for_param": outcome.WaitingParam,
	})
	r.logger.Info("turn suspended", "session", sessionID, "param", outcome.WaitingParam)
	return Response{Text: outcome.Prompt, NeedsUserInput: true, MissingParam: outcome.WaitingParam}, nil
}

// reask re-issues the pending question when the awaited parameter still did
// not arrive, escalating once the attempt budget is exhausted.
func (r *Router) reask(ctx context.Context, in Interaction, sessionID string, state *SessionState, param string) Response {
	if state.AskAttempts >= r.maxAskAttempts {
		return r.escalate(ctx, in, sessionID, param)
	}
	_ = r.store.SetWaiting(ctx, sessionID, param) // increments the attempt count

	prompt := r.lastAskPrompt(state, param)
	if prompt == "" {
		prompt = fmt.Sprintf("Could you provide the %s?", humanize(param))
	} else {
		prompt = "Sorry, I still need that. " + prompt
	}

	ask := AgentMessage(prompt)
	ask.Metadata = map[string]string{MetaType: "ask_user", MetaParam: param}
	_ = r.store.Append(ctx, sessionID, ask)

	r.telemetry.Emit(ctx, in.ID, sessionID, StageRespond, LevelInfo, map[string]any{
		"message":           prompt,
		"waiting_for_param": param,
		"reasked":           true,
	})
	return Response{Text: prompt, NeedsUserInput: true, MissingParam: param}
}

// escalate abandons the waiting loop and offers a human handoff.
func (r *Router) escalate(ctx context.Context, in Interaction, sessionID, param string) Response {
	_ = r.store.SetWaiting(ctx, sessionID, "")
	_ = r.store.SetPending(ctx, sessionID, nil)

	text := "I'm having trouble collecting the details I need. " + escalationOffer
	msg := AgentMessage(text)
	msg.Metadata = map[string]string{MetaType: "escalation", MetaParam: param}
	_ = r.store.Append(ctx, sessionID, msg)

	r.telemetry.Emit(ctx, in.ID, sessionID, StageRespond, LevelWarn, map[string]any{
		"message":   text,
		"escalated": true,
		"param":     param,
	})
	r.logger.Warn("ask loop escalated", "session", sessionID, "param", param)
	return Response{Text: text}
}

// lastAskPrompt finds the most recent question asked for param.
func (r *Router) lastAskPrompt(state *SessionState, param string) string {
	for i := len(state.History) - 1; i >= 0; i-- {
		m := state.History[i]
		if m.Role == RoleAgent && m.Metadata[MetaType] == "ask_user" && m.Metadata[MetaParam] == param {
			return m.Text
		}
	}
	return ""
}

// fallbackTurn is the unknown-intent path: a clarification that always ends
// with an explicit escalation offer. It never fails, whatever the
// clarification backend does.
func (r *Router) fallbackTurn(ctx context.Context, in Interaction, sessionID string) Response {
	r.telemetry.Emit(ctx, in.ID, sessionID, StageClassified, LevelWarn, map[string]any{
		"intent_id":      nil,
		"unknown_intent": true,
	})

	text := fixedFallbackText
	if r.fallback != nil {
		resp, err := r.fallback.Chat(ctx, ChatRequest{Messages: []ChatMessage{
			SystemPrompt("The customer sent a message we cannot serve. Reply with one short, polite " +
				"sentence asking them to clarify what they need. Do not promise any action."),
			UserPrompt(in.Text),
		}})
		switch {
		case err != nil:
			r.logger.Warn("fallback clarification failed, using fixed text", "err", err)
		case strings.TrimSpace(resp.Content) != "":
			// The offer is appended unconditionally: the backend is asked for
			// a clarifying sentence only and must never own the handoff.
			text = strings.TrimSpace(resp.Content) + " " + escalationOffer
		}
	}

	msg := AgentMessage(text)
	msg.Metadata = map[string]string{MetaType: "fallback"}
	_ = r.store.Append(ctx, sessionID, msg)

	r.telemetry.Emit(ctx, in.ID, sessionID, StageRespond, LevelInfo, map[string]any{
		"message":        text,
		"fallback":       true,
		"unknown_intent": true,
	})
	return Response{Text: text}
}

// finish records the completed turn and emits the final respond stage.
func (r *Router) finish(ctx context.Context, in Interaction, sessionID, intentID string, outcome RunOutcome) (Response, error) {
	_ = r.store.SetPending(ctx, sessionID, nil)
	_ = r.store.SetResult(ctx, sessionID, intentID, outcome.ToolResult)

	text := outcome.Text
	if text == "" {
		text = "Done."
	}
	_ = r.store.Append(ctx, sessionID, AgentMessage(text))

	r.telemetry.Emit(ctx, in.ID, sessionID, StageRespond, levelFor(!outcome.Denied), map[string]any{
		"message": text,
		"denied":  outcome.Denied,
	})
	r.logger.Info("turn completed", "session", sessionID, "intent", intentID, "denied", outcome.Denied)
	return Response{Text: text, ToolResult: outcome.ToolResult}, nil
}
