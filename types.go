package switchboard

// --- Inbound interaction ---

// Interaction is one inbound customer message plus routing metadata.
// Immutable once received: the router never mutates it.
type Interaction struct {
	ID         string            `json:"id"`
	Text       string            `json:"text"`
	CustomerID string            `json:"customer_id,omitempty"`
	Context    map[string]string `json:"context,omitempty"`
}

// Well-known Interaction.Context keys.
const (
	CtxSessionID    = "session_id"
	CtxChannel      = "channel"
	CtxCustomerTier = "customer_tier"
)

// SessionID returns the session key for this interaction: the session_id
// context value when present, otherwise the interaction id.
func (in Interaction) SessionID() string {
	if id := in.Context[CtxSessionID]; id != "" {
		return id
	}
	return in.ID
}

// --- Conversation messages ---

// Message roles.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
	RoleTool  = "tool"
)

// Message is one entry in a session's conversation history.
type Message struct {
	Role      string            `json:"role"`
	Text      string            `json:"text"`
	CreatedAt int64             `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Metadata keys set on agent messages emitted by the router.
const (
	MetaType  = "type"  // "ask_user", "fallback", "escalation"
	MetaParam = "param" // parameter name an ask_user message requests
)

// UserMessage builds a user-role message stamped with the current time.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Text: text, CreatedAt: NowUnix()}
}

// AgentMessage builds an agent-role message stamped with the current time.
func AgentMessage(text string) Message {
	return Message{Role: RoleAgent, Text: text, CreatedAt: NowUnix()}
}

// --- Intent definitions ---

// Constraints gate an intent's eligibility for a given interaction context.
type Constraints struct {
	// Channels lists the channels the intent is served on. Empty means all.
	Channels []string `json:"channels,omitempty" yaml:"channels"`
	// RolloutPercent includes a stable cohort of customers, 0-100.
	// Zero means fully rolled out (the field is omitted for stable intents).
	RolloutPercent int `json:"rollout_percent,omitempty" yaml:"rollout_percent"`
	// MinTier is the minimum customer tier, per TierRank ordering.
	MinTier string `json:"min_tier,omitempty" yaml:"min_tier"`
}

// Intent is a configured capability: what it does, which parameters its tool
// needs, and who it is eligible for. Loaded once at startup and immutable
// for the process lifetime.
type Intent struct {
	ID             string      `json:"id" yaml:"id"`
	Description    string      `json:"description" yaml:"description"`
	RequiredParams []string    `json:"required_params" yaml:"required_params"`
	Tool           string      `json:"tool" yaml:"tool"`
	Constraints    Constraints `json:"constraints,omitempty" yaml:"constraints"`

	// Keywords bias the heuristic classifier toward this intent.
	Keywords []string `json:"keywords,omitempty" yaml:"keywords"`
	// ParamPatterns maps parameter name -> regex used for extraction by the
	// heuristic classifier.
	ParamPatterns map[string]string `json:"param_patterns,omitempty" yaml:"param_patterns"`
	// Prompts maps parameter name -> question asked when it is missing.
	Prompts map[string]string `json:"prompts,omitempty" yaml:"prompts"`
	// PreTemplate and PostTemplate override the planner's default respond
	// messages. PostTemplate may contain a {summary} placeholder that is
	// filled after tool execution.
	PreTemplate  string `json:"pre_template,omitempty" yaml:"pre_template"`
	PostTemplate string `json:"post_template,omitempty" yaml:"post_template"`
	// RedactExempt lists parameter names whose values may appear in telemetry.
	RedactExempt []string `json:"redact_exempt,omitempty" yaml:"redact_exempt"`
}

// --- Classification ---

// ClassificationResult is the outcome of mapping a message onto an intent.
// A nil Intent means "unknown": the router falls back, it never fails.
type ClassificationResult struct {
	Intent     *Intent           `json:"intent"`
	Params     map[string]string `json:"params"`
	Missing    []string          `json:"missing_params"`
	Confidence float64           `json:"confidence"`
}

// --- Plans ---

// StepKind discriminates the plan step variants.
type StepKind string

const (
	// StepRespond emits a message to the user.
	StepRespond StepKind = "respond"
	// StepToolCall invokes a named tool with validated parameters.
	StepToolCall StepKind = "tool_call"
	// StepAskUser asks the user for one missing parameter and suspends.
	StepAskUser StepKind = "ask_user"
)

// RespondWhen positions a respond step relative to tool execution.
type RespondWhen string

const (
	RespondPre   RespondWhen = "pre"
	RespondPost  RespondWhen = "post"
	RespondError RespondWhen = "error"
)

// PlanStep is a tagged variant: exactly one of the three step shapes is
// populated, selected by Kind. Steps are evaluated left to right.
type PlanStep struct {
	Kind StepKind `json:"kind"`

	// Respond fields
	When    RespondWhen `json:"when,omitempty"`
	Message string      `json:"message,omitempty"`

	// ToolCall fields
	Tool   string            `json:"tool,omitempty"`
	Params map[string]string `json:"params,omitempty"`

	// AskUser fields
	Param  string `json:"param,omitempty"`
	Prompt string `json:"prompt,omitempty"`
}

// Respond builds a respond step.
func Respond(when RespondWhen, message string) PlanStep {
	return PlanStep{Kind: StepRespond, When: when, Message: message}
}

// CallTool builds a tool-call step.
func CallTool(tool string, params map[string]string) PlanStep {
	return PlanStep{Kind: StepToolCall, Tool: tool, Params: params}
}

// AskUser builds an ask-user step for a single missing parameter.
func AskUser(param, prompt string) PlanStep {
	return PlanStep{Kind: StepAskUser, Param: param, Prompt: prompt}
}

// Plan is the ordered sequence of steps chosen to fulfill an intent.
type Plan struct {
	IntentID  string     `json:"intent_id"`
	Steps     []PlanStep `json:"steps"`
	Reasoning string     `json:"reasoning,omitempty"`
}

// --- Plan execution ---

// StepStatus is the per-step execution state.
type StepStatus string

const (
	StatusPending     StepStatus = "pending"
	StatusInProgress  StepStatus = "in_progress"
	StatusCompleted   StepStatus = "completed"
	StatusFailed      StepStatus = "failed"
	StatusBlocked     StepStatus = "blocked"
	StatusWaitingUser StepStatus = "waiting_user"
	StatusCanceled    StepStatus = "canceled"
)

// Terminal reports whether a step in this status will never run again.
func (s StepStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusBlocked, StatusCanceled:
		return true
	}
	return false
}

// StepState is one plan step plus its execution bookkeeping.
type StepState struct {
	Step      PlanStep   `json:"step"`
	Status    StepStatus `json:"status"`
	StartedAt int64      `json:"started_at,omitempty"`
	EndedAt   int64      `json:"ended_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// PlanExecution tracks one plan being driven to completion or suspension.
// The runner owns it for the duration of a turn; a snapshot is persisted on
// the session only while a step is waiting_user, so the next turn can resume
// at CurrentIndex.
type PlanExecution struct {
	PlanID       string      `json:"plan_id"`
	IntentID     string      `json:"intent_id"`
	Steps        []StepState `json:"steps"`
	CurrentIndex int         `json:"current_index"`
}

// NewPlanExecution wraps a plan with pending step states.
func NewPlanExecution(plan Plan) *PlanExecution {
	steps := make([]StepState, len(plan.Steps))
	for i, s := range plan.Steps {
		steps[i] = StepState{Step: s, Status: StatusPending}
	}
	return &PlanExecution{
		PlanID:   NewID(),
		IntentID: plan.IntentID,
		Steps:    steps,
	}
}

// --- Policy ---

// ToolRequest is the proposed action a policy engine validates: the tool to
// invoke, its parameters, and the intent that proposed it.
type ToolRequest struct {
	IntentID string            `json:"intent_id"`
	Tool     string            `json:"tool"`
	Params   map[string]string `json:"params"`
}

// PolicyDecision is the outcome of validating a ToolRequest.
// A denial always carries at least one human-readable violation.
type PolicyDecision struct {
	Allowed            bool     `json:"allowed"`
	Violations         []string `json:"violations,omitempty"`
	RequiresEscalation bool     `json:"requires_escalation,omitempty"`
}

// --- Tool results ---

// ToolResult is the structured outcome of a tool execution. Execution faults
// are carried in Error rather than returned as Go errors, so the runner can
// turn them into user-facing explanations.
type ToolResult struct {
	Success         bool           `json:"success"`
	Data            map[string]any `json:"data,omitempty"`
	Error           string         `json:"error,omitempty"`
	ExecutionTimeMS int64          `json:"execution_time_ms"`
}

// --- Turn response ---

// Response is the router's answer to one interaction. Every Handle call
// returns a well-formed Response, including all fallback and error paths.
type Response struct {
	Text           string      `json:"text"`
	ToolResult     *ToolResult `json:"tool_result,omitempty"`
	NeedsUserInput bool        `json:"needs_user_input"`
	MissingParam   string      `json:"missing_param,omitempty"`
}

// --- Telemetry ---

// Stage identifies a point in the turn pipeline. A completing turn emits all
// eight stages in order; a turn that suspends at ask_user stops after
// plan_created and a final respond stage.
type Stage string

const (
	StageReceived        Stage = "received"
	StageIntentsEligible Stage = "intents_eligible"
	StageClassified      Stage = "intent_classified"
	StagePlanCreated     Stage = "plan_created"
	StageCommunicated    Stage = "plan_communicated"
	StagePolicyCheck     Stage = "policy_check"
	StageToolExecute     Stage = "tool_execute"
	StageRespond         Stage = "respond"
)

// Event levels.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// TelemetryEvent is one append-only record of a routing decision. The payload
// carries enough structure to reconstruct the decision without consulting
// logs. Parameter values never appear unless their name is redact-exempt.
type TelemetryEvent struct {
	Timestamp     int64          `json:"timestamp"`
	InteractionID string         `json:"interaction_id"`
	SessionID     string         `json:"session_id"`
	Stage         Stage          `json:"stage"`
	Level         string         `json:"level"`
	Payload       map[string]any `json:"payload,omitempty"`
}
