package switchboard

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// PolicyEngine validates a proposed tool action before execution.
// Implementations must be side-effect free; a denial always carries at least
// one violation reason. AllowAll and RulePolicy are interchangeable behind
// this interface — the router and runner never special-case either.
type PolicyEngine interface {
	Validate(ctx context.Context, req ToolRequest, interaction Interaction, history []Message) PolicyDecision
}

// AllowAll accepts every tool request. The development default before real
// rules are configured.
type AllowAll struct{}

func (AllowAll) Validate(context.Context, ToolRequest, Interaction, []Message) PolicyDecision {
	return PolicyDecision{Allowed: true}
}

// --- Rule tree ---

// Compare is a numeric threshold predicate over a resolved field.
type Compare struct {
	Field string  `yaml:"field" json:"field"`
	Op    string  `yaml:"op" json:"op"` // lt, lte, gt, gte, eq
	Value float64 `yaml:"value" json:"value"`
}

// MemberOf tests a categorical field against a value set.
type MemberOf struct {
	Field  string   `yaml:"field" json:"field"`
	Values []string `yaml:"values" json:"values"`
}

// OlderThan tests whether a date-valued field is older than Days.
// Accepts RFC 3339, 2006-01-02, or Unix seconds.
type OlderThan struct {
	Field string `yaml:"field" json:"field"`
	Days  int    `yaml:"days" json:"days"`
}

// AskedAtLeast tests whether the session has already asked the user for a
// parameter at least Times times.
type AskedAtLeast struct {
	Param string `yaml:"param" json:"param"`
	Times int    `yaml:"times" json:"times"`
}

// Rule is a composable boolean tree. Exactly one field is set per node:
// All/Any/Not compose children, the rest are atomic predicates. Adding a
// predicate kind means adding a variant field and an eval case, not touching
// the evaluator's control flow.
type Rule struct {
	All []Rule `yaml:"all,omitempty" json:"all,omitempty"`
	Any []Rule `yaml:"any,omitempty" json:"any,omitempty"`
	Not *Rule  `yaml:"not,omitempty" json:"not,omitempty"`

	Compare      *Compare      `yaml:"compare,omitempty" json:"compare,omitempty"`
	MemberOf     *MemberOf     `yaml:"member_of,omitempty" json:"member_of,omitempty"`
	OlderThan    *OlderThan    `yaml:"older_than,omitempty" json:"older_than,omitempty"`
	AskedAtLeast *AskedAtLeast `yaml:"asked_at_least,omitempty" json:"asked_at_least,omitempty"`
}

// evalContext carries the inputs a rule tree may inspect.
type evalContext struct {
	req         ToolRequest
	interaction Interaction
	history     []Message
}

// field resolves a name against request params first, then interaction
// context, then interaction built-ins.
func (e evalContext) field(name string) (string, bool) {
	if v, ok := e.req.Params[name]; ok {
		return v, true
	}
	if v, ok := e.interaction.Context[name]; ok {
		return v, true
	}
	switch name {
	case "customer_id":
		return e.interaction.CustomerID, e.interaction.CustomerID != ""
	case "tool":
		return e.req.Tool, true
	case "intent_id":
		return e.req.IntentID, true
	}
	return "", false
}

// Eval evaluates the tree. Composites short-circuit; an atomic predicate
// over a missing or unparsable field evaluates false. A zero node (nothing
// set) evaluates false so an empty rule never matches.
func (r Rule) Eval(e evalContext) bool {
	switch {
	case len(r.All) > 0:
		for _, c := range r.All {
			if !c.Eval(e) {
				return false
			}
		}
		return true
	case len(r.Any) > 0:
		for _, c := range r.Any {
			if c.Eval(e) {
				return true
			}
		}
		return false
	case r.Not != nil:
		return !r.Not.Eval(e)
	case r.Compare != nil:
		return r.Compare.eval(e)
	case r.MemberOf != nil:
		return r.MemberOf.eval(e)
	case r.OlderThan != nil:
		return r.OlderThan.eval(e)
	case r.AskedAtLeast != nil:
		return r.AskedAtLeast.eval(e)
	}
	return false
}

func (c *Compare) eval(e evalContext) bool {
	raw, ok := e.field(c.Field)
	if !ok {
		return false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return false
	}
	switch c.Op {
	case "lt":
		return v < c.Value
	case "lte":
		return v <= c.Value
	case "gt":
		return v > c.Value
	case "gte":
		return v >= c.Value
	case "eq":
		return v == c.Value
	}
	return false
}

func (m *MemberOf) eval(e evalContext) bool {
	raw, ok := e.field(m.Field)
	if !ok {
		return false
	}
	return contains(m.Values, raw)
}

func (o *OlderThan) eval(e evalContext) bool {
	raw, ok := e.field(o.Field)
	if !ok {
		return false
	}
	t, ok := parseDate(raw)
	if !ok {
		return false
	}
	return time.Since(t) > time.Duration(o.Days)*24*time.Hour
}

func parseDate(raw string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, true
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0), true
	}
	return time.Time{}, false
}

func (a *AskedAtLeast) eval(e evalContext) bool {
	count := 0
	for _, m := range e.history {
		if m.Role == RoleAgent && m.Metadata[MetaType] == "ask_user" && m.Metadata[MetaParam] == a.Param {
			count++
		}
	}
	return count >= a.Times
}

// --- Rule-backed engine ---

// PolicyRule is one named deny rule: when its tree matches a request for the
// given tool, the request is denied with Reason.
type PolicyRule struct {
	Name     string `yaml:"name" json:"name"`
	Tool     string `yaml:"tool,omitempty" json:"tool,omitempty"` // empty matches every tool
	Deny     Rule   `yaml:"deny_when" json:"deny_when"`
	Reason   string `yaml:"reason" json:"reason"`
	Escalate bool   `yaml:"escalate,omitempty" json:"escalate,omitempty"`
}

// RulePolicy evaluates configured deny rules against each tool request.
// Evaluation is read-only and deterministic for fixed inputs.
type RulePolicy struct {
	rules  []PolicyRule
	logger *slog.Logger
}

// RulePolicyOption configures a RulePolicy.
type RulePolicyOption func(*RulePolicy)

// WithPolicyLogger sets the structured logger for denial decisions.
func WithPolicyLogger(l *slog.Logger) RulePolicyOption {
	return func(p *RulePolicy) { p.logger = l }
}

// NewRulePolicy creates an engine over an immutable rule snapshot.
func NewRulePolicy(rules []PolicyRule, opts ...RulePolicyOption) *RulePolicy {
	p := &RulePolicy{rules: append([]PolicyRule(nil), rules...), logger: nopLogger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *RulePolicy) Validate(_ context.Context, req ToolRequest, interaction Interaction, history []Message) PolicyDecision {
	e := evalContext{req: req, interaction: interaction, history: history}
	decision := PolicyDecision{Allowed: true}
	for _, rule := range p.rules {
		if rule.Tool != "" && rule.Tool != req.Tool {
			continue
		}
		if !rule.Deny.Eval(e) {
			continue
		}
		reason := rule.Reason
		if reason == "" {
			reason = fmt.Sprintf("denied by rule %q", rule.Name)
		}
		decision.Allowed = false
		decision.Violations = append(decision.Violations, reason)
		if rule.Escalate {
			decision.RequiresEscalation = true
		}
		p.logger.Info("policy denied tool request", "rule", rule.Name, "tool", req.Tool)
	}
	return decision
}

// compile-time checks
var (
	_ PolicyEngine = AllowAll{}
	_ PolicyEngine = (*RulePolicy)(nil)
)
