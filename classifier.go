package switchboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ClassifyRequest bundles everything the classification port may consult:
// the inbound message, the eligible intent set, bounded history, parameters
// already known for the session, and the waiting-parameter hint.
type ClassifyRequest struct {
	Interaction  Interaction
	Eligible     []Intent
	History      []Message
	Known        map[string]string
	WaitingFor   string
	LastIntentID string
}

// Classifier maps a message onto an eligible intent and extracts parameters.
// The contract is total: implementations degrade to a nil-intent result on
// backend faults or malformed output instead of failing the turn.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) ClassificationResult
}

// missingParams returns the intent's required parameters not present in
// either map, preserving the declared order.
func missingParams(intent *Intent, known, extracted map[string]string) []string {
	var out []string
	for _, p := range intent.RequiredParams {
		if known[p] == "" && extracted[p] == "" {
			out = append(out, p)
		}
	}
	return out
}

// --- Input normalization ---

// zeroWidthChars strips Unicode zero-width and invisible characters before
// pattern matching, so obfuscated input still classifies.
var zeroWidthChars = strings.NewReplacer(
	"\u200b", " ", // zero-width space
	"\u200c", " ", // zero-width non-joiner
	"\u200d", " ", // zero-width joiner
	"\ufeff", " ", // zero-width no-break space (BOM)
	"\u2060", " ", // word joiner
	"\u00ad", "", // soft hyphen
)

// normalizeInput strips zero-width characters and applies NFKC so fullwidth
// Latin and ligature forms match ASCII patterns.
func normalizeInput(text string) string {
	return norm.NFKC.String(zeroWidthChars.Replace(text))
}

// --- Regex classifier ---

// RegexClassifier picks an intent by keyword match and fills parameters with
// per-intent regex patterns. Deterministic and offline: the development and
// test-harness classifier, and the degraded-mode stand-in when no reasoning
// backend is configured.
type RegexClassifier struct {
	patterns map[string]map[string]*regexp.Regexp // intent id -> param -> pattern
	logger   *slog.Logger
}

// RegexClassifierOption configures a RegexClassifier.
type RegexClassifierOption func(*RegexClassifier)

// WithRegexLogger sets the structured logger for classification decisions.
func WithRegexLogger(l *slog.Logger) RegexClassifierOption {
	return func(c *RegexClassifier) { c.logger = l }
}

// NewRegexClassifier precompiles the param patterns of every intent.
// Patterns that fail to compile are skipped; config loading validates them
// beforehand, so a skip here means the registry and classifier were built
// from different snapshots.
func NewRegexClassifier(intents []Intent, opts ...RegexClassifierOption) *RegexClassifier {
	c := &RegexClassifier{
		patterns: make(map[string]map[string]*regexp.Regexp, len(intents)),
		logger:   nopLogger,
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, it := range intents {
		compiled := make(map[string]*regexp.Regexp, len(it.ParamPatterns))
		for param, pattern := range it.ParamPatterns {
			re, err := regexp.Compile(pattern)
			if err != nil {
				c.logger.Warn("skipping invalid param pattern", "intent", it.ID, "param", param, "err", err)
				continue
			}
			compiled[param] = re
		}
		c.patterns[it.ID] = compiled
	}
	return c
}

func (c *RegexClassifier) Classify(_ context.Context, req ClassifyRequest) ClassificationResult {
	if len(req.Eligible) == 0 {
		return ClassificationResult{}
	}
	text := normalizeInput(req.Interaction.Text)

	// A waiting session resumes its last intent: the whole message is likely
	// just the answer to the pending question.
	if req.WaitingFor != "" {
		if intent := findIntent(req.Eligible, req.LastIntentID); intent != nil {
			extracted := c.extract(intent, text)
			if _, ok := extracted[req.WaitingFor]; !ok {
				// Bare answers like "O-12345" may not sit in sentence context;
				// try the waiting param's pattern against the trimmed message.
				if re := c.patterns[intent.ID][req.WaitingFor]; re != nil {
					if m := re.FindString(strings.TrimSpace(text)); m != "" {
						extracted[req.WaitingFor] = m
					}
				}
			}
			return ClassificationResult{
				Intent:     intent,
				Params:     extracted,
				Missing:    missingParams(intent, req.Known, extracted),
				Confidence: 0.9,
			}
		}
	}

	intent := bestByKeywords(req.Eligible, text)
	if intent == nil {
		return ClassificationResult{}
	}
	extracted := c.extract(intent, text)
	return ClassificationResult{
		Intent:     intent,
		Params:     extracted,
		Missing:    missingParams(intent, req.Known, extracted),
		Confidence: 0.8,
	}
}

// extract fills parameters by pattern, in declared parameter order, removing
// each match from the text before the next pattern runs. One value is never
// read out of another: the digits inside an order number must not satisfy an
// amount pattern.
func (c *RegexClassifier) extract(intent *Intent, text string) map[string]string {
	out := make(map[string]string)
	remaining := text
	for _, param := range paramOrder(intent) {
		re := c.patterns[intent.ID][param]
		if re == nil {
			continue
		}
		loc := re.FindStringIndex(remaining)
		if loc == nil {
			continue
		}
		out[param] = remaining[loc[0]:loc[1]]
		remaining = remaining[:loc[0]] + " " + remaining[loc[1]:]
	}
	return out
}

// paramOrder lists an intent's pattern parameters: required ones first in
// declared order, any extras after, sorted for determinism.
func paramOrder(intent *Intent) []string {
	out := make([]string, 0, len(intent.ParamPatterns))
	seen := make(map[string]bool, len(intent.ParamPatterns))
	for _, p := range intent.RequiredParams {
		if _, ok := intent.ParamPatterns[p]; ok && !seen[p] {
			out = append(out, p)
			seen[p] = true
		}
	}
	var extras []string
	for p := range intent.ParamPatterns {
		if !seen[p] {
			extras = append(extras, p)
		}
	}
	sort.Strings(extras)
	return append(out, extras...)
}

func findIntent(intents []Intent, id string) *Intent {
	for i := range intents {
		if intents[i].ID == id {
			it := intents[i]
			return &it
		}
	}
	return nil
}

// bestByKeywords returns the intent with the most keyword hits, earliest
// wins ties. Nil when no keyword matches: an unrecognized message must
// classify as unknown, not default to the first intent.
func bestByKeywords(intents []Intent, text string) *Intent {
	lower := strings.ToLower(text)
	best, bestScore := -1, 0
	for i, it := range intents {
		score := 0
		for _, kw := range it.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return nil
	}
	it := intents[best]
	return &it
}

// --- LLM classifier ---

// LLMClassifier asks the reasoning backend to pick an intent and extract
// parameters, using a JSON-object response format. Backend errors and
// malformed output degrade to a nil-intent result; they never fail the turn.
type LLMClassifier struct {
	provider   Provider
	maxHistory int
	logger     *slog.Logger
}

// LLMClassifierOption configures an LLMClassifier.
type LLMClassifierOption func(*LLMClassifier)

// WithClassifierLogger sets the structured logger for degraded results.
func WithClassifierLogger(l *slog.Logger) LLMClassifierOption {
	return func(c *LLMClassifier) { c.logger = l }
}

// WithClassifierHistory bounds how many trailing history messages are
// included in the prompt. Default 6.
func WithClassifierHistory(n int) LLMClassifierOption {
	return func(c *LLMClassifier) { c.maxHistory = n }
}

// NewLLMClassifier creates a classifier over the given reasoning backend.
func NewLLMClassifier(provider Provider, opts ...LLMClassifierOption) *LLMClassifier {
	c := &LLMClassifier{provider: provider, maxHistory: 6, logger: nopLogger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// classifierPayload is the JSON shape the backend is asked to return.
type classifierPayload struct {
	IntentID   string            `json:"intent_id"`
	Params     map[string]string `json:"params"`
	Confidence float64           `json:"confidence"`
}

func (c *LLMClassifier) Classify(ctx context.Context, req ClassifyRequest) ClassificationResult {
	if len(req.Eligible) == 0 {
		return ClassificationResult{}
	}

	resp, err := c.provider.Chat(ctx, ChatRequest{Messages: c.prompt(req), JSON: true})
	if err != nil {
		c.logger.Warn("classification backend failed, degrading to unknown intent",
			"provider", c.provider.Name(), "err", err)
		return ClassificationResult{}
	}

	var payload classifierPayload
	if err := json.Unmarshal([]byte(resp.Content), &payload); err != nil {
		c.logger.Warn("malformed classifier output, degrading to unknown intent", "err", err)
		return ClassificationResult{}
	}

	intent := findIntent(req.Eligible, payload.IntentID)
	if intent == nil {
		return ClassificationResult{}
	}
	if payload.Params == nil {
		payload.Params = make(map[string]string)
	}
	return ClassificationResult{
		Intent:     intent,
		Params:     payload.Params,
		Missing:    missingParams(intent, req.Known, payload.Params),
		Confidence: payload.Confidence,
	}
}

// prompt renders the eligible intents, session hints, and trailing history
// into a compact classification prompt.
func (c *LLMClassifier) prompt(req ClassifyRequest) []ChatMessage {
	var b strings.Builder
	b.WriteString("You classify customer messages. Pick one intent from the list, ")
	b.WriteString("extract its required parameters from the message, and reply with a JSON object ")
	b.WriteString(`{"intent_id": string|null, "params": object, "confidence": number}. `)
	b.WriteString("Use null for intent_id when no listed intent fits.\n\nIntents:\n")
	for _, it := range req.Eligible {
		fmt.Fprintf(&b, "- %s: %s (params: %s)\n", it.ID, it.Description, strings.Join(it.RequiredParams, ", "))
	}
	if len(req.Known) > 0 {
		names := make([]string, 0, len(req.Known))
		for k := range req.Known {
			names = append(names, k)
		}
		fmt.Fprintf(&b, "\nAlready known parameters: %s\n", strings.Join(names, ", "))
	}
	if req.WaitingFor != "" {
		fmt.Fprintf(&b, "\nThe user was just asked for %q; their message may be only that value.\n", req.WaitingFor)
	}

	messages := []ChatMessage{SystemPrompt(b.String())}
	history := req.History
	if c.maxHistory > 0 && len(history) > c.maxHistory {
		history = history[len(history)-c.maxHistory:]
	}
	for _, m := range history {
		role := "user"
		if m.Role != RoleUser {
			role = "assistant"
		}
		messages = append(messages, ChatMessage{Role: role, Content: m.Text})
	}
	return append(messages, UserPrompt(req.Interaction.Text))
}

// compile-time checks
var (
	_ Classifier = (*RegexClassifier)(nil)
	_ Classifier = (*LLMClassifier)(nil)
)
