// Package switchboard routes conversational customer requests to tools.
//
// It provides modular, interface-driven building blocks: a per-session
// conversation state machine, an intent registry with eligibility
// constraints, pluggable classification and planning ports, a composable
// policy engine, a plan runner with step-level statuses, and a structured
// telemetry pipeline covering every stage of a turn.
//
// # Quick Start
//
// Wire a router from the defaults:
//
//	store := switchboard.NewMemoryStore()
//	registry := switchboard.NewRegistry(intents)
//	classifier := switchboard.NewRegexClassifier(intents)
//	tools := switchboard.NewToolRegistry()
//	tools.Register("check_order_status", order.CheckStatus(src))
//
//	runner := switchboard.NewPlanRunner(policy, tools, telemetry)
//	router := switchboard.NewRouter(store, registry, classifier,
//		switchboard.NewTemplatePlanner(), runner, telemetry)
//
//	resp, err := router.Handle(ctx, switchboard.Interaction{
//		ID:   switchboard.NewID(),
//		Text: "Where is my order O-12345?",
//	})
//
// # Core Interfaces
//
// The root package defines the contracts that all components implement:
//
//   - [SessionStore] — per-session state: history, params, waiting flag, pending plan
//   - [Classifier] — message to intent plus extracted parameters
//   - [Planner] — classified intent to an ordered plan
//   - [PolicyEngine] — pre-execution validation of tool requests
//   - [Executor] — tool dispatch with duplicate suppression
//   - [Provider] — reasoning backend for LLM-backed classification and fallback
//   - [DataSource] — order and customer lookups for tool handlers
//   - [TelemetrySink] — destination for structured stage events
//   - [Tracer] — span emission around turns and tool execution
//
// Adapter subpackages supply concrete implementations: store/sqlite and
// store/redis for sessions, provider/openaicompat for reasoning, sink/kafka
// and observer for telemetry export, datasource/jsonfile, datasource/postgres
// and datasource/remote for domain data, and tools/order for the built-in
// customer-support handlers.
package switchboard
