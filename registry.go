package switchboard

import (
	"hash/fnv"
	"log/slog"
)

// DefaultTierOrder ranks customer tiers from lowest to highest. Used for
// Constraints.MinTier comparisons unless overridden with WithTierOrder.
var DefaultTierOrder = []string{"free", "standard", "premium", "enterprise"}

// Registry holds the configured intents and answers eligibility queries.
// Intents are immutable after construction.
type Registry struct {
	intents  []Intent
	tierRank map[string]int
	logger   *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithTierOrder overrides the tier ranking, lowest first.
func WithTierOrder(tiers []string) RegistryOption {
	return func(r *Registry) { r.tierRank = rankTiers(tiers) }
}

// WithRegistryLogger sets the structured logger for eligibility decisions.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates a registry over an immutable intent snapshot.
func NewRegistry(intents []Intent, opts ...RegistryOption) *Registry {
	r := &Registry{
		intents:  append([]Intent(nil), intents...),
		tierRank: rankTiers(DefaultTierOrder),
		logger:   nopLogger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func rankTiers(tiers []string) map[string]int {
	m := make(map[string]int, len(tiers))
	for i, t := range tiers {
		m[t] = i
	}
	return m
}

// All returns every configured intent regardless of eligibility.
func (r *Registry) All() []Intent {
	return append([]Intent(nil), r.intents...)
}

// Lookup returns the intent with the given id, or nil.
func (r *Registry) Lookup(id string) *Intent {
	for i := range r.intents {
		if r.intents[i].ID == id {
			it := r.intents[i]
			return &it
		}
	}
	return nil
}

// Eligible returns the intents an interaction context qualifies for.
// Filters: exact channel membership, rollout cohort, minimum tier.
// An empty result is not an error; the router treats it like an
// unclassified intent.
func (r *Registry) Eligible(ctx map[string]string) []Intent {
	channel := ctx[CtxChannel]
	if channel == "" {
		channel = "chat"
	}
	tier := ctx[CtxCustomerTier]
	cohort := ctx["customer_id"]
	if cohort == "" {
		cohort = ctx[CtxSessionID]
	}

	var out []Intent
	for _, it := range r.intents {
		c := it.Constraints
		if len(c.Channels) > 0 && !contains(c.Channels, channel) {
			continue
		}
		if c.RolloutPercent > 0 && c.RolloutPercent < 100 && !inCohort(cohort, c.RolloutPercent) {
			r.logger.Debug("intent outside rollout cohort", "intent", it.ID, "percent", c.RolloutPercent)
			continue
		}
		if c.MinTier != "" && r.tierRank[tier] < r.tierRank[c.MinTier] {
			continue
		}
		out = append(out, it)
	}
	return out
}

// inCohort buckets an id into 0-99 with FNV-1a and includes it when the
// bucket falls below percent. Stable per id, so rollout membership does not
// flap between turns.
func inCohort(id string, percent int) bool {
	if id == "" {
		return false
	}
	h := fnv.New32a()
	h.Write([]byte(id))
	return int(h.Sum32()%100) < percent
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
