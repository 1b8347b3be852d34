// Package providers tracks per-provider request outcomes, fallback events
// and cost accounting, and derives a performance ranking used to order
// generation attempts.
package providers

import (
	"log/slog"
	"sort"
	"time"

	"git.home.luguber.info/inful/specgen/internal/foundation"
	"git.home.luguber.info/inful/specgen/internal/state"
)

// Preference adjustment constants. The decay floor is deliberate: the
// multiplicative decay has no natural lower bound, and a provider that
// fails for a while should stay rankable once it recovers.
const (
	preferenceDefault = 0.5
	preferenceDecay   = 0.95
	preferenceGrowth  = 1.05
	preferenceFloor   = 0.05
	preferenceCeiling = 1.0
)

// Ranking weights: success rate dominates, then speed, then learned
// preference.
const (
	weightSuccessRate = 0.5
	weightSpeed       = 0.3
	weightPreference  = 0.2
)

// Score is one entry of the provider ranking.
type Score struct {
	Provider string
	Value    float64
}

// ProviderCost is one provider's line in the cost summary.
type ProviderCost struct {
	Provider        string
	TokensUsed      int64
	CostPer1KTokens float64
	EstimatedCost   float64
}

// CostSummary aggregates token spend across providers.
type CostSummary struct {
	TotalCost   float64
	TotalTokens int64
	Providers   []ProviderCost
}

type timingKey struct {
	provider   string
	endpointID string
}

// Tracker records provider outcomes into a state.ProviderStats bundle.
// All mutating methods assume the caller serializes writes (one logical
// writer at a time); recording against an unknown provider name creates
// its tracking state implicitly.
type Tracker struct {
	stats   *state.ProviderStats
	order   []string // first-seen provider order, for stable ranking ties
	pending map[timingKey]time.Time
	logger  *slog.Logger
	now     func() time.Time
}

// NewTracker wraps an existing bundle, or creates a fresh one when stats
// is nil. Providers already present are ordered by name so ranking ties
// stay deterministic across process restarts.
func NewTracker(stats *state.ProviderStats) *Tracker {
	if stats == nil {
		stats = state.NewProviderStats()
	}
	t := &Tracker{
		stats:   stats,
		pending: make(map[timingKey]time.Time),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for name := range stats.Performance {
		t.order = append(t.order, name)
	}
	sort.Strings(t.order)
	return t
}

// WithLogger sets a custom logger.
func (t *Tracker) WithLogger(logger *slog.Logger) *Tracker {
	t.logger = logger
	return t
}

// WithClock overrides the time source. Used by tests.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Stats exposes the underlying bundle for persistence.
func (t *Tracker) Stats() *state.ProviderStats {
	return t.stats
}

// ensure returns the performance record for a provider, creating it (and
// its seeded cost estimate) on first contact.
func (t *Tracker) ensure(provider string) *state.ProviderPerformance {
	if p, ok := t.stats.Performance[provider]; ok && p != nil {
		return p
	}
	p := &state.ProviderPerformance{
		ErrorTypes: make(map[string]int64),
	}
	t.stats.Performance[provider] = p
	if _, ok := t.stats.CostEstimates[provider]; !ok {
		t.stats.CostEstimates[provider] = &state.CostEstimate{
			CostPer1KTokens: DefaultRate(provider),
		}
	}
	t.order = append(t.order, provider)
	return p
}

// RecordSuccess records one successful request: counters, token and time
// accumulators, recomputed averages, last-used timestamp and cost spend.
func (t *Tracker) RecordSuccess(provider string, tokens int64, elapsedSeconds float64) {
	p := t.ensure(provider)
	p.TotalRequests++
	p.SuccessfulRequests++
	p.TotalTokens += tokens
	p.TotalTimeSeconds += elapsedSeconds
	recomputeAverages(p)
	p.LastUsed = foundation.Some(t.now().UTC())

	ce := t.stats.CostEstimates[provider]
	if ce == nil {
		ce = &state.CostEstimate{CostPer1KTokens: DefaultRate(provider)}
		t.stats.CostEstimates[provider] = ce
	}
	ce.TokensUsed += tokens
	ce.EstimatedCost = float64(ce.TokensUsed) / 1000 * ce.CostPer1KTokens
}

// RecordFailure records one failed request: counters, time accumulator,
// the error-kind tally and the recomputed response-time average. Token
// statistics and the last-used timestamp are unaffected; last_used marks
// the last time a provider actually delivered.
func (t *Tracker) RecordFailure(provider, errorKind string, elapsedSeconds float64) {
	p := t.ensure(provider)
	p.TotalRequests++
	p.FailedRequests++
	p.TotalTimeSeconds += elapsedSeconds
	if errorKind != "" {
		p.ErrorTypes[errorKind]++
	}
	recomputeAverages(p)
}

// recomputeAverages derives both averages from the counters that produce
// them. They are never stored independently.
func recomputeAverages(p *state.ProviderPerformance) {
	if p.TotalRequests > 0 {
		p.AvgResponseTime = p.TotalTimeSeconds / float64(p.TotalRequests)
	} else {
		p.AvgResponseTime = 0
	}
	if p.SuccessfulRequests > 0 {
		p.AvgTokensPerRequest = float64(p.TotalTokens) / float64(p.SuccessfulRequests)
	} else {
		p.AvgTokensPerRequest = 0
	}
}

// RecordFallback appends an immutable fallback event and adjusts learned
// preferences: the primary decays multiplicatively (bounded below by the
// floor), and a successful fallback grows toward 1.0 from its prior value
// or the 0.5 default.
func (t *Tracker) RecordFallback(endpointID, primary, fallback, errorKind string, success bool) {
	t.stats.FallbackEvents = append(t.stats.FallbackEvents, state.FallbackEvent{
		Timestamp:        t.now().UTC(),
		EndpointID:       endpointID,
		PrimaryProvider:  primary,
		FallbackProvider: fallback,
		ErrorType:        errorKind,
		Success:          success,
	})

	if prior, ok := t.stats.ProviderPreferences[primary]; ok {
		t.stats.ProviderPreferences[primary] = max(prior*preferenceDecay, preferenceFloor)
	}
	if success {
		prior, ok := t.stats.ProviderPreferences[fallback]
		if !ok {
			prior = preferenceDefault
		}
		t.stats.ProviderPreferences[fallback] = min(prior*preferenceGrowth, preferenceCeiling)
	}

	t.logger.Debug("Recorded provider fallback",
		"endpoint", endpointID,
		"primary", primary,
		"fallback", fallback,
		"error_kind", errorKind,
		"success", success)
}

// Begin records a request start time keyed by (provider, endpoint).
func (t *Tracker) Begin(provider, endpointID string) {
	t.pending[timingKey{provider, endpointID}] = t.now()
}

// End looks up and removes the matching start time, computes the elapsed
// seconds and dispatches to RecordSuccess or RecordFailure. Without a
// matching Begin it is a no-op.
func (t *Tracker) End(provider, endpointID string, success bool, tokens int64, errorKind string) {
	key := timingKey{provider, endpointID}
	started, ok := t.pending[key]
	if !ok {
		t.logger.Debug("End without matching Begin ignored",
			"provider", provider, "endpoint", endpointID)
		return
	}
	delete(t.pending, key)

	elapsed := t.now().Sub(started).Seconds()
	if success {
		t.RecordSuccess(provider, tokens, elapsed)
	} else {
		t.RecordFailure(provider, errorKind, elapsed)
	}
}

// Rank orders providers by composite score, descending:
// 0.5*success_rate + 0.3*speed + 0.2*preference, where speed is
// 1/(1+avg_response_time) and preference defaults to 0.5. Ties keep
// first-seen order (stable sort). Providers known only through
// preferences score on the preference term alone.
func (t *Tracker) Rank() []Score {
	names := append([]string(nil), t.order...)
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}
	prefOnly := make([]string, 0)
	for n := range t.stats.ProviderPreferences {
		if !known[n] {
			prefOnly = append(prefOnly, n)
		}
	}
	sort.Strings(prefOnly)
	names = append(names, prefOnly...)

	scores := make([]Score, 0, len(names))
	for _, name := range names {
		scores = append(scores, Score{Provider: name, Value: t.score(name)})
	}
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Value > scores[j].Value
	})
	return scores
}

func (t *Tracker) score(provider string) float64 {
	var successRate, speed float64
	if p := t.stats.Performance[provider]; p != nil && p.TotalRequests > 0 {
		successRate = float64(p.SuccessfulRequests) / float64(p.TotalRequests)
		// The speed term needs at least one successful request behind the
		// average; failures alone earn no speed credit.
		if p.SuccessfulRequests > 0 {
			speed = 1 / (1 + p.AvgResponseTime)
		}
	}
	pref, ok := t.stats.ProviderPreferences[provider]
	if !ok {
		pref = preferenceDefault
	}
	return weightSuccessRate*successRate + weightSpeed*speed + weightPreference*pref
}

// Cost summarizes estimated spend per provider and in total. Output is
// ordered by provider name for stable rendering.
func (t *Tracker) Cost() CostSummary {
	summary := CostSummary{}
	names := make([]string, 0, len(t.stats.CostEstimates))
	for name := range t.stats.CostEstimates {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ce := t.stats.CostEstimates[name]
		if ce == nil {
			continue
		}
		cost := float64(ce.TokensUsed) / 1000 * ce.CostPer1KTokens
		summary.Providers = append(summary.Providers, ProviderCost{
			Provider:        name,
			TokensUsed:      ce.TokensUsed,
			CostPer1KTokens: ce.CostPer1KTokens,
			EstimatedCost:   cost,
		})
		summary.TotalCost += cost
		summary.TotalTokens += ce.TokensUsed
	}
	return summary
}
