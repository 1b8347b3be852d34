// Package analyze classifies specification endpoints against persisted
// generation state: which are new, which changed since their last
// generation, which are unchanged, and which disappeared.
package analyze

import (
	"log/slog"
	"time"

	"git.home.luguber.info/inful/specgen/internal/fingerprint"
	"git.home.luguber.info/inful/specgen/internal/foundation"
	"git.home.luguber.info/inful/specgen/internal/openapi"
	"git.home.luguber.info/inful/specgen/internal/state"
	"git.home.luguber.info/inful/specgen/internal/util/sets"
)

// ChangeSet is the four-way classification of endpoint IDs. The four sets
// are pairwise disjoint and together cover current IDs ∪ stored IDs:
// New ∪ Changed ∪ Unchanged == current IDs, Removed == stored − current.
type ChangeSet struct {
	New       sets.Set[string]
	Changed   sets.Set[string]
	Unchanged sets.Set[string]
	Removed   sets.Set[string]
}

// Generation carries the outcome of one endpoint's completed generation
// into MarkGenerated. Provider and TokensUsed are optional (zero values
// mean "not reported").
type Generation struct {
	TestCases  int
	OutputFile string
	Provider   string
	TokensUsed int64
}

// Analyzer computes change classifications and applies post-generation
// state mutations. It holds no state of its own; all mutation happens on
// the PersistedState instance passed in, under the caller's single-writer
// discipline.
type Analyzer struct {
	logger *slog.Logger
	now    func() time.Time
}

// New creates an analyzer.
func New() *Analyzer {
	return &Analyzer{
		logger: slog.Default(),
		now:    time.Now,
	}
}

// WithLogger sets a custom logger.
func (a *Analyzer) WithLogger(logger *slog.Logger) *Analyzer {
	a.logger = logger
	return a
}

// WithClock overrides the time source. Used by tests.
func (a *Analyzer) WithClock(now func() time.Time) *Analyzer {
	a.now = now
	return a
}

// Analyze classifies every endpoint of the current specification against
// the persisted state. Endpoints present in both are re-fingerprinted and
// compared against the stored definition hash.
func (a *Analyzer) Analyze(endpoints []openapi.Endpoint, st *state.PersistedState) ChangeSet {
	current := sets.New[string]()
	byID := make(map[string]openapi.Endpoint, len(endpoints))
	for _, e := range endpoints {
		id := e.ID()
		current.Add(id)
		byID[id] = e
	}

	stored := sets.New(st.StoredIDs()...)

	cs := ChangeSet{
		New:       current.Diff(stored),
		Changed:   sets.New[string](),
		Unchanged: sets.New[string](),
		Removed:   stored.Diff(current),
	}

	for id := range current.Intersect(stored) {
		es := st.Endpoints[id]
		if es == nil || es.DefinitionHash != fingerprint.Endpoint(byID[id]) {
			cs.Changed.Add(id)
		} else {
			cs.Unchanged.Add(id)
		}
	}

	a.logger.Debug("Analyzed specification against persisted state",
		"new", len(cs.New),
		"changed", len(cs.Changed),
		"unchanged", len(cs.Unchanged),
		"removed", len(cs.Removed))
	return cs
}

// ShouldGenerate reports whether an endpoint needs (re)generation. Force
// always wins; otherwise an endpoint is generated when it has no persisted
// state or its current fingerprint differs from the stored one.
func (a *Analyzer) ShouldGenerate(e openapi.Endpoint, st *state.PersistedState, force bool) bool {
	if force {
		return true
	}
	es, ok := st.Endpoints[e.ID()]
	if !ok || es == nil {
		return true
	}
	return es.DefinitionHash != fingerprint.Endpoint(e)
}

// Partition splits endpoints into to-generate and to-skip buckets,
// preserving input order within each bucket.
func (a *Analyzer) Partition(endpoints []openapi.Endpoint, st *state.PersistedState, force bool) (toGenerate, toSkip []openapi.Endpoint) {
	for _, e := range endpoints {
		if a.ShouldGenerate(e, st, force) {
			toGenerate = append(toGenerate, e)
		} else {
			toSkip = append(toSkip, e)
		}
	}
	return toGenerate, toSkip
}

// MarkGenerated records a completed generation: the endpoint's state entry
// is inserted or overwritten with the freshly computed fingerprint, the
// current timestamp and the generation outcome. This is the only place a
// stored definition hash changes.
func (a *Analyzer) MarkGenerated(st *state.PersistedState, e openapi.Endpoint, gen Generation) {
	es := &state.EndpointState{
		DefinitionHash: fingerprint.Endpoint(e),
		LastGenerated:  a.now().UTC(),
		TestCasesCount: gen.TestCases,
	}
	if gen.OutputFile != "" {
		es.OutputFile = foundation.Some(gen.OutputFile)
	}
	if gen.Provider != "" {
		es.ProviderUsed = foundation.Some(gen.Provider)
	}
	if gen.TokensUsed > 0 {
		es.TokensUsed = foundation.Some(gen.TokensUsed)
	}
	st.Endpoints[e.ID()] = es
}

// CleanupRemoved deletes every stored endpoint state whose ID is not in
// the current specification. Returns the number of entries removed.
func (a *Analyzer) CleanupRemoved(st *state.PersistedState, current sets.Set[string]) int {
	removed := 0
	for id := range st.Endpoints {
		if !current.Has(id) {
			delete(st.Endpoints, id)
			removed++
		}
	}
	if removed > 0 {
		a.logger.Debug("Removed stale endpoint state", "count", removed)
	}
	return removed
}
