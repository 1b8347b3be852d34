// Package state owns the durable record of generation history: which
// endpoints were generated against which definition hashes, run statistics,
// and provider performance bookkeeping. The Store is the only component
// that reads or writes the backing file.
package state

import (
	"time"

	"git.home.luguber.info/inful/specgen/internal/foundation"
)

// Version is written into every state file this build produces.
const Version = "1.0"

// EndpointState records the last successful generation for one endpoint.
// Created or overwritten when an endpoint finishes generation; removed when
// the endpoint disappears from the current specification.
type EndpointState struct {
	DefinitionHash string                    `json:"definition_hash"`
	LastGenerated  time.Time                 `json:"last_generated"`
	TestCasesCount int                       `json:"test_cases_count"`
	OutputFile     foundation.Option[string] `json:"output_file"`
	ProviderUsed   foundation.Option[string] `json:"provider_used"`
	TokensUsed     foundation.Option[int64]  `json:"tokens_used"`
}

// ProjectConfig identifies the API source this state belongs to.
// Overwritten on every run that successfully loads a specification.
type ProjectConfig struct {
	APISource    string    `json:"api_source"`
	LastModified time.Time `json:"last_modified"`
	SourceHash   string    `json:"source_hash"`
}

// ProcessingStatistics summarizes the most recent run. Overwritten each run.
type ProcessingStatistics struct {
	TotalEndpoints      int                        `json:"total_endpoints"`
	GeneratedCount      int                        `json:"generated_count"`
	SkippedCount        int                        `json:"skipped_count"`
	FailedCount         int                        `json:"failed_count"`
	LastRunDuration     foundation.Option[float64] `json:"last_run_duration"`
	ProviderUsage       map[string]int             `json:"provider_usage"`
	ProviderSuccessRate map[string]float64         `json:"provider_success_rate"`
	ProviderAvgTokens   map[string]float64         `json:"provider_avg_tokens"`
}

// ProviderPerformance tracks request outcomes for one provider.
// Invariant: SuccessfulRequests + FailedRequests == TotalRequests. The
// averages are always recomputed from the counters, never stored
// independently of them.
type ProviderPerformance struct {
	TotalRequests       int64                        `json:"total_requests"`
	SuccessfulRequests  int64                        `json:"successful_requests"`
	FailedRequests      int64                        `json:"failed_requests"`
	TotalTokens         int64                        `json:"total_tokens"`
	TotalTimeSeconds    float64                      `json:"total_time_seconds"`
	AvgResponseTime     float64                      `json:"avg_response_time"`
	AvgTokensPerRequest float64                      `json:"avg_tokens_per_request"`
	ErrorTypes          map[string]int64             `json:"error_types"`
	LastUsed            foundation.Option[time.Time] `json:"last_used"`
}

// FallbackEvent is an immutable, append-only record of switching from a
// failed provider to an alternate for one endpoint.
type FallbackEvent struct {
	Timestamp        time.Time `json:"timestamp"`
	EndpointID       string    `json:"endpoint_id"`
	PrimaryProvider  string    `json:"primary_provider"`
	FallbackProvider string    `json:"fallback_provider"`
	ErrorType        string    `json:"error_type"`
	Success          bool      `json:"success"`
}

// CostEstimate accumulates token spend for one provider.
// EstimatedCost is derived: TokensUsed/1000 * CostPer1KTokens.
type CostEstimate struct {
	TokensUsed      int64   `json:"tokens_used"`
	CostPer1KTokens float64 `json:"cost_per_1k_tokens"`
	EstimatedCost   float64 `json:"estimated_cost"`
}

// ProviderStats bundles all provider-related bookkeeping.
type ProviderStats struct {
	Performance         map[string]*ProviderPerformance `json:"performance"`
	FallbackEvents      []FallbackEvent                 `json:"fallback_events"`
	CostEstimates       map[string]*CostEstimate        `json:"cost_estimates"`
	ProviderPreferences map[string]float64              `json:"provider_preferences"`
}

// NewProviderStats returns an empty provider statistics bundle.
func NewProviderStats() *ProviderStats {
	return &ProviderStats{
		Performance:         make(map[string]*ProviderPerformance),
		FallbackEvents:      []FallbackEvent{},
		CostEstimates:       make(map[string]*CostEstimate),
		ProviderPreferences: make(map[string]float64),
	}
}

// PersistedState is the aggregate root persisted to disk. It is the single
// source of truth; mutation happens in memory through the analyzer and the
// provider tracker, followed by an explicit Store.Save.
type PersistedState struct {
	Version       string                    `json:"version"`
	Config        *ProjectConfig            `json:"config"`
	Endpoints     map[string]*EndpointState `json:"endpoints"`
	Statistics    ProcessingStatistics      `json:"statistics"`
	ProviderStats *ProviderStats            `json:"provider_stats"`
}

// NewPersistedState returns a fresh default state: current version, empty
// endpoint map, zeroed statistics, no config, no provider stats.
func NewPersistedState() *PersistedState {
	return &PersistedState{
		Version:    Version,
		Endpoints:  make(map[string]*EndpointState),
		Statistics: NewProcessingStatistics(),
	}
}

// NewProcessingStatistics returns zeroed statistics with allocated maps.
func NewProcessingStatistics() ProcessingStatistics {
	return ProcessingStatistics{
		ProviderUsage:       make(map[string]int),
		ProviderSuccessRate: make(map[string]float64),
		ProviderAvgTokens:   make(map[string]float64),
	}
}

// StoredIDs returns the set of endpoint IDs with persisted state.
func (s *PersistedState) StoredIDs() []string {
	ids := make([]string, 0, len(s.Endpoints))
	for id := range s.Endpoints {
		ids = append(ids, id)
	}
	return ids
}

// EnsureProviderStats returns the provider stats bundle, creating it on
// first use.
func (s *PersistedState) EnsureProviderStats() *ProviderStats {
	if s.ProviderStats == nil {
		s.ProviderStats = NewProviderStats()
	}
	return s.ProviderStats
}

// ApplyProviderPerformance refreshes the per-provider statistic maps from
// the performance counters after a run.
func (s *ProcessingStatistics) ApplyProviderPerformance(perf map[string]*ProviderPerformance) {
	if s.ProviderSuccessRate == nil {
		s.ProviderSuccessRate = make(map[string]float64)
	}
	if s.ProviderAvgTokens == nil {
		s.ProviderAvgTokens = make(map[string]float64)
	}
	for name, p := range perf {
		if p.TotalRequests > 0 {
			s.ProviderSuccessRate[name] = float64(p.SuccessfulRequests) / float64(p.TotalRequests)
		}
		s.ProviderAvgTokens[name] = p.AvgTokensPerRequest
	}
}

// Validate checks structural invariants of an endpoint state entry.
func (e *EndpointState) Validate() foundation.ValidationResult {
	var errs []foundation.FieldError
	if e.DefinitionHash == "" {
		errs = append(errs, foundation.NewValidationError("definition_hash", "required", "definition hash is required"))
	}
	if e.TestCasesCount < 0 {
		errs = append(errs, foundation.NewValidationError("test_cases_count", "non_negative", "test case count must be non-negative"))
	}
	if e.TokensUsed.IsSome() && e.TokensUsed.Unwrap() < 0 {
		errs = append(errs, foundation.NewValidationError("tokens_used", "non_negative", "token count must be non-negative"))
	}
	if len(errs) > 0 {
		return foundation.Invalid(errs...)
	}
	return foundation.Valid()
}

// Validate checks the counter invariant for one provider.
func (p *ProviderPerformance) Validate() foundation.ValidationResult {
	var errs []foundation.FieldError
	if p.TotalRequests < 0 || p.SuccessfulRequests < 0 || p.FailedRequests < 0 {
		errs = append(errs, foundation.NewValidationError("requests", "non_negative", "request counters must be non-negative"))
	}
	if p.SuccessfulRequests+p.FailedRequests != p.TotalRequests {
		errs = append(errs, foundation.NewValidationError("total_requests", "invariant", "successful + failed must equal total requests"))
	}
	if p.TotalTokens < 0 {
		errs = append(errs, foundation.NewValidationError("total_tokens", "non_negative", "token counter must be non-negative"))
	}
	if len(errs) > 0 {
		return foundation.Invalid(errs...)
	}
	return foundation.Valid()
}

// Validate checks the whole aggregate. Used by the Store on load to tell a
// schema-mismatch apart from a syntax error.
func (s *PersistedState) Validate() foundation.ValidationResult {
	result := foundation.Valid()

	if s.Version == "" {
		result = result.Combine(foundation.Invalid(
			foundation.NewValidationError("version", "required", "version is required")))
	}

	for id, es := range s.Endpoints {
		if es == nil {
			result = result.Combine(foundation.Invalid(
				foundation.NewValidationError("endpoints."+id, "required", "endpoint state entry is null")))
			continue
		}
		if sub := es.Validate(); !sub.Valid {
			for _, fe := range sub.Errors {
				result = result.Combine(foundation.Invalid(
					foundation.NewValidationError("endpoints."+id+"."+fe.Field, fe.Code, fe.Message)))
			}
		}
	}

	if s.Statistics.TotalEndpoints < 0 || s.Statistics.GeneratedCount < 0 ||
		s.Statistics.SkippedCount < 0 || s.Statistics.FailedCount < 0 {
		result = result.Combine(foundation.Invalid(
			foundation.NewValidationError("statistics", "non_negative", "run counters must be non-negative")))
	}

	if ps := s.ProviderStats; ps != nil {
		for name, p := range ps.Performance {
			if p == nil {
				result = result.Combine(foundation.Invalid(
					foundation.NewValidationError("provider_stats.performance."+name, "required", "performance entry is null")))
				continue
			}
			if sub := p.Validate(); !sub.Valid {
				for _, fe := range sub.Errors {
					result = result.Combine(foundation.Invalid(
						foundation.NewValidationError("provider_stats.performance."+name+"."+fe.Field, fe.Code, fe.Message)))
				}
			}
		}
		for name, pref := range ps.ProviderPreferences {
			if pref < 0 || pref > 1 {
				result = result.Combine(foundation.Invalid(
					foundation.NewValidationError("provider_stats.provider_preferences."+name, "range", "preference must be within [0,1]")))
			}
		}
	}

	return result
}
