package metrics

import "time"

// Outcome labels for endpoint generation results.
const (
	OutcomeGenerated = "generated"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Recorder defines observability hooks for generation runs. Implementations
// may forward to Prometheus, OpenTelemetry, etc. The NoopRecorder allows
// optional injection.
type Recorder interface {
	ObserveRunDuration(d time.Duration)
	ObserveProviderRequest(provider string, d time.Duration, success bool)
	IncEndpointOutcome(outcome string)
	IncFallback(primary, fallback string)
	SetWorkerConcurrency(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are
// not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveRunDuration(time.Duration)                    {}
func (NoopRecorder) ObserveProviderRequest(string, time.Duration, bool)  {}
func (NoopRecorder) IncEndpointOutcome(string)                           {}
func (NoopRecorder) IncFallback(string, string)                          {}
func (NoopRecorder) SetWorkerConcurrency(int)                            {}
