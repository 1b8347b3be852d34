package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once              sync.Once
	runDuration       prom.Histogram
	providerDuration  *prom.HistogramVec
	endpointOutcomes  *prom.CounterVec
	fallbacks         *prom.CounterVec
	workerConcurrency prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.runDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "specgen",
			Name:      "run_duration_seconds",
			Help:      "Total generation run duration",
			Buckets:   prom.DefBuckets,
		})
		pr.providerDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "specgen",
			Name:      "provider_request_duration_seconds",
			Help:      "Duration of individual LLM provider requests",
			Buckets:   prom.DefBuckets,
		}, []string{"provider", "result"})
		pr.endpointOutcomes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "specgen",
			Name:      "endpoint_outcomes_total",
			Help:      "Endpoint generation outcomes",
		}, []string{"outcome"})
		pr.fallbacks = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "specgen",
			Name:      "provider_fallbacks_total",
			Help:      "Provider fallback switches by primary and fallback provider",
		}, []string{"primary", "fallback"})
		pr.workerConcurrency = prom.NewGauge(prom.GaugeOpts{
			Namespace: "specgen",
			Name:      "worker_concurrency",
			Help:      "Configured generation worker count",
		})

		reg.MustRegister(
			pr.runDuration,
			pr.providerDuration,
			pr.endpointOutcomes,
			pr.fallbacks,
			pr.workerConcurrency,
		)
	})
	return pr
}

func (pr *PrometheusRecorder) ObserveRunDuration(d time.Duration) {
	pr.runDuration.Observe(d.Seconds())
}

func (pr *PrometheusRecorder) ObserveProviderRequest(provider string, d time.Duration, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	pr.providerDuration.WithLabelValues(provider, result).Observe(d.Seconds())
}

func (pr *PrometheusRecorder) IncEndpointOutcome(outcome string) {
	pr.endpointOutcomes.WithLabelValues(outcome).Inc()
}

func (pr *PrometheusRecorder) IncFallback(primary, fallback string) {
	pr.fallbacks.WithLabelValues(primary, fallback).Inc()
}

func (pr *PrometheusRecorder) SetWorkerConcurrency(n int) {
	pr.workerConcurrency.Set(float64(n))
}
