package providers

// defaultCostPer1KTokens seeds cost estimates with a blended USD rate per
// 1000 tokens, keyed by provider name. Providers not listed default to 0
// and report zero cost until a rate is known.
var defaultCostPer1KTokens = map[string]float64{
	"openai":    0.0025,
	"anthropic": 0.008,
	"gemini":    0.00125,
	"deepseek":  0.00055,
	"glm":       0.001,
	"qwen":      0.002,
	"mistral":   0.002,
	"ollama":    0, // local inference
}

// DefaultRate returns the seeded per-1k-token rate for a provider name,
// or 0 for unknown providers.
func DefaultRate(provider string) float64 {
	return defaultCostPer1KTokens[provider]
}
