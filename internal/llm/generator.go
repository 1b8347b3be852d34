// Package llm invokes LLM providers to produce test-case content for API
// endpoints, with fallback across providers. All outcome bookkeeping is
// reported back to the caller; this package records nothing itself.
package llm

import (
	"context"
	"errors"
	"time"
)

// Error kinds reported to the provider statistics tracker.
const (
	ErrKindTimeout     = "timeout"
	ErrKindRateLimit   = "rate_limit"
	ErrKindAuth        = "auth"
	ErrKindServerError = "server_error"
	ErrKindBadResponse = "bad_response"
	ErrKindNetwork     = "network"
)

// Request is one generation request.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Response is a provider's reply.
type Response struct {
	Content    string
	TokensUsed int64
	Model      string
}

// Generator produces test-case content. Implementations must be safe for
// concurrent use.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Response, error)
}

// ProviderError wraps a provider failure with its classification.
type ProviderError struct {
	Provider string
	Kind     string
	Err      error
}

func (e *ProviderError) Error() string {
	return e.Provider + ": " + e.Kind + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ErrorKind extracts the classification from an error chain, defaulting
// to network for unclassified failures.
func ErrorKind(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrKindTimeout
	}
	return ErrKindNetwork
}

// Attempt records one provider call made while generating a single
// endpoint, successful or not.
type Attempt struct {
	Provider string
	Elapsed  time.Duration
	Tokens   int64
	Err      error
	ErrKind  string // empty on success
}
