package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Chain tries providers in order until one succeeds. It returns the
// winning response together with every attempt made, so the coordinator
// can apply success/failure/fallback bookkeeping under its single-writer
// discipline.
type Chain struct {
	providers []Generator
	logger    *slog.Logger
}

// NewChain builds a fallback chain over the given providers. Order is the
// try order; the caller typically ranks providers before constructing it.
func NewChain(providers []Generator) *Chain {
	return &Chain{
		providers: providers,
		logger:    slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (c *Chain) WithLogger(logger *slog.Logger) *Chain {
	c.logger = logger
	return c
}

// Providers returns the providers in try order.
func (c *Chain) Providers() []Generator { return c.providers }

// Generate walks the chain. The returned attempts always cover every
// provider tried, in order; resp is nil when all providers failed.
func (c *Chain) Generate(ctx context.Context, req Request) (resp *Response, attempts []Attempt, err error) {
	if len(c.providers) == 0 {
		return nil, nil, fmt.Errorf("no providers configured")
	}

	for _, provider := range c.providers {
		if ctx.Err() != nil {
			return nil, attempts, ctx.Err()
		}

		started := time.Now()
		r, genErr := provider.Generate(ctx, req)
		elapsed := time.Since(started)

		if genErr != nil {
			attempts = append(attempts, Attempt{
				Provider: provider.Name(),
				Elapsed:  elapsed,
				Err:      genErr,
				ErrKind:  ErrorKind(genErr),
			})
			c.logger.Warn("Provider failed, trying next in chain",
				"provider", provider.Name(),
				"error_kind", ErrorKind(genErr),
				"error", genErr)
			continue
		}

		attempts = append(attempts, Attempt{
			Provider: provider.Name(),
			Elapsed:  elapsed,
			Tokens:   r.TokensUsed,
		})
		return r, attempts, nil
	}

	return nil, attempts, fmt.Errorf("all %d providers failed", len(c.providers))
}
