package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"git.home.luguber.info/inful/specgen/internal/config"
)

// HTTPProvider talks to any OpenAI-compatible chat-completions endpoint.
// One HTTP client per provider so per-provider timeouts apply.
type HTTPProvider struct {
	name        string
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	client      *http.Client
}

// NewHTTPProvider builds a provider from configuration.
func NewHTTPProvider(cfg config.ProviderConfig) *HTTPProvider {
	return &HTTPProvider{
		name:        cfg.Name,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: cfg.ParsedTimeout()},
	}
}

// Name returns the configured provider name.
func (p *HTTPProvider) Name() string { return p.name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int64 `json:"total_tokens"`
	} `json:"usage"`
}

// Generate performs one chat-completion call.
func (p *HTTPProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.maxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.temperature
	}

	body, err := json.Marshal(chatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return nil, &ProviderError{Provider: p.name, Kind: ErrKindBadResponse, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &ProviderError{Provider: p.name, Kind: ErrKindNetwork, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		kind := ErrKindNetwork
		if errors.Is(err, context.DeadlineExceeded) || isClientTimeout(err) {
			kind = ErrKindTimeout
		}
		return nil, &ProviderError{Provider: p.name, Kind: kind, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{
			Provider: p.name,
			Kind:     classifyStatus(resp.StatusCode),
			Err:      fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: p.name, Kind: ErrKindNetwork, Err: err}
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, &ProviderError{Provider: p.name, Kind: ErrKindBadResponse, Err: err}
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return nil, &ProviderError{
			Provider: p.name,
			Kind:     ErrKindBadResponse,
			Err:      errors.New("response contains no choices"),
		}
	}

	return &Response{
		Content:    parsed.Choices[0].Message.Content,
		TokensUsed: parsed.Usage.TotalTokens,
		Model:      parsed.Model,
	}, nil
}

func classifyStatus(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrKindRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrKindAuth
	case status >= 500:
		return ErrKindServerError
	default:
		return ErrKindBadResponse
	}
}

// isClientTimeout catches net-level timeouts that surface as url.Error
// with Timeout() true rather than context.DeadlineExceeded.
func isClientTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
