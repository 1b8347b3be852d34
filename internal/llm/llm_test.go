package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/specgen/internal/config"
	"git.home.luguber.info/inful/specgen/internal/openapi"
)

// fakeGenerator returns scripted outcomes in order.
type fakeGenerator struct {
	name      string
	responses []*Response
	errs      []error
	calls     int
}

func (f *fakeGenerator) Name() string { return f.name }

func (f *fakeGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return nil, errors.New("unscripted call")
}

func TestBuildRequestIncludesEndpointDetails(t *testing.T) {
	req := BuildRequest(openapi.Endpoint{
		Method:      "post",
		Path:        "/orders",
		OperationID: "createOrder",
		Summary:     "Create an order",
		Tags:        []string{"orders"},
		Parameters: []openapi.Parameter{
			{Name: "dryRun", In: "query", Type: "boolean", Required: true},
		},
		RequestBody: map[string]any{"required": true},
		Responses:   map[string]any{"201": map[string]any{"description": "created"}},
	})

	assert.NotEmpty(t, req.System)
	assert.Contains(t, req.Prompt, "POST /orders")
	assert.Contains(t, req.Prompt, "createOrder")
	assert.Contains(t, req.Prompt, "Create an order")
	assert.Contains(t, req.Prompt, "dryRun (query, boolean, required)")
	assert.Contains(t, req.Prompt, "```json")
	assert.Contains(t, req.Prompt, `"201"`)
}

func TestCountTestCases(t *testing.T) {
	content := "## Test case 1\n...\n## Test Case 2\n...\n## test case 3\n"
	assert.Equal(t, 3, CountTestCases(content))
	assert.Equal(t, 1, CountTestCases("free-form answer without headings"))
	assert.Equal(t, 0, CountTestCases("   \n"))
}

func TestErrorKindClassification(t *testing.T) {
	assert.Equal(t, ErrKindRateLimit, ErrorKind(&ProviderError{Provider: "p", Kind: ErrKindRateLimit, Err: errors.New("429")}))
	wrapped := fmt.Errorf("chain: %w", &ProviderError{Provider: "p", Kind: ErrKindAuth, Err: errors.New("401")})
	assert.Equal(t, ErrKindAuth, ErrorKind(wrapped))
	assert.Equal(t, ErrKindTimeout, ErrorKind(context.DeadlineExceeded))
	assert.Equal(t, ErrKindNetwork, ErrorKind(errors.New("connection refused")))
}

func TestChainReturnsFirstSuccess(t *testing.T) {
	first := &fakeGenerator{name: "first", responses: []*Response{{Content: "## Test case\n", TokensUsed: 100}}}
	second := &fakeGenerator{name: "second"}
	chain := NewChain([]Generator{first, second})

	resp, attempts, err := chain.Generate(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, int64(100), resp.TokensUsed)
	require.Len(t, attempts, 1)
	assert.Equal(t, "first", attempts[0].Provider)
	assert.NoError(t, attempts[0].Err)
	assert.Zero(t, second.calls)
}

func TestChainFallsBackOnFailure(t *testing.T) {
	first := &fakeGenerator{name: "first", errs: []error{
		&ProviderError{Provider: "first", Kind: ErrKindTimeout, Err: errors.New("deadline")},
	}}
	second := &fakeGenerator{name: "second", responses: []*Response{{Content: "ok", TokensUsed: 50}}}
	chain := NewChain([]Generator{first, second})

	resp, attempts, err := chain.Generate(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)

	require.Len(t, attempts, 2)
	assert.Equal(t, "first", attempts[0].Provider)
	assert.Equal(t, ErrKindTimeout, attempts[0].ErrKind)
	assert.Error(t, attempts[0].Err)
	assert.Equal(t, "second", attempts[1].Provider)
	assert.Empty(t, attempts[1].ErrKind)
}

func TestChainExhaustsAllProviders(t *testing.T) {
	boom := &ProviderError{Provider: "p", Kind: ErrKindServerError, Err: errors.New("500")}
	chain := NewChain([]Generator{
		&fakeGenerator{name: "a", errs: []error{boom}},
		&fakeGenerator{name: "b", errs: []error{boom}},
	})

	resp, attempts, err := chain.Generate(context.Background(), Request{Prompt: "x"})
	assert.Nil(t, resp)
	assert.Len(t, attempts, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 providers failed")
}

func TestChainWithoutProvidersFails(t *testing.T) {
	_, _, err := NewChain(nil).Generate(context.Background(), Request{Prompt: "x"})
	assert.Error(t, err)
}

func TestChainHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gen := &fakeGenerator{name: "never"}
	_, _, err := NewChain([]Generator{gen}).Generate(ctx, Request{Prompt: "x"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, gen.calls)
}

func TestHTTPProviderSuccess(t *testing.T) {
	var gotAuth, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"model":"test-model","choices":[{"message":{"role":"assistant","content":"## Test case\nGET it"}}],"usage":{"total_tokens":321}}`)
	}))
	defer server.Close()

	p := NewHTTPProvider(config.ProviderConfig{
		Name:    "test",
		BaseURL: server.URL,
		APIKey:  "sk-secret",
		Model:   "test-model",
	})

	resp, err := p.Generate(context.Background(), Request{System: "sys", Prompt: "gen"})
	require.NoError(t, err)
	assert.Equal(t, int64(321), resp.TokensUsed)
	assert.Contains(t, resp.Content, "## Test case")
	assert.Equal(t, "Bearer sk-secret", gotAuth)
	assert.Equal(t, "/chat/completions", gotPath)
}

func TestHTTPProviderClassifiesStatusCodes(t *testing.T) {
	cases := map[int]string{
		http.StatusTooManyRequests:     ErrKindRateLimit,
		http.StatusUnauthorized:        ErrKindAuth,
		http.StatusForbidden:           ErrKindAuth,
		http.StatusInternalServerError: ErrKindServerError,
		http.StatusBadRequest:          ErrKindBadResponse,
	}

	for status, wantKind := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		p := NewHTTPProvider(config.ProviderConfig{Name: "test", BaseURL: server.URL, Model: "m"})
		_, err := p.Generate(context.Background(), Request{Prompt: "x"})

		var pe *ProviderError
		require.ErrorAs(t, err, &pe, "status %d", status)
		assert.Equal(t, wantKind, pe.Kind, "status %d", status)
		server.Close()
	}
}

func TestHTTPProviderRejectsEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"model":"m","choices":[],"usage":{"total_tokens":0}}`)
	}))
	defer server.Close()

	p := NewHTTPProvider(config.ProviderConfig{Name: "test", BaseURL: server.URL, Model: "m"})
	_, err := p.Generate(context.Background(), Request{Prompt: "x"})

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrKindBadResponse, pe.Kind)
}
