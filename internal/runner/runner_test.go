package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/specgen/internal/llm"
	"git.home.luguber.info/inful/specgen/internal/openapi"
	"git.home.luguber.info/inful/specgen/internal/state"
)

// stubProvider answers every request identically. Safe for concurrent use.
type stubProvider struct {
	name    string
	content string
	tokens  int64
	err     error

	mu    sync.Mutex
	calls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Content: s.content, TokensUsed: s.tokens}, nil
}

func (s *stubProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testSpec() *openapi.Specification {
	return &openapi.Specification{
		Title:   "Test API",
		Version: "1.0",
		Endpoints: []openapi.Endpoint{
			{Method: "GET", Path: "/users", OperationID: "listUsers"},
			{Method: "POST", Path: "/users", OperationID: "createUser"},
			{Method: "GET", Path: "/users/{id}", OperationID: "getUser"},
		},
	}
}

func newTestRunner(t *testing.T, generators ...llm.Generator) (*Runner, *state.Store, string) {
	t.Helper()
	dir := t.TempDir()
	store := state.NewStore(filepath.Join(dir, "state.json"))
	outputDir := filepath.Join(dir, "out")
	r := New(Options{
		Store:     store,
		Providers: generators,
		OutputDir: outputDir,
		Workers:   2,
	})
	return r, store, outputDir
}

func TestRunGeneratesEverythingOnFirstRun(t *testing.T) {
	provider := &stubProvider{name: "stub", content: "## Test case 1\n## Test case 2\n", tokens: 150}
	r, store, outputDir := newTestRunner(t, provider)
	spec := testSpec()
	raw := []byte("openapi: 3.0.0")

	report, err := r.Run(context.Background(), "api.yaml", raw, spec, false)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 3, report.New)
	assert.Equal(t, 3, report.Generated)
	assert.Zero(t, report.Skipped)
	assert.Zero(t, report.Failed)
	assert.Equal(t, 3, provider.callCount())
	assert.NotEmpty(t, report.RunID)

	// State was persisted with one entry per endpoint.
	store.Invalidate()
	st, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, st.Endpoints, 3)

	es := st.Endpoints["GET:/users"]
	require.NotNil(t, es)
	assert.Equal(t, 2, es.TestCasesCount)
	assert.Equal(t, "stub", es.ProviderUsed.UnwrapOr(""))
	assert.Equal(t, int64(150), es.TokensUsed.UnwrapOr(0))

	// Output files exist where the state says they are.
	require.True(t, es.OutputFile.IsSome())
	_, statErr := os.Stat(es.OutputFile.Unwrap())
	assert.NoError(t, statErr)
	assert.Equal(t, outputDir, filepath.Dir(es.OutputFile.Unwrap()))

	// Source identity recorded.
	require.NotNil(t, st.Config)
	assert.Equal(t, "api.yaml", st.Config.APISource)
	assert.NotEmpty(t, st.Config.SourceHash)

	// Provider bookkeeping attached and consistent.
	require.NotNil(t, st.ProviderStats)
	perf := st.ProviderStats.Performance["stub"]
	require.NotNil(t, perf)
	assert.Equal(t, int64(3), perf.SuccessfulRequests)
	assert.True(t, perf.Validate().Valid)

	// Run statistics reflect the report.
	assert.Equal(t, 3, st.Statistics.GeneratedCount)
	assert.True(t, st.Statistics.LastRunDuration.IsSome())
}

func TestSecondRunSkipsUnchangedEndpoints(t *testing.T) {
	provider := &stubProvider{name: "stub", content: "## Test case\n", tokens: 10}
	r, _, _ := newTestRunner(t, provider)
	spec := testSpec()
	raw := []byte("openapi: 3.0.0")

	_, err := r.Run(context.Background(), "api.yaml", raw, spec, false)
	require.NoError(t, err)
	firstCalls := provider.callCount()

	report, err := r.Run(context.Background(), "api.yaml", raw, spec, false)
	require.NoError(t, err)

	assert.Zero(t, report.Generated)
	assert.Equal(t, 3, report.Skipped)
	assert.Equal(t, firstCalls, provider.callCount(), "unchanged endpoints must not hit providers")
}

func TestForceRegeneratesEverything(t *testing.T) {
	provider := &stubProvider{name: "stub", content: "## Test case\n", tokens: 10}
	r, _, _ := newTestRunner(t, provider)
	spec := testSpec()
	raw := []byte("openapi: 3.0.0")

	_, err := r.Run(context.Background(), "api.yaml", raw, spec, false)
	require.NoError(t, err)

	report, err := r.Run(context.Background(), "api.yaml", raw, spec, true)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Generated)
	assert.Zero(t, report.Skipped)
}

func TestChangedEndpointRegenerates(t *testing.T) {
	provider := &stubProvider{name: "stub", content: "## Test case\n", tokens: 10}
	r, _, _ := newTestRunner(t, provider)
	raw := []byte("openapi: 3.0.0")

	spec := testSpec()
	_, err := r.Run(context.Background(), "api.yaml", raw, spec, false)
	require.NoError(t, err)

	mutated := testSpec()
	mutated.Endpoints[0].Summary = "now documented"

	report, err := r.Run(context.Background(), "api.yaml", raw, mutated, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Changed)
	assert.Equal(t, 1, report.Generated)
	assert.Equal(t, 2, report.Skipped)
}

func TestRemovedEndpointsAreCleanedUp(t *testing.T) {
	provider := &stubProvider{name: "stub", content: "## Test case\n", tokens: 10}
	r, store, _ := newTestRunner(t, provider)
	raw := []byte("openapi: 3.0.0")

	spec := testSpec()
	_, err := r.Run(context.Background(), "api.yaml", raw, spec, false)
	require.NoError(t, err)

	shrunk := &openapi.Specification{Endpoints: spec.Endpoints[:1]}
	report, err := r.Run(context.Background(), "api.yaml", raw, shrunk, false)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Removed)

	store.Invalidate()
	st, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, st.Endpoints, 1)
	assert.Contains(t, st.Endpoints, "GET:/users")
}

func TestFallbackAcrossProviders(t *testing.T) {
	failing := &stubProvider{name: "primary", err: &llm.ProviderError{
		Provider: "primary", Kind: llm.ErrKindTimeout, Err: errors.New("deadline"),
	}}
	working := &stubProvider{name: "backup", content: "## Test case\n", tokens: 42}
	r, store, _ := newTestRunner(t, failing, working)

	spec := &openapi.Specification{Endpoints: testSpec().Endpoints[:1]}
	report, err := r.Run(context.Background(), "api.yaml", []byte("x"), spec, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Generated)
	assert.Zero(t, report.Failed)

	store.Invalidate()
	st, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, st.ProviderStats)

	// Both the failure and the fallback success were recorded.
	assert.Equal(t, int64(1), st.ProviderStats.Performance["primary"].FailedRequests)
	assert.Equal(t, int64(1), st.ProviderStats.Performance["backup"].SuccessfulRequests)
	assert.Equal(t, int64(1), st.ProviderStats.Performance["primary"].ErrorTypes["timeout"])

	require.Len(t, st.ProviderStats.FallbackEvents, 1)
	event := st.ProviderStats.FallbackEvents[0]
	assert.Equal(t, "primary", event.PrimaryProvider)
	assert.Equal(t, "backup", event.FallbackProvider)
	assert.True(t, event.Success)

	assert.Equal(t, "backup", st.Endpoints["GET:/users"].ProviderUsed.UnwrapOr(""))
}

func TestAllProvidersFailingMarksEndpointFailed(t *testing.T) {
	boom := &llm.ProviderError{Provider: "only", Kind: llm.ErrKindServerError, Err: errors.New("500")}
	provider := &stubProvider{name: "only", err: boom}
	r, store, _ := newTestRunner(t, provider)

	spec := &openapi.Specification{Endpoints: testSpec().Endpoints[:1]}
	report, err := r.Run(context.Background(), "api.yaml", []byte("x"), spec, false)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, report.Generated)

	// Failed endpoints get no state entry: the next run retries them.
	store.Invalidate()
	st, err := store.Load()
	require.NoError(t, err)
	assert.NotContains(t, st.Endpoints, "GET:/users")
	assert.Equal(t, int64(1), st.ProviderStats.Performance["only"].FailedRequests)
}

func TestRunWithoutProvidersFailsOnlyWhenWorkExists(t *testing.T) {
	r, _, _ := newTestRunner(t)

	spec := testSpec()
	_, err := r.Run(context.Background(), "api.yaml", []byte("x"), spec, false)
	assert.Error(t, err)

	// With nothing to generate, no providers are needed.
	empty := &openapi.Specification{}
	report, err := r.Run(context.Background(), "api.yaml", []byte("x"), empty, false)
	require.NoError(t, err)
	assert.Zero(t, report.Total)
}

func TestOutputFileName(t *testing.T) {
	cases := map[string]openapi.Endpoint{
		"get_users.md":        {Method: "GET", Path: "/users"},
		"get_users_id.md":     {Method: "get", Path: "/users/{id}"},
		"post_a_b_c.md":       {Method: "POST", Path: "/a/b/c"},
		"delete_root.md":      {Method: "DELETE", Path: "/"},
		"get_v1_items_key.md": {Method: "GET", Path: "/v1/items/{key}"},
	}
	for want, e := range cases {
		if got := outputFileName(e); got != want {
			t.Errorf("outputFileName(%s %s) = %s, want %s", e.Method, e.Path, got, want)
		}
	}
}
