package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const legacyStatsBody = `{
  "performance": {
    "openai": {
      "total_requests": 10,
      "successful_requests": 9,
      "failed_requests": 1,
      "total_tokens": 4500,
      "total_time_seconds": 20,
      "avg_response_time": 2.0,
      "avg_tokens_per_request": 500,
      "error_types": {"rate_limit": 1},
      "last_used": null
    }
  },
  "fallback_events": [],
  "cost_estimates": {"openai": {"tokens_used": 4500, "cost_per_1k_tokens": 0.0025, "estimated_cost": 0.01125}},
  "provider_preferences": {"openai": 0.6}
}`

func writeLegacyFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "provider_stats.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestMigrateAbsentLegacyFileIsNoop(t *testing.T) {
	store := newTestStore(t)

	migrated, err := MigrateLegacyProviderStats(store, filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.False(t, migrated)
	assert.False(t, store.Exists())
}

func TestMigrateMergesLegacyStats(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "state.json"))
	require.NoError(t, store.Save(NewPersistedState()))
	legacyPath := writeLegacyFile(t, dir, legacyStatsBody)

	migrated, err := MigrateLegacyProviderStats(store, legacyPath)
	require.NoError(t, err)
	assert.True(t, migrated)

	// Legacy file is gone and the unified file carries the stats.
	_, statErr := os.Stat(legacyPath)
	assert.True(t, os.IsNotExist(statErr))

	store.Invalidate()
	st, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, st.ProviderStats)
	perf := st.ProviderStats.Performance["openai"]
	require.NotNil(t, perf)
	assert.Equal(t, int64(10), perf.TotalRequests)
	assert.Equal(t, int64(9), perf.SuccessfulRequests)
	assert.Equal(t, 0.6, st.ProviderStats.ProviderPreferences["openai"])
}

func TestMigrateAcceptsWrappedLayout(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "state.json"))
	legacyPath := writeLegacyFile(t, dir, `{"provider_stats": `+legacyStatsBody+`}`)

	migrated, err := MigrateLegacyProviderStats(store, legacyPath)
	require.NoError(t, err)
	assert.True(t, migrated)

	st, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, st.ProviderStats)
	assert.Contains(t, st.ProviderStats.Performance, "openai")
}

func TestMigrateEmptyLegacyFileYieldsFreshStats(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "state.json"))
	legacyPath := writeLegacyFile(t, dir, "   \n")

	migrated, err := MigrateLegacyProviderStats(store, legacyPath)
	require.NoError(t, err)
	assert.True(t, migrated)

	st, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, st.ProviderStats)
	assert.Empty(t, st.ProviderStats.Performance)
	assert.NotNil(t, st.ProviderStats.CostEstimates)
}

func TestMigrateSkipsWhenStateAlreadyHasStats(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "state.json"))

	st := NewPersistedState()
	st.EnsureProviderStats().ProviderPreferences["anthropic"] = 0.7
	require.NoError(t, store.Save(st))
	legacyPath := writeLegacyFile(t, dir, legacyStatsBody)

	migrated, err := MigrateLegacyProviderStats(store, legacyPath)
	require.NoError(t, err)
	assert.False(t, migrated)

	// The redundant legacy file is removed, existing stats untouched.
	_, statErr := os.Stat(legacyPath)
	assert.True(t, os.IsNotExist(statErr))

	store.Invalidate()
	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 0.7, loaded.ProviderStats.ProviderPreferences["anthropic"])
	assert.NotContains(t, loaded.ProviderStats.Performance, "openai")
}

func TestMigrateCorruptLegacyFileFails(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "state.json"))
	legacyPath := writeLegacyFile(t, dir, "{broken")

	migrated, err := MigrateLegacyProviderStats(store, legacyPath)
	assert.False(t, migrated)

	var corrupt *CorruptError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, CorruptSyntax, corrupt.Kind)
	assert.Equal(t, legacyPath, corrupt.Path)

	// Nothing was migrated or deleted.
	_, statErr := os.Stat(legacyPath)
	assert.NoError(t, statErr)
}
