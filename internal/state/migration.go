package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Earlier releases split state across two files: generation state in one
// and provider statistics in a sibling file. MigrateLegacyProviderStats
// performs the one-time merge into the unified layout.
//
// If a legacy provider-statistics file exists and the unified state has no
// provider_stats block, the legacy content is merged in and the unified
// file is persisted before the legacy file is deleted. If the unified
// state already carries provider_stats, the redundant legacy file is
// deleted without modifying state content. Returns true when legacy
// content was merged.
func MigrateLegacyProviderStats(store *Store, legacyPath string) (bool, error) {
	data, err := os.ReadFile(legacyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read legacy provider stats %s: %w", legacyPath, err)
	}

	st, err := store.Load()
	if err != nil {
		return false, err
	}

	if st.ProviderStats != nil {
		if err := os.Remove(legacyPath); err != nil {
			return false, fmt.Errorf("remove redundant legacy provider stats %s: %w", legacyPath, err)
		}
		slog.Debug("Removed redundant legacy provider stats file", "path", legacyPath)
		return false, nil
	}

	merged, err := parseLegacyProviderStats(legacyPath, data)
	if err != nil {
		return false, err
	}

	st.ProviderStats = merged
	if err := store.Save(st); err != nil {
		return false, err
	}
	if err := os.Remove(legacyPath); err != nil {
		return true, fmt.Errorf("remove migrated legacy provider stats %s: %w", legacyPath, err)
	}

	slog.Info("Migrated legacy provider stats into unified state file",
		"legacy_path", legacyPath,
		"providers", len(merged.Performance),
		"fallback_events", len(merged.FallbackEvents))
	return true, nil
}

// parseLegacyProviderStats decodes the legacy file. The legacy writer
// stored the provider bundle either at the top level or (in the oldest
// layout) under a "provider_stats" wrapper; both are accepted.
func parseLegacyProviderStats(path string, data []byte) (*ProviderStats, error) {
	if strings.TrimSpace(string(data)) == "" {
		return NewProviderStats(), nil
	}

	var wrapper struct {
		ProviderStats *ProviderStats `json:"provider_stats"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && wrapper.ProviderStats != nil {
		return normalizeProviderStats(wrapper.ProviderStats), nil
	}

	var flat ProviderStats
	if err := json.Unmarshal(data, &flat); err != nil {
		kind := CorruptSchema
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			kind = CorruptSyntax
		}
		return nil, &CorruptError{Path: path, Kind: kind, Err: err}
	}
	return normalizeProviderStats(&flat), nil
}

func normalizeProviderStats(ps *ProviderStats) *ProviderStats {
	if ps.Performance == nil {
		ps.Performance = make(map[string]*ProviderPerformance)
	}
	if ps.FallbackEvents == nil {
		ps.FallbackEvents = []FallbackEvent{}
	}
	if ps.CostEstimates == nil {
		ps.CostEstimates = make(map[string]*CostEstimate)
	}
	if ps.ProviderPreferences == nil {
		ps.ProviderPreferences = make(map[string]float64)
	}
	return ps
}
