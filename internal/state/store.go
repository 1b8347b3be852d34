package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store loads and saves PersistedState to a single JSON file. It owns the
// serialized representation exclusively and keeps one cached in-memory
// instance: Load is a cheap cache hit after the first read, and only Save,
// Reset and Invalidate change the cache. Mutating operations on the loaded
// state must be serialized by the caller; the store itself only guards its
// cache and the file.
type Store struct {
	path   string
	logger *slog.Logger

	mu     sync.RWMutex
	cached *PersistedState
}

// NewStore creates a store for the given file path. Nothing is read until
// the first Load.
func NewStore(path string) *Store {
	return &Store{
		path:   path,
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (s *Store) WithLogger(logger *slog.Logger) *Store {
	s.logger = logger
	return s
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Exists reports whether the backing file is present on disk.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Load returns the persisted state. A missing or empty file yields a fresh
// default instance without touching disk. A present but unreadable file
// fails with a CorruptError whose kind distinguishes malformed JSON from a
// structurally invalid document. Successful loads are cached; subsequent
// calls return the cached instance until Save, Reset or Invalidate.
func (s *Store) Load() (*PersistedState, error) {
	s.mu.RLock()
	if s.cached != nil {
		defer s.mu.RUnlock()
		return s.cached, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil {
		return s.cached, nil
	}

	loaded, err := s.read()
	if err != nil {
		return nil, err
	}
	s.cached = loaded
	return loaded, nil
}

func (s *Store) read() (*PersistedState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Debug("No state file found, starting fresh", "path", s.path)
			return NewPersistedState(), nil
		}
		return nil, fmt.Errorf("read state file %s: %w", s.path, err)
	}

	if strings.TrimSpace(string(data)) == "" {
		s.logger.Debug("State file is empty, starting fresh", "path", s.path)
		return NewPersistedState(), nil
	}

	var st PersistedState
	if err := json.Unmarshal(data, &st); err != nil {
		kind := CorruptSchema
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			kind = CorruptSyntax
		}
		return nil, &CorruptError{Path: s.path, Kind: kind, Err: err}
	}

	// Tolerate files written by hand or by older builds that omit the maps.
	if st.Endpoints == nil {
		st.Endpoints = make(map[string]*EndpointState)
	}
	if st.Statistics.ProviderUsage == nil {
		st.Statistics.ProviderUsage = make(map[string]int)
	}
	if st.Statistics.ProviderSuccessRate == nil {
		st.Statistics.ProviderSuccessRate = make(map[string]float64)
	}
	if st.Statistics.ProviderAvgTokens == nil {
		st.Statistics.ProviderAvgTokens = make(map[string]float64)
	}

	if result := st.Validate(); !result.Valid {
		return nil, &CorruptError{Path: s.path, Kind: CorruptSchema, Err: result.ToError()}
	}

	s.logger.Debug("Loaded state file",
		"path", s.path,
		"endpoints", len(st.Endpoints),
		"version", st.Version)
	return &st, nil
}

// Save serializes the state deterministically and replaces the backing
// file using write-then-rename, so a failed write never leaves a
// half-written file behind. The cache is updated to the saved instance.
func (s *Store) Save(st *PersistedState) error {
	if st == nil {
		return &PersistError{Path: s.path, Op: "marshal", Err: fmt.Errorf("state is nil")}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.write(st); err != nil {
		return err
	}
	s.cached = st
	return nil
}

func (s *Store) write(st *PersistedState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return &PersistError{Path: s.path, Op: "marshal", Err: err}
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &PersistError{Path: s.path, Op: "mkdir", Err: err}
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return &PersistError{Path: s.path, Op: "write", Err: err}
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return &PersistError{Path: s.path, Op: "rename", Err: err}
	}

	s.logger.Debug("Saved state file", "path", s.path, "endpoints", len(st.Endpoints))
	return nil
}

// Reset replaces both the cache and the file with a fresh default instance
// and returns it.
func (s *Store) Reset() (*PersistedState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := NewPersistedState()
	if err := s.write(fresh); err != nil {
		return nil, err
	}
	s.cached = fresh
	s.logger.Info("State reset", "path", s.path)
	return fresh, nil
}

// Invalidate drops the cached instance; the next Load rereads the file.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}
