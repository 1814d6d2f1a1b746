// Package persist saves and recalls the small operator-visible slice of
// receiver state: the active source and the lock flag.
package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/function-store/RpiSimpleNDI/internal/logger"
)

// SavedState is the persisted snapshot. It only seeds the startup target;
// nothing else survives a restart.
type SavedState struct {
	CurrentSource string    `json:"currentSource"`
	Locked        bool      `json:"locked"`
	Pattern       string    `json:"pattern"`
	SavedAt       time.Time `json:"savedAt"`
}

// Store reads and writes SavedState at a fixed path.
type Store struct {
	path string
}

// NewStore creates a store. The parent directory is created on first save.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Save writes the state atomically: temp file in the same directory, then
// rename over the target.
func (s *Store) Save(state SavedState) error {
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now()
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}

	logger.WithComponent("persist").Info().
		Str("path", s.path).
		Str("source", state.CurrentSource).
		Bool("locked", state.Locked).
		Msg("Configuration saved")
	return nil
}

// Load reads the saved state. A missing file is reported via os.IsNotExist
// on the returned error.
func (s *Store) Load() (SavedState, error) {
	var state SavedState

	data, err := os.ReadFile(s.path)
	if err != nil {
		return state, err
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, fmt.Errorf("parse state file %s: %w", s.path, err)
	}
	return state, nil
}
