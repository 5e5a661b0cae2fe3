package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrStateNotFound is returned when no persisted run state exists yet.
var ErrStateNotFound = errors.New("engine: state not found")

// StateStore persists run state snapshots.
type StateStore interface {
	Load() (State, error)
	Save(State) error
}

// Repository stores run state under the project's runs directory, one
// state.json per run, plus a latest marker naming the most recent run.
type Repository struct {
	runsDir string
}

// NewRepository creates a repository rooted at runsDir.
func NewRepository(runsDir string) *Repository {
	return &Repository{runsDir: runsDir}
}

// Load reads the most recent run's persisted state if present.
func (r *Repository) Load() (State, error) {
	marker, err := os.ReadFile(filepath.Join(r.runsDir, "latest"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return State{}, ErrStateNotFound
		}
		return State{}, fmt.Errorf("engine: read latest marker: %w", err)
	}
	return r.LoadRun(strings.TrimSpace(string(marker)))
}

// LoadRun reads the persisted state of a specific run.
func (r *Repository) LoadRun(runID string) (State, error) {
	data, err := os.ReadFile(r.statePath(runID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return State{}, ErrStateNotFound
		}
		return State{}, fmt.Errorf("engine: read state: %w", err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("engine: decode state: %w", err)
	}
	return state, nil
}

// Save writes the run state to disk and updates the latest marker.
func (r *Repository) Save(state State) error {
	if state.RunID == "" {
		return fmt.Errorf("engine: state missing run id")
	}
	path := r.statePath(state.RunID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("engine: create run dir: %w", err)
	}
	encoded, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("engine: encode state: %w", err)
	}
	if err := os.WriteFile(path, append(encoded, '\n'), 0o644); err != nil {
		return fmt.Errorf("engine: write state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(r.runsDir, "latest"), []byte(state.RunID+"\n"), 0o644); err != nil {
		return fmt.Errorf("engine: write latest marker: %w", err)
	}
	return nil
}

// RunIDs lists persisted runs in directory order.
func (r *Repository) RunIDs() ([]string, error) {
	entries, err := os.ReadDir(r.runsDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("engine: read runs dir: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(r.statePath(entry.Name())); err == nil {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

func (r *Repository) statePath(runID string) string {
	return filepath.Join(r.runsDir, runID, "state.json")
}
