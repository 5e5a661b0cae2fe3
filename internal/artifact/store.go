// Package artifact manages everything a run leaves on disk: per-step logs,
// the run journal, and the job report documents written under
// .conveyor/runs/<run-id>/.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store manages run output IO rooted at the project's runs directory.
type Store struct {
	runsDir string
	now     func() time.Time
}

// StoreOption customizes a Store during construction.
type StoreOption func(*Store)

// WithClock overrides the clock used for report timestamps.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = clock
	}
}

// NewStore builds a store rooted at runsDir.
func NewStore(runsDir string, opts ...StoreOption) *Store {
	store := &Store{
		runsDir: runsDir,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// RunDir returns the directory holding one run's output.
func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.runsDir, runID)
}

// JobDir returns the directory holding one job's output within a run. Job IDs
// may contain slashes from matrix expansion; those become dashes on disk.
func (s *Store) JobDir(runID, jobID string) string {
	return filepath.Join(s.RunDir(runID), sanitizeJobID(jobID))
}

// JournalPath returns the run journal file.
func (s *Store) JournalPath(runID string) string {
	return filepath.Join(s.RunDir(runID), "journal.log")
}

// ReportPath returns the job report document.
func (s *Store) ReportPath(runID, jobID string) string {
	return filepath.Join(s.JobDir(runID, jobID), "report.md")
}

// StepLogPath returns the log file for one step of a job.
func (s *Store) StepLogPath(runID, jobID string, index int, label string) string {
	name := fmt.Sprintf("%02d-%s.log", index+1, sanitizeJobID(label))
	return filepath.Join(s.JobDir(runID, jobID), name)
}

// WorkspaceDir returns the private workspace for one job of a run.
func (s *Store) WorkspaceDir(runID, jobID string) string {
	return filepath.Join(s.RunDir(runID), "workspaces", sanitizeJobID(jobID))
}

// InitRun creates the run directory and returns its journal.
func (s *Store) InitRun(runID string) (*Journal, error) {
	if err := os.MkdirAll(s.RunDir(runID), 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create run dir: %w", err)
	}
	return NewJournal(s.JournalPath(runID))
}

// StepLogWriter opens the log file for a step, creating parent directories.
func (s *Store) StepLogWriter(runID, jobID string, index int, label string) (*os.File, error) {
	path := s.StepLogPath(runID, jobID, index, label)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create job dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("artifact: open step log: %w", err)
	}
	return file, nil
}

// ReadStepLog returns the captured output of one step.
func (s *Store) ReadStepLog(runID, jobID string, index int, label string) (string, error) {
	data, err := os.ReadFile(s.StepLogPath(runID, jobID, index, label))
	if err != nil {
		return "", fmt.Errorf("artifact: read step log: %w", err)
	}
	return string(data), nil
}

func sanitizeJobID(id string) string {
	replaced := strings.NewReplacer("/", "-", " ", "-").Replace(id)
	return strings.Trim(replaced, "-")
}
