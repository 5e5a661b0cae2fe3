package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStorePathsSanitizeJobIDs(t *testing.T) {
	s := NewStore("/tmp/runs")
	if got := s.JobDir("run-1", "test/python-3.10"); got != "/tmp/runs/run-1/test-python-3.10" {
		t.Fatalf("unexpected job dir %q", got)
	}
	if got := s.StepLogPath("run-1", "test", 0, "unit tests"); !strings.HasSuffix(got, "01-unit-tests.log") {
		t.Fatalf("unexpected step log path %q", got)
	}
}

func TestStepLogRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())
	w, err := s.StepLogWriter("run-1", "test/python-3.6", 2, "pytest")
	if err != nil {
		t.Fatalf("StepLogWriter: %v", err)
	}
	if _, err := w.WriteString("collected 10 items\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	content, err := s.ReadStepLog("run-1", "test/python-3.6", 2, "pytest")
	if err != nil {
		t.Fatalf("ReadStepLog: %v", err)
	}
	if content != "collected 10 items\n" {
		t.Fatalf("unexpected log content %q", content)
	}
}

func TestJournalAppendAndTail(t *testing.T) {
	s := NewStore(t.TempDir())
	journal, err := s.InitRun("run-1")
	if err != nil {
		t.Fatalf("InitRun: %v", err)
	}
	journal.Info("run started")
	journal.Warn("interpreter %s missing", "python3.5")
	journal.Error("job %s failed", "test/python-3.6")

	tail := journal.Tail(2)
	if len(tail) != 2 {
		t.Fatalf("expected 2 tail lines, got %d", len(tail))
	}
	if !strings.Contains(tail[0], "WARN") || !strings.Contains(tail[1], "ERROR") {
		t.Fatalf("unexpected tail order: %v", tail)
	}
	if _, err := os.Stat(filepath.Join(s.RunDir("run-1"), "journal.log")); err != nil {
		t.Fatalf("journal file missing: %v", err)
	}
}

func TestJobReportRoundTrip(t *testing.T) {
	fixed := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	s := NewStore(t.TempDir(), WithClock(func() time.Time { return fixed }))
	meta := ReportMeta{
		RunID:    "run-1",
		Workflow: "unit-tests",
		Job:      "test/python-3.8",
		Status:   "failed",
		Started:  fixed.Add(-2 * time.Minute),
		Notes:    map[string]string{"python": "3.8"},
	}
	steps := []StepSummary{
		{Label: "checkout", Status: "passed"},
		{Label: "unit tests", Status: "failed", ExitCode: 1, Message: "command exited with status 1"},
	}
	if err := s.WriteJobReport(meta, steps); err != nil {
		t.Fatalf("WriteJobReport: %v", err)
	}

	parsed, body, err := s.ReadJobReport("run-1", "test/python-3.8")
	if err != nil {
		t.Fatalf("ReadJobReport: %v", err)
	}
	if parsed.Status != "failed" || parsed.Workflow != "unit-tests" {
		t.Fatalf("unexpected metadata %+v", parsed)
	}
	if !parsed.Finished.Equal(fixed) {
		t.Fatalf("expected clock-filled finish time, got %v", parsed.Finished)
	}
	if parsed.Notes["python"] != "3.8" {
		t.Fatalf("notes not preserved: %+v", parsed.Notes)
	}
	if !strings.Contains(string(body), "[failed] unit tests") {
		t.Fatalf("body missing step summary: %q", body)
	}
}

func TestParseFrontMatterRejectsBareDocuments(t *testing.T) {
	if _, _, err := ParseFrontMatter([]byte("no fences here")); err != ErrMissingFrontMatter {
		t.Fatalf("expected ErrMissingFrontMatter, got %v", err)
	}
	if _, _, err := ParseFrontMatter([]byte("---\nconveyor:\n  run: x\n")); err != ErrMalformedFrontMatter {
		t.Fatalf("expected ErrMalformedFrontMatter, got %v", err)
	}
}
