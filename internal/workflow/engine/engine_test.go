package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/conveyorci/conveyor/internal/runner"
	"github.com/conveyorci/conveyor/internal/workflow"
	"github.com/conveyorci/conveyor/internal/workflow/resolver"
)

type memoryStore struct {
	state State
	saved int
	has   bool
}

func (m *memoryStore) Load() (State, error) {
	if !m.has {
		return State{}, ErrStateNotFound
	}
	return m.state, nil
}

func (m *memoryStore) Save(state State) error {
	m.state = state
	m.saved++
	m.has = true
	return nil
}

func matrixDefinition() workflow.Definition {
	return workflow.Definition{
		Name: "unit-tests",
		On:   workflow.Triggers{Push: &workflow.PushTrigger{}},
		Jobs: map[string]workflow.JobTemplate{
			"test": {
				Matrix: workflow.Matrix{Axes: map[string][]string{
					"python": {"3.6", "3.7", "3.8", "3.9", "3.10"},
				}},
				Steps: []workflow.Step{{Run: "pytest"}},
			},
		},
	}
}

func chainDefinition() workflow.Definition {
	return workflow.Definition{
		Name: "release",
		On:   workflow.Triggers{Dispatch: &workflow.DispatchTrigger{}},
		Jobs: map[string]workflow.JobTemplate{
			"test": {
				Matrix: workflow.Matrix{Axes: map[string][]string{
					"python": {"3.9", "3.10"},
				}},
				Steps: []workflow.Step{{Run: "pytest"}},
			},
			"publish": {
				Needs: []string{"test"},
				Steps: []workflow.Step{{Run: "twine upload dist/*"}},
			},
		},
	}
}

func newTestEngine(t *testing.T) (*Engine, *memoryStore) {
	t.Helper()
	store := &memoryStore{}
	fixed := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	e, err := New(store, WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, store
}

func TestStartExpandsMatrixAndPersists(t *testing.T) {
	e, store := newTestEngine(t)
	state, err := e.Start(StartRequest{
		Definition: matrixDefinition(),
		Trigger:    TriggerInfo{Kind: "push", Branch: "master"},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(state.Jobs) != 5 {
		t.Fatalf("expected 5 jobs, got %d", len(state.Jobs))
	}
	if !strings.HasPrefix(state.RunID, "unit-tests-") {
		t.Fatalf("unexpected run id %q", state.RunID)
	}
	if state.Status != RunStatusRunning {
		t.Fatalf("fresh run should be running, got %s", state.Status)
	}
	if len(state.Runnable) != 5 {
		t.Fatalf("all matrix jobs should be runnable, got %v", state.Runnable)
	}
	if state.Trigger.Branch != "master" {
		t.Fatalf("trigger info lost: %+v", state.Trigger)
	}
	if store.saved != 1 {
		t.Fatalf("expected one save, got %d", store.saved)
	}
}

func TestStartRunIDsAreUnique(t *testing.T) {
	e, _ := newTestEngine(t)
	first, err := e.Start(StartRequest{Definition: matrixDefinition()})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	second, err := e.Start(StartRequest{Definition: matrixDefinition()})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if first.RunID == second.RunID {
		t.Fatalf("run ids must be unique, both %q", first.RunID)
	}
}

func TestUpdateRecordsResultsAndDerivesFailure(t *testing.T) {
	e, _ := newTestEngine(t)
	if _, err := e.Start(StartRequest{Definition: matrixDefinition()}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	results := map[string]runner.Status{
		"test/python-3.6":  runner.StatusPassed,
		"test/python-3.7":  runner.StatusFailed,
		"test/python-3.8":  runner.StatusPassed,
		"test/python-3.9":  runner.StatusPassed,
		"test/python-3.10": runner.StatusPassed,
	}
	var updates []JobUpdate
	for id, status := range results {
		updates = append(updates, JobUpdate{ID: id, Result: runner.JobResult{JobID: id, Status: status}})
	}
	state, err := e.Update(UpdateRequest{Results: updates})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if state.Status != RunStatusFailed {
		t.Fatalf("one failed job must fail the run, got %s", state.Status)
	}
	if state.StatusReason != "test/python-3.7 failed" {
		t.Fatalf("unexpected status reason %q", state.StatusReason)
	}
	passed, _ := state.Job("test/python-3.8")
	if passed.State != resolver.NodeStatePassed {
		t.Fatalf("sibling jobs must keep their own results, got %s", passed.State)
	}
}

func TestUpdateAllPassedMeansRunPassed(t *testing.T) {
	e, _ := newTestEngine(t)
	start, err := e.Start(StartRequest{Definition: matrixDefinition()})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	var updates []JobUpdate
	for _, job := range start.Jobs {
		updates = append(updates, JobUpdate{ID: job.ID, Result: runner.JobResult{JobID: job.ID, Status: runner.StatusPassed}})
	}
	state, err := e.Update(UpdateRequest{Results: updates})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if state.Status != RunStatusPassed {
		t.Fatalf("expected passed run, got %s (%s)", state.Status, state.StatusReason)
	}
}

func TestUpdateSkipsDependentsOfFailedJobs(t *testing.T) {
	e, _ := newTestEngine(t)
	if _, err := e.Start(StartRequest{Definition: chainDefinition()}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	state, err := e.Update(UpdateRequest{Results: []JobUpdate{
		{ID: "test/python-3.9", Result: runner.JobResult{JobID: "test/python-3.9", Status: runner.StatusFailed}},
		{ID: "test/python-3.10", Result: runner.JobResult{JobID: "test/python-3.10", Status: runner.StatusPassed}},
	}})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	publish, ok := state.Job("publish")
	if !ok {
		t.Fatal("publish job missing")
	}
	if publish.State != resolver.NodeStateSkipped {
		t.Fatalf("publish should be skipped after test failure, got %s", publish.State)
	}
	if state.Status != RunStatusFailed {
		t.Fatalf("run with a failed job must fail, got %s", state.Status)
	}
}

func TestUpdateReleasesRunningSlots(t *testing.T) {
	e, _ := newTestEngine(t)
	if _, err := e.Start(StartRequest{Definition: matrixDefinition()}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	running := []string{"test/python-3.6", "test/python-3.7"}
	if _, err := e.Update(UpdateRequest{Runtime: &RuntimeOverrides{Running: &running}}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	state, err := e.Update(UpdateRequest{Results: []JobUpdate{
		{ID: "test/python-3.6", Result: runner.JobResult{JobID: "test/python-3.6", Status: runner.StatusPassed}},
	}})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(state.Runtime.Running) != 1 || state.Runtime.Running[0] != "test/python-3.7" {
		t.Fatalf("finished job should leave the running set, got %v", state.Runtime.Running)
	}
}

func TestResumeClearsStaleRunningMarkers(t *testing.T) {
	e, _ := newTestEngine(t)
	if _, err := e.Start(StartRequest{Definition: matrixDefinition()}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	running := []string{"test/python-3.6"}
	if _, err := e.Update(UpdateRequest{Runtime: &RuntimeOverrides{Running: &running}}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	state, err := e.Resume(ResumeRequest{})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if len(state.Runtime.Running) != 0 {
		t.Fatalf("resume should clear stale running markers, got %v", state.Runtime.Running)
	}
	if len(state.Runnable) != 5 {
		t.Fatalf("interrupted jobs should be runnable again, got %v", state.Runnable)
	}
}

func TestViewWithoutStateReturnsSentinel(t *testing.T) {
	e, _ := newTestEngine(t)
	if _, err := e.View(); err != ErrStateNotFound {
		t.Fatalf("expected ErrStateNotFound, got %v", err)
	}
}
