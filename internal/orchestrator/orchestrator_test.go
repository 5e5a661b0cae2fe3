package orchestrator

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/conveyorci/conveyor/internal/artifact"
	"github.com/conveyorci/conveyor/internal/runner"
	"github.com/conveyorci/conveyor/internal/step"
	"github.com/conveyorci/conveyor/internal/workflow"
	"github.com/conveyorci/conveyor/internal/workflow/engine"
)

type recordingNotifier struct {
	mu       sync.Mutex
	started  int
	finished int
	jobs     []string
}

func (n *recordingNotifier) RunStarted(engine.State) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started++
}

func (n *recordingNotifier) JobFinished(runID string, result runner.JobResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.jobs = append(n.jobs, result.JobID)
}

func (n *recordingNotifier) RunFinished(engine.State) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.finished++
}

func newTestOrchestrator(t *testing.T, notifier Notifier) (*Orchestrator, *artifact.Store) {
	t.Helper()
	store := artifact.NewStore(t.TempDir())
	eng, err := engine.New(engine.NewRepository(t.TempDir()))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	run, err := runner.New(step.Builtins(), store)
	if err != nil {
		t.Fatalf("runner.New: %v", err)
	}
	var opts []Option
	if notifier != nil {
		opts = append(opts, WithNotifier(notifier))
	}
	o, err := New(eng, run, store, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o, store
}

func matrixDefinition(testCommand string) workflow.Definition {
	return workflow.Definition{
		Name: "unit-tests",
		On:   workflow.Triggers{Push: &workflow.PushTrigger{}},
		Jobs: map[string]workflow.JobTemplate{
			"test": {
				Matrix: workflow.Matrix{Axes: map[string][]string{
					"python": {"3.9", "3.10"},
				}},
				Steps: []workflow.Step{{Name: "unit tests", Run: testCommand}},
			},
		},
	}
}

func TestExecuteRunsEveryMatrixJob(t *testing.T) {
	notifier := &recordingNotifier{}
	o, _ := newTestOrchestrator(t, notifier)

	state, err := o.Execute(context.Background(), ExecuteRequest{
		Definition: matrixDefinition("echo ok"),
		Trigger:    engine.TriggerInfo{Kind: "push", Branch: "master"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if state.Status != engine.RunStatusPassed {
		t.Fatalf("expected passed run, got %s (%s)", state.Status, state.StatusReason)
	}
	if ExitCode(state) != 0 {
		t.Fatalf("passing run must exit 0")
	}
	if len(state.Results) != 2 {
		t.Fatalf("expected 2 job results, got %d", len(state.Results))
	}
	if notifier.started != 1 || notifier.finished != 1 || len(notifier.jobs) != 2 {
		t.Fatalf("notifier events wrong: %+v", notifier)
	}
}

func TestExecuteFailureDoesNotStopSiblings(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)

	// Fail only the 3.9 job; its sibling must still run to completion.
	state, err := o.Execute(context.Background(), ExecuteRequest{
		Definition: matrixDefinition(`test "${matrix.python}" != 3.9`),
		Trigger:    engine.TriggerInfo{Kind: "dispatch"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if state.Status != engine.RunStatusFailed {
		t.Fatalf("expected failed run, got %s", state.Status)
	}
	if ExitCode(state) != 1 {
		t.Fatal("failing run must exit non-zero")
	}
	failed := state.Results["test/python-3.9"]
	passed := state.Results["test/python-3.10"]
	if failed.Status != runner.StatusFailed {
		t.Fatalf("3.9 job should fail, got %+v", failed)
	}
	if passed.Status != runner.StatusPassed {
		t.Fatalf("sibling job should pass, got %+v", passed)
	}
}

func TestExecuteSkipsDependentsAfterFailure(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	def := workflow.Definition{
		Name: "release",
		On:   workflow.Triggers{Dispatch: &workflow.DispatchTrigger{}},
		Jobs: map[string]workflow.JobTemplate{
			"test":    {Steps: []workflow.Step{{Run: "exit 1"}}},
			"publish": {Needs: []string{"test"}, Steps: []workflow.Step{{Run: "echo publish"}}},
		},
	}
	state, err := o.Execute(context.Background(), ExecuteRequest{
		Definition: def,
		Trigger:    engine.TriggerInfo{Kind: "dispatch"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if state.Status != engine.RunStatusFailed {
		t.Fatalf("expected failed run, got %s", state.Status)
	}
	if _, ran := state.Results["publish"]; ran {
		t.Fatal("publish must not run after its dependency failed")
	}
}

func TestExecuteWritesJournal(t *testing.T) {
	o, store := newTestOrchestrator(t, nil)
	state, err := o.Execute(context.Background(), ExecuteRequest{
		Definition: matrixDefinition("echo ok"),
		Trigger:    engine.TriggerInfo{Kind: "push"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	journal, err := artifact.NewJournal(store.JournalPath(state.RunID))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	tail := journal.Tail(50)
	if len(tail) == 0 {
		t.Fatal("journal is empty")
	}
	joined := strings.Join(tail, "\n")
	if !strings.Contains(joined, "run "+state.RunID+" started") {
		t.Fatalf("journal missing start entry: %s", joined)
	}
	if !strings.Contains(joined, "passed") {
		t.Fatalf("journal missing completion entry: %s", joined)
	}
}

func TestExecuteCancellationLeavesNoStuckJobGoroutines(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := o.Execute(ctx, ExecuteRequest{
			Definition: matrixDefinition("sleep 5"),
			Trigger:    engine.TriggerInfo{Kind: "push", Branch: "main"},
		})
		done <- err
	}()

	// Let the jobs start, then abandon the run.
	time.Sleep(100 * time.Millisecond)
	before := runtime.NumGoroutine()
	cancel()
	if err := <-done; err == nil {
		t.Fatal("expected an error from a cancelled run")
	}

	// The killed job processes unblock their goroutines; they must be able
	// to deliver their results and exit even though nobody is receiving.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= before-2 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("job goroutines still parked after cancellation: before=%d after=%d",
		before, runtime.NumGoroutine())
}
