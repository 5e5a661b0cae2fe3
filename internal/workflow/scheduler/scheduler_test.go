package scheduler

import (
	"testing"

	"github.com/conveyorci/conveyor/internal/workflow"
	"github.com/conveyorci/conveyor/internal/workflow/resolver"
)

func testResolver(t *testing.T) *resolver.Resolver {
	t.Helper()
	def := workflow.Definition{
		Name: "ci",
		On:   workflow.Triggers{Push: &workflow.PushTrigger{}},
		Jobs: map[string]workflow.JobTemplate{
			"test": {
				Matrix: workflow.Matrix{Axes: map[string][]string{
					"python": {"3.6", "3.7", "3.8"},
				}},
				Steps: []workflow.Step{{Run: "pytest"}},
			},
			"publish": {
				Needs: []string{"test"},
				Steps: []workflow.Step{{Run: "twine upload dist/*"}},
			},
		},
	}
	r, err := resolver.New(def)
	if err != nil {
		t.Fatalf("resolver.New: %v", err)
	}
	return r
}

func TestRunnableReturnsEveryReadyJob(t *testing.T) {
	s, err := New(testResolver(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	batch, err := s.Runnable(RunnableRequest{})
	if err != nil {
		t.Fatalf("Runnable: %v", err)
	}
	if len(batch.Nodes) != 3 {
		t.Fatalf("expected 3 runnable jobs, got %d", len(batch.Nodes))
	}
	if reason, ok := batch.Skipped["publish"]; !ok || reason.Reason != SkipReasonNotReady {
		t.Fatalf("publish should be skipped as not ready, got %+v", batch.Skipped)
	}
}

func TestRunnableHonorsBatchSize(t *testing.T) {
	s, err := New(testResolver(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	batch, err := s.Runnable(RunnableRequest{BatchSize: 2})
	if err != nil {
		t.Fatalf("Runnable: %v", err)
	}
	if len(batch.Nodes) != 2 {
		t.Fatalf("expected batch of 2, got %d", len(batch.Nodes))
	}
}

func TestRunnableHonorsMaxParallel(t *testing.T) {
	s, err := New(testResolver(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	batch, err := s.Runnable(RunnableRequest{
		MaxParallel: 2,
		Running:     []string{"test/python-3.6"},
	})
	if err != nil {
		t.Fatalf("Runnable: %v", err)
	}
	if len(batch.Nodes) != 1 {
		t.Fatalf("one slot should remain, got %d jobs", len(batch.Nodes))
	}
	if reason, ok := batch.Skipped["test/python-3.6"]; !ok || reason.Reason != SkipReasonActive {
		t.Fatalf("running job should be reported as active, got %+v", batch.Skipped)
	}
}

func TestRunnableReturnsNothingWhenSaturated(t *testing.T) {
	s, err := New(testResolver(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	batch, err := s.Runnable(RunnableRequest{
		MaxParallel: 2,
		Running:     []string{"test/python-3.6", "test/python-3.7"},
	})
	if err != nil {
		t.Fatalf("Runnable: %v", err)
	}
	if len(batch.Nodes) != 0 {
		t.Fatalf("saturated scheduler should dispatch nothing, got %d", len(batch.Nodes))
	}
	if reason, ok := batch.Skipped["test/python-3.8"]; !ok || reason.Reason != SkipReasonConcurrency {
		t.Fatalf("expected concurrency skip for the waiting job, got %+v", batch.Skipped)
	}
}
