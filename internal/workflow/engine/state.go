package engine

import (
	"time"

	"github.com/conveyorci/conveyor/internal/runner"
	"github.com/conveyorci/conveyor/internal/workflow"
	"github.com/conveyorci/conveyor/internal/workflow/resolver"
	"github.com/conveyorci/conveyor/internal/workflow/scheduler"
)

// RunStatus enumerates coarse run phases.
type RunStatus string

const (
	RunStatusUnknown RunStatus = "unknown"
	RunStatusRunning RunStatus = "running"
	RunStatusBlocked RunStatus = "blocked"
	RunStatusPassed  RunStatus = "passed"
	RunStatusFailed  RunStatus = "failed"
)

// Terminal reports whether the run can no longer change.
func (s RunStatus) Terminal() bool {
	return s == RunStatusPassed || s == RunStatusFailed
}

// TriggerInfo records what started a run.
type TriggerInfo struct {
	Kind   string            `json:"kind"`
	Branch string            `json:"branch,omitempty"`
	Actor  string            `json:"actor,omitempty"`
	Inputs map[string]string `json:"inputs,omitempty"`
}

// State captures the persisted snapshot of a workflow run.
type State struct {
	RunID      string              `json:"run_id"`
	Workflow   string              `json:"workflow"`
	Trigger    TriggerInfo         `json:"trigger"`
	Definition workflow.Definition `json:"definition"`
	Status     RunStatus           `json:"status"`
	// StatusReason provides a human readable explanation for non-running states.
	StatusReason string                          `json:"status_reason,omitempty"`
	Runtime      RunRuntime                      `json:"runtime"`
	Jobs         []JobStatus                     `json:"jobs"`
	Runnable     []string                        `json:"runnable"`
	Skipped      map[string]scheduler.SkipReason `json:"skipped,omitempty"`
	Results      map[string]runner.JobResult     `json:"results,omitempty"`
	StartedAt    time.Time                       `json:"started_at"`
	UpdatedAt    time.Time                       `json:"updated_at"`
}

// Job returns the status record for one job, if present.
func (s State) Job(id string) (JobStatus, bool) {
	for _, job := range s.Jobs {
		if job.ID == id {
			return job, true
		}
	}
	return JobStatus{}, false
}

// RunRuntime mirrors scheduler constraints that survive across updates.
type RunRuntime struct {
	Targets     []string `json:"targets,omitempty"`
	BatchSize   int      `json:"batch_size,omitempty"`
	MaxParallel int      `json:"max_parallel,omitempty"`
	Running     []string `json:"running,omitempty"`
}

// RuntimeOverrides selectively mutates RunRuntime fields.
type RuntimeOverrides struct {
	Targets     *[]string
	BatchSize   *int
	MaxParallel *int
	Running     *[]string
}

// JobStatus exposes resolver metadata for one concrete job.
type JobStatus struct {
	ID           string             `json:"id"`
	TemplateID   string             `json:"template_id"`
	Name         string             `json:"name"`
	Entry        workflow.Entry     `json:"entry,omitempty"`
	State        resolver.NodeState `json:"state"`
	Dependencies []string           `json:"dependencies,omitempty"`
	Dependents   []string           `json:"dependents,omitempty"`
	BlockedBy    []string           `json:"blocked_by,omitempty"`
	LastRun      *runner.JobResult  `json:"last_run,omitempty"`
}

// schedulerRequest converts RunRuntime into a scheduler request payload.
func (rt RunRuntime) schedulerRequest() scheduler.RunnableRequest {
	return scheduler.RunnableRequest{
		Targets:     cloneStrings(rt.Targets),
		BatchSize:   rt.BatchSize,
		MaxParallel: rt.MaxParallel,
		Running:     cloneStrings(rt.Running),
	}
}

func (rt RunRuntime) clone() RunRuntime {
	return RunRuntime{
		Targets:     cloneStrings(rt.Targets),
		BatchSize:   rt.BatchSize,
		MaxParallel: rt.MaxParallel,
		Running:     cloneStrings(rt.Running),
	}
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
