package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/conveyorci/conveyor/internal/runner"
	"github.com/conveyorci/conveyor/internal/workflow"
	"github.com/conveyorci/conveyor/internal/workflow/resolver"
	"github.com/conveyorci/conveyor/internal/workflow/scheduler"
)

// Engine coordinates the resolver and scheduler while persisting run state.
type Engine struct {
	repo  StateStore
	clock func() time.Time
}

// Option customizes the engine instance.
type Option func(*Engine)

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// New wires a run engine to the persistence store.
func New(repo StateStore, opts ...Option) (*Engine, error) {
	if repo == nil {
		return nil, fmt.Errorf("engine: state store is required")
	}
	engine := &Engine{
		repo:  repo,
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine, nil
}

// StartRequest bootstraps a new run from a workflow definition.
type StartRequest struct {
	Definition workflow.Definition
	Trigger    TriggerInfo
	Runtime    *RuntimeOverrides
}

// ResumeRequest refreshes persisted state after process restarts.
type ResumeRequest struct {
	Runtime *RuntimeOverrides
}

// JobUpdate informs the engine that a job finished running.
type JobUpdate struct {
	ID     string
	Result runner.JobResult
}

// UpdateRequest applies runtime overrides and job result updates.
type UpdateRequest struct {
	Runtime *RuntimeOverrides
	Results []JobUpdate
}

// Start expands a workflow definition into a fresh run and persists it.
func (e *Engine) Start(req StartRequest) (State, error) {
	normalized, err := req.Definition.Normalized()
	if err != nil {
		return State{}, err
	}
	runtime := applyRuntimeOverrides(RunRuntime{}, req.Runtime)
	now := e.now()
	state, err := e.buildState(normalized, runtime, nil)
	if err != nil {
		return State{}, err
	}
	state.RunID = newRunID(normalized.Name)
	state.Workflow = normalized.Name
	state.Trigger = req.Trigger
	state.StartedAt = now
	state.UpdatedAt = now
	if err := e.repo.Save(state); err != nil {
		return State{}, err
	}
	return state, nil
}

// Resume reloads persisted state and refreshes resolver and scheduler
// snapshots. Jobs that were marked running when the process died go back to
// ready.
func (e *Engine) Resume(req ResumeRequest) (State, error) {
	current, err := e.repo.Load()
	if err != nil {
		return State{}, err
	}
	runtime := applyRuntimeOverrides(current.Runtime, req.Runtime)
	runtime.Running = nil
	state, err := e.buildState(current.Definition, runtime, current.Results)
	if err != nil {
		return State{}, err
	}
	state.RunID = current.RunID
	state.Workflow = current.Workflow
	state.Trigger = current.Trigger
	state.StartedAt = current.StartedAt
	state.UpdatedAt = e.now()
	if err := e.repo.Save(state); err != nil {
		return State{}, err
	}
	return state, nil
}

// Update merges job results, reapplies runtime overrides, and refreshes state.
func (e *Engine) Update(req UpdateRequest) (State, error) {
	current, err := e.repo.Load()
	if err != nil {
		return State{}, err
	}
	results := mergeResults(current.Results, req.Results)
	runtime := applyRuntimeOverrides(current.Runtime, req.Runtime)
	runtime.Running = releaseRunning(runtime.Running, req.Results)
	state, err := e.buildState(current.Definition, runtime, results)
	if err != nil {
		return State{}, err
	}
	state.RunID = current.RunID
	state.Workflow = current.Workflow
	state.Trigger = current.Trigger
	state.StartedAt = current.StartedAt
	state.UpdatedAt = e.now()
	if err := e.repo.Save(state); err != nil {
		return State{}, err
	}
	return state, nil
}

// View returns the last persisted snapshot without recomputing graph state.
func (e *Engine) View() (State, error) {
	return e.repo.Load()
}

func (e *Engine) buildState(def workflow.Definition, runtime RunRuntime, results map[string]runner.JobResult) (State, error) {
	res, err := resolver.New(def)
	if err != nil {
		return State{}, err
	}
	res.Refresh(outcomes(results, runtime.Running))
	sched, err := scheduler.New(res)
	if err != nil {
		return State{}, err
	}
	batch, err := sched.Runnable(runtime.schedulerRequest())
	if err != nil {
		return State{}, err
	}
	jobs := summarizeJobs(res, results)
	status, reason := deriveRunStatus(jobs, runtime)
	return State{
		Workflow:     def.Name,
		Definition:   def.Clone(),
		Runtime:      runtime.clone(),
		Jobs:         jobs,
		Runnable:     runnableIDs(batch.Nodes),
		Skipped:      cloneSkipped(batch.Skipped),
		Results:      cloneResults(results),
		Status:       status,
		StatusReason: reason,
	}, nil
}

func outcomes(results map[string]runner.JobResult, running []string) map[string]resolver.Outcome {
	out := make(map[string]resolver.Outcome, len(results)+len(running))
	for id, result := range results {
		switch result.Status {
		case runner.StatusPassed:
			out[id] = resolver.OutcomePassed
		case runner.StatusSkipped:
			out[id] = resolver.OutcomeSkipped
		default:
			out[id] = resolver.OutcomeFailed
		}
	}
	for _, id := range running {
		if _, done := out[id]; !done {
			out[id] = resolver.OutcomeRunning
		}
	}
	return out
}

func summarizeJobs(res *resolver.Resolver, results map[string]runner.JobResult) []JobStatus {
	nodes := res.Nodes()
	jobs := make([]JobStatus, 0, len(nodes))
	for _, node := range nodes {
		status := JobStatus{
			ID:           node.ID,
			TemplateID:   node.TemplateID,
			Name:         node.Template.Name,
			Entry:        node.Entry.Clone(),
			State:        node.State,
			Dependencies: cloneStrings(node.Dependencies),
			Dependents:   cloneStrings(node.Dependents),
			BlockedBy:    cloneStrings(node.BlockedBy),
		}
		if result, ok := results[node.ID]; ok {
			copyResult := result
			status.LastRun = &copyResult
		}
		jobs = append(jobs, status)
	}
	return jobs
}

func deriveRunStatus(jobs []JobStatus, runtime RunRuntime) (RunStatus, string) {
	reason := ""
	for _, job := range jobs {
		if job.State == resolver.NodeStateFailed && reason == "" {
			reason = fmt.Sprintf("%s failed", job.ID)
		}
	}
	settled := true
	hasReady := false
	for _, job := range jobs {
		if !job.State.Terminal() {
			settled = false
		}
		if job.State == resolver.NodeStateReady {
			hasReady = true
		}
	}
	if settled {
		if reason != "" {
			return RunStatusFailed, reason
		}
		for _, job := range jobs {
			if job.State == resolver.NodeStateSkipped {
				return RunStatusFailed, fmt.Sprintf("%s skipped", job.ID)
			}
		}
		return RunStatusPassed, ""
	}
	if hasReady || len(runtime.Running) > 0 {
		return RunStatusRunning, reason
	}
	return RunStatusBlocked, reason
}

func runnableIDs(nodes []*resolver.Node) []string {
	if len(nodes) == 0 {
		return nil
	}
	ids := make([]string, len(nodes))
	for i, node := range nodes {
		ids[i] = node.ID
	}
	return ids
}

func cloneSkipped(values map[string]scheduler.SkipReason) map[string]scheduler.SkipReason {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]scheduler.SkipReason, len(values))
	for id, reason := range values {
		out[id] = reason
	}
	return out
}

func cloneResults(values map[string]runner.JobResult) map[string]runner.JobResult {
	if len(values) == 0 {
		return map[string]runner.JobResult{}
	}
	out := make(map[string]runner.JobResult, len(values))
	for id, result := range values {
		out[id] = result
	}
	return out
}

func mergeResults(existing map[string]runner.JobResult, updates []JobUpdate) map[string]runner.JobResult {
	merged := cloneResults(existing)
	for _, update := range updates {
		if update.ID == "" {
			continue
		}
		merged[update.ID] = update.Result
	}
	return merged
}

func releaseRunning(running []string, updates []JobUpdate) []string {
	if len(running) == 0 || len(updates) == 0 {
		return cloneStrings(running)
	}
	finished := make(map[string]struct{}, len(updates))
	for _, update := range updates {
		finished[update.ID] = struct{}{}
	}
	var remaining []string
	for _, id := range running {
		if _, done := finished[id]; !done {
			remaining = append(remaining, id)
		}
	}
	sort.Strings(remaining)
	return remaining
}

func applyRuntimeOverrides(base RunRuntime, overrides *RuntimeOverrides) RunRuntime {
	if overrides == nil {
		return base
	}
	if overrides.Targets != nil {
		base.Targets = cloneStrings(*overrides.Targets)
	}
	if overrides.BatchSize != nil {
		base.BatchSize = *overrides.BatchSize
	}
	if overrides.MaxParallel != nil {
		base.MaxParallel = *overrides.MaxParallel
	}
	if overrides.Running != nil {
		base.Running = cloneStrings(*overrides.Running)
	}
	return base
}

func newRunID(workflowName string) string {
	return fmt.Sprintf("%s-%s", workflowName, uuid.NewString()[:8])
}

func (e *Engine) now() time.Time {
	if e.clock == nil {
		return time.Now()
	}
	return e.clock()
}
