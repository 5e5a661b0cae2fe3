// Package orchestrator drives a whole run: it asks the engine which jobs may
// start, executes them in parallel through the runner, and feeds results back
// until every job has settled.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/conveyorci/conveyor/internal/artifact"
	"github.com/conveyorci/conveyor/internal/runner"
	"github.com/conveyorci/conveyor/internal/secret"
	"github.com/conveyorci/conveyor/internal/workflow"
	"github.com/conveyorci/conveyor/internal/workflow/engine"
)

// Notifier receives run lifecycle events. Implementations must not block for
// long; a slow notifier slows the whole run loop.
type Notifier interface {
	RunStarted(state engine.State)
	JobFinished(runID string, result runner.JobResult)
	RunFinished(state engine.State)
}

// NopNotifier ignores every event.
type NopNotifier struct{}

func (NopNotifier) RunStarted(engine.State)              {}
func (NopNotifier) JobFinished(string, runner.JobResult) {}
func (NopNotifier) RunFinished(engine.State)             {}

// Orchestrator couples the run engine with the job runner.
type Orchestrator struct {
	engine   *engine.Engine
	runner   *runner.Runner
	store    *artifact.Store
	notifier Notifier
}

// Option customizes an Orchestrator during construction.
type Option func(*Orchestrator)

// WithNotifier installs a run event notifier.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) {
		if n != nil {
			o.notifier = n
		}
	}
}

// New builds an orchestrator.
func New(eng *engine.Engine, run *runner.Runner, store *artifact.Store, opts ...Option) (*Orchestrator, error) {
	if eng == nil {
		return nil, fmt.Errorf("orchestrator: engine is required")
	}
	if run == nil {
		return nil, fmt.Errorf("orchestrator: runner is required")
	}
	if store == nil {
		return nil, fmt.Errorf("orchestrator: artifact store is required")
	}
	o := &Orchestrator{
		engine:   eng,
		runner:   run,
		store:    store,
		notifier: NopNotifier{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// ExecuteRequest describes one run of a workflow.
type ExecuteRequest struct {
	Definition workflow.Definition
	Trigger    engine.TriggerInfo
	Secrets    *secret.Store
	ProjectDir string
	Shell      string
	// StepTimeout bounds each step's execution; zero means no limit.
	StepTimeout time.Duration
	// MaxParallel caps concurrent jobs; values <= 0 mean unlimited.
	MaxParallel int
	// Targets optionally narrows the run to specific jobs and their
	// dependencies.
	Targets []string
}

// ExitCode maps a finished run to a process exit status.
func ExitCode(state engine.State) int {
	if state.Status == engine.RunStatusPassed {
		return 0
	}
	return 1
}

// Execute starts a run and drives it to completion. Jobs run in parallel up
// to MaxParallel; a failed job skips its dependents but never interrupts its
// siblings. The returned state is terminal unless ctx was cancelled.
func (o *Orchestrator) Execute(ctx context.Context, req ExecuteRequest) (engine.State, error) {
	overrides := &engine.RuntimeOverrides{}
	if req.MaxParallel > 0 {
		overrides.MaxParallel = &req.MaxParallel
	}
	if len(req.Targets) > 0 {
		overrides.Targets = &req.Targets
	}
	state, err := o.engine.Start(engine.StartRequest{
		Definition: req.Definition,
		Trigger:    req.Trigger,
		Runtime:    overrides,
	})
	if err != nil {
		return engine.State{}, err
	}

	journal, err := o.store.InitRun(state.RunID)
	if err != nil {
		return state, err
	}
	journal.Info("run %s started: workflow %s, %d jobs, trigger %s",
		state.RunID, state.Workflow, len(state.Jobs), req.Trigger.Kind)
	o.notifier.RunStarted(state)

	// Buffered to the job count so result sends never block: when Execute
	// returns early (cancellation, engine errors) still-running job
	// goroutines can deliver and exit instead of leaking.
	results := make(chan engine.JobUpdate, len(state.Jobs))
	running := map[string]bool{}
	for {
		if state.Status.Terminal() {
			break
		}
		dispatched := false
		for _, id := range state.Runnable {
			if running[id] {
				continue
			}
			job, ok := state.Job(id)
			if !ok {
				continue
			}
			spec := o.jobSpec(state, job, req)
			running[id] = true
			dispatched = true
			journal.Info("job %s started", id)
			go func(id string, spec runner.JobSpec) {
				result := o.runner.RunJob(ctx, spec)
				results <- engine.JobUpdate{ID: id, Result: result}
			}(id, spec)
		}
		if dispatched {
			ids := runningIDs(running)
			state, err = o.engine.Update(engine.UpdateRequest{
				Runtime: &engine.RuntimeOverrides{Running: &ids},
			})
			if err != nil {
				return state, err
			}
			continue
		}
		if len(running) == 0 {
			journal.Error("run %s stalled: no runnable jobs and none running", state.RunID)
			return state, fmt.Errorf("orchestrator: run %s stalled", state.RunID)
		}

		select {
		case <-ctx.Done():
			journal.Warn("run %s interrupted: %v", state.RunID, ctx.Err())
			return state, ctx.Err()
		case update := <-results:
			delete(running, update.ID)
			if update.Result.Failed() {
				journal.Error("job %s failed", update.ID)
			} else {
				journal.Info("job %s %s", update.ID, update.Result.Status)
			}
			o.notifier.JobFinished(state.RunID, update.Result)
			ids := runningIDs(running)
			state, err = o.engine.Update(engine.UpdateRequest{
				Results: []engine.JobUpdate{update},
				Runtime: &engine.RuntimeOverrides{Running: &ids},
			})
			if err != nil {
				return state, err
			}
		}
	}

	if state.Status == engine.RunStatusFailed {
		journal.Error("run %s failed: %s", state.RunID, state.StatusReason)
	} else {
		journal.Info("run %s %s", state.RunID, state.Status)
	}
	o.notifier.RunFinished(state)
	return state, nil
}

func (o *Orchestrator) jobSpec(state engine.State, job engine.JobStatus, req ExecuteRequest) runner.JobSpec {
	template := state.Definition.Jobs[job.TemplateID]
	return runner.JobSpec{
		RunID:       state.RunID,
		JobID:       job.ID,
		Workflow:    state.Workflow,
		Template:    template.Clone(),
		Entry:       job.Entry.Clone(),
		WorkflowEnv: state.Definition.Env,
		Secrets:     req.Secrets,
		ProjectDir:  req.ProjectDir,
		Shell:       req.Shell,
		StepTimeout: req.StepTimeout,
	}
}

func runningIDs(running map[string]bool) []string {
	ids := make([]string, 0, len(running))
	for id := range running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
