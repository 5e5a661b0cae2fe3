// Package runner executes one job at a time: a linear sequence of steps in a
// private workspace, stopping at the first failure. It knows nothing about
// scheduling; the engine decides what to run, the runner runs it.
package runner

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/conveyorci/conveyor/internal/artifact"
	"github.com/conveyorci/conveyor/internal/secret"
	"github.com/conveyorci/conveyor/internal/step"
	"github.com/conveyorci/conveyor/internal/workflow"
)

// Status enumerates job and step outcomes.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// JobSpec describes one concrete job the runner should execute.
type JobSpec struct {
	RunID    string
	JobID    string
	Workflow string
	Template workflow.JobTemplate
	Entry    workflow.Entry

	// WorkflowEnv is the definition-level env block.
	WorkflowEnv map[string]string
	// Secrets holds every secret the workflow declares.
	Secrets *secret.Store
	// ProjectDir is the project root checkout steps copy from.
	ProjectDir string
	// Shell runs `run:` steps, "/bin/sh" when empty.
	Shell string
	// StepTimeout bounds each step's execution; zero means no limit.
	StepTimeout time.Duration
}

// StepResult records the outcome of one step.
type StepResult struct {
	Label    string    `json:"label"`
	Status   Status    `json:"status"`
	ExitCode int       `json:"exit_code"`
	Message  string    `json:"message,omitempty"`
	Started  time.Time `json:"started,omitempty"`
	Finished time.Time `json:"finished,omitempty"`
}

// JobResult records the outcome of a whole job.
type JobResult struct {
	JobID    string       `json:"job_id"`
	Status   Status       `json:"status"`
	Steps    []StepResult `json:"steps"`
	Started  time.Time    `json:"started"`
	Finished time.Time    `json:"finished"`
}

// Failed reports whether the job ended in failure.
func (r JobResult) Failed() bool {
	return r.Status == StatusFailed
}

// Runner executes jobs against a provider registry and an artifact store.
type Runner struct {
	registry *step.Registry
	store    *artifact.Store
	now      func() time.Time
}

// Option customizes a Runner during construction.
type Option func(*Runner)

// WithClock overrides the clock used for step timestamps.
func WithClock(clock func() time.Time) Option {
	return func(r *Runner) {
		r.now = clock
	}
}

// New builds a runner.
func New(registry *step.Registry, store *artifact.Store, opts ...Option) (*Runner, error) {
	if registry == nil {
		return nil, fmt.Errorf("runner: step registry is required")
	}
	if store == nil {
		return nil, fmt.Errorf("runner: artifact store is required")
	}
	r := &Runner{
		registry: registry,
		store:    store,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RunJob executes the job's steps in order. The first failing step fails the
// job and every later step is recorded as skipped. Step output is captured to
// per-step log files with secret values masked.
func (r *Runner) RunJob(ctx context.Context, spec JobSpec) JobResult {
	result := JobResult{
		JobID:   spec.JobID,
		Status:  StatusPassed,
		Started: r.now(),
	}

	workspace := r.store.WorkspaceDir(spec.RunID, spec.JobID)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		result.Status = StatusFailed
		result.Steps = append(result.Steps, StepResult{
			Label:    "workspace",
			Status:   StatusFailed,
			ExitCode: 1,
			Message:  fmt.Sprintf("create workspace: %v", err),
		})
		result.Finished = r.now()
		r.writeReport(spec, result)
		return result
	}

	secrets := map[string]string{}
	if spec.Secrets != nil {
		for _, name := range spec.Secrets.Names() {
			value, _ := spec.Secrets.Get(name)
			secrets[name] = value
		}
	}
	redactor := secret.NewRedactor(values(secrets)...)

	env := environMap(os.Environ())
	merge(env, spec.WorkflowEnv)
	merge(env, spec.Template.Env)
	for axis, value := range spec.Entry {
		env["CONVEYOR_MATRIX_"+strings.ToUpper(axis)] = value
	}
	for name, value := range secrets {
		env[name] = value
	}
	env["CONVEYOR_RUN_ID"] = spec.RunID
	env["CONVEYOR_JOB_ID"] = spec.JobID
	env["CONVEYOR_WORKSPACE"] = workspace

	failed := false
	for i, st := range spec.Template.Steps {
		label := st.Label(i)
		if failed {
			result.Steps = append(result.Steps, StepResult{
				Label:   label,
				Status:  StatusSkipped,
				Message: "previous step failed",
			})
			continue
		}
		stepResult := r.runStep(ctx, spec, workspace, st, i, label, env, secrets, redactor)
		result.Steps = append(result.Steps, stepResult)
		if stepResult.Status == StatusFailed {
			failed = true
		}
	}
	if failed {
		result.Status = StatusFailed
	}
	result.Finished = r.now()
	r.writeReport(spec, result)
	return result
}

func (r *Runner) runStep(ctx context.Context, spec JobSpec, workspace string, st workflow.Step, index int, label string, env map[string]string, secrets map[string]string, redactor *secret.Redactor) StepResult {
	out := StepResult{Label: label, Started: r.now()}

	vars := workflow.Vars{Matrix: spec.Entry, Env: env, Secrets: secrets}
	with := workflow.InterpolateMap(st.With, vars)
	providerID := st.Uses
	if st.Run != "" {
		providerID = "run"
		if with == nil {
			with = map[string]string{}
		}
		with["command"] = workflow.Interpolate(st.Run, vars)
	}
	provider, err := r.registry.Resolve(providerID)
	if err != nil {
		return r.failStep(out, redactor, err)
	}

	stepEnv := map[string]string{}
	merge(stepEnv, env)
	merge(stepEnv, workflow.InterpolateMap(st.Env, vars))

	logFile, err := r.store.StepLogWriter(spec.RunID, spec.JobID, index, label)
	if err != nil {
		return r.failStep(out, redactor, err)
	}
	masked := redactor.Writer(logFile)

	workdir := workspace
	if st.WorkingDir != "" {
		workdir = workflow.Interpolate(st.WorkingDir, vars)
	}
	sc := step.Context{
		ProjectDir: spec.ProjectDir,
		Workdir:    workdir,
		Shell:      spec.Shell,
		Env:        environList(stepEnv),
		With:       with,
		Secrets:    secrets,
		Stdout:     masked,
		Stderr:     masked,
	}
	stepCtx := ctx
	if spec.StepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, spec.StepTimeout)
		defer cancel()
	}
	res, runErr := provider.Run(stepCtx, sc)
	_ = masked.Close()
	_ = logFile.Close()
	if runErr != nil {
		return r.failStep(out, redactor, runErr)
	}

	out.ExitCode = res.ExitCode
	out.Message = redactor.Redact(res.Message)
	out.Finished = r.now()
	if res.ExitCode != 0 {
		out.Status = StatusFailed
		return out
	}
	out.Status = StatusPassed
	// Exports become visible to the remaining steps of this job only.
	merge(env, res.Exports)
	return out
}

func (r *Runner) failStep(out StepResult, redactor *secret.Redactor, err error) StepResult {
	out.Status = StatusFailed
	out.ExitCode = 1
	out.Message = redactor.Redact(err.Error())
	out.Finished = r.now()
	return out
}

func (r *Runner) writeReport(spec JobSpec, result JobResult) {
	notes := map[string]string{}
	for axis, value := range spec.Entry {
		notes[axis] = value
	}
	steps := make([]artifact.StepSummary, len(result.Steps))
	for i, st := range result.Steps {
		steps[i] = artifact.StepSummary{
			Label:    st.Label,
			Status:   string(st.Status),
			ExitCode: st.ExitCode,
			Message:  st.Message,
		}
	}
	meta := artifact.ReportMeta{
		RunID:    spec.RunID,
		Workflow: spec.Workflow,
		Job:      spec.JobID,
		Status:   string(result.Status),
		Started:  result.Started,
		Finished: result.Finished,
	}
	if len(notes) > 0 {
		meta.Notes = notes
	}
	// Report writing is best-effort; a failed report never fails the job.
	_ = r.store.WriteJobReport(meta, steps)
}

func environMap(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if key, value, ok := strings.Cut(kv, "="); ok {
			env[key] = value
		}
	}
	return env
}

func environList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, key+"="+env[key])
	}
	return out
}

func merge(dst map[string]string, src map[string]string) {
	for key, value := range src {
		dst[key] = value
	}
}

func values(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, value := range m {
		out = append(out, value)
	}
	return out
}
