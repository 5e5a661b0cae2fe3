package cli

import (
	"fmt"
	"io"
	"os/user"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/conveyorci/conveyor/internal/artifact"
	"github.com/conveyorci/conveyor/internal/orchestrator"
	"github.com/conveyorci/conveyor/internal/tui"
	"github.com/conveyorci/conveyor/internal/workflow"
	"github.com/conveyorci/conveyor/internal/workflow/engine"
	"github.com/conveyorci/conveyor/internal/workflow/resolver"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	var (
		branch      string
		actor       string
		inputs      []string
		targets     []string
		maxParallel int
		withTUI     bool
	)
	cmd := &cobra.Command{
		Use:   "run [workflow]",
		Short: "Run a workflow's jobs on this machine",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(opts.projectDir)
			if err != nil {
				return err
			}
			defer app.Close()

			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			def, err := app.Workflow(name)
			if err != nil {
				return err
			}
			in, err := parseInputs(inputs)
			if err != nil {
				return err
			}
			trigger := engine.TriggerInfo{
				Kind:   "manual",
				Branch: branch,
				Actor:  resolveActor(actor),
				Inputs: in,
			}
			return executeRun(cmd, app, def, trigger, runOptions{
				maxParallel: maxParallel,
				targets:     targets,
				withTUI:     withTUI,
			})
		},
	}
	cmd.Flags().StringVar(&branch, "branch", "", "branch to report in the run's trigger info")
	cmd.Flags().StringVar(&actor, "actor", "", "actor to attribute the run to")
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "workflow input as key=value, repeatable")
	cmd.Flags().StringArrayVar(&targets, "target", nil, "run only these jobs and their dependencies")
	cmd.Flags().IntVar(&maxParallel, "max-parallel", 0, "cap concurrent jobs, overrides project config")
	cmd.Flags().BoolVar(&withTUI, "tui", false, "show a live dashboard while the run executes")
	return cmd
}

type runOptions struct {
	maxParallel int
	targets     []string
	withTUI     bool
}

// executeRun drives one workflow run to completion and maps its result to a
// process exit status. Shared by the run and dispatch commands.
func executeRun(cmd *cobra.Command, app *App, def workflow.Definition, info engine.TriggerInfo, opts runOptions) error {
	secrets, err := app.Secrets()
	if err != nil {
		return err
	}
	stack, err := app.Stack(cmd.Context())
	if err != nil {
		return err
	}
	defer stack.Close()

	maxParallel := opts.maxParallel
	if maxParallel <= 0 {
		maxParallel = app.Config.MaxParallel()
	}
	req := orchestrator.ExecuteRequest{
		Definition:  def,
		Trigger:     info,
		Secrets:     secrets,
		ProjectDir:  app.Config.ProjectDir,
		Shell:       app.Config.Shell(),
		StepTimeout: app.Config.StepTimeout(),
		MaxParallel: maxParallel,
		Targets:     opts.targets,
	}

	var state engine.State
	if opts.withTUI {
		state, err = executeWithDashboard(cmd, stack, req)
	} else {
		state, err = stack.Orchestrator.Execute(cmd.Context(), req)
	}
	if err != nil {
		return err
	}

	printRunSummary(cmd.OutOrStdout(), state)
	if code := orchestrator.ExitCode(state); code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}

// executeWithDashboard runs the orchestrator in the background while the
// terminal shows the live dashboard. The dashboard exits on its own once the
// run settles.
func executeWithDashboard(cmd *cobra.Command, stack *Stack, req orchestrator.ExecuteRequest) (engine.State, error) {
	type outcome struct {
		state engine.State
		err   error
	}
	done := make(chan outcome, 1)
	started := time.Now()
	go func() {
		state, err := stack.Orchestrator.Execute(cmd.Context(), req)
		done <- outcome{state: state, err: err}
	}()

	source := &liveStateSource{engine: stack.Engine, since: started}
	journal := &liveJournalSource{engine: stack.Engine, store: stack.Store, since: started}
	if err := tui.Run(source, journal); err != nil {
		// The run keeps going; fall through and wait for it.
		fmt.Fprintf(cmd.ErrOrStderr(), "dashboard unavailable: %v\n", err)
	}
	result := <-done
	return result.state, result.err
}

// liveStateSource exposes engine state to the dashboard but hides runs that
// predate this invocation, so a finished earlier run does not flash by.
type liveStateSource struct {
	engine *engine.Engine
	since  time.Time
}

func (s *liveStateSource) View() (engine.State, error) {
	state, err := s.engine.View()
	if err != nil {
		return engine.State{}, nil
	}
	if state.StartedAt.Before(s.since.Add(-time.Second)) {
		return engine.State{}, nil
	}
	return state, nil
}

type liveJournalSource struct {
	engine *engine.Engine
	store  *artifact.Store
	since  time.Time
}

func (s *liveJournalSource) Tail(maxLines int) []string {
	state, err := s.engine.View()
	if err != nil || state.RunID == "" || state.StartedAt.Before(s.since.Add(-time.Second)) {
		return nil
	}
	journal, err := artifact.NewJournal(s.store.JournalPath(state.RunID))
	if err != nil {
		return nil
	}
	return journal.Tail(maxLines)
}

func printRunSummary(w io.Writer, state engine.State) {
	jobs := append([]engine.JobStatus{}, state.Jobs...)
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	for _, job := range jobs {
		line := fmt.Sprintf("%-4s %s", summaryMark(job.State), job.ID)
		if job.LastRun != nil && !job.LastRun.Finished.IsZero() {
			line += fmt.Sprintf(" (%s)", job.LastRun.Finished.Sub(job.LastRun.Started).Round(time.Second))
		}
		if job.State == resolver.NodeStateSkipped && len(job.BlockedBy) > 0 {
			line += " skipped after " + job.BlockedBy[0]
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "run %s: %s", state.RunID, state.Status)
	if state.StatusReason != "" {
		fmt.Fprintf(w, " (%s)", state.StatusReason)
	}
	fmt.Fprintln(w)
}

func summaryMark(state resolver.NodeState) string {
	switch state {
	case resolver.NodeStatePassed:
		return "ok"
	case resolver.NodeStateFailed:
		return "FAIL"
	case resolver.NodeStateSkipped:
		return "skip"
	default:
		return string(state)
	}
}

func resolveActor(flag string) string {
	if flag != "" {
		return flag
	}
	if current, err := user.Current(); err == nil && current.Username != "" {
		return current.Username
	}
	return "local"
}
