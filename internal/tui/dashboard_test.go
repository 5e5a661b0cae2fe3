package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/conveyorci/conveyor/internal/runner"
	"github.com/conveyorci/conveyor/internal/workflow/engine"
	"github.com/conveyorci/conveyor/internal/workflow/resolver"
)

type staticSource struct {
	state engine.State
	err   error
}

func (s staticSource) View() (engine.State, error) {
	return s.state, s.err
}

type staticJournal []string

func (s staticJournal) Tail(int) []string { return s }

func sampleState(status engine.RunStatus) engine.State {
	return engine.State{
		RunID:    "ci-0a1b2c3d",
		Workflow: "ci",
		Status:   status,
		Jobs: []engine.JobStatus{
			{ID: "test/python-3.9", State: resolver.NodeStatePassed, LastRun: &runner.JobResult{
				JobID:    "test/python-3.9",
				Status:   runner.StatusPassed,
				Started:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
				Finished: time.Date(2024, 5, 1, 10, 0, 42, 0, time.UTC),
			}},
			{ID: "test/python-3.10", State: resolver.NodeStateRunning},
		},
	}
}

func TestDashboardViewListsJobs(t *testing.T) {
	d := NewDashboard(staticSource{state: sampleState(engine.RunStatusRunning)}, staticJournal{"run ci-0a1b2c3d started"})

	model, _ := d.Update(d.refresh())
	view := model.(*Dashboard).View()

	for _, want := range []string{"ci-0a1b2c3d", "test/python-3.9", "test/python-3.10", "run ci-0a1b2c3d started"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}

func TestDashboardQuitsOnTerminalRun(t *testing.T) {
	d := NewDashboard(staticSource{state: sampleState(engine.RunStatusFailed)}, nil)

	model, cmd := d.Update(d.refresh())
	if cmd == nil {
		t.Fatal("expected a quit command for a terminal run")
	}
	if msg := cmd(); msg != tea.Quit() {
		t.Fatalf("cmd produced %T, want tea.QuitMsg", msg)
	}
	if !model.(*Dashboard).Done() {
		t.Fatal("dashboard should report done for a terminal run")
	}
}

func TestDashboardQuitsOnKeyPress(t *testing.T) {
	d := NewDashboard(staticSource{state: sampleState(engine.RunStatusRunning)}, nil)

	_, cmd := d.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("expected quit command on q")
	}
	if msg := cmd(); msg != tea.Quit() {
		t.Fatalf("cmd produced %T, want tea.QuitMsg", msg)
	}
}

func TestDashboardKeepsPollingWhileRunning(t *testing.T) {
	d := NewDashboard(staticSource{state: sampleState(engine.RunStatusRunning)}, nil)

	_, cmd := d.Update(d.refresh())
	if cmd == nil {
		t.Fatal("expected a tick command while the run is live")
	}

	_, cmd = d.Update(tickMsg(time.Now()))
	if cmd == nil {
		t.Fatal("expected a refresh command after a tick")
	}
	if _, ok := cmd().(refreshMsg); !ok {
		t.Fatal("tick should trigger a state refresh")
	}
}

func TestDashboardSurfacesRefreshErrors(t *testing.T) {
	d := NewDashboard(staticSource{err: errViewBroken}, nil)

	model, _ := d.Update(d.refresh())
	view := model.(*Dashboard).View()
	if !strings.Contains(view, "cannot read run state") {
		t.Fatalf("view should surface the error:\n%s", view)
	}
}

var errViewBroken = &viewError{}

type viewError struct{}

func (*viewError) Error() string { return "state file corrupted" }
