// Package tui renders a live dashboard for a Conveyor run. It follows The
// Elm Architecture via bubbletea: the Dashboard model polls the run engine on
// a timer, Update folds messages into new state, and View renders the job
// table and journal tail.
package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/conveyorci/conveyor/internal/workflow/engine"
	"github.com/conveyorci/conveyor/internal/workflow/resolver"
)

const refreshInterval = time.Second

// StateSource supplies the current run state, typically *engine.Engine.
type StateSource interface {
	View() (engine.State, error)
}

// JournalSource supplies recent journal lines for the run.
type JournalSource interface {
	Tail(maxLines int) []string
}

type refreshMsg struct {
	state   engine.State
	journal []string
	err     error
}

type tickMsg time.Time

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#5B8DEF"))
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))
	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))
	passStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98C379"))
	runStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E5C07B"))
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

// Dashboard is the bubbletea model for a single run.
type Dashboard struct {
	source  StateSource
	journal JournalSource

	state       engine.State
	journalTail []string
	spin        spinner.Model
	err         error
	width       int
	height      int
	done        bool
}

// NewDashboard builds a dashboard over the given state and journal sources.
// journal may be nil when no journal is available.
func NewDashboard(source StateSource, journal JournalSource) *Dashboard {
	spin := spinner.New(spinner.WithSpinner(spinner.MiniDot), spinner.WithStyle(runStyle))
	return &Dashboard{source: source, journal: journal, spin: spin}
}

// Init kicks off the first refresh and the spinner animation.
func (d *Dashboard) Init() tea.Cmd {
	return tea.Batch(d.refresh, d.spin.Tick)
}

func (d *Dashboard) refresh() tea.Msg {
	state, err := d.source.View()
	msg := refreshMsg{state: state, err: err}
	if d.journal != nil {
		msg.journal = d.journal.Tail(8)
	}
	return msg
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles key presses, window sizing and refresh results.
func (d *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return d, tea.Quit
		}
	case tea.WindowSizeMsg:
		d.width = msg.Width
		d.height = msg.Height
	case refreshMsg:
		d.err = msg.err
		if msg.err == nil {
			d.state = msg.state
			d.journalTail = msg.journal
		}
		if d.state.Status.Terminal() {
			// One last render, then leave the final screen up for the caller.
			d.done = true
			return d, tea.Quit
		}
		return d, tick()
	case tickMsg:
		return d, d.refresh
	case spinner.TickMsg:
		var cmd tea.Cmd
		d.spin, cmd = d.spin.Update(msg)
		return d, cmd
	}
	return d, nil
}

// Done reports whether the watched run reached a terminal status.
func (d *Dashboard) Done() bool {
	return d.done
}

// View renders the run header, the job table and the journal tail.
func (d *Dashboard) View() string {
	if d.state.RunID == "" {
		if d.err != nil {
			return failStyle.Render(fmt.Sprintf("cannot read run state: %v", d.err)) + "\n"
		}
		return dimStyle.Render("waiting for run state...") + "\n"
	}

	header := titleStyle.Render(fmt.Sprintf("%s  %s", d.state.Workflow, d.state.RunID))
	status := statusLine(d.state)

	sections := []string{
		lipgloss.JoinVertical(lipgloss.Left, header, status),
		boxStyle.Render(d.renderJobs()),
	}
	if len(d.journalTail) > 0 {
		sections = append(sections, boxStyle.Render(d.renderJournal()))
	}
	if d.err != nil {
		sections = append(sections, failStyle.Render(fmt.Sprintf("refresh error: %v", d.err)))
	}
	sections = append(sections, dimStyle.Render("q quit"))
	return lipgloss.JoinVertical(lipgloss.Left, sections...) + "\n"
}

func statusLine(state engine.State) string {
	text := fmt.Sprintf("status: %s", state.Status)
	if state.StatusReason != "" {
		text += "  (" + state.StatusReason + ")"
	}
	switch state.Status {
	case engine.RunStatusPassed:
		return passStyle.Render(text)
	case engine.RunStatusFailed:
		return failStyle.Render(text)
	default:
		return runStyle.Render(text)
	}
}

func (d *Dashboard) renderJobs() string {
	jobs := append([]engine.JobStatus{}, d.state.Jobs...)
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })

	width := 0
	for _, job := range jobs {
		if len(job.ID) > width {
			width = len(job.ID)
		}
	}
	lines := make([]string, 0, len(jobs))
	for _, job := range jobs {
		line := fmt.Sprintf("%s %-*s %s", d.stateGlyph(job.State), width, job.ID, jobDetail(job))
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return dimStyle.Render("no jobs")
	}
	return strings.Join(lines, "\n")
}

func jobDetail(job engine.JobStatus) string {
	switch job.State {
	case resolver.NodeStateSkipped:
		if len(job.BlockedBy) > 0 {
			return dimStyle.Render("skipped after " + strings.Join(job.BlockedBy, ", "))
		}
		return dimStyle.Render("skipped")
	case resolver.NodeStateBlocked:
		return dimStyle.Render("waiting on " + strings.Join(job.Dependencies, ", "))
	case resolver.NodeStateFailed:
		if job.LastRun != nil {
			return failStyle.Render(fmt.Sprintf("failed after %d steps", len(job.LastRun.Steps)))
		}
		return failStyle.Render("failed")
	case resolver.NodeStatePassed:
		if job.LastRun != nil && !job.LastRun.Finished.IsZero() {
			return passStyle.Render(job.LastRun.Finished.Sub(job.LastRun.Started).Round(time.Second).String())
		}
		return passStyle.Render("passed")
	default:
		return dimStyle.Render(string(job.State))
	}
}

func (d *Dashboard) stateGlyph(state resolver.NodeState) string {
	switch state {
	case resolver.NodeStatePassed:
		return passStyle.Render("✓")
	case resolver.NodeStateFailed:
		return failStyle.Render("✗")
	case resolver.NodeStateRunning:
		return d.spin.View()
	case resolver.NodeStateSkipped:
		return dimStyle.Render("⊘")
	case resolver.NodeStateReady:
		return runStyle.Render("•")
	default:
		return dimStyle.Render("·")
	}
}

func (d *Dashboard) renderJournal() string {
	lines := make([]string, 0, len(d.journalTail))
	for _, line := range d.journalTail {
		lines = append(lines, dimStyle.Render(line))
	}
	return strings.Join(lines, "\n")
}

// Run starts the dashboard in the caller's terminal and blocks until the
// watched run finishes or the user quits.
func Run(source StateSource, journal JournalSource) error {
	program := tea.NewProgram(NewDashboard(source, journal))
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}
