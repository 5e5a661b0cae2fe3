package mq

import (
	"context"
	"time"

	"github.com/conveyorci/conveyor/internal/runner"
	"github.com/conveyorci/conveyor/internal/workflow/engine"
)

// RunEvent is the wire shape for run lifecycle messages.
type RunEvent struct {
	RunID    string    `json:"run_id"`
	Workflow string    `json:"workflow"`
	Status   string    `json:"status"`
	Reason   string    `json:"reason,omitempty"`
	Jobs     int       `json:"jobs"`
	Stamp    time.Time `json:"stamp"`
}

// JobEvent is the wire shape for job completion messages.
type JobEvent struct {
	RunID    string    `json:"run_id"`
	JobID    string    `json:"job_id"`
	Status   string    `json:"status"`
	Steps    int       `json:"steps"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}

// Routing keys for run lifecycle events.
const (
	KeyRunStarted  = "conveyor.run.started"
	KeyJobFinished = "conveyor.job.finished"
	KeyRunFinished = "conveyor.run.finished"
)

// Notifier publishes run lifecycle events to a topic exchange. It satisfies
// orchestrator.Notifier; publish failures are logged, never fatal, so a flaky
// broker cannot fail an otherwise healthy run.
type Notifier struct {
	connector *Connector
	exchange  string
	logger    Logger
}

// NewNotifier wires a notifier to an already connected Connector.
func NewNotifier(connector *Connector, exchange string, logger Logger) (*Notifier, error) {
	if err := connector.DeclareExchange(exchange); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Notifier{connector: connector, exchange: exchange, logger: logger}, nil
}

func (n *Notifier) publish(key string, payload any) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.connector.Publish(ctx, n.exchange, key, payload); err != nil {
		n.logger.Printf("mq: notify %s: %v", key, err)
	}
}

// RunStarted announces a freshly scheduled run.
func (n *Notifier) RunStarted(state engine.State) {
	n.publish(KeyRunStarted, RunEvent{
		RunID:    state.RunID,
		Workflow: state.Workflow,
		Status:   string(state.Status),
		Jobs:     len(state.Jobs),
		Stamp:    time.Now().UTC(),
	})
}

// JobFinished announces one settled job.
func (n *Notifier) JobFinished(runID string, result runner.JobResult) {
	n.publish(KeyJobFinished, JobEvent{
		RunID:    runID,
		JobID:    result.JobID,
		Status:   string(result.Status),
		Steps:    len(result.Steps),
		Started:  result.Started,
		Finished: result.Finished,
	})
}

// RunFinished announces the run's terminal state.
func (n *Notifier) RunFinished(state engine.State) {
	n.publish(KeyRunFinished, RunEvent{
		RunID:    state.RunID,
		Workflow: state.Workflow,
		Status:   string(state.Status),
		Reason:   state.StatusReason,
		Jobs:     len(state.Jobs),
		Stamp:    time.Now().UTC(),
	})
}
