package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/conveyorci/conveyor/internal/trigger"
)

// DispatchQueue is the queue remote callers publish dispatch requests to.
const DispatchQueue = "conveyor.dispatch"

// DispatchRequest is the wire shape for a remote workflow dispatch.
type DispatchRequest struct {
	Workflow string            `json:"workflow"`
	Branch   string            `json:"branch,omitempty"`
	Actor    string            `json:"actor,omitempty"`
	Inputs   map[string]string `json:"inputs,omitempty"`
}

// Dispatcher consumes dispatch requests from the broker and feeds them into
// the same trigger pipeline the HTTP listener uses.
type Dispatcher struct {
	handler trigger.Handler
	logger  Logger
}

// NewDispatcher builds a dispatcher and registers its queue on the connector.
func NewDispatcher(connector *Connector, handler trigger.Handler, logger Logger) (*Dispatcher, error) {
	if handler == nil {
		return nil, fmt.Errorf("mq: dispatch handler is required")
	}
	if logger == nil {
		logger = nopLogger{}
	}
	d := &Dispatcher{handler: handler, logger: logger}
	if err := connector.RegisterConsumer(DispatchQueue, d.handle); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dispatcher) handle(ctx context.Context, body []byte) error {
	var req DispatchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("mq: decode dispatch request: %w", err)
	}
	evt := trigger.Event{
		Kind:     trigger.KindDispatch,
		Workflow: req.Workflow,
		Branch:   req.Branch,
		Actor:    req.Actor,
		Inputs:   req.Inputs,
	}
	evt.Normalize()
	if err := evt.Validate(); err != nil {
		return err
	}
	d.logger.Printf("mq: dispatch %s by %s", evt.Workflow, evt.Actor)
	return d.handler.HandleTrigger(evt)
}
