// Package trigger turns external signals into workflow runs: HTTP push and
// dispatch requests, cron schedules, and filesystem watches.
package trigger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind enumerates the ways a run can start.
type Kind string

const (
	KindPush     Kind = "push"
	KindDispatch Kind = "dispatch"
	KindSchedule Kind = "schedule"
	KindWatch    Kind = "watch"
)

// Event is a single trigger occurrence handed to the run pipeline.
type Event struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	Workflow   string            `json:"workflow,omitempty"`
	Branch     string            `json:"branch,omitempty"`
	Actor      string            `json:"actor,omitempty"`
	Inputs     map[string]string `json:"inputs,omitempty"`
	Paths      []string          `json:"paths,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
}

// Normalize applies defaults and canonical formatting before validation.
func (e *Event) Normalize() {
	if e == nil {
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Workflow = strings.TrimSpace(e.Workflow)
	e.Branch = strings.TrimSpace(e.Branch)
	e.Actor = strings.TrimSpace(e.Actor)
}

// Stamp records when the event entered the system.
func (e *Event) Stamp(now time.Time) {
	if e == nil {
		return
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	e.ReceivedAt = now.UTC()
}

// Validate enforces baseline requirements for incoming events.
func (e Event) Validate() error {
	switch e.Kind {
	case KindPush:
		if e.Branch == "" {
			return errors.New("push events require a branch")
		}
	case KindDispatch, KindSchedule, KindWatch:
	case "":
		return errors.New("kind is required")
	default:
		return fmt.Errorf("unknown trigger kind %q", e.Kind)
	}
	return nil
}

// Handler consumes validated trigger events.
type Handler interface {
	HandleTrigger(Event) error
}

// HandlerFunc adapts a function into a Handler.
type HandlerFunc func(Event) error

// HandleTrigger executes f(e).
func (f HandlerFunc) HandleTrigger(e Event) error {
	if f == nil {
		return nil
	}
	return f(e)
}

// Logger records listener status information. It matches logging.Logger's
// signature.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
