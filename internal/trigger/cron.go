package trigger

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/conveyorci/conveyor/internal/workflow"
)

// CronScheduler fires schedule events for workflows with cron triggers.
type CronScheduler struct {
	cron    *cron.Cron
	handler Handler
	logger  Logger
}

// NewCronScheduler builds a scheduler delivering schedule events to handler.
func NewCronScheduler(handler Handler, logger Logger) *CronScheduler {
	if handler == nil {
		handler = HandlerFunc(func(Event) error { return nil })
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &CronScheduler{
		cron:    cron.New(),
		handler: handler,
		logger:  logger,
	}
}

// Add registers every schedule trigger of the definition. Invalid cron
// expressions are rejected before anything is scheduled.
func (c *CronScheduler) Add(def workflow.Definition) error {
	for i, entry := range def.On.Schedule {
		workflowName := def.Name
		_, err := c.cron.AddFunc(entry.Cron, func() {
			c.fire(workflowName)
		})
		if err != nil {
			return fmt.Errorf("trigger: workflow %s schedule[%d] %q: %w", def.Name, i, entry.Cron, err)
		}
	}
	return nil
}

func (c *CronScheduler) fire(workflowName string) {
	evt := Event{Kind: KindSchedule, Workflow: workflowName}
	evt.Normalize()
	evt.Stamp(time.Now())
	if err := c.handler.HandleTrigger(evt); err != nil {
		c.logger.Printf("trigger: schedule %s: %v", workflowName, err)
	}
}

// Start begins dispatching schedule events in a background goroutine.
func (c *CronScheduler) Start() {
	c.cron.Start()
}

// Stop halts scheduling and waits for in-flight jobs to finish.
func (c *CronScheduler) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
}
