package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/conveyorci/conveyor/internal/mq"
	"github.com/conveyorci/conveyor/internal/orchestrator"
	"github.com/conveyorci/conveyor/internal/secret"
	"github.com/conveyorci/conveyor/internal/trigger"
	"github.com/conveyorci/conveyor/internal/workflow"
	"github.com/conveyorci/conveyor/internal/workflow/engine"
)

const serveQueueDepth = 16

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Listen for triggers and run workflows as events arrive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(opts.projectDir)
			if err != nil {
				return err
			}
			defer app.Close()
			app.Logger = app.Logger.WithEcho()
			return serve(cmd.Context(), app)
		},
	}
}

type queuedRun struct {
	def  workflow.Definition
	info engine.TriggerInfo
}

func serve(ctx context.Context, app *App) error {
	defs, err := app.Workflows()
	if err != nil {
		return err
	}
	if len(defs) == 0 {
		return fmt.Errorf("cli: no workflows found in %s", app.Config.WorkflowsDir())
	}
	stack, err := app.Stack(ctx)
	if err != nil {
		return err
	}
	defer stack.Close()
	secrets, err := app.Secrets()
	if err != nil {
		return err
	}

	// Runs execute one at a time; the engine tracks a single active run.
	queue := make(chan queuedRun, serveQueueDepth)
	handler := trigger.HandlerFunc(func(evt trigger.Event) error {
		matched, err := matchWorkflows(defs, evt)
		if err != nil {
			return err
		}
		for _, def := range matched {
			select {
			case queue <- queuedRun{def: def, info: triggerInfo(def, evt)}:
				app.Logger.Printf("queued run of %s for %s event %s", def.Name, evt.Kind, evt.ID)
			default:
				app.Logger.Printf("run queue full, dropping %s event %s", evt.Kind, evt.ID)
				return fmt.Errorf("cli: run queue is full")
			}
		}
		return nil
	})

	go runWorker(ctx, app, stack, secrets, queue)

	cron := trigger.NewCronScheduler(handler, app.Logger)
	for _, def := range defs {
		if len(def.On.Schedule) == 0 {
			continue
		}
		if err := cron.Add(def); err != nil {
			return err
		}
	}
	cron.Start()
	defer cron.Stop()

	for name, def := range defs {
		if def.On.Watch == nil {
			continue
		}
		watcher, err := trigger.NewWatcher(name, handler, app.Logger)
		if err != nil {
			return err
		}
		if err := watcher.Watch(app.Config.ProjectDir, def.On.Watch.Paths); err != nil {
			return err
		}
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				app.Logger.Printf("watcher stopped: %v", err)
			}
		}()
	}

	if stack.MQ != nil {
		if _, err := mq.NewDispatcher(stack.MQ, handler, app.Logger); err != nil {
			return err
		}
		if err := stack.MQ.Run(ctx); err != nil {
			return err
		}
	}

	server := trigger.NewServer(trigger.SettingsFromConfig(app.Config),
		trigger.WithHandler(handler),
		trigger.WithLogger(app.Logger))
	if err := server.Start(ctx); err != nil && !errors.Is(err, trigger.ErrServerDisabled) {
		return err
	}
	if addr := server.Addr(); addr != "" {
		app.Logger.Printf("listening on %s", addr)
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func runWorker(ctx context.Context, app *App, stack *Stack, secrets *secret.Store, queue <-chan queuedRun) {
	for {
		select {
		case <-ctx.Done():
			return
		case next := <-queue:
			state, err := stack.Orchestrator.Execute(ctx, orchestrator.ExecuteRequest{
				Definition:  next.def,
				Trigger:     next.info,
				Secrets:     secrets,
				ProjectDir:  app.Config.ProjectDir,
				Shell:       app.Config.Shell(),
				StepTimeout: app.Config.StepTimeout(),
				MaxParallel: app.Config.MaxParallel(),
			})
			if err != nil {
				app.Logger.Printf("run of %s failed to execute: %v", next.def.Name, err)
				continue
			}
			app.Logger.Printf("run %s finished: %s", state.RunID, state.Status)
		}
	}
}

// matchWorkflows selects the definitions an event should start. A named
// workflow must exist and declare the event's trigger; unnamed events fan out
// to every definition declaring a matching trigger.
func matchWorkflows(defs map[string]workflow.Definition, evt trigger.Event) ([]workflow.Definition, error) {
	if evt.Workflow != "" {
		def, ok := defs[evt.Workflow]
		if !ok {
			return nil, fmt.Errorf("cli: workflow %q not found", evt.Workflow)
		}
		if !accepts(def, evt) {
			return nil, fmt.Errorf("cli: workflow %s has no %s trigger", def.Name, evt.Kind)
		}
		return []workflow.Definition{def}, nil
	}
	var matched []workflow.Definition
	for _, def := range defs {
		if accepts(def, evt) {
			matched = append(matched, def)
		}
	}
	if len(matched) == 0 {
		return nil, fmt.Errorf("cli: no workflow matches %s event", evt.Kind)
	}
	return matched, nil
}

func accepts(def workflow.Definition, evt trigger.Event) bool {
	switch evt.Kind {
	case trigger.KindPush:
		return def.On.Push != nil && def.On.Push.Matches(evt.Branch)
	case trigger.KindDispatch:
		return def.On.Dispatch != nil
	case trigger.KindSchedule:
		return len(def.On.Schedule) > 0
	case trigger.KindWatch:
		return def.On.Watch != nil
	default:
		return false
	}
}

func triggerInfo(def workflow.Definition, evt trigger.Event) engine.TriggerInfo {
	info := engine.TriggerInfo{
		Kind:   string(evt.Kind),
		Branch: evt.Branch,
		Actor:  evt.Actor,
		Inputs: evt.Inputs,
	}
	if evt.Kind == trigger.KindDispatch {
		info.Inputs = mergeDispatchInputs(def.On.Dispatch, evt.Inputs)
	}
	return info
}
