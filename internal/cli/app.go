// Package cli implements the conveyor command line interface. Each command
// assembles the same core stack: project config, workflow definitions,
// secrets, the step registry with discovered plugins, and the run
// orchestrator on top of the artifact store.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/conveyorci/conveyor/internal/artifact"
	"github.com/conveyorci/conveyor/internal/config"
	"github.com/conveyorci/conveyor/internal/logging"
	"github.com/conveyorci/conveyor/internal/mq"
	"github.com/conveyorci/conveyor/internal/orchestrator"
	"github.com/conveyorci/conveyor/internal/runner"
	"github.com/conveyorci/conveyor/internal/secret"
	"github.com/conveyorci/conveyor/internal/step"
	"github.com/conveyorci/conveyor/internal/workflow"
	"github.com/conveyorci/conveyor/internal/workflow/engine"
	"github.com/conveyorci/conveyor/plugins"
)

// App carries the per-invocation dependency graph for CLI commands.
type App struct {
	Config *config.Config
	Logger *logging.Logger
}

func newApp(projectDir string) (*App, error) {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("cli: resolve project dir: %w", err)
	}
	if err := config.InitProjectDir(abs); err != nil {
		return nil, fmt.Errorf("cli: init project dir: %w", err)
	}
	cfg, err := config.NewConfig(abs)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(abs)
	if err != nil {
		return nil, err
	}
	return &App{Config: cfg, Logger: logger}, nil
}

// Close releases resources held by the app.
func (a *App) Close() error {
	if a.Logger != nil {
		return a.Logger.Close()
	}
	return nil
}

// Workflows loads every definition under the project's workflows directory.
func (a *App) Workflows() (map[string]workflow.Definition, error) {
	return workflow.LoadDefinitionDir(a.Config.WorkflowsDir())
}

// Workflow resolves one definition by name. An empty name falls back to the
// configured default, or to the only workflow when exactly one exists.
func (a *App) Workflow(name string) (workflow.Definition, error) {
	defs, err := a.Workflows()
	if err != nil {
		return workflow.Definition{}, err
	}
	if len(defs) == 0 {
		return workflow.Definition{}, fmt.Errorf("cli: no workflows found in %s", a.Config.WorkflowsDir())
	}
	if name == "" {
		name = a.Config.Project.Workflows.Default
	}
	if name == "" && len(defs) == 1 {
		for only := range defs {
			name = only
		}
	}
	if name == "" {
		return workflow.Definition{}, fmt.Errorf("cli: multiple workflows found, name one of: %s", joinNames(defs))
	}
	def, ok := defs[name]
	if !ok {
		return workflow.Definition{}, fmt.Errorf("cli: workflow %q not found, have: %s", name, joinNames(defs))
	}
	return def, nil
}

func joinNames(defs map[string]workflow.Definition) string {
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	out := ""
	for i, name := range names {
		if i > 0 {
			out += ", "
		}
		out += name
	}
	return out
}

// Secrets merges the project secrets file with CONVEYOR_SECRET_* variables
// from the process environment. Environment values win.
func (a *App) Secrets() (*secret.Store, error) {
	store, err := secret.LoadFile(a.Config.SecretsPath())
	if err != nil {
		return nil, err
	}
	return store.Merge(secret.FromEnvironment(os.Environ())), nil
}

// Registry returns the builtin step providers plus any plugins discovered
// under the project's plugins directory.
func (a *App) Registry() (*step.Registry, error) {
	registry := step.Builtins()
	defs, err := plugins.Discover(a.Config.PluginsDir(), registry)
	if err != nil {
		return nil, err
	}
	for _, def := range defs {
		a.Logger.Printf("plugin provider %s loaded from %s", def.Definition.ID, def.Path)
	}
	return registry, nil
}

// Stack bundles the pieces needed to execute and observe runs.
type Stack struct {
	Store        *artifact.Store
	Engine       *engine.Engine
	Orchestrator *orchestrator.Orchestrator
	// MQ is the broker connection, nil unless the project enables MQ.
	MQ *mq.Connector
}

// Close tears down any broker connection held by the stack.
func (s *Stack) Close() {
	if s.MQ != nil {
		_ = s.MQ.Close()
	}
}

// Stack wires the artifact store, run engine, runner and orchestrator. When
// the project enables MQ, run events are published to the broker as well.
func (a *App) Stack(ctx context.Context) (*Stack, error) {
	store := artifact.NewStore(a.Config.RunsDir())
	repo := engine.NewRepository(a.Config.RunsDir())
	eng, err := engine.New(repo)
	if err != nil {
		return nil, err
	}
	registry, err := a.Registry()
	if err != nil {
		return nil, err
	}
	jobRunner, err := runner.New(registry, store)
	if err != nil {
		return nil, err
	}

	var opts []orchestrator.Option
	stack := &Stack{Store: store, Engine: eng}
	if a.Config.Project.MQ.Enabled {
		connector, notifier, err := a.connectNotifier(ctx)
		if err != nil {
			return nil, err
		}
		opts = append(opts, orchestrator.WithNotifier(notifier))
		stack.MQ = connector
	}

	orch, err := orchestrator.New(eng, jobRunner, store, opts...)
	if err != nil {
		stack.Close()
		return nil, err
	}
	stack.Orchestrator = orch
	return stack, nil
}

func (a *App) connectNotifier(ctx context.Context) (*mq.Connector, orchestrator.Notifier, error) {
	settings := a.Config.Project.MQ
	cfg, err := mq.LoadConfig(settings.ConfigPath, a.Config.ProjectDir)
	if err != nil {
		return nil, nil, err
	}
	connector, err := mq.NewConnector(settings.Service, cfg, mq.WithLogger(a.Logger))
	if err != nil {
		return nil, nil, err
	}
	if err := connector.Connect(ctx); err != nil {
		return nil, nil, err
	}
	exchange := settings.Exchange
	if exchange == "" {
		exchange = "conveyor"
	}
	notifier, err := mq.NewNotifier(connector, exchange, a.Logger)
	if err != nil {
		_ = connector.Close()
		return nil, nil, err
	}
	return connector, notifier, nil
}
