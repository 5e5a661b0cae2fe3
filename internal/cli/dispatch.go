package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conveyorci/conveyor/internal/workflow"
	"github.com/conveyorci/conveyor/internal/workflow/engine"
)

func newDispatchCommand(opts *rootOptions) *cobra.Command {
	var (
		actor       string
		inputs      []string
		maxParallel int
		withTUI     bool
	)
	cmd := &cobra.Command{
		Use:   "dispatch <workflow>",
		Short: "Trigger a workflow that declares a dispatch trigger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(opts.projectDir)
			if err != nil {
				return err
			}
			defer app.Close()

			def, err := app.Workflow(args[0])
			if err != nil {
				return err
			}
			if def.On.Dispatch == nil {
				return fmt.Errorf("cli: workflow %s has no dispatch trigger", def.Name)
			}
			in, err := parseInputs(inputs)
			if err != nil {
				return err
			}
			trigger := engine.TriggerInfo{
				Kind:   "dispatch",
				Actor:  resolveActor(actor),
				Inputs: mergeDispatchInputs(def.On.Dispatch, in),
			}
			return executeRun(cmd, app, def, trigger, runOptions{
				maxParallel: maxParallel,
				withTUI:     withTUI,
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor to attribute the run to")
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "dispatch input as key=value, repeatable")
	cmd.Flags().IntVar(&maxParallel, "max-parallel", 0, "cap concurrent jobs, overrides project config")
	cmd.Flags().BoolVar(&withTUI, "tui", false, "show a live dashboard while the run executes")
	return cmd
}

// mergeDispatchInputs layers provided inputs over the trigger's declared
// defaults.
func mergeDispatchInputs(trigger *workflow.DispatchTrigger, provided map[string]string) map[string]string {
	if trigger == nil || len(trigger.Inputs) == 0 {
		return provided
	}
	merged := make(map[string]string, len(trigger.Inputs)+len(provided))
	for key, value := range trigger.Inputs {
		merged[key] = value
	}
	for key, value := range provided {
		merged[key] = value
	}
	return merged
}
