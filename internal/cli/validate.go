package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/conveyorci/conveyor/internal/workflow/resolver"
)

func newValidateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [workflow...]",
		Short: "Check workflow definitions without running them",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(opts.projectDir)
			if err != nil {
				return err
			}
			defer app.Close()

			defs, err := app.Workflows()
			if err != nil {
				return err
			}
			names := args
			if len(names) == 0 {
				for name := range defs {
					names = append(names, name)
				}
				sort.Strings(names)
			}
			if len(names) == 0 {
				return fmt.Errorf("cli: no workflows found in %s", app.Config.WorkflowsDir())
			}

			for _, name := range names {
				def, ok := defs[name]
				if !ok {
					return fmt.Errorf("cli: workflow %q not found, have: %s", name, joinNames(defs))
				}
				res, err := resolver.New(def)
				if err != nil {
					return fmt.Errorf("cli: workflow %s: %w", name, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d templates, %d jobs)\n",
					name, len(def.Jobs), len(res.Nodes()))
			}
			return nil
		},
	}
}
