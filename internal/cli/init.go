package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/conveyorci/conveyor/internal/config"
)

const starterWorkflow = `name: ci

on:
  push:
    branches: [main]
  dispatch: {}

jobs:
  test:
    steps:
      - uses: checkout
      - name: Run tests
        run: echo "replace me with your test command"
`

func newInitCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the .conveyor directory with a starter workflow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			abs, err := filepath.Abs(opts.projectDir)
			if err != nil {
				return err
			}
			if err := config.InitProjectDir(abs); err != nil {
				return err
			}
			cfg, err := config.NewConfig(abs)
			if err != nil {
				return err
			}
			starter := filepath.Join(cfg.WorkflowsDir(), "ci.yaml")
			if _, err := os.Stat(starter); os.IsNotExist(err) {
				if err := os.WriteFile(starter, []byte(starterWorkflow), 0o644); err != nil {
					return fmt.Errorf("cli: write starter workflow: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", starter)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "project initialized at %s\n", cfg.ConveyorProjectDir)
			return nil
		},
	}
}
