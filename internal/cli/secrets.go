package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conveyorci/conveyor/internal/secret"
)

func newSecretsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage the project's secret store",
	}
	cmd.AddCommand(
		newSecretsSetCommand(opts),
		newSecretsListCommand(opts),
		newSecretsUnsetCommand(opts),
	)
	return cmd
}

func newSecretsSetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <name> <value>",
		Short: "Store a secret value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(opts.projectDir)
			if err != nil {
				return err
			}
			defer app.Close()

			store, err := secret.LoadFile(app.Config.SecretsPath())
			if err != nil {
				return err
			}
			store.Set(args[0], args[1])
			if err := store.SaveFile(app.Config.SecretsPath()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "secret %s saved\n", args[0])
			return nil
		},
	}
}

func newSecretsListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored secret names, never their values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(opts.projectDir)
			if err != nil {
				return err
			}
			defer app.Close()

			store, err := app.Secrets()
			if err != nil {
				return err
			}
			names := store.Names()
			if len(names) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no secrets stored")
				return nil
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newSecretsUnsetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unset <name>",
		Short: "Remove a stored secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(opts.projectDir)
			if err != nil {
				return err
			}
			defer app.Close()

			store, err := secret.LoadFile(app.Config.SecretsPath())
			if err != nil {
				return err
			}
			if _, ok := store.Get(args[0]); !ok {
				return fmt.Errorf("cli: secret %s is not stored", args[0])
			}
			store.Delete(args[0])
			if err := store.SaveFile(app.Config.SecretsPath()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "secret %s removed\n", args[0])
			return nil
		},
	}
}
