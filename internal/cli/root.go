package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// ExitError carries a process exit status out of a command without treating
// a failed run as a usage error.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

type rootOptions struct {
	projectDir string
}

// NewRootCommand builds the conveyor command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "conveyor",
		Short:         "conveyor runs CI workflows on your own machine",
		Long:          "conveyor reads workflow definitions from .conveyor/workflows and runs their jobs locally, with matrix expansion, secrets, and per-step logs.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.projectDir, "project", "p", ".", "project directory containing .conveyor")

	root.AddCommand(
		newInitCommand(opts),
		newRunCommand(opts),
		newValidateCommand(opts),
		newDispatchCommand(opts),
		newServeCommand(opts),
		newSecretsCommand(opts),
	)
	return root
}

// ExitCodeFor maps a command error to a process exit status, printing
// anything that is not a plain run failure.
func ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	fmt.Fprintf(os.Stderr, "conveyor: %v\n", err)
	return 1
}

// parseInputs converts repeated key=value flags into a map.
func parseInputs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	inputs := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("cli: input %q must be key=value", pair)
		}
		inputs[strings.TrimSpace(key)] = value
	}
	return inputs, nil
}
