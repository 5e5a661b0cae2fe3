package step

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// RunProvider executes a shell command in the job workspace. It backs both
// explicit `uses: run` steps and the `run:` shorthand.
type RunProvider struct{}

// ID implements Provider.
func (RunProvider) ID() string { return "run" }

// Run implements Provider. The command runs under the configured shell with
// the step's environment; a non-zero exit becomes a failed Result, not an
// error, so the runner can apply its fail-fast policy.
func (RunProvider) Run(ctx context.Context, sc Context) (Result, error) {
	command, err := sc.Arg("command")
	if err != nil {
		return Result{}, err
	}
	shell := sc.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = sc.Workdir
	cmd.Env = sc.Env
	cmd.Stdout = sc.Stdout
	cmd.Stderr = sc.Stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{
				ExitCode: exitErr.ExitCode(),
				Message:  fmt.Sprintf("command exited with status %d", exitErr.ExitCode()),
			}, nil
		}
		return Result{}, fmt.Errorf("step: run command: %w", err)
	}
	return Result{Message: "command succeeded"}, nil
}
