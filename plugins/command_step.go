package plugins

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/conveyorci/conveyor/internal/step"
)

// CommandProvider adapts a ProviderDefinition into a step provider. The
// definition's command runs under the job shell with ${with.key} references
// expanded from the step arguments.
type CommandProvider struct {
	def ProviderDefinition
}

// NewCommandProvider validates def and wraps it as a step provider.
func NewCommandProvider(def ProviderDefinition) (CommandProvider, error) {
	def = def.Normalized()
	if err := def.Validate(); err != nil {
		return CommandProvider{}, err
	}
	return CommandProvider{def: def}, nil
}

// Definition returns the backing definition.
func (p CommandProvider) Definition() ProviderDefinition {
	return p.def
}

// ID implements step.Provider.
func (p CommandProvider) ID() string {
	return p.def.ID
}

// Run implements step.Provider. Like the builtin run provider, a non-zero
// exit becomes a failed Result rather than an error.
func (p CommandProvider) Run(ctx context.Context, sc step.Context) (step.Result, error) {
	for _, required := range p.def.Required {
		if _, err := sc.Arg(required); err != nil {
			return step.Result{}, fmt.Errorf("plugins: provider %s: %w", p.def.ID, err)
		}
	}
	command := expandWithRefs(p.def.Command, sc.With)

	shell := sc.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	env := append([]string{}, sc.Env...)
	for key, value := range p.def.Env {
		env = append(env, key+"="+expandWithRefs(value, sc.With))
	}

	var captured bytes.Buffer
	stdout := sc.Stdout
	if len(p.def.Exports) > 0 && stdout != nil {
		stdout = io.MultiWriter(stdout, &captured)
	} else if len(p.def.Exports) > 0 {
		stdout = &captured
	}

	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = sc.Workdir
	cmd.Env = env
	cmd.Stdout = stdout
	cmd.Stderr = sc.Stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return step.Result{
				ExitCode: exitErr.ExitCode(),
				Message:  fmt.Sprintf("%s exited with status %d", p.def.ID, exitErr.ExitCode()),
			}, nil
		}
		return step.Result{}, fmt.Errorf("plugins: run %s: %w", p.def.ID, err)
	}

	result := step.Result{Message: p.def.ID + " succeeded"}
	if len(p.def.Exports) > 0 {
		result.Exports = collectExports(p.def.Exports, captured.String())
	}
	return result, nil
}

// expandWithRefs replaces ${with.key} references with step arguments.
// Unknown references stay verbatim so typos show up in the command output.
func expandWithRefs(s string, with map[string]string) string {
	if !strings.Contains(s, "${with.") {
		return s
	}
	for key, value := range with {
		s = strings.ReplaceAll(s, "${with."+key+"}", value)
	}
	return s
}

// collectExports scans command output for KEY=VALUE lines matching the
// declared export names. Later lines win.
func collectExports(names []string, output string) map[string]string {
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}
	var exports map[string]string
	for _, line := range strings.Split(output, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok || !wanted[key] {
			continue
		}
		if exports == nil {
			exports = map[string]string{}
		}
		exports[key] = value
	}
	return exports
}
