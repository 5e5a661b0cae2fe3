// Package plugins loads third-party step providers from a project's
// .conveyor/plugins directory. Providers can be declared as YAML command
// definitions or as interpreted Go files evaluated with yaegi; either way
// they register into the step registry next to the builtins.
package plugins

import (
	"fmt"
	"regexp"
	"strings"
)

var providerIDPattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// ProviderDefinition describes a command-backed step provider declared by a
// plugin. The struct mirrors the on-disk schema under .conveyor/plugins.
type ProviderDefinition struct {
	// ID is the provider name steps reference via `uses:`.
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string `json:"version,omitempty" yaml:"version,omitempty"`
	// Command is the shell command to execute. ${with.key} references are
	// replaced with the step's arguments before execution.
	Command string `json:"command" yaml:"command"`
	// Env is added to the step environment before the command runs.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	// Required lists `with` arguments the provider refuses to run without.
	Required []string `json:"required,omitempty" yaml:"required,omitempty"`
	// Exports names environment variables to hand to later steps, collected
	// from KEY=VALUE lines the command prints on stdout.
	Exports []string `json:"exports,omitempty" yaml:"exports,omitempty"`
}

// Normalized returns a copy with trimmed fields and empty entries dropped.
func (def ProviderDefinition) Normalized() ProviderDefinition {
	clone := ProviderDefinition{
		ID:          strings.TrimSpace(def.ID),
		Name:        strings.TrimSpace(def.Name),
		Description: strings.TrimSpace(def.Description),
		Version:     strings.TrimSpace(def.Version),
		Command:     strings.TrimSpace(def.Command),
	}
	if len(def.Env) > 0 {
		clone.Env = make(map[string]string, len(def.Env))
		for key, value := range def.Env {
			trimmed := strings.TrimSpace(key)
			if trimmed == "" {
				continue
			}
			clone.Env[trimmed] = value
		}
	}
	for _, arg := range def.Required {
		if trimmed := strings.TrimSpace(arg); trimmed != "" {
			clone.Required = append(clone.Required, trimmed)
		}
	}
	for _, name := range def.Exports {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			clone.Exports = append(clone.Exports, trimmed)
		}
	}
	return clone
}

// Validate reports whether the definition can back a step provider.
func (def ProviderDefinition) Validate() error {
	if def.ID == "" {
		return fmt.Errorf("plugins: provider id is required")
	}
	if !providerIDPattern.MatchString(def.ID) {
		return fmt.Errorf("plugins: provider id %q must match %s", def.ID, providerIDPattern)
	}
	if def.Command == "" {
		return fmt.Errorf("plugins: provider %s has no command", def.ID)
	}
	return nil
}

// DefinitionFile pairs a parsed definition with its source path for error
// reporting and deterministic ordering.
type DefinitionFile struct {
	Definition ProviderDefinition
	Path       string
}
