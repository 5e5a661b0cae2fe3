package plugins

import (
	"fmt"

	"github.com/conveyorci/conveyor/internal/step"
)

// Discover loads every provider definition under dir (YAML first, then
// interpreted Go files) and registers the resulting providers into the
// registry. It returns the definitions that were installed.
func Discover(dir string, registry *step.Registry) ([]DefinitionFile, error) {
	if registry == nil {
		return nil, fmt.Errorf("plugins: registry is required")
	}
	yamlDefs, err := LoadYAMLDefinitionDir(dir)
	if err != nil {
		return nil, err
	}
	goDefs, err := LoadGoDefinitionDir(dir)
	if err != nil {
		return nil, err
	}
	defs := append(yamlDefs, goDefs...)

	for _, file := range defs {
		provider, err := NewCommandProvider(file.Definition)
		if err != nil {
			return nil, fmt.Errorf("plugins: %s: %w", file.Path, err)
		}
		if err := registry.Register(provider); err != nil {
			return nil, fmt.Errorf("plugins: %s: %w", file.Path, err)
		}
	}
	return defs, nil
}
