// internal/workflow/loader.go
//
// Loads workflow definitions from YAML, either a single file or every
// file in a project's workflows directory.

package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseDefinitionYAML decodes, normalizes and validates a workflow
// definition from raw YAML.
func ParseDefinitionYAML(data []byte) (Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("workflow: parse definition: %w", err)
	}
	normalized, err := def.Normalized()
	if err != nil {
		return Definition{}, fmt.Errorf("workflow: invalid definition: %w", err)
	}
	return normalized, nil
}

// LoadDefinitionFile reads and parses one workflow file. A definition with
// no name takes its file name, minus extension.
func LoadDefinitionFile(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("workflow: read %s: %w", path, err)
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("workflow: parse %s: %w", filepath.Base(path), err)
	}
	if strings.TrimSpace(def.Name) == "" {
		base := filepath.Base(path)
		def.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	normalized, err := def.Normalized()
	if err != nil {
		return Definition{}, fmt.Errorf("workflow: load %s: %w", filepath.Base(path), err)
	}
	return normalized, nil
}

// LoadDefinitionDir loads every .yaml/.yml workflow under dir, keyed by
// workflow name, in sorted file order. Duplicate names are an error.
func LoadDefinitionDir(dir string) (map[string]Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("workflow: read workflows dir %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	defs := make(map[string]Definition, len(names))
	for _, name := range names {
		def, err := LoadDefinitionFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if _, exists := defs[def.Name]; exists {
			return nil, fmt.Errorf("workflow: duplicate workflow name %s", def.Name)
		}
		defs[def.Name] = def
	}
	return defs, nil
}
