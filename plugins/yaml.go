package plugins

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseDefinitionYAML decodes one provider definition from YAML.
func ParseDefinitionYAML(data []byte) (ProviderDefinition, error) {
	var def ProviderDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return ProviderDefinition{}, fmt.Errorf("plugins: parse definition: %w", err)
	}
	def = def.Normalized()
	if err := def.Validate(); err != nil {
		return ProviderDefinition{}, err
	}
	return def, nil
}

// LoadYAMLDefinitionDir reads every .yaml/.yml file in dir as a provider
// definition. A missing directory is not an error; a project without plugins
// is the common case.
func LoadYAMLDefinitionDir(dir string) ([]DefinitionFile, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(trimmed)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("plugins: read %s: %w", trimmed, err)
	}
	var defs []DefinitionFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(trimmed, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("plugins: read %s: %w", path, err)
		}
		def, err := ParseDefinitionYAML(data)
		if err != nil {
			return nil, fmt.Errorf("plugins: %s: %w", path, err)
		}
		defs = append(defs, DefinitionFile{Definition: def, Path: path})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Path < defs[j].Path })
	return defs, nil
}
