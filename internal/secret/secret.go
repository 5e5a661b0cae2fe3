// Package secret sources named credentials for workflow runs and keeps their
// values out of captured output. Secrets come from the process environment
// (CONVEYOR_SECRET_<NAME>) or the project secrets file, are exposed to steps
// as environment variables, and can be materialized to a file path for tools
// that read credentials from disk.
package secret

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix marks process environment variables that carry secret values.
const EnvPrefix = "CONVEYOR_SECRET_"

// Store holds named secret values for the duration of a run.
type Store struct {
	values map[string]string
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{values: map[string]string{}}
}

// FromEnvironment collects secrets from environ entries carrying EnvPrefix.
// The prefix is stripped from the resulting names.
func FromEnvironment(environ []string) *Store {
	store := NewStore()
	for _, entry := range environ {
		if !strings.HasPrefix(entry, EnvPrefix) {
			continue
		}
		kv := strings.SplitN(strings.TrimPrefix(entry, EnvPrefix), "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			continue
		}
		store.values[kv[0]] = kv[1]
	}
	return store
}

// LoadFile reads a YAML map of secret names to values. A missing file yields
// an empty store so projects without secrets work unchanged.
func LoadFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewStore(), nil
		}
		return nil, fmt.Errorf("secret: read %s: %w", path, err)
	}
	var parsed map[string]string
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("secret: parse %s: %w", path, err)
	}
	store := NewStore()
	for name, value := range parsed {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		store.values[name] = value
	}
	return store, nil
}

// SaveFile persists the store as a YAML map with owner-only permissions.
func (s *Store) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("secret: ensure dir for %s: %w", path, err)
	}
	data, err := yaml.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("secret: encode secrets: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("secret: write %s: %w", path, err)
	}
	return nil
}

// Merge overlays the other store's values onto a copy of this one. Values in
// other win on name collisions.
func (s *Store) Merge(other *Store) *Store {
	merged := NewStore()
	if s != nil {
		for name, value := range s.values {
			merged.values[name] = value
		}
	}
	if other != nil {
		for name, value := range other.values {
			merged.values[name] = value
		}
	}
	return merged
}

// Set records a secret value.
func (s *Store) Set(name, value string) {
	if s.values == nil {
		s.values = map[string]string{}
	}
	s.values[name] = value
}

// Delete removes a secret by name.
func (s *Store) Delete(name string) {
	if s == nil {
		return
	}
	delete(s.values, name)
}

// Get returns a secret value by name.
func (s *Store) Get(name string) (string, bool) {
	if s == nil {
		return "", false
	}
	value, ok := s.values[name]
	return value, ok
}

// Names returns the declared secret names in sorted order.
func (s *Store) Names() []string {
	if s == nil || len(s.values) == 0 {
		return nil
	}
	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Values returns every secret value. Used to seed redactors; never logged.
func (s *Store) Values() []string {
	if s == nil || len(s.values) == 0 {
		return nil
	}
	values := make([]string, 0, len(s.values))
	for _, value := range s.values {
		values = append(values, value)
	}
	sort.Strings(values)
	return values
}

// Materialize writes a secret value to path with mode 0600, creating parent
// directories as needed. A leading ~ expands to the current home directory.
func Materialize(path, value string) (string, error) {
	expanded, err := ExpandHome(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o700); err != nil {
		return "", fmt.Errorf("secret: ensure dir for %s: %w", expanded, err)
	}
	if err := os.WriteFile(expanded, []byte(value), 0o600); err != nil {
		return "", fmt.Errorf("secret: write %s: %w", expanded, err)
	}
	return expanded, nil
}

// ExpandHome resolves a leading ~/ against the current user's home directory.
func ExpandHome(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("secret: path is required")
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("secret: resolve home dir: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(trimmed, "~")), nil
	}
	return filepath.Clean(trimmed), nil
}
