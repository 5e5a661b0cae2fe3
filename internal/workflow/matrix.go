package workflow

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Matrix declares named axes whose value lists expand into one job per
// combination. Include entries add combinations, exclude entries remove
// them. Expansion is deterministic: axes are walked in sorted name order.
type Matrix struct {
	Axes    map[string][]string
	Include []Entry
	Exclude []Entry
}

// Entry is one concrete matrix combination (axis name -> value).
type Entry map[string]string

// IsZero reports whether the template declared no matrix at all.
func (m Matrix) IsZero() bool {
	return len(m.Axes) == 0 && len(m.Include) == 0 && len(m.Exclude) == 0
}

// Clone returns a deep copy of the matrix.
func (m Matrix) Clone() Matrix {
	clone := Matrix{}
	if len(m.Axes) > 0 {
		clone.Axes = make(map[string][]string, len(m.Axes))
		for axis, values := range m.Axes {
			clone.Axes[axis] = cloneStringSlice(values)
		}
	}
	clone.Include = cloneEntries(m.Include)
	clone.Exclude = cloneEntries(m.Exclude)
	return clone
}

// Clone returns a copy of the entry.
func (e Entry) Clone() Entry {
	if len(e) == 0 {
		return nil
	}
	clone := make(Entry, len(e))
	for axis, value := range e {
		clone[axis] = value
	}
	return clone
}

// Slug renders the entry as a filesystem- and ID-safe suffix, axes in sorted
// order ("python-3.10" or "os-linux-python-3.10").
func (e Entry) Slug() string {
	if len(e) == 0 {
		return ""
	}
	axes := make([]string, 0, len(e))
	for axis := range e {
		axes = append(axes, axis)
	}
	sort.Strings(axes)
	parts := make([]string, 0, len(axes))
	for _, axis := range axes {
		parts = append(parts, sanitizeSlug(axis)+"-"+sanitizeSlug(e[axis]))
	}
	return strings.Join(parts, "-")
}

// Equal reports whether two entries assign identical values to identical axes.
func (e Entry) Equal(other Entry) bool {
	if len(e) != len(other) {
		return false
	}
	for axis, value := range e {
		if other[axis] != value {
			return false
		}
	}
	return true
}

// subsetOf reports whether every assignment in e appears in other.
func (e Entry) subsetOf(other Entry) bool {
	for axis, value := range e {
		if other[axis] != value {
			return false
		}
	}
	return true
}

// Validate rejects empty axes and malformed include/exclude entries.
func (m Matrix) Validate() error {
	for axis, values := range m.Axes {
		if strings.TrimSpace(axis) == "" {
			return fmt.Errorf("matrix axis name is required")
		}
		if len(values) == 0 {
			return fmt.Errorf("matrix axis %s has no values", axis)
		}
	}
	for i, entry := range m.Include {
		if len(entry) == 0 {
			return fmt.Errorf("matrix include[%d] is empty", i)
		}
	}
	for i, entry := range m.Exclude {
		if len(entry) == 0 {
			return fmt.Errorf("matrix exclude[%d] is empty", i)
		}
	}
	return nil
}

// Expand produces the concrete entries: the sorted cartesian product of all
// axes, minus exclusions, plus explicit includes. Calling Expand twice on the
// same matrix yields the same slice in the same order.
func (m Matrix) Expand() []Entry {
	if m.IsZero() {
		return []Entry{nil}
	}
	axes := make([]string, 0, len(m.Axes))
	for axis := range m.Axes {
		axes = append(axes, axis)
	}
	sort.Strings(axes)

	product := []Entry{{}}
	for _, axis := range axes {
		next := make([]Entry, 0, len(product)*len(m.Axes[axis]))
		for _, base := range product {
			for _, value := range m.Axes[axis] {
				entry := base.Clone()
				if entry == nil {
					entry = Entry{}
				}
				entry[axis] = value
				next = append(next, entry)
			}
		}
		product = next
	}

	kept := make([]Entry, 0, len(product))
	for _, entry := range product {
		if m.excluded(entry) {
			continue
		}
		kept = append(kept, entry)
	}
	for _, include := range m.Include {
		duplicate := false
		for _, existing := range kept {
			if existing.Equal(include) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, include.Clone())
		}
	}
	return kept
}

func (m Matrix) excluded(entry Entry) bool {
	for _, exclude := range m.Exclude {
		if exclude.subsetOf(entry) {
			return true
		}
	}
	return false
}

// UnmarshalYAML decodes matrix axes while preserving the literal scalar text
// of values, so an unquoted version like 3.10 stays "3.10" instead of
// collapsing to the float 3.1.
func (m *Matrix) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("matrix must be a map of axes")
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		key := strings.TrimSpace(value.Content[i].Value)
		val := value.Content[i+1]
		switch key {
		case "include":
			entries, err := decodeEntryList(val)
			if err != nil {
				return fmt.Errorf("matrix include: %w", err)
			}
			m.Include = entries
		case "exclude":
			entries, err := decodeEntryList(val)
			if err != nil {
				return fmt.Errorf("matrix exclude: %w", err)
			}
			m.Exclude = entries
		default:
			values, err := decodeScalarList(val)
			if err != nil {
				return fmt.Errorf("matrix axis %s: %w", key, err)
			}
			if m.Axes == nil {
				m.Axes = map[string][]string{}
			}
			m.Axes[key] = values
		}
	}
	return nil
}

func decodeScalarList(node *yaml.Node) ([]string, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		return []string{node.Value}, nil
	case yaml.SequenceNode:
		values := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("axis values must be scalars")
			}
			values = append(values, item.Value)
		}
		return values, nil
	default:
		return nil, fmt.Errorf("axis values must be a scalar or list")
	}
}

func decodeEntryList(node *yaml.Node) ([]Entry, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("expected a list of entries")
	}
	entries := make([]Entry, 0, len(node.Content))
	for _, item := range node.Content {
		if item.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("entries must be maps")
		}
		entry := Entry{}
		for i := 0; i+1 < len(item.Content); i += 2 {
			axis := strings.TrimSpace(item.Content[i].Value)
			valNode := item.Content[i+1]
			if valNode.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("entry values must be scalars")
			}
			entry[axis] = valNode.Value
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func cloneEntries(entries []Entry) []Entry {
	if len(entries) == 0 {
		return nil
	}
	out := make([]Entry, len(entries))
	for i, entry := range entries {
		out[i] = entry.Clone()
	}
	return out
}

var slugReplacer = strings.NewReplacer("/", "-", " ", "-", ":", "-")

func sanitizeSlug(s string) string {
	return slugReplacer.Replace(strings.TrimSpace(s))
}
