package workflow

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var templateIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Definition declares an executable CI workflow: its triggers, the secrets it
// consumes, and the job templates the engine expands into matrix jobs.
type Definition struct {
	Name    string                 `json:"name" yaml:"name"`
	On      Triggers               `json:"on" yaml:"on"`
	Env     map[string]string      `json:"env,omitempty" yaml:"env,omitempty"`
	Secrets []string               `json:"secrets,omitempty" yaml:"secrets,omitempty"`
	Jobs    map[string]JobTemplate `json:"jobs" yaml:"jobs"`
}

// JobTemplate declares one named job. The engine instantiates it once per
// matrix entry; templates without a matrix produce exactly one job.
type JobTemplate struct {
	Name  string            `json:"name,omitempty" yaml:"name,omitempty"`
	Needs []string          `json:"needs,omitempty" yaml:"needs,omitempty"`
	Env   map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	// Matrix axes expand into the cartesian product of their values.
	Matrix Matrix `json:"matrix,omitempty" yaml:"matrix,omitempty"`
	Steps  []Step `json:"steps" yaml:"steps"`
}

// Step declares one unit of sequential work inside a job. Exactly one of Run
// (a shell command) or Uses (a step provider id) must be set.
type Step struct {
	Name       string            `json:"name,omitempty" yaml:"name,omitempty"`
	Run        string            `json:"run,omitempty" yaml:"run,omitempty"`
	Uses       string            `json:"uses,omitempty" yaml:"uses,omitempty"`
	With       map[string]string `json:"with,omitempty" yaml:"with,omitempty"`
	Env        map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	WorkingDir string            `json:"working_dir,omitempty" yaml:"working_dir,omitempty"`
}

// Label returns a human readable step identifier for logs and reports.
func (s Step) Label(index int) string {
	if s.Name != "" {
		return s.Name
	}
	if s.Uses != "" {
		return s.Uses
	}
	if s.Run != "" {
		fields := strings.Fields(s.Run)
		if len(fields) > 0 {
			return fields[0]
		}
	}
	return fmt.Sprintf("step-%d", index+1)
}

// Validate ensures the step declares exactly one action.
func (s Step) Validate() error {
	hasRun := strings.TrimSpace(s.Run) != ""
	hasUses := strings.TrimSpace(s.Uses) != ""
	if hasRun == hasUses {
		return fmt.Errorf("workflow: step must set exactly one of run or uses")
	}
	return nil
}

// Clone returns a deep copy of the step.
func (s Step) Clone() Step {
	clone := s
	clone.With = cloneStringMap(s.With)
	clone.Env = cloneStringMap(s.Env)
	return clone
}

// Clone returns a deep copy of the job template.
func (t JobTemplate) Clone() JobTemplate {
	clone := JobTemplate{
		Name:   t.Name,
		Needs:  cloneStringSlice(t.Needs),
		Env:    cloneStringMap(t.Env),
		Matrix: t.Matrix.Clone(),
	}
	if len(t.Steps) > 0 {
		clone.Steps = make([]Step, len(t.Steps))
		for i, step := range t.Steps {
			clone.Steps[i] = step.Clone()
		}
	}
	return clone
}

// Clone returns a deep copy of the workflow definition.
func (def Definition) Clone() Definition {
	clone := Definition{
		Name:    def.Name,
		On:      def.On.Clone(),
		Env:     cloneStringMap(def.Env),
		Secrets: cloneStringSlice(def.Secrets),
	}
	if len(def.Jobs) > 0 {
		clone.Jobs = make(map[string]JobTemplate, len(def.Jobs))
		for id, tpl := range def.Jobs {
			clone.Jobs[id] = tpl.Clone()
		}
	}
	return clone
}

// TemplateIDs returns the job template identifiers in sorted order so every
// expansion of the same definition sees the same sequence.
func (def Definition) TemplateIDs() []string {
	ids := make([]string, 0, len(def.Jobs))
	for id := range def.Jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HasSecret reports whether the workflow declares the named secret.
func (def Definition) HasSecret(name string) bool {
	for _, declared := range def.Secrets {
		if declared == name {
			return true
		}
	}
	return false
}

// Validate ensures the workflow definition is self-consistent.
func (def Definition) Validate() error {
	if strings.TrimSpace(def.Name) == "" {
		return fmt.Errorf("workflow: name is required")
	}
	if err := def.On.Validate(); err != nil {
		return fmt.Errorf("workflow %s: %w", def.Name, err)
	}
	if len(def.Jobs) == 0 {
		return fmt.Errorf("workflow %s: at least one job is required", def.Name)
	}
	seenSecrets := map[string]struct{}{}
	for _, name := range def.Secrets {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("workflow %s: empty secret name", def.Name)
		}
		if _, dup := seenSecrets[name]; dup {
			return fmt.Errorf("workflow %s: duplicate secret %s", def.Name, name)
		}
		seenSecrets[name] = struct{}{}
	}
	for _, id := range def.TemplateIDs() {
		tpl := def.Jobs[id]
		if !templateIDPattern.MatchString(id) {
			return fmt.Errorf("workflow %s: invalid job id %q", def.Name, id)
		}
		if err := def.validateTemplate(id, tpl); err != nil {
			return err
		}
	}
	return nil
}

func (def Definition) validateTemplate(id string, tpl JobTemplate) error {
	if len(tpl.Steps) == 0 {
		return fmt.Errorf("workflow %s job %s: at least one step is required", def.Name, id)
	}
	seenNeeds := map[string]struct{}{}
	for _, need := range tpl.Needs {
		if need == id {
			return fmt.Errorf("workflow %s job %s: depends on itself", def.Name, id)
		}
		if _, ok := def.Jobs[need]; !ok {
			return fmt.Errorf("workflow %s job %s: needs unknown job %s", def.Name, id, need)
		}
		if _, dup := seenNeeds[need]; dup {
			return fmt.Errorf("workflow %s job %s: duplicate need %s", def.Name, id, need)
		}
		seenNeeds[need] = struct{}{}
	}
	if err := tpl.Matrix.Validate(); err != nil {
		return fmt.Errorf("workflow %s job %s: %w", def.Name, id, err)
	}
	for idx, step := range tpl.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("workflow %s job %s step[%d]: %w", def.Name, id, idx, err)
		}
		if step.Uses == "secret-file" {
			name := strings.TrimSpace(step.With["secret"])
			if name == "" {
				return fmt.Errorf("workflow %s job %s step[%d]: secret-file requires with.secret", def.Name, id, idx)
			}
			if !def.HasSecret(name) {
				return fmt.Errorf("workflow %s job %s step[%d]: secret %s is not declared", def.Name, id, idx, name)
			}
		}
	}
	return nil
}

// Normalized clones the definition, fills derived defaults (job display
// names, sorted needs), and validates the result.
func (def Definition) Normalized() (Definition, error) {
	clone := def.Clone()
	clone.Name = strings.TrimSpace(clone.Name)
	for id, tpl := range clone.Jobs {
		if strings.TrimSpace(tpl.Name) == "" {
			tpl.Name = id
		}
		tpl.Needs = dedupeSorted(tpl.Needs)
		clone.Jobs[id] = tpl
	}
	if err := clone.Validate(); err != nil {
		return Definition{}, err
	}
	return clone, nil
}

func dedupeSorted(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := map[string]struct{}{}
	for _, v := range values {
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func cloneStringSlice(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	clone := make([]string, len(values))
	copy(clone, values)
	return clone
}

func cloneStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	clone := make(map[string]string, len(values))
	for key, value := range values {
		clone[key] = value
	}
	return clone
}
