package workflow

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Triggers declares which events start a workflow run.
type Triggers struct {
	Push     *PushTrigger      `json:"push,omitempty" yaml:"push,omitempty"`
	Dispatch *DispatchTrigger  `json:"dispatch,omitempty" yaml:"dispatch,omitempty"`
	Schedule []ScheduleTrigger `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Watch    *WatchTrigger     `json:"watch,omitempty" yaml:"watch,omitempty"`
}

// PushTrigger starts a run when a push event arrives. An empty branch list
// accepts pushes to any branch.
type PushTrigger struct {
	Branches []string `json:"branches,omitempty" yaml:"branches,omitempty"`
}

// DispatchTrigger starts a run on explicit request (CLI, HTTP, or MQ).
// Inputs declare accepted parameters and their default values.
type DispatchTrigger struct {
	Inputs map[string]string `json:"inputs,omitempty" yaml:"inputs,omitempty"`
}

// ScheduleTrigger starts runs on a cron expression.
type ScheduleTrigger struct {
	Cron string `json:"cron" yaml:"cron"`
}

// WatchTrigger starts a run when watched paths change on disk.
type WatchTrigger struct {
	Paths []string `json:"paths,omitempty" yaml:"paths,omitempty"`
}

// Matches reports whether a push to branch satisfies the trigger's filter.
func (t *PushTrigger) Matches(branch string) bool {
	if t == nil {
		return false
	}
	if len(t.Branches) == 0 {
		return true
	}
	for _, candidate := range t.Branches {
		if candidate == branch {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the trigger set.
func (t Triggers) Clone() Triggers {
	clone := Triggers{}
	if t.Push != nil {
		clone.Push = &PushTrigger{Branches: cloneStringSlice(t.Push.Branches)}
	}
	if t.Dispatch != nil {
		clone.Dispatch = &DispatchTrigger{Inputs: cloneStringMap(t.Dispatch.Inputs)}
	}
	if len(t.Schedule) > 0 {
		clone.Schedule = make([]ScheduleTrigger, len(t.Schedule))
		copy(clone.Schedule, t.Schedule)
	}
	if t.Watch != nil {
		clone.Watch = &WatchTrigger{Paths: cloneStringSlice(t.Watch.Paths)}
	}
	return clone
}

// Validate ensures at least one trigger is declared and each is well formed.
func (t Triggers) Validate() error {
	if t.Push == nil && t.Dispatch == nil && len(t.Schedule) == 0 && t.Watch == nil {
		return fmt.Errorf("at least one trigger is required under on")
	}
	for i, entry := range t.Schedule {
		if strings.TrimSpace(entry.Cron) == "" {
			return fmt.Errorf("schedule[%d]: cron expression is required", i)
		}
	}
	return nil
}

// UnmarshalYAML accepts both the short form
//
//	on: [push, dispatch]
//
// and the map form where a trigger key with a null value enables the trigger
// with defaults:
//
//	on:
//	  push:
//	    branches: [master]
//	  dispatch:
func (t *Triggers) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		for _, item := range value.Content {
			name := strings.TrimSpace(item.Value)
			if err := t.enable(name); err != nil {
				return err
			}
		}
		return nil
	case yaml.MappingNode:
		for i := 0; i+1 < len(value.Content); i += 2 {
			key := strings.TrimSpace(value.Content[i].Value)
			val := value.Content[i+1]
			if err := t.decodeEntry(key, val); err != nil {
				return err
			}
		}
		return nil
	case yaml.ScalarNode:
		if value.Tag == "!!null" {
			return fmt.Errorf("workflow: on must declare at least one trigger")
		}
		return t.enable(strings.TrimSpace(value.Value))
	default:
		return fmt.Errorf("workflow: on must be a trigger name, list, or map")
	}
}

func (t *Triggers) enable(name string) error {
	switch name {
	case "push":
		t.Push = &PushTrigger{}
	case "dispatch":
		t.Dispatch = &DispatchTrigger{}
	case "watch":
		t.Watch = &WatchTrigger{}
	default:
		return fmt.Errorf("workflow: unknown trigger %q", name)
	}
	return nil
}

func (t *Triggers) decodeEntry(key string, value *yaml.Node) error {
	isNull := value.Kind == yaml.ScalarNode && value.Tag == "!!null"
	switch key {
	case "push":
		t.Push = &PushTrigger{}
		if !isNull {
			return value.Decode(t.Push)
		}
	case "dispatch":
		t.Dispatch = &DispatchTrigger{}
		if !isNull {
			return value.Decode(t.Dispatch)
		}
	case "schedule":
		if isNull {
			return fmt.Errorf("workflow: schedule requires cron entries")
		}
		return value.Decode(&t.Schedule)
	case "watch":
		t.Watch = &WatchTrigger{}
		if !isNull {
			return value.Decode(t.Watch)
		}
	default:
		return fmt.Errorf("workflow: unknown trigger %q", key)
	}
	return nil
}
