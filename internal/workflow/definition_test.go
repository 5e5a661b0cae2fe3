package workflow

import (
	"strings"
	"testing"
)

func validDefinition() Definition {
	return Definition{
		Name:    "ci",
		On:      Triggers{Push: &PushTrigger{Branches: []string{"master"}}},
		Secrets: []string{"SERVICE_CREDENTIALS"},
		Jobs: map[string]JobTemplate{
			"test": {
				Matrix: Matrix{Axes: map[string][]string{"python": {"3.6", "3.7"}}},
				Steps: []Step{
					{Uses: "checkout"},
					{Name: "unit tests", Run: "pytest tests/"},
				},
			},
		},
	}
}

func TestDefinitionNormalizedFillsJobNames(t *testing.T) {
	def, err := validDefinition().Normalized()
	if err != nil {
		t.Fatalf("Normalized returned error: %v", err)
	}
	if def.Jobs["test"].Name != "test" {
		t.Fatalf("expected job name to default to id, got %q", def.Jobs["test"].Name)
	}
}

func TestDefinitionValidateRequiresTrigger(t *testing.T) {
	def := validDefinition()
	def.On = Triggers{}
	if err := def.Validate(); err == nil {
		t.Fatal("expected error for definition without triggers")
	}
}

func TestDefinitionValidateRejectsUnknownNeed(t *testing.T) {
	def := validDefinition()
	tpl := def.Jobs["test"]
	tpl.Needs = []string{"lint"}
	def.Jobs["test"] = tpl
	err := def.Validate()
	if err == nil || !strings.Contains(err.Error(), "unknown job") {
		t.Fatalf("expected unknown job error, got %v", err)
	}
}

func TestDefinitionValidateRejectsSelfDependency(t *testing.T) {
	def := validDefinition()
	tpl := def.Jobs["test"]
	tpl.Needs = []string{"test"}
	def.Jobs["test"] = tpl
	if err := def.Validate(); err == nil {
		t.Fatal("expected error for self dependency")
	}
}

func TestDefinitionValidateRejectsUndeclaredSecret(t *testing.T) {
	def := validDefinition()
	tpl := def.Jobs["test"]
	tpl.Steps = append(tpl.Steps, Step{
		Uses: "secret-file",
		With: map[string]string{"secret": "OTHER", "path": "~/creds.json"},
	})
	def.Jobs["test"] = tpl
	err := def.Validate()
	if err == nil || !strings.Contains(err.Error(), "not declared") {
		t.Fatalf("expected undeclared secret error, got %v", err)
	}
}

func TestStepValidateRequiresExactlyOneAction(t *testing.T) {
	if err := (Step{}).Validate(); err == nil {
		t.Fatal("expected error for step with no action")
	}
	if err := (Step{Run: "make", Uses: "checkout"}).Validate(); err == nil {
		t.Fatal("expected error for step with both run and uses")
	}
	if err := (Step{Run: "make"}).Validate(); err != nil {
		t.Fatalf("run step should validate, got %v", err)
	}
}

func TestStepLabel(t *testing.T) {
	if got := (Step{Name: "unit tests"}).Label(0); got != "unit tests" {
		t.Fatalf("expected name label, got %q", got)
	}
	if got := (Step{Uses: "checkout"}).Label(0); got != "checkout" {
		t.Fatalf("expected uses label, got %q", got)
	}
	if got := (Step{Run: "pytest tests/"}).Label(2); got != "pytest" {
		t.Fatalf("expected first command word, got %q", got)
	}
	if got := (Step{}).Label(2); got != "step-3" {
		t.Fatalf("expected positional label, got %q", got)
	}
}

func TestDefinitionCloneIsIndependent(t *testing.T) {
	def := validDefinition()
	clone := def.Clone()
	tpl := clone.Jobs["test"]
	tpl.Steps[0].Uses = "something-else"
	clone.Jobs["test"] = tpl
	clone.Secrets[0] = "CHANGED"

	if def.Jobs["test"].Steps[0].Uses != "checkout" {
		t.Fatal("clone mutation leaked into original steps")
	}
	if def.Secrets[0] != "SERVICE_CREDENTIALS" {
		t.Fatal("clone mutation leaked into original secrets")
	}
}

func TestTriggersUnmarshalShortForm(t *testing.T) {
	def, err := ParseDefinitionYAML([]byte(`
name: ci
on: [push, dispatch]
jobs:
  test:
    steps:
      - run: pytest
`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if def.On.Push == nil || def.On.Dispatch == nil {
		t.Fatalf("expected push and dispatch enabled, got %+v", def.On)
	}
	if !def.On.Push.Matches("any-branch") {
		t.Fatal("short-form push should match every branch")
	}
}

func TestTriggersUnmarshalMapForm(t *testing.T) {
	def, err := ParseDefinitionYAML([]byte(`
name: ci
on:
  push:
    branches: [master, dev]
  dispatch:
  schedule:
    - cron: "0 4 * * *"
jobs:
  test:
    steps:
      - run: pytest
`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !def.On.Push.Matches("master") || def.On.Push.Matches("feature/x") {
		t.Fatalf("branch filter not applied: %+v", def.On.Push)
	}
	if def.On.Dispatch == nil {
		t.Fatal("null dispatch value should enable the trigger")
	}
	if len(def.On.Schedule) != 1 || def.On.Schedule[0].Cron != "0 4 * * *" {
		t.Fatalf("unexpected schedule: %+v", def.On.Schedule)
	}
}

func TestTriggersUnmarshalRejectsUnknown(t *testing.T) {
	_, err := ParseDefinitionYAML([]byte(`
name: ci
on: [teleport]
jobs:
  test:
    steps:
      - run: pytest
`))
	if err == nil {
		t.Fatal("expected error for unknown trigger")
	}
}
