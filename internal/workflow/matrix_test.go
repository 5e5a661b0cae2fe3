package workflow

import (
	"reflect"
	"testing"
)

func TestMatrixExpandIsDeterministic(t *testing.T) {
	m := Matrix{Axes: map[string][]string{
		"python": {"3.6", "3.7", "3.8", "3.9", "3.10"},
	}}
	first := m.Expand()
	second := m.Expand()
	if len(first) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(first))
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("repeated expansion produced a different sequence")
	}
	if first[4]["python"] != "3.10" {
		t.Fatalf("axis order not preserved: %+v", first)
	}
}

func TestMatrixExpandCartesianProduct(t *testing.T) {
	m := Matrix{Axes: map[string][]string{
		"os":     {"linux", "darwin"},
		"python": {"3.9", "3.10"},
	}}
	entries := m.Expand()
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	// Axes iterate in sorted name order, so os varies slowest.
	want := Entry{"os": "linux", "python": "3.9"}
	if !entries[0].Equal(want) {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
}

func TestMatrixExpandExcludeAndInclude(t *testing.T) {
	m := Matrix{
		Axes: map[string][]string{
			"os":     {"linux", "darwin"},
			"python": {"3.9", "3.10"},
		},
		Exclude: []Entry{{"os": "darwin", "python": "3.9"}},
		Include: []Entry{{"os": "windows", "python": "3.10"}},
	}
	entries := m.Expand()
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries after exclude+include, got %d", len(entries))
	}
	for _, entry := range entries {
		if entry["os"] == "darwin" && entry["python"] == "3.9" {
			t.Fatal("excluded combination still present")
		}
	}
	last := entries[len(entries)-1]
	if last["os"] != "windows" {
		t.Fatalf("include entry missing, got %+v", last)
	}
}

func TestMatrixExpandWithoutAxes(t *testing.T) {
	entries := Matrix{}.Expand()
	if len(entries) != 1 || entries[0] != nil {
		t.Fatalf("empty matrix should expand to one nil entry, got %+v", entries)
	}
}

func TestMatrixUnmarshalPreservesVersionStrings(t *testing.T) {
	def, err := ParseDefinitionYAML([]byte(`
name: ci
on: [push]
jobs:
  test:
    matrix:
      python: [3.6, 3.7, 3.8, 3.9, 3.10]
    steps:
      - run: pytest
`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	values := def.Jobs["test"].Matrix.Axes["python"]
	if len(values) != 5 || values[4] != "3.10" {
		t.Fatalf("version scalars mangled: %+v", values)
	}
}

func TestEntrySlug(t *testing.T) {
	entry := Entry{"python": "3.10", "os": "linux"}
	if got := entry.Slug(); got != "os-linux-python-3.10" {
		t.Fatalf("unexpected slug %q", got)
	}
	if got := (Entry{}).Slug(); got != "" {
		t.Fatalf("empty entry should have empty slug, got %q", got)
	}
}

func TestInterpolate(t *testing.T) {
	vars := Vars{
		Matrix:  Entry{"python": "3.9"},
		Env:     map[string]string{"HOME": "/home/ci"},
		Secrets: map[string]string{"TOKEN": "s3cret"},
	}
	got := Interpolate("python${matrix.python} in ${env.HOME} with ${secrets.TOKEN}", vars)
	want := "python3.9 in /home/ci with s3cret"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestInterpolateLeavesUnknownReferences(t *testing.T) {
	got := Interpolate("keep ${matrix.missing} and ${nope}", Vars{})
	if got != "keep ${matrix.missing} and ${nope}" {
		t.Fatalf("unknown references were rewritten: %q", got)
	}
}
