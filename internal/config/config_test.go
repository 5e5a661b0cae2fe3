package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitProjectDirCreatesLayout(t *testing.T) {
	dir := t.TempDir()
	if err := InitProjectDir(dir); err != nil {
		t.Fatalf("init: %v", err)
	}
	for _, sub := range []string{"workflows", "runs", "logs", "plugins"} {
		info, err := os.Stat(filepath.Join(dir, ConveyorDir, sub))
		if err != nil {
			t.Fatalf("stat %s: %v", sub, err)
		}
		if !info.IsDir() {
			t.Fatalf("%s is not a directory", sub)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, ConveyorDir, "config.yaml")); err != nil {
		t.Fatalf("expected seeded config.yaml: %v", err)
	}
}

func TestNewConfigDefaultsWithoutFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := NewConfig(dir)
	if err != nil {
		t.Fatalf("new config: %v", err)
	}
	if cfg.Shell() != "/bin/sh" {
		t.Fatalf("unexpected default shell %q", cfg.Shell())
	}
	if cfg.MaxParallel() != 0 {
		t.Fatalf("expected unlimited parallelism by default, got %d", cfg.MaxParallel())
	}
	if got, want := cfg.WorkflowsDir(), filepath.Join(dir, ConveyorDir, "workflows"); got != want {
		t.Fatalf("workflows dir = %q, want %q", got, want)
	}
}

func TestNewConfigReadsProjectFile(t *testing.T) {
	dir := t.TempDir()
	if err := InitProjectDir(dir); err != nil {
		t.Fatalf("init: %v", err)
	}
	content := `version: 1
runner:
  max_parallel: 3
  shell: /bin/bash
workflows:
  dir: ci
listener:
  enabled: true
  port: 9000
`
	path := filepath.Join(dir, ConveyorDir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := NewConfig(dir)
	if err != nil {
		t.Fatalf("new config: %v", err)
	}
	if cfg.MaxParallel() != 3 {
		t.Fatalf("max parallel = %d, want 3", cfg.MaxParallel())
	}
	if cfg.Shell() != "/bin/bash" {
		t.Fatalf("shell = %q", cfg.Shell())
	}
	if got, want := cfg.WorkflowsDir(), filepath.Join(dir, "ci"); got != want {
		t.Fatalf("workflows dir = %q, want %q", got, want)
	}
	if !cfg.Project.Listener.Enabled || cfg.Project.Listener.Port != 9000 {
		t.Fatalf("listener settings not applied: %+v", cfg.Project.Listener)
	}
}

func TestNewConfigRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	if err := InitProjectDir(dir); err != nil {
		t.Fatalf("init: %v", err)
	}
	path := filepath.Join(dir, ConveyorDir, "config.yaml")
	if err := os.WriteFile(path, []byte("version: 1\nrunner:\n  max_parallel: -2\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := NewConfig(dir); err == nil {
		t.Fatal("expected error for negative max_parallel")
	}
}
