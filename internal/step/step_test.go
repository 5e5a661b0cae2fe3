package step

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestRegistryBuiltins(t *testing.T) {
	r := Builtins()
	want := []string{"checkout", "run", "secret-file", "setup-runtime"}
	got := r.IDs()
	if len(got) != len(want) {
		t.Fatalf("unexpected builtin set %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected builtin set %v", got)
		}
	}
	if err := r.Register(RunProvider{}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestRunProviderSuccess(t *testing.T) {
	var out bytes.Buffer
	result, err := RunProvider{}.Run(context.Background(), Context{
		Workdir: t.TempDir(),
		With:    map[string]string{"command": "echo hello"},
		Stdout:  &out,
		Stderr:  &out,
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !result.OK() {
		t.Fatalf("expected success, got exit %d", result.ExitCode)
	}
	if out.String() != "hello\n" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestRunProviderReportsExitCode(t *testing.T) {
	result, err := RunProvider{}.Run(context.Background(), Context{
		Workdir: t.TempDir(),
		With:    map[string]string{"command": "exit 3"},
		Stdout:  &bytes.Buffer{},
		Stderr:  &bytes.Buffer{},
	})
	if err != nil {
		t.Fatalf("non-zero exit should not be an error, got %v", err)
	}
	if result.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", result.ExitCode)
	}
}

func TestRunProviderUsesStepEnvironment(t *testing.T) {
	var out bytes.Buffer
	_, err := RunProvider{}.Run(context.Background(), Context{
		Workdir: t.TempDir(),
		Env:     []string{"PATH=/usr/bin:/bin", "GREETING=hi"},
		With:    map[string]string{"command": "echo $GREETING"},
		Stdout:  &out,
		Stderr:  &out,
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if out.String() != "hi\n" {
		t.Fatalf("step env not applied, got %q", out.String())
	}
}

func TestCheckoutCopiesProjectWithoutRuntimeState(t *testing.T) {
	project := t.TempDir()
	workspace := t.TempDir()
	mustWrite(t, filepath.Join(project, "setup.py"), "print('hi')\n")
	mustWrite(t, filepath.Join(project, "tests", "test_basic.py"), "def test(): pass\n")
	mustWrite(t, filepath.Join(project, ".conveyor", "config.yaml"), "runner: {}\n")
	mustWrite(t, filepath.Join(project, ".git", "HEAD"), "ref: refs/heads/master\n")

	result, err := CheckoutProvider{}.Run(context.Background(), Context{
		ProjectDir: project,
		Workdir:    workspace,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if !result.OK() {
		t.Fatalf("expected success, got %+v", result)
	}
	if _, err := os.Stat(filepath.Join(workspace, "tests", "test_basic.py")); err != nil {
		t.Fatalf("project file not copied: %v", err)
	}
	if _, err := os.Stat(filepath.Join(workspace, ".conveyor")); !os.IsNotExist(err) {
		t.Fatal("runtime state directory should not be copied")
	}
	if _, err := os.Stat(filepath.Join(workspace, ".git")); !os.IsNotExist(err) {
		t.Fatal("git directory should not be copied")
	}
}

func TestSetupRuntimePrefersVersionedBinary(t *testing.T) {
	bin := t.TempDir()
	mustWriteExecutable(t, filepath.Join(bin, "python3.10"))
	mustWriteExecutable(t, filepath.Join(bin, "python3"))
	t.Setenv("PATH", bin)

	result, err := SetupRuntimeProvider{}.Run(context.Background(), Context{
		With: map[string]string{"runtime": "python", "version": "3.10"},
	})
	if err != nil {
		t.Fatalf("setup-runtime failed: %v", err)
	}
	if !result.OK() {
		t.Fatalf("expected success, got %+v", result)
	}
	if got := result.Exports["CONVEYOR_RUNTIME"]; got != filepath.Join(bin, "python3.10") {
		t.Fatalf("expected versioned binary, got %q", got)
	}
	if result.Exports["CONVEYOR_RUNTIME_VERSION"] != "3.10" {
		t.Fatalf("version export missing: %+v", result.Exports)
	}
}

func TestSetupRuntimeFallsBackToMajorVersion(t *testing.T) {
	bin := t.TempDir()
	mustWriteExecutable(t, filepath.Join(bin, "python3"))
	t.Setenv("PATH", bin)

	result, err := SetupRuntimeProvider{}.Run(context.Background(), Context{
		With: map[string]string{"runtime": "python", "version": "3.7"},
	})
	if err != nil {
		t.Fatalf("setup-runtime failed: %v", err)
	}
	if got := result.Exports["CONVEYOR_RUNTIME"]; got != filepath.Join(bin, "python3") {
		t.Fatalf("expected major-version fallback, got %q", got)
	}
}

func TestSetupRuntimeFailsWhenMissing(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	result, err := SetupRuntimeProvider{}.Run(context.Background(), Context{
		With: map[string]string{"runtime": "python", "version": "3.6"},
	})
	if err != nil {
		t.Fatalf("missing interpreter should be a failed result, got error %v", err)
	}
	if result.OK() {
		t.Fatal("expected failure when no interpreter exists")
	}
}

func TestSecretFileWritesCredentialAndExportsPath(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "neon", "credentials.json")

	result, err := SecretFileProvider{}.Run(context.Background(), Context{
		With: map[string]string{
			"secret": "SERVICE_CREDENTIALS",
			"path":   target,
			"export": "GOOGLE_APPLICATION_CREDENTIALS",
		},
		Secrets: map[string]string{"SERVICE_CREDENTIALS": `{"token":"abc"}`},
	})
	if err != nil {
		t.Fatalf("secret-file failed: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("credential file not written: %v", err)
	}
	if string(data) != `{"token":"abc"}` {
		t.Fatalf("unexpected credential content %q", data)
	}
	info, err := os.Stat(target)
	if err != nil {
		t.Fatalf("stat credential file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected owner-only permissions, got %v", info.Mode().Perm())
	}
	if result.Exports["GOOGLE_APPLICATION_CREDENTIALS"] != target {
		t.Fatalf("expected exported path, got %+v", result.Exports)
	}
}

func TestSecretFileRejectsUnknownSecret(t *testing.T) {
	_, err := SecretFileProvider{}.Run(context.Background(), Context{
		With:    map[string]string{"secret": "MISSING", "path": filepath.Join(t.TempDir(), "f")},
		Secrets: map[string]string{},
	})
	if err == nil {
		t.Fatal("expected error for unavailable secret")
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func mustWriteExecutable(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write executable: %v", err)
	}
}
