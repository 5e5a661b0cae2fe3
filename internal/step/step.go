// Package step defines the execution contract for workflow steps and ships
// the builtin providers: run, checkout, setup-runtime, and secret-file.
package step

import (
	"context"
	"fmt"
	"io"
)

// Context carries everything a provider needs to execute one step of a job.
type Context struct {
	// ProjectDir is the root of the project being built.
	ProjectDir string
	// Workdir is the job's private workspace. Providers run relative to it.
	Workdir string
	// Shell is the interpreter used for run steps, "/bin/sh" by default.
	Shell string
	// Env is the fully assembled process environment for the step.
	Env []string
	// With holds the step's provider arguments, already interpolated.
	With map[string]string
	// Secrets maps declared secret names to their values.
	Secrets map[string]string
	// Stdout and Stderr receive the step's output, typically through a
	// redacting writer.
	Stdout io.Writer
	Stderr io.Writer
}

// Arg returns a required provider argument or an error naming it.
func (c Context) Arg(key string) (string, error) {
	value, ok := c.With[key]
	if !ok || value == "" {
		return "", fmt.Errorf("step: missing required argument %q", key)
	}
	return value, nil
}

// Secret returns a declared secret's value or an error naming it.
func (c Context) Secret(name string) (string, error) {
	value, ok := c.Secrets[name]
	if !ok {
		return "", fmt.Errorf("step: secret %s is not available", name)
	}
	return value, nil
}

// Result captures the outcome of a step execution.
type Result struct {
	// ExitCode is zero on success. Failed commands report their process exit
	// code; provider failures report 1.
	ExitCode int
	// Message is a short human readable summary for logs and reports.
	Message string
	// Exports are environment variables injected into the job's later steps.
	Exports map[string]string
}

// OK reports whether the step succeeded.
func (r Result) OK() bool {
	return r.ExitCode == 0
}

// Provider is implemented by every step runtime unit.
type Provider interface {
	ID() string
	Run(ctx context.Context, sc Context) (Result, error)
}
