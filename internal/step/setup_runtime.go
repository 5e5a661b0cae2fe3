package step

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// SetupRuntimeProvider locates an interpreter for the requested runtime and
// version on the host and exports its path to the rest of the job. It probes
// the most specific binary name first: python3.10, then python3, then python.
type SetupRuntimeProvider struct{}

// ID implements Provider.
func (SetupRuntimeProvider) ID() string { return "setup-runtime" }

// Run implements Provider.
func (SetupRuntimeProvider) Run(ctx context.Context, sc Context) (Result, error) {
	runtime, err := sc.Arg("runtime")
	if err != nil {
		return Result{}, err
	}
	version := sc.With["version"]

	var probed []string
	for _, candidate := range runtimeCandidates(runtime, version) {
		probed = append(probed, candidate)
		path, err := exec.LookPath(candidate)
		if err != nil {
			continue
		}
		exports := map[string]string{
			"CONVEYOR_RUNTIME": path,
		}
		if version != "" {
			exports["CONVEYOR_RUNTIME_VERSION"] = version
		}
		return Result{
			Message: fmt.Sprintf("using %s", path),
			Exports: exports,
		}, nil
	}
	return Result{
		ExitCode: 1,
		Message:  fmt.Sprintf("no %s interpreter found (tried %s)", runtime, strings.Join(probed, ", ")),
	}, nil
}

func runtimeCandidates(runtime, version string) []string {
	if version == "" {
		return []string{runtime}
	}
	candidates := []string{runtime + version}
	if major, _, found := strings.Cut(version, "."); found {
		candidates = append(candidates, runtime+major)
	}
	return append(candidates, runtime)
}
