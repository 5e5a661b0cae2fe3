package step

import (
	"context"
	"fmt"

	"github.com/conveyorci/conveyor/internal/secret"
)

// SecretFileProvider writes a declared secret's value to a file before later
// steps run, the way a CI workflow materializes service credentials. The file
// is created with owner-only permissions.
type SecretFileProvider struct{}

// ID implements Provider.
func (SecretFileProvider) ID() string { return "secret-file" }

// Run implements Provider. Arguments:
//
//	secret: name of the declared secret to write (required)
//	path:   destination file, ~ expands to the home directory (required)
//	export: optional environment variable that receives the resolved path
func (SecretFileProvider) Run(ctx context.Context, sc Context) (Result, error) {
	name, err := sc.Arg("secret")
	if err != nil {
		return Result{}, err
	}
	path, err := sc.Arg("path")
	if err != nil {
		return Result{}, err
	}
	value, err := sc.Secret(name)
	if err != nil {
		return Result{}, err
	}
	resolved, err := secret.Materialize(path, value)
	if err != nil {
		return Result{}, fmt.Errorf("step: secret-file: %w", err)
	}
	result := Result{Message: fmt.Sprintf("wrote %s to %s", name, resolved)}
	if export := sc.With["export"]; export != "" {
		result.Exports = map[string]string{export: resolved}
	}
	return result, nil
}
