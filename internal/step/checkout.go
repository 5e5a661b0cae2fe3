package step

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// CheckoutProvider copies the project tree into the job workspace so jobs
// never mutate the project itself or see each other's edits.
type CheckoutProvider struct{}

// ID implements Provider.
func (CheckoutProvider) ID() string { return "checkout" }

// skipped directories are runtime state, not project sources.
var checkoutSkipDirs = map[string]bool{
	".conveyor": true,
	".git":      true,
}

// Run implements Provider.
func (CheckoutProvider) Run(ctx context.Context, sc Context) (Result, error) {
	if sc.ProjectDir == "" || sc.Workdir == "" {
		return Result{}, fmt.Errorf("step: checkout requires project and workspace directories")
	}
	copied := 0
	err := filepath.WalkDir(sc.ProjectDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, err := filepath.Rel(sc.ProjectDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if entry.IsDir() {
			if checkoutSkipDirs[entry.Name()] {
				return filepath.SkipDir
			}
			return os.MkdirAll(filepath.Join(sc.Workdir, rel), 0o755)
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		if err := copyFile(path, filepath.Join(sc.Workdir, rel)); err != nil {
			return err
		}
		copied++
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("step: checkout: %w", err)
	}
	return Result{Message: fmt.Sprintf("checked out %d files", copied)}, nil
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
