// Package safefile writes report artifacts without following symlinks or leaving partial files.
package safefile

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const tempPattern = ".predeploy-tmp-*"

// WriteWith renders through fn and stores the result atomically. Nothing is written when fn fails.
func WriteWith(path string, perm os.FileMode, fn func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := fn(&buf); err != nil {
		return err
	}
	return WriteFileAtomic(path, buf.Bytes(), perm)
}

// WriteFileAtomic writes to a temporary file in the target directory, then renames it
// into place. Missing parent directories are created. Symlinked targets and symlinked
// parent directories are refused.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	abs, err := targetPath(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	if err := requireRealDir(dir); err != nil {
		return err
	}
	if err := requireReplaceable(abs); err != nil {
		return err
	}

	tmpPath, err := writeTemp(dir, data, perm)
	if err != nil {
		return err
	}
	if err := os.Rename(tmpPath, abs); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace target file: %w", err)
	}
	return nil
}

func writeTemp(dir string, data []byte, perm os.FileMode) (string, error) {
	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return "", fmt.Errorf("create temporary file: %w", err)
	}
	name := tmp.Name()
	fail := func(step string, err error) (string, error) {
		_ = tmp.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("%s temporary file: %w", step, err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fail("write", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fail("chmod", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("close temporary file: %w", err)
	}
	return name, nil
}

// requireReplaceable accepts a missing path or a regular file.
func requireReplaceable(abs string) error {
	info, err := os.Lstat(abs)
	switch {
	case os.IsNotExist(err):
		return nil
	case err != nil:
		return fmt.Errorf("stat write target: %w", err)
	case info.Mode()&os.ModeSymlink != 0:
		return fmt.Errorf("refusing symlinked file target: %s", abs)
	case info.IsDir():
		return fmt.Errorf("refusing directory write target: %s", abs)
	}
	return nil
}

func requireRealDir(dir string) error {
	info, err := os.Lstat(dir)
	if err != nil {
		return fmt.Errorf("stat path: %w", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("refusing symlinked path: %s", dir)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", dir)
	}
	return nil
}

func targetPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path: %w", err)
	}
	return filepath.Clean(abs), nil
}
