// Package util holds small helpers shared across packages.
package util

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// ErrBinaryNotFound is returned when no candidate location holds the binary.
var ErrBinaryNotFound = errors.New("binary not found")

// executableDir is replaced in tests.
var executableDir = func() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}

// FindBinary locates an executable. An explicit configured path must exist
// and is never second-guessed. Otherwise the path in envVar is tried, then
// name next to the running executable, in the working directory and on PATH.
func FindBinary(name, configured, envVar string) (string, error) {
	if configured != "" {
		if !isExecutable(configured) {
			return "", fmt.Errorf("configured %s binary %s is not executable", name, configured)
		}
		return configured, nil
	}

	for _, candidate := range candidates(name, envVar) {
		if isExecutable(candidate) {
			return candidate, nil
		}
	}
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, name)
}

func candidates(name, envVar string) []string {
	file := name
	if runtime.GOOS == "windows" {
		file += ".exe"
	}

	var out []string
	if envVar != "" {
		if p := os.Getenv(envVar); p != "" {
			out = append(out, p)
		}
	}
	if dir, err := executableDir(); err == nil {
		out = append(out, filepath.Join(dir, file))
	}
	return append(out, filepath.Join(".", file))
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return runtime.GOOS == "windows" || info.Mode()&0o111 != 0
}
