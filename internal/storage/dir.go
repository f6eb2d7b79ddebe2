// Package storage holds vertd's working directories and the permanent store
// for kept files. Every path is resolved inside a configured directory.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	dirPerm  = 0o750
	filePerm = 0o640
	// tempSuffix marks files that are still being written.
	tempSuffix = ".tmp"
)

// ErrEscapesDir is returned for names that resolve outside their directory.
var ErrEscapesDir = errors.New("path escapes directory")

// Dir is a directory of job artifacts.
type Dir struct {
	path string
}

// OpenDir creates path if needed and returns it as a Dir.
func OpenDir(path string) (*Dir, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, fmt.Errorf("creating %s: %w", abs, err)
	}
	return &Dir{path: abs}, nil
}

// Path returns the absolute directory path.
func (d *Dir) Path() string {
	return d.path
}

// Join returns the absolute path of name. Absolute names and names that
// climb out of the directory are rejected.
func (d *Dir) Join(name string) (string, error) {
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %q", ErrEscapesDir, name)
	}
	return filepath.Join(d.path, name), nil
}

// Sub opens a directory beneath d.
func (d *Dir) Sub(name string) (*Dir, error) {
	p, err := d.Join(name)
	if err != nil {
		return nil, err
	}
	return OpenDir(p)
}

// Exists reports whether name is present.
func (d *Dir) Exists(name string) (bool, error) {
	_, err := d.Stat(name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// Stat returns file info for name.
func (d *Dir) Stat(name string) (os.FileInfo, error) {
	p, err := d.Join(name)
	if err != nil {
		return nil, err
	}
	return os.Stat(p)
}

// Open opens name for reading.
func (d *Dir) Open(name string) (*os.File, error) {
	p, err := d.Join(name)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

// Remove deletes name. A missing file is not an error.
func (d *Dir) Remove(name string) error {
	p, err := d.Join(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", name, err)
	}
	return nil
}

// Entries lists the directory.
func (d *Dir) Entries() ([]os.DirEntry, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", d.path, err)
	}
	return entries, nil
}

// Clear removes everything inside the directory but keeps the directory,
// which may be a mount point.
func (d *Dir) Clear() error {
	entries, err := d.Entries()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(d.path, e.Name())); err != nil {
			return fmt.Errorf("clearing %s: %w", d.path, err)
		}
	}
	return nil
}

// WriteFrom streams r into name and returns the bytes written. The data goes
// to a temporary file that is renamed into place, so name is either absent
// or complete.
func (d *Dir) WriteFrom(name string, r io.Reader) (int64, error) {
	target, err := d.Join(name)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return 0, fmt.Errorf("creating parent of %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*"+tempSuffix)
	if err != nil {
		return 0, fmt.Errorf("creating temporary file: %w", err)
	}
	n, err := io.Copy(tmp, r)
	if err == nil {
		err = tmp.Chmod(filePerm)
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), target)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return n, fmt.Errorf("writing %s: %w", name, err)
	}
	return n, nil
}

// MoveIn moves the file at src into the directory as name. A rename is tried
// first; across filesystems the file is copied and src removed.
func (d *Dir) MoveIn(src, name string) error {
	target, err := d.Join(name)
	if err != nil {
		return err
	}
	if err := os.Rename(src, target); err == nil {
		return nil
	}

	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	_, err = d.WriteFrom(name, f)
	f.Close()
	if err != nil {
		return err
	}
	if err := os.Remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing %s after copy: %w", src, err)
	}
	return nil
}

// isTemp reports whether name is an in-progress write.
func isTemp(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, tempSuffix)
}
