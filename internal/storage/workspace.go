package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Workspace holds the input and output directories that conversions read
// from and write to. Files in either directory are named by job id and format.
type Workspace struct {
	Input  *Dir
	Output *Dir
}

// NewWorkspace creates the input and output directories beneath baseDir.
// When reset is true both directories are emptied, discarding artifacts left
// by a previous run.
func NewWorkspace(baseDir, inputDir, outputDir string, reset bool) (*Workspace, error) {
	root, err := OpenDir(baseDir)
	if err != nil {
		return nil, err
	}

	input, err := root.Sub(inputDir)
	if err != nil {
		return nil, fmt.Errorf("input directory: %w", err)
	}
	output, err := root.Sub(outputDir)
	if err != nil {
		return nil, fmt.Errorf("output directory: %w", err)
	}

	if reset {
		if err := input.Clear(); err != nil {
			return nil, err
		}
		if err := output.Clear(); err != nil {
			return nil, err
		}
	}

	return &Workspace{Input: input, Output: output}, nil
}

// InputPath returns the absolute path of an input file.
func (w *Workspace) InputPath(name string) (string, error) {
	return w.Input.Join(name)
}

// OutputPath returns the absolute path of an output file.
func (w *Workspace) OutputPath(name string) (string, error) {
	return w.Output.Join(name)
}

// RemoveInput deletes an input file. A missing file is not an error.
func (w *Workspace) RemoveInput(name string) error {
	return w.Input.Remove(name)
}

// RemoveOutput deletes an output file. A missing file is not an error.
func (w *Workspace) RemoveOutput(name string) error {
	return w.Output.Remove(name)
}

// OutputSize returns the size of an output file, or 0 if it does not exist.
func (w *Workspace) OutputSize(name string) int64 {
	info, err := w.Output.Stat(name)
	if err != nil {
		return 0
	}
	return info.Size()
}

// StaleFile is a workspace file found by Stale.
type StaleFile struct {
	Dir     string
	Name    string
	ModTime time.Time
}

// Stale lists files in both directories that were last modified before
// cutoff. Temporary files from in-progress writes are skipped.
func (w *Workspace) Stale(cutoff time.Time, logger *slog.Logger) []StaleFile {
	var stale []StaleFile
	for _, sb := range []*Dir{w.Input, w.Output} {
		entries, err := sb.Entries()
		if err != nil {
			logger.Warn("listing workspace directory failed",
				slog.String("dir", sb.Path()),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || isTemp(entry.Name()) {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				if !os.IsNotExist(err) {
					logger.Debug("stat failed", slog.String("name", entry.Name()), slog.String("error", err.Error()))
				}
				continue
			}
			if info.ModTime().Before(cutoff) {
				stale = append(stale, StaleFile{Dir: sb.Path(), Name: entry.Name(), ModTime: info.ModTime()})
			}
		}
	}
	return stale
}

// Remove deletes a previously listed stale file.
func (w *Workspace) Remove(f StaleFile) error {
	switch f.Dir {
	case w.Input.Path():
		return w.Input.Remove(f.Name)
	case w.Output.Path():
		return w.Output.Remove(f.Name)
	default:
		return fmt.Errorf("file %s is outside the workspace", filepath.Join(f.Dir, f.Name))
	}
}
