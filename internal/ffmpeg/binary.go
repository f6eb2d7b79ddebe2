// Package ffmpeg wraps the ffmpeg and ffprobe binaries: discovery, hardware
// encoder probing, source probing and running conversions.
package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/jmylchreest/vertd/internal/util"
)

// Environment variables that override binary discovery.
const (
	EnvFFmpegBinary  = "VERTD_FFMPEG_BINARY"
	EnvFFprobeBinary = "VERTD_FFPROBE_BINARY"
)

var versionRegex = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

// BinaryInfo describes the detected ffmpeg installation.
type BinaryInfo struct {
	FFmpegPath     string `json:"ffmpeg_path"`
	FFprobePath    string `json:"ffprobe_path"`
	Version        string `json:"version"`
	MajorVersion   int    `json:"major_version"`
	MinorVersion   int    `json:"minor_version"`
	FFprobeVersion string `json:"ffprobe_version"`
}

// BinaryDetector finds ffmpeg and ffprobe once and caches the result.
type BinaryDetector struct {
	ffmpegPath  string
	ffprobePath string

	mu   sync.RWMutex
	info *BinaryInfo
}

// NewBinaryDetector creates a detector. Empty paths fall back to the
// environment, the working directory and PATH.
func NewBinaryDetector(ffmpegPath, ffprobePath string) *BinaryDetector {
	return &BinaryDetector{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// Detect locates both binaries and reads their versions.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.RLock()
	if d.info != nil {
		info := d.info
		d.mu.RUnlock()
		return info, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	// Double-check after acquiring write lock
	if d.info != nil {
		return d.info, nil
	}

	info, err := d.detect(ctx)
	if err != nil {
		return nil, err
	}
	d.info = info
	return info, nil
}

func (d *BinaryDetector) detect(ctx context.Context) (*BinaryInfo, error) {
	ffmpegPath, err := util.FindBinary("ffmpeg", d.ffmpegPath, EnvFFmpegBinary)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	ffprobePath, err := util.FindBinary("ffprobe", d.ffprobePath, EnvFFprobeBinary)
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found: %w", err)
	}

	info := &BinaryInfo{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath}

	full, major, minor, err := readVersion(ctx, ffmpegPath, "ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("getting ffmpeg version: %w", err)
	}
	info.Version, info.MajorVersion, info.MinorVersion = full, major, minor

	probeFull, _, _, err := readVersion(ctx, ffprobePath, "ffprobe")
	if err != nil {
		return nil, fmt.Errorf("getting ffprobe version: %w", err)
	}
	info.FFprobeVersion = probeFull

	return info, nil
}

func readVersion(ctx context.Context, path, name string) (string, int, int, error) {
	output, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		return "", 0, 0, err
	}
	return parseVersion(string(output), name)
}

// parseVersion reads the version token from output like
// "ffmpeg version n7.1-2-g1234 Copyright ...".
func parseVersion(output, name string) (string, int, int, error) {
	prefix := name + " version"
	for _, line := range strings.Split(output, "\n") {
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 3 {
			break
		}
		var major, minor int
		if m := versionRegex.FindStringSubmatch(parts[2]); len(m) >= 3 {
			major, _ = strconv.Atoi(m[1])
			minor, _ = strconv.Atoi(m[2])
		}
		return parts[2], major, minor, nil
	}
	return "", 0, 0, fmt.Errorf("failed to parse %s version", name)
}
