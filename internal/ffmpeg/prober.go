package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/vertd/internal/converter"
)

// Prober reads properties of a source file with ffprobe.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
	output      func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewProber creates a new source prober.
func NewProber(ffprobePath string) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     30 * time.Second,
		output:      commandOutput,
	}
}

// WithTimeout sets the probe timeout. Frame counting decodes the whole
// stream, so long sources need a generous value; zero disables the limit.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	p.timeout = timeout
	return p
}

// Bitrate returns the bitrate of the first video stream. A missing or
// unparsable value yields converter.DefaultBitrate; only a failure to run
// ffprobe is an error.
func (p *Prober) Bitrate(ctx context.Context, path string) (uint64, error) {
	out, err := p.query(ctx, path, "stream=bit_rate")
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(firstLine(out), 10, 64)
	if err != nil || v == 0 {
		return converter.DefaultBitrate, nil
	}
	return v, nil
}

// FrameCount decodes the first video stream and returns its frame count.
func (p *Prober) FrameCount(ctx context.Context, path string) (uint64, error) {
	out, err := p.query(ctx, path, "stream=nb_read_frames", "-count_frames")
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(firstLine(out), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing frame count %q: %w", firstLine(out), err)
	}
	return v, nil
}

// FrameRate returns the real frame rate of the first video stream.
func (p *Prober) FrameRate(ctx context.Context, path string) (float64, error) {
	out, err := p.query(ctx, path, "stream=r_frame_rate")
	if err != nil {
		return 0, err
	}
	fps := parseFramerate(firstLine(out))
	if fps <= 0 {
		return 0, fmt.Errorf("parsing frame rate %q", firstLine(out))
	}
	return fps, nil
}

func (p *Prober) query(ctx context.Context, path, entries string, extra ...string) (string, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	args := []string{"-v", "error"}
	args = append(args, extra...)
	args = append(args,
		"-select_streams", "v:0",
		"-show_entries", entries,
		"-of", "default=nokey=1:noprint_wrappers=1",
		path,
	)

	out, err := p.output(ctx, p.ffprobePath, args...)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("probe timeout after %v", p.timeout)
		}
		// A non-zero exit still produced whatever ffprobe printed.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return string(out), nil
		}
		return "", fmt.Errorf("ffprobe failed: %w", err)
	}
	return string(out), nil
}

func commandOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(line)
}

// parseFramerate parses a framerate string like "30000/1001" or "25/1".
func parseFramerate(fr string) float64 {
	parts := strings.Split(fr, "/")
	if len(parts) != 2 {
		if f, err := strconv.ParseFloat(fr, 64); err == nil {
			return f
		}
		return 0
	}

	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}

	return num / den
}
