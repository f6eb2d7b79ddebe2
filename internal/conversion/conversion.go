// Package conversion turns an accepted job into a running encoder process and
// classifies how the attempt ended.
package conversion

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/vertd/internal/ffmpeg"
	"github.com/jmylchreest/vertd/internal/models"
	"github.com/jmylchreest/vertd/internal/storage"
)

// Handle is a running conversion. Kill makes it usable as the job's active
// process in the registry.
type Handle interface {
	// Events yields progress until the encoder exits.
	Events() <-chan ffmpeg.Event
	// Kill stops the encoder. It is idempotent.
	Kill() error
	// Wait blocks until the encoder has exited and classifies the attempt.
	Wait() Outcome
	// TotalFrames returns the source frame count once it has been probed.
	TotalFrames() (uint64, bool)
}

// Outcome describes how a conversion attempt ended.
type Outcome struct {
	State      models.JobState
	OutputSize int64
	ExitErr    error
	Duration   time.Duration
}

// Classify decides the terminal state from the size of the produced output.
// The encoder exit status is not consulted: it reports success for some
// misconfigurations that write nothing.
func Classify(outputSize int64) models.JobState {
	if outputSize > 0 {
		return models.JobStateCompleted
	}
	return models.JobStateFailed
}

type process interface {
	Events() <-chan ffmpeg.Event
	Kill() error
	Wait() error
	PID() int
	StartedAt() time.Time
}

// Conversion is the Handle returned by Service.Start.
type Conversion struct {
	jobID      models.JobID
	proc       process
	workspace  *storage.Workspace
	outputName string
	logger     *slog.Logger

	stopBackground context.CancelFunc

	frames      atomic.Uint64
	framesKnown atomic.Bool

	waitOnce sync.Once
	outcome  Outcome
}

// Events yields progress until the encoder exits.
func (c *Conversion) Events() <-chan ffmpeg.Event {
	return c.proc.Events()
}

// Kill stops the encoder.
func (c *Conversion) Kill() error {
	return c.proc.Kill()
}

// TotalFrames returns the source frame count once it has been probed.
func (c *Conversion) TotalFrames() (uint64, bool) {
	if !c.framesKnown.Load() {
		return 0, false
	}
	return c.frames.Load(), true
}

// PID returns the encoder process id.
func (c *Conversion) PID() int {
	return c.proc.PID()
}

// Wait blocks until the encoder exits, then inspects the output to classify
// the attempt. A missing or empty output is a failure even after a clean exit.
func (c *Conversion) Wait() Outcome {
	c.waitOnce.Do(func() {
		exitErr := c.proc.Wait()
		c.stopBackground()

		size := c.workspace.OutputSize(c.outputName)
		c.outcome = Outcome{
			State:      Classify(size),
			OutputSize: size,
			ExitErr:    exitErr,
			Duration:   time.Since(c.proc.StartedAt()),
		}

		attrs := []any{
			slog.String("job_id", c.jobID.String()),
			slog.String("state", string(c.outcome.State)),
			slog.Int64("output_size", size),
			slog.Duration("duration", c.outcome.Duration),
		}
		if exitErr != nil {
			attrs = append(attrs, slog.String("exit", exitErr.Error()))
		}
		c.logger.Debug("encoder exited", attrs...)
	})
	return c.outcome
}

func (c *Conversion) setTotalFrames(n uint64) {
	c.frames.Store(n)
	c.framesKnown.Store(true)
}

var _ Handle = (*Conversion)(nil)
