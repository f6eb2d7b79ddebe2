// Package retention schedules the delayed removal of job artifacts and
// registry entries once a job no longer needs them.
package retention

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/vertd/internal/models"
	"github.com/jmylchreest/vertd/internal/registry"
)

// Default retention windows.
const (
	DefaultInputDelay     = 15 * time.Second
	DefaultOutputLifetime = time.Hour
	DefaultUploadLifetime = time.Hour
)

// Timer is a scheduled callback that can be stopped.
type Timer interface {
	Stop() bool
}

// Clock creates timers. Tests replace it to advance time by hand.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// RealClock returns a Clock backed by the time package.
func RealClock() Clock { return realClock{} }

// Files removes job artifacts. A missing file is not an error.
type Files interface {
	RemoveInput(name string) error
	RemoveOutput(name string) error
}

// Config holds the retention windows.
type Config struct {
	// InputDelay is how long an input is kept after its job resolves, leaving
	// a window in which a failed job's input may be kept permanently.
	InputDelay time.Duration
	// OutputLifetime is how long a resolved job and its output stay available.
	OutputLifetime time.Duration
	// UploadLifetime is how long an upload may wait for a conversion to start.
	UploadLifetime time.Duration
}

// DefaultConfig returns the default retention windows.
func DefaultConfig() Config {
	return Config{
		InputDelay:     DefaultInputDelay,
		OutputLifetime: DefaultOutputLifetime,
		UploadLifetime: DefaultUploadLifetime,
	}
}

// Scheduler tracks fire-once cleanup tasks.
type Scheduler struct {
	registry *registry.Registry
	files    Files
	clock    Clock
	config   Config
	logger   *slog.Logger
	onRemove func(id models.JobID)

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]Timer
	stopped bool
}

// NewScheduler creates a scheduler that removes entries from reg and files
// from files.
func NewScheduler(reg *registry.Registry, files Files, config Config) *Scheduler {
	defaults := DefaultConfig()
	if config.InputDelay <= 0 {
		config.InputDelay = defaults.InputDelay
	}
	if config.OutputLifetime <= 0 {
		config.OutputLifetime = defaults.OutputLifetime
	}
	if config.UploadLifetime <= 0 {
		config.UploadLifetime = defaults.UploadLifetime
	}
	return &Scheduler{
		registry: reg,
		files:    files,
		clock:    realClock{},
		config:   config,
		logger:   slog.Default().With(slog.String("component", "retention")),
		pending:  make(map[uint64]Timer),
	}
}

// WithLogger sets the logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger.With(slog.String("component", "retention"))
	return s
}

// WithClock replaces the clock.
func (s *Scheduler) WithClock(clock Clock) *Scheduler {
	s.clock = clock
	return s
}

// OnRemove registers a hook called after a job entry has been expired.
func (s *Scheduler) OnRemove(fn func(id models.JobID)) *Scheduler {
	s.onRemove = fn
	return s
}

// Config returns the retention windows in use.
func (s *Scheduler) Config() Config {
	return s.config
}

// ScheduleResolution schedules the two cleanups that follow a finished or
// failed conversion: the input after InputDelay, then the registry entry and
// the output after OutputLifetime.
func (s *Scheduler) ScheduleResolution(job *models.Job) {
	id := job.ID
	inputName := job.InputName()
	outputName := job.OutputName()

	s.schedule(s.config.InputDelay, func() {
		if err := s.files.RemoveInput(inputName); err != nil {
			s.logger.Warn("failed to remove input",
				slog.String("job_id", id.String()),
				slog.String("error", err.Error()),
			)
			return
		}
		s.logger.Debug("input removed", slog.String("job_id", id.String()))
	})

	s.schedule(s.config.OutputLifetime, func() {
		_, removed := s.registry.Remove(id)
		if outputName != "" {
			if err := s.files.RemoveOutput(outputName); err != nil {
				s.logger.Warn("failed to remove output",
					slog.String("job_id", id.String()),
					slog.String("error", err.Error()),
				)
			}
		}
		if removed {
			s.logger.Debug("job expired", slog.String("job_id", id.String()))
			s.notifyRemoved(id)
		}
	})
}

// ScheduleUploadExpiry removes the job and its input if no conversion has
// been started by the time UploadLifetime elapses.
func (s *Scheduler) ScheduleUploadExpiry(job *models.Job) {
	id := job.ID
	inputName := job.InputName()

	s.schedule(s.config.UploadLifetime, func() {
		_, removed := s.registry.RemoveIf(id, func(j *models.Job) bool {
			return j.State == models.JobStateUploaded
		})
		if !removed {
			return
		}
		if err := s.files.RemoveInput(inputName); err != nil {
			s.logger.Warn("failed to remove expired upload",
				slog.String("job_id", id.String()),
				slog.String("error", err.Error()),
			)
		}
		s.logger.Info("unstarted upload expired", slog.String("job_id", id.String()))
		s.notifyRemoved(id)
	})
}

// Pending returns the number of scheduled tasks that have not yet run.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels every pending task. Tasks scheduled afterwards are dropped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	timers := make([]Timer, 0, len(s.pending))
	for id, t := range s.pending {
		timers = append(timers, t)
		delete(s.pending, id)
	}
	s.stopped = true
	s.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
	s.logger.Info("retention scheduler stopped", slog.Int("cancelled", len(timers)))
}

func (s *Scheduler) schedule(d time.Duration, task func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	s.nextID++
	id := s.nextID
	s.pending[id] = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		_, ok := s.pending[id]
		delete(s.pending, id)
		s.mu.Unlock()
		if ok {
			task()
		}
	})
}

func (s *Scheduler) notifyRemoved(id models.JobID) {
	if s.onRemove != nil {
		s.onRemove(id)
	}
}
