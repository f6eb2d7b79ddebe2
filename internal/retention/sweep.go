package retention

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/vertd/internal/models"
	"github.com/jmylchreest/vertd/internal/registry"
	"github.com/jmylchreest/vertd/internal/storage"
)

// DefaultSweepSchedule is how often orphaned files are looked for.
const DefaultSweepSchedule = "@every 10m"

var sweepParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether expr is a usable sweep schedule.
func ValidateSchedule(expr string) error {
	if _, err := sweepParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", expr, err)
	}
	return nil
}

// Sweeper periodically removes workspace files that no registered job owns.
// Such files are left behind when a timer is lost, e.g. across a restart with
// reset disabled.
type Sweeper struct {
	workspace *storage.Workspace
	registry  *registry.Registry
	maxAge    time.Duration
	schedule  string
	clock     Clock
	logger    *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewSweeper creates a sweeper removing unowned files older than maxAge.
func NewSweeper(ws *storage.Workspace, reg *registry.Registry, maxAge time.Duration, schedule string) *Sweeper {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	return &Sweeper{
		workspace: ws,
		registry:  reg,
		maxAge:    maxAge,
		schedule:  schedule,
		clock:     realClock{},
		logger:    slog.Default().With(slog.String("component", "sweeper")),
	}
}

// WithLogger sets the logger.
func (s *Sweeper) WithLogger(logger *slog.Logger) *Sweeper {
	s.logger = logger.With(slog.String("component", "sweeper"))
	return s
}

// WithClock replaces the clock used to compute file age.
func (s *Sweeper) WithClock(clock Clock) *Sweeper {
	s.clock = clock
	return s
}

// Start begins running sweeps on the schedule.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}

	c := cron.New(cron.WithParser(sweepParser))
	if _, err := c.AddFunc(s.schedule, func() { s.Sweep() }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	c.Start()
	s.cron = c

	s.logger.Info("sweeper started",
		slog.String("schedule", s.schedule),
		slog.Duration("max_age", s.maxAge))
	return nil
}

// Stop stops the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("sweeper stopped")
}

// Sweep removes orphaned files once and returns how many were deleted.
func (s *Sweeper) Sweep() int {
	cutoff := s.clock.Now().Add(-s.maxAge)
	removed := 0

	for _, f := range s.workspace.Stale(cutoff, s.logger) {
		if id, ok := jobIDFromName(f.Name); ok && s.registry.Contains(id) {
			continue
		}
		if err := s.workspace.Remove(f); err != nil {
			s.logger.Warn("failed to remove orphaned file",
				slog.String("name", f.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("orphaned files removed", slog.Int("count", removed))
	}
	return removed
}

func jobIDFromName(name string) (models.JobID, bool) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	id, err := models.ParseJobID(stem)
	if err != nil {
		return models.JobID{}, false
	}
	return id, true
}
