package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jmylchreest/vertd/internal/models"
	"github.com/jmylchreest/vertd/internal/protocol"
	"github.com/jmylchreest/vertd/internal/repository"
)

// History records resolved conversions in the history database.
type History struct {
	repo   repository.ConversionRepository
	logger *slog.Logger
}

var _ protocol.Observer = (*History)(nil)

// NewHistory creates a history recorder backed by repo.
func NewHistory(repo repository.ConversionRepository) *History {
	return &History{repo: repo, logger: slog.Default()}
}

// WithLogger sets the logger for the recorder.
func (h *History) WithLogger(logger *slog.Logger) *History {
	h.logger = logger.With(slog.String("component", "history"))
	return h
}

// JobStarted is a no-op; only resolutions are recorded.
func (h *History) JobStarted(context.Context, *models.Job) {}

// JobResolved stores the attempt. Storage failures are logged only.
func (h *History) JobResolved(ctx context.Context, res protocol.Result) {
	if res.Job == nil {
		return
	}
	log := strings.Join(res.Logs, "\n")
	if res.Err != nil && log == "" {
		log = res.Err.Error()
	}
	rec := models.NewConversionRecord(res.Job, res.Speed.String(), res.Outcome.OutputSize, res.Outcome.Duration, log)
	if err := h.repo.Record(ctx, rec); err != nil {
		h.logger.Warn("failed to record conversion",
			slog.String("job_id", res.Job.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// Summary returns the aggregated history, or an empty summary when no
// history is kept.
func (h *History) Summary(ctx context.Context) (*repository.Summary, error) {
	if h == nil || h.repo == nil {
		return repository.EmptySummary(), nil
	}
	return h.repo.Summary(ctx)
}
