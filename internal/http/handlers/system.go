package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/vertd/internal/repository"
	"github.com/jmylchreest/vertd/internal/version"
)

// SummarySource aggregates the conversion history.
type SummarySource interface {
	Summary(ctx context.Context) (*repository.Summary, error)
}

// SystemHandler serves the version and the conversion statistics.
type SystemHandler struct {
	history SummarySource
	logger  *slog.Logger
}

// NewSystemHandler creates a system handler. A nil history reports an empty
// summary.
func NewSystemHandler(history SummarySource) *SystemHandler {
	return &SystemHandler{
		history: history,
		logger:  slog.Default().With(slog.String("component", "system_handler")),
	}
}

// WithLogger sets the logger.
func (h *SystemHandler) WithLogger(logger *slog.Logger) *SystemHandler {
	h.logger = logger.With(slog.String("component", "system_handler"))
	return h
}

// Register registers the system routes with the API.
func (h *SystemHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getVersion",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Server version",
		Tags:        []string{"System"},
	}, h.GetVersion)

	huma.Register(api, huma.Operation{
		OperationID: "getStats",
		Method:      http.MethodGet,
		Path:        "/api/stats",
		Summary:     "Conversion statistics",
		Description: "Aggregates the recorded conversion history. Empty when the history database is disabled.",
		Tags:        []string{"System"},
	}, h.GetStats)
}

// VersionInput is the input for the version endpoint.
type VersionInput struct{}

// VersionOutput carries the build version string.
type VersionOutput struct {
	Body Envelope[string]
}

// GetVersion returns the build version.
func (h *SystemHandler) GetVersion(_ context.Context, _ *VersionInput) (*VersionOutput, error) {
	return &VersionOutput{Body: success(version.Version)}, nil
}

// StatsInput is the input for the stats endpoint.
type StatsInput struct{}

// StatsOutput carries the history summary.
type StatsOutput struct {
	Body Envelope[*repository.Summary]
}

// GetStats returns the conversion history summary.
func (h *SystemHandler) GetStats(ctx context.Context, _ *StatsInput) (*StatsOutput, error) {
	if h.history == nil {
		return &StatsOutput{Body: success(repository.EmptySummary())}, nil
	}
	summary, err := h.history.Summary(ctx)
	if err != nil {
		h.logger.Error("failed to summarize history", slog.String("error", err.Error()))
		return nil, huma.Error500InternalServerError("failed to summarize history")
	}
	return &StatsOutput{Body: success(summary)}, nil
}
