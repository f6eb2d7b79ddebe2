package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/vertd/internal/models"
	"github.com/jmylchreest/vertd/internal/service"
)

// JobService is the set of job operations exposed over HTTP.
type JobService interface {
	Upload(ctx context.Context, filename string, r io.Reader) (*models.Job, error)
	Download(ctx context.Context, name, token string) (*service.Download, error)
	Keep(ctx context.Context, id, token string) error
}

// JobHandler handles upload, download and keep.
type JobHandler struct {
	jobs          JobService
	maxUploadSize int64
	logger        *slog.Logger
}

// NewJobHandler creates a job handler. Uploads larger than maxUploadSize
// bytes are rejected; zero disables the limit.
func NewJobHandler(jobs JobService, maxUploadSize int64) *JobHandler {
	return &JobHandler{
		jobs:          jobs,
		maxUploadSize: maxUploadSize,
		logger:        slog.Default().With(slog.String("component", "job_handler")),
	}
}

// WithLogger sets the logger.
func (h *JobHandler) WithLogger(logger *slog.Logger) *JobHandler {
	h.logger = logger.With(slog.String("component", "job_handler"))
	return h
}

// Register registers the huma operations.
func (h *JobHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "downloadOutput",
		Method:      http.MethodGet,
		Path:        "/api/download/{id}/{token}",
		Summary:     "Download a converted file",
		Description: "Streams the output of a finished job once and deletes it. " +
			"An admin token instead serves a kept file from permanent storage.",
		Tags: []string{"Jobs"},
	}, h.Download)

	huma.Register(api, huma.Operation{
		OperationID: "keepInput",
		Method:      http.MethodPost,
		Path:        "/api/keep",
		Summary:     "Keep the input of a failed job",
		Description: "Moves the input of a failed job to permanent storage for debugging.",
		Tags:        []string{"Jobs"},
	}, h.Keep)
}

// RegisterChiRoutes registers routes that huma cannot express.
func (h *JobHandler) RegisterChiRoutes(r chi.Router) {
	r.Post("/api/upload", h.Upload)
}

// UploadResponse describes a newly created job.
type UploadResponse struct {
	ID   string `json:"id"`
	Auth string `json:"auth"`
	From string `json:"from"`
}

// Upload stores the multipart field "file" as the input of a new job.
// The body is streamed to disk, never buffered in memory.
func (h *JobHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	}

	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse form: %v", err))
		return
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "missing file field")
			return
		}
		if err != nil {
			h.writeUploadError(w, err)
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		job, err := h.jobs.Upload(r.Context(), part.FileName(), part)
		part.Close()
		if err != nil {
			h.writeUploadError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, success(UploadResponse{
			ID:   job.ID.String(),
			Auth: job.Auth.String(),
			From: job.From,
		}))
		return
	}
}

func (h *JobHandler) writeUploadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds the upload limit of %d bytes", tooLarge.Limit))
		return
	}
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("upload failed", slog.String("error", err.Error()))
	}
	writeError(w, status, err.Error())
}

// DownloadInput identifies the file to download.
type DownloadInput struct {
	ID    string `path:"id" doc:"Job id, or a kept file name for admin downloads"`
	Token string `path:"token" doc:"Job token or admin password"`
}

// Download streams a job output or a kept file.
func (h *JobHandler) Download(ctx context.Context, input *DownloadInput) (*huma.StreamResponse, error) {
	dl, err := h.jobs.Download(ctx, input.ID, input.Token)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			h.logger.Error("download failed", slog.String("error", err.Error()))
		}
		return nil, apiError(err)
	}

	return &huma.StreamResponse{
		Body: func(hctx huma.Context) {
			defer func() {
				if err := dl.Body.Close(); err != nil {
					h.logger.Warn("failed to remove downloaded file",
						slog.String("file", dl.Name),
						slog.String("error", err.Error()),
					)
				}
			}()

			hctx.SetHeader("Content-Type", dl.ContentType)
			hctx.SetHeader("Content-Length", strconv.FormatInt(dl.Size, 10))
			hctx.SetHeader("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": dl.Name}))
			hctx.SetStatus(http.StatusOK)

			if _, err := io.Copy(hctx.BodyWriter(), dl.Body); err != nil {
				h.logger.Debug("download interrupted",
					slog.String("file", dl.Name),
					slog.String("error", err.Error()),
				)
			}
		},
	}, nil
}

// KeepInput identifies the failed job whose input is kept.
type KeepInput struct {
	Body struct {
		ID    string `json:"id" doc:"Job id"`
		Token string `json:"token" doc:"Job token"`
	}
}

// KeepOutput is the response for keep.
type KeepOutput struct {
	Body Envelope[struct{}]
}

// Keep moves the input of a failed job to permanent storage.
func (h *JobHandler) Keep(ctx context.Context, input *KeepInput) (*KeepOutput, error) {
	if err := h.jobs.Keep(ctx, input.Body.ID, input.Body.Token); err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			h.logger.Error("keep failed", slog.String("error", err.Error()))
		}
		return nil, apiError(err)
	}
	return &KeepOutput{Body: success(struct{}{})}, nil
}
