// Package service implements the request/response operations on jobs:
// upload, single-use download and keep.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/jmylchreest/vertd/internal/models"
	"github.com/jmylchreest/vertd/internal/notify"
	"github.com/jmylchreest/vertd/internal/registry"
	"github.com/jmylchreest/vertd/internal/storage"
)

// DefaultAdminPassword is the placeholder shipped in example deployments. It
// never grants privileged downloads.
const DefaultAdminPassword = "supersecret"

// UploadRetention expires uploads that are never converted.
type UploadRetention interface {
	ScheduleUploadExpiry(job *models.Job)
}

// Dispatcher delivers notifications without blocking the caller.
type Dispatcher interface {
	Dispatch(n notify.Notification) error
}

// Mirror publishes job state to an external read-only view.
type Mirror interface {
	Publish(ctx context.Context, job *models.Job) error
	Forget(ctx context.Context, id models.JobID) error
}

// JobsConfig configures the job operations.
type JobsConfig struct {
	// AdminPassword grants downloads from the permanent store. Empty or
	// DefaultAdminPassword disables them.
	AdminPassword string
	// PublicURL prefixes links sent in keep notifications.
	PublicURL    string
	WebhookPings string
}

// Jobs implements upload, download and keep.
type Jobs struct {
	registry   *registry.Registry
	workspace  *storage.Workspace
	permanent  storage.PermanentStore
	retention  UploadRetention
	dispatcher Dispatcher
	mirror     Mirror
	config     JobsConfig
	logger     *slog.Logger
	newToken   func() string
}

// NewJobs creates the job operations.
func NewJobs(reg *registry.Registry, ws *storage.Workspace, permanent storage.PermanentStore, retention UploadRetention, config JobsConfig) *Jobs {
	return &Jobs{
		registry:   reg,
		workspace:  ws,
		permanent:  permanent,
		retention:  retention,
		dispatcher: notify.NewDispatcher(nil),
		config:     config,
		logger:     slog.Default().With(slog.String("component", "jobs")),
		newToken:   uuid.NewString,
	}
}

// WithLogger sets the logger.
func (s *Jobs) WithLogger(logger *slog.Logger) *Jobs {
	s.logger = logger.With(slog.String("component", "jobs"))
	return s
}

// WithDispatcher sets where keep notifications are sent.
func (s *Jobs) WithDispatcher(d Dispatcher) *Jobs {
	if d != nil {
		s.dispatcher = d
	}
	return s
}

// WithMirror sets the job-state mirror.
func (s *Jobs) WithMirror(m Mirror) *Jobs {
	s.mirror = m
	return s
}

// AdminEnabled reports whether privileged downloads are possible.
func (s *Jobs) AdminEnabled() bool {
	p := s.config.AdminPassword
	return p != "" && p != DefaultAdminPassword
}

func (s *Jobs) isAdmin(token string) bool {
	return s.AdminEnabled() && models.Secret(s.config.AdminPassword).Equal(token)
}

// Upload stores r as the input of a new job. The format is the lowercased
// extension of filename.
func (s *Jobs) Upload(ctx context.Context, filename string, r io.Reader) (*models.Job, error) {
	from := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if from == "" || strings.ContainsAny(from, `/\`) {
		return nil, models.ErrInvalidInputFormat
	}

	job := models.NewJob(s.newToken(), from)
	size, err := s.workspace.Input.WriteFrom(job.InputName(), r)
	if err != nil {
		return nil, fmt.Errorf("storing upload: %w", err)
	}
	if err := s.registry.Insert(job); err != nil {
		_ = s.workspace.RemoveInput(job.InputName())
		return nil, err
	}
	s.retention.ScheduleUploadExpiry(job)

	s.logger.Info("file uploaded",
		slog.String("job_id", job.ID.String()),
		slog.String("from", from),
		slog.Int64("size", size),
	)
	s.publish(ctx, job)
	return job, nil
}

// Download is a file being served. Closing it deletes the file.
type Download struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.ReadCloser
}

// Download serves the output of a job once. The job is removed from the
// registry before the file is read, so a second request fails with
// ErrJobNotFound. A token equal to the admin password instead serves name
// from the permanent store.
func (s *Jobs) Download(ctx context.Context, name, token string) (*Download, error) {
	if s.isAdmin(token) {
		return s.DownloadPermanent(ctx, name)
	}

	id, err := models.ParseJobID(name)
	if err != nil {
		return nil, models.ErrJobNotFound
	}

	job, err := s.registry.Get(id)
	if err != nil {
		return nil, err
	}
	if !job.Auth.Equal(token) {
		return nil, models.ErrInvalidToken
	}
	if job.To == "" {
		return nil, models.ErrIncompleteHandshake
	}
	if job.State == models.JobStateConverting {
		return nil, models.ErrJobNotFinished
	}

	removed, ok := s.registry.RemoveIf(id, func(j *models.Job) bool {
		return j.State != models.JobStateConverting
	})
	if !ok {
		return nil, models.ErrJobNotFound
	}
	s.forget(ctx, id)

	outName := removed.OutputName()
	f, err := s.workspace.Output.Open(outName)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, models.ErrJobNotFound
		}
		return nil, fmt.Errorf("opening output: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat output: %w", err)
	}

	s.logger.Info("output downloaded",
		slog.String("job_id", id.String()),
		slog.Int64("size", info.Size()),
	)
	return &Download{
		Name:        outName,
		ContentType: storage.ContentType(outName),
		Size:        info.Size(),
		Body: &removeOnClose{ReadCloser: f, remove: func() error {
			return s.workspace.RemoveOutput(outName)
		}},
	}, nil
}

// DownloadPermanent serves a kept file by name and deletes it once the body
// is closed.
func (s *Jobs) DownloadPermanent(ctx context.Context, name string) (*Download, error) {
	s.logger.Warn("admin download used", slog.String("file", name))

	rc, size, err := s.permanent.Open(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrPermanentNotFound) {
			return nil, models.ErrJobNotFound
		}
		return nil, err
	}
	return &Download{
		Name:        name,
		ContentType: storage.ContentType(name),
		Size:        size,
		Body: &removeOnClose{ReadCloser: rc, remove: func() error {
			return s.permanent.Remove(context.WithoutCancel(ctx), name)
		}},
	}, nil
}

// Keep moves the input of a failed job into the permanent store and sends a
// notification with an admin download link for it.
func (s *Jobs) Keep(ctx context.Context, rawID, token string) error {
	id, err := models.ParseJobID(rawID)
	if err != nil {
		return models.ErrJobNotFound
	}
	job, err := s.registry.Get(id)
	if err != nil {
		return err
	}
	if !job.Auth.Equal(token) {
		return models.ErrInvalidToken
	}
	if job.State != models.JobStateFailed {
		return models.ErrNotErrored
	}

	name := job.InputName()
	exists, err := s.workspace.Input.Exists(name)
	if err != nil {
		return err
	}
	if !exists {
		return models.ErrJobNotFound
	}
	src, err := s.workspace.InputPath(name)
	if err != nil {
		return err
	}
	if err := s.permanent.Put(ctx, name, src); err != nil {
		return fmt.Errorf("keeping %s: %w", name, err)
	}
	s.logger.Info("moved file to permanent storage",
		slog.String("job_id", id.String()),
		slog.String("file", name),
		slog.String("backend", s.permanent.Name()),
	)

	link, ok := s.permanentLink(name)
	if !ok {
		s.logger.Warn("not announcing kept file, public url or admin password unset",
			slog.String("file", name),
		)
		return nil
	}
	if err := s.dispatcher.Dispatch(notify.FileKept(s.config.WebhookPings, link)); err != nil {
		s.logger.Warn("failed to queue keep notification", slog.String("error", err.Error()))
	}
	return nil
}

func (s *Jobs) permanentLink(name string) (string, bool) {
	if s.config.PublicURL == "" || !s.AdminEnabled() {
		return "", false
	}
	base := strings.TrimRight(s.config.PublicURL, "/")
	return fmt.Sprintf("%s/api/download/%s/%s", base, name, s.config.AdminPassword), true
}

func (s *Jobs) publish(ctx context.Context, job *models.Job) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Publish(ctx, job); err != nil {
		s.logger.Warn("failed to mirror job", slog.String("job_id", job.ID.String()), slog.String("error", err.Error()))
	}
}

func (s *Jobs) forget(ctx context.Context, id models.JobID) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Forget(ctx, id); err != nil {
		s.logger.Warn("failed to forget mirrored job", slog.String("job_id", id.String()), slog.String("error", err.Error()))
	}
}

// removeOnClose deletes the served file once the response has been written.
type removeOnClose struct {
	io.ReadCloser
	remove func() error
}

func (r *removeOnClose) Close() error {
	closeErr := r.ReadCloser.Close()
	if err := r.remove(); err != nil {
		return err
	}
	return closeErr
}
