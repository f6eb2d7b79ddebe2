package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/vertd/internal/conversion"
	"github.com/jmylchreest/vertd/internal/converter"
	"github.com/jmylchreest/vertd/internal/ffmpeg"
	"github.com/jmylchreest/vertd/internal/models"
	"github.com/jmylchreest/vertd/internal/notify"
	"github.com/jmylchreest/vertd/internal/registry"
)

// Converter starts encoder processes for accepted jobs.
type Converter interface {
	Start(ctx context.Context, req conversion.Request) (conversion.Handle, error)
}

// Retention schedules cleanup of a job after it has resolved.
type Retention interface {
	ScheduleResolution(job *models.Job)
}

// Files removes job artifacts.
type Files interface {
	RemoveInput(name string) error
	RemoveOutput(name string) error
}

// Dispatcher delivers notifications without blocking the caller.
type Dispatcher interface {
	Dispatch(n notify.Notification) error
}

// Sender delivers an encoded message to the client.
type Sender interface {
	Send(msg []byte) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(msg []byte) error

// Send calls f.
func (f SenderFunc) Send(msg []byte) error { return f(msg) }

// Handler holds the collaborators shared by every session.
type Handler struct {
	registry   *registry.Registry
	converter  Converter
	retention  Retention
	files      Files
	dispatcher Dispatcher
	observer   Observer
	pings      string
	logger     *slog.Logger
	now        func() time.Time
}

// NewHandler creates a protocol handler.
func NewHandler(reg *registry.Registry, conv Converter, retention Retention, files Files, dispatcher Dispatcher) *Handler {
	if dispatcher == nil {
		dispatcher = notify.NewDispatcher(nil)
	}
	return &Handler{
		registry:   reg,
		converter:  conv,
		retention:  retention,
		files:      files,
		dispatcher: dispatcher,
		observer:   NoopObserver{},
		logger:     slog.Default().With(slog.String("component", "protocol")),
		now:        time.Now,
	}
}

// WithLogger sets the logger.
func (h *Handler) WithLogger(logger *slog.Logger) *Handler {
	h.logger = logger.With(slog.String("component", "protocol"))
	return h
}

// WithObserver sets the observer told about job lifecycle changes.
func (h *Handler) WithObserver(o Observer) *Handler {
	if o != nil {
		h.observer = o
	}
	return h
}

// WithPings sets the mention string prepended to failure notifications.
func (h *Handler) WithPings(pings string) *Handler {
	h.pings = pings
	return h
}

// Serve runs one session until in is closed or ctx is done. Every inbound
// message is answered on out. A conversion still running when the session
// ends is cancelled without any further messages. The returned error is nil
// when in was closed and non-nil when delivery to out failed or ctx ended.
func (h *Handler) Serve(ctx context.Context, in <-chan []byte, out Sender) error {
	s := &session{
		Handler: h,
		in:      in,
		out:     out,
		logger:  h.logger.With(slog.String("session_id", uuid.NewString())),
	}
	s.logger.Debug("session opened")
	defer s.logger.Debug("session closed")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-in:
			if !ok {
				return nil
			}
			if err := s.handle(ctx, raw); err != nil {
				if errors.Is(err, errInboundClosed) {
					return nil
				}
				return err
			}
		}
	}
}

// errInboundClosed ends a session whose client went away mid-conversion.
var errInboundClosed = errors.New("inbound closed")

type session struct {
	*Handler
	in     <-chan []byte
	out    Sender
	logger *slog.Logger
}

func (s *session) send(msg []byte) error {
	if err := s.out.Send(msg); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

func (s *session) handle(ctx context.Context, raw []byte) error {
	msg, err := Decode(raw)
	if err != nil {
		return s.send(ParseError(err))
	}

	switch m := msg.(type) {
	case StartJob:
		return s.run(ctx, m)
	case CancelJob:
		return s.send(ErrorFrom(models.ErrInvalidCancellation))
	default:
		return s.send(ParseError(ErrUnexpectedMessage))
	}
}

// accept validates a start request and moves the job to Converting in one
// registry update, so two sessions can never start the same job.
func (s *session) accept(start StartJob) (*models.Job, converter.Format, error) {
	var target converter.Format
	job, err := s.registry.Update(start.JobID, func(j *models.Job) error {
		if j.State.IsTerminal() {
			return models.ErrJobCompleted
		}
		if j.State == models.JobStateConverting {
			return models.ErrJobInProgress
		}
		if !j.Auth.Equal(start.Token) {
			return models.ErrInvalidToken
		}
		if _, err := converter.ParseFormat(j.From); err != nil {
			return models.ErrInvalidInputFormat
		}
		to, err := converter.ParseFormat(start.To)
		if err != nil {
			return models.ErrInvalidOutputFormat
		}
		if err := converter.CheckTarget(to); err != nil {
			return err
		}

		target = to
		j.To = to.String()
		j.State = models.JobStateConverting
		j.StartedAt = s.now()
		return nil
	})
	return job, target, err
}

func (s *session) run(ctx context.Context, start StartJob) error {
	job, target, err := s.accept(start)
	if err != nil {
		if errors.Is(err, converter.ErrUnsupportedFormat) {
			return s.send(ConvertError(err))
		}
		return s.send(ErrorFrom(err))
	}

	logger := s.logger.With(slog.String("job_id", job.ID.String()))
	s.observer.JobStarted(context.WithoutCancel(ctx), job)

	handle, err := s.converter.Start(ctx, conversion.Request{
		Job:          job,
		Target:       target,
		Speed:        start.Speed,
		KeepMetadata: start.KeepMetadata,
	})
	if err != nil {
		logger.Error("failed to start conversion", slog.String("error", err.Error()))
		final := s.resolve(ctx, job, start, Result{Outcome: conversion.Outcome{State: models.JobStateFailed}, Err: err})
		s.notifyFailed(final, err.Error(), logger)
		return s.send(ConvertError(err))
	}

	if err := s.registry.SetActiveProcess(job.ID, handle); err != nil {
		logger.Error("failed to track conversion", slog.String("error", err.Error()))
		s.discard(ctx, job, start, handle)
		return s.send(ConvertError(err))
	}

	return s.drive(ctx, job, start, handle, logger)
}

// drive relays progress until the encoder exits or the job is cancelled.
// Each iteration takes a ready progress event first, then waits on either
// source so neither can starve the other.
func (s *session) drive(ctx context.Context, job *models.Job, start StartJob, handle conversion.Handle, logger *slog.Logger) error {
	events := handle.Events()
	var logs []string

	relay := func(ev ffmpeg.Event) error {
		if ev.Kind == ffmpeg.EventError {
			logs = append(logs, ev.Line)
			return nil
		}
		msg, ok := Progress(ev)
		if !ok {
			return nil
		}
		if err := s.send(msg); err != nil {
			logger.Info("client went away, cancelling conversion")
			s.discard(ctx, job, start, handle)
			return err
		}
		return nil
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return s.finish(ctx, job, start, handle, logs, logger)
			}
			if err := relay(ev); err != nil {
				return err
			}
		default:
		}

		select {
		case ev, ok := <-events:
			if !ok {
				return s.finish(ctx, job, start, handle, logs, logger)
			}
			if err := relay(ev); err != nil {
				return err
			}

		case raw, ok := <-s.in:
			if !ok {
				logger.Info("connection closed, cancelling conversion")
				s.discard(ctx, job, start, handle)
				return errInboundClosed
			}
			done, err := s.handleWhileConverting(ctx, job, start, handle, raw, logger)
			if done || err != nil {
				return err
			}

		case <-ctx.Done():
			s.discard(ctx, job, start, handle)
			return ctx.Err()
		}
	}
}

func (s *session) handleWhileConverting(ctx context.Context, job *models.Job, start StartJob, handle conversion.Handle, raw []byte, logger *slog.Logger) (bool, error) {
	msg, err := Decode(raw)
	if err != nil {
		return false, s.send(ParseError(err))
	}

	switch m := msg.(type) {
	case CancelJob:
		if m.JobID != job.ID || m.Token != start.Token {
			return false, s.send(ErrorFrom(models.ErrInvalidCancellation))
		}
		logger.Info("cancelling job")
		s.discard(ctx, job, start, handle)
		return true, s.send(JobCancelled(job.ID))
	case StartJob:
		return false, s.send(ErrorFrom(models.ErrJobInProgress))
	default:
		return false, s.send(ParseError(ErrUnexpectedMessage))
	}
}

// discard kills the encoder and removes the job with its artifacts
// immediately, bypassing retention.
func (s *session) discard(ctx context.Context, job *models.Job, start StartJob, handle conversion.Handle) {
	var proc registry.ActiveProcess = handle
	if active, ok := s.registry.TakeActiveProcess(job.ID); ok {
		proc = active
	}
	if err := proc.Kill(); err != nil {
		s.logger.Error("failed to kill encoder",
			slog.String("job_id", job.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	outcome := handle.Wait()
	outcome.State = models.JobStateCancelled

	final, err := s.registry.Update(job.ID, func(j *models.Job) error {
		j.State = models.JobStateCancelled
		j.EndedAt = s.now()
		return nil
	})
	if err != nil {
		final = job.Clone()
		final.State = models.JobStateCancelled
	}
	s.registry.Remove(job.ID)

	s.removeArtifact(s.files.RemoveInput, final.InputName())
	s.removeArtifact(s.files.RemoveOutput, final.OutputName())

	s.observer.JobResolved(context.WithoutCancel(ctx), Result{Job: final, Speed: start.Speed, Outcome: outcome})
}

func (s *session) removeArtifact(remove func(string) error, name string) {
	if name == "" {
		return
	}
	if err := remove(name); err != nil {
		s.logger.Warn("failed to remove artifact",
			slog.String("file", name),
			slog.String("error", err.Error()),
		)
	}
}

func (s *session) finish(ctx context.Context, job *models.Job, start StartJob, handle conversion.Handle, logs []string, logger *slog.Logger) error {
	outcome := handle.Wait()
	s.registry.TakeActiveProcess(job.ID)

	final := s.resolve(ctx, job, start, Result{Outcome: outcome, Logs: logs})

	if outcome.State == models.JobStateFailed {
		logger.Error("job failed", slog.Int("log_lines", len(logs)))
		joined := strings.Join(logs, "\n")
		s.notifyFailed(final, joined, logger)
		if joined == "" {
			joined = NoErrorLogs
		}
		return s.send(Error(joined))
	}

	logger.Info("job finished",
		slog.Int64("output_size", outcome.OutputSize),
		slog.Duration("duration", outcome.Duration),
	)
	return s.send(JobFinished(job.ID))
}

// resolve records the terminal state of a conversion attempt and schedules
// its cleanup.
// notifyFailed queues the failure webhook with logs as its attachment.
func (s *session) notifyFailed(job *models.Job, logs string, logger *slog.Logger) {
	if err := s.dispatcher.Dispatch(notify.JobFailed(s.pings, job.ID.String(), job.From, job.To, logs)); err != nil {
		logger.Warn("failed to queue failure notification", slog.String("error", err.Error()))
	}
}

func (s *session) resolve(ctx context.Context, job *models.Job, start StartJob, res Result) *models.Job {
	state := res.Outcome.State
	final, err := s.registry.Update(job.ID, func(j *models.Job) error {
		j.State = state
		j.EndedAt = s.now()
		return nil
	})
	if err != nil {
		s.logger.Warn("job vanished before resolution",
			slog.String("job_id", job.ID.String()),
			slog.String("error", err.Error()),
		)
		final = job.Clone()
		final.State = state
		final.EndedAt = s.now()
	}
	s.retention.ScheduleResolution(final)

	res.Job = final
	res.Speed = start.Speed
	s.observer.JobResolved(context.WithoutCancel(ctx), res)
	return final
}
