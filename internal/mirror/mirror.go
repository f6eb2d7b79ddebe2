// Package mirror publishes a read-only view of job state to redis so other
// processes can observe conversions without talking to vertd.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jmylchreest/vertd/internal/config"
	"github.com/jmylchreest/vertd/internal/models"
	"github.com/jmylchreest/vertd/internal/protocol"
)

// ErrNotMirrored indicates no mirrored entry exists for the job.
var ErrNotMirrored = errors.New("job not mirrored")

// Mirror publishes and retracts job state.
type Mirror interface {
	Publish(ctx context.Context, job *models.Job) error
	Forget(ctx context.Context, id models.JobID) error
}

// Noop discards everything.
type Noop struct{}

func (Noop) Publish(context.Context, *models.Job) error { return nil }
func (Noop) Forget(context.Context, models.JobID) error { return nil }

// View is the mirrored shape of a job. It carries no capability token.
type View struct {
	ID        string          `json:"id"`
	From      string          `json:"from"`
	To        string          `json:"to,omitempty"`
	State     models.JobState `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
	StartedAt time.Time       `json:"started_at,omitzero"`
	EndedAt   time.Time       `json:"ended_at,omitzero"`
}

// ViewOf projects a job onto its mirrored view.
func ViewOf(job *models.Job) View {
	return View{
		ID:        job.ID.String(),
		From:      job.From,
		To:        job.To,
		State:     job.State,
		CreatedAt: job.CreatedAt,
		StartedAt: job.StartedAt,
		EndedAt:   job.EndedAt,
	}
}

// store is the subset of redis commands the mirror issues.
type store interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Redis mirrors jobs as JSON strings that expire after ttl.
type Redis struct {
	client store
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedis creates a mirror on top of an existing redis client.
func NewRedis(client store, prefix string, ttl time.Duration) *Redis {
	return &Redis{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the mirror.
func (r *Redis) WithLogger(logger *slog.Logger) *Redis {
	r.logger = logger.With(slog.String("component", "mirror"))
	return r
}

// Dial connects to redis and verifies the connection.
func Dial(ctx context.Context, cfg config.MirrorConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

func (r *Redis) key(id string) string {
	return r.prefix + id
}

// Publish stores the job's current view, refreshing its expiry.
func (r *Redis) Publish(ctx context.Context, job *models.Job) error {
	payload, err := json.Marshal(ViewOf(job))
	if err != nil {
		return fmt.Errorf("encoding mirrored job: %w", err)
	}
	if err := r.client.Set(ctx, r.key(job.ID.String()), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("publishing job %s: %w", job.ID, err)
	}
	return nil
}

// Forget deletes the mirrored entry. A missing entry is not an error.
func (r *Redis) Forget(ctx context.Context, id models.JobID) error {
	if err := r.client.Del(ctx, r.key(id.String())).Err(); err != nil {
		return fmt.Errorf("forgetting job %s: %w", id, err)
	}
	return nil
}

// Get reads back a mirrored view.
func (r *Redis) Get(ctx context.Context, id models.JobID) (*View, error) {
	raw, err := r.client.Get(ctx, r.key(id.String())).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotMirrored
	}
	if err != nil {
		return nil, fmt.Errorf("reading job %s: %w", id, err)
	}
	var v View
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decoding mirrored job %s: %w", id, err)
	}
	return &v, nil
}

// Observer republishes jobs as sessions move them through their lifecycle.
type Observer struct {
	mirror Mirror
	logger *slog.Logger
}

var _ protocol.Observer = (*Observer)(nil)

// NewObserver adapts a mirror to protocol session events.
func NewObserver(m Mirror, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{mirror: m, logger: logger.With(slog.String("component", "mirror"))}
}

// JobStarted publishes the converting job.
func (o *Observer) JobStarted(ctx context.Context, job *models.Job) {
	o.publish(ctx, job)
}

// JobResolved publishes the terminal state. Cancelled jobs are removed
// from the registry at once, so their entry is dropped instead.
func (o *Observer) JobResolved(ctx context.Context, res protocol.Result) {
	if res.Job == nil {
		return
	}
	if res.Job.State == models.JobStateCancelled {
		if err := o.mirror.Forget(ctx, res.Job.ID); err != nil {
			o.logger.Warn("failed to forget mirrored job", slog.String("job_id", res.Job.ID.String()), slog.String("error", err.Error()))
		}
		return
	}
	o.publish(ctx, res.Job)
}

func (o *Observer) publish(ctx context.Context, job *models.Job) {
	if err := o.mirror.Publish(ctx, job); err != nil {
		o.logger.Warn("failed to mirror job", slog.String("job_id", job.ID.String()), slog.String("error", err.Error()))
	}
}
