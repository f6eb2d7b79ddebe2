// Package registry holds the in-memory set of jobs known to the server and
// the encoder processes currently running for them.
package registry

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmylchreest/vertd/internal/models"
)

// ActiveProcess is a handle to a running encoder that can be terminated.
type ActiveProcess interface {
	Kill() error
}

// Registry maps job ids to jobs and to their active encoder process.
// Both maps are guarded by a single mutex that is only ever held for the map
// access itself.
type Registry struct {
	logger *slog.Logger

	mu        sync.Mutex
	jobs      map[models.JobID]*models.Job
	processes map[models.JobID]ActiveProcess
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:    logger.With(slog.String("component", "registry")),
		jobs:      make(map[models.JobID]*models.Job),
		processes: make(map[models.JobID]ActiveProcess),
	}
}

// Insert adds a new job. It fails if the id is already registered.
func (r *Registry) Insert(job *models.Job) error {
	r.mu.Lock()
	if _, ok := r.jobs[job.ID]; ok {
		r.mu.Unlock()
		return fmt.Errorf("job %s already registered", job.ID)
	}
	r.jobs[job.ID] = job.Clone()
	r.mu.Unlock()

	r.logger.Debug("job registered",
		slog.String("job_id", job.ID.String()),
		slog.String("from", job.From),
	)
	return nil
}

// Get returns a copy of the job with the given id.
func (r *Registry) Get(id models.JobID) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, models.ErrJobNotFound
	}
	return job.Clone(), nil
}

// Update applies fn to the stored job while the lock is held. If fn returns an
// error the job is left untouched. fn must not block.
func (r *Registry) Update(id models.JobID, fn func(job *models.Job) error) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, models.ErrJobNotFound
	}

	draft := job.Clone()
	if err := fn(draft); err != nil {
		return nil, err
	}
	// Identity is fixed at upload.
	draft.ID = job.ID
	draft.Auth = job.Auth
	r.jobs[id] = draft
	return draft.Clone(), nil
}

// Remove deletes the job and returns the last stored copy. Any process handle
// is dropped without being killed.
func (r *Registry) Remove(id models.JobID) (*models.Job, bool) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	delete(r.jobs, id)
	delete(r.processes, id)
	r.mu.Unlock()

	if !ok {
		return nil, false
	}
	r.logger.Debug("job removed", slog.String("job_id", id.String()))
	return job, true
}

// RemoveIf deletes the job only when pred reports true for the stored copy.
func (r *Registry) RemoveIf(id models.JobID, pred func(job *models.Job) bool) (*models.Job, bool) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok || !pred(job.Clone()) {
		r.mu.Unlock()
		return nil, false
	}
	delete(r.jobs, id)
	delete(r.processes, id)
	r.mu.Unlock()

	r.logger.Debug("job removed", slog.String("job_id", id.String()))
	return job, true
}

// SetActiveProcess associates a running process with a registered job.
// A job may have at most one active process.
func (r *Registry) SetActiveProcess(id models.JobID, proc ActiveProcess) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[id]; !ok {
		return models.ErrJobNotFound
	}
	if _, ok := r.processes[id]; ok {
		return models.ErrJobInProgress
	}
	r.processes[id] = proc
	return nil
}

// TakeActiveProcess removes and returns the process handle for the job.
// Only one caller can ever observe a given handle.
func (r *Registry) TakeActiveProcess(id models.JobID) (ActiveProcess, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	proc, ok := r.processes[id]
	if ok {
		delete(r.processes, id)
	}
	return proc, ok
}

// ActiveCount returns the number of jobs with a running process.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.processes)
}

// Contains reports whether a job id is registered.
func (r *Registry) Contains(id models.JobID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.jobs[id]
	return ok
}

// Snapshot returns copies of every registered job.
func (r *Registry) Snapshot() []*models.Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*models.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job.Clone())
	}
	return out
}
