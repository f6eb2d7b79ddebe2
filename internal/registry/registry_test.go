package registry

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vertd/internal/models"
)

type fakeProcess struct {
	kills atomic.Int32
}

func (p *fakeProcess) Kill() error {
	p.kills.Add(1)
	return nil
}

func TestRegistry_InsertGet(t *testing.T) {
	r := New(nil)
	job := models.NewJob("tok", "mp4")

	require.NoError(t, r.Insert(job))
	assert.Error(t, r.Insert(job), "duplicate ids are rejected")

	got, err := r.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, models.JobStateUploaded, got.State)

	// Returned jobs are copies.
	got.State = models.JobStateFailed
	again, err := r.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateUploaded, again.State)

	_, err = r.Get(models.NewJobID())
	assert.ErrorIs(t, err, models.ErrJobNotFound)
}

func TestRegistry_Update(t *testing.T) {
	r := New(nil)
	job := models.NewJob("tok", "mp4")
	require.NoError(t, r.Insert(job))

	t.Run("applies mutation", func(t *testing.T) {
		updated, err := r.Update(job.ID, func(j *models.Job) error {
			j.To = "webm"
			j.State = models.JobStateConverting
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, "webm", updated.To)
		assert.Equal(t, models.JobStateConverting, updated.State)
	})

	t.Run("error leaves job untouched", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := r.Update(job.ID, func(j *models.Job) error {
			j.To = "gif"
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := r.Get(job.ID)
		require.NoError(t, err)
		assert.Equal(t, "webm", got.To)
	})

	t.Run("identity cannot change", func(t *testing.T) {
		_, err := r.Update(job.ID, func(j *models.Job) error {
			j.Auth = "other"
			return nil
		})
		require.NoError(t, err)

		got, err := r.Get(job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.Secret("tok"), got.Auth)
	})

	t.Run("unknown job", func(t *testing.T) {
		_, err := r.Update(models.NewJobID(), func(*models.Job) error { return nil })
		assert.ErrorIs(t, err, models.ErrJobNotFound)
	})
}

func TestRegistry_ActiveProcess(t *testing.T) {
	r := New(nil)
	job := models.NewJob("tok", "mp4")
	require.NoError(t, r.Insert(job))

	proc := &fakeProcess{}
	require.NoError(t, r.SetActiveProcess(job.ID, proc))
	assert.ErrorIs(t, r.SetActiveProcess(job.ID, &fakeProcess{}), models.ErrJobInProgress)
	assert.Equal(t, 1, r.ActiveCount())

	got, ok := r.TakeActiveProcess(job.ID)
	require.True(t, ok)
	assert.Same(t, proc, got)

	_, ok = r.TakeActiveProcess(job.ID)
	assert.False(t, ok, "a handle is observed only once")
	assert.Equal(t, 0, r.ActiveCount())

	assert.ErrorIs(t, r.SetActiveProcess(models.NewJobID(), proc), models.ErrJobNotFound)
}

func TestRegistry_TakeActiveProcessRace(t *testing.T) {
	r := New(nil)
	job := models.NewJob("tok", "mp4")
	require.NoError(t, r.Insert(job))
	require.NoError(t, r.SetActiveProcess(job.ID, &fakeProcess{}))

	var wg sync.WaitGroup
	var winners atomic.Int32
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.TakeActiveProcess(job.ID); ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestRegistry_Remove(t *testing.T) {
	r := New(nil)
	job := models.NewJob("tok", "mp4")
	require.NoError(t, r.Insert(job))
	require.NoError(t, r.SetActiveProcess(job.ID, &fakeProcess{}))

	removed, ok := r.Remove(job.ID)
	require.True(t, ok)
	assert.Equal(t, job.ID, removed.ID)
	assert.False(t, r.Contains(job.ID))
	assert.Equal(t, 0, r.ActiveCount())

	_, ok = r.Remove(job.ID)
	assert.False(t, ok)
}

func TestRegistry_RemoveIf(t *testing.T) {
	r := New(nil)
	job := models.NewJob("tok", "mp4")
	require.NoError(t, r.Insert(job))

	uploaded := func(j *models.Job) bool { return j.State == models.JobStateUploaded }

	_, err := r.Update(job.ID, func(j *models.Job) error {
		j.State = models.JobStateConverting
		return nil
	})
	require.NoError(t, err)

	_, ok := r.RemoveIf(job.ID, uploaded)
	assert.False(t, ok)
	assert.True(t, r.Contains(job.ID))

	_, err = r.Update(job.ID, func(j *models.Job) error {
		j.State = models.JobStateUploaded
		return nil
	})
	require.NoError(t, err)

	_, ok = r.RemoveIf(job.ID, uploaded)
	assert.True(t, ok)
	assert.False(t, r.Contains(job.ID))
}

func TestRegistry_Snapshot(t *testing.T) {
	r := New(nil)
	for range 3 {
		require.NoError(t, r.Insert(models.NewJob("tok", "mp4")))
	}
	failed := models.NewJob("tok", "mkv")
	failed.State = models.JobStateFailed
	require.NoError(t, r.Insert(failed))

	jobs := r.Snapshot()
	require.Len(t, jobs, 4)

	counts := make(map[models.JobState]int)
	for _, job := range jobs {
		counts[job.State]++
	}
	assert.Equal(t, 3, counts[models.JobStateUploaded])
	assert.Equal(t, 1, counts[models.JobStateFailed])

	jobs[0].State = models.JobStateCancelled
	for _, job := range r.Snapshot() {
		assert.NotEqual(t, models.JobStateCancelled, job.State, "snapshot returns copies")
	}
}
