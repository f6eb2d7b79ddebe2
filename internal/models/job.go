package models

import (
	"fmt"
	"time"
)

// JobState is the lifecycle state of a job.
type JobState string

const (
	JobStateUploaded   JobState = "uploaded"
	JobStateConverting JobState = "converting"
	JobStateCompleted  JobState = "completed"
	JobStateFailed     JobState = "failed"
	JobStateCancelled  JobState = "cancelled"
)

// IsTerminal reports whether no further conversion can happen from this state.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateCancelled:
		return true
	default:
		return false
	}
}

// Job is one upload-to-download conversion request.
type Job struct {
	ID    JobID    `json:"id"`
	Auth  Secret   `json:"-"`
	From  string   `json:"from"`
	To    string   `json:"to,omitempty"`
	State JobState `json:"state"`

	CreatedAt time.Time `json:"created_at"`
	StartedAt time.Time `json:"started_at,omitzero"`
	EndedAt   time.Time `json:"ended_at,omitzero"`

	// Probe results memoized for the lifetime of the job.
	CachedBitrate    *uint64  `json:"-"`
	CachedFrameCount *uint64  `json:"-"`
	CachedFrameRate  *float64 `json:"-"`
}

// NewJob creates a job in the Uploaded state.
func NewJob(auth, from string) *Job {
	return &Job{
		ID:        NewJobID(),
		Auth:      Secret(auth),
		From:      from,
		State:     JobStateUploaded,
		CreatedAt: time.Now(),
	}
}

// InputName returns the artifact name of the source file.
func (j *Job) InputName() string {
	return fmt.Sprintf("%s.%s", j.ID, j.From)
}

// OutputName returns the artifact name of the converted file.
// It is empty until a target format has been set.
func (j *Job) OutputName() string {
	if j.To == "" {
		return ""
	}
	return fmt.Sprintf("%s.%s", j.ID, j.To)
}

// Clone returns a copy that shares no mutable state with j.
func (j *Job) Clone() *Job {
	c := *j
	if j.CachedBitrate != nil {
		v := *j.CachedBitrate
		c.CachedBitrate = &v
	}
	if j.CachedFrameCount != nil {
		v := *j.CachedFrameCount
		c.CachedFrameCount = &v
	}
	if j.CachedFrameRate != nil {
		v := *j.CachedFrameRate
		c.CachedFrameRate = &v
	}
	return &c
}
