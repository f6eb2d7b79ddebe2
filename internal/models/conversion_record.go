package models

import "time"

// maxRecordedLog caps the diagnostic text kept with a history record.
const maxRecordedLog = 4096

// ConversionRecord is the persisted history of one conversion attempt.
// It never carries the job's capability token.
type ConversionRecord struct {
	ID         uint     `gorm:"primarykey" json:"-"`
	JobID      JobID    `gorm:"type:varchar(26);uniqueIndex;not null" json:"job_id"`
	Source     string   `gorm:"size:16;not null" json:"from"`
	Target     string   `gorm:"size:16;index;not null" json:"to"`
	Speed      string   `gorm:"size:16" json:"speed"`
	Outcome    JobState `gorm:"size:16;index;not null" json:"outcome"`
	OutputSize int64    `json:"output_size"`
	DurationMs int64    `json:"duration_ms"`
	Log        string   `gorm:"type:text" json:"log,omitempty"`

	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the table name for conversion records.
func (ConversionRecord) TableName() string {
	return "conversion_records"
}

// NewConversionRecord builds a history record from a resolved job.
func NewConversionRecord(job *Job, speed string, outputSize int64, duration time.Duration, log string) *ConversionRecord {
	if len(log) > maxRecordedLog {
		log = log[len(log)-maxRecordedLog:]
	}
	return &ConversionRecord{
		JobID:      job.ID,
		Source:     job.From,
		Target:     job.To,
		Speed:      speed,
		Outcome:    job.State,
		OutputSize: outputSize,
		DurationMs: duration.Milliseconds(),
		Log:        log,
		StartedAt:  job.StartedAt,
		EndedAt:    job.EndedAt,
	}
}
