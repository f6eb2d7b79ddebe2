// Package repository provides data access for the conversion history.
package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/jmylchreest/vertd/internal/models"
)

// ConversionRepository persists conversion history records.
type ConversionRepository interface {
	// Record stores a history record. Recording the same job twice is a no-op.
	Record(ctx context.Context, rec *models.ConversionRecord) error
	// Summary aggregates the stored history.
	Summary(ctx context.Context) (*Summary, error)
	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]*models.ConversionRecord, error)
}

// Summary holds aggregate history counts.
type Summary struct {
	Total        int64                     `json:"total"`
	ByOutcome    map[models.JobState]int64 `json:"by_outcome"`
	ByTarget     map[string]int64          `json:"by_target"`
	AvgDuration  int64                     `json:"avg_duration_ms"`
	BytesWritten int64                     `json:"bytes_written"`
}

// EmptySummary returns a summary with no recorded conversions.
func EmptySummary() *Summary {
	return &Summary{
		ByOutcome: map[models.JobState]int64{},
		ByTarget:  map[string]int64{},
	}
}

// conversionRepo implements ConversionRepository using GORM.
type conversionRepo struct {
	db *gorm.DB
}

// NewConversionRepository creates a new ConversionRepository.
func NewConversionRepository(db *gorm.DB) *conversionRepo {
	return &conversionRepo{db: db}
}

// Record inserts a history record, ignoring duplicates of the same job.
func (r *conversionRepo) Record(ctx context.Context, rec *models.ConversionRecord) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.ConversionRecord{}).
		Where("job_id = ?", rec.JobID).Count(&count).Error; err != nil {
		return fmt.Errorf("checking conversion record: %w", err)
	}
	if count > 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("creating conversion record: %w", err)
	}
	return nil
}

type groupCount struct {
	Name  string
	Count int64
}

// Summary aggregates counts per outcome and per target format.
func (r *conversionRepo) Summary(ctx context.Context) (*Summary, error) {
	summary := EmptySummary()
	db := r.db.WithContext(ctx).Model(&models.ConversionRecord{})

	if err := db.Count(&summary.Total).Error; err != nil {
		return nil, fmt.Errorf("counting conversion records: %w", err)
	}
	if summary.Total == 0 {
		return summary, nil
	}

	var outcomes []groupCount
	if err := r.db.WithContext(ctx).Model(&models.ConversionRecord{}).
		Select("outcome AS name, COUNT(*) AS count").Group("outcome").
		Scan(&outcomes).Error; err != nil {
		return nil, fmt.Errorf("grouping by outcome: %w", err)
	}
	for _, g := range outcomes {
		summary.ByOutcome[models.JobState(g.Name)] = g.Count
	}

	var targets []groupCount
	if err := r.db.WithContext(ctx).Model(&models.ConversionRecord{}).
		Select("target AS name, COUNT(*) AS count").Group("target").
		Scan(&targets).Error; err != nil {
		return nil, fmt.Errorf("grouping by target: %w", err)
	}
	for _, g := range targets {
		summary.ByTarget[g.Name] = g.Count
	}

	var totals struct {
		AvgDuration  float64
		BytesWritten int64
	}
	if err := r.db.WithContext(ctx).Model(&models.ConversionRecord{}).
		Select("COALESCE(AVG(duration_ms), 0) AS avg_duration, COALESCE(SUM(output_size), 0) AS bytes_written").
		Where("outcome = ?", models.JobStateCompleted).
		Scan(&totals).Error; err != nil {
		return nil, fmt.Errorf("aggregating completed conversions: %w", err)
	}
	summary.AvgDuration = int64(totals.AvgDuration)
	summary.BytesWritten = totals.BytesWritten

	return summary, nil
}

// Recent returns the newest records first.
func (r *conversionRepo) Recent(ctx context.Context, limit int) ([]*models.ConversionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []*models.ConversionRecord
	if err := r.db.WithContext(ctx).Order("ended_at DESC, id DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("getting recent conversions: %w", err)
	}
	return records, nil
}
