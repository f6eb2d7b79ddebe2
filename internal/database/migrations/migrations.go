// Package migrations versions the history database schema.
package migrations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

// ErrSchemaTooNew means the database was migrated by a newer vertd.
var ErrSchemaTooNew = errors.New("database schema is newer than this binary")

// Step is one schema change. Steps run in slice order and Version must
// increase strictly along the slice.
type Step struct {
	Version int
	Name    string
	Apply   func(tx *gorm.DB) error
}

// applied marks a step that has run against the database.
type applied struct {
	Version   int       `gorm:"primaryKey;autoIncrement:false"`
	Name      string    `gorm:"size:128;not null"`
	AppliedAt time.Time `gorm:"not null"`
}

func (applied) TableName() string { return "schema_migrations" }

// Run applies every step newer than the recorded schema version. Each step
// and its bookkeeping row share one transaction. It returns how many steps
// ran.
func Run(ctx context.Context, db *gorm.DB, logger *slog.Logger, steps []Step) (int, error) {
	if err := validate(steps); err != nil {
		return 0, err
	}
	current, err := Current(ctx, db)
	if err != nil {
		return 0, err
	}
	if n := len(steps); n > 0 && current > steps[n-1].Version {
		return 0, fmt.Errorf("%w: database at %d, binary knows %d", ErrSchemaTooNew, current, steps[n-1].Version)
	}

	ran := 0
	for _, step := range steps {
		if step.Version <= current {
			continue
		}
		logger.InfoContext(ctx, "applying migration",
			slog.Int("version", step.Version),
			slog.String("name", step.Name),
		)
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := step.Apply(tx); err != nil {
				return err
			}
			return tx.Create(&applied{Version: step.Version, Name: step.Name, AppliedAt: time.Now().UTC()}).Error
		})
		if err != nil {
			return ran, fmt.Errorf("migration %d (%s): %w", step.Version, step.Name, err)
		}
		ran++
	}
	return ran, nil
}

// Current returns the highest applied version, or 0 for a fresh database.
func Current(ctx context.Context, db *gorm.DB) (int, error) {
	if err := db.WithContext(ctx).AutoMigrate(&applied{}); err != nil {
		return 0, fmt.Errorf("creating schema_migrations: %w", err)
	}
	var latest []applied
	if err := db.WithContext(ctx).Order("version DESC").Limit(1).Find(&latest).Error; err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	if len(latest) == 0 {
		return 0, nil
	}
	return latest[0].Version, nil
}

func validate(steps []Step) error {
	prev := 0
	for _, s := range steps {
		if s.Version <= prev {
			return fmt.Errorf("migration %d (%s) is out of order", s.Version, s.Name)
		}
		if s.Apply == nil {
			return fmt.Errorf("migration %d (%s) has no Apply", s.Version, s.Name)
		}
		prev = s.Version
	}
	return nil
}
