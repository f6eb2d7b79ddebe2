package migrations

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func noop(*gorm.DB) error { return nil }

func TestSteps_Valid(t *testing.T) {
	require.NoError(t, validate(Steps()))
}

func TestRun_AppliesHistorySchema(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	ran, err := Run(ctx, db, quiet, Steps())
	require.NoError(t, err)
	assert.Equal(t, len(Steps()), ran)
	assert.True(t, db.Migrator().HasTable("conversion_records"))
	assert.True(t, db.Migrator().HasIndex("conversion_records", endedAtIndex))

	ran, err = Run(ctx, db, quiet, Steps())
	require.NoError(t, err)
	assert.Zero(t, ran, "second run is a no-op")

	version, err := Current(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, Steps()[len(Steps())-1].Version, version)
}

func TestRun_OnlyNewSteps(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	var calls []int
	step := func(v int) Step {
		return Step{Version: v, Name: "step", Apply: func(*gorm.DB) error {
			calls = append(calls, v)
			return nil
		}}
	}

	_, err := Run(ctx, db, quiet, []Step{step(1)})
	require.NoError(t, err)
	_, err = Run(ctx, db, quiet, []Step{step(1), step(2), step(5)})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 5}, calls)
}

func TestRun_FailedStepRollsBack(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	ran, err := Run(ctx, db, quiet, []Step{
		{Version: 1, Name: "ok", Apply: noop},
		{Version: 2, Name: "broken", Apply: func(*gorm.DB) error { return errors.New("boom") }},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration 2 (broken)")
	assert.Equal(t, 1, ran)

	version, err := Current(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestRun_RefusesNewerSchema(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := Run(ctx, db, quiet, []Step{{Version: 1, Name: "a", Apply: noop}, {Version: 9, Name: "b", Apply: noop}})
	require.NoError(t, err)

	_, err = Run(ctx, db, quiet, []Step{{Version: 1, Name: "a", Apply: noop}})
	assert.ErrorIs(t, err, ErrSchemaTooNew)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		steps []Step
		ok    bool
	}{
		{"empty", nil, true},
		{"ordered", []Step{{Version: 1, Apply: noop}, {Version: 3, Apply: noop}}, true},
		{"duplicate", []Step{{Version: 1, Apply: noop}, {Version: 1, Apply: noop}}, false},
		{"descending", []Step{{Version: 2, Apply: noop}, {Version: 1, Apply: noop}}, false},
		{"zero version", []Step{{Version: 0, Apply: noop}}, false},
		{"nil apply", []Step{{Version: 1}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate(tt.steps)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
