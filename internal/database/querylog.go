package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	slowQuery    = 500 * time.Millisecond
	maxLoggedSQL = 200
)

var queryLogLevels = map[string]logger.LogLevel{
	"silent": logger.Silent,
	"error":  logger.Error,
	"warn":   logger.Warn,
	"info":   logger.Info,
}

// parseQueryLogLevel maps database.log_level to a GORM level. Unknown values
// log warnings and errors.
func parseQueryLogLevel(level string) logger.LogLevel {
	if l, ok := queryLogLevels[level]; ok {
		return l
	}
	return logger.Warn
}

func clipSQL(sql string) string {
	if len(sql) <= maxLoggedSQL {
		return sql
	}
	return sql[:maxLoggedSQL] + "... (truncated)"
}

// queryLogger routes GORM output to slog. Failed queries log at error, slow
// ones at warn, and the rest at debug when the level is info.
type queryLogger struct {
	logger *slog.Logger
	level  logger.LogLevel
}

func newQueryLogger(log *slog.Logger, level logger.LogLevel) *queryLogger {
	return &queryLogger{logger: log, level: level}
}

func (q *queryLogger) LogMode(level logger.LogLevel) logger.Interface {
	return newQueryLogger(q.logger, level)
}

func (q *queryLogger) Info(ctx context.Context, msg string, args ...any) {
	q.printf(ctx, logger.Info, slog.LevelInfo, msg, args)
}

func (q *queryLogger) Warn(ctx context.Context, msg string, args ...any) {
	q.printf(ctx, logger.Warn, slog.LevelWarn, msg, args)
}

func (q *queryLogger) Error(ctx context.Context, msg string, args ...any) {
	q.printf(ctx, logger.Error, slog.LevelError, msg, args)
}

func (q *queryLogger) printf(ctx context.Context, threshold logger.LogLevel, level slog.Level, msg string, args []any) {
	if q.level >= threshold {
		q.logger.Log(ctx, level, fmt.Sprintf(msg, args...))
	}
}

// Trace only calls fc, which renders the SQL, when the query will be logged.
func (q *queryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if q.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)

	var (
		level slog.Level
		msg   string
	)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && q.level >= logger.Error:
		level, msg = slog.LevelError, "database error"
	case elapsed > slowQuery && q.level >= logger.Warn:
		level, msg = slog.LevelWarn, "slow query"
	case q.level >= logger.Info && q.logger.Enabled(ctx, slog.LevelDebug):
		level, msg = slog.LevelDebug, "database query"
	default:
		return
	}

	sql, rows := fc()
	attrs := []slog.Attr{
		slog.String("sql", clipSQL(sql)),
		slog.Int64("rows", rows),
		slog.Duration("elapsed", elapsed),
	}
	if level == slog.LevelError {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	q.logger.LogAttrs(ctx, level, msg, attrs...)
}
