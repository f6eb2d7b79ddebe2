// Package database opens the conversion history database. SQLite,
// PostgreSQL and MySQL are supported through GORM.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/jmylchreest/vertd/internal/config"
	"github.com/jmylchreest/vertd/internal/database/migrations"
)

// sqlitePragmas apply to every SQLite connection. File databases add
// fileDBPragmas.
var (
	sqlitePragmas = []string{"busy_timeout(10000)", "foreign_keys(ON)"}
	fileDBPragmas = []string{"journal_mode(WAL)", "synchronous(NORMAL)"}
)

// DB is an open history database.
type DB struct {
	*gorm.DB
	logger *slog.Logger
}

// New opens the database described by cfg and sizes its connection pool.
func New(cfg config.DatabaseConfig, log *slog.Logger) (*DB, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "database"))

	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}
	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 newQueryLogger(log, parseQueryLogLevel(cfg.LogLevel)),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", cfg.Driver, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	maxOpen, maxIdle := cfg.MaxOpenConns, cfg.MaxIdleConns
	if inMemory(cfg) {
		// Each connection to :memory: opens a distinct database.
		maxOpen, maxIdle = 1, 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	log.Info("history database opened",
		slog.String("driver", cfg.Driver),
		slog.Int("max_open_conns", maxOpen),
	)
	return &DB{DB: gdb, logger: log}, nil
}

func inMemory(cfg config.DatabaseConfig) bool {
	return cfg.Driver == "sqlite" && strings.Contains(cfg.DSN, ":memory:")
}

func dialectorFor(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "sqlite":
		pragmas := sqlitePragmas
		if !inMemory(cfg) {
			pragmas = append(append([]string{}, sqlitePragmas...), fileDBPragmas...)
		}
		return sqlite.Open(withPragmas(cfg.DSN, pragmas)), nil
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	case "mysql":
		return mysql.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// withPragmas appends _pragma query parameters to a SQLite DSN.
func withPragmas(dsn string, pragmas []string) string {
	var b strings.Builder
	b.WriteString(dsn)
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	for _, p := range pragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate(ctx context.Context) error {
	ran, err := migrations.Run(ctx, db.DB, db.logger, migrations.Steps())
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	if ran > 0 {
		db.logger.InfoContext(ctx, "history schema migrated", slog.Int("applied", ran))
	}
	return nil
}

// Ping verifies the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close closes every pooled connection.
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}
