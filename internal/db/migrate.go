package db

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"blog-api/internal/observability"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const migrationsDir = "migrations"

type MigrateCommand string

const (
	MigrateUp     MigrateCommand = "up"
	MigrateDown   MigrateCommand = "down"
	MigrateStatus MigrateCommand = "status"
)

// RunMigrations applies the embedded goose migrations over the pool.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, logger *observability.Logger) error {
	return Migrate(ctx, pool, logger, MigrateUp)
}

func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *observability.Logger, command MigrateCommand) error {
	database := stdlib.OpenDBFromPool(pool)
	defer database.Close()

	goose.SetBaseFS(migrationFiles)
	goose.SetLogger(gooseLogger{logger: logger})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	var err error
	switch command {
	case MigrateUp:
		err = goose.UpContext(ctx, database, migrationsDir)
	case MigrateDown:
		err = goose.DownContext(ctx, database, migrationsDir)
	case MigrateStatus:
		err = goose.StatusContext(ctx, database, migrationsDir)
	default:
		return fmt.Errorf("unknown migrate command %q", command)
	}
	if err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}

// gooseLogger routes goose output through the JSON logger.
type gooseLogger struct {
	logger *observability.Logger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.logger.Info("migration", map[string]any{"detail": fmt.Sprintf(format, v...)})
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.logger.Error("migration_failed", map[string]any{"detail": fmt.Sprintf(format, v...)})
}
