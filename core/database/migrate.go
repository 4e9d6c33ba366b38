package database

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	coreconfig "github.com/m3rciful/charmbot/core/config"
	"github.com/m3rciful/charmbot/core/logger"
)

// RunMigrations applies every pending up migration from ./migrations.
func RunMigrations(cfg coreconfig.DatabaseConfig) error {
	dsn := URL(cfg)
	if err := WaitForPostgres(dsn, 30*time.Second); err != nil {
		logger.Error(logger.Background(), "db.migrate", "db.not_ready",
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("database not ready: %w", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	m, err := migrate.New("file://"+filepath.Join(cwd, "migrations"), dsn)
	if err != nil {
		logger.Error(logger.Background(), "db.migrate", "init_failed",
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}

	fromVer, _, _ := m.Version()
	start := time.Now()
	upErr := m.Up()
	took := time.Since(start)

	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		logger.Error(logger.Background(), "db.migrate", "apply",
			slog.String("err", upErr.Error()),
			slog.Duration("duration", took),
		)
		return fmt.Errorf("migration execution failed: %w", upErr)
	}

	toVer, _, _ := m.Version()
	logger.Info(logger.Background(), "db.migrate", "summary",
		slog.Uint64("from_ver", uint64(fromVer)),
		slog.Uint64("to_ver", uint64(toVer)),
		slog.Duration("duration", took),
	)
	return nil
}
