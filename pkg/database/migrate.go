package database

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/ridepulse/ridepulse/pkg/config"
)

// Migrate applies all pending SQL migrations from the given directory.
// Safe to call from every service at startup; a no-op when up to date.
func Migrate(cfg *config.DatabaseConfig, migrationsDir string) error {
	m, err := migrate.New("file://"+migrationsDir, cfg.DSN())
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
