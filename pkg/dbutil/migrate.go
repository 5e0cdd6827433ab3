package dbutil

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Component groups the migrations of one package under its own version line
type Component struct {
	Name       string
	Migrations []Migration
}

const createMigrationsTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		component VARCHAR(64) NOT NULL,
		version INTEGER NOT NULL,
		description TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (component, version)
	)
`

// Migrate applies every pending migration of each component in order. Each
// migration runs in its own transaction together with its bookkeeping row.
func Migrate(ctx context.Context, db *sql.DB, logger *logrus.Logger, components ...Component) error {
	if logger == nil {
		logger = logrus.New()
	}

	if _, err := db.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	for _, component := range components {
		applied, err := appliedVersions(ctx, db, component.Name)
		if err != nil {
			return err
		}

		for _, m := range component.Migrations {
			if applied[m.Version] {
				continue
			}

			log := logger.WithFields(logrus.Fields{
				"component": component.Name,
				"version":   m.Version,
			})
			log.Infof("Applying migration: %s", m.Description)

			err := WithTx(ctx, db, nil, func(tx *sql.Tx) error {
				if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
					return fmt.Errorf("failed to execute %s migration %d: %w", component.Name, m.Version, err)
				}
				if _, err := tx.ExecContext(ctx,
					"INSERT INTO schema_migrations (component, version, description) VALUES ($1, $2, $3)",
					component.Name, m.Version, m.Description,
				); err != nil {
					return fmt.Errorf("failed to record %s migration %d: %w", component.Name, m.Version, err)
				}
				return nil
			})
			if err != nil {
				log.WithError(err).Error("Migration failed")
				return err
			}
		}
	}

	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB, component string) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations WHERE component = $1", component)
	if err != nil {
		return nil, fmt.Errorf("failed to list applied migrations for %s: %w", component, err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}
