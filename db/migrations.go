package db

import (
	"database/sql"
	"fmt"
	"sort"
)

// Migration is a single versioned schema change.
type Migration struct {
	Version int
	Name    string
	Up      string
}

var migrations = []Migration{
	{
		Version: 1,
		Name:    "create_profiles",
		Up: `
			CREATE TABLE IF NOT EXISTS profiles (
				id TEXT PRIMARY KEY,
				os TEXT NOT NULL,
				os_source TEXT NOT NULL,
				keyword TEXT NOT NULL,
				profile_url TEXT NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				image TEXT NOT NULL DEFAULT '',
				info JSONB NOT NULL DEFAULT '{}',
				report_id TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				UNIQUE (os_source, os)
			);
			CREATE INDEX IF NOT EXISTS idx_profiles_keyword ON profiles (keyword);
		`,
	},
	{
		Version: 2,
		Name:    "create_reports",
		Up: `
			CREATE TABLE IF NOT EXISTS reports (
				id TEXT PRIMARY KEY,
				started_at TIMESTAMPTZ NOT NULL,
				elapsed_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
				errors JSONB NOT NULL DEFAULT '[]'
			);
		`,
	},
	{
		Version: 3,
		Name:    "add_image_path",
		Up: `
			ALTER TABLE profiles ADD COLUMN IF NOT EXISTS image_path TEXT NOT NULL DEFAULT '';
		`,
	},
}

// Migrate runs all pending migrations in version order.
func Migrate(db *sql.DB) error {
	if err := ensureMigrationsTable(db); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	current, err := currentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	pending := make([]Migration, len(migrations))
	copy(pending, migrations)
	sort.Slice(pending, func(i, j int) bool { return pending[i].Version < pending[j].Version })

	for _, m := range pending {
		if m.Version <= current {
			continue
		}
		if err := runMigration(db, m); err != nil {
			return fmt.Errorf("failed to run migration %d (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

func ensureMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ DEFAULT now()
		);
	`)
	return err
}

func currentVersion(db *sql.DB) (int, error) {
	var version sql.NullInt64
	err := db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}

func runMigration(db *sql.DB, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.Up); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version, name) VALUES ($1, $2)", m.Version, m.Name); err != nil {
		return err
	}
	return tx.Commit()
}
