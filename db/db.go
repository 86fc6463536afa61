// Package db persists resolved profiles so repeated trend batches do
// not re-crawl the portal for the same person.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/google/uuid"
	"github.com/newshub/resolver/models"
)

// DB wraps the database connection and provides data access methods.
type DB struct {
	conn *sql.DB
}

// Config contains database configuration.
type Config struct {
	DSN string // PostgreSQL connection string
}

// StoredProfile is a persisted Result plus storage metadata.
type StoredProfile struct {
	ID        string        `json:"id"`
	Result    models.Result `json:"result"`
	ImagePath string        `json:"image_path,omitempty"`
	ReportID  string        `json:"report_id,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// New opens a connection, configures the pool and runs migrations.
func New(config Config) (*DB, error) {
	conn, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := Migrate(conn); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// DB returns the underlying connection for metrics collection.
func (db *DB) DB() *sql.DB {
	return db.conn
}

// SaveReport stores the report row and upserts every result in it
// atomically. A re-resolved person (same source and os token) replaces
// the previous record.
func (db *DB) SaveReport(report *models.Report) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	errorsJSON, err := json.Marshal(report.Errors)
	if err != nil {
		return fmt.Errorf("failed to marshal errors: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO reports (id, started_at, elapsed_seconds, errors)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			elapsed_seconds = excluded.elapsed_seconds,
			errors = excluded.errors
	`, report.ID, report.StartedAt, report.Elapsed, string(errorsJSON))
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}

	for i := range report.Results {
		if err := upsertResult(tx, &report.Results[i], report.ID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func upsertResult(tx *sql.Tx, result *models.Result, reportID string) error {
	infoJSON, err := json.Marshal(result.NaverInfo)
	if err != nil {
		return fmt.Errorf("failed to marshal info for os=%s: %w", result.Os, err)
	}
	_, err = tx.Exec(`
		INSERT INTO profiles (id, os, os_source, keyword, profile_url, name, image, info, report_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		ON CONFLICT (os_source, os) DO UPDATE SET
			keyword = excluded.keyword,
			profile_url = excluded.profile_url,
			name = excluded.name,
			image = excluded.image,
			info = excluded.info,
			report_id = excluded.report_id,
			updated_at = now()
	`, uuid.New().String(), result.Os, result.OsSource, result.Keyword,
		result.ProfileURL, result.NaverName, result.NaverImage, string(infoJSON), reportID)
	if err != nil {
		return fmt.Errorf("failed to save profile os=%s: %w", result.Os, err)
	}
	return nil
}

const profileColumns = `id, os, os_source, keyword, profile_url, name, image, info, image_path, report_id, created_at, updated_at`

func scanProfile(row interface{ Scan(...interface{}) error }) (*StoredProfile, error) {
	var p StoredProfile
	var infoJSON string
	err := row.Scan(&p.ID, &p.Result.Os, &p.Result.OsSource, &p.Result.Keyword,
		&p.Result.ProfileURL, &p.Result.NaverName, &p.Result.NaverImage,
		&infoJSON, &p.ImagePath, &p.ReportID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Result.NaverInfo = models.NewInfoMap()
	if err := json.Unmarshal([]byte(infoJSON), p.Result.NaverInfo); err != nil {
		return nil, fmt.Errorf("failed to unmarshal info for %s: %w", p.ID, err)
	}
	return &p, nil
}

// GetByID retrieves a stored profile by record ID. Returns nil when not found.
func (db *DB) GetByID(id string) (*StoredProfile, error) {
	row := db.conn.QueryRow(`SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile %s: %w", id, err)
	}
	return p, nil
}

// GetByOs retrieves a stored profile by source os token. Returns nil when not found.
func (db *DB) GetByOs(osSource, os string) (*StoredProfile, error) {
	row := db.conn.QueryRow(`SELECT `+profileColumns+` FROM profiles WHERE os_source = $1 AND os = $2`, osSource, os)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile os=%s: %w", os, err)
	}
	return p, nil
}

// GetByKeyword retrieves the most recently updated profile for a search
// keyword. Returns nil when not found.
func (db *DB) GetByKeyword(keyword string) (*StoredProfile, error) {
	row := db.conn.QueryRow(`
		SELECT `+profileColumns+` FROM profiles
		WHERE keyword = $1 ORDER BY updated_at DESC LIMIT 1`, keyword)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile keyword=%s: %w", keyword, err)
	}
	return p, nil
}

// List returns stored profiles ordered by last update, newest first.
func (db *DB) List(limit, offset int) ([]*StoredProfile, error) {
	rows, err := db.conn.Query(`
		SELECT `+profileColumns+` FROM profiles
		ORDER BY updated_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var out []*StoredProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteByID removes a stored profile.
func (db *DB) DeleteByID(id string) error {
	res, err := db.conn.Exec(`DELETE FROM profiles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete profile %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no profile found with id %s", id)
	}
	return nil
}

// SetImagePath records where a profile's mirrored image was stored.
func (db *DB) SetImagePath(id, path string) error {
	_, err := db.conn.Exec(`UPDATE profiles SET image_path = $1, updated_at = now() WHERE id = $2`, path, id)
	if err != nil {
		return fmt.Errorf("failed to set image path for %s: %w", id, err)
	}
	return nil
}

// Count returns the number of stored profiles.
func (db *DB) Count() (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM profiles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count profiles: %w", err)
	}
	return n, nil
}
