// Package store persists InstalledExtension records in SQLite.
//
// The store is a narrow collaborator: it owns record CRUD and nothing else.
// All lifecycle decisions (what may transition where, and when) belong to the
// lifecycle service.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vk/plugboard/internal/store/migrations"
)

// Status is an installed extension's lifecycle state. "Not installed" is
// represented by the absence of a record.
type Status string

const (
	StatusInstalling   Status = "installing"
	StatusInstalled    Status = "installed"
	StatusEnabled      Status = "enabled"
	StatusDisabled     Status = "disabled"
	StatusUninstalling Status = "uninstalling"
	StatusError        Status = "error"
)

// ErrNotFound is returned when no record exists for an extension id.
var ErrNotFound = errors.New("extension record not found")

// Record is the persisted form of an installed extension: its manifest
// fields plus installation metadata. Records are created on successful
// extraction, mutated only by lifecycle transitions, and deleted on
// successful uninstall.
type Record struct {
	ID          string
	Name        string
	Version     string
	Type        string
	Author      string
	Main        string
	Description string
	Homepage    string
	Repository  string
	HostRange   string

	Dependencies []string
	Permissions  []string
	Tags         []string

	InstallPath   string
	FileSize      int64
	Checksum      string
	Status        Status
	IsBuiltIn     bool
	IsVerified    bool
	InstalledAt   time.Time
	EnabledAt     time.Time
	LastError     string
	UploadedBy    string
	InstallNote   string
	DownloadCount int64
	UseCount      int64
}

// Store is a SQLite-backed record store.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}

// Open opens (creating if needed) the store at path and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func applyMigrations(sqlDB *sql.DB) error {
	if _, err := sqlDB.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	entries, err := migrations.FS.ReadDir(".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		var count int
		if err := sqlDB.QueryRow(`SELECT COUNT(1) FROM schema_migrations WHERE name = ?`, entry.Name()).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if count > 0 {
			continue
		}

		content, err := migrations.FS.ReadFile(entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := sqlDB.Exec(string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", entry.Name(), err)
		}
		if _, err := sqlDB.Exec(`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`,
			entry.Name(), time.Now().UTC().UnixMilli()); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

func marshalList(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(list)
	return string(b)
}

func unmarshalList(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

// Put inserts or fully replaces a record.
func (s *Store) Put(ctx context.Context, rec *Record) error {
	if rec == nil || strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("record id is required")
	}
	_, err := s.sqlDB.ExecContext(ctx, `
		INSERT OR REPLACE INTO installed_extensions (
			id, name, version, type, author, main,
			description, homepage, repository, host_range,
			dependencies, permissions, tags,
			install_path, file_size, checksum, status,
			is_builtin, is_verified, installed_at, enabled_at,
			last_error, uploaded_by, install_note, download_count, use_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.Version, rec.Type, rec.Author, rec.Main,
		rec.Description, rec.Homepage, rec.Repository, rec.HostRange,
		marshalList(rec.Dependencies), marshalList(rec.Permissions), marshalList(rec.Tags),
		rec.InstallPath, rec.FileSize, rec.Checksum, string(rec.Status),
		rec.IsBuiltIn, rec.IsVerified, toMillis(rec.InstalledAt), toMillis(rec.EnabledAt),
		rec.LastError, rec.UploadedBy, rec.InstallNote, rec.DownloadCount, rec.UseCount,
	)
	if err != nil {
		return fmt.Errorf("put record %s: %w", rec.ID, err)
	}
	return nil
}

const recordColumns = `id, name, version, type, author, main,
	description, homepage, repository, host_range,
	dependencies, permissions, tags,
	install_path, file_size, checksum, status,
	is_builtin, is_verified, installed_at, enabled_at,
	last_error, uploaded_by, install_note, download_count, use_count`

func scanRecord(row interface{ Scan(...any) error }) (*Record, error) {
	var rec Record
	var deps, perms, tags string
	var status string
	var installedAt, enabledAt int64
	err := row.Scan(
		&rec.ID, &rec.Name, &rec.Version, &rec.Type, &rec.Author, &rec.Main,
		&rec.Description, &rec.Homepage, &rec.Repository, &rec.HostRange,
		&deps, &perms, &tags,
		&rec.InstallPath, &rec.FileSize, &rec.Checksum, &status,
		&rec.IsBuiltIn, &rec.IsVerified, &installedAt, &enabledAt,
		&rec.LastError, &rec.UploadedBy, &rec.InstallNote, &rec.DownloadCount, &rec.UseCount,
	)
	if err != nil {
		return nil, err
	}
	rec.Dependencies = unmarshalList(deps)
	rec.Permissions = unmarshalList(perms)
	rec.Tags = unmarshalList(tags)
	rec.Status = Status(status)
	rec.InstalledAt = fromMillis(installedAt)
	rec.EnabledAt = fromMillis(enabledAt)
	return &rec, nil
}

// Get returns the record for an extension id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM installed_extensions WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", id, err)
	}
	return rec, nil
}

// List returns every installed extension record, ordered by id.
func (s *Store) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM installed_extensions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SetStatus updates an extension's lifecycle status and last error. Enabling
// also stamps enabled_at and bumps the use counter.
func (s *Store) SetStatus(ctx context.Context, id string, status Status, lastError string) error {
	var res sql.Result
	var err error
	if status == StatusEnabled {
		res, err = s.sqlDB.ExecContext(ctx, `
			UPDATE installed_extensions
			SET status = ?, last_error = ?, enabled_at = ?, use_count = use_count + 1
			WHERE id = ?`,
			string(status), lastError, time.Now().UTC().UnixMilli(), id)
	} else {
		res, err = s.sqlDB.ExecContext(ctx, `
			UPDATE installed_extensions
			SET status = ?, last_error = ?
			WHERE id = ?`,
			string(status), lastError, id)
	}
	if err != nil {
		return fmt.Errorf("set status %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set status %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateMetadata overwrites the mutable manifest-derived fields without
// touching lifecycle state, used by metadata-only hot reloads.
func (s *Store) UpdateMetadata(ctx context.Context, rec *Record) error {
	res, err := s.sqlDB.ExecContext(ctx, `
		UPDATE installed_extensions
		SET name = ?, version = ?, description = ?, homepage = ?, repository = ?,
		    host_range = ?, tags = ?, permissions = ?
		WHERE id = ?`,
		rec.Name, rec.Version, rec.Description, rec.Homepage, rec.Repository,
		rec.HostRange, marshalList(rec.Tags), marshalList(rec.Permissions), rec.ID)
	if err != nil {
		return fmt.Errorf("update metadata %s: %w", rec.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update metadata %s: %w", rec.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", rec.ID, ErrNotFound)
	}
	return nil
}

// Delete removes a record. Deleting a missing record is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM installed_extensions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	return nil
}
