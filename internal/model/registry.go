package model

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/factoryml/factoryml/internal/errors"
	"github.com/factoryml/factoryml/pkg/types"
)

// Registry persists the model deployment audit trail in registry.db:
// archive entries, model switches, and candidate validation verdicts.
// Rows are append-only; retention is external.
type Registry struct {
	db *sql.DB
	mu sync.Mutex // single writer
}

// SwitchRecord is one promoted model switch.
type SwitchRecord struct {
	ID          string
	OldPath     string
	NewPath     string
	Fingerprint string
	SwitchedAt  time.Time
}

// ValidationRecord is one candidate validation verdict.
type ValidationRecord struct {
	ID          string
	Path        string
	Fingerprint string
	OK          bool
	Message     string
	CheckedAt   time.Time
}

// OpenRegistry opens (creating if needed) the registry database.
func OpenRegistry(dbPath string) (*Registry, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCategoryModel, errors.CodeRegistryFailed,
			"failed to open registry database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	r := &Registry{db: db}
	if err := r.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Registry) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS archive_entries (
			id TEXT PRIMARY KEY,
			original_path TEXT NOT NULL,
			archived_path TEXT NOT NULL,
			archived_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS model_switches (
			id TEXT PRIMARY KEY,
			old_path TEXT NOT NULL,
			new_path TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			switched_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS model_validations (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			ok INTEGER NOT NULL,
			message TEXT NOT NULL,
			checked_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.Exec(stmt); err != nil {
			return errors.Wrap(errors.ErrCategoryModel, errors.CodeRegistryFailed,
				"failed to initialize registry schema", err)
		}
	}
	return nil
}

// RecordArchive stores an archive entry.
func (r *Registry) RecordArchive(ctx context.Context, entry *types.ArchiveEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO archive_entries (id, original_path, archived_path, archived_at) VALUES (?, ?, ?, ?)`,
		entry.ID, entry.OriginalPath, entry.ArchivedPath, entry.ArchivedAt.UTC())
	if err != nil {
		return errors.Wrap(errors.ErrCategoryModel, errors.CodeRegistryFailed,
			fmt.Sprintf("failed to record archive entry %s", entry.ID), err)
	}
	return nil
}

// RecordSwitch stores a model switch and returns its record. The fingerprint
// identifies the promoted model file's contents.
func (r *Registry) RecordSwitch(ctx context.Context, oldPath, newPath, fingerprint string, at time.Time) (*SwitchRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := &SwitchRecord{
		ID:          uuid.NewString(),
		OldPath:     oldPath,
		NewPath:     newPath,
		Fingerprint: fingerprint,
		SwitchedAt:  at.UTC(),
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO model_switches (id, old_path, new_path, fingerprint, switched_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.OldPath, rec.NewPath, rec.Fingerprint, rec.SwitchedAt)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCategoryModel, errors.CodeRegistryFailed,
			"failed to record model switch", err)
	}
	return rec, nil
}

// RecordValidation stores a candidate validation verdict.
func (r *Registry) RecordValidation(ctx context.Context, path, fingerprint string, ok bool, message string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO model_validations (id, path, fingerprint, ok, message, checked_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), path, fingerprint, boolToInt(ok), message, at.UTC())
	if err != nil {
		return errors.Wrap(errors.ErrCategoryModel, errors.CodeRegistryFailed,
			"failed to record model validation", err)
	}
	return nil
}

// ListArchives returns all archive entries, newest first.
func (r *Registry) ListArchives(ctx context.Context) ([]types.ArchiveEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, original_path, archived_path, archived_at FROM archive_entries ORDER BY archived_at DESC`)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCategoryModel, errors.CodeRegistryFailed,
			"failed to list archive entries", err)
	}
	defer rows.Close()

	var entries []types.ArchiveEntry
	for rows.Next() {
		var e types.ArchiveEntry
		if err := rows.Scan(&e.ID, &e.OriginalPath, &e.ArchivedPath, &e.ArchivedAt); err != nil {
			return nil, errors.Wrap(errors.ErrCategoryModel, errors.CodeRegistryFailed,
				"failed to scan archive entry", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListSwitches returns all model switches, newest first.
func (r *Registry) ListSwitches(ctx context.Context) ([]SwitchRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, old_path, new_path, fingerprint, switched_at FROM model_switches ORDER BY switched_at DESC`)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCategoryModel, errors.CodeRegistryFailed,
			"failed to list model switches", err)
	}
	defer rows.Close()

	var records []SwitchRecord
	for rows.Next() {
		var rec SwitchRecord
		if err := rows.Scan(&rec.ID, &rec.OldPath, &rec.NewPath, &rec.Fingerprint, &rec.SwitchedAt); err != nil {
			return nil, errors.Wrap(errors.ErrCategoryModel, errors.CodeRegistryFailed,
				"failed to scan model switch", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the registry database.
func (r *Registry) Close() error {
	return r.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
