package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.0.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
}

const migrationV1Up = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Deduplicated file content, keyed by lowercase hex SHA-256
CREATE TABLE IF NOT EXISTS content_blobs (
    hash TEXT PRIMARY KEY,
    language TEXT NOT NULL DEFAULT '',
    is_binary BOOLEAN NOT NULL DEFAULT 0,
    byte_len INTEGER NOT NULL,
    line_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Content-defined chunks shared across blobs
CREATE TABLE IF NOT EXISTS chunks (
    hash TEXT PRIMARY KEY,
    byte_len INTEGER NOT NULL,
    data BLOB NOT NULL,
    ref_count INTEGER NOT NULL DEFAULT 0 CHECK (ref_count >= 0)
);

-- Manifest: which chunks assemble which blob, in order
CREATE TABLE IF NOT EXISTS blob_chunks (
    content_hash TEXT NOT NULL,
    chunk_hash TEXT NOT NULL,
    chunk_index INTEGER NOT NULL,
    byte_offset INTEGER NOT NULL,
    line_count INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (content_hash, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_blob_chunks_chunk ON blob_chunks(chunk_hash);

-- Full-text search over text chunk content. Rows are inserted
-- explicitly at store time (binary chunks are never indexed); the
-- delete trigger below keeps it in sync with chunk removal.
CREATE VIRTUAL TABLE IF NOT EXISTS chunk_fts USING fts5(
    content,
    chunk_hash UNINDEXED,
    tokenize='trigram'
);

CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
    DELETE FROM chunk_fts WHERE chunk_hash = old.hash;
END;

-- File pointers: path within a commit -> content
CREATE TABLE IF NOT EXISTS files (
    repository TEXT NOT NULL,
    commit_sha TEXT NOT NULL,
    file_path TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    PRIMARY KEY (repository, commit_sha, file_path)
);

CREATE INDEX IF NOT EXISTS idx_files_hash ON files(content_hash);
CREATE INDEX IF NOT EXISTS idx_files_repo ON files(repository);

-- Symbols, keyed by content hash (namespace '' means none)
CREATE TABLE IF NOT EXISTS symbols (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    content_hash TEXT NOT NULL,
    namespace TEXT NOT NULL DEFAULT '',
    name TEXT NOT NULL,
    fully_qualified TEXT NOT NULL,
    kind TEXT NOT NULL,
    line_number INTEGER NOT NULL,
    column_number INTEGER NOT NULL DEFAULT 0,
    UNIQUE(content_hash, namespace, name, kind, line_number, column_number)
);

CREATE INDEX IF NOT EXISTS idx_symbols_hash ON symbols(content_hash);
CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);

-- Symbol use sites
CREATE TABLE IF NOT EXISTS symbol_references (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    content_hash TEXT NOT NULL,
    namespace TEXT NOT NULL DEFAULT '',
    name TEXT NOT NULL,
    fully_qualified TEXT NOT NULL,
    kind TEXT NOT NULL,
    line_number INTEGER NOT NULL,
    column_number INTEGER NOT NULL DEFAULT 0,
    UNIQUE(content_hash, namespace, name, kind, line_number, column_number)
);

CREATE INDEX IF NOT EXISTS idx_symbol_refs_hash ON symbol_references(content_hash);
CREATE INDEX IF NOT EXISTS idx_symbol_refs_name ON symbol_references(name);

-- Symbol name cache: case-folded lookup surface
CREATE TABLE IF NOT EXISTS symbol_names (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    lower_name TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS symbol_name_refs (
    name_id INTEGER NOT NULL,
    content_hash TEXT NOT NULL,
    PRIMARY KEY (name_id, content_hash)
);

CREATE INDEX IF NOT EXISTS idx_name_refs_hash ON symbol_name_refs(content_hash);

-- Retention policy tables
CREATE TABLE IF NOT EXISTS branch_policies (
    repository TEXT NOT NULL,
    branch TEXT NOT NULL,
    latest_keep_count INTEGER NOT NULL CHECK (latest_keep_count >= 1),
    PRIMARY KEY (repository, branch)
);

CREATE TABLE IF NOT EXISTS branch_snapshot_policies (
    repository TEXT NOT NULL,
    branch TEXT NOT NULL,
    interval_seconds INTEGER NOT NULL CHECK (interval_seconds > 0),
    keep_count INTEGER NOT NULL CHECK (keep_count > 0),
    PRIMARY KEY (repository, branch, interval_seconds)
);

-- Live-branch pointer. head_commit is the branch's last ingested
-- commit; a commit named here is never pruned.
CREATE TABLE IF NOT EXISTS repo_live_branches (
    repository TEXT PRIMARY KEY,
    branch TEXT NOT NULL,
    head_commit TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS branch_snapshots (
    repository TEXT NOT NULL,
    branch TEXT NOT NULL,
    commit_sha TEXT NOT NULL,
    indexed_at TIMESTAMP NOT NULL,
    PRIMARY KEY (repository, branch, commit_sha)
);

CREATE INDEX IF NOT EXISTS idx_snapshots_commit ON branch_snapshots(repository, commit_sha);
CREATE INDEX IF NOT EXISTS idx_snapshots_indexed ON branch_snapshots(repository, branch, indexed_at);
`

const migrationV1Down = `
DROP TRIGGER IF EXISTS chunks_ad;

DROP TABLE IF EXISTS branch_snapshots;
DROP TABLE IF EXISTS repo_live_branches;
DROP TABLE IF EXISTS branch_snapshot_policies;
DROP TABLE IF EXISTS branch_policies;
DROP TABLE IF EXISTS symbol_name_refs;
DROP TABLE IF EXISTS symbol_names;
DROP TABLE IF EXISTS symbol_references;
DROP TABLE IF EXISTS symbols;
DROP TABLE IF EXISTS files;
DROP TABLE IF EXISTS chunk_fts;
DROP TABLE IF EXISTS blob_chunks;
DROP TABLE IF EXISTS chunks;
DROP TABLE IF EXISTS content_blobs;
DROP TABLE IF EXISTS schema_version;
`

// ApplyMigrations runs all pending migrations
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	// Check if schema_version table exists
	var tableName string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)

	// Parse current version (default to 0.0.0 if no migrations applied or table doesn't exist)
	var currentVersion *semver.Version
	if err == sql.ErrNoRows {
		currentVersion = semver.MustParse("0.0.0")
	} else if err != nil {
		return fmt.Errorf("failed to check schema_version table: %w", err)
	} else {
		var currentVersionStr string
		err = db.QueryRowContext(ctx, "SELECT version FROM schema_version ORDER BY applied_at DESC LIMIT 1").Scan(&currentVersionStr)
		if err == sql.ErrNoRows || currentVersionStr == "" {
			currentVersion = semver.MustParse("0.0.0")
		} else if err != nil {
			return fmt.Errorf("failed to read schema_version: %w", err)
		} else {
			currentVersion, err = semver.NewVersion(currentVersionStr)
			if err != nil {
				return fmt.Errorf("invalid current schema version %s: %w", currentVersionStr, err)
			}
		}
	}

	// Run migrations in order
	for _, migration := range AllMigrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}

		if !currentVersion.LessThan(migrationVersion) {
			continue // Already applied
		}

		_, err = db.ExecContext(ctx, migration.Up)
		if err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}

		_, err = db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", migration.Version)
		if err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}

		currentVersion = migrationVersion
	}

	return nil
}

// RollbackMigration rolls back the most recent migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	var currentVersion string
	err := db.QueryRowContext(ctx, "SELECT version FROM schema_version ORDER BY applied_at DESC LIMIT 1").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("no migrations to rollback: %w", err)
	}

	var migration *Migration
	for i := range AllMigrations {
		if AllMigrations[i].Version == currentVersion {
			migration = &AllMigrations[i]
			break
		}
	}

	if migration == nil {
		return fmt.Errorf("migration %s not found", currentVersion)
	}

	_, err = db.ExecContext(ctx, migration.Down)
	if err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", currentVersion, err)
	}

	_, err = db.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", currentVersion)
	if err != nil {
		return fmt.Errorf("failed to remove migration record %s: %w", currentVersion, err)
	}

	return nil
}
