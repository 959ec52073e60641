package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Name cache operations

// upsertNameWithQuerier inserts a name or returns the existing row's
// id. The no-op DO UPDATE keeps RETURNING usable on conflict while
// preserving the first-seen display casing.
func (s *SQLiteStorage) upsertNameWithQuerier(ctx context.Context, q querier, lowerName, displayName string) (int64, error) {
	query := `
		INSERT INTO symbol_names (lower_name, display_name)
		VALUES (?, ?)
		ON CONFLICT(lower_name) DO UPDATE SET lower_name = lower_name
		RETURNING id
	`
	var id int64
	err := q.QueryRowContext(ctx, query, lowerName, displayName).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert name: %w", err)
	}
	return id, nil
}

func (s *SQLiteStorage) UpsertName(ctx context.Context, lowerName, displayName string) (int64, error) {
	return s.upsertNameWithQuerier(ctx, s.querier(), lowerName, displayName)
}

// lookupNameWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) lookupNameWithQuerier(ctx context.Context, q querier, lowerName string) (*NameEntry, error) {
	query := `SELECT id, lower_name, display_name FROM symbol_names WHERE lower_name = ?`
	var entry NameEntry
	err := q.QueryRowContext(ctx, query, lowerName).Scan(&entry.ID, &entry.LowerName, &entry.DisplayName)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *SQLiteStorage) LookupName(ctx context.Context, lowerName string) (*NameEntry, error) {
	return s.lookupNameWithQuerier(ctx, s.querier(), lowerName)
}

// insertNameRefWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) insertNameRefWithQuerier(ctx context.Context, q querier, nameID int64, contentHash string) error {
	query := `
		INSERT INTO symbol_name_refs (name_id, content_hash)
		VALUES (?, ?)
		ON CONFLICT(name_id, content_hash) DO NOTHING
	`
	_, err := q.ExecContext(ctx, query, nameID, contentHash)
	if err != nil {
		return fmt.Errorf("failed to insert name ref: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) InsertNameRef(ctx context.Context, nameID int64, contentHash string) error {
	return s.insertNameRefWithQuerier(ctx, s.querier(), nameID, contentHash)
}

// deleteNameEntriesByHashWithQuerier removes the hash's name refs
// along with any names those refs were the last holders of. Names go
// first, while the refs still identify them; a name row must never
// outlive its last ref.
func (s *SQLiteStorage) deleteNameEntriesByHashWithQuerier(ctx context.Context, q querier, contentHash string) error {
	nameQuery := `
		DELETE FROM symbol_names
		WHERE id IN (SELECT name_id FROM symbol_name_refs WHERE content_hash = ?)
		AND NOT EXISTS (
			SELECT 1 FROM symbol_name_refs r
			WHERE r.name_id = symbol_names.id AND r.content_hash <> ?
		)
	`
	if _, err := q.ExecContext(ctx, nameQuery, contentHash, contentHash); err != nil {
		return fmt.Errorf("failed to delete orphaned names: %w", err)
	}
	refQuery := `DELETE FROM symbol_name_refs WHERE content_hash = ?`
	if _, err := q.ExecContext(ctx, refQuery, contentHash); err != nil {
		return fmt.Errorf("failed to delete name refs: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) DeleteNameEntriesByHash(ctx context.Context, contentHash string) error {
	return s.deleteNameEntriesByHashWithQuerier(ctx, s.querier(), contentHash)
}

// rebuildNamesShardWithQuerier repopulates the name cache from one
// shard of the symbol table. Sharding is by symbol id modulo
// shardCount so shards partition the table without overlap.
func (s *SQLiteStorage) rebuildNamesShardWithQuerier(ctx context.Context, q querier, shard, shardCount int) (int64, int64, error) {
	if shardCount < 1 {
		return 0, 0, fmt.Errorf("shard count must be >= 1, got %d", shardCount)
	}
	if shard < 0 || shard >= shardCount {
		return 0, 0, fmt.Errorf("shard %d out of range [0,%d)", shard, shardCount)
	}

	nameQuery := `
		INSERT INTO symbol_names (lower_name, display_name)
		SELECT lower(name), name
		FROM symbols
		WHERE id % ? = ?
		GROUP BY lower(name)
		ON CONFLICT(lower_name) DO NOTHING
	`
	nameResult, err := q.ExecContext(ctx, nameQuery, shardCount, shard)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to rebuild names for shard %d: %w", shard, err)
	}
	namesInserted, err := nameResult.RowsAffected()
	if err != nil {
		return 0, 0, err
	}

	refQuery := `
		INSERT INTO symbol_name_refs (name_id, content_hash)
		SELECT DISTINCT n.id, s.content_hash
		FROM symbols s
		JOIN symbol_names n ON n.lower_name = lower(s.name)
		WHERE s.id % ? = ?
		ON CONFLICT(name_id, content_hash) DO NOTHING
	`
	refResult, err := q.ExecContext(ctx, refQuery, shardCount, shard)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to rebuild name refs for shard %d: %w", shard, err)
	}
	refsInserted, err := refResult.RowsAffected()
	if err != nil {
		return 0, 0, err
	}

	return namesInserted, refsInserted, nil
}

func (s *SQLiteStorage) RebuildNamesShard(ctx context.Context, shard, shardCount int) (int64, int64, error) {
	return s.rebuildNamesShardWithQuerier(ctx, s.querier(), shard, shardCount)
}

// deleteOrphanNameRefsWithQuerier removes refs whose content hash no
// longer has indexed symbols, up to limit rows
func (s *SQLiteStorage) deleteOrphanNameRefsWithQuerier(ctx context.Context, q querier, limit int) (int64, error) {
	query := `
		DELETE FROM symbol_name_refs
		WHERE rowid IN (
			SELECT r.rowid
			FROM symbol_name_refs r
			WHERE NOT EXISTS (SELECT 1 FROM symbols s WHERE s.content_hash = r.content_hash)
			LIMIT ?
		)
	`
	result, err := q.ExecContext(ctx, query, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphan name refs: %w", err)
	}
	return result.RowsAffected()
}

func (s *SQLiteStorage) DeleteOrphanNameRefs(ctx context.Context, limit int) (int64, error) {
	return s.deleteOrphanNameRefsWithQuerier(ctx, s.querier(), limit)
}

// deleteOrphanNamesWithQuerier removes names with no remaining refs,
// up to limit rows
func (s *SQLiteStorage) deleteOrphanNamesWithQuerier(ctx context.Context, q querier, limit int) (int64, error) {
	query := `
		DELETE FROM symbol_names
		WHERE id IN (
			SELECT n.id
			FROM symbol_names n
			WHERE NOT EXISTS (SELECT 1 FROM symbol_name_refs r WHERE r.name_id = n.id)
			LIMIT ?
		)
	`
	result, err := q.ExecContext(ctx, query, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphan names: %w", err)
	}
	return result.RowsAffected()
}

func (s *SQLiteStorage) DeleteOrphanNames(ctx context.Context, limit int) (int64, error) {
	return s.deleteOrphanNamesWithQuerier(ctx, s.querier(), limit)
}

// Transaction delegates

func (t *sqliteTx) UpsertName(ctx context.Context, lowerName, displayName string) (int64, error) {
	return t.storage.upsertNameWithQuerier(ctx, t.querier(), lowerName, displayName)
}

func (t *sqliteTx) LookupName(ctx context.Context, lowerName string) (*NameEntry, error) {
	return t.storage.lookupNameWithQuerier(ctx, t.querier(), lowerName)
}

func (t *sqliteTx) InsertNameRef(ctx context.Context, nameID int64, contentHash string) error {
	return t.storage.insertNameRefWithQuerier(ctx, t.querier(), nameID, contentHash)
}

func (t *sqliteTx) DeleteNameEntriesByHash(ctx context.Context, contentHash string) error {
	return t.storage.deleteNameEntriesByHashWithQuerier(ctx, t.querier(), contentHash)
}

func (t *sqliteTx) RebuildNamesShard(ctx context.Context, shard, shardCount int) (int64, int64, error) {
	return t.storage.rebuildNamesShardWithQuerier(ctx, t.querier(), shard, shardCount)
}

func (t *sqliteTx) DeleteOrphanNameRefs(ctx context.Context, limit int) (int64, error) {
	return t.storage.deleteOrphanNameRefsWithQuerier(ctx, t.querier(), limit)
}

func (t *sqliteTx) DeleteOrphanNames(ctx context.Context, limit int) (int64, error) {
	return t.storage.deleteOrphanNamesWithQuerier(ctx, t.querier(), limit)
}
