package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Content blob operations

// insertBlobWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) insertBlobWithQuerier(ctx context.Context, q querier, blob *ContentBlob) error {
	query := `
		INSERT INTO content_blobs (hash, language, is_binary, byte_len, line_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	_, err := q.ExecContext(ctx, query,
		blob.Hash, blob.Language, blob.IsBinary, blob.ByteLen, blob.LineCount, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert blob: %w", err)
	}
	blob.CreatedAt = now
	return nil
}

func (s *SQLiteStorage) InsertBlob(ctx context.Context, blob *ContentBlob) error {
	return s.insertBlobWithQuerier(ctx, s.querier(), blob)
}

// getBlobWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getBlobWithQuerier(ctx context.Context, q querier, hash string) (*ContentBlob, error) {
	query := `
		SELECT hash, language, is_binary, byte_len, line_count, created_at
		FROM content_blobs
		WHERE hash = ?
	`
	var blob ContentBlob
	err := q.QueryRowContext(ctx, query, hash).Scan(
		&blob.Hash, &blob.Language, &blob.IsBinary, &blob.ByteLen, &blob.LineCount, &blob.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &blob, nil
}

func (s *SQLiteStorage) GetBlob(ctx context.Context, hash string) (*ContentBlob, error) {
	return s.getBlobWithQuerier(ctx, s.querier(), hash)
}

// deleteBlobWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) deleteBlobWithQuerier(ctx context.Context, q querier, hash string) error {
	query := `DELETE FROM content_blobs WHERE hash = ?`
	_, err := q.ExecContext(ctx, query, hash)
	return err
}

func (s *SQLiteStorage) DeleteBlob(ctx context.Context, hash string) error {
	return s.deleteBlobWithQuerier(ctx, s.querier(), hash)
}

// listOrphanBlobsWithQuerier selects blobs with no file rows. The
// olderThan cutoff skips blobs from ingests still writing their file
// rows in a later transaction.
func (s *SQLiteStorage) listOrphanBlobsWithQuerier(ctx context.Context, q querier, olderThan time.Time, limit int) ([]string, error) {
	query := `
		SELECT b.hash
		FROM content_blobs b
		WHERE b.created_at < ?
		  AND NOT EXISTS (SELECT 1 FROM files f WHERE f.content_hash = b.hash)
		ORDER BY b.hash
		LIMIT ?
	`
	rows, err := q.QueryContext(ctx, query, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	hashes := make([]string, 0)
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, err
		}
		hashes = append(hashes, hash)
	}
	return hashes, rows.Err()
}

func (s *SQLiteStorage) ListOrphanBlobs(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	return s.listOrphanBlobsWithQuerier(ctx, s.querier(), olderThan, limit)
}

// Chunk operations

// insertChunkWithQuerier inserts a chunk if absent and reports whether
// a new row was written
func (s *SQLiteStorage) insertChunkWithQuerier(ctx context.Context, q querier, chunk *Chunk) (bool, error) {
	query := `
		INSERT INTO chunks (hash, byte_len, data, ref_count)
		VALUES (?, ?, ?, 0)
		ON CONFLICT(hash) DO NOTHING
	`
	result, err := q.ExecContext(ctx, query, chunk.Hash, chunk.ByteLen, chunk.Data)
	if err != nil {
		return false, fmt.Errorf("failed to insert chunk: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *SQLiteStorage) InsertChunk(ctx context.Context, chunk *Chunk) (bool, error) {
	return s.insertChunkWithQuerier(ctx, s.querier(), chunk)
}

// insertChunkTextWithQuerier adds a text chunk to the full-text index.
// Callers must not index binary chunks.
func (s *SQLiteStorage) insertChunkTextWithQuerier(ctx context.Context, q querier, chunkHash, text string) error {
	query := `INSERT INTO chunk_fts (content, chunk_hash) VALUES (?, ?)`
	_, err := q.ExecContext(ctx, query, text, chunkHash)
	if err != nil {
		return fmt.Errorf("failed to index chunk text: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) InsertChunkText(ctx context.Context, chunkHash, text string) error {
	return s.insertChunkTextWithQuerier(ctx, s.querier(), chunkHash, text)
}

// getChunkWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getChunkWithQuerier(ctx context.Context, q querier, hash string) (*Chunk, error) {
	query := `SELECT hash, byte_len, data, ref_count FROM chunks WHERE hash = ?`
	var chunk Chunk
	err := q.QueryRowContext(ctx, query, hash).Scan(
		&chunk.Hash, &chunk.ByteLen, &chunk.Data, &chunk.RefCount,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &chunk, nil
}

func (s *SQLiteStorage) GetChunk(ctx context.Context, hash string) (*Chunk, error) {
	return s.getChunkWithQuerier(ctx, s.querier(), hash)
}

// incrementChunkRefWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) incrementChunkRefWithQuerier(ctx context.Context, q querier, hash string) error {
	query := `UPDATE chunks SET ref_count = ref_count + 1 WHERE hash = ?`
	result, err := q.ExecContext(ctx, query, hash)
	if err != nil {
		return fmt.Errorf("failed to increment chunk ref: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) IncrementChunkRef(ctx context.Context, hash string) error {
	return s.incrementChunkRefWithQuerier(ctx, s.querier(), hash)
}

// decrementChunkRefWithQuerier guards against underflow in the WHERE
// clause; a decrement past zero is a no-op rather than an error row.
func (s *SQLiteStorage) decrementChunkRefWithQuerier(ctx context.Context, q querier, hash string) error {
	query := `UPDATE chunks SET ref_count = ref_count - 1 WHERE hash = ? AND ref_count > 0`
	_, err := q.ExecContext(ctx, query, hash)
	if err != nil {
		return fmt.Errorf("failed to decrement chunk ref: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) DecrementChunkRef(ctx context.Context, hash string) error {
	return s.decrementChunkRefWithQuerier(ctx, s.querier(), hash)
}

// deleteChunksIfUnreferencedWithQuerier deletes the given chunks only
// where their ref_count has reached zero
func (s *SQLiteStorage) deleteChunksIfUnreferencedWithQuerier(ctx context.Context, q querier, hashes []string) (int64, error) {
	if len(hashes) == 0 {
		return 0, nil
	}

	placeholders := make([]string, len(hashes))
	args := make([]interface{}, len(hashes))
	for i, h := range hashes {
		placeholders[i] = "?"
		args[i] = h
	}

	query := `DELETE FROM chunks WHERE ref_count = 0 AND hash IN (` + strings.Join(placeholders, ",") + `)`
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *SQLiteStorage) DeleteChunksIfUnreferenced(ctx context.Context, hashes []string) (int64, error) {
	return s.deleteChunksIfUnreferencedWithQuerier(ctx, s.querier(), hashes)
}

// missingChunksWithQuerier returns the subset of hashes not present in
// the chunk table, preserving input order
func (s *SQLiteStorage) missingChunksWithQuerier(ctx context.Context, q querier, hashes []string) ([]string, error) {
	if len(hashes) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(hashes))
	args := make([]interface{}, len(hashes))
	for i, h := range hashes {
		placeholders[i] = "?"
		args[i] = h
	}

	query := `SELECT hash FROM chunks WHERE hash IN (` + strings.Join(placeholders, ",") + `)`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	present := make(map[string]bool, len(hashes))
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, err
		}
		present[hash] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	missing := make([]string, 0)
	for _, h := range hashes {
		if !present[h] {
			missing = append(missing, h)
		}
	}
	return missing, nil
}

func (s *SQLiteStorage) MissingChunks(ctx context.Context, hashes []string) ([]string, error) {
	return s.missingChunksWithQuerier(ctx, s.querier(), hashes)
}

// Manifest operations

// insertManifestEntryWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) insertManifestEntryWithQuerier(ctx context.Context, q querier, entry *ManifestEntry) error {
	query := `
		INSERT INTO blob_chunks (content_hash, chunk_hash, chunk_index, byte_offset, line_count)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		entry.ContentHash, entry.ChunkHash, entry.ChunkIndex, entry.ByteOffset, entry.LineCount)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert manifest entry: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) InsertManifestEntry(ctx context.Context, entry *ManifestEntry) error {
	return s.insertManifestEntryWithQuerier(ctx, s.querier(), entry)
}

// getManifestWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getManifestWithQuerier(ctx context.Context, q querier, contentHash string) ([]*ManifestEntry, error) {
	query := `
		SELECT content_hash, chunk_hash, chunk_index, byte_offset, line_count
		FROM blob_chunks
		WHERE content_hash = ?
		ORDER BY chunk_index
	`
	rows, err := q.QueryContext(ctx, query, contentHash)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	entries := make([]*ManifestEntry, 0)
	for rows.Next() {
		var entry ManifestEntry
		err := rows.Scan(&entry.ContentHash, &entry.ChunkHash, &entry.ChunkIndex,
			&entry.ByteOffset, &entry.LineCount)
		if err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

func (s *SQLiteStorage) GetManifest(ctx context.Context, contentHash string) ([]*ManifestEntry, error) {
	return s.getManifestWithQuerier(ctx, s.querier(), contentHash)
}

// deleteManifestWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) deleteManifestWithQuerier(ctx context.Context, q querier, contentHash string) error {
	query := `DELETE FROM blob_chunks WHERE content_hash = ?`
	_, err := q.ExecContext(ctx, query, contentHash)
	return err
}

func (s *SQLiteStorage) DeleteManifest(ctx context.Context, contentHash string) error {
	return s.deleteManifestWithQuerier(ctx, s.querier(), contentHash)
}

// Transaction delegates

func (t *sqliteTx) InsertBlob(ctx context.Context, blob *ContentBlob) error {
	return t.storage.insertBlobWithQuerier(ctx, t.querier(), blob)
}

func (t *sqliteTx) GetBlob(ctx context.Context, hash string) (*ContentBlob, error) {
	return t.storage.getBlobWithQuerier(ctx, t.querier(), hash)
}

func (t *sqliteTx) DeleteBlob(ctx context.Context, hash string) error {
	return t.storage.deleteBlobWithQuerier(ctx, t.querier(), hash)
}

func (t *sqliteTx) ListOrphanBlobs(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	return t.storage.listOrphanBlobsWithQuerier(ctx, t.querier(), olderThan, limit)
}

func (t *sqliteTx) InsertChunk(ctx context.Context, chunk *Chunk) (bool, error) {
	return t.storage.insertChunkWithQuerier(ctx, t.querier(), chunk)
}

func (t *sqliteTx) InsertChunkText(ctx context.Context, chunkHash, text string) error {
	return t.storage.insertChunkTextWithQuerier(ctx, t.querier(), chunkHash, text)
}

func (t *sqliteTx) GetChunk(ctx context.Context, hash string) (*Chunk, error) {
	return t.storage.getChunkWithQuerier(ctx, t.querier(), hash)
}

func (t *sqliteTx) IncrementChunkRef(ctx context.Context, hash string) error {
	return t.storage.incrementChunkRefWithQuerier(ctx, t.querier(), hash)
}

func (t *sqliteTx) DecrementChunkRef(ctx context.Context, hash string) error {
	return t.storage.decrementChunkRefWithQuerier(ctx, t.querier(), hash)
}

func (t *sqliteTx) DeleteChunksIfUnreferenced(ctx context.Context, hashes []string) (int64, error) {
	return t.storage.deleteChunksIfUnreferencedWithQuerier(ctx, t.querier(), hashes)
}

func (t *sqliteTx) MissingChunks(ctx context.Context, hashes []string) ([]string, error) {
	return t.storage.missingChunksWithQuerier(ctx, t.querier(), hashes)
}

func (t *sqliteTx) InsertManifestEntry(ctx context.Context, entry *ManifestEntry) error {
	return t.storage.insertManifestEntryWithQuerier(ctx, t.querier(), entry)
}

func (t *sqliteTx) GetManifest(ctx context.Context, contentHash string) ([]*ManifestEntry, error) {
	return t.storage.getManifestWithQuerier(ctx, t.querier(), contentHash)
}

func (t *sqliteTx) DeleteManifest(ctx context.Context, contentHash string) error {
	return t.storage.deleteManifestWithQuerier(ctx, t.querier(), contentHash)
}
