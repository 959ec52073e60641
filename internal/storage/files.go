package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// File pointer operations

// upsertFileWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) upsertFileWithQuerier(ctx context.Context, q querier, file *File) error {
	query := `
		INSERT INTO files (repository, commit_sha, file_path, content_hash)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(repository, commit_sha, file_path) DO UPDATE SET
			content_hash = excluded.content_hash
	`
	_, err := q.ExecContext(ctx, query,
		file.Repository, file.CommitSHA, file.FilePath, file.ContentHash)
	if err != nil {
		return fmt.Errorf("failed to upsert file: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) UpsertFile(ctx context.Context, file *File) error {
	return s.upsertFileWithQuerier(ctx, s.querier(), file)
}

// getFileWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getFileWithQuerier(ctx context.Context, q querier, repository, commitSHA, filePath string) (*File, error) {
	query := `
		SELECT repository, commit_sha, file_path, content_hash
		FROM files
		WHERE repository = ? AND commit_sha = ? AND file_path = ?
	`
	var file File
	err := q.QueryRowContext(ctx, query, repository, commitSHA, filePath).Scan(
		&file.Repository, &file.CommitSHA, &file.FilePath, &file.ContentHash,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &file, nil
}

func (s *SQLiteStorage) GetFile(ctx context.Context, repository, commitSHA, filePath string) (*File, error) {
	return s.getFileWithQuerier(ctx, s.querier(), repository, commitSHA, filePath)
}

// listFilesByCommitWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) listFilesByCommitWithQuerier(ctx context.Context, q querier, repository, commitSHA string) ([]*File, error) {
	query := `
		SELECT repository, commit_sha, file_path, content_hash
		FROM files
		WHERE repository = ? AND commit_sha = ?
		ORDER BY file_path
	`
	rows, err := q.QueryContext(ctx, query, repository, commitSHA)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	files := make([]*File, 0)
	for rows.Next() {
		var file File
		err := rows.Scan(&file.Repository, &file.CommitSHA, &file.FilePath, &file.ContentHash)
		if err != nil {
			return nil, err
		}
		files = append(files, &file)
	}
	return files, rows.Err()
}

func (s *SQLiteStorage) ListFilesByCommit(ctx context.Context, repository, commitSHA string) ([]*File, error) {
	return s.listFilesByCommitWithQuerier(ctx, s.querier(), repository, commitSHA)
}

// deleteFilesByCommitWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) deleteFilesByCommitWithQuerier(ctx context.Context, q querier, repository, commitSHA string) (int64, error) {
	query := `DELETE FROM files WHERE repository = ? AND commit_sha = ?`
	result, err := q.ExecContext(ctx, query, repository, commitSHA)
	if err != nil {
		return 0, fmt.Errorf("failed to delete commit files: %w", err)
	}
	return result.RowsAffected()
}

func (s *SQLiteStorage) DeleteFilesByCommit(ctx context.Context, repository, commitSHA string) (int64, error) {
	return s.deleteFilesByCommitWithQuerier(ctx, s.querier(), repository, commitSHA)
}

// deleteFilesByRepositoryWithQuerier deletes up to limit file rows of a
// repository so callers can work in bounded batches
func (s *SQLiteStorage) deleteFilesByRepositoryWithQuerier(ctx context.Context, q querier, repository string, limit int) (int64, error) {
	query := `
		DELETE FROM files
		WHERE rowid IN (
			SELECT rowid FROM files WHERE repository = ? LIMIT ?
		)
	`
	result, err := q.ExecContext(ctx, query, repository, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete repository files: %w", err)
	}
	return result.RowsAffected()
}

func (s *SQLiteStorage) DeleteFilesByRepository(ctx context.Context, repository string, limit int) (int64, error) {
	return s.deleteFilesByRepositoryWithQuerier(ctx, s.querier(), repository, limit)
}

// countFileRefsWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) countFileRefsWithQuerier(ctx context.Context, q querier, contentHash string) (int64, error) {
	query := `SELECT COUNT(*) FROM files WHERE content_hash = ?`
	var count int64
	err := q.QueryRowContext(ctx, query, contentHash).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *SQLiteStorage) CountFileRefs(ctx context.Context, contentHash string) (int64, error) {
	return s.countFileRefsWithQuerier(ctx, s.querier(), contentHash)
}

// Transaction delegates

func (t *sqliteTx) UpsertFile(ctx context.Context, file *File) error {
	return t.storage.upsertFileWithQuerier(ctx, t.querier(), file)
}

func (t *sqliteTx) GetFile(ctx context.Context, repository, commitSHA, filePath string) (*File, error) {
	return t.storage.getFileWithQuerier(ctx, t.querier(), repository, commitSHA, filePath)
}

func (t *sqliteTx) ListFilesByCommit(ctx context.Context, repository, commitSHA string) ([]*File, error) {
	return t.storage.listFilesByCommitWithQuerier(ctx, t.querier(), repository, commitSHA)
}

func (t *sqliteTx) DeleteFilesByCommit(ctx context.Context, repository, commitSHA string) (int64, error) {
	return t.storage.deleteFilesByCommitWithQuerier(ctx, t.querier(), repository, commitSHA)
}

func (t *sqliteTx) DeleteFilesByRepository(ctx context.Context, repository string, limit int) (int64, error) {
	return t.storage.deleteFilesByRepositoryWithQuerier(ctx, t.querier(), repository, limit)
}

func (t *sqliteTx) CountFileRefs(ctx context.Context, contentHash string) (int64, error) {
	return t.storage.countFileRefsWithQuerier(ctx, t.querier(), contentHash)
}
