package storage

import (
	"context"
	"strings"
)

// Search operations
//
// These return unranked candidate rows; scoring and ordering happen in
// the search layer so ranking changes never touch SQL.

// searchSymbolsWithQuerier finds symbols through the name cache joined
// out to every file location currently holding their content
func (s *SQLiteStorage) searchSymbolsWithQuerier(ctx context.Context, q querier, filter *SymbolFilter) ([]*SymbolHit, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT s.id, s.content_hash, s.namespace, s.name, s.fully_qualified,
		       s.kind, s.line_number, s.column_number,
		       f.repository, f.commit_sha, f.file_path
		FROM symbol_names n
		JOIN symbol_name_refs r ON r.name_id = n.id
		JOIN symbols s ON s.content_hash = r.content_hash AND lower(s.name) = n.lower_name
		JOIN files f ON f.content_hash = s.content_hash
		WHERE 1=1
	`)
	args := make([]interface{}, 0, 8)

	switch {
	case filter.NameExact != "":
		sb.WriteString(" AND n.lower_name = ?")
		args = append(args, filter.NameExact)
	case filter.NamePrefix != "":
		sb.WriteString(" AND n.lower_name GLOB ?")
		args = append(args, globEscape(filter.NamePrefix)+"*")
	case filter.NameSub != "":
		sb.WriteString(" AND n.lower_name LIKE ? ESCAPE '\\'")
		args = append(args, "%"+likeEscape(filter.NameSub)+"%")
	}

	if len(filter.Kinds) > 0 {
		placeholders := make([]string, len(filter.Kinds))
		for i, kind := range filter.Kinds {
			placeholders[i] = "?"
			args = append(args, kind)
		}
		sb.WriteString(" AND s.kind IN (" + strings.Join(placeholders, ",") + ")")
	}
	if filter.Repository != "" {
		sb.WriteString(" AND f.repository = ?")
		args = append(args, filter.Repository)
	}
	if filter.CommitSHA != "" {
		sb.WriteString(" AND f.commit_sha = ?")
		args = append(args, filter.CommitSHA)
	}

	sb.WriteString(" ORDER BY s.fully_qualified, f.file_path, s.line_number")
	if filter.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
	}

	rows, err := q.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	hits := make([]*SymbolHit, 0)
	for rows.Next() {
		var hit SymbolHit
		err := rows.Scan(
			&hit.ID, &hit.ContentHash, &hit.Namespace, &hit.Name, &hit.FullyQualified,
			&hit.Kind, &hit.Line, &hit.Column,
			&hit.Repository, &hit.CommitSHA, &hit.FilePath,
		)
		if err != nil {
			return nil, err
		}
		hits = append(hits, &hit)
	}
	return hits, rows.Err()
}

func (s *SQLiteStorage) SearchSymbols(ctx context.Context, filter *SymbolFilter) ([]*SymbolHit, error) {
	return s.searchSymbolsWithQuerier(ctx, s.querier(), filter)
}

// searchContentWithQuerier matches the full-text index over text
// chunks and maps hits back to file locations through the manifest.
// The match argument must already be valid FTS5 query syntax.
func (s *SQLiteStorage) searchContentWithQuerier(ctx context.Context, q querier, match string, filter *SymbolFilter) ([]*ContentHit, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT DISTINCT f.repository, f.commit_sha, f.file_path, f.content_hash
		FROM chunk_fts
		JOIN blob_chunks bc ON bc.chunk_hash = chunk_fts.chunk_hash
		JOIN files f ON f.content_hash = bc.content_hash
		WHERE chunk_fts MATCH ?
	`)
	args := []interface{}{match}

	if filter.Repository != "" {
		sb.WriteString(" AND f.repository = ?")
		args = append(args, filter.Repository)
	}
	if filter.CommitSHA != "" {
		sb.WriteString(" AND f.commit_sha = ?")
		args = append(args, filter.CommitSHA)
	}

	sb.WriteString(" ORDER BY f.repository, f.file_path")
	if filter.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
	}

	rows, err := q.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	hits := make([]*ContentHit, 0)
	for rows.Next() {
		var hit ContentHit
		err := rows.Scan(&hit.Repository, &hit.CommitSHA, &hit.FilePath, &hit.ContentHash)
		if err != nil {
			return nil, err
		}
		hits = append(hits, &hit)
	}
	return hits, rows.Err()
}

func (s *SQLiteStorage) SearchContent(ctx context.Context, match string, filter *SymbolFilter) ([]*ContentHit, error) {
	return s.searchContentWithQuerier(ctx, s.querier(), match, filter)
}

// likeEscape escapes LIKE metacharacters with backslash
func likeEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// globEscape escapes GLOB metacharacters. GLOB is used for prefix
// matching because, unlike LIKE, it is case-sensitive and can use the
// lower_name index.
func globEscape(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[':
			sb.WriteRune('[')
			sb.WriteRune(r)
			sb.WriteRune(']')
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// Transaction delegates

func (t *sqliteTx) SearchSymbols(ctx context.Context, filter *SymbolFilter) ([]*SymbolHit, error) {
	return t.storage.searchSymbolsWithQuerier(ctx, t.querier(), filter)
}

func (t *sqliteTx) SearchContent(ctx context.Context, match string, filter *SymbolFilter) ([]*ContentHit, error) {
	return t.storage.searchContentWithQuerier(ctx, t.querier(), match, filter)
}
