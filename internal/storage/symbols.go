package storage

import (
	"context"
	"fmt"
)

// Symbol operations

// hasSymbolsWithQuerier reports whether a content hash already has any
// indexed symbols or references
func (s *SQLiteStorage) hasSymbolsWithQuerier(ctx context.Context, q querier, contentHash string) (bool, error) {
	query := `
		SELECT EXISTS (SELECT 1 FROM symbols WHERE content_hash = ?)
		    OR EXISTS (SELECT 1 FROM symbol_references WHERE content_hash = ?)
	`
	var exists bool
	err := q.QueryRowContext(ctx, query, contentHash, contentHash).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (s *SQLiteStorage) HasSymbols(ctx context.Context, contentHash string) (bool, error) {
	return s.hasSymbolsWithQuerier(ctx, s.querier(), contentHash)
}

// insertSymbolWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) insertSymbolWithQuerier(ctx context.Context, q querier, symbol *Symbol) error {
	query := `
		INSERT INTO symbols (content_hash, namespace, name, fully_qualified, kind, line_number, column_number)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash, namespace, name, kind, line_number, column_number)
		DO UPDATE SET fully_qualified = excluded.fully_qualified
		RETURNING id
	`
	err := q.QueryRowContext(ctx, query,
		symbol.ContentHash, symbol.Namespace, symbol.Name, symbol.FullyQualified,
		symbol.Kind, symbol.Line, symbol.Column,
	).Scan(&symbol.ID)
	if err != nil {
		return fmt.Errorf("failed to insert symbol: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) InsertSymbol(ctx context.Context, symbol *Symbol) error {
	return s.insertSymbolWithQuerier(ctx, s.querier(), symbol)
}

// insertSymbolReferenceWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) insertSymbolReferenceWithQuerier(ctx context.Context, q querier, ref *SymbolReference) error {
	query := `
		INSERT INTO symbol_references (content_hash, namespace, name, fully_qualified, kind, line_number, column_number)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash, namespace, name, kind, line_number, column_number)
		DO NOTHING
	`
	_, err := q.ExecContext(ctx, query,
		ref.ContentHash, ref.Namespace, ref.Name, ref.FullyQualified,
		ref.Kind, ref.Line, ref.Column)
	if err != nil {
		return fmt.Errorf("failed to insert symbol reference: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) InsertSymbolReference(ctx context.Context, ref *SymbolReference) error {
	return s.insertSymbolReferenceWithQuerier(ctx, s.querier(), ref)
}

// listSymbolsByHashWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) listSymbolsByHashWithQuerier(ctx context.Context, q querier, contentHash string) ([]*Symbol, error) {
	query := `
		SELECT id, content_hash, namespace, name, fully_qualified, kind, line_number, column_number
		FROM symbols
		WHERE content_hash = ?
		ORDER BY line_number, column_number
	`
	rows, err := q.QueryContext(ctx, query, contentHash)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	symbols := make([]*Symbol, 0)
	for rows.Next() {
		var symbol Symbol
		err := rows.Scan(
			&symbol.ID, &symbol.ContentHash, &symbol.Namespace, &symbol.Name,
			&symbol.FullyQualified, &symbol.Kind, &symbol.Line, &symbol.Column,
		)
		if err != nil {
			return nil, err
		}
		symbols = append(symbols, &symbol)
	}
	return symbols, rows.Err()
}

func (s *SQLiteStorage) ListSymbolsByHash(ctx context.Context, contentHash string) ([]*Symbol, error) {
	return s.listSymbolsByHashWithQuerier(ctx, s.querier(), contentHash)
}

// deleteSymbolsByHashWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) deleteSymbolsByHashWithQuerier(ctx context.Context, q querier, contentHash string) error {
	query := `DELETE FROM symbols WHERE content_hash = ?`
	_, err := q.ExecContext(ctx, query, contentHash)
	return err
}

func (s *SQLiteStorage) DeleteSymbolsByHash(ctx context.Context, contentHash string) error {
	return s.deleteSymbolsByHashWithQuerier(ctx, s.querier(), contentHash)
}

// deleteSymbolReferencesByHashWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) deleteSymbolReferencesByHashWithQuerier(ctx context.Context, q querier, contentHash string) error {
	query := `DELETE FROM symbol_references WHERE content_hash = ?`
	_, err := q.ExecContext(ctx, query, contentHash)
	return err
}

func (s *SQLiteStorage) DeleteSymbolReferencesByHash(ctx context.Context, contentHash string) error {
	return s.deleteSymbolReferencesByHashWithQuerier(ctx, s.querier(), contentHash)
}

// Transaction delegates

func (t *sqliteTx) HasSymbols(ctx context.Context, contentHash string) (bool, error) {
	return t.storage.hasSymbolsWithQuerier(ctx, t.querier(), contentHash)
}

func (t *sqliteTx) InsertSymbol(ctx context.Context, symbol *Symbol) error {
	return t.storage.insertSymbolWithQuerier(ctx, t.querier(), symbol)
}

func (t *sqliteTx) InsertSymbolReference(ctx context.Context, ref *SymbolReference) error {
	return t.storage.insertSymbolReferenceWithQuerier(ctx, t.querier(), ref)
}

func (t *sqliteTx) ListSymbolsByHash(ctx context.Context, contentHash string) ([]*Symbol, error) {
	return t.storage.listSymbolsByHashWithQuerier(ctx, t.querier(), contentHash)
}

func (t *sqliteTx) DeleteSymbolsByHash(ctx context.Context, contentHash string) error {
	return t.storage.deleteSymbolsByHashWithQuerier(ctx, t.querier(), contentHash)
}

func (t *sqliteTx) DeleteSymbolReferencesByHash(ctx context.Context, contentHash string) error {
	return t.storage.deleteSymbolReferencesByHashWithQuerier(ctx, t.querier(), contentHash)
}
