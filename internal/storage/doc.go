// Package storage provides SQLite-based persistence for the pointer index.
//
// The storage layer manages:
//   - Deduplicated content blobs and their chunk manifests
//   - Chunk reference counts
//   - File pointers (repository, commit, path -> content hash)
//   - Symbols, references, and the symbol name cache
//   - Retention policies, snapshot tiers, and branch snapshots
//   - The full-text index over text chunk content
//
// # Database Schema
//
// Tables:
//   - content_blobs: one row per distinct file content (SHA-256 keyed)
//   - chunks: content-defined chunk data with reference counts
//   - blob_chunks: ordered manifest mapping blobs to chunks
//   - chunk_fts: FTS5 trigram index over text chunks
//   - files: path within a commit -> content hash
//   - symbols, symbol_references: extracted records keyed by content hash
//   - symbol_names, symbol_name_refs: case-folded name lookup surface
//   - branch_policies, branch_snapshot_policies, repo_live_branches,
//     branch_snapshots: retention bookkeeping
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("pointer.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	blob, err := db.GetBlob(ctx, hash)
//
// # Transactions
//
// Use transactions for atomic multi-table writes. A blob, its chunks,
// its manifest rows, and the matching ref count increments must always
// commit together:
//
//	tx, err := db.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	if err := tx.InsertBlob(ctx, blob); err != nil {
//	    return err
//	}
//	for i, c := range chunks {
//	    if _, err := tx.InsertChunk(ctx, c); err != nil {
//	        return err
//	    }
//	    if err := tx.InsertManifestEntry(ctx, entries[i]); err != nil {
//	        return err
//	    }
//	    if err := tx.IncrementChunkRef(ctx, c.Hash); err != nil {
//	        return err
//	    }
//	}
//	return tx.Commit()
//
// # Cascading deletes
//
// Content rows are deliberately not wired with database-side ON DELETE
// CASCADE. The collector in internal/gc orders the cascade explicitly
// (references, symbols, name refs, manifest, chunks, blob) so a partial
// failure can never orphan chunk data while the blob row is gone.
//
// # Build Tags
//
// The storage package supports two build configurations:
//
// CGO Build (sqlite_cgo tag):
//
//   - Uses github.com/mattn/go-sqlite3 driver
//
//   - Faster bulk writes; FTS5 via the fts5 tag
//
//     CGO_ENABLED=1 go build -tags "sqlite_cgo,fts5"
//
// Pure Go Build (default, purego tag):
//
//   - Uses modernc.org/sqlite driver
//
//   - No C compiler needed
//
//     CGO_ENABLED=0 go build -tags "purego"
package storage
