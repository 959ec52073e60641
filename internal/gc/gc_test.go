package gc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pointerdev/pointer/internal/storage"
)

func setupCollector(t *testing.T, opts ...Option) (*Collector, *storage.SQLiteStorage) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, nil, opts...), db
}

// seedBlob writes a blob assembled from the given chunks, bumping each
// chunk's ref count the way ingestion does
func seedBlob(t *testing.T, db *storage.SQLiteStorage, hash string, chunkHashes ...string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, db.InsertBlob(ctx, &storage.ContentBlob{
		Hash: hash, Language: "go", ByteLen: 10, LineCount: 1,
	}))
	var offset int64
	for i, ch := range chunkHashes {
		_, err := db.InsertChunk(ctx, &storage.Chunk{Hash: ch, ByteLen: 5, Data: []byte("xxxxx")})
		require.NoError(t, err)
		require.NoError(t, db.IncrementChunkRef(ctx, ch))
		require.NoError(t, db.InsertManifestEntry(ctx, &storage.ManifestEntry{
			ContentHash: hash, ChunkHash: ch, ChunkIndex: i, ByteOffset: offset, LineCount: 1,
		}))
		offset += 5
	}
}

func TestSweep_CollectsOrphans(t *testing.T) {
	// Negative grace period so freshly inserted blobs are candidates
	collector, db := setupCollector(t, WithMinBlobAge(-time.Hour))
	ctx := context.Background()

	seedBlob(t, db, "orphan", "c1", "c2")
	seedBlob(t, db, "live", "c2", "c3")
	require.NoError(t, db.UpsertFile(ctx, &storage.File{
		Repository: "r", CommitSHA: "head", FilePath: "keep.go", ContentHash: "live",
	}))

	require.NoError(t, db.InsertSymbol(ctx, &storage.Symbol{
		ContentHash: "orphan", Name: "Gone", FullyQualified: "Gone", Kind: "definition", Line: 1,
	}))
	nameID, err := db.UpsertName(ctx, "gone", "Gone")
	require.NoError(t, err)
	require.NoError(t, db.InsertNameRef(ctx, nameID, "orphan"))

	result, err := collector.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.BlobsDeleted)
	assert.Equal(t, int64(1), result.ChunksDeleted) // c1 only; c2 is shared

	_, err = db.GetBlob(ctx, "orphan")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = db.GetChunk(ctx, "c1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	shared, err := db.GetChunk(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), shared.RefCount)

	symbols, err := db.ListSymbolsByHash(ctx, "orphan")
	require.NoError(t, err)
	assert.Empty(t, symbols)

	manifest, err := db.GetManifest(ctx, "orphan")
	require.NoError(t, err)
	assert.Empty(t, manifest)

	// The name cache entry lost its last ref, so the row is gone too
	_, err = db.LookupName(ctx, "gone")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSweep_KeepsNamesWithLiveRefs(t *testing.T) {
	collector, db := setupCollector(t, WithMinBlobAge(-time.Hour))
	ctx := context.Background()

	seedBlob(t, db, "orphan", "c1")
	seedBlob(t, db, "live", "c2")
	require.NoError(t, db.UpsertFile(ctx, &storage.File{
		Repository: "r", CommitSHA: "head", FilePath: "keep.go", ContentHash: "live",
	}))

	// The same name appears in both blobs
	nameID, err := db.UpsertName(ctx, "shared", "Shared")
	require.NoError(t, err)
	require.NoError(t, db.InsertNameRef(ctx, nameID, "orphan"))
	require.NoError(t, db.InsertNameRef(ctx, nameID, "live"))

	result, err := collector.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.BlobsDeleted)

	entry, err := db.LookupName(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, "Shared", entry.DisplayName)
}

func TestSweep_RespectsGracePeriod(t *testing.T) {
	collector, db := setupCollector(t) // default five-minute grace
	ctx := context.Background()

	seedBlob(t, db, "fresh", "c1")

	result, err := collector.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.BlobsDeleted)

	_, err = db.GetBlob(ctx, "fresh")
	assert.NoError(t, err)
}

func TestSweep_SparesReferencedBlobs(t *testing.T) {
	collector, db := setupCollector(t, WithMinBlobAge(-time.Hour))
	ctx := context.Background()

	seedBlob(t, db, "held", "c1")
	require.NoError(t, db.UpsertFile(ctx, &storage.File{
		Repository: "r", CommitSHA: "head", FilePath: "a.go", ContentHash: "held",
	}))

	result, err := collector.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.BlobsDeleted)
}

func TestSweep_Idempotent(t *testing.T) {
	collector, db := setupCollector(t, WithMinBlobAge(-time.Hour))
	ctx := context.Background()

	seedBlob(t, db, "orphan", "c1")

	first, err := collector.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.BlobsDeleted)

	second, err := collector.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.BlobsDeleted)
}

func TestPruneCommit(t *testing.T) {
	collector, db := setupCollector(t, WithMinBlobAge(-time.Hour))
	ctx := context.Background()

	seedBlob(t, db, "h1", "c1")
	require.NoError(t, db.UpsertFile(ctx, &storage.File{
		Repository: "r", CommitSHA: "old", FilePath: "a.go", ContentHash: "h1",
	}))

	deleted, err := collector.PruneCommit(ctx, "r", "old")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	// Next sweep reclaims the now-orphaned blob
	result, err := collector.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.BlobsDeleted)
}

func TestPruneCommit_RefusesProtected(t *testing.T) {
	collector, db := setupCollector(t)
	ctx := context.Background()

	require.NoError(t, db.RecordSnapshot(ctx, &storage.Snapshot{
		Repository: "r", Branch: "release", CommitSHA: "pinned", IndexedAt: time.Now(),
	}))
	require.NoError(t, db.UpsertFile(ctx, &storage.File{
		Repository: "r", CommitSHA: "pinned", FilePath: "a.go", ContentHash: "h1",
	}))

	_, err := collector.PruneCommit(ctx, "r", "pinned")
	assert.ErrorIs(t, err, ErrCommitProtected)

	files, err := db.ListFilesByCommit(ctx, "r", "pinned")
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestPruneCommit_RefusesLiveBranchHead(t *testing.T) {
	collector, db := setupCollector(t)
	ctx := context.Background()

	require.NoError(t, db.RecordSnapshot(ctx, &storage.Snapshot{
		Repository: "r", Branch: "main", CommitSHA: "head", IndexedAt: time.Now(),
	}))
	require.NoError(t, db.SetLiveBranch(ctx, "r", "main", "head"))
	require.NoError(t, db.UpsertFile(ctx, &storage.File{
		Repository: "r", CommitSHA: "head", FilePath: "a.go", ContentHash: "h1",
	}))

	// Dropping the branch policy removes the snapshot, but the head
	// commit stays protected through the live-branch pointer
	require.NoError(t, db.DeleteBranchPolicy(ctx, "r", "main"))

	_, err := collector.PruneCommit(ctx, "r", "head")
	assert.ErrorIs(t, err, ErrCommitProtected)

	files, err := db.ListFilesByCommit(ctx, "r", "head")
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestPruneRepository(t *testing.T) {
	collector, db := setupCollector(t, WithBatchSize(2))
	ctx := context.Background()

	for _, f := range []storage.File{
		{Repository: "r", CommitSHA: "c1", FilePath: "a.go", ContentHash: "h1"},
		{Repository: "r", CommitSHA: "c1", FilePath: "b.go", ContentHash: "h2"},
		{Repository: "r", CommitSHA: "c2", FilePath: "a.go", ContentHash: "h3"},
		{Repository: "other", CommitSHA: "c1", FilePath: "a.go", ContentHash: "h4"},
	} {
		f := f
		require.NoError(t, db.UpsertFile(ctx, &f))
	}
	require.NoError(t, db.SetBranchPolicy(ctx, &storage.BranchPolicy{
		Repository: "r", Branch: "main", LatestKeepCount: 3,
	}))
	require.NoError(t, db.SetBranchPolicy(ctx, &storage.BranchPolicy{
		Repository: "other", Branch: "main", LatestKeepCount: 3,
	}))

	total, err := collector.PruneRepository(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	// Other repositories keep their rows and policies
	files, err := db.ListFilesByCommit(ctx, "other", "c1")
	require.NoError(t, err)
	assert.Len(t, files, 1)

	policies, err := db.ListBranchPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, "other", policies[0].Repository)
}
