package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertName_FirstCasingWins(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	id1, err := storage.UpsertName(ctx, "newwidget", "NewWidget")
	require.NoError(t, err)
	assert.Greater(t, id1, int64(0))

	// A later insert with different casing returns the same row
	id2, err := storage.UpsertName(ctx, "newwidget", "NEWWIDGET")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	entry, err := storage.LookupName(ctx, "newwidget")
	require.NoError(t, err)
	assert.Equal(t, "NewWidget", entry.DisplayName)
}

func TestLookupName_NotFound(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	_, err := storage.LookupName(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertNameRef_Idempotent(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	id, err := storage.UpsertName(ctx, "foo", "Foo")
	require.NoError(t, err)

	require.NoError(t, storage.InsertNameRef(ctx, id, "h1"))
	require.NoError(t, storage.InsertNameRef(ctx, id, "h1"))

	var count int64
	err = storage.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM symbol_name_refs").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestDeleteNameEntriesByHash(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	onlyID, err := storage.UpsertName(ctx, "only", "Only")
	require.NoError(t, err)
	require.NoError(t, storage.InsertNameRef(ctx, onlyID, "h1"))

	sharedID, err := storage.UpsertName(ctx, "shared", "Shared")
	require.NoError(t, err)
	require.NoError(t, storage.InsertNameRef(ctx, sharedID, "h1"))
	require.NoError(t, storage.InsertNameRef(ctx, sharedID, "h2"))

	require.NoError(t, storage.DeleteNameEntriesByHash(ctx, "h1"))

	// A name whose only ref was h1 goes with it
	_, err = storage.LookupName(ctx, "only")
	assert.ErrorIs(t, err, ErrNotFound)

	// A name still referenced elsewhere stays, minus the h1 ref
	entry, err := storage.LookupName(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, "Shared", entry.DisplayName)

	var refs int64
	err = storage.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM symbol_name_refs WHERE content_hash = 'h1'").Scan(&refs)
	require.NoError(t, err)
	assert.Zero(t, refs)
}

func TestRebuildNamesShard(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	symbols := []*Symbol{
		{ContentHash: "h1", Name: "Alpha", FullyQualified: "pkg.Alpha", Kind: "definition", Line: 1},
		{ContentHash: "h1", Name: "Beta", FullyQualified: "pkg.Beta", Kind: "definition", Line: 2},
		{ContentHash: "h2", Name: "Alpha", FullyQualified: "pkg.Alpha", Kind: "reference", Line: 5},
	}
	for _, s := range symbols {
		require.NoError(t, storage.InsertSymbol(ctx, s))
	}

	var totalNames, totalRefs int64
	for shard := 0; shard < 4; shard++ {
		names, refs, err := storage.RebuildNamesShard(ctx, shard, 4)
		require.NoError(t, err)
		totalNames += names
		totalRefs += refs
	}

	assert.Equal(t, int64(2), totalNames) // alpha, beta
	assert.Equal(t, int64(3), totalRefs)  // (alpha,h1) (alpha,h2) (beta,h1)

	entry, err := storage.LookupName(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", entry.DisplayName)

	// Rebuilding again inserts nothing new
	for shard := 0; shard < 4; shard++ {
		names, refs, err := storage.RebuildNamesShard(ctx, shard, 4)
		require.NoError(t, err)
		assert.Zero(t, names)
		assert.Zero(t, refs)
	}
}

func TestRebuildNamesShard_Validation(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	_, _, err := storage.RebuildNamesShard(ctx, 0, 0)
	assert.Error(t, err)

	_, _, err = storage.RebuildNamesShard(ctx, 4, 4)
	assert.Error(t, err)
}

func TestDeleteOrphanNameRefsAndNames(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	require.NoError(t, storage.InsertSymbol(ctx, &Symbol{
		ContentHash: "live", Name: "Kept", FullyQualified: "Kept", Kind: "definition", Line: 1,
	}))

	keptID, err := storage.UpsertName(ctx, "kept", "Kept")
	require.NoError(t, err)
	require.NoError(t, storage.InsertNameRef(ctx, keptID, "live"))

	goneID, err := storage.UpsertName(ctx, "gone", "Gone")
	require.NoError(t, err)
	require.NoError(t, storage.InsertNameRef(ctx, goneID, "deadhash"))

	// Batched deletion: first pass limited to one row
	deleted, err := storage.DeleteOrphanNameRefs(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	deleted, err = storage.DeleteOrphanNameRefs(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)

	deleted, err = storage.DeleteOrphanNames(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = storage.LookupName(ctx, "gone")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = storage.LookupName(ctx, "kept")
	assert.NoError(t, err)
}
