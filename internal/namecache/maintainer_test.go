package namecache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pointerdev/pointer/internal/storage"
)

func setupDB(t *testing.T) *storage.SQLiteStorage {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMaintainer_AppliesEntries(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	m := NewMaintainer(db, nil, 16, 4)
	m.Enqueue(Entry{Name: "NewWidget", ContentHash: "h1"})
	m.Enqueue(Entry{Name: "NewWidget", ContentHash: "h2"})
	m.Enqueue(Entry{Name: "helper", ContentHash: "h1"})
	require.NoError(t, m.Flush(ctx))

	entry, err := db.LookupName(ctx, "newwidget")
	require.NoError(t, err)
	assert.Equal(t, "NewWidget", entry.DisplayName)

	_, err = db.LookupName(ctx, "helper")
	assert.NoError(t, err)
}

func TestMaintainer_BackgroundConvergence(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	m := NewMaintainer(db, nil, 64, 8)
	m.Start()

	for i := 0; i < 20; i++ {
		m.Enqueue(Entry{Name: "Converge", ContentHash: "h1"})
	}
	m.Stop()

	entry, err := db.LookupName(ctx, "converge")
	require.NoError(t, err)
	assert.Equal(t, "Converge", entry.DisplayName)
	assert.False(t, m.Dirty())
}

func TestMaintainer_OverflowMarksDirty(t *testing.T) {
	db := setupDB(t)

	// Applier never started, so the queue fills up
	m := NewMaintainer(db, nil, 2, 4)
	for i := 0; i < 10; i++ {
		m.Enqueue(Entry{Name: "Spill", ContentHash: "h"})
	}

	assert.True(t, m.Dirty())
	assert.Equal(t, int64(8), m.DroppedCount())
}

func TestMaintainer_StopIsIdempotent(t *testing.T) {
	db := setupDB(t)
	m := NewMaintainer(db, nil, 4, 4)
	m.Start()
	m.Stop()
	m.Stop()
}

func seedSymbols(t *testing.T, db *storage.SQLiteStorage) {
	t.Helper()
	ctx := context.Background()
	symbols := []*storage.Symbol{
		{ContentHash: "h1", Name: "Alpha", FullyQualified: "pkg.Alpha", Kind: "definition", Line: 1},
		{ContentHash: "h1", Name: "Beta", FullyQualified: "pkg.Beta", Kind: "definition", Line: 2},
		{ContentHash: "h2", Name: "Alpha", FullyQualified: "pkg.Alpha", Kind: "reference", Line: 7},
		{ContentHash: "h3", Name: "Gamma", FullyQualified: "other.Gamma", Kind: "declaration", Line: 4},
	}
	for _, s := range symbols {
		require.NoError(t, db.InsertSymbol(ctx, s))
	}
}

func TestRebuild(t *testing.T) {
	db := setupDB(t)
	seedSymbols(t, db)

	result, err := Rebuild(context.Background(), db, nil, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, result.ShardCount)
	assert.Equal(t, int64(3), result.InsertedNames) // alpha, beta, gamma
	assert.Equal(t, int64(4), result.InsertedRefs)

	entry, err := db.LookupName(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", entry.DisplayName)
}

func TestRebuild_MatchesSerial(t *testing.T) {
	parallel := setupDB(t)
	serial := setupDB(t)
	seedSymbols(t, parallel)
	seedSymbols(t, serial)

	ctx := context.Background()
	pRes, err := Rebuild(ctx, parallel, nil, 8)
	require.NoError(t, err)
	sRes, err := Rebuild(ctx, serial, nil, 1)
	require.NoError(t, err)

	assert.Equal(t, sRes.InsertedNames, pRes.InsertedNames)
	assert.Equal(t, sRes.InsertedRefs, pRes.InsertedRefs)
}

func TestRebuild_Idempotent(t *testing.T) {
	db := setupDB(t)
	seedSymbols(t, db)

	ctx := context.Background()
	_, err := Rebuild(ctx, db, nil, 4)
	require.NoError(t, err)

	again, err := Rebuild(ctx, db, nil, 4)
	require.NoError(t, err)
	assert.Zero(t, again.InsertedNames)
	assert.Zero(t, again.InsertedRefs)
}

func TestCleanup(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	require.NoError(t, db.InsertSymbol(ctx, &storage.Symbol{
		ContentHash: "live", Name: "Kept", FullyQualified: "Kept", Kind: "definition", Line: 1,
	}))

	keptID, err := db.UpsertName(ctx, "kept", "Kept")
	require.NoError(t, err)
	require.NoError(t, db.InsertNameRef(ctx, keptID, "live"))

	goneID, err := db.UpsertName(ctx, "gone", "Gone")
	require.NoError(t, err)
	require.NoError(t, db.InsertNameRef(ctx, goneID, "dead1"))
	require.NoError(t, db.InsertNameRef(ctx, goneID, "dead2"))

	result, err := Cleanup(ctx, db, nil, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.DeletedRefs)
	assert.Equal(t, int64(1), result.DeletedNames)
	assert.True(t, result.Exhausted)

	_, err = db.LookupName(ctx, "gone")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = db.LookupName(ctx, "kept")
	assert.NoError(t, err)
}

func TestCleanup_BatchCap(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	goneID, err := db.UpsertName(ctx, "gone", "Gone")
	require.NoError(t, err)
	for _, hash := range []string{"d1", "d2", "d3", "d4"} {
		require.NoError(t, db.InsertNameRef(ctx, goneID, hash))
	}

	// One batch of one row: far from exhausting the orphans
	result, err := Cleanup(ctx, db, nil, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.DeletedRefs)
	assert.False(t, result.Exhausted)
}

func TestMaintainer_FlushTimer(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	m := NewMaintainer(db, nil, 64, 1000) // batch size never reached
	m.flushInterval = 10 * time.Millisecond
	m.Start()
	defer m.Stop()

	m.Enqueue(Entry{Name: "Timed", ContentHash: "h1"})

	require.Eventually(t, func() bool {
		_, err := db.LookupName(ctx, "timed")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
}
