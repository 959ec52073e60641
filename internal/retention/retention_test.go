package retention

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pointerdev/pointer/internal/storage"
	"github.com/pointerdev/pointer/pkg/types"
)

func setupEngine(t *testing.T) (*Engine, *storage.SQLiteStorage) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, nil), db
}

func snapshotAt(sha string, age time.Duration, now time.Time) *storage.Snapshot {
	return &storage.Snapshot{
		Repository: "r", Branch: "main", CommitSHA: sha,
		IndexedAt: now.Add(-age),
	}
}

func TestComputeKeepSet_LatestOnly(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	snapshots := []*storage.Snapshot{
		snapshotAt("c0", 0, now),
		snapshotAt("c1", time.Hour, now),
		snapshotAt("c2", 2*time.Hour, now),
	}
	policy := &storage.BranchPolicy{LatestKeepCount: 2}

	keep := ComputeKeepSet(snapshots, policy, nil, now)
	assert.Equal(t, map[string]bool{"c0": true, "c1": true}, keep)
}

func TestComputeKeepSet_NilPolicyKeepsNewest(t *testing.T) {
	now := time.Now()
	snapshots := []*storage.Snapshot{
		snapshotAt("c0", 0, now),
		snapshotAt("c1", time.Hour, now),
	}

	// Even without a policy the newest snapshot survives
	keep := ComputeKeepSet(snapshots, nil, nil, now)
	assert.Equal(t, map[string]bool{"c0": true}, keep)
}

func TestComputeKeepSet_DailyTierOverTenDays(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	snapshots := make([]*storage.Snapshot, 10)
	for i := 0; i < 10; i++ {
		snapshots[i] = snapshotAt(fmt.Sprintf("c%d", i), time.Duration(i)*24*time.Hour, now)
	}
	policy := &storage.BranchPolicy{LatestKeepCount: 2}
	tiers := []*storage.SnapshotTier{
		{IntervalSeconds: 86400, KeepCount: 3},
	}

	keep := ComputeKeepSet(snapshots, policy, tiers, now)

	// Latest rule keeps c0,c1; the daily tier fills buckets 0..2 with
	// c0,c1,c2; everything older falls outside the tier horizon.
	assert.Equal(t, map[string]bool{"c0": true, "c1": true, "c2": true}, keep)
}

func TestComputeKeepSet_NewestInBucketWins(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	// Two snapshots inside the same daily bucket
	snapshots := []*storage.Snapshot{
		snapshotAt("newer", 25*time.Hour, now),
		snapshotAt("older", 30*time.Hour, now),
	}
	tiers := []*storage.SnapshotTier{
		{IntervalSeconds: 86400, KeepCount: 7},
	}

	keep := ComputeKeepSet(snapshots, nil, tiers, now)
	assert.True(t, keep["newer"])
	// "older" shares bucket 1 with "newer" but is also the overall
	// newest-rule fallback target; only the bucket representative and
	// the newest snapshot survive.
	assert.False(t, keep["older"] && !keep["newer"])
}

func TestComputeKeepSet_FutureTimestampsClampToBucketZero(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	// Clock skew: snapshot claims to be from the future
	snapshots := []*storage.Snapshot{
		{Repository: "r", Branch: "main", CommitSHA: "future", IndexedAt: now.Add(time.Hour)},
		snapshotAt("past", 2*time.Hour, now),
	}
	tiers := []*storage.SnapshotTier{
		{IntervalSeconds: 3600, KeepCount: 5},
	}

	keep := ComputeKeepSet(snapshots, nil, tiers, now)
	assert.True(t, keep["future"], "future snapshots land in bucket 0, never negative")
	assert.True(t, keep["past"])
}

func TestComputeKeepSet_MultipleTiers(t *testing.T) {
	now := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	snapshots := make([]*storage.Snapshot, 0, 30)
	for i := 0; i < 30; i++ {
		snapshots = append(snapshots, snapshotAt(fmt.Sprintf("c%d", i), time.Duration(i)*24*time.Hour, now))
	}
	policy := &storage.BranchPolicy{LatestKeepCount: 1}
	tiers := []*storage.SnapshotTier{
		{IntervalSeconds: 86400, KeepCount: 3},     // 3 dailies
		{IntervalSeconds: 7 * 86400, KeepCount: 2}, // 2 weeklies
	}

	keep := ComputeKeepSet(snapshots, policy, tiers, now)

	// Dailies: c0, c1, c2. Weeklies: bucket 0 -> c0, bucket 1 -> c7.
	assert.True(t, keep["c0"])
	assert.True(t, keep["c1"])
	assert.True(t, keep["c2"])
	assert.True(t, keep["c7"])
	assert.False(t, keep["c3"])
	assert.False(t, keep["c14"])
}

func TestSetBranchPolicy_Validation(t *testing.T) {
	engine, _ := setupEngine(t)
	ctx := context.Background()

	err := engine.SetBranchPolicy(ctx, "r", "main", 0)
	assert.ErrorIs(t, err, types.ErrInvalidKeep)

	err = engine.AddSnapshotTier(ctx, "r", "main", 0, 3)
	assert.ErrorIs(t, err, types.ErrInvalidInterval)

	err = engine.AddSnapshotTier(ctx, "r", "main", time.Hour, 0)
	assert.ErrorIs(t, err, types.ErrInvalidKeep)

	assert.NoError(t, engine.SetBranchPolicy(ctx, "r", "main", 1))
	assert.NoError(t, engine.AddSnapshotTier(ctx, "r", "main", time.Hour, 3))
}

func TestSweep_DropsExpiredSnapshots(t *testing.T) {
	engine, db := setupEngine(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, engine.SetBranchPolicy(ctx, "r", "main", 2))

	for i := 0; i < 5; i++ {
		sha := fmt.Sprintf("c%d", i)
		require.NoError(t, engine.RecordSnapshot(ctx, "r", "main", sha, now.Add(-time.Duration(i)*time.Hour)))
		require.NoError(t, db.UpsertFile(ctx, &storage.File{
			Repository: "r", CommitSHA: sha, FilePath: "main.go", ContentHash: "h" + sha,
		}))
	}

	result, err := engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.PoliciesSwept)
	assert.Equal(t, 3, result.SnapshotsDropped)
	assert.Equal(t, 3, result.CommitsPruned)

	snapshots, err := db.ListSnapshots(ctx, "r", "main")
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.Equal(t, "c0", snapshots[0].CommitSHA)

	// Dropped commits lost their file rows; kept commits did not
	files, err := db.ListFilesByCommit(ctx, "r", "c4")
	require.NoError(t, err)
	assert.Empty(t, files)
	files, err = db.ListFilesByCommit(ctx, "r", "c0")
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestSweep_ProtectedCommitKeepsFiles(t *testing.T) {
	engine, db := setupEngine(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, engine.SetBranchPolicy(ctx, "r", "main", 1))

	// c1 expires on main but release still snapshots it
	require.NoError(t, engine.RecordSnapshot(ctx, "r", "main", "c0", now))
	require.NoError(t, engine.RecordSnapshot(ctx, "r", "main", "c1", now.Add(-time.Hour)))
	require.NoError(t, engine.RecordSnapshot(ctx, "r", "release", "c1", now.Add(-time.Hour)))
	require.NoError(t, db.UpsertFile(ctx, &storage.File{
		Repository: "r", CommitSHA: "c1", FilePath: "main.go", ContentHash: "h1",
	}))

	result, err := engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.SnapshotsDropped)
	assert.Equal(t, 1, result.CommitsProtected)
	assert.Equal(t, 0, result.CommitsPruned)

	files, err := db.ListFilesByCommit(ctx, "r", "c1")
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestSweep_Idempotent(t *testing.T) {
	engine, _ := setupEngine(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, engine.SetBranchPolicy(ctx, "r", "main", 1))
	for i := 0; i < 3; i++ {
		require.NoError(t, engine.RecordSnapshot(ctx, "r", "main", fmt.Sprintf("c%d", i), now.Add(-time.Duration(i)*time.Hour)))
	}

	first, err := engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, first.SnapshotsDropped)

	second, err := engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.SnapshotsDropped)
}
