// Package retention decides which indexed snapshots a branch keeps.
//
// A branch policy always keeps the newest latest_keep_count snapshots.
// Snapshot tiers thin the rest: a tier with interval i and keep count k
// buckets history into i-second windows behind now and keeps the newest
// snapshot in each of the k most recent non-empty windows. The keep set
// is the union across the latest rule and every tier. Sweeping removes
// everything else, leaving content reclamation to the collector.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pointerdev/pointer/internal/storage"
	"github.com/pointerdev/pointer/pkg/types"
)

// Engine applies retention policies
type Engine struct {
	db  storage.Storage
	log *logrus.Logger
}

// New creates a retention engine
func New(db storage.Storage, log *logrus.Logger) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{db: db, log: log}
}

// SetBranchPolicy creates or replaces a branch's base policy
func (e *Engine) SetBranchPolicy(ctx context.Context, repository, branch string, latestKeepCount int) error {
	if latestKeepCount < 1 {
		return types.ErrInvalidKeep
	}
	return e.db.SetBranchPolicy(ctx, &storage.BranchPolicy{
		Repository:      repository,
		Branch:          branch,
		LatestKeepCount: latestKeepCount,
	})
}

// GetBranchPolicy returns a branch's base policy
func (e *Engine) GetBranchPolicy(ctx context.Context, repository, branch string) (*storage.BranchPolicy, error) {
	return e.db.GetBranchPolicy(ctx, repository, branch)
}

// DeleteBranchPolicy removes a policy with its tiers and snapshots.
// Commits the snapshots named are left for pruning and GC.
func (e *Engine) DeleteBranchPolicy(ctx context.Context, repository, branch string) error {
	return e.db.DeleteBranchPolicy(ctx, repository, branch)
}

// AddSnapshotTier adds or replaces one tier of a branch's schedule
func (e *Engine) AddSnapshotTier(ctx context.Context, repository, branch string, interval time.Duration, keepCount int) error {
	if interval <= 0 {
		return types.ErrInvalidInterval
	}
	if keepCount < 1 {
		return types.ErrInvalidKeep
	}
	return e.db.AddSnapshotTier(ctx, &storage.SnapshotTier{
		Repository:      repository,
		Branch:          branch,
		IntervalSeconds: int64(interval / time.Second),
		KeepCount:       keepCount,
	})
}

// RemoveSnapshotTier removes one tier by interval
func (e *Engine) RemoveSnapshotTier(ctx context.Context, repository, branch string, interval time.Duration) error {
	return e.db.RemoveSnapshotTier(ctx, repository, branch, int64(interval/time.Second))
}

// ListSnapshotTiers returns a branch's tiers ordered by interval
func (e *Engine) ListSnapshotTiers(ctx context.Context, repository, branch string) ([]*storage.SnapshotTier, error) {
	return e.db.ListSnapshotTiers(ctx, repository, branch)
}

// RecordSnapshot marks a commit as indexed for a branch
func (e *Engine) RecordSnapshot(ctx context.Context, repository, branch, commitSHA string, indexedAt time.Time) error {
	return e.db.RecordSnapshot(ctx, &storage.Snapshot{
		Repository: repository,
		Branch:     branch,
		CommitSHA:  commitSHA,
		IndexedAt:  indexedAt,
	})
}

// SetLiveBranch points a repository at its current branch. headCommit
// is the branch's last indexed commit, kept prune-protected; it may be
// empty when not known.
func (e *Engine) SetLiveBranch(ctx context.Context, repository, branch, headCommit string) error {
	return e.db.SetLiveBranch(ctx, repository, branch, headCommit)
}

// SwapLiveBranch updates the pointer only from a known previous value
func (e *Engine) SwapLiveBranch(ctx context.Context, repository, oldBranch, newBranch, headCommit string) error {
	return e.db.SwapLiveBranch(ctx, repository, oldBranch, newBranch, headCommit)
}

// ComputeKeepSet returns the commits a branch retains at time now.
// Snapshots must be ordered newest first, as ListSnapshots returns
// them. Within a tier bucket the newest snapshot is the one kept, so a
// bucket's representative is stable until a newer snapshot lands in
// that bucket.
func ComputeKeepSet(snapshots []*storage.Snapshot, policy *storage.BranchPolicy, tiers []*storage.SnapshotTier, now time.Time) map[string]bool {
	keep := make(map[string]bool)

	latest := 1
	if policy != nil && policy.LatestKeepCount > latest {
		latest = policy.LatestKeepCount
	}
	for i := 0; i < latest && i < len(snapshots); i++ {
		keep[snapshots[i].CommitSHA] = true
	}

	for _, tier := range tiers {
		seen := make(map[int64]bool, tier.KeepCount)
		for _, snapshot := range snapshots {
			elapsed := int64(now.Sub(snapshot.IndexedAt) / time.Second)
			bucket := int64(0)
			if elapsed > 0 {
				bucket = elapsed / tier.IntervalSeconds
			}
			if bucket >= int64(tier.KeepCount) {
				// Older than the tier's horizon
				continue
			}
			if seen[bucket] {
				continue
			}
			seen[bucket] = true
			keep[snapshot.CommitSHA] = true
			if len(seen) == tier.KeepCount {
				break
			}
		}
	}

	return keep
}

// SweepResult reports one retention pass
type SweepResult struct {
	PoliciesSwept    int
	SnapshotsDropped int
	CommitsPruned    int
	CommitsProtected int
	Duration         time.Duration
}

// Sweep applies every branch policy: snapshots outside the keep set
// are dropped and their commits' file rows removed, unless another
// branch still snapshots the commit. Blob reclamation is the
// collector's job.
func (e *Engine) Sweep(ctx context.Context) (*SweepResult, error) {
	runID := uuid.New().String()
	start := time.Now()
	result := &SweepResult{}

	policies, err := e.db.ListBranchPolicies(ctx)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}

	for _, policy := range policies {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := e.sweepPolicy(ctx, policy, start, result); err != nil {
			// One bad policy must not starve the others
			e.log.WithError(err).WithFields(logrus.Fields{
				"run_id":     runID,
				"repository": policy.Repository,
				"branch":     policy.Branch,
			}).Warn("retention sweep failed for branch")
			continue
		}
		result.PoliciesSwept++
	}

	result.Duration = time.Since(start)
	e.log.WithFields(logrus.Fields{
		"run_id":            runID,
		"policies":          result.PoliciesSwept,
		"snapshots_dropped": result.SnapshotsDropped,
		"commits_pruned":    result.CommitsPruned,
		"protected":         result.CommitsProtected,
		"duration":          result.Duration,
	}).Info("retention sweep complete")

	return result, nil
}

func (e *Engine) sweepPolicy(ctx context.Context, policy *storage.BranchPolicy, now time.Time, result *SweepResult) error {
	snapshots, err := e.db.ListSnapshots(ctx, policy.Repository, policy.Branch)
	if err != nil {
		return fmt.Errorf("list snapshots: %w", err)
	}
	tiers, err := e.db.ListSnapshotTiers(ctx, policy.Repository, policy.Branch)
	if err != nil {
		return fmt.Errorf("list tiers: %w", err)
	}

	keep := ComputeKeepSet(snapshots, policy, tiers, now)

	for _, snapshot := range snapshots {
		if keep[snapshot.CommitSHA] {
			continue
		}
		if err := e.dropSnapshot(ctx, snapshot, result); err != nil {
			return err
		}
	}
	return nil
}

// dropSnapshot removes one snapshot row and, when no other branch
// still names the commit, the commit's file rows with it
func (e *Engine) dropSnapshot(ctx context.Context, snapshot *storage.Snapshot, result *SweepResult) error {
	tx, err := e.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin drop: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.DeleteSnapshot(ctx, snapshot.Repository, snapshot.Branch, snapshot.CommitSHA); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", snapshot.CommitSHA, err)
	}

	protected, err := tx.IsCommitProtected(ctx, snapshot.Repository, snapshot.CommitSHA)
	if err != nil {
		return fmt.Errorf("check protection for %s: %w", snapshot.CommitSHA, err)
	}
	if protected {
		result.CommitsProtected++
	} else {
		if _, err := tx.DeleteFilesByCommit(ctx, snapshot.Repository, snapshot.CommitSHA); err != nil {
			return fmt.Errorf("delete files for %s: %w", snapshot.CommitSHA, err)
		}
		result.CommitsPruned++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit drop %s: %w", snapshot.CommitSHA, err)
	}
	result.SnapshotsDropped++
	return nil
}

// RunLoop sweeps on a fixed interval until the context is cancelled.
// Failed sweeps are logged and retried next tick.
func (e *Engine) RunLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				e.log.WithError(err).Error("retention sweep failed")
			}
		}
	}
}
