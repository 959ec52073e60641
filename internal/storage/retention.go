package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Retention operations

// setBranchPolicyWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) setBranchPolicyWithQuerier(ctx context.Context, q querier, policy *BranchPolicy) error {
	query := `
		INSERT INTO branch_policies (repository, branch, latest_keep_count)
		VALUES (?, ?, ?)
		ON CONFLICT(repository, branch) DO UPDATE SET
			latest_keep_count = excluded.latest_keep_count
	`
	_, err := q.ExecContext(ctx, query, policy.Repository, policy.Branch, policy.LatestKeepCount)
	if err != nil {
		return fmt.Errorf("failed to set branch policy: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) SetBranchPolicy(ctx context.Context, policy *BranchPolicy) error {
	return s.setBranchPolicyWithQuerier(ctx, s.querier(), policy)
}

// getBranchPolicyWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getBranchPolicyWithQuerier(ctx context.Context, q querier, repository, branch string) (*BranchPolicy, error) {
	query := `
		SELECT repository, branch, latest_keep_count
		FROM branch_policies
		WHERE repository = ? AND branch = ?
	`
	var policy BranchPolicy
	err := q.QueryRowContext(ctx, query, repository, branch).Scan(
		&policy.Repository, &policy.Branch, &policy.LatestKeepCount,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &policy, nil
}

func (s *SQLiteStorage) GetBranchPolicy(ctx context.Context, repository, branch string) (*BranchPolicy, error) {
	return s.getBranchPolicyWithQuerier(ctx, s.querier(), repository, branch)
}

// listBranchPoliciesWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) listBranchPoliciesWithQuerier(ctx context.Context, q querier) ([]*BranchPolicy, error) {
	query := `
		SELECT repository, branch, latest_keep_count
		FROM branch_policies
		ORDER BY repository, branch
	`
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	policies := make([]*BranchPolicy, 0)
	for rows.Next() {
		var policy BranchPolicy
		err := rows.Scan(&policy.Repository, &policy.Branch, &policy.LatestKeepCount)
		if err != nil {
			return nil, err
		}
		policies = append(policies, &policy)
	}
	return policies, rows.Err()
}

func (s *SQLiteStorage) ListBranchPolicies(ctx context.Context) ([]*BranchPolicy, error) {
	return s.listBranchPoliciesWithQuerier(ctx, s.querier())
}

// deleteBranchPolicyWithQuerier removes a policy with its tiers and
// snapshots. Content rows are untouched; reclaiming them is GC's job.
func (s *SQLiteStorage) deleteBranchPolicyWithQuerier(ctx context.Context, q querier, repository, branch string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM branch_snapshot_policies WHERE repository = ? AND branch = ?`, repository, branch); err != nil {
		return fmt.Errorf("failed to delete snapshot tiers: %w", err)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM branch_snapshots WHERE repository = ? AND branch = ?`, repository, branch); err != nil {
		return fmt.Errorf("failed to delete snapshots: %w", err)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM branch_policies WHERE repository = ? AND branch = ?`, repository, branch); err != nil {
		return fmt.Errorf("failed to delete branch policy: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) DeleteBranchPolicy(ctx context.Context, repository, branch string) error {
	return s.deleteBranchPolicyWithQuerier(ctx, s.querier(), repository, branch)
}

// addSnapshotTierWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) addSnapshotTierWithQuerier(ctx context.Context, q querier, tier *SnapshotTier) error {
	query := `
		INSERT INTO branch_snapshot_policies (repository, branch, interval_seconds, keep_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(repository, branch, interval_seconds) DO UPDATE SET
			keep_count = excluded.keep_count
	`
	_, err := q.ExecContext(ctx, query,
		tier.Repository, tier.Branch, tier.IntervalSeconds, tier.KeepCount)
	if err != nil {
		return fmt.Errorf("failed to add snapshot tier: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) AddSnapshotTier(ctx context.Context, tier *SnapshotTier) error {
	return s.addSnapshotTierWithQuerier(ctx, s.querier(), tier)
}

// removeSnapshotTierWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) removeSnapshotTierWithQuerier(ctx context.Context, q querier, repository, branch string, intervalSeconds int64) error {
	query := `DELETE FROM branch_snapshot_policies WHERE repository = ? AND branch = ? AND interval_seconds = ?`
	result, err := q.ExecContext(ctx, query, repository, branch, intervalSeconds)
	if err != nil {
		return fmt.Errorf("failed to remove snapshot tier: %w", err)
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

func (s *SQLiteStorage) RemoveSnapshotTier(ctx context.Context, repository, branch string, intervalSeconds int64) error {
	return s.removeSnapshotTierWithQuerier(ctx, s.querier(), repository, branch, intervalSeconds)
}

// listSnapshotTiersWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) listSnapshotTiersWithQuerier(ctx context.Context, q querier, repository, branch string) ([]*SnapshotTier, error) {
	query := `
		SELECT repository, branch, interval_seconds, keep_count
		FROM branch_snapshot_policies
		WHERE repository = ? AND branch = ?
		ORDER BY interval_seconds
	`
	rows, err := q.QueryContext(ctx, query, repository, branch)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	tiers := make([]*SnapshotTier, 0)
	for rows.Next() {
		var tier SnapshotTier
		err := rows.Scan(&tier.Repository, &tier.Branch, &tier.IntervalSeconds, &tier.KeepCount)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, &tier)
	}
	return tiers, rows.Err()
}

func (s *SQLiteStorage) ListSnapshotTiers(ctx context.Context, repository, branch string) ([]*SnapshotTier, error) {
	return s.listSnapshotTiersWithQuerier(ctx, s.querier(), repository, branch)
}

// setLiveBranchWithQuerier is the internal implementation that uses a
// querier. headCommit may be empty when the head is not yet known.
func (s *SQLiteStorage) setLiveBranchWithQuerier(ctx context.Context, q querier, repository, branch, headCommit string) error {
	query := `
		INSERT INTO repo_live_branches (repository, branch, head_commit)
		VALUES (?, ?, ?)
		ON CONFLICT(repository) DO UPDATE SET
			branch = excluded.branch,
			head_commit = excluded.head_commit
	`
	_, err := q.ExecContext(ctx, query, repository, branch, headCommit)
	if err != nil {
		return fmt.Errorf("failed to set live branch: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) SetLiveBranch(ctx context.Context, repository, branch, headCommit string) error {
	return s.setLiveBranchWithQuerier(ctx, s.querier(), repository, branch, headCommit)
}

// swapLiveBranchWithQuerier updates the pointer only if it still names
// oldBranch; a lost swap returns ErrConflict
func (s *SQLiteStorage) swapLiveBranchWithQuerier(ctx context.Context, q querier, repository, oldBranch, newBranch, headCommit string) error {
	query := `UPDATE repo_live_branches SET branch = ?, head_commit = ? WHERE repository = ? AND branch = ?`
	result, err := q.ExecContext(ctx, query, newBranch, headCommit, repository, oldBranch)
	if err != nil {
		return fmt.Errorf("failed to swap live branch: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *SQLiteStorage) SwapLiveBranch(ctx context.Context, repository, oldBranch, newBranch, headCommit string) error {
	return s.swapLiveBranchWithQuerier(ctx, s.querier(), repository, oldBranch, newBranch, headCommit)
}

// getLiveBranchWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getLiveBranchWithQuerier(ctx context.Context, q querier, repository string) (string, error) {
	query := `SELECT branch FROM repo_live_branches WHERE repository = ?`
	var branch string
	err := q.QueryRowContext(ctx, query, repository).Scan(&branch)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return branch, nil
}

func (s *SQLiteStorage) GetLiveBranch(ctx context.Context, repository string) (string, error) {
	return s.getLiveBranchWithQuerier(ctx, s.querier(), repository)
}

// recordSnapshotWithQuerier upserts one snapshot row per commit per
// branch, refreshing indexed_at on re-index
func (s *SQLiteStorage) recordSnapshotWithQuerier(ctx context.Context, q querier, snapshot *Snapshot) error {
	query := `
		INSERT INTO branch_snapshots (repository, branch, commit_sha, indexed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(repository, branch, commit_sha) DO UPDATE SET
			indexed_at = excluded.indexed_at
	`
	_, err := q.ExecContext(ctx, query,
		snapshot.Repository, snapshot.Branch, snapshot.CommitSHA, snapshot.IndexedAt)
	if err != nil {
		return fmt.Errorf("failed to record snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) RecordSnapshot(ctx context.Context, snapshot *Snapshot) error {
	return s.recordSnapshotWithQuerier(ctx, s.querier(), snapshot)
}

// listSnapshotsWithQuerier returns snapshots newest first
func (s *SQLiteStorage) listSnapshotsWithQuerier(ctx context.Context, q querier, repository, branch string) ([]*Snapshot, error) {
	query := `
		SELECT repository, branch, commit_sha, indexed_at
		FROM branch_snapshots
		WHERE repository = ? AND branch = ?
		ORDER BY indexed_at DESC, commit_sha
	`
	rows, err := q.QueryContext(ctx, query, repository, branch)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	snapshots := make([]*Snapshot, 0)
	for rows.Next() {
		var snapshot Snapshot
		err := rows.Scan(&snapshot.Repository, &snapshot.Branch, &snapshot.CommitSHA, &snapshot.IndexedAt)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, &snapshot)
	}
	return snapshots, rows.Err()
}

func (s *SQLiteStorage) ListSnapshots(ctx context.Context, repository, branch string) ([]*Snapshot, error) {
	return s.listSnapshotsWithQuerier(ctx, s.querier(), repository, branch)
}

// deleteSnapshotWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) deleteSnapshotWithQuerier(ctx context.Context, q querier, repository, branch, commitSHA string) error {
	query := `DELETE FROM branch_snapshots WHERE repository = ? AND branch = ? AND commit_sha = ?`
	_, err := q.ExecContext(ctx, query, repository, branch, commitSHA)
	return err
}

func (s *SQLiteStorage) DeleteSnapshot(ctx context.Context, repository, branch, commitSHA string) error {
	return s.deleteSnapshotWithQuerier(ctx, s.querier(), repository, branch, commitSHA)
}

// isCommitProtectedWithQuerier reports whether a branch snapshot still
// names the commit or the commit is a live-branch head. Snapshot
// deletion (including DeleteBranchPolicy) never exposes the commit the
// repository is currently indexed at.
func (s *SQLiteStorage) isCommitProtectedWithQuerier(ctx context.Context, q querier, repository, commitSHA string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM branch_snapshots
			WHERE repository = ? AND commit_sha = ?
		) OR EXISTS (
			SELECT 1 FROM repo_live_branches
			WHERE repository = ? AND head_commit = ? AND head_commit <> ''
		)
	`
	var protected bool
	err := q.QueryRowContext(ctx, query, repository, commitSHA, repository, commitSHA).Scan(&protected)
	if err != nil {
		return false, err
	}
	return protected, nil
}

func (s *SQLiteStorage) IsCommitProtected(ctx context.Context, repository, commitSHA string) (bool, error) {
	return s.isCommitProtectedWithQuerier(ctx, s.querier(), repository, commitSHA)
}

// Transaction delegates

func (t *sqliteTx) SetBranchPolicy(ctx context.Context, policy *BranchPolicy) error {
	return t.storage.setBranchPolicyWithQuerier(ctx, t.querier(), policy)
}

func (t *sqliteTx) GetBranchPolicy(ctx context.Context, repository, branch string) (*BranchPolicy, error) {
	return t.storage.getBranchPolicyWithQuerier(ctx, t.querier(), repository, branch)
}

func (t *sqliteTx) ListBranchPolicies(ctx context.Context) ([]*BranchPolicy, error) {
	return t.storage.listBranchPoliciesWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) DeleteBranchPolicy(ctx context.Context, repository, branch string) error {
	return t.storage.deleteBranchPolicyWithQuerier(ctx, t.querier(), repository, branch)
}

func (t *sqliteTx) AddSnapshotTier(ctx context.Context, tier *SnapshotTier) error {
	return t.storage.addSnapshotTierWithQuerier(ctx, t.querier(), tier)
}

func (t *sqliteTx) RemoveSnapshotTier(ctx context.Context, repository, branch string, intervalSeconds int64) error {
	return t.storage.removeSnapshotTierWithQuerier(ctx, t.querier(), repository, branch, intervalSeconds)
}

func (t *sqliteTx) ListSnapshotTiers(ctx context.Context, repository, branch string) ([]*SnapshotTier, error) {
	return t.storage.listSnapshotTiersWithQuerier(ctx, t.querier(), repository, branch)
}

func (t *sqliteTx) SetLiveBranch(ctx context.Context, repository, branch, headCommit string) error {
	return t.storage.setLiveBranchWithQuerier(ctx, t.querier(), repository, branch, headCommit)
}

func (t *sqliteTx) SwapLiveBranch(ctx context.Context, repository, oldBranch, newBranch, headCommit string) error {
	return t.storage.swapLiveBranchWithQuerier(ctx, t.querier(), repository, oldBranch, newBranch, headCommit)
}

func (t *sqliteTx) GetLiveBranch(ctx context.Context, repository string) (string, error) {
	return t.storage.getLiveBranchWithQuerier(ctx, t.querier(), repository)
}

func (t *sqliteTx) RecordSnapshot(ctx context.Context, snapshot *Snapshot) error {
	return t.storage.recordSnapshotWithQuerier(ctx, t.querier(), snapshot)
}

func (t *sqliteTx) ListSnapshots(ctx context.Context, repository, branch string) ([]*Snapshot, error) {
	return t.storage.listSnapshotsWithQuerier(ctx, t.querier(), repository, branch)
}

func (t *sqliteTx) DeleteSnapshot(ctx context.Context, repository, branch, commitSHA string) error {
	return t.storage.deleteSnapshotWithQuerier(ctx, t.querier(), repository, branch, commitSHA)
}

func (t *sqliteTx) IsCommitProtected(ctx context.Context, repository, commitSHA string) (bool, error) {
	return t.storage.isCommitProtectedWithQuerier(ctx, t.querier(), repository, commitSHA)
}
