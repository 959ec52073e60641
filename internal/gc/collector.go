// Package gc reclaims content no file pointer references anymore.
//
// A blob becomes garbage when its last file row disappears, whether
// through retention sweeps or explicit pruning. Collection cascades
// from the blob down: symbol references, symbols, name cache refs with
// any names left unreferenced, the manifest (decrementing chunk ref
// counts), chunks whose count reached zero, and finally the blob row
// itself — all inside one transaction
// per blob, so a crash can never leave chunk data stranded behind a
// missing blob row.
//
// Blobs younger than a grace period are never candidates: an ingest
// commits content before its file rows, and the grace period keeps the
// collector from eating that window.
package gc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pointerdev/pointer/internal/storage"
)

// Defaults for the collector
const (
	DefaultMinBlobAge = 5 * time.Minute
	DefaultBatchSize  = 200
)

// Collector removes unreferenced blobs and their dependents
type Collector struct {
	db         storage.Storage
	log        *logrus.Logger
	minBlobAge time.Duration
	batchSize  int
}

// Option configures a Collector
type Option func(*Collector)

// WithMinBlobAge sets the ingest grace period
func WithMinBlobAge(age time.Duration) Option {
	return func(c *Collector) { c.minBlobAge = age }
}

// WithBatchSize caps candidates examined per sweep batch
func WithBatchSize(n int) Option {
	return func(c *Collector) { c.batchSize = n }
}

// New creates a collector
func New(db storage.Storage, log *logrus.Logger, opts ...Option) *Collector {
	if log == nil {
		log = logrus.StandardLogger()
	}
	c := &Collector{
		db:         db,
		log:        log,
		minBlobAge: DefaultMinBlobAge,
		batchSize:  DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SweepResult reports one collection pass
type SweepResult struct {
	BlobsDeleted  int
	ChunksDeleted int64
	Duration      time.Duration
}

// Sweep collects every unreferenced blob older than the grace period.
// Each blob is re-checked and deleted inside its own transaction, so a
// sweep interleaving with ingestion can never delete content a
// concurrent commit just started pointing at.
func (c *Collector) Sweep(ctx context.Context) (*SweepResult, error) {
	runID := uuid.New().String()
	start := time.Now()
	result := &SweepResult{}
	cutoff := start.Add(-c.minBlobAge)

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		candidates, err := c.db.ListOrphanBlobs(ctx, cutoff, c.batchSize)
		if err != nil {
			return result, fmt.Errorf("list candidates: %w", err)
		}
		if len(candidates) == 0 {
			break
		}

		for _, hash := range candidates {
			chunks, err := c.collectBlob(ctx, hash)
			if err != nil {
				return result, fmt.Errorf("collect blob %s: %w", hash, err)
			}
			result.BlobsDeleted++
			result.ChunksDeleted += chunks
		}

		if len(candidates) < c.batchSize {
			break
		}
	}

	result.Duration = time.Since(start)
	c.log.WithFields(logrus.Fields{
		"run_id":         runID,
		"blobs_deleted":  result.BlobsDeleted,
		"chunks_deleted": result.ChunksDeleted,
		"duration":       result.Duration,
	}).Info("gc sweep complete")

	return result, nil
}

// collectBlob deletes one blob and everything that exists only for it
func (c *Collector) collectBlob(ctx context.Context, hash string) (int64, error) {
	tx, err := c.db.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin collect: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Re-check under the transaction: a file row may have appeared
	// since the candidate list was taken
	refs, err := tx.CountFileRefs(ctx, hash)
	if err != nil {
		return 0, fmt.Errorf("recheck refs: %w", err)
	}
	if refs > 0 {
		return 0, nil
	}

	if err := tx.DeleteSymbolReferencesByHash(ctx, hash); err != nil {
		return 0, fmt.Errorf("delete references: %w", err)
	}
	if err := tx.DeleteSymbolsByHash(ctx, hash); err != nil {
		return 0, fmt.Errorf("delete symbols: %w", err)
	}
	if err := tx.DeleteNameEntriesByHash(ctx, hash); err != nil {
		return 0, fmt.Errorf("delete name entries: %w", err)
	}

	manifest, err := tx.GetManifest(ctx, hash)
	if err != nil {
		return 0, fmt.Errorf("read manifest: %w", err)
	}
	chunkHashes := make([]string, 0, len(manifest))
	for _, entry := range manifest {
		if err := tx.DecrementChunkRef(ctx, entry.ChunkHash); err != nil {
			return 0, fmt.Errorf("decrement chunk %s: %w", entry.ChunkHash, err)
		}
		chunkHashes = append(chunkHashes, entry.ChunkHash)
	}
	if err := tx.DeleteManifest(ctx, hash); err != nil {
		return 0, fmt.Errorf("delete manifest: %w", err)
	}

	chunksDeleted, err := tx.DeleteChunksIfUnreferenced(ctx, chunkHashes)
	if err != nil {
		return 0, fmt.Errorf("delete chunks: %w", err)
	}

	if err := tx.DeleteBlob(ctx, hash); err != nil {
		return 0, fmt.Errorf("delete blob row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit collect: %w", err)
	}
	return chunksDeleted, nil
}

// ErrCommitProtected is returned when a prune targets a commit some
// branch still snapshots or points at as its live head
var ErrCommitProtected = errors.New("commit is referenced by a branch snapshot or live-branch head")

// PruneCommit removes one commit's file rows. The blobs those rows
// pointed at are reclaimed by the next sweep if nothing else holds
// them. Protected commits are refused.
func (c *Collector) PruneCommit(ctx context.Context, repository, commitSHA string) (int64, error) {
	protected, err := c.db.IsCommitProtected(ctx, repository, commitSHA)
	if err != nil {
		return 0, fmt.Errorf("check protection: %w", err)
	}
	if protected {
		return 0, ErrCommitProtected
	}

	deleted, err := c.db.DeleteFilesByCommit(ctx, repository, commitSHA)
	if err != nil {
		return 0, fmt.Errorf("prune commit %s: %w", commitSHA, err)
	}

	c.log.WithFields(logrus.Fields{
		"repository": repository,
		"commit":     commitSHA,
		"files":      deleted,
	}).Info("pruned commit")
	return deleted, nil
}

// PruneRepository removes every file row of a repository in bounded
// batches, then its branch policies with their tiers and snapshots.
// Content reclamation follows via Sweep.
func (c *Collector) PruneRepository(ctx context.Context, repository string) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		deleted, err := c.db.DeleteFilesByRepository(ctx, repository, c.batchSize)
		if err != nil {
			return total, fmt.Errorf("prune repository files: %w", err)
		}
		total += deleted
		if deleted == 0 {
			break
		}
	}

	policies, err := c.db.ListBranchPolicies(ctx)
	if err != nil {
		return total, fmt.Errorf("list policies: %w", err)
	}
	for _, policy := range policies {
		if policy.Repository != repository {
			continue
		}
		if err := c.db.DeleteBranchPolicy(ctx, repository, policy.Branch); err != nil {
			return total, fmt.Errorf("delete policy %s/%s: %w", repository, policy.Branch, err)
		}
	}

	c.log.WithFields(logrus.Fields{
		"repository": repository,
		"files":      total,
	}).Info("pruned repository")
	return total, nil
}

// RunLoop sweeps on a fixed interval until the context is cancelled.
// Failed sweeps are logged and retried next tick.
func (c *Collector) RunLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.log.WithError(err).Error("gc sweep failed")
			}
		}
	}
}
