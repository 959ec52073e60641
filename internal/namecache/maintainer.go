// Package namecache maintains the symbol name lookup surface.
//
// The cache maps case-folded names to display names and to the content
// hashes whose symbols carry them. Search resolves names through the
// cache instead of scanning the symbol table. Maintenance is
// asynchronous: ingest enqueues entries and a background applier writes
// them in batches, so slow cache writes never extend ingest
// transactions. The cache can always be rebuilt from the symbol table,
// so a lost update degrades freshness, not correctness.
package namecache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pointerdev/pointer/internal/storage"
)

// Entry is one pending name cache update
type Entry struct {
	Name        string
	ContentHash string
}

// Defaults for the maintainer
const (
	DefaultQueueSize     = 4096
	DefaultBatchSize     = 256
	DefaultFlushInterval = 500 * time.Millisecond
)

// Maintainer applies name cache updates in the background
type Maintainer struct {
	db            storage.Storage
	log           *logrus.Logger
	queue         chan Entry
	batchSize     int
	flushInterval time.Duration

	dirty   atomic.Bool
	dropped atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

// NewMaintainer creates a maintainer with the given queue size; zero
// values fall back to defaults
func NewMaintainer(db storage.Storage, log *logrus.Logger, queueSize, batchSize int) *Maintainer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Maintainer{
		db:            db,
		log:           log,
		queue:         make(chan Entry, queueSize),
		batchSize:     batchSize,
		flushInterval: DefaultFlushInterval,
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
}

// Start launches the background applier
func (m *Maintainer) Start() {
	m.startOnce.Do(func() {
		go m.run()
	})
}

// Stop drains the queue and shuts the applier down
func (m *Maintainer) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
	})
	<-m.stopped
}

// Enqueue hands an entry to the applier without blocking. When the
// queue is full the entry is dropped and the cache marked dirty for
// the next rebuild; ingest latency always wins over cache freshness.
func (m *Maintainer) Enqueue(entry Entry) {
	select {
	case m.queue <- entry:
	default:
		m.dirty.Store(true)
		m.dropped.Add(1)
	}
}

// Dirty reports whether updates were dropped since the last rebuild
func (m *Maintainer) Dirty() bool {
	return m.dirty.Load()
}

// DroppedCount returns how many entries overflowed the queue
func (m *Maintainer) DroppedCount() int64 {
	return m.dropped.Load()
}

// Flush synchronously applies everything currently queued. Intended
// for tests and shutdown paths.
func (m *Maintainer) Flush(ctx context.Context) error {
	batch := m.drain()
	if len(batch) == 0 {
		return nil
	}
	return m.apply(ctx, batch)
}

func (m *Maintainer) run() {
	defer close(m.stopped)

	ticker := time.NewTicker(m.flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, m.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := m.apply(context.Background(), batch); err != nil {
			// Next rebuild repairs whatever this batch missed
			m.dirty.Store(true)
			m.log.WithError(err).Warn("name cache batch failed")
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-m.queue:
			batch = append(batch, entry)
			if len(batch) >= m.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-m.done:
			batch = append(batch, m.drain()...)
			flush()
			return
		}
	}
}

// drain empties the queue without blocking
func (m *Maintainer) drain() []Entry {
	entries := make([]Entry, 0)
	for {
		select {
		case entry := <-m.queue:
			entries = append(entries, entry)
		default:
			return entries
		}
	}
}

// apply writes one batch in a single transaction
func (m *Maintainer) apply(ctx context.Context, batch []Entry) error {
	tx, err := m.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin name batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, entry := range batch {
		nameID, err := tx.UpsertName(ctx, strings.ToLower(entry.Name), entry.Name)
		if err != nil {
			return err
		}
		if err := tx.InsertNameRef(ctx, nameID, entry.ContentHash); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit name batch: %w", err)
	}

	m.log.WithField("entries", len(batch)).Debug("applied name cache batch")
	return nil
}

// RebuildResult reports what a full rebuild inserted
type RebuildResult struct {
	ShardCount    int
	InsertedNames int64
	InsertedRefs  int64
	Duration      time.Duration
}

// Rebuild repopulates the cache from the symbol table across
// shardCount shards run in parallel. Existing rows are kept, so a
// rebuild only ever adds what maintenance missed.
func Rebuild(ctx context.Context, db storage.Storage, log *logrus.Logger, shardCount int) (*RebuildResult, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if shardCount <= 0 {
		shardCount = 4
	}

	runID := uuid.New().String()
	start := time.Now()
	log.WithFields(logrus.Fields{
		"run_id": runID,
		"shards": shardCount,
	}).Info("rebuilding symbol name cache")

	var names, refs atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for shard := 0; shard < shardCount; shard++ {
		shard := shard
		g.Go(func() error {
			n, r, err := db.RebuildNamesShard(gctx, shard, shardCount)
			if err != nil {
				return fmt.Errorf("shard %d: %w", shard, err)
			}
			names.Add(n)
			refs.Add(r)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &RebuildResult{
		ShardCount:    shardCount,
		InsertedNames: names.Load(),
		InsertedRefs:  refs.Load(),
		Duration:      time.Since(start),
	}
	log.WithFields(logrus.Fields{
		"run_id":         runID,
		"inserted_names": result.InsertedNames,
		"inserted_refs":  result.InsertedRefs,
		"duration":       result.Duration,
	}).Info("name cache rebuild complete")

	return result, nil
}

// CleanupResult reports what a cleanup pass removed
type CleanupResult struct {
	DeletedRefs  int64
	DeletedNames int64
	Batches      int
	Exhausted    bool
}

// Cleanup removes orphaned refs and then orphaned names in bounded
// batches. Exhausted is true when everything orphaned was removed
// within maxBatches.
func Cleanup(ctx context.Context, db storage.Storage, log *logrus.Logger, batchSize, maxBatches int) (*CleanupResult, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if batchSize <= 0 {
		batchSize = 1000
	}
	if maxBatches <= 0 {
		maxBatches = 100
	}

	result := &CleanupResult{Exhausted: true}
	for i := 0; i < maxBatches; i++ {
		result.Batches++
		deleted, err := db.DeleteOrphanNameRefs(ctx, batchSize)
		if err != nil {
			return nil, fmt.Errorf("cleanup refs batch %d: %w", i, err)
		}
		result.DeletedRefs += deleted
		if deleted < int64(batchSize) {
			break
		}
		if i == maxBatches-1 {
			result.Exhausted = false
		}
	}

	for i := 0; result.Exhausted && i < maxBatches; i++ {
		deleted, err := db.DeleteOrphanNames(ctx, batchSize)
		if err != nil {
			return nil, fmt.Errorf("cleanup names batch %d: %w", i, err)
		}
		result.DeletedNames += deleted
		if deleted < int64(batchSize) {
			break
		}
		if i == maxBatches-1 {
			result.Exhausted = false
		}
	}

	log.WithFields(logrus.Fields{
		"deleted_refs":  result.DeletedRefs,
		"deleted_names": result.DeletedNames,
		"exhausted":     result.Exhausted,
	}).Info("name cache cleanup complete")

	return result, nil
}
