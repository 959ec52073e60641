// Package ingest writes extractor reports into the index.
//
// A report carries one commit's files with their pre-extracted symbols
// and references. Content goes through the content store first, then
// file pointers and symbol rows commit in batched transactions run
// under an errgroup. Name cache updates are enqueued after each batch
// commits; they never extend an ingest transaction.
package ingest

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pointerdev/pointer/internal/contentstore"
	"github.com/pointerdev/pointer/internal/namecache"
	"github.com/pointerdev/pointer/internal/storage"
	"github.com/pointerdev/pointer/pkg/types"
)

// Indexer coordinates the ingest pipeline: store content -> write file
// pointers and symbols -> enqueue name cache updates
type Indexer struct {
	db      storage.Storage
	content *contentstore.Store
	names   *namecache.Maintainer
	log     *logrus.Logger
}

// Config contains configuration for one ingest run
type Config struct {
	Workers   int // concurrent batches (default: runtime.NumCPU())
	BatchSize int // files committed per transaction (default: 20)
}

// Statistics tracks what one ingest run wrote
type Statistics struct {
	FilesIndexed   int32
	SymbolsStored  int32
	RefsStored     int32
	RecordsSkipped int32
	Duration       time.Duration
}

// New creates an indexer. names may be nil when no maintainer runs,
// leaving the name cache to offline rebuilds.
func New(db storage.Storage, content *contentstore.Store, names *namecache.Maintainer, log *logrus.Logger) *Indexer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Indexer{db: db, content: content, names: names, log: log}
}

// IngestReport indexes one report. Files are processed in concurrent
// batches, each batch one transaction; the branch snapshot records only
// after every file landed.
func (idx *Indexer) IngestReport(ctx context.Context, report *types.IndexReport, config *Config) (*Statistics, error) {
	if config == nil {
		config = &Config{}
	}
	workers := config.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = 20
	}

	head := report.Branch
	if head.Repository == "" || head.Branch == "" || head.CommitSHA == "" {
		return nil, fmt.Errorf("report branch head is incomplete")
	}

	startTime := time.Now()
	stats := &Statistics{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	files := report.Files
	for i := 0; i < len(files); i += batchSize {
		end := i + batchSize
		if end > len(files) {
			end = len(files)
		}
		batch := files[i:end]
		g.Go(func() error {
			return idx.ingestBatch(gctx, batch, stats)
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	now := time.Now()
	if err := idx.db.RecordSnapshot(ctx, &storage.Snapshot{
		Repository: head.Repository,
		Branch:     head.Branch,
		CommitSHA:  head.CommitSHA,
		IndexedAt:  now,
	}); err != nil {
		return stats, fmt.Errorf("record snapshot: %w", err)
	}
	var advanceErr error
	if head.PrevBranch != "" {
		advanceErr = idx.db.SwapLiveBranch(ctx, head.Repository, head.PrevBranch, head.Branch, head.CommitSHA)
	} else {
		advanceErr = idx.db.SetLiveBranch(ctx, head.Repository, head.Branch, head.CommitSHA)
	}
	if advanceErr != nil {
		return stats, fmt.Errorf("advance live branch: %w", advanceErr)
	}

	stats.Duration = time.Since(startTime)
	idx.log.WithFields(logrus.Fields{
		"repository": head.Repository,
		"commit":     head.CommitSHA,
		"files":      stats.FilesIndexed,
		"symbols":    stats.SymbolsStored,
		"references": stats.RefsStored,
		"duration":   stats.Duration,
	}).Info("ingested report")

	return stats, nil
}

// ingestBatch stores content for a batch of files, then commits their
// file pointers and symbol rows in one transaction
func (idx *Indexer) ingestBatch(ctx context.Context, batch []types.IngestFile, stats *Statistics) error {
	type stored struct {
		file *types.IngestFile
		hash string
	}

	// Content first: each put is its own transaction, and a duplicate
	// put is a cheap no-op
	prepared := make([]stored, 0, len(batch))
	for i := range batch {
		file := &batch[i]
		if err := file.Validate(); err != nil {
			return fmt.Errorf("file %s: %w", file.Path, err)
		}
		hash, err := idx.content.Put(ctx, file.Data, file.Language)
		if err != nil {
			return fmt.Errorf("store content for %s: %w", file.Path, err)
		}
		prepared = append(prepared, stored{file: file, hash: hash})
	}

	pending := make([]namecache.Entry, 0)

	tx, err := idx.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin ingest batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, item := range prepared {
		file := item.file
		if err := tx.UpsertFile(ctx, &storage.File{
			Repository:  file.Repository,
			CommitSHA:   file.CommitSHA,
			FilePath:    file.Path,
			ContentHash: item.hash,
		}); err != nil {
			return fmt.Errorf("upsert file %s: %w", file.Path, err)
		}

		// Content already indexed under this hash keeps its symbol rows
		indexed, err := tx.HasSymbols(ctx, item.hash)
		if err != nil {
			return fmt.Errorf("check symbols for %s: %w", item.hash, err)
		}
		if indexed {
			stats.addFile()
			continue
		}

		for _, rec := range file.Symbols {
			if err := validateRecord(rec.Name, rec.Kind, rec.Line); err != nil {
				idx.log.WithError(err).WithFields(logrus.Fields{
					"path": file.Path,
					"name": rec.Name,
				}).Warn("skipping malformed symbol record")
				atomic.AddInt32(&stats.RecordsSkipped, 1)
				continue
			}
			if err := tx.InsertSymbol(ctx, &storage.Symbol{
				ContentHash:    item.hash,
				Namespace:      rec.Namespace,
				Name:           rec.Name,
				FullyQualified: rec.FullyQualified,
				Kind:           string(rec.Kind),
				Line:           rec.Line,
				Column:         rec.Column,
			}); err != nil {
				return fmt.Errorf("insert symbol %s: %w", rec.Name, err)
			}
			atomic.AddInt32(&stats.SymbolsStored, 1)
			pending = append(pending, namecache.Entry{Name: rec.Name, ContentHash: item.hash})
		}

		for _, rec := range file.References {
			if err := validateRecord(rec.Name, rec.Kind, rec.Line); err != nil {
				atomic.AddInt32(&stats.RecordsSkipped, 1)
				continue
			}
			if err := tx.InsertSymbolReference(ctx, &storage.SymbolReference{
				ContentHash:    item.hash,
				Namespace:      rec.Namespace,
				Name:           rec.Name,
				FullyQualified: rec.FullyQualified,
				Kind:           string(rec.Kind),
				Line:           rec.Line,
				Column:         rec.Column,
			}); err != nil {
				return fmt.Errorf("insert reference %s: %w", rec.Name, err)
			}
			atomic.AddInt32(&stats.RefsStored, 1)
		}
		stats.addFile()
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ingest batch: %w", err)
	}

	// Enqueue only after the symbols are durable
	if idx.names != nil {
		for _, entry := range pending {
			idx.names.Enqueue(entry)
		}
	}
	return nil
}

func (s *Statistics) addFile() {
	atomic.AddInt32(&s.FilesIndexed, 1)
}

// validateRecord checks one extractor record's identifying fields
func validateRecord(name string, kind types.SymbolKind, line int) error {
	if name == "" {
		return types.ErrEmptyName
	}
	switch kind {
	case types.KindDefinition, types.KindDeclaration, types.KindReference:
	default:
		return types.ErrInvalidKind
	}
	if line < 1 {
		return types.ErrInvalidLine
	}
	return nil
}
