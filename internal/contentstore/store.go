// Package contentstore implements the content-addressed blob store.
//
// File content is identified by the lowercase hex SHA-256 of its bytes
// and stored once regardless of how many paths or commits hold it. Text
// content is split with Rabin content-defined chunking so edits perturb
// only nearby chunks; chunk boundaries are nudged to the next newline,
// which keeps line-oriented diffs aligned with chunk reuse. Binary
// content (any NUL byte) is stored as a single opaque chunk and never
// enters the full-text index.
package contentstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	boxochunker "github.com/ipfs/boxo/chunker"
	"github.com/sirupsen/logrus"

	"github.com/pointerdev/pointer/internal/storage"
)

// Chunking parameters. Local edits shift boundaries only within the
// neighborhood of the change at these sizes.
const (
	MinChunkSize = 64 * 1024
	AvgChunkSize = 256 * 1024
	MaxChunkSize = 1024 * 1024
)

// Store persists deduplicated content blobs
type Store struct {
	db  storage.Storage
	log *logrus.Logger
}

// New creates a content store backed by the given storage
func New(db storage.Storage, log *logrus.Logger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{db: db, log: log}
}

// HashBytes returns the content hash used throughout the index:
// lowercase hex SHA-256 of the raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// IsBinary reports whether content is treated as opaque. Any NUL byte
// marks the blob binary, matching the common git heuristic.
func IsBinary(data []byte) bool {
	return bytes.IndexByte(data, 0) >= 0
}

// countLines returns the number of lines in data. A trailing partial
// line counts.
func countLines(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	n := bytes.Count(data, []byte{'\n'})
	if data[len(data)-1] != '\n' {
		n++
	}
	return n
}

// Put stores content and returns its hash. Storing the same bytes
// again is a no-op returning the same hash. The blob row, its chunks,
// the manifest, and the ref count increments commit atomically.
func (s *Store) Put(ctx context.Context, data []byte, language string) (string, error) {
	hash := HashBytes(data)
	isBinary := IsBinary(data)

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return "", fmt.Errorf("begin put: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	blob := &storage.ContentBlob{
		Hash:      hash,
		Language:  language,
		IsBinary:  isBinary,
		ByteLen:   int64(len(data)),
		LineCount: countLines(data),
	}
	if err := tx.InsertBlob(ctx, blob); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			// Already stored, nothing to write
			return hash, nil
		}
		return "", fmt.Errorf("insert blob %s: %w", hash, err)
	}

	chunks, err := splitContent(data, isBinary)
	if err != nil {
		return "", fmt.Errorf("chunk content %s: %w", hash, err)
	}

	var offset int64
	for i, chunkData := range chunks {
		chunkHash := HashBytes(chunkData)
		inserted, err := tx.InsertChunk(ctx, &storage.Chunk{
			Hash:    chunkHash,
			ByteLen: int64(len(chunkData)),
			Data:    chunkData,
		})
		if err != nil {
			return "", fmt.Errorf("insert chunk %s: %w", chunkHash, err)
		}
		if inserted && !isBinary {
			if err := tx.InsertChunkText(ctx, chunkHash, string(chunkData)); err != nil {
				return "", fmt.Errorf("index chunk %s: %w", chunkHash, err)
			}
		}

		entry := &storage.ManifestEntry{
			ContentHash: hash,
			ChunkHash:   chunkHash,
			ChunkIndex:  i,
			ByteOffset:  offset,
			LineCount:   countLines(chunkData),
		}
		if err := tx.InsertManifestEntry(ctx, entry); err != nil {
			return "", fmt.Errorf("insert manifest entry %d for %s: %w", i, hash, err)
		}
		if err := tx.IncrementChunkRef(ctx, chunkHash); err != nil {
			return "", fmt.Errorf("increment ref for chunk %s: %w", chunkHash, err)
		}
		offset += int64(len(chunkData))
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit put %s: %w", hash, err)
	}

	s.log.WithFields(logrus.Fields{
		"hash":   hash,
		"bytes":  len(data),
		"chunks": len(chunks),
		"binary": isBinary,
	}).Debug("stored blob")

	return hash, nil
}

// Get reassembles a blob from its manifest. Unknown hashes return
// storage.ErrNotFound.
func (s *Store) Get(ctx context.Context, hash string) ([]byte, error) {
	blob, err := s.db.GetBlob(ctx, hash)
	if err != nil {
		return nil, err
	}

	manifest, err := s.db.GetManifest(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", hash, err)
	}

	data := make([]byte, 0, blob.ByteLen)
	for _, entry := range manifest {
		chunk, err := s.db.GetChunk(ctx, entry.ChunkHash)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("blob %s manifest references missing chunk %s", hash, entry.ChunkHash)
			}
			return nil, err
		}
		data = append(data, chunk.Data...)
	}

	if int64(len(data)) != blob.ByteLen {
		return nil, fmt.Errorf("blob %s reassembled to %d bytes, expected %d", hash, len(data), blob.ByteLen)
	}
	return data, nil
}

// Stat returns blob metadata without assembling its content
func (s *Store) Stat(ctx context.Context, hash string) (*storage.ContentBlob, error) {
	return s.db.GetBlob(ctx, hash)
}

// MissingChunks reports which of the given chunk hashes are not yet
// stored, preserving input order. Senders use it to skip uploading
// chunks the store already holds.
func (s *Store) MissingChunks(ctx context.Context, hashes []string) ([]string, error) {
	return s.db.MissingChunks(ctx, hashes)
}

// splitContent produces the chunk sequence for a blob. Binary blobs
// and blobs below the minimum chunk size become a single chunk.
func splitContent(data []byte, isBinary bool) ([][]byte, error) {
	if isBinary || len(data) < MinChunkSize {
		return [][]byte{data}, nil
	}

	splitter := boxochunker.NewRabinMinMax(bytes.NewReader(data), MinChunkSize, AvgChunkSize, MaxChunkSize)

	boundaries := make([]int, 0, len(data)/AvgChunkSize+1)
	pos := 0
	for {
		chunk, err := splitter.NextBytes()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		pos += len(chunk)
		boundaries = append(boundaries, pos)
	}
	if len(boundaries) == 0 || boundaries[len(boundaries)-1] != len(data) {
		return nil, fmt.Errorf("splitter consumed %d of %d bytes", pos, len(data))
	}

	boundaries = nudgeToNewlines(data, boundaries)

	chunks := make([][]byte, 0, len(boundaries))
	start := 0
	for _, end := range boundaries {
		chunks = append(chunks, data[start:end])
		start = end
	}
	return chunks, nil
}

// nudgeToNewlines moves every interior boundary forward to just past
// the next newline so chunks end on line breaks. Boundaries that pass
// their successor collapse into it.
func nudgeToNewlines(data []byte, boundaries []int) []int {
	nudged := make([]int, 0, len(boundaries))
	prev := 0
	for i, end := range boundaries {
		if i == len(boundaries)-1 {
			// Final boundary is the end of the data
			if end > prev {
				nudged = append(nudged, end)
			}
			break
		}
		if idx := bytes.IndexByte(data[end:], '\n'); idx >= 0 {
			end += idx + 1
		} else {
			end = len(data)
		}
		if end <= prev {
			continue
		}
		if end >= len(data) {
			nudged = append(nudged, len(data))
			break
		}
		nudged = append(nudged, end)
		prev = end
	}
	if len(nudged) == 0 || nudged[len(nudged)-1] != len(data) {
		nudged = append(nudged, len(data))
	}
	return nudged
}
