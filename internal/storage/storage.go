package storage

import (
	"context"
	"time"
)

// Storage defines the interface for persisting and querying the content
// store, the symbol index, and the retention bookkeeping tables.
type Storage interface {
	// Content blob operations
	InsertBlob(ctx context.Context, blob *ContentBlob) error
	GetBlob(ctx context.Context, hash string) (*ContentBlob, error)
	DeleteBlob(ctx context.Context, hash string) error
	ListOrphanBlobs(ctx context.Context, olderThan time.Time, limit int) ([]string, error)

	// Chunk operations
	InsertChunk(ctx context.Context, chunk *Chunk) (inserted bool, err error)
	InsertChunkText(ctx context.Context, chunkHash, text string) error
	GetChunk(ctx context.Context, hash string) (*Chunk, error)
	IncrementChunkRef(ctx context.Context, hash string) error
	DecrementChunkRef(ctx context.Context, hash string) error
	DeleteChunksIfUnreferenced(ctx context.Context, hashes []string) (deletedCount int64, err error)
	MissingChunks(ctx context.Context, hashes []string) ([]string, error)

	// Manifest operations
	InsertManifestEntry(ctx context.Context, entry *ManifestEntry) error
	GetManifest(ctx context.Context, contentHash string) ([]*ManifestEntry, error)
	DeleteManifest(ctx context.Context, contentHash string) error

	// File pointer operations
	UpsertFile(ctx context.Context, file *File) error
	GetFile(ctx context.Context, repository, commitSHA, filePath string) (*File, error)
	ListFilesByCommit(ctx context.Context, repository, commitSHA string) ([]*File, error)
	DeleteFilesByCommit(ctx context.Context, repository, commitSHA string) (int64, error)
	DeleteFilesByRepository(ctx context.Context, repository string, limit int) (int64, error)
	CountFileRefs(ctx context.Context, contentHash string) (int64, error)

	// Symbol operations
	HasSymbols(ctx context.Context, contentHash string) (bool, error)
	InsertSymbol(ctx context.Context, symbol *Symbol) error
	InsertSymbolReference(ctx context.Context, ref *SymbolReference) error
	ListSymbolsByHash(ctx context.Context, contentHash string) ([]*Symbol, error)
	DeleteSymbolsByHash(ctx context.Context, contentHash string) error
	DeleteSymbolReferencesByHash(ctx context.Context, contentHash string) error

	// Name cache operations
	UpsertName(ctx context.Context, lowerName, displayName string) (int64, error)
	LookupName(ctx context.Context, lowerName string) (*NameEntry, error)
	InsertNameRef(ctx context.Context, nameID int64, contentHash string) error
	DeleteNameEntriesByHash(ctx context.Context, contentHash string) error
	RebuildNamesShard(ctx context.Context, shard, shardCount int) (namesInserted, refsInserted int64, err error)
	DeleteOrphanNameRefs(ctx context.Context, limit int) (int64, error)
	DeleteOrphanNames(ctx context.Context, limit int) (int64, error)

	// Retention operations
	SetBranchPolicy(ctx context.Context, policy *BranchPolicy) error
	GetBranchPolicy(ctx context.Context, repository, branch string) (*BranchPolicy, error)
	ListBranchPolicies(ctx context.Context) ([]*BranchPolicy, error)
	DeleteBranchPolicy(ctx context.Context, repository, branch string) error
	AddSnapshotTier(ctx context.Context, tier *SnapshotTier) error
	RemoveSnapshotTier(ctx context.Context, repository, branch string, intervalSeconds int64) error
	ListSnapshotTiers(ctx context.Context, repository, branch string) ([]*SnapshotTier, error)
	SetLiveBranch(ctx context.Context, repository, branch, headCommit string) error
	SwapLiveBranch(ctx context.Context, repository, oldBranch, newBranch, headCommit string) error
	GetLiveBranch(ctx context.Context, repository string) (string, error)
	RecordSnapshot(ctx context.Context, snapshot *Snapshot) error
	ListSnapshots(ctx context.Context, repository, branch string) ([]*Snapshot, error)
	DeleteSnapshot(ctx context.Context, repository, branch, commitSHA string) error
	IsCommitProtected(ctx context.Context, repository, commitSHA string) (bool, error)

	// Search operations
	SearchSymbols(ctx context.Context, filter *SymbolFilter) ([]*SymbolHit, error)
	SearchContent(ctx context.Context, match string, filter *SymbolFilter) ([]*ContentHit, error)

	// Database operations
	GetStats(ctx context.Context) (*IndexStats, error)
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// ContentBlob is one deduplicated piece of file content, keyed by the
// lowercase hex SHA-256 of its bytes
type ContentBlob struct {
	Hash      string
	Language  string // empty means undetected
	IsBinary  bool
	ByteLen   int64
	LineCount int
	CreatedAt time.Time
}

// Chunk is a content-defined slice of blob data, shared across blobs.
// RefCount equals the number of manifest rows pointing at it.
type Chunk struct {
	Hash     string
	ByteLen  int64
	Data     []byte
	RefCount int64
}

// ManifestEntry records that a blob is assembled from a chunk at a
// given position
type ManifestEntry struct {
	ContentHash string
	ChunkHash   string
	ChunkIndex  int
	ByteOffset  int64
	LineCount   int
}

// File maps a path within a commit to the content it held
type File struct {
	Repository  string
	CommitSHA   string
	FilePath    string
	ContentHash string
}

// Symbol is a definition or declaration site, keyed by content hash.
// Namespace is stored as the empty string when the symbol has none.
type Symbol struct {
	ID             int64
	ContentHash    string
	Namespace      string
	Name           string
	FullyQualified string
	Kind           string
	Line           int
	Column         int
}

// SymbolReference is a use site of a symbol within a blob
type SymbolReference struct {
	ID             int64
	ContentHash    string
	Namespace      string
	Name           string
	FullyQualified string
	Kind           string
	Line           int
	Column         int
}

// NameEntry is one row of the symbol name cache. DisplayName preserves
// the casing of the first occurrence seen.
type NameEntry struct {
	ID          int64
	LowerName   string
	DisplayName string
}

// BranchPolicy sets how many of the newest snapshots a branch keeps
// regardless of tier schedules
type BranchPolicy struct {
	Repository      string
	Branch          string
	LatestKeepCount int
}

// SnapshotTier keeps one snapshot per IntervalSeconds-wide bucket, for
// up to KeepCount buckets back in time
type SnapshotTier struct {
	Repository      string
	Branch          string
	IntervalSeconds int64
	KeepCount       int
}

// Snapshot records that a commit was indexed as the head of a branch
type Snapshot struct {
	Repository string
	Branch     string
	CommitSHA  string
	IndexedAt  time.Time
}

// SymbolFilter narrows symbol and content searches. At most one of
// NameExact, NamePrefix, NameSub should be set.
type SymbolFilter struct {
	NameExact  string // lowercase equality against the name cache
	NamePrefix string
	NameSub    string
	Kinds      []string
	Repository string
	CommitSHA  string
	Limit      int
}

// SymbolHit is a symbol joined with one file location holding it
type SymbolHit struct {
	Symbol
	Repository string
	CommitSHA  string
	FilePath   string
}

// ContentHit is a file whose content matched a full-text query
type ContentHit struct {
	Repository  string
	CommitSHA   string
	FilePath    string
	ContentHash string
}

// IndexStats contains aggregate counts over the index
type IndexStats struct {
	Blobs      int64
	Chunks     int64
	Files      int64
	Symbols    int64
	References int64
	Names      int64
	Snapshots  int64
	SizeMB     float64
}
