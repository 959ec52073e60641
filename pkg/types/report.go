package types

import "errors"

// SymbolKind classifies a symbol or reference record
type SymbolKind string

const (
	KindDefinition  SymbolKind = "definition"
	KindDeclaration SymbolKind = "declaration"
	KindReference   SymbolKind = "reference"
)

// SymbolRecord is one symbol extracted from a file's content. The
// extractor hands these in pre-parsed; the core never derives them.
type SymbolRecord struct {
	Namespace      string // empty means no namespace
	Name           string
	FullyQualified string
	Kind           SymbolKind
	Line           int
	Column         int
}

// ReferenceRecord is one use site of a symbol within a file's content
type ReferenceRecord struct {
	Namespace      string
	Name           string
	FullyQualified string
	Kind           SymbolKind
	Line           int
	Column         int
}

// IngestFile is the per-file unit the extractor delivers for indexing.
// Symbols and references are keyed by the file's content once ingested,
// so identical bytes across files/commits are indexed exactly once.
type IngestFile struct {
	Repository string
	CommitSHA  string
	Path       string
	Data       []byte
	Language   string // empty means undetected

	Symbols    []SymbolRecord
	References []ReferenceRecord
}

// Validate checks the identifying fields of an ingest file
func (f *IngestFile) Validate() error {
	if f.Repository == "" {
		return errors.New("repository is required")
	}
	if f.CommitSHA == "" {
		return errors.New("commit sha is required")
	}
	if f.Path == "" {
		return errors.New("file path is required")
	}
	return nil
}

// BranchHead identifies the commit a branch pointed at when indexed.
// PrevBranch, when set, is the branch the extractor saw as live; the
// pointer only advances if it still names that branch, so two
// extractors racing on different branches cannot silently overwrite
// each other.
type BranchHead struct {
	Repository string
	Branch     string
	CommitSHA  string
	PrevBranch string
}

// IndexReport bundles one indexing run: the files of a single commit
// plus the branch head that produced them.
type IndexReport struct {
	Files  []IngestFile
	Branch BranchHead
}
