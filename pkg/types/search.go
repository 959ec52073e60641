package types

// SearchQuery describes one search request against the index.
// Text is matched against symbol names (and file content for free-text
// queries); all other fields narrow or re-rank the candidate set.
type SearchQuery struct {
	Text      string
	Exact     bool // exact name match only
	Prefix    bool // prefix name match
	Namespace string
	PathHint  string
	Kinds     []SymbolKind

	Repository string
	CommitSHA  string

	Limit        int
	Offset       int
	ContextLines int // snippet window, lines either side of a match
}

// Snippet is a small window of file content around a matched line.
// The matched span inside Text is wrapped in ** markers.
type Snippet struct {
	StartLine int // 1-based, inclusive
	EndLine   int
	MatchLine int
	Text      string
}

// SearchResult is one ranked hit
type SearchResult struct {
	Repository     string
	CommitSHA      string
	FilePath       string
	ContentHash    string
	Namespace      string
	Name           string
	FullyQualified string
	Kind           SymbolKind
	Line           int
	Column         int
	Score          int
	Snippets       []Snippet
}
