// Package search executes queries over the symbol index and the
// full-text chunk surface, ranks the hits, and decorates them with
// content snippets.
//
// Ranking is a deterministic sum of independent terms computed in Go;
// the storage layer only returns unranked candidates. Two results with
// equal scores order by fully-qualified name, path, then line, so the
// same index always returns the same ordering.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hbollon/go-edlib"
	"github.com/sirupsen/logrus"

	"github.com/pointerdev/pointer/internal/storage"
	"github.com/pointerdev/pointer/pkg/types"
)

// Ranking terms. Scores are sums of these; every term is independent
// of the others.
const (
	scoreKindDefinition  = 120
	scoreKindDeclaration = 90
	scoreKindOther       = 50

	scoreExactName = 40
	scoreExactFQN  = 60

	scoreNSNoneBonus      = 70  // no filter, symbol has no namespace
	scoreNSPresentPenalty = -15 // no filter, symbol has a namespace
	scoreNSExact          = 80
	scoreNSUnderFilter    = 50 // symbol namespace nested under the filter
	scoreNSFilterUnder    = 25 // filter nested under the symbol namespace
	scoreNSUnrelated      = -40

	scorePathExact      = 70
	scorePathHintPrefix = 45 // hint is a prefix of the file path
	scorePathPathPrefix = 25 // file path is a prefix of the hint

	scoreTextMatch = 30 // free-text content hit with no symbol attached
)

// namespaceSep separates namespace segments in extractor reports
const namespaceSep = "::"

const (
	defaultLimit        = 50
	defaultContextLines = 2

	nameCacheSize = 1000
	nameCacheTTL  = 30 * time.Second

	// Trigram FTS cannot match needles shorter than a trigram
	minTextMatchLen = 3
)

// ContentReader assembles blob content for snippet extraction
type ContentReader interface {
	Get(ctx context.Context, hash string) ([]byte, error)
}

type nameCacheEntry struct {
	entry    *storage.NameEntry
	cachedAt time.Time
}

// Searcher answers ranked queries against the index
type Searcher struct {
	db      storage.Storage
	content ContentReader
	log     *logrus.Logger

	names   *lru.Cache[string, *nameCacheEntry]
	namesMu sync.Mutex
}

// New creates a searcher. content may be nil, in which case results
// carry no snippets.
func New(db storage.Storage, content ContentReader, log *logrus.Logger) *Searcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	names, err := lru.New[string, *nameCacheEntry](nameCacheSize)
	if err != nil {
		panic(fmt.Sprintf("failed to create name lookup cache: %v", err))
	}
	return &Searcher{db: db, content: content, log: log, names: names}
}

// LookupName resolves a name to its cached display form, going through
// an in-process LRU so repeated lookups of hot names skip the database
func (s *Searcher) LookupName(ctx context.Context, name string) (*storage.NameEntry, error) {
	lower := strings.ToLower(name)

	s.namesMu.Lock()
	if cached, ok := s.names.Get(lower); ok && time.Since(cached.cachedAt) < nameCacheTTL {
		s.namesMu.Unlock()
		return cached.entry, nil
	}
	s.namesMu.Unlock()

	entry, err := s.db.LookupName(ctx, lower)
	if err != nil {
		return nil, err
	}

	s.namesMu.Lock()
	s.names.Add(lower, &nameCacheEntry{entry: entry, cachedAt: time.Now()})
	s.namesMu.Unlock()
	return entry, nil
}

// Search runs a query and returns ranked results. Symbol-name matches
// and free-text content matches are merged into one ordering; a file
// already present as a symbol hit is not repeated as a text hit.
func (s *Searcher) Search(ctx context.Context, query *types.SearchQuery) ([]*types.SearchResult, error) {
	if strings.TrimSpace(query.Text) == "" {
		return nil, fmt.Errorf("empty query text")
	}

	limit := query.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	results, err := s.symbolSurface(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("symbol search: %w", err)
	}

	if !query.Exact && !query.Prefix {
		textHits, err := s.textSurface(ctx, query, results)
		if err != nil {
			return nil, fmt.Errorf("content search: %w", err)
		}
		results = append(results, textHits...)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return tieKey(results[i]) < tieKey(results[j])
	})

	if query.Offset >= len(results) {
		return []*types.SearchResult{}, nil
	}
	results = results[query.Offset:]
	if len(results) > limit {
		results = results[:limit]
	}

	s.attachSnippets(ctx, query, results)

	s.log.WithFields(logrus.Fields{
		"text":    query.Text,
		"results": len(results),
	}).Debug("search complete")
	return results, nil
}

// symbolSurface finds and scores symbols by name through the name cache
func (s *Searcher) symbolSurface(ctx context.Context, query *types.SearchQuery) ([]*types.SearchResult, error) {
	lower := strings.ToLower(query.Text)

	if query.Exact {
		// A cache miss means no symbol anywhere has this name, so the
		// join can be skipped entirely
		if _, err := s.LookupName(ctx, query.Text); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
	}

	filter := &storage.SymbolFilter{
		Repository: query.Repository,
		CommitSHA:  query.CommitSHA,
	}
	switch {
	case query.Exact:
		filter.NameExact = lower
	case query.Prefix:
		filter.NamePrefix = lower
	default:
		filter.NameSub = lower
	}
	for _, kind := range query.Kinds {
		filter.Kinds = append(filter.Kinds, string(kind))
	}

	hits, err := s.db.SearchSymbols(ctx, filter)
	if err != nil {
		return nil, err
	}

	results := make([]*types.SearchResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, &types.SearchResult{
			Repository:     hit.Repository,
			CommitSHA:      hit.CommitSHA,
			FilePath:       hit.FilePath,
			ContentHash:    hit.ContentHash,
			Namespace:      hit.Namespace,
			Name:           hit.Name,
			FullyQualified: hit.FullyQualified,
			Kind:           types.SymbolKind(hit.Kind),
			Line:           hit.Line,
			Column:         hit.Column,
			Score:          s.scoreSymbol(query, hit),
		})
	}
	return results, nil
}

// textSurface finds files whose content matches the query text,
// skipping files already present as symbol hits
func (s *Searcher) textSurface(ctx context.Context, query *types.SearchQuery, existing []*types.SearchResult) ([]*types.SearchResult, error) {
	if len(query.Text) < minTextMatchLen {
		return nil, nil
	}

	seen := make(map[string]bool, len(existing))
	for _, r := range existing {
		seen[r.Repository+"\x00"+r.CommitSHA+"\x00"+r.FilePath] = true
	}

	filter := &storage.SymbolFilter{
		Repository: query.Repository,
		CommitSHA:  query.CommitSHA,
	}
	hits, err := s.db.SearchContent(ctx, ftsQuote(query.Text), filter)
	if err != nil {
		return nil, err
	}

	results := make([]*types.SearchResult, 0, len(hits))
	for _, hit := range hits {
		if seen[hit.Repository+"\x00"+hit.CommitSHA+"\x00"+hit.FilePath] {
			continue
		}
		results = append(results, &types.SearchResult{
			Repository:  hit.Repository,
			CommitSHA:   hit.CommitSHA,
			FilePath:    hit.FilePath,
			ContentHash: hit.ContentHash,
			Score:       scoreTextMatch + scorePathHint(query.PathHint, hit.FilePath),
		})
	}
	return results, nil
}

// scoreSymbol sums the ranking terms for one symbol hit
func (s *Searcher) scoreSymbol(query *types.SearchQuery, hit *storage.SymbolHit) int {
	score := scoreKind(hit.Kind)
	if strings.EqualFold(query.Text, hit.Name) {
		score += scoreExactName
	}
	if strings.EqualFold(query.Text, hit.FullyQualified) {
		score += scoreExactFQN
	}
	score += scoreNamespace(query.Namespace, hit.Namespace)
	score += scorePathHint(query.PathHint, hit.FilePath)
	return score
}

func scoreKind(kind string) int {
	switch types.SymbolKind(kind) {
	case types.KindDefinition:
		return scoreKindDefinition
	case types.KindDeclaration:
		return scoreKindDeclaration
	default:
		return scoreKindOther
	}
}

// scoreNamespace tiers a symbol's namespace against the query filter
func scoreNamespace(filter, ns string) int {
	if filter == "" {
		if ns == "" {
			return scoreNSNoneBonus
		}
		return scoreNSPresentPenalty
	}
	switch {
	case ns == filter:
		return scoreNSExact
	case strings.HasPrefix(ns, filter+namespaceSep):
		return scoreNSUnderFilter
	case strings.HasPrefix(filter, ns+namespaceSep):
		return scoreNSFilterUnder
	default:
		return scoreNSUnrelated
	}
}

// scorePathHint tiers a file path against the query's path hint. Weak
// matches fall back to Jaro-Winkler similarity scaled into [-20, 20].
func scorePathHint(hint, path string) int {
	if hint == "" {
		return 0
	}
	switch {
	case path == hint:
		return scorePathExact
	case strings.HasPrefix(path, hint):
		return scorePathHintPrefix
	case strings.HasPrefix(hint, path):
		return scorePathPathPrefix
	}
	sim, err := edlib.StringsSimilarity(hint, path, edlib.JaroWinkler)
	if err != nil {
		return -20
	}
	score := int(sim*40) - 20
	if score < -20 {
		score = -20
	}
	return score
}

// tieKey gives equal-score results a stable total order
func tieKey(r *types.SearchResult) string {
	return fmt.Sprintf("%s|%s|%08d", r.FullyQualified, r.FilePath, r.Line)
}

// ftsQuote wraps text in an FTS5 string literal so query punctuation is
// matched, not parsed
func ftsQuote(text string) string {
	return `"` + strings.ReplaceAll(text, `"`, `""`) + `"`
}

// attachSnippets decorates the final result page with content windows.
// Snippet failures degrade to snippet-less results; content may have
// been collected since the hit was indexed.
func (s *Searcher) attachSnippets(ctx context.Context, query *types.SearchQuery, results []*types.SearchResult) {
	if s.content == nil {
		return
	}
	window := query.ContextLines
	if window <= 0 {
		window = defaultContextLines
	}

	blobs := make(map[string][]string)
	for _, result := range results {
		lines, ok := blobs[result.ContentHash]
		if !ok {
			data, err := s.content.Get(ctx, result.ContentHash)
			if err != nil {
				s.log.WithError(err).WithField("hash", result.ContentHash).
					Debug("snippet content unavailable")
				blobs[result.ContentHash] = nil
				continue
			}
			lines = strings.Split(string(data), "\n")
			blobs[result.ContentHash] = lines
		}
		if lines == nil {
			continue
		}

		if result.Line > 0 {
			if snip, ok := snippetAt(lines, result.Line, result.Name, window); ok {
				result.Snippets = []types.Snippet{snip}
			}
			continue
		}
		result.Snippets = ExtractSnippets(lines, query.Text, window, false)
	}
}
