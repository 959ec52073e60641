package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pointerdev/pointer/internal/contentstore"
	"github.com/pointerdev/pointer/internal/storage"
	"github.com/pointerdev/pointer/pkg/types"
)

func setupSearcher(t *testing.T) (*Searcher, *storage.SQLiteStorage, *contentstore.Store) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := contentstore.New(db, nil)
	return New(db, store, nil), db, store
}

// addName registers a symbol name in the lookup cache for a hash
func addName(t *testing.T, db *storage.SQLiteStorage, name, hash string) {
	t.Helper()
	ctx := context.Background()
	id, err := db.UpsertName(ctx, name, name)
	require.NoError(t, err)
	require.NoError(t, db.InsertNameRef(ctx, id, hash))
}

func TestSearch_RanksDefinitionAboveReference(t *testing.T) {
	searcher, db, _ := setupSearcher(t)
	ctx := context.Background()

	require.NoError(t, db.InsertSymbol(ctx, &storage.Symbol{
		ContentHash: "h1", Name: "foo", Kind: "definition", Line: 10,
	}))
	require.NoError(t, db.InsertSymbol(ctx, &storage.Symbol{
		ContentHash: "h2", Namespace: "ns::a", Name: "foo",
		FullyQualified: "ns::a::foo", Kind: "reference", Line: 20,
	}))
	addName(t, db, "foo", "h1")
	addName(t, db, "foo", "h2")
	require.NoError(t, db.UpsertFile(ctx, &storage.File{
		Repository: "r", CommitSHA: "c", FilePath: "def.go", ContentHash: "h1",
	}))
	require.NoError(t, db.UpsertFile(ctx, &storage.File{
		Repository: "r", CommitSHA: "c", FilePath: "ref.go", ContentHash: "h2",
	}))

	results, err := searcher.Search(ctx, &types.SearchQuery{Text: "foo", Exact: true})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// definition: kind 120 + exact name 40 + no namespace 70
	assert.Equal(t, types.KindDefinition, results[0].Kind)
	assert.Equal(t, 230, results[0].Score)
	// reference: kind 50 + exact name 40 - namespace present 15
	assert.Equal(t, types.KindReference, results[1].Kind)
	assert.Equal(t, 75, results[1].Score)
}

func TestSearch_ExactMissReturnsEmpty(t *testing.T) {
	searcher, _, _ := setupSearcher(t)

	results, err := searcher.Search(context.Background(), &types.SearchQuery{Text: "nothing", Exact: true})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_EmptyTextRejected(t *testing.T) {
	searcher, _, _ := setupSearcher(t)

	_, err := searcher.Search(context.Background(), &types.SearchQuery{Text: "  "})
	assert.Error(t, err)
}

func TestSearch_TextSurface(t *testing.T) {
	searcher, db, store := setupSearcher(t)
	ctx := context.Background()

	hash, err := store.Put(ctx, []byte("package main\n\nvar needle = 1\n"), "go")
	require.NoError(t, err)
	require.NoError(t, db.UpsertFile(ctx, &storage.File{
		Repository: "r", CommitSHA: "c", FilePath: "main.go", ContentHash: hash,
	}))

	results, err := searcher.Search(ctx, &types.SearchQuery{Text: "needle", ContextLines: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, scoreTextMatch, results[0].Score)
	assert.Equal(t, "main.go", results[0].FilePath)
	require.Len(t, results[0].Snippets, 1)
	assert.Equal(t, 3, results[0].Snippets[0].MatchLine)
	assert.Contains(t, results[0].Snippets[0].Text, "**needle**")
}

func TestSearch_SymbolHitNotRepeatedAsTextHit(t *testing.T) {
	searcher, db, store := setupSearcher(t)
	ctx := context.Background()

	hash, err := store.Put(ctx, []byte("func Widget() {}\n"), "go")
	require.NoError(t, err)
	require.NoError(t, db.UpsertFile(ctx, &storage.File{
		Repository: "r", CommitSHA: "c", FilePath: "w.go", ContentHash: hash,
	}))
	require.NoError(t, db.InsertSymbol(ctx, &storage.Symbol{
		ContentHash: hash, Name: "Widget", FullyQualified: "Widget", Kind: "definition", Line: 1, Column: 6,
	}))
	addName(t, db, "widget", hash)

	results, err := searcher.Search(ctx, &types.SearchQuery{Text: "Widget"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Widget", results[0].Name)
	require.Len(t, results[0].Snippets, 1)
	assert.Contains(t, results[0].Snippets[0].Text, "**Widget**")
}

func TestSearch_OffsetPastEnd(t *testing.T) {
	searcher, _, _ := setupSearcher(t)

	results, err := searcher.Search(context.Background(), &types.SearchQuery{Text: "xyzzy", Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_TieBreakIsStable(t *testing.T) {
	searcher, db, _ := setupSearcher(t)
	ctx := context.Background()

	for _, hash := range []string{"h1", "h2"} {
		require.NoError(t, db.InsertSymbol(ctx, &storage.Symbol{
			ContentHash: hash, Name: "dup", FullyQualified: "dup", Kind: "definition", Line: 1,
		}))
		addName(t, db, "dup", hash)
	}
	require.NoError(t, db.UpsertFile(ctx, &storage.File{
		Repository: "r", CommitSHA: "c", FilePath: "zz.go", ContentHash: "h1",
	}))
	require.NoError(t, db.UpsertFile(ctx, &storage.File{
		Repository: "r", CommitSHA: "c", FilePath: "aa.go", ContentHash: "h2",
	}))

	results, err := searcher.Search(ctx, &types.SearchQuery{Text: "dup", Exact: true})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, results[0].Score, results[1].Score)
	assert.Equal(t, "aa.go", results[0].FilePath)
	assert.Equal(t, "zz.go", results[1].FilePath)
}

func TestLookupName_ServesFromCache(t *testing.T) {
	searcher, db, _ := setupSearcher(t)
	ctx := context.Background()

	_, err := db.UpsertName(ctx, "hot", "Hot")
	require.NoError(t, err)

	entry, err := searcher.LookupName(ctx, "Hot")
	require.NoError(t, err)
	assert.Equal(t, "Hot", entry.DisplayName)

	// The row is orphaned and removable; the cached entry survives it
	deleted, err := db.DeleteOrphanNames(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	entry, err = searcher.LookupName(ctx, "hot")
	require.NoError(t, err)
	assert.Equal(t, "Hot", entry.DisplayName)
}

func TestScoreNamespace(t *testing.T) {
	tests := []struct {
		name   string
		filter string
		ns     string
		want   int
	}{
		{"no filter, no namespace", "", "", 70},
		{"no filter, namespace present", "", "ns::a", -15},
		{"exact", "ns::a", "ns::a", 80},
		{"symbol under filter", "ns", "ns::a", 50},
		{"filter under symbol", "ns::a::b", "ns::a", 25},
		{"unrelated", "ns::a", "other", -40},
		{"prefix without separator is unrelated", "ns", "nsx::a", -40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scoreNamespace(tt.filter, tt.ns))
		})
	}
}

func TestScorePathHint(t *testing.T) {
	assert.Equal(t, 0, scorePathHint("", "src/main.go"))
	assert.Equal(t, 70, scorePathHint("src/main.go", "src/main.go"))
	assert.Equal(t, 45, scorePathHint("src/", "src/main.go"))
	assert.Equal(t, 25, scorePathHint("src/main.go.bak", "src/main.go"))

	// Similarity fallback stays within its band
	weak := scorePathHint("docs/readme.md", "internal/engine/core.go")
	assert.GreaterOrEqual(t, weak, -20)
	assert.LessOrEqual(t, weak, 20)
}
