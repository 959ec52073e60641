package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pointerdev/pointer/internal/contentstore"
	"github.com/pointerdev/pointer/internal/search"
	"github.com/pointerdev/pointer/pkg/types"
)

var (
	flagSearchExact     bool
	flagSearchPrefix    bool
	flagSearchNamespace string
	flagSearchPathHint  string
	flagSearchKinds     []string
	flagSearchRepo      string
	flagSearchCommit    string
	flagSearchLimit     int
	flagSearchOffset    int
	flagSearchContext   int
)

var searchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Search symbols and file content",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().BoolVar(&flagSearchExact, "exact", false, "exact symbol name match")
	searchCmd.Flags().BoolVar(&flagSearchPrefix, "prefix", false, "prefix symbol name match")
	searchCmd.Flags().StringVar(&flagSearchNamespace, "namespace", "", "namespace filter")
	searchCmd.Flags().StringVar(&flagSearchPathHint, "path", "", "path hint for ranking")
	searchCmd.Flags().StringSliceVar(&flagSearchKinds, "kind", nil, "symbol kinds (definition, declaration, reference)")
	searchCmd.Flags().StringVar(&flagSearchRepo, "repo", "", "repository filter")
	searchCmd.Flags().StringVar(&flagSearchCommit, "commit", "", "commit filter")
	searchCmd.Flags().IntVar(&flagSearchLimit, "limit", 20, "maximum results")
	searchCmd.Flags().IntVar(&flagSearchOffset, "offset", 0, "results to skip")
	searchCmd.Flags().IntVar(&flagSearchContext, "context", 2, "snippet lines either side of a match")
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	query := &types.SearchQuery{
		Text:         args[0],
		Exact:        flagSearchExact,
		Prefix:       flagSearchPrefix,
		Namespace:    flagSearchNamespace,
		PathHint:     flagSearchPathHint,
		Repository:   flagSearchRepo,
		CommitSHA:    flagSearchCommit,
		Limit:        flagSearchLimit,
		Offset:       flagSearchOffset,
		ContextLines: flagSearchContext,
	}
	for _, kind := range flagSearchKinds {
		query.Kinds = append(query.Kinds, types.SymbolKind(kind))
	}

	searcher := search.New(a.db, contentstore.New(a.db, a.log), a.log)
	results, err := searcher.Search(cmd.Context(), query)
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("No results.")
		return nil
	}
	for i, r := range results {
		name := r.FullyQualified
		if name == "" {
			name = r.Name
		}
		if name == "" {
			name = "(content match)"
		}
		fmt.Printf("%2d. [%4d] %s\n", i+1+query.Offset, r.Score, name)
		fmt.Printf("    %s@%s %s", r.Repository, shortSHA(r.CommitSHA), r.FilePath)
		if r.Line > 0 {
			fmt.Printf(":%d", r.Line)
		}
		fmt.Println()
		for _, snip := range r.Snippets {
			fmt.Printf("    %d-%d:\n", snip.StartLine, snip.EndLine)
			fmt.Println(indent(snip.Text, "      "))
		}
	}
	return nil
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}

func indent(text, prefix string) string {
	return prefix + strings.ReplaceAll(text, "\n", "\n"+prefix)
}
