package search

import (
	"strings"

	"github.com/pointerdev/pointer/pkg/types"
)

// ExtractSnippets returns one snippet per line containing needle,
// ordered by line number. Each snippet is a window of up to window
// lines either side of the match, clamped at the text boundaries, with
// the matched span wrapped in ** markers.
func ExtractSnippets(lines []string, needle string, window int, caseSensitive bool) []types.Snippet {
	if needle == "" {
		return nil
	}

	probe := needle
	if !caseSensitive {
		probe = strings.ToLower(needle)
	}

	snippets := make([]types.Snippet, 0)
	for i, line := range lines {
		haystack := line
		if !caseSensitive {
			haystack = strings.ToLower(line)
		}
		col := strings.Index(haystack, probe)
		if col < 0 {
			continue
		}
		snippets = append(snippets, buildSnippet(lines, i, col, len(needle), window))
	}
	return snippets
}

// snippetAt builds the window around a known match line, highlighting
// the first occurrence of needle on it. Lines are 1-based. Reports
// false when the line falls outside the text.
func snippetAt(lines []string, matchLine int, needle string, window int) (types.Snippet, bool) {
	idx := matchLine - 1
	if idx < 0 || idx >= len(lines) {
		return types.Snippet{}, false
	}
	col := 0
	width := 0
	if needle != "" {
		if at := strings.Index(lines[idx], needle); at >= 0 {
			col, width = at, len(needle)
		}
	}
	return buildSnippet(lines, idx, col, width, window), true
}

// buildSnippet assembles the clamped window around lines[idx], marking
// width bytes at col when width > 0
func buildSnippet(lines []string, idx, col, width, window int) types.Snippet {
	start := idx - window
	if start < 0 {
		start = 0
	}
	end := idx + window
	if end > len(lines)-1 {
		end = len(lines) - 1
	}

	var sb strings.Builder
	for i := start; i <= end; i++ {
		if i > start {
			sb.WriteByte('\n')
		}
		if i == idx && width > 0 {
			line := lines[i]
			sb.WriteString(line[:col])
			sb.WriteString("**")
			sb.WriteString(line[col : col+width])
			sb.WriteString("**")
			sb.WriteString(line[col+width:])
			continue
		}
		sb.WriteString(lines[i])
	}

	return types.Snippet{
		StartLine: start + 1,
		EndLine:   end + 1,
		MatchLine: idx + 1,
		Text:      sb.String(),
	}
}
