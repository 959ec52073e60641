// Package types provides shared type definitions for the pointer index.
//
// The index consumes pre-extracted reports: an external extractor parses
// source trees and delivers IngestFile records (raw bytes plus symbol and
// reference positions) grouped into an IndexReport per commit. Nothing in
// this module parses source code.
//
// # Content addressing
//
// Content is identified by the lowercase hex SHA-256 of the file bytes;
// the same hash appearing under many paths or commits is stored and
// indexed once. Symbols and references are therefore keyed by content
// hash rather than by file path:
//
//	file := types.IngestFile{
//	    Repository: "acme/widgets",
//	    CommitSHA:  "a1b2c3...",
//	    Path:       "pkg/widget/widget.go",
//	    Data:       src,
//	    Symbols: []types.SymbolRecord{{
//	        Name:           "NewWidget",
//	        FullyQualified: "widget.NewWidget",
//	        Kind:           types.KindDefinition,
//	        Line:           14,
//	    }},
//	}
//
// # Search
//
// SearchQuery and SearchResult are the types of the search surface.
// Scores are additive integers; Snippet carries the context window
// returned with each hit, with the matched span wrapped in ** markers.
package types
