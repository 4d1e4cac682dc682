package mcp

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/docsearch/internal/search"
)

// FormatSearchResults formats a search response as markdown.
func FormatSearchResults(query string, resp *search.Response) string {
	var sb strings.Builder
	if resp == nil || len(resp.Results) == 0 {
		fmt.Fprintf(&sb, "No results found for \"%s\"\n", query)
	} else {
		fmt.Fprintf(&sb, "## Search Results for \"%s\"\n\n", query)
		fmt.Fprintf(&sb, "Found %d result", len(resp.Results))
		if len(resp.Results) != 1 {
			sb.WriteString("s")
		}
		fmt.Fprintf(&sb, " (%s)\n\n", resp.Meta.Strategy)
		if len(resp.Meta.ExpandedQueries) > 1 {
			fmt.Fprintf(&sb, "**Expanded:** %s\n\n", strings.Join(resp.Meta.ExpandedQueries, " | "))
		}
		for _, r := range resp.Results {
			formatResult(&sb, r)
		}
	}
	if resp != nil {
		formatNotices(&sb, resp.Meta.Notices)
	}
	return sb.String()
}

// FormatBatchResults formats batch search results as markdown.
func FormatBatchResults(results []search.BatchResult) string {
	var sb strings.Builder
	for _, br := range results {
		fmt.Fprintf(&sb, "## %s\n\n", br.Query)
		if br.Error != "" {
			fmt.Fprintf(&sb, "**Error:** %s\n\n", br.Error)
			continue
		}
		if len(br.Results) == 0 {
			sb.WriteString("No results.\n\n")
			continue
		}
		for _, r := range br.Results {
			formatResult(&sb, r)
		}
	}
	return sb.String()
}

// FormatDocument formats a document's fragments as markdown.
func FormatDocument(doc *search.Document) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s (%s)\n\n", doc.Filename, doc.FileType)
	for _, f := range doc.Fragments {
		fmt.Fprintf(&sb, "### Fragment %d\n\n%s", f.ChunkIndex, f.Content)
		if f.Truncated {
			sb.WriteString(" [...]")
		}
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// formatResult formats a single result.
func formatResult(sb *strings.Builder, r search.ResultItem) {
	fmt.Fprintf(sb, "### %d. %s #%d (score: %.2f)\n\n",
		r.Rank,
		r.Filename,
		r.ChunkIndex,
		r.Similarity,
	)
	if len(r.MatchedTerms) > 0 {
		terms := make([]string, len(r.MatchedTerms))
		for i, t := range r.MatchedTerms {
			terms[i] = fmt.Sprintf("`%s`", t)
		}
		fmt.Fprintf(sb, "**Matched:** %s\n\n", strings.Join(terms, ", "))
	}
	fmt.Fprintf(sb, "> %s\n\n", strings.ReplaceAll(r.ContentSnippet, "\n", "\n> "))
}

func formatNotices(sb *strings.Builder, notices []search.Notice) {
	for _, n := range notices {
		fmt.Fprintf(sb, "_Note (%s): %s_\n", n.Stage, n.Message)
	}
}

// clampLimit ensures limit is within bounds.
func clampLimit(limit, defaultVal, max int) int {
	if limit <= 0 {
		return defaultVal
	}
	if limit > max {
		return max
	}
	return limit
}

// ToSearchResultOutput converts a result item to the tool output format.
func ToSearchResultOutput(r search.ResultItem) SearchResultOutput {
	terms := r.MatchedTerms
	if terms == nil {
		terms = []string{}
	}
	return SearchResultOutput{
		FragmentID:   r.ID,
		DocumentID:   r.DocumentID,
		Filename:     r.Filename,
		FileType:     r.FileType,
		ChunkIndex:   r.ChunkIndex,
		Rank:         r.Rank,
		Similarity:   r.Similarity,
		Snippet:      r.ContentSnippet,
		MatchedTerms: terms,
	}
}

// toSearchOutput converts a response to the search tool output.
func toSearchOutput(resp *search.Response) SearchOutput {
	out := SearchOutput{
		Results:         make([]SearchResultOutput, 0, len(resp.Results)),
		Strategy:        resp.Meta.Strategy,
		ExpandedQueries: resp.Meta.ExpandedQueries,
		RerankMethod:    resp.Meta.RerankMethod,
		TotalCandidates: resp.Meta.TotalCandidates,
		TimingMS:        resp.Meta.TimingMS,
		Notices:         make([]string, 0, len(resp.Meta.Notices)),
	}
	if out.ExpandedQueries == nil {
		out.ExpandedQueries = []string{}
	}
	for _, r := range resp.Results {
		out.Results = append(out.Results, ToSearchResultOutput(r))
	}
	for _, n := range resp.Meta.Notices {
		out.Notices = append(out.Notices, fmt.Sprintf("%s: %s", n.Stage, n.Message))
	}
	return out
}
