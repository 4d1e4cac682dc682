// Package output renders search results and status messages for the CLI.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/Aman-CERP/docsearch/internal/llm"
	"github.com/Aman-CERP/docsearch/internal/search"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(s)); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown format %q (want text or json)", s)
	}
}

// Writer provides formatted output for CLI.
type Writer struct {
	out    io.Writer
	styles Styles
}

// New creates a Writer that colors output only when out is a terminal
// and NO_COLOR is unset.
func New(out io.Writer) *Writer {
	return NewWithColor(out, IsTTY(out) && !DetectNoColor())
}

// NewWithColor creates a Writer with color forced on or off.
func NewWithColor(out io.Writer, color bool) *Writer {
	return &Writer{out: out, styles: GetStyles(!color)}
}

// Status prints a status message with an icon.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Success prints a success message with checkmark.
func (w *Writer) Success(msg string) {
	w.Status("✅", w.styles.Success.Render(msg))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status("⚠️ ", w.styles.Warning.Render(msg))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status("❌", w.styles.Error.Render(msg))
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// JSON writes v as indented JSON.
func (w *Writer) JSON(v any) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// Response prints a ranked result list followed by its notices.
func (w *Writer) Response(resp *search.Response) {
	m := resp.Meta
	header := fmt.Sprintf("%d results for %q (%s, %dms)", len(resp.Results), m.Query, m.Strategy, m.TimingMS)
	_, _ = fmt.Fprintln(w.out, w.styles.Header.Render(header))
	if len(m.ExpandedQueries) > 1 {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", w.styles.Label.Render("expanded:"), strings.Join(m.ExpandedQueries, " | "))
	}
	if m.RerankMethod != "" && m.RerankMethod != search.RerankNone {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", w.styles.Label.Render("reranked:"), m.RerankMethod)
	}
	w.Newline()

	for _, r := range resp.Results {
		w.result(r)
	}
	for _, n := range m.Notices {
		w.Warning(fmt.Sprintf("[%s] %s", n.Stage, n.Message))
	}
}

func (w *Writer) result(r search.ResultItem) {
	_, _ = fmt.Fprintf(w.out, "%s %s %s %s\n",
		w.styles.Rank.Render(fmt.Sprintf("%2d.", r.Rank)),
		w.styles.Filename.Render(r.Filename),
		w.styles.Dim.Render(fmt.Sprintf("#%d %s", r.ChunkIndex, r.FileType)),
		w.styles.Score.Render(fmt.Sprintf("%.3f", r.Similarity)))
	_, _ = fmt.Fprintf(w.out, "    %s\n\n", w.markHighlights(r.ContentSnippet, r.Highlights))
}

// markHighlights styles the highlighted rune ranges of snippet.
// Ranges that overlap an earlier one are skipped.
func (w *Writer) markHighlights(snippet string, highlights []search.Highlight) string {
	if len(highlights) == 0 {
		return snippet
	}
	hs := make([]search.Highlight, len(highlights))
	copy(hs, highlights)
	sort.SliceStable(hs, func(i, j int) bool { return hs[i].Start < hs[j].Start })

	runes := []rune(snippet)
	var b strings.Builder
	pos := 0
	for _, h := range hs {
		if h.Start < pos || h.End > len(runes) || h.Start >= h.End {
			continue
		}
		b.WriteString(string(runes[pos:h.Start]))
		b.WriteString(w.styles.Highlight.Render(string(runes[h.Start:h.End])))
		pos = h.End
	}
	b.WriteString(string(runes[pos:]))
	return b.String()
}

// Batch prints each query's results.
func (w *Writer) Batch(results []search.BatchResult) {
	for _, br := range results {
		_, _ = fmt.Fprintln(w.out, w.styles.Header.Render(fmt.Sprintf("%s (%d)", br.Query, len(br.Results))))
		if br.Error != "" {
			w.Error(br.Error)
		}
		for _, r := range br.Results {
			w.result(r)
		}
	}
}

// Expansion prints a query expansion preview.
func (w *Writer) Expansion(p *search.ExpansionPreview) {
	_, _ = fmt.Fprintf(w.out, "%s %s\n", w.styles.Label.Render("method:"), p.Method)
	for i, q := range p.Expanded {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", w.styles.Rank.Render(fmt.Sprintf("%2d.", i+1)), q)
	}
	if p.Notice != "" {
		w.Warning(p.Notice)
	}
}

// Strategies prints the registered strategies.
func (w *Writer) Strategies(list []search.StrategyInfo) {
	for _, s := range list {
		_, _ = fmt.Fprintf(w.out, "%s  %s\n", w.styles.Filename.Render(fmt.Sprintf("%-10s", s.Name)), s.Description)
	}
}

// LLMStatus prints the LLM status.
func (w *Writer) LLMStatus(s llm.Status) {
	if s.Available {
		w.Success(fmt.Sprintf("LLM available: %s at %s", s.Model, s.BaseURL))
	} else if !s.APIConfigured {
		w.Warning("LLM not configured (set OPENAI_API_KEY)")
	} else {
		w.Warning(fmt.Sprintf("LLM unavailable: %s at %s (circuit %s)", s.Model, s.BaseURL, s.Circuit))
	}
}

// Stats prints corpus statistics.
func (w *Writer) Stats(s *search.Stats) {
	w.kv("fragments", fmt.Sprint(s.TotalFragments))
	w.kv("documents", fmt.Sprint(s.TotalDocuments))
	w.kv("terms", fmt.Sprint(s.Index.TermCount))
	w.kv("avg length", fmt.Sprintf("%.1f", s.Index.AvgDocLength))
	if s.VectorBackend != "" {
		w.kv("vector", s.VectorBackend)
	}

	types := make([]string, 0, len(s.FileTypes))
	for ft := range s.FileTypes {
		types = append(types, ft)
	}
	sort.Strings(types)
	for _, ft := range types {
		w.kv("  "+ft, fmt.Sprint(s.FileTypes[ft]))
	}
}

func (w *Writer) kv(k, v string) {
	_, _ = fmt.Fprintf(w.out, "%s %s\n", w.styles.Label.Render(fmt.Sprintf("%-12s", k+":")), v)
}

// Document prints a document's fragments in chunk order.
func (w *Writer) Document(d *search.Document) {
	_, _ = fmt.Fprintln(w.out, w.styles.Header.Render(fmt.Sprintf("%s (%s, %d fragments)", d.Filename, d.FileType, len(d.Fragments))))
	for _, f := range d.Fragments {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", w.styles.Rank.Render(fmt.Sprintf("#%d", f.ChunkIndex)), w.styles.Dim.Render(f.ID))
		content := f.Content
		if f.Truncated {
			content += " [...]"
		}
		_, _ = fmt.Fprintf(w.out, "  %s\n", content)
	}
}
