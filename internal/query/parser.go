// Package query parses the search box grammar into a structured query.
//
// Supported syntax (whitespace separated, any order):
//
//	"exact phrase"        phrase that must occur verbatim (case-insensitive)
//	-term                 exclude fragments containing term
//	filetype:pdf[,docx]   restrict to file types (leading dot optional)
//	~term~                fuzzy term, scored but never required
//	date:FROM..TO         restrict by creation date (YYYY-MM-DD, either side optional)
//	anything else         include term
//
// Parsing never fails. Syntax that cannot be interpreted is kept as a
// literal include term.
package query

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// DateLayout is the accepted date format for date: filters.
const DateLayout = "2006-01-02"

// DateRange bounds fragment creation dates, inclusive on both ends.
// A zero From or To leaves that side open.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the range. To covers the whole day.
func (r DateRange) Contains(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To.AddDate(0, 0, 1)) {
		return false
	}
	return true
}

// ParsedQuery is the structured form of a raw query. Treat as immutable.
type ParsedQuery struct {
	Original     string
	ExactPhrases []string
	ExcludeTerms []string
	IncludeTerms []string
	FuzzyTerms   []string
	FileTypes    []string
	DateRange    *DateRange
	IsAdvanced   bool
}

// Parse turns raw query text into a ParsedQuery.
func Parse(raw string) ParsedQuery {
	original := strings.TrimSpace(raw)
	p := ParsedQuery{Original: original}

	phrases := newOrderedSet()
	excludes := newOrderedSet()
	includes := newOrderedSet()
	fuzzy := newOrderedSet()
	fileTypes := newOrderedSet()

	s := original
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		if unicode.IsSpace(r) {
			s = s[size:]
			continue
		}

		if r == '"' {
			if end := strings.IndexByte(s[1:], '"'); end >= 0 {
				if phrase := strings.TrimSpace(s[1 : end+1]); phrase != "" {
					phrases.add(phrase)
				}
				s = s[end+2:]
				continue
			}
			// Unterminated quote: the rest of the token is a literal term.
			token, rest := nextToken(s)
			if lit := strings.Trim(token, `"`); lit != "" {
				includes.add(lit)
			}
			s = rest
			continue
		}

		token, rest := nextToken(s)
		s = rest
		classify(token, &p, excludes, includes, fuzzy, fileTypes)
	}

	p.ExactPhrases = phrases.values()
	p.ExcludeTerms = excludes.values()
	p.IncludeTerms = includes.values()
	p.FuzzyTerms = fuzzy.values()
	p.FileTypes = fileTypes.values()
	p.IsAdvanced = len(p.ExactPhrases) > 0 || len(p.ExcludeTerms) > 0 ||
		len(p.FileTypes) > 0 || len(p.FuzzyTerms) > 0 || p.DateRange != nil
	return p
}

func classify(token string, p *ParsedQuery, excludes, includes, fuzzy, fileTypes *orderedSet) {
	lower := strings.ToLower(token)

	switch {
	case len(token) > 1 && token[0] == '-' && strings.Trim(token, "-") != "":
		excludes.add(strings.TrimLeft(token, "-"))

	case strings.HasPrefix(lower, "filetype:"):
		added := false
		for _, ext := range strings.Split(lower[len("filetype:"):], ",") {
			ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
			if ext != "" {
				fileTypes.add(ext)
				added = true
			}
		}
		if !added {
			includes.add(token)
		}

	case utf8.RuneCountInString(token) >= 3 && strings.HasPrefix(token, "~") && strings.HasSuffix(token, "~"):
		if inner := strings.Trim(token, "~"); inner != "" {
			fuzzy.add(inner)
		} else {
			includes.add(token)
		}

	case strings.HasPrefix(lower, "date:"):
		if r, ok := parseDateRange(token[len("date:"):]); ok {
			p.DateRange = &r
		} else {
			includes.add(token)
		}

	default:
		includes.add(token)
	}
}

// parseDateRange accepts "FROM..TO", "FROM..", "..TO" or a single day.
func parseDateRange(v string) (DateRange, bool) {
	if v == "" {
		return DateRange{}, false
	}
	from, to, isRange := strings.Cut(v, "..")
	if !isRange {
		to = from
	}
	var r DateRange
	if from != "" {
		t, err := time.Parse(DateLayout, from)
		if err != nil {
			return DateRange{}, false
		}
		r.From = t
	}
	if to != "" {
		t, err := time.Parse(DateLayout, to)
		if err != nil {
			return DateRange{}, false
		}
		r.To = t
	}
	if r.From.IsZero() && r.To.IsZero() {
		return DateRange{}, false
	}
	if !r.From.IsZero() && !r.To.IsZero() && r.To.Before(r.From) {
		return DateRange{}, false
	}
	return r, true
}

func nextToken(s string) (token, rest string) {
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i:]
}

// LexicalTerms returns the terms scored by BM25: include terms, phrases and fuzzy terms.
func (q ParsedQuery) LexicalTerms() []string {
	set := newOrderedSet()
	for _, group := range [][]string{q.IncludeTerms, q.ExactPhrases, q.FuzzyTerms} {
		for _, t := range group {
			set.add(t)
		}
	}
	return set.values()
}

// VectorText returns the text embedded for semantic search.
// Syntax-only queries (e.g. "filetype:pdf") yield an empty string.
func (q ParsedQuery) VectorText() string {
	parts := make([]string, 0, len(q.IncludeTerms)+len(q.ExactPhrases)+len(q.FuzzyTerms))
	parts = append(parts, q.IncludeTerms...)
	parts = append(parts, q.ExactPhrases...)
	parts = append(parts, q.FuzzyTerms...)
	return strings.Join(parts, " ")
}

// IsEmpty reports whether the query has neither terms nor filters.
func (q ParsedQuery) IsEmpty() bool {
	return len(q.IncludeTerms) == 0 && len(q.ExactPhrases) == 0 && len(q.FuzzyTerms) == 0 &&
		len(q.ExcludeTerms) == 0 && len(q.FileTypes) == 0 && q.DateRange == nil
}

// WithFileTypes returns a copy restricted to the union of its own and extra file types.
func (q ParsedQuery) WithFileTypes(extra []string) ParsedQuery {
	if len(extra) == 0 {
		return q
	}
	set := newOrderedSet()
	for _, ft := range q.FileTypes {
		set.add(ft)
	}
	for _, ft := range extra {
		if ft = NormalizeFileType(ft); ft != "" {
			set.add(ft)
		}
	}
	q.FileTypes = set.values()
	q.IsAdvanced = true
	return q
}

// Admits reports whether a fragment survives the exclude, phrase, file type and date filters.
func (q ParsedQuery) Admits(text, fileType string, createdAt time.Time) bool {
	if len(q.FileTypes) > 0 && !q.MatchesFileType(fileType) {
		return false
	}
	if q.DateRange != nil && !q.DateRange.Contains(createdAt) {
		return false
	}
	if len(q.ExcludeTerms) == 0 && len(q.ExactPhrases) == 0 {
		return true
	}

	lower := strings.ToLower(text)
	for _, term := range q.ExcludeTerms {
		if strings.Contains(lower, strings.ToLower(term)) {
			return false
		}
	}
	for _, phrase := range q.ExactPhrases {
		if !strings.Contains(lower, strings.ToLower(phrase)) {
			return false
		}
	}
	return true
}

// MatchesFileType reports whether fileType is one of the requested types.
// An empty filter matches everything.
func (q ParsedQuery) MatchesFileType(fileType string) bool {
	if len(q.FileTypes) == 0 {
		return true
	}
	ft := NormalizeFileType(fileType)
	for _, want := range q.FileTypes {
		if want == ft {
			return true
		}
	}
	return false
}

// NormalizeFileType lowercases an extension and strips a leading dot.
func NormalizeFileType(ft string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ft)), ".")
}

// orderedSet keeps first-seen order and dedups case-insensitively.
type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{})}
}

func (s *orderedSet) add(v string) {
	key := strings.ToLower(v)
	if _, ok := s.seen[key]; ok {
		return
	}
	s.seen[key] = struct{}{}
	s.items = append(s.items, v)
}

func (s *orderedSet) values() []string {
	if len(s.items) == 0 {
		return nil
	}
	return s.items
}
