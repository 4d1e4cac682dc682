package search

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultSnippetRunes is the default snippet window.
const DefaultSnippetRunes = 200

const ellipsis = "..."

// Annotate builds a snippet of at most window runes around the first match
// of any term in text, and reports every match inside it.
//
// Matching is case-insensitive, leftmost-first and non-overlapping; at a
// given position the longest term wins. Offsets are rune offsets into the
// returned snippet. With no match the snippet is the text prefix. When the
// text is cut, "..." is appended after the last offset.
func Annotate(text string, terms []string, window int) (string, []Highlight) {
	if window <= 0 {
		window = DefaultSnippetRunes
	}
	runes := []rune(text)
	matches := findMatches(runes, terms)

	start := 0
	if len(matches) > 0 && len(runes) > window {
		first := matches[0]
		center := (first.start + first.end) / 2
		start = max(0, min(center-window/2, len(runes)-window))
	}
	end := min(len(runes), start+window)

	snippet := string(runes[start:end])
	if end < len(runes) {
		snippet += ellipsis
	}

	highlights := make([]Highlight, 0, len(matches))
	for _, m := range matches {
		if m.start < start || m.end > end {
			continue
		}
		highlights = append(highlights, Highlight{
			Keyword: m.keyword,
			Start:   m.start - start,
			End:     m.end - start,
		})
	}
	return snippet, highlights
}

type match struct {
	keyword string
	start   int
	end     int
}

// findMatches scans text once, trying the longest term first at each position.
func findMatches(text []rune, terms []string) []match {
	type needle struct {
		keyword string
		runes   []rune
	}
	var needles []needle
	seen := make(map[string]bool)
	for _, t := range terms {
		t = strings.TrimSpace(t)
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		needles = append(needles, needle{keyword: t, runes: foldRunes([]rune(t))})
	}
	if len(needles) == 0 || len(text) == 0 {
		return nil
	}
	sort.SliceStable(needles, func(i, j int) bool {
		return len(needles[i].runes) > len(needles[j].runes)
	})

	folded := foldRunes(text)
	var out []match
	for i := 0; i < len(folded); {
		matched := false
		for _, n := range needles {
			if hasPrefixRunes(folded[i:], n.runes) {
				out = append(out, match{keyword: n.keyword, start: i, end: i + len(n.runes)})
				i += len(n.runes)
				matched = true
				break
			}
		}
		if !matched {
			i++
		}
	}
	return out
}

func foldRunes(rs []rune) []rune {
	out := make([]rune, len(rs))
	for i, r := range rs {
		out[i] = unicode.ToLower(r)
	}
	return out
}

func hasPrefixRunes(s, prefix []rune) bool {
	if len(prefix) > len(s) {
		return false
	}
	for i, r := range prefix {
		if s[i] != r {
			return false
		}
	}
	return true
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
