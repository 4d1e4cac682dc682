package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	dserrors "github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/llm"
)

// Expansion limits.
const (
	// MaxSynonymsPerWord caps synonyms added for one matched word.
	MaxSynonymsPerWord = 3

	// MaxRuleVariants caps rule expansion output, original included.
	MaxRuleVariants = 6

	// DefaultModelExpansions is how many related queries the model is asked for.
	DefaultModelExpansions = 5

	minVariantRunes = 2
	maxVariantRunes = 49
)

// LLM is the chat capability used by model expansion and model rerank.
type LLM interface {
	Generate(ctx context.Context, req llm.Request) (string, error)
	Available() bool
}

// Expansion is the output of QueryExpander.Expand.
type Expansion struct {
	// Queries starts with the original query.
	Queries []string

	// Method is the method that produced Queries.
	Method string

	// Warning is set when the model path failed and rules were used.
	Warning error
}

// RuleExpander expands queries from a synonym table. No external calls.
type RuleExpander struct {
	synonyms   map[string][]string
	perWord    int
	maxVariant int
}

// RuleExpanderOption configures a RuleExpander.
type RuleExpanderOption func(*RuleExpander)

// WithMaxSynonymsPerWord sets the per-word synonym cap.
func WithMaxSynonymsPerWord(n int) RuleExpanderOption {
	return func(e *RuleExpander) {
		if n > 0 {
			e.perWord = n
		}
	}
}

// WithCustomSynonyms adds custom synonym mappings ahead of the built-in ones.
func WithCustomSynonyms(synonyms map[string][]string) RuleExpanderOption {
	return func(e *RuleExpander) {
		for k, v := range synonyms {
			key := strings.ToLower(k)
			e.synonyms[key] = append(append([]string{}, v...), e.synonyms[key]...)
		}
	}
}

// NewRuleExpander creates a rule expander over OfficeSynonyms.
func NewRuleExpander(opts ...RuleExpanderOption) *RuleExpander {
	e := &RuleExpander{
		synonyms:   make(map[string][]string, len(OfficeSynonyms)),
		perWord:    MaxSynonymsPerWord,
		maxVariant: MaxRuleVariants,
	}
	for k, v := range OfficeSynonyms {
		e.synonyms[k] = v
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand returns the original query followed by synonyms of the words it
// contains, in query order, deduplicated and capped at maxVariants
// (MaxRuleVariants when maxVariants <= 0 or larger).
func (e *RuleExpander) Expand(query string, maxVariants int) []string {
	limit := e.maxVariant
	if maxVariants > 0 && maxVariants < limit {
		limit = maxVariants
	}

	out := []string{query}
	seen := map[string]bool{strings.ToLower(query): true}
	for _, word := range e.matchedWords(query) {
		for _, syn := range firstN(e.synonyms[word], e.perWord) {
			key := strings.ToLower(syn)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, syn)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

type wordMatch struct {
	word  string
	start int
	end   int
}

// matchedWords finds table keys in the query in order of appearance.
// CJK keys match as substrings, with the longest key winning at a position
// and keys nested inside an accepted match skipped. Latin keys match whole
// words.
func (e *RuleExpander) matchedWords(query string) []string {
	lower := strings.ToLower(query)
	words := latinWords(lower)

	var matches []wordMatch
	for key := range e.synonyms {
		if isLatin(key) {
			if pos, ok := words[key]; ok {
				matches = append(matches, wordMatch{word: key, start: pos, end: pos + len(key)})
			}
			continue
		}
		if pos := strings.Index(lower, key); pos >= 0 {
			matches = append(matches, wordMatch{word: key, start: pos, end: pos + len(key)})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].start != matches[j].start {
			return matches[i].start < matches[j].start
		}
		if len(matches[i].word) != len(matches[j].word) {
			return len(matches[i].word) > len(matches[j].word)
		}
		return matches[i].word < matches[j].word
	})

	var out []string
	coveredTo := -1
	for _, m := range matches {
		if m.start < coveredTo {
			continue
		}
		out = append(out, m.word)
		coveredTo = m.end
	}
	return out
}

// latinWords maps each ASCII word to its first byte offset.
func latinWords(s string) map[string]int {
	words := make(map[string]int)
	start := -1
	flush := func(end int) {
		if start >= 0 {
			w := s[start:end]
			if _, ok := words[w]; !ok {
				words[w] = start
			}
			start = -1
		}
	}
	for i, r := range s {
		if r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(s))
	return words
}

func isLatin(s string) bool {
	for _, r := range s {
		if r >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// ModelExpander asks the LLM for related queries, one per line.
type ModelExpander struct {
	llm LLM
	n   int
}

// NewModelExpander creates a model expander requesting n related queries
// (DefaultModelExpansions when n <= 0).
func NewModelExpander(client LLM, n int) *ModelExpander {
	if n <= 0 {
		n = DefaultModelExpansions
	}
	return &ModelExpander{llm: client, n: n}
}

// Expand returns the original query followed by the model's suggestions.
// Lines shorter than 2 or longer than 49 runes are dropped, duplicates
// removed, and at most n suggestions kept.
func (e *ModelExpander) Expand(ctx context.Context, query string) ([]string, error) {
	if e.llm == nil {
		return nil, dserrors.New(dserrors.ErrCodeLLMUnavailable, "no LLM configured", nil)
	}
	reply, err := e.llm.Generate(ctx, llm.Request{
		Operation:   "expand",
		Prompt:      fmt.Sprintf(expandPrompt, e.n, query, e.n),
		Temperature: 0.7,
		MaxTokens:   200,
	})
	if err != nil {
		return nil, err
	}
	return parseExpansionReply(query, reply, e.n), nil
}

func parseExpansionReply(query, reply string, n int) []string {
	var suggestions []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		runes := utf8.RuneCountInString(line)
		if runes < minVariantRunes || runes > maxVariantRunes || seen[line] {
			continue
		}
		seen[line] = true
		suggestions = append(suggestions, line)
		if len(suggestions) == n {
			break
		}
	}

	out := make([]string, 0, len(suggestions)+1)
	out = append(out, query)
	for _, s := range suggestions {
		if s != query {
			out = append(out, s)
		}
	}
	return out
}

const expandPrompt = `你是一个专业的信息检索助手。用户输入了一个查询词，请生成%d个语义相似或相关的查询词，用于扩大检索范围。

要求：
1. 包含同义词、近义词、相关概念
2. 包含中英文对照（如果适用）
3. 包含上下位概念
4. 包含专业术语和通俗表达
5. 每行一个查询词，不要编号和解释

原始查询：%s

请生成%d个扩展查询词：`

// QueryExpander selects between model and rule expansion. A failed model
// call falls back to rules and is reported as a warning.
type QueryExpander struct {
	model  *ModelExpander
	rules  *RuleExpander
	logger *slog.Logger
}

// NewQueryExpander creates an expander. model may be nil.
func NewQueryExpander(model *ModelExpander, rules *RuleExpander, logger *slog.Logger) *QueryExpander {
	if rules == nil {
		rules = NewRuleExpander()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryExpander{model: model, rules: rules, logger: logger}
}

// ModelAvailable reports whether model expansion would be attempted.
func (q *QueryExpander) ModelAvailable() bool {
	return q.model != nil && q.model.llm != nil && q.model.llm.Available()
}

// Expand returns up to maxVariants queries, the original first.
func (q *QueryExpander) Expand(ctx context.Context, query, method string, maxVariants int) (Expansion, error) {
	switch method {
	case "", ExpansionModel:
	case ExpansionRule:
		return Expansion{Queries: q.rules.Expand(query, maxVariants), Method: ExpansionRule}, nil
	default:
		return Expansion{}, dserrors.InvalidParameter("expansion_method",
			fmt.Sprintf("unknown expansion method %q (want %s or %s)", method, ExpansionModel, ExpansionRule))
	}

	var err error
	if !q.ModelAvailable() {
		err = dserrors.New(dserrors.ErrCodeLLMUnavailable, "LLM unavailable for query expansion", nil)
	} else {
		var queries []string
		queries, err = q.model.Expand(ctx, query)
		if err == nil {
			if maxVariants > 0 && len(queries) > maxVariants {
				queries = queries[:maxVariants]
			}
			return Expansion{Queries: queries, Method: ExpansionModel}, nil
		}
	}

	q.logger.Warn("expansion_fallback",
		slog.String("query", query),
		slog.String("error", err.Error()))
	return Expansion{
		Queries: q.rules.Expand(query, maxVariants),
		Method:  ExpansionRule,
		Warning: err,
	}, nil
}
