package store

import (
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/lang/cjk"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	bleveunicode "github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/registry"
)

// DocumentAnalyzerName is the name of the mixed CJK/Latin analyzer.
const DocumentAnalyzerName = "docsearch_document"

// Tokenizer splits text into normalized index terms.
type Tokenizer interface {
	Tokenize(text string) []string
}

// TokenizerFunc adapts a function to Tokenizer.
type TokenizerFunc func(text string) []string

// Tokenize calls f(text).
func (f TokenizerFunc) Tokenize(text string) []string {
	return f(text)
}

// AnalyzerTokenizer tokenizes with a bleve analysis chain: unicode word
// segmentation, full/half width folding, lowercasing and CJK bigrams.
// "财务报表 Q3" yields [财务 务报 报表 q3].
type AnalyzerTokenizer struct {
	analyzer analysis.Analyzer
}

var (
	defaultTokenizer     *AnalyzerTokenizer
	defaultTokenizerErr  error
	defaultTokenizerOnce sync.Once
)

// NewAnalyzerTokenizer builds the document analyzer from the bleve registry.
func NewAnalyzerTokenizer() (*AnalyzerTokenizer, error) {
	cache := registry.NewCache()
	analyzer, err := cache.DefineAnalyzer(DocumentAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": bleveunicode.Name,
		"token_filters": []interface{}{
			cjk.WidthName,
			lowercase.Name,
			cjk.BigramName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("define analyzer %s: %w", DocumentAnalyzerName, err)
	}
	return &AnalyzerTokenizer{analyzer: analyzer}, nil
}

// DefaultTokenizer returns a shared AnalyzerTokenizer.
func DefaultTokenizer() (*AnalyzerTokenizer, error) {
	defaultTokenizerOnce.Do(func() {
		defaultTokenizer, defaultTokenizerErr = NewAnalyzerTokenizer()
	})
	return defaultTokenizer, defaultTokenizerErr
}

// Tokenize returns the terms of text in order. Duplicates are kept.
func (t *AnalyzerTokenizer) Tokenize(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	stream := t.analyzer.Analyze([]byte(text))
	terms := make([]string, 0, len(stream))
	for _, tok := range stream {
		if len(tok.Term) == 0 {
			continue
		}
		terms = append(terms, string(tok.Term))
	}
	return terms
}

// UniqueTerms tokenizes every input and returns the distinct terms in first-seen order.
func UniqueTerms(tokenizer Tokenizer, inputs ...string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, in := range inputs {
		for _, term := range tokenizer.Tokenize(in) {
			if _, ok := seen[term]; ok {
				continue
			}
			seen[term] = struct{}{}
			out = append(out, term)
		}
	}
	return out
}

var _ Tokenizer = (*AnalyzerTokenizer)(nil)
