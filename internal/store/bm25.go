package store

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/panjf2000/ants/v2"

	"github.com/Aman-CERP/docsearch/internal/query"
)

// parallelFitThreshold is the corpus size from which Fit tokenizes on a worker pool.
const parallelFitThreshold = 512

type posting struct {
	ord uint32
	tf  int
}

// LexicalIndex is an immutable BM25 index over a fragment snapshot.
// It is safe for concurrent reads.
type LexicalIndex struct {
	cfg       BM25Config
	tokenizer Tokenizer

	fragments []Fragment
	ordinals  map[string]uint32

	postings map[string][]posting // term -> postings sorted by ordinal
	docs     map[string]*roaring.Bitmap
	docLen   []int
	avgLen   float64
	vocab    []string // sorted, for fuzzy lookup

	byFileType map[string]*roaring.Bitmap

	fingerprint string
	builtAt     time.Time
	buildTime   time.Duration
}

// Fit builds a LexicalIndex over fragments. Duplicate IDs keep the first
// occurrence. Large corpora are tokenized on a bounded worker pool; the
// result does not depend on scheduling.
func Fit(ctx context.Context, fragments []Fragment, tokenizer Tokenizer, cfg BM25Config) (*LexicalIndex, error) {
	start := time.Now()
	cfg = withBM25Defaults(cfg)

	idx := &LexicalIndex{
		cfg:         cfg,
		tokenizer:   tokenizer,
		ordinals:    make(map[string]uint32, len(fragments)),
		postings:    make(map[string][]posting),
		docs:        make(map[string]*roaring.Bitmap),
		byFileType:  make(map[string]*roaring.Bitmap),
		fingerprint: Fingerprint(fragments),
	}

	idx.fragments = make([]Fragment, 0, len(fragments))
	for _, f := range fragments {
		if _, dup := idx.ordinals[f.ID]; dup {
			slog.Debug("lexical_duplicate_fragment", slog.String("fragment_id", f.ID))
			continue
		}
		idx.ordinals[f.ID] = uint32(len(idx.fragments))
		idx.fragments = append(idx.fragments, f)
	}

	termFreqs, err := tokenizeAll(ctx, idx.fragments, tokenizer, cfg.Workers)
	if err != nil {
		return nil, err
	}

	idx.docLen = make([]int, len(idx.fragments))
	var total int
	for i, tf := range termFreqs {
		ord := uint32(i)
		length := 0
		for term, n := range tf {
			length += n
			idx.postings[term] = append(idx.postings[term], posting{ord: ord, tf: n})
			bm, ok := idx.docs[term]
			if !ok {
				bm = roaring.New()
				idx.docs[term] = bm
			}
			bm.Add(ord)
		}
		idx.docLen[i] = length
		total += length

		ft := query.NormalizeFileType(idx.fragments[i].FileType)
		bm, ok := idx.byFileType[ft]
		if !ok {
			bm = roaring.New()
			idx.byFileType[ft] = bm
		}
		bm.Add(ord)
	}
	if len(idx.fragments) > 0 {
		idx.avgLen = float64(total) / float64(len(idx.fragments))
	}

	idx.vocab = make([]string, 0, len(idx.postings))
	for term := range idx.postings {
		idx.vocab = append(idx.vocab, term)
	}
	sort.Strings(idx.vocab)

	idx.builtAt = time.Now()
	idx.buildTime = time.Since(start)
	return idx, nil
}

func withBM25Defaults(cfg BM25Config) BM25Config {
	def := DefaultBM25Config()
	if cfg.K1 <= 0 {
		cfg.K1 = def.K1
	}
	if cfg.B < 0 || cfg.B > 1 {
		cfg.B = def.B
	}
	if cfg.FuzzyMinRunes <= 0 {
		cfg.FuzzyMinRunes = def.FuzzyMinRunes
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	return cfg
}

// tokenizeAll returns per-fragment term frequencies in fragment order.
func tokenizeAll(ctx context.Context, fragments []Fragment, tokenizer Tokenizer, workers int) ([]map[string]int, error) {
	out := make([]map[string]int, len(fragments))
	count := func(i int) {
		tf := make(map[string]int)
		for _, term := range tokenizer.Tokenize(fragments[i].Text) {
			tf[term]++
		}
		out[i] = tf
	}

	if len(fragments) < parallelFitThreshold || workers == 1 {
		for i := range fragments {
			if i%1024 == 0 && ctx.Err() != nil {
				return nil, ctx.Err()
			}
			count(i)
		}
		return out, nil
	}

	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("create tokenizer pool: %w", err)
	}
	defer pool.Release()

	const batch = 128
	var wg sync.WaitGroup
	for lo := 0; lo < len(fragments); lo += batch {
		if ctx.Err() != nil {
			break
		}
		hi := min(lo+batch, len(fragments))
		wg.Add(1)
		task := func() {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				count(i)
			}
		}
		if err := pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Fingerprint identifies a corpus snapshot: count, then each ID with the
// SHA-256 of its content, in order. Content covers the text and every
// field the indexes serve back or filter on, embedding included, so a
// metadata or re-embedding change also counts as a new snapshot.
func Fingerprint(fragments []Fragment) string {
	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(len(fragments)))
	h.Write(buf[:])
	for _, f := range fragments {
		binary.BigEndian.PutUint64(buf[:], uint64(len(f.ID)))
		h.Write(buf[:])
		h.Write([]byte(f.ID))
		sum := contentDigest(f)
		h.Write(sum[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func contentDigest(f Fragment) [sha256.Size]byte {
	h := sha256.New()
	var buf [8]byte
	for _, field := range []string{f.Text, f.FileType, f.DocumentID, f.Filename, f.Path} {
		binary.BigEndian.PutUint64(buf[:], uint64(len(field)))
		h.Write(buf[:])
		h.Write([]byte(field))
	}
	binary.BigEndian.PutUint64(buf[:], uint64(f.ChunkIndex))
	h.Write(buf[:])
	if !f.CreatedAt.IsZero() {
		binary.BigEndian.PutUint64(buf[:], uint64(f.CreatedAt.UnixNano()))
		h.Write(buf[:])
	}
	binary.BigEndian.PutUint64(buf[:], uint64(len(f.Embedding)))
	h.Write(buf[:])
	for _, v := range f.Embedding {
		binary.BigEndian.PutUint32(buf[:4], math.Float32bits(v))
		h.Write(buf[:4])
	}
	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Fingerprint returns the fingerprint of the snapshot this index was built from.
func (idx *LexicalIndex) Fingerprint() string {
	return idx.fingerprint
}

// Len returns the number of indexed fragments.
func (idx *LexicalIndex) Len() int {
	return len(idx.fragments)
}

// Fragment returns the indexed fragment with the given ID.
func (idx *LexicalIndex) Fragment(id string) (Fragment, bool) {
	ord, ok := idx.ordinals[id]
	if !ok {
		return Fragment{}, false
	}
	return idx.fragments[ord], true
}

// Fragments returns the indexed fragments in insertion order. Callers must not modify it.
func (idx *LexicalIndex) Fragments() []Fragment {
	return idx.fragments
}

// Tokenizer returns the tokenizer the index was built with.
func (idx *LexicalIndex) Tokenizer() Tokenizer {
	return idx.tokenizer
}

// Stats returns index statistics.
func (idx *LexicalIndex) Stats() IndexStats {
	return IndexStats{
		DocumentCount: len(idx.fragments),
		TermCount:     len(idx.postings),
		AvgDocLength:  idx.avgLen,
		Fingerprint:   idx.fingerprint,
		BuiltAt:       idx.builtAt,
		BuildDuration: idx.buildTime.String(),
	}
}

// FileTypeCounts returns the number of fragments per normalized file type.
func (idx *LexicalIndex) FileTypeCounts() map[string]int {
	out := make(map[string]int, len(idx.byFileType))
	for ft, bm := range idx.byFileType {
		out[ft] = int(bm.GetCardinality())
	}
	return out
}

// IDF returns ln((N - df + 0.5)/(df + 0.5) + 1) for an index term.
func (idx *LexicalIndex) IDF(term string) float64 {
	n := float64(len(idx.fragments))
	df := float64(len(idx.postings[term]))
	return math.Log((n-df+0.5)/(df+0.5) + 1)
}

// Score returns the BM25 score of term for one fragment. A term that
// tokenizes into several index terms scores as their sum.
func (idx *LexicalIndex) Score(term, fragmentID string) float64 {
	ord, ok := idx.ordinals[fragmentID]
	if !ok {
		return 0
	}
	var score float64
	for _, t := range idx.tokenizer.Tokenize(term) {
		score += idx.termScore(t, ord)
	}
	return score
}

func (idx *LexicalIndex) termScore(term string, ord uint32) float64 {
	ps := idx.postings[term]
	i := sort.Search(len(ps), func(i int) bool { return ps[i].ord >= ord })
	if i == len(ps) || ps[i].ord != ord {
		return 0
	}
	tf := float64(ps[i].tf)
	norm := 1 - idx.cfg.B
	if idx.avgLen > 0 {
		norm += idx.cfg.B * float64(idx.docLen[ord]) / idx.avgLen
	}
	return idx.IDF(term) * tf * (idx.cfg.K1 + 1) / (tf + idx.cfg.K1*norm)
}

// Search ranks fragments by summed BM25 over the query's lexical terms,
// keeping only those the query admits. Ties keep insertion order.
// topK <= 0 returns every match.
func (idx *LexicalIndex) Search(q query.ParsedQuery, topK int) []ScoredResult {
	terms := idx.queryTerms(q)
	if len(terms) == 0 || len(idx.fragments) == 0 {
		return nil
	}

	candidates := roaring.New()
	for _, term := range terms {
		if bm, ok := idx.docs[term]; ok {
			candidates.Or(bm)
		}
	}
	if len(q.FileTypes) > 0 {
		allowed := roaring.New()
		for _, ft := range q.FileTypes {
			if bm, ok := idx.byFileType[ft]; ok {
				allowed.Or(bm)
			}
		}
		candidates.And(allowed)
	}
	if len(q.ExcludeTerms) > 0 || len(q.ExactPhrases) > 0 || q.DateRange != nil {
		rejected := roaring.New()
		it := candidates.Iterator()
		for it.HasNext() {
			ord := it.Next()
			f := idx.fragments[ord]
			if !q.Admits(f.Text, f.FileType, f.CreatedAt) {
				rejected.Add(ord)
			}
		}
		candidates.AndNot(rejected)
	}
	if candidates.IsEmpty() {
		return nil
	}

	type hit struct {
		ord   uint32
		score float64
	}
	hits := make([]hit, 0, candidates.GetCardinality())
	it := candidates.Iterator()
	for it.HasNext() {
		ord := it.Next()
		var score float64
		for _, term := range terms {
			score += idx.termScore(term, ord)
		}
		if score > 0 {
			hits = append(hits, hit{ord: ord, score: score})
		}
	}

	// Iteration is ascending by ordinal, so a stable sort keeps insertion order on ties.
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].score > hits[b].score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}

	results := make([]ScoredResult, len(hits))
	for i, h := range hits {
		results[i] = ScoredResult{
			FragmentID: idx.fragments[h.ord].ID,
			Score:      h.score,
			Rank:       i + 1,
			Source:     SourceLexical,
		}
	}
	return results
}

// queryTerms tokenizes the scored parts of q. Fuzzy terms also pull in
// vocabulary terms within one edit.
func (idx *LexicalIndex) queryTerms(q query.ParsedQuery) []string {
	seen := make(map[string]struct{})
	var terms []string
	add := func(t string) {
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
	}

	for _, group := range [][]string{q.IncludeTerms, q.ExactPhrases} {
		for _, t := range UniqueTerms(idx.tokenizer, group...) {
			add(t)
		}
	}
	for _, t := range UniqueTerms(idx.tokenizer, q.FuzzyTerms...) {
		add(t)
		for _, v := range idx.fuzzyVariants(t) {
			add(v)
		}
	}
	return terms
}

// fuzzyVariants lists the vocabulary terms within one edit of t, t itself
// excluded. Terms shorter than FuzzyMinRunes have none.
func (idx *LexicalIndex) fuzzyVariants(t string) []string {
	if utf8.RuneCountInString(t) < idx.cfg.FuzzyMinRunes {
		return nil
	}
	var out []string
	for _, v := range idx.vocab {
		if v != t && withinOneEdit(t, v) {
			out = append(out, v)
		}
	}
	return out
}

// MatchedTerms returns the query terms that occur in the fragment, as they
// appear in the query. A fuzzy term that only matched through a vocabulary
// variant reports the variant instead, since that is the text to highlight.
func (idx *LexicalIndex) MatchedTerms(q query.ParsedQuery, fragmentID string) []string {
	ord, ok := idx.ordinals[fragmentID]
	if !ok {
		return nil
	}
	var out []string
	seen := make(map[string]struct{})
	emit := func(term string) {
		if _, ok := seen[term]; ok {
			return
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}
	occurs := func(term string) bool {
		for _, t := range idx.tokenizer.Tokenize(term) {
			if idx.termScore(t, ord) > 0 {
				return true
			}
		}
		return false
	}

	for _, group := range [][]string{q.IncludeTerms, q.ExactPhrases} {
		for _, term := range group {
			if occurs(term) {
				emit(term)
			}
		}
	}
	for _, term := range q.FuzzyTerms {
		if occurs(term) {
			emit(term)
			continue
		}
		for _, t := range UniqueTerms(idx.tokenizer, term) {
			for _, v := range idx.fuzzyVariants(t) {
				if idx.termScore(v, ord) > 0 {
					emit(v)
				}
			}
		}
	}
	return out
}

// withinOneEdit reports whether a and b are at Levenshtein distance <= 1.
func withinOneEdit(a, b string) bool {
	if a == b {
		return true
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) > len(rb) {
		ra, rb = rb, ra
	}
	if len(rb)-len(ra) > 1 {
		return false
	}
	i := 0
	for i < len(ra) && ra[i] == rb[i] {
		i++
	}
	if len(ra) == len(rb) {
		// single substitution
		return string(ra[i+1:]) == string(rb[i+1:])
	}
	// single insertion into the shorter string
	return string(ra[i:]) == string(rb[i+1:])
}
