package search

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	dserrors "github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/llm"
)

// Model rerank limits.
const (
	ModelRerankCandidates = 15
	ModelRerankSnippet    = 300
	maxModelScore         = 10.0
)

// ModelReranker asks the LLM to grade the leading candidates 0..10 and
// uses grade/10 as similarity. Candidates the model did not grade, and
// those beyond ModelRerankCandidates, are unscored.
type ModelReranker struct {
	llm LLM
}

// NewModelReranker creates a model reranker.
func NewModelReranker(client LLM) *ModelReranker {
	return &ModelReranker{llm: client}
}

// Rerank implements Reranker.
func (r *ModelReranker) Rerank(ctx context.Context, query string, candidates []ResultItem, _ int) (RerankOutcome, error) {
	if len(candidates) == 0 {
		return RerankOutcome{Items: []ResultItem{}}, nil
	}
	if r.llm == nil || !r.llm.Available() {
		return RerankOutcome{}, dserrors.New(dserrors.ErrCodeLLMUnavailable, "LLM unavailable for rerank", nil)
	}

	judged := candidates[:min(len(candidates), ModelRerankCandidates)]
	reply, err := r.llm.Generate(ctx, llm.Request{
		Operation:   "rerank",
		Prompt:      buildRerankPrompt(query, judged),
		Temperature: 0.1,
		MaxTokens:   200,
	})
	if err != nil {
		return RerankOutcome{}, err
	}

	scores := parseRerankScores(reply, len(judged))
	if len(scores) == 0 {
		return RerankOutcome{}, dserrors.New(dserrors.ErrCodeMalformedResponse, "rerank reply contained no scores", nil)
	}
	return applyScores(candidates, scores), nil
}

func buildRerankPrompt(query string, candidates []ResultItem) string {
	var docs strings.Builder
	for i, c := range candidates {
		snippet := c.ContentSnippet
		if snippet == "" {
			snippet = c.Text
		}
		filename := c.Filename
		if filename == "" {
			filename = "未知"
		}
		fmt.Fprintf(&docs, "\n[文档%d] 文件: %s\n内容: %s\n", i+1, filename, truncateRunes(snippet, ModelRerankSnippet))
	}
	return fmt.Sprintf(rerankPrompt, query, docs.String())
}

const rerankPrompt = `你是一个专业的信息检索评估专家。用户输入了一个查询，请对以下检索结果进行相关性评分。

用户查询：%s

检索结果：
%s

请对每个文档与查询的相关性进行评分（0-10分），评分标准：
- 10分：完全匹配，直接回答了查询
- 7-9分：高度相关，包含关键信息
- 4-6分：部分相关，包含一些相关信息
- 1-3分：低相关，只有少量相关信息
- 0分：不相关

请直接返回评分结果，格式为：文档编号:分数，每行一个。例如：
1:9
2:7
3:5

请开始评分：`

// parseRerankScores reads "index:score" lines (1-based index, full-width
// colon accepted). Scores are clamped to 0..10 and divided by 10. Lines
// that do not parse, are not finite or index out of range are ignored;
// the first score for an index wins.
func parseRerankScores(reply string, n int) map[int]float64 {
	scores := make(map[int]float64)
	for _, line := range strings.Split(reply, "\n") {
		line = strings.ReplaceAll(strings.TrimSpace(line), "：", ":")
		idxPart, scorePart, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSpace(idxPart))
		if err != nil || idx < 1 || idx > n {
			continue
		}
		score, err := strconv.ParseFloat(strings.TrimSpace(scorePart), 64)
		if err != nil || math.IsNaN(score) || math.IsInf(score, 0) {
			continue
		}
		if _, seen := scores[idx-1]; seen {
			continue
		}
		scores[idx-1] = max(0, min(maxModelScore, score)) / maxModelScore
	}
	return scores
}

// Method implements Reranker.
func (r *ModelReranker) Method() string { return RerankModel }

// Available reports whether the LLM is usable.
func (r *ModelReranker) Available(context.Context) bool {
	return r.llm != nil && r.llm.Available()
}

// Close is a no-op; the LLM client is owned by the caller.
func (r *ModelReranker) Close() error { return nil }

var _ Reranker = (*ModelReranker)(nil)
