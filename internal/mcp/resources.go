package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	statsURI          = "docsearch://stats"
	queryMetricsURI   = "docsearch://query_metrics"
	documentURIPrefix = "docsearch://document/"
)

// registerResources registers the corpus resources.
func (s *Server) registerResources() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "corpus_stats",
			URI:         statsURI,
			Description: "Corpus and index statistics",
			MIMEType:    "application/json",
		},
		s.handleStatsResource,
	)
	s.mcp.AddResourceTemplate(
		&mcp.ResourceTemplate{
			Name:        "document",
			URITemplate: documentURIPrefix + "{document_id}",
			Description: "All fragments of a document in chunk order",
			MIMEType:    "text/markdown",
		},
		s.handleDocumentResource,
	)
}

func (s *Server) handleStatsResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	out, err := s.corpusStats(ctx)
	if err != nil {
		return nil, MapError(err)
	}
	return jsonResource(statsURI, out)
}

func (s *Server) handleDocumentResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	id := strings.TrimPrefix(uri, documentURIPrefix)
	if id == uri || id == "" {
		return nil, mcp.ResourceNotFoundError(uri)
	}

	doc, err := s.searcher.DocumentFragments(ctx, id)
	if err != nil {
		return nil, MapError(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "text/markdown",
			Text:     FormatDocument(doc),
		}},
	}, nil
}

// QueryMetricsOutput is the JSON structure for the query_metrics resource.
type QueryMetricsOutput struct {
	Summary             QueryMetricsSummary `json:"summary"`
	StrategyCounts      map[string]int64    `json:"strategy_counts"`
	TopTerms            []QueryTermCount    `json:"top_terms"`
	ZeroResultQueries   []string            `json:"zero_result_queries"`
	LatencyDistribution map[string]int64    `json:"latency_distribution"`
}

// QueryMetricsSummary provides overview statistics.
type QueryMetricsSummary struct {
	TotalQueries    int64   `json:"total_queries"`
	TimePeriod      string  `json:"time_period"`
	ZeroResultPct   float64 `json:"zero_result_pct"`
	ExactRepeatRate float64 `json:"exact_repeat_rate"`
}

// QueryTermCount represents a term and its frequency.
type QueryTermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// registerQueryMetricsResource registers the query_metrics resource.
func (s *Server) registerQueryMetricsResource() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "query_metrics",
			URI:         queryMetricsURI,
			Description: "Query pattern telemetry for search tuning",
			MIMEType:    "application/json",
		},
		s.handleQueryMetricsResource,
	)
}

func (s *Server) handleQueryMetricsResource(_ context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	s.mu.RLock()
	metrics := s.metrics
	s.mu.RUnlock()

	if metrics == nil {
		return nil, NewInvalidParamsError("query metrics not available")
	}

	snapshot := metrics.Snapshot()
	output := QueryMetricsOutput{
		Summary: QueryMetricsSummary{
			TotalQueries:    snapshot.TotalQueries,
			TimePeriod:      "since " + snapshot.Since.Format("2006-01-02 15:04:05"),
			ZeroResultPct:   snapshot.ZeroResultPercentage(),
			ExactRepeatRate: snapshot.ExactRepeatRate(),
		},
		StrategyCounts:      snapshot.StrategyCounts,
		TopTerms:            make([]QueryTermCount, 0, len(snapshot.TopTerms)),
		ZeroResultQueries:   snapshot.ZeroResultQueries,
		LatencyDistribution: make(map[string]int64, len(snapshot.LatencyDistribution)),
	}
	for _, tc := range snapshot.TopTerms {
		output.TopTerms = append(output.TopTerms, QueryTermCount{Term: tc.Term, Count: tc.Count})
	}
	for bucket, count := range snapshot.LatencyDistribution {
		output.LatencyDistribution[string(bucket)] = count
	}
	return jsonResource(queryMetricsURI, output)
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	content, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, MapError(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(content),
		}},
	}, nil
}
