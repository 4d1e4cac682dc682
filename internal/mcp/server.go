package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/docsearch/internal/llm"
	"github.com/Aman-CERP/docsearch/internal/search"
	"github.com/Aman-CERP/docsearch/internal/telemetry"
	"github.com/Aman-CERP/docsearch/pkg/version"
)

const (
	serverName = "docsearch"

	defaultLimit      = 10
	defaultBatchLimit = 5
)

// Searcher is the orchestrator surface exposed as tools.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
	BatchSearch(ctx context.Context, queries []string, limit int) ([]search.BatchResult, error)
	Strategies() []search.StrategyInfo
	PreviewExpansion(ctx context.Context, query, method string) (*search.ExpansionPreview, error)
	LLMStatus(ctx context.Context) llm.Status
	Stats(ctx context.Context) (*search.Stats, error)
	DocumentFragments(ctx context.Context, documentID string) (*search.Document, error)
	Config() search.Config
}

// Server is the MCP server for docsearch.
type Server struct {
	mcp      *mcp.Server
	searcher Searcher
	logger   *slog.Logger

	// Query telemetry (optional, set via SetMetrics)
	metrics *telemetry.QueryMetrics

	mu sync.RWMutex
}

// ToolInfo describes a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name:        "search",
		Description: "Search the document corpus. Strategies: keyword (BM25), vector (semantic), hybrid (default, blends both), smart (query expansion plus reranking) and multimodal (text and image). Supports \"phrases\", -exclusions and filetype: filters.",
	},
	{
		Name:        "batch_search",
		Description: "Run several hybrid searches at once. Each query reports its own results or error.",
	},
	{
		Name:        "list_strategies",
		Description: "List the available search strategies and what they do.",
	},
	{
		Name:        "preview_expansion",
		Description: "Show how the smart strategy would expand a query into variants, without searching.",
	},
	{
		Name:        "llm_status",
		Description: "Report whether the language model used for expansion and reranking is reachable.",
	},
	{
		Name:        "corpus_stats",
		Description: "Fragment, document and file type counts for the indexed corpus.",
	},
	{
		Name:        "get_document",
		Description: "List the fragments of one document in chunk order.",
	},
}

// NewServer creates a new MCP server over searcher.
func NewServer(searcher Searcher, logger *slog.Logger) (*Server, error) {
	if searcher == nil {
		return nil, errors.New("searcher is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		searcher: searcher,
		logger:   logger,
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    serverName,
			Version: version.Version,
		},
		nil,
	)

	s.registerTools()
	s.registerResources()
	return s, nil
}

// SetMetrics sets the query metrics collector.
// When set, the query_metrics resource is registered.
func (s *Server) SetMetrics(m *telemetry.QueryMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m

	if m != nil {
		s.registerQueryMetricsResource()
	}
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	out := make([]ToolInfo, len(tools))
	copy(out, tools)
	return out
}

func (s *Server) registerTools() {
	desc := make(map[string]string, len(tools))
	for _, t := range tools {
		desc[t.Name] = t.Description
	}

	mcp.AddTool(s.mcp, &mcp.Tool{Name: "search", Description: desc["search"]}, s.mcpSearchHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "batch_search", Description: desc["batch_search"]}, s.mcpBatchSearchHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "list_strategies", Description: desc["list_strategies"]}, s.mcpListStrategiesHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "preview_expansion", Description: desc["preview_expansion"]}, s.mcpPreviewExpansionHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "llm_status", Description: desc["llm_status"]}, s.mcpLLMStatusHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "corpus_stats", Description: desc["corpus_stats"]}, s.mcpCorpusStatsHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "get_document", Description: desc["get_document"]}, s.mcpGetDocumentHandler)

	s.logger.Debug("MCP tools registered", slog.Int("count", len(tools)))
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

// mcpSearchHandler is the MCP SDK handler for the search tool.
func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	if strings.TrimSpace(input.Query) == "" && strings.TrimSpace(input.Image) == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query parameter is required")
	}

	start := time.Now()
	requestID := generateRequestID()
	req := search.Request{
		Query:           input.Query,
		Strategy:        input.Strategy,
		Limit:           clampLimit(input.Limit, defaultLimit, s.searcher.Config().MaxLimit),
		Alpha:           input.Alpha,
		UseRerank:       input.UseRerank,
		FileTypes:       input.FileTypes,
		ExpansionMethod: search.CanonicalExpansionMethod(input.ExpansionMethod),
		Image:           input.Image,
	}

	resp, err := s.searcher.Search(ctx, req)
	if err != nil {
		s.logger.Warn("mcp_search_failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return nil, SearchOutput{}, MapError(err)
	}

	s.logger.Debug("mcp_search_completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("result_count", len(resp.Results)))

	return textResult(FormatSearchResults(input.Query, resp)), toSearchOutput(resp), nil
}

// mcpBatchSearchHandler is the MCP SDK handler for the batch_search tool.
func (s *Server) mcpBatchSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input BatchSearchInput) (
	*mcp.CallToolResult,
	BatchSearchOutput,
	error,
) {
	if len(input.Queries) == 0 {
		return nil, BatchSearchOutput{}, NewInvalidParamsError("queries must not be empty")
	}

	results, err := s.searcher.BatchSearch(ctx, input.Queries,
		clampLimit(input.Limit, defaultBatchLimit, s.searcher.Config().MaxLimit))
	if err != nil {
		return nil, BatchSearchOutput{}, MapError(err)
	}

	out := BatchSearchOutput{Batches: make([]BatchOutput, 0, len(results))}
	for _, br := range results {
		b := BatchOutput{Query: br.Query, Error: br.Error, Results: make([]SearchResultOutput, 0, len(br.Results))}
		for _, r := range br.Results {
			b.Results = append(b.Results, ToSearchResultOutput(r))
		}
		out.Batches = append(out.Batches, b)
	}
	return textResult(FormatBatchResults(results)), out, nil
}

func (s *Server) mcpListStrategiesHandler(_ context.Context, _ *mcp.CallToolRequest, _ ListStrategiesInput) (
	*mcp.CallToolResult,
	ListStrategiesOutput,
	error,
) {
	return nil, ListStrategiesOutput{Strategies: s.searcher.Strategies()}, nil
}

func (s *Server) mcpPreviewExpansionHandler(ctx context.Context, _ *mcp.CallToolRequest, input PreviewExpansionInput) (
	*mcp.CallToolResult,
	*search.ExpansionPreview,
	error,
) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, nil, NewInvalidParamsError("query parameter is required")
	}
	method := search.CanonicalExpansionMethod(input.Method)
	if method == "" {
		method = search.ExpansionModel
	}

	preview, err := s.searcher.PreviewExpansion(ctx, input.Query, method)
	if err != nil {
		return nil, nil, MapError(err)
	}
	return nil, preview, nil
}

func (s *Server) mcpLLMStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ LLMStatusInput) (
	*mcp.CallToolResult,
	LLMStatusOutput,
	error,
) {
	st := s.searcher.LLMStatus(ctx)
	return nil, LLMStatusOutput{
		Available:     st.Available,
		APIConfigured: st.APIConfigured,
		BaseURL:       st.BaseURL,
		Model:         st.Model,
		Circuit:       st.Circuit,
	}, nil
}

func (s *Server) mcpCorpusStatsHandler(ctx context.Context, _ *mcp.CallToolRequest, _ CorpusStatsInput) (
	*mcp.CallToolResult,
	CorpusStatsOutput,
	error,
) {
	out, err := s.corpusStats(ctx)
	if err != nil {
		return nil, CorpusStatsOutput{}, MapError(err)
	}
	return nil, out, nil
}

func (s *Server) corpusStats(ctx context.Context) (CorpusStatsOutput, error) {
	st, err := s.searcher.Stats(ctx)
	if err != nil {
		return CorpusStatsOutput{}, err
	}
	fileTypes := st.FileTypes
	if fileTypes == nil {
		fileTypes = map[string]int{}
	}
	return CorpusStatsOutput{
		TotalFragments: st.TotalFragments,
		TotalDocuments: st.TotalDocuments,
		FileTypes:      fileTypes,
		TermCount:      st.Index.TermCount,
		AvgDocLength:   st.Index.AvgDocLength,
		IndexBuilds:    st.IndexBuilds,
		VectorBackend:  st.VectorBackend,
	}, nil
}

func (s *Server) mcpGetDocumentHandler(ctx context.Context, _ *mcp.CallToolRequest, input GetDocumentInput) (
	*mcp.CallToolResult,
	*search.Document,
	error,
) {
	if strings.TrimSpace(input.DocumentID) == "" {
		return nil, nil, NewInvalidParamsError("document_id parameter is required")
	}
	doc, err := s.searcher.DocumentFragments(ctx, input.DocumentID)
	if err != nil {
		return nil, nil, MapError(err)
	}
	return textResult(FormatDocument(doc)), doc, nil
}

// Serve runs the server on the given transport until ctx is canceled.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("Starting MCP server", slog.String("transport", transport))

	switch transport {
	case "stdio", "":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("MCP server stopped gracefully")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
