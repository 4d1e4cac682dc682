package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/docsearch/internal/embed"
	"github.com/Aman-CERP/docsearch/internal/llm"
	"github.com/Aman-CERP/docsearch/internal/logging"
	"github.com/Aman-CERP/docsearch/internal/search"
	"github.com/Aman-CERP/docsearch/internal/store"
)

// ProjectFileName is the per-directory configuration file.
const ProjectFileName = ".docsearch.yaml"

// Corpus kinds.
const (
	CorpusSQLite = "sqlite"
	CorpusJSONL  = "jsonl"
)

// Vector backends.
const (
	VectorHNSW  = "hnsw"
	VectorRedis = "redis"
	VectorNone  = "none"
)

// Config is the complete docsearch configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Corpus     CorpusConfig     `yaml:"corpus" json:"corpus"`
	Vector     VectorConfig     `yaml:"vector" json:"vector"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	LLM        llm.Config       `yaml:"llm" json:"llm"`
	Rerank     RerankConfig     `yaml:"rerank" json:"rerank"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Logging    logging.Config   `yaml:"logging" json:"logging"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" json:"telemetry"`
}

// SearchConfig tunes ranking and request handling.
// Configurable via:
//  1. User config (~/.config/docsearch/config.yaml)
//  2. Project config (.docsearch.yaml)
//  3. Env vars (DOCSEARCH_ALPHA, DOCSEARCH_RRF_CONSTANT, DOCSEARCH_MAX_LIMIT)
type SearchConfig struct {
	// K1 and B are the BM25 parameters.
	K1 float64 `yaml:"k1" json:"k1"`
	B  float64 `yaml:"b" json:"b"`

	// Alpha weights the vector side of hybrid scoring (0.0-1.0).
	Alpha float64 `yaml:"alpha" json:"alpha"`

	// RRFConstant is the k of Reciprocal Rank Fusion.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	DefaultLimit int `yaml:"default_limit" json:"default_limit"`
	MaxLimit     int `yaml:"max_limit" json:"max_limit"`

	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	TaskTimeout    time.Duration `yaml:"task_timeout" json:"task_timeout"`

	SnippetLength        int `yaml:"snippet_length" json:"snippet_length"`
	MaxVariants          int `yaml:"max_variants" json:"max_variants"`
	Parallelism          int `yaml:"parallelism" json:"parallelism"`
	DocumentPreviewRunes int `yaml:"document_preview_runes" json:"document_preview_runes"`
}

// CorpusConfig locates the fragment snapshot.
type CorpusConfig struct {
	// Kind is "sqlite" or "jsonl" (.jsonl or .jsonl.zst).
	Kind string `yaml:"kind" json:"kind"`
	Path string `yaml:"path" json:"path"`

	// Watch invalidates the index cache when a jsonl snapshot changes.
	Watch         bool          `yaml:"watch" json:"watch"`
	WatchDebounce time.Duration `yaml:"watch_debounce" json:"watch_debounce"`
}

// VectorConfig selects the vector store.
type VectorConfig struct {
	Backend string `yaml:"backend" json:"backend"`

	// TopKMultiplier scales vector topK so post-retrieval filters leave enough candidates.
	TopKMultiplier int `yaml:"top_k_multiplier" json:"top_k_multiplier"`

	// HNSW settings.
	Metric   string `yaml:"metric" json:"metric"`
	M        int    `yaml:"m" json:"m"`
	EfSearch int    `yaml:"ef_search" json:"ef_search"`

	Redis store.RedisVectorConfig `yaml:"redis" json:"redis"`
}

// EmbeddingsConfig configures the embedding provider chain.
type EmbeddingsConfig struct {
	// Providers in priority order: openai, ollama, static.
	Providers []string `yaml:"providers" json:"providers"`

	OpenAIModel   string `yaml:"openai_model" json:"openai_model"`
	OpenAIBaseURL string `yaml:"openai_base_url" json:"openai_base_url"`
	OpenAIAPIKey  string `yaml:"openai_api_key" json:"-"`

	OllamaHost  string `yaml:"ollama_host" json:"ollama_host"`
	OllamaModel string `yaml:"ollama_model" json:"ollama_model"`

	Dimensions int           `yaml:"dimensions" json:"dimensions"`
	CacheSize  int           `yaml:"cache_size" json:"cache_size"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

// RerankConfig selects the reranker used by vector and hybrid search.
// The smart strategy always reranks with the LLM.
type RerankConfig struct {
	// Method is "local", "model" or "http".
	Method      string        `yaml:"method" json:"method"`
	Endpoint    string        `yaml:"endpoint" json:"endpoint"`
	Model       string        `yaml:"model" json:"model"`
	Instruction string        `yaml:"instruction" json:"instruction"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
}

// ServerConfig configures the HTTP API and MCP server.
type ServerConfig struct {
	HTTPAddr     string `yaml:"http_addr" json:"http_addr"`
	MCPTransport string `yaml:"mcp_transport" json:"mcp_transport"`
}

// TelemetryConfig configures query telemetry persistence.
type TelemetryConfig struct {
	// QueryMetricsPath is the SQLite file for query metrics. Empty keeps them in memory.
	QueryMetricsPath string `yaml:"query_metrics_path" json:"query_metrics_path"`
}

// NewConfig creates a Config with defaults.
func NewConfig() *Config {
	sc := search.DefaultSearchConfig()
	bm := store.DefaultBM25Config()
	return &Config{
		Version: 1,
		Search: SearchConfig{
			K1:                   bm.K1,
			B:                    bm.B,
			Alpha:                sc.DefaultAlpha,
			RRFConstant:          sc.RRFConstant,
			DefaultLimit:         sc.DefaultLimit,
			MaxLimit:             sc.MaxLimit,
			RequestTimeout:       sc.RequestTimeout,
			TaskTimeout:          sc.TaskTimeout,
			SnippetLength:        sc.SnippetRunes,
			MaxVariants:          sc.MaxVariants,
			Parallelism:          sc.Parallelism,
			DocumentPreviewRunes: sc.DocumentPreviewRunes,
		},
		Corpus: CorpusConfig{
			Kind:          CorpusSQLite,
			Path:          defaultCorpusPath(),
			WatchDebounce: 500 * time.Millisecond,
		},
		Vector: VectorConfig{
			Backend:        VectorHNSW,
			TopKMultiplier: sc.VectorMultiplier,
			Metric:         "cos",
			M:              16,
			EfSearch:       20,
			Redis: store.RedisVectorConfig{
				Index:     "docsearch_fragments",
				KeyPrefix: "docsearch:fragment:",
			},
		},
		Embeddings: EmbeddingsConfig{
			Providers:   []string{string(embed.ProviderOpenAI), string(embed.ProviderStatic)},
			OpenAIModel: embed.DefaultOpenAIModel,
			OllamaHost:  embed.DefaultOllamaHost,
			OllamaModel: embed.DefaultOllamaModel,
			Dimensions:  embed.DefaultDimensions,
			CacheSize:   embed.DefaultEmbeddingCacheSize,
			Timeout:     embed.DefaultTimeout,
		},
		LLM: llm.DefaultConfig(),
		Rerank: RerankConfig{
			Method:   search.RerankLocal,
			Endpoint: search.DefaultRerankerEndpoint,
			Model:    search.DefaultRerankerModel,
			Timeout:  search.DefaultRerankerTimeout,
		},
		Server: ServerConfig{
			HTTPAddr:     ":8000",
			MCPTransport: "stdio",
		},
		Logging: logging.DefaultConfig(),
	}
}

// defaultCorpusPath returns ~/.docsearch/corpus.db.
func defaultCorpusPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".docsearch", "corpus.db")
	}
	return filepath.Join(home, ".docsearch", "corpus.db")
}

// GetUserConfigPath returns the path to the user configuration file.
// It follows the XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/docsearch/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/docsearch/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "docsearch", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "docsearch", "config.yaml")
	}
	return filepath.Join(home, ".config", "docsearch", "config.yaml")
}

// Load loads configuration for dir.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User config (~/.config/docsearch/config.yaml)
//  3. Project config (.docsearch.yaml in dir)
//  4. Environment variables (DOCSEARCH_*, OPENAI_API_KEY, OPENAI_BASE_URL, LLM_MODEL)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadYAML(GetUserConfigPath()); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}
	if dir != "" {
		if err := cfg.loadYAML(filepath.Join(dir, ProjectFileName)); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadYAML decodes path over c. Keys absent from the file keep their
// current value; unknown keys are an error. A missing file is not.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
// Malformed numeric values are ignored.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DOCSEARCH_ALPHA"); v != "" {
		if a, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && a >= 0 && a <= 1 {
			c.Search.Alpha = a
		}
	}
	if v := os.Getenv("DOCSEARCH_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}
	if v := os.Getenv("DOCSEARCH_MAX_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.MaxLimit = n
		}
	}

	if v := os.Getenv("DOCSEARCH_CORPUS_KIND"); v != "" {
		c.Corpus.Kind = strings.ToLower(v)
	}
	if v := os.Getenv("DOCSEARCH_CORPUS_PATH"); v != "" {
		c.Corpus.Path = v
	}
	if v := os.Getenv("DOCSEARCH_VECTOR_BACKEND"); v != "" {
		c.Vector.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("DOCSEARCH_REDIS_ADDRS"); v != "" {
		c.Vector.Redis.Addrs = splitList(v)
	}
	if v := os.Getenv("DOCSEARCH_EMBEDDERS"); v != "" {
		c.Embeddings.Providers = splitList(v)
	}
	if v := os.Getenv("DOCSEARCH_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("DOCSEARCH_RERANK_METHOD"); v != "" {
		c.Rerank.Method = strings.ToLower(v)
	}
	if v := os.Getenv("DOCSEARCH_RERANK_ENDPOINT"); v != "" {
		c.Rerank.Endpoint = v
	}
	if v := os.Getenv("DOCSEARCH_HTTP_ADDR"); v != "" {
		c.Server.HTTPAddr = v
	}
	if v := os.Getenv("DOCSEARCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	// The OpenAI-compatible variables configure the chat model; the key
	// also serves the OpenAI embedder unless one is configured.
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.APIKey = v
		if c.Embeddings.OpenAIAPIKey == "" {
			c.Embeddings.OpenAIAPIKey = v
		}
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	s := c.Search
	if s.Alpha < 0 || s.Alpha > 1 {
		return fmt.Errorf("search.alpha must be between 0 and 1, got %f", s.Alpha)
	}
	if s.K1 <= 0 {
		return fmt.Errorf("search.k1 must be positive, got %f", s.K1)
	}
	if s.B < 0 || s.B > 1 {
		return fmt.Errorf("search.b must be between 0 and 1, got %f", s.B)
	}
	if s.RRFConstant <= 0 {
		return fmt.Errorf("search.rrf_constant must be positive, got %d", s.RRFConstant)
	}
	if s.DefaultLimit <= 0 || s.MaxLimit <= 0 {
		return fmt.Errorf("search.default_limit and search.max_limit must be positive")
	}
	if s.DefaultLimit > s.MaxLimit {
		return fmt.Errorf("search.default_limit (%d) exceeds search.max_limit (%d)", s.DefaultLimit, s.MaxLimit)
	}
	if s.RequestTimeout <= 0 || s.TaskTimeout <= 0 {
		return fmt.Errorf("search.request_timeout and search.task_timeout must be positive")
	}
	if s.SnippetLength <= 0 {
		return fmt.Errorf("search.snippet_length must be positive, got %d", s.SnippetLength)
	}
	if s.MaxVariants < 1 || s.Parallelism < 1 {
		return fmt.Errorf("search.max_variants and search.parallelism must be at least 1")
	}

	switch c.Corpus.Kind {
	case CorpusSQLite, CorpusJSONL:
	default:
		return fmt.Errorf("corpus.kind must be 'sqlite' or 'jsonl', got %s", c.Corpus.Kind)
	}
	if strings.TrimSpace(c.Corpus.Path) == "" {
		return fmt.Errorf("corpus.path must be set")
	}

	switch c.Vector.Backend {
	case VectorHNSW, VectorNone:
	case VectorRedis:
		if len(c.Vector.Redis.Addrs) == 0 {
			return fmt.Errorf("vector.redis.addrs must be set for the redis backend")
		}
	default:
		return fmt.Errorf("vector.backend must be 'hnsw', 'redis' or 'none', got %s", c.Vector.Backend)
	}
	if c.Vector.TopKMultiplier < 1 {
		return fmt.Errorf("vector.top_k_multiplier must be at least 1, got %d", c.Vector.TopKMultiplier)
	}

	if _, err := c.providerTypes(); err != nil {
		return fmt.Errorf("embeddings.providers: %w", err)
	}
	if c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embeddings.dimensions must be positive, got %d", c.Embeddings.Dimensions)
	}

	switch c.Rerank.Method {
	case search.RerankLocal, search.RerankModel, search.RerankHTTP:
	default:
		return fmt.Errorf("rerank.method must be 'local', 'model' or 'http', got %s", c.Rerank.Method)
	}

	if c.Server.MCPTransport != "stdio" {
		return fmt.Errorf("server.mcp_transport must be 'stdio', got %s", c.Server.MCPTransport)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}
	return nil
}

func (c *Config) providerTypes() ([]embed.ProviderType, error) {
	out := make([]embed.ProviderType, 0, len(c.Embeddings.Providers))
	for _, p := range c.Embeddings.Providers {
		kind, err := embed.ParseProviderType(p)
		if err != nil {
			return nil, err
		}
		out = append(out, kind)
	}
	return out, nil
}

// SearchSettings maps the search section onto the orchestrator config.
func (c *Config) SearchSettings() search.Config {
	return search.Config{
		DefaultLimit:         c.Search.DefaultLimit,
		MaxLimit:             c.Search.MaxLimit,
		DefaultAlpha:         c.Search.Alpha,
		RRFConstant:          c.Search.RRFConstant,
		RequestTimeout:       c.Search.RequestTimeout,
		TaskTimeout:          c.Search.TaskTimeout,
		SnippetRunes:         c.Search.SnippetLength,
		MaxVariants:          c.Search.MaxVariants,
		Parallelism:          c.Search.Parallelism,
		VectorMultiplier:     c.Vector.TopKMultiplier,
		DocumentPreviewRunes: c.Search.DocumentPreviewRunes,
	}
}

// BM25 returns the lexical index parameters.
func (c *Config) BM25() store.BM25Config {
	bm := store.DefaultBM25Config()
	bm.K1 = c.Search.K1
	bm.B = c.Search.B
	return bm
}

// HNSW returns the in-process vector store parameters.
func (c *Config) HNSW() store.VectorStoreConfig {
	return store.VectorStoreConfig{
		Dimensions: c.Embeddings.Dimensions,
		Metric:     c.Vector.Metric,
		M:          c.Vector.M,
		EfSearch:   c.Vector.EfSearch,
	}
}

// RedisVector returns the Redis vector store parameters.
func (c *Config) RedisVector() store.RedisVectorConfig {
	rc := c.Vector.Redis
	rc.Dimensions = c.Embeddings.Dimensions
	return rc
}

// EmbedSettings maps the embeddings section onto the provider chain config.
// The chain's breaker follows the LLM breaker settings.
func (c *Config) EmbedSettings() (embed.Config, error) {
	kinds, err := c.providerTypes()
	if err != nil {
		return embed.Config{}, err
	}
	return embed.Config{
		Providers:       kinds,
		Dimensions:      c.Embeddings.Dimensions,
		CacheSize:       c.Embeddings.CacheSize,
		OpenAIAPIKey:    c.Embeddings.OpenAIAPIKey,
		OpenAIBaseURL:   c.Embeddings.OpenAIBaseURL,
		OpenAIModel:     c.Embeddings.OpenAIModel,
		OllamaHost:      c.Embeddings.OllamaHost,
		OllamaModel:     c.Embeddings.OllamaModel,
		Timeout:         c.Embeddings.Timeout,
		BreakerFailures: c.LLM.BreakerFailures,
		BreakerReset:    c.LLM.BreakerReset,
	}, nil
}

// HTTPReranker returns the HTTP reranker settings.
func (c *Config) HTTPReranker() search.HTTPRerankerConfig {
	return search.HTTPRerankerConfig{
		Endpoint:    c.Rerank.Endpoint,
		Model:       c.Rerank.Model,
		Timeout:     c.Rerank.Timeout,
		Instruction: c.Rerank.Instruction,
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Redacted returns a copy with secrets blanked, for display.
func (c *Config) Redacted() *Config {
	cp := *c
	if cp.LLM.APIKey != "" {
		cp.LLM.APIKey = "***"
	}
	if cp.Embeddings.OpenAIAPIKey != "" {
		cp.Embeddings.OpenAIAPIKey = "***"
	}
	if cp.Vector.Redis.Password != "" {
		cp.Vector.Redis.Password = "***"
	}
	return &cp
}
