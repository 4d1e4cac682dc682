package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docsearch/internal/config"
	"github.com/Aman-CERP/docsearch/internal/corpus"
	dserrors "github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/search"
	"github.com/Aman-CERP/docsearch/internal/store"
)

// setupCorpus isolates HOME and points the CLI at a jsonl snapshot with the
// vector channel disabled.
func setupCorpus(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("OPENAI_API_KEY", "")

	path := filepath.Join(home, "corpus.jsonl")
	require.NoError(t, corpus.WriteSnapshot(path, []store.Fragment{
		{ID: "b-0", DocumentID: "budget", Filename: "budget.xlsx", FileType: "xlsx", ChunkIndex: 0,
			Text: "annual budget forecast for the finance team"},
		{ID: "b-1", DocumentID: "budget", Filename: "budget.xlsx", FileType: "xlsx", ChunkIndex: 1,
			Text: "capital expenditure and budget review"},
		{ID: "t-0", DocumentID: "travel", Filename: "travel.pdf", FileType: "pdf", ChunkIndex: 0,
			Text: "travel policy for business trips"},
	}))

	t.Setenv("DOCSEARCH_CORPUS_KIND", config.CorpusJSONL)
	t.Setenv("DOCSEARCH_CORPUS_PATH", path)
	t.Setenv("DOCSEARCH_VECTOR_BACKEND", config.VectorNone)
	return home
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(append([]string{"--dir", t.TempDir()}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	// Given: the root command
	cmd := NewRootCmd()

	// Then: every subcommand is registered
	want := []string{"search", "batch", "expand", "strategies", "llm-status",
		"stats", "document", "serve", "mcp", "config", "version"}
	for _, name := range want {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}
}

func TestRootCmd_ShowsVersion(t *testing.T) {
	// When: running with --version
	out, err := execute(t, "--version")

	// Then: the version template is printed
	require.NoError(t, err)
	assert.Contains(t, out, "docsearch version")
}

func TestVersionCmd_JSON(t *testing.T) {
	// When: running version --json without any configuration
	t.Setenv("HOME", t.TempDir())
	out, err := execute(t, "version", "--json")

	// Then: build info is printed as JSON
	require.NoError(t, err)
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Contains(t, info, "version")
}

func TestSearchCmd_RequiresQuery(t *testing.T) {
	setupCorpus(t)

	// When: search is run without a query or image
	_, err := execute(t, "search")

	// Then: argument validation fails
	require.Error(t, err)
}

func TestSearchCmd_Keyword_ReturnsResults(t *testing.T) {
	setupCorpus(t)

	// When: searching by keyword
	out, err := execute(t, "search", "budget", "--strategy", "keyword")

	// Then: the budget fragments are listed
	require.NoError(t, err)
	assert.Contains(t, out, "budget.xlsx")
	assert.NotContains(t, out, "travel.pdf")
}

func TestSearchCmd_JSONFormat(t *testing.T) {
	setupCorpus(t)

	// When: searching hybrid with JSON output and no vector backend
	out, err := execute(t, "search", "travel", "-f", "json", "-n", "1")

	// Then: the response decodes and the degraded vector stage is a notice
	require.NoError(t, err)
	var resp search.Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "t-0", resp.Results[0].ID)
	assert.Equal(t, search.StrategyHybrid, resp.Meta.Strategy)
	assert.NotEmpty(t, resp.Meta.Notices)
}

func TestSearchCmd_FileTypeFilter(t *testing.T) {
	setupCorpus(t)

	// When: the query matches both files but only pdf is allowed
	out, err := execute(t, "search", "policy budget", "-s", "keyword", "-t", "pdf", "-f", "json")

	// Then: only pdf fragments are returned
	require.NoError(t, err)
	var resp search.Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	for _, r := range resp.Results {
		assert.Equal(t, "pdf", r.FileType)
	}
}

func TestSearchCmd_UnknownStrategy(t *testing.T) {
	setupCorpus(t)

	// When: an unregistered strategy is requested
	_, err := execute(t, "search", "budget", "--strategy", "fuzzy")

	// Then: the orchestrator rejects it
	require.Error(t, err)
	assert.Equal(t, dserrors.ErrCodeUnknownStrategy, dserrors.GetCode(err))
}

func TestSearchCmd_BadFormat(t *testing.T) {
	setupCorpus(t)

	_, err := execute(t, "search", "budget", "--format", "xml")

	require.Error(t, err)
}

func TestBatchCmd_FromFile(t *testing.T) {
	home := setupCorpus(t)
	file := filepath.Join(home, "queries.txt")
	require.NoError(t, os.WriteFile(file, []byte("budget\n\n travel \n"), 0o644))

	// When: running a batch from a query file
	out, err := execute(t, "batch", "--file", file, "-f", "json")

	// Then: one result set per non-blank line, in order
	require.NoError(t, err)
	var results []search.BatchResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	assert.Equal(t, "budget", results[0].Query)
	assert.Equal(t, "travel", results[1].Query)
	assert.NotEmpty(t, results[1].Results)
}

func TestBatchCmd_NoQueries(t *testing.T) {
	setupCorpus(t)

	_, err := execute(t, "batch")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no queries")
}

func TestReadQueries_Stdin(t *testing.T) {
	queries, err := readQueries(strings.NewReader("a\n  \nb c\n"), "-")

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b c"}, queries)
}

func TestExpandCmd_RuleMethod(t *testing.T) {
	setupCorpus(t)

	// When: previewing a rule expansion with the keyword alias
	out, err := execute(t, "expand", "budget", "--method", "keyword", "-f", "json")

	// Then: the rule expander answers and keeps the original first
	require.NoError(t, err)
	var preview search.ExpansionPreview
	require.NoError(t, json.Unmarshal([]byte(out), &preview))
	assert.Equal(t, search.ExpansionRule, preview.Method)
	require.NotEmpty(t, preview.Expanded)
	assert.Equal(t, "budget", preview.Expanded[0])
}

func TestStrategiesCmd(t *testing.T) {
	setupCorpus(t)

	out, err := execute(t, "strategies")

	require.NoError(t, err)
	for _, name := range []string{"keyword", "vector", "hybrid", "smart", "multimodal"} {
		assert.Contains(t, out, name)
	}
}

func TestLLMStatusCmd_NotConfigured(t *testing.T) {
	setupCorpus(t)

	out, err := execute(t, "llm-status")

	require.NoError(t, err)
	assert.Contains(t, out, "not configured")
}

func TestStatsCmd_JSON(t *testing.T) {
	setupCorpus(t)

	out, err := execute(t, "stats", "-f", "json")

	require.NoError(t, err)
	var stats search.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 3, stats.TotalFragments)
	assert.Equal(t, 2, stats.TotalDocuments)
	assert.Equal(t, 2, stats.FileTypes["xlsx"])
}

func TestDocumentCmd(t *testing.T) {
	setupCorpus(t)

	// When: listing a known document
	out, err := execute(t, "document", "budget")

	// Then: its fragments are printed in chunk order
	require.NoError(t, err)
	first := strings.Index(out, "annual budget")
	second := strings.Index(out, "capital expenditure")
	require.GreaterOrEqual(t, first, 0)
	assert.Greater(t, second, first)
}

func TestDocumentCmd_NotFound(t *testing.T) {
	setupCorpus(t)

	_, err := execute(t, "document", "missing")

	require.Error(t, err)
	assert.Equal(t, dserrors.ErrCodeDocumentNotFound, dserrors.GetCode(err))
}

func TestConfigCmd_InitShowRestore(t *testing.T) {
	setupCorpus(t)
	path := config.GetUserConfigPath()

	// Given: a freshly initialised user config
	_, err := execute(t, "config", "init")
	require.NoError(t, err)
	require.FileExists(t, path)

	// When: init is forced over it
	out, err := execute(t, "config", "init", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Backup:")

	// Then: a backup exists and can be restored
	backups, err := config.ListBackups(path)
	require.NoError(t, err)
	require.Len(t, backups, 1)

	_, err = execute(t, "config", "restore")
	require.NoError(t, err)

	out, err = execute(t, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, path, strings.TrimSpace(out))
}

func TestConfigCmd_ShowRedactsSecrets(t *testing.T) {
	setupCorpus(t)
	t.Setenv("OPENAI_API_KEY", "sk-secret")

	out, err := execute(t, "config", "show", "--json")

	require.NoError(t, err)
	assert.NotContains(t, out, "sk-secret")
	assert.Contains(t, out, `"corpus"`)
}
