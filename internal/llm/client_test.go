package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	dserrors "github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/telemetry"
)

// fakeModel is an llms.Model returning a canned reply or error.
type fakeModel struct {
	reply   string
	err     error
	calls   atomic.Int64
	lastMsg []llms.MessageContent
	block   bool
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls.Add(1)
	f.lastMsg = messages
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeModel) Call(context.Context, string, ...llms.CallOption) (string, error) {
	return f.reply, f.err
}

func TestNew_WithoutKeyIsUnavailable(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)

	assert.False(t, c.Configured())
	assert.False(t, c.Available())

	_, err = c.Generate(context.Background(), Request{Operation: "expand", Prompt: "x"})
	assert.Equal(t, dserrors.ErrCodeLLMUnavailable, dserrors.GetCode(err))

	status := c.Status()
	assert.False(t, status.APIConfigured)
	assert.Equal(t, DefaultBaseURL, status.BaseURL)
	assert.Equal(t, DefaultModel, status.Model)
}

func TestClient_GenerateTrimsReply(t *testing.T) {
	// Given: a configured client with metrics
	model := &fakeModel{reply: "  财务报告\n年度报表 \n"}
	metrics := telemetry.NewMetrics()
	c, err := New(Config{}, WithModel(model), WithMetrics(metrics))
	require.NoError(t, err)

	// When: generating
	text, err := c.Generate(context.Background(), Request{Operation: "expand", Prompt: "expand 财务"})

	// Then: the reply is trimmed and the call counted
	require.NoError(t, err)
	assert.Equal(t, "财务报告\n年度报表", text)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.LLMRequestsTotal.WithLabelValues("expand", "ok")))
	require.Len(t, model.lastMsg, 1)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.lastMsg[0].Role)
}

func TestClient_BreakerOpensAfterFailures(t *testing.T) {
	model := &fakeModel{err: errors.New("502 bad gateway")}
	c, err := New(Config{BreakerFailures: 2, BreakerReset: time.Hour}, WithModel(model))
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.Generate(ctx, Request{Operation: "rerank", Prompt: "p"})
		require.Error(t, err)
		assert.Equal(t, dserrors.ErrCodeServiceUnavailable, dserrors.GetCode(err))
	}

	// Circuit is open: fails fast without calling the model.
	_, err = c.Generate(ctx, Request{Operation: "rerank", Prompt: "p"})
	assert.Equal(t, dserrors.ErrCodeLLMUnavailable, dserrors.GetCode(err))
	assert.ErrorIs(t, err, dserrors.ErrCircuitOpen)
	assert.Equal(t, int64(2), model.calls.Load())
	assert.False(t, c.Available())
	assert.Equal(t, "open", c.Status().Circuit)
}

func TestClient_TimeoutIsServiceTimeout(t *testing.T) {
	model := &fakeModel{block: true}
	c, err := New(Config{Timeout: 20 * time.Millisecond}, WithModel(model))
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), Request{Operation: "expand", Prompt: "p"})

	require.Error(t, err)
	assert.Equal(t, dserrors.ErrCodeServiceTimeout, dserrors.GetCode(err))
	assert.True(t, dserrors.IsRetryable(err))
}

func TestClient_CallerCancelDoesNotTripBreaker(t *testing.T) {
	model := &fakeModel{block: true}
	c, err := New(Config{BreakerFailures: 1, BreakerReset: time.Hour}, WithModel(model))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = c.Generate(ctx, Request{Operation: "expand", Prompt: "p"})

	require.Error(t, err)
	assert.Equal(t, "closed", c.Status().Circuit)
}

func TestClient_EmptyChoicesIsMalformed(t *testing.T) {
	c, err := New(Config{}, WithModel(&emptyModel{}))
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), Request{Operation: "expand", Prompt: "p"})

	assert.Equal(t, dserrors.ErrCodeMalformedResponse, dserrors.GetCode(err))
}

type emptyModel struct{ fakeModel }

func (e *emptyModel) GenerateContent(context.Context, []llms.MessageContent, ...llms.CallOption) (*llms.ContentResponse, error) {
	return &llms.ContentResponse{}, nil
}

func TestClient_DescribeAttachesImage(t *testing.T) {
	model := &fakeModel{reply: "A scanned invoice with a totals table"}
	c, err := New(Config{}, WithModel(model))
	require.NoError(t, err)

	text, err := c.Describe(context.Background(), "https://example.com/invoice.png")

	require.NoError(t, err)
	assert.Equal(t, "A scanned invoice with a totals table", text)
	require.Len(t, model.lastMsg, 1)
	require.Len(t, model.lastMsg[0].Parts, 2)
	_, isImage := model.lastMsg[0].Parts[1].(llms.ImageURLContent)
	assert.True(t, isImage)

	_, err = c.Describe(context.Background(), " ")
	assert.True(t, dserrors.IsInvalidParameter(err))
}

func TestClient_OpenAICompatibleEndpoint(t *testing.T) {
	// Given: a chat completions endpoint
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"deepseek-chat",
			"choices":[{"index":0,"message":{"role":"assistant","content":"1:9\n2:3"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":10,"completion_tokens":4,"total_tokens":14}}`))
	}))
	defer srv.Close()

	c, err := New(Config{APIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)

	// When: generating
	text, err := c.Generate(context.Background(), Request{Operation: "rerank", Prompt: "score"})

	// Then: the reply comes from the endpoint
	require.NoError(t, err)
	assert.Equal(t, "1:9\n2:3", text)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.True(t, c.Status().Available)
}
