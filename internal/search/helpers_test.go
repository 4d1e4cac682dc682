package search

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Aman-CERP/docsearch/internal/llm"
)

// fakeLLM is a scripted LLM.
type fakeLLM struct {
	reply     string
	err       error
	available bool

	calls atomic.Int32
	mu    sync.Mutex
	reqs  []llm.Request
}

func newFakeLLM(reply string) *fakeLLM {
	return &fakeLLM{reply: reply, available: true}
}

func (f *fakeLLM) Generate(ctx context.Context, req llm.Request) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.reply, f.err
}

func (f *fakeLLM) Available() bool { return f.available }

func (f *fakeLLM) lastRequest() llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reqs) == 0 {
		return llm.Request{}
	}
	return f.reqs[len(f.reqs)-1]
}
