// Package llmtest provides a scriptable llm.Engine test double.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/user/shopline/pkg/llm"
)

// Engine is a test double that satisfies llm.Engine. Each method delegates
// to its Func field when set and otherwise behaves like a healthy engine
// whose runs complete immediately with Reply.
type Engine struct {
	CreateThreadFunc      func(ctx context.Context) (string, error)
	AddMessageFunc        func(ctx context.Context, threadID, text string) error
	CreateRunFunc         func(ctx context.Context, threadID string, opts llm.RunOptions) (*llm.Run, error)
	GetRunFunc            func(ctx context.Context, threadID, runID string) (*llm.Run, error)
	CancelRunFunc         func(ctx context.Context, threadID, runID string) error
	ListRunsFunc          func(ctx context.Context, threadID string) ([]*llm.Run, error)
	SubmitToolOutputsFunc func(ctx context.Context, threadID, runID string, outputs []llm.ToolOutput) (*llm.Run, error)
	LatestReplyFunc       func(ctx context.Context, threadID string) (string, error)

	// Reply is returned by LatestReply when LatestReplyFunc is nil.
	Reply string

	mu        sync.Mutex
	calls     map[string]int
	threads   int
	submitted [][]llm.ToolOutput
	lastOpts  llm.RunOptions
}

var _ llm.Engine = (*Engine)(nil)

func (e *Engine) record(method string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.calls == nil {
		e.calls = make(map[string]int)
	}
	e.calls[method]++
}

// Calls returns how many times method was invoked.
func (e *Engine) Calls(method string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[method]
}

// TotalCalls returns the number of invocations across all methods.
func (e *Engine) TotalCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		n += c
	}
	return n
}

// Submitted returns every batch passed to SubmitToolOutputs.
func (e *Engine) Submitted() [][]llm.ToolOutput {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]llm.ToolOutput, len(e.submitted))
	copy(out, e.submitted)
	return out
}

// LastRunOptions returns the options of the most recent CreateRun.
func (e *Engine) LastRunOptions() llm.RunOptions {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastOpts
}

func (e *Engine) CreateThread(ctx context.Context) (string, error) {
	e.record("CreateThread")
	if e.CreateThreadFunc != nil {
		return e.CreateThreadFunc(ctx)
	}
	e.mu.Lock()
	e.threads++
	n := e.threads
	e.mu.Unlock()
	return fmt.Sprintf("thread_%d", n), nil
}

func (e *Engine) AddMessage(ctx context.Context, threadID, text string) error {
	e.record("AddMessage")
	if e.AddMessageFunc != nil {
		return e.AddMessageFunc(ctx, threadID, text)
	}
	return nil
}

func (e *Engine) CreateRun(ctx context.Context, threadID string, opts llm.RunOptions) (*llm.Run, error) {
	e.record("CreateRun")
	e.mu.Lock()
	e.lastOpts = opts
	e.mu.Unlock()
	if e.CreateRunFunc != nil {
		return e.CreateRunFunc(ctx, threadID, opts)
	}
	return &llm.Run{ID: "run_1", ThreadID: threadID, Status: llm.RunStatusCompleted}, nil
}

func (e *Engine) GetRun(ctx context.Context, threadID, runID string) (*llm.Run, error) {
	e.record("GetRun")
	if e.GetRunFunc != nil {
		return e.GetRunFunc(ctx, threadID, runID)
	}
	return &llm.Run{ID: runID, ThreadID: threadID, Status: llm.RunStatusCompleted}, nil
}

func (e *Engine) CancelRun(ctx context.Context, threadID, runID string) error {
	e.record("CancelRun")
	if e.CancelRunFunc != nil {
		return e.CancelRunFunc(ctx, threadID, runID)
	}
	return nil
}

func (e *Engine) ListRuns(ctx context.Context, threadID string) ([]*llm.Run, error) {
	e.record("ListRuns")
	if e.ListRunsFunc != nil {
		return e.ListRunsFunc(ctx, threadID)
	}
	return nil, nil
}

func (e *Engine) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []llm.ToolOutput) (*llm.Run, error) {
	e.record("SubmitToolOutputs")
	e.mu.Lock()
	e.submitted = append(e.submitted, outputs)
	e.mu.Unlock()
	if e.SubmitToolOutputsFunc != nil {
		return e.SubmitToolOutputsFunc(ctx, threadID, runID, outputs)
	}
	return &llm.Run{ID: runID, ThreadID: threadID, Status: llm.RunStatusQueued}, nil
}

func (e *Engine) LatestReply(ctx context.Context, threadID string) (string, error) {
	e.record("LatestReply")
	if e.LatestReplyFunc != nil {
		return e.LatestReplyFunc(ctx, threadID)
	}
	return e.Reply, nil
}

// Sequence returns a GetRunFunc that reports the given statuses in order
// and then repeats the last one.
func Sequence(runs ...*llm.Run) func(ctx context.Context, threadID, runID string) (*llm.Run, error) {
	var mu sync.Mutex
	i := 0
	return func(_ context.Context, threadID, runID string) (*llm.Run, error) {
		mu.Lock()
		defer mu.Unlock()
		r := *runs[i]
		if i < len(runs)-1 {
			i++
		}
		r.ID = runID
		r.ThreadID = threadID
		return &r, nil
	}
}
