// Package canned provides an llm.Engine that answers every message with a
// fixed, localized reply. It is used when no engine credentials are
// configured so the service keeps responding deterministically.
package canned

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/user/shopline/pkg/llm"
)

// Replies maps a language code to the canned reply text.
var Replies = map[string]string{
	"en": "Thanks for your message! Our assistant is offline right now; a member of our team will get back to you shortly.",
	"es": "¡Gracias por tu mensaje! Nuestro asistente no está disponible en este momento; alguien del equipo te responderá pronto.",
}

const defaultLanguage = "en"

// maxPending caps replies created but never read, e.g. when the caller
// gave up between CreateRun and LatestReply.
const maxPending = 1024

// Engine completes every run immediately with a canned reply.
type Engine struct {
	mu      sync.Mutex
	pending map[string]string // thread ID -> language of the unread reply
}

// New creates a canned Engine.
func New() *Engine {
	return &Engine{
		pending: make(map[string]string),
	}
}

var _ llm.Engine = (*Engine)(nil)

func (e *Engine) CreateThread(_ context.Context) (string, error) {
	return "thread_" + uuid.New().String(), nil
}

// AddMessage accepts any thread, including ones created by a previous
// process; canned threads hold no messages.
func (e *Engine) AddMessage(_ context.Context, _, _ string) error {
	return nil
}

func (e *Engine) CreateRun(_ context.Context, threadID string, opts llm.RunOptions) (*llm.Run, error) {
	lang := opts.Metadata["language"]
	if _, ok := Replies[lang]; !ok {
		lang = defaultLanguage
	}
	run := &llm.Run{
		ID:       "run_" + uuid.New().String(),
		ThreadID: threadID,
		Status:   llm.RunStatusCompleted,
	}
	e.mu.Lock()
	if _, ok := e.pending[threadID]; !ok && len(e.pending) >= maxPending {
		clear(e.pending)
	}
	e.pending[threadID] = lang
	e.mu.Unlock()
	return run, nil
}

// GetRun reports every run as completed; canned runs finish on creation.
func (e *Engine) GetRun(_ context.Context, threadID, runID string) (*llm.Run, error) {
	if runID == "" {
		return nil, fmt.Errorf("run ID is required")
	}
	return &llm.Run{ID: runID, ThreadID: threadID, Status: llm.RunStatusCompleted}, nil
}

func (e *Engine) CancelRun(_ context.Context, _, _ string) error { return nil }

func (e *Engine) ListRuns(_ context.Context, _ string) ([]*llm.Run, error) { return nil, nil }

func (e *Engine) SubmitToolOutputs(ctx context.Context, threadID, runID string, _ []llm.ToolOutput) (*llm.Run, error) {
	return e.GetRun(ctx, threadID, runID)
}

// LatestReply returns the reply of the last run in the language it was
// created with, and forgets the thread.
func (e *Engine) LatestReply(_ context.Context, threadID string) (string, error) {
	e.mu.Lock()
	lang := e.pending[threadID]
	delete(e.pending, threadID)
	e.mu.Unlock()
	if reply, ok := Replies[lang]; ok {
		return reply, nil
	}
	return Replies[defaultLanguage], nil
}
