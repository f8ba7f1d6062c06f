package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/user/shopline/internal/metrics"
	"github.com/user/shopline/internal/types"
	"github.com/user/shopline/pkg/llm"
)

// DefaultToolTimeout bounds a single tool execution.
const DefaultToolTimeout = 5 * time.Second

// Error codes reported in tool error payloads.
const (
	CodeUnknownTool      = "unknown_tool"
	CodeInvalidArguments = "invalid_arguments"
	CodeToolError        = "tool_error"
	CodeTimeout          = "timeout"
	CodePanic            = "panic"
)

var errToolPanic = errors.New("tool panicked")

// Truncator shortens tool output to a budget.
type Truncator interface {
	Truncate(text string) string
}

// Dispatcher executes the tool calls of a requires_action run.
type Dispatcher struct {
	registry  *Registry
	timeout   time.Duration
	truncator Truncator
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithToolTimeout sets the per-call timeout.
func WithToolTimeout(d time.Duration) DispatcherOption {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.timeout = d
		}
	}
}

// WithTruncator limits every successful tool output.
func WithTruncator(t Truncator) DispatcherOption {
	return func(dp *Dispatcher) { dp.truncator = t }
}

// WithDispatchMetrics records tool outcomes on m.
func WithDispatchMetrics(m *metrics.Metrics) DispatcherOption {
	return func(dp *Dispatcher) { dp.metrics = m }
}

// WithDispatchLogger sets the logger.
func WithDispatchLogger(l *slog.Logger) DispatcherOption {
	return func(dp *Dispatcher) { dp.logger = l }
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		timeout:  DefaultToolTimeout,
		metrics:  metrics.New(nil),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "dispatcher")
	return d
}

// Dispatch runs every call in parallel and returns one output per call in
// the order the calls were given. Failures never escape: they become a
// JSON error payload for the failing call.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []llm.ToolCall) ([]llm.ToolOutput, []types.SideEffect) {
	outputs := make([]llm.ToolOutput, len(calls))
	effects := make([][]types.SideEffect, len(calls))

	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			out, fx := d.execute(ctx, call)
			outputs[i] = llm.ToolOutput{ToolCallID: call.ID, Output: out}
			effects[i] = fx
			return nil
		})
	}
	_ = g.Wait()

	var sideEffects []types.SideEffect
	for _, fx := range effects {
		sideEffects = append(sideEffects, fx...)
	}
	return outputs, sideEffects
}

type toolResult struct {
	out *Output
	err error
}

func (d *Dispatcher) execute(ctx context.Context, call llm.ToolCall) (string, []types.SideEffect) {
	tool, ok := d.registry.Get(call.Name)
	if !ok {
		d.record("unknown", CodeUnknownTool, 0)
		return errorPayload(CodeUnknownTool, fmt.Sprintf("unknown tool %q", call.Name)), nil
	}

	start := time.Now()
	tctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan toolResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- toolResult{err: fmt.Errorf("%w: %v", errToolPanic, r)}
			}
		}()
		out, err := tool.Execute(tctx, call.Arguments)
		done <- toolResult{out: out, err: err}
	}()

	var res toolResult
	select {
	case res = <-done:
	case <-tctx.Done():
		d.record(call.Name, CodeTimeout, time.Since(start))
		d.logger.Warn("tool call timed out", "tool", call.Name, "call_id", call.ID, "timeout", d.timeout)
		return errorPayload(CodeTimeout, fmt.Sprintf("tool %s did not finish within %s", call.Name, d.timeout)), nil
	}

	if res.err != nil {
		code := errorCode(res.err)
		d.record(call.Name, code, time.Since(start))
		d.logger.Warn("tool call failed", "tool", call.Name, "call_id", call.ID, "code", code, "error", res.err)
		return errorPayload(code, res.err.Error()), nil
	}

	var data any
	var fx []types.SideEffect
	if res.out != nil {
		data = res.out.Data
		fx = res.out.SideEffects
	}
	content, err := json.Marshal(data)
	if err != nil {
		d.record(call.Name, CodeToolError, time.Since(start))
		return errorPayload(CodeToolError, fmt.Sprintf("encode result: %v", err)), nil
	}
	d.record(call.Name, "ok", time.Since(start))
	return d.truncate(string(content)), fx
}

type truncatedBody struct {
	Truncated bool   `json:"truncated"`
	Partial   string `json:"partial"`
}

// truncate applies the output budget. A cut is carried as a string inside
// a JSON envelope so the output stays valid JSON.
func (d *Dispatcher) truncate(text string) string {
	if d.truncator == nil {
		return text
	}
	cut := d.truncator.Truncate(text)
	if cut == text {
		return text
	}
	data, _ := json.Marshal(truncatedBody{Truncated: true, Partial: cut})
	return string(data)
}

func (d *Dispatcher) record(tool, outcome string, elapsed time.Duration) {
	d.metrics.ToolCalls.WithLabelValues(tool, outcome).Inc()
	if elapsed > 0 {
		d.metrics.ToolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, errToolPanic):
		return CodePanic
	case errors.Is(err, ErrInvalidArguments):
		return CodeInvalidArguments
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	default:
		return CodeToolError
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorPayload(code, message string) string {
	data, _ := json.Marshal(map[string]errorBody{"error": {Code: code, Message: message}})
	return string(data)
}
