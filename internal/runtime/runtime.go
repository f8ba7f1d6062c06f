// Package runtime drives engine runs to a terminal state, executing the
// tool calls a run requests along the way.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/shopline/internal/clock"
	"github.com/user/shopline/internal/types"
	"github.com/user/shopline/pkg/llm"
)

var (
	// ErrRunTimeout is returned when a run stays pending past the poll
	// budget of one pending phase.
	ErrRunTimeout = errors.New("run did not finish in time")
	// ErrToolLoop is returned when a run keeps requesting tools past the
	// round limit.
	ErrToolLoop = errors.New("too many tool rounds")
)

// RunFailedError reports a run that ended in failed, cancelled, expired or
// incomplete.
type RunFailedError struct {
	RunID   string
	Status  llm.RunStatus
	Code    string
	Message string
}

func (e *RunFailedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("run %s %s (%s): %s", e.RunID, e.Status, e.Code, e.Message)
	}
	if e.Message != "" {
		return fmt.Sprintf("run %s %s: %s", e.RunID, e.Status, e.Message)
	}
	return fmt.Sprintf("run %s %s", e.RunID, e.Status)
}

// Options bounds the polling and cleanup loops.
type Options struct {
	PollInterval      time.Duration
	MaxPolls          int
	MaxToolRounds     int
	CleanupTimeout    time.Duration
	CleanupBackoff    time.Duration
	CleanupMaxBackoff time.Duration
}

// DefaultOptions returns the production bounds.
func DefaultOptions() Options {
	return Options{
		PollInterval:      time.Second,
		MaxPolls:          60,
		MaxToolRounds:     5,
		CleanupTimeout:    15 * time.Second,
		CleanupBackoff:    250 * time.Millisecond,
		CleanupMaxBackoff: 2 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.MaxPolls <= 0 {
		o.MaxPolls = d.MaxPolls
	}
	if o.MaxToolRounds <= 0 {
		o.MaxToolRounds = d.MaxToolRounds
	}
	if o.CleanupTimeout <= 0 {
		o.CleanupTimeout = d.CleanupTimeout
	}
	if o.CleanupBackoff <= 0 {
		o.CleanupBackoff = d.CleanupBackoff
	}
	if o.CleanupMaxBackoff <= 0 {
		o.CleanupMaxBackoff = d.CleanupMaxBackoff
	}
	return o
}

// Result is the outcome of a completed run.
type Result struct {
	Text        string
	SideEffects []types.SideEffect
	ToolRounds  int
}

// Runtime drives runs on an engine.
type Runtime struct {
	engine     llm.Engine
	dispatcher *Dispatcher
	opts       Options
	clock      clock.Clock
	logger     *slog.Logger
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithClock sets the clock used for polls and cleanup waits.
func WithClock(c clock.Clock) Option {
	return func(rt *Runtime) { rt.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(rt *Runtime) { rt.logger = l }
}

// New creates a Runtime. Zero fields in opts take their defaults.
func New(engine llm.Engine, dispatcher *Dispatcher, opts Options, options ...Option) *Runtime {
	rt := &Runtime{
		engine:     engine,
		dispatcher: dispatcher,
		opts:       opts.withDefaults(),
		clock:      clock.Real{},
		logger:     slog.Default(),
	}
	for _, o := range options {
		o(rt)
	}
	rt.logger = rt.logger.With("component", "runtime")
	return rt
}

// Tools returns the tool definitions to attach to every run.
func (rt *Runtime) Tools() []llm.Tool {
	return rt.dispatcher.registry.AsLLMTools()
}

// Drive advances run until it completes or fails. Pending states are
// polled; requires_action is answered with one batch of tool outputs.
// Each pending phase gets MaxPolls polls of its own, so a run's total
// wait is bounded by MaxPolls * (MaxToolRounds + 1).
func (rt *Runtime) Drive(ctx context.Context, threadID string, run *llm.Run) (*Result, error) {
	res := &Result{}
	polls := 0
	for {
		switch run.Status {
		case llm.RunStatusQueued, llm.RunStatusInProgress, llm.RunStatusCancelling:
			if polls >= rt.opts.MaxPolls {
				rt.cancel(ctx, threadID, run.ID)
				return nil, fmt.Errorf("%w: run %s still %s after %d polls", ErrRunTimeout, run.ID, run.Status, polls)
			}
			if err := rt.clock.Sleep(ctx, rt.opts.PollInterval); err != nil {
				return nil, err
			}
			polls++
			next, err := rt.engine.GetRun(ctx, threadID, run.ID)
			if err != nil {
				return nil, fmt.Errorf("poll run: %w", err)
			}
			run = next

		case llm.RunStatusRequiresAction:
			if res.ToolRounds >= rt.opts.MaxToolRounds {
				rt.cancel(ctx, threadID, run.ID)
				return nil, fmt.Errorf("%w: run %s after %d rounds", ErrToolLoop, run.ID, res.ToolRounds)
			}
			res.ToolRounds++
			rt.logger.Info("dispatching tool calls", "thread_id", threadID, "run_id", run.ID, "calls", len(run.ToolCalls), "round", res.ToolRounds)
			outputs, effects := rt.dispatcher.Dispatch(ctx, run.ToolCalls)
			res.SideEffects = append(res.SideEffects, effects...)
			next, err := rt.engine.SubmitToolOutputs(ctx, threadID, run.ID, outputs)
			if err != nil {
				return nil, fmt.Errorf("submit tool outputs: %w", err)
			}
			run = next
			polls = 0

		case llm.RunStatusCompleted:
			text, err := rt.engine.LatestReply(ctx, threadID)
			if err != nil {
				return nil, fmt.Errorf("fetch reply: %w", err)
			}
			res.Text = text
			return res, nil

		case llm.RunStatusFailed, llm.RunStatusCancelled, llm.RunStatusExpired, llm.RunStatusIncomplete:
			failed := &RunFailedError{RunID: run.ID, Status: run.Status}
			if run.LastError != nil {
				failed.Code = run.LastError.Code
				failed.Message = run.LastError.Message
			}
			return nil, failed

		default:
			return nil, fmt.Errorf("run %s: unknown status %q", run.ID, run.Status)
		}
	}
}

// Cleanup cancels every non-terminal run on the thread and waits, with
// growing pauses, until they are all terminal or the cleanup timeout
// passes.
func (rt *Runtime) Cleanup(ctx context.Context, threadID string) error {
	runs, err := rt.engine.ListRuns(ctx, threadID)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	var active []*llm.Run
	for _, r := range runs {
		if r.Status.Terminal() {
			continue
		}
		active = append(active, r)
		if r.Status == llm.RunStatusCancelling {
			continue
		}
		if err := rt.engine.CancelRun(ctx, threadID, r.ID); err != nil {
			rt.logger.Warn("cancel stale run failed", "thread_id", threadID, "run_id", r.ID, "error", err)
		}
	}
	if len(active) == 0 {
		return nil
	}
	rt.logger.Info("waiting for stale runs", "thread_id", threadID, "runs", len(active))

	deadline := rt.clock.Now().Add(rt.opts.CleanupTimeout)
	wait := rt.opts.CleanupBackoff
	for len(active) > 0 {
		remaining := deadline.Sub(rt.clock.Now())
		if remaining <= 0 {
			return fmt.Errorf("cleanup thread %s: %d runs still active after %s", threadID, len(active), rt.opts.CleanupTimeout)
		}
		if err := rt.clock.Sleep(ctx, min(wait, remaining)); err != nil {
			return err
		}
		wait = min(wait*2, rt.opts.CleanupMaxBackoff)

		still := active[:0]
		for _, r := range active {
			cur, err := rt.engine.GetRun(ctx, threadID, r.ID)
			if err != nil {
				still = append(still, r)
				continue
			}
			if !cur.Status.Terminal() {
				still = append(still, cur)
			}
		}
		active = still
	}
	return nil
}

func (rt *Runtime) cancel(ctx context.Context, threadID, runID string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := rt.engine.CancelRun(cctx, threadID, runID); err != nil {
		rt.logger.Warn("cancel run failed", "thread_id", threadID, "run_id", runID, "error", err)
	}
}
