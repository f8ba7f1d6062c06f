// Package gateway turns an inbound customer message into a bounded,
// cacheable, failure-isolated turn against the reasoning engine.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/user/shopline/internal/clock"
	"github.com/user/shopline/internal/metrics"
	"github.com/user/shopline/internal/prompt"
	"github.com/user/shopline/internal/runtime"
	"github.com/user/shopline/internal/types"
	"github.com/user/shopline/pkg/llm"
)

// DefaultTurnTimeout bounds one SendMessage call end to end.
const DefaultTurnTimeout = 3 * time.Minute

// Config holds the gateway tuning knobs. Zero fields take defaults.
type Config struct {
	MaxConnections int
	CacheTTL       time.Duration
	CacheCapacity  int
	Breaker        BreakerConfig
	MaxAttempts    int
	RetryBaseDelay time.Duration
	TurnTimeout    time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConnections: DefaultMaxConnections,
		CacheTTL:       DefaultCacheTTL,
		CacheCapacity:  DefaultCacheCapacity,
		Breaker:        DefaultBreakerConfig(),
		MaxAttempts:    5,
		RetryBaseDelay: time.Second,
		TurnTimeout:    DefaultTurnTimeout,
	}
}

// Context carries per-request signals used for instructions and cache
// policy.
type Context struct {
	Language     string `json:"language,omitempty"`
	CustomerName string `json:"customer_name,omitempty"`
	UserType     string `json:"user_type,omitempty"`
	Platform     string `json:"platform,omitempty"`
}

// Personalized reports whether replies for this context must not be
// shared with other callers.
func (c Context) Personalized() bool {
	return c.CustomerName != "" || c.Platform != ""
}

func (c Context) cacheKey() string {
	return strings.Join([]string{c.Language, c.UserType, c.CustomerName, c.Platform}, "|")
}

// Reply is the outcome of a turn.
type Reply struct {
	Text        string             `json:"text"`
	SideEffects []types.SideEffect `json:"side_effects,omitempty"`
	Cached      bool               `json:"cached"`
}

// Stats is a snapshot of gateway health.
type Stats struct {
	Breaker        BreakerSnapshot `json:"breaker"`
	Cache          CacheStats      `json:"cache"`
	InFlight       int             `json:"in_flight"`
	MaxConnections int             `json:"max_connections"`
}

// InstructionRenderer produces per-turn instructions.
type InstructionRenderer interface {
	Instructions(d prompt.Data) (string, error)
}

// Gateway aggregates the cache, admission controller, circuit breaker and
// retry policy in front of one engine.
type Gateway struct {
	engine       llm.Engine
	runtime      *runtime.Runtime
	cache        *Cache
	breaker      *Breaker
	admission    *Admission
	retry        *RetryPolicy
	instructions InstructionRenderer
	cfg          Config

	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithClock sets the clock used by the cache, breaker and retry waits.
func WithClock(c clock.Clock) Option {
	return func(g *Gateway) { g.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithMetrics sets the collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithInstructions sets the per-turn instruction renderer.
func WithInstructions(r InstructionRenderer) Option {
	return func(g *Gateway) { g.instructions = r }
}

// New creates a Gateway with fresh component instances.
func New(engine llm.Engine, rt *runtime.Runtime, cfg Config, opts ...Option) *Gateway {
	d := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = d.MaxAttempts
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = d.RetryBaseDelay
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = d.TurnTimeout
	}

	g := &Gateway{
		engine:  engine,
		runtime: rt,
		cfg:     cfg,
		clock:   clock.Real{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.metrics == nil {
		g.metrics = metrics.New(nil)
	}
	g.logger = g.logger.With("component", "gateway")

	g.cache = NewCache(cfg.CacheTTL, cfg.CacheCapacity, g.clock, g.metrics)
	g.breaker = NewBreaker(cfg.Breaker, g.clock, g.metrics, g.logger)
	g.admission = NewAdmission(cfg.MaxConnections, g.metrics)
	g.retry = DefaultRetryPolicy()
	g.retry.MaxAttempts = cfg.MaxAttempts
	g.retry.BaseDelay = cfg.RetryBaseDelay
	g.retry.OnRetry = func(kind Kind, attempt int, delay time.Duration, err error) {
		g.metrics.Retries.WithLabelValues(kind.String()).Inc()
		g.logger.Warn("retrying message submission", "kind", kind.String(), "attempt", attempt, "delay", delay, "error", err)
	}
	return g
}

// CreateConversation opens a new engine thread.
func (g *Gateway) CreateConversation(ctx context.Context) (types.ConversationID, error) {
	var id string
	err := g.admission.Do(ctx, func(ctx context.Context) error {
		return g.breaker.Call(ctx, func(ctx context.Context) error {
			var err error
			id, err = g.engine.CreateThread(ctx)
			return err
		})
	})
	if err != nil {
		return "", g.fail("", fmt.Errorf("create conversation: %w", err))
	}
	g.logger.Info("conversation created", "conversation_id", id)
	return types.ConversationID(id), nil
}

// SendMessage runs one turn on the conversation and returns the engine's
// reply. The turn is not bound to the caller's cancellation; it ends on
// completion, error or the internal turn timeout.
func (g *Gateway) SendMessage(ctx context.Context, conversationID types.ConversationID, text string, rc Context) (*Reply, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.cfg.TurnTimeout)
	defer cancel()

	key := CacheKey{ConversationID: string(conversationID), Message: text, Context: rc.cacheKey()}
	if cached, ok := g.cache.Get(key); ok {
		g.metrics.Requests.WithLabelValues("cache_hit").Inc()
		g.logger.Debug("reply served from cache", "conversation_id", conversationID)
		return &Reply{Text: cached, Cached: true}, nil
	}

	slot, err := g.admission.Acquire(ctx)
	if err != nil {
		return nil, g.fail(conversationID, fmt.Errorf("%w: waiting for admission: %w", ErrTimeout, err))
	}
	defer slot.Release()

	start := time.Now()
	var res *runtime.Result
	err = g.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		res, err = g.turn(ctx, string(conversationID), text, rc)
		return err
	})
	if err != nil {
		return nil, g.fail(conversationID, err)
	}

	if !rc.Personalized() && len(res.SideEffects) == 0 {
		g.cache.Put(key, res.Text)
	}
	g.metrics.Requests.WithLabelValues("ok").Inc()
	g.logger.Info("turn completed",
		"conversation_id", conversationID,
		"tool_rounds", res.ToolRounds,
		"side_effects", len(res.SideEffects),
		"duration", time.Since(start),
	)
	return &Reply{Text: res.Text, SideEffects: res.SideEffects}, nil
}

// SubmitWithRetry adds message to the conversation, retrying transient
// failures per the retry policy.
func (g *Gateway) SubmitWithRetry(ctx context.Context, conversationID, message string) error {
	return g.retry.Execute(ctx, g.clock,
		func(ctx context.Context) error {
			return g.engine.AddMessage(ctx, conversationID, message)
		},
		func(ctx context.Context) {
			g.logger.Info("repeated active run conflict, cleaning up", "conversation_id", conversationID)
			if err := g.runtime.Cleanup(ctx, conversationID); err != nil {
				g.logger.Warn("cleanup before retry failed", "conversation_id", conversationID, "error", err)
			}
		},
	)
}

// Stats returns a snapshot of the breaker, cache and admission pool.
func (g *Gateway) Stats() Stats {
	return Stats{
		Breaker:        g.breaker.Snapshot(),
		Cache:          g.cache.Stats(),
		InFlight:       g.admission.InFlight(),
		MaxConnections: g.admission.Max(),
	}
}

// PurgeCache drops expired cache entries and returns how many were removed.
func (g *Gateway) PurgeCache() int {
	return g.cache.Purge()
}

func (g *Gateway) turn(ctx context.Context, threadID, text string, rc Context) (*runtime.Result, error) {
	if err := g.runtime.Cleanup(ctx, threadID); err != nil {
		g.logger.Warn("stale run cleanup incomplete", "conversation_id", threadID, "error", err)
	}
	if err := g.SubmitWithRetry(ctx, threadID, text); err != nil {
		return nil, err
	}

	lang := rc.Language
	if lang == "" {
		lang = "en"
	}
	opts := llm.RunOptions{
		Tools:    g.runtime.Tools(),
		Metadata: map[string]string{"language": lang},
	}
	if g.instructions != nil {
		instructions, err := g.instructions.Instructions(prompt.Data{
			Language:     lang,
			CustomerName: rc.CustomerName,
			UserType:     rc.UserType,
			Platform:     rc.Platform,
		})
		if err != nil {
			g.logger.Warn("render instructions failed", "error", err)
		} else {
			opts.Instructions = instructions
		}
	}

	run, err := g.engine.CreateRun(ctx, threadID, opts)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return g.runtime.Drive(ctx, threadID, run)
}

// fail logs err and maps it to a public error.
func (g *Gateway) fail(conversationID types.ConversationID, err error) error {
	out := surface(err)
	kind := Classify(err)

	var unavailable *UnavailableError
	switch {
	case errors.As(err, &unavailable):
		g.metrics.Requests.WithLabelValues("rejected").Inc()
		g.logger.Warn("circuit open, request rejected", "conversation_id", conversationID, "retry_after", unavailable.RetryAfter)
	case errors.Is(out, ErrQuotaExceeded):
		g.metrics.Requests.WithLabelValues("quota_exceeded").Inc()
		g.logger.Error("engine quota exhausted", "conversation_id", conversationID, "operator_attention", true, "error", err)
	case errors.Is(out, ErrTimeout):
		g.metrics.Requests.WithLabelValues("timeout").Inc()
		g.logger.Error("turn timed out", "conversation_id", conversationID, "kind", kind.String(), "error", err)
	case errors.Is(out, ErrServiceUnavailable):
		g.metrics.Requests.WithLabelValues("unavailable").Inc()
		g.logger.Warn("engine unavailable", "conversation_id", conversationID, "kind", kind.String(), "error", err)
	default:
		g.metrics.Requests.WithLabelValues("error").Inc()
		g.logger.Error("turn failed", "conversation_id", conversationID, "kind", kind.String(), "error", err)
	}
	return out
}
