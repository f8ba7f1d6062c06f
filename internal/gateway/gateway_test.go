package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/shopline/internal/clock"
	"github.com/user/shopline/internal/prompt"
	"github.com/user/shopline/internal/runtime"
	"github.com/user/shopline/internal/runtime/tools"
	"github.com/user/shopline/internal/types"
	"github.com/user/shopline/pkg/llm"
	"github.com/user/shopline/pkg/llm/llmtest"
)

// stockCommerce answers availability from a fixed table and nothing else.
type stockCommerce struct {
	stock   map[int64]int
	queried []int64
}

func (s *stockCommerce) GetAvailability(_ context.Context, id int64) (*types.Availability, error) {
	s.queried = append(s.queried, id)
	n, ok := s.stock[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return &types.Availability{ProductID: id, Stock: n, Available: n > 0}, nil
}

func (s *stockCommerce) LookupProduct(context.Context, int64) (*types.Product, error) {
	return nil, types.ErrNotFound
}
func (s *stockCommerce) SearchProducts(context.Context, string, types.SearchFilters) ([]*types.Product, error) {
	return nil, nil
}
func (s *stockCommerce) GetVariants(context.Context, int64) ([]*types.Variant, error) {
	return nil, types.ErrNotFound
}
func (s *stockCommerce) CreateOrder(context.Context, types.CustomerID, []types.OrderItem, types.OrderData) (*types.Order, error) {
	return nil, types.ErrNotFound
}
func (s *stockCommerce) UpsertCustomer(context.Context, string, string, types.CustomerProfile) (*types.Customer, error) {
	return nil, types.ErrNotFound
}
func (s *stockCommerce) FindProductImage(_ context.Context, name string, _ int64) (*types.ProductImage, error) {
	return &types.ProductImage{ProductID: 1, Name: name, URL: "https://cdn.example/" + name + ".jpg"}, nil
}

func newTestGateway(t *testing.T, engine llm.Engine, commerce types.Commerce, opts ...Option) (*Gateway, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(epoch)
	registry := runtime.NewRegistry(tools.Commerce(commerce)...)
	rt := runtime.New(engine, runtime.NewDispatcher(registry), runtime.Options{}, runtime.WithClock(fake))
	g := New(engine, rt, DefaultConfig(), append([]Option{WithClock(fake)}, opts...)...)
	return g, fake
}

func TestSendMessageCachesReply(t *testing.T) {
	engine := &llmtest.Engine{Reply: "Yes, 18.99."}
	g, _ := newTestGateway(t, engine, &stockCommerce{})
	ctx := context.Background()

	first, err := g.SendMessage(ctx, "thread_c", "Do you have green tea?", Context{Language: "en"})
	require.NoError(t, err)
	assert.Equal(t, "Yes, 18.99.", first.Text)
	assert.False(t, first.Cached)
	outbound := engine.TotalCalls()

	second, err := g.SendMessage(ctx, "thread_c", "Do you have green tea?", Context{Language: "en"})
	require.NoError(t, err)
	assert.Equal(t, "Yes, 18.99.", second.Text)
	assert.True(t, second.Cached)
	assert.Equal(t, outbound, engine.TotalCalls(), "cached reply must not contact the engine")
	assert.Equal(t, 1, engine.Calls("AddMessage"))
}

func TestSendMessagePersonalizedNotCached(t *testing.T) {
	engine := &llmtest.Engine{Reply: "Hi Ana!"}
	g, _ := newTestGateway(t, engine, &stockCommerce{})
	rc := Context{Language: "es", CustomerName: "Ana"}

	_, err := g.SendMessage(context.Background(), "thread_c", "hola", rc)
	require.NoError(t, err)
	reply, err := g.SendMessage(context.Background(), "thread_c", "hola", rc)
	require.NoError(t, err)
	assert.False(t, reply.Cached)
	assert.Equal(t, 2, engine.Calls("AddMessage"))
	assert.Equal(t, 0, g.Stats().Cache.Size)
}

func TestSendMessageBreakerOpensAndRecovers(t *testing.T) {
	var healthy atomic.Bool
	engine := &llmtest.Engine{
		Reply: "back online",
		CreateRunFunc: func(_ context.Context, threadID string, _ llm.RunOptions) (*llm.Run, error) {
			if !healthy.Load() {
				return nil, &llm.APIError{StatusCode: 500, Code: "server_error", Message: "The server had an error"}
			}
			return &llm.Run{ID: "run_ok", ThreadID: threadID, Status: llm.RunStatusCompleted}, nil
		},
	}
	g, fake := newTestGateway(t, engine, &stockCommerce{})
	ctx := context.Background()

	// Server faults open the breaker at their threshold of two.
	for i := 0; i < 2; i++ {
		_, err := g.SendMessage(ctx, "thread_c", "hello", Context{})
		require.ErrorIs(t, err, ErrUnexpected)
	}
	assert.Equal(t, StateOpen, g.breaker.State())

	before := engine.TotalCalls()
	for i := 0; i < 2; i++ {
		_, err := g.SendMessage(ctx, "thread_c", "hello", Context{})
		require.ErrorIs(t, err, ErrServiceUnavailable)
		var unavailable *UnavailableError
		require.ErrorAs(t, err, &unavailable)
		assert.Equal(t, 30*time.Second, unavailable.RetryAfter)
	}
	assert.Equal(t, before, engine.TotalCalls(), "open breaker must not contact the engine")

	healthy.Store(true)
	fake.Advance(30 * time.Second)
	reply, err := g.SendMessage(ctx, "thread_c", "hello again", Context{})
	require.NoError(t, err)
	assert.Equal(t, "back online", reply.Text)
	assert.Equal(t, StateHalfOpen, g.breaker.State())

	_, err = g.SendMessage(ctx, "thread_c", "one more", Context{})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, g.breaker.State())
	assert.Equal(t, 0, g.Stats().Breaker.Failures)
}

func TestSendMessageToolRound(t *testing.T) {
	commerce := &stockCommerce{stock: map[int64]int{42: 0}}
	engine := &llmtest.Engine{
		Reply: "Sorry, that tea is sold out right now.",
		CreateRunFunc: func(_ context.Context, threadID string, _ llm.RunOptions) (*llm.Run, error) {
			return &llm.Run{
				ID:       "run_1",
				ThreadID: threadID,
				Status:   llm.RunStatusRequiresAction,
				ToolCalls: []llm.ToolCall{{
					ID:        "call_1",
					Name:      "check_availability",
					Arguments: json.RawMessage(`{"product_id":42}`),
				}},
			}, nil
		},
		GetRunFunc: llmtest.Sequence(
			&llm.Run{Status: llm.RunStatusInProgress},
			&llm.Run{Status: llm.RunStatusCompleted},
		),
	}
	g, _ := newTestGateway(t, engine, commerce)

	reply, err := g.SendMessage(context.Background(), "thread_c", "Is product 42 available?", Context{})
	require.NoError(t, err)
	assert.Equal(t, "Sorry, that tea is sold out right now.", reply.Text)
	assert.Equal(t, []int64{42}, commerce.queried)

	batches := engine.Submitted()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	assert.Equal(t, "call_1", batches[0][0].ToolCallID)

	var out types.Availability
	require.NoError(t, json.Unmarshal([]byte(batches[0][0].Output), &out))
	assert.Equal(t, int64(42), out.ProductID)
	assert.Equal(t, 0, out.Stock)
	assert.NotContains(t, reply.Text, `"stock"`)
}

func TestSendMessageSideEffectsNotCached(t *testing.T) {
	engine := &llmtest.Engine{
		Reply: "Here it is!",
		CreateRunFunc: func(_ context.Context, threadID string, _ llm.RunOptions) (*llm.Run, error) {
			return &llm.Run{
				ID:        "run_1",
				ThreadID:  threadID,
				Status:    llm.RunStatusRequiresAction,
				ToolCalls: []llm.ToolCall{{ID: "c1", Name: "find_product_image", Arguments: json.RawMessage(`{"product_name":"matcha"}`)}},
			}, nil
		},
		SubmitToolOutputsFunc: func(_ context.Context, threadID, runID string, _ []llm.ToolOutput) (*llm.Run, error) {
			return &llm.Run{ID: runID, ThreadID: threadID, Status: llm.RunStatusCompleted}, nil
		},
	}
	g, _ := newTestGateway(t, engine, &stockCommerce{})

	reply, err := g.SendMessage(context.Background(), "thread_c", "show me matcha", Context{})
	require.NoError(t, err)
	require.Len(t, reply.SideEffects, 1)
	assert.Equal(t, types.SideEffectSendImage, reply.SideEffects[0].Type)
	assert.Equal(t, "https://cdn.example/matcha.jpg", reply.SideEffects[0].ImageURL)
	assert.Equal(t, 0, g.Stats().Cache.Size)
}

func TestSendMessageQuotaIsFatal(t *testing.T) {
	engine := &llmtest.Engine{
		AddMessageFunc: func(context.Context, string, string) error {
			return &llm.APIError{StatusCode: 429, Code: "insufficient_quota", Message: "You exceeded your current quota"}
		},
	}
	g, fake := newTestGateway(t, engine, &stockCommerce{})

	_, err := g.SendMessage(context.Background(), "thread_c", "hi", Context{})
	require.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, 1, engine.Calls("AddMessage"))
	assert.Empty(t, fake.Sleeps())
	assert.Equal(t, 0, engine.Calls("CreateRun"))
}

func TestSendMessageQuotaAfterServerFaults(t *testing.T) {
	var attempts atomic.Int32
	engine := &llmtest.Engine{
		AddMessageFunc: func(context.Context, string, string) error {
			if attempts.Add(1) < 5 {
				return &llm.APIError{StatusCode: 500, Message: "internal"}
			}
			return &llm.APIError{StatusCode: 429, Code: "insufficient_quota", Message: "You exceeded your current quota"}
		},
	}
	g, _ := newTestGateway(t, engine, &stockCommerce{})

	_, err := g.SendMessage(context.Background(), "thread_c", "hi", Context{})
	require.ErrorIs(t, err, ErrQuotaExceeded)
	assert.NotErrorIs(t, err, ErrConversationStuck)
	assert.NotErrorIs(t, err, ErrUnexpected)
	assert.Equal(t, int32(5), attempts.Load())
	assert.NotContains(t, FallbackMessage(err, "en"), "/new")
}

func TestSendMessageRetriesSubmission(t *testing.T) {
	var attempts atomic.Int32
	engine := &llmtest.Engine{
		Reply: "ok",
		AddMessageFunc: func(context.Context, string, string) error {
			if attempts.Add(1) < 3 {
				return &llm.APIError{StatusCode: 503, Message: "overloaded"}
			}
			return nil
		},
	}
	g, fake := newTestGateway(t, engine, &stockCommerce{})

	reply, err := g.SendMessage(context.Background(), "thread_c", "hi", Context{})
	require.NoError(t, err)
	assert.Equal(t, "ok", reply.Text)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, []time.Duration{1800 * time.Millisecond, 3240 * time.Millisecond}, fake.Sleeps())
	assert.Equal(t, StateClosed, g.breaker.State())
}

func TestSendMessageStuckConversation(t *testing.T) {
	engine := &llmtest.Engine{
		AddMessageFunc: func(context.Context, string, string) error {
			return &llm.APIError{StatusCode: 400, Message: "Can't add messages to thread_c while a run run_9 is active."}
		},
	}
	g, _ := newTestGateway(t, engine, &stockCommerce{})

	_, err := g.SendMessage(context.Background(), "thread_c", "hi", Context{})
	require.ErrorIs(t, err, ErrConversationStuck)
	assert.ErrorIs(t, err, ErrUnexpected)
	assert.Equal(t, 5, engine.Calls("AddMessage"))
	// One cleanup before the turn, then one per retry from the second conflict on.
	assert.Equal(t, 1+3, engine.Calls("ListRuns"))
	assert.Contains(t, FallbackMessage(err, "en"), "/new")
}

func TestSendMessageIgnoresCallerCancellation(t *testing.T) {
	engine := &llmtest.Engine{Reply: "still here"}
	g, _ := newTestGateway(t, engine, &stockCommerce{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reply, err := g.SendMessage(ctx, "thread_c", "hi", Context{})
	require.NoError(t, err)
	assert.Equal(t, "still here", reply.Text)
}

func TestSendMessagePassesRunOptions(t *testing.T) {
	renderer, err := prompt.NewWithTokenizer(nil, 0, prompt.DefaultInstructions)
	require.NoError(t, err)
	engine := &llmtest.Engine{Reply: "hola"}
	g, _ := newTestGateway(t, engine, &stockCommerce{}, WithInstructions(renderer))

	_, err = g.SendMessage(context.Background(), "thread_c", "hola", Context{Language: "es", Platform: "telegram"})
	require.NoError(t, err)

	opts := engine.LastRunOptions()
	assert.Equal(t, "es", opts.Metadata["language"])
	assert.Contains(t, opts.Instructions, "Always reply in Spanish")
	assert.Len(t, opts.Tools, 7)
	names := make([]string, len(opts.Tools))
	for i, tool := range opts.Tools {
		names[i] = tool.Function.Name
	}
	assert.Contains(t, strings.Join(names, ","), "check_availability")
}

func TestCreateConversation(t *testing.T) {
	engine := &llmtest.Engine{}
	g, _ := newTestGateway(t, engine, &stockCommerce{})

	id, err := g.CreateConversation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.ConversationID("thread_1"), id)
	assert.Equal(t, 0, g.Stats().InFlight)
}

func TestCreateConversationFailure(t *testing.T) {
	engine := &llmtest.Engine{
		CreateThreadFunc: func(context.Context) (string, error) {
			return "", &llm.APIError{StatusCode: 429, Message: "Rate limit reached"}
		},
	}
	g, _ := newTestGateway(t, engine, &stockCommerce{})

	_, err := g.CreateConversation(context.Background())
	require.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, StateOpen, g.breaker.State(), "rate limits open the breaker immediately")

	_, err = g.CreateConversation(context.Background())
	var unavailable *UnavailableError
	assert.True(t, errors.As(err, &unavailable))
}

func TestPurgeCache(t *testing.T) {
	engine := &llmtest.Engine{Reply: "x"}
	g, fake := newTestGateway(t, engine, &stockCommerce{})

	_, err := g.SendMessage(context.Background(), "thread_c", "hi", Context{})
	require.NoError(t, err)
	assert.Equal(t, 0, g.PurgeCache())

	fake.Advance(DefaultCacheTTL + time.Second)
	assert.Equal(t, 1, g.PurgeCache())
	assert.Equal(t, 0, g.Stats().Cache.Size)
}
