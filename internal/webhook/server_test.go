package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/shopline/internal/gateway"
	"github.com/user/shopline/internal/metrics"
	"github.com/user/shopline/internal/types"
)

type mockGateway struct {
	lastID      types.ConversationID
	lastText    string
	lastContext gateway.Context
	reply       *gateway.Reply
	err         error
}

func (m *mockGateway) CreateConversation(context.Context) (types.ConversationID, error) {
	if m.err != nil {
		return "", m.err
	}
	return "thread_new", nil
}

func (m *mockGateway) SendMessage(_ context.Context, id types.ConversationID, text string, rc gateway.Context) (*gateway.Reply, error) {
	m.lastID, m.lastText, m.lastContext = id, text, rc
	return m.reply, m.err
}

func (m *mockGateway) Stats() gateway.Stats {
	return gateway.Stats{Breaker: gateway.BreakerSnapshot{State: "CLOSED"}, MaxConnections: 50}
}

type mockSessions struct {
	lastKey types.SessionKey
	reply   *gateway.Reply
	err     error
}

func (m *mockSessions) Send(_ context.Context, key types.SessionKey, _ string, _ gateway.Context) (*gateway.Reply, error) {
	m.lastKey = key
	return m.reply, m.err
}

func (m *mockSessions) Sessions(context.Context) ([]*types.SessionIndex, error) {
	return []*types.SessionIndex{{SessionKey: "http:a", ConversationID: "thread_a"}}, nil
}

func do(t *testing.T, srv http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv := NewServer(&mockGateway{}, &mockSessions{}, nil, nil)
	w := do(t, srv, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestCreateConversation(t *testing.T) {
	srv := NewServer(&mockGateway{}, &mockSessions{}, nil, nil)
	w := do(t, srv, http.MethodPost, "/v1/conversations", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"conversation_id":"thread_new"`)
}

func TestSendMessage(t *testing.T) {
	gw := &mockGateway{reply: &gateway.Reply{
		Text:        "Here it is",
		SideEffects: []types.SideEffect{{Type: types.SideEffectSendImage, ImageURL: "https://img/1.jpg"}},
	}}
	srv := NewServer(gw, &mockSessions{}, nil, nil)

	body := `{"message":"show me the mug","context":{"language":"es","customer_name":"Ana"}}`
	w := do(t, srv, http.MethodPost, "/v1/conversations/thread_1/messages", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, types.ConversationID("thread_1"), gw.lastID)
	assert.Equal(t, "show me the mug", gw.lastText)
	assert.Equal(t, "es", gw.lastContext.Language)
	assert.Equal(t, "Ana", gw.lastContext.CustomerName)

	var resp messageResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "Here it is", resp.Reply)
	assert.Len(t, resp.SideEffects, 1)
}

func TestSendMessageValidation(t *testing.T) {
	srv := NewServer(&mockGateway{}, &mockSessions{}, nil, nil)
	for _, body := range []string{`{"message":""}`, `{not json`} {
		w := do(t, srv, http.MethodPost, "/v1/conversations/thread_1/messages", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     int
		code       string
		retryAfter string
	}{
		{"breaker open", &gateway.UnavailableError{RetryAfter: 12500 * time.Millisecond}, http.StatusServiceUnavailable, "service_unavailable", "13"},
		{"rate limited", fmt.Errorf("%w: 429", gateway.ErrServiceUnavailable), http.StatusServiceUnavailable, "service_unavailable", ""},
		{"quota", fmt.Errorf("%w: insufficient_quota", gateway.ErrQuotaExceeded), http.StatusServiceUnavailable, "quota_exceeded", ""},
		{"timeout", gateway.ErrTimeout, http.StatusGatewayTimeout, "timeout", ""},
		{"stuck", gateway.ErrConversationStuck, http.StatusConflict, "conversation_stuck", ""},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "unexpected", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(&mockGateway{err: tt.err}, &mockSessions{}, nil, nil)
			w := do(t, srv, http.MethodPost, "/v1/conversations/thread_1/messages", `{"message":"hi","context":{"language":"es"}}`)
			require.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.retryAfter, w.Header().Get("Retry-After"))
			var resp errorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, tt.code, resp.Error)
			assert.Equal(t, gateway.FallbackMessage(tt.err, "es"), resp.Message)
		})
	}
}

func TestChatUsesHTTPSessionKey(t *testing.T) {
	sessions := &mockSessions{reply: &gateway.Reply{Text: "hola", Cached: true}}
	srv := NewServer(&mockGateway{}, sessions, nil, nil)

	w := do(t, srv, http.MethodPost, "/v1/chat", `{"session_key":"visitor-7","message":"hola"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, types.SessionKey("http:visitor-7"), sessions.lastKey)
	assert.Contains(t, w.Body.String(), `"cached":true`)

	w = do(t, srv, http.MethodPost, "/v1/chat", `{"message":"hola"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "session_key is required")
}

func TestStatsAndSessions(t *testing.T) {
	srv := NewServer(&mockGateway{}, &mockSessions{}, nil, nil)

	w := do(t, srv, http.MethodGet, "/v1/stats", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"CLOSED"`)

	w = do(t, srv, http.MethodGet, "/v1/sessions", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"conversation_id":"thread_a"`)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Requests.WithLabelValues("ok").Inc()

	srv := NewServer(&mockGateway{}, &mockSessions{}, reg, nil)
	w := do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `shopline_gateway_requests_total{outcome="ok"} 1`)

	srv = NewServer(&mockGateway{}, &mockSessions{}, nil, nil)
	w = do(t, srv, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, w.Code, "no gatherer")
}
