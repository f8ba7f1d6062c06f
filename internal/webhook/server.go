// Package webhook is the HTTP surface: conversation and message endpoints,
// health, stats and Prometheus metrics, served with echo.
package webhook

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/user/shopline/internal/gateway"
	"github.com/user/shopline/internal/types"
)

// Gateway is the part of *gateway.Gateway the HTTP surface calls directly.
type Gateway interface {
	CreateConversation(ctx context.Context) (types.ConversationID, error)
	SendMessage(ctx context.Context, conversationID types.ConversationID, text string, rc gateway.Context) (*gateway.Reply, error)
	Stats() gateway.Stats
}

// Sessions routes session-keyed chat traffic.
type Sessions interface {
	Send(ctx context.Context, key types.SessionKey, text string, rc gateway.Context) (*gateway.Reply, error)
	Sessions(ctx context.Context) ([]*types.SessionIndex, error)
}

// Server is the HTTP surface.
type Server struct {
	echo     *echo.Echo
	gw       Gateway
	sessions Sessions
	logger   *slog.Logger
}

// NewServer wires routes. A nil gatherer disables /metrics.
func NewServer(gw Gateway, sessions Sessions, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		echo:     echo.New(),
		gw:       gw,
		sessions: sessions,
		logger:   logger.With("component", "http"),
	}
	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))

	e.GET("/health", s.handleHealth)
	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	e.GET("/v1/stats", s.handleStats)
	e.POST("/v1/conversations", s.handleCreateConversation)
	e.POST("/v1/conversations/:id/messages", s.handleSendMessage)
	e.POST("/v1/chat", s.handleChat)
	e.GET("/v1/sessions", s.handleSessions)
	return s
}

// ServeHTTP delegates to echo, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("http surface listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.gw.Stats())
}

func (s *Server) handleCreateConversation(c echo.Context) error {
	id, err := s.gw.CreateConversation(c.Request().Context())
	if err != nil {
		return s.writeError(c, err, "")
	}
	return c.JSON(http.StatusCreated, map[string]string{"conversation_id": string(id)})
}

// messageRequest is the body of POST /v1/conversations/:id/messages.
type messageRequest struct {
	Message string          `json:"message"`
	Context gateway.Context `json:"context"`
}

// messageResponse is the reply to a message.
type messageResponse struct {
	ConversationID string             `json:"conversation_id,omitempty"`
	Reply          string             `json:"reply"`
	SideEffects    []types.SideEffect `json:"side_effects,omitempty"`
	Cached         bool               `json:"cached"`
}

func (s *Server) handleSendMessage(c echo.Context) error {
	var req messageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Message == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "message is required"})
	}
	id := types.ConversationID(c.Param("id"))

	reply, err := s.gw.SendMessage(c.Request().Context(), id, req.Message, req.Context)
	if err != nil {
		return s.writeError(c, err, req.Context.Language)
	}
	return c.JSON(http.StatusOK, messageResponse{
		ConversationID: string(id),
		Reply:          reply.Text,
		SideEffects:    reply.SideEffects,
		Cached:         reply.Cached,
	})
}

// chatRequest is the body of POST /v1/chat.
type chatRequest struct {
	SessionKey string          `json:"session_key"`
	Message    string          `json:"message"`
	Context    gateway.Context `json:"context"`
}

func (s *Server) handleChat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Message == "" || req.SessionKey == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "message and session_key are required"})
	}

	reply, err := s.sessions.Send(c.Request().Context(), types.NewSessionKey("http", req.SessionKey), req.Message, req.Context)
	if err != nil {
		return s.writeError(c, err, req.Context.Language)
	}
	return c.JSON(http.StatusOK, messageResponse{
		Reply:       reply.Text,
		SideEffects: reply.SideEffects,
		Cached:      reply.Cached,
	})
}

func (s *Server) handleSessions(c echo.Context) error {
	sessions, err := s.sessions.Sessions(c.Request().Context())
	if err != nil {
		s.logger.Error("list sessions failed", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
	if sessions == nil {
		sessions = []*types.SessionIndex{}
	}
	return c.JSON(http.StatusOK, sessions)
}

// errorResponse carries a stable code and a customer-safe message.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeError maps gateway errors to HTTP statuses. Unavailability carries
// Retry-After in whole seconds.
func (s *Server) writeError(c echo.Context, err error, lang string) error {
	resp := errorResponse{Message: gateway.FallbackMessage(err, lang)}
	status := http.StatusInternalServerError

	var unavailable *gateway.UnavailableError
	switch {
	case errors.As(err, &unavailable):
		secs := int(math.Ceil(unavailable.RetryAfter.Seconds()))
		c.Response().Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
		status, resp.Error = http.StatusServiceUnavailable, "service_unavailable"
	case errors.Is(err, gateway.ErrServiceUnavailable):
		status, resp.Error = http.StatusServiceUnavailable, "service_unavailable"
	case errors.Is(err, gateway.ErrQuotaExceeded):
		status, resp.Error = http.StatusServiceUnavailable, "quota_exceeded"
	case errors.Is(err, gateway.ErrTimeout):
		status, resp.Error = http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, gateway.ErrConversationStuck):
		status, resp.Error = http.StatusConflict, "conversation_stuck"
	default:
		resp.Error = "unexpected"
	}
	s.logger.Warn("request failed", "path", c.Path(), "status", status, "error", err)
	return c.JSON(status, resp)
}
