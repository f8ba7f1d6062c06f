// Package chat routes surface sessions (a Telegram chat, an HTTP client) to
// gateway conversations.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/user/shopline/internal/gateway"
	"github.com/user/shopline/internal/types"
)

// Gateway is the part of *gateway.Gateway a surface talks to.
type Gateway interface {
	CreateConversation(ctx context.Context) (types.ConversationID, error)
	SendMessage(ctx context.Context, conversationID types.ConversationID, text string, rc gateway.Context) (*gateway.Reply, error)
}

// Service resolves session keys to conversations and sends messages on
// them.
type Service struct {
	gw       Gateway
	sessions types.SessionStore
	logger   *slog.Logger
}

// New creates a Service.
func New(gw Gateway, sessions types.SessionStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{gw: gw, sessions: sessions, logger: logger.With("component", "chat")}
}

// Send delivers text on the conversation mapped to key, opening one on
// first contact. A conversation reported as stuck is forgotten so the next
// message starts fresh.
func (s *Service) Send(ctx context.Context, key types.SessionKey, text string, rc gateway.Context) (*gateway.Reply, error) {
	id, err := s.sessions.ResolveOrCreate(ctx, key, s.gw.CreateConversation)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	if err := s.sessions.Touch(ctx, key); err != nil {
		s.logger.Warn("touch session failed", "session_key", key, "error", err)
	}

	if rc.Platform == "" {
		rc.Platform = key.Platform()
	}
	reply, err := s.gw.SendMessage(ctx, id, text, rc)
	if errors.Is(err, gateway.ErrConversationStuck) {
		s.logger.Warn("conversation stuck, resetting session", "session_key", key, "conversation_id", id)
		if rerr := s.sessions.Reset(ctx, key); rerr != nil {
			s.logger.Error("reset stuck session failed", "session_key", key, "error", rerr)
		}
	}
	return reply, err
}

// Reset forgets the conversation mapped to key.
func (s *Service) Reset(ctx context.Context, key types.SessionKey) error {
	if err := s.sessions.Reset(ctx, key); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	s.logger.Info("session reset", "session_key", key)
	return nil
}

// Sessions lists the known sessions.
func (s *Service) Sessions(ctx context.Context) ([]*types.SessionIndex, error) {
	return s.sessions.List(ctx)
}
