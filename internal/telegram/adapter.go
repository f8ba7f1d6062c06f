// Package telegram is the Telegram surface: it relays customer messages to
// the gateway and delivers replies, including product photos.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/semaphore"

	"github.com/user/shopline/internal/gateway"
	"github.com/user/shopline/internal/types"
)

const maxTelegramMessage = 4096

// maxConcurrentUpdates caps updates handled at once. Polling pauses while
// all slots are busy.
const maxConcurrentUpdates = 64

// Sender is the subset of *tgbotapi.BotAPI used for outbound messages.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Chat routes a session's messages to the gateway.
type Chat interface {
	Send(ctx context.Context, key types.SessionKey, text string, rc gateway.Context) (*gateway.Reply, error)
	Reset(ctx context.Context, key types.SessionKey) error
}

// StatsSource reports gateway health for /status.
type StatsSource interface {
	Stats() gateway.Stats
}

// Adapter bridges Telegram to the gateway.
type Adapter struct {
	bot    *tgbotapi.BotAPI
	sender Sender
	chat   Chat
	stats  StatsSource
	slots  *semaphore.Weighted
	logger *slog.Logger
}

// New creates a Telegram adapter connected with token.
func New(token string, chat Chat, stats StatsSource, logger *slog.Logger) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	a := NewWithSender(bot, chat, stats, logger)
	a.bot = bot
	a.logger.Info("telegram bot authorized", "username", bot.Self.UserName)
	return a, nil
}

// NewWithSender creates an adapter that delivers through sender. It cannot
// Start; it handles updates passed to HandleUpdate.
func NewWithSender(sender Sender, chat Chat, stats StatsSource, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		sender: sender,
		chat:   chat,
		stats:  stats,
		slots:  semaphore.NewWeighted(maxConcurrentUpdates),
		logger: logger.With("component", "telegram"),
	}
}

// Start long-polls for updates until ctx is done.
func (a *Adapter) Start(ctx context.Context) {
	if a.bot == nil {
		a.logger.Error("telegram adapter has no bot; not polling")
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	a.serve(ctx, a.bot.GetUpdatesChan(u))
	a.bot.StopReceivingUpdates()
}

// serve handles each update on its own goroutine so one slow turn does not
// block other chats, with at most maxConcurrentUpdates running.
func (a *Adapter) serve(ctx context.Context, updates <-chan tgbotapi.Update) {
	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := a.slots.Acquire(ctx, 1); err != nil {
				return
			}
			go func() {
				defer a.slots.Release(1)
				a.HandleUpdate(ctx, update)
			}()
		case <-ctx.Done():
			return
		}
	}
}

// HandleUpdate processes one update.
func (a *Adapter) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Text == "" || msg.From == nil {
		return
	}
	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}

	chatID := msg.Chat.ID
	rc := requestContext(msg)
	if _, err := a.sender.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		a.logger.Debug("send typing action failed", "error", err)
	}

	reply, err := a.chat.Send(ctx, buildSessionKey(msg.From.ID, chatID), msg.Text, rc)
	if err != nil {
		a.logger.Warn("turn failed", "chat_id", chatID, "error", err)
		a.sendResponse(chatID, gateway.FallbackMessage(err, rc.Language))
		return
	}
	if reply.Text != "" {
		a.sendResponse(chatID, reply.Text)
	}
	for _, effect := range reply.SideEffects {
		a.deliver(chatID, effect)
	}
}

func requestContext(msg *tgbotapi.Message) gateway.Context {
	lang := msg.From.LanguageCode
	if base, _, ok := strings.Cut(lang, "-"); ok {
		lang = base
	}
	return gateway.Context{
		Language:     lang,
		CustomerName: strings.TrimSpace(msg.From.FirstName),
		Platform:     "telegram",
	}
}

var greetings = map[string]string{
	"en": "Hello! I can help you browse our catalog, check stock and place orders. What are you looking for?",
	"es": "¡Hola! Puedo ayudarte a explorar el catálogo, consultar existencias y hacer pedidos. ¿Qué estás buscando?",
}

var newSession = map[string]string{
	"en": "Starting a new conversation.",
	"es": "Empezamos una conversación nueva.",
}

func localized(m map[string]string, lang string) string {
	if s, ok := m[lang]; ok {
		return s
	}
	return m["en"]
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	lang := requestContext(msg).Language

	switch msg.Command() {
	case "start":
		a.sendResponse(chatID, localized(greetings, lang))

	case "new":
		if err := a.chat.Reset(ctx, buildSessionKey(msg.From.ID, chatID)); err != nil {
			a.logger.Error("reset session failed", "chat_id", chatID, "error", err)
			a.sendResponse(chatID, gateway.FallbackMessage(gateway.ErrUnexpected, lang))
			return
		}
		a.sendResponse(chatID, localized(newSession, lang))

	case "status":
		if a.stats == nil {
			a.sendResponse(chatID, "Status unavailable.")
			return
		}
		st := a.stats.Stats()
		a.sendResponse(chatID, fmt.Sprintf("Assistant: %s\nIn flight: %d/%d\nCached replies: %d",
			st.Breaker.State, st.InFlight, st.MaxConnections, st.Cache.Size))

	default:
		a.sendResponse(chatID, "Unknown command. Available: /start, /new, /status")
	}
}

// deliver performs a side effect the reply asked for.
func (a *Adapter) deliver(chatID int64, effect types.SideEffect) {
	switch effect.Type {
	case types.SideEffectSendImage:
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(effect.ImageURL))
		photo.Caption = effect.Caption
		if _, err := a.sender.Send(photo); err != nil {
			a.logger.Warn("send photo failed", "chat_id", chatID, "url", effect.ImageURL, "error", err)
		}
	default:
		a.logger.Warn("unknown side effect", "type", effect.Type)
	}
}

func (a *Adapter) sendResponse(chatID int64, text string) {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := a.sender.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := a.sender.Send(msg); err != nil {
				a.logger.Error("send message failed", "chat_id", chatID, "error", err)
			}
		}
	}
}

// splitMessage cuts text into Telegram-sized parts on rune boundaries.
func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := min(maxTelegramMessage, len(text))
		for end < len(text) && end > 0 && !utf8.RuneStart(text[end]) {
			end--
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}

func buildSessionKey(userID, chatID int64) types.SessionKey {
	return types.NewSessionKey("telegram",
		strconv.FormatInt(userID, 10),
		strconv.FormatInt(chatID, 10),
	)
}
