package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf16"

	"autopilot/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Telegram implements domain.Channel for a Telegram bot.
type Telegram struct {
	token     string
	allowFrom []int64 // allowed user IDs (empty = allow all)
	onReady   func(id, name string)
	logger    *slog.Logger

	mu        sync.RWMutex
	bot       *tgbotapi.BotAPI
	chatTypes map[string]string
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // user IDs as strings
	OnReady   func(id, name string)
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		onReady:   cfg.OnReady,
		logger:    cfg.Logger,
		chatTypes: make(map[string]string),
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and long-polls for updates.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.mu.Lock()
	t.bot = bot
	t.mu.Unlock()

	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)
	if t.onReady != nil {
		t.onReady(strconv.FormatInt(bot.Self.ID, 10), bot.Self.UserName)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(bus, bot, update)
		}
	}
}

// Stop is a no-op: polling ends when Start's context is cancelled, and
// StopReceivingUpdates panics when called twice.
func (t *Telegram) Stop() error { return nil }

func (t *Telegram) current() (*tgbotapi.BotAPI, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.bot == nil {
		return nil, errors.New("telegram not connected")
	}
	return t.bot, nil
}

func (t *Telegram) handleUpdate(bus domain.MessageBus, bot *tgbotapi.BotAPI, update tgbotapi.Update) {
	m := update.Message
	if m == nil || m.From == nil || m.Chat == nil {
		return
	}
	if !t.isAllowed(m.From.ID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", m.From.ID,
			"username", m.From.UserName,
		)
		return
	}

	msg := telegramInbound(m, bot.Self, func(fileID string) string {
		link, err := bot.GetFileDirectURL(fileID)
		if err != nil {
			t.logger.Warn("telegram file lookup failed", "err", err)
			return ""
		}
		return link
	})
	if strings.TrimSpace(msg.Content) == "" && len(msg.Attachments) == 0 {
		return
	}

	t.mu.Lock()
	t.chatTypes[msg.ConversationID] = m.Chat.Type
	t.mu.Unlock()

	t.logger.Debug("telegram message received",
		"user_id", m.From.ID,
		"chat_id", m.Chat.ID,
		"text_len", len(msg.Content),
	)
	bus.Publish(msg)
}

// telegramInbound converts a message. fileURL resolves photo file ids and
// may be nil.
func telegramInbound(m *tgbotapi.Message, self tgbotapi.User, fileURL func(string) string) domain.InboundMessage {
	text := m.Text
	entities := m.Entities
	if text == "" {
		text = m.Caption
		entities = m.CaptionEntities
	}

	name := m.From.UserName
	if name == "" {
		name = strings.TrimSpace(m.From.FirstName + " " + m.From.LastName)
	}
	msg := domain.InboundMessage{
		Channel:        "telegram",
		ConversationID: strconv.FormatInt(m.Chat.ID, 10),
		AuthorID:       strconv.FormatInt(m.From.ID, 10),
		AuthorName:     name,
		Content:        text,
		MessageID:      strconv.Itoa(m.MessageID),
		Timestamp:      time.Unix(int64(m.Date), 0),
	}

	selfID := strconv.FormatInt(self.ID, 10)
	for _, e := range entities {
		switch e.Type {
		case "text_mention":
			if e.User != nil {
				msg.Mentions = append(msg.Mentions, strconv.FormatInt(e.User.ID, 10))
			}
		case "mention":
			if self.UserName != "" && strings.EqualFold(entityText(text, e), "@"+self.UserName) {
				msg.Mentions = append(msg.Mentions, selfID)
			}
		}
	}
	if r := m.ReplyToMessage; r != nil && r.From != nil && r.From.ID == self.ID {
		msg.Mentions = append(msg.Mentions, selfID)
	}

	if len(m.Photo) > 0 && fileURL != nil {
		largest := m.Photo[len(m.Photo)-1]
		if link := fileURL(largest.FileID); link != "" {
			msg.Attachments = append(msg.Attachments, domain.Attachment{
				URL:         link,
				Filename:    largest.FileID + ".jpg",
				ContentType: "image/jpeg",
			})
		}
	}
	return msg
}

// entityText slices an entity out of text; offsets count UTF-16 units.
func entityText(text string, e tgbotapi.MessageEntity) string {
	units := utf16.Encode([]rune(text))
	if e.Offset < 0 || e.Length < 0 || e.Offset+e.Length > len(units) {
		return ""
	}
	return string(utf16.Decode(units[e.Offset : e.Offset+e.Length]))
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// Send delivers content, split to the platform's limit.
func (t *Telegram) Send(ctx context.Context, chatID string, content string) error {
	bot, err := t.current()
	if err != nil {
		return err
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	for _, chunk := range splitMessage(content, telegramMaxMsgLen) {
		if err := t.sendChunk(ctx, bot, id, chunk); err != nil {
			return err
		}
	}
	return nil
}

// sendChunk sends one chunk, backing off on rate limits and transient errors.
func (t *Telegram) sendChunk(ctx context.Context, bot *tgbotapi.BotAPI, chatID int64, text string) error {
	var lastErr error
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * time.Second
			if strings.Contains(lastErr.Error(), "Too Many Requests") {
				backoff *= 3
			}
			t.logger.Warn("telegram send error, retrying", "err", lastErr, "backoff", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		if _, err := bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("telegram send failed after %d attempts: %w", telegramMaxSendRetries+1, lastErr)
}

// Self reports the bot account.
func (t *Telegram) Self() (id, name string) {
	bot, err := t.current()
	if err != nil {
		return "", ""
	}
	return strconv.FormatInt(bot.Self.ID, 10), bot.Self.UserName
}

// StartTyping sends the typing chat action, which lasts about five seconds.
func (t *Telegram) StartTyping(ctx context.Context, chatID string) error {
	bot, err := t.current()
	if err != nil {
		return err
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	_, err = bot.Request(tgbotapi.NewChatAction(id, tgbotapi.ChatTyping))
	return err
}

// StopTyping is a no-op; the action expires on its own.
func (t *Telegram) StopTyping(ctx context.Context, chatID string) error { return nil }

// ChannelType classifies chats seen so far.
func (t *Telegram) ChannelType(ctx context.Context, chatID string) domain.ChannelType {
	t.mu.RLock()
	kind := t.chatTypes[chatID]
	t.mu.RUnlock()
	return telegramChatType(kind)
}

// Presence is not available to bots.
func (t *Telegram) Presence(ctx context.Context) string { return "" }

func telegramChatType(kind string) domain.ChannelType {
	switch kind {
	case "private":
		return domain.ChannelDM
	case "group":
		return domain.ChannelGroupDM
	case "supergroup", "channel":
		return domain.ChannelServerText
	default:
		return domain.ChannelUnknown
	}
}
