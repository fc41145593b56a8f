package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"autopilot/internal/domain"

	"github.com/bwmarrin/discordgo"
)

const (
	discordMaxMsgLen = 2000
)

// Discord implements domain.Channel for Discord, along with the typing,
// presence and identity hooks the engine uses.
type Discord struct {
	token   string
	guildID string
	onReady func(id, name string)
	logger  *slog.Logger

	mu      sync.RWMutex
	session *discordgo.Session
}

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	Token   string
	GuildID string
	// OnReady receives the connected account.
	OnReady func(id, name string)
	Logger  *slog.Logger
}

// NewDiscord creates a new Discord channel handler.
func NewDiscord(cfg DiscordConfig) *Discord {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Discord{
		token:   cfg.Token,
		guildID: cfg.GuildID,
		onReady: cfg.OnReady,
		logger:  cfg.Logger,
	}
}

func (d *Discord) Name() string { return "discord" }

// Start connects to Discord and publishes messages until ctx is cancelled.
func (d *Discord) Start(ctx context.Context, bus domain.MessageBus) error {
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildPresences

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.ID == s.State.User.ID {
			return
		}
		if d.guildID != "" && m.GuildID != "" && m.GuildID != d.guildID {
			return
		}

		d.logger.Debug("discord message received",
			"author", m.Author.Username,
			"channel_id", m.ChannelID,
			"content_len", len(m.Content),
		)
		bus.Publish(discordInbound(m.Message))
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.mu.Lock()
	d.session = session
	d.mu.Unlock()

	self := session.State.User
	d.logger.Info("discord bot connected", "user", self.Username)
	if d.onReady != nil {
		d.onReady(self.ID, self.Username)
	}

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return d.Stop()
}

// Stop closes the gateway connection.
func (d *Discord) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return nil
	}
	err := d.session.Close()
	d.session = nil
	return err
}

func (d *Discord) current() (*discordgo.Session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.session == nil {
		return nil, fmt.Errorf("discord not connected")
	}
	return d.session, nil
}

// Send posts content, split to the platform's message limit.
func (d *Discord) Send(ctx context.Context, channelID string, content string) error {
	s, err := d.current()
	if err != nil {
		return err
	}
	for _, chunk := range splitMessage(content, discordMaxMsgLen) {
		if _, err := s.ChannelMessageSend(channelID, chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}

// Self reports the connected account.
func (d *Discord) Self() (id, name string) {
	s, err := d.current()
	if err != nil || s.State.User == nil {
		return "", ""
	}
	return s.State.User.ID, s.State.User.Username
}

// StartTyping shows the indicator for about ten seconds.
func (d *Discord) StartTyping(ctx context.Context, channelID string) error {
	s, err := d.current()
	if err != nil {
		return err
	}
	return s.ChannelTyping(channelID, discordgo.WithContext(ctx))
}

// StopTyping is a no-op; the indicator clears on the next message.
func (d *Discord) StopTyping(ctx context.Context, channelID string) error { return nil }

// ChannelType classifies a channel from the state cache, falling back to
// the API.
func (d *Discord) ChannelType(ctx context.Context, channelID string) domain.ChannelType {
	s, err := d.current()
	if err != nil {
		return domain.ChannelUnknown
	}
	ch, err := s.State.Channel(channelID)
	if err != nil {
		ch, err = s.Channel(channelID, discordgo.WithContext(ctx))
		if err != nil {
			d.logger.Debug("channel lookup failed", "channel_id", channelID, "err", err)
			return domain.ChannelUnknown
		}
	}
	return discordChannelType(ch.Type)
}

// Presence describes the bot account's current activities.
func (d *Discord) Presence(ctx context.Context) string {
	s, err := d.current()
	if err != nil || s.State.User == nil {
		return ""
	}
	guilds := []string{d.guildID}
	if d.guildID == "" {
		guilds = guilds[:0]
		for _, g := range s.State.Guilds {
			guilds = append(guilds, g.ID)
		}
	}
	for _, gid := range guilds {
		p, err := s.State.Presence(gid, s.State.User.ID)
		if err == nil && p != nil {
			return describeActivities(p.Activities)
		}
	}
	return ""
}

func discordInbound(m *discordgo.Message) domain.InboundMessage {
	msg := domain.InboundMessage{
		Channel:        "discord",
		ConversationID: m.ChannelID,
		Content:        m.Content,
		MessageID:      m.ID,
		Timestamp:      m.Timestamp,
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
		msg.AuthorName = m.Author.Username
		if m.Author.GlobalName != "" {
			msg.AuthorName = m.Author.GlobalName
		}
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	for _, u := range m.Mentions {
		msg.Mentions = append(msg.Mentions, u.ID)
	}
	for _, a := range m.Attachments {
		msg.Attachments = append(msg.Attachments, domain.Attachment{
			URL:         a.URL,
			Filename:    a.Filename,
			ContentType: a.ContentType,
		})
	}
	return msg
}

func discordChannelType(t discordgo.ChannelType) domain.ChannelType {
	switch t {
	case discordgo.ChannelTypeDM:
		return domain.ChannelDM
	case discordgo.ChannelTypeGroupDM:
		return domain.ChannelGroupDM
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
		return domain.ChannelServerText
	default:
		return domain.ChannelUnknown
	}
}

// describeActivities renders "streaming X, playing Y, and listening to Z".
func describeActivities(acts []*discordgo.Activity) string {
	streaming, playing, listening := "nothing", "nothing", "nothing"
	for _, a := range acts {
		if a == nil || a.Name == "" {
			continue
		}
		switch a.Type {
		case discordgo.ActivityTypeStreaming:
			streaming = a.Name
		case discordgo.ActivityTypeGame:
			playing = a.Name
		case discordgo.ActivityTypeListening:
			listening = a.Name
		}
	}
	return fmt.Sprintf("streaming %s, playing %s, and listening to %s", streaming, playing, listening)
}

// splitMessage splits a message into chunks that fit within the max length,
// trying to split on newlines when possible.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}

		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}

		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
