// Package discord implements the Discord channel on a discordgo gateway
// session. Messages from bots and from channels outside the allowlist are
// ignored; replies longer than 2000 characters are split.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/jholhewres/clawbot/pkg/clawbot/channels"
)

// maxMessageLen is Discord's per-message content limit.
const maxMessageLen = 2000

// Config holds Discord channel configuration.
type Config struct {
	// Token is the bot token.
	Token string

	// AllowedChannels restricts which channel ids the bot listens in. Direct
	// messages are always accepted. Empty means all channels.
	AllowedChannels []string
}

// Discord implements channels.Channel and channels.DirectSender.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	allowed map[string]bool

	messages  chan *channels.IncomingMessage
	connected atomic.Bool

	mu      sync.RWMutex
	session *discordgo.Session
}

// New creates a Discord channel.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(cfg.AllowedChannels))
	for _, id := range cfg.AllowedChannels {
		if id = strings.TrimSpace(id); id != "" {
			allowed[id] = true
		}
	}
	return &Discord{
		cfg:      cfg,
		logger:   logger.With("component", "discord"),
		allowed:  allowed,
		messages: make(chan *channels.IncomingMessage, 256),
	}
}

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Connect opens the gateway connection.
func (d *Discord) Connect(_ context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}
	if d.connected.Load() {
		return nil
	}

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	session.AddHandler(d.onMessageCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}

	d.mu.Lock()
	d.session = session
	d.mu.Unlock()
	d.connected.Store(true)

	if user := session.State.User; user != nil {
		d.logger.Info("discord: connected", "bot", user.Username, "id", user.ID)
	}
	return nil
}

// Disconnect closes the gateway connection.
func (d *Discord) Disconnect() error {
	d.mu.Lock()
	session := d.session
	d.session = nil
	d.mu.Unlock()

	d.connected.Store(false)
	if session != nil {
		if err := session.Close(); err != nil {
			return fmt.Errorf("discord: closing session: %w", err)
		}
	}
	d.logger.Info("discord: disconnected")
	return nil
}

// Send posts text to a channel, split at the message size limit.
func (d *Discord) Send(ctx context.Context, channelID, text string) error {
	session := d.current()
	if session == nil {
		return channels.ErrChannelDisconnected
	}
	for _, chunk := range channels.SplitMessage(text, maxMessageLen) {
		if _, err := session.ChannelMessageSend(channelID, chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("discord: send to %s: %w", channelID, err)
		}
	}
	return nil
}

// SendDirect opens (or reuses) the DM channel with a user and posts there.
func (d *Discord) SendDirect(ctx context.Context, userID, text string) error {
	session := d.current()
	if session == nil {
		return channels.ErrChannelDisconnected
	}
	dm, err := session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: open DM with %s: %w", userID, err)
	}
	return d.Send(ctx, dm.ID, text)
}

// Receive returns the inbound message stream.
func (d *Discord) Receive() <-chan *channels.IncomingMessage { return d.messages }

// IsConnected reports whether the gateway is open.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

func (d *Discord) current() *discordgo.Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.session
}

func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	botID := ""
	if s.State != nil && s.State.User != nil {
		botID = s.State.User.ID
	}
	msg := d.convert(botID, m.Message)
	if msg == nil {
		return
	}
	select {
	case d.messages <- msg:
	default:
		d.logger.Warn("discord: message buffer full, dropping message", "msg_id", msg.ID)
	}
}

// convert turns a gateway message into an inbound message, or nil when it
// must be ignored.
func (d *Discord) convert(botID string, m *discordgo.Message) *channels.IncomingMessage {
	if m == nil || m.Author == nil || m.Author.Bot || m.Author.ID == botID {
		return nil
	}
	isGuild := m.GuildID != ""
	if isGuild && len(d.allowed) > 0 && !d.allowed[m.ChannelID] {
		return nil
	}
	content := strings.TrimSpace(m.Content)
	if content == "" {
		return nil
	}
	// Mentions of the bot are addressing, not content.
	if botID != "" {
		content = strings.TrimSpace(strings.NewReplacer("<@"+botID+">", "", "<@!"+botID+">", "").Replace(content))
	}

	return &channels.IncomingMessage{
		ID:        m.ID,
		Channel:   "discord",
		From:      m.Author.ID,
		FromName:  m.Author.Username,
		ChatID:    m.ChannelID,
		IsGroup:   isGuild,
		Content:   content,
		Timestamp: m.Timestamp,
	}
}

var (
	_ channels.Channel      = (*Discord)(nil)
	_ channels.DirectSender = (*Discord)(nil)
)
