// Package telegram implements the Telegram channel on the Bot API directly
// over HTTP: long polling with getUpdates and plain-text sendMessage.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jholhewres/clawbot/pkg/clawbot/channels"
)

// DefaultAPIURL is the public Bot API endpoint.
const DefaultAPIURL = "https://api.telegram.org"

// maxMessageLen is Telegram's per-message text limit.
const maxMessageLen = 4096

// Config holds Telegram channel configuration.
type Config struct {
	// Token is the Bot API token from @BotFather.
	Token string

	// AllowedChats restricts which chat ids the bot listens to. Empty means all.
	AllowedChats []string

	// APIURL overrides DefaultAPIURL.
	APIURL string

	// PollTimeout is the getUpdates long-poll timeout. Defaults to 30s.
	PollTimeout time.Duration
}

// Telegram implements channels.Channel.
type Telegram struct {
	cfg     Config
	logger  *slog.Logger
	client  *http.Client
	baseURL string
	allowed map[string]bool

	messages  chan *channels.IncomingMessage
	connected atomic.Bool

	// offset is the last processed update id + 1. Only pollLoop touches it.
	offset int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Telegram channel.
func New(cfg Config, logger *slog.Logger) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	allowed := make(map[string]bool, len(cfg.AllowedChats))
	for _, id := range cfg.AllowedChats {
		if id = strings.TrimSpace(id); id != "" {
			allowed[id] = true
		}
	}
	return &Telegram{
		cfg:      cfg,
		logger:   logger.With("component", "telegram"),
		client:   &http.Client{Timeout: cfg.PollTimeout + 30*time.Second},
		baseURL:  strings.TrimRight(cfg.APIURL, "/") + "/bot" + cfg.Token,
		allowed:  allowed,
		messages: make(chan *channels.IncomingMessage, 256),
	}
}

// Name returns "telegram".
func (t *Telegram) Name() string { return "telegram" }

// Connect verifies the token and starts the polling loop.
func (t *Telegram) Connect(ctx context.Context) error {
	if t.cfg.Token == "" {
		return fmt.Errorf("telegram: bot token is required")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected.Load() {
		return nil
	}

	me, err := t.getMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram: failed to verify token: %w", err)
	}
	t.logger.Info("telegram: connected", "bot", me.Username, "id", me.ID)

	pollCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	t.connected.Store(true)
	go t.pollLoop(pollCtx, t.done)
	return nil
}

// Disconnect stops polling and waits for the loop to exit.
func (t *Telegram) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		<-t.done
		t.cancel = nil
	}
	t.connected.Store(false)
	t.logger.Info("telegram: disconnected")
	return nil
}

// Send posts text to a chat, split at the message size limit.
func (t *Telegram) Send(ctx context.Context, chatID, text string) error {
	if !t.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat ID %q: %w", chatID, err)
	}
	for _, chunk := range channels.SplitMessage(text, maxMessageLen) {
		if _, err := t.apiCall(ctx, "sendMessage", map[string]any{"chat_id": id, "text": chunk}); err != nil {
			return err
		}
	}
	return nil
}

// Receive returns the inbound message stream.
func (t *Telegram) Receive() <-chan *channels.IncomingMessage { return t.messages }

// IsConnected reports whether polling is running.
func (t *Telegram) IsConnected() bool { return t.connected.Load() }

func (t *Telegram) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	t.logger.Info("telegram: polling started")
	backoff := time.Second

	for {
		if ctx.Err() != nil {
			t.logger.Info("telegram: polling stopped")
			return
		}

		updates, err := t.getUpdates(ctx, t.offset)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.logger.Warn("telegram: getUpdates error", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, u := range updates {
			if u.UpdateID >= t.offset {
				t.offset = u.UpdateID + 1
			}
			if msg := t.convert(u); msg != nil {
				select {
				case t.messages <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// convert turns an update into an inbound message, or nil when it carries
// no text or comes from a chat outside the allowlist.
func (t *Telegram) convert(u tgUpdate) *channels.IncomingMessage {
	msg := u.Message
	if msg == nil {
		msg = u.EditedMessage
	}
	if msg == nil || msg.From == nil || msg.From.IsBot {
		return nil
	}
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	if len(t.allowed) > 0 && !t.allowed[chatID] {
		t.logger.Debug("telegram: chat not allowed", "chat_id", chatID)
		return nil
	}

	name := strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
	if name == "" {
		name = msg.From.Username
	}
	return &channels.IncomingMessage{
		ID:        strconv.Itoa(msg.MessageID),
		Channel:   "telegram",
		From:      strconv.FormatInt(msg.From.ID, 10),
		FromName:  name,
		ChatID:    chatID,
		IsGroup:   msg.Chat.Type == "group" || msg.Chat.Type == "supergroup",
		Content:   text,
		Timestamp: time.Unix(msg.Date, 0),
	}
}

// ---------- Bot API types ----------

type tgUpdate struct {
	UpdateID      int64      `json:"update_id"`
	Message       *tgMessage `json:"message"`
	EditedMessage *tgMessage `json:"edited_message"`
}

type tgMessage struct {
	MessageID int     `json:"message_id"`
	From      *tgUser `json:"from"`
	Chat      tgChat  `json:"chat"`
	Date      int64   `json:"date"`
	Text      string  `json:"text"`
	Caption   string  `json:"caption"`
}

type tgUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

type tgChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// ---------- API helpers ----------

// apiCall POSTs a JSON payload to a Bot API method.
func (t *Telegram) apiCall(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("telegram: marshal %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("telegram: creating request for %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("telegram: decoding %s response: %w", method, err)
	}
	if !result.OK {
		return nil, fmt.Errorf("telegram: %s: %s", method, result.Description)
	}
	return result.Result, nil
}

func (t *Telegram) getMe(ctx context.Context) (*tgUser, error) {
	data, err := t.apiCall(ctx, "getMe", nil)
	if err != nil {
		return nil, err
	}
	var me tgUser
	if err := json.Unmarshal(data, &me); err != nil {
		return nil, fmt.Errorf("telegram: parsing getMe: %w", err)
	}
	return &me, nil
}

func (t *Telegram) getUpdates(ctx context.Context, offset int64) ([]tgUpdate, error) {
	data, err := t.apiCall(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"limit":           100,
		"timeout":         int(t.cfg.PollTimeout / time.Second),
		"allowed_updates": []string{"message", "edited_message"},
	})
	if err != nil {
		return nil, err
	}
	var updates []tgUpdate
	if err := json.Unmarshal(data, &updates); err != nil {
		return nil, fmt.Errorf("telegram: parsing updates: %w", err)
	}
	return updates, nil
}

var _ channels.Channel = (*Telegram)(nil)
