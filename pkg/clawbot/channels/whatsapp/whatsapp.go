// Package whatsapp implements the WhatsApp channel with whatsmeow, a native
// WhatsApp Web multi-device client. The session lives in its own SQLite file;
// the first run pairs the device through a QR code.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3" // session store driver

	"github.com/jholhewres/clawbot/pkg/clawbot/channels"
)

// maxMessageLen keeps replies readable on phones; WhatsApp itself accepts more.
const maxMessageLen = 4096

// Config holds WhatsApp channel configuration.
type Config struct {
	// SessionPath is the SQLite file holding the paired device.
	SessionPath string

	// OnQR receives each pairing code while the device is unpaired. When nil
	// the code is only logged.
	OnQR func(code string)
}

// WhatsApp implements channels.Channel.
type WhatsApp struct {
	cfg    Config
	logger *slog.Logger

	messages  chan *channels.IncomingMessage
	connected atomic.Bool

	mu        sync.Mutex
	client    *whatsmeow.Client
	container *sqlstore.Container
	cancel    context.CancelFunc
}

// New creates a WhatsApp channel.
func New(cfg Config, logger *slog.Logger) *WhatsApp {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SessionPath == "" {
		cfg.SessionPath = "./data/whatsapp.db"
	}
	return &WhatsApp{
		cfg:      cfg,
		logger:   logger.With("component", "whatsapp"),
		messages: make(chan *channels.IncomingMessage, 256),
	}
}

// Name returns "whatsapp".
func (w *WhatsApp) Name() string { return "whatsapp" }

// Connect opens the session store and connects. An unpaired device starts
// the QR flow in the background and Connect returns immediately.
func (w *WhatsApp) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client != nil {
		return nil
	}

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL", w.cfg.SessionPath),
		waLog.Noop)
	if err != nil {
		return fmt.Errorf("whatsapp: creating session store: %w", err)
	}
	device, err := getDevice(ctx, container)
	if err != nil {
		container.Close()
		return fmt.Errorf("whatsapp: loading device: %w", err)
	}

	store.SetOSInfo("Clawbot", [3]uint32{1, 0, 0})
	client := whatsmeow.NewClient(device, waLog.Noop)
	client.AddEventHandler(w.handleEvent)
	client.EnableAutoReconnect = true

	runCtx, cancel := context.WithCancel(context.Background())
	w.client, w.container, w.cancel = client, container, cancel

	if client.Store.ID == nil {
		w.logger.Info("whatsapp: no session, waiting for QR pairing", "session", w.cfg.SessionPath)
		go func() {
			if err := w.loginWithQR(runCtx); err != nil && runCtx.Err() == nil {
				w.logger.Warn("whatsapp: QR login failed", "error", err)
			}
		}()
		return nil
	}

	if err := client.Connect(); err != nil {
		w.reset()
		return fmt.Errorf("whatsapp: connecting: %w", err)
	}
	w.connected.Store(true)
	w.logger.Info("whatsapp: connected (existing session)", "jid", client.Store.ID.String())
	return nil
}

// Disconnect closes the connection and the session store.
func (w *WhatsApp) Disconnect() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reset()
	w.logger.Info("whatsapp: disconnected")
	return nil
}

// reset tears down client state. Callers hold mu.
func (w *WhatsApp) reset() {
	w.connected.Store(false)
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	if w.client != nil {
		w.client.Disconnect()
		w.client = nil
	}
	if w.container != nil {
		if err := w.container.Close(); err != nil {
			w.logger.Warn("whatsapp: closing session store", "error", err)
		}
		w.container = nil
	}
}

// Send posts text to a JID or bare phone number.
func (w *WhatsApp) Send(ctx context.Context, to, text string) error {
	w.mu.Lock()
	client := w.client
	w.mu.Unlock()
	if client == nil || !w.connected.Load() {
		return channels.ErrChannelDisconnected
	}

	jid, err := parseJID(to)
	if err != nil {
		return fmt.Errorf("whatsapp: invalid recipient %q: %w", to, err)
	}
	for _, chunk := range channels.SplitMessage(text, maxMessageLen) {
		if _, err := client.SendMessage(ctx, jid, textMessage(chunk)); err != nil {
			return fmt.Errorf("whatsapp: sending to %s: %w", jid, err)
		}
	}
	return nil
}

// Receive returns the inbound message stream.
func (w *WhatsApp) Receive() <-chan *channels.IncomingMessage { return w.messages }

// IsConnected reports whether the device is paired and online.
func (w *WhatsApp) IsConnected() bool { return w.connected.Load() }

func getDevice(ctx context.Context, container *sqlstore.Container) (*store.Device, error) {
	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) > 0 {
		return devices[0], nil
	}
	return container.NewDevice(), nil
}

func (w *WhatsApp) loginWithQR(ctx context.Context) error {
	w.mu.Lock()
	client := w.client
	w.mu.Unlock()
	if client == nil {
		return channels.ErrChannelDisconnected
	}

	qrChan, err := client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("getting QR channel: %w", err)
	}
	if err := client.Connect(); err != nil {
		return fmt.Errorf("connecting for QR: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-qrChan:
			if !ok {
				return fmt.Errorf("QR channel closed")
			}
			switch evt.Event {
			case "code":
				w.logger.Info("whatsapp: scan the QR code to link this device", "code", evt.Code)
				if w.cfg.OnQR != nil {
					w.cfg.OnQR(evt.Code)
				}
			case "success":
				w.connected.Store(true)
				w.logger.Info("whatsapp: device linked")
				return nil
			case "timeout":
				return fmt.Errorf("QR code expired")
			default:
				if evt.Error != nil {
					return fmt.Errorf("QR login: %w", evt.Error)
				}
			}
		}
	}
}

func (w *WhatsApp) handleEvent(raw any) {
	switch evt := raw.(type) {
	case *events.Message:
		msg := convert(evt.Info, evt.Message)
		if msg == nil {
			return
		}
		select {
		case w.messages <- msg:
		default:
			w.logger.Warn("whatsapp: message buffer full, dropping message", "msg_id", msg.ID)
		}
	case *events.Connected:
		w.connected.Store(true)
		w.logger.Info("whatsapp: connection established")
	case *events.Disconnected:
		w.connected.Store(false)
		w.logger.Warn("whatsapp: connection lost, reconnecting")
	case *events.LoggedOut:
		w.connected.Store(false)
		w.logger.Error("whatsapp: logged out, delete the session file and pair again",
			"session", w.cfg.SessionPath, "reason", evt.Reason.String())
	}
}

// convert turns a whatsmeow message into an inbound message, or nil when it
// is our own, a status broadcast or carries no text.
func convert(info types.MessageInfo, m *waE2E.Message) *channels.IncomingMessage {
	if info.IsFromMe || info.Chat.Server == types.BroadcastServer {
		return nil
	}
	content := strings.TrimSpace(messageText(m))
	if content == "" {
		return nil
	}
	return &channels.IncomingMessage{
		ID:        string(info.ID),
		Channel:   "whatsapp",
		From:      senderID(info.Sender),
		FromName:  info.PushName,
		ChatID:    info.Chat.ToNonAD().String(),
		IsGroup:   info.IsGroup,
		Content:   content,
		Timestamp: info.Timestamp,
	}
}

func messageText(m *waE2E.Message) string {
	switch {
	case m == nil:
		return ""
	case m.Conversation != nil:
		return m.GetConversation()
	case m.ExtendedTextMessage != nil:
		return m.ExtendedTextMessage.GetText()
	case m.ImageMessage != nil:
		return m.ImageMessage.GetCaption()
	case m.VideoMessage != nil:
		return m.VideoMessage.GetCaption()
	}
	return ""
}

// senderID is the phone number for regular accounts and the full JID for
// anything else (LID, bots), so parseJID can rebuild it.
func senderID(jid types.JID) string {
	jid = jid.ToNonAD()
	if jid.Server == types.DefaultUserServer {
		return jid.User
	}
	return jid.String()
}

func textMessage(text string) *waE2E.Message {
	return &waE2E.Message{Conversation: proto.String(text)}
}

// parseJID accepts a full JID or a phone number in any punctuation.
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("empty JID")
	}
	if strings.Contains(s, "@") {
		return types.ParseJID(s)
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) < 10 {
		return types.JID{}, fmt.Errorf("phone number too short: %s", s)
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}

var _ channels.Channel = (*WhatsApp)(nil)
