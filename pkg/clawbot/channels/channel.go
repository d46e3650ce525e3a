// Package channels defines the chat transports the assistant talks through.
// Each transport (Telegram, Discord, WhatsApp, the local CLI) implements
// Channel; the Manager aggregates their inbound messages and delivers
// replies and scheduled notifications.
package channels

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Channel is one chat transport.
type Channel interface {
	// Name returns the channel identifier (e.g. "telegram").
	Name() string

	// Connect establishes the connection and starts receiving.
	Connect(ctx context.Context) error

	// Disconnect stops receiving and closes the connection.
	Disconnect() error

	// Send delivers text to a chat on this channel.
	Send(ctx context.Context, chatID, text string) error

	// Receive returns the stream of inbound messages.
	Receive() <-chan *IncomingMessage

	// IsConnected reports whether the channel is connected.
	IsConnected() bool
}

// DirectSender is implemented by channels where a user id is not a chat id
// (Discord users need a DM channel opened first).
type DirectSender interface {
	SendDirect(ctx context.Context, userID, text string) error
}

// IncomingMessage is a text message received from any channel.
type IncomingMessage struct {
	// ID is the message identifier in the source channel.
	ID string

	// Channel is the source channel name.
	Channel string

	// From is the sender identifier on the platform.
	From string

	// FromName is the sender display name, possibly empty.
	FromName string

	// ChatID is where replies go (group, channel or DM).
	ChatID string

	IsGroup   bool
	Content   string
	Timestamp time.Time
}

// UserID returns the stable "<channel>:<sender>" identity.
func (m *IncomingMessage) UserID() string {
	return m.Channel + ":" + m.From
}

// Errors.
var (
	ErrChannelDisconnected = errors.New("channel is not connected")
	ErrUnknownChannel      = errors.New("unknown channel")
	ErrInvalidRecipient    = errors.New("invalid recipient")
)

// SplitRecipient splits "<channel>:<id>" into its parts.
func SplitRecipient(userID string) (channel, id string, err error) {
	channel, id, ok := strings.Cut(userID, ":")
	if !ok || channel == "" || id == "" {
		return "", "", ErrInvalidRecipient
	}
	return channel, id, nil
}

// SplitMessage cuts text into chunks of at most maxLen bytes, preferring
// newline boundaries and never splitting a UTF-8 sequence.
func SplitMessage(text string, maxLen int) []string {
	if maxLen <= 0 || len(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > maxLen {
		cut := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		} else {
			for cut > 0 && !isRuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				cut = maxLen
			}
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
