// Package email reads the user's IMAP inbox for the email skill and the
// check_email job.
package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// ErrNotConfigured means the address or app password is missing.
var ErrNotConfigured = errors.New("email not configured")

const (
	// DefaultLimit is how many messages a listing shows.
	DefaultLimit = 5

	// MaxLimit caps any requested listing size.
	MaxLimit = 20
)

// Config holds the IMAP account.
type Config struct {
	Address     string
	AppPassword string
	IMAPHost    string // host:port, TLS
	Limit       int
	Timeout     time.Duration
}

// Message is the envelope of one mail.
type Message struct {
	SeqNum  uint32
	From    string
	Subject string
	Date    time.Time
}

// Client talks to one IMAP account. Each call opens its own connection.
type Client struct {
	cfg    Config
	logger *slog.Logger
}

// NewClient creates a client. It does not connect.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.IMAPHost == "" {
		cfg.IMAPHost = "imap.gmail.com:993"
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.Address = strings.TrimSpace(cfg.Address)
	cfg.AppPassword = NormalizeAppPassword(cfg.AppPassword)
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, logger: logger.With("component", "email")}
}

// Configured reports whether credentials are present.
func (c *Client) Configured() bool {
	return c.cfg.Address != "" && c.cfg.AppPassword != ""
}

// Unread returns up to limit unseen messages, newest last.
func (c *Client) Unread(ctx context.Context, limit int) ([]Message, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	return c.fetch(ctx, criteria, limit)
}

// Recent returns the last limit messages of the inbox.
func (c *Client) Recent(ctx context.Context, limit int) ([]Message, error) {
	return c.fetch(ctx, imap.NewSearchCriteria(), limit)
}

// Search returns messages whose subject or sender contains query.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Message, error) {
	subject := imap.NewSearchCriteria()
	subject.Header.Add("Subject", query)
	from := imap.NewSearchCriteria()
	from.Header.Add("From", query)

	criteria := imap.NewSearchCriteria()
	criteria.Or = [][2]*imap.SearchCriteria{{subject, from}}
	return c.fetch(ctx, criteria, limit)
}

// CheckUnread returns the formatted unread summary. It is what the
// check_email job delivers.
func (c *Client) CheckUnread(ctx context.Context) (string, error) {
	msgs, err := c.Unread(ctx, c.cfg.Limit)
	if err != nil {
		return "", err
	}
	return FormatUnread(msgs), nil
}

func (c *Client) fetch(ctx context.Context, criteria *imap.SearchCriteria, limit int) ([]Message, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	limit = clampLimit(limit)

	cl, err := client.DialWithDialerTLS(&net.Dialer{Timeout: c.cfg.Timeout}, c.cfg.IMAPHost, nil)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", c.cfg.IMAPHost, err)
	}
	cl.Timeout = c.cfg.Timeout
	stop := context.AfterFunc(ctx, func() { _ = cl.Terminate() })
	defer stop()
	defer cl.Logout()

	if err := cl.Login(c.cfg.Address, c.cfg.AppPassword); err != nil {
		return nil, fmt.Errorf("imap login: %w", err)
	}
	if _, err := cl.Select("INBOX", true); err != nil {
		return nil, fmt.Errorf("select inbox: %w", err)
	}

	ids, err := cl.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)
	ch := make(chan *imap.Message, len(ids))
	done := make(chan error, 1)
	go func() {
		done <- cl.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope}, ch)
	}()

	var out []Message
	for m := range ch {
		out = append(out, fromIMAP(m))
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}
	c.logger.Debug("fetched messages", "count", len(out))
	return out, nil
}

func fromIMAP(m *imap.Message) Message {
	msg := Message{SeqNum: m.SeqNum, Subject: "No Subject", From: "Unknown"}
	if m.Envelope == nil {
		return msg
	}
	if s := strings.TrimSpace(m.Envelope.Subject); s != "" {
		msg.Subject = s
	}
	msg.Date = m.Envelope.Date
	if len(m.Envelope.From) > 0 {
		a := m.Envelope.From[0]
		addr := a.Address()
		switch {
		case a.PersonalName != "" && addr != "@":
			msg.From = fmt.Sprintf("%s <%s>", a.PersonalName, addr)
		case addr != "@":
			msg.From = addr
		case a.PersonalName != "":
			msg.From = a.PersonalName
		}
	}
	return msg
}

// NormalizeAppPassword strips quotes, whitespace and separators from an app
// password as pasted from the provider's UI.
func NormalizeAppPassword(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		s = s[1 : len(s)-1]
	}
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func clampLimit(n int) int {
	if n <= 0 {
		return DefaultLimit
	}
	if n > MaxLimit {
		return MaxLimit
	}
	return n
}
