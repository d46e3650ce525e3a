package email

import (
	"errors"
	"fmt"
	"strings"
)

// FormatUnread renders an unread listing.
func FormatUnread(msgs []Message) string {
	if len(msgs) == 0 {
		return "📭 No unread emails."
	}
	return fmt.Sprintf("📧 You have %d unread email(s):\n\n%s", len(msgs), formatList(msgs))
}

// FormatRecent renders a recent-mail listing.
func FormatRecent(msgs []Message) string {
	if len(msgs) == 0 {
		return "📭 No emails found."
	}
	return fmt.Sprintf("📬 Recent %d email(s):\n\n%s", len(msgs), formatList(msgs))
}

// FormatSearch renders search results.
func FormatSearch(query string, msgs []Message) string {
	if len(msgs) == 0 {
		return fmt.Sprintf("No emails found matching '%s'.", query)
	}
	return fmt.Sprintf("🔍 Found %d email(s) matching '%s':\n\n%s", len(msgs), query, formatList(msgs))
}

// FailureMessage turns a fetch error into user-facing text.
func FailureMessage(err error) string {
	if errors.Is(err, ErrNotConfigured) {
		return "📧 Email is not configured. Set GMAIL_EMAIL and GMAIL_APP_PASSWORD (or `clawbot config set-secret gmail_app_password`)."
	}
	msg := err.Error()
	if strings.Contains(strings.ToLower(msg), "login") {
		return "❌ Failed to connect to Gmail: authentication failed. Check the app password and that IMAP is enabled."
	}
	return "❌ Failed to connect to the mailbox. Please try again later."
}

func formatList(msgs []Message) string {
	var b strings.Builder
	for i, m := range msgs {
		fmt.Fprintf(&b, "[%d] ✉️ From: %s\n", i+1, m.From)
		if !m.Date.IsZero() {
			fmt.Fprintf(&b, "    📅 Date: %s\n", m.Date.Format("Mon, 02 Jan 2006 15:04"))
		}
		fmt.Fprintf(&b, "    📝 Subject: %s\n\n", m.Subject)
	}
	return strings.TrimRight(b.String(), "\n")
}
