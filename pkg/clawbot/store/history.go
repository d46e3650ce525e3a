package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jholhewres/clawbot/pkg/clawbot/database"
)

// Exchange is one routed message and the reply it got.
type Exchange struct {
	ID        int64
	Platform  string
	UserID    string
	UserName  string
	Message   string
	Reply     string
	Timestamp time.Time
}

// SaveExchange appends to the chat history.
func (s *Store) SaveExchange(ctx context.Context, ex Exchange) error {
	ts := ex.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_history (platform, user_id, user_name, message, reply, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ex.Platform, ex.UserID, ex.UserName, ex.Message, ex.Reply, database.FormatTime(ts))
	if err != nil {
		return fmt.Errorf("save exchange: %w", err)
	}
	return nil
}

// RecentExchanges returns the user's last limit exchanges, oldest first, so
// they can be replayed as conversation context.
func (s *Store) RecentExchanges(ctx context.Context, userID string, limit int) ([]Exchange, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, platform, user_id, user_name, message, reply, timestamp FROM (
			SELECT * FROM chat_history WHERE user_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Exchange
	for rows.Next() {
		var ex Exchange
		var ts string
		if err := rows.Scan(&ex.ID, &ex.Platform, &ex.UserID, &ex.UserName, &ex.Message, &ex.Reply, &ts); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		ex.Timestamp = database.ParseTime(ts)
		out = append(out, ex)
	}
	return out, rows.Err()
}

// CountExchanges returns the total number of stored exchanges.
func (s *Store) CountExchanges(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chat_history").Scan(&n); err != nil {
		return 0, fmt.Errorf("count history: %w", err)
	}
	return n, nil
}
