package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jholhewres/clawbot/pkg/clawbot/database"
)

// Note is a saved free-text note.
type Note struct {
	ID        int64
	UserID    string
	Title     string
	Content   string
	CreatedAt time.Time
}

// AddNote saves a note and returns its id. An empty title becomes "Untitled".
func (s *Store) AddNote(ctx context.Context, userID, title, content string) (int64, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Untitled"
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO notes (user_id, title, content, created_at) VALUES (?, ?, ?, ?)",
		userID, title, strings.TrimSpace(content), database.FormatTime(s.now()))
	if err != nil {
		return 0, fmt.Errorf("add note: %w", err)
	}
	return lastID(res), nil
}

// Notes returns the user's newest notes, up to limit.
func (s *Store) Notes(ctx context.Context, userID string, limit int) ([]Note, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.queryNotes(ctx, `
		SELECT id, user_id, title, content, created_at FROM notes
		WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit)
}

// SearchNotes returns notes whose title or content contains query.
func (s *Store) SearchNotes(ctx context.Context, userID, query string) ([]Note, error) {
	like := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	return s.queryNotes(ctx, `
		SELECT id, user_id, title, content, created_at FROM notes
		WHERE user_id = ? AND (title LIKE ? ESCAPE '\' OR content LIKE ? ESCAPE '\')
		ORDER BY created_at DESC, id DESC`, userID, like, like)
}

func (s *Store) queryNotes(ctx context.Context, query string, args ...any) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		var n Note
		var created string
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Content, &created); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		n.CreatedAt = database.ParseTime(created)
		out = append(out, n)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
