package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jholhewres/clawbot/pkg/clawbot/database"
)

// Timer is a countdown started from chat.
type Timer struct {
	ID        int64
	UserID    string
	Name      string
	Duration  time.Duration
	StartedAt time.Time
	EndsAt    time.Time
	Completed bool
}

// Remaining returns the time left at now, never negative.
func (t Timer) Remaining(now time.Time) time.Duration {
	return max(t.EndsAt.Sub(now), 0)
}

// AddTimer starts a timer and returns it with its id.
func (s *Store) AddTimer(ctx context.Context, userID, name string, d time.Duration) (*Timer, error) {
	if d <= 0 {
		return nil, fmt.Errorf("add timer: duration must be positive")
	}
	now := s.now()
	t := &Timer{UserID: userID, Name: name, Duration: d, StartedAt: now, EndsAt: now.Add(d)}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO timers (user_id, name, duration_seconds, started_at, ends_at)
		VALUES (?, ?, ?, ?, ?)`,
		userID, name, int64(d/time.Second), database.FormatTime(t.StartedAt), database.FormatTime(t.EndsAt))
	if err != nil {
		return nil, fmt.Errorf("add timer: %w", err)
	}
	t.ID = lastID(res)
	return t, nil
}

// ActiveTimers returns the user's timers not yet marked completed, ending
// soonest first. Timers whose end has passed are marked completed as they
// are read and still returned once.
func (s *Store) ActiveTimers(ctx context.Context, userID string) ([]Timer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, duration_seconds, started_at, ends_at
		FROM timers WHERE user_id = ? AND completed = 0
		ORDER BY ends_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query timers: %w", err)
	}
	var out []Timer
	for rows.Next() {
		var (
			t              Timer
			secs           int64
			started, endAt string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &secs, &started, &endAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan timer: %w", err)
		}
		t.Duration = time.Duration(secs) * time.Second
		t.StartedAt = database.ParseTime(started)
		t.EndsAt = database.ParseTime(endAt)
		out = append(out, t)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("query timers: %w", err)
	}

	now := s.now()
	for i := range out {
		if !out[i].EndsAt.After(now) {
			out[i].Completed = true
			if err := s.CompleteTimer(ctx, out[i].ID); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// CompleteTimer marks a timer completed.
func (s *Store) CompleteTimer(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE timers SET completed = 1 WHERE id = ?", id); err != nil {
		return fmt.Errorf("complete timer %d: %w", id, err)
	}
	return nil
}
