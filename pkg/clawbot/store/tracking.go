package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jholhewres/clawbot/pkg/clawbot/database"
)

// TrackingEvent is one logged habit or measurement.
type TrackingEvent struct {
	ID        int64
	UserID    string
	Category  string
	EventType string
	Value     *float64
	Unit      string
	Notes     string
	Timestamp time.Time
}

// SleepKind is a sleep event type.
type SleepKind string

const (
	Bedtime SleepKind = "bedtime"
	Wake    SleepKind = "wake"
)

// SleepEvent is a bedtime or wake-up mark.
type SleepEvent struct {
	ID        int64
	UserID    string
	Kind      SleepKind
	Timestamp time.Time
}

// LogTracking records an event. The category is stored lower-cased.
func (s *Store) LogTracking(ctx context.Context, ev TrackingEvent) (int64, error) {
	category := strings.ToLower(strings.TrimSpace(ev.Category))
	if category == "" {
		return 0, fmt.Errorf("log tracking: category is required")
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	var value sql.NullFloat64
	if ev.Value != nil {
		value = sql.NullFloat64{Float64: *ev.Value, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tracking_events (user_id, category, event_type, value, unit, notes, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.UserID, category, ev.EventType, value, ev.Unit, ev.Notes, database.FormatTime(ts))
	if err != nil {
		return 0, fmt.Errorf("log tracking: %w", err)
	}
	return lastID(res), nil
}

// TrackingEvents returns the user's events in category since the given
// time, oldest first.
func (s *Store) TrackingEvents(ctx context.Context, userID, category string, since time.Time) ([]TrackingEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, category, event_type, value, unit, notes, timestamp
		FROM tracking_events
		WHERE user_id = ? AND category = ? AND timestamp >= ?
		ORDER BY timestamp, id`,
		userID, strings.ToLower(strings.TrimSpace(category)), database.FormatTime(since))
	if err != nil {
		return nil, fmt.Errorf("query tracking: %w", err)
	}
	defer rows.Close()

	var out []TrackingEvent
	for rows.Next() {
		var (
			ev    TrackingEvent
			value sql.NullFloat64
			ts    string
		)
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.Category, &ev.EventType, &value, &ev.Unit, &ev.Notes, &ts); err != nil {
			return nil, fmt.Errorf("scan tracking: %w", err)
		}
		if value.Valid {
			v := value.Float64
			ev.Value = &v
		}
		ev.Timestamp = database.ParseTime(ts)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// TrackingCategories lists the categories the user has logged.
func (s *Store) TrackingCategories(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT category FROM tracking_events WHERE user_id = ? ORDER BY category", userID)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// LogSleep records a sleep event at the current time.
func (s *Store) LogSleep(ctx context.Context, userID string, kind SleepKind) (*SleepEvent, error) {
	ev := &SleepEvent{UserID: userID, Kind: kind, Timestamp: s.now()}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO sleep_events (user_id, event_type, timestamp) VALUES (?, ?, ?)",
		userID, string(kind), database.FormatTime(ev.Timestamp))
	if err != nil {
		return nil, fmt.Errorf("log sleep: %w", err)
	}
	ev.ID = lastID(res)
	return ev, nil
}

// SleepEvents returns the user's sleep events since the given time, oldest
// first.
func (s *Store) SleepEvents(ctx context.Context, userID string, since time.Time) ([]SleepEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, event_type, timestamp FROM sleep_events
		WHERE user_id = ? AND timestamp >= ? ORDER BY timestamp, id`,
		userID, database.FormatTime(since))
	if err != nil {
		return nil, fmt.Errorf("query sleep: %w", err)
	}
	defer rows.Close()

	var out []SleepEvent
	for rows.Next() {
		var ev SleepEvent
		var kind, ts string
		if err := rows.Scan(&ev.ID, &ev.UserID, &kind, &ts); err != nil {
			return nil, fmt.Errorf("scan sleep: %w", err)
		}
		ev.Kind = SleepKind(kind)
		ev.Timestamp = database.ParseTime(ts)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// SleepSession is a bedtime followed by a wake-up.
type SleepSession struct {
	Bedtime time.Time
	Wake    time.Time
}

// Duration is the time asleep.
func (s SleepSession) Duration() time.Duration { return s.Wake.Sub(s.Bedtime) }

// Sessions pairs each wake with the latest preceding bedtime. Unpaired
// events are ignored.
func Sessions(events []SleepEvent) []SleepSession {
	var (
		out     []SleepSession
		bedtime *time.Time
	)
	for _, ev := range events {
		switch ev.Kind {
		case Bedtime:
			t := ev.Timestamp
			bedtime = &t
		case Wake:
			if bedtime != nil {
				out = append(out, SleepSession{Bedtime: *bedtime, Wake: ev.Timestamp})
				bedtime = nil
			}
		}
	}
	return out
}
