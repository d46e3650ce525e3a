// Package patterns stores the per-user utterance → intent associations the
// router learns from successful interactions.
//
// Confidence starts at 0.5 on the first observation and grows by 0.1 with
// every recurrence of the same (user, type, input) key, capped at 1.0. The
// increment is a single SQL upsert so concurrent recorders never lose updates.
package patterns

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jholhewres/clawbot/pkg/clawbot/database"
)

const (
	// InitialConfidence is assigned on the first observation of a key.
	InitialConfidence = 0.5

	// ConfidenceStep is added on every recurrence.
	ConfidenceStep = 0.1

	// MaxConfidence caps the score.
	MaxConfidence = 1.0
)

// Repository is the storage contract the router and the /learned commands
// depend on. Store and MemoryStore implement it.
type Repository interface {
	Record(ctx context.Context, userID, patternType, input, intent string) error
	Lookup(ctx context.Context, userID string, patternTypes ...string) ([]Pattern, error)
	Delete(ctx context.Context, userID string, id int64) (bool, error)
	Clear(ctx context.Context, userID string) (int64, error)
}

var (
	_ Repository = (*Store)(nil)
	_ Repository = (*MemoryStore)(nil)
)

// Pattern is one learned association.
type Pattern struct {
	ID             int64
	UserID         string
	PatternType    string
	UserInput      string
	DetectedIntent string
	Confidence     float64
	SuccessCount   int
	CreatedAt      time.Time
	LastUsedAt     time.Time
}

// Store is the SQLite-backed pattern store.
type Store struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

// NewStore creates a store over an opened database.
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, now: time.Now, logger: logger.With("component", "patterns")}
}

// Record upserts the (user, type, input) key. The intent is refreshed to the
// latest observation.
func (s *Store) Record(ctx context.Context, userID, patternType, input, intent string) error {
	input = Normalize(input)
	if userID == "" || patternType == "" || input == "" {
		return fmt.Errorf("record pattern: user, type and input are required")
	}

	now := database.FormatTime(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO learned_patterns
			(user_id, pattern_type, user_input, detected_intent, confidence, success_count, created_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(user_id, pattern_type, user_input) DO UPDATE SET
			confidence      = MIN(?, ROUND(learned_patterns.confidence + ?, 2)),
			success_count   = learned_patterns.success_count + 1,
			detected_intent = excluded.detected_intent,
			last_used_at    = excluded.last_used_at`,
		userID, patternType, input, intent, InitialConfidence, now, now,
		MaxConfidence, ConfidenceStep,
	)
	if err != nil {
		return fmt.Errorf("record pattern: %w", err)
	}
	return nil
}

// Lookup returns the user's patterns of the given types (all types when none
// are given), highest confidence first, most recently used first on ties.
func (s *Store) Lookup(ctx context.Context, userID string, patternTypes ...string) ([]Pattern, error) {
	query := `
		SELECT id, user_id, pattern_type, user_input, detected_intent, confidence, success_count, created_at, last_used_at
		FROM learned_patterns
		WHERE user_id = ?`
	args := []any{userID}
	if len(patternTypes) > 0 {
		query += " AND pattern_type IN (?" + strings.Repeat(", ?", len(patternTypes)-1) + ")"
		for _, t := range patternTypes {
			args = append(args, t)
		}
	}
	query += " ORDER BY confidence DESC, last_used_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup patterns: %w", err)
	}
	defer rows.Close()

	var out []Pattern
	for rows.Next() {
		var p Pattern
		var created, lastUsed string
		if err := rows.Scan(&p.ID, &p.UserID, &p.PatternType, &p.UserInput, &p.DetectedIntent,
			&p.Confidence, &p.SuccessCount, &created, &lastUsed); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		p.CreatedAt = database.ParseTime(created)
		p.LastUsedAt = database.ParseTime(lastUsed)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Delete removes one of the user's patterns by id.
func (s *Store) Delete(ctx context.Context, userID string, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM learned_patterns WHERE user_id = ? AND id = ?", userID, id)
	if err != nil {
		return false, fmt.Errorf("delete pattern: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Clear removes every pattern of the user and reports how many were removed.
func (s *Store) Clear(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM learned_patterns WHERE user_id = ?", userID)
	if err != nil {
		return 0, fmt.Errorf("clear patterns: %w", err)
	}
	n, _ := res.RowsAffected()
	s.logger.Info("learned patterns cleared", "user", userID, "count", n)
	return n, nil
}

// Normalize lower-cases, trims and collapses whitespace.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
