package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jholhewres/clawbot/pkg/clawbot/database"
)

// Purger deletes one kind of stale rows. It satisfies the scheduler's
// cleanup contract.
type Purger struct {
	name  string
	query string
	db    *Store
}

// Name identifies the purged data in cleanup summaries.
func (p *Purger) Name() string { return p.name }

// Purge deletes rows older than before and returns how many were removed.
func (p *Purger) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := p.db.db.ExecContext(ctx, p.query, database.FormatTime(before))
	if err != nil {
		return 0, fmt.Errorf("purge %s: %w", p.name, err)
	}
	n := affected(res)
	if n > 0 {
		p.db.logger.Info("purged stale rows", "kind", p.name, "count", n)
	}
	return n, nil
}

// Purgers returns the housekeeping steps run by cleanup jobs: chat history,
// completed timers and purchased shopping items.
func (s *Store) Purgers() []*Purger {
	return []*Purger{
		{name: "chat history", db: s, query: "DELETE FROM chat_history WHERE timestamp < ?"},
		{name: "completed timers", db: s, query: "DELETE FROM timers WHERE completed = 1 AND ends_at < ?"},
		{name: "purchased items", db: s, query: "DELETE FROM shopping_items WHERE is_purchased = 1 AND purchased_at < ?"},
	}
}
