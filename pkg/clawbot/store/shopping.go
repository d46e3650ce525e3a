package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jholhewres/clawbot/pkg/clawbot/database"
)

// Item is a shopping list entry.
type Item struct {
	ID          int64
	UserID      string
	Name        string
	Quantity    string
	Purchased   bool
	CreatedAt   time.Time
	PurchasedAt *time.Time
}

// AddItem appends an item to the user's list.
func (s *Store) AddItem(ctx context.Context, userID, name, quantity string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("add item: name is required")
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO shopping_items (user_id, item_name, quantity, created_at) VALUES (?, ?, ?, ?)",
		userID, name, strings.TrimSpace(quantity), database.FormatTime(s.now()))
	if err != nil {
		return 0, fmt.Errorf("add item: %w", err)
	}
	return lastID(res), nil
}

// Items returns the user's items that are still to buy, oldest first.
func (s *Store) Items(ctx context.Context, userID string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, item_name, quantity, is_purchased, created_at, purchased_at
		FROM shopping_items WHERE user_id = ? AND is_purchased = 0
		ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var (
			it        Item
			purchased int
			created   string
			boughtAt  sql.NullString
		)
		if err := rows.Scan(&it.ID, &it.UserID, &it.Name, &it.Quantity, &purchased, &created, &boughtAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.Purchased = purchased != 0
		it.CreatedAt = database.ParseTime(created)
		it.PurchasedAt = database.ParseNullTime(boughtAt)
		out = append(out, it)
	}
	return out, rows.Err()
}

// MarkPurchased checks an item off. It reports false for an unknown item.
func (s *Store) MarkPurchased(ctx context.Context, userID string, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE shopping_items SET is_purchased = 1, purchased_at = ?
		WHERE user_id = ? AND id = ? AND is_purchased = 0`,
		database.FormatTime(s.now()), userID, id)
	if err != nil {
		return false, fmt.Errorf("mark purchased: %w", err)
	}
	return affected(res) > 0, nil
}

// ClearItems checks off every open item of the user and returns how many
// were cleared. Cleared items stay until the cleanup job purges them.
func (s *Store) ClearItems(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE shopping_items SET is_purchased = 1, purchased_at = ?
		WHERE user_id = ? AND is_purchased = 0`,
		database.FormatTime(s.now()), userID)
	if err != nil {
		return 0, fmt.Errorf("clear items: %w", err)
	}
	return affected(res), nil
}
