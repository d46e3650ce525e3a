// Package store holds the business data owned by the built-in skills: notes,
// the shopping list, timers, tracking and sleep events, and chat history.
// Every table lives in the shared SQLite database and is scoped by user id.
package store

import (
	"database/sql"
	"log/slog"
	"time"
)

// Store is the SQLite-backed business data store.
type Store struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

// New creates a store over an opened database.
func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, now: time.Now, logger: logger.With("component", "store")}
}

func lastID(res sql.Result) int64 {
	id, _ := res.LastInsertId()
	return id
}

func affected(res sql.Result) int64 {
	n, _ := res.RowsAffected()
	return n
}
