package database

import (
	"path/filepath"
	"testing"
)

func TestOpen(t *testing.T) {
	t.Parallel()

	db, err := Open(Config{Path: filepath.Join(t.TempDir(), "nested", "test.db")})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	version, err := db.Migrator.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion failed: %v", err)
	}
	if version != LatestVersion() {
		t.Errorf("version = %d, want %d", version, LatestVersion())
	}

	for _, table := range []string{"learned_patterns", "jobs", "chat_history", "notes", "shopping_items", "timers", "tracking_events", "sleep_events"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	db.Close()

	db, err = Open(Config{Path: path})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != LatestVersion() {
		t.Errorf("schema_version rows = %d, want %d", count, LatestVersion())
	}
}

func TestJobsScheduleCheck(t *testing.T) {
	t.Parallel()

	db, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	// Neither run_at nor cron_expr set violates the one-of check.
	_, err = db.Exec(`INSERT INTO jobs (id, name, job_type, created_at, updated_at) VALUES ('a', 'a', 'send_message', 'x', 'x')`)
	if err == nil {
		t.Error("expected CHECK constraint failure")
	}
}
