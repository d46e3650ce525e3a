package database

// migrations are applied in order; never edit an entry once released.
var migrations = []string{
	// 1: learned patterns, jobs, chat history.
	`
CREATE TABLE IF NOT EXISTS learned_patterns (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id         TEXT NOT NULL,
	pattern_type    TEXT NOT NULL,
	user_input      TEXT NOT NULL,
	detected_intent TEXT NOT NULL,
	confidence      REAL NOT NULL DEFAULT 0.5,
	success_count   INTEGER NOT NULL DEFAULT 1,
	created_at      TEXT NOT NULL,
	last_used_at    TEXT NOT NULL,
	UNIQUE (user_id, pattern_type, user_input)
);
CREATE INDEX IF NOT EXISTS idx_learned_user ON learned_patterns(user_id, pattern_type);

CREATE TABLE IF NOT EXISTS jobs (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL UNIQUE,
	user_id        TEXT NOT NULL DEFAULT '',
	job_type       TEXT NOT NULL,
	payload        TEXT NOT NULL DEFAULT '{}',
	run_at         TEXT,
	cron_expr      TEXT,
	schedule_text  TEXT NOT NULL DEFAULT '',
	enabled        INTEGER NOT NULL DEFAULT 1,
	next_run_at    TEXT,
	last_run_at    TEXT,
	last_status    TEXT NOT NULL DEFAULT 'pending',
	last_detail    TEXT NOT NULL DEFAULT '',
	run_generation TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL,
	CHECK ((run_at IS NULL) <> (cron_expr IS NULL))
);
CREATE INDEX IF NOT EXISTS idx_jobs_due ON jobs(enabled, next_run_at);
CREATE INDEX IF NOT EXISTS idx_jobs_user ON jobs(user_id);

CREATE TABLE IF NOT EXISTS chat_history (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	platform  TEXT NOT NULL,
	user_id   TEXT NOT NULL,
	user_name TEXT NOT NULL DEFAULT '',
	message   TEXT NOT NULL,
	reply     TEXT NOT NULL,
	timestamp TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_user ON chat_history(user_id, id);
`,
	// 2: business data owned by the built-in skills.
	`
CREATE TABLE IF NOT EXISTS notes (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    TEXT NOT NULL,
	title      TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notes_user ON notes(user_id);

CREATE TABLE IF NOT EXISTS shopping_items (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id      TEXT NOT NULL,
	item_name    TEXT NOT NULL,
	quantity     TEXT NOT NULL DEFAULT '',
	is_purchased INTEGER NOT NULL DEFAULT 0,
	created_at   TEXT NOT NULL,
	purchased_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_shopping_user ON shopping_items(user_id);

CREATE TABLE IF NOT EXISTS timers (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id          TEXT NOT NULL,
	name             TEXT NOT NULL,
	duration_seconds INTEGER NOT NULL,
	started_at       TEXT NOT NULL,
	ends_at          TEXT NOT NULL,
	completed        INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_timers_user ON timers(user_id, completed);

CREATE TABLE IF NOT EXISTS tracking_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    TEXT NOT NULL,
	category   TEXT NOT NULL,
	event_type TEXT NOT NULL DEFAULT '',
	value      REAL,
	unit       TEXT NOT NULL DEFAULT '',
	notes      TEXT NOT NULL DEFAULT '',
	timestamp  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tracking_user ON tracking_events(user_id, category, timestamp);

CREATE TABLE IF NOT EXISTS sleep_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    TEXT NOT NULL,
	event_type TEXT NOT NULL CHECK (event_type IN ('bedtime', 'wake')),
	timestamp  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sleep_user ON sleep_events(user_id, timestamp);
`,
}
