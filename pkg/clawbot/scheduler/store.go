package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/jholhewres/clawbot/pkg/clawbot/database"
	"github.com/jholhewres/clawbot/pkg/clawbot/sandbox"
)

const jobColumns = `id, name, user_id, job_type, payload, run_at, cron_expr, schedule_text, enabled,
	next_run_at, last_run_at, last_status, last_detail, run_generation, created_at, updated_at`

// Store persists jobs in the shared SQLite database. Every mutation is a
// single statement or a transaction, so readers never see a half-written job.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a job store over an opened database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Create inserts job, assigning an id when empty.
func (s *Store) Create(ctx context.Context, job *Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.LastStatus == "" {
		job.LastStatus = StatusPending
	}
	if err := job.Validate(); err != nil {
		return err
	}
	now := s.now()
	job.CreatedAt, job.UpdatedAt = now, now

	payload, err := encodePayload(job.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, job.UserID, string(job.Type), payload,
		database.NullTime(job.Schedule.RunAt), nullString(job.Schedule.Cron), job.ScheduleText,
		database.BoolToInt(job.Enabled), database.NullTime(job.NextRunAt), database.NullTime(job.LastRunAt),
		string(job.LastStatus), job.LastDetail, job.RunGeneration,
		database.FormatTime(job.CreatedAt), database.FormatTime(job.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %q", ErrJobExists, job.Name)
		}
		return fmt.Errorf("create job %q: %w", job.Name, err)
	}
	return nil
}

// Get returns the job with id.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	return s.queryOne(ctx, s.db, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
}

// GetByName returns the job with name, case-insensitively.
func (s *Store) GetByName(ctx context.Context, name string) (*Job, error) {
	return s.queryOne(ctx, s.db, "SELECT "+jobColumns+" FROM jobs WHERE name = ? COLLATE NOCASE", strings.TrimSpace(name))
}

// Resolve finds a job by id, falling back to its name.
func (s *Store) Resolve(ctx context.Context, ref string) (*Job, error) {
	ref = strings.TrimSpace(ref)
	job, err := s.Get(ctx, ref)
	if errors.Is(err, ErrJobNotFound) {
		return s.GetByName(ctx, ref)
	}
	return job, err
}

// List returns jobs ordered by creation time. An empty userID lists all.
func (s *Store) List(ctx context.Context, userID string) ([]*Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs"
	var args []any
	if userID != "" {
		query += " WHERE user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY created_at, name"
	return s.queryMany(ctx, query, args...)
}

// Update applies fn to the current row inside a transaction and writes the
// result back. The id, creation time and run bookkeeping cannot be changed
// through fn.
func (s *Store) Update(ctx context.Context, id string, fn func(*Job) error) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	job, err := s.queryOne(ctx, tx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	origID, created := job.ID, job.CreatedAt
	if err := fn(job); err != nil {
		return nil, err
	}
	job.ID, job.CreatedAt = origID, created
	if err := job.Validate(); err != nil {
		return nil, err
	}
	job.UpdatedAt = s.now()

	payload, err := encodePayload(job.Payload)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET name = ?, user_id = ?, job_type = ?, payload = ?, run_at = ?, cron_expr = ?,
			schedule_text = ?, enabled = ?, next_run_at = ?, updated_at = ?
		WHERE id = ?`,
		job.Name, job.UserID, string(job.Type), payload,
		database.NullTime(job.Schedule.RunAt), nullString(job.Schedule.Cron),
		job.ScheduleText, database.BoolToInt(job.Enabled), database.NullTime(job.NextRunAt),
		database.FormatTime(job.UpdatedAt), id,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %q", ErrJobExists, job.Name)
		}
		return nil, fmt.Errorf("update job %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return job, nil
}

// Delete removes a job.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return nil
}

// Due returns enabled, idle jobs whose next run is at or before now,
// earliest first.
func (s *Store) Due(ctx context.Context, now time.Time) ([]*Job, error) {
	return s.queryMany(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE enabled = 1 AND next_run_at IS NOT NULL AND next_run_at <= ? AND last_status <> ?
		ORDER BY next_run_at, created_at`,
		database.FormatTime(now), string(StatusRunning))
}

// MarkRunning claims a job for generation. It reports false when the job is
// disabled, gone, or already running, in which case the caller must not run it.
func (s *Store) MarkRunning(ctx context.Context, id, generation string) (bool, error) {
	return s.claim(ctx, id, generation, "")
}

// ClaimDue is MarkRunning for the tick loop: the claim also fails when the
// job's next run has moved past now since it was listed as due.
func (s *Store) ClaimDue(ctx context.Context, id, generation string, now time.Time) (bool, error) {
	return s.claim(ctx, id, generation, " AND next_run_at IS NOT NULL AND next_run_at <= ?", database.FormatTime(now))
}

func (s *Store) claim(ctx context.Context, id, generation, cond string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET last_status = ?, run_generation = ?, updated_at = ?
		WHERE id = ? AND enabled = 1 AND last_status <> ?`+cond,
		append([]any{string(StatusRunning), generation, database.FormatTime(s.now()), id, string(StatusRunning)}, args...)...)
	if err != nil {
		return false, fmt.Errorf("claim job %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// Completion is what the scheduler records after a run.
type Completion struct {
	Result    ExecutionResult
	RanAt     time.Time
	NextRunAt *time.Time

	// Disable turns the job off; otherwise enabled is left as it is now.
	Disable bool
}

// maxDetailLen caps the stored last_detail.
const maxDetailLen = 1500

// Finish records a run. plan receives the row as it is now, so edits made
// while the job was running are seen, and the write happens in the same
// transaction.
func (s *Store) Finish(ctx context.Context, id string, plan func(current *Job) Completion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin finish: %w", err)
	}
	defer tx.Rollback()

	current, err := s.queryOne(ctx, tx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	if err != nil {
		return err
	}
	c := plan(current)

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET last_status = ?, last_detail = ?, last_run_at = ?, next_run_at = ?,
			enabled = CASE WHEN ? = 1 THEN 0 ELSE enabled END, updated_at = ?
		WHERE id = ?`,
		string(c.Result.Status), sandbox.Truncate(c.Result.Detail, maxDetailLen), database.FormatTime(c.RanAt),
		database.NullTime(c.NextRunAt), database.BoolToInt(c.Disable),
		database.FormatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("record result for job %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit result for job %s: %w", id, err)
	}
	return nil
}

// Reschedule moves an idle job's next run without recording a run.
func (s *Store) Reschedule(ctx context.Context, id string, next *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET next_run_at = ?, updated_at = ? WHERE id = ? AND last_status <> ?`,
		database.NullTime(next), database.FormatTime(s.now()), id, string(StatusRunning))
	if err != nil {
		return fmt.Errorf("reschedule job %s: %w", id, err)
	}
	return nil
}

// Stale returns jobs left running by another process generation.
func (s *Store) Stale(ctx context.Context, generation string) ([]*Job, error) {
	return s.queryMany(ctx, "SELECT "+jobColumns+" FROM jobs WHERE last_status = ? AND run_generation <> ?",
		string(StatusRunning), generation)
}

// Unscheduled returns enabled jobs with no next run.
func (s *Store) Unscheduled(ctx context.Context) ([]*Job, error) {
	return s.queryMany(ctx, "SELECT "+jobColumns+" FROM jobs WHERE enabled = 1 AND next_run_at IS NULL AND last_status <> ?",
		string(StatusRunning))
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) queryOne(ctx context.Context, q queryer, query string, args ...any) (*Job, error) {
	job, err := scanJob(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %v", ErrJobNotFound, args[0])
	}
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	return job, nil
}

func (s *Store) queryMany(ctx context.Context, query string, args ...any) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var (
		j                        Job
		jobType, payload, status string
		runAt, cronExpr          sql.NullString
		nextRun, lastRun         sql.NullString
		enabled                  int
		createdAt, updatedAt     string
	)
	if err := row.Scan(&j.ID, &j.Name, &j.UserID, &jobType, &payload, &runAt, &cronExpr,
		&j.ScheduleText, &enabled, &nextRun, &lastRun, &status, &j.LastDetail,
		&j.RunGeneration, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	j.Type = JobType(jobType)
	j.LastStatus = Status(status)
	j.Enabled = enabled != 0
	j.Schedule.RunAt = database.ParseNullTime(runAt)
	if cronExpr.Valid {
		j.Schedule.Cron = cronExpr.String
	}
	j.NextRunAt = database.ParseNullTime(nextRun)
	j.LastRunAt = database.ParseNullTime(lastRun)
	j.CreatedAt = database.ParseTime(createdAt)
	j.UpdatedAt = database.ParseTime(updatedAt)
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &j.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of job %s: %w", j.ID, err)
		}
	}
	if j.Payload == nil {
		j.Payload = map[string]string{}
	}
	return &j, nil
}

func encodePayload(p map[string]string) (string, error) {
	if len(p) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(b), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
