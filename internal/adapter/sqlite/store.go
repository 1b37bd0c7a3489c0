// Package sqlite implements the durable store behind the tagging pipeline.
// All coordination between ingestor, worker and publisher goes through this
// one database; WAL mode serializes the three writers.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/PastaGringo/tagky/internal/domain"
	_ "modernc.org/sqlite"
)

const (
	maxJobErrorLen     = 1000
	maxPublishErrorLen = 2000
)

const schema = `
PRAGMA journal_mode = WAL;
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS jobs (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    post_uri     TEXT NOT NULL UNIQUE,
    content      TEXT,
    status       TEXT NOT NULL DEFAULT 'pending',
    attempts     INTEGER NOT NULL DEFAULT 0,
    last_error   TEXT,
    keywords     TEXT,
    created_at   DATETIME NOT NULL,
    updated_at   DATETIME NOT NULL,
    processed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);

CREATE TABLE IF NOT EXISTS tags (
    post_uri   TEXT NOT NULL,
    keyword    TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    PRIMARY KEY(post_uri, keyword)
);
CREATE INDEX IF NOT EXISTS idx_tags_keyword ON tags(keyword);

CREATE TABLE IF NOT EXISTS followed_users (
    user_id     TEXT PRIMARY KEY,
    followed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS processed_notifications (
    post_uri     TEXT PRIMARY KEY,
    processed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS published_posts (
    post_uri     TEXT PRIMARY KEY,
    published_at DATETIME NOT NULL,
    last_error   TEXT
);
`

// Store implements the domain store ports using SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath, enables WAL and initializes
// the schema.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnqueueJob inserts a pending job for a post. Re-enqueuing a known post URI
// is a no-op.
func (s *Store) EnqueueJob(ctx context.Context, postURI, content string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO jobs (post_uri, content, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		postURI, content, domain.StatusPending, now, now,
	)
	return err
}

// PendingJobs returns up to limit pending jobs, oldest first.
func (s *Store) PendingJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT ?`,
		domain.StatusPending, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

// JobByURI retrieves the job for a post URI.
func (s *Store) JobByURI(ctx context.Context, postURI string) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx, jobColumns+` FROM jobs WHERE post_uri = ?`, postURI)
	return scanJob(row)
}

// MarkProcessing claims a pending job and increments its attempt count.
func (s *Store) MarkProcessing(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, attempts = attempts + 1, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusProcessing, time.Now().UTC(), id, domain.StatusPending,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// MarkDone records the normalized keywords and inserts one tag row per
// keyword. The status update and the tag inserts commit as one transaction.
func (s *Store) MarkDone(ctx context.Context, id int64, keywords string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var postURI string
	if err := tx.QueryRowContext(ctx, `SELECT post_uri FROM jobs WHERE id = ?`, id).Scan(&postURI); err != nil {
		if err == sql.ErrNoRows {
			return domain.ErrJobNotFound
		}
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, keywords = ?, processed_at = ?, updated_at = ? WHERE id = ?`,
		domain.StatusDone, keywords, now, now, id,
	); err != nil {
		return err
	}

	for _, kw := range domain.SplitKeywords(keywords) {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO tags (post_uri, keyword, created_at) VALUES (?, ?, ?)`,
			postURI, kw, now,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// MarkError marks a job as terminally failed. The reason is truncated.
func (s *Store) MarkError(ctx context.Context, id int64, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		domain.StatusError, truncate(reason, maxJobErrorLen), time.Now().UTC(), id,
	)
	return err
}

// MarkIgnored marks a job as skipped for a business reason.
func (s *Store) MarkIgnored(ctx context.Context, id int64, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		domain.StatusIgnored, truncate(reason, maxJobErrorLen), time.Now().UTC(), id,
	)
	return err
}

// RecoverStale requeues processing jobs untouched for longer than olderThan.
// Run at startup to recover jobs orphaned by a crash.
func (s *Store) RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, last_error = 'recovered after restart', updated_at = ?
		 WHERE status = ? AND updated_at < ?`,
		domain.StatusPending, now, domain.StatusProcessing, now.Add(-olderThan),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// TagsForPost returns the recorded keywords for a post, sorted.
func (s *Store) TagsForPost(ctx context.Context, postURI string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT keyword FROM tags WHERE post_uri = ? ORDER BY keyword`, postURI)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var kw string
		if err := rows.Scan(&kw); err != nil {
			return nil, err
		}
		out = append(out, kw)
	}
	return out, rows.Err()
}

// Follow adds a user to the opt-in registry. Already-followed is a no-op.
func (s *Store) Follow(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO followed_users (user_id, followed_at) VALUES (?, ?)`,
		userID, time.Now().UTC(),
	)
	return err
}

// Unfollow removes a user from the opt-in registry.
func (s *Store) Unfollow(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM followed_users WHERE user_id = ?`, userID)
	return err
}

// IsFollowed reports whether a user is currently opted in.
func (s *Store) IsFollowed(ctx context.Context, userID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM followed_users WHERE user_id = ?`, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// FollowedUsers returns all opted-in user IDs.
func (s *Store) FollowedUsers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM followed_users ORDER BY followed_at ASC, user_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// MarkNotificationProcessed records a notification as handled. Write-once:
// repeating the call is a no-op.
func (s *Store) MarkNotificationProcessed(ctx context.Context, postURI string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO processed_notifications (post_uri, processed_at) VALUES (?, ?)`,
		postURI, time.Now().UTC(),
	)
	return err
}

// IsNotificationProcessed reports whether a notification was handled before.
func (s *Store) IsNotificationProcessed(ctx context.Context, postURI string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM processed_notifications WHERE post_uri = ?`, postURI).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UnpublishedDone returns done jobs with keywords that were never published
// or whose last publish attempt failed, oldest completion first.
func (s *Store) UnpublishedDone(ctx context.Context, limit int) ([]domain.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT j.id, j.post_uri, COALESCE(j.content, ''), j.status, j.attempts,
		        COALESCE(j.last_error, ''), COALESCE(j.keywords, ''), j.created_at, j.processed_at
		 FROM jobs j
		 LEFT JOIN published_posts p ON p.post_uri = j.post_uri
		 WHERE j.status = ? AND j.keywords IS NOT NULL AND j.keywords <> ''
		   AND (p.post_uri IS NULL OR p.last_error IS NOT NULL)
		 ORDER BY j.processed_at ASC, j.created_at ASC
		 LIMIT ?`,
		domain.StatusDone, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

// MarkPublished records a successful publish, clearing any previous error.
func (s *Store) MarkPublished(ctx context.Context, postURI string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO published_posts (post_uri, published_at, last_error) VALUES (?, ?, NULL)
		 ON CONFLICT(post_uri) DO UPDATE SET last_error = NULL, published_at = excluded.published_at`,
		postURI, time.Now().UTC(),
	)
	return err
}

// RecordPublishError records a failed publish attempt; the row's presence
// keeps the job eligible for the next publisher pass.
func (s *Store) RecordPublishError(ctx context.Context, postURI, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO published_posts (post_uri, published_at, last_error) VALUES (?, ?, ?)
		 ON CONFLICT(post_uri) DO UPDATE SET last_error = excluded.last_error, published_at = excluded.published_at`,
		postURI, time.Now().UTC(), truncate(reason, maxPublishErrorLen),
	)
	return err
}

// PublishedPost returns the publish record for a post, or nil when absent.
func (s *Store) PublishedPost(ctx context.Context, postURI string) (*domain.PublishedPost, error) {
	var p domain.PublishedPost
	var lastError sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT post_uri, published_at, last_error FROM published_posts WHERE post_uri = ?`,
		postURI).Scan(&p.PostURI, &p.PublishedAt, &lastError)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.LastError = lastError.String
	return &p, nil
}

// Report counts the store contents for the startup summary.
func (s *Store) Report(ctx context.Context) (*domain.StoreReport, error) {
	r := &domain.StoreReport{}
	statusCounts := map[domain.JobStatus]*int{
		domain.StatusPending:    &r.JobsPending,
		domain.StatusProcessing: &r.JobsProcessing,
		domain.StatusDone:       &r.JobsDone,
		domain.StatusError:      &r.JobsError,
		domain.StatusIgnored:    &r.JobsIgnored,
	}
	for status, dst := range statusCounts {
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM jobs WHERE status = ?`, status).Scan(dst); err != nil {
			return nil, err
		}
	}

	simple := []struct {
		query string
		dst   *int
	}{
		{`SELECT COUNT(*) FROM followed_users`, &r.FollowedUsers},
		{`SELECT COUNT(*) FROM tags`, &r.TagRows},
		{`SELECT COUNT(DISTINCT post_uri) FROM tags`, &r.TaggedPosts},
		{`SELECT COUNT(*) FROM processed_notifications`, &r.ProcessedNotifications},
	}
	for _, q := range simple {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dst); err != nil {
			return nil, err
		}
	}
	return r, nil
}

const jobColumns = `SELECT id, post_uri, COALESCE(content, ''), status, attempts,
	COALESCE(last_error, ''), COALESCE(keywords, ''), created_at, processed_at`

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.Job, error) {
	var job domain.Job
	var status string
	var processedAt sql.NullTime
	err := row.Scan(&job.ID, &job.PostURI, &job.Content, &status, &job.Attempts,
		&job.LastError, &job.Keywords, &job.CreatedAt, &processedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	if processedAt.Valid {
		job.ProcessedAt = processedAt.Time
	}
	return &job, nil
}

func collectJobs(rows *sql.Rows) ([]domain.Job, error) {
	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}
