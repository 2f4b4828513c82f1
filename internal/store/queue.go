package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/newsledger/internal/model"
)

// QueueStats summarizes backfill queue contents
type QueueStats struct {
	Pending int `json:"pending"`
	Claimed int `json:"claimed"`
	Dead    int `json:"dead"`
}

// Enqueue inserts a candidate. A duplicate (outlet, story_url) is a no-op and
// reports inserted=false with a nil error.
func (s *Store) Enqueue(ctx context.Context, c model.CandidateStory) (bool, error) {
	if c.Outlet == "" || c.StoryURL == "" {
		return false, fmt.Errorf("enqueue: outlet and story_url are required")
	}
	if c.Source != model.SourceRSS && c.Source != model.SourceSearch {
		return false, fmt.Errorf("enqueue: unknown source %q", c.Source)
	}

	enqueuedAt := c.EnqueuedAt
	if enqueuedAt.IsZero() {
		enqueuedAt = s.now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO backfill_queue (outlet, story_url, source, title, snippet, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (outlet, story_url) DO NOTHING`,
		c.Outlet, c.StoryURL, string(c.Source), c.Title, c.Snippet, toMillis(enqueuedAt))
	if err != nil {
		return false, fmt.Errorf("enqueue: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("enqueue rows affected: %w", err)
	}
	return n == 1, nil
}

// Drain claims up to limit pending candidates, oldest first. Claimed rows are
// leased until now+lease so that a concurrent drain never returns them; the
// lease lapses on its own if the caller crashes. Each claim counts as an attempt.
func (s *Store) Drain(ctx context.Context, limit int, lease time.Duration) ([]model.CandidateStory, error) {
	if limit <= 0 {
		return []model.CandidateStory{}, nil
	}

	now := s.now()
	rows, err := s.db.QueryContext(ctx, `
		UPDATE backfill_queue
		SET claimed_until = ?, attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM backfill_queue
			WHERE dead_at IS NULL AND claimed_until <= ?
			ORDER BY enqueued_at, id
			LIMIT ?
		)
		RETURNING id, outlet, story_url, source, title, snippet, enqueued_at, attempts, last_error`,
		toMillis(now.Add(lease)), toMillis(now), limit)
	if err != nil {
		return nil, fmt.Errorf("drain: %w", err)
	}
	defer rows.Close()

	items, err := scanCandidates(rows)
	if err != nil {
		return nil, fmt.Errorf("drain: %w", err)
	}

	// RETURNING order is unspecified
	sort.Slice(items, func(i, j int) bool {
		if !items[i].EnqueuedAt.Equal(items[j].EnqueuedAt) {
			return items[i].EnqueuedAt.Before(items[j].EnqueuedAt)
		}
		return items[i].ID < items[j].ID
	})

	return items, nil
}

// Release returns a claimed candidate to the queue after a failed attempt.
// When maxAttempts > 0 and the candidate has used them all it is dead-lettered
// instead and dead=true is returned.
func (s *Store) Release(ctx context.Context, id int64, lastError string, maxAttempts int) (bool, error) {
	now := toMillis(s.now())

	var dead bool
	err := s.db.QueryRowContext(ctx, `
		UPDATE backfill_queue
		SET claimed_until = 0,
			last_error = ?,
			dead_at = CASE WHEN ? > 0 AND attempts >= ? THEN ? ELSE NULL END
		WHERE id = ?
		RETURNING dead_at IS NOT NULL`,
		truncateError(lastError), maxAttempts, maxAttempts, now, id).Scan(&dead)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("release %d: %w", id, err)
	}
	return dead, nil
}

// Unclaim returns a claimed candidate that was never attempted, refunding
// the attempt Drain counted. Dead-lettered rows are left alone.
func (s *Store) Unclaim(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE backfill_queue
		SET claimed_until = 0, attempts = MAX(attempts - 1, 0)
		WHERE id = ? AND dead_at IS NULL`, id); err != nil {
		return fmt.Errorf("unclaim %d: %w", id, err)
	}
	return nil
}

// Remove deletes a candidate. Removing a missing id is not an error.
func (s *Store) Remove(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM backfill_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove %d: %w", id, err)
	}
	return nil
}

// Pending lists live (not dead-lettered) candidates oldest first without claiming them
func (s *Store) Pending(ctx context.Context, limit int) ([]model.CandidateStory, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, outlet, story_url, source, title, snippet, enqueued_at, attempts, last_error
		FROM backfill_queue
		WHERE dead_at IS NULL
		ORDER BY enqueued_at, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("pending: %w", err)
	}
	defer rows.Close()

	return scanCandidates(rows)
}

// Dead lists dead-lettered candidates, most recent first
func (s *Store) Dead(ctx context.Context, limit int) ([]model.CandidateStory, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, outlet, story_url, source, title, snippet, enqueued_at, attempts, last_error
		FROM backfill_queue
		WHERE dead_at IS NOT NULL
		ORDER BY dead_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("dead: %w", err)
	}
	defer rows.Close()

	return scanCandidates(rows)
}

// QueueStats counts pending, claimed and dead rows
func (s *Store) QueueStats(ctx context.Context) (QueueStats, error) {
	var st QueueStats
	now := toMillis(s.now())
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN dead_at IS NULL AND claimed_until <= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN dead_at IS NULL AND claimed_until > ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN dead_at IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM backfill_queue`, now, now).Scan(&st.Pending, &st.Claimed, &st.Dead)
	if err != nil {
		return QueueStats{}, fmt.Errorf("queue stats: %w", err)
	}
	return st, nil
}

func scanCandidates(rows *sql.Rows) ([]model.CandidateStory, error) {
	items := make([]model.CandidateStory, 0)
	for rows.Next() {
		var (
			c          model.CandidateStory
			source     string
			enqueuedAt int64
		)
		if err := rows.Scan(&c.ID, &c.Outlet, &c.StoryURL, &source, &c.Title, &c.Snippet, &enqueuedAt, &c.Attempts, &c.LastError); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		c.Source = model.DiscoverySource(source)
		c.EnqueuedAt = fromMillis(enqueuedAt)
		items = append(items, c)
	}
	return items, rows.Err()
}

func truncateError(msg string) string {
	msg = strings.TrimSpace(msg)
	if len(msg) > 1000 {
		return msg[:1000]
	}
	return msg
}
