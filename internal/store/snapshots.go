package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ppiankov/newsledger/internal/model"
)

// Scoring status recorded for snapshots the oracle could not score
const scoringFailed = "failed"

// InsertSnapshot appends a snapshot and returns it with ID and CapturedAt set
func (s *Store) InsertSnapshot(ctx context.Context, snap model.Snapshot) (model.Snapshot, error) {
	if snap.StoryURL == "" || snap.CapturedText == "" {
		return model.Snapshot{}, fmt.Errorf("insert snapshot: story_url and captured_text are required")
	}
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = s.now()
	}
	snap.CapturedAt = fromMillis(toMillis(snap.CapturedAt))

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (id, story_url, outlet, title, captured_text, captured_at, extraction_source)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.StoryURL, snap.Outlet, snap.Title, snap.CapturedText,
		toMillis(snap.CapturedAt), string(snap.ExtractionSource))
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("insert snapshot: %w", err)
	}
	return snap, nil
}

// GetSnapshot returns one snapshot by id
func (s *Store) GetSnapshot(ctx context.Context, id string) (model.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, story_url, outlet, title, captured_text, captured_at, extraction_source
		FROM snapshots WHERE id = ?`, id)

	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("get snapshot %s: %w", id, err)
	}
	return snap, nil
}

// SnapshotsByURL returns every snapshot captured for a URL, oldest first
func (s *Store) SnapshotsByURL(ctx context.Context, storyURL string) ([]model.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, story_url, outlet, title, captured_text, captured_at, extraction_source
		FROM snapshots WHERE story_url = ?
		ORDER BY captured_at, id`, storyURL)
	if err != nil {
		return nil, fmt.Errorf("snapshots by url: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// UnscoredSnapshots returns up to limit snapshots with no ledger entry and no
// recorded scoring failure, oldest first
func (s *Store) UnscoredSnapshots(ctx context.Context, limit int) ([]model.Snapshot, error) {
	if limit <= 0 {
		return []model.Snapshot{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.story_url, s.outlet, s.title, s.captured_text, s.captured_at, s.extraction_source
		FROM snapshots s
		WHERE NOT EXISTS (SELECT 1 FROM stories st WHERE st.snapshot_id = s.id)
		  AND NOT EXISTS (SELECT 1 FROM snapshot_scoring sc WHERE sc.snapshot_id = s.id)
		ORDER BY s.captured_at, s.id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("unscored snapshots: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// MarkScoreFailed records that the oracle failed on a snapshot. The snapshot
// is kept and will not be picked up again until RetryFailedScores runs.
func (s *Store) MarkScoreFailed(ctx context.Context, snapshotID, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshot_scoring (snapshot_id, status, error, attempted_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (snapshot_id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			attempted_at = excluded.attempted_at`,
		snapshotID, scoringFailed, truncateError(reason), toMillis(s.now()))
	if err != nil {
		return fmt.Errorf("mark score failed %s: %w", snapshotID, err)
	}
	return nil
}

// RetryFailedScores clears recorded scoring failures so those snapshots are
// eligible again. It returns how many were cleared.
func (s *Store) RetryFailedScores(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshot_scoring WHERE status = ?`, scoringFailed)
	if err != nil {
		return 0, fmt.Errorf("retry failed scores: %w", err)
	}
	return res.RowsAffected()
}

// FailedScoreCount counts snapshots with a recorded scoring failure
func (s *Store) FailedScoreCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshot_scoring WHERE status = ?`, scoringFailed).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed score count: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (model.Snapshot, error) {
	var (
		snap       model.Snapshot
		capturedAt int64
		source     string
	)
	if err := row.Scan(&snap.ID, &snap.StoryURL, &snap.Outlet, &snap.Title, &snap.CapturedText, &capturedAt, &source); err != nil {
		return model.Snapshot{}, err
	}
	snap.CapturedAt = fromMillis(capturedAt)
	snap.ExtractionSource = model.ExtractionSource(source)
	return snap, nil
}

func scanSnapshots(rows *sql.Rows) ([]model.Snapshot, error) {
	out := make([]model.Snapshot, 0)
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
