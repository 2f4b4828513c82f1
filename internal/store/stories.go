package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/ppiankov/newsledger/internal/model"
)

// Story orderings for ListStories
const (
	SortRecency    = "recency"
	SortNeutrality = "neutrality"
)

// Orderings for OutletNeutrality
const (
	SortStories = "stories"
)

var storyColumns = []string{
	"id", "story_id", "version", "snapshot_id", "outlet", "outlet_group", "story_url",
	"title", "neutral_summary", "key_facts", "context_background", "stakeholder_positions",
	"timeline", "disputed_claims", "omissions_detected", "notes", "model",
	"bias_language_score", "bias_framing_score", "bias_source_score", "bias_context_score",
	"bias_intent_score", "pi_score", "captured_at", "scored_at",
}

// StoryID derives the stable ledger identity of a story from its URL, so every
// version of the same URL shares a story_id
func StoryID(storyURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(storyURL)).String()
}

// AppendStory appends a ledger entry. Version is max(version)+1 for the
// story_id, so a correction never overwrites an earlier entry.
func (s *Store) AppendStory(ctx context.Context, story model.ScoredStory) (model.ScoredStory, error) {
	if story.SnapshotID == "" || story.StoryURL == "" || story.OutletGroup == "" {
		return model.ScoredStory{}, fmt.Errorf("append story: snapshot_id, story_url and outlet_group are required")
	}
	if story.ID == "" {
		story.ID = uuid.NewString()
	}
	if story.StoryID == "" {
		story.StoryID = StoryID(story.StoryURL)
	}
	if story.ScoredAt.IsZero() {
		story.ScoredAt = s.now()
	}
	if story.KeyFacts == nil {
		story.KeyFacts = []string{}
	}
	story.CapturedAt = fromMillis(toMillis(story.CapturedAt))
	story.ScoredAt = fromMillis(toMillis(story.ScoredAt))

	facts, err := json.Marshal(story.KeyFacts)
	if err != nil {
		return model.ScoredStory{}, fmt.Errorf("marshal key facts: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.ScoredStory{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM stories WHERE story_id = ?`, story.StoryID,
	).Scan(&story.Version); err != nil {
		return model.ScoredStory{}, fmt.Errorf("next version: %w", err)
	}

	query, args, err := sq.Insert("stories").Columns(storyColumns...).Values(
		story.ID, story.StoryID, story.Version, story.SnapshotID, story.Outlet, story.OutletGroup, story.StoryURL,
		story.Title, story.NeutralSummary, string(facts), story.ContextBackground, story.StakeholderPositions,
		story.Timeline, story.DisputedClaims, story.OmissionsDetected, story.Notes, story.Model,
		nullableFloat(story.Language), nullableFloat(story.Framing), nullableFloat(story.Source),
		nullableFloat(story.Context), nullableFloat(story.Intent), nullableFloat(story.PI),
		toMillis(story.CapturedAt), toMillis(story.ScoredAt),
	).ToSql()
	if err != nil {
		return model.ScoredStory{}, fmt.Errorf("build insert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return model.ScoredStory{}, fmt.Errorf("insert story: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.ScoredStory{}, fmt.Errorf("commit: %w", err)
	}

	return story, nil
}

// StoryQuery filters ListStories
type StoryQuery struct {
	OutletGroup string    // Empty means all outlets
	Since       time.Time // Zero means no lower bound on captured_at
	Sort        string    // SortRecency (default) or SortNeutrality
	Limit       int       // <= 0 means unbounded
	LatestOnly  bool      // Only the highest version per story_id
}

// ListStories reads ledger entries. Recency breaks capture-time ties by
// pi_score desc (nulls last); neutrality breaks pi ties by captured_at desc.
func (s *Store) ListStories(ctx context.Context, q StoryQuery) ([]model.ScoredStory, error) {
	b := sq.Select(storyColumns...).From("stories")

	if q.OutletGroup != "" {
		b = b.Where(sq.Eq{"outlet_group": q.OutletGroup})
	}
	if !q.Since.IsZero() {
		b = b.Where(sq.GtOrEq{"captured_at": toMillis(q.Since)})
	}
	if q.LatestOnly {
		b = b.Where("version = (SELECT MAX(v.version) FROM stories v WHERE v.story_id = stories.story_id)")
	}

	switch q.Sort {
	case SortNeutrality:
		b = b.OrderBy("pi_score IS NULL", "pi_score DESC", "captured_at DESC", "id")
	default:
		b = b.OrderBy("captured_at DESC", "pi_score IS NULL", "pi_score DESC", "id")
	}

	if q.Limit > 0 {
		b = b.Limit(uint64(q.Limit))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build story query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	defer rows.Close()

	out := make([]model.ScoredStory, 0)
	for rows.Next() {
		story, err := scanStory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan story: %w", err)
		}
		out = append(out, story)
	}
	return out, rows.Err()
}

// GetStory returns one ledger entry by id
func (s *Store) GetStory(ctx context.Context, id string) (model.ScoredStory, error) {
	query, args, err := sq.Select(storyColumns...).From("stories").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return model.ScoredStory{}, fmt.Errorf("build story query: %w", err)
	}
	story, err := scanStory(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.ScoredStory{}, ErrNotFound
	}
	if err != nil {
		return model.ScoredStory{}, fmt.Errorf("get story %s: %w", id, err)
	}
	return story, nil
}

// NeutralityQuery filters OutletNeutrality
type NeutralityQuery struct {
	MinStoryCount int
	Sort          string // SortStories (default) or SortNeutrality
	Limit         int
}

// OutletNeutrality aggregates the whole ledger per outlet_group. It returns
// the rows after limit and the total number of groups passing the filter.
func (s *Store) OutletNeutrality(ctx context.Context, q NeutralityQuery) ([]model.OutletNeutrality, int, error) {
	minCount := q.MinStoryCount
	if minCount < 1 {
		minCount = 1
	}

	b := sq.Select(
		"outlet_group",
		"COUNT(*) AS story_count",
		"COUNT(bias_intent_score)",
		"AVG(bias_intent_score) AS avg_intent",
		"SUM(bias_intent_score * bias_intent_score)",
		"AVG(pi_score) AS avg_pi",
		"MIN(scored_at)",
		"MAX(scored_at)",
	).From("stories").
		GroupBy("outlet_group").
		Having("COUNT(*) >= ?", minCount)

	switch q.Sort {
	case SortNeutrality:
		b = b.OrderBy("avg_pi IS NULL", "avg_pi DESC", "story_count DESC", "outlet_group")
	default:
		b = b.OrderBy("story_count DESC", "outlet_group")
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build neutrality query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("outlet neutrality: %w", err)
	}
	defer rows.Close()

	out := make([]model.OutletNeutrality, 0)
	for rows.Next() {
		var (
			row         model.OutletNeutrality
			intentCount int
			avgIntent   sql.NullFloat64
			sumSquares  sql.NullFloat64
			avgPI       sql.NullFloat64
			first, last int64
		)
		if err := rows.Scan(&row.Outlet, &row.StoryCount, &intentCount, &avgIntent, &sumSquares, &avgPI, &first, &last); err != nil {
			return nil, 0, fmt.Errorf("scan neutrality: %w", err)
		}
		row.AvgBiasIntentScore = floatPtr(avgIntent)
		row.BiasIntentScoreStddev = sampleStddev(intentCount, avgIntent, sumSquares)
		row.AvgPIScore = floatPtr(avgPI)
		row.FirstScoredAt = fromMillis(first)
		row.LastScoredAt = fromMillis(last)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	total := len(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, total, nil
}

// sampleStddev derives the sample standard deviation from n, mean and sum of
// squares. Fewer than two values yields nil.
func sampleStddev(n int, mean, sumSquares sql.NullFloat64) *float64 {
	if n < 2 || !mean.Valid || !sumSquares.Valid {
		return nil
	}
	variance := (sumSquares.Float64 - float64(n)*mean.Float64*mean.Float64) / float64(n-1)
	if variance < 0 {
		variance = 0
	}
	sd := math.Sqrt(variance)
	return &sd
}

func scanStory(row rowScanner) (model.ScoredStory, error) {
	var (
		st                   model.ScoredStory
		facts                string
		axes                 [6]sql.NullFloat64
		capturedAt, scoredAt int64
	)
	err := row.Scan(
		&st.ID, &st.StoryID, &st.Version, &st.SnapshotID, &st.Outlet, &st.OutletGroup, &st.StoryURL,
		&st.Title, &st.NeutralSummary, &facts, &st.ContextBackground, &st.StakeholderPositions,
		&st.Timeline, &st.DisputedClaims, &st.OmissionsDetected, &st.Notes, &st.Model,
		&axes[0], &axes[1], &axes[2], &axes[3], &axes[4], &axes[5], &capturedAt, &scoredAt,
	)
	if err != nil {
		return model.ScoredStory{}, err
	}

	st.KeyFacts = []string{}
	if facts != "" {
		if err := json.Unmarshal([]byte(facts), &st.KeyFacts); err != nil {
			return model.ScoredStory{}, fmt.Errorf("decode key facts: %w", err)
		}
	}
	st.Language = floatPtr(axes[0])
	st.Framing = floatPtr(axes[1])
	st.Source = floatPtr(axes[2])
	st.Context = floatPtr(axes[3])
	st.Intent = floatPtr(axes[4])
	st.PI = floatPtr(axes[5])
	st.CapturedAt = fromMillis(capturedAt)
	st.ScoredAt = fromMillis(scoredAt)
	return st, nil
}
