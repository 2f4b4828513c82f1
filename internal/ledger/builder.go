// Package ledger turns unscored snapshots into append-only ledger entries
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ppiankov/newsledger/internal/events"
	"github.com/ppiankov/newsledger/internal/logging"
	"github.com/ppiankov/newsledger/internal/model"
	"github.com/ppiankov/newsledger/internal/oracle"
	"github.com/ppiankov/newsledger/internal/outlet"
	"github.com/ppiankov/newsledger/internal/score"
	"github.com/ppiankov/newsledger/internal/worker"
)

// Batch limits for BuildBatch
const (
	DefaultLimit = 20
	MaxLimit     = 50
)

// Store is the persistence the builder needs
type Store interface {
	UnscoredSnapshots(ctx context.Context, limit int) ([]model.Snapshot, error)
	MarkScoreFailed(ctx context.Context, snapshotID, reason string) error
	AppendStory(ctx context.Context, story model.ScoredStory) (model.ScoredStory, error)
	Aliases(ctx context.Context) (map[string]string, error)
}

// Oracle scores a single snapshot
type Oracle interface {
	Score(ctx context.Context, snap model.Snapshot) (*oracle.Scored, error)
}

// ItemResult is the outcome for one snapshot
type ItemResult struct {
	SnapshotID  string        `json:"snapshot_id"`
	StoryURL    string        `json:"story_url"`
	OutletGroup string        `json:"outlet_group,omitempty"`
	StoryID     string        `json:"story_id,omitempty"`
	Version     int           `json:"version,omitempty"`
	Scored      bool          `json:"scored"`
	Complete    bool          `json:"complete"` // All five axes present
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
}

// Stats summarizes one BuildBatch run
type Stats struct {
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Limit      int          `json:"limit"`
	Attempted  int          `json:"attempted"`
	Scored     int          `json:"scored"`
	Failed     int          `json:"failed"`
	Items      []ItemResult `json:"items"`
}

// Builder scores snapshots and appends ledger entries
type Builder struct {
	store       Store
	oracle      Oracle
	publisher   events.Publisher
	aliases     map[string]string
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

// NewBuilder creates a builder. aliases are the configured outlet aliases;
// stored aliases are merged over them on every batch. publisher may be nil.
func NewBuilder(store Store, o Oracle, publisher events.Publisher, aliases map[string]string, concurrency int, logger *slog.Logger) *Builder {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if concurrency <= 0 {
		concurrency = 2
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Builder{
		store:       store,
		oracle:      o,
		publisher:   publisher,
		aliases:     aliases,
		concurrency: concurrency,
		logger:      logger.With("component", "ledger"),
		now:         time.Now,
	}
}

// ClampLimit bounds a requested batch size to [1, MaxLimit], defaulting
// non-positive values to DefaultLimit
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// BuildBatch scores up to limit unscored snapshots. A snapshot the oracle
// cannot score is marked failed and is not retried by later batches.
func (b *Builder) BuildBatch(ctx context.Context, limit int) (Stats, error) {
	limit = ClampLimit(limit)
	stats := Stats{StartedAt: b.now().UTC(), Limit: limit}

	snaps, err := b.store.UnscoredSnapshots(ctx, limit)
	if err != nil {
		return stats, fmt.Errorf("load unscored snapshots: %w", err)
	}

	canon, err := b.canonicalizer(ctx)
	if err != nil {
		return stats, err
	}

	results := worker.Map(ctx, b.concurrency, snaps, func(ctx context.Context, snap model.Snapshot) ItemResult {
		return b.scoreOne(ctx, canon, snap)
	}, func(snap model.Snapshot, err error) {
		b.logger.Error("scoring panicked", "snapshot_id", snap.ID, "error", err)
	})

	for i := range results {
		if results[i].SnapshotID == "" {
			results[i] = b.fail(ctx, snaps[i], "scoring panicked", time.Now())
		}
		stats.Attempted++
		if results[i].Scored {
			stats.Scored++
		} else {
			stats.Failed++
		}
	}
	stats.Items = results
	stats.FinishedAt = b.now().UTC()

	b.logger.Info("ledger batch finished",
		"attempted", stats.Attempted,
		"scored", stats.Scored,
		"failed", stats.Failed,
		"duration", stats.FinishedAt.Sub(stats.StartedAt))

	return stats, nil
}

// canonicalizer merges stored aliases over configured ones
func (b *Builder) canonicalizer(ctx context.Context) (*outlet.Canonicalizer, error) {
	stored, err := b.store.Aliases(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aliases: %w", err)
	}
	merged := make(map[string]string, len(b.aliases)+len(stored))
	for k, v := range b.aliases {
		merged[k] = v
	}
	for k, v := range stored {
		merged[k] = v
	}
	return outlet.NewCanonicalizer(merged), nil
}

func (b *Builder) scoreOne(ctx context.Context, canon *outlet.Canonicalizer, snap model.Snapshot) ItemResult {
	start := time.Now()

	scored, err := b.oracle.Score(ctx, snap)
	if err != nil {
		return b.fail(ctx, snap, err.Error(), start)
	}

	outletName := snap.Outlet
	if outletName == "" {
		outletName = outlet.HostFromURL(snap.StoryURL)
	}
	group := canon.Canonical(outletName)

	story, err := b.store.AppendStory(ctx, model.ScoredStory{
		SnapshotID:           snap.ID,
		Outlet:               outletName,
		OutletGroup:          group,
		StoryURL:             snap.StoryURL,
		Title:                scored.Title,
		NeutralSummary:       scored.NeutralSummary,
		KeyFacts:             scored.KeyFacts,
		ContextBackground:    scored.ContextBackground,
		StakeholderPositions: scored.StakeholderPositions,
		Timeline:             scored.Timeline,
		DisputedClaims:       scored.DisputedClaims,
		OmissionsDetected:    scored.OmissionsDetected,
		Notes:                scored.Notes,
		Model:                scored.Model,
		CapturedAt:           snap.CapturedAt,
		ScoredAt:             b.now().UTC(),
		BiasScores:           score.Compose(scored.Axes),
	})
	if err != nil {
		// Left unmarked so the next batch scores it again
		b.logger.Error("append ledger entry failed", "snapshot_id", snap.ID, "error", err)
		return ItemResult{
			SnapshotID:  snap.ID,
			StoryURL:    snap.StoryURL,
			OutletGroup: group,
			Error:       fmt.Sprintf("append story: %v", err),
			Duration:    time.Since(start),
		}
	}

	if err := b.publisher.PublishScored(ctx, story); err != nil {
		b.logger.Warn("publish ledger event failed", "story_id", story.StoryID, "error", err)
	}

	b.logger.Debug("scored", "snapshot_id", snap.ID, "story_id", story.StoryID, "version", story.Version)

	return ItemResult{
		SnapshotID:  snap.ID,
		StoryURL:    snap.StoryURL,
		OutletGroup: group,
		StoryID:     story.StoryID,
		Version:     story.Version,
		Scored:      true,
		Complete:    story.Complete(),
		Duration:    time.Since(start),
	}
}

func (b *Builder) fail(ctx context.Context, snap model.Snapshot, reason string, start time.Time) ItemResult {
	if err := b.store.MarkScoreFailed(context.WithoutCancel(ctx), snap.ID, reason); err != nil {
		b.logger.Error("mark score failed", "snapshot_id", snap.ID, "error", err)
	}
	b.logger.Warn("scoring failed", "snapshot_id", snap.ID, "url", snap.StoryURL, "error", reason)
	return ItemResult{
		SnapshotID: snap.ID,
		StoryURL:   snap.StoryURL,
		Error:      reason,
		Duration:   time.Since(start),
	}
}
