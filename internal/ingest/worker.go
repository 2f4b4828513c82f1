// Package ingest drains the backfill queue, extracts article text and
// records immutable snapshots
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ppiankov/newsledger/internal/archive"
	"github.com/ppiankov/newsledger/internal/extract"
	"github.com/ppiankov/newsledger/internal/logging"
	"github.com/ppiankov/newsledger/internal/model"
	"github.com/ppiankov/newsledger/internal/worker"
)

// NotStartedReason marks items drained in a batch whose context ended before
// they were attempted
const NotStartedReason = "not started: context cancelled"

// Batch limit bounds for externally triggered runs
const (
	DefaultLimit = 10
	MaxLimit     = 20
)

// ClampLimit bounds limit to [1, MaxLimit], defaulting non-positive values
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Queue is the backfill queue as seen by the worker
type Queue interface {
	Drain(ctx context.Context, limit int, lease time.Duration) ([]model.CandidateStory, error)
	Release(ctx context.Context, id int64, lastError string, maxAttempts int) (bool, error)
	Unclaim(ctx context.Context, id int64) error
	Remove(ctx context.Context, id int64) error
}

// SnapshotWriter persists snapshots
type SnapshotWriter interface {
	InsertSnapshot(ctx context.Context, snap model.Snapshot) (model.Snapshot, error)
}

// Extractor runs the extraction fallback chain
type Extractor interface {
	Extract(ctx context.Context, rawURL string, pre extract.Prefetched) extract.Result
}

// RateLimiter paces requests per host
type RateLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Options tune a Worker. Zero values take the defaults noted per field.
type Options struct {
	Workers     int           // Concurrent items, default 4
	ItemTimeout time.Duration // Bound on one item end to end, default 40s
	ClaimTTL    time.Duration // Drain lease, default 10m
	MaxAttempts int           // Dead-letter threshold, 0 retries forever
}

// Worker runs ingest batches
type Worker struct {
	queue     Queue
	snapshots SnapshotWriter
	extractor Extractor
	limiter   RateLimiter
	archiver  archive.Archiver
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

// NewWorker creates a worker. limiter and archiver may be nil.
func NewWorker(queue Queue, snapshots SnapshotWriter, extractor Extractor, limiter RateLimiter, archiver archive.Archiver, opts Options, logger *slog.Logger) *Worker {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.ItemTimeout <= 0 {
		opts.ItemTimeout = 40 * time.Second
	}
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = 10 * time.Minute
	}
	if opts.ClaimTTL < opts.ItemTimeout {
		opts.ClaimTTL = 2 * opts.ItemTimeout
	}
	if archiver == nil {
		archiver = archive.Nop{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Worker{
		queue:     queue,
		snapshots: snapshots,
		extractor: extractor,
		limiter:   limiter,
		archiver:  archiver,
		opts:      opts,
		logger:    logger.With("component", "ingest"),
		now:       time.Now,
	}
}

// RunBatch drains up to limit candidates and ingests them with bounded
// concurrency. Item failures are counted, not returned; the error is non-nil
// only when the queue could not be drained at all.
func (w *Worker) RunBatch(ctx context.Context, limit int) (Stats, error) {
	started := w.now().UTC()

	items, err := w.queue.Drain(ctx, limit, w.opts.ClaimTTL)
	if err != nil {
		return Stats{}, fmt.Errorf("drain queue: %w", err)
	}

	var mu sync.Mutex
	panicked := make(map[int64]bool)
	results := worker.Map(ctx, w.opts.Workers, items, w.ingestOne, func(item model.CandidateStory, err error) {
		mu.Lock()
		panicked[item.ID] = true
		mu.Unlock()
		w.logger.Error("ingest item panicked", "queue_id", item.ID, "url", item.StoryURL, "error", err)
	})

	// An empty slot either panicked or was never dispatched because ctx ended
	for i := range results {
		if results[i].QueueID != 0 || items[i].ID == 0 {
			continue
		}
		if panicked[items[i].ID] {
			results[i] = w.fail(ctx, items[i], nil, "ingest panicked", time.Now())
		} else {
			results[i] = w.notStarted(ctx, items[i])
		}
	}

	stats := Merge(results)
	stats.StartedAt = started
	stats.FinishedAt = w.now().UTC()
	stats.Limit = limit

	w.logger.Info("ingest batch finished",
		"drained", len(items),
		"ingested", stats.Ingested,
		"failed", stats.Failed,
		"dead_lettered", stats.DeadLettered,
		"duration", stats.FinishedAt.Sub(stats.StartedAt))

	return stats, nil
}

func (w *Worker) ingestOne(ctx context.Context, item model.CandidateStory) ItemResult {
	if ctx.Err() != nil {
		return w.notStarted(ctx, item)
	}
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, w.opts.ItemTimeout)
	defer cancel()

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, item.StoryURL); err != nil {
			return w.fail(ctx, item, nil, fmt.Sprintf("rate limit: %v", err), start)
		}
	}

	res := w.extractor.Extract(ctx, item.StoryURL, extract.Prefetched{Text: item.Snippet, Title: item.Title})
	attempted := make([]model.ExtractionSource, 0, len(res.Attempts))
	for _, a := range res.Attempts {
		attempted = append(attempted, a.Stage)
	}

	if !res.Success {
		return w.fail(ctx, item, attempted, res.Error, start)
	}

	title := res.Title
	if title == "" {
		title = item.Title
	}
	snap, err := w.snapshots.InsertSnapshot(ctx, model.Snapshot{
		StoryURL:         item.StoryURL,
		Outlet:           item.Outlet,
		Title:            title,
		CapturedText:     res.Text,
		ExtractionSource: res.Source,
	})
	if err != nil {
		return w.fail(ctx, item, attempted, fmt.Sprintf("persist snapshot: %v", err), start)
	}

	// The snapshot is durable; a failed delete only means a later re-ingest
	// appends another snapshot
	if err := w.queue.Remove(context.WithoutCancel(ctx), item.ID); err != nil {
		w.logger.Warn("remove queue row failed", "queue_id", item.ID, "url", item.StoryURL, "error", err)
	}

	if err := w.archiver.Archive(ctx, snap); err != nil {
		w.logger.Warn("archive snapshot failed", "snapshot_id", snap.ID, "error", err)
	}

	w.logger.Debug("ingested", "queue_id", item.ID, "url", item.StoryURL, "source", res.Source, "snapshot_id", snap.ID)

	return ItemResult{
		QueueID:          item.ID,
		Outlet:           item.Outlet,
		StoryURL:         item.StoryURL,
		Discovery:        item.Source,
		Attempted:        attempted,
		ExtractionSource: res.Source,
		Succeeded:        true,
		SnapshotID:       snap.ID,
		Truncated:        res.Truncated,
		Duration:         time.Since(start),
	}
}

// notStarted hands an unattempted item back to the queue without charging
// it an attempt. It still counts as failed in the batch.
func (w *Worker) notStarted(ctx context.Context, item model.CandidateStory) ItemResult {
	if err := w.queue.Unclaim(context.WithoutCancel(ctx), item.ID); err != nil {
		w.logger.Error("unclaim queue row failed", "queue_id", item.ID, "url", item.StoryURL, "error", err)
	}
	w.logger.Debug("ingest not started", "queue_id", item.ID, "url", item.StoryURL, "error", ctx.Err())
	return ItemResult{
		QueueID:          item.ID,
		Outlet:           item.Outlet,
		StoryURL:         item.StoryURL,
		Discovery:        item.Source,
		ExtractionSource: model.ExtractNone,
		Error:            NotStartedReason,
	}
}

// fail releases the claim so the item is retried on a later run, or
// dead-letters it once MaxAttempts is reached
func (w *Worker) fail(ctx context.Context, item model.CandidateStory, attempted []model.ExtractionSource, reason string, start time.Time) ItemResult {
	result := ItemResult{
		QueueID:          item.ID,
		Outlet:           item.Outlet,
		StoryURL:         item.StoryURL,
		Discovery:        item.Source,
		Attempted:        attempted,
		ExtractionSource: model.ExtractNone,
		Error:            reason,
	}

	dead, err := w.queue.Release(context.WithoutCancel(ctx), item.ID, reason, w.opts.MaxAttempts)
	if err != nil {
		w.logger.Error("release queue row failed", "queue_id", item.ID, "url", item.StoryURL, "error", err)
	}
	result.DeadLettered = dead

	level := slog.LevelWarn
	if dead {
		level = slog.LevelError
	}
	w.logger.Log(ctx, level, "ingest failed",
		"queue_id", item.ID, "url", item.StoryURL, "attempts", item.Attempts, "dead_lettered", dead, "error", reason)

	result.Duration = time.Since(start)
	return result
}
