package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/newsledger/internal/extract"
	"github.com/ppiankov/newsledger/internal/model"
	"github.com/ppiankov/newsledger/internal/store"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func enqueue(t *testing.T, s *store.Store, outlet string, source model.DiscoverySource, urls ...string) {
	t.Helper()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, u := range urls {
		if _, err := s.Enqueue(context.Background(), model.CandidateStory{
			Outlet:     outlet,
			StoryURL:   u,
			Source:     source,
			EnqueuedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("enqueue %s: %v", u, err)
		}
	}
}

// fakeStage succeeds for URLs in ok and fails for everything else
type fakeStage struct {
	name  model.ExtractionSource
	ok    map[string]bool
	calls int32
}

func (f *fakeStage) Name() model.ExtractionSource { return f.name }

func (f *fakeStage) Extract(ctx context.Context, rawURL string) (extract.Content, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.ok[rawURL] {
		return extract.Content{Text: "body of " + rawURL, Title: "Title"}, nil
	}
	return extract.Content{}, errors.New("unexpected status: 403 Forbidden")
}

func set(urls ...string) map[string]bool {
	m := make(map[string]bool, len(urls))
	for _, u := range urls {
		m[u] = true
	}
	return m
}

type recordingArchiver struct {
	mu    sync.Mutex
	snaps []model.Snapshot
	err   error
}

func (r *recordingArchiver) Archive(ctx context.Context, snap model.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
	return r.err
}

func TestRunBatch_EndToEnd(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	urls := []string{"https://npr.org/a", "https://npr.org/b", "https://npr.org/c"}
	enqueue(t, s, "npr.org", model.SourceRSS, urls...)

	pending, _ := s.Pending(ctx, 10)
	if len(pending) != 3 {
		t.Fatalf("expected 3 queued rows, got %d", len(pending))
	}
	for _, p := range pending {
		if p.Source != model.SourceRSS {
			t.Errorf("expected rss source, got %s", p.Source)
		}
	}

	structured := &fakeStage{name: model.ExtractStructured, ok: set(urls[0])}
	direct := &fakeStage{name: model.ExtractFetch, ok: set(urls[1])}
	engine := extract.NewEngine([]extract.Stage{structured, direct})
	archiver := &recordingArchiver{}

	w := NewWorker(s, s, engine, nil, archiver, Options{Workers: 2, MaxAttempts: 8}, nil)
	stats, err := w.RunBatch(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}

	if stats.Ingested != 2 || stats.Failed != 1 || stats.Ingested+stats.Failed != 3 {
		t.Errorf("unexpected stats: ingested=%d failed=%d", stats.Ingested, stats.Failed)
	}
	if len(stats.Items) != 3 {
		t.Fatalf("expected 3 item results, got %d", len(stats.Items))
	}
	for source, n := range stats.SucceededPerSource {
		if n > stats.AttemptedPerSource[source] {
			t.Errorf("source %s: succeeded %d > attempted %d", source, n, stats.AttemptedPerSource[source])
		}
	}
	if stats.AttemptedPerSource["structured"] != 3 || stats.SucceededPerSource["structured"] != 1 {
		t.Errorf("unexpected structured counts: %+v / %+v", stats.AttemptedPerSource, stats.SucceededPerSource)
	}
	if stats.AttemptedPerSource["fetch"] != 2 || stats.SucceededPerSource["fetch"] != 1 {
		t.Errorf("unexpected fetch counts: %+v / %+v", stats.AttemptedPerSource, stats.SucceededPerSource)
	}

	// Successes have snapshots and left the queue; the failure stays queued
	for _, u := range urls[:2] {
		snaps, err := s.SnapshotsByURL(ctx, u)
		if err != nil || len(snaps) != 1 {
			t.Errorf("expected one snapshot for %s, got %d (%v)", u, len(snaps), err)
		}
	}
	pending, _ = s.Pending(ctx, 10)
	if len(pending) != 1 || pending[0].StoryURL != urls[2] {
		t.Fatalf("expected only the failed URL queued, got %+v", pending)
	}
	if pending[0].LastError == "" || pending[0].Attempts != 1 {
		t.Errorf("expected recorded failure on the queued row, got %+v", pending[0])
	}
	if snaps, _ := s.SnapshotsByURL(ctx, urls[2]); len(snaps) != 0 {
		t.Error("failed extraction must not write a snapshot")
	}
	if len(archiver.snaps) != 2 {
		t.Errorf("expected 2 archived snapshots, got %d", len(archiver.snaps))
	}
}

func TestRunBatch_ExhaustionLeavesItemQueued(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	enqueue(t, s, "npr.org", model.SourceSearch, "https://npr.org/x")

	stages := []*fakeStage{
		{name: model.ExtractStructured},
		{name: model.ExtractRender},
		{name: model.ExtractFetch},
	}
	engine := extract.NewEngine([]extract.Stage{stages[0], stages[1], stages[2]})

	stats, err := NewWorker(s, s, engine, nil, nil, Options{}, nil).RunBatch(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Failed != 1 || stats.Ingested != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
	for _, st := range stages {
		if atomic.LoadInt32(&st.calls) != 1 {
			t.Errorf("stage %s called %d times, want 1", st.name, st.calls)
		}
	}

	pending, _ := s.Pending(ctx, 10)
	if len(pending) != 1 {
		t.Fatalf("expected the candidate to stay queued, got %d rows", len(pending))
	}
	if snaps, _ := s.SnapshotsByURL(ctx, "https://npr.org/x"); len(snaps) != 0 {
		t.Error("no snapshot expected after exhaustion")
	}

	// The released row is drained again on the next run
	stats, _ = NewWorker(s, s, engine, nil, nil, Options{}, nil).RunBatch(ctx, 10)
	if stats.Failed != 1 {
		t.Errorf("expected retry on next run, got %+v", stats)
	}
}

func TestRunBatch_DeadLetter(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	enqueue(t, s, "npr.org", model.SourceRSS, "https://npr.org/gone")

	engine := extract.NewEngine([]extract.Stage{&fakeStage{name: model.ExtractFetch}})
	w := NewWorker(s, s, engine, nil, nil, Options{MaxAttempts: 2}, nil)

	first, _ := w.RunBatch(ctx, 10)
	if first.DeadLettered != 0 {
		t.Errorf("first failure should not dead-letter: %+v", first)
	}
	second, _ := w.RunBatch(ctx, 10)
	if second.DeadLettered != 1 || !second.Items[0].DeadLettered {
		t.Errorf("second failure should dead-letter: %+v", second)
	}

	third, _ := w.RunBatch(ctx, 10)
	if len(third.Items) != 0 {
		t.Errorf("dead rows must not be drained again, got %d items", len(third.Items))
	}
	dead, _ := s.Dead(ctx, 10)
	if len(dead) != 1 {
		t.Errorf("expected one dead row kept for inspection, got %d", len(dead))
	}
}

func TestRunBatch_SnippetFallbackAndLimit(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for i, u := range []string{"https://bbc.co.uk/1", "https://bbc.co.uk/2", "https://bbc.co.uk/3"} {
		_, err := s.Enqueue(ctx, model.CandidateStory{
			Outlet: "bbc.co.uk", StoryURL: u, Source: model.SourceSearch,
			Snippet: "snippet text", Title: "Search title",
			EnqueuedAt: time.Date(2025, 3, 1, 0, i, 0, 0, time.UTC),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	engine := extract.NewEngine([]extract.Stage{&fakeStage{name: model.ExtractStructured}})
	stats, err := NewWorker(s, s, engine, nil, nil, Options{}, nil).RunBatch(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(stats.Items) != 2 || stats.Ingested != 2 {
		t.Fatalf("expected 2 items ingested, got %+v", stats)
	}
	if stats.SucceededPerSource["snippet"] != 2 {
		t.Errorf("expected snippet successes, got %+v", stats.SucceededPerSource)
	}
	// Oldest first
	if stats.Items[0].StoryURL != "https://bbc.co.uk/1" || stats.Items[1].StoryURL != "https://bbc.co.uk/2" {
		t.Errorf("expected oldest items first, got %s, %s", stats.Items[0].StoryURL, stats.Items[1].StoryURL)
	}

	snaps, _ := s.SnapshotsByURL(ctx, "https://bbc.co.uk/1")
	if len(snaps) != 1 || snaps[0].ExtractionSource != model.ExtractSnippet || snaps[0].Title != "Search title" {
		t.Errorf("unexpected snippet snapshot %+v", snaps)
	}
}

// failingQueue wraps a store with injected failures
type failingQueue struct {
	*store.Store
	drainErr  error
	removeErr error
}

func (f *failingQueue) Drain(ctx context.Context, limit int, lease time.Duration) ([]model.CandidateStory, error) {
	if f.drainErr != nil {
		return nil, f.drainErr
	}
	return f.Store.Drain(ctx, limit, lease)
}

func (f *failingQueue) Remove(ctx context.Context, id int64) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	return f.Store.Remove(ctx, id)
}

// cancelAfterDrain cancels the batch context once the queue has been drained
type cancelAfterDrain struct {
	*store.Store
	cancel context.CancelFunc
}

func (c *cancelAfterDrain) Drain(ctx context.Context, limit int, lease time.Duration) ([]model.CandidateStory, error) {
	items, err := c.Store.Drain(ctx, limit, lease)
	c.cancel()
	return items, err
}

type failingSnapshots struct{}

func (failingSnapshots) InsertSnapshot(ctx context.Context, snap model.Snapshot) (model.Snapshot, error) {
	return model.Snapshot{}, errors.New("disk full")
}

func TestRunBatch_PersistenceFailures(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	enqueue(t, s, "npr.org", model.SourceRSS, "https://npr.org/a")
	engine := extract.NewEngine([]extract.Stage{&fakeStage{name: model.ExtractFetch, ok: set("https://npr.org/a")}})

	// Snapshot write fails: item counts as failed and stays queued
	stats, err := NewWorker(s, failingSnapshots{}, engine, nil, nil, Options{}, nil).RunBatch(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Failed != 1 || stats.Items[0].Error == "" {
		t.Errorf("expected persistence failure counted, got %+v", stats)
	}
	if pending, _ := s.Pending(ctx, 10); len(pending) != 1 {
		t.Error("item should remain queued after persistence failure")
	}

	// Queue delete fails after the snapshot is written: still a success
	q := &failingQueue{Store: s, removeErr: errors.New("locked")}
	stats, _ = NewWorker(q, s, engine, nil, nil, Options{}, nil).RunBatch(ctx, 10)
	if stats.Ingested != 1 {
		t.Errorf("best-effort remove failure must not fail the item: %+v", stats)
	}

	// Drain failure is the only batch-level error
	q = &failingQueue{Store: s, drainErr: errors.New("no such table")}
	if _, err := NewWorker(q, s, engine, nil, nil, Options{}, nil).RunBatch(ctx, 10); err == nil {
		t.Error("expected drain error")
	}
}

func TestRunBatch_CancelledBeforeStartIsNotCharged(t *testing.T) {
	s := newStore(t)
	urls := []string{"https://npr.org/a", "https://npr.org/b", "https://npr.org/c"}
	enqueue(t, s, "npr.org", model.SourceRSS, urls...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stage := &fakeStage{name: model.ExtractFetch, ok: set(urls...)}
	engine := extract.NewEngine([]extract.Stage{stage})
	q := &cancelAfterDrain{Store: s, cancel: cancel}

	stats, err := NewWorker(q, s, engine, nil, nil, Options{Workers: 1, MaxAttempts: 1}, nil).RunBatch(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Ingested+stats.Failed != 3 || stats.DeadLettered != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	for _, item := range stats.Items {
		if item.Error != NotStartedReason {
			t.Errorf("%s: expected %q, got %q", item.StoryURL, NotStartedReason, item.Error)
		}
	}
	if calls := atomic.LoadInt32(&stage.calls); calls != 0 {
		t.Errorf("no extraction should run after cancellation, got %d calls", calls)
	}

	// Every row is back in the queue with its attempt refunded
	pending, _ := s.Pending(context.Background(), 10)
	if len(pending) != 3 {
		t.Fatalf("expected 3 rows still queued, got %d", len(pending))
	}
	for _, p := range pending {
		if p.Attempts != 0 {
			t.Errorf("%s: expected attempts refunded, got %d", p.StoryURL, p.Attempts)
		}
	}
	if dead, _ := s.Dead(context.Background(), 10); len(dead) != 0 {
		t.Errorf("never-tried rows must not be dead-lettered, got %d", len(dead))
	}
}

type countingLimiter struct{ calls int32 }

func (c *countingLimiter) Wait(ctx context.Context, rawURL string) error {
	atomic.AddInt32(&c.calls, 1)
	return nil
}

func TestRunBatch_UsesLimiterAndTolerantArchive(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	urls := []string{"https://npr.org/a", "https://npr.org/b"}
	enqueue(t, s, "npr.org", model.SourceRSS, urls...)

	limiter := &countingLimiter{}
	engine := extract.NewEngine([]extract.Stage{&fakeStage{name: model.ExtractFetch, ok: set(urls...)}})
	archiver := &recordingArchiver{err: errors.New("s3 down")}

	stats, err := NewWorker(s, s, engine, limiter, archiver, Options{}, nil).RunBatch(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&limiter.calls) != 2 {
		t.Errorf("expected limiter consulted per item, got %d", limiter.calls)
	}
	if stats.Ingested != 2 {
		t.Errorf("archive failures must not fail items: %+v", stats)
	}
}

func TestRunBatch_ConcurrentRunsNeverDoubleProcess(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	var urls []string
	for i := 0; i < 12; i++ {
		urls = append(urls, "https://npr.org/story/"+string(rune('a'+i)))
	}
	enqueue(t, s, "npr.org", model.SourceRSS, urls...)

	stage := &fakeStage{name: model.ExtractFetch, ok: set(urls...)}
	engine := extract.NewEngine([]extract.Stage{stage})

	var wg sync.WaitGroup
	var ingested int32
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats, err := NewWorker(s, s, engine, nil, nil, Options{Workers: 2}, nil).RunBatch(ctx, 5)
			if err != nil {
				t.Error(err)
				return
			}
			atomic.AddInt32(&ingested, int32(stats.Ingested))
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&stage.calls); got != atomic.LoadInt32(&ingested) {
		t.Errorf("extraction calls %d != ingested %d: a candidate was processed twice", got, ingested)
	}
	for _, u := range urls {
		if snaps, _ := s.SnapshotsByURL(ctx, u); len(snaps) > 1 {
			t.Errorf("%s ingested %d times", u, len(snaps))
		}
	}
}

func TestMerge(t *testing.T) {
	results := []ItemResult{
		{QueueID: 1, Attempted: []model.ExtractionSource{"structured"}, ExtractionSource: "structured", Succeeded: true},
		{QueueID: 2, Attempted: []model.ExtractionSource{"structured", "render", "fetch"}, ExtractionSource: "fetch", Succeeded: true},
		{QueueID: 3, Attempted: []model.ExtractionSource{"structured", "render", "fetch"}, ExtractionSource: "none", Error: "all failed"},
		{QueueID: 4, Attempted: nil, ExtractionSource: "none", Error: "rate limit", DeadLettered: true},
	}

	stats := Merge(results)
	if stats.Ingested != 2 || stats.Failed != 2 || stats.DeadLettered != 1 {
		t.Errorf("unexpected totals %+v", stats)
	}
	if stats.Ingested+stats.Failed != len(results) {
		t.Error("ingested + failed must equal item count")
	}
	want := map[string]int{"structured": 3, "render": 2, "fetch": 2}
	for k, v := range want {
		if stats.AttemptedPerSource[k] != v {
			t.Errorf("attempted[%s] = %d, want %d", k, stats.AttemptedPerSource[k], v)
		}
	}
	if _, ok := stats.SucceededPerSource["none"]; ok {
		t.Error("failures must not count as successes")
	}

	// The summary does not alias the input
	results[0].Succeeded = false
	if !stats.Items[0].Succeeded {
		t.Error("Merge must copy item results")
	}

	empty := Merge(nil)
	if empty.Ingested != 0 || empty.AttemptedPerSource == nil || empty.Items == nil {
		t.Errorf("empty merge should have initialized maps: %+v", empty)
	}
}

func TestClampLimit(t *testing.T) {
	cases := map[int]int{-1: 10, 0: 10, 1: 1, 15: 15, 20: 20, 500: 20}
	for in, want := range cases {
		if got := ClampLimit(in); got != want {
			t.Errorf("ClampLimit(%d) = %d, want %d", in, got, want)
		}
	}
}
