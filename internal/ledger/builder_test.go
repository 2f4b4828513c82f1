package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/newsledger/internal/model"
	"github.com/ppiankov/newsledger/internal/oracle"
	"github.com/ppiankov/newsledger/internal/score"
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

func insertSnapshot(t *testing.T, s *store.Store, outlet, url string, capturedAt time.Time) model.Snapshot {
	t.Helper()
	snap, err := s.InsertSnapshot(context.Background(), model.Snapshot{
		StoryURL:         url,
		Outlet:           outlet,
		Title:            "Headline",
		CapturedText:     "body of " + url,
		CapturedAt:       capturedAt,
		ExtractionSource: model.ExtractFetch,
	})
	if err != nil {
		t.Fatalf("insert snapshot: %v", err)
	}
	return snap
}

func f(v float64) *float64 { return &v }

// stubOracle fails for URLs in fail and scores everything else
type stubOracle struct {
	mu    sync.Mutex
	fail  map[string]bool
	axes  score.Axes
	calls map[string]int
}

func (o *stubOracle) Score(ctx context.Context, snap model.Snapshot) (*oracle.Scored, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.calls == nil {
		o.calls = make(map[string]int)
	}
	o.calls[snap.StoryURL]++
	if o.fail[snap.StoryURL] {
		return nil, errors.New("stub: model returned prose")
	}
	return &oracle.Scored{
		Title:          "Neutral " + snap.Title,
		NeutralSummary: "summary of " + snap.StoryURL,
		KeyFacts:       []string{"fact"},
		Axes:           o.axes,
		Model:          "stub-1",
	}, nil
}

type recordingPublisher struct {
	mu      sync.Mutex
	stories []model.ScoredStory
	err     error
}

func (p *recordingPublisher) PublishScored(ctx context.Context, story model.ScoredStory) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stories = append(p.stories, story)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func TestBuildBatch_ScoresAndAppends(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	insertSnapshot(t, s, "news.bbc.co.uk", "https://news.bbc.co.uk/a", base)
	insertSnapshot(t, s, "npr.org", "https://www.npr.org/b", base.Add(time.Minute))
	insertSnapshot(t, s, "npr.org", "https://www.npr.org/fail", base.Add(2*time.Minute))

	orc := &stubOracle{
		fail: map[string]bool{"https://www.npr.org/fail": true},
		axes: score.Axes{Language: f(1), Source: f(1), Framing: f(1), Context: f(1), Intent: f(2.9)},
	}
	pub := &recordingPublisher{err: errors.New("broker down")}

	b := NewBuilder(s, orc, pub, map[string]string{"npr.org": "npr"}, 2, nil)
	stats, err := b.BuildBatch(ctx, 10)
	if err != nil {
		t.Fatalf("BuildBatch failed: %v", err)
	}

	if stats.Attempted != 3 || stats.Scored != 2 || stats.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(pub.stories) != 2 {
		t.Errorf("expected 2 published events even when publishing fails, got %d", len(pub.stories))
	}

	stories, err := s.ListStories(ctx, store.StoryQuery{})
	if err != nil {
		t.Fatalf("ListStories: %v", err)
	}
	groups := map[string]model.ScoredStory{}
	for _, st := range stories {
		groups[st.OutletGroup] = st
	}
	bbc, ok := groups["bbc.co.uk"]
	if !ok {
		t.Fatalf("expected bbc.co.uk group, got %v", groups)
	}
	if _, ok := groups["npr"]; !ok {
		t.Errorf("expected configured alias npr, got %v", groups)
	}

	// Intent is recomputed from the four axes, not taken from the oracle
	if bbc.Intent == nil || *bbc.Intent != 1 {
		t.Errorf("expected recomputed intent 1, got %v", bbc.Intent)
	}
	if bbc.PI == nil || *bbc.PI != 0.667 {
		t.Errorf("expected pi 0.667, got %v", bbc.PI)
	}
	if !bbc.CapturedAt.Equal(base) {
		t.Errorf("expected captured_at from snapshot, got %v", bbc.CapturedAt)
	}
	if bbc.Title != "Neutral Headline" || bbc.Version != 1 {
		t.Errorf("unexpected entry: %+v", bbc)
	}

	failed, err := s.FailedScoreCount(ctx)
	if err != nil || failed != 1 {
		t.Fatalf("expected 1 failed snapshot, got %d (%v)", failed, err)
	}

	// Nothing is retried automatically
	stats, err = b.BuildBatch(ctx, 10)
	if err != nil {
		t.Fatalf("second BuildBatch failed: %v", err)
	}
	if stats.Attempted != 0 {
		t.Errorf("expected nothing to score, got %+v", stats)
	}
	if orc.calls["https://www.npr.org/fail"] != 1 {
		t.Errorf("failed snapshot was retried: %d calls", orc.calls["https://www.npr.org/fail"])
	}
}

func TestBuildBatch_StoredAliasesWin(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if err := s.SetAlias(ctx, "npr.org", "national-public-radio"); err != nil {
		t.Fatalf("SetAlias: %v", err)
	}
	insertSnapshot(t, s, "npr.org", "https://npr.org/x", time.Now())

	b := NewBuilder(s, &stubOracle{}, nil, map[string]string{"npr.org": "npr"}, 1, nil)
	stats, err := b.BuildBatch(ctx, 5)
	if err != nil {
		t.Fatalf("BuildBatch failed: %v", err)
	}
	if len(stats.Items) != 1 || stats.Items[0].OutletGroup != "national-public-radio" {
		t.Errorf("expected stored alias to win, got %+v", stats.Items)
	}
}

func TestBuildBatch_PartialAxesLeavePINull(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	insertSnapshot(t, s, "apnews.com", "https://apnews.com/1", time.Now())

	b := NewBuilder(s, &stubOracle{axes: score.Axes{Language: f(5), Source: f(1)}}, nil, nil, 1, nil)
	stats, err := b.BuildBatch(ctx, 5)
	if err != nil {
		t.Fatalf("BuildBatch failed: %v", err)
	}
	if stats.Scored != 1 || stats.Items[0].Complete {
		t.Fatalf("expected one incomplete entry, got %+v", stats.Items)
	}

	st, err := s.ListStories(ctx, store.StoryQuery{})
	if err != nil || len(st) != 1 {
		t.Fatalf("ListStories: %v %d", err, len(st))
	}
	if st[0].Language == nil || *st[0].Language != 3 {
		t.Errorf("expected language clamped to 3, got %v", st[0].Language)
	}
	if st[0].Framing != nil || st[0].Intent != nil || st[0].PI != nil {
		t.Errorf("expected missing axes, intent and pi to stay null: %+v", st[0].BiasScores)
	}
}

func TestBuildBatch_RetryFailedScores(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	insertSnapshot(t, s, "npr.org", "https://npr.org/flaky", time.Now())

	orc := &stubOracle{fail: map[string]bool{"https://npr.org/flaky": true}}
	b := NewBuilder(s, orc, nil, nil, 1, nil)
	if _, err := b.BuildBatch(ctx, 5); err != nil {
		t.Fatalf("BuildBatch failed: %v", err)
	}

	if n, err := s.RetryFailedScores(ctx); err != nil || n != 1 {
		t.Fatalf("RetryFailedScores = %d, %v", n, err)
	}
	orc.fail = nil

	stats, err := b.BuildBatch(ctx, 5)
	if err != nil {
		t.Fatalf("BuildBatch failed: %v", err)
	}
	if stats.Scored != 1 {
		t.Errorf("expected the re-queued snapshot to score, got %+v", stats)
	}
}

type brokenStore struct {
	*store.Store
	appendErr  error
	aliasesErr error
}

func (b *brokenStore) AppendStory(ctx context.Context, st model.ScoredStory) (model.ScoredStory, error) {
	if b.appendErr != nil {
		return model.ScoredStory{}, b.appendErr
	}
	return b.Store.AppendStory(ctx, st)
}

func (b *brokenStore) Aliases(ctx context.Context) (map[string]string, error) {
	if b.aliasesErr != nil {
		return nil, b.aliasesErr
	}
	return b.Store.Aliases(ctx)
}

func TestBuildBatch_PersistenceFailures(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	insertSnapshot(t, s, "npr.org", "https://npr.org/1", time.Now())

	bs := &brokenStore{Store: s, appendErr: errors.New("disk full")}
	stats, err := NewBuilder(bs, &stubOracle{}, nil, nil, 1, nil).BuildBatch(ctx, 5)
	if err != nil {
		t.Fatalf("BuildBatch failed: %v", err)
	}
	if stats.Failed != 1 || !strings.Contains(stats.Items[0].Error, "disk full") {
		t.Errorf("expected append failure recorded, got %+v", stats.Items)
	}

	// An append failure is not an oracle failure; the snapshot stays eligible
	if n, _ := s.FailedScoreCount(ctx); n != 0 {
		t.Errorf("expected no recorded scoring failure, got %d", n)
	}

	bs = &brokenStore{Store: s, aliasesErr: errors.New("locked")}
	if _, err := NewBuilder(bs, &stubOracle{}, nil, nil, 1, nil).BuildBatch(ctx, 5); err == nil {
		t.Error("expected alias load error")
	}
}

func TestClampLimit(t *testing.T) {
	tests := map[int]int{-1: 20, 0: 20, 1: 1, 20: 20, 50: 50, 51: 50, 1000: 50}
	for in, want := range tests {
		if got := ClampLimit(in); got != want {
			t.Errorf("ClampLimit(%d) = %d, want %d", in, got, want)
		}
	}
}
