package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ppiankov/newsledger/internal/logging"
	"github.com/ppiankov/newsledger/internal/model"
	"github.com/ppiankov/newsledger/internal/outlet"
	"github.com/ppiankov/newsledger/internal/worker"
)

// DefaultDays is the backfill window when none is given
const DefaultDays = 90

// Enqueuer is the backfill queue write surface
type Enqueuer interface {
	Enqueue(ctx context.Context, c model.CandidateStory) (bool, error)
}

// Feeds fetches feed items
type Feeds interface {
	FetchRSSItems(ctx context.Context, feedURL string) ([]FeedItem, error)
}

// Searcher runs news searches
type Searcher interface {
	Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error)
}

// OutletResult reports one outlet's backfill
type OutletResult struct {
	Outlet           string   `json:"outlet"`
	RSSQueued        int      `json:"rss_queued"`
	SearchQueued     int      `json:"search_queued"`
	RSSDuplicates    int      `json:"rss_duplicates"`
	SearchDuplicates int      `json:"search_duplicates"`
	Errors           []string `json:"errors"`
}

// Backfiller discovers candidates for registered outlets
type Backfiller struct {
	registry    []model.OutletConfig
	byName      map[string]model.OutletConfig
	feeds       Feeds
	search      Searcher
	queue       Enqueuer
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

// NewBackfiller creates a backfiller over the outlet registry. feeds and
// search may be nil to skip that discovery source.
func NewBackfiller(registry []model.OutletConfig, feeds Feeds, search Searcher, queue Enqueuer, logger *slog.Logger) *Backfiller {
	if logger == nil {
		logger = logging.Discard()
	}
	byName := make(map[string]model.OutletConfig, len(registry))
	for _, cfg := range registry {
		byName[strings.ToLower(strings.TrimSpace(cfg.Canonical))] = cfg
	}
	return &Backfiller{
		registry:    registry,
		byName:      byName,
		feeds:       feeds,
		search:      search,
		queue:       queue,
		concurrency: 2,
		logger:      logger.With("component", "discovery"),
		now:         time.Now,
	}
}

// Outlets returns the canonical names of every registered outlet
func (b *Backfiller) Outlets() []string {
	names := make([]string, 0, len(b.registry))
	for _, cfg := range b.registry {
		names = append(names, cfg.Canonical)
	}
	return names
}

// Run backfills the named outlets, or every registered outlet when names is
// empty, over the last days days. One outlet failing never stops the others.
func (b *Backfiller) Run(ctx context.Context, names []string, days int) []OutletResult {
	if days <= 0 {
		days = DefaultDays
	}
	if len(names) == 0 {
		names = b.Outlets()
	}

	results := worker.Map(ctx, b.concurrency, names, func(ctx context.Context, name string) OutletResult {
		return b.backfillOutlet(ctx, name, days)
	}, func(name string, err error) {
		b.logger.Error("backfill panicked", "outlet", name, "error", err)
	})

	for i := range results {
		if results[i].Outlet == "" {
			results[i] = OutletResult{Outlet: names[i], Errors: []string{"backfill panicked"}}
		}
	}
	return results
}

func (b *Backfiller) backfillOutlet(ctx context.Context, name string, days int) OutletResult {
	key := strings.ToLower(strings.TrimSpace(name))
	cfg, ok := b.byName[key]
	if !ok {
		b.logger.Warn("no config for outlet", "outlet", name)
		return OutletResult{Outlet: key, Errors: []string{"unknown outlet"}}
	}

	res := OutletResult{Outlet: cfg.Canonical, Errors: []string{}}
	seen := make(map[string]bool)

	if cfg.RSS != "" && b.feeds != nil {
		items, err := b.feeds.FetchRSSItems(ctx, cfg.RSS)
		if err != nil {
			b.logger.Warn("rss discovery failed", "outlet", cfg.Canonical, "feed", cfg.RSS, "error", err)
			res.Errors = append(res.Errors, fmt.Sprintf("rss: %v", err))
		}
		for _, item := range FilterItemsByDays(items, days, b.now()) {
			queued, err := b.enqueue(ctx, seen, model.CandidateStory{
				Outlet:   cfg.Canonical,
				StoryURL: item.Link,
				Source:   model.SourceRSS,
				Title:    item.Title,
			})
			switch {
			case err != nil:
				res.Errors = append(res.Errors, err.Error())
			case queued:
				res.RSSQueued++
			default:
				res.RSSDuplicates++
			}
		}
	}

	if b.search != nil {
		query := cfg.SearchQuery
		if query == "" {
			query = "site:" + cfg.Canonical
		}
		hits, err := b.search.Search(ctx, query, SearchOptions{Max: cfg.MaxResults, News: true, Days: days})
		if err != nil {
			b.logger.Warn("search discovery failed", "outlet", cfg.Canonical, "query", query, "error", err)
			res.Errors = append(res.Errors, fmt.Sprintf("search: %v", err))
		}
		for _, hit := range hits {
			queued, err := b.enqueue(ctx, seen, model.CandidateStory{
				Outlet:   cfg.Canonical,
				StoryURL: hit.URL,
				Source:   model.SourceSearch,
				Title:    hit.Title,
				Snippet:  hit.Content,
			})
			switch {
			case err != nil:
				res.Errors = append(res.Errors, err.Error())
			case queued:
				res.SearchQueued++
			default:
				res.SearchDuplicates++
			}
		}
	}

	b.logger.Info("backfilled outlet",
		"outlet", cfg.Canonical,
		"rss_queued", res.RSSQueued,
		"search_queued", res.SearchQueued,
		"duplicates", res.RSSDuplicates+res.SearchDuplicates,
		"errors", len(res.Errors))

	return res
}

// enqueue normalizes the URL and inserts it. A URL already seen in this
// run or already queued reports false with a nil error.
func (b *Backfiller) enqueue(ctx context.Context, seen map[string]bool, c model.CandidateStory) (bool, error) {
	normalized, err := outlet.NormalizeURL(c.StoryURL)
	if err != nil {
		return false, fmt.Errorf("%s: %w", c.StoryURL, err)
	}
	identity := identityKey(normalized)
	if seen[identity] {
		return false, nil
	}
	seen[identity] = true

	c.StoryURL = normalized
	c.EnqueuedAt = b.now().UTC()
	queued, err := b.queue.Enqueue(ctx, c)
	if err != nil {
		b.logger.Warn("enqueue failed", "outlet", c.Outlet, "url", normalized, "error", err)
		return false, fmt.Errorf("enqueue %s: %w", normalized, err)
	}
	return queued, nil
}

// identityKey compares URLs with "www." dropped from the host
func identityKey(normalized string) string {
	if i := strings.Index(normalized, "://www."); i >= 0 {
		return normalized[:i+3] + normalized[i+7:]
	}
	return normalized
}
