// Package digest assembles the read-optimized projection of the ledger
package digest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/newsledger/internal/cache"
	"github.com/ppiankov/newsledger/internal/model"
	"github.com/ppiankov/newsledger/internal/store"
)

// Limit bounds
const (
	DefaultLimit = 20
	MaxLimit     = 50
)

// Store is the ledger read surface the assembler needs
type Store interface {
	ListStories(ctx context.Context, q store.StoryQuery) ([]model.ScoredStory, error)
}

// Assembler builds digests, optionally through a cache
type Assembler struct {
	store Store
	cache cache.Cache
	ttl   time.Duration
}

// NewAssembler creates an assembler. c may be nil to disable caching.
func NewAssembler(s Store, c cache.Cache, ttl time.Duration) *Assembler {
	return &Assembler{store: s, cache: c, ttl: ttl}
}

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

// NormalizeSort returns store.SortNeutrality for "neutrality" and
// store.SortRecency for anything else
func NormalizeSort(sort string) string {
	if strings.EqualFold(strings.TrimSpace(sort), store.SortNeutrality) {
		return store.SortNeutrality
	}
	return store.SortRecency
}

// Digest returns the latest version of the most recent stories. Recency
// orders by capture time descending, then pi_score; neutrality by pi_score
// descending, then capture time. Null scores sort last.
func (a *Assembler) Digest(ctx context.Context, limit int, sort string) ([]model.DigestEntry, error) {
	limit = ClampLimit(limit)
	sort = NormalizeSort(sort)

	key := cache.Key("digest", sort, strconv.Itoa(limit))
	if entries, ok := cache.GetJSON[[]model.DigestEntry](a.cache, key); ok {
		return entries, nil
	}

	stories, err := a.store.ListStories(ctx, store.StoryQuery{
		Sort:       sort,
		Limit:      limit,
		LatestOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("digest: %w", err)
	}

	entries := make([]model.DigestEntry, 0, len(stories))
	for _, st := range stories {
		entries = append(entries, Project(st))
	}

	_ = cache.SetJSON(a.cache, key, entries, a.ttl)
	return entries, nil
}

// Project maps a ledger entry to its digest shape
func Project(st model.ScoredStory) model.DigestEntry {
	return model.DigestEntry{
		ID:              st.ID,
		Outlet:          st.Outlet,
		OutletGroup:     st.OutletGroup,
		Title:           st.Title,
		NeutralSummary:  st.NeutralSummary,
		URL:             st.StoryURL,
		KeyFacts:        st.KeyFacts,
		BiasIntentScore: st.Intent,
		PIScore:         st.PI,
		CapturedAt:      st.CapturedAt,
	}
}
