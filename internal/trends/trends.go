// Package trends computes per-day bias rollups for one canonical outlet.
// Every call is a full recompute over the ledger window.
package trends

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/newsledger/internal/model"
	"github.com/ppiankov/newsledger/internal/outlet"
	"github.com/ppiankov/newsledger/internal/score"
	"github.com/ppiankov/newsledger/internal/store"
)

// Window bounds in days
const (
	DefaultWindow = 30
	MaxWindow     = 120
)

const dayLayout = "2006-01-02"

// Store is the ledger read surface trends need
type Store interface {
	ListStories(ctx context.Context, q store.StoryQuery) ([]model.ScoredStory, error)
	Aliases(ctx context.Context) (map[string]string, error)
}

// Aggregator answers trend queries
type Aggregator struct {
	store   Store
	aliases map[string]string
	now     func() time.Time
}

// NewAggregator creates an aggregator. aliases are the configured outlet
// aliases; stored aliases win over them.
func NewAggregator(s Store, aliases map[string]string) *Aggregator {
	return &Aggregator{store: s, aliases: aliases, now: time.Now}
}

// ClampWindow bounds a requested window to [1, MaxWindow] days
func ClampWindow(days int) int {
	if days <= 0 {
		return DefaultWindow
	}
	if days > MaxWindow {
		return MaxWindow
	}
	return days
}

// Resolve maps user input (a canonical name, a domain or a URL) to the
// canonical outlet it aggregates under
func (a *Aggregator) Resolve(ctx context.Context, input string) (string, error) {
	input = strings.ToLower(strings.TrimSpace(input))
	if input == "" {
		return "", nil
	}
	if strings.Contains(input, "://") {
		input = outlet.HostFromURL(input)
	}
	input = strings.TrimPrefix(input, "www.")

	stored, err := a.store.Aliases(ctx)
	if err != nil {
		return "", fmt.Errorf("load aliases: %w", err)
	}
	merged := make(map[string]string, len(a.aliases)+len(stored))
	for k, v := range a.aliases {
		merged[k] = v
	}
	for k, v := range stored {
		merged[k] = v
	}
	return outlet.NewCanonicalizer(merged).Canonical(input), nil
}

// TrendsFor returns one point per UTC day with ledger entries for the
// outlet, covering the last windowDays days including today, oldest first
func (a *Aggregator) TrendsFor(ctx context.Context, outletInput string, windowDays int) (string, []model.OutletTrendPoint, error) {
	canonical, err := a.Resolve(ctx, outletInput)
	if err != nil {
		return "", nil, err
	}
	if canonical == "" {
		return "", []model.OutletTrendPoint{}, nil
	}

	windowDays = ClampWindow(windowDays)
	today := a.now().UTC().Truncate(24 * time.Hour)
	since := today.AddDate(0, 0, -(windowDays - 1))

	stories, err := a.store.ListStories(ctx, store.StoryQuery{
		OutletGroup: canonical,
		Since:       since,
		LatestOnly:  true,
	})
	if err != nil {
		return canonical, nil, fmt.Errorf("load ledger window: %w", err)
	}

	return canonical, Aggregate(canonical, stories), nil
}

type sum struct {
	total float64
	n     int
}

func (s *sum) add(v *float64) {
	if v != nil {
		s.total += *v
		s.n++
	}
}

func (s sum) avg() *float64 {
	if s.n == 0 {
		return nil
	}
	v := score.Round3(s.total / float64(s.n))
	return &v
}

type bucket struct {
	count                                          int
	language, source, framing, context, intent, pi sum
}

// Aggregate groups entries by UTC capture day. Averages skip null axes and
// are null when no entry in the day has that axis.
func Aggregate(canonical string, stories []model.ScoredStory) []model.OutletTrendPoint {
	buckets := make(map[string]*bucket)
	for _, st := range stories {
		day := st.CapturedAt.UTC().Format(dayLayout)
		b, ok := buckets[day]
		if !ok {
			b = &bucket{}
			buckets[day] = b
		}
		b.count++
		b.language.add(st.Language)
		b.source.add(st.Source)
		b.framing.add(st.Framing)
		b.context.add(st.Context)
		b.intent.add(st.Intent)
		b.pi.add(st.PI)
	}

	days := make([]string, 0, len(buckets))
	for day := range buckets {
		days = append(days, day)
	}
	sort.Strings(days)

	points := make([]model.OutletTrendPoint, 0, len(days))
	for _, day := range days {
		b := buckets[day]
		points = append(points, model.OutletTrendPoint{
			CanonicalOutlet:  canonical,
			StoryDay:         day,
			OutletStoryCount: b.count,
			AvgBiasLanguage:  b.language.avg(),
			AvgBiasSource:    b.source.avg(),
			AvgBiasFraming:   b.framing.avg(),
			AvgBiasContext:   b.context.avg(),
			AvgBiasIntent:    b.intent.avg(),
			AvgPIScore:       b.pi.avg(),
		})
	}
	return points
}
