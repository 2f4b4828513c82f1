// Package discovery finds candidate story URLs for registered outlets from
// RSS feeds and a news search API and enqueues them for ingestion
package discovery

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// FeedItem is one entry of an outlet feed
type FeedItem struct {
	Title     string
	Link      string
	Summary   string
	Published time.Time // Zero when the feed carries no date
}

// FeedReader fetches RSS/Atom feeds
type FeedReader struct {
	parser *gofeed.Parser
}

// NewFeedReader creates a reader that sends userAgent with every request
func NewFeedReader(httpClient *http.Client, userAgent string) *FeedReader {
	parser := gofeed.NewParser()
	if httpClient != nil {
		parser.Client = httpClient
	}
	if userAgent != "" {
		parser.UserAgent = userAgent
	}
	return &FeedReader{parser: parser}
}

// FetchRSSItems retrieves and parses a feed
func (r *FeedReader) FetchRSSItems(ctx context.Context, feedURL string) ([]FeedItem, error) {
	feed, err := r.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}

	items := make([]FeedItem, 0, len(feed.Items))
	for _, item := range feed.Items {
		link := strings.TrimSpace(item.Link)
		if link == "" {
			continue
		}

		var published time.Time
		if item.PublishedParsed != nil {
			published = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			published = *item.UpdatedParsed
		}

		summary := item.Description
		if summary == "" {
			summary = item.Content
		}

		items = append(items, FeedItem{
			Title:     strings.TrimSpace(item.Title),
			Link:      link,
			Summary:   summary,
			Published: published,
		})
	}
	return items, nil
}

// FilterItemsByDays keeps items published within the last days days of now.
// Undated items are kept; the queue deduplicates them.
func FilterItemsByDays(items []FeedItem, days int, now time.Time) []FeedItem {
	if days <= 0 {
		return items
	}
	cutoff := now.AddDate(0, 0, -days)
	out := make([]FeedItem, 0, len(items))
	for _, item := range items {
		if item.Published.IsZero() || !item.Published.Before(cutoff) {
			out = append(out, item)
		}
	}
	return out
}
