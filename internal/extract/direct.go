package extract

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"

	"github.com/ppiankov/newsledger/internal/model"
)

// ErrDisallowed is returned when robots.txt forbids fetching a URL
var ErrDisallowed = errors.New("disallowed by robots.txt")

// RobotsPolicy decides whether a URL may be fetched
type RobotsPolicy interface {
	IsAllowed(ctx context.Context, rawURL string) bool
}

// DirectStage fetches the page itself and extracts the article body with
// readability, falling back to plain markup stripping
type DirectStage struct {
	fetcher *Fetcher
	robots  RobotsPolicy
}

// NewDirectStage creates the stage. robots may be nil to skip the check.
func NewDirectStage(fetcher *Fetcher, robots RobotsPolicy) *DirectStage {
	return &DirectStage{fetcher: fetcher, robots: robots}
}

// Name implements Stage
func (s *DirectStage) Name() model.ExtractionSource { return model.ExtractFetch }

// Extract implements Stage
func (s *DirectStage) Extract(ctx context.Context, rawURL string) (Content, error) {
	if s.robots != nil && !s.robots.IsAllowed(ctx, rawURL) {
		return Content{}, ErrDisallowed
	}

	page, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return Content{}, err
	}

	title := Title(page.HTML)
	if text := readable(page.HTML, page.FinalURL); text != "" {
		return Content{Text: text, Title: title}, nil
	}

	text := StripMarkup(page.HTML)
	if text == "" {
		return Content{}, fmt.Errorf("no text in document")
	}
	return Content{Text: text, Title: title}, nil
}

// readable returns the readability main-content text, or "" when the
// document has no identifiable article body
func readable(document, pageURL string) string {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	article, err := readability.FromReader(strings.NewReader(document), parsed)
	if err != nil {
		return ""
	}
	return collapseLines(article.TextContent)
}
