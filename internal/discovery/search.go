package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/newsledger/internal/cache"
	"github.com/ppiankov/newsledger/internal/validate"
)

const searchSource = "search-api"

// MaxSearchResults is the per-request cap of the search API
const MaxSearchResults = 10

// SearchOptions narrow a search
type SearchOptions struct {
	Max  int  // Clamped to [1, MaxSearchResults], default 5
	News bool // Restrict to news results
	Days int  // News window, ignored unless News
}

// SearchResult is one validated search hit
type SearchResult struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Content       string  `json:"content,omitempty"`
	Score         float64 `json:"score,omitempty"`
	PublishedDate string  `json:"published_date,omitempty"`
}

// SearchClient queries a news search API (Tavily /search wire format)
type SearchClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cache      cache.Cache
	cacheTTL   time.Duration
}

// NewSearchClient creates a client. It returns nil when no API key is
// configured, and a nil client searches nothing.
func NewSearchClient(baseURL, apiKey string, httpClient *http.Client, c cache.Cache, cacheTTL time.Duration) *SearchClient {
	if apiKey == "" {
		return nil
	}
	if baseURL == "" {
		baseURL = "https://api.tavily.com"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &SearchClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		cache:      c,
		cacheTTL:   cacheTTL,
	}
}

type searchRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	SearchDepth string `json:"search_depth"`
	MaxResults  int    `json:"max_results"`
	SearchType  string `json:"search_type,omitempty"`
	Days        int    `json:"days,omitempty"`
}

type searchHit struct {
	Title         validate.Text   `json:"title"`
	URL           validate.Text   `json:"url"`
	Content       validate.Text   `json:"content"`
	Snippet       validate.Text   `json:"snippet"`
	Score         validate.Number `json:"score"`
	PublishedDate validate.Text   `json:"published_date"`
}

type searchResponse struct {
	Results []searchHit `json:"results"`
	News    []searchHit `json:"news"`
}

// ClampMax bounds a requested result count
func ClampMax(max int) int {
	if max <= 0 {
		return 5
	}
	if max > MaxSearchResults {
		return MaxSearchResults
	}
	return max
}

// Search runs one query. Hits without a URL are dropped.
func (c *SearchClient) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if c == nil || query == "" {
		return []SearchResult{}, nil
	}

	reqBody := searchRequest{
		APIKey:      c.apiKey,
		Query:       query,
		SearchDepth: "basic",
		MaxResults:  ClampMax(opts.Max),
	}
	if opts.News {
		reqBody.SearchType = "news"
		if opts.Days > 0 {
			reqBody.Days = opts.Days
		}
	}

	key := cache.Key("search", query, strconv.Itoa(reqBody.MaxResults), reqBody.SearchType, strconv.Itoa(reqBody.Days))
	if results, ok := cache.GetJSON[[]SearchResult](c.cache, key); ok {
		return results, nil
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("API error (%d)", resp.StatusCode)
	}

	parsed, err := validate.Decode[searchResponse](searchSource, respBody).Unpack()
	if err != nil {
		return nil, err
	}

	hits := parsed.Results
	if len(hits) == 0 {
		hits = parsed.News
	}

	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		url := strings.TrimSpace(string(h.URL))
		if url == "" {
			continue
		}
		title := string(h.Title)
		if title == "" {
			title = url
		}
		content := string(h.Content)
		if content == "" {
			content = string(h.Snippet)
		}
		results = append(results, SearchResult{
			Title:         title,
			URL:           url,
			Content:       content,
			Score:         h.Score.Value,
			PublishedDate: string(h.PublishedDate),
		})
	}

	_ = cache.SetJSON(c.cache, key, results, c.cacheTTL)
	return results, nil
}
