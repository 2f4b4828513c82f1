package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ppiankov/newsledger/internal/model"
	"github.com/ppiankov/newsledger/internal/validate"
)

const structuredSource = "extract-api"

// StructuredStage calls a content-extraction API (Tavily /extract wire format)
type StructuredStage struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewStructuredStage creates the stage. It returns nil when no API key is
// configured so the engine skips it.
func NewStructuredStage(baseURL, apiKey string, httpClient *http.Client) *StructuredStage {
	if apiKey == "" {
		return nil
	}
	if baseURL == "" {
		baseURL = "https://api.tavily.com"
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &StructuredStage{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

// Name implements Stage
func (s *StructuredStage) Name() model.ExtractionSource { return model.ExtractStructured }

type structuredRequest struct {
	URLs         []string `json:"urls"`
	ExtractDepth string   `json:"extract_depth,omitempty"`
}

type structuredResponse struct {
	Results []struct {
		URL        string `json:"url"`
		RawContent string `json:"raw_content"`
		Title      string `json:"title"`
	} `json:"results"`
	FailedResults []struct {
		URL   string `json:"url"`
		Error string `json:"error"`
	} `json:"failed_results"`
}

// Extract implements Stage
func (s *StructuredStage) Extract(ctx context.Context, rawURL string) (Content, error) {
	body, err := json.Marshal(structuredRequest{URLs: []string{rawURL}, ExtractDepth: "basic"})
	if err != nil {
		return Content{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/extract", bytes.NewReader(body))
	if err != nil {
		return Content{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Content{}, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return Content{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Content{}, fmt.Errorf("API error (%d): %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	decoded := validate.Decode(structuredSource, respBody, func(r *structuredResponse) error {
		if len(r.Results) == 0 {
			if len(r.FailedResults) > 0 {
				return validate.Fieldf(structuredSource, "failed_results", "%s", r.FailedResults[0].Error)
			}
			return validate.Fieldf(structuredSource, "results", "empty")
		}
		if strings.TrimSpace(r.Results[0].RawContent) == "" {
			return validate.Fieldf(structuredSource, "results[0].raw_content", "empty")
		}
		return nil
	})
	parsed, err := decoded.Unpack()
	if err != nil {
		return Content{}, err
	}

	first := parsed.Results[0]
	return Content{Text: first.RawContent, Title: first.Title}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
