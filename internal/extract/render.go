package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	pw "github.com/playwright-community/playwright-go"

	"github.com/ppiankov/newsledger/internal/model"
)

// minRenderedChars rejects rendered pages that are mostly chrome (consent
// walls, error shells)
const minRenderedChars = 200

// Renderer returns the fully rendered HTML of a page
type Renderer interface {
	Render(ctx context.Context, rawURL string) (string, error)
}

// RenderStage renders a page in a headless browser and strips the markup
type RenderStage struct {
	renderer Renderer
	minChars int
}

// NewRenderStage wraps a renderer. A nil renderer yields a nil stage.
func NewRenderStage(r Renderer) *RenderStage {
	if r == nil {
		return nil
	}
	return &RenderStage{renderer: r, minChars: minRenderedChars}
}

// Name implements Stage
func (s *RenderStage) Name() model.ExtractionSource { return model.ExtractRender }

// Extract implements Stage
func (s *RenderStage) Extract(ctx context.Context, rawURL string) (Content, error) {
	document, err := s.renderer.Render(ctx, rawURL)
	if err != nil {
		return Content{}, fmt.Errorf("render: %w", err)
	}

	text := StripMarkup(document)
	if len(text) < s.minChars {
		return Content{}, fmt.Errorf("rendered text too short: %d chars", len(text))
	}
	return Content{Text: text, Title: Title(document)}, nil
}

// BrowserlessRenderer renders through a Browserless /content endpoint
type BrowserlessRenderer struct {
	baseURL    string
	token      string
	userAgent  string
	httpClient *http.Client
}

// NewBrowserlessRenderer creates a renderer for baseURL
func NewBrowserlessRenderer(baseURL, token, userAgent string, httpClient *http.Client) *BrowserlessRenderer {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &BrowserlessRenderer{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		userAgent:  userAgent,
		httpClient: httpClient,
	}
}

type browserlessRequest struct {
	URL     string `json:"url"`
	Options struct {
		AddHeaders map[string]string `json:"addHeaders,omitempty"`
	} `json:"options"`
}

// Render implements Renderer
func (b *BrowserlessRenderer) Render(ctx context.Context, rawURL string) (string, error) {
	payload := browserlessRequest{URL: rawURL}
	if b.userAgent != "" {
		payload.Options.AddHeaders = map[string]string{"User-Agent": b.userAgent}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := b.baseURL + "/content"
	if b.token != "" {
		endpoint += "?token=" + url.QueryEscape(b.token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	// Some deployments wrap the document as {"data": "<html>..."}
	var wrapped struct {
		Data *string `json:"data"`
	}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &wrapped); err == nil && wrapped.Data != nil {
			return *wrapped.Data, nil
		}
	}
	return string(raw), nil
}

// PlaywrightRenderer renders with a local headless Chromium. The browser is
// launched lazily on first use and shared across renders.
type PlaywrightRenderer struct {
	executablePath string

	mu      sync.Mutex
	driver  *pw.Playwright
	browser pw.Browser
}

// NewPlaywrightRenderer creates a renderer. executablePath may be empty to use
// the browser installed by playwright.
func NewPlaywrightRenderer(executablePath string) *PlaywrightRenderer {
	return &PlaywrightRenderer{executablePath: executablePath}
}

func (p *PlaywrightRenderer) ensureBrowser() (pw.Browser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.browser != nil && p.browser.IsConnected() {
		return p.browser, nil
	}

	if p.driver == nil {
		runtime, err := pw.Run()
		if err != nil {
			return nil, fmt.Errorf("start playwright: %w", err)
		}
		p.driver = runtime
	}

	opts := pw.BrowserTypeLaunchOptions{Headless: pw.Bool(true)}
	if p.executablePath != "" {
		opts.ExecutablePath = pw.String(p.executablePath)
	}
	browser, err := p.driver.Chromium.Launch(opts)
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	p.browser = browser
	return browser, nil
}

// Render implements Renderer
func (p *PlaywrightRenderer) Render(ctx context.Context, rawURL string) (string, error) {
	browser, err := p.ensureBrowser()
	if err != nil {
		return "", err
	}

	page, err := browser.NewPage()
	if err != nil {
		return "", fmt.Errorf("new page: %w", err)
	}
	defer func() { _ = page.Close() }()

	timeoutMs := float64(defaultStageTimeout.Milliseconds())
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			timeoutMs = float64(remaining.Milliseconds())
		}
	}

	type outcome struct {
		html string
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		if _, err := page.Goto(rawURL, pw.PageGotoOptions{
			WaitUntil: pw.WaitUntilStateNetworkidle,
			Timeout:   pw.Float(timeoutMs),
		}); err != nil {
			done <- outcome{err: fmt.Errorf("goto: %w", err)}
			return
		}
		content, err := page.Content()
		if err != nil {
			done <- outcome{err: fmt.Errorf("content: %w", err)}
			return
		}
		done <- outcome{html: content}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case o := <-done:
		return o.html, o.err
	}
}

// Close shuts the browser and the playwright driver down
func (p *PlaywrightRenderer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []string
	if p.browser != nil {
		if err := p.browser.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		p.browser = nil
	}
	if p.driver != nil {
		if err := p.driver.Stop(); err != nil {
			errs = append(errs, err.Error())
		}
		p.driver = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("close playwright: %s", strings.Join(errs, "; "))
	}
	return nil
}
