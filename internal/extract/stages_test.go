package extract

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/newsledger/internal/model"
	"github.com/ppiankov/newsledger/internal/validate"
)

const articleHTML = `<!DOCTYPE html>
<html>
<head>
  <title>Council Approves Budget</title>
  <meta property="og:title" content="City Council Approves 2025 Budget">
  <script>var tracking = true;</script>
</head>
<body>
  <nav>Home | World | Politics</nav>
  <article>
    <h1>City Council Approves 2025 Budget</h1>
    <p>The city council voted 7-2 on Tuesday to approve a budget of $1.2 billion for the coming fiscal year, according to the clerk's office.</p>
    <p>The budget includes increased funding for public transit and road maintenance, while reducing spending on administrative overhead by four percent.</p>
    <p>Council members who opposed the measure said the plan did not go far enough to address the shortfall in the pension fund.</p>
  </article>
  <style>.x { color: red; }</style>
</body>
</html>`

func TestStructuredStage_Extract(t *testing.T) {
	var gotAuth string
	var gotBody structuredRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/extract" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"results":[{"url":"https://npr.org/x","raw_content":"Full article body.","title":"Headline"}],"failed_results":[]}`))
	}))
	defer server.Close()

	stage := NewStructuredStage(server.URL+"/", "tvly-key", server.Client())
	content, err := stage.Extract(context.Background(), "https://npr.org/x")
	if err != nil {
		t.Fatal(err)
	}
	if content.Text != "Full article body." || content.Title != "Headline" {
		t.Errorf("unexpected content: %+v", content)
	}
	if gotAuth != "Bearer tvly-key" {
		t.Errorf("unexpected auth header: %q", gotAuth)
	}
	if len(gotBody.URLs) != 1 || gotBody.URLs[0] != "https://npr.org/x" {
		t.Errorf("unexpected request body: %+v", gotBody)
	}
}

func TestStructuredStage_Failures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantErr  string
		boundary bool
	}{
		{"http error", http.StatusTooManyRequests, `{"detail":"rate limited"}`, "API error (429)", false},
		{"failed result", http.StatusOK, `{"results":[],"failed_results":[{"url":"u","error":"blocked by site"}]}`, "blocked by site", true},
		{"empty results", http.StatusOK, `{"results":[]}`, "results", true},
		{"empty content", http.StatusOK, `{"results":[{"url":"u","raw_content":"  "}]}`, "raw_content", true},
		{"malformed", http.StatusOK, `<html>oops</html>`, "extract-api", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			stage := NewStructuredStage(server.URL, "key", server.Client())
			_, err := stage.Extract(context.Background(), "https://npr.org/x")
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
			if got := errors.Is(err, validate.ErrBoundary); got != tt.boundary {
				t.Errorf("errors.Is(ErrBoundary) = %v, want %v", got, tt.boundary)
			}
		})
	}
}

func TestNewStructuredStage_NoKey(t *testing.T) {
	if stage := NewStructuredStage("", "", nil); stage != nil {
		t.Error("expected nil stage without API key")
	}
}

func TestBrowserlessRenderer(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"raw html", articleHTML},
		{"wrapped", mustJSON(t, map[string]string{"data": articleHTML})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotToken string
			var gotReq browserlessRequest
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotToken = r.URL.Query().Get("token")
				_ = json.NewDecoder(r.Body).Decode(&gotReq)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			renderer := NewBrowserlessRenderer(server.URL, "secret", "newsledger/0.1", server.Client())
			stage := NewRenderStage(renderer)

			content, err := stage.Extract(context.Background(), "https://npr.org/budget")
			if err != nil {
				t.Fatal(err)
			}
			if gotToken != "secret" {
				t.Errorf("expected token query param, got %q", gotToken)
			}
			if gotReq.URL != "https://npr.org/budget" || gotReq.Options.AddHeaders["User-Agent"] != "newsledger/0.1" {
				t.Errorf("unexpected render request: %+v", gotReq)
			}
			if !strings.Contains(content.Text, "voted 7-2") {
				t.Errorf("expected article text, got %q", content.Text)
			}
			if content.Title != "City Council Approves 2025 Budget" {
				t.Errorf("unexpected title %q", content.Title)
			}
		})
	}
}

func TestRenderStage_RejectsShortPages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><p>Please enable cookies.</p></body></html>`))
	}))
	defer server.Close()

	stage := NewRenderStage(NewBrowserlessRenderer(server.URL, "", "", server.Client()))
	_, err := stage.Extract(context.Background(), "https://npr.org/x")
	if err == nil || !strings.Contains(err.Error(), "too short") {
		t.Errorf("expected too-short error, got %v", err)
	}
}

func TestRenderStage_RendererError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	stage := NewRenderStage(NewBrowserlessRenderer(server.URL, "", "", server.Client()))
	if _, err := stage.Extract(context.Background(), "https://npr.org/x"); err == nil {
		t.Error("expected error on 502")
	}
}

func TestNewRenderStage_NilRenderer(t *testing.T) {
	if NewRenderStage(nil) != nil {
		t.Error("expected nil stage for nil renderer")
	}
}

type denyAll struct{}

func (denyAll) IsAllowed(ctx context.Context, rawURL string) bool { return false }

func TestDirectStage_Extract(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/budget":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(articleHTML))
		case "/missing":
			http.NotFound(w, r)
		case "/pdf":
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF-1.4"))
		}
	}))
	defer server.Close()

	fetcher := NewFetcher(FetcherConfig{Timeout: 5 * time.Second, UserAgent: "newsledger/0.1"})
	stage := NewDirectStage(fetcher, nil)
	ctx := context.Background()

	content, err := stage.Extract(ctx, server.URL+"/budget")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(content.Text, "pension fund") {
		t.Errorf("expected article body, got %q", content.Text)
	}
	if strings.Contains(content.Text, "tracking") {
		t.Errorf("script content leaked into text: %q", content.Text)
	}
	if content.Title != "City Council Approves 2025 Budget" {
		t.Errorf("unexpected title %q", content.Title)
	}

	if _, err := stage.Extract(ctx, server.URL+"/missing"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("expected 404 error, got %v", err)
	}
	if _, err := stage.Extract(ctx, server.URL+"/pdf"); err == nil || !strings.Contains(err.Error(), "content type") {
		t.Errorf("expected content type error, got %v", err)
	}

	blocked := NewDirectStage(fetcher, denyAll{})
	if _, err := blocked.Extract(ctx, server.URL+"/budget"); !errors.Is(err, ErrDisallowed) {
		t.Errorf("expected ErrDisallowed, got %v", err)
	}
}

func TestEngine_EndToEndWithHTTPStages(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer api.Close()

	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer site.Close()

	engine := NewEngine([]Stage{
		NewStructuredStage(api.URL, "key", api.Client()),
		NewDirectStage(NewFetcher(FetcherConfig{}), nil),
	})
	res := engine.Extract(context.Background(), site.URL+"/budget", Prefetched{Text: "snippet"})

	if !res.Success || res.Source != model.ExtractFetch {
		t.Fatalf("expected direct fetch after API failure, got %+v", res)
	}
	if len(res.Attempts) != 2 || res.Attempts[0].Error == "" {
		t.Errorf("expected recorded API failure, got %+v", res.Attempts)
	}
}

func TestStripMarkup(t *testing.T) {
	text := StripMarkup(articleHTML)

	if strings.Contains(text, "var tracking") || strings.Contains(text, "color: red") {
		t.Errorf("script/style content should be dropped: %q", text)
	}
	if strings.Contains(text, "Council Approves Budget") {
		t.Errorf("head title should not be part of body text: %q", text)
	}
	lines := strings.Split(text, "\n")
	if len(lines) < 4 {
		t.Errorf("expected paragraph breaks, got %d lines: %q", len(lines), text)
	}
	for _, line := range lines {
		if line != strings.TrimSpace(line) || line == "" {
			t.Errorf("lines should be trimmed and non-empty: %q", line)
		}
	}

	if StripMarkup("   ") != "" {
		t.Error("blank document should yield empty text")
	}
}

func TestTitle(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"og title wins", articleHTML, "City Council Approves 2025 Budget"},
		{"title tag", `<html><head><title> Plain </title></head><body><h1>H</h1></body></html>`, "Plain"},
		{"h1 fallback", `<html><body><h1>Only Heading</h1></body></html>`, "Only Heading"},
		{"none", `<html><body><p>text</p></body></html>`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Title(tt.doc); got != tt.want {
				t.Errorf("Title() = %q, want %q", got, tt.want)
			}
		})
	}
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}
