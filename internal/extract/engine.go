package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ppiankov/newsledger/internal/logging"
	"github.com/ppiankov/newsledger/internal/model"
)

// TruncationMarker is appended to text clamped at the length limit
const TruncationMarker = "\n[...truncated...]"

const (
	defaultStageTimeout = 8 * time.Second
	defaultMaxChars     = 20_000
)

// Content is what a stage produced for a URL
type Content struct {
	Text  string
	Title string
}

// Stage is one backend in the fallback chain
type Stage interface {
	Name() model.ExtractionSource
	Extract(ctx context.Context, rawURL string) (Content, error)
}

// StageAttempt records the outcome of one stage for one URL
type StageAttempt struct {
	Stage    model.ExtractionSource `json:"stage"`
	Duration time.Duration          `json:"duration"`
	Error    string                 `json:"error,omitempty"`
}

// Result is the outcome of running the chain. Success=false means every
// stage failed and Error aggregates their reasons.
type Result struct {
	Success   bool                   `json:"success"`
	Text      string                 `json:"text,omitempty"`
	Title     string                 `json:"title,omitempty"`
	Source    model.ExtractionSource `json:"source"`
	Truncated bool                   `json:"truncated,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Attempts  []StageAttempt         `json:"attempts"`
}

// Prefetched carries optional text already obtained during discovery
type Prefetched struct {
	Text  string
	Title string
}

// Engine runs stages in order, each at most once with its own timeout,
// stopping at the first stage that yields non-empty text
type Engine struct {
	stages       []Stage
	stageTimeout time.Duration
	maxChars     int
	logger       *slog.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithStageTimeout sets the per-stage timeout
func WithStageTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.stageTimeout = d
		}
	}
}

// WithMaxChars sets the clamp length
func WithMaxChars(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxChars = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates an engine over stages in priority order. Nil stages are
// skipped so optional backends can be passed unconditionally.
func NewEngine(stages []Stage, opts ...Option) *Engine {
	e := &Engine{
		stageTimeout: defaultStageTimeout,
		maxChars:     defaultMaxChars,
		logger:       logging.Discard(),
	}
	for _, s := range stages {
		if s != nil {
			e.stages = append(e.stages, s)
		}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stages returns the names of the configured stages in order
func (e *Engine) Stages() []model.ExtractionSource {
	names := make([]model.ExtractionSource, len(e.stages))
	for i, s := range e.stages {
		names[i] = s.Name()
	}
	return names
}

// Extract runs the chain for rawURL. It never returns an error and never
// panics: stage failures, timeouts and panics are recorded as attempts.
func (e *Engine) Extract(ctx context.Context, rawURL string, pre Prefetched) Result {
	res := Result{Source: model.ExtractNone, Attempts: make([]StageAttempt, 0, len(e.stages)+1)}
	var failures []string

	if strings.TrimSpace(rawURL) != "" {
		for _, stage := range e.stages {
			if err := ctx.Err(); err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", stage.Name(), err))
				break
			}

			content, attempt := e.runStage(ctx, stage, rawURL)
			res.Attempts = append(res.Attempts, attempt)

			if attempt.Error != "" {
				failures = append(failures, fmt.Sprintf("%s: %s", stage.Name(), attempt.Error))
				e.logger.Debug("extraction stage failed", "url", rawURL, "stage", stage.Name(), "error", attempt.Error)
				continue
			}

			return e.success(res, stage.Name(), content, pre.Title)
		}
	} else {
		failures = append(failures, "empty url")
	}

	if text := strings.TrimSpace(pre.Text); text != "" {
		res.Attempts = append(res.Attempts, StageAttempt{Stage: model.ExtractSnippet})
		return e.success(res, model.ExtractSnippet, Content{Text: text, Title: pre.Title}, pre.Title)
	}

	res.Error = "all extraction stages failed"
	if len(failures) > 0 {
		res.Error += ": " + strings.Join(failures, "; ")
	}
	res.Title = pre.Title
	return res
}

func (e *Engine) success(res Result, source model.ExtractionSource, content Content, fallbackTitle string) Result {
	res.Success = true
	res.Source = source
	res.Text, res.Truncated = Clamp(content.Text, e.maxChars)
	res.Title = content.Title
	if res.Title == "" {
		res.Title = fallbackTitle
	}
	return res
}

func (e *Engine) runStage(ctx context.Context, stage Stage, rawURL string) (content Content, attempt StageAttempt) {
	attempt.Stage = stage.Name()
	start := time.Now()

	stageCtx, cancel := context.WithTimeout(ctx, e.stageTimeout)
	defer cancel()

	defer func() {
		attempt.Duration = time.Since(start)
		if r := recover(); r != nil {
			content = Content{}
			attempt.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	c, err := stage.Extract(stageCtx, rawURL)
	if err != nil {
		attempt.Error = err.Error()
		return Content{}, attempt
	}

	c.Text = strings.TrimSpace(c.Text)
	if c.Text == "" {
		attempt.Error = "empty text"
		return Content{}, attempt
	}
	c.Title = strings.TrimSpace(c.Title)
	return c, attempt
}

// Clamp limits text to maxChars runes, appending TruncationMarker when cut
func Clamp(text string, maxChars int) (string, bool) {
	if maxChars <= 0 {
		return text, false
	}
	if len(text) <= maxChars {
		return text, false
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text, false
	}
	return string(runes[:maxChars]) + TruncationMarker, true
}
