package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ppiankov/newsledger/internal/extract"
	"github.com/ppiankov/newsledger/internal/model"
	"github.com/ppiankov/newsledger/internal/score"
	"github.com/ppiankov/newsledger/internal/validate"
)

// ErrEmptySnapshot is returned when a snapshot has no text to score
var ErrEmptySnapshot = errors.New("snapshot has no text")

const systemPrompt = `You are a neutral media analyst. You read one news story snapshot and return a single JSON object describing the story neutrally and scoring how it is told. You measure intent and framing, not whether the story is true.`

const scoringInstructions = `Score four bias axes from 0.0 to 3.0 (0 = no bias, 3 = strong bias):

bias_language_score: emotionally charged, loaded or inflammatory wording.
  0 strictly neutral wording, 1 mild emotional shading, 2 clearly slanted, 3 propagandistic or inflammatory.
bias_source_score: balance and credibility of sourcing.
  0 multiple credible diverse sources with clear attribution, 1 mild skew or limited diversity, 2 few or one-sided sources, 3 no credible sources.
bias_framing_score: how events and actors are framed.
  0 balanced with multiple perspectives, 1 slight tilt, 2 clearly one-sided, 3 overtly adversarial or cheerleading.
bias_context_score: omission or distortion of important context.
  0 thorough and fair, 1 minor gaps, 2 important context missing or downplayed, 3 misleading by omission.

bias_intent_score = 0.30*language + 0.25*source + 0.25*framing + 0.20*context.

Return ONLY a JSON object with these keys:
{
  "title": "neutral headline",
  "neutral_summary": "200-300 word factual, non-partisan summary with emotional language removed",
  "key_facts": ["short verifiable fact", "..."],
  "context_background": "background a reader needs",
  "stakeholder_positions": "who holds which position, attributed",
  "timeline": "key dates in order",
  "disputed_claims": "claims that are contested and by whom",
  "omissions_detected": "relevant context the article leaves out",
  "bias_language_score": 0.0,
  "bias_source_score": 0.0,
  "bias_framing_score": 0.0,
  "bias_context_score": 0.0,
  "bias_intent_score": 0.0,
  "notes": "one or two sentences explaining the scores"
}
All scores must be numbers. Do not add other keys or commentary.`

// Scored is the validated oracle output for one snapshot
type Scored struct {
	Title                string
	NeutralSummary       string
	KeyFacts             []string
	ContextBackground    string
	StakeholderPositions string
	Timeline             string
	DisputedClaims       string
	OmissionsDetected    string
	Notes                string
	Axes                 score.Axes
	Model                string
	TokensUsed           int
}

// rawScore is the wire shape of an oracle reply
type rawScore struct {
	Title                validate.Text       `json:"title"`
	NeutralSummary       validate.Text       `json:"neutral_summary"`
	KeyFacts             validate.StringList `json:"key_facts"`
	ContextBackground    validate.Text       `json:"context_background"`
	StakeholderPositions validate.Text       `json:"stakeholder_positions"`
	Timeline             validate.Text       `json:"timeline"`
	DisputedClaims       validate.Text       `json:"disputed_claims"`
	OmissionsDetected    validate.Text       `json:"omissions_detected"`
	Notes                validate.Text       `json:"notes"`
	Language             validate.Number     `json:"bias_language_score"`
	Source               validate.Number     `json:"bias_source_score"`
	Framing              validate.Number     `json:"bias_framing_score"`
	Context              validate.Number     `json:"bias_context_score"`
	Intent               validate.Number     `json:"bias_intent_score"`
}

// Scorer turns snapshots into scored narrative fields through a Provider
type Scorer struct {
	provider      Provider
	maxInputChars int
	maxTokens     int
}

// NewScorer creates a scorer. maxInputChars bounds the article text sent
// to the provider (default 6000).
func NewScorer(provider Provider, maxInputChars, maxTokens int) *Scorer {
	if maxInputChars <= 0 {
		maxInputChars = 6000
	}
	return &Scorer{
		provider:      provider,
		maxInputChars: maxInputChars,
		maxTokens:     maxTokens,
	}
}

// Name returns the underlying provider name
func (s *Scorer) Name() string {
	return s.provider.Name()
}

// Score asks the provider to score one snapshot. Any error means no ledger
// entry should be produced for it.
func (s *Scorer) Score(ctx context.Context, snap model.Snapshot) (*Scored, error) {
	body, _ := extract.Clamp(strings.TrimSpace(snap.CapturedText), s.maxInputChars)
	if body == "" {
		return nil, ErrEmptySnapshot
	}

	completion, err := s.provider.Complete(ctx, CompletionRequest{
		System:    systemPrompt,
		User:      BuildPrompt(snap, body),
		MaxTokens: s.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.provider.Name(), err)
	}

	scored, err := ParseScore(s.provider.Name(), completion.Text)
	if err != nil {
		return nil, err
	}
	if scored.Title == "" {
		scored.Title = snap.Title
	}
	scored.Model = completion.Model
	scored.TokensUsed = completion.TokensUsed
	return scored, nil
}

// BuildPrompt renders the user message for one snapshot
func BuildPrompt(snap model.Snapshot, body string) string {
	url := snap.StoryURL
	if url == "" {
		url = "(none)"
	}

	var b strings.Builder
	b.WriteString(scoringInstructions)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "ARTICLE_TITLE: %s\n", snap.Title)
	fmt.Fprintf(&b, "OUTLET: %s\n", snap.Outlet)
	fmt.Fprintf(&b, "URL: %s\n\n", url)
	b.WriteString("ARTICLE_BODY_SNAPSHOT:\n\"\"\"\n")
	b.WriteString(body)
	b.WriteString("\n\"\"\"")
	return b.String()
}

// ParseScore validates a provider reply. Axes that are missing or not
// numeric stay nil; a reply without a neutral summary is rejected.
func ParseScore(source, text string) (*Scored, error) {
	payload, ok := validate.ExtractObject(text)
	if !ok {
		return nil, &validate.BoundaryError{Source: source, Reason: "no JSON object in reply"}
	}

	raw, err := validate.Decode(source, payload, func(r *rawScore) error {
		if strings.TrimSpace(string(r.NeutralSummary)) == "" {
			return validate.Fieldf(source, "neutral_summary", "missing")
		}
		return nil
	}).Unpack()
	if err != nil {
		return nil, err
	}

	return &Scored{
		Title:                strings.TrimSpace(string(raw.Title)),
		NeutralSummary:       strings.TrimSpace(string(raw.NeutralSummary)),
		KeyFacts:             []string(raw.KeyFacts),
		ContextBackground:    string(raw.ContextBackground),
		StakeholderPositions: string(raw.StakeholderPositions),
		Timeline:             string(raw.Timeline),
		DisputedClaims:       string(raw.DisputedClaims),
		OmissionsDetected:    string(raw.OmissionsDetected),
		Notes:                string(raw.Notes),
		Axes: score.Axes{
			Language: raw.Language.Ptr(),
			Framing:  raw.Framing.Ptr(),
			Source:   raw.Source.Ptr(),
			Context:  raw.Context.Ptr(),
			Intent:   raw.Intent.Ptr(),
		},
	}, nil
}
