package model

import "time"

// DiscoverySource identifies how a candidate URL was discovered
type DiscoverySource string

const (
	SourceRSS    DiscoverySource = "rss"
	SourceSearch DiscoverySource = "search"
)

// ExtractionSource identifies which extraction stage produced a snapshot
type ExtractionSource string

const (
	ExtractStructured ExtractionSource = "structured" // Content-extraction API
	ExtractRender     ExtractionSource = "render"     // Headless render + strip
	ExtractFetch      ExtractionSource = "fetch"      // Direct HTTP fetch + strip
	ExtractSnippet    ExtractionSource = "snippet"    // Pre-fetched search snippet
	ExtractNone       ExtractionSource = "none"
)

// CandidateStory is a queued URL awaiting ingestion
type CandidateStory struct {
	ID         int64           `json:"id"`
	Outlet     string          `json:"outlet"`
	StoryURL   string          `json:"story_url"`
	Source     DiscoverySource `json:"source"`
	Title      string          `json:"title,omitempty"`
	Snippet    string          `json:"snippet,omitempty"` // Pre-fetched text from search results
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"last_error,omitempty"`
}

// Snapshot is an immutable capture of extracted article text.
// Re-ingesting a URL produces a new snapshot, never an update.
type Snapshot struct {
	ID               string           `json:"id"`
	StoryURL         string           `json:"story_url"`
	Outlet           string           `json:"outlet"`
	Title            string           `json:"title,omitempty"`
	CapturedText     string           `json:"captured_text"`
	CapturedAt       time.Time        `json:"captured_at"`
	ExtractionSource ExtractionSource `json:"extraction_source"`
}

// BiasScores holds the five bias axes and the composite PI score.
// A nil axis means the scorer did not produce a usable value.
type BiasScores struct {
	Language *float64 `json:"bias_language_score"`
	Framing  *float64 `json:"bias_framing_score"`
	Source   *float64 `json:"bias_source_score"`
	Context  *float64 `json:"bias_context_score"`
	Intent   *float64 `json:"bias_intent_score"`
	PI       *float64 `json:"pi_score"`
}

// Complete reports whether all five axes are present
func (b BiasScores) Complete() bool {
	return b.Language != nil && b.Framing != nil && b.Source != nil && b.Context != nil && b.Intent != nil
}

// ScoredStory is an append-only neutrality ledger entry
type ScoredStory struct {
	ID                   string    `json:"id"`
	StoryID              string    `json:"story_id"`
	Version              int       `json:"version"`
	SnapshotID           string    `json:"snapshot_id"`
	Outlet               string    `json:"outlet"`
	OutletGroup          string    `json:"outlet_group"` // Canonical outlet
	StoryURL             string    `json:"story_url"`
	Title                string    `json:"title"`
	NeutralSummary       string    `json:"neutral_summary"`
	KeyFacts             []string  `json:"key_facts"`
	ContextBackground    string    `json:"context_background,omitempty"`
	StakeholderPositions string    `json:"stakeholder_positions,omitempty"`
	Timeline             string    `json:"timeline,omitempty"`
	DisputedClaims       string    `json:"disputed_claims,omitempty"`
	OmissionsDetected    string    `json:"omissions_detected,omitempty"`
	Notes                string    `json:"notes,omitempty"`
	Model                string    `json:"model,omitempty"`
	CapturedAt           time.Time `json:"captured_at"`
	ScoredAt             time.Time `json:"scored_at"`
	BiasScores
}

// OutletAlias maps an observed domain to a curated canonical outlet
type OutletAlias struct {
	Alias     string `json:"alias"`
	Canonical string `json:"canonical"`
}

// OutletTrendPoint is a per-day rollup of ledger entries for one canonical outlet
type OutletTrendPoint struct {
	CanonicalOutlet  string   `json:"canonical_outlet"`
	StoryDay         string   `json:"story_day"` // YYYY-MM-DD, UTC
	OutletStoryCount int      `json:"outlet_story_count"`
	AvgBiasLanguage  *float64 `json:"avg_bias_language"`
	AvgBiasSource    *float64 `json:"avg_bias_source"`
	AvgBiasFraming   *float64 `json:"avg_bias_framing"`
	AvgBiasContext   *float64 `json:"avg_bias_context"`
	AvgBiasIntent    *float64 `json:"avg_bias_intent"`
	AvgPIScore       *float64 `json:"avg_pi_score"`
}

// OutletNeutrality is an outlet-level aggregate over the whole ledger
type OutletNeutrality struct {
	Outlet                string    `json:"outlet"`
	StoryCount            int       `json:"story_count"`
	AvgBiasIntentScore    *float64  `json:"avg_bias_intent_score"`
	BiasIntentScoreStddev *float64  `json:"bias_intent_score_stddev"`
	AvgPIScore            *float64  `json:"avg_pi_score"`
	FirstScoredAt         time.Time `json:"first_scored_at"`
	LastScoredAt          time.Time `json:"last_scored_at"`
}

// DigestEntry is the read-optimized projection of a ledger entry
type DigestEntry struct {
	ID              string    `json:"id"`
	Outlet          string    `json:"outlet"`
	OutletGroup     string    `json:"outlet_group"`
	Title           string    `json:"title"`
	NeutralSummary  string    `json:"neutral_summary"`
	URL             string    `json:"url"`
	KeyFacts        []string  `json:"key_facts,omitempty"`
	BiasIntentScore *float64  `json:"bias_intent_score"`
	PIScore         *float64  `json:"pi_score"`
	CapturedAt      time.Time `json:"captured_at"`
}
