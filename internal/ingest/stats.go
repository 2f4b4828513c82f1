package ingest

import (
	"time"

	"github.com/ppiankov/newsledger/internal/model"
)

// ItemResult is the outcome of one candidate. Each in-flight item builds its
// own value; nothing is shared between items.
type ItemResult struct {
	QueueID          int64                    `json:"queue_id"`
	Outlet           string                   `json:"outlet"`
	StoryURL         string                   `json:"story_url"`
	Discovery        model.DiscoverySource    `json:"discovery_source"`
	Attempted        []model.ExtractionSource `json:"attempted"`
	ExtractionSource model.ExtractionSource   `json:"extraction_source"`
	Succeeded        bool                     `json:"succeeded"`
	SnapshotID       string                   `json:"snapshot_id,omitempty"`
	Truncated        bool                     `json:"truncated,omitempty"`
	DeadLettered     bool                     `json:"dead_lettered,omitempty"`
	Error            string                   `json:"error,omitempty"`
	Duration         time.Duration            `json:"duration_ns"`
}

// Stats summarizes one batch. Per-source maps are keyed by extraction stage.
type Stats struct {
	StartedAt          time.Time      `json:"started_at"`
	FinishedAt         time.Time      `json:"finished_at"`
	Limit              int            `json:"limit"`
	AttemptedPerSource map[string]int `json:"attempted_per_source"`
	SucceededPerSource map[string]int `json:"succeeded_per_source"`
	Ingested           int            `json:"ingested"`
	Failed             int            `json:"failed"`
	DeadLettered       int            `json:"dead_lettered"`
	Items              []ItemResult   `json:"items"`
}

// Merge folds per-item results into a batch summary. It is a pure function of
// its input; the input slice is copied, not retained.
func Merge(results []ItemResult) Stats {
	stats := Stats{
		AttemptedPerSource: make(map[string]int),
		SucceededPerSource: make(map[string]int),
		Items:              make([]ItemResult, len(results)),
	}
	copy(stats.Items, results)

	for _, r := range results {
		for _, stage := range r.Attempted {
			stats.AttemptedPerSource[string(stage)]++
		}
		if r.Succeeded {
			stats.Ingested++
			stats.SucceededPerSource[string(r.ExtractionSource)]++
			continue
		}
		stats.Failed++
		if r.DeadLettered {
			stats.DeadLettered++
		}
	}
	return stats
}
