package score

import (
	"math"

	"github.com/ppiankov/newsledger/internal/model"
)

const (
	// MinAxis and MaxAxis bound every bias axis
	MinAxis = 0.0
	MaxAxis = 3.0
)

// Intent weights over the four observable axes
const (
	weightLanguage = 0.30
	weightSource   = 0.25
	weightFraming  = 0.25
	weightContext  = 0.20
)

// Axes is the raw per-axis output of a scorer before composition
type Axes struct {
	Language *float64
	Framing  *float64
	Source   *float64
	Context  *float64
	Intent   *float64
}

// Compose clamps every present axis to [0,3], derives intent from the four
// observable axes when they are all present, and sets PI only when all five
// axes are present. Higher PI means more neutral.
func Compose(raw Axes) model.BiasScores {
	out := model.BiasScores{
		Language: Clamp(raw.Language),
		Framing:  Clamp(raw.Framing),
		Source:   Clamp(raw.Source),
		Context:  Clamp(raw.Context),
		Intent:   Clamp(raw.Intent),
	}

	if out.Language != nil && out.Source != nil && out.Framing != nil && out.Context != nil {
		intent := weightLanguage*(*out.Language) +
			weightSource*(*out.Source) +
			weightFraming*(*out.Framing) +
			weightContext*(*out.Context)
		out.Intent = Clamp(ptr(Round3(intent)))
	}

	if out.Complete() {
		out.PI = ptr(Round3(1 - *out.Intent/MaxAxis))
	}

	return out
}

// Clamp bounds a present axis to [MinAxis, MaxAxis]. Nil and NaN stay nil.
func Clamp(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) {
		return nil
	}
	return ptr(math.Max(MinAxis, math.Min(MaxAxis, *v)))
}

// Round3 rounds to three decimals
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// Valid reports whether scores satisfy the ledger invariants: every present
// axis within bounds and PI present only for complete scores
func Valid(b model.BiasScores) bool {
	for _, axis := range []*float64{b.Language, b.Framing, b.Source, b.Context, b.Intent} {
		if axis != nil && (*axis < MinAxis || *axis > MaxAxis) {
			return false
		}
	}
	if b.PI != nil && !b.Complete() {
		return false
	}
	return true
}

func ptr(v float64) *float64 { return &v }
