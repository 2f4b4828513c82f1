package score

import (
	"math"
	"testing"

	"github.com/ppiankov/newsledger/internal/model"
)

func f(v float64) *float64 { return &v }

func TestCompose_AllAxes(t *testing.T) {
	got := Compose(Axes{Language: f(1), Framing: f(2), Source: f(1), Context: f(0), Intent: f(2.9)})

	// 0.30*1 + 0.25*1 + 0.25*2 + 0.20*0 = 1.05
	if got.Intent == nil || *got.Intent != 1.05 {
		t.Fatalf("expected intent 1.05, got %v", got.Intent)
	}
	if got.PI == nil || *got.PI != 0.65 {
		t.Fatalf("expected pi 0.65, got %v", got.PI)
	}
}

func TestCompose_Clamps(t *testing.T) {
	got := Compose(Axes{Language: f(7), Framing: f(-1), Source: f(3), Context: f(3)})

	if *got.Language != 3 || *got.Framing != 0 {
		t.Errorf("axes not clamped: language=%v framing=%v", *got.Language, *got.Framing)
	}
	if !Valid(got) {
		t.Errorf("composed scores should be valid: %+v", got)
	}
}

func TestCompose_MissingAxisLeavesPINull(t *testing.T) {
	tests := []struct {
		name string
		axes Axes
	}{
		{"missing context without intent", Axes{Language: f(1), Framing: f(1), Source: f(1)}},
		{"missing language with intent", Axes{Framing: f(1), Source: f(1), Context: f(1), Intent: f(1)}},
		{"nothing", Axes{}},
		{"nan axis", Axes{Language: f(math.NaN()), Framing: f(1), Source: f(1), Context: f(1), Intent: f(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compose(tt.axes)
			if got.PI != nil {
				t.Errorf("expected nil PI, got %v", *got.PI)
			}
			if !Valid(got) {
				t.Errorf("expected valid scores: %+v", got)
			}
		})
	}
}

func TestCompose_KeepsReportedIntentWhenUnderivable(t *testing.T) {
	got := Compose(Axes{Language: f(1), Framing: f(1), Source: f(1), Intent: f(2.5)})
	if got.Intent == nil || *got.Intent != 2.5 {
		t.Errorf("expected reported intent 2.5, got %v", got.Intent)
	}
	if got.PI != nil {
		t.Errorf("expected nil PI with missing context")
	}
}

func TestValid(t *testing.T) {
	if Valid(model.BiasScores{Language: f(3.5)}) {
		t.Error("out-of-range axis should be invalid")
	}
	if Valid(model.BiasScores{Language: f(1), PI: f(0.5)}) {
		t.Error("PI without all axes should be invalid")
	}
	if !Valid(model.BiasScores{}) {
		t.Error("empty scores should be valid")
	}
}

func TestRound3(t *testing.T) {
	if got := Round3(0.12345); got != 0.123 {
		t.Errorf("Round3(0.12345) = %v", got)
	}
	if got := Round3(2.9996); got != 3 {
		t.Errorf("Round3(2.9996) = %v", got)
	}
}
