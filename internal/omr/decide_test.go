package omr

import "testing"

// scoredRow builds a rowScores with the options A-E and the given fills.
func scoredRow(question int, fills ...float64) rowScores {
	options := []string{"A", "B", "C", "D", "E"}
	scores := make([]BubbleScore, len(fills))
	for i, f := range fills {
		scores[i] = BubbleScore{Option: options[i], Fill: f, X: 40 + 50*i}
	}
	return rowScores{question: question, y: 60, scores: scores}
}

func TestDecideRow_ClearMark(t *testing.T) {
	d := decideRow(scoredRow(1, 0.05, 0.9, 0.02, 0.0, 0.03), 0.22, nil, DefaultCalibration())

	if d.Selected != "B" {
		t.Errorf("selected: got %q, want B", d.Selected)
	}
	if d.MultipleMarks {
		t.Error("single mark misreported as multiple")
	}
	if len(d.MarkedOptions) != 1 || d.MarkedOptions[0] != "B" {
		t.Errorf("marked options: got %v", d.MarkedOptions)
	}
	if d.Ink != 0.9 {
		t.Errorf("ink: got %f, want 0.9", d.Ink)
	}
	if d.Confidence != 0.85 {
		t.Errorf("confidence: got %f, want 0.85", d.Confidence)
	}
	if d.Gap != d.Confidence {
		t.Errorf("gap %f should mirror confidence %f", d.Gap, d.Confidence)
	}
	if d.Correct != nil {
		t.Error("correctness must be absent without an answer key")
	}
}

func TestDecideRow_BelowFloor(t *testing.T) {
	d := decideRow(scoredRow(1, 0.05, 0.1, 0.02, 0.0, 0.03), 0.22, nil, DefaultCalibration())
	if d.Selected != "" {
		t.Errorf("faint row selected %q", d.Selected)
	}
}

func TestDecideRow_TolerantFallback(t *testing.T) {
	// Top score just under a raised floor but with overwhelming
	// separation from the other options.
	d := decideRow(scoredRow(1, 0.0, 0.47, 0.0, 0.0, 0.0), 0.5, nil, DefaultCalibration())
	if d.Selected != "B" {
		t.Errorf("tolerant fallback: got %q, want B", d.Selected)
	}

	// The same score with a competing option loses the separation and
	// must not be selected.
	d = decideRow(scoredRow(1, 0.4, 0.47, 0.0, 0.0, 0.0), 0.5, nil, DefaultCalibration())
	if d.Selected != "" {
		t.Errorf("competing marks: got %q, want none", d.Selected)
	}
}

func TestDecideRow_MultipleMarks(t *testing.T) {
	d := decideRow(scoredRow(1, 0.8, 0.78, 0.0, 0.0, 0.0), 0.22, nil, DefaultCalibration())

	if d.Selected != "" {
		t.Errorf("ambiguous double mark selected %q", d.Selected)
	}
	if !d.MultipleMarks {
		t.Error("double mark not flagged")
	}
	if len(d.MarkedOptions) != 2 {
		t.Errorf("marked options: got %v, want [A B]", d.MarkedOptions)
	}
}

func TestDecideRow_AnswerKey(t *testing.T) {
	key := map[string]string{"q_1": "B", "q_2": "C"}
	cal := DefaultCalibration()

	d := decideRow(scoredRow(1, 0.0, 0.9, 0.0, 0.0, 0.0), 0.22, key, cal)
	if d.Correct == nil || !*d.Correct {
		t.Error("matching answer not marked correct")
	}

	d = decideRow(scoredRow(2, 0.0, 0.9, 0.0, 0.0, 0.0), 0.22, key, cal)
	if d.Correct == nil || *d.Correct {
		t.Error("mismatching answer not marked incorrect")
	}

	// Unanswered keyed question counts as incorrect, not absent.
	d = decideRow(scoredRow(2, 0.0, 0.0, 0.0, 0.0, 0.0), 0.22, key, cal)
	if d.Correct == nil || *d.Correct {
		t.Error("blank keyed question must be incorrect")
	}

	// Unkeyed question carries no correctness either way.
	d = decideRow(scoredRow(3, 0.0, 0.9, 0.0, 0.0, 0.0), 0.22, key, cal)
	if d.Correct != nil {
		t.Error("unkeyed question must have no correctness")
	}
}

func TestDecideRow_MonotonicInTopScore(t *testing.T) {
	// Once the top score qualifies, raising it further must never
	// deselect the option.
	cal := DefaultCalibration()
	selectedAt := -1.0
	for top := 0.0; top <= 1.0; top += 0.01 {
		d := decideRow(scoredRow(1, 0.05, top, 0.02, 0.0, 0.03), 0.22, nil, cal)
		if d.Selected == "B" && selectedAt < 0 {
			selectedAt = top
		}
		if d.Selected == "" && selectedAt >= 0 {
			t.Fatalf("selection lost at top=%f after qualifying at %f", top, selectedAt)
		}
	}
	if selectedAt < 0 {
		t.Fatal("a saturated mark never qualified")
	}
}

func TestInkFloorFor(t *testing.T) {
	cases := []struct {
		threshold float64
		want      float64
	}{
		{0.22, 0.22},
		{0.01, minInkFloor},
		{0.95, maxInkFloor},
	}
	for _, c := range cases {
		if got := inkFloorFor(c.threshold); got != c.want {
			t.Errorf("threshold %f: got %f, want %f", c.threshold, got, c.want)
		}
	}
}
