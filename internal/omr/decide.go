package omr

import "sort"

// Calibration holds the empirically tuned decision constants. The
// defaults were calibrated on reference scans of the 156-question
// form; expose them rather than hard-coding because they have no
// analytical derivation and may need retuning for other print runs.
type Calibration struct {
	// MinContrast is the required separation between the top score and
	// the mean of the remaining options.
	MinContrast float64
	// MinGap is the required separation between the top two scores.
	MinGap float64
	// TolerantFactor scales MinContrast and MinGap in the fallback
	// test that recovers faint but unambiguous marks.
	TolerantFactor float64
	// TolerantSlack is how far below the ink floor the fallback will
	// still accept the top score.
	TolerantSlack float64
	// MarkedBand is how close to the top score an option must be to
	// count as "marked" for multi-mark diagnostics.
	MarkedBand float64
	// ReviewGap flags selected answers whose confidence falls below it
	// for human review.
	ReviewGap float64
	// AmbiguousInk and AmbiguousContrast flag unselected rows that
	// still show significant ink as ambiguous.
	AmbiguousInk      float64
	AmbiguousContrast float64
}

// DefaultCalibration returns the tuned decision constants.
func DefaultCalibration() Calibration {
	return Calibration{
		MinContrast:       0.22,
		MinGap:            0.08,
		TolerantFactor:    1.25,
		TolerantSlack:     0.05,
		MarkedBand:        0.08,
		ReviewGap:         0.12,
		AmbiguousInk:      0.22,
		AmbiguousContrast: 0.12,
	}
}

// Absolute ink floor bounds: the caller's threshold is clamped into
// this range before use.
const (
	minInkFloor = 0.08
	maxInkFloor = 0.9
)

// Decision is the outcome for one question row.
type Decision struct {
	// Question is the 1-based question number.
	Question int `json:"question"`

	// Selected is the chosen option letter, or "" when no bubble
	// qualified.
	Selected string `json:"selected"`

	// MarkedOptions lists every option with ink above the floor and
	// near the row maximum; more than one indicates a multi-mark.
	MarkedOptions []string `json:"markedOptions"`

	// MultipleMarks is set when MarkedOptions has more than one entry.
	MultipleMarks bool `json:"multipleMarks"`

	// Correct is present only when an answer key supplied an expected
	// option for this question.
	Correct *bool `json:"correct"`

	// Confidence is the gap between the two highest fill scores.
	Confidence float64 `json:"confidence"`

	// Ink is the highest fill score in the row.
	Ink float64 `json:"ink"`

	// Gap mirrors Confidence; kept for client compatibility.
	Gap float64 `json:"gap"`

	// Contrast is the top score minus the mean of the other scores.
	Contrast float64 `json:"contrast"`
}

// decideRow converts one row's bubble scores into a Decision.
//
// A bubble is selected when it clears an absolute ink floor AND is
// clearly separated from the other options (contrast and gap minimums).
// When the strict test fails, a tolerant fallback accepts a top score
// slightly below the floor if both separations are comfortably above
// their minimums; this recovers faint-but-unambiguous marks.
func decideRow(row rowScores, inkFloor float64, key map[string]string, cal Calibration) Decision {
	ranked := make([]BubbleScore, len(row.scores))
	copy(ranked, row.scores)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Fill > ranked[j].Fill })

	top := ranked[0]
	second := ranked[1]

	var otherSum float64
	for _, s := range ranked[1:] {
		otherSum += s.Fill
	}
	otherMean := otherSum / float64(len(ranked)-1)

	confidence := top.Fill - second.Fill
	contrast := top.Fill - otherMean

	selected := ""
	switch {
	case top.Fill >= inkFloor && contrast >= cal.MinContrast && confidence >= cal.MinGap:
		selected = top.Option
	case top.Fill >= maxFloat(cal.TolerantSlack, inkFloor-cal.TolerantSlack) &&
		contrast >= cal.MinContrast*cal.TolerantFactor &&
		confidence >= cal.MinGap*cal.TolerantFactor:
		selected = top.Option
	}

	markedCutoff := maxFloat(inkFloor, top.Fill-cal.MarkedBand)
	var marked []string
	for _, s := range row.scores {
		if s.Fill >= inkFloor && s.Fill >= markedCutoff {
			marked = append(marked, s.Option)
		}
	}

	var correct *bool
	if expected, ok := key[questionID(row.question)]; ok {
		v := selected != "" && selected == expected
		correct = &v
	}

	return Decision{
		Question:      row.question,
		Selected:      selected,
		MarkedOptions: marked,
		MultipleMarks: len(marked) > 1,
		Correct:       correct,
		Confidence:    round4(confidence),
		Ink:           round4(top.Fill),
		Gap:           round4(confidence),
		Contrast:      round4(contrast),
	}
}

// inkFloorFor derives the absolute ink floor from the caller's
// requested threshold.
func inkFloorFor(threshold float64) float64 {
	return clampFloat(threshold, minInkFloor, maxInkFloor)
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
