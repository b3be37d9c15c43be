package omr

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Warning tags appended to a scan result. Every detection sub-strategy
// that fails degrades to one of these instead of aborting the scan.
const (
	WarnWarpSkipped          = "warp_skipped_by_user"
	WarnInvalidManualCorners = "invalid_manual_corners"
	WarnMarkersNotFound      = "markers_not_found"
	WarnSmartAlignFailed     = "smart_align_failed"
	WarnNoMarks              = "no_marks_detected"
	WarnLowMarks             = "low_marks_detected"
	WarnAlignmentUnreliable  = "alignment_unreliable"
	WarnNeedsReview          = "needs_review"
)

// defaultThreshold is the detection threshold used when the caller
// does not supply one.
const defaultThreshold = 0.22

// lowMarksCutoff is the answered-question count below which the result
// carries a low-marks warning.
const lowMarksCutoff = 15

// Options controls a single scan invocation.
type Options struct {
	// AnswerKey maps question identifiers to expected option letters.
	// Keys are normalized before use; see NormalizeAnswerKey.
	AnswerKey map[string]string

	// Threshold is the detection threshold; 0 means the default 0.22.
	Threshold float64

	// XOffset and YOffset nudge every sampled bubble position by a
	// fraction of the image dimension, for slightly miscalibrated
	// prints.
	XOffset float64
	YOffset float64

	// Debug requests the annotated overlay image and threshold
	// diagnostics on the result.
	Debug bool

	// SmartAlign enables dynamic grid derivation from detected
	// circles.
	SmartAlign bool

	// SkipWarp uses the image as-is, skipping corner detection and
	// rectification.
	SkipWarp bool

	// ManualCorners supplies the sheet corners directly (any order;
	// they are canonicalized). Must contain exactly four points; any
	// other non-nil length degrades to a warning.
	ManualCorners []Point

	// Calibration overrides the tuned decision constants. Nil means
	// DefaultCalibration.
	Calibration *Calibration
}

// Dimensions is a width/height pair in pixels.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Meta is the diagnostic metadata block of a scan result.
type Meta struct {
	OriginalWidth  int    `json:"originalWidth"`
	OriginalHeight int    `json:"originalHeight"`
	MarkersFound   bool   `json:"markersFound"`
	CornerMode     string `json:"cornerMode"`
	// CornerPoints holds the detected or supplied corners in TL, TR,
	// BR, BL order at full input resolution; nil when none were found.
	CornerPoints   []Point `json:"cornerPoints"`
	SmartAlignUsed bool    `json:"smartAlignUsed"`
	MarkedCount    int     `json:"markedCount"`
	ReviewCount    int     `json:"reviewCount"`
	AmbiguousCount int     `json:"ambiguousCount"`
}

// DensitySample is one raw per-bubble fill value in the debug payload.
type DensitySample struct {
	Question int     `json:"q"`
	Option   string  `json:"option"`
	Fill     float64 `json:"fill"`
}

// DebugInfo carries threshold diagnostics and the annotated overlay,
// present on the result only when Options.Debug is set.
type DebugInfo struct {
	Threshold  float64            `json:"threshold"`
	MinInk     float64            `json:"minInk"`
	P84MaxFill float64            `json:"p84MaxFill"`
	Baseline   map[string]float64 `json:"baseline"`
	Densities  []DensitySample    `json:"densities"`
	Notes      []string           `json:"notes,omitempty"`
	Image      string             `json:"debugImage,omitempty"`
}

// Result is the aggregate outcome of one scan.
type Result struct {
	// Score is the count of correct answers; only meaningful when an
	// answer key was supplied.
	Score int `json:"score"`

	// Answers maps q_<n> to the selected option letter, or "" when no
	// bubble qualified.
	Answers map[string]string `json:"answers"`

	// Details holds one Decision per question in ascending order.
	Details []Decision `json:"details"`

	// Dimensions is the processed image size after rectification and
	// resizing.
	Dimensions Dimensions `json:"dimensions"`

	// Warnings is the accumulated list of degradation tags.
	Warnings []string `json:"warnings"`

	Meta Meta `json:"meta"`

	Debug *DebugInfo `json:"debug,omitempty"`
}

// diagnostics is the invocation-scoped accumulator for warnings and
// informational notes. It replaces any notion of global counters so
// concurrent scans never share state.
type diagnostics struct {
	warnings []string
	notes    []string
}

func (d *diagnostics) warn(tag string) {
	d.warnings = append(d.warnings, tag)
}

func (d *diagnostics) notef(format string, args ...any) {
	d.notes = append(d.notes, fmt.Sprintf(format, args...))
}

// Scan runs the full pipeline on raw encoded image bytes.
//
// The only fatal failure is undecodable input, reported as
// ErrInvalidImage. Every detection sub-strategy degrades to a warning
// tag on the result, so once the image decodes the caller always gets
// a best-effort result.
func Scan(data []byte, opts Options) (*Result, error) {
	diags := &diagnostics{}

	threshold := opts.Threshold
	if threshold == 0 {
		threshold = defaultThreshold
	}
	cal := DefaultCalibration()
	if opts.Calibration != nil {
		cal = *opts.Calibration
	}
	key := NormalizeAnswerKey(opts.AnswerKey)

	original, err := decodeOriented(data, diags)
	if err != nil {
		return nil, err
	}
	originalW := original.Rect.Dx()
	originalH := original.Rect.Dy()

	located := localize(original, opts, diags)

	rectified := resizeToWidth(located.image, canonicalWidth)
	gray := blurGray3(toGray(rectified))

	grid, dynamicUsed := resolveGrid(gray, opts, diags)
	rows := scoreGrid(gray, grid)

	inkFloor := inkFloorFor(threshold)
	details := make([]Decision, 0, len(rows))
	answers := make(map[string]string, len(rows))
	for _, row := range rows {
		d := decideRow(row, inkFloor, key, cal)
		details = append(details, d)
		answers[questionID(d.Question)] = d.Selected
	}

	markedCount := 0
	reviewCount := 0
	ambiguousCount := 0
	score := 0
	for _, d := range details {
		if d.Selected != "" {
			markedCount++
			if d.Confidence < cal.ReviewGap {
				reviewCount++
			}
		} else if d.Ink >= cal.AmbiguousInk && d.Contrast >= cal.AmbiguousContrast {
			ambiguousCount++
		}
		if d.Correct != nil && *d.Correct {
			score++
		}
	}

	switch {
	case markedCount == 0:
		diags.warn(WarnNoMarks)
	case markedCount < lowMarksCutoff:
		diags.warn(WarnLowMarks)
	}
	if located.corners == nil && !dynamicUsed {
		diags.warn(WarnAlignmentUnreliable)
	}
	if ambiguousCount > 0 {
		diags.warn(WarnNeedsReview)
	}

	result := &Result{
		Score:   score,
		Answers: answers,
		Details: details,
		Dimensions: Dimensions{
			Width:  gray.Rect.Dx(),
			Height: gray.Rect.Dy(),
		},
		Warnings: diags.warnings,
		Meta: Meta{
			OriginalWidth:  originalW,
			OriginalHeight: originalH,
			MarkersFound:   located.corners != nil,
			CornerMode:     located.mode,
			CornerPoints:   cornerSlice(located.corners),
			SmartAlignUsed: dynamicUsed,
			MarkedCount:    markedCount,
			ReviewCount:    reviewCount,
			AmbiguousCount: ambiguousCount,
		},
	}
	if result.Warnings == nil {
		result.Warnings = []string{}
	}

	if opts.Debug {
		result.Debug = buildDebugInfo(rectified, rows, details, threshold, inkFloor, diags)
	}

	return result, nil
}

func cornerSlice(q *Quad) []Point {
	if q == nil {
		return nil
	}
	return []Point{q[0], q[1], q[2], q[3]}
}

// questionID formats a question number as its canonical identifier.
func questionID(n int) string {
	return fmt.Sprintf("q_%d", n)
}

// NormalizeAnswerKey canonicalizes a caller-supplied answer key: a
// leading "q_" prefix is stripped case-insensitively, purely numeric
// keys are reformatted to q_<n>, and values are trimmed, upper-cased,
// and truncated to their first character. Entries with empty values
// are dropped.
func NormalizeAnswerKey(raw map[string]string) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	normalized := make(map[string]string, len(raw))
	for key, value := range raw {
		k := key
		if strings.HasPrefix(strings.ToLower(k), "q_") {
			k = k[2:]
		}
		if n, err := strconv.Atoi(k); err == nil {
			k = questionID(n)
		}
		v := strings.ToUpper(strings.TrimSpace(value))
		if v == "" {
			continue
		}
		normalized[k] = string([]rune(v)[:1])
	}
	return normalized
}

// percentile computes the p-th percentile (0-100) of the values using
// linear interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// round4 rounds to four decimal places, the precision reported for
// all score metrics.
func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
