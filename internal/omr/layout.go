package omr

import (
	"image"
	"math"
	"sort"
)

// ColumnBand describes one answer column of the calibrated form: the
// horizontal span of its A-E bubbles as ratios of image width, and the
// question range it holds.
type ColumnBand struct {
	StartX        float64
	EndX          float64
	QuestionStart int
	QuestionCount int
}

// StaticLayout is the hand-calibrated bubble geometry of the form,
// expressed as ratios so it survives resizing. The calibration was
// measured on a 2000px-wide rectified sheet.
type StaticLayout struct {
	Columns           []ColumnBand
	StartYRatio       float64
	RowHeightRatio    float64
	BubbleRadiusRatio float64
	Options           []string
}

// dynamicLayout holds bubble positions derived from detected circles:
// absolute row y-positions shared by all columns, five option
// x-positions per column, and the inferred bubble radius.
type dynamicLayout struct {
	rows    []int
	columns [][]int
	radius  int
}

// formLayout is the calibration for the 156-question form: three
// columns of 52 questions, five options each. Column spans and row
// pitch were measured from reference markers on a 2000x2715 rectified
// scan.
var formLayout = StaticLayout{
	Columns: []ColumnBand{
		{StartX: 0.5577, EndX: 0.6524, QuestionStart: 1, QuestionCount: 52},
		{StartX: 0.6975, EndX: 0.7919, QuestionStart: 53, QuestionCount: 52},
		{StartX: 0.838925, EndX: 0.932625, QuestionStart: 105, QuestionCount: 52},
	},
	StartYRatio:       0.0973419276,
	RowHeightRatio:    0.0167177024,
	BubbleRadiusRatio: 0.01,
	Options:           []string{"A", "B", "C", "D", "E"},
}

func (l StaticLayout) questionsPerColumn() int {
	return l.Columns[0].QuestionCount
}

func (l StaticLayout) optionCount() int {
	return len(l.Options)
}

// gridRow is the resolved pixel geometry of one question: the row's
// y-position and one x-position per option.
type gridRow struct {
	question int
	y        int
	xs       []int
}

// grid is the fully resolved bubble geometry the scorer iterates over.
type grid struct {
	rows    []gridRow
	radius  int
	options []string
}

// resolveGrid determines the pixel position of every bubble. When the
// caller requests smart alignment, positions are derived from detected
// circles; if that fails (or was not requested) the static calibration
// table is used. The returned bool reports whether the dynamic layout
// was used.
func resolveGrid(gray *image.Gray, opts Options, diags *diagnostics) (grid, bool) {
	w := gray.Rect.Dx()
	h := gray.Rect.Dy()

	if opts.SmartAlign {
		if dyn, ok := deriveDynamicLayout(gray); ok {
			return dynamicGrid(dyn, w, h, opts), true
		}
		diags.warn(WarnSmartAlignFailed)
	}
	return staticGrid(formLayout, w, h, opts), false
}

func staticGrid(layout StaticLayout, w, h int, opts Options) grid {
	g := grid{
		radius:  maxInt(3, int(float64(w)*layout.BubbleRadiusRatio)),
		options: layout.Options,
	}
	for _, col := range layout.Columns {
		step := (col.EndX - col.StartX) / float64(layout.optionCount()-1)
		xs := make([]int, layout.optionCount())
		for i := range xs {
			xs[i] = int(float64(w) * (col.StartX + step*float64(i) + opts.XOffset))
		}
		for row := 0; row < col.QuestionCount; row++ {
			y := int(float64(h) * (layout.StartYRatio + opts.YOffset + float64(row)*layout.RowHeightRatio))
			g.rows = append(g.rows, gridRow{
				question: col.QuestionStart + row,
				y:        y,
				xs:       xs,
			})
		}
	}
	return g
}

func dynamicGrid(dyn *dynamicLayout, w, h int, opts Options) grid {
	g := grid{
		radius:  maxInt(3, dyn.radius),
		options: formLayout.Options,
	}
	dx := int(opts.XOffset * float64(w))
	dy := int(opts.YOffset * float64(h))
	for colIdx, positions := range dyn.columns {
		start := formLayout.Columns[colIdx].QuestionStart
		for rowIdx, y := range dyn.rows {
			xs := make([]int, len(positions))
			for i, x := range positions {
				xs[i] = x + dx
			}
			g.rows = append(g.rows, gridRow{
				question: start + rowIdx,
				y:        y + dy,
				xs:       xs,
			})
		}
	}
	// Keep question order ascending like the static path.
	sort.Slice(g.rows, func(i, j int) bool { return g.rows[i].question < g.rows[j].question })
	return g
}

// Clustering gap for grouping detected circle centers, in pixels on
// the canonical-width image.
const clusterGap = 8

// deriveDynamicLayout detects circular bubbles and derives the grid
// from their positions. The layout is accepted only if it yields the
// expected row count and at least the expected number of option
// columns; anything else is discarded so the static table can take
// over.
func deriveDynamicLayout(gray *image.Gray) (*dynamicLayout, bool) {
	w := gray.Rect.Dx()
	minR := maxInt(5, int(float64(w)*0.005))
	maxR := maxInt(minR+1, int(float64(w)*0.010))

	circles := detectCircles(gray, minR, maxR)
	return deriveFromCircles(circles, formLayout)
}

// deriveFromCircles clusters circle centers along each axis and checks
// the result against the expected grid shape.
func deriveFromCircles(circles []circle, layout StaticLayout) (*dynamicLayout, bool) {
	if len(circles) == 0 {
		return nil, false
	}

	xs := make([]int, len(circles))
	ys := make([]int, len(circles))
	rs := make([]int, len(circles))
	for i, c := range circles {
		xs[i] = c.center.X
		ys[i] = c.center.Y
		rs[i] = c.radius
	}

	wantCols := layout.optionCount() * len(layout.Columns)
	wantRows := layout.questionsPerColumn()

	xCenters := cluster1D(xs, clusterGap)
	yCenters := cluster1D(ys, clusterGap)
	if len(xCenters) < wantCols || len(yCenters) < wantRows {
		return nil, false
	}

	// The answer grid sits on the right side of the form; any extra
	// x-clusters are stray detections to its left.
	if len(xCenters) > wantCols {
		xCenters = xCenters[len(xCenters)-wantCols:]
	}

	// Spurious rows outside the grid have irregular spacing; the true
	// grid is the contiguous run with the steadiest pitch.
	if len(yCenters) > wantRows {
		yCenters = steadiestWindow(yCenters, wantRows)
	}
	if len(yCenters) != wantRows {
		return nil, false
	}

	columns := make([][]int, 0, len(layout.Columns))
	for i := 0; i < wantCols; i += layout.optionCount() {
		columns = append(columns, xCenters[i:i+layout.optionCount()])
	}

	return &dynamicLayout{
		rows:    yCenters,
		columns: columns,
		radius:  medianInt(rs),
	}, true
}

// cluster1D merges sorted values into clusters separated by more than
// gap and returns each cluster's mean. Compensates for the few pixels
// of jitter between circle centers in the same grid row or column.
func cluster1D(values []int, gap int) []int {
	if len(values) == 0 {
		return nil
	}
	sorted := make([]int, len(values))
	copy(sorted, values)
	sort.Ints(sorted)

	var centers []int
	start := 0
	sum := sorted[0]
	for i := 1; i <= len(sorted); i++ {
		if i == len(sorted) || sorted[i]-sorted[i-1] > gap {
			centers = append(centers, sum/(i-start))
			if i < len(sorted) {
				start = i
				sum = sorted[i]
			}
		} else {
			sum += sorted[i]
		}
	}
	return centers
}

// steadiestWindow picks the length-n contiguous subsequence whose
// consecutive differences have the lowest variance.
func steadiestWindow(values []int, n int) []int {
	best := values[:n]
	bestVar := math.Inf(1)
	for start := 0; start+n <= len(values); start++ {
		window := values[start : start+n]
		if v := diffVariance(window); v < bestVar {
			bestVar = v
			best = window
		}
	}
	out := make([]int, n)
	copy(out, best)
	return out
}

func diffVariance(values []int) float64 {
	if len(values) < 2 {
		return 0
	}
	diffs := make([]float64, len(values)-1)
	var mean float64
	for i := 1; i < len(values); i++ {
		diffs[i-1] = float64(values[i] - values[i-1])
		mean += diffs[i-1]
	}
	mean /= float64(len(diffs))

	var variance float64
	for _, d := range diffs {
		variance += (d - mean) * (d - mean)
	}
	return variance / float64(len(diffs))
}

func medianInt(values []int) int {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]int, len(values))
	copy(sorted, values)
	sort.Ints(sorted)
	return sorted[len(sorted)/2]
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
