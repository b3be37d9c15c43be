package omr

import "image"

// BubbleScore is the normalized fill measurement of one option bubble
// within a question row.
type BubbleScore struct {
	Option string  // option label, e.g. "B"
	Fill   float64 // normalized ink score in [0, 1]
	X      int     // bubble center x-position in pixels
}

// Ink-scoring geometry and normalization. The core disc samples the
// bubble interior; the annulus samples the local background just
// outside the printed outline, so the outline itself never counts as
// ink and uniform lighting gradients cancel out.
const (
	coreRadiusRatio      = 0.35
	annulusInnerRatio    = 0.55
	annulusOuterRatio    = 0.95
	inkNoiseFloor        = 0.10
	inkStretchFactor     = 6.0
)

// bubbleFill computes the ink score of a bubble centered at (x, y).
//
// The raw signal is (annulus mean - core mean) / 255: how much darker
// the interior is than its immediate surroundings. Values below the
// noise floor collapse toward zero and the remainder is stretched and
// clamped, so a faint printed outline reads near 0 while a genuinely
// filled mark saturates near 1. Centers outside the image score 0.
func bubbleFill(gray *image.Gray, x, y, radius int) float64 {
	w := gray.Rect.Dx()
	h := gray.Rect.Dy()
	if x < 0 || y < 0 || x >= w || y >= h {
		return 0
	}

	coreR := maxInt(3, int(float64(radius)*coreRadiusRatio))
	ringInner := maxInt(coreR+2, int(float64(radius)*annulusInnerRatio))
	ringOuter := maxInt(ringInner+2, int(float64(radius)*annulusOuterRatio))

	var coreSum, coreN, ringSum, ringN int
	for dy := -ringOuter; dy <= ringOuter; dy++ {
		py := y + dy
		if py < 0 || py >= h {
			continue
		}
		for dx := -ringOuter; dx <= ringOuter; dx++ {
			px := x + dx
			if px < 0 || px >= w {
				continue
			}
			d2 := dx*dx + dy*dy
			v := int(gray.Pix[py*gray.Stride+px])
			switch {
			case d2 <= coreR*coreR:
				coreSum += v
				coreN++
			case d2 >= ringInner*ringInner && d2 <= ringOuter*ringOuter:
				ringSum += v
				ringN++
			}
		}
	}
	if coreN == 0 || ringN == 0 {
		return 0
	}

	coreMean := float64(coreSum) / float64(coreN)
	ringMean := float64(ringSum) / float64(ringN)

	ink := (ringMean - coreMean) / 255.0
	return clampFloat((ink-inkNoiseFloor)*inkStretchFactor, 0, 1)
}

// rowScores holds the per-option measurements of one question row in
// option order.
type rowScores struct {
	question int
	y        int
	scores   []BubbleScore
}

// scoreGrid measures every bubble in the grid.
func scoreGrid(gray *image.Gray, g grid) []rowScores {
	rows := make([]rowScores, 0, len(g.rows))
	for _, row := range g.rows {
		scores := make([]BubbleScore, len(row.xs))
		for i, x := range row.xs {
			scores[i] = BubbleScore{
				Option: g.options[i],
				Fill:   bubbleFill(gray, x, row.y, g.radius),
				X:      x,
			}
		}
		rows = append(rows, rowScores{question: row.question, y: row.y, scores: scores})
	}
	return rows
}
