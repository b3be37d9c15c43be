package omr

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"strconv"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Annotation palette. HSV keeps the hues evenly separated regardless
// of what the sheet itself looks like.
var (
	sampleColor   = rgba(colorful.Hsv(0, 1, 1))   // red: every sampled center
	selectedColor = rgba(colorful.Hsv(120, 1, 1)) // green: the chosen bubble
	markedColor   = rgba(colorful.Hsv(60, 1, 1))  // yellow: multi-marked bubbles
	labelColor    = rgba(colorful.Hsv(210, 1, 1)) // blue: question labels
)

func rgba(c colorful.Color) color.NRGBA {
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}
}

// debugDensityCap bounds the raw fill sample list in the debug
// payload; a full 156x5 dump is noise for most clients.
const debugDensityCap = 80

// debugJPEGQuality keeps the annotated overlay small enough to embed
// in a JSON response.
const debugJPEGQuality = 75

// buildDebugInfo assembles threshold diagnostics and the annotated
// overlay image for debug-mode scans.
func buildDebugInfo(rectified *image.NRGBA, rows []rowScores, details []Decision, threshold, inkFloor float64, diags *diagnostics) *DebugInfo {
	info := &DebugInfo{
		Threshold: threshold,
		MinInk:    round4(inkFloor),
		Notes:     diags.notes,
		Baseline:  map[string]float64{},
	}

	perOption := map[string][]float64{}
	var maxFills []float64
	for _, row := range rows {
		rowMax := 0.0
		for _, s := range row.scores {
			perOption[s.Option] = append(perOption[s.Option], s.Fill)
			if s.Fill > rowMax {
				rowMax = s.Fill
			}
			if len(info.Densities) < debugDensityCap {
				info.Densities = append(info.Densities, DensitySample{
					Question: row.question,
					Option:   s.Option,
					Fill:     round4(s.Fill),
				})
			}
		}
		maxFills = append(maxFills, rowMax)
	}
	info.P84MaxFill = round4(percentile(maxFills, 84))
	for opt, fills := range perOption {
		info.Baseline[opt] = round4(medianFloat(fills))
	}

	info.Image = encodeOverlay(annotate(rectified, rows, details))
	return info
}

// annotate draws the sampled bubble centers and decision outcomes onto
// a copy of the rectified image.
func annotate(rectified *image.NRGBA, rows []rowScores, details []Decision) *image.NRGBA {
	overlay := image.NewNRGBA(rectified.Rect)
	copy(overlay.Pix, rectified.Pix)

	byQuestion := make(map[int]Decision, len(details))
	for _, d := range details {
		byQuestion[d.Question] = d
	}

	for _, row := range rows {
		for _, s := range row.scores {
			drawCircle(overlay, s.X, row.y, 4, 1, sampleColor)
		}

		d, ok := byQuestion[row.question]
		if !ok {
			continue
		}
		switch {
		case d.Selected != "":
			if x, ok := optionX(row, d.Selected); ok {
				drawCircle(overlay, x, row.y, 6, 2, selectedColor)
			}
		case len(d.MarkedOptions) > 0:
			for _, opt := range d.MarkedOptions {
				if x, ok := optionX(row, opt); ok {
					drawCircle(overlay, x, row.y, 6, 2, markedColor)
				}
			}
		}

		if len(row.scores) > 0 {
			drawLabel(overlay, row.scores[0].X-34, row.y+4, strconv.Itoa(row.question))
		}
	}
	return overlay
}

func optionX(row rowScores, option string) (int, bool) {
	for _, s := range row.scores {
		if s.Option == option {
			return s.X, true
		}
	}
	return 0, false
}

// drawCircle draws a circle outline of the given radius and stroke
// thickness using the midpoint algorithm.
func drawCircle(img *image.NRGBA, cx, cy, radius, thickness int, col color.NRGBA) {
	for t := 0; t < thickness; t++ {
		r := radius + t
		x := r
		y := 0
		err := 0
		for x >= y {
			setPx(img, cx+x, cy+y, col)
			setPx(img, cx+y, cy+x, col)
			setPx(img, cx-y, cy+x, col)
			setPx(img, cx-x, cy+y, col)
			setPx(img, cx-x, cy-y, col)
			setPx(img, cx-y, cy-x, col)
			setPx(img, cx+y, cy-x, col)
			setPx(img, cx+x, cy-y, col)
			if err <= 0 {
				y++
				err += 2*y + 1
			}
			if err > 0 {
				x--
				err -= 2*x + 1
			}
		}
	}
}

func setPx(img *image.NRGBA, x, y int, col color.NRGBA) {
	if image.Pt(x, y).In(img.Rect) {
		img.SetNRGBA(x, y, col)
	}
}

// drawLabel renders a small question-number label next to the row.
func drawLabel(img *image.NRGBA, x, y int, text string) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(labelColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

// encodeOverlay serializes the overlay as a base64 JPEG for transport.
func encodeOverlay(overlay *image.NRGBA) string {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, overlay, &jpeg.Options{Quality: debugJPEGQuality}); err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func medianFloat(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	if len(sorted)%2 == 1 {
		return sorted[len(sorted)/2]
	}
	return (sorted[len(sorted)/2-1] + sorted[len(sorted)/2]) / 2
}
