package omr

import (
	"image"
	"math"
)

// circle is a detected circular shape, used for dynamic grid
// derivation.
type circle struct {
	center image.Point
	radius int
	votes  int
}

// gradientEdgeThreshold marks a pixel as an edge when the intensity
// step to a neighbor exceeds this value.
const gradientEdgeThreshold = 30

// gradientEdges performs cheap gradient-based edge detection for the
// circle accumulator. Unlike the Canny pass used for document
// boundaries, bubble outlines are high-contrast print, so a plain
// threshold on the forward differences is enough and far cheaper.
func gradientEdges(gray *image.Gray, w, h int) []bool {
	edges := make([]bool, w*h)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			c := int(gray.Pix[y*gray.Stride+x])
			dx := c - int(gray.Pix[y*gray.Stride+x+1])
			dy := c - int(gray.Pix[(y+1)*gray.Stride+x])
			if dx < 0 {
				dx = -dx
			}
			if dy < 0 {
				dy = -dy
			}
			if dx > gradientEdgeThreshold || dy > gradientEdgeThreshold {
				edges[y*w+x] = true
			}
		}
	}
	return edges
}

// detectCircles finds circles with radii in [minRadius, maxRadius]
// using a Hough accumulator.
//
// For every radius, each edge pixel votes for the centers of all
// circles of that radius passing through it (sampled every 10 degrees).
// Accumulator cells collecting at least 60% of the expected
// circumference votes and forming a local maximum become detections.
// Overlapping detections are merged, keeping the strongest.
func detectCircles(gray *image.Gray, minRadius, maxRadius int) []circle {
	w := gray.Rect.Dx()
	h := gray.Rect.Dy()
	edges := gradientEdges(gray, w, h)

	var found []circle
	for radius := minRadius; radius <= maxRadius; radius++ {
		accumulator := make([]int, w*h)

		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				if !edges[y*w+x] {
					continue
				}
				for angle := 0; angle < 360; angle += 10 {
					rad := float64(angle) * math.Pi / 180
					cx := x - int(float64(radius)*math.Cos(rad))
					cy := y - int(float64(radius)*math.Sin(rad))
					if cx >= 0 && cx < w && cy >= 0 && cy < h {
						accumulator[cy*w+cx]++
					}
				}
			}
		}

		threshold := int(float64(2*radius) * 0.6)
		if threshold < 8 {
			threshold = 8
		}
		for y := radius; y < h-radius; y++ {
			for x := radius; x < w-radius; x++ {
				votes := accumulator[y*w+x]
				if votes < threshold {
					continue
				}
				if !isLocalMax(accumulator, w, h, x, y) {
					continue
				}
				found = append(found, circle{
					center: image.Point{X: x, Y: y},
					radius: radius,
					votes:  votes,
				})
			}
		}
	}

	return mergeCircles(found)
}

// isLocalMax reports whether the accumulator cell dominates its 5-pixel
// neighborhood.
func isLocalMax(acc []int, w, h, x, y int) bool {
	v := acc[y*w+x]
	for dy := -5; dy <= 5; dy++ {
		for dx := -5; dx <= 5; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			nx, ny := x+dx, y+dy
			if nx >= 0 && nx < w && ny >= 0 && ny < h && acc[ny*w+nx] > v {
				return false
			}
		}
	}
	return true
}

// mergeCircles drops detections whose center lies within the average
// radius of an already accepted circle. Detections with more votes are
// considered first so the strongest survives.
func mergeCircles(circles []circle) []circle {
	if len(circles) == 0 {
		return circles
	}

	ordered := make([]circle, len(circles))
	copy(ordered, circles)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].votes > ordered[j-1].votes; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}

	var kept []circle
	for _, c := range ordered {
		duplicate := false
		for _, k := range kept {
			dx := float64(c.center.X - k.center.X)
			dy := float64(c.center.Y - k.center.Y)
			if math.Sqrt(dx*dx+dy*dy) < float64(c.radius+k.radius)/2 {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, c)
		}
	}
	return kept
}
