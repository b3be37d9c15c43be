package omr

import (
	"image"
	"math"
	"sort"
)

// Document-edge fallback tuning. Mobile photos vary a lot, so a bank
// of Canny sensitivity pairs and polygon-approximation tolerances is
// tried until a 4-vertex contour covering enough of the frame appears.
var (
	cannyPairs     = [][2]float64{{60, 180}, {40, 140}, {30, 120}, {20, 100}}
	approxEpsilons = []float64{0.02, 0.015, 0.025, 0.03, 0.04}
)

const (
	documentMinAreaRatio = 0.20
	documentMaxContours  = 12
)

// findDocumentCorners detects the sheet's outer boundary when corner
// markers are incomplete: Canny edges, closed-contour extraction, and
// polygon approximation down to four vertices. First match wins.
func findDocumentCorners(gray *image.Gray) (Quad, bool) {
	w := gray.Rect.Dx()
	h := gray.Rect.Dy()
	minArea := float64(w*h) * documentMinAreaRatio

	for _, pair := range cannyPairs {
		edges := cannyEdges(gray, pair[0], pair[1])
		edges = dilate(edges, w, h)
		edges = dilate(edges, w, h)
		edges = erode(edges, w, h)

		hulls := contourHulls(edges, w, h)
		sort.Slice(hulls, func(i, j int) bool {
			return polygonArea(hulls[i]) > polygonArea(hulls[j])
		})
		if len(hulls) > documentMaxContours {
			hulls = hulls[:documentMaxContours]
		}

		for _, hull := range hulls {
			if polygonArea(hull) < minArea {
				continue
			}
			perimeter := polygonPerimeter(hull)
			if perimeter <= 0 {
				continue
			}
			for _, eps := range approxEpsilons {
				approx := approxPolygon(hull, eps*perimeter)
				if len(approx) == 4 {
					return orderQuad([4]Point{
						pointOf(approx[0]), pointOf(approx[1]),
						pointOf(approx[2]), pointOf(approx[3]),
					}), true
				}
			}
		}
	}
	return Quad{}, false
}

func pointOf(p image.Point) Point {
	return Point{X: float64(p.X), Y: float64(p.Y)}
}

// cannyEdges performs Canny edge detection on a grayscale image:
// Gaussian smoothing, Sobel gradients, non-maximum suppression, and
// hysteresis thresholding. Thresholds are on the 0-255 scale.
func cannyEdges(gray *image.Gray, thresholdLow, thresholdHigh float64) []bool {
	w := gray.Rect.Dx()
	h := gray.Rect.Dy()

	blurred := gaussian5(gray)

	magnitude := make([]float64, w*h)
	direction := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var gx, gy float64
			for ky := -1; ky <= 1; ky++ {
				for kx := -1; kx <= 1; kx++ {
					px := clampInt(x+kx, 0, w-1)
					py := clampInt(y+ky, 0, h-1)
					v := blurred[py*w+px]
					gx += v * sobelX[ky+1][kx+1]
					gy += v * sobelY[ky+1][kx+1]
				}
			}
			magnitude[y*w+x] = math.Sqrt(gx*gx + gy*gy)
			direction[y*w+x] = math.Atan2(gy, gx)
		}
	}

	// Non-maximum suppression thins edges to single-pixel ridges.
	suppressed := make([]float64, w*h)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			angle := direction[y*w+x]
			mag := magnitude[y*w+x]

			var n1, n2 float64
			switch {
			case (angle >= -math.Pi/8 && angle < math.Pi/8) || angle >= 7*math.Pi/8 || angle < -7*math.Pi/8:
				n1, n2 = magnitude[y*w+x-1], magnitude[y*w+x+1]
			case (angle >= math.Pi/8 && angle < 3*math.Pi/8) || (angle >= -7*math.Pi/8 && angle < -5*math.Pi/8):
				n1, n2 = magnitude[(y-1)*w+x+1], magnitude[(y+1)*w+x-1]
			case (angle >= 3*math.Pi/8 && angle < 5*math.Pi/8) || (angle >= -5*math.Pi/8 && angle < -3*math.Pi/8):
				n1, n2 = magnitude[(y-1)*w+x], magnitude[(y+1)*w+x]
			default:
				n1, n2 = magnitude[(y-1)*w+x-1], magnitude[(y+1)*w+x+1]
			}

			if mag >= n1 && mag >= n2 {
				suppressed[y*w+x] = mag
			}
		}
	}

	// Hysteresis: strong edges always kept, weak edges only next to a
	// strong one.
	edges := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := suppressed[y*w+x]
			if v >= thresholdHigh {
				edges[y*w+x] = true
			} else if v >= thresholdLow {
				for ky := -1; ky <= 1 && !edges[y*w+x]; ky++ {
					for kx := -1; kx <= 1; kx++ {
						px := clampInt(x+kx, 0, w-1)
						py := clampInt(y+ky, 0, h-1)
						if suppressed[py*w+px] >= thresholdHigh {
							edges[y*w+x] = true
							break
						}
					}
				}
			}
		}
	}
	return edges
}

var (
	sobelX = [3][3]float64{{-1, 0, 1}, {-2, 0, 2}, {-1, 0, 1}}
	sobelY = [3][3]float64{{-1, -2, -1}, {0, 0, 0}, {1, 2, 1}}
)

// gaussian5 applies a 5x5 Gaussian blur (sigma ~1.4) and returns the
// result as float intensities.
func gaussian5(gray *image.Gray) []float64 {
	kernel := [5][5]float64{
		{1, 4, 7, 4, 1},
		{4, 16, 26, 16, 4},
		{7, 26, 41, 26, 7},
		{4, 16, 26, 16, 4},
		{1, 4, 7, 4, 1},
	}
	const kernelSum = 273.0

	w := gray.Rect.Dx()
	h := gray.Rect.Dy()
	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float64
			for ky := -2; ky <= 2; ky++ {
				for kx := -2; kx <= 2; kx++ {
					px := clampInt(x+kx, 0, w-1)
					py := clampInt(y+ky, 0, h-1)
					sum += float64(gray.Pix[py*gray.Stride+px]) * kernel[ky+2][kx+2]
				}
			}
			out[y*w+x] = sum / kernelSum
		}
	}
	return out
}

// dilate grows a binary mask by one pixel in all eight directions.
func dilate(mask []bool, w, h int) []bool {
	out := make([]bool, len(mask))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !mask[y*w+x] {
				continue
			}
			for ky := -1; ky <= 1; ky++ {
				for kx := -1; kx <= 1; kx++ {
					px := x + kx
					py := y + ky
					if px >= 0 && px < w && py >= 0 && py < h {
						out[py*w+px] = true
					}
				}
			}
		}
	}
	return out
}

// erode shrinks a binary mask by one pixel: a pixel survives only if
// all eight neighbors are set.
func erode(mask []bool, w, h int) []bool {
	out := make([]bool, len(mask))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !mask[y*w+x] {
				continue
			}
			keep := true
			for ky := -1; ky <= 1 && keep; ky++ {
				for kx := -1; kx <= 1; kx++ {
					px := clampInt(x+kx, 0, w-1)
					py := clampInt(y+ky, 0, h-1)
					if !mask[py*w+px] {
						keep = false
						break
					}
				}
			}
			out[y*w+x] = keep
		}
	}
	return out
}

// minBlobSize discards tiny connected components as noise.
const minBlobSize = 10

// connectedBlobs groups set pixels of a mask into 8-connected
// components using iterative flood fill.
func connectedBlobs(mask []bool, w, h int) [][]image.Point {
	visited := make([]bool, len(mask))
	var blobs [][]image.Point

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !mask[y*w+x] || visited[y*w+x] {
				continue
			}

			var blob []image.Point
			stack := []image.Point{{X: x, Y: y}}
			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if p.X < 0 || p.X >= w || p.Y < 0 || p.Y >= h {
					continue
				}
				idx := p.Y*w + p.X
				if visited[idx] || !mask[idx] {
					continue
				}
				visited[idx] = true
				blob = append(blob, p)
				for ky := -1; ky <= 1; ky++ {
					for kx := -1; kx <= 1; kx++ {
						if kx == 0 && ky == 0 {
							continue
						}
						stack = append(stack, image.Point{X: p.X + kx, Y: p.Y + ky})
					}
				}
			}
			if len(blob) >= minBlobSize {
				blobs = append(blobs, blob)
			}
		}
	}
	return blobs
}

// contourHulls returns the convex hull of every connected edge
// component. The sheet boundary is convex in any reasonable photo, so
// the hull is a faithful closed contour for polygon approximation.
func contourHulls(edges []bool, w, h int) [][]image.Point {
	blobs := connectedBlobs(edges, w, h)
	hulls := make([][]image.Point, 0, len(blobs))
	for _, blob := range blobs {
		if hull := convexHull(blob); len(hull) >= 3 {
			hulls = append(hulls, hull)
		}
	}
	return hulls
}

// boundingBox returns the inclusive bounding rectangle of a point set.
func boundingBox(pts []image.Point) image.Rectangle {
	r := image.Rectangle{Min: pts[0], Max: pts[0]}
	for _, p := range pts[1:] {
		if p.X < r.Min.X {
			r.Min.X = p.X
		}
		if p.Y < r.Min.Y {
			r.Min.Y = p.Y
		}
		if p.X > r.Max.X {
			r.Max.X = p.X
		}
		if p.Y > r.Max.Y {
			r.Max.Y = p.Y
		}
	}
	return r
}

// convexHull computes the convex hull of a point set using the Andrew
// monotone chain algorithm. The hull is returned in counter-clockwise
// order without the closing point.
func convexHull(pts []image.Point) []image.Point {
	if len(pts) < 3 {
		return pts
	}

	sorted := make([]image.Point, len(pts))
	copy(sorted, pts)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].X != sorted[j].X {
			return sorted[i].X < sorted[j].X
		}
		return sorted[i].Y < sorted[j].Y
	})

	cross := func(o, a, b image.Point) int {
		return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
	}

	var lower []image.Point
	for _, p := range sorted {
		for len(lower) >= 2 && cross(lower[len(lower)-2], lower[len(lower)-1], p) <= 0 {
			lower = lower[:len(lower)-1]
		}
		lower = append(lower, p)
	}

	var upper []image.Point
	for i := len(sorted) - 1; i >= 0; i-- {
		p := sorted[i]
		for len(upper) >= 2 && cross(upper[len(upper)-2], upper[len(upper)-1], p) <= 0 {
			upper = upper[:len(upper)-1]
		}
		upper = append(upper, p)
	}

	return append(lower[:len(lower)-1], upper[:len(upper)-1]...)
}

// polygonArea computes the area of a simple polygon via the shoelace
// formula.
func polygonArea(poly []image.Point) float64 {
	if len(poly) < 3 {
		return 0
	}
	sum := 0
	for i := range poly {
		j := (i + 1) % len(poly)
		sum += poly[i].X*poly[j].Y - poly[j].X*poly[i].Y
	}
	return math.Abs(float64(sum)) / 2
}

func polygonPerimeter(poly []image.Point) float64 {
	var sum float64
	for i := range poly {
		j := (i + 1) % len(poly)
		dx := float64(poly[j].X - poly[i].X)
		dy := float64(poly[j].Y - poly[i].Y)
		sum += math.Sqrt(dx*dx + dy*dy)
	}
	return sum
}

// approxPolygon simplifies a closed polygon with the Douglas-Peucker
// algorithm. The polygon is split at its two most distant vertices and
// each open chain is simplified with the given tolerance.
func approxPolygon(poly []image.Point, epsilon float64) []image.Point {
	n := len(poly)
	if n < 3 {
		return poly
	}

	// Find the two vertices furthest apart to anchor the split.
	ai, bi := 0, 0
	maxD := -1.0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			dx := float64(poly[j].X - poly[i].X)
			dy := float64(poly[j].Y - poly[i].Y)
			if d := dx*dx + dy*dy; d > maxD {
				maxD = d
				ai, bi = i, j
			}
		}
	}

	chainA := poly[ai : bi+1]
	chainB := append(append([]image.Point{}, poly[bi:]...), poly[:ai+1]...)

	simpA := douglasPeucker(chainA, epsilon)
	simpB := douglasPeucker(chainB, epsilon)

	// Join the chains, dropping the duplicated endpoints.
	out := make([]image.Point, 0, len(simpA)+len(simpB)-2)
	out = append(out, simpA[:len(simpA)-1]...)
	out = append(out, simpB[:len(simpB)-1]...)
	return out
}

// douglasPeucker simplifies an open polyline, keeping both endpoints.
func douglasPeucker(pts []image.Point, epsilon float64) []image.Point {
	if len(pts) < 3 {
		return pts
	}

	maxDist := 0.0
	maxIdx := 0
	for i := 1; i < len(pts)-1; i++ {
		if d := pointLineDistance(pts[i], pts[0], pts[len(pts)-1]); d > maxDist {
			maxDist = d
			maxIdx = i
		}
	}

	if maxDist <= epsilon {
		return []image.Point{pts[0], pts[len(pts)-1]}
	}

	left := douglasPeucker(pts[:maxIdx+1], epsilon)
	right := douglasPeucker(pts[maxIdx:], epsilon)

	out := make([]image.Point, 0, len(left)+len(right)-1)
	out = append(out, left[:len(left)-1]...)
	out = append(out, right...)
	return out
}

// pointLineDistance is the perpendicular distance from p to the line
// through a and b.
func pointLineDistance(p, a, b image.Point) float64 {
	dx := float64(b.X - a.X)
	dy := float64(b.Y - a.Y)
	if dx == 0 && dy == 0 {
		return dist(pointOf(p), pointOf(a))
	}
	num := math.Abs(dy*float64(p.X) - dx*float64(p.Y) + float64(b.X*a.Y) - float64(b.Y*a.X))
	return num / math.Sqrt(dx*dx+dy*dy)
}
