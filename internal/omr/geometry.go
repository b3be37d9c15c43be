package omr

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// Point represents a 2D coordinate in pixel space. Fractional
// coordinates are kept because detected and rescaled corners rarely
// fall on integer pixels.
type Point struct {
	X float64 `json:"x"` // Horizontal position (0 = leftmost)
	Y float64 `json:"y"` // Vertical position (0 = topmost)
}

// Quad is a convex quadrilateral ordered top-left, top-right,
// bottom-right, bottom-left. Use orderQuad to canonicalize an unordered
// detection result before relying on the ordering.
type Quad [4]Point

// orderQuad returns the four points in canonical TL, TR, BR, BL order.
//
// The rule is deterministic: the point with the minimal coordinate sum
// is top-left, the maximal sum is bottom-right, the minimal y-x
// difference is top-right, and the maximal difference is bottom-left.
// Applying the rule to an already ordered quad is a no-op, so it is
// safe to call on any four points forming a convex quadrilateral.
func orderQuad(pts [4]Point) Quad {
	var q Quad

	minSum, maxSum := math.Inf(1), math.Inf(-1)
	minDiff, maxDiff := math.Inf(1), math.Inf(-1)
	for _, p := range pts {
		sum := p.X + p.Y
		diff := p.Y - p.X
		if sum < minSum {
			minSum = sum
			q[0] = p
		}
		if sum > maxSum {
			maxSum = sum
			q[2] = p
		}
		if diff < minDiff {
			minDiff = diff
			q[1] = p
		}
		if diff > maxDiff {
			maxDiff = diff
			q[3] = p
		}
	}
	return q
}

// scale returns the quad with every coordinate multiplied by factor.
// Used to map corners detected on a downscaled search image back to
// full resolution.
func (q Quad) scale(factor float64) Quad {
	for i := range q {
		q[i].X *= factor
		q[i].Y *= factor
	}
	return q
}

func dist(a, b Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// perspective maps the unit square onto a quadrilateral.
//
// The coefficients follow the standard square-to-quad construction:
// given the four corners, the projective transform is
//
//	x' = (a11*u + a21*v + a31) / (a13*u + a23*v + 1)
//	y' = (a12*u + a22*v + a32) / (a13*u + a23*v + 1)
//
// where (u, v) is a point in the unit square. Composing with a scale
// from the destination rectangle to the unit square gives the inverse
// mapping used for warping.
type perspective struct {
	a11, a12, a13 float64
	a21, a22, a23 float64
	a31, a32      float64
}

// squareToQuad builds the transform taking (0,0),(1,0),(1,1),(0,1) to
// the quad's TL, TR, BR, BL corners.
func squareToQuad(q Quad) perspective {
	x0, y0 := q[0].X, q[0].Y
	x1, y1 := q[1].X, q[1].Y
	x2, y2 := q[2].X, q[2].Y
	x3, y3 := q[3].X, q[3].Y

	dx3 := x0 - x1 + x2 - x3
	dy3 := y0 - y1 + y2 - y3

	if dx3 == 0 && dy3 == 0 {
		// Affine case: the quad is a parallelogram.
		return perspective{
			a11: x1 - x0, a21: x2 - x1, a31: x0,
			a12: y1 - y0, a22: y2 - y1, a32: y0,
		}
	}

	dx1 := x1 - x2
	dx2 := x3 - x2
	dy1 := y1 - y2
	dy2 := y3 - y2
	den := dx1*dy2 - dx2*dy1

	a13 := (dx3*dy2 - dx2*dy3) / den
	a23 := (dx1*dy3 - dx3*dy1) / den

	return perspective{
		a11: x1 - x0 + a13*x1, a21: x3 - x0 + a23*x3, a31: x0,
		a12: y1 - y0 + a13*y1, a22: y3 - y0 + a23*y3, a32: y0,
		a13: a13, a23: a23,
	}
}

// apply maps a unit-square point (u, v) through the transform.
func (t perspective) apply(u, v float64) (float64, float64) {
	den := t.a13*u + t.a23*v + 1
	return (t.a11*u + t.a21*v + t.a31) / den, (t.a12*u + t.a22*v + t.a32) / den
}

// minWarpSide is the smallest rectified dimension worth producing.
// Anything below this means the detected quad is degenerate and the
// original image is a better bet.
const minWarpSide = 50

// warpPerspective rectifies the region bounded by the quad into an
// upright rectangle.
//
// The output size is measured from the quad itself: width is the longer
// of the two horizontal sides, height the longer of the two vertical
// sides. If either dimension comes out below minWarpSide the warp is
// skipped and the input image is returned unchanged.
//
// Sampling is inverse-mapped bilinear: for every destination pixel the
// corresponding source location is computed through the square-to-quad
// transform and the four surrounding source pixels are blended.
func warpPerspective(img *image.NRGBA, q Quad) *image.NRGBA {
	width := int(math.Max(dist(q[2], q[3]), dist(q[1], q[0])))
	height := int(math.Max(dist(q[1], q[2]), dist(q[0], q[3])))
	if width < minWarpSide || height < minWarpSide {
		return img
	}

	t := squareToQuad(q)
	src := img
	srcW := src.Rect.Dx()
	srcH := src.Rect.Dy()

	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		v := float64(y) / float64(height-1)
		for x := 0; x < width; x++ {
			u := float64(x) / float64(width-1)
			sx, sy := t.apply(u, v)
			if sx < 0 || sy < 0 || sx > float64(srcW-1) || sy > float64(srcH-1) {
				continue
			}
			r, g, b, a := bilinearNRGBA(src, sx, sy)
			i := dst.PixOffset(x, y)
			dst.Pix[i+0] = r
			dst.Pix[i+1] = g
			dst.Pix[i+2] = b
			dst.Pix[i+3] = a
		}
	}
	return dst
}

// bilinearNRGBA samples an NRGBA image at a fractional location.
// The caller must ensure (x, y) is inside the image.
func bilinearNRGBA(img *image.NRGBA, x, y float64) (r, g, b, a uint8) {
	x0 := int(x)
	y0 := int(y)
	x1 := x0 + 1
	y1 := y0 + 1
	maxX := img.Rect.Dx() - 1
	maxY := img.Rect.Dy() - 1
	if x1 > maxX {
		x1 = maxX
	}
	if y1 > maxY {
		y1 = maxY
	}
	fx := x - float64(x0)
	fy := y - float64(y0)

	i00 := img.PixOffset(x0, y0)
	i10 := img.PixOffset(x1, y0)
	i01 := img.PixOffset(x0, y1)
	i11 := img.PixOffset(x1, y1)

	blend := func(c int) uint8 {
		top := float64(img.Pix[i00+c])*(1-fx) + float64(img.Pix[i10+c])*fx
		bot := float64(img.Pix[i01+c])*(1-fx) + float64(img.Pix[i11+c])*fx
		return uint8(top*(1-fy) + bot*fy + 0.5)
	}
	return blend(0), blend(1), blend(2), blend(3)
}

// canonicalWidth is the working width every rectified (or unrectified)
// sheet is resized to before grid resolution. The calibrated form
// layout ratios were measured on an image of this width.
const canonicalWidth = 2000

// resizeToWidth scales the image to the given width preserving aspect
// ratio. Returns the input unchanged when the width already matches.
func resizeToWidth(img *image.NRGBA, width int) *image.NRGBA {
	w := img.Rect.Dx()
	if w == 0 || w == width {
		return img
	}
	return imaging.Resize(img, width, 0, imaging.Lanczos)
}

// toGray converts an image to 8-bit grayscale using ITU-R BT.601
// luminance weights (0.299*R + 0.587*G + 0.114*B).
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	bounds := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))

	if nrgba, ok := img.(*image.NRGBA); ok {
		for y := 0; y < bounds.Dy(); y++ {
			si := nrgba.PixOffset(nrgba.Rect.Min.X, nrgba.Rect.Min.Y+y)
			di := gray.PixOffset(0, y)
			for x := 0; x < bounds.Dx(); x++ {
				r := float64(nrgba.Pix[si+0])
				g := float64(nrgba.Pix[si+1])
				b := float64(nrgba.Pix[si+2])
				gray.Pix[di] = uint8(0.299*r + 0.587*g + 0.114*b)
				si += 4
				di++
			}
		}
		return gray
	}

	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			v := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
			gray.SetGray(x, y, color.Gray{Y: uint8(v)})
		}
	}
	return gray
}

// blurGray3 applies a 3x3 Gaussian blur (kernel 1-2-1 / 2-4-2 / 1-2-1)
// to smooth sensor noise before ink sampling. Border pixels use
// clamped edge values.
func blurGray3(src *image.Gray) *image.Gray {
	w := src.Rect.Dx()
	h := src.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	kernel := [3][3]int{{1, 2, 1}, {2, 4, 2}, {1, 2, 1}}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum := 0
			for ky := -1; ky <= 1; ky++ {
				for kx := -1; kx <= 1; kx++ {
					px := clampInt(x+kx, 0, w-1)
					py := clampInt(y+ky, 0, h-1)
					sum += int(src.Pix[py*src.Stride+px]) * kernel[ky+1][kx+1]
				}
			}
			dst.Pix[y*dst.Stride+x] = uint8(sum / 16)
		}
	}
	return dst
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
