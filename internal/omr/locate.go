package omr

import (
	"image"

	"github.com/anthonynsimon/bild/segment"
)

// Corner-detection modes reported in scan metadata.
const (
	cornerModeAuto          = "auto"
	cornerModeManual        = "manual"
	cornerModeManualInvalid = "manual_invalid"
	cornerModeSkipped       = "skipped"
	cornerModeNotFound      = "not_found"
)

// Detection runs on a downscaled copy when the photo is large; corners
// are rescaled to full resolution afterward.
const (
	searchTriggerWidth = 1400
	searchWidth        = 1200
)

// locateResult is the outcome of the document-localization cascade:
// the image to continue with (rectified or original), the mode that
// produced it, and the full-resolution corners when any were found.
type locateResult struct {
	image   *image.NRGBA
	mode    string
	corners *Quad
}

// localize finds the answer-sheet region and rectifies its perspective.
//
// Strategies are tried in priority order, first success wins:
//
//  1. skip-warp override: caller requested no rectification
//  2. manual corners: caller supplied exactly four points
//  3. marker detection: solid dark squares in the four image quadrants
//  4. document-edge fallback: largest 4-vertex contour of the sheet
//  5. give up: unrectified image plus a warning
//
// Every failure is degraded, never fatal; the pipeline always gets an
// image back.
func localize(img *image.NRGBA, opts Options, diags *diagnostics) locateResult {
	if opts.SkipWarp {
		diags.warn(WarnWarpSkipped)
		return locateResult{image: img, mode: cornerModeSkipped}
	}

	if opts.ManualCorners != nil {
		if len(opts.ManualCorners) == 4 {
			q := orderQuad([4]Point{
				opts.ManualCorners[0], opts.ManualCorners[1],
				opts.ManualCorners[2], opts.ManualCorners[3],
			})
			return locateResult{image: warpPerspective(img, q), mode: cornerModeManual, corners: &q}
		}
		diags.warn(WarnInvalidManualCorners)
		return locateResult{image: img, mode: cornerModeManualInvalid}
	}

	search := img
	scaleFactor := 1.0
	if img.Rect.Dx() > searchTriggerWidth {
		search = resizeToWidth(img, searchWidth)
		scaleFactor = float64(img.Rect.Dx()) / float64(search.Rect.Dx())
	}
	gray := toGray(search)

	corners, ok := findMarkerCorners(gray)
	if !ok {
		corners, ok = findDocumentCorners(gray)
	}
	if !ok {
		diags.warn(WarnMarkersNotFound)
		return locateResult{image: img, mode: cornerModeNotFound}
	}

	q := orderQuad([4]Point(corners.scale(scaleFactor)))
	return locateResult{image: warpPerspective(img, q), mode: cornerModeAuto, corners: &q}
}

// Marker acceptance bounds. A corner marker is a small solid dark
// square, so candidate blobs must be square-ish, mostly filled, and a
// sane fraction of the search band.
const (
	markerMinAreaRatio = 0.005
	markerMaxAreaRatio = 0.20
	markerMinAspect    = 0.6
	markerMaxAspect    = 1.6
	markerMinSolidity  = 0.7
	markerMinSide      = 5
	markerBandRatio    = 0.25
)

// findMarkerCorners searches the four outer quadrant bands for printed
// corner markers. Succeeds only when all four quadrants yield a
// candidate.
func findMarkerCorners(gray *image.Gray) (Quad, bool) {
	w := gray.Rect.Dx()
	h := gray.Rect.Dy()
	bandW := int(float64(w) * markerBandRatio)
	bandH := int(float64(h) * markerBandRatio)

	regions := [4]image.Rectangle{
		image.Rect(0, 0, bandW, bandH),     // top-left
		image.Rect(w-bandW, 0, w, bandH),   // top-right
		image.Rect(w-bandW, h-bandH, w, h), // bottom-right
		image.Rect(0, h-bandH, bandW, h),   // bottom-left
	}

	var pts [4]Point
	for i, r := range regions {
		center, ok := findMarkerInRegion(gray, r)
		if !ok {
			return Quad{}, false
		}
		pts[i] = center
	}
	return orderQuad(pts), true
}

// findMarkerInRegion looks for the best marker blob inside one search
// band. A bank of thresholding strategies is tried in sequence; among
// all qualifying blobs from all strategies, the one with the highest
// area x solidity score wins.
func findMarkerInRegion(gray *image.Gray, region image.Rectangle) (Point, bool) {
	sub := copyGrayRegion(gray, region)
	w := sub.Rect.Dx()
	h := sub.Rect.Dy()
	if w == 0 || h == 0 {
		return Point{}, false
	}
	regionArea := float64(w * h)

	masks := [][]bool{
		inkMask(segment.Threshold(sub, otsuLevel(sub))),
		inkMask(segment.Threshold(sub, 100)),
		inkMask(segment.Threshold(sub, 60)),
		adaptiveInkMask(blurGray3(sub), 21, 8),
	}

	var best Point
	bestScore := 0.0
	for _, mask := range masks {
		for _, blob := range connectedBlobs(mask, w, h) {
			area := float64(len(blob))
			if area < regionArea*markerMinAreaRatio || area > regionArea*markerMaxAreaRatio {
				continue
			}

			bb := boundingBox(blob)
			bw := bb.Dx() + 1
			bh := bb.Dy() + 1
			if bw < markerMinSide || bh < markerMinSide {
				continue
			}
			aspect := float64(bw) / float64(bh)
			if aspect < markerMinAspect || aspect > markerMaxAspect {
				continue
			}

			hull := convexHull(blob)
			hullArea := polygonArea(hull)
			if hullArea == 0 {
				continue
			}
			solidity := area / hullArea
			if solidity < markerMinSolidity {
				continue
			}

			if score := area * solidity; score > bestScore {
				bestScore = score
				best = Point{
					X: float64(region.Min.X) + float64(bb.Min.X) + float64(bw)/2,
					Y: float64(region.Min.Y) + float64(bb.Min.Y) + float64(bh)/2,
				}
			}
		}
	}
	if bestScore == 0 {
		return Point{}, false
	}
	return best, true
}

// inkMask converts a binary image (dark pixels at or below the
// threshold are black) into a boolean ink mask.
func inkMask(bin *image.Gray) []bool {
	mask := make([]bool, len(bin.Pix))
	for i, v := range bin.Pix {
		mask[i] = v == 0
	}
	return mask
}

// adaptiveInkMask marks pixels darker than their local mean minus an
// offset. window must be odd; it matches the 21-pixel neighborhood the
// fixed thresholds fail on under uneven lighting.
func adaptiveInkMask(gray *image.Gray, window, offset int) []bool {
	w := gray.Rect.Dx()
	h := gray.Rect.Dy()
	half := window / 2
	mask := make([]bool, w*h)

	// Summed-area table so each local mean is O(1).
	integral := make([]int, (w+1)*(h+1))
	for y := 0; y < h; y++ {
		rowSum := 0
		for x := 0; x < w; x++ {
			rowSum += int(gray.Pix[y*gray.Stride+x])
			integral[(y+1)*(w+1)+x+1] = integral[y*(w+1)+x+1] + rowSum
		}
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			x0 := clampInt(x-half, 0, w-1)
			x1 := clampInt(x+half, 0, w-1)
			y0 := clampInt(y-half, 0, h-1)
			y1 := clampInt(y+half, 0, h-1)
			count := (x1 - x0 + 1) * (y1 - y0 + 1)
			sum := integral[(y1+1)*(w+1)+x1+1] - integral[y0*(w+1)+x1+1] -
				integral[(y1+1)*(w+1)+x0] + integral[y0*(w+1)+x0]
			mean := sum / count
			mask[y*w+x] = int(gray.Pix[y*gray.Stride+x]) < mean-offset
		}
	}
	return mask
}

// otsuLevel computes the global threshold separating a bimodal
// intensity histogram by maximizing between-class variance.
func otsuLevel(gray *image.Gray) uint8 {
	var hist [256]int
	w := gray.Rect.Dx()
	h := gray.Rect.Dy()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			hist[gray.Pix[y*gray.Stride+x]]++
		}
	}

	total := w * h
	var sum float64
	for i, c := range hist {
		sum += float64(i) * float64(c)
	}

	var sumB, wB float64
	bestVar := -1.0
	var level uint8
	for i := 0; i < 256; i++ {
		wB += float64(hist[i])
		if wB == 0 {
			continue
		}
		wF := float64(total) - wB
		if wF == 0 {
			break
		}
		sumB += float64(i) * float64(hist[i])
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > bestVar {
			bestVar = between
			level = uint8(i)
		}
	}
	return level
}

// copyGrayRegion extracts a rectangular region into a fresh
// zero-origin grayscale image.
func copyGrayRegion(src *image.Gray, r image.Rectangle) *image.Gray {
	r = r.Intersect(src.Rect)
	dst := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		si := (r.Min.Y+y)*src.Stride + r.Min.X
		copy(dst.Pix[y*dst.Stride:y*dst.Stride+r.Dx()], src.Pix[si:si+r.Dx()])
	}
	return dst
}
