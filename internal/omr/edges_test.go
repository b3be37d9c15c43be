package omr

import (
	"image"
	"math"
	"testing"
)

func TestConvexHull_Square(t *testing.T) {
	var pts []image.Point
	for y := 0; y <= 10; y++ {
		for x := 0; x <= 10; x++ {
			pts = append(pts, image.Point{X: x, Y: y})
		}
	}

	hull := convexHull(pts)
	if len(hull) != 4 {
		t.Fatalf("hull of a filled square: got %d vertices, want 4: %v", len(hull), hull)
	}

	want := map[image.Point]bool{
		{X: 0, Y: 0}: true, {X: 10, Y: 0}: true,
		{X: 10, Y: 10}: true, {X: 0, Y: 10}: true,
	}
	for _, p := range hull {
		if !want[p] {
			t.Errorf("unexpected hull vertex %v", p)
		}
	}
}

func TestPolygonArea(t *testing.T) {
	square := []image.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}}
	if got := polygonArea(square); got != 100 {
		t.Errorf("square area: got %f, want 100", got)
	}

	triangle := []image.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 0, Y: 10}}
	if got := polygonArea(triangle); got != 50 {
		t.Errorf("triangle area: got %f, want 50", got)
	}

	if got := polygonArea(square[:2]); got != 0 {
		t.Errorf("degenerate polygon area: got %f, want 0", got)
	}
}

func TestPolygonPerimeter(t *testing.T) {
	square := []image.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}}
	if got := polygonPerimeter(square); math.Abs(got-40) > 1e-9 {
		t.Errorf("got %f, want 40", got)
	}
}

func TestApproxPolygon_RectangleWithJitter(t *testing.T) {
	// A rectangle boundary sampled densely, with midpoints nudged by one
	// pixel. Approximation should recover the four corners.
	var poly []image.Point
	for x := 0; x <= 100; x += 2 {
		poly = append(poly, image.Point{X: x, Y: jitter(x)})
	}
	for y := 2; y <= 60; y += 2 {
		poly = append(poly, image.Point{X: 100 + jitter(y), Y: y})
	}
	for x := 98; x >= 0; x -= 2 {
		poly = append(poly, image.Point{X: x, Y: 60 + jitter(x)})
	}
	for y := 58; y >= 2; y -= 2 {
		poly = append(poly, image.Point{X: jitter(y), Y: y})
	}

	perimeter := polygonPerimeter(poly)
	approx := approxPolygon(poly, 0.02*perimeter)
	if len(approx) != 4 {
		t.Fatalf("got %d vertices, want 4: %v", len(approx), approx)
	}
}

func jitter(v int) int {
	if v%4 == 0 {
		return 1
	}
	return 0
}

func TestApproxPolygon_PreservesInput(t *testing.T) {
	poly := []image.Point{
		{X: 0, Y: 0}, {X: 50, Y: 1}, {X: 100, Y: 0},
		{X: 100, Y: 60}, {X: 50, Y: 59}, {X: 0, Y: 60},
	}
	before := make([]image.Point, len(poly))
	copy(before, poly)

	approxPolygon(poly, 5)

	for i := range poly {
		if poly[i] != before[i] {
			t.Fatalf("input polygon mutated at %d: %v -> %v", i, before[i], poly[i])
		}
	}
}

func TestDouglasPeucker_StraightLine(t *testing.T) {
	pts := []image.Point{{X: 0, Y: 0}, {X: 5, Y: 0}, {X: 10, Y: 1}, {X: 20, Y: 0}}
	got := douglasPeucker(pts, 2)
	if len(got) != 2 || got[0] != pts[0] || got[1] != pts[3] {
		t.Errorf("near-straight line should collapse to endpoints, got %v", got)
	}
}

func TestPointLineDistance(t *testing.T) {
	d := pointLineDistance(image.Point{X: 5, Y: 3}, image.Point{X: 0, Y: 0}, image.Point{X: 10, Y: 0})
	if math.Abs(d-3) > 1e-9 {
		t.Errorf("got %f, want 3", d)
	}

	// Degenerate segment falls back to point distance.
	d = pointLineDistance(image.Point{X: 3, Y: 4}, image.Point{X: 0, Y: 0}, image.Point{X: 0, Y: 0})
	if math.Abs(d-5) > 1e-9 {
		t.Errorf("degenerate: got %f, want 5", d)
	}
}

func TestConnectedBlobs(t *testing.T) {
	w, h := 30, 20
	mask := make([]bool, w*h)
	// Two separated 4x4 squares.
	for y := 2; y < 6; y++ {
		for x := 2; x < 6; x++ {
			mask[y*w+x] = true
		}
	}
	for y := 10; y < 14; y++ {
		for x := 20; x < 24; x++ {
			mask[y*w+x] = true
		}
	}
	// A lone pixel, below the minimum blob size.
	mask[18*w+28] = true

	blobs := connectedBlobs(mask, w, h)
	if len(blobs) != 2 {
		t.Fatalf("got %d blobs, want 2", len(blobs))
	}
	for _, blob := range blobs {
		if len(blob) != 16 {
			t.Errorf("blob size: got %d, want 16", len(blob))
		}
	}
}

func TestDilateErode(t *testing.T) {
	w, h := 10, 10
	mask := make([]bool, w*h)
	mask[5*w+5] = true

	grown := dilate(mask, w, h)
	count := 0
	for _, v := range grown {
		if v {
			count++
		}
	}
	if count != 9 {
		t.Errorf("dilated single pixel: got %d set, want 9", count)
	}

	// Eroding the 3x3 block shrinks it back to the center.
	shrunk := erode(grown, w, h)
	count = 0
	for i, v := range shrunk {
		if v {
			count++
			if i != 5*w+5 {
				t.Errorf("unexpected survivor at index %d", i)
			}
		}
	}
	if count != 1 {
		t.Errorf("eroded block: got %d set, want 1", count)
	}
}

func TestFindDocumentCorners(t *testing.T) {
	// A light sheet on a dark table, covering well over the minimum area.
	img := grayCanvas(300, 400, 40)
	for y := 40; y < 360; y++ {
		for x := 30; x < 270; x++ {
			img.Pix[y*img.Stride+x] = 230
		}
	}

	q, ok := findDocumentCorners(img)
	if !ok {
		t.Fatal("document boundary not found on a clean synthetic photo")
	}

	want := [4]Point{{X: 30, Y: 40}, {X: 269, Y: 40}, {X: 269, Y: 359}, {X: 30, Y: 359}}
	for i := range want {
		if math.Abs(q[i].X-want[i].X) > 10 || math.Abs(q[i].Y-want[i].Y) > 10 {
			t.Errorf("corner %d: got %v, want ~%v", i, q[i], want[i])
		}
	}
}

func TestFindDocumentCorners_UniformImage(t *testing.T) {
	img := grayCanvas(200, 260, 128)
	if _, ok := findDocumentCorners(img); ok {
		t.Error("uniform image has no document boundary")
	}
}
