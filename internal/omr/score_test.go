package omr

import (
	"image"
	"testing"
)

// drawDisc paints a filled dark disc, the synthetic equivalent of a
// pencil mark.
func drawDisc(img *image.Gray, cx, cy, radius int, value uint8) {
	for y := cy - radius; y <= cy+radius; y++ {
		for x := cx - radius; x <= cx+radius; x++ {
			if !(image.Pt(x, y).In(img.Rect)) {
				continue
			}
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= radius*radius {
				img.Pix[y*img.Stride+x] = value
			}
		}
	}
}

func TestBubbleFill_FilledMark(t *testing.T) {
	img := grayCanvas(100, 100, 220)
	// Dark core small enough that the surrounding annulus stays on
	// background paper.
	drawDisc(img, 50, 50, 8, 40)

	fill := bubbleFill(img, 50, 50, 20)
	if fill < 0.95 {
		t.Errorf("filled mark: got %f, want near 1", fill)
	}
}

func TestBubbleFill_Blank(t *testing.T) {
	img := grayCanvas(100, 100, 220)
	if fill := bubbleFill(img, 50, 50, 20); fill != 0 {
		t.Errorf("blank bubble: got %f, want 0", fill)
	}
}

func TestBubbleFill_OutlineIgnored(t *testing.T) {
	// The printed bubble outline sits at the nominal radius, outside
	// both the core and the annulus, so it must not read as ink.
	img := grayCanvas(100, 100, 220)
	drawRing(img, 50, 50, 20, 60)

	if fill := bubbleFill(img, 50, 50, 20); fill > 0.05 {
		t.Errorf("outline-only bubble: got %f, want ~0", fill)
	}
}

func TestBubbleFill_OutOfBounds(t *testing.T) {
	img := grayCanvas(50, 50, 220)
	cases := [][2]int{{-1, 10}, {10, -1}, {50, 10}, {10, 50}}
	for _, c := range cases {
		if fill := bubbleFill(img, c[0], c[1], 10); fill != 0 {
			t.Errorf("center (%d, %d): got %f, want 0", c[0], c[1], fill)
		}
	}
}

func TestBubbleFill_LightingGradientCancels(t *testing.T) {
	// A smooth horizontal lighting gradient with no mark: the annulus
	// baseline tracks the local background, so the score stays near 0.
	img := image.NewGray(image.Rect(0, 0, 200, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 200; x++ {
			img.Pix[y*img.Stride+x] = uint8(120 + x/4)
		}
	}

	if fill := bubbleFill(img, 100, 50, 20); fill > 0.05 {
		t.Errorf("gradient without mark: got %f, want ~0", fill)
	}
}

func TestScoreGrid(t *testing.T) {
	img := grayCanvas(300, 200, 220)
	g := grid{
		radius:  15,
		options: []string{"A", "B", "C", "D", "E"},
		rows: []gridRow{
			{question: 1, y: 60, xs: []int{40, 90, 140, 190, 240}},
			{question: 2, y: 130, xs: []int{40, 90, 140, 190, 240}},
		},
	}
	// Mark option C of question 1.
	drawDisc(img, 140, 60, 6, 40)

	rows := scoreGrid(img, g)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	for i, row := range rows {
		if len(row.scores) != 5 {
			t.Fatalf("row %d: got %d scores, want 5", i, len(row.scores))
		}
		for j, s := range row.scores {
			if s.Option != g.options[j] {
				t.Errorf("row %d score %d: option %q, want %q", i, j, s.Option, g.options[j])
			}
		}
	}

	if rows[0].scores[2].Fill < 0.9 {
		t.Errorf("marked bubble fill: got %f", rows[0].scores[2].Fill)
	}
	if rows[0].scores[0].Fill > 0.05 || rows[1].scores[2].Fill > 0.05 {
		t.Error("unmarked bubbles should score near 0")
	}
}
