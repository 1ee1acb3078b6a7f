package sheet

import (
	"image"
	"image/color"
	"math"

	"omr-grader/internal/grid"
	"omr-grader/internal/layout"

	"gocv.io/x/gocv"
)

// RenderMargin is the paper border around the marker centres.
const RenderMargin = 60

var (
	ink   = color.RGBA{A: 255}
	paper = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Fill describes what to print on a rendered sheet. Answers holds one
// letter per question; Blank or an empty string leaves the row empty.
type Fill struct {
	StudentID     int
	ExamVariantID int
	Answers       []string
}

// Render draws a sheet of the layout as a grayscale page: black markers on
// the grid corners, an empty ring for every bubble and a filled disc for
// every marked one. With a zero Fill it produces a blank template. The
// caller owns the returned Mat.
func Render(l *layout.Layout, fill Fill) gocv.Mat {
	w := l.CanonicalWidth + 2*RenderMargin
	h := l.CanonicalHeight + 2*RenderMargin
	page := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC1)
	page.SetTo(gocv.NewScalar(255, 0, 0, 0))

	g := grid.ForFrame(l.CanonicalWidth, l.CanonicalHeight, l.Rows, l.Cols)
	at := func(row, col int) image.Point {
		return g.At(row, col).ImagePoint().Add(image.Pt(RenderMargin, RenderMargin))
	}

	// Registration markers
	mw, mh := int(l.Markers.Width), int(l.Markers.Height)
	for _, rc := range [][2]int{{0, 0}, {0, l.Cols - 1}, {l.Rows - 1, 0}, {l.Rows - 1, l.Cols - 1}} {
		c := at(rc[0], rc[1])
		r := image.Rect(c.X-mw/2, c.Y-mh/2, c.X-mw/2+mw-1, c.Y-mh/2+mh-1)
		gocv.Rectangle(&page, r, ink, -1)
	}

	radius := bubbleRadius(g)
	bubble := func(p image.Point, filled bool) {
		if filled {
			gocv.Circle(&page, p, radius, ink, -1)
		} else {
			gocv.Circle(&page, p, radius, ink, 1)
		}
	}

	for _, f := range []struct {
		field layout.Field
		value int
	}{{l.StudentID, fill.StudentID}, {l.ExamVariant, fill.ExamVariantID}} {
		for i := 0; i < f.field.Bits; i++ {
			bit := (f.value >> (f.field.Bits - 1 - i)) & 1
			bubble(at(f.field.Row, f.field.FirstCol+i), bit == 1)
		}
	}

	a := l.Answers
	for q := 0; q < a.Questions; q++ {
		var marked string
		if q < len(fill.Answers) {
			marked = fill.Answers[q]
		}
		for c := 0; c < a.Choices; c++ {
			bubble(at(a.FirstRow+q, a.FirstCol+c), marked == grid.Letter(c))
		}
	}

	return page
}

// bubbleRadius sizes bubbles to a quarter of the smaller cell pitch.
func bubbleRadius(g grid.Grid) int {
	dx := g.At(0, 1).X - g.At(0, 0).X
	dy := g.At(1, 0).Y - g.At(0, 0).Y
	return max(3, min(dx, dy)/4)
}

// Perturb rotates a page by angle degrees counter-clockwise and scales it,
// onto a white canvas large enough to hold the result. It simulates a hand
// held photograph. The caller owns the returned Mat.
func Perturb(page gocv.Mat, angle, scale float64) gocv.Mat {
	w, h := float64(page.Cols()), float64(page.Rows())
	rad := angle * math.Pi / 180
	cos, sin := math.Abs(math.Cos(rad)), math.Abs(math.Sin(rad))
	outW := int(math.Ceil(scale*(w*cos+h*sin))) + 2*RenderMargin
	outH := int(math.Ceil(scale*(w*sin+h*cos))) + 2*RenderMargin

	m := gocv.GetRotationMatrix2D(image.Pt(int(w/2), int(h/2)), angle, scale)
	defer m.Close()
	// Move the page centre to the canvas centre
	m.SetDoubleAt(0, 2, m.GetDoubleAt(0, 2)+float64(outW)/2-w/2)
	m.SetDoubleAt(1, 2, m.GetDoubleAt(1, 2)+float64(outH)/2-h/2)

	out := gocv.NewMat()
	gocv.WarpAffineWithParams(page, &out, m, image.Pt(outW, outH),
		gocv.InterpolationLinear, gocv.BorderConstant, paper)
	return out
}
