package sheet

import (
	"fmt"
	"image"
	"image/color"

	"omr-grader/internal/grid"
	"omr-grader/internal/layout"

	"gocv.io/x/gocv"
)

var (
	gridColor   = color.RGBA{R: 0, G: 160, B: 255, A: 255}
	answerColor = color.RGBA{R: 0, G: 200, B: 0, A: 255}
	fieldColor  = color.RGBA{R: 255, G: 0, B: 255, A: 255}
)

// Overlay draws the sampled grid points and decoded values over a canonical
// mask. The caller owns the returned BGR Mat.
func Overlay(canonical gocv.Mat, g grid.Grid, l *layout.Layout, res Result) gocv.Mat {
	out := gocv.NewMat()
	gocv.CvtColor(canonical, &out, gocv.ColorGrayToBGR)

	half := l.Sampling.Window / 2
	for _, row := range g {
		for _, p := range row {
			ip := p.ImagePoint()
			r := image.Rect(ip.X-half, ip.Y-half, ip.X+half, ip.Y+half)
			gocv.Rectangle(&out, r, gridColor, 1)
		}
	}

	label := func(p image.Point, text string, c color.RGBA) {
		gocv.PutText(&out, text, p.Add(image.Pt(8, -8)), gocv.FontHersheySimplex, 0.5, c, 1)
	}

	a := l.Answers
	for q := 0; q < a.Questions; q++ {
		ans := res.Answer(q)
		p := g.At(a.FirstRow+q, a.FirstCol).ImagePoint()
		for c := 0; c < a.Choices; c++ {
			if grid.Letter(c) == ans {
				p = g.At(a.FirstRow+q, a.FirstCol+c).ImagePoint()
			}
		}
		label(p, fmt.Sprintf("%d:%s", q+1, ans), answerColor)
	}

	id := g.At(l.StudentID.Row, l.StudentID.FirstCol).ImagePoint()
	label(id, fmt.Sprintf("id=%d", res.StudentID), fieldColor)
	v := g.At(l.ExamVariant.Row, l.ExamVariant.FirstCol).ImagePoint()
	label(v, fmt.Sprintf("variant=%d", res.ExamVariantID), fieldColor)

	return out
}

// WriteOverlay renders the overlay and saves it as an image file.
func WriteOverlay(path string, canonical gocv.Mat, g grid.Grid, l *layout.Layout, res Result) error {
	out := Overlay(canonical, g, l, res)
	defer out.Close()

	if ok := gocv.IMWrite(path, out); !ok {
		return fmt.Errorf("failed to write %s", path)
	}
	return nil
}

// EncodePNG encodes a Mat as PNG bytes.
func EncodePNG(m gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.PNGFileExt, m)
	if err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())
	return data, nil
}
