package grid

import (
	"omr-grader/internal/layout"
	"omr-grader/pkg/geometry"

	"gonum.org/v1/gonum/stat"
)

// Blank is recorded for a question with no detectable mark.
const Blank = "-"

// Raster is a single channel 8-bit image. gocv.Mat satisfies it.
type Raster interface {
	Rows() int
	Cols() int
	GetUCharAt(row, col int) uint8
}

// WindowMean returns the mean intensity of a size x size window centred on p,
// clipped to the raster. A window entirely outside the raster reads as 0.
func WindowMean(r Raster, p geometry.PointInt, size int) float64 {
	half := size / 2
	x0, y0 := max(p.X-half, 0), max(p.Y-half, 0)
	x1, y1 := min(p.X-half+size, r.Cols()), min(p.Y-half+size, r.Rows())
	if x0 >= x1 || y0 >= y1 {
		return 0
	}

	samples := make([]float64, 0, (x1-x0)*(y1-y0))
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			samples = append(samples, float64(r.GetUCharAt(y, x)))
		}
	}
	return stat.Mean(samples, nil)
}

// DecodeField reads the points as bits, most significant first, and returns
// the unsigned integer they spell.
func DecodeField(r Raster, points []geometry.PointInt, params layout.SamplingParams) uint64 {
	var value uint64
	for _, p := range points {
		value <<= 1
		if WindowMean(r, p, params.Window) > params.Brightness {
			value |= 1
		}
	}
	return value
}

// DecodeAnswers picks one letter per answer row of the layout. The column
// with the strictly greatest mean wins, so the leftmost of equally filled
// columns is chosen. A winner below the fill minimum is Blank.
func DecodeAnswers(r Raster, g Grid, block layout.AnswerBlock, params layout.SamplingParams) []string {
	answers := make([]string, block.Questions)
	for q := 0; q < block.Questions; q++ {
		row := block.FirstRow + q

		best, bestMean := 0, -1.0
		for c := 0; c < block.Choices; c++ {
			mean := WindowMean(r, g.At(row, block.FirstCol+c), params.Window)
			if mean > bestMean {
				best, bestMean = c, mean
			}
		}

		if bestMean < params.MinFill {
			answers[q] = Blank
		} else {
			answers[q] = Letter(best)
		}
	}
	return answers
}

// Letter returns the choice letter for a zero-based column offset.
func Letter(i int) string {
	return string(rune('A' + i))
}
