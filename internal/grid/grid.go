// Package grid maps a sheet's row/column grid onto pixel coordinates and
// reads bits and answers from it.
package grid

import (
	"omr-grader/internal/alignment"
	"omr-grader/pkg/geometry"
)

// Grid holds the pixel coordinate of every cell, indexed [row][col].
type Grid [][]geometry.PointInt

// Compute interpolates a rows x cols grid between four arbitrary corners.
// Row i runs from a left edge point to a right edge point, each taken
// linearly between the top and bottom corners of that side.
func Compute(corners alignment.CornerSet, rows, cols int) Grid {
	if rows <= 0 || cols <= 0 {
		return nil
	}

	tl := corners[alignment.TopLeft]
	tr := corners[alignment.TopRight]
	bl := corners[alignment.BottomLeft]
	br := corners[alignment.BottomRight]

	g := make(Grid, rows)
	for i := 0; i < rows; i++ {
		v := fraction(i, rows)
		left := tl.Lerp(bl, v)
		right := tr.Lerp(br, v)

		g[i] = make([]geometry.PointInt, cols)
		for j := 0; j < cols; j++ {
			g[i][j] = left.Lerp(right, fraction(j, cols)).Round()
		}
	}
	return g
}

// ForFrame computes the grid spanning a whole width x height canonical frame.
func ForFrame(width, height, rows, cols int) Grid {
	return Compute(alignment.CanonicalCorners(width, height), rows, cols)
}

// fraction returns i/(n-1), or 0 for a single line.
func fraction(i, n int) float64 {
	if n <= 1 {
		return 0
	}
	return float64(i) / float64(n-1)
}

// Rows returns the number of grid rows.
func (g Grid) Rows() int {
	return len(g)
}

// Cols returns the number of grid columns.
func (g Grid) Cols() int {
	if len(g) == 0 {
		return 0
	}
	return len(g[0])
}

// At returns the point at (row, col).
func (g Grid) At(row, col int) geometry.PointInt {
	return g[row][col]
}

// Run returns n consecutive points on one row starting at firstCol.
func (g Grid) Run(row, firstCol, n int) []geometry.PointInt {
	pts := make([]geometry.PointInt, n)
	copy(pts, g[row][firstCol:firstCol+n])
	return pts
}
