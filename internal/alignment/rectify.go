package alignment

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"omr-grader/internal/layout"
	"omr-grader/pkg/geometry"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// CanonicalCorners returns the corners of a width x height frame in pixel
// coordinates.
func CanonicalCorners(width, height int) CornerSet {
	w, h := float64(width-1), float64(height-1)
	return CornerSet{
		TopLeft:     {X: 0, Y: 0},
		TopRight:    {X: w, Y: 0},
		BottomLeft:  {X: 0, Y: h},
		BottomRight: {X: w, Y: h},
	}
}

// ComputeHomography solves the projective transform mapping each src corner
// exactly onto the matching dst corner.
func ComputeHomography(src, dst CornerSet) (geometry.Homography, error) {
	// With h8 fixed to 1 each pair gives two linear equations:
	// u = (h0 x + h1 y + h2) / (h6 x + h7 y + 1)
	// v = (h3 x + h4 y + h5) / (h6 x + h7 y + 1)
	A := mat.NewDense(8, 8, nil)
	B := mat.NewVecDense(8, nil)

	for i := 0; i < 4; i++ {
		x, y := src[i].X, src[i].Y
		u, v := dst[i].X, dst[i].Y

		A.SetRow(i*2, []float64{x, y, 1, 0, 0, 0, -u * x, -u * y})
		B.SetVec(i*2, u)

		A.SetRow(i*2+1, []float64{0, 0, 0, x, y, 1, -v * x, -v * y})
		B.SetVec(i*2+1, v)
	}

	var params mat.VecDense
	if err := params.SolveVec(A, B); err != nil {
		return geometry.Homography{}, fmt.Errorf("%w: markers are degenerate: %v", ErrMarkerDetection, err)
	}

	var h geometry.Homography
	for i := 0; i < 8; i++ {
		h[i] = params.AtVec(i)
		if math.IsNaN(h[i]) || math.IsInf(h[i], 0) {
			return geometry.Homography{}, fmt.Errorf("%w: markers are degenerate", ErrMarkerDetection)
		}
	}
	h[8] = 1

	if err := checkCorners(h, src, dst); err != nil {
		return geometry.Homography{}, err
	}
	return h, nil
}

// cornerTolerance is how far, in pixels, a solved transform may place a
// marker centre from its target.
const cornerTolerance = 1e-3

// checkCorners verifies h sends every src corner onto its dst corner. A
// nearly singular system can solve without error and still miss.
func checkCorners(h geometry.Homography, src, dst CornerSet) error {
	for i := range src {
		got := h.Apply(src[i])
		if math.IsNaN(got.X) || math.Hypot(got.X-dst[i].X, got.Y-dst[i].Y) > cornerTolerance {
			return fmt.Errorf("%w: markers are degenerate, %s corner maps to (%.2f, %.2f) instead of (%.2f, %.2f)",
				ErrMarkerDetection, Corner(i), got.X, got.Y, dst[i].X, dst[i].Y)
		}
	}
	return nil
}

// Rectify resamples the quadrilateral spanned by corners into a
// width x height frame. Nearest neighbour sampling keeps a binary mask
// binary. The caller owns the returned Mat.
func Rectify(mask gocv.Mat, corners CornerSet, width, height int) (gocv.Mat, error) {
	h, err := ComputeHomography(corners, CanonicalCorners(width, height))
	if err != nil {
		return gocv.NewMat(), err
	}

	m := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	defer m.Close()
	for r, row := range h.ToMatrix() {
		for c, v := range row {
			m.SetDoubleAt(r, c, v)
		}
	}

	dst := gocv.NewMat()
	gocv.WarpPerspectiveWithParams(mask, &dst, m, image.Point{X: width, Y: height},
		gocv.InterpolationNearestNeighbor, gocv.BorderConstant, color.RGBA{})
	return dst, nil
}

// Align locates the registration marks in a mask and rectifies it to the
// given canonical size. The returned corners are in mask coordinates.
func Align(mask gocv.Mat, params layout.MarkerParams, width, height int) (gocv.Mat, CornerSet, error) {
	corners, err := LocateCorners(mask, params)
	if err != nil {
		return gocv.NewMat(), CornerSet{}, err
	}
	rect, err := Rectify(mask, corners, width, height)
	if err != nil {
		return gocv.NewMat(), corners, err
	}
	return rect, corners, nil
}
