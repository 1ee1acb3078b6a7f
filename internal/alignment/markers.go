package alignment

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"omr-grader/internal/layout"
	"omr-grader/pkg/geometry"

	"gocv.io/x/gocv"
)

// ErrMarkerDetection is returned when the four registration marks cannot
// be located or assigned to corners.
var ErrMarkerDetection = errors.New("marker detection failed")

// Marker is a candidate registration rectangle.
type Marker struct {
	Bounds         geometry.RectInt
	Area           float64 // Contour area in pixels
	Rectangularity float64 // Contour area / bounding box area
	Aspect         float64 // max(w,h) / min(w,h)
	Order          int     // Index in contour detection order
}

// Center returns the centre of the marker's bounding box in pixel
// coordinates.
func (m Marker) Center() geometry.Point2D {
	return geometry.Point2D{
		X: float64(m.Bounds.X) + float64(m.Bounds.Width-1)/2,
		Y: float64(m.Bounds.Y) + float64(m.Bounds.Height-1)/2,
	}
}

// Corner names a role in a CornerSet.
type Corner int

const (
	TopLeft Corner = iota
	TopRight
	BottomLeft
	BottomRight
)

func (c Corner) String() string {
	switch c {
	case TopLeft:
		return "top-left"
	case TopRight:
		return "top-right"
	case BottomLeft:
		return "bottom-left"
	case BottomRight:
		return "bottom-right"
	default:
		return "unknown"
	}
}

// CornerSet holds one point per corner role, indexed by Corner.
type CornerSet [4]geometry.Point2D

// FindMarkers returns the plausible registration rectangles in a mask,
// largest first, at most params.MaxCandidates of them. Equal areas keep
// detection order.
func FindMarkers(mask gocv.Mat, params layout.MarkerParams) []Marker {
	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	imgArea := float64(mask.Rows() * mask.Cols())
	minArea := imgArea * params.MinAreaFrac
	maxArea := imgArea * params.MaxAreaFrac
	expected := params.ExpectedAspect()

	var markers []Marker
	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		area := gocv.ContourArea(contour)

		// Skip specks and anything the size of the page
		if area < minArea || area > maxArea {
			continue
		}

		bounds := geometry.RectFromImage(gocv.BoundingRect(contour))
		if bounds.Width == 0 || bounds.Height == 0 {
			continue
		}

		rectangularity := area / float64(bounds.Area())
		if rectangularity <= params.MinRectangular {
			continue
		}

		aspect := float64(max(bounds.Width, bounds.Height)) / float64(min(bounds.Width, bounds.Height))
		if math.Abs(aspect-expected) > params.AspectTol {
			continue
		}

		markers = append(markers, Marker{
			Bounds:         bounds,
			Area:           area,
			Rectangularity: rectangularity,
			Aspect:         aspect,
			Order:          i,
		})
	}

	sort.SliceStable(markers, func(i, j int) bool {
		return markers[i].Area > markers[j].Area
	})
	if len(markers) > params.MaxCandidates {
		markers = markers[:params.MaxCandidates]
	}
	return markers
}

// LocateCorners finds the four registration marks in a mask and returns
// their centres by corner role.
func LocateCorners(mask gocv.Mat, params layout.MarkerParams) (CornerSet, error) {
	markers := FindMarkers(mask, params)
	if len(markers) < 4 {
		return CornerSet{}, fmt.Errorf("%w: found %d candidate markers, need 4", ErrMarkerDetection, len(markers))
	}

	centers := make([]geometry.Point2D, 4)
	for i, m := range markers[:4] {
		centers[i] = m.Center()
	}
	return AssignCorners(centers)
}

// AssignCorners gives each of four points a corner role: the smallest x+y is
// top-left, the largest x+y bottom-right, the largest x-y top-right and the
// smallest x-y bottom-left. This holds for sheets rotated well under 45
// degrees; a point claiming two roles is an error.
func AssignCorners(points []geometry.Point2D) (CornerSet, error) {
	if len(points) != 4 {
		return CornerSet{}, fmt.Errorf("%w: need exactly 4 points, got %d", ErrMarkerDetection, len(points))
	}

	sum := func(p geometry.Point2D) float64 { return p.X + p.Y }
	diff := func(p geometry.Point2D) float64 { return p.X - p.Y }

	// pick returns the first index whose key beats all others
	pick := func(key func(geometry.Point2D) float64, better func(a, b float64) bool) int {
		best := 0
		for i := 1; i < len(points); i++ {
			if better(key(points[i]), key(points[best])) {
				best = i
			}
		}
		return best
	}
	less := func(a, b float64) bool { return a < b }
	greater := func(a, b float64) bool { return a > b }

	idx := [4]int{
		TopLeft:     pick(sum, less),
		TopRight:    pick(diff, greater),
		BottomLeft:  pick(diff, less),
		BottomRight: pick(sum, greater),
	}

	seen := make(map[int]Corner, 4)
	for role, i := range idx {
		if prev, dup := seen[i]; dup {
			return CornerSet{}, fmt.Errorf("%w: marker at (%.0f,%.0f) is both %s and %s",
				ErrMarkerDetection, points[i].X, points[i].Y, prev, Corner(role))
		}
		seen[i] = Corner(role)
	}

	var corners CornerSet
	for role, i := range idx {
		corners[role] = points[i]
	}
	return corners, nil
}
