// Package geometry provides basic geometric types used throughout the application.
package geometry

import (
	"image"
	"math"
)

// Point2D represents a 2D point with floating-point coordinates.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns the sum of two points.
func (p Point2D) Add(other Point2D) Point2D {
	return Point2D{X: p.X + other.X, Y: p.Y + other.Y}
}

// Sub returns the difference of two points.
func (p Point2D) Sub(other Point2D) Point2D {
	return Point2D{X: p.X - other.X, Y: p.Y - other.Y}
}

// Scale returns the point scaled by a factor.
func (p Point2D) Scale(factor float64) Point2D {
	return Point2D{X: p.X * factor, Y: p.Y * factor}
}

// Lerp interpolates linearly from p towards other by t in [0, 1].
func (p Point2D) Lerp(other Point2D, t float64) Point2D {
	return p.Add(other.Sub(p).Scale(t))
}

// Round returns the nearest integer point.
func (p Point2D) Round() PointInt {
	return PointInt{X: int(math.Round(p.X)), Y: int(math.Round(p.Y))}
}

// PointInt represents a 2D point with integer coordinates.
type PointInt struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ImagePoint converts to an image.Point for drawing.
func (p PointInt) ImagePoint() image.Point {
	return image.Point{X: p.X, Y: p.Y}
}

// RectInt represents a rectangle with integer coordinates.
type RectInt struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// RectFromImage converts an image.Rectangle.
func RectFromImage(r image.Rectangle) RectInt {
	return RectInt{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Area returns width times height.
func (r RectInt) Area() int {
	return r.Width * r.Height
}

// Homography represents a 3x3 projective transformation matrix in row-major
// order with the last element normalised to 1.
// [h0 h1 h2]
// [h3 h4 h5]
// [h6 h7 1 ]
type Homography [9]float64

// Apply applies the transform to a point. Points mapped to infinity come
// back as NaN coordinates.
func (h Homography) Apply(p Point2D) Point2D {
	w := h[6]*p.X + h[7]*p.Y + h[8]
	if w == 0 {
		return Point2D{X: math.NaN(), Y: math.NaN()}
	}
	return Point2D{
		X: (h[0]*p.X + h[1]*p.Y + h[2]) / w,
		Y: (h[3]*p.X + h[4]*p.Y + h[5]) / w,
	}
}

// ToMatrix returns the transform as a [3][3]float64 array.
func (h Homography) ToMatrix() [3][3]float64 {
	return [3][3]float64{
		{h[0], h[1], h[2]},
		{h[3], h[4], h[5]},
		{h[6], h[7], h[8]},
	}
}
