package geometry

import (
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLerp(t *testing.T) {
	a := Point2D{X: 10, Y: 20}
	b := Point2D{X: 30, Y: -20}

	assert.Equal(t, a, a.Lerp(b, 0))
	assert.Equal(t, b, a.Lerp(b, 1))
	assert.Equal(t, Point2D{X: 20, Y: 0}, a.Lerp(b, 0.5))
}

func TestRound(t *testing.T) {
	assert.Equal(t, PointInt{X: 3, Y: -2}, Point2D{X: 2.5, Y: -2.4}.Round())
	assert.Equal(t, image.Point{X: 3, Y: 4}, PointInt{X: 3, Y: 4}.ImagePoint())
}

func TestRectFromImage(t *testing.T) {
	r := RectFromImage(image.Rect(5, 6, 15, 10))
	assert.Equal(t, RectInt{X: 5, Y: 6, Width: 10, Height: 4}, r)
	assert.Equal(t, 40, r.Area())
}

func TestHomographyApply(t *testing.T) {
	p := Point2D{X: 7, Y: -3}
	assert.Equal(t, p, Homography{1, 0, 0, 0, 1, 0, 0, 0, 1}.Apply(p))

	// Scale by 2 then shift by (1, 1)
	h := Homography{2, 0, 1, 0, 2, 1, 0, 0, 1}
	assert.Equal(t, Point2D{X: 15, Y: -5}, h.Apply(p))
	assert.Equal(t, [3][3]float64{{2, 0, 1}, {0, 2, 1}, {0, 0, 1}}, h.ToMatrix())

	// Points on the line at infinity
	inf := Homography{1, 0, 0, 0, 1, 0, 1, 0, 0}
	q := inf.Apply(Point2D{X: 0, Y: 5})
	assert.True(t, math.IsNaN(q.X) && math.IsNaN(q.Y))
}
