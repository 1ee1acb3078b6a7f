package alignment

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"omr-grader/internal/layout"
	"omr-grader/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// markerMask draws 70x46 filled rectangles centred on each point.
func markerMask(t *testing.T, w, h int, centers []image.Point) gocv.Mat {
	t.Helper()
	mask := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC1)
	mask.SetTo(gocv.NewScalar(0, 0, 0, 0))
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	for _, c := range centers {
		r := image.Rect(c.X-35, c.Y-23, c.X+35, c.Y+23)
		gocv.Rectangle(&mask, r, white, -1)
	}
	return mask
}

func TestAssignCorners(t *testing.T) {
	// Detection order deliberately scrambled
	pts := []geometry.Point2D{
		{X: 500, Y: 700}, // BR
		{X: 40, Y: 30},   // TL
		{X: 30, Y: 690},  // BL
		{X: 520, Y: 20},  // TR
	}
	corners, err := AssignCorners(pts)
	require.NoError(t, err)

	assert.Equal(t, pts[1], corners[TopLeft])
	assert.Equal(t, pts[3], corners[TopRight])
	assert.Equal(t, pts[2], corners[BottomLeft])
	assert.Equal(t, pts[0], corners[BottomRight])
}

func TestAssignCornersIndependentOfOrder(t *testing.T) {
	pts := []geometry.Point2D{{X: 10, Y: 10}, {X: 200, Y: 15}, {X: 12, Y: 300}, {X: 205, Y: 310}}
	want, err := AssignCorners(pts)
	require.NoError(t, err)

	reversed := []geometry.Point2D{pts[3], pts[2], pts[1], pts[0]}
	got, err := AssignCorners(reversed)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestAssignCornersDuplicateRole(t *testing.T) {
	// Three collinear points along a diagonal: the middle one takes no role
	// and the extreme one takes two.
	pts := []geometry.Point2D{{X: 0, Y: 0}, {X: 10, Y: 10}, {X: 20, Y: 20}, {X: 30, Y: 30}}
	_, err := AssignCorners(pts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMarkerDetection))
}

func TestAssignCornersWrongCount(t *testing.T) {
	_, err := AssignCorners([]geometry.Point2D{{X: 1, Y: 1}})
	assert.ErrorIs(t, err, ErrMarkerDetection)
}

func TestFindMarkersFilters(t *testing.T) {
	mask := markerMask(t, 800, 900, []image.Point{{100, 100}, {700, 100}, {100, 800}, {700, 800}})
	defer mask.Close()

	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	gocv.Circle(&mask, image.Pt(400, 450), 30, white, -1)             // round blob, aspect 1
	gocv.Rectangle(&mask, image.Rect(200, 300, 202, 302), white, -1) // speck
	gocv.Rectangle(&mask, image.Rect(300, 600, 500, 610), white, -1) // long bar
	gocv.FillPoly(&mask, gocv.NewPointsVectorFromPoints([][]image.Point{
		{{500, 300}, {570, 300}, {500, 346}},
	}), white) // triangle with marker-shaped bounds, half filled

	markers := FindMarkers(mask, layout.DefaultMarkerParams())
	require.Len(t, markers, 4)
	for _, m := range markers {
		assert.InDelta(t, 70.0/46.0, m.Aspect, 0.05)
		assert.Greater(t, m.Rectangularity, 0.9)
	}
}

func TestFindMarkersKeepsLargest(t *testing.T) {
	params := layout.DefaultMarkerParams()
	params.MaxCandidates = 4

	mask := markerMask(t, 800, 900, []image.Point{{100, 100}, {700, 100}, {100, 800}, {700, 800}})
	defer mask.Close()
	// A smaller marker-shaped blob in the middle
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	gocv.Rectangle(&mask, image.Rect(380, 430, 422, 458), white, -1)

	markers := FindMarkers(mask, params)
	require.Len(t, markers, 4)
	for _, m := range markers {
		assert.NotEqual(t, 380, m.Bounds.X)
	}
	for i := 1; i < len(markers); i++ {
		assert.GreaterOrEqual(t, markers[i-1].Area, markers[i].Area)
	}
}

func TestLocateCorners(t *testing.T) {
	mask := markerMask(t, 800, 900, []image.Point{{700, 800}, {100, 100}, {700, 100}, {100, 800}})
	defer mask.Close()

	corners, err := LocateCorners(mask, layout.DefaultMarkerParams())
	require.NoError(t, err)

	assert.InDelta(t, 100, corners[TopLeft].X, 1)
	assert.InDelta(t, 100, corners[TopLeft].Y, 1)
	assert.InDelta(t, 700, corners[TopRight].X, 1)
	assert.InDelta(t, 100, corners[TopRight].Y, 1)
	assert.InDelta(t, 100, corners[BottomLeft].X, 1)
	assert.InDelta(t, 800, corners[BottomLeft].Y, 1)
	assert.InDelta(t, 700, corners[BottomRight].X, 1)
	assert.InDelta(t, 800, corners[BottomRight].Y, 1)
}

func TestLocateCornersTooFew(t *testing.T) {
	mask := markerMask(t, 800, 900, []image.Point{{100, 100}, {700, 100}, {100, 800}})
	defer mask.Close()

	_, err := LocateCorners(mask, layout.DefaultMarkerParams())
	assert.ErrorIs(t, err, ErrMarkerDetection)
}

func TestComputeHomographyExact(t *testing.T) {
	src := CornerSet{
		TopLeft:     {X: 52, Y: 40},
		TopRight:    {X: 610, Y: 71},
		BottomLeft:  {X: 30, Y: 760},
		BottomRight: {X: 640, Y: 730},
	}
	dst := CanonicalCorners(674, 790)

	h, err := ComputeHomography(src, dst)
	require.NoError(t, err)
	for i := range src {
		got := h.Apply(src[i])
		assert.InDelta(t, dst[i].X, got.X, 1e-6, "corner %s", Corner(i))
		assert.InDelta(t, dst[i].Y, got.Y, 1e-6, "corner %s", Corner(i))
	}
}

func TestComputeHomographyIdentity(t *testing.T) {
	c := CanonicalCorners(100, 200)
	h, err := ComputeHomography(c, c)
	require.NoError(t, err)

	id := geometry.Homography{1, 0, 0, 0, 1, 0, 0, 0, 1}
	for i := range h {
		assert.InDelta(t, id[i], h[i], 1e-9)
	}
}

func TestComputeHomographyDegenerate(t *testing.T) {
	p := geometry.Point2D{X: 5, Y: 5}
	_, err := ComputeHomography(CornerSet{p, p, p, p}, CanonicalCorners(100, 100))
	assert.ErrorIs(t, err, ErrMarkerDetection)
}

func TestCheckCorners(t *testing.T) {
	src := CanonicalCorners(100, 200)
	shift := geometry.Homography{1, 0, 0.5, 0, 1, 0, 0, 0, 1}

	assert.NoError(t, checkCorners(shift, src, CornerSet{
		TopLeft:     {X: 0.5, Y: 0},
		TopRight:    {X: 99.5, Y: 0},
		BottomLeft:  {X: 0.5, Y: 199},
		BottomRight: {X: 99.5, Y: 199},
	}))

	err := checkCorners(shift, src, src)
	assert.ErrorIs(t, err, ErrMarkerDetection)
	assert.Contains(t, err.Error(), "top-left")

	// A corner sent to infinity never matches
	horizon := geometry.Homography{1, 0, 0, 0, 1, 0, 1, 0, 0}
	assert.ErrorIs(t, checkCorners(horizon, src, src), ErrMarkerDetection)
}

func TestRectifyDeterministicAndBinary(t *testing.T) {
	mask := markerMask(t, 800, 900, []image.Point{{100, 100}, {700, 120}, {90, 800}, {710, 790}})
	defer mask.Close()

	corners, err := LocateCorners(mask, layout.DefaultMarkerParams())
	require.NoError(t, err)

	a, err := Rectify(mask, corners, 674, 790)
	require.NoError(t, err)
	defer a.Close()
	b, err := Rectify(mask, corners, 674, 790)
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, 790, a.Rows())
	assert.Equal(t, 674, a.Cols())
	assert.Equal(t, a.ToBytes(), b.ToBytes())

	// Nearest neighbour never invents intermediate values
	for _, v := range a.ToBytes() {
		if v != 0 && v != 255 {
			t.Fatalf("rectified mask has intermediate value %d", v)
		}
	}

	// Marker centres land on the frame corners
	assert.Equal(t, uint8(255), a.GetUCharAt(0, 0))
	assert.Equal(t, uint8(255), a.GetUCharAt(0, 673))
	assert.Equal(t, uint8(255), a.GetUCharAt(789, 0))
	assert.Equal(t, uint8(255), a.GetUCharAt(789, 673))
}
