package image

import (
	"image"

	"gocv.io/x/gocv"
)

// Mask values. Ink and filled bubbles are foreground.
const (
	Background uint8 = 0
	Foreground uint8 = 255
)

// Binarize converts a single channel intensity image into a foreground mask.
//
// Smoothing and Otsu thresholding are skipped for input that is already
// two-level, so a mask fed back through Binarize comes out unchanged.
// The caller owns the returned Mat.
func Binarize(gray gocv.Mat) gocv.Mat {
	mask := gocv.NewMat()

	if isTwoLevel(gray) {
		gray.CopyTo(&mask)
		// Paper is the majority class; on a scan of black ink it reads 255.
		if gocv.CountNonZero(mask)*2 > mask.Rows()*mask.Cols() {
			gocv.BitwiseNot(mask, &mask)
		}
	} else {
		// Light blur to suppress sensor noise without closing bubble rings
		blurred := gocv.NewMat()
		defer blurred.Close()
		gocv.GaussianBlur(gray, &blurred, image.Point{X: 5, Y: 5}, 0, 0, gocv.BorderDefault)

		// Otsu picks the split per photo, so exposure does not matter
		gocv.Threshold(blurred, &mask, 0, float32(Foreground), gocv.ThresholdBinaryInv|gocv.ThresholdOtsu)
	}

	// Close fills pinholes in marks, open removes speckle
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{X: 3, Y: 3})
	defer kernel.Close()
	gocv.MorphologyEx(mask, &mask, gocv.MorphClose, kernel)
	gocv.MorphologyEx(mask, &mask, gocv.MorphOpen, kernel)

	return mask
}

// isTwoLevel reports whether every sample is either 0 or 255.
func isTwoLevel(gray gocv.Mat) bool {
	mid := gocv.NewMat()
	defer mid.Close()
	gocv.InRangeWithScalar(gray, gocv.NewScalar(1, 0, 0, 0), gocv.NewScalar(254, 0, 0, 0), &mid)
	return gocv.CountNonZero(mid) == 0
}

// LoadMask loads and binarises a source. The caller owns the returned Mat.
func LoadMask(src Source) (gocv.Mat, error) {
	gray, err := LoadGray(src)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer gray.Close()

	return Binarize(gray), nil
}
