// Package image provides sheet image loading and binarisation.
package image

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/gen2brain/go-fitz"
	"gocv.io/x/gocv"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrImageLoad is returned when a source cannot be read or decoded.
var ErrImageLoad = errors.New("image load failed")

// PDFRenderDPI is the resolution PDF pages are rasterised at.
const PDFRenderDPI = 150.0

// Source identifies one sheet image: an image file or a single PDF page.
type Source struct {
	ID   string // Stable identifier used in results and logs
	Path string // File on disk
	Page int    // Zero-based PDF page, -1 for plain image files
}

// FileSource returns the source for a plain image file.
func FileSource(path string) Source {
	return Source{ID: filepath.Base(path), Path: path, Page: -1}
}

// IsPDF reports whether the source is a PDF page.
func (s Source) IsPDF() bool {
	return s.Page >= 0
}

// ExpandSources turns a list of paths into sheet sources, one per image file
// and one per PDF page. A PDF that cannot be opened, or has no pages, still
// yields a single source so the failure is reported against that file.
func ExpandSources(paths []string) []Source {
	var sources []Source
	for _, p := range paths {
		if !isPDF(p) {
			sources = append(sources, FileSource(p))
			continue
		}

		pages := 1
		if doc, err := fitz.New(p); err == nil {
			pages = max(doc.NumPage(), 1)
			doc.Close()
		}
		for i := 0; i < pages; i++ {
			sources = append(sources, Source{
				ID:   fmt.Sprintf("%s#p%d", filepath.Base(p), i+1),
				Path: p,
				Page: i,
			})
		}
	}
	return sources
}

func isPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

// SupportedFormats returns the file extensions a batch accepts.
func SupportedFormats() []string {
	return []string{".png", ".jpg", ".jpeg", ".tiff", ".tif", ".bmp", ".webp", ".pdf"}
}

// IsSupportedFormat checks if the given path has a supported extension.
func IsSupportedFormat(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range SupportedFormats() {
		if ext == format {
			return true
		}
	}
	return false
}

// Load decodes the source into a Go image.
func Load(src Source) (image.Image, error) {
	if src.IsPDF() {
		return loadPDFPage(src)
	}

	file, err := os.Open(src.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrImageLoad, src.Path, err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrImageLoad, src.Path, err)
	}
	return img, nil
}

func loadPDFPage(src Source) (image.Image, error) {
	doc, err := fitz.New(src.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf %s: %v", ErrImageLoad, src.Path, err)
	}
	defer doc.Close()

	if src.Page >= doc.NumPage() {
		return nil, fmt.Errorf("%w: %s has no page %d", ErrImageLoad, src.Path, src.Page+1)
	}
	img, err := doc.ImageDPI(src.Page, PDFRenderDPI)
	if err != nil {
		return nil, fmt.Errorf("%w: render %s: %v", ErrImageLoad, src.ID, err)
	}
	return img, nil
}

// ToGray converts any image to an 8-bit grayscale image at the origin.
func ToGray(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}

// GrayToMat copies a grayscale image into a single channel Mat.
func GrayToMat(gray *image.Gray) (gocv.Mat, error) {
	b := gray.Bounds()
	if b.Empty() {
		return gocv.NewMat(), fmt.Errorf("%w: empty image", ErrImageLoad)
	}
	if gray.Stride != b.Dx() {
		gray = ToGray(gray)
	}

	view, err := gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8UC1, gray.Pix)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %v", ErrImageLoad, err)
	}
	defer view.Close()

	// The view aliases gray.Pix; the clone owns its own buffer.
	mat := view.Clone()
	runtime.KeepAlive(gray)
	return mat, nil
}

// MatToGray copies a single channel Mat into a grayscale image.
func MatToGray(mat gocv.Mat) *image.Gray {
	h, w := mat.Rows(), mat.Cols()
	gray := image.NewGray(image.Rect(0, 0, w, h))
	copy(gray.Pix, mat.ToBytes())
	return gray
}

// LoadGray loads the source as a single channel Mat. The caller owns the Mat.
func LoadGray(src Source) (gocv.Mat, error) {
	img, err := Load(src)
	if err != nil {
		return gocv.NewMat(), err
	}
	return GrayToMat(ToGray(img))
}
