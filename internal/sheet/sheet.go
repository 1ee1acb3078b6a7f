// Package sheet runs the per-image pipeline: binarise, locate markers,
// rectify, then decode the id fields and answers.
package sheet

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"omr-grader/internal/alignment"
	"omr-grader/internal/grid"
	sheetimage "omr-grader/internal/image"
	"omr-grader/internal/layout"

	"gocv.io/x/gocv"
)

// Blank is the answer recorded for a question with no mark.
const Blank = grid.Blank

// Result is the decoded content of one sheet.
type Result struct {
	SourceID      string   `json:"source_id"`
	StudentID     int      `json:"student_id"`
	ExamVariantID int      `json:"exam_variant_id"`
	Answers       []string `json:"answers"`
}

// Answer returns the answer to the zero-based question q, or Blank when the
// sheet has no such question.
func (r Result) Answer(q int) string {
	if q < 0 || q >= len(r.Answers) {
		return Blank
	}
	return r.Answers[q]
}

// Processor decodes sheets of one layout. It holds only read-only state and
// is safe for concurrent use.
type Processor struct {
	layout   *layout.Layout
	grid     grid.Grid
	debugDir string
}

// NewProcessor creates a processor for the layout. When debugDir is set each
// rectified sheet is also written there as an annotated PNG. The directory is
// created if needed; if that fails debug output is turned off.
func NewProcessor(l *layout.Layout, debugDir string) *Processor {
	if debugDir != "" {
		if err := os.MkdirAll(debugDir, os.ModePerm); err != nil {
			slog.Warn("debug overlays disabled", "dir", debugDir, "error", err)
			debugDir = ""
		}
	}
	return &Processor{
		layout:   l,
		grid:     grid.ForFrame(l.CanonicalWidth, l.CanonicalHeight, l.Rows, l.Cols),
		debugDir: debugDir,
	}
}

// Layout returns the processor's layout.
func (p *Processor) Layout() *layout.Layout {
	return p.layout
}

// Process loads, aligns and decodes one source. Context cancellation is
// checked between stages.
func (p *Processor) Process(ctx context.Context, src sheetimage.Source) (Result, error) {
	mask, err := sheetimage.LoadMask(src)
	if err != nil {
		return Result{}, err
	}
	defer mask.Close()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return p.ProcessMask(ctx, mask, src.ID)
}

// ProcessMask aligns and decodes an already binarised sheet.
func (p *Processor) ProcessMask(ctx context.Context, mask gocv.Mat, sourceID string) (Result, error) {
	l := p.layout
	canonical, corners, err := alignment.Align(mask, l.Markers, l.CanonicalWidth, l.CanonicalHeight)
	if err != nil {
		return Result{}, err
	}
	defer canonical.Close()

	slog.Debug("sheet aligned", "source", sourceID,
		"top_left", corners[alignment.TopLeft], "bottom_right", corners[alignment.BottomRight])

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	res := Decode(&canonical, p.grid, l)
	res.SourceID = sourceID

	if p.debugDir != "" {
		path := filepath.Join(p.debugDir, debugName(sourceID))
		if err := WriteOverlay(path, canonical, p.grid, l, res); err != nil {
			// Debug output never fails the sheet
			slog.Warn("failed to write debug overlay", "source", sourceID, "error", err)
		}
	}
	return res, nil
}

// Decode reads the id fields and answers from a canonical mask.
func Decode(canonical grid.Raster, g grid.Grid, l *layout.Layout) Result {
	id := l.StudentID
	variant := l.ExamVariant
	return Result{
		StudentID:     int(grid.DecodeField(canonical, g.Run(id.Row, id.FirstCol, id.Bits), l.Sampling)),
		ExamVariantID: int(grid.DecodeField(canonical, g.Run(variant.Row, variant.FirstCol, variant.Bits), l.Sampling)),
		Answers:       grid.DecodeAnswers(canonical, g, l.Answers, l.Sampling),
	}
}

// debugName maps a source id to a file name. The extension is kept so
// a.png and a.jpg do not share an overlay.
func debugName(sourceID string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "#", "_", ":", "_", ".", "_")
	return fmt.Sprintf("%s_debug.png", r.Replace(sourceID))
}
